// Package adapters declares the narrow go2tv surface the cast feature needs,
// so discovery and playback can be faked in tests.
package adapters

import (
	"context"

	"go2tv.app/go2tv/v2/devices"
)

// Discovery finds renderers on the local network.
type Discovery interface {
	StartChromecastDiscoveryLoop(ctx context.Context)
	LoadAllDevices(delaySeconds int) ([]devices.Device, error)
}

// CastClient controls one Chromecast receiver.
type CastClient interface {
	Connect() error
	Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error
	Stop() error
	Close(stopMedia bool) error
}

type CastFactory interface {
	NewCastClient(deviceAddr string) (CastClient, error)
}
