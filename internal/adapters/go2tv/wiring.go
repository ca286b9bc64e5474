package go2tv

import (
	"context"

	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"

	"github.com/alexballas/mcp-jellyfin/internal/adapters"
)

// Bundle groups the go2tv-backed implementations used by the cast tools.
type Bundle struct {
	Discovery   adapters.Discovery
	CastFactory adapters.CastFactory
}

func NewBundle() Bundle {
	return Bundle{
		Discovery:   discoveryAdapter{},
		CastFactory: castFactory{},
	}
}

type discoveryAdapter struct{}

func (discoveryAdapter) StartChromecastDiscoveryLoop(ctx context.Context) {
	devices.StartChromecastDiscoveryLoop(ctx)
}

func (discoveryAdapter) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	return devices.LoadAllDevices(delaySeconds)
}

type castFactory struct{}

func (castFactory) NewCastClient(deviceAddr string) (adapters.CastClient, error) {
	client, err := castprotocol.NewCastClient(deviceAddr)
	if err != nil {
		return nil, err
	}
	return &castClient{inner: client}, nil
}

// castClient narrows *castprotocol.CastClient to adapters.CastClient.
type castClient struct {
	inner *castprotocol.CastClient
}

func (c *castClient) Connect() error { return c.inner.Connect() }

func (c *castClient) Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error {
	return c.inner.Load(mediaURL, contentType, startTime, duration, subtitleURL, live)
}

func (c *castClient) Stop() error { return c.inner.Stop() }

func (c *castClient) Close(stopMedia bool) error { return c.inner.Close(stopMedia) }

var (
	_ adapters.Discovery   = discoveryAdapter{}
	_ adapters.CastFactory = castFactory{}
)
