// Package discovery lists the Chromecast receivers reachable on the LAN.
package discovery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go2tv.app/go2tv/v2/devices"

	"github.com/alexballas/mcp-jellyfin/internal/adapters"
	"github.com/alexballas/mcp-jellyfin/internal/domain"
)

const (
	DefaultTimeoutMS = 5000

	protocolChromecast = "chromecast"

	reachabilityWait    = 400 * time.Millisecond
	minDelaySeconds     = 1
	maxAttemptTimeoutMS = 3000
)

var isReachableAddress = dialReachable

type Service struct {
	adapter adapters.Discovery
	loopCtx context.Context
	logger  *slog.Logger
	once    sync.Once
}

// NewService wraps the go2tv discovery adapter. The background Chromecast
// browse loop is bound to loopCtx and starts on the first lookup.
func NewService(adapter adapters.Discovery, loopCtx context.Context, logger *slog.Logger) *Service {
	if loopCtx == nil {
		loopCtx = context.Background()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{adapter: adapter, loopCtx: loopCtx, logger: logger}
}

type loadResult struct {
	found []devices.Device
	err   error
}

// ListTargets returns Chromecast receivers found within timeoutMS, sorted by
// name. An empty list is not an error.
func (s *Service) ListTargets(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error) {
	if s.adapter == nil {
		return nil, errors.New("discovery adapter is not configured")
	}
	if timeoutMS <= 0 {
		timeoutMS = DefaultTimeoutMS
	}

	s.once.Do(func() {
		s.adapter.StartChromecastDiscoveryLoop(s.loopCtx)
	})

	results := make(chan loadResult, 1)
	go func() {
		found, err := s.loadUntil(ctx, time.Now().Add(time.Duration(timeoutMS)*time.Millisecond))
		results <- loadResult{found: found, err: err}
	}()

	timer := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		s.logger.Debug("cast_discovery_timeout", slog.Int("timeout_ms", timeoutMS))
		return []domain.Device{}, nil
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		targets := chromecastTargets(res.found)
		if !includeUnreachable {
			targets = keepReachable(targets)
		}
		sortTargets(targets)
		s.logger.Debug("cast_discovery_done", slog.Int("found", len(res.found)), slog.Int("targets", len(targets)))
		return targets, nil
	}
}

// loadUntil polls go2tv until it reports devices or the deadline passes.
// Chromecast entries trickle in after the browse loop starts, so an empty
// first answer is retried.
func (s *Service) loadUntil(ctx context.Context, deadline time.Time) ([]devices.Device, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := int(time.Until(deadline).Milliseconds())
		if remaining <= 0 {
			return []devices.Device{}, nil
		}

		found, err := s.adapter.LoadAllDevices(delaySeconds(min(remaining, maxAttemptTimeoutMS)))
		switch {
		case err == nil:
			return found, nil
		case errors.Is(err, devices.ErrNoDeviceAvailable):
			continue
		default:
			return nil, err
		}
	}
}

func delaySeconds(timeoutMS int) int {
	seconds := int(math.Ceil(float64(timeoutMS) / 1000.0))
	return max(seconds, minDelaySeconds)
}

func chromecastTargets(found []devices.Device) []domain.Device {
	out := make([]domain.Device, 0, len(found))
	for _, raw := range found {
		if !strings.Contains(strings.ToLower(raw.Type), "chrome") {
			continue
		}
		address := strings.TrimSpace(raw.Addr)
		out = append(out, domain.Device{
			ID:          StableID(address),
			Name:        strings.TrimSpace(raw.Name),
			Type:        strings.TrimSpace(raw.Type),
			Address:     address,
			IsAudioOnly: raw.IsAudioOnly,
			Protocol:    protocolChromecast,
		})
	}
	return out
}

func keepReachable(all []domain.Device) []domain.Device {
	kept := make([]domain.Device, 0, len(all))
	for _, dev := range all {
		if isReachableAddress(dev.Address, reachabilityWait) {
			kept = append(kept, dev)
		}
	}
	return kept
}

func sortTargets(all []domain.Device) {
	sort.Slice(all, func(i, j int) bool {
		a, b := strings.ToLower(all[i].Name), strings.ToLower(all[j].Name)
		if a != b {
			return a < b
		}
		return all[i].ID < all[j].ID
	})
}

// StableID derives a device id that survives restarts as long as the
// receiver keeps its address.
func StableID(address string) string {
	sum := sha1.Sum([]byte(protocolChromecast + "|" + canonicalAddress(address)))
	return "dev_" + hex.EncodeToString(sum[:8])
}

func canonicalAddress(address string) string {
	address = strings.TrimSpace(address)
	if !strings.Contains(address, "://") {
		address = "tcp://" + address
	}
	parsed, err := url.Parse(address)
	if err != nil || parsed.Hostname() == "" {
		return strings.ToLower(address)
	}
	port := parsed.Port()
	if port == "" {
		port = "8009"
	}
	return strings.ToLower(net.JoinHostPort(parsed.Hostname(), port))
}

func dialReachable(address string, timeout time.Duration) bool {
	hostPort := canonicalAddress(address)
	if _, _, err := net.SplitHostPort(hostPort); err != nil {
		return false
	}
	conn, err := net.DialTimeout("tcp", hostPort, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
