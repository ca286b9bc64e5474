// Package cast streams Jellyfin items to Chromecast receivers and keeps track
// of the casts it started.
package cast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexballas/mcp-jellyfin/internal/adapters"
	"github.com/alexballas/mcp-jellyfin/internal/domain"
)

const (
	resolveTimeoutMS         = 2500
	fallbackResolveTimeoutMS = 12000

	defaultRetryAttempts    = 3
	defaultRetryBaseBackoff = 120 * time.Millisecond
	defaultRetryMaxBackoff  = 800 * time.Millisecond
)

type targetLister interface {
	ListTargets(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error)
}

type Manager struct {
	discovery   targetLister
	castFactory adapters.CastFactory
	logger      *slog.Logger
	newID       func() string

	resolveTimeouts  []int
	retryAttempts    int
	retryBaseBackoff time.Duration
	retryMaxBackoff  time.Duration

	closeOnce sync.Once
	closeErr  error

	mu           sync.Mutex
	castsByID    map[string]*activeCast
	castByDevice map[string]string
	closed       bool
}

type activeCast struct {
	ID         string
	DeviceID   string
	DeviceName string
	Title      string
	StartedAt  time.Time

	client    adapters.CastClient
	closeOnce sync.Once
}

func NewManager(discovery targetLister, castFactory adapters.CastFactory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		discovery:        discovery,
		castFactory:      castFactory,
		logger:           logger,
		newID:            func() string { return "cast_" + uuid.NewString() },
		resolveTimeouts:  []int{resolveTimeoutMS, fallbackResolveTimeoutMS},
		retryAttempts:    defaultRetryAttempts,
		retryBaseBackoff: defaultRetryBaseBackoff,
		retryMaxBackoff:  defaultRetryMaxBackoff,
		castsByID:        map[string]*activeCast{},
		castByDevice:     map[string]string{},
	}
}

// ListCastTargets returns the reachable receivers.
func (m *Manager) ListCastTargets(ctx context.Context, timeoutMS int) ([]domain.Device, error) {
	if m.discovery == nil {
		return nil, toolError(domain.CodeCastNotConfigured, "cast discovery is not configured")
	}
	devs, err := m.discovery.ListTargets(ctx, timeoutMS, false)
	if err != nil {
		return nil, toolError(domain.CodeUpstreamError, fmt.Sprintf("device discovery failed: %v", err))
	}
	return devs, nil
}

// Cast loads req.MediaURL on the resolved receiver. A cast already running on
// the same receiver is stopped once the new one has started.
func (m *Manager) Cast(ctx context.Context, req domain.CastRequest) (*domain.CastResult, error) {
	if m.discovery == nil || m.castFactory == nil {
		return nil, toolError(domain.CodeCastNotConfigured, "cast is not configured")
	}
	if m.isClosed() {
		return nil, toolError(domain.CodeInternalError, "cast manager is shutting down")
	}
	if strings.TrimSpace(req.MediaURL) == "" {
		return nil, toolError(domain.CodeInvalidArguments, "media URL is empty")
	}

	device, err := m.resolveDevice(ctx, req.TargetDevice)
	if err != nil {
		return nil, err
	}

	client, err := m.castFactory.NewCastClient(device.Address)
	if err != nil {
		return nil, toolError(domain.CodeDeviceUnreachable, fmt.Sprintf("failed to create Chromecast client: %v", err))
	}
	if err := m.withRetry(ctx, "chromecast_connect", client.Connect); err != nil {
		_ = client.Close(false)
		return nil, toolError(domain.CodeDeviceUnreachable, fmt.Sprintf("failed to connect to %s: %v", device.Name, err))
	}

	if err := m.withRetry(ctx, "chromecast_load", func() error {
		return client.Load(req.MediaURL, req.ContentType, 0, req.DurationSec, "", false)
	}); err != nil {
		_ = client.Close(true)
		return nil, toolError(domain.CodeUpstreamError, fmt.Sprintf("failed to start playback on %s: %v", device.Name, err))
	}

	cast := &activeCast{
		ID:         m.newID(),
		DeviceID:   device.ID,
		DeviceName: device.Name,
		Title:      req.Title,
		StartedAt:  time.Now(),
		client:     client,
	}
	replaced, stored := m.store(cast)
	if !stored {
		_ = shutdownCast(cast, true)
		return nil, toolError(domain.CodeInternalError, "cast manager is shutting down")
	}
	if replaced != nil {
		if err := shutdownCast(replaced, false); err != nil {
			m.logger.Warn("cast_replace_close_failed", slog.String("cast_id", replaced.ID), slog.String("error", err.Error()))
		}
	}

	m.logger.Info("cast_started",
		slog.String("cast_id", cast.ID),
		slog.String("device_id", cast.DeviceID),
		slog.String("device_name", cast.DeviceName),
	)

	return &domain.CastResult{
		OK:         true,
		CastID:     cast.ID,
		DeviceID:   cast.DeviceID,
		DeviceName: cast.DeviceName,
		Title:      cast.Title,
	}, nil
}

// StopCast stops the cast named by CastID, or else the one running on
// TargetDevice (id or name).
func (m *Manager) StopCast(_ context.Context, req domain.StopCastRequest) (*domain.StopCastResult, error) {
	if req.CastID == "" && req.TargetDevice == "" {
		return nil, toolError(domain.CodeInvalidArguments, "either castId or targetDevice is required")
	}

	cast := m.take(req)
	if cast == nil {
		return nil, toolError(domain.CodeDeviceNotFound, "no active cast matches the provided target")
	}
	if err := shutdownCast(cast, true); err != nil {
		return nil, toolError(domain.CodeUpstreamError, err.Error())
	}

	m.logger.Info("cast_stopped", slog.String("cast_id", cast.ID), slog.String("device_id", cast.DeviceID))
	return &domain.StopCastResult{OK: true, CastID: cast.ID, DeviceID: cast.DeviceID}, nil
}

// Close stops every tracked cast. Later calls return the first result.
func (m *Manager) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		casts := make([]*activeCast, 0, len(m.castsByID))
		for id, c := range m.castsByID {
			casts = append(casts, c)
			delete(m.castsByID, id)
		}
		clear(m.castByDevice)
		m.mu.Unlock()

		var errs []error
		for _, c := range casts {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}
			if err := shutdownCast(c, true); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", c.ID, err))
			}
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}

// Active reports the number of tracked casts.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.castsByID)
}

func (m *Manager) resolveDevice(ctx context.Context, target string) (*domain.Device, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, toolError(domain.CodeDeviceNotFound, "targetDevice is empty")
	}

	var previous int
	for _, timeoutMS := range m.resolveTimeouts {
		if timeoutMS == previous {
			continue
		}
		previous = timeoutMS

		devs, err := m.discovery.ListTargets(ctx, timeoutMS, true)
		if err != nil {
			return nil, toolError(domain.CodeUpstreamError, fmt.Sprintf("device discovery failed: %v", err))
		}
		if matched := matchTargetDevice(devs, target); matched != nil {
			return matched, nil
		}
	}
	return nil, &domain.ToolError{
		Code:           domain.CodeDeviceNotFound,
		Message:        fmt.Sprintf("Cast target not found: %s", target),
		SuggestedFixes: []string{"Call jellyfin_list_cast_targets and pass one of the returned ids."},
	}
}

// matchTargetDevice tries, in order: exact id, exact name, case-insensitive
// id or name, and name without a trailing parenthetical.
func matchTargetDevice(devices []domain.Device, target string) *domain.Device {
	target = strings.TrimSpace(target)
	for i := range devices {
		if strings.TrimSpace(devices[i].ID) == target {
			return &devices[i]
		}
	}
	for i := range devices {
		if strings.TrimSpace(devices[i].Name) == target {
			return &devices[i]
		}
	}
	normalized := normalizeDeviceName(target)
	for i := range devices {
		if strings.EqualFold(strings.TrimSpace(devices[i].ID), target) ||
			strings.EqualFold(strings.TrimSpace(devices[i].Name), target) ||
			normalizeDeviceName(devices[i].Name) == normalized {
			return &devices[i]
		}
	}
	return nil
}

func normalizeDeviceName(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if idx := strings.LastIndex(normalized, " ("); idx > 0 && strings.HasSuffix(normalized, ")") {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	return normalized
}

func (m *Manager) store(cast *activeCast) (*activeCast, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false
	}

	var replaced *activeCast
	if oldID, ok := m.castByDevice[cast.DeviceID]; ok {
		replaced = m.castsByID[oldID]
		delete(m.castsByID, oldID)
	}
	m.castsByID[cast.ID] = cast
	m.castByDevice[cast.DeviceID] = cast.ID
	return replaced, true
}

func (m *Manager) take(req domain.StopCastRequest) *activeCast {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *activeCast
	if req.CastID != "" {
		found = m.castsByID[req.CastID]
	} else {
		target := normalizeDeviceName(req.TargetDevice)
		for _, c := range m.castsByID {
			if c.DeviceID == req.TargetDevice || normalizeDeviceName(c.DeviceName) == target {
				found = c
				break
			}
		}
	}
	if found == nil {
		return nil
	}
	delete(m.castsByID, found.ID)
	delete(m.castByDevice, found.DeviceID)
	return found
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func shutdownCast(c *activeCast, stopMedia bool) error {
	if c == nil {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		var errs []error
		if stopMedia {
			if stopErr := c.client.Stop(); stopErr != nil {
				errs = append(errs, fmt.Errorf("stop: %w", stopErr))
			}
		}
		if closeErr := c.client.Close(stopMedia); closeErr != nil {
			errs = append(errs, fmt.Errorf("close: %w", closeErr))
		}
		err = errors.Join(errs...)
	})
	return err
}

func (m *Manager) withRetry(ctx context.Context, operation string, call func() error) error {
	attempts := max(m.retryAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == attempts || !isTransientNetworkError(err) {
			break
		}

		backoff := backoffForAttempt(m.retryBaseBackoff, m.retryMaxBackoff, attempt)
		m.logger.Debug("cast_retry",
			slog.String("operation", operation),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", attempts),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		if waitErr := waitForBackoff(ctx, backoff); waitErr != nil {
			return waitErr
		}
	}
	return lastErr
}

func backoffForAttempt(base, ceiling time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	backoff := base
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if ceiling > 0 && backoff >= ceiling {
			return ceiling
		}
	}
	if ceiling > 0 && backoff > ceiling {
		return ceiling
	}
	return backoff
}

func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var transientPatterns = []string{
	"timeout",
	"temporar",
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"network is unreachable",
	"no route to host",
}

func isTransientNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func toolError(code, message string) *domain.ToolError {
	return &domain.ToolError{Code: code, Message: message}
}
