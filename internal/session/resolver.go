package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alexballas/mcp-jellyfin/internal/domain"
)

// CandidateSource lists the sessions currently known to the media server.
type CandidateSource interface {
	ListCandidates(ctx context.Context) ([]domain.Candidate, error)
}

type Resolver struct {
	source     CandidateSource
	strategy   Strategy
	deviceHint string
	now        func() time.Time
}

type ResolverConfig struct {
	Strategy   Strategy
	DeviceHint string
	Now        func() time.Time
}

func NewResolver(source CandidateSource, cfg ResolverConfig) *Resolver {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyActive
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{
		source:     source,
		strategy:   cfg.Strategy,
		deviceHint: strings.TrimSpace(cfg.DeviceHint),
		now:        cfg.Now,
	}
}

type Options struct {
	SessionID           string
	DeviceHint          string
	RequireActivePlayer bool
}

// ResolveSession fetches fresh candidates and ranks them. A per-call device
// hint replaces the configured one.
func (r *Resolver) ResolveSession(ctx context.Context, opts Options) (domain.Selection, error) {
	req := Request{
		ExplicitID:          opts.SessionID,
		DeviceHint:          r.deviceHint,
		Strategy:            r.strategy,
		RequireActivePlayer: opts.RequireActivePlayer,
		Now:                 r.now(),
	}
	if hint := strings.TrimSpace(opts.DeviceHint); hint != "" {
		req.DeviceHint = hint
	}
	if strings.TrimSpace(req.ExplicitID) != "" {
		return Resolve(req, nil)
	}

	candidates, err := r.source.ListCandidates(ctx)
	if err != nil {
		return domain.Selection{}, fmt.Errorf("list sessions: %w", err)
	}
	return Resolve(req, candidates)
}
