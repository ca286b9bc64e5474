// Package session ranks the remote-controllable sessions reported by the media
// server and picks the one a playback action should target.
package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alexballas/mcp-jellyfin/internal/domain"
)

type Strategy string

const (
	StrategyActive Strategy = "active"
	StrategyRecent Strategy = "recent"
	StrategyDevice Strategy = "device"
	StrategyAsk    Strategy = "ask"
)

// ParseStrategy reports whether raw names a known strategy.
func ParseStrategy(raw string) (Strategy, bool) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(raw))); s {
	case StrategyActive, StrategyRecent, StrategyDevice, StrategyAsk:
		return s, true
	default:
		return StrategyActive, false
	}
}

const (
	weightRemoteControl = 20
	weightNowPlaying    = 25
	weightUnpaused      = 20
	weightDeviceHint    = 40

	weightActiveWithin5m   = 20
	weightActiveWithin30m  = 10
	weightActiveWithin120m = 5

	nudgeRecent = 5
	nudgeDevice = 8

	ambiguityGap = 15
	maxChoices   = 5
	recentTier1  = 5 * time.Minute
	recentTier2  = 30 * time.Minute
	recentTier3  = 120 * time.Minute
)

var (
	ErrNotFound        = errors.New("no active Jellyfin sessions found")
	ErrSelectionFailed = errors.New("failed to select a Jellyfin session")
	ErrNoActivePlayer  = errors.New("no active Jellyfin player session found")
)

// AmbiguousError is returned under StrategyAsk when the two best sessions
// score too closely to pick one without the caller's help.
type AmbiguousError struct {
	Choices []domain.SessionChoice
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("multiple likely sessions (%d candidates); explicit sessionId required", len(e.Choices))
}

// Request carries every input of one ranking pass.
type Request struct {
	ExplicitID          string
	DeviceHint          string
	Strategy            Strategy
	RequireActivePlayer bool
	Now                 time.Time
}

type ranked struct {
	candidate domain.Candidate
	score     int
}

// Resolve selects a session from candidates. It holds no state between calls.
func Resolve(req Request, candidates []domain.Candidate) (domain.Selection, error) {
	if id := strings.TrimSpace(req.ExplicitID); id != "" {
		return domain.Selection{SessionID: id, Method: domain.ResolutionExplicit}, nil
	}
	if len(candidates) == 0 {
		return domain.Selection{}, ErrNotFound
	}

	ranking := make([]ranked, len(candidates))
	for i, c := range candidates {
		ranking[i] = ranked{candidate: c, score: Score(c, req.DeviceHint, req.Strategy, req.Now)}
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].score > ranking[j].score
	})

	top := ranking[0]
	if strings.TrimSpace(top.candidate.ID) == "" {
		return domain.Selection{}, ErrSelectionFailed
	}

	if req.Strategy == StrategyAsk && len(ranking) > 1 && top.score-ranking[1].score < ambiguityGap {
		return domain.Selection{}, &AmbiguousError{Choices: choicesFrom(ranking)}
	}

	if req.RequireActivePlayer && top.candidate.NowPlaying == nil {
		return domain.Selection{}, ErrNoActivePlayer
	}

	score := top.score
	return domain.Selection{
		SessionID:  top.candidate.ID,
		Method:     domain.ResolutionAuto,
		Score:      &score,
		DeviceName: top.candidate.DeviceName,
	}, nil
}

// Score is the additive signal score of one candidate.
func Score(c domain.Candidate, deviceHint string, strategy Strategy, now time.Time) int {
	score := 0
	if c.SupportsRemoteControl == nil || *c.SupportsRemoteControl {
		score += weightRemoteControl
	}
	if c.NowPlaying != nil {
		score += weightNowPlaying
		if !c.NowPlaying.IsPaused {
			score += weightUnpaused
		}
	}

	hint := strings.ToLower(strings.TrimSpace(deviceHint))
	if hint != "" && (strings.Contains(strings.ToLower(c.DeviceID), hint) || strings.Contains(strings.ToLower(c.DeviceName), hint)) {
		score += weightDeviceHint
	}

	score += recencyBonus(c.LastActivity, now)

	switch strategy {
	case StrategyRecent:
		score += nudgeRecent
	case StrategyDevice:
		if hint != "" {
			score += nudgeDevice
		}
	}
	return score
}

func recencyBonus(lastActivity string, now time.Time) int {
	raw := strings.TrimSpace(lastActivity)
	if raw == "" {
		return 0
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil || at.IsZero() {
		return 0
	}

	age := now.Sub(at)
	switch {
	case age <= recentTier1:
		return weightActiveWithin5m
	case age <= recentTier2:
		return weightActiveWithin30m
	case age <= recentTier3:
		return weightActiveWithin120m
	default:
		return 0
	}
}

func choicesFrom(ranking []ranked) []domain.SessionChoice {
	n := len(ranking)
	if n > maxChoices {
		n = maxChoices
	}
	choices := make([]domain.SessionChoice, 0, n)
	for _, r := range ranking[:n] {
		choice := domain.SessionChoice{
			SessionID:  r.candidate.ID,
			DeviceName: r.candidate.DeviceName,
			Client:     r.candidate.Client,
			Score:      r.score,
		}
		if r.candidate.NowPlaying != nil {
			choice.NowPlaying = r.candidate.NowPlaying.Title
		}
		choices = append(choices, choice)
	}
	return choices
}
