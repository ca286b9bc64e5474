package tools

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/alexballas/mcp-jellyfin/internal/domain"
	"github.com/alexballas/mcp-jellyfin/internal/jellyfin"
	"github.com/alexballas/mcp-jellyfin/internal/session"
)

const (
	fallbackListingLimit = 200
	nextUpFilterLimit    = 100
	ticksPerMinute       = 600_000_000
	ticksPerSecond       = 10_000_000
)

var defaultIncludeTypes = []string{"Series", "Movie", "Episode", "Audio"}

var playbackActions = map[string]string{
	"pause":    "Pause",
	"resume":   "Unpause",
	"stop":     "Stop",
	"toggle":   "PlayPause",
	"next":     "NextTrack",
	"previous": "PreviousTrack",
}

type handlers struct {
	catalog  Catalog
	sessions SessionResolver
	cast     CastController
}

type ItemsResult struct {
	Count int                `json:"count"`
	Items []domain.MediaItem `json:"items"`
}

type SessionsResult struct {
	Count    int                     `json:"count"`
	Sessions []domain.SessionSummary `json:"sessions"`
}

type PlayResult struct {
	OK            bool   `json:"ok"`
	Query         string `json:"query"`
	SelectedTitle string `json:"selectedTitle"`
	SelectedType  string `json:"selectedType"`
	SessionID     string `json:"sessionId"`
	SessionName   string `json:"sessionName,omitempty"`
	Resolution    string `json:"resolution"`
}

func (r PlayResult) TargetSessionID() string { return r.SessionID }

type PlaybackResult struct {
	OK          bool   `json:"ok"`
	Action      string `json:"action"`
	Command     string `json:"command"`
	SessionID   string `json:"sessionId"`
	SessionName string `json:"sessionName,omitempty"`
	Resolution  string `json:"resolution"`
}

func (r PlaybackResult) TargetSessionID() string { return r.SessionID }

type CommandResult struct {
	OK          bool   `json:"ok"`
	Command     string `json:"command"`
	SessionID   string `json:"sessionId"`
	SessionName string `json:"sessionName,omitempty"`
	Resolution  string `json:"resolution"`
}

func (r CommandResult) TargetSessionID() string { return r.SessionID }

type CastTargetsResult struct {
	Count   int             `json:"count"`
	Devices []domain.Device `json:"devices"`
}

func (h *handlers) browse(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		Query string   `json:"query"`
		Types []string `json:"types"`
		Limit *int     `json:"limit"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	userID, err := h.catalog.ResolveUserID(ctx, "")
	if err != nil {
		return nil, err
	}

	q := jellyfin.ItemsQuery{
		UserID:           userID,
		SearchTerm:       strings.TrimSpace(in.Query),
		IncludeItemTypes: includeTypes(in.Types),
		Limit:            clampLimit(in.Limit),
		Recursive:        true,
		SortBy:           "SortName",
		SortOrder:        "Ascending",
	}
	if q.SearchTerm == "" {
		q.SortBy = "DateCreated"
		q.SortOrder = "Descending"
	}

	resp, err := h.catalog.ListItems(ctx, q)
	if err != nil {
		return nil, err
	}
	return itemsResult(resp.Items, q.Limit), nil
}

func (h *handlers) recommendations(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		MediaType string `json:"mediaType"`
		Limit     *int   `json:"limit"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	userID, err := h.catalog.ResolveUserID(ctx, "")
	if err != nil {
		return nil, err
	}
	limit := clampLimit(in.Limit)
	resp, err := h.catalog.Suggestions(ctx, userID, in.MediaType, limit)
	if err != nil {
		return nil, err
	}
	return itemsResult(resp.Items, limit), nil
}

func (h *handlers) nextUp(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		SeriesName string `json:"seriesName"`
		Limit      *int   `json:"limit"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	userID, err := h.catalog.ResolveUserID(ctx, "")
	if err != nil {
		return nil, err
	}
	limit := clampLimit(in.Limit)
	filter := normalizeForMatch(in.SeriesName)

	fetch := limit
	if filter != "" {
		fetch = nextUpFilterLimit
	}
	resp, err := h.catalog.NextUp(ctx, userID, "", fetch)
	if err != nil {
		return nil, err
	}

	items := resp.Items
	if filter != "" {
		items = items[:0:0]
		for _, item := range resp.Items {
			if strings.Contains(normalizeForMatch(item.SeriesName), filter) {
				items = append(items, item)
			}
		}
	}
	return itemsResult(items, limit), nil
}

func (h *handlers) listSessions(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		ControllableOnly bool `json:"controllableOnly"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	sessions, err := h.catalog.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		if in.ControllableOnly && s.SupportsRemoteControl != nil && !*s.SupportsRemoteControl {
			continue
		}
		summary := domain.SessionSummary{
			SessionID:    s.ID,
			UserName:     s.UserName,
			DeviceName:   s.DeviceName,
			DeviceID:     s.DeviceID,
			Client:       s.Client,
			IsPaused:     s.PlayState != nil && s.PlayState.IsPaused,
			LastActivity: s.LastActivityDate,
		}
		if s.NowPlayingItem != nil {
			summary.NowPlaying = s.NowPlayingItem.Name
		}
		out = append(out, summary)
	}
	return SessionsResult{Count: len(out), Sessions: out}, nil
}

func (h *handlers) playByName(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		Query       string   `json:"query"`
		Types       []string `json:"types"`
		SessionID   string   `json:"sessionId"`
		DeviceHint  string   `json:"deviceHint"`
		PlayCommand string   `json:"playCommand"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, &domain.ToolError{Code: domain.CodeInvalidArguments, Message: "query is required."}
	}

	selected, err := h.findPlayable(ctx, query, in.Types)
	if err != nil {
		return nil, err
	}

	selection, err := h.sessions.ResolveSession(ctx, session.Options{
		SessionID:  in.SessionID,
		DeviceHint: in.DeviceHint,
	})
	if err != nil {
		return nil, err
	}

	playCommand := in.PlayCommand
	if playCommand == "" {
		playCommand = "PlayNow"
	}
	if err := h.catalog.SendPlay(ctx, selection.SessionID, []string{selected.ID}, playCommand); err != nil {
		return nil, err
	}

	return PlayResult{
		OK:            true,
		Query:         query,
		SelectedTitle: selected.Name,
		SelectedType:  selected.Type,
		SessionID:     selection.SessionID,
		SessionName:   selection.DeviceName,
		Resolution:    selection.Method,
	}, nil
}

func (h *handlers) playbackControl(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		Action     string `json:"action"`
		SessionID  string `json:"sessionId"`
		DeviceHint string `json:"deviceHint"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	action := strings.ToLower(strings.TrimSpace(in.Action))
	command, ok := playbackActions[action]
	if !ok {
		return nil, &domain.ToolError{
			Code:    domain.CodeInvalidArguments,
			Message: fmt.Sprintf("Unsupported action: %s", in.Action),
		}
	}

	selection, err := h.sessions.ResolveSession(ctx, session.Options{
		SessionID:           in.SessionID,
		DeviceHint:          in.DeviceHint,
		RequireActivePlayer: true,
	})
	if err != nil {
		return nil, err
	}
	if err := h.catalog.SendPlaystate(ctx, selection.SessionID, command); err != nil {
		return nil, err
	}

	return PlaybackResult{
		OK:          true,
		Action:      action,
		Command:     command,
		SessionID:   selection.SessionID,
		SessionName: selection.DeviceName,
		Resolution:  selection.Method,
	}, nil
}

func (h *handlers) sendCommand(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		Command    string            `json:"command"`
		Arguments  map[string]string `json:"arguments"`
		SessionID  string            `json:"sessionId"`
		DeviceHint string            `json:"deviceHint"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	command := strings.TrimSpace(in.Command)
	if command == "" {
		return nil, &domain.ToolError{Code: domain.CodeInvalidArguments, Message: "command is required."}
	}
	if in.Arguments == nil {
		in.Arguments = map[string]string{}
	}

	selection, err := h.sessions.ResolveSession(ctx, session.Options{
		SessionID:  in.SessionID,
		DeviceHint: in.DeviceHint,
	})
	if err != nil {
		return nil, err
	}
	if err := h.catalog.SendCommand(ctx, selection.SessionID, command, in.Arguments); err != nil {
		return nil, err
	}

	return CommandResult{
		OK:          true,
		Command:     command,
		SessionID:   selection.SessionID,
		SessionName: selection.DeviceName,
		Resolution:  selection.Method,
	}, nil
}

func (h *handlers) listCastTargets(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		TimeoutMS *int `json:"timeoutMs"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	timeoutMS := defaultDiscoveryTimeoutMS
	if in.TimeoutMS != nil {
		timeoutMS = *in.TimeoutMS
	}

	devices, err := h.cast.ListCastTargets(ctx, timeoutMS)
	if err != nil {
		return nil, err
	}
	return CastTargetsResult{Count: len(devices), Devices: devices}, nil
}

func (h *handlers) castByName(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		Query        string   `json:"query"`
		TargetDevice string   `json:"targetDevice"`
		Types        []string `json:"types"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(in.Query)
	target := strings.TrimSpace(in.TargetDevice)
	if query == "" || target == "" {
		return nil, &domain.ToolError{Code: domain.CodeInvalidArguments, Message: "query and targetDevice are required."}
	}

	selected, err := h.findPlayable(ctx, query, in.Types)
	if err != nil {
		return nil, err
	}

	req := domain.CastRequest{
		TargetDevice: target,
		Title:        selected.Name,
		MediaURL:     h.catalog.StreamURL(selected.ID, selected.MediaType),
		ContentType:  castContentType(selected),
	}
	if selected.RunTimeTicks != nil {
		req.DurationSec = float64(*selected.RunTimeTicks) / ticksPerSecond
	}
	result, err := h.cast.Cast(ctx, req)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *handlers) stopCast(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		TargetDevice string `json:"targetDevice"`
		CastID       string `json:"castId"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	result, err := h.cast.StopCast(ctx, domain.StopCastRequest{
		TargetDevice: strings.TrimSpace(in.TargetDevice),
		CastID:       strings.TrimSpace(in.CastID),
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// findPlayable searches the library for query and returns the best match.
// Every derived search term is queried concurrently; results merge by item id
// in term order. With no hits a wider unfiltered listing is scored instead.
// A series resolves to its first episode.
func (h *handlers) findPlayable(ctx context.Context, query string, types []string) (jellyfin.Item, error) {
	userID, err := h.catalog.ResolveUserID(ctx, "")
	if err != nil {
		return jellyfin.Item{}, err
	}
	include := includeTypes(types)

	terms := buildSearchTerms(query)
	results := make([][]jellyfin.Item, len(terms))
	g, gctx := errgroup.WithContext(ctx)
	for i, term := range terms {
		g.Go(func() error {
			resp, err := h.catalog.ListItems(gctx, jellyfin.ItemsQuery{
				UserID:           userID,
				SearchTerm:       term,
				IncludeItemTypes: include,
				Limit:            maxLimit,
				Recursive:        true,
				SortBy:           "SortName",
				SortOrder:        "Ascending",
			})
			if err != nil {
				return fmt.Errorf("search %q: %w", term, err)
			}
			results[i] = resp.Items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return jellyfin.Item{}, err
	}

	var candidates []jellyfin.Item
	seen := map[string]bool{}
	for _, items := range results {
		for _, item := range items {
			if item.ID == "" || seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			candidates = append(candidates, item)
		}
	}

	if len(candidates) == 0 {
		fallback, err := h.catalog.ListItems(ctx, jellyfin.ItemsQuery{
			UserID:           userID,
			IncludeItemTypes: include,
			Limit:            fallbackListingLimit,
			Recursive:        true,
			SortBy:           "SortName",
			SortOrder:        "Ascending",
		})
		if err != nil {
			return jellyfin.Item{}, err
		}
		candidates = fallback.Items
	}

	selected, ok := chooseBestMatch(candidates, query)
	if !ok {
		return jellyfin.Item{}, &domain.ToolError{
			Code:           domain.CodeNoMatch,
			Message:        "No matching media items found.",
			SuggestedFixes: []string{"Try a shorter or differently spelled title, or browse with jellyfin_browse."},
		}
	}

	if selected.Type == "Series" {
		episodes, err := h.catalog.ListItems(ctx, jellyfin.ItemsQuery{
			UserID:           userID,
			ParentID:         selected.ID,
			IncludeItemTypes: []string{"Episode"},
			Limit:            1,
			Recursive:        true,
			SortBy:           "ParentIndexNumber,IndexNumber",
			SortOrder:        "Ascending",
		})
		if err != nil {
			return jellyfin.Item{}, err
		}
		if len(episodes.Items) > 0 {
			selected = episodes.Items[0]
		}
	}
	return selected, nil
}

func castContentType(item jellyfin.Item) string {
	if strings.EqualFold(item.MediaType, "Audio") || item.Type == "Audio" {
		return "audio/mpeg"
	}
	return "video/mp4"
}

func includeTypes(types []string) []string {
	clean := make([]string, 0, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	if len(clean) == 0 {
		return defaultIncludeTypes
	}
	return clean
}

func clampLimit(limit *int) int {
	if limit == nil {
		return defaultLimit
	}
	return min(max(*limit, 1), maxLimit)
}

func itemsResult(items []jellyfin.Item, limit int) ItemsResult {
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]domain.MediaItem, 0, len(items))
	for _, item := range items {
		out = append(out, compactItem(item))
	}
	return ItemsResult{Count: len(out), Items: out}
}

// compactItem drops server ids and converts ticks to whole minutes.
func compactItem(item jellyfin.Item) domain.MediaItem {
	out := domain.MediaItem{
		Title:      item.Name,
		Type:       item.Type,
		Year:       item.ProductionYear,
		Rating:     item.CommunityRating,
		SeriesName: item.SeriesName,
		Season:     item.ParentIndexNumber,
		Episode:    item.IndexNumber,
	}
	if item.RunTimeTicks != nil && *item.RunTimeTicks > 0 {
		minutes := int(math.Round(float64(*item.RunTimeTicks) / ticksPerMinute))
		out.RuntimeMinutes = &minutes
	}
	return out
}
