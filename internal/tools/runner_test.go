package tools

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexballas/mcp-jellyfin/internal/domain"
	"github.com/alexballas/mcp-jellyfin/internal/jellyfin"
	"github.com/alexballas/mcp-jellyfin/internal/session"
)

type fakeCatalog struct {
	mu sync.Mutex

	userErr     error
	itemsByTerm map[string][]jellyfin.Item
	fallback    []jellyfin.Item
	episodes    map[string][]jellyfin.Item
	suggestions []jellyfin.Item
	nextUp      []jellyfin.Item
	sessions    []jellyfin.Session
	listErr     error

	queries     []jellyfin.ItemsQuery
	nextUpLimit int
	played      []playCall
	playstates  []playstateCall
	commands    []commandCall
}

type playCall struct {
	sessionID   string
	itemIDs     []string
	playCommand string
}

type playstateCall struct {
	sessionID string
	command   string
}

type commandCall struct {
	sessionID string
	command   string
	arguments map[string]string
}

func (f *fakeCatalog) ResolveUserID(ctx context.Context, explicit string) (string, error) {
	if f.userErr != nil {
		return "", f.userErr
	}
	return "u1", nil
}

func (f *fakeCatalog) ListItems(ctx context.Context, q jellyfin.ItemsQuery) (jellyfin.ItemsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.listErr != nil {
		return jellyfin.ItemsResponse{}, f.listErr
	}
	switch {
	case q.ParentID != "":
		return jellyfin.ItemsResponse{Items: f.episodes[q.ParentID]}, nil
	case q.SearchTerm != "":
		return jellyfin.ItemsResponse{Items: f.itemsByTerm[q.SearchTerm]}, nil
	default:
		return jellyfin.ItemsResponse{Items: f.fallback}, nil
	}
}

func (f *fakeCatalog) Suggestions(ctx context.Context, userID, mediaType string, limit int) (jellyfin.ItemsResponse, error) {
	return jellyfin.ItemsResponse{Items: f.suggestions}, nil
}

func (f *fakeCatalog) NextUp(ctx context.Context, userID, seriesID string, limit int) (jellyfin.ItemsResponse, error) {
	f.nextUpLimit = limit
	return jellyfin.ItemsResponse{Items: f.nextUp}, nil
}

func (f *fakeCatalog) ListSessions(ctx context.Context) ([]jellyfin.Session, error) {
	return f.sessions, nil
}

func (f *fakeCatalog) SendPlay(ctx context.Context, sessionID string, itemIDs []string, playCommand string) error {
	f.played = append(f.played, playCall{sessionID: sessionID, itemIDs: itemIDs, playCommand: playCommand})
	return nil
}

func (f *fakeCatalog) SendPlaystate(ctx context.Context, sessionID, command string) error {
	f.playstates = append(f.playstates, playstateCall{sessionID: sessionID, command: command})
	return nil
}

func (f *fakeCatalog) SendCommand(ctx context.Context, sessionID, command string, arguments map[string]string) error {
	f.commands = append(f.commands, commandCall{sessionID: sessionID, command: command, arguments: arguments})
	return nil
}

func (f *fakeCatalog) StreamURL(itemID, mediaType string) string {
	return "http://jf.local/Videos/" + itemID + "/stream?static=true"
}

func (f *fakeCatalog) searchTerms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var terms []string
	for _, q := range f.queries {
		if q.SearchTerm != "" {
			terms = append(terms, q.SearchTerm)
		}
	}
	sort.Strings(terms)
	return terms
}

type fakeResolver struct {
	selection domain.Selection
	err       error
	opts      []session.Options
}

func (f *fakeResolver) ResolveSession(ctx context.Context, opts session.Options) (domain.Selection, error) {
	f.opts = append(f.opts, opts)
	return f.selection, f.err
}

type fakeCast struct {
	devices   []domain.Device
	timeoutMS int
	castReq   domain.CastRequest
	castErr   error
	stopReq   domain.StopCastRequest
}

func (f *fakeCast) ListCastTargets(ctx context.Context, timeoutMS int) ([]domain.Device, error) {
	f.timeoutMS = timeoutMS
	return f.devices, nil
}

func (f *fakeCast) Cast(ctx context.Context, req domain.CastRequest) (*domain.CastResult, error) {
	f.castReq = req
	if f.castErr != nil {
		return nil, f.castErr
	}
	return &domain.CastResult{OK: true, CastID: "cast_1", DeviceID: "dev_1", DeviceName: "Kitchen", Title: req.Title}, nil
}

func (f *fakeCast) StopCast(ctx context.Context, req domain.StopCastRequest) (*domain.StopCastResult, error) {
	f.stopReq = req
	return &domain.StopCastResult{OK: true, CastID: "cast_1", DeviceID: "dev_1"}, nil
}

func autoSelection(id, name string) domain.Selection {
	score := 85
	return domain.Selection{SessionID: id, Method: domain.ResolutionAuto, Score: &score, DeviceName: name}
}

func newTestRunner(t *testing.T, catalog *fakeCatalog, resolver *fakeResolver, cast CastController) *Runner {
	t.Helper()
	runner, err := NewRunner(Config{Catalog: catalog, Sessions: resolver, Cast: cast})
	require.NoError(t, err)
	return runner
}

func intPtr(v int) *int {
	return &v
}

func requireToolError(t *testing.T, err error, code string) *domain.ToolError {
	t.Helper()
	var tErr *domain.ToolError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, code, tErr.Code)
	return tErr
}

func TestDefinitionsMatchHandlers(t *testing.T) {
	runner := newTestRunner(t, &fakeCatalog{}, &fakeResolver{}, nil)
	var names []string
	for _, def := range runner.Definitions() {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{
		ToolBrowse, ToolRecommendations, ToolNextUp, ToolListSessions, ToolPlayByName, ToolPlaybackControl,
		ToolSendCommand,
	}, names)

	withCast := newTestRunner(t, &fakeCatalog{}, &fakeResolver{}, &fakeCast{})
	assert.Len(t, withCast.Definitions(), 10)
}

func TestValidateRegistryRejectsMismatch(t *testing.T) {
	defs := playbackDefinitions()
	_, err := validateRegistry(defs, map[string]handlerFunc{})
	assert.ErrorContains(t, err, "has no handler")

	noop := func(ctx context.Context, args map[string]any) (any, error) { return nil, nil }
	table := map[string]handlerFunc{}
	for _, def := range defs {
		table[def.Name] = noop
	}
	table["jellyfin_orphan"] = noop
	_, err = validateRegistry(defs, table)
	assert.ErrorContains(t, err, "jellyfin_orphan")
}

func TestInvokeUnknownTool(t *testing.T) {
	runner := newTestRunner(t, &fakeCatalog{}, &fakeResolver{}, nil)
	_, err := runner.Invoke(context.Background(), "jellyfin_cast_by_name", map[string]any{})
	requireToolError(t, err, domain.CodeToolNotFound)
}

func TestInvokeRejectsInvalidArguments(t *testing.T) {
	runner := newTestRunner(t, &fakeCatalog{}, &fakeResolver{}, nil)

	cases := map[string]struct {
		tool string
		args map[string]any
	}{
		"missing query":       {tool: ToolPlayByName, args: map[string]any{}},
		"limit above maximum": {tool: ToolBrowse, args: map[string]any{"limit": float64(50)}},
		"unknown property":    {tool: ToolBrowse, args: map[string]any{"userId": "x"}},
		"bad action":          {tool: ToolPlaybackControl, args: map[string]any{"action": "rewind"}},
		"wrong type":          {tool: ToolListSessions, args: map[string]any{"controllableOnly": "yes"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := runner.Invoke(context.Background(), tc.tool, tc.args)
			tErr := requireToolError(t, err, domain.CodeInvalidArguments)
			assert.Contains(t, tErr.Message, "Invalid arguments")
		})
	}
}

func TestBrowseReturnsCompactItems(t *testing.T) {
	ticks := int64(117 * 600_000_000)
	year := 1979
	catalog := &fakeCatalog{itemsByTerm: map[string][]jellyfin.Item{
		"alien": {{ID: "i1", Name: "Alien", Type: "Movie", ProductionYear: &year, RunTimeTicks: &ticks}},
	}}
	runner := newTestRunner(t, catalog, &fakeResolver{}, nil)

	out, err := runner.Invoke(context.Background(), ToolBrowse, map[string]any{"query": "alien", "limit": float64(5)})
	require.NoError(t, err)

	result := out.(ItemsResult)
	require.Equal(t, 1, result.Count)
	item := result.Items[0]
	assert.Equal(t, "Alien", item.Title)
	assert.Equal(t, 1979, *item.Year)
	assert.Equal(t, 117, *item.RuntimeMinutes)

	q := catalog.queries[0]
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, defaultIncludeTypes, q.IncludeItemTypes)
	assert.Equal(t, "SortName", q.SortBy)
}

func TestBrowseWithoutQueryListsNewest(t *testing.T) {
	catalog := &fakeCatalog{}
	runner := newTestRunner(t, catalog, &fakeResolver{}, nil)

	_, err := runner.Invoke(context.Background(), ToolBrowse, nil)
	require.NoError(t, err)
	q := catalog.queries[0]
	assert.Equal(t, "DateCreated", q.SortBy)
	assert.Equal(t, "Descending", q.SortOrder)
	assert.Equal(t, defaultLimit, q.Limit)
}

func TestNextUpFiltersBySeriesName(t *testing.T) {
	catalog := &fakeCatalog{nextUp: []jellyfin.Item{
		{ID: "e1", Name: "Pilot", Type: "Episode", SeriesName: "The Bear"},
		{ID: "e2", Name: "Ozymandias", Type: "Episode", SeriesName: "Breaking Bad"},
	}}
	runner := newTestRunner(t, catalog, &fakeResolver{}, nil)

	out, err := runner.Invoke(context.Background(), ToolNextUp, map[string]any{"seriesName": "breaking"})
	require.NoError(t, err)
	result := out.(ItemsResult)
	require.Equal(t, 1, result.Count)
	assert.Equal(t, "Ozymandias", result.Items[0].Title)
	assert.Equal(t, nextUpFilterLimit, catalog.nextUpLimit)
}

func TestListSessionsControllableOnly(t *testing.T) {
	no := false
	catalog := &fakeCatalog{sessions: []jellyfin.Session{
		{ID: "s1", DeviceName: "TV", NowPlayingItem: &jellyfin.Item{Name: "Alien"}, PlayState: &jellyfin.PlayState{IsPaused: true}},
		{ID: "s2", DeviceName: "Dashboard", SupportsRemoteControl: &no},
	}}
	runner := newTestRunner(t, catalog, &fakeResolver{}, nil)

	out, err := runner.Invoke(context.Background(), ToolListSessions, map[string]any{"controllableOnly": true})
	require.NoError(t, err)
	result := out.(SessionsResult)
	require.Equal(t, 1, result.Count)
	assert.Equal(t, "s1", result.Sessions[0].SessionID)
	assert.Equal(t, "Alien", result.Sessions[0].NowPlaying)
	assert.True(t, result.Sessions[0].IsPaused)
}

func TestPlayByNameSearchesAllTermsAndPlays(t *testing.T) {
	catalog := &fakeCatalog{itemsByTerm: map[string][]jellyfin.Item{
		"Star Wars: A New Hope": {{ID: "m1", Name: "Star Wars: A New Hope", Type: "Movie"}},
		"star":                  {{ID: "m2", Name: "Stardust", Type: "Movie"}, {ID: "m1", Name: "Star Wars: A New Hope", Type: "Movie"}},
	}}
	resolver := &fakeResolver{selection: autoSelection("s1", "Living Room TV")}
	runner := newTestRunner(t, catalog, resolver, nil)

	out, err := runner.Invoke(context.Background(), ToolPlayByName, map[string]any{
		"query":      "Star Wars: A New Hope",
		"deviceHint": "living",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Star Wars: A New Hope",
		"star",
		"star wars a new hope",
		"starwarsanewhope",
	}, catalog.searchTerms())

	result := out.(PlayResult)
	assert.True(t, result.OK)
	assert.Equal(t, "Star Wars: A New Hope", result.SelectedTitle)
	assert.Equal(t, "s1", result.SessionID)
	assert.Equal(t, "Living Room TV", result.SessionName)
	assert.Equal(t, domain.ResolutionAuto, result.Resolution)
	assert.Equal(t, "s1", result.TargetSessionID())

	require.Len(t, catalog.played, 1)
	assert.Equal(t, []string{"m1"}, catalog.played[0].itemIDs)
	assert.Equal(t, "PlayNow", catalog.played[0].playCommand)
	require.Len(t, resolver.opts, 1)
	assert.Equal(t, "living", resolver.opts[0].DeviceHint)
	assert.False(t, resolver.opts[0].RequireActivePlayer)
}

func TestPlayByNameSeriesStartsFirstEpisode(t *testing.T) {
	catalog := &fakeCatalog{
		itemsByTerm: map[string][]jellyfin.Item{
			"severance": {{ID: "ser1", Name: "Severance", Type: "Series"}},
		},
		episodes: map[string][]jellyfin.Item{
			"ser1": {{ID: "ep1", Name: "Good News About Hell", Type: "Episode"}},
		},
	}
	runner := newTestRunner(t, catalog, &fakeResolver{selection: domain.Selection{SessionID: "x", Method: domain.ResolutionExplicit}}, nil)

	out, err := runner.Invoke(context.Background(), ToolPlayByName, map[string]any{"query": "severance", "sessionId": "x"})
	require.NoError(t, err)
	result := out.(PlayResult)
	assert.Equal(t, "Good News About Hell", result.SelectedTitle)
	assert.Equal(t, "Episode", result.SelectedType)
	assert.Equal(t, domain.ResolutionExplicit, result.Resolution)
	assert.Equal(t, []string{"ep1"}, catalog.played[0].itemIDs)
}

func TestPlayByNameFallsBackToFullListing(t *testing.T) {
	catalog := &fakeCatalog{fallback: []jellyfin.Item{
		{ID: "m1", Name: "Amélie", Type: "Movie"},
		{ID: "m2", Name: "Arrival", Type: "Movie"},
	}}
	runner := newTestRunner(t, catalog, &fakeResolver{selection: autoSelection("s1", "TV")}, nil)

	out, err := runner.Invoke(context.Background(), ToolPlayByName, map[string]any{"query": "amelie"})
	require.NoError(t, err)
	assert.Equal(t, "Amélie", out.(PlayResult).SelectedTitle)

	last := catalog.queries[len(catalog.queries)-1]
	assert.Equal(t, fallbackListingLimit, last.Limit)
}

func TestPlayByNameNoMatch(t *testing.T) {
	catalog := &fakeCatalog{fallback: []jellyfin.Item{{ID: "m2", Name: "Arrival", Type: "Movie"}}}
	resolver := &fakeResolver{selection: autoSelection("s1", "TV")}
	runner := newTestRunner(t, catalog, resolver, nil)

	_, err := runner.Invoke(context.Background(), ToolPlayByName, map[string]any{"query": "zzz"})
	requireToolError(t, err, domain.CodeNoMatch)
	assert.Empty(t, catalog.played)
	assert.Empty(t, resolver.opts)
}

func TestPlayByNameSearchFailureIsUpstreamError(t *testing.T) {
	catalog := &fakeCatalog{listErr: &jellyfin.APIError{Method: "GET", Path: "/Items", Status: 500, Message: "boom"}}
	runner := newTestRunner(t, catalog, &fakeResolver{}, nil)

	_, err := runner.Invoke(context.Background(), ToolPlayByName, map[string]any{"query": "alien"})
	tErr := requireToolError(t, err, domain.CodeUpstreamError)
	assert.Contains(t, tErr.Message, "boom")
}

func TestPlaybackControlMapsAction(t *testing.T) {
	catalog := &fakeCatalog{}
	resolver := &fakeResolver{selection: autoSelection("s1", "TV")}
	runner := newTestRunner(t, catalog, resolver, nil)

	out, err := runner.Invoke(context.Background(), ToolPlaybackControl, map[string]any{"action": "resume"})
	require.NoError(t, err)

	result := out.(PlaybackResult)
	assert.Equal(t, "resume", result.Action)
	assert.Equal(t, "Unpause", result.Command)
	assert.Equal(t, []playstateCall{{sessionID: "s1", command: "Unpause"}}, catalog.playstates)
	require.Len(t, resolver.opts, 1)
	assert.True(t, resolver.opts[0].RequireActivePlayer)
}

func TestSendCommandForwardsArguments(t *testing.T) {
	catalog := &fakeCatalog{}
	resolver := &fakeResolver{selection: autoSelection("s1", "TV")}
	runner := newTestRunner(t, catalog, resolver, nil)

	out, err := runner.Invoke(context.Background(), ToolSendCommand, map[string]any{
		"command":    "SetVolume",
		"arguments":  map[string]any{"Volume": "40"},
		"deviceHint": "tv",
	})
	require.NoError(t, err)

	result := out.(CommandResult)
	assert.True(t, result.OK)
	assert.Equal(t, "SetVolume", result.Command)
	assert.Equal(t, "s1", result.TargetSessionID())
	assert.Equal(t, []commandCall{{sessionID: "s1", command: "SetVolume", arguments: map[string]string{"Volume": "40"}}}, catalog.commands)
	require.Len(t, resolver.opts, 1)
	assert.Equal(t, "tv", resolver.opts[0].DeviceHint)
	assert.False(t, resolver.opts[0].RequireActivePlayer)

	_, err = runner.Invoke(context.Background(), ToolSendCommand, map[string]any{"command": "GoHome"})
	require.NoError(t, err)
	require.Len(t, catalog.commands, 2)
	assert.Equal(t, map[string]string{}, catalog.commands[1].arguments)
}

func TestSendCommandRejectsBadArguments(t *testing.T) {
	runner := newTestRunner(t, &fakeCatalog{}, &fakeResolver{selection: autoSelection("s1", "TV")}, nil)

	cases := map[string]map[string]any{
		"missing command":   {},
		"empty command":     {"command": ""},
		"non-string value":  {"command": "SetVolume", "arguments": map[string]any{"Volume": 40}},
		"unknown parameter": {"command": "GoHome", "volume": "40"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := runner.Invoke(context.Background(), ToolSendCommand, args)
			requireToolError(t, err, domain.CodeInvalidArguments)
		})
	}
}

func TestSessionErrorsBecomeToolErrors(t *testing.T) {
	choices := []domain.SessionChoice{{SessionID: "s1", Score: 40}, {SessionID: "s2", Score: 35}}
	cases := []struct {
		err  error
		code string
	}{
		{err: session.ErrNotFound, code: domain.CodeSessionNotFound},
		{err: session.ErrSelectionFailed, code: domain.CodeSessionSelectFailed},
		{err: session.ErrNoActivePlayer, code: domain.CodeNoActivePlayer},
		{err: &session.AmbiguousError{Choices: choices}, code: domain.CodeSessionAmbiguous},
		{err: errors.New("dial tcp: refused"), code: domain.CodeUpstreamError},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			runner := newTestRunner(t, &fakeCatalog{}, &fakeResolver{err: tc.err}, nil)
			_, err := runner.Invoke(context.Background(), ToolPlaybackControl, map[string]any{"action": "pause"})
			tErr := requireToolError(t, err, tc.code)
			if tc.code == domain.CodeSessionAmbiguous {
				assert.Equal(t, choices, tErr.Choices)
				assert.Equal(t, "Multiple likely sessions; explicit sessionId required.", tErr.Message)
			}
		})
	}
}

func TestCastByNameStreamsSelectedItem(t *testing.T) {
	ticks := int64(90 * 10_000_000)
	catalog := &fakeCatalog{itemsByTerm: map[string][]jellyfin.Item{
		"alien": {{ID: "i1", Name: "Alien", Type: "Movie", RunTimeTicks: &ticks}},
	}}
	cast := &fakeCast{}
	runner := newTestRunner(t, catalog, &fakeResolver{}, cast)

	out, err := runner.Invoke(context.Background(), ToolCastByName, map[string]any{"query": "alien", "targetDevice": "Kitchen"})
	require.NoError(t, err)
	assert.Equal(t, "cast_1", out.(*domain.CastResult).CastID)
	assert.Equal(t, "Kitchen", cast.castReq.TargetDevice)
	assert.Equal(t, "http://jf.local/Videos/i1/stream?static=true", cast.castReq.MediaURL)
	assert.Equal(t, "video/mp4", cast.castReq.ContentType)
	assert.InDelta(t, 90.0, cast.castReq.DurationSec, 0.001)
}

func TestCastToolsArguments(t *testing.T) {
	cast := &fakeCast{devices: []domain.Device{{ID: "dev_1", Name: "Kitchen", Protocol: "chromecast"}}}
	runner := newTestRunner(t, &fakeCatalog{}, &fakeResolver{}, cast)

	out, err := runner.Invoke(context.Background(), ToolListCastTargets, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(CastTargetsResult).Count)
	assert.Equal(t, defaultDiscoveryTimeoutMS, cast.timeoutMS)

	_, err = runner.Invoke(context.Background(), ToolListCastTargets, map[string]any{"timeoutMs": float64(10)})
	requireToolError(t, err, domain.CodeInvalidArguments)

	_, err = runner.Invoke(context.Background(), ToolStopCast, map[string]any{})
	requireToolError(t, err, domain.CodeInvalidArguments)

	_, err = runner.Invoke(context.Background(), ToolStopCast, map[string]any{"castId": "cast_1"})
	require.NoError(t, err)
	assert.Equal(t, "cast_1", cast.stopReq.CastID)
}

func TestCastErrorsPassThrough(t *testing.T) {
	catalog := &fakeCatalog{itemsByTerm: map[string][]jellyfin.Item{"alien": {{ID: "i1", Name: "Alien", Type: "Movie"}}}}
	cast := &fakeCast{castErr: &domain.ToolError{Code: domain.CodeDeviceNotFound, Message: "target device not found"}}
	runner := newTestRunner(t, catalog, &fakeResolver{}, cast)

	_, err := runner.Invoke(context.Background(), ToolCastByName, map[string]any{"query": "alien", "targetDevice": "Nowhere"})
	requireToolError(t, err, domain.CodeDeviceNotFound)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultLimit, clampLimit(nil))
	assert.Equal(t, 1, clampLimit(intPtr(-3)))
	assert.Equal(t, maxLimit, clampLimit(intPtr(500)))
	assert.Equal(t, 7, clampLimit(intPtr(7)))
}
