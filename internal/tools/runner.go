// Package tools holds the capability registry and the handlers behind each
// tool name.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/xeipuuv/gojsonschema"

	"github.com/alexballas/mcp-jellyfin/internal/domain"
	"github.com/alexballas/mcp-jellyfin/internal/jellyfin"
	"github.com/alexballas/mcp-jellyfin/internal/session"
)

// Catalog is the slice of the Jellyfin client the tools use.
type Catalog interface {
	ResolveUserID(ctx context.Context, explicit string) (string, error)
	ListItems(ctx context.Context, q jellyfin.ItemsQuery) (jellyfin.ItemsResponse, error)
	Suggestions(ctx context.Context, userID, mediaType string, limit int) (jellyfin.ItemsResponse, error)
	NextUp(ctx context.Context, userID, seriesID string, limit int) (jellyfin.ItemsResponse, error)
	ListSessions(ctx context.Context) ([]jellyfin.Session, error)
	SendPlay(ctx context.Context, sessionID string, itemIDs []string, playCommand string) error
	SendPlaystate(ctx context.Context, sessionID, command string) error
	SendCommand(ctx context.Context, sessionID, command string, arguments map[string]string) error
	StreamURL(itemID, mediaType string) string
}

type SessionResolver interface {
	ResolveSession(ctx context.Context, opts session.Options) (domain.Selection, error)
}

type CastController interface {
	ListCastTargets(ctx context.Context, timeoutMS int) ([]domain.Device, error)
	Cast(ctx context.Context, req domain.CastRequest) (*domain.CastResult, error)
	StopCast(ctx context.Context, req domain.StopCastRequest) (*domain.StopCastResult, error)
}

type Config struct {
	Catalog  Catalog
	Sessions SessionResolver
	// Cast is optional; the cast tools are only registered when it is set.
	Cast   CastController
	Logger *slog.Logger
}

type handlerFunc func(ctx context.Context, args map[string]any) (any, error)

type Runner struct {
	defs     []domain.ToolDefinition
	handlers map[string]handlerFunc
	schemas  map[string]*gojsonschema.Schema
	logger   *slog.Logger
}

// NewRunner builds the registry and checks it against the handler table:
// every definition needs a handler, every handler a definition, and every
// input schema has to compile.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("tools: catalog is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("tools: session resolver is required")
	}

	h := &handlers{
		catalog:  cfg.Catalog,
		sessions: cfg.Sessions,
		cast:     cfg.Cast,
	}

	defs := playbackDefinitions()
	table := map[string]handlerFunc{
		ToolBrowse:          h.browse,
		ToolRecommendations: h.recommendations,
		ToolNextUp:          h.nextUp,
		ToolListSessions:    h.listSessions,
		ToolPlayByName:      h.playByName,
		ToolPlaybackControl: h.playbackControl,
		ToolSendCommand:     h.sendCommand,
	}
	if cfg.Cast != nil {
		defs = append(defs, castDefinitions()...)
		table[ToolListCastTargets] = h.listCastTargets
		table[ToolCastByName] = h.castByName
		table[ToolStopCast] = h.stopCast
	}

	schemas, err := validateRegistry(defs, table)
	if err != nil {
		return nil, err
	}

	return &Runner{
		defs:     defs,
		handlers: table,
		schemas:  schemas,
		logger:   cfg.Logger,
	}, nil
}

func validateRegistry(defs []domain.ToolDefinition, table map[string]handlerFunc) (map[string]*gojsonschema.Schema, error) {
	schemas := make(map[string]*gojsonschema.Schema, len(defs))
	for _, def := range defs {
		if _, dup := schemas[def.Name]; dup {
			return nil, fmt.Errorf("tools: duplicate definition %q", def.Name)
		}
		if _, ok := table[def.Name]; !ok {
			return nil, fmt.Errorf("tools: definition %q has no handler", def.Name)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("tools: compile schema for %q: %w", def.Name, err)
		}
		schemas[def.Name] = schema
	}

	var orphans []string
	for name := range table {
		if _, ok := schemas[name]; !ok {
			orphans = append(orphans, name)
		}
	}
	if len(orphans) > 0 {
		sort.Strings(orphans)
		return nil, fmt.Errorf("tools: handlers without definition: %s", strings.Join(orphans, ", "))
	}
	return schemas, nil
}

// Definitions returns the registry in declaration order.
func (r *Runner) Definitions() []domain.ToolDefinition {
	out := make([]domain.ToolDefinition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Invoke validates args against the tool's schema and runs its handler.
// Every failure comes back as a *domain.ToolError.
func (r *Runner) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	handler, ok := r.handlers[name]
	if !ok {
		return nil, &domain.ToolError{
			Code:    domain.CodeToolNotFound,
			Message: fmt.Sprintf("Unknown tool: %s", name),
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	if err := r.validate(name, args); err != nil {
		return nil, err
	}

	result, err := handler(ctx, args)
	if err != nil {
		tErr := toToolError(err)
		if r.logger != nil && tErr.Code == domain.CodeUpstreamError {
			r.logger.Warn("tool_upstream_error", slog.String("tool", name), slog.String("error", err.Error()))
		}
		return nil, tErr
	}
	return result, nil
}

func (r *Runner) validate(name string, args map[string]any) error {
	result, err := r.schemas[name].Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &domain.ToolError{Code: domain.CodeInvalidArguments, Message: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return &domain.ToolError{
		Code:    domain.CodeInvalidArguments,
		Message: "Invalid arguments: " + strings.Join(problems, "; "),
	}
}

// decodeArgs copies validated arguments into a typed struct.
func decodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "json",
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(args); err != nil {
		return &domain.ToolError{Code: domain.CodeInvalidArguments, Message: err.Error()}
	}
	return nil
}

// toToolError maps handler failures onto the tool error codes.
func toToolError(err error) *domain.ToolError {
	var tErr *domain.ToolError
	if errors.As(err, &tErr) && tErr != nil {
		return tErr
	}

	var ambiguous *session.AmbiguousError
	switch {
	case errors.As(err, &ambiguous):
		return &domain.ToolError{
			Code:           domain.CodeSessionAmbiguous,
			Message:        "Multiple likely sessions; explicit sessionId required.",
			Choices:        ambiguous.Choices,
			SuggestedFixes: []string{"Retry with sessionId set to one of the listed choices."},
		}
	case errors.Is(err, session.ErrNotFound):
		return &domain.ToolError{Code: domain.CodeSessionNotFound, Message: "No active Jellyfin sessions found."}
	case errors.Is(err, session.ErrSelectionFailed):
		return &domain.ToolError{Code: domain.CodeSessionSelectFailed, Message: "Failed to select a Jellyfin session."}
	case errors.Is(err, session.ErrNoActivePlayer):
		return &domain.ToolError{
			Code:           domain.CodeNoActivePlayer,
			Message:        "No active Jellyfin player session found.",
			SuggestedFixes: []string{"Start playback on a Jellyfin client first, or pass sessionId."},
		}
	}
	return &domain.ToolError{Code: domain.CodeUpstreamError, Message: err.Error()}
}
