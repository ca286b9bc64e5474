package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/google/uuid"

	"github.com/alexballas/mcp-jellyfin/internal/domain"
)

const protocolVersion = "2024-11-05"

// ToolRunner is the capability registry plus the operations behind it.
type ToolRunner interface {
	Definitions() []domain.ToolDefinition
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
}

// sessionTagged results report the playback session they acted on, for logs.
type sessionTagged interface {
	TargetSessionID() string
}

type envelope struct {
	id     json.RawMessage
	hasID  bool
	method string
	params []byte
}

// handle maps one decoded body to its response. A nil response means nothing
// is written back.
func (s *Server) handle(ctx context.Context, body json.RawMessage) *response {
	startedAt := time.Now()
	requestID := uuid.NewString()

	if len(body) == 0 || body[0] != '{' {
		s.diagnostic("unsupported message shape; expected a JSON object")
		return nil
	}

	env, err := peekEnvelope(body)
	if err != nil {
		if !env.hasID {
			s.logCall(requestID, "", "", startedAt, "-32600")
			return nil
		}
		s.logCall(requestID, env.method, "", startedAt, "-32600")
		return errorResponse(env.id, codeInvalidRequest, "Invalid request")
	}

	if !env.hasID {
		s.logLifecycle(slog.LevelDebug, "mcp_notification", slog.String("method", env.method))
		return nil
	}

	switch env.method {
	case methodInitialize:
		s.logCall(requestID, env.method, "", startedAt, "")
		return resultResponse(env.id, initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: map[string]any{
				"tools": map[string]any{
					"listChanged": false,
				},
			},
			ServerInfo: map[string]string{
				"name":    s.serverName,
				"version": s.serverVersion,
			},
			Instructions: "Use tools/list to inspect available Jellyfin tools.",
		})
	case methodToolsList:
		s.logCall(requestID, env.method, "", startedAt, "")
		return resultResponse(env.id, toolsListResult{Tools: s.definitions()})
	case methodToolsCall:
		return s.handleToolCall(ctx, requestID, env)
	case methodPing:
		s.logCall(requestID, env.method, "", startedAt, "")
		return resultResponse(env.id, emptyResult{})
	default:
		s.logCall(requestID, env.method, "", startedAt, "-32601")
		return errorResponse(env.id, codeMethodNotFound, fmt.Sprintf("Method not found: %s", env.method))
	}
}

func peekEnvelope(body []byte) (envelope, error) {
	var env envelope

	idValue, idType, _, err := jsonparser.Get(body, "id")
	if err == nil {
		switch idType {
		case jsonparser.Null:
		case jsonparser.String:
			env.id = quoteRaw(idValue)
			env.hasID = true
		default:
			env.id = json.RawMessage(append([]byte(nil), idValue...))
			env.hasID = true
		}
	}

	methodValue, methodType, _, err := jsonparser.Get(body, "method")
	if err != nil || methodType != jsonparser.String {
		return env, errors.New("method must be a string")
	}
	if env.method, err = jsonparser.ParseString(methodValue); err != nil {
		return env, err
	}

	if version, err := jsonparser.GetString(body, "jsonrpc"); err == nil && version != "2.0" {
		return env, fmt.Errorf("unsupported jsonrpc version %q", version)
	}
	if env.hasID && idType != jsonparser.String && idType != jsonparser.Number {
		return env, errors.New("id must be a string or a number")
	}

	if params, _, _, err := jsonparser.Get(body, "params"); err == nil {
		env.params = params
	}
	return env, nil
}

// quoteRaw re-wraps a still-escaped string value returned by jsonparser.
func quoteRaw(escaped []byte) json.RawMessage {
	out := make([]byte, 0, len(escaped)+2)
	out = append(out, '"')
	out = append(out, escaped...)
	return append(out, '"')
}

func (s *Server) handleToolCall(ctx context.Context, requestID string, env envelope) *response {
	startedAt := time.Now()

	params, err := decodeToolCallParams(env.params)
	if err != nil {
		s.logCall(requestID, methodToolsCall, "", startedAt, "-32602")
		return errorResponse(env.id, codeInvalidParams, fmt.Sprintf("Invalid params: %v", err))
	}

	result, err := s.tools.Invoke(ctx, params.Name, params.Arguments)
	if err != nil {
		s.logCall(requestID, params.Name, "", startedAt, toolErrorCode(err))
		return resultResponse(env.id, toolErrorResultFromError(err))
	}

	sessionID := ""
	if tagged, ok := result.(sessionTagged); ok {
		sessionID = tagged.TargetSessionID()
	}
	s.logCall(requestID, params.Name, sessionID, startedAt, "")

	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		s.logCall(requestID, params.Name, sessionID, startedAt, domain.CodeInternalError)
		return resultResponse(env.id, toolErrorResult(domain.CodeInternalError, fmt.Sprintf("encode result: %v", err)))
	}
	return resultResponse(env.id, toolCallResult{
		Content: []toolContent{
			{
				Type: "text",
				Text: string(text),
			},
		},
		StructuredContent: result,
	})
}

func decodeToolCallParams(raw []byte) (toolsCallParams, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return toolsCallParams{}, errors.New("missing tool name")
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return toolsCallParams{}, errors.New("params must be an object")
	}

	nameRaw, ok := payload["name"]
	if !ok {
		return toolsCallParams{}, errors.New("missing tool name")
	}
	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil {
		return toolsCallParams{}, errors.New("tool name must be a string")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return toolsCallParams{}, errors.New("missing tool name")
	}

	// Sibling keys such as sessionId or _meta are not arguments; a missing
	// arguments member means no arguments.
	args := map[string]any{}
	if rawArgs, ok := payload["arguments"]; ok {
		trimmed := bytes.TrimSpace(rawArgs)
		if !bytes.Equal(trimmed, []byte("null")) {
			if len(trimmed) == 0 || trimmed[0] != '{' {
				return toolsCallParams{}, errors.New("arguments must be an object")
			}
			if err := json.Unmarshal(trimmed, &args); err != nil {
				return toolsCallParams{}, err
			}
		}
	}

	return toolsCallParams{Name: name, Arguments: args}, nil
}

func resultResponse(id json.RawMessage, result any) *response {
	return &response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) *response {
	return &response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &responseError{
			Code:    code,
			Message: message,
		},
	}
}

func toolErrorResult(code, message string) toolCallResult {
	return toolErrorResultFrom(&domain.ToolError{Code: code, Message: message})
}

func toolErrorResultFrom(tErr *domain.ToolError) toolCallResult {
	summary := map[string]any{
		"error": tErr.Message,
		"code":  tErr.Code,
	}
	if len(tErr.Choices) > 0 {
		summary["choices"] = tErr.Choices
	}
	if len(tErr.SuggestedFixes) > 0 {
		summary["suggested_fixes"] = tErr.SuggestedFixes
	}
	text, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		text = []byte(tErr.Error())
	}
	return toolCallResult{
		Content: []toolContent{
			{
				Type: "text",
				Text: string(text),
			},
		},
		StructuredContent: map[string]any{
			"error": tErr,
		},
		IsError: true,
	}
}

func toolErrorResultFromError(err error) toolCallResult {
	var tErr *domain.ToolError
	if errors.As(err, &tErr) && tErr != nil {
		return toolErrorResultFrom(tErr)
	}
	return toolErrorResult(domain.CodeInternalError, err.Error())
}

func toolErrorCode(err error) string {
	var tErr *domain.ToolError
	if errors.As(err, &tErr) && tErr != nil && strings.TrimSpace(tErr.Code) != "" {
		return tErr.Code
	}
	return domain.CodeInternalError
}
