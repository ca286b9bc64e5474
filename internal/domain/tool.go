package domain

// ToolDefinition is one entry of the capability registry.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolError is the only failure shape surfaced from a tool invocation.
type ToolError struct {
	Code           string          `json:"code"`
	Message        string          `json:"message"`
	Choices        []SessionChoice `json:"choices,omitempty"`
	SuggestedFixes []string        `json:"suggested_fixes,omitempty"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

const (
	CodeInvalidArguments    = "INVALID_ARGUMENTS"
	CodeToolNotFound        = "TOOL_NOT_FOUND"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeSessionAmbiguous    = "SESSION_AMBIGUOUS"
	CodeSessionSelectFailed = "SESSION_SELECT_FAILED"
	CodeNoActivePlayer      = "NO_ACTIVE_PLAYER"
	CodeNoMatch             = "NO_MATCH"
	CodeUpstreamError       = "UPSTREAM_ERROR"
	CodeDeviceNotFound      = "DEVICE_NOT_FOUND"
	CodeDeviceUnreachable   = "DEVICE_UNREACHABLE"
	CodeCastNotConfigured   = "CAST_NOT_CONFIGURED"
	CodeInternalError       = "INTERNAL_ERROR"
)
