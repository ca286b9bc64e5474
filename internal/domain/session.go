package domain

// Candidate is one remote-controllable endpoint observed at ranking time.
type Candidate struct {
	ID         string
	DeviceName string
	DeviceID   string
	Client     string
	UserName   string

	// SupportsRemoteControl is nil when the endpoint did not report the flag;
	// only an explicit false counts as unsupported.
	SupportsRemoteControl *bool

	NowPlaying *NowPlaying

	// LastActivity is the raw RFC 3339 timestamp reported by the server.
	LastActivity string
}

type NowPlaying struct {
	Title    string
	IsPaused bool
}

const (
	ResolutionExplicit = "explicit"
	ResolutionAuto     = "auto"
)

// Selection is the outcome of a successful session resolution.
type Selection struct {
	SessionID  string `json:"sessionId"`
	Method     string `json:"resolution"`
	Score      *int   `json:"score,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
}

// SessionChoice is one ranked alternative returned when a selection is ambiguous.
type SessionChoice struct {
	SessionID  string `json:"sessionId"`
	DeviceName string `json:"deviceName,omitempty"`
	Client     string `json:"client,omitempty"`
	NowPlaying string `json:"nowPlaying,omitempty"`
	Score      int    `json:"score"`
}
