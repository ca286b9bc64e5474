package domain

// MediaItem is the compact catalog shape handed back to the orchestrator.
// Server-side ids are deliberately left out.
type MediaItem struct {
	Title          string   `json:"title"`
	Type           string   `json:"type"`
	Year           *int     `json:"year,omitempty"`
	Rating         *float64 `json:"rating,omitempty"`
	SeriesName     string   `json:"seriesName,omitempty"`
	Season         *int     `json:"season,omitempty"`
	Episode        *int     `json:"episode,omitempty"`
	RuntimeMinutes *int     `json:"runtimeMinutes,omitempty"`
}

type SessionSummary struct {
	SessionID    string `json:"sessionId"`
	UserName     string `json:"userName,omitempty"`
	DeviceName   string `json:"deviceName,omitempty"`
	DeviceID     string `json:"deviceId,omitempty"`
	Client       string `json:"client,omitempty"`
	NowPlaying   string `json:"nowPlaying,omitempty"`
	IsPaused     bool   `json:"isPaused"`
	LastActivity string `json:"lastActivity,omitempty"`
}
