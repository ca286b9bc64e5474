package domain

// Device is a LAN renderer that can receive a cast.
type Device struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Address     string `json:"address"`
	IsAudioOnly bool   `json:"is_audio_only"`
	Protocol    string `json:"protocol"`
}

type CastRequest struct {
	TargetDevice string
	Title        string
	MediaURL     string
	ContentType  string
	DurationSec  float64
}

type CastResult struct {
	OK         bool   `json:"ok"`
	CastID     string `json:"castId"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	Title      string `json:"title"`
}

type StopCastRequest struct {
	TargetDevice string
	CastID       string
}

type StopCastResult struct {
	OK       bool   `json:"ok"`
	CastID   string `json:"castId"`
	DeviceID string `json:"deviceId"`
}
