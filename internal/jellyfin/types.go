package jellyfin

// Wire shapes, limited to the fields this server reads.

type Item struct {
	ID                string   `json:"Id"`
	Name              string   `json:"Name"`
	Type              string   `json:"Type"`
	MediaType         string   `json:"MediaType,omitempty"`
	ProductionYear    *int     `json:"ProductionYear,omitempty"`
	CommunityRating   *float64 `json:"CommunityRating,omitempty"`
	SeriesName        string   `json:"SeriesName,omitempty"`
	SeriesID          string   `json:"SeriesId,omitempty"`
	SeasonName        string   `json:"SeasonName,omitempty"`
	SeasonID          string   `json:"SeasonId,omitempty"`
	ParentIndexNumber *int     `json:"ParentIndexNumber,omitempty"`
	IndexNumber       *int     `json:"IndexNumber,omitempty"`
	RunTimeTicks      *int64   `json:"RunTimeTicks,omitempty"`
}

type ItemsResponse struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

type User struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

type PlayState struct {
	IsPaused bool `json:"IsPaused"`
}

type Session struct {
	ID                    string     `json:"Id"`
	UserName              string     `json:"UserName,omitempty"`
	DeviceName            string     `json:"DeviceName,omitempty"`
	DeviceID              string     `json:"DeviceId,omitempty"`
	Client                string     `json:"Client,omitempty"`
	SupportsRemoteControl *bool      `json:"SupportsRemoteControl,omitempty"`
	NowPlayingItem        *Item      `json:"NowPlayingItem,omitempty"`
	PlayState             *PlayState `json:"PlayState,omitempty"`
	LastActivityDate      string     `json:"LastActivityDate,omitempty"`
}

type SystemInfo struct {
	ID         string `json:"Id"`
	ServerName string `json:"ServerName"`
	Version    string `json:"Version"`
}

// ContextFields are requested with every listing so compact items can carry
// series, season and runtime context.
var ContextFields = []string{
	"SeriesName",
	"SeriesId",
	"SeasonName",
	"SeasonId",
	"ParentIndexNumber",
	"IndexNumber",
	"RunTimeTicks",
	"CommunityRating",
	"ProductionYear",
}

// ItemsQuery drives GET /Items.
type ItemsQuery struct {
	UserID           string
	SearchTerm       string
	IncludeItemTypes []string
	ParentID         string
	Limit            int
	StartIndex       int
	SortBy           string
	SortOrder        string
	Recursive        bool
}

type UserCurrentSource string

const (
	UserSourceMe     UserCurrentSource = "me"
	UserSourceSingle UserCurrentSource = "users_single"
)
