package jellyfin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/alexballas/mcp-jellyfin/internal/domain"
)

var (
	ErrNoUsers        = errors.New("unable to resolve Jellyfin user: /Users returned no users")
	ErrUserAmbiguous  = errors.New("unable to resolve Jellyfin user from API key alone; set JELLYFIN_USER_ID or pass userId explicitly")
	errMissingSession = errors.New("session id is required")
)

func (c *Client) GetMe(ctx context.Context) (User, error) {
	var user User
	err := c.do(ctx, http.MethodGet, "/Users/Me", nil, nil, &user)
	return user, err
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := c.do(ctx, http.MethodGet, "/Users", nil, nil, &users)
	return users, err
}

// CurrentUser returns the user bound to the API key. Server-wide keys get a
// 400 from /Users/Me, in which case a lone entry in /Users is accepted.
func (c *Client) CurrentUser(ctx context.Context) (User, UserCurrentSource, error) {
	me, err := c.GetMe(ctx)
	if err == nil {
		return me, UserSourceMe, nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		return User{}, "", err
	}

	users, err := c.ListUsers(ctx)
	if err != nil {
		return User{}, "", err
	}
	switch len(users) {
	case 0:
		return User{}, "", ErrNoUsers
	case 1:
		return users[0], UserSourceSingle, nil
	default:
		return User{}, "", ErrUserAmbiguous
	}
}

// ResolveUserID prefers explicit, then the configured user, then the current user.
func (c *Client) ResolveUserID(ctx context.Context, explicit string) (string, error) {
	if id := strings.TrimSpace(explicit); id != "" {
		return id, nil
	}
	if c.userID != "" {
		return c.userID, nil
	}
	user, _, err := c.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func (c *Client) ListItems(ctx context.Context, q ItemsQuery) (ItemsResponse, error) {
	params := query{}.
		set("UserId", q.UserID).
		set("SearchTerm", q.SearchTerm).
		setList("IncludeItemTypes", q.IncludeItemTypes).
		set("ParentId", q.ParentID).
		setInt("Limit", q.Limit).
		setInt("StartIndex", q.StartIndex).
		set("SortBy", q.SortBy).
		set("SortOrder", q.SortOrder).
		setBool("Recursive", q.Recursive).
		setList("Fields", ContextFields)

	var out ItemsResponse
	err := c.do(ctx, http.MethodGet, "/Items", params.values(), nil, &out)
	return out, err
}

func (c *Client) Suggestions(ctx context.Context, userID, mediaType string, limit int) (ItemsResponse, error) {
	params := query{}.
		set("UserId", userID).
		set("MediaType", mediaType).
		setInt("Limit", limit)

	var out ItemsResponse
	err := c.do(ctx, http.MethodGet, "/Items/Suggestions", params.values(), nil, &out)
	return out, err
}

func (c *Client) NextUp(ctx context.Context, userID, seriesID string, limit int) (ItemsResponse, error) {
	params := query{}.
		set("UserId", userID).
		set("SeriesId", seriesID).
		setInt("Limit", limit).
		setList("Fields", ContextFields)

	var out ItemsResponse
	err := c.do(ctx, http.MethodGet, "/Shows/NextUp", params.values(), nil, &out)
	return out, err
}

func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	err := c.do(ctx, http.MethodGet, "/Sessions", nil, nil, &sessions)
	return sessions, err
}

// SendPlay asks a session to play itemIDs. playCommand defaults to PlayNow.
func (c *Client) SendPlay(ctx context.Context, sessionID string, itemIDs []string, playCommand string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errMissingSession
	}
	if playCommand == "" {
		playCommand = "PlayNow"
	}
	params := query{}.
		setList("itemIds", itemIDs).
		set("playCommand", playCommand)
	return c.do(ctx, http.MethodPost, "/Sessions/"+url.PathEscape(sessionID)+"/Playing", params.values(), nil, nil)
}

func (c *Client) SendPlaystate(ctx context.Context, sessionID, command string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errMissingSession
	}
	path := fmt.Sprintf("/Sessions/%s/Playing/%s", url.PathEscape(sessionID), url.PathEscape(command))
	return c.do(ctx, http.MethodPost, path, nil, nil, nil)
}

// SendCommand posts a general command such as DisplayMessage or SetVolume.
func (c *Client) SendCommand(ctx context.Context, sessionID, command string, arguments map[string]string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errMissingSession
	}
	if arguments == nil {
		arguments = map[string]string{}
	}
	path := fmt.Sprintf("/Sessions/%s/Command/%s", url.PathEscape(sessionID), url.PathEscape(command))
	return c.do(ctx, http.MethodPost, path, nil, arguments, nil)
}

// PublicSystemInfo needs no user binding, which makes it a cheap reachability probe.
func (c *Client) PublicSystemInfo(ctx context.Context) (SystemInfo, error) {
	var info SystemInfo
	err := c.do(ctx, http.MethodGet, "/System/Info/Public", nil, nil, &info)
	return info, err
}

// StreamURL is a direct static stream of the item, authorized by query so
// receivers that cannot set headers can fetch it.
func (c *Client) StreamURL(itemID, mediaType string) string {
	kind := "Videos"
	if strings.EqualFold(mediaType, "Audio") {
		kind = "Audio"
	}
	params := url.Values{}
	params.Set("static", "true")
	params.Set("api_key", c.apiKey)
	return fmt.Sprintf("%s/%s/%s/stream?%s", c.baseURL, kind, url.PathEscape(itemID), params.Encode())
}

// ListCandidates reports the current sessions in ranking form.
func (c *Client) ListCandidates(ctx context.Context) ([]domain.Candidate, error) {
	sessions, err := c.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Candidate, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, CandidateFromSession(s))
	}
	return out, nil
}

func CandidateFromSession(s Session) domain.Candidate {
	candidate := domain.Candidate{
		ID:                    s.ID,
		DeviceName:            s.DeviceName,
		DeviceID:              s.DeviceID,
		Client:                s.Client,
		UserName:              s.UserName,
		SupportsRemoteControl: s.SupportsRemoteControl,
		LastActivity:          s.LastActivityDate,
	}
	if s.NowPlayingItem != nil {
		candidate.NowPlaying = &domain.NowPlaying{
			Title:    s.NowPlayingItem.Name,
			IsPaused: s.PlayState != nil && s.PlayState.IsPaused,
		}
	}
	return candidate
}
