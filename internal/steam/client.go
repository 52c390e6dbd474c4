package steam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/leighmacdonald/steamid/v4/steamid"
)

const DefaultBaseURL = "https://api.steampowered.com"

var (
	ErrNoAPIKey        = errors.New("no steam api key configured")
	ErrRateLimited     = errors.New("steam api request was rate limited")
	ErrFetchProfile    = errors.New("failed to fetch steam profile")
	ErrProfileMissing  = errors.New("no profile returned for steamid")
	ErrFriendsPrivate  = errors.New("friends list is private")
	ErrDecodeResponse  = errors.New("failed to decode steam api response")
	ErrRequestRejected = errors.New("steam api rejected the request")
)

// NewClient returns a steam web api client. The key function is consulted on every
// request so that a credential added or rotated at runtime takes effect without a
// restart. An empty key fails every call with ErrNoAPIKey.
func NewClient(httpClient *http.Client, baseURL string, key func() string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{httpClient: httpClient, baseURL: baseURL, key: key}
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	key        func() string
}

type playerSummary struct {
	SteamID                  string  `json:"steamid"`
	PersonaName              string  `json:"personaname"`
	ProfileURL               string  `json:"profileurl"`
	AvatarFull               string  `json:"avatarfull"`
	AvatarHash               string  `json:"avatarhash"`
	CommunityVisibilityState int     `json:"communityvisibilitystate"`
	TimeCreated              *int64  `json:"timecreated,omitempty"`
	LocCountryCode           *string `json:"loccountrycode,omitempty"`
}

type playerBans struct {
	SteamID          string `json:"SteamId"`
	NumberOfVACBans  int    `json:"NumberOfVACBans"`
	NumberOfGameBans int    `json:"NumberOfGameBans"`
	DaysSinceLastBan int64  `json:"DaysSinceLastBan"`
}

// Profiles performs the summary and ban lookups for a batch of identities and
// merges them. Identities missing from either response yield ErrProfileMissing
// for that identity only, the batch itself still succeeds.
func (c *Client) Profiles(ctx context.Context, steamIDs steamid.Collection) (map[steamid.SteamID]Profile, error) {
	if len(steamIDs) == 0 {
		return nil, nil
	}

	summaries, errSummaries := c.playerSummaries(ctx, steamIDs)
	if errSummaries != nil {
		return nil, errSummaries
	}

	bans, errBans := c.playerBans(ctx, steamIDs)
	if errBans != nil {
		return nil, errBans
	}

	profiles := make(map[steamid.SteamID]Profile, len(steamIDs))
	for _, sid := range steamIDs {
		summary, foundSummary := summaries[sid.String()]
		ban, foundBan := bans[sid.String()]
		if !foundSummary || !foundBan {
			continue
		}

		profile := Profile{
			SteamID:     sid,
			Name:        summary.PersonaName,
			ProfileURL:  summary.ProfileURL,
			AvatarURL:   summary.AvatarFull,
			AvatarHash:  summary.AvatarHash,
			Visibility:  visibility(summary.CommunityVisibilityState),
			TimeCreated: summary.TimeCreated,
			CountryCode: summary.LocCountryCode,
			VacBans:     ban.NumberOfVACBans,
			GameBans:    ban.NumberOfGameBans,
			Friends:     []Friend{},
		}

		if ban.NumberOfVACBans > 0 || ban.NumberOfGameBans > 0 {
			days := ban.DaysSinceLastBan
			profile.DaysSinceLastBan = &days
		}

		profiles[sid] = profile
	}

	return profiles, nil
}

// Friends fetches the friends list of a single identity. A private list is
// reported as ErrFriendsPrivate so the caller can record "unknown" rather than
// mistaking it for an empty list.
func (c *Client) Friends(ctx context.Context, sid steamid.SteamID) ([]Friend, error) {
	var response struct {
		FriendsList struct {
			Friends []struct {
				SteamID     string `json:"steamid"`
				FriendSince int64  `json:"friend_since"`
			} `json:"friends"`
		} `json:"friendslist"`
	}

	errGet := c.get(ctx, "/ISteamUser/GetFriendList/v0001/", url.Values{
		"steamid":      {sid.String()},
		"relationship": {"friend"},
	}, &response)
	if errGet != nil {
		if errors.Is(errGet, ErrRequestRejected) {
			return nil, ErrFriendsPrivate
		}

		return nil, errGet
	}

	friends := make([]Friend, 0, len(response.FriendsList.Friends))
	for _, friend := range response.FriendsList.Friends {
		friendID := steamid.New(friend.SteamID)
		if !friendID.Valid() {
			continue
		}

		friends = append(friends, Friend{SteamID: friendID, FriendSince: friend.FriendSince})
	}

	return friends, nil
}

func (c *Client) playerSummaries(ctx context.Context, steamIDs steamid.Collection) (map[string]playerSummary, error) {
	var response struct {
		Response struct {
			Players []playerSummary `json:"players"`
		} `json:"response"`
	}

	errGet := c.get(ctx, "/ISteamUser/GetPlayerSummaries/v0002/", url.Values{
		"steamids": {strings.Join(steamIDs.ToStringSlice(), ",")},
	}, &response)
	if errGet != nil {
		return nil, errGet
	}

	summaries := make(map[string]playerSummary, len(response.Response.Players))
	for _, summary := range response.Response.Players {
		summaries[summary.SteamID] = summary
	}

	return summaries, nil
}

func (c *Client) playerBans(ctx context.Context, steamIDs steamid.Collection) (map[string]playerBans, error) {
	var response struct {
		Players []playerBans `json:"players"`
	}

	errGet := c.get(ctx, "/ISteamUser/GetPlayerBans/v1/", url.Values{
		"steamids": {strings.Join(steamIDs.ToStringSlice(), ",")},
	}, &response)
	if errGet != nil {
		return nil, errGet
	}

	bans := make(map[string]playerBans, len(response.Players))
	for _, ban := range response.Players {
		bans[ban.SteamID] = ban
	}

	return bans, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, target any) error {
	key := c.key()
	if key == "" {
		return ErrNoAPIKey
	}

	query.Set("key", key)

	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if errReq != nil {
		return errors.Join(errReq, ErrFetchProfile)
	}

	resp, errResp := c.httpClient.Do(req)
	if errResp != nil {
		return errors.Join(errResp, ErrFetchProfile)
	}

	defer func(closer io.Closer) {
		if err := closer.Close(); err != nil {
			slog.Error("Failed to close response body", slog.String("error", err.Error()))
		}
	}(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrRequestRejected, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d", ErrFetchProfile, resp.StatusCode)
	}

	if errDecode := json.NewDecoder(resp.Body).Decode(target); errDecode != nil {
		return errors.Join(errDecode, ErrDecodeResponse)
	}

	return nil
}

func visibility(value int) Visibility {
	switch value {
	case 2:
		return VisibilityFriendsOnly
	case 3:
		return VisibilityPublic
	default:
		return VisibilityPrivate
	}
}
