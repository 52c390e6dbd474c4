// Package steam fetches player reputation data from the Steam Web API.
package steam

import (
	"github.com/leighmacdonald/steamid/v4/steamid"
)

type Visibility int

const (
	VisibilityPrivate     Visibility = 1
	VisibilityFriendsOnly Visibility = 2
	VisibilityPublic      Visibility = 3
)

type Friend struct {
	SteamID     steamid.SteamID
	FriendSince int64
}

// Profile is the merged result of the summary, ban and friend list lookups for a
// single identity. A Profile only ever exists fully populated, a failed lookup
// never produces a partial one.
type Profile struct {
	SteamID          steamid.SteamID
	Name             string
	ProfileURL       string
	AvatarURL        string
	AvatarHash       string
	Visibility       Visibility
	TimeCreated      *int64
	CountryCode      *string
	VacBans          int
	GameBans         int
	DaysSinceLastBan *int64
	// Friends is empty both for a private friends list and a friendless account.
	Friends []Friend
}
