package state

import (
	"slices"

	"github.com/leighmacdonald/tf-warden/internal/steam"
	"github.com/leighmacdonald/tf-warden/internal/store"
	"github.com/leighmacdonald/tf-warden/internal/tf"
)

// Snapshot is a deep copy of the roster and session at one instant.
type Snapshot struct {
	Server  Server
	Players []Player
}

// GameState is the wire shape consumed by external UI/API collaborators. Its
// field set is a compatibility contract, keys are never omitted.
type GameState struct {
	Players    []PlayerRecord `json:"players"`
	Map        string         `json:"map"`
	IP         string         `json:"ip"`
	Hostname   string         `json:"hostname"`
	MaxPlayers int            `json:"maxPlayers"`
	NumPlayers int            `json:"numPlayers"`
	Gamemode   GamemodeInfo   `json:"gamemode"`
}

type GamemodeInfo struct {
	Matchmaking bool   `json:"matchmaking"`
	Type        string `json:"type"`
	Vanilla     bool   `json:"vanilla"`
}

// PlayerRecord is the exported view of one identity. All nine keys are always
// present; steamInfo and gameInfo are null when that facet is absent rather than
// being dropped from the object.
type PlayerRecord struct {
	IsSelf       bool           `json:"isSelf"`
	Name         string         `json:"name"`
	SteamID64    int64          `json:"steamID64"`
	SteamInfo    *SteamInfo     `json:"steamInfo"`
	GameInfoJSON *GameInfoJSON  `json:"gameInfo"`
	CustomData   map[string]any `json:"customData"`
	Convicted    bool           `json:"convicted"`
	LocalVerdict store.Verdict  `json:"localVerdict"`
	Tags         []string       `json:"tags"`
}

type SteamInfo struct {
	Name              string           `json:"name"`
	ProfileURL        string           `json:"profileUrl"`
	Pfp               string           `json:"pfp"`
	PfpHash           string           `json:"pfpHash"`
	ProfileVisibility steam.Visibility `json:"profileVisibility"`
	TimeCreated       *int64           `json:"timeCreated"`
	CountryCode       *string          `json:"countryCode"`
	VacBans           int              `json:"vacBans"`
	GameBans          int              `json:"gameBans"`
	DaysSinceLastBan  *int64           `json:"daysSinceLastBan"`
	Friends           []FriendInfo     `json:"friends"`
}

type FriendInfo struct {
	SteamID64   int64 `json:"steamID64"`
	FriendSince int64 `json:"friendSince"`
}

type GameInfoJSON struct {
	UserID string         `json:"userid"`
	Team   tf.Team        `json:"team"`
	Ping   int            `json:"ping"`
	Kills  int            `json:"kills"`
	Deaths int            `json:"deaths"`
	Time   int            `json:"time"`
	State  tf.PlayerState `json:"state"`
	Loss   int            `json:"loss"`
}

// ExportGameState converts a snapshot into the wire shape. numPlayers is derived
// here rather than tracked, it can never disagree with the player list.
func ExportGameState(snapshot Snapshot) GameState {
	players := slices.Clone(snapshot.Players)
	slices.SortFunc(players, func(a, b Player) int {
		if !a.SeenOn.Equal(b.SeenOn) {
			if a.SeenOn.After(b.SeenOn) {
				return -1
			}

			return 1
		}

		// Stable output for identities observed in the same batch.
		if a.SteamID.Int64() < b.SteamID.Int64() {
			return -1
		}

		return 1
	})

	exported := make([]PlayerRecord, 0, len(players))
	inGame := 0

	for _, player := range players {
		record := ExportPlayer(player)
		if record.GameInfoJSON != nil {
			inGame++
		}

		exported = append(exported, record)
	}

	return GameState{
		Players:    exported,
		Map:        snapshot.Server.Map,
		IP:         snapshot.Server.IP,
		Hostname:   snapshot.Server.Hostname,
		MaxPlayers: snapshot.Server.MaxPlayers,
		NumPlayers: inGame,
		Gamemode: GamemodeInfo{
			Matchmaking: snapshot.Server.Gamemode.Matchmaking,
			Type:        snapshot.Server.Gamemode.Type,
			Vanilla:     snapshot.Server.Gamemode.Vanilla,
		},
	}
}

// ExportPlayer converts one roster entry. Collections are coerced to empty, not
// null; only steamInfo and gameInfo are nullable.
func ExportPlayer(player Player) PlayerRecord {
	record := PlayerRecord{
		IsSelf:       player.IsSelf,
		Name:         player.Name,
		SteamID64:    player.SteamID.Int64(),
		CustomData:   player.CustomData,
		Convicted:    player.Convicted,
		LocalVerdict: player.Verdict,
		Tags:         player.Tags,
	}

	if record.CustomData == nil {
		record.CustomData = map[string]any{}
	}
	if record.Tags == nil {
		record.Tags = []string{}
	}
	if !record.LocalVerdict.Valid() {
		record.LocalVerdict = store.VerdictPlayer
	}

	if player.Game != nil {
		record.GameInfoJSON = &GameInfoJSON{
			UserID: player.Game.UserID,
			Team:   player.Game.Team,
			Ping:   player.Game.Ping,
			Kills:  player.Game.Kills,
			Deaths: player.Game.Deaths,
			Time:   player.Game.Time,
			State:  player.Game.State,
			Loss:   player.Game.Loss,
		}
	}

	if player.Steam != nil {
		friends := make([]FriendInfo, 0, len(player.Steam.Friends))
		for _, friend := range player.Steam.Friends {
			friends = append(friends, FriendInfo{
				SteamID64:   friend.SteamID.Int64(),
				FriendSince: friend.FriendSince,
			})
		}

		record.SteamInfo = &SteamInfo{
			Name:              player.Steam.Name,
			ProfileURL:        player.Steam.ProfileURL,
			Pfp:               player.Steam.AvatarURL,
			PfpHash:           player.Steam.AvatarHash,
			ProfileVisibility: player.Steam.Visibility,
			TimeCreated:       player.Steam.TimeCreated,
			CountryCode:       player.Steam.CountryCode,
			VacBans:           player.Steam.VacBans,
			GameBans:          player.Steam.GameBans,
			DaysSinceLastBan:  player.Steam.DaysSinceLastBan,
			Friends:           friends,
		}
	}

	return record
}
