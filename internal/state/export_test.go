package state_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/leighmacdonald/tf-warden/internal/state"
	"github.com/leighmacdonald/tf-warden/internal/steam"
	"github.com/leighmacdonald/tf-warden/internal/tf"
	"github.com/stretchr/testify/require"
)

var requiredPlayerKeys = []string{
	"isSelf", "name", "steamID64", "steamInfo", "gameInfo",
	"customData", "convicted", "localVerdict", "tags",
}

func TestExportPlayerAlwaysCarriesRequiredKeys(t *testing.T) {
	// A player known only by steam id, everything else semantically absent.
	record := state.ExportPlayer(state.Player{SteamID: steamid.New(76561198000000001)})

	body, errMarshal := json.Marshal(record)
	require.NoError(t, errMarshal)

	var keys map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &keys))
	require.Len(t, keys, len(requiredPlayerKeys))
	for _, key := range requiredPlayerKeys {
		require.Contains(t, keys, key)
	}

	require.Equal(t, "null", string(keys["steamInfo"]))
	require.Equal(t, "null", string(keys["gameInfo"]))
	require.Equal(t, "[]", string(keys["tags"]))
	require.Equal(t, "{}", string(keys["customData"]))
	require.Equal(t, `"Player"`, string(keys["localVerdict"]))
	require.Equal(t, "76561198000000001", string(keys["steamID64"]))
}

func TestExportGameInfoShape(t *testing.T) {
	player := state.Player{
		SteamID: steamid.New(76561198000000001),
		Name:    "scout",
		Game: &state.GameInfo{
			UserID: "5", Team: tf.RED, Ping: 40, Time: 10, State: tf.StateActive,
		},
	}

	body, errMarshal := json.Marshal(state.ExportPlayer(player))
	require.NoError(t, errMarshal)

	var decoded struct {
		GameInfo map[string]any `json:"gameInfo"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.InDelta(t, 2, decoded.GameInfo["team"], 0)
	require.Equal(t, "5", decoded.GameInfo["userid"])
	require.Equal(t, "active", decoded.GameInfo["state"])
}

func TestExportSteamInfoShape(t *testing.T) {
	created := int64(1262304000)
	days := int64(150)
	country := "AU"

	player := state.Player{
		SteamID: steamid.New(76561198000000001),
		Steam: &steam.Profile{
			SteamID:          steamid.New(76561198000000001),
			Name:             "sniper",
			ProfileURL:       "https://steamcommunity.com/id/sniper/",
			AvatarURL:        "https://avatars.steamstatic.com/abc_full.jpg",
			AvatarHash:       "abc",
			Visibility:       steam.VisibilityPublic,
			TimeCreated:      &created,
			CountryCode:      &country,
			VacBans:          1,
			DaysSinceLastBan: &days,
			Friends: []steam.Friend{
				{SteamID: steamid.New(76561198000000002), FriendSince: 1400000000},
			},
		},
	}

	body, errMarshal := json.Marshal(state.ExportPlayer(player))
	require.NoError(t, errMarshal)

	var decoded struct {
		SteamInfo map[string]json.RawMessage `json:"steamInfo"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))

	for _, key := range []string{
		"name", "profileUrl", "pfp", "pfpHash", "profileVisibility",
		"timeCreated", "countryCode", "vacBans", "gameBans", "daysSinceLastBan", "friends",
	} {
		require.Contains(t, decoded.SteamInfo, key)
	}

	require.Equal(t, "150", string(decoded.SteamInfo["daysSinceLastBan"]))
	require.Equal(t, `[{"steamID64":76561198000000002,"friendSince":1400000000}]`,
		string(decoded.SteamInfo["friends"]))
}

func TestExportSteamInfoNullables(t *testing.T) {
	// A clean private profile: no creation date, no country, never banned.
	player := state.Player{
		SteamID: steamid.New(76561198000000001),
		Steam: &steam.Profile{
			SteamID:    steamid.New(76561198000000001),
			Visibility: steam.VisibilityPrivate,
		},
	}

	body, errMarshal := json.Marshal(state.ExportPlayer(player))
	require.NoError(t, errMarshal)

	var decoded struct {
		SteamInfo map[string]json.RawMessage `json:"steamInfo"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, "null", string(decoded.SteamInfo["daysSinceLastBan"]))
	require.Equal(t, "null", string(decoded.SteamInfo["timeCreated"]))
	require.Equal(t, "null", string(decoded.SteamInfo["countryCode"]))
	require.Equal(t, "[]", string(decoded.SteamInfo["friends"]))
}

func TestExportGameStateCountsAndKeys(t *testing.T) {
	now := time.Now()
	snapshot := state.Snapshot{
		Server: state.Server{
			Map:        "pl_badwater",
			IP:         "169.254.1.1:27015",
			Hostname:   "Valve Matchmaking Server (Sydney)",
			MaxPlayers: 24,
			Gamemode:   state.Gamemode{Matchmaking: true, Type: "payload", Vanilla: true},
		},
		Players: []state.Player{
			{SteamID: steamid.New(76561198000000001), Game: &state.GameInfo{UserID: "1"}, SeenOn: now},
			{SteamID: steamid.New(76561198000000002), Game: &state.GameInfo{UserID: "2"}, SeenOn: now.Add(time.Second)},
			// Disconnected earlier in the session, still exported.
			{SteamID: steamid.New(76561198000000003), SeenOn: now.Add(-time.Minute)},
		},
	}

	exported := state.ExportGameState(snapshot)
	require.Equal(t, 2, exported.NumPlayers)
	require.Len(t, exported.Players, 3)
	// Most recently observed first.
	require.Equal(t, int64(76561198000000002), exported.Players[0].SteamID64)
	require.Equal(t, int64(76561198000000003), exported.Players[2].SteamID64)
	require.Nil(t, exported.Players[2].GameInfoJSON)

	body, errMarshal := json.Marshal(exported)
	require.NoError(t, errMarshal)

	var keys map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &keys))
	for _, key := range []string{"players", "map", "ip", "hostname", "maxPlayers", "numPlayers", "gamemode"} {
		require.Contains(t, keys, key)
	}
	require.Equal(t, `{"matchmaking":true,"type":"payload","vanilla":true}`, string(keys["gamemode"]))
}
