package state

import (
	"maps"
	"slices"
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/leighmacdonald/tf-warden/internal/steam"
	"github.com/leighmacdonald/tf-warden/internal/store"
	"github.com/leighmacdonald/tf-warden/internal/tf"
)

// GameInfo holds the session-scoped facts about a player. It exists only while
// the player is part of the active session and is dropped, not zeroed, when they
// leave. UserID is the server's slot identifier and is reused across sessions for
// different identities, SteamID is the only stable key.
type GameInfo struct {
	UserID string
	Team   tf.Team
	Ping   int
	Kills  int
	Deaths int
	Time   int
	State  tf.PlayerState
	Loss   int
}

// Player is the unified view of a single identity, merged from three
// independently failing sources. Telemetry owns Name/IsSelf/Game, the steam api
// owns Steam, the local judgement store owns Verdict/Convicted/Tags/CustomData.
// The sources are field-disjoint so merges never conflict.
type Player struct {
	SteamID steamid.SteamID
	Name    string
	IsSelf  bool
	// Game is nil while the identity is not part of the active session.
	Game *GameInfo
	// Steam is nil until a profile fetch has succeeded. Never populated partially.
	Steam      *steam.Profile
	CustomData map[string]any
	Verdict    store.Verdict
	Convicted  bool
	Tags       []string
	// SeenOn is the last time telemetry mentioned this identity.
	SeenOn time.Time
}

func newPlayer(sid steamid.SteamID) *Player {
	return &Player{
		SteamID:    sid,
		CustomData: map[string]any{},
		Verdict:    store.VerdictPlayer,
		Tags:       []string{},
	}
}

// clone returns a deep copy safe to hand out of the roster lock.
func (p *Player) clone() Player {
	cloned := *p

	if p.Game != nil {
		game := *p.Game
		cloned.Game = &game
	}

	if p.Steam != nil {
		profile := *p.Steam
		profile.Friends = slices.Clone(p.Steam.Friends)
		cloned.Steam = &profile
	}

	cloned.CustomData = maps.Clone(p.CustomData)
	cloned.Tags = slices.Clone(p.Tags)

	return cloned
}

// applyRecord merges the persisted judgement fields into the player.
func (p *Player) applyRecord(record store.Record) {
	p.Verdict = record.Verdict
	p.Convicted = record.Convicted
	p.Tags = slices.Clone(record.Tags)
	p.CustomData = maps.Clone(record.CustomData)
	if p.CustomData == nil {
		p.CustomData = map[string]any{}
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
}

// record extracts the persistable judgement fields of the player.
func (p *Player) record() store.Record {
	record := store.NewRecord(p.SteamID)
	record.Verdict = p.Verdict
	record.Convicted = p.Convicted
	record.Tags = slices.Clone(p.Tags)
	record.CustomData = maps.Clone(p.CustomData)

	return record
}
