// Package tf holds shared types describing the game client session.
package tf

import (
	"github.com/leighmacdonald/steamid/v4/steamid"
)

const (
	// Max number of players supported by the game.
	MaxPlayerCount = 102
)

type Team int

const (
	UNASSIGNED Team = iota
	SPEC
	RED
	BLU
)

// PlayerState is the connection state the server reports for a slot.
type PlayerState string

const (
	StateActive   PlayerState = "active"
	StateSpawning PlayerState = "spawning"
)

// DumpPlayer holds the per-slot data returned from the `g15_dumpplayer` rcon command.
// Slots are filled sequentially by the game, the SteamID of an unused slot is invalid.
type DumpPlayer struct {
	Names     [MaxPlayerCount]string
	Ping      [MaxPlayerCount]int
	Score     [MaxPlayerCount]int
	Deaths    [MaxPlayerCount]int
	Connected [MaxPlayerCount]bool
	Team      [MaxPlayerCount]Team
	Alive     [MaxPlayerCount]bool
	Health    [MaxPlayerCount]int
	SteamID   [MaxPlayerCount]steamid.SteamID
	Valid     [MaxPlayerCount]bool
	UserID    [MaxPlayerCount]int
}
