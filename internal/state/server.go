package state

import (
	"strings"
	"time"
)

const historyLimit = 100

type Gamemode struct {
	Matchmaking bool
	Type        string
	Vanilla     bool
}

// ChatMessage is a single chat line observed during the session.
type ChatMessage struct {
	Player    string
	Message   string
	Dead      bool
	TeamOnly  bool
	CreatedOn time.Time
}

// KillFeedEntry is a single kill observed during the session.
type KillFeedEntry struct {
	Killer    string
	Victim    string
	Weapon    string
	Crit      bool
	CreatedOn time.Time
}

// Server holds the session-scoped facts about the currently connected server.
// All of it is discarded on a session reset.
type Server struct {
	Map        string
	IP         string
	Hostname   string
	Country    string
	MaxPlayers int
	Tags       []string
	Gamemode   Gamemode
	Chat       []ChatMessage
	Kills      []KillFeedEntry
}

func (s *Server) addChat(msg ChatMessage) {
	s.Chat = append(s.Chat, msg)
	if len(s.Chat) > historyLimit {
		s.Chat = s.Chat[len(s.Chat)-historyLimit:]
	}
}

func (s *Server) addKill(kill KillFeedEntry) {
	s.Kills = append(s.Kills, kill)
	if len(s.Kills) > historyLimit {
		s.Kills = s.Kills[len(s.Kills)-historyLimit:]
	}
}

// updateGamemode derives the gamemode from the hostname, sv_tags and map name.
// Valve matchmaking servers all share the same hostname prefix; community
// servers advertise their rule changes through sv_tags.
func (s *Server) updateGamemode() {
	s.Gamemode = Gamemode{
		Matchmaking: strings.HasPrefix(s.Hostname, "Valve Matchmaking Server"),
		Type:        gameType(s.Map),
		Vanilla:     len(s.Tags) == 0,
	}
}

var mapPrefixes = map[string]string{
	"pl_":      "payload",
	"plr_":     "payload race",
	"cp_":      "control points",
	"koth_":    "koth",
	"ctf_":     "ctf",
	"mvm_":     "mvm",
	"pd_":      "player destruction",
	"sd_":      "special delivery",
	"arena_":   "arena",
	"pass_":    "passtime",
	"tc_":      "territorial control",
	"vsh_":     "versus saxton hale",
	"zi_":      "zombie infection",
	"tr_":      "training",
	"itemtest": "itemtest",
}

func gameType(mapName string) string {
	for prefix, gamemode := range mapPrefixes {
		if strings.HasPrefix(mapName, prefix) {
			return gamemode
		}
	}

	return "unknown"
}
