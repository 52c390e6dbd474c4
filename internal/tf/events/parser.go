package events

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/leighmacdonald/tf-warden/internal/tf"
)

const (
	teamPrefix     = "(TEAM) "
	deadPrefix     = "*DEAD* "
	deadTeamPrefix = "*DEAD*(TEAM) "

	logTimestampFormat = "01/02/2006 - 15:04:05"

	// Console log lines carry a timestamp prefix. The same lines arriving inside
	// a rcon status response do not, so the prefix is optional everywhere.
	tsPrefix = `^(?:(?P<dt>[01]\d/[0123]\d/20\d{2}\s-\s\d{2}:\d{2}:\d{2}):\s)?`
)

var (
	ErrNoMatch        = errors.New("no match found")
	ErrParseTimestamp = errors.New("failed to parse timestamp")
	ErrDuration       = errors.New("failed to parse connected duration")
)

type EventType int

const (
	Any EventType = iota - 1
	Kill
	Msg
	Connect
	StatusID
	Hostname
	Map
	Tags
	Address
	PlayerCount
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Raw       string
	Data      any
}

type AnyEvent struct {
	Raw string
}

// ConnectEvent fires when the client starts connecting to a new server or receives
// a differing matchmaking lobby. Both mean the previous session is gone.
type ConnectEvent struct {
	Address string
}

// StatusIDEvent is a single `# userid "name" [U:1:x] ...` row of the status command.
type StatusIDEvent struct {
	UserID    int
	Player    string
	PlayerSID steamid.SteamID
	Connected int
	Ping      int
	Loss      int
	State     tf.PlayerState
}

type HostnameEvent struct {
	Hostname string
}

type MapEvent struct {
	MapName string
}

type TagsEvent struct {
	Tags []string
}

type AddressEvent struct {
	Address string
}

type PlayerCountEvent struct {
	Players int
	Bots    int
	Max     int
}

type MsgEvent struct {
	Player   string
	Dead     bool
	TeamOnly bool
	Message  string
}

type KillEvent struct {
	Player string
	Victim string
	Weapon string
	Crit   bool
}

type parser struct {
	rx []*regexp.Regexp
}

func newParser() *parser {
	return &parser{
		// The slice index must match the EventType const values.
		rx: []*regexp.Regexp{
			regexp.MustCompile(tsPrefix + `(?P<name>.+?)\skilled\s(?P<victim>.+?)\swith\s(?P<weapon>.+?)\.(?P<crit>\s\(crit\))?$`),
			regexp.MustCompile(tsPrefix + `(?P<name>.+?)\s:\s{2}(?P<message>.+?)$`),
			regexp.MustCompile(tsPrefix + `(?:Connecting to (?P<address>\S*)|Differing lobby received\.).*$`),
			regexp.MustCompile(tsPrefix + `#\s{1,6}(?P<id>\d{1,6})\s"(?P<name>.+?)"\s+(?P<sid>\[U:\d:\d{1,10}])\s+(?P<time>\d{1,3}:\d{2}(?::\d{2})?)\s+(?P<ping>\d{1,4})\s+(?P<loss>\d{1,3})\s(?P<state>spawning|active)`),
			regexp.MustCompile(tsPrefix + `hostname:\s(?P<hostname>.+?)$`),
			regexp.MustCompile(tsPrefix + `map\s{5}:\s(?P<map>.+?)\sat.+?$`),
			regexp.MustCompile(tsPrefix + `tags\s{4}:\s(?P<tags>.+?)$`),
			regexp.MustCompile(tsPrefix + `udp/ip\s{2}:\s(?P<addr>\S+?)(?:\s+\(public IP from Steam:\s(?P<public>.+?)\))?$`),
			regexp.MustCompile(tsPrefix + `players\s:\s(?P<humans>\d+)\shumans,\s(?P<bots>\d+)\sbots\s\((?P<max>\d+)\smax\)$`),
		},
	}
}

// parse attempts to match a single console line against all known event shapes.
// Lines matching a shape but failing field conversion return an error, the caller
// drops them. Lines matching nothing return ErrNoMatch.
func (p *parser) parse(msg string) (Event, error) {
	for parserIdx, rxMatcher := range p.rx {
		match := rxMatcher.FindStringSubmatch(msg)
		if match == nil {
			continue
		}

		event := Event{Raw: msg, Type: EventType(parserIdx)}
		if match[1] != "" {
			ts, errTS := parseTimestamp(match[1])
			if errTS != nil {
				return Event{}, errTS
			}
			event.Timestamp = ts
		}

		switch event.Type { //nolint:exhaustive
		case Kill:
			event.Data = KillEvent{
				Player: match[2],
				Victim: match[3],
				Weapon: match[4],
				Crit:   match[5] != "",
			}
		case Msg:
			event.Data = parseMsg(match)
		case Connect:
			event.Data = ConnectEvent{Address: match[2]}
		case StatusID:
			data, errStatus := parseStatusID(match)
			if errStatus != nil {
				return Event{}, errStatus
			}
			event.Data = data
		case Hostname:
			event.Data = HostnameEvent{Hostname: match[2]}
		case Map:
			event.Data = MapEvent{MapName: match[2]}
		case Tags:
			event.Data = TagsEvent{Tags: strings.Split(match[2], ",")}
		case Address:
			address := match[2]
			if match[3] != "" {
				address = match[3]
			}
			event.Data = AddressEvent{Address: address}
		case PlayerCount:
			event.Data = PlayerCountEvent{
				Players: atoiDefault(match[2], 0),
				Bots:    atoiDefault(match[3], 0),
				Max:     atoiDefault(match[4], 0),
			}
		}

		return event, nil
	}

	return Event{}, ErrNoMatch
}

func parseStatusID(match []string) (StatusIDEvent, error) {
	userID, errUserID := strconv.ParseInt(match[2], 10, 32)
	if errUserID != nil {
		return StatusIDEvent{}, errors.Join(errUserID, ErrNoMatch)
	}

	sid := steamid.New(match[4])
	if !sid.Valid() {
		return StatusIDEvent{}, ErrNoMatch
	}

	dur, errDur := parseConnected(match[5])
	if errDur != nil {
		return StatusIDEvent{}, errDur
	}

	state := tf.StateActive
	if match[8] == string(tf.StateSpawning) {
		state = tf.StateSpawning
	}

	return StatusIDEvent{
		UserID:    int(userID),
		Player:    match[3],
		PlayerSID: sid,
		Connected: int(dur.Seconds()),
		Ping:      atoiDefault(match[6], 0),
		Loss:      atoiDefault(match[7], 0),
		State:     state,
	}, nil
}

// parseTimestamp will convert the source formatted log timestamps into a time.Time value.
func parseTimestamp(timestamp string) (time.Time, error) {
	parsedTime, errParse := time.Parse(logTimestampFormat, timestamp)
	if errParse != nil {
		return time.Time{}, errors.Join(errParse, ErrParseTimestamp)
	}

	return parsedTime, nil
}

func parseConnected(d string) (time.Duration, error) {
	var (
		pcs      = strings.Split(d, ":")
		dur      time.Duration
		parseErr error
	)

	switch len(pcs) {
	case 3:
		dur, parseErr = time.ParseDuration(fmt.Sprintf("%sh%sm%ss", pcs[0], pcs[1], pcs[2]))
	case 2:
		dur, parseErr = time.ParseDuration(fmt.Sprintf("%sm%ss", pcs[0], pcs[1]))
	case 1:
		dur, parseErr = time.ParseDuration(fmt.Sprintf("%ss", pcs[0]))
	default:
		dur = 0
	}

	if parseErr != nil {
		return 0, errors.Join(parseErr, ErrDuration)
	}

	return dur, nil
}

func parseMsg(match []string) MsgEvent {
	name := match[2]
	dead := false
	team := false

	if after, ok := strings.CutPrefix(name, deadTeamPrefix); ok {
		name = after
		dead = true
		team = true
	} else if after, ok := strings.CutPrefix(name, teamPrefix); ok {
		name = after
		team = true
	} else if after, ok := strings.CutPrefix(name, deadPrefix); ok {
		name = after
		dead = true
	}

	return MsgEvent{
		Player:   name,
		Dead:     dead,
		TeamOnly: team,
		Message:  match[3],
	}
}

func atoiDefault(s string, def int) int {
	value, errValue := strconv.ParseInt(s, 10, 32)
	if errValue != nil {
		return def
	}

	return int(value)
}
