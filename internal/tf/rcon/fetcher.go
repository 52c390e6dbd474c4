package rcon

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/leighmacdonald/tf-warden/internal/tf"
	"github.com/leighmacdonald/tf-warden/internal/tf/console"
)

var ErrDumpQuery = errors.New("failed to perform dump query")

func NewFetcher(address string, password string) *Fetcher {
	return &Fetcher{
		address:  address,
		password: password,
		g15re:    regexp.MustCompile(`^(m_szName|m_iPing|m_iScore|m_iDeaths|m_bConnected|m_iTeam|m_bAlive|m_iHealth|m_iAccountID|m_bValid|m_iUserID)\[(\d+)]\s(integer|bool|string)\s\((.+?)?\)$`),
	}
}

// Fetcher polls the client with `status;g15_dumpplayer`. The g15 dump is the only
// place team, score and death counts are exposed, the status rows carry identity.
type Fetcher struct {
	address  string
	password string
	g15re    *regexp.Regexp
}

// Fetch executes the combined status and dump query. The non-g15 status lines
// are forwarded to the receiver so hostname/map/player rows flow through the same
// parsing path as console.log lines.
func (f *Fetcher) Fetch(ctx context.Context, receiver console.Receiver) (tf.DumpPlayer, error) {
	response, errExec := New(f.address, f.password).Exec(ctx, "status;g15_dumpplayer", true)
	if errExec != nil {
		return tf.DumpPlayer{}, errors.Join(errExec, ErrDumpQuery)
	}

	if receiver != nil {
		for line := range strings.Lines(response) {
			trimmed := strings.TrimRight(line, "\r\n")
			if trimmed == "" || f.g15re.MatchString(trimmed) {
				continue
			}

			receiver.Send(trimmed)
		}
	}

	return f.parsePlayerState(strings.NewReader(response)), nil
}

// parsePlayerState parses the output of the `g15_dumpplayer` command into a DumpPlayer.
// This functionality requires the `-g15` launch parameter for the game to be set.
func (f *Fetcher) parsePlayerState(reader io.Reader) tf.DumpPlayer {
	var (
		data    tf.DumpPlayer
		scanner = bufio.NewScanner(reader)
	)

	for scanner.Scan() {
		matches := f.g15re.FindStringSubmatch(strings.Trim(scanner.Text(), "\r"))
		if len(matches) == 0 {
			continue
		}

		index := parseInt(matches[2], -1)
		if index < 0 || index >= tf.MaxPlayerCount {
			continue
		}

		value := ""
		if len(matches) == 5 {
			value = matches[4]
		}

		switch matches[1] {
		case "m_szName":
			data.Names[index] = value
		case "m_iPing":
			data.Ping[index] = parseInt(value, 0)
		case "m_iScore":
			data.Score[index] = parseInt(value, 0)
		case "m_iDeaths":
			data.Deaths[index] = parseInt(value, 0)
		case "m_bConnected":
			data.Connected[index] = parseBool(value)
		case "m_iTeam":
			data.Team[index] = tf.Team(parseInt(value, 0))
		case "m_bAlive":
			data.Alive[index] = parseBool(value)
		case "m_iHealth":
			data.Health[index] = parseInt(value, 0)
		case "m_iAccountID":
			data.SteamID[index] = steamid.New(parseInt(value, 0))
		case "m_bValid":
			data.Valid[index] = parseBool(value)
		case "m_iUserID":
			data.UserID[index] = parseInt(value, -1)
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Error("Error scanning g15 response", slog.String("error", err.Error()))

		return data
	}

	return data
}

func parseInt(s string, def int) int {
	index, errIndex := strconv.ParseInt(s, 10, 32)
	if errIndex != nil {
		return def
	}

	return int(index)
}

func parseBool(s string) bool {
	val, errParse := strconv.ParseBool(s)
	if errParse != nil {
		return false
	}

	return val
}
