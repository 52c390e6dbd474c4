// Package state owns the authoritative in-memory roster for the current game
// session and merges telemetry, steam reputation and local judgements into it.
package state

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/leighmacdonald/tf-warden/internal/steam"
	"github.com/leighmacdonald/tf-warden/internal/store"
	"github.com/leighmacdonald/tf-warden/internal/tf"
	"github.com/leighmacdonald/tf-warden/internal/tf/console"
	"github.com/leighmacdonald/tf-warden/internal/tf/events"
)

const (
	// playerTimeout is the fallback for deciding a player left when the dump poll
	// cannot tell us, e.g. while rcon is down but the console log still flows.
	playerTimeout  = time.Second * 30
	expireInterval = time.Second
	// fetchRetryInterval throttles repeated profile lookups for identities whose
	// last fetch failed (rate limited, private, missing credential).
	fetchRetryInterval = time.Second * 30
	// rconFailureLimit is how many consecutive dump poll failures are treated as a
	// lost session rather than a hiccup.
	rconFailureLimit = 3
)

// ProfileFetcher is the reputation lookup boundary, satisfied by *steam.Fetcher.
type ProfileFetcher interface {
	Fetch(ctx context.Context, sid steamid.SteamID) (steam.Profile, error)
}

// DumpFetcher polls the live session state, satisfied by *rcon.Fetcher.
type DumpFetcher interface {
	Fetch(ctx context.Context, receiver console.Receiver) (tf.DumpPlayer, error)
}

// ConvictionPolicy decides whether an identity is automatically flagged. It is
// injected so the rule can evolve (or be stubbed) without touching merge logic.
type ConvictionPolicy func(player Player) bool

// DefaultConvictionPolicy convicts identities explicitly judged hostile.
func DefaultConvictionPolicy(player Player) bool {
	return player.Verdict == store.VerdictCheater || player.Verdict == store.VerdictBot
}

type profileResult struct {
	sid     steamid.SteamID
	profile steam.Profile
	err     error
}

// CountryResolver maps a server address to a country code, satisfied by
// *geoip.Resolver. Empty means unknown.
type CountryResolver interface {
	Country(address string) string
}

type Opts struct {
	SelfID     steamid.SteamID
	UpdateFreq time.Duration
	Policy     ConvictionPolicy
	Geo        CountryResolver
}

func NewManager(router *events.Router, records *store.Records, fetcher ProfileFetcher, dump DumpFetcher, opts Opts) *Manager {
	if opts.UpdateFreq <= 0 {
		opts.UpdateFreq = time.Second * 2
	}
	if opts.Policy == nil {
		opts.Policy = DefaultConvictionPolicy
	}

	incoming := make(chan events.Event, 64)
	for _, eventType := range []events.EventType{
		events.StatusID, events.Hostname, events.Map, events.Tags,
		events.Address, events.PlayerCount, events.Connect, events.Msg, events.Kill,
	} {
		router.ListenFor(eventType, incoming)
	}

	return &Manager{
		mu:             &sync.RWMutex{},
		players:        map[steamid.SteamID]*Player{},
		saved:          map[steamid.SteamID]store.Record{},
		fetchAttempts:  map[steamid.SteamID]time.Time{},
		router:         router,
		records:        records,
		fetcher:        fetcher,
		dump:           dump,
		opts:           opts,
		incoming:       incoming,
		profileResults: make(chan profileResult, 16),
	}
}

// Manager reconciles the three data sources into one roster. All writes funnel
// through its lock; profile fetches run outside it and deliver their results back
// over a channel into the event loop.
type Manager struct {
	mu      *sync.RWMutex
	players map[steamid.SteamID]*Player
	server  Server
	// saved holds the judgements loaded at startup, merged into players lazily as
	// identities appear.
	saved map[steamid.SteamID]store.Record
	// fetchAttempts tracks in-flight and recently failed profile lookups.
	fetchAttempts map[steamid.SteamID]time.Time

	router         *events.Router
	records        *store.Records
	fetcher        ProfileFetcher
	dump           DumpFetcher
	opts           Opts
	incoming       chan events.Event
	profileResults chan profileResult
	dumpInFlight   atomic.Bool
	rconFailures   int
}

// Start loads persisted judgements and runs the merge loop until the context is
// cancelled. A store that cannot be read at startup is fatal, everything after
// that is not.
func (m *Manager) Start(ctx context.Context) error {
	if errLoad := m.LoadRecords(ctx); errLoad != nil {
		return errLoad
	}

	dumpTicker := time.NewTicker(m.opts.UpdateFreq)
	defer dumpTicker.Stop()
	expireTicker := time.NewTicker(expireInterval)
	defer expireTicker.Stop()

	for {
		select {
		case event := <-m.incoming:
			m.onEvent(ctx, event)
		case result := <-m.profileResults:
			m.onProfileResult(result)
		case <-dumpTicker.C:
			if m.dumpInFlight.CompareAndSwap(false, true) {
				go m.updateDump(ctx)
			}
		case <-expireTicker.C:
			m.expireAbsent()
		case <-ctx.Done():
			return nil
		}
	}
}

// LoadRecords reads the persisted judgements. They merge into roster entries
// lazily as identities appear in telemetry.
func (m *Manager) LoadRecords(ctx context.Context) error {
	saved, errLoad := m.records.Load(ctx)
	if errLoad != nil {
		return errLoad
	}

	m.mu.Lock()
	m.saved = saved
	m.mu.Unlock()

	slog.Info("Loaded player records", slog.Int("count", len(saved)))

	return nil
}

func (m *Manager) onEvent(ctx context.Context, event events.Event) {
	switch data := event.Data.(type) {
	case events.StatusIDEvent:
		m.onStatus(ctx, data)
	case events.HostnameEvent:
		m.mu.Lock()
		m.server.Hostname = data.Hostname
		m.server.updateGamemode()
		m.mu.Unlock()
	case events.MapEvent:
		m.mu.Lock()
		m.server.Map = data.MapName
		m.server.updateGamemode()
		m.mu.Unlock()
	case events.TagsEvent:
		m.mu.Lock()
		m.server.Tags = data.Tags
		m.server.updateGamemode()
		m.mu.Unlock()
	case events.AddressEvent:
		country := ""
		if m.opts.Geo != nil {
			country = m.opts.Geo.Country(data.Address)
		}

		m.mu.Lock()
		m.server.IP = data.Address
		m.server.Country = country
		m.mu.Unlock()
	case events.PlayerCountEvent:
		m.mu.Lock()
		m.server.MaxPlayers = data.Max
		m.mu.Unlock()
	case events.ConnectEvent:
		slog.Info("New connection detected, resetting session", slog.String("address", data.Address))
		m.Reset()
	case events.MsgEvent:
		m.mu.Lock()
		m.server.addChat(ChatMessage{
			Player: data.Player, Message: data.Message,
			Dead: data.Dead, TeamOnly: data.TeamOnly, CreatedOn: time.Now(),
		})
		m.mu.Unlock()
	case events.KillEvent:
		m.mu.Lock()
		m.server.addKill(KillFeedEntry{
			Killer: data.Player, Victim: data.Victim,
			Weapon: data.Weapon, Crit: data.Crit, CreatedOn: time.Now(),
		})
		m.mu.Unlock()
	}
}

// onStatus merges a status row. Status rows carry identity and connection fields
// but know nothing about teams or scores, those stay whatever the g15 dump last
// said.
func (m *Manager) onStatus(ctx context.Context, data events.StatusIDEvent) {
	m.mu.Lock()
	player := m.getOrCreate(data.PlayerSID)
	m.setName(ctx, player, data.Player)

	if player.Game == nil {
		player.Game = &GameInfo{}
	}
	player.Game.UserID = strconv.Itoa(data.UserID)
	player.Game.Ping = data.Ping
	player.Game.Loss = data.Loss
	player.Game.Time = data.Connected
	player.Game.State = data.State
	player.SeenOn = time.Now()
	m.mu.Unlock()

	m.maybeFetchProfile(ctx, data.PlayerSID)
}

// UpsertPresence creates or updates the roster entry for an identity and marks it
// in-session. The supplied game info replaces the previous one wholesale.
func (m *Manager) UpsertPresence(sid steamid.SteamID, name string, game GameInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	player := m.getOrCreate(sid)
	m.setName(context.Background(), player, name)
	player.Game = &game
	player.SeenOn = time.Now()
}

// MarkAbsent clears the session-scoped info of an identity without touching any
// persisted or cached field.
func (m *Manager) MarkAbsent(sid steamid.SteamID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if player, found := m.players[sid]; found {
		player.Game = nil
	}
}

// ApplyReputation attaches a fetched profile. A late arrival for a player who
// already disconnected is still cached on the record but never resurrects their
// session presence.
func (m *Manager) ApplyReputation(sid steamid.SteamID, profile steam.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()

	player := m.getOrCreate(sid)
	player.Steam = &profile
	player.Convicted = m.opts.Policy(*player)
	delete(m.fetchAttempts, sid)
}

// ApplyVerdict sets the manual judgement for an identity, creating a placeholder
// record if telemetry has not mentioned it yet. The in-memory value applies even
// when persistence fails, the error is surfaced so the caller can warn.
func (m *Manager) ApplyVerdict(ctx context.Context, sid steamid.SteamID, verdict store.Verdict) error {
	if !verdict.Valid() {
		return store.ErrInvalidVerdict
	}

	m.mu.Lock()
	player := m.getOrCreate(sid)
	player.Verdict = verdict
	player.Convicted = m.opts.Policy(*player)
	record := player.record()
	m.saved[sid] = record
	m.mu.Unlock()

	return m.persist(ctx, record)
}

// ApplyTags replaces the tag set for an identity. Duplicates collapse, order is
// not significant.
func (m *Manager) ApplyTags(ctx context.Context, sid steamid.SteamID, tags []string) error {
	m.mu.Lock()
	player := m.getOrCreate(sid)
	player.Tags = dedup(tags)
	player.Convicted = m.opts.Policy(*player)
	record := player.record()
	m.saved[sid] = record
	m.mu.Unlock()

	return m.persist(ctx, record)
}

// UpdateCustomData replaces the opaque extension bag for an identity. The core
// never interprets its contents.
func (m *Manager) UpdateCustomData(ctx context.Context, sid steamid.SteamID, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}

	m.mu.Lock()
	player := m.getOrCreate(sid)
	player.CustomData = data
	record := player.record()
	m.saved[sid] = record
	m.mu.Unlock()

	return m.persist(ctx, record)
}

// ResetVerdict restores the default judgement for an identity. The identity stays
// in the roster, it may well still be in the session.
func (m *Manager) ResetVerdict(ctx context.Context, sid steamid.SteamID) error {
	m.mu.Lock()
	if player, found := m.players[sid]; found {
		player.Verdict = store.VerdictPlayer
		player.Tags = []string{}
		player.CustomData = map[string]any{}
		player.Convicted = m.opts.Policy(*player)
	}
	delete(m.saved, sid)
	m.mu.Unlock()

	return m.records.Reset(ctx, sid)
}

// Reset clears the session state roster-wide, the equivalent of every player
// disconnecting at once. Persisted and cached per-identity fields survive, a new
// session may reuse userid slots for entirely different identities.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, player := range m.players {
		player.Game = nil
	}

	m.server = Server{}
}

// Snapshot returns a deep, internally consistent copy of the roster and session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	players := make([]Player, 0, len(m.players))
	for _, player := range m.players {
		players = append(players, player.clone())
	}

	server := m.server
	server.Tags = append([]string(nil), m.server.Tags...)
	server.Chat = append([]ChatMessage(nil), m.server.Chat...)
	server.Kills = append([]KillFeedEntry(nil), m.server.Kills...)

	return Snapshot{Server: server, Players: players}
}

// Player returns a copy of a single roster entry.
func (m *Manager) Player(sid steamid.SteamID) (Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if player, found := m.players[sid]; found {
		return player.clone(), true
	}

	return Player{}, false
}

// getOrCreate must be called with the write lock held.
func (m *Manager) getOrCreate(sid steamid.SteamID) *Player {
	if player, found := m.players[sid]; found {
		return player
	}

	player := newPlayer(sid)
	player.IsSelf = m.opts.SelfID.Valid() && m.opts.SelfID.Equal(sid)
	if record, found := m.saved[sid]; found {
		player.applyRecord(record)
		player.Convicted = m.opts.Policy(*player)
	}

	m.players[sid] = player

	return player
}

// setName must be called with the write lock held.
func (m *Manager) setName(ctx context.Context, player *Player, name string) {
	if name == "" || name == player.Name {
		return
	}

	player.Name = name

	// Name history is only persisted for judged players, done off the lock path.
	sid := player.SteamID
	go func() {
		if err := m.records.AddPreviousName(ctx, sid, name); err != nil {
			slog.Warn("Failed to record previous name", slog.String("error", err.Error()))
		}
	}()
}

func (m *Manager) persist(ctx context.Context, record store.Record) error {
	if errSave := m.records.Save(ctx, record); errSave != nil {
		slog.Warn("Failed to persist player record, in-memory value still applies",
			slog.String("steam_id", record.SteamID.String()), slog.String("error", errSave.Error()))

		return errSave
	}

	return nil
}

// maybeFetchProfile kicks off an async reputation lookup unless one already
// succeeded, is in flight, or failed too recently. The result comes back through
// profileResults so the merge happens on the event loop.
func (m *Manager) maybeFetchProfile(ctx context.Context, sid steamid.SteamID) {
	m.mu.Lock()
	player, found := m.players[sid]
	if !found || player.Steam != nil {
		m.mu.Unlock()

		return
	}
	if last, attempted := m.fetchAttempts[sid]; attempted && time.Since(last) < fetchRetryInterval {
		m.mu.Unlock()

		return
	}
	m.fetchAttempts[sid] = time.Now()
	m.mu.Unlock()

	go func() {
		profile, errFetch := m.fetcher.Fetch(ctx, sid)
		select {
		case m.profileResults <- profileResult{sid: sid, profile: profile, err: errFetch}:
		case <-ctx.Done():
		}
	}()
}

func (m *Manager) onProfileResult(result profileResult) {
	if result.err != nil {
		if errors.Is(result.err, steam.ErrNoAPIKey) {
			slog.Debug("Skipping profile lookup, no steam api key configured")
		} else {
			slog.Warn("Profile lookup failed", slog.String("steam_id", result.sid.String()),
				slog.String("error", result.err.Error()))
		}

		// The attempt timestamp stays, throttling the retry.
		return
	}

	m.ApplyReputation(result.sid, result.profile)
}

// updateDump polls the live session over rcon and merges the result. Repeated
// failures are treated as a lost session.
func (m *Manager) updateDump(ctx context.Context) {
	defer m.dumpInFlight.Store(false)

	dump, errDump := m.dump.Fetch(ctx, m.router)
	if errDump != nil {
		m.mu.Lock()
		m.rconFailures++
		failures := m.rconFailures
		m.mu.Unlock()

		slog.Debug("Failed to fetch player dump", slog.String("error", errDump.Error()),
			slog.Int("failures", failures))

		if failures == rconFailureLimit {
			slog.Warn("Session connection lost, clearing session state")
			m.Reset()
		}

		return
	}

	m.mu.Lock()
	m.rconFailures = 0
	m.mu.Unlock()

	m.applyDump(ctx, dump)
}

// applyDump merges a full g15 snapshot. The dump is a complete listing, so any
// in-session identity it does not mention has disconnected.
func (m *Manager) applyDump(ctx context.Context, dump tf.DumpPlayer) {
	seen := map[steamid.SteamID]bool{}

	m.mu.Lock()
	for idx := range tf.MaxPlayerCount {
		sid := dump.SteamID[idx]
		if !sid.Valid() || !dump.Connected[idx] {
			continue
		}

		seen[sid] = true
		player := m.getOrCreate(sid)
		m.setName(ctx, player, dump.Names[idx])

		if player.Game == nil {
			player.Game = &GameInfo{}
		}
		if dump.UserID[idx] >= 0 {
			player.Game.UserID = strconv.Itoa(dump.UserID[idx])
		}
		player.Game.Team = dump.Team[idx]
		player.Game.Ping = dump.Ping[idx]
		player.Game.Kills = dump.Score[idx]
		player.Game.Deaths = dump.Deaths[idx]
		if player.Game.State == "" {
			player.Game.State = tf.StateActive
		}
		player.SeenOn = time.Now()
	}

	var absent []steamid.SteamID
	for sid, player := range m.players {
		if player.Game != nil && !seen[sid] {
			absent = append(absent, sid)
			player.Game = nil
		}
	}
	m.mu.Unlock()

	for _, sid := range absent {
		slog.Debug("Player left session", slog.String("steam_id", sid.String()))
	}

	for sid := range seen {
		m.maybeFetchProfile(ctx, sid)
	}
}

// expireAbsent clears presence for players telemetry has gone quiet about.
func (m *Manager) expireAbsent() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, player := range m.players {
		if player.Game != nil && time.Since(player.SeenOn) > playerTimeout {
			player.Game = nil
		}
	}
}

func dedup(values []string) []string {
	deduped := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}

		exists := false
		for _, existing := range deduped {
			if existing == value {
				exists = true

				break
			}
		}
		if !exists {
			deduped = append(deduped, value)
		}
	}

	return deduped
}
