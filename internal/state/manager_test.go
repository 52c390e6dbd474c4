package state_test

import (
	"context"
	"testing"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/leighmacdonald/tf-warden/internal/state"
	"github.com/leighmacdonald/tf-warden/internal/steam"
	"github.com/leighmacdonald/tf-warden/internal/store"
	"github.com/leighmacdonald/tf-warden/internal/tf"
	"github.com/leighmacdonald/tf-warden/internal/tf/console"
	"github.com/leighmacdonald/tf-warden/internal/tf/events"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type stubProfiles struct{}

func (stubProfiles) Fetch(_ context.Context, sid steamid.SteamID) (steam.Profile, error) {
	return steam.Profile{SteamID: sid, Name: "fetched", Friends: []steam.Friend{}}, nil
}

type stubDump struct{}

func (stubDump) Fetch(_ context.Context, _ console.Receiver) (tf.DumpPlayer, error) {
	return tf.DumpPlayer{}, nil
}

func newTestManager(t *testing.T, opts state.Opts) (*state.Manager, *store.Records) {
	t.Helper()

	database, errOpen := store.Open(context.Background(), "", true)
	require.NoError(t, errOpen)
	t.Cleanup(func() {
		_ = database.Close()
	})

	records := store.NewRecords(database)
	manager := state.NewManager(events.NewRouter(), records, stubProfiles{}, stubDump{}, opts)
	require.NoError(t, manager.LoadRecords(context.Background()))

	return manager, records
}

func TestUpsertPresenceIsKeyedBySteamID(t *testing.T) {
	manager, _ := newTestManager(t, state.Opts{})
	sid := steamid.New(76561198000000001)

	manager.UpsertPresence(sid, "scout", state.GameInfo{UserID: "5", Team: tf.BLU})
	manager.UpsertPresence(sid, "scout", state.GameInfo{UserID: "5", Team: tf.BLU, Ping: 40, Kills: 2})

	snap := manager.Snapshot()
	require.Len(t, snap.Players, 1)
	require.Equal(t, "scout", snap.Players[0].Name)
	require.NotNil(t, snap.Players[0].Game)
	require.Equal(t, 2, snap.Players[0].Game.Kills)
}

func TestJoinThenStateThenLeave(t *testing.T) {
	manager, _ := newTestManager(t, state.Opts{})
	sid := steamid.New(76561198000000001)

	manager.UpsertPresence(sid, "scout", state.GameInfo{UserID: "5"})
	manager.UpsertPresence(sid, "scout", state.GameInfo{
		UserID: "5", Team: tf.RED, Ping: 40, Time: 10, State: tf.StateActive,
	})

	require.NoError(t, manager.ApplyVerdict(context.Background(), sid, store.VerdictSuspicious))

	player, found := manager.Player(sid)
	require.True(t, found)
	require.Equal(t, tf.RED, player.Game.Team)
	require.Equal(t, "5", player.Game.UserID)
	require.Nil(t, player.Steam)

	manager.MarkAbsent(sid)

	player, found = manager.Player(sid)
	require.True(t, found)
	require.Nil(t, player.Game)
	// Judgement is identity-scoped, not session-scoped.
	require.Equal(t, store.VerdictSuspicious, player.Verdict)
}

func TestApplyVerdictConvictsAndPersists(t *testing.T) {
	manager, records := newTestManager(t, state.Opts{})
	ctx := context.Background()
	sid := steamid.New(76561198000000002)

	// Judging an identity telemetry has never mentioned creates a placeholder.
	require.NoError(t, manager.ApplyVerdict(ctx, sid, store.VerdictCheater))
	require.NoError(t, manager.ApplyVerdict(ctx, sid, store.VerdictCheater))

	player, found := manager.Player(sid)
	require.True(t, found)
	require.True(t, player.Convicted)
	require.Nil(t, player.Game)

	loaded, errLoad := records.Load(ctx)
	require.NoError(t, errLoad)
	require.Len(t, loaded, 1)
	require.Equal(t, store.VerdictCheater, loaded[sid].Verdict)
}

func TestApplyVerdictRejectsUnknown(t *testing.T) {
	manager, _ := newTestManager(t, state.Opts{})
	sid := steamid.New(76561198000000012)

	err := manager.ApplyVerdict(context.Background(), sid, store.Verdict("Gamer"))
	require.ErrorIs(t, err, store.ErrInvalidVerdict)

	// Nothing was created for the rejected judgement.
	_, found := manager.Player(sid)
	require.False(t, found)
}

func TestSavedRecordsSeedNewPlayers(t *testing.T) {
	manager, records := newTestManager(t, state.Opts{})
	ctx := context.Background()
	sid := steamid.New(76561198000000003)

	saved := store.NewRecord(sid)
	saved.Verdict = store.VerdictBot
	saved.Tags = []string{"bot"}
	require.NoError(t, records.Save(ctx, saved))
	require.NoError(t, manager.LoadRecords(ctx))

	manager.UpsertPresence(sid, "definitely human", state.GameInfo{UserID: "9"})

	player, found := manager.Player(sid)
	require.True(t, found)
	require.Equal(t, store.VerdictBot, player.Verdict)
	require.True(t, player.Convicted)
	require.Equal(t, []string{"bot"}, player.Tags)
}

func TestCustomPolicyControlsConviction(t *testing.T) {
	trustNobody := func(player state.Player) bool {
		return player.Verdict != store.VerdictTrusted
	}
	manager, _ := newTestManager(t, state.Opts{Policy: trustNobody})
	sid := steamid.New(76561198000000004)

	require.NoError(t, manager.ApplyVerdict(context.Background(), sid, store.VerdictSuspicious))

	player, _ := manager.Player(sid)
	require.True(t, player.Convicted)

	require.NoError(t, manager.ApplyVerdict(context.Background(), sid, store.VerdictTrusted))

	player, _ = manager.Player(sid)
	require.False(t, player.Convicted)
}

func TestLateReputationDoesNotResurrectPresence(t *testing.T) {
	manager, _ := newTestManager(t, state.Opts{})
	sid := steamid.New(76561198000000005)

	manager.UpsertPresence(sid, "sniper", state.GameInfo{UserID: "7"})
	manager.MarkAbsent(sid)

	manager.ApplyReputation(sid, steam.Profile{SteamID: sid, Name: "sniper"})

	player, found := manager.Player(sid)
	require.True(t, found)
	require.NotNil(t, player.Steam)
	require.Nil(t, player.Game)
}

func TestResetClearsSessionOnly(t *testing.T) {
	manager, _ := newTestManager(t, state.Opts{})
	ctx := context.Background()
	first := steamid.New(76561198000000006)
	second := steamid.New(76561198000000007)

	manager.UpsertPresence(first, "soldier", state.GameInfo{UserID: "1", Team: tf.RED})
	manager.UpsertPresence(second, "medic", state.GameInfo{UserID: "2", Team: tf.BLU})
	require.NoError(t, manager.ApplyVerdict(ctx, first, store.VerdictCheater))

	manager.Reset()

	snap := manager.Snapshot()
	require.Len(t, snap.Players, 2)
	for _, player := range snap.Players {
		require.Nil(t, player.Game)
	}
	require.Empty(t, snap.Server.Hostname)

	player, _ := manager.Player(first)
	require.Equal(t, store.VerdictCheater, player.Verdict)
}

func TestResetVerdictRestoresDefaults(t *testing.T) {
	manager, records := newTestManager(t, state.Opts{})
	ctx := context.Background()
	sid := steamid.New(76561198000000008)

	require.NoError(t, manager.ApplyVerdict(ctx, sid, store.VerdictCheater))
	require.NoError(t, manager.ApplyTags(ctx, sid, []string{"aimbot", "aimbot"}))

	player, _ := manager.Player(sid)
	require.Equal(t, []string{"aimbot"}, player.Tags)

	require.NoError(t, manager.ResetVerdict(ctx, sid))

	player, _ = manager.Player(sid)
	require.Equal(t, store.VerdictPlayer, player.Verdict)
	require.False(t, player.Convicted)
	require.Empty(t, player.Tags)

	loaded, errLoad := records.Load(ctx)
	require.NoError(t, errLoad)
	require.Equal(t, store.VerdictPlayer, loaded[sid].Verdict)
}

func TestSelfIdentityFlagged(t *testing.T) {
	selfID := steamid.New(76561198000000009)
	manager, _ := newTestManager(t, state.Opts{SelfID: selfID})

	manager.UpsertPresence(selfID, "me", state.GameInfo{UserID: "3"})
	manager.UpsertPresence(steamid.New(76561198000000010), "them", state.GameInfo{UserID: "4"})

	self, _ := manager.Player(selfID)
	require.True(t, self.IsSelf)

	other, _ := manager.Player(steamid.New(76561198000000010))
	require.False(t, other.IsSelf)
}

func TestSnapshotIsDetached(t *testing.T) {
	manager, _ := newTestManager(t, state.Opts{})
	sid := steamid.New(76561198000000011)

	manager.UpsertPresence(sid, "spy", state.GameInfo{UserID: "6"})

	snap := manager.Snapshot()
	snap.Players[0].Name = "mutated"
	snap.Players[0].Game.Kills = 99
	snap.Players[0].Tags = append(snap.Players[0].Tags, "mutated")

	player, _ := manager.Player(sid)
	require.Equal(t, "spy", player.Name)
	require.Equal(t, 0, player.Game.Kills)
	require.Empty(t, player.Tags)
}
