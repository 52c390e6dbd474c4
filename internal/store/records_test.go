package store_test

import (
	"context"
	"testing"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/leighmacdonald/tf-warden/internal/store"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestRecords(t *testing.T) *store.Records {
	t.Helper()

	database, errOpen := store.Open(context.Background(), "", true)
	require.NoError(t, errOpen)
	t.Cleanup(func() {
		_ = database.Close()
	})

	return store.NewRecords(database)
}

func TestRecordsRoundTrip(t *testing.T) {
	records := newTestRecords(t)
	ctx := context.Background()

	saved := store.NewRecord(steamid.New(76561198000000001))
	saved.Verdict = store.VerdictCheater
	saved.Convicted = true
	saved.Tags = []string{"aimbot", "aimbot", "racist"}
	saved.CustomData = map[string]any{"note": "spinbotting on upward"}

	require.NoError(t, records.Save(ctx, saved))

	loaded, errLoad := records.Load(ctx)
	require.NoError(t, errLoad)
	require.Len(t, loaded, 1)

	record := loaded[saved.SteamID]
	require.Equal(t, store.VerdictCheater, record.Verdict)
	require.True(t, record.Convicted)
	require.Equal(t, []string{"aimbot", "racist"}, record.Tags)
	require.Equal(t, map[string]any{"note": "spinbotting on upward"}, record.CustomData)
}

func TestRecordsSaveIdempotent(t *testing.T) {
	records := newTestRecords(t)
	ctx := context.Background()

	record := store.NewRecord(steamid.New(76561198000000002))
	record.Verdict = store.VerdictSuspicious

	require.NoError(t, records.Save(ctx, record))
	require.NoError(t, records.Save(ctx, record))

	loaded, errLoad := records.Load(ctx)
	require.NoError(t, errLoad)
	require.Len(t, loaded, 1)
	require.Equal(t, store.VerdictSuspicious, loaded[record.SteamID].Verdict)
}

func TestRecordsReset(t *testing.T) {
	records := newTestRecords(t)
	ctx := context.Background()
	sid := steamid.New(76561198000000003)

	record := store.NewRecord(sid)
	record.Verdict = store.VerdictBot
	record.Convicted = true
	record.Tags = []string{"bot"}
	require.NoError(t, records.Save(ctx, record))
	require.NoError(t, records.AddPreviousName(ctx, sid, "m4gnumDON"))

	require.NoError(t, records.Reset(ctx, sid))

	loaded, errLoad := records.Load(ctx)
	require.NoError(t, errLoad)

	reset := loaded[sid]
	require.Equal(t, store.VerdictPlayer, reset.Verdict)
	require.False(t, reset.Convicted)
	require.Empty(t, reset.Tags)
	require.Empty(t, reset.CustomData)
	// Name history survives a judgement reset.
	require.Equal(t, []string{"m4gnumDON"}, reset.PreviousNames)
}

func TestRecordsRejectsUnknownVerdict(t *testing.T) {
	records := newTestRecords(t)

	record := store.NewRecord(steamid.New(76561198000000004))
	record.Verdict = store.Verdict("Gamer")

	require.ErrorIs(t, records.Save(context.Background(), record), store.ErrInvalidVerdict)
}

func TestSaveKeepsNameHistory(t *testing.T) {
	records := newTestRecords(t)
	ctx := context.Background()
	sid := steamid.New(76561198000000006)

	record := store.NewRecord(sid)
	record.Verdict = store.VerdictSuspicious
	require.NoError(t, records.Save(ctx, record))
	require.NoError(t, records.AddPreviousName(ctx, sid, "old name"))

	// A later judgement save carries an empty history and must not erase what
	// AddPreviousName accumulated.
	record.Verdict = store.VerdictCheater
	record.Convicted = true
	require.NoError(t, records.Save(ctx, record))

	loaded, errLoad := records.Load(ctx)
	require.NoError(t, errLoad)
	require.Equal(t, store.VerdictCheater, loaded[sid].Verdict)
	require.Equal(t, []string{"old name"}, loaded[sid].PreviousNames)
}

func TestAddPreviousNameAppendsInOrder(t *testing.T) {
	records := newTestRecords(t)
	ctx := context.Background()
	sid := steamid.New(76561198000000007)

	require.NoError(t, records.Save(ctx, store.NewRecord(sid)))
	require.NoError(t, records.AddPreviousName(ctx, sid, "first"))
	require.NoError(t, records.AddPreviousName(ctx, sid, "second"))
	require.NoError(t, records.AddPreviousName(ctx, sid, "first"))

	loaded, errLoad := records.Load(ctx)
	require.NoError(t, errLoad)
	require.Equal(t, []string{"first", "second"}, loaded[sid].PreviousNames)
}

func TestAddPreviousNameNoRecord(t *testing.T) {
	records := newTestRecords(t)

	// Unjudged players accumulate no name history.
	require.NoError(t, records.AddPreviousName(context.Background(), steamid.New(76561198000000005), "scout main"))

	loaded, errLoad := records.Load(context.Background())
	require.NoError(t, errLoad)
	require.Empty(t, loaded)
}
