package steam

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (s *stubSource) Profiles(_ context.Context, steamIDs steamid.Collection) (map[steamid.SteamID]Profile, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}

	if s.err != nil {
		return nil, s.err
	}

	profiles := map[steamid.SteamID]Profile{}
	for _, sid := range steamIDs {
		profiles[sid] = Profile{SteamID: sid, Name: "persona", Visibility: VisibilityPublic, Friends: []Friend{}}
	}

	return profiles, nil
}

func (s *stubSource) Friends(_ context.Context, _ steamid.SteamID) ([]Friend, error) {
	return nil, ErrFriendsPrivate
}

func TestFetchDedupsConcurrentCallers(t *testing.T) {
	source := &stubSource{release: make(chan struct{})}
	fetcher := NewFetcher(source)
	sid := steamid.New(76561198000000001)

	const callers = 8

	var waitGroup sync.WaitGroup
	results := make(chan error, callers)
	for range callers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := fetcher.Fetch(context.Background(), sid)
			results <- err
		}()
	}

	close(source.release)
	waitGroup.Wait()
	close(results)

	for err := range results {
		require.NoError(t, err)
	}

	require.Equal(t, int32(1), source.calls.Load())
}

func TestFetchFailureNotCached(t *testing.T) {
	source := &stubSource{err: ErrRateLimited}
	fetcher := NewFetcher(source)
	sid := steamid.New(76561198000000002)

	_, err := fetcher.Fetch(context.Background(), sid)
	require.ErrorIs(t, err, ErrRateLimited)

	_, cached := fetcher.Cached(sid)
	require.False(t, cached)

	// A retry after the rate limit clears goes back out and succeeds.
	source.err = nil
	profile, errRetry := fetcher.Fetch(context.Background(), sid)
	require.NoError(t, errRetry)
	require.Equal(t, sid, profile.SteamID)
	require.Equal(t, int32(2), source.calls.Load())

	cachedProfile, found := fetcher.Cached(sid)
	require.True(t, found)
	require.Equal(t, profile, cachedProfile)
}

func TestFetchCachedSkipsSource(t *testing.T) {
	source := &stubSource{}
	fetcher := NewFetcher(source)
	sid := steamid.New(76561198000000003)

	_, err := fetcher.Fetch(context.Background(), sid)
	require.NoError(t, err)

	_, err = fetcher.Fetch(context.Background(), sid)
	require.NoError(t, err)
	require.Equal(t, int32(1), source.calls.Load())
}
