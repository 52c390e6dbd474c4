package steam

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// defaultBudget caps how many identities may be in flight against the web api at
// once. Requests past the budget queue on the semaphore instead of failing.
const defaultBudget = 4

// ProfileSource is the remote lookup boundary, satisfied by *Client.
type ProfileSource interface {
	Profiles(ctx context.Context, steamIDs steamid.Collection) (map[steamid.SteamID]Profile, error)
	Friends(ctx context.Context, sid steamid.SteamID) ([]Friend, error)
}

func NewFetcher(source ProfileSource) *Fetcher {
	return &Fetcher{
		source:   source,
		budget:   semaphore.NewWeighted(defaultBudget),
		mu:       &sync.RWMutex{},
		profiles: map[steamid.SteamID]Profile{},
	}
}

// Fetcher memoizes successful profile lookups for the process lifetime and
// collapses concurrent lookups for the same identity into a single external call.
type Fetcher struct {
	source   ProfileSource
	group    singleflight.Group
	budget   *semaphore.Weighted
	mu       *sync.RWMutex
	profiles map[steamid.SteamID]Profile
}

// Fetch returns the profile for a single identity, from cache when possible.
// Errors are returned typed and never produce a cached entry, so a later retry
// will go back out to the api.
func (f *Fetcher) Fetch(ctx context.Context, sid steamid.SteamID) (Profile, error) {
	if cached, found := f.Cached(sid); found {
		return cached, nil
	}

	result, errFetch, _ := f.group.Do(sid.String(), func() (any, error) {
		if errAcquire := f.budget.Acquire(ctx, 1); errAcquire != nil {
			return Profile{}, errors.Join(errAcquire, ErrFetchProfile)
		}
		defer f.budget.Release(1)

		// A waiter may have been queued behind a fetch that has since completed.
		if cached, found := f.Cached(sid); found {
			return cached, nil
		}

		return f.fetch(ctx, sid)
	})
	if errFetch != nil {
		return Profile{}, errFetch
	}

	profile, ok := result.(Profile)
	if !ok {
		return Profile{}, ErrFetchProfile
	}

	return profile, nil
}

// Cached returns the memoized profile without triggering a lookup.
func (f *Fetcher) Cached(sid steamid.SteamID) (Profile, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	profile, found := f.profiles[sid]

	return profile, found
}

func (f *Fetcher) fetch(ctx context.Context, sid steamid.SteamID) (Profile, error) {
	profiles, errProfiles := f.source.Profiles(ctx, steamid.Collection{sid})
	if errProfiles != nil {
		return Profile{}, errProfiles
	}

	profile, found := profiles[sid]
	if !found {
		return Profile{}, ErrProfileMissing
	}

	friends, errFriends := f.source.Friends(ctx, sid)
	if errFriends != nil {
		// A private list is normal and not worth failing the whole profile over.
		if !errors.Is(errFriends, ErrFriendsPrivate) {
			slog.Warn("Failed to fetch friends list", slog.String("steam_id", sid.String()),
				slog.String("error", errFriends.Error()))
		}
	} else {
		profile.Friends = friends
	}

	f.mu.Lock()
	f.profiles[sid] = profile
	f.mu.Unlock()

	return profile, nil
}
