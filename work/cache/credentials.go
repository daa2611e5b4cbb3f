package cache

import (
	"fmt"
	"sort"
	"time"

	"audio-only-proxy/work/types"
	"audio-only-proxy/work/utils"

	"github.com/maypok86/otter/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// Store is the in-memory credential cache, keyed by channel. It holds the
// passively observed token-request URLs and the manifest credentials built
// from them. A Store lives for the life of the process and is cleared on
// restart; nothing is persisted.
type Store struct {
	tokenURLs *otter.Cache[string, string]                   // channel -> token request URL, bounded
	manifests *xsync.MapOf[string, types.ManifestCredential] // channel -> manifest URL + expiry
}

// NewStore creates an empty Store remembering at most maxChannels token URLs.
func NewStore(maxChannels int) (*Store, error) {
	if maxChannels <= 0 {
		maxChannels = 1000
	}

	tokenURLs, err := otter.New(&otter.Options[string, string]{
		MaximumSize: maxChannels,
	})
	if err != nil {
		return nil, fmt.Errorf("creating token url cache: %w", err)
	}

	return &Store{
		tokenURLs: tokenURLs,
		manifests: xsync.NewMapOf[string, types.ManifestCredential](),
	}, nil
}

// RecordTokenURL stores the token request URL for channel, replacing any earlier one.
func (s *Store) RecordTokenURL(channel, tokenURL string) {
	s.tokenURLs.Set(channel, tokenURL)
}

// TokenURL returns the last token request URL observed for channel.
func (s *Store) TokenURL(channel string) (string, bool) {
	return s.tokenURLs.GetIfPresent(channel)
}

// RecordManifestCredential replaces the manifest credential for channel.
// The entry is written with a single store so readers never see half of it.
func (s *Store) RecordManifestCredential(channel, manifestURL string, expiresAt int64) {
	s.manifests.Store(channel, types.ManifestCredential{
		ManifestURL: manifestURL,
		ExpiresAt:   expiresAt,
	})
}

// ManifestURL returns the cached manifest URL for channel if it is usable at
// now. It fails with types.ErrNotFound when nothing is cached and with
// types.ErrStale when the entry is within the safety margin of its expiry.
func (s *Store) ManifestURL(channel string, now time.Time) (string, error) {
	cred, ok := s.manifests.Load(channel)
	if !ok {
		return "", fmt.Errorf("no manifest credential for %s: %w", channel, types.ErrNotFound)
	}
	if !cred.UsableAt(now.Unix()) {
		return "", fmt.Errorf("manifest credential for %s expires at %d: %w", channel, cred.ExpiresAt, types.ErrStale)
	}
	return cred.ManifestURL, nil
}

// ValidManifestURL is the boolean form of ManifestURL.
func (s *Store) ValidManifestURL(channel string, now time.Time) (string, bool) {
	u, err := s.ManifestURL(channel, now)
	return u, err == nil
}

// Invalidate drops the manifest credential for channel; the token URL is kept
// so the next resolution can refresh.
func (s *Store) Invalidate(channel string) {
	s.manifests.Delete(channel)
}

// Forget drops everything known about channel.
func (s *Store) Forget(channel string) {
	s.manifests.Delete(channel)
	s.tokenURLs.Invalidate(channel)
}

// Clear empties the store.
func (s *Store) Clear() {
	s.tokenURLs.InvalidateAll()
	s.manifests.Clear()
}

// Snapshot returns the state of every known channel at now, sorted by channel.
func (s *Store) Snapshot(now time.Time) []types.ChannelState {
	states := make(map[string]*types.ChannelState)
	get := func(channel string) *types.ChannelState {
		st, ok := states[channel]
		if !ok {
			st = &types.ChannelState{Channel: channel}
			states[channel] = st
		}
		return st
	}

	for channel, tokenURL := range s.tokenURLs.All() {
		get(channel).TokenURL = tokenURL
	}
	s.manifests.Range(func(channel string, cred types.ManifestCredential) bool {
		st := get(channel)
		st.ManifestURL = cred.ManifestURL
		st.ExpiresAt = cred.ExpiresAt
		st.Usable = cred.UsableAt(now.Unix())
		st.ExpiresIn = utils.FormatDuration(time.Unix(cred.ExpiresAt, 0).Sub(now))
		return true
	})

	out := make([]types.ChannelState, 0, len(states))
	for _, st := range states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// Size returns the number of channels with a cached manifest credential.
func (s *Store) Size() int {
	return s.manifests.Size()
}
