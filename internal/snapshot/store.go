// Package snapshot caches the remote folder listing for a short window.
package snapshot

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/adamskus05/screenie/internal/logging"
	"github.com/adamskus05/screenie/internal/metrics"
	"github.com/adamskus05/screenie/pkg/models"
	"github.com/adamskus05/screenie/pkg/protocol"
)

// DefaultTTL is how long a snapshot is served without re-fetching.
const DefaultTTL = 5 * time.Second

// Fetcher fetches the folder listing from the server.
type Fetcher interface {
	FetchFolders(ctx context.Context) (*protocol.FoldersResponse, error)
}

// Store holds the last fetched FolderSnapshot. Callers always receive deep
// copies, so the cached snapshot is only changed by a refresh or by a
// local star edit.
type Store struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time
	group   singleflight.Group

	mu            sync.RWMutex
	snap          *models.FolderSnapshot
	defaultFolder string
	// started numbers refreshes as they begin; applied is the number of the
	// newest refresh whose result is cached. A refresh that finishes after
	// a newer one was applied is dropped.
	started uint64
	applied uint64
}

// New creates a store. A negative ttl disables caching.
func New(fetcher Fetcher, ttl time.Duration) *Store {
	return &Store{
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the ordered folder list. Unless force is set, a snapshot
// younger than the TTL is returned without a remote call. Concurrent
// non-forced misses share one fetch; forced calls always fetch.
func (s *Store) Get(ctx context.Context, force bool) ([]models.Folder, error) {
	if !force {
		s.mu.RLock()
		snap := s.snap
		fresh := snap != nil && s.ttl > 0 && snap.Age(s.now()) < s.ttl
		var out []models.Folder
		if fresh {
			out = snap.CloneFolders()
		}
		s.mu.RUnlock()
		if fresh {
			metrics.RecordSnapshotCacheHit()
			return out, nil
		}

		// The shared fetch must not fail because the caller that started
		// it went away; each caller still stops waiting on its own ctx.
		shared := context.WithoutCancel(ctx)
		ch := s.group.DoChan("folders", func() (interface{}, error) {
			return s.refresh(shared)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-ch:
			if r.Err != nil {
				return nil, r.Err
			}
			return r.Val.(*models.FolderSnapshot).CloneFolders(), nil
		}
	}

	snap, err := s.refresh(ctx)
	if err != nil {
		return nil, err
	}
	return snap.CloneFolders(), nil
}

func (s *Store) refresh(ctx context.Context) (*models.FolderSnapshot, error) {
	s.mu.Lock()
	s.started++
	seq := s.started
	s.mu.Unlock()

	start := time.Now()
	resp, err := s.fetcher.FetchFolders(ctx)
	if err != nil {
		logging.Warn("Folder refresh failed", logging.Err(err))
		return nil, err
	}
	metrics.RecordSnapshotFetch(time.Since(start), len(resp.Folders))

	folders := make([]models.Folder, len(resp.Folders))
	for i, f := range resp.Folders {
		folders[i] = f.Clone()
	}
	SortFolders(folders)
	snap := &models.FolderSnapshot{Folders: folders, FetchedAt: s.now()}

	s.mu.Lock()
	if seq < s.applied {
		current := s.snap
		s.mu.Unlock()
		logging.Debug("Dropping folder snapshot superseded by a newer refresh")
		if current != nil {
			return current, nil
		}
		return snap, nil
	}
	s.snap = snap
	s.defaultFolder = resp.DefaultFolder
	s.applied = seq
	s.mu.Unlock()

	logging.Debug("Folder snapshot refreshed",
		logging.Int("folders", len(folders)),
		logging.Int("screenshots", models.CountScreenshots(folders)),
		logging.Duration("took", time.Since(start)))
	return snap, nil
}

// Current returns a copy of the cached folders without fetching, regardless
// of age. ok is false if nothing has been fetched yet.
func (s *Store) Current() (folders []models.Folder, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil, false
	}
	return s.snap.CloneFolders(), true
}

// FetchedAt returns when the cached snapshot was fetched.
func (s *Store) FetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return time.Time{}
	}
	return s.snap.FetchedAt
}

// DefaultFolder returns the server's default folder from the last fetch.
func (s *Store) DefaultFolder() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultFolder
}

// Invalidate drops the cached snapshot so the next Get fetches. Refreshes
// already in flight are not cached.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.snap = nil
	s.applied = s.started + 1
	s.mu.Unlock()
}

// SetStarredLocally sets is_starred on the cached folder named name without
// a remote call and returns the previous value for rollback. ok is false
// when there is no such folder or it is permanent.
func (s *Store) SetStarredLocally(name string, value bool) (prev bool, ok bool) {
	edit, ok := s.StarLocally(name, value)
	return edit.Prev, ok
}

// StarEdit is an optimistic star change recorded by StarLocally.
type StarEdit struct {
	Name  string
	Prev  bool
	Value bool
	gen   uint64
}

// StarLocally is SetStarredLocally returning the edit for RevertStar.
func (s *Store) StarLocally(name string, value bool) (StarEdit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.starrableLocked(name)
	if f == nil {
		return StarEdit{Name: name}, false
	}
	edit := StarEdit{Name: name, Prev: f.IsStarred, Value: value, gen: s.applied}
	f.IsStarred = value
	SortFolders(s.snap.Folders)
	return edit, true
}

// RevertStar restores edit.Prev unless a refresh has replaced the snapshot
// since the edit or the folder no longer holds edit.Value. It reports
// whether the cache changed.
func (s *Store) RevertStar(edit StarEdit) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied != edit.gen {
		return false
	}
	f := s.starrableLocked(edit.Name)
	if f == nil || f.IsStarred != edit.Value {
		return false
	}
	f.IsStarred = edit.Prev
	SortFolders(s.snap.Folders)
	return true
}

func (s *Store) starrableLocked(name string) *models.Folder {
	if s.snap == nil {
		return nil
	}
	for i := range s.snap.Folders {
		f := &s.snap.Folders[i]
		if f.Name != name {
			continue
		}
		if f.IsPermanent || f.IsAll() {
			return nil
		}
		return f
	}
	return nil
}

// tier ranks folders: the aggregate folder, then permanent, then starred,
// then the rest.
func tier(f models.Folder) int {
	switch {
	case f.IsAll():
		return 0
	case f.IsPermanent:
		return 1
	case f.IsStarred:
		return 2
	}
	return 3
}

// SortFolders orders folders by tier, then case-insensitively by label.
func SortFolders(folders []models.Folder) {
	sort.SliceStable(folders, func(i, j int) bool {
		a, b := folders[i], folders[j]
		if ta, tb := tier(a), tier(b); ta != tb {
			return ta < tb
		}
		la, lb := strings.ToLower(a.Label()), strings.ToLower(b.Label())
		if la != lb {
			return la < lb
		}
		return a.Name < b.Name
	})
}
