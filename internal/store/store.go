// Package store implements the reconciling key-quantity store shared by the
// cart and the wishlist: an in-memory, subscribable snapshot mirrored to the
// marketplace's owner-scoped collection endpoints.
package store

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/upstream"
)

var ErrReplicationFailed = errors.New("replication to the marketplace failed")

// Remote is the owner-scoped sync surface of the marketplace.
type Remote interface {
	FetchCollection(ctx context.Context, cred string, col upstream.Collection) (*domain.Snapshot, error)
	ReplaceCollection(ctx context.Context, cred string, col upstream.Collection, items []domain.Line) ([]domain.Line, error)
	PutLine(ctx context.Context, cred string, col upstream.Collection, id string, qty int) ([]domain.Line, error)
}

// AuthPrompter fires the login prompt side effect for guest mutations.
type AuthPrompter interface {
	PromptLogin()
}

// LogPrompter is the default prompter; the HTTP layer swaps in its own.
type LogPrompter struct{}

func (LogPrompter) PromptLogin() {
	log.Printf("login prompt requested")
}

// Store mirrors one collection for one browsing session. Mutations apply
// optimistically to the local snapshot, replicate to the remote, then
// reconcile with whatever the server actually returned.
type Store struct {
	col    upstream.Collection
	remote Remote
	reval  *Revalidator
	prompt AuthPrompter
	sfg    singleflight.Group

	mu        sync.RWMutex
	items     map[string]int
	updatedAt time.Time

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

func New(col upstream.Collection, remote Remote, reval *Revalidator, prompt AuthPrompter) *Store {
	if prompt == nil {
		prompt = LogPrompter{}
	}
	return &Store{
		col:    col,
		remote: remote,
		reval:  reval,
		prompt: prompt,
		items:  make(map[string]int),
		subs:   make(map[int]func()),
	}
}

// Read returns the last known-good snapshot. It never blocks on the network
// and never fails.
func (s *Store) Read() []domain.Line {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.Line, 0, len(s.items))
	for id, qty := range s.items {
		lines = append(lines, domain.Line{ID: id, Qty: qty})
	}
	domain.SortLines(lines)
	return lines
}

// UpdatedAt is the server's last-modified marker, for display only.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Subscribe registers a change callback and returns its unsubscribe func.
// Callbacks run outside the snapshot lock.
func (s *Store) Subscribe(fn func()) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Sync pulls the authoritative snapshot. Concurrent calls for the same store
// collapse into one remote fetch.
func (s *Store) Sync(ctx context.Context, cred string) error {
	_, err, _ := s.sfg.Do("sync", func() (interface{}, error) {
		snap, errFetch := s.remote.FetchCollection(ctx, cred, s.col)
		if errFetch != nil {
			return nil, errFetch
		}
		s.overwrite(snap.Items, snap.UpdatedAt)
		s.revalidate(ctx, cred)
		return nil, nil
	})
	return err
}

func (s *Store) SetQuantity(ctx context.Context, cred, id string, qty int) error {
	if id == "" {
		return domain.ErrEmptyID
	}
	if qty < 0 {
		qty = 0
	}
	return s.mutate(ctx, cred,
		func(items map[string]int) {
			if qty <= 0 {
				delete(items, id)
				return
			}
			items[id] = qty
		},
		func(ctx context.Context) ([]domain.Line, error) {
			return s.remote.PutLine(ctx, cred, s.col, id, qty)
		})
}

func (s *Store) Add(ctx context.Context, cred, id string, delta int) error {
	if id == "" {
		return domain.ErrEmptyID
	}
	var next int
	return s.mutate(ctx, cred,
		func(items map[string]int) {
			next = items[id] + delta
			if next <= 0 {
				next = 0
				delete(items, id)
				return
			}
			items[id] = next
		},
		func(ctx context.Context) ([]domain.Line, error) {
			return s.remote.PutLine(ctx, cred, s.col, id, next)
		})
}

func (s *Store) Remove(ctx context.Context, cred, id string, delta int) error {
	return s.Add(ctx, cred, id, -delta)
}

// Toggle flips presence; the set quantity is pinned to 1. Used by the
// wishlist, where a line is a presence marker.
func (s *Store) Toggle(ctx context.Context, cred, id string) error {
	if id == "" {
		return domain.ErrEmptyID
	}
	var next int
	return s.mutate(ctx, cred,
		func(items map[string]int) {
			if _, ok := items[id]; ok {
				next = 0
				delete(items, id)
				return
			}
			next = 1
			items[id] = 1
		},
		func(ctx context.Context) ([]domain.Line, error) {
			return s.remote.PutLine(ctx, cred, s.col, id, next)
		})
}

func (s *Store) Clear(ctx context.Context, cred string) error {
	return s.mutate(ctx, cred,
		func(items map[string]int) {
			for id := range items {
				delete(items, id)
			}
		},
		func(ctx context.Context) ([]domain.Line, error) {
			return s.remote.ReplaceCollection(ctx, cred, s.col, []domain.Line{})
		})
}

// mutate runs the optimistic-then-reconcile cycle. Guests get the login
// prompt and no state change at all; they must never accumulate local-only
// state that would vanish at login.
func (s *Store) mutate(ctx context.Context, cred string, apply func(map[string]int), replicate func(context.Context) ([]domain.Line, error)) error {
	if cred == "" {
		s.prompt.PromptLogin()
		return domain.ErrAuthRequired
	}

	s.mu.Lock()
	apply(s.items)
	s.mu.Unlock()
	s.notify()

	serverItems, err := replicate(ctx)
	if err != nil {
		// Per-line replication failed; fall back to pushing the whole
		// optimistic snapshot.
		serverItems, err = s.remote.ReplaceCollection(ctx, cred, s.col, s.Read())
	}
	if err != nil {
		log.Printf("%s replication error: %v", s.col, err)
		// Last resort is to collapse back to server truth rather than
		// retrying the mutation. If even that fails, the optimistic
		// snapshot stays in place.
		if snap, errFetch := s.remote.FetchCollection(ctx, cred, s.col); errFetch == nil {
			s.overwrite(snap.Items, snap.UpdatedAt)
		}
		return ErrReplicationFailed
	}

	s.overwrite(serverItems, time.Now())
	s.revalidate(ctx, cred)
	return nil
}

func (s *Store) overwrite(items []domain.Line, updatedAt time.Time) {
	s.mu.Lock()
	s.items = make(map[string]int, len(items))
	for _, l := range domain.NormalizeLines(items) {
		s.items[l.ID] = l.Qty
	}
	s.updatedAt = updatedAt
	s.mu.Unlock()
	s.notify()
}

// revalidate prunes ids the catalog no longer resolves. Best-effort: any
// failure keeps the last good state.
func (s *Store) revalidate(ctx context.Context, cred string) {
	if s.reval == nil {
		return
	}

	current := s.Read()
	kept, changed, err := s.reval.Prune(ctx, current)
	if err != nil {
		log.Printf("%s revalidation skipped: %v", s.col, err)
		return
	}
	if !changed {
		return
	}

	s.overwrite(kept, s.UpdatedAt())
	if _, errPush := s.remote.ReplaceCollection(ctx, cred, s.col, kept); errPush != nil {
		log.Printf("%s stale-id push failed: %v", s.col, errPush)
	}
}
