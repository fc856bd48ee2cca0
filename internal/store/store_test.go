package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/upstream"
)

type mockRemote struct {
	m          sync.RWMutex
	items      []domain.Line
	fetchErr   error
	putErr     error
	replaceErr error

	fetchCalls   int
	putCalls     int
	replaceCalls int
}

func (m *mockRemote) FetchCollection(context.Context, string, upstream.Collection) (*domain.Snapshot, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.fetchCalls++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return &domain.Snapshot{Items: append([]domain.Line(nil), m.items...)}, nil
}

func (m *mockRemote) ReplaceCollection(_ context.Context, _ string, _ upstream.Collection, items []domain.Line) ([]domain.Line, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.replaceCalls++
	if m.replaceErr != nil {
		return nil, m.replaceErr
	}
	m.items = domain.NormalizeLines(items)
	return append([]domain.Line(nil), m.items...), nil
}

func (m *mockRemote) PutLine(_ context.Context, _ string, _ upstream.Collection, id string, qty int) ([]domain.Line, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.putCalls++
	if m.putErr != nil {
		return nil, m.putErr
	}

	next := make([]domain.Line, 0, len(m.items)+1)
	for _, l := range m.items {
		if l.ID != id {
			next = append(next, l)
		}
	}
	if qty > 0 {
		next = append(next, domain.Line{ID: id, Qty: qty})
	}
	m.items = next
	return append([]domain.Line(nil), m.items...), nil
}

func (m *mockRemote) serverItems() []domain.Line {
	m.m.RLock()
	defer m.m.RUnlock()
	return append([]domain.Line(nil), m.items...)
}

type mockCatalog struct {
	m        sync.RWMutex
	existing map[string]bool
	err      error
	calls    int
}

func (m *mockCatalog) BatchProducts(_ context.Context, ids []string) ([]domain.ProductRef, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var refs []domain.ProductRef
	for _, id := range ids {
		if m.existing[id] {
			refs = append(refs, domain.ProductRef{ID: id})
		}
	}
	return refs, nil
}

type countingPrompter struct {
	m     sync.Mutex
	calls int
}

func (p *countingPrompter) PromptLogin() {
	p.m.Lock()
	defer p.m.Unlock()
	p.calls++
}

func (p *countingPrompter) count() int {
	p.m.Lock()
	defer p.m.Unlock()
	return p.calls
}

func newTestStore(remote *mockRemote, catalog *mockCatalog, prompt AuthPrompter) *Store {
	var reval *Revalidator
	if catalog != nil {
		reval = NewRevalidator(catalog)
	}
	return New(upstream.CollectionCart, remote, reval, prompt)
}

func TestSetQuantity_OptimisticThenReconciled(t *testing.T) {
	remote := &mockRemote{}
	sut := newTestStore(remote, nil, nil)

	err := sut.SetQuantity(context.Background(), "tok", "A", 3)
	require.NoError(t, err)

	assert.Equal(t, []domain.Line{{ID: "A", Qty: 3}}, sut.Read())
	assert.Equal(t, []domain.Line{{ID: "A", Qty: 3}}, remote.serverItems())
	assert.Equal(t, 1, remote.putCalls)
	assert.Equal(t, 0, remote.replaceCalls)
}

func TestSetQuantity_Idempotent(t *testing.T) {
	remote := &mockRemote{}
	sut := newTestStore(remote, nil, nil)
	ctx := context.Background()

	require.NoError(t, sut.SetQuantity(ctx, "tok", "A", 2))
	first := sut.Read()
	require.NoError(t, sut.SetQuantity(ctx, "tok", "A", 2))

	assert.Equal(t, first, sut.Read())
	assert.Equal(t, first, remote.serverItems())
}

func TestSetQuantity_ZeroOrNegativeRemovesLine(t *testing.T) {
	remote := &mockRemote{items: []domain.Line{{ID: "A", Qty: 2}}}
	sut := newTestStore(remote, nil, nil)
	ctx := context.Background()

	require.NoError(t, sut.Sync(ctx, "tok"))
	require.NoError(t, sut.SetQuantity(ctx, "tok", "A", 0))
	assert.Empty(t, sut.Read())

	require.NoError(t, sut.SetQuantity(ctx, "tok", "B", -5))
	assert.Empty(t, sut.Read())
}

func TestAddRemove_NeverObservablyNegative(t *testing.T) {
	remote := &mockRemote{}
	sut := newTestStore(remote, nil, nil)
	ctx := context.Background()

	require.NoError(t, sut.Add(ctx, "tok", "A", 2))
	require.NoError(t, sut.Remove(ctx, "tok", "A", 5))

	assert.Empty(t, sut.Read(), "line removed at or below zero, never negative")
	assert.Empty(t, remote.serverItems())
}

func TestMutations_GuestIsolation(t *testing.T) {
	remote := &mockRemote{items: []domain.Line{{ID: "A", Qty: 1}}}
	prompt := &countingPrompter{}
	sut := newTestStore(remote, nil, prompt)
	ctx := context.Background()

	require.NoError(t, sut.Sync(ctx, "tok"))
	before := sut.Read()

	calls := []func() error{
		func() error { return sut.SetQuantity(ctx, "", "A", 5) },
		func() error { return sut.Add(ctx, "", "A", 1) },
		func() error { return sut.Remove(ctx, "", "A", 1) },
		func() error { return sut.Toggle(ctx, "", "B") },
		func() error { return sut.Clear(ctx, "") },
	}
	for i, call := range calls {
		err := call()
		require.ErrorIs(t, err, domain.ErrAuthRequired)
		assert.Equal(t, before, sut.Read(), "snapshot must be unchanged")
		assert.Equal(t, i+1, prompt.count(), "exactly one prompt per call")
	}
	assert.Equal(t, before, remote.serverItems())
}

func TestMutate_PerLineFailureFallsBackToFullReplace(t *testing.T) {
	remote := &mockRemote{putErr: fmt.Errorf("route not deployed")}
	sut := newTestStore(remote, nil, nil)

	err := sut.SetQuantity(context.Background(), "tok", "A", 2)
	require.NoError(t, err)

	assert.Equal(t, 1, remote.putCalls)
	assert.Equal(t, 1, remote.replaceCalls)
	assert.Equal(t, []domain.Line{{ID: "A", Qty: 2}}, remote.serverItems())
}

func TestMutate_ReplicationFailureRefetchesServerTruth(t *testing.T) {
	remote := &mockRemote{
		items:      []domain.Line{{ID: "A", Qty: 1}},
		putErr:     fmt.Errorf("network down"),
		replaceErr: fmt.Errorf("network down"),
	}
	sut := newTestStore(remote, nil, nil)
	ctx := context.Background()

	require.NoError(t, sut.Sync(ctx, "tok"))

	err := sut.SetQuantity(ctx, "tok", "A", 9)
	require.ErrorIs(t, err, ErrReplicationFailed)

	// Optimistic guess collapsed back to server truth.
	assert.Equal(t, []domain.Line{{ID: "A", Qty: 1}}, sut.Read())
}

func TestMutate_RefetchFailurePreservesOptimisticState(t *testing.T) {
	remote := &mockRemote{}
	sut := newTestStore(remote, nil, nil)
	ctx := context.Background()

	require.NoError(t, sut.SetQuantity(ctx, "tok", "A", 4), "first write succeeds before the outage")

	remote.m.Lock()
	remote.putErr = fmt.Errorf("network down")
	remote.replaceErr = fmt.Errorf("network down")
	remote.fetchErr = fmt.Errorf("network down")
	remote.m.Unlock()

	err := sut.SetQuantity(ctx, "tok", "A", 7)
	require.ErrorIs(t, err, ErrReplicationFailed)
	assert.Equal(t, []domain.Line{{ID: "A", Qty: 7}}, sut.Read(), "optimistic state preserved when nothing better exists")
}

func TestToggle_PresenceSemantics(t *testing.T) {
	remote := &mockRemote{}
	sut := newTestStore(remote, nil, nil)
	ctx := context.Background()

	require.NoError(t, sut.Toggle(ctx, "tok", "A"))
	assert.Equal(t, []domain.Line{{ID: "A", Qty: 1}}, sut.Read())

	require.NoError(t, sut.Toggle(ctx, "tok", "A"))
	assert.Empty(t, sut.Read())
	assert.Empty(t, remote.serverItems())
}

func TestClear(t *testing.T) {
	remote := &mockRemote{items: []domain.Line{{ID: "A", Qty: 2}, {ID: "B", Qty: 1}}}
	sut := newTestStore(remote, nil, nil)
	ctx := context.Background()

	require.NoError(t, sut.Sync(ctx, "tok"))
	require.NoError(t, sut.Clear(ctx, "tok"))

	assert.Empty(t, sut.Read())
	assert.Empty(t, remote.serverItems())
}

func TestRevalidation_PrunesStaleIdsLocallyAndRemotely(t *testing.T) {
	remote := &mockRemote{items: []domain.Line{{ID: "X", Qty: 3}, {ID: "B", Qty: 1}}}
	catalog := &mockCatalog{existing: map[string]bool{"B": true}}
	sut := newTestStore(remote, catalog, nil)

	require.NoError(t, sut.Sync(context.Background(), "tok"))

	assert.Equal(t, []domain.Line{{ID: "B", Qty: 1}}, sut.Read(), "X dropped regardless of quantity")
	assert.Equal(t, []domain.Line{{ID: "B", Qty: 1}}, remote.serverItems())
}

func TestRevalidation_FailureKeepsLastGoodState(t *testing.T) {
	remote := &mockRemote{items: []domain.Line{{ID: "A", Qty: 2}}}
	catalog := &mockCatalog{err: fmt.Errorf("catalog down")}
	sut := newTestStore(remote, catalog, nil)

	require.NoError(t, sut.Sync(context.Background(), "tok"))
	assert.Equal(t, []domain.Line{{ID: "A", Qty: 2}}, sut.Read())
}

func TestSubscribe_NotifiesOnChangeUntilUnsubscribed(t *testing.T) {
	remote := &mockRemote{}
	sut := newTestStore(remote, nil, nil)
	ctx := context.Background()

	var m sync.Mutex
	notified := 0
	unsubscribe := sut.Subscribe(func() {
		m.Lock()
		notified++
		m.Unlock()
	})

	require.NoError(t, sut.SetQuantity(ctx, "tok", "A", 1))
	m.Lock()
	afterFirst := notified
	m.Unlock()
	assert.GreaterOrEqual(t, afterFirst, 1)

	unsubscribe()
	require.NoError(t, sut.SetQuantity(ctx, "tok", "A", 2))
	m.Lock()
	assert.Equal(t, afterFirst, notified, "no notifications after unsubscribe")
	m.Unlock()
}

func TestManager_ReturnsSameStorePerSessionAndCollection(t *testing.T) {
	remote := &mockRemote{}
	catalog := &mockCatalog{existing: map[string]bool{}}
	m := NewManager(remote, catalog, &countingPrompter{})

	cart1 := m.Get("s1", upstream.CollectionCart)
	cart2 := m.Get("s1", upstream.CollectionCart)
	wish := m.Get("s1", upstream.CollectionWishlist)
	other := m.Get("s2", upstream.CollectionCart)

	assert.Same(t, cart1, cart2)
	assert.NotSame(t, cart1, wish)
	assert.NotSame(t, cart1, other)

	m.Drop("s1")
	assert.NotSame(t, cart1, m.Get("s1", upstream.CollectionCart))
}

func TestManager_EvictIdleKeepsActiveSessions(t *testing.T) {
	remote := &mockRemote{}
	catalog := &mockCatalog{existing: map[string]bool{}}
	m := NewManager(remote, catalog, &countingPrompter{})

	current := time.Now()
	m.now = func() time.Time { return current }

	stale := m.Get("idle", upstream.CollectionCart)
	m.Get("idle", upstream.CollectionWishlist)

	current = current.Add(25 * time.Hour)
	active := m.Get("busy", upstream.CollectionCart)

	assert.Equal(t, 2, m.EvictIdle(24*time.Hour))
	assert.Same(t, active, m.Get("busy", upstream.CollectionCart), "recently touched stores survive")
	assert.NotSame(t, stale, m.Get("idle", upstream.CollectionCart), "idle sessions start over")
}
