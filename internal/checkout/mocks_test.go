package checkout

import (
	"context"
	"fmt"
	"sync"

	"github.com/fjod/go_storefront/internal/domain"
)

// memorySession is an in-memory session.Store for orchestrator tests.
type memorySession struct {
	m       sync.Mutex
	gates   map[string]domain.GateStatus
	intents map[string]*domain.Intent
	promos  map[string]map[string]string
}

func newMemorySession() *memorySession {
	return &memorySession{
		gates:   make(map[string]domain.GateStatus),
		intents: make(map[string]*domain.Intent),
		promos:  make(map[string]map[string]string),
	}
}

func (s *memorySession) GrantGate(_ context.Context, sid string) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.gates[sid] = domain.GateStatusGated
	return nil
}

func (s *memorySession) MarkInCheckout(_ context.Context, sid string) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.gates[sid] = domain.GateStatusInCheckout
	return nil
}

func (s *memorySession) GateStatus(_ context.Context, sid string) domain.GateStatus {
	s.m.Lock()
	defer s.m.Unlock()
	if status, ok := s.gates[sid]; ok {
		return status
	}
	return domain.GateStatusNone
}

func (s *memorySession) HasGate(ctx context.Context, sid string) bool {
	return s.GateStatus(ctx, sid) != domain.GateStatusNone
}

func (s *memorySession) RevokeGate(_ context.Context, sid string) error {
	s.m.Lock()
	defer s.m.Unlock()
	delete(s.gates, sid)
	return nil
}

func (s *memorySession) SetIntent(_ context.Context, sid string, items []domain.Line) error {
	intent := domain.NewIntent(items)
	if intent == nil {
		return ErrEmptyCart
	}
	s.m.Lock()
	defer s.m.Unlock()
	s.intents[sid] = intent
	return nil
}

func (s *memorySession) GetIntent(_ context.Context, sid string) *domain.Intent {
	s.m.Lock()
	defer s.m.Unlock()
	return s.intents[sid]
}

func (s *memorySession) ClearIntent(_ context.Context, sid string) error {
	s.m.Lock()
	defer s.m.Unlock()
	delete(s.intents, sid)
	return nil
}

func (s *memorySession) SetPromo(_ context.Context, sid, productID, code string) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.promos[sid] == nil {
		s.promos[sid] = make(map[string]string)
	}
	s.promos[sid][productID] = code
	return nil
}

func (s *memorySession) Promos(_ context.Context, sid string) map[string]string {
	s.m.Lock()
	defer s.m.Unlock()
	out := make(map[string]string, len(s.promos[sid]))
	for k, v := range s.promos[sid] {
		out[k] = v
	}
	return out
}

// mockMarketplace is a hand-rolled Marketplace double.
type mockMarketplace struct {
	m sync.Mutex

	products map[string]domain.ProductRef
	owners   map[string][2]string // productID -> {shopID, ownerID}
	promoOK  map[string]int64     // code -> discount

	batchErr  error
	freeErr   error
	cardErr   error
	cryptoErr error

	freeCalls   int
	cardCalls   int
	cryptoCalls int

	cardRedirect string
	cryptoRef    *domain.CryptoPaymentRef
}

func (m *mockMarketplace) BatchProducts(_ context.Context, ids []string) ([]domain.ProductRef, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	var refs []domain.ProductRef
	for _, id := range ids {
		if ref, ok := m.products[id]; ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func (m *mockMarketplace) ListingOwner(_ context.Context, productID string) (string, string, error) {
	m.m.Lock()
	defer m.m.Unlock()
	pair, ok := m.owners[productID]
	if !ok {
		if ref, exists := m.products[productID]; exists {
			return ref.ShopID, ref.OwnerID, nil
		}
		return "", "", nil
	}
	return pair[0], pair[1], nil
}

func (m *mockMarketplace) ValidatePromo(_ context.Context, _, _ string, code string) (int64, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if d, ok := m.promoOK[code]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("code %q rejected", code)
}

func (m *mockMarketplace) CreateFreeOrder(_ context.Context, _ string, _ []domain.Line) (string, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.freeCalls++
	if m.freeErr != nil {
		return "", m.freeErr
	}
	return "ord-free", nil
}

func (m *mockMarketplace) CreateCardPayment(_ context.Context, _ string, _ []domain.Line, _ map[string]string) (string, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.cardCalls++
	if m.cardErr != nil {
		return "", m.cardErr
	}
	if m.cardRedirect == "" {
		return "https://pay.example/redirect", nil
	}
	return m.cardRedirect, nil
}

func (m *mockMarketplace) CreateCryptoPayment(_ context.Context, _ string, _ []domain.Line, _ map[string]string) (*domain.CryptoPaymentRef, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.cryptoCalls++
	if m.cryptoErr != nil {
		return nil, m.cryptoErr
	}
	if m.cryptoRef == nil {
		return &domain.CryptoPaymentRef{Reference: "REF-1", Amount: 1000, OrderID: "ord-crypto"}, nil
	}
	return m.cryptoRef, nil
}
