package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/flexprice/billingops/internal/domain/settlement"
)

// InMemoryBalanceStore implements settlement.BalanceRepository.
// Repeated idempotency keys return the original transaction id.
type InMemoryBalanceStore struct {
	mu           sync.Mutex
	transactions []settlement.CreditTransaction
	byKey        map[string]string
	seq          int
	// Err fails every call when set.
	Err error
}

func NewInMemoryBalanceStore() *InMemoryBalanceStore {
	return &InMemoryBalanceStore{byKey: make(map[string]string)}
}

func (s *InMemoryBalanceStore) CreateCreditTransaction(_ context.Context, txn *settlement.CreditTransaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return "", s.Err
	}
	if txn.IdempotencyKey != "" {
		if id, ok := s.byKey[txn.IdempotencyKey]; ok {
			return id, nil
		}
	}
	s.seq++
	id := fmt.Sprintf("cbtxn_test_%d", s.seq)
	s.transactions = append(s.transactions, *txn)
	if txn.IdempotencyKey != "" {
		s.byKey[txn.IdempotencyKey] = id
	}
	return id, nil
}

func (s *InMemoryBalanceStore) Transactions() []settlement.CreditTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]settlement.CreditTransaction(nil), s.transactions...)
}

// Balance is the total credit granted to customerID.
func (s *InMemoryBalanceStore) Balance(customerID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, t := range s.transactions {
		if t.CustomerID == customerID {
			total += t.Amount
		}
	}
	return total
}

func (s *InMemoryBalanceStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = nil
	s.byKey = make(map[string]string)
	s.Err = nil
}
