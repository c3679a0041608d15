// Package memory provides in-process stores for local runs and tests
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/ledger"
)

// TransactionStore implements ledger.Store in memory
type TransactionStore struct {
	mu  sync.RWMutex
	txs map[string]*ledger.Transaction
}

var _ ledger.Store = (*TransactionStore)(nil)

// NewTransactionStore creates an empty transaction store
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{txs: make(map[string]*ledger.Transaction)}
}

func (s *TransactionStore) Insert(_ context.Context, tx *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; ok {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	s.txs[tx.ID] = clone(tx)
	return nil
}

func (s *TransactionStore) Get(_ context.Context, id string) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return clone(tx), nil
}

func (s *TransactionStore) Update(_ context.Context, tx *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; !ok {
		return domain.ErrTransactionNotFound
	}
	s.txs[tx.ID] = clone(tx)
	return nil
}

func (s *TransactionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[id]; !ok {
		return domain.ErrTransactionNotFound
	}
	delete(s.txs, id)
	return nil
}

func (s *TransactionStore) FindByStatus(_ context.Context, statuses []ledger.Status) ([]*ledger.Transaction, error) {
	return s.filter(func(tx *ledger.Transaction) bool {
		return hasStatus(statuses, tx.Status)
	}), nil
}

func (s *TransactionStore) FindOlderThan(_ context.Context, cutoff time.Time, statuses []ledger.Status) ([]*ledger.Transaction, error) {
	return s.filter(func(tx *ledger.Transaction) bool {
		return tx.CreatedAt.Before(cutoff) && (len(statuses) == 0 || hasStatus(statuses, tx.Status))
	}), nil
}

func (s *TransactionStore) DeleteOlderThan(_ context.Context, cutoff time.Time, statuses []ledger.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, tx := range s.txs {
		if tx.CreatedAt.Before(cutoff) && (len(statuses) == 0 || hasStatus(statuses, tx.Status)) {
			delete(s.txs, id)
			n++
		}
	}
	return n, nil
}

func (s *TransactionStore) List(_ context.Context, f ledger.ListFilter) ([]*ledger.Transaction, error) {
	out := s.filter(func(tx *ledger.Transaction) bool {
		if f.Status != "" && tx.Status != f.Status {
			return false
		}
		if f.ChatID != "" && tx.ChatID != f.ChatID {
			return false
		}
		if f.Cursor != nil {
			if tx.CreatedAt.After(f.Cursor.CreatedAt) {
				return false
			}
			if tx.CreatedAt.Equal(f.Cursor.CreatedAt) && tx.ID >= f.Cursor.ID {
				return false
			}
		}
		return true
	})

	if f.PageSize > 0 && len(out) > f.PageSize {
		out = out[:f.PageSize]
	}
	return out, nil
}

func (s *TransactionStore) Count(_ context.Context, statuses []ledger.Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(statuses) == 0 {
		return len(s.txs), nil
	}
	n := 0
	for _, tx := range s.txs {
		if hasStatus(statuses, tx.Status) {
			n++
		}
	}
	return n, nil
}

// filter returns matching clones ordered newest first
func (s *TransactionStore) filter(keep func(*ledger.Transaction) bool) []*ledger.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ledger.Transaction
	for _, tx := range s.txs {
		if keep(tx) {
			out = append(out, clone(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func hasStatus(statuses []ledger.Status, s ledger.Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

// clone deep-copies through JSON so callers never share state with the store
func clone(tx *ledger.Transaction) *ledger.Transaction {
	data, err := json.Marshal(tx)
	if err != nil {
		panic(fmt.Sprintf("memory: cannot clone transaction: %v", err))
	}
	var out ledger.Transaction
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("memory: cannot clone transaction: %v", err))
	}
	return &out
}
