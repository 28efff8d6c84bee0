package db

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainsafe/gasless-bridge/pkg/bridge"
	"github.com/chainsafe/gasless-bridge/pkg/reserve"
)

// MemoryStore is an in-process bridge.Store for development and tests.
// It mirrors the Postgres store's semantics, including the unique
// settlement-per-quote constraint.
type MemoryStore struct {
	mu                sync.RWMutex
	quotes            map[string]*bridge.Quote
	settlements       map[string]*bridge.Settlement
	settlementByQuote map[string]string
	snapshot          *reserve.State
	audit             []*bridge.AuditEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotes:            make(map[string]*bridge.Quote),
		settlements:       make(map[string]*bridge.Settlement),
		settlementByQuote: make(map[string]string),
	}
}

func (s *MemoryStore) CreateQuote(_ context.Context, quote *bridge.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quotes[quote.ID]; ok {
		return bridge.ErrAlreadyExists
	}
	s.quotes[quote.ID] = cloneQuote(quote)
	return nil
}

func (s *MemoryStore) GetQuote(_ context.Context, id string) (*bridge.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quote, ok := s.quotes[id]
	if !ok {
		return nil, bridge.ErrNotFound
	}
	return cloneQuote(quote), nil
}

func (s *MemoryStore) UpdateQuote(_ context.Context, quote *bridge.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quotes[quote.ID]; !ok {
		return bridge.ErrNotFound
	}
	s.quotes[quote.ID] = cloneQuote(quote)
	return nil
}

func (s *MemoryStore) QuotesByUser(_ context.Context, user string) ([]*bridge.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var quotes []*bridge.Quote
	for _, quote := range s.quotes {
		if quote.User == user {
			quotes = append(quotes, cloneQuote(quote))
		}
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].CreatedAt.After(quotes[j].CreatedAt) })
	return quotes, nil
}

func (s *MemoryStore) CreateSettlement(_ context.Context, settlement *bridge.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settlementByQuote[settlement.QuoteID]; ok {
		return bridge.ErrAlreadyExists
	}
	if _, ok := s.settlements[settlement.ID]; ok {
		return bridge.ErrAlreadyExists
	}
	s.settlements[settlement.ID] = cloneSettlement(settlement)
	s.settlementByQuote[settlement.QuoteID] = settlement.ID
	return nil
}

func (s *MemoryStore) GetSettlement(_ context.Context, id string) (*bridge.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settlement, ok := s.settlements[id]
	if !ok {
		return nil, bridge.ErrNotFound
	}
	return cloneSettlement(settlement), nil
}

func (s *MemoryStore) GetSettlementByQuote(_ context.Context, quoteID string) (*bridge.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.settlementByQuote[quoteID]
	if !ok {
		return nil, bridge.ErrNotFound
	}
	return cloneSettlement(s.settlements[id]), nil
}

func (s *MemoryStore) UpdateSettlement(_ context.Context, settlement *bridge.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settlements[settlement.ID]; !ok {
		return bridge.ErrNotFound
	}
	s.settlements[settlement.ID] = cloneSettlement(settlement)
	return nil
}

func (s *MemoryStore) SettlementsByUser(_ context.Context, user string) ([]*bridge.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var settlements []*bridge.Settlement
	for _, settlement := range s.settlements {
		if settlement.User == user {
			settlements = append(settlements, cloneSettlement(settlement))
		}
	}
	sort.Slice(settlements, func(i, j int) bool {
		return settlements[i].CreatedAt.After(settlements[j].CreatedAt)
	})
	return settlements, nil
}

func (s *MemoryStore) PendingSettlementsBefore(_ context.Context, cutoff time.Time) ([]*bridge.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stuck []*bridge.Settlement
	for _, settlement := range s.settlements {
		nonTerminal := settlement.Status == bridge.SettlementStatusPending ||
			settlement.Status == bridge.SettlementStatusExecuting
		if nonTerminal && settlement.CreatedAt.Before(cutoff) {
			stuck = append(stuck, cloneSettlement(settlement))
		}
	}
	return stuck, nil
}

func (s *MemoryStore) SaveReserveSnapshot(_ context.Context, state *reserve.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := state.Clone()
	s.snapshot = &clone
	return nil
}

func (s *MemoryStore) LoadReserveSnapshot(_ context.Context) (*reserve.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil, bridge.ErrNotFound
	}
	clone := s.snapshot.Clone()
	return &clone, nil
}

func (s *MemoryStore) AppendAuditEntry(_ context.Context, entry *bridge.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *entry
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.Amount != nil {
		clone.Amount = new(big.Int).Set(entry.Amount)
	}
	s.audit = append(s.audit, &clone)
	return nil
}

func (s *MemoryStore) AuditEntries(_ context.Context, limit int) ([]*bridge.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]*bridge.AuditEntry, len(s.audit))
	copy(entries, s.audit)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func cloneQuote(quote *bridge.Quote) *bridge.Quote {
	clone := *quote
	clone.AmountIn = new(big.Int).Set(quote.AmountIn)
	clone.AmountOut = new(big.Int).Set(quote.AmountOut)
	clone.TotalCost = new(big.Int).Set(quote.TotalCost)
	return &clone
}

func cloneSettlement(settlement *bridge.Settlement) *bridge.Settlement {
	clone := *settlement
	clone.Amount = new(big.Int).Set(settlement.Amount)
	if settlement.GasUsed != nil {
		gasUsed := *settlement.GasUsed
		clone.GasUsed = &gasUsed
	}
	if settlement.TransactionHash != nil {
		hash := *settlement.TransactionHash
		clone.TransactionHash = &hash
	}
	if settlement.LastError != nil {
		lastErr := *settlement.LastError
		clone.LastError = &lastErr
	}
	return &clone
}
