// Package db provides the persistence layer for quotes, settlements,
// reserve snapshots and the audit trail.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/chainsafe/gasless-bridge/pkg/bridge"
	"github.com/chainsafe/gasless-bridge/pkg/reserve"
)

// PgStore is the PostgreSQL implementation of bridge.Store
type PgStore struct {
	db *bun.DB
}

// NewPgStore creates a Postgres-backed store
func NewPgStore(db *bun.DB) *PgStore {
	return &PgStore{db: db}
}

// InitSchema creates the tables if they do not exist
func (s *PgStore) InitSchema(ctx context.Context) error {
	models := []interface{}{
		(*QuoteDao)(nil),
		(*SettlementDao)(nil),
		(*ReserveStateDao)(nil),
		(*AuditLogDao)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
	}
	return nil
}

func (s *PgStore) CreateQuote(ctx context.Context, quote *bridge.Quote) error {
	_, err := s.db.NewInsert().
		Model(toQuoteDao(quote)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create quote: %w", err)
	}
	return nil
}

func (s *PgStore) GetQuote(ctx context.Context, id string) (*bridge.Quote, error) {
	dao := new(QuoteDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bridge.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	return toQuote(dao)
}

func (s *PgStore) UpdateQuote(ctx context.Context, quote *bridge.Quote) error {
	result, err := s.db.NewUpdate().
		Model(toQuoteDao(quote)).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update quote: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return bridge.ErrNotFound
	}
	return nil
}

func (s *PgStore) QuotesByUser(ctx context.Context, user string) ([]*bridge.Quote, error) {
	var daos []*QuoteDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("user_id = ?", user).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list quotes: %w", err)
	}
	quotes := make([]*bridge.Quote, 0, len(daos))
	for _, dao := range daos {
		quote, err := toQuote(dao)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

// CreateSettlement inserts a settlement, relying on the unique quote_id
// constraint to reject a second settlement for the same quote. The
// conflict clause keeps the race between concurrent settles a clean
// ErrAlreadyExists instead of a driver error.
func (s *PgStore) CreateSettlement(ctx context.Context, settlement *bridge.Settlement) error {
	result, err := s.db.NewInsert().
		Model(toSettlementDao(settlement)).
		On("CONFLICT (quote_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create settlement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create settlement: %w", err)
	}
	if affected == 0 {
		return bridge.ErrAlreadyExists
	}
	return nil
}

func (s *PgStore) GetSettlement(ctx context.Context, id string) (*bridge.Settlement, error) {
	dao := new(SettlementDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bridge.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return toSettlement(dao)
}

func (s *PgStore) GetSettlementByQuote(ctx context.Context, quoteID string) (*bridge.Settlement, error) {
	dao := new(SettlementDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("quote_id = ?", quoteID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bridge.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get settlement by quote: %w", err)
	}
	return toSettlement(dao)
}

func (s *PgStore) UpdateSettlement(ctx context.Context, settlement *bridge.Settlement) error {
	result, err := s.db.NewUpdate().
		Model(toSettlementDao(settlement)).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return bridge.ErrNotFound
	}
	return nil
}

func (s *PgStore) SettlementsByUser(ctx context.Context, user string) ([]*bridge.Settlement, error) {
	var daos []*SettlementDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("user_id = ?", user).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	settlements := make([]*bridge.Settlement, 0, len(daos))
	for _, dao := range daos {
		settlement, err := toSettlement(dao)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, settlement)
	}
	return settlements, nil
}

func (s *PgStore) PendingSettlementsBefore(ctx context.Context, cutoff time.Time) ([]*bridge.Settlement, error) {
	var daos []*SettlementDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("status IN (?)", bun.In([]string{
			string(bridge.SettlementStatusPending),
			string(bridge.SettlementStatusExecuting),
		})).
		Where("created_at < ?", cutoff).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck settlements: %w", err)
	}
	settlements := make([]*bridge.Settlement, 0, len(daos))
	for _, dao := range daos {
		settlement, err := toSettlement(dao)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, settlement)
	}
	return settlements, nil
}

// SaveReserveSnapshot upserts the single reserve state row
func (s *PgStore) SaveReserveSnapshot(ctx context.Context, state *reserve.State) error {
	dao := toReserveStateDao(state, time.Now())
	_, err := s.db.NewInsert().
		Model(dao).
		On("CONFLICT (id) DO UPDATE").
		Set("total_balance = EXCLUDED.total_balance").
		Set("locked_balance = EXCLUDED.locked_balance").
		Set("threshold_warning = EXCLUDED.threshold_warning").
		Set("threshold_critical = EXCLUDED.threshold_critical").
		Set("daily_volume = EXCLUDED.daily_volume").
		Set("daily_limit = EXCLUDED.daily_limit").
		Set("last_topup = EXCLUDED.last_topup").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save reserve snapshot: %w", err)
	}
	return nil
}

func (s *PgStore) LoadReserveSnapshot(ctx context.Context) (*reserve.State, error) {
	dao := new(ReserveStateDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("id = 1").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bridge.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load reserve snapshot: %w", err)
	}
	return toReserveState(dao)
}

func (s *PgStore) AppendAuditEntry(ctx context.Context, entry *bridge.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.NewInsert().
		Model(toAuditLogDao(entry)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *PgStore) AuditEntries(ctx context.Context, limit int) ([]*bridge.AuditEntry, error) {
	var daos []*AuditLogDao
	query := s.db.NewSelect().
		Model(&daos).
		Order("timestamp DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	entries := make([]*bridge.AuditEntry, 0, len(daos))
	for _, dao := range daos {
		entry, err := toAuditEntry(dao)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
