package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/chainsafe/gasless-bridge/pkg/reserve"
)

// Sentinel errors returned by Store implementations
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// Store persists quotes, settlements, reserve snapshots and the audit
// trail. CreateSettlement must fail with ErrAlreadyExists when a
// settlement for the same quote already exists, regardless of caller;
// that uniqueness is the idempotency guarantee for concurrent settles.
type Store interface {
	CreateQuote(ctx context.Context, quote *Quote) error
	GetQuote(ctx context.Context, id string) (*Quote, error)
	UpdateQuote(ctx context.Context, quote *Quote) error
	QuotesByUser(ctx context.Context, user string) ([]*Quote, error)

	CreateSettlement(ctx context.Context, settlement *Settlement) error
	GetSettlement(ctx context.Context, id string) (*Settlement, error)
	GetSettlementByQuote(ctx context.Context, quoteID string) (*Settlement, error)
	UpdateSettlement(ctx context.Context, settlement *Settlement) error
	SettlementsByUser(ctx context.Context, user string) ([]*Settlement, error)
	PendingSettlementsBefore(ctx context.Context, cutoff time.Time) ([]*Settlement, error)

	SaveReserveSnapshot(ctx context.Context, state *reserve.State) error
	LoadReserveSnapshot(ctx context.Context) (*reserve.State, error)

	AppendAuditEntry(ctx context.Context, entry *AuditEntry) error
	AuditEntries(ctx context.Context, limit int) ([]*AuditEntry, error)
}
