// Package bridge implements the gasless quote and settlement flow: the
// bridge quotes a transfer at zero cost to the user, locks reserve
// funds for delivery plus the gas subsidy, and signs the delivery
// transaction when the user settles.
package bridge

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// QuoteStatus tracks the lifecycle of a quote
type QuoteStatus string

const (
	QuoteStatusActive  QuoteStatus = "active"
	QuoteStatusSettled QuoteStatus = "settled"
	QuoteStatusExpired QuoteStatus = "expired"
	QuoteStatusFailed  QuoteStatus = "failed"
)

// SettlementStatus tracks the lifecycle of a settlement
type SettlementStatus string

const (
	SettlementStatusPending   SettlementStatus = "pending"
	SettlementStatusExecuting SettlementStatus = "executing"
	SettlementStatusCompleted SettlementStatus = "completed"
	SettlementStatusFailed    SettlementStatus = "failed"
)

// Quote is a priced offer to deliver funds on the destination chain.
// For a gasless quote AmountIn equals AmountOut and TotalCost is zero;
// GasEstimate records the subsidy the bridge commits to cover, in wei.
type Quote struct {
	ID                 string      `json:"id"`
	User               string      `json:"user"`
	AmountIn           *big.Int    `json:"amount_in"`
	AmountOut          *big.Int    `json:"amount_out"`
	TotalCost          *big.Int    `json:"total_cost"`
	GasEstimate        uint64      `json:"gas_estimate"`
	BaseFee            uint64      `json:"base_fee"`
	PriorityFee        uint64      `json:"priority_fee"`
	MaxFeePerGas       uint64      `json:"max_fee_per_gas"`
	SafetyMargin       uint64      `json:"safety_margin"`
	DestinationAddress string      `json:"destination_address"`
	Chain              string      `json:"chain"`
	CreatedAt          time.Time   `json:"created_at"`
	ExpiresAt          time.Time   `json:"expires_at"`
	Status             QuoteStatus `json:"status"`
}

// NewQuoteID generates a quote identifier
func NewQuoteID() string {
	return fmt.Sprintf("quote_%s", uuid.NewString())
}

// IsExpired reports whether the quote has reached its expiry instant.
// A quote is no longer honored at exactly ExpiresAt.
func (q *Quote) IsExpired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}

// IsValid reports whether the quote can still be settled
func (q *Quote) IsValid(now time.Time) bool {
	return q.Status == QuoteStatusActive && !q.IsExpired(now)
}

// TimeRemaining returns the validity window left, zero when expired
func (q *Quote) TimeRemaining(now time.Time) time.Duration {
	if q.IsExpired(now) {
		return 0
	}
	return q.ExpiresAt.Sub(now)
}

// BridgeSubsidy returns the gas cost the bridge absorbs, in wei
func (q *Quote) BridgeSubsidy() *big.Int {
	return new(big.Int).SetUint64(q.GasEstimate)
}

// TotalBridgeCost returns delivery amount plus the gas subsidy
func (q *Quote) TotalBridgeCost() *big.Int {
	return new(big.Int).Add(q.AmountOut, q.BridgeSubsidy())
}

// IsGasless reports whether the user pays nothing beyond the amount in
func (q *Quote) IsGasless() bool {
	return q.TotalCost != nil && q.TotalCost.Sign() == 0 && q.AmountIn.Cmp(q.AmountOut) == 0
}

// Settlement records the execution of a settled quote. Destination
// fields are copied from the quote at creation so the row stands on
// its own as an audit record.
type Settlement struct {
	ID                 string           `json:"id"`
	QuoteID            string           `json:"quote_id"`
	User               string           `json:"user"`
	Amount             *big.Int         `json:"amount"`
	DestinationAddress string           `json:"destination_address"`
	DestinationChain   string           `json:"destination_chain"`
	PaymentProof       string           `json:"payment_proof"`
	Status             SettlementStatus `json:"status"`
	GasUsed            *uint64          `json:"gas_used,omitempty"`
	TransactionHash    *string          `json:"transaction_hash,omitempty"`
	RetryCount         int              `json:"retry_count"`
	LastError          *string          `json:"last_error,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// NewSettlementID generates a settlement identifier
func NewSettlementID() string {
	return fmt.Sprintf("settlement_%s", uuid.NewString())
}

// MarkExecuting transitions the settlement into execution
func (s *Settlement) MarkExecuting(now time.Time) {
	s.Status = SettlementStatusExecuting
	s.UpdatedAt = now
}

// MarkCompleted records successful delivery
func (s *Settlement) MarkCompleted(txHash string, gasUsed uint64, now time.Time) {
	s.Status = SettlementStatusCompleted
	s.TransactionHash = &txHash
	s.GasUsed = &gasUsed
	s.UpdatedAt = now
}

// MarkFailed records a terminal failure
func (s *Settlement) MarkFailed(reason string, now time.Time) {
	s.Status = SettlementStatusFailed
	s.LastError = &reason
	s.RetryCount++
	s.UpdatedAt = now
}

// AuditEntry is an append-only operational event record
type AuditEntry struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Details   string    `json:"details"`
	User      string    `json:"user,omitempty"`
	Amount    *big.Int  `json:"amount,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
