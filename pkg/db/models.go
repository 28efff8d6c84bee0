package db

import (
	"fmt"
	"math/big"
	"time"

	"github.com/uptrace/bun"

	"github.com/chainsafe/gasless-bridge/pkg/bridge"
	"github.com/chainsafe/gasless-bridge/pkg/reserve"
)

// QuoteDao maps directly to the 'quotes' table in PostgreSQL. Wei
// amounts are stored as numeric strings, they exceed int64.
type QuoteDao struct {
	bun.BaseModel      `bun:"table:quotes,alias:q"`
	ID                 string    `bun:"id,pk,type:varchar(64)"`
	UserID             string    `bun:"user_id,notnull,type:varchar(255)"`
	AmountIn           string    `bun:"amount_in,notnull,type:numeric(78,0)"`
	AmountOut          string    `bun:"amount_out,notnull,type:numeric(78,0)"`
	TotalCost          string    `bun:"total_cost,notnull,type:numeric(78,0)"`
	GasEstimate        uint64    `bun:"gas_estimate,notnull"`
	BaseFee            uint64    `bun:"base_fee,notnull"`
	PriorityFee        uint64    `bun:"priority_fee,notnull"`
	MaxFeePerGas       uint64    `bun:"max_fee_per_gas,notnull"`
	SafetyMargin       uint64    `bun:"safety_margin,notnull"`
	DestinationAddress string    `bun:"destination_address,notnull,type:varchar(42)"`
	Chain              string    `bun:"chain,notnull,type:varchar(64)"`
	CreatedAt          time.Time `bun:"created_at,notnull"`
	ExpiresAt          time.Time `bun:"expires_at,notnull"`
	Status             string    `bun:"status,notnull,type:varchar(16)"`
}

// SettlementDao maps to the 'settlements' table. The unique constraint
// on quote_id is the idempotency guarantee for concurrent settles.
type SettlementDao struct {
	bun.BaseModel      `bun:"table:settlements,alias:s"`
	ID                 string    `bun:"id,pk,type:varchar(64)"`
	QuoteID            string    `bun:"quote_id,unique,notnull,type:varchar(64)"`
	UserID             string    `bun:"user_id,notnull,type:varchar(255)"`
	Amount             string    `bun:"amount,notnull,type:numeric(78,0)"`
	DestinationAddress string    `bun:"destination_address,notnull,type:varchar(42)"`
	DestinationChain   string    `bun:"destination_chain,notnull,type:varchar(64)"`
	PaymentProof       string    `bun:"payment_proof,notnull,type:text"`
	Status             string    `bun:"status,notnull,type:varchar(16)"`
	GasUsed            *uint64   `bun:"gas_used"`
	TransactionHash    *string   `bun:"transaction_hash,type:varchar(66)"`
	RetryCount         int       `bun:"retry_count,notnull,default:0"`
	LastError          *string   `bun:"last_error,type:text"`
	CreatedAt          time.Time `bun:"created_at,notnull"`
	UpdatedAt          time.Time `bun:"updated_at,notnull"`
}

// ReserveStateDao maps to the single-row 'reserve_state' table
type ReserveStateDao struct {
	bun.BaseModel     `bun:"table:reserve_state,alias:rs"`
	ID                int64     `bun:"id,pk"`
	TotalBalance      string    `bun:"total_balance,notnull,type:numeric(78,0)"`
	LockedBalance     string    `bun:"locked_balance,notnull,type:numeric(78,0)"`
	ThresholdWarning  string    `bun:"threshold_warning,notnull,type:numeric(78,0)"`
	ThresholdCritical string    `bun:"threshold_critical,notnull,type:numeric(78,0)"`
	DailyVolume       string    `bun:"daily_volume,notnull,type:numeric(78,0)"`
	DailyLimit        string    `bun:"daily_limit,notnull,type:numeric(78,0)"`
	LastTopup         time.Time `bun:"last_topup,nullzero"`
	UpdatedAt         time.Time `bun:"updated_at,notnull"`
}

// AuditLogDao maps to the append-only 'audit_log' table
type AuditLogDao struct {
	bun.BaseModel `bun:"table:audit_log,alias:a"`
	ID            string    `bun:"id,pk,type:varchar(64)"`
	EventType     string    `bun:"event_type,notnull,type:varchar(64)"`
	Details       string    `bun:"details,notnull,type:text"`
	UserID        *string   `bun:"user_id,type:varchar(255)"`
	Amount        *string   `bun:"amount,type:numeric(78,0)"`
	TxHash        *string   `bun:"tx_hash,type:varchar(66)"`
	Timestamp     time.Time `bun:"timestamp,notnull"`
}

func toQuoteDao(quote *bridge.Quote) *QuoteDao {
	return &QuoteDao{
		ID:                 quote.ID,
		UserID:             quote.User,
		AmountIn:           quote.AmountIn.String(),
		AmountOut:          quote.AmountOut.String(),
		TotalCost:          quote.TotalCost.String(),
		GasEstimate:        quote.GasEstimate,
		BaseFee:            quote.BaseFee,
		PriorityFee:        quote.PriorityFee,
		MaxFeePerGas:       quote.MaxFeePerGas,
		SafetyMargin:       quote.SafetyMargin,
		DestinationAddress: quote.DestinationAddress,
		Chain:              quote.Chain,
		CreatedAt:          quote.CreatedAt,
		ExpiresAt:          quote.ExpiresAt,
		Status:             string(quote.Status),
	}
}

func toQuote(dao *QuoteDao) (*bridge.Quote, error) {
	amountIn, err := parseNumeric(dao.AmountIn)
	if err != nil {
		return nil, fmt.Errorf("quote %s amount_in: %w", dao.ID, err)
	}
	amountOut, err := parseNumeric(dao.AmountOut)
	if err != nil {
		return nil, fmt.Errorf("quote %s amount_out: %w", dao.ID, err)
	}
	totalCost, err := parseNumeric(dao.TotalCost)
	if err != nil {
		return nil, fmt.Errorf("quote %s total_cost: %w", dao.ID, err)
	}
	return &bridge.Quote{
		ID:                 dao.ID,
		User:               dao.UserID,
		AmountIn:           amountIn,
		AmountOut:          amountOut,
		TotalCost:          totalCost,
		GasEstimate:        dao.GasEstimate,
		BaseFee:            dao.BaseFee,
		PriorityFee:        dao.PriorityFee,
		MaxFeePerGas:       dao.MaxFeePerGas,
		SafetyMargin:       dao.SafetyMargin,
		DestinationAddress: dao.DestinationAddress,
		Chain:              dao.Chain,
		CreatedAt:          dao.CreatedAt,
		ExpiresAt:          dao.ExpiresAt,
		Status:             bridge.QuoteStatus(dao.Status),
	}, nil
}

func toSettlementDao(settlement *bridge.Settlement) *SettlementDao {
	return &SettlementDao{
		ID:                 settlement.ID,
		QuoteID:            settlement.QuoteID,
		UserID:             settlement.User,
		Amount:             settlement.Amount.String(),
		DestinationAddress: settlement.DestinationAddress,
		DestinationChain:   settlement.DestinationChain,
		PaymentProof:       settlement.PaymentProof,
		Status:             string(settlement.Status),
		GasUsed:            settlement.GasUsed,
		TransactionHash:    settlement.TransactionHash,
		RetryCount:         settlement.RetryCount,
		LastError:          settlement.LastError,
		CreatedAt:          settlement.CreatedAt,
		UpdatedAt:          settlement.UpdatedAt,
	}
}

func toSettlement(dao *SettlementDao) (*bridge.Settlement, error) {
	amount, err := parseNumeric(dao.Amount)
	if err != nil {
		return nil, fmt.Errorf("settlement %s amount: %w", dao.ID, err)
	}
	return &bridge.Settlement{
		ID:                 dao.ID,
		QuoteID:            dao.QuoteID,
		User:               dao.UserID,
		Amount:             amount,
		DestinationAddress: dao.DestinationAddress,
		DestinationChain:   dao.DestinationChain,
		PaymentProof:       dao.PaymentProof,
		Status:             bridge.SettlementStatus(dao.Status),
		GasUsed:            dao.GasUsed,
		TransactionHash:    dao.TransactionHash,
		RetryCount:         dao.RetryCount,
		LastError:          dao.LastError,
		CreatedAt:          dao.CreatedAt,
		UpdatedAt:          dao.UpdatedAt,
	}, nil
}

func toReserveStateDao(state *reserve.State, now time.Time) *ReserveStateDao {
	return &ReserveStateDao{
		ID:                1,
		TotalBalance:      state.TotalBalance.String(),
		LockedBalance:     state.LockedBalance.String(),
		ThresholdWarning:  state.ThresholdWarning.String(),
		ThresholdCritical: state.ThresholdCritical.String(),
		DailyVolume:       state.DailyVolume.String(),
		DailyLimit:        state.DailyLimit.String(),
		LastTopup:         state.LastTopup,
		UpdatedAt:         now,
	}
}

func toReserveState(dao *ReserveStateDao) (*reserve.State, error) {
	fields := map[string]string{
		"total_balance":      dao.TotalBalance,
		"locked_balance":     dao.LockedBalance,
		"threshold_warning":  dao.ThresholdWarning,
		"threshold_critical": dao.ThresholdCritical,
		"daily_volume":       dao.DailyVolume,
		"daily_limit":        dao.DailyLimit,
	}
	parsed := make(map[string]*big.Int, len(fields))
	for name, value := range fields {
		amount, err := parseNumeric(value)
		if err != nil {
			return nil, fmt.Errorf("reserve state %s: %w", name, err)
		}
		parsed[name] = amount
	}
	state := &reserve.State{
		TotalBalance:      parsed["total_balance"],
		LockedBalance:     parsed["locked_balance"],
		ThresholdWarning:  parsed["threshold_warning"],
		ThresholdCritical: parsed["threshold_critical"],
		DailyVolume:       parsed["daily_volume"],
		DailyLimit:        parsed["daily_limit"],
		LastTopup:         dao.LastTopup,
	}
	state.AvailableBalance = new(big.Int).Sub(state.TotalBalance, state.LockedBalance)
	return state, nil
}

func toAuditLogDao(entry *bridge.AuditEntry) *AuditLogDao {
	dao := &AuditLogDao{
		ID:        entry.ID,
		EventType: entry.EventType,
		Details:   entry.Details,
		Timestamp: entry.Timestamp,
	}
	if entry.User != "" {
		dao.UserID = &entry.User
	}
	if entry.Amount != nil {
		amount := entry.Amount.String()
		dao.Amount = &amount
	}
	if entry.TxHash != "" {
		dao.TxHash = &entry.TxHash
	}
	return dao
}

func toAuditEntry(dao *AuditLogDao) (*bridge.AuditEntry, error) {
	entry := &bridge.AuditEntry{
		ID:        dao.ID,
		EventType: dao.EventType,
		Details:   dao.Details,
		Timestamp: dao.Timestamp,
	}
	if dao.UserID != nil {
		entry.User = *dao.UserID
	}
	if dao.Amount != nil {
		amount, err := parseNumeric(*dao.Amount)
		if err != nil {
			return nil, fmt.Errorf("audit entry %s amount: %w", dao.ID, err)
		}
		entry.Amount = amount
	}
	if dao.TxHash != nil {
		entry.TxHash = *dao.TxHash
	}
	return entry, nil
}

func parseNumeric(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", value)
	}
	return amount, nil
}
