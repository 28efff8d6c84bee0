package main

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/gasless-bridge/pkg/app/errors"
	"github.com/chainsafe/gasless-bridge/pkg/bridge"
	"github.com/chainsafe/gasless-bridge/pkg/pricefeed"
	"github.com/chainsafe/gasless-bridge/pkg/reserve"
)

// userHeader carries the caller identity. The gateway in front of this
// service authenticates callers and injects the header.
const userHeader = "X-Bridge-User"

func callerID(r *http.Request) string {
	return r.Header.Get(userHeader)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  apperrors.CodeOf(err).String(),
	}, logger)
}

func requireUser(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	user := callerID(r)
	if user == "" {
		writeError(w, apperrors.New(apperrors.CodeUnauthorized, "missing "+userHeader+" header"), logger)
		return "", false
	}
	return user, true
}

type quoteRequestBody struct {
	Amount             string `json:"amount"`
	DestinationAddress string `json:"destination_address"`
	Chain              string `json:"chain"`
}

func handleRequestQuote(quotes *bridge.QuoteEngine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireUser(w, r, logger)
		if !ok {
			return
		}

		var body quoteRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperrors.New(apperrors.CodeInvalidAmount, "invalid request body"), logger)
			return
		}
		amount, ok := new(big.Int).SetString(body.Amount, 10)
		if !ok {
			writeError(w, apperrors.New(apperrors.CodeInvalidAmount, "amount must be a decimal wei string"), logger)
			return
		}

		quote, err := quotes.RequestQuote(r.Context(), &bridge.QuoteRequest{
			User:               user,
			Amount:             amount,
			DestinationAddress: body.DestinationAddress,
			Chain:              body.Chain,
		})
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, quote, logger)
	}
}

func handleGetQuote(quotes *bridge.QuoteEngine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quote, err := quotes.GetQuote(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, quote, logger)
	}
}

func handleListQuotes(quotes *bridge.QuoteEngine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireUser(w, r, logger)
		if !ok {
			return
		}
		list, err := quotes.UserQuotes(r.Context(), user)
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"quotes": list}, logger)
	}
}

type settleRequestBody struct {
	QuoteID      string `json:"quote_id"`
	PaymentProof string `json:"payment_proof"`
}

type settleResponse struct {
	Settlement     *bridge.Settlement `json:"settlement"`
	RawTransaction string             `json:"raw_transaction,omitempty"`
}

func handleSettle(orchestrator *bridge.Orchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireUser(w, r, logger)
		if !ok {
			return
		}

		var body settleRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperrors.New(apperrors.CodeQuoteInvalid, "invalid request body"), logger)
			return
		}

		result, err := orchestrator.Settle(r.Context(), user, body.QuoteID, body.PaymentProof)
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, settleResponse{
			Settlement:     result.Settlement,
			RawTransaction: "0x" + hex.EncodeToString(result.RawTransaction),
		}, logger)
	}
}

func handleGetSettlement(orchestrator *bridge.Orchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settlement, err := orchestrator.GetSettlement(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, settlement, logger)
	}
}

func handleListSettlements(orchestrator *bridge.Orchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireUser(w, r, logger)
		if !ok {
			return
		}
		list, err := orchestrator.UserSettlements(r.Context(), user)
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"settlements": list}, logger)
	}
}

func handleEstimate(estimator bridge.GasEstimator, converter *pricefeed.Converter, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chain := r.URL.Query().Get("chain")
		estimate, err := estimator.Estimate(r.Context(), chain)
		if err != nil {
			writeError(w, err, logger)
			return
		}

		payload := map[string]interface{}{"estimate": estimate}
		cost, err := converter.SubsidyCostICP(r.Context(), new(big.Int).SetUint64(estimate.TotalCost))
		if err != nil {
			logger.Warn("Failed to price gas subsidy", zap.Error(err))
		} else {
			payload["subsidy_cost_icp"] = cost
		}
		writeJSON(w, http.StatusOK, payload, logger)
	}
}

func handleReserveStatus(ledger *reserve.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := ledger.Snapshot()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total_balance":      state.TotalBalance.String(),
			"locked_balance":     state.LockedBalance.String(),
			"available_balance":  state.AvailableBalance.String(),
			"daily_volume":       state.DailyVolume.String(),
			"daily_limit":        state.DailyLimit.String(),
			"threshold_warning":  state.ThresholdWarning.String(),
			"threshold_critical": state.ThresholdCritical.String(),
			"health":             ledger.Health(),
			"utilization_pct":    ledger.Utilization(),
		}, logger)
	}
}

func handleAuditLog(store bridge.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := store.AuditEntries(r.Context(), 100)
		if err != nil {
			writeError(w, apperrors.Internal(err), logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries}, logger)
	}
}

type fundRequestBody struct {
	Amount string `json:"amount"`
}

func handleFundReserve(ledger *reserve.Ledger, store bridge.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body fundRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperrors.New(apperrors.CodeInvalidAmount, "invalid request body"), logger)
			return
		}
		amount, ok := new(big.Int).SetString(body.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			writeError(w, apperrors.New(apperrors.CodeInvalidAmount, "amount must be a positive decimal wei string"), logger)
			return
		}

		ledger.AddFunds(amount)
		state := ledger.Snapshot()
		if err := store.SaveReserveSnapshot(r.Context(), &state); err != nil {
			logger.Error("Failed to persist reserve snapshot after funding", zap.Error(err))
		}

		logger.Info("Reserve funded",
			zap.String("amount_wei", amount.String()),
			zap.String("total_wei", state.TotalBalance.String()))
		writeJSON(w, http.StatusOK, map[string]string{
			"total_balance": state.TotalBalance.String(),
		}, logger)
	}
}

type thresholdsRequestBody struct {
	Warning  string `json:"warning"`
	Critical string `json:"critical"`
}

func handleSetThresholds(ledger *reserve.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body thresholdsRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperrors.New(apperrors.CodeInvalidAmount, "invalid request body"), logger)
			return
		}
		warning, ok1 := new(big.Int).SetString(body.Warning, 10)
		critical, ok2 := new(big.Int).SetString(body.Critical, 10)
		if !ok1 || !ok2 || warning.Sign() < 0 || critical.Sign() < 0 || critical.Cmp(warning) > 0 {
			writeError(w, apperrors.New(apperrors.CodeInvalidAmount,
				"thresholds must be non-negative wei strings with critical <= warning"), logger)
			return
		}

		ledger.SetThresholds(warning, critical)
		logger.Info("Reserve thresholds updated",
			zap.String("warning_wei", warning.String()),
			zap.String("critical_wei", critical.String()))
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"}, logger)
	}
}

type dailyLimitRequestBody struct {
	Limit string `json:"limit"`
}

func handleSetDailyLimit(ledger *reserve.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body dailyLimitRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperrors.New(apperrors.CodeInvalidAmount, "invalid request body"), logger)
			return
		}
		limit, ok := new(big.Int).SetString(body.Limit, 10)
		if !ok || limit.Sign() <= 0 {
			writeError(w, apperrors.New(apperrors.CodeInvalidAmount, "limit must be a positive decimal wei string"), logger)
			return
		}

		ledger.SetDailyLimit(limit)
		logger.Info("Daily subsidy limit updated", zap.String("limit_wei", limit.String()))
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"}, logger)
	}
}
