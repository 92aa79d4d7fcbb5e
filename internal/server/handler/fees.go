package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// FeeClaimer pays out accrued partner fees.
type FeeClaimer interface {
	Claim(ctx context.Context, caller common.Address, tokens []common.Address) ([]*big.Int, error)
	Balance(partner, token common.Address) *big.Int
}

// FeeHandler serves the partner fee endpoints.
type FeeHandler struct {
	fees   FeeClaimer
	logger *slog.Logger
}

// NewFeeHandler creates a FeeHandler.
func NewFeeHandler(fees FeeClaimer, logger *slog.Logger) *FeeHandler {
	return &FeeHandler{
		fees:   fees,
		logger: logHandler(logger, "fees"),
	}
}

type feeClaimRequest struct {
	Tokens []common.Address `json:"tokens"`
}

type feeClaim struct {
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

// Claim pays the calling partner its balance in every listed token.
// POST /api/fees/claim
func (h *FeeHandler) Claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(w, r)
	if !ok {
		return
	}
	var body feeClaimRequest
	if !decodeBody(w, r, &body) {
		return
	}
	paid, err := h.fees.Claim(r.Context(), caller, body.Tokens)
	if err != nil {
		writeLedgerError(w, r, h.logger, "claim fees", err)
		return
	}
	out := make([]feeClaim, len(paid))
	for i, amount := range paid {
		out[i] = feeClaim{Token: body.Tokens[i], Amount: amount}
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": out})
}

// Balances reports a partner's accrued fees per token.
// GET /api/fees/{partner}?token=0x...&token=0x...
func (h *FeeHandler) Balances(w http.ResponseWriter, r *http.Request) {
	partner, ok := addressParam(w, r, "partner")
	if !ok {
		return
	}
	tokens := r.URL.Query()["token"]
	out := make([]feeClaim, 0, len(tokens))
	for _, raw := range tokens {
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, "token must be an address")
			return
		}
		token := common.HexToAddress(raw)
		out = append(out, feeClaim{Token: token, Amount: h.fees.Balance(partner, token)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": out})
}
