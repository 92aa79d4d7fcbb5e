package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// RouterService is the vault-share trading facade.
type RouterService interface {
	OpenPosition(ctx context.Context, caller, pool common.Address, req domain.OpenPositionRequest, poolSig, traderSig []byte, executionFee *big.Int) (domain.Position, error)
	SwapVaultToVault(ctx context.Context, caller common.Address, amount *big.Int, tokenIn, tokenOut common.Address, minOut *big.Int, calls []domain.FunctionCall) (domain.VaultSwap, error)
}

// RouterHandler serves the router endpoints.
type RouterHandler struct {
	router RouterService
	logger *slog.Logger
}

// NewRouterHandler creates a RouterHandler.
func NewRouterHandler(router RouterService, logger *slog.Logger) *RouterHandler {
	return &RouterHandler{
		router: router,
		logger: logHandler(logger, "router"),
	}
}

type routerOpenRequest struct {
	Pool            common.Address             `json:"pool"`
	Request         domain.OpenPositionRequest `json:"request"`
	PoolSignature   hexutil.Bytes              `json:"poolSignature"`
	TraderSignature hexutil.Bytes              `json:"traderSignature"`
	ExecutionFee    *big.Int                   `json:"executionFee,omitempty"`
}

// Open opens a position funded from the signing trader's vault shares.
// The caller must be an order executor.
// POST /api/router/open
func (h *RouterHandler) Open(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(w, r)
	if !ok {
		return
	}
	var body routerOpenRequest
	if !decodeBody(w, r, &body) {
		return
	}
	pos, err := h.router.OpenPosition(r.Context(), caller, body.Pool, body.Request, body.PoolSignature, body.TraderSignature, body.ExecutionFee)
	if err != nil {
		writeLedgerError(w, r, h.logger, "router open", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"position": pos})
}

type vaultSwapRequest struct {
	Amount   *big.Int              `json:"amount"`
	TokenIn  common.Address        `json:"tokenIn"`
	TokenOut common.Address        `json:"tokenOut"`
	MinOut   *big.Int              `json:"minOut,omitempty"`
	Calls    []domain.FunctionCall `json:"calls"`
}

// Swap converts the caller's position in one vault into shares of another.
// POST /api/router/swap
func (h *RouterHandler) Swap(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(w, r)
	if !ok {
		return
	}
	var body vaultSwapRequest
	if !decodeBody(w, r, &body) {
		return
	}
	ev, err := h.router.SwapVaultToVault(r.Context(), caller, body.Amount, body.TokenIn, body.TokenOut, body.MinOut, body.Calls)
	if err != nil {
		writeLedgerError(w, r, h.logger, "vault swap", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}
