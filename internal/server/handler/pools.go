package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/pool"
)

// PoolDirectory resolves position pools.
type PoolDirectory interface {
	Pool(addr common.Address) (*pool.Pool, error)
	Pools() []*pool.Pool
}

// PoolHandler serves the position ledger endpoints.
type PoolHandler struct {
	pools  PoolDirectory
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler over the given pools.
func NewPoolHandler(pools PoolDirectory, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{
		pools:  pools,
		logger: logHandler(logger, "pools"),
	}
}

type poolSummary struct {
	Address       common.Address `json:"address"`
	Side          domain.Side    `json:"side"`
	OpenPositions int            `json:"openPositions"`
}

// ListPools returns every pool with its side and open position count.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	all := h.pools.Pools()
	out := make([]poolSummary, 0, len(all))
	for _, p := range all {
		out = append(out, poolSummary{Address: p.Address(), Side: p.Side(), OpenPositions: p.OpenCount()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": out})
}

// resolve reads the caller and the {pool} path parameter.
func (h *PoolHandler) resolve(w http.ResponseWriter, r *http.Request) (*pool.Pool, common.Address, bool) {
	caller, ok := callerAddress(w, r)
	if !ok {
		return nil, common.Address{}, false
	}
	addr, ok := addressParam(w, r, "pool")
	if !ok {
		return nil, common.Address{}, false
	}
	p, err := h.pools.Pool(addr)
	if err != nil {
		writeLedgerError(w, r, h.logger, "resolve pool", err)
		return nil, common.Address{}, false
	}
	return p, caller, true
}

type openRequest struct {
	Request   domain.OpenPositionRequest `json:"request"`
	Signature hexutil.Bytes              `json:"signature"`
	// Value is native currency sent alongside the call.
	Value  *big.Int       `json:"value,omitempty"`
	Staker common.Address `json:"staker,omitempty"`
}

// Open opens a position for the caller.
// POST /api/pools/{pool}/open
func (h *PoolHandler) Open(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var body openRequest
	if !decodeBody(w, r, &body) {
		return
	}
	pos, err := p.OpenPosition(r.Context(), caller, body.Request, body.Signature, body.Value)
	if err != nil {
		writeLedgerError(w, r, h.logger, "open position", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"position": pos})
}

// OpenAndStake opens a position and stakes it with body.Staker.
// POST /api/pools/{pool}/open-and-stake
func (h *PoolHandler) OpenAndStake(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var body openRequest
	if !decodeBody(w, r, &body) {
		return
	}
	pos, err := p.OpenPositionAndStake(r.Context(), caller, body.Request, body.Signature, body.Value, body.Staker)
	if err != nil {
		writeLedgerError(w, r, h.logger, "open and stake", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"position": pos})
}

type closeRequest struct {
	Mode           domain.PayoutMode           `json:"mode"`
	Request        domain.ClosePositionRequest `json:"request"`
	Signature      hexutil.Bytes               `json:"signature"`
	Order          *domain.ClosePositionOrder  `json:"order,omitempty"`
	OrderSignature hexutil.Bytes               `json:"orderSignature,omitempty"`
}

// Close closes all or part of a position, optionally through a trader
// signed take-profit or stop-loss order.
// POST /api/pools/{pool}/close
func (h *PoolHandler) Close(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var body closeRequest
	if !decodeBody(w, r, &body) {
		return
	}
	ev, err := p.ClosePosition(r.Context(), caller, payoutMode(body.Mode), body.Request, body.Signature, body.Order, body.OrderSignature)
	if err != nil {
		writeLedgerError(w, r, h.logger, "close position", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type liquidateRequest struct {
	Mode  domain.PayoutMode        `json:"mode"`
	Items []domain.LiquidationItem `json:"items"`
}

// Liquidate liquidates a batch of positions; one failure reverts the batch.
// POST /api/pools/{pool}/liquidate
func (h *PoolHandler) Liquidate(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var body liquidateRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items must not be empty")
		return
	}
	evs, err := p.LiquidatePositions(r.Context(), caller, payoutMode(body.Mode), body.Items)
	if err != nil {
		writeLedgerError(w, r, h.logger, "liquidate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"liquidations": evs})
}

type positionRequest struct {
	Position domain.Position `json:"position"`
	Staker   common.Address  `json:"staker,omitempty"`
}

// Claim hands the trader the collateral of a fully repaid position.
// POST /api/pools/{pool}/claim
func (h *PoolHandler) Claim(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var body positionRequest
	if !decodeBody(w, r, &body) {
		return
	}
	ev, err := p.ClaimPosition(r.Context(), caller, body.Position)
	if err != nil {
		writeLedgerError(w, r, h.logger, "claim position", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// Stake hands an open position to a staker.
// POST /api/pools/{pool}/stake
func (h *PoolHandler) Stake(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var body positionRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := p.StakePosition(r.Context(), caller, body.Position, body.Staker); err != nil {
		writeLedgerError(w, r, h.logger, "stake position", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addCollateralRequest struct {
	Request   domain.AddCollateralRequest `json:"request"`
	Signature hexutil.Bytes               `json:"signature"`
}

// AddCollateral tops up an open position.
// POST /api/pools/{pool}/add-collateral
func (h *PoolHandler) AddCollateral(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var body addCollateralRequest
	if !decodeBody(w, r, &body) {
		return
	}
	pos, err := p.AddCollateral(r.Context(), caller, body.Request, body.Signature)
	if err != nil {
		writeLedgerError(w, r, h.logger, "add collateral", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position": pos})
}

type migrateRequest struct {
	Token common.Address `json:"token"`
}

// Migrate moves the pool's idle liquidity in a token into its vault.
// POST /api/pools/{pool}/migrate
func (h *PoolHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var body migrateRequest
	if !decodeBody(w, r, &body) {
		return
	}
	amount, err := p.MigrateToVault(r.Context(), caller, body.Token)
	if err != nil {
		writeLedgerError(w, r, h.logger, "migrate liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount": amount})
}

func payoutMode(m domain.PayoutMode) domain.PayoutMode {
	if m == "" {
		return domain.PayoutWrapped
	}
	return m
}
