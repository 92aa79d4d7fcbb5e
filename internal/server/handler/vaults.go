package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/vault"
)

// VaultDirectory resolves vaults by underlying asset.
type VaultDirectory interface {
	ByAsset(asset common.Address) (*vault.Vault, error)
	All() []*vault.Vault
}

// VaultHandler serves the liquidity vault endpoints.
type VaultHandler struct {
	vaults VaultDirectory
	logger *slog.Logger
}

// NewVaultHandler creates a VaultHandler.
func NewVaultHandler(vaults VaultDirectory, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{
		vaults: vaults,
		logger: logHandler(logger, "vaults"),
	}
}

type vaultSummary struct {
	Address     common.Address `json:"address"`
	Asset       common.Address `json:"asset"`
	TotalAssets *big.Int       `json:"totalAssets"`
	TotalShares *big.Int       `json:"totalShares"`
	Borrowed    *big.Int       `json:"borrowed"`
	Available   *big.Int       `json:"available"`
	SharePrice  string         `json:"sharePrice"`
	Boost       vault.Boost    `json:"boost"`
	// Shares is set when the request names a holder.
	Shares *big.Int `json:"shares,omitempty"`
}

// ListVaults reports every vault's accounting. ?holder=0x... adds that
// account's share balance.
// GET /api/vaults
func (h *VaultHandler) ListVaults(w http.ResponseWriter, r *http.Request) {
	var holder *common.Address
	if raw := r.URL.Query().Get("holder"); raw != "" {
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, "holder must be an address")
			return
		}
		addr := common.HexToAddress(raw)
		holder = &addr
	}

	all := h.vaults.All()
	out := make([]vaultSummary, 0, len(all))
	for _, v := range all {
		s := vaultSummary{
			Address:     v.Address(),
			Asset:       v.Asset(),
			TotalAssets: v.TotalAssets(),
			TotalShares: v.TotalShares(),
			Borrowed:    v.Borrowed(),
			Available:   v.Available(),
			SharePrice:  v.SharePrice().String(),
			Boost:       v.Boost(),
		}
		if holder != nil {
			s.Shares = v.SharesOf(*holder)
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"vaults": out})
}

func (h *VaultHandler) resolve(w http.ResponseWriter, r *http.Request) (*vault.Vault, common.Address, bool) {
	caller, ok := callerAddress(w, r)
	if !ok {
		return nil, common.Address{}, false
	}
	asset, ok := addressParam(w, r, "asset")
	if !ok {
		return nil, common.Address{}, false
	}
	v, err := h.vaults.ByAsset(asset)
	if err != nil {
		writeLedgerError(w, r, h.logger, "resolve vault", err)
		return nil, common.Address{}, false
	}
	return v, caller, true
}

type depositRequest struct {
	Assets   *big.Int       `json:"assets"`
	Receiver common.Address `json:"receiver,omitempty"`
}

// Deposit pulls assets from the caller and mints shares to the receiver,
// the caller by default.
// POST /api/vaults/{asset}/deposit
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	v, caller, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var body depositRequest
	if !decodeBody(w, r, &body) {
		return
	}
	receiver := body.Receiver
	if receiver == (common.Address{}) {
		receiver = caller
	}
	shares, err := v.Deposit(r.Context(), caller, body.Assets, receiver)
	if err != nil {
		writeLedgerError(w, r, h.logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shares": shares})
}

type withdrawRequest struct {
	Assets   *big.Int       `json:"assets"`
	Receiver common.Address `json:"receiver,omitempty"`
	Owner    common.Address `json:"owner,omitempty"`
}

// Withdraw burns the owner's shares for assets paid to the receiver. Both
// default to the caller.
// POST /api/vaults/{asset}/withdraw
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	v, caller, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var body withdrawRequest
	if !decodeBody(w, r, &body) {
		return
	}
	receiver, owner := body.Receiver, body.Owner
	if receiver == (common.Address{}) {
		receiver = caller
	}
	if owner == (common.Address{}) {
		owner = caller
	}
	shares, err := v.Withdraw(r.Context(), caller, body.Assets, receiver, owner)
	if err != nil {
		writeLedgerError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shares": shares})
}

type boostRequest struct {
	Amount   *big.Int `json:"amount"`
	Duration uint64   `json:"duration"`
}

// Boost escrows a reward that vests into the vault over duration seconds.
// POST /api/vaults/{asset}/boost
func (h *VaultHandler) Boost(w http.ResponseWriter, r *http.Request) {
	v, caller, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var body boostRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := v.StartBoost(r.Context(), caller, body.Amount, body.Duration); err != nil {
		writeLedgerError(w, r, h.logger, "start boost", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"boost": v.Boost()})
}
