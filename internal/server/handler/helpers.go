package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// CallerHeader carries the account the gateway authenticated. Every
// mutating endpoint acts on its behalf.
const CallerHeader = "X-Caller"

// maxBodyBytes bounds request bodies; liquidation batches are the largest.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusClasses maps ledger failures to HTTP statuses. Anything unlisted is
// a 500.
var statusClasses = []struct {
	status int
	errs   []error
}{
	{http.StatusUnauthorized, []error{domain.ErrInvalidSignature}},
	{http.StatusForbidden, []error{
		domain.ErrUnauthorized,
		domain.ErrSenderNotTrader,
		domain.ErrCallerNotTrader,
		domain.ErrCallerNotPool,
		domain.ErrAddressNotPartner,
	}},
	{http.StatusGone, []error{domain.ErrOrderExpired}},
	{http.StatusNotFound, []error{domain.ErrNotFound}},
	{http.StatusConflict, []error{
		domain.ErrPositionAlreadyTaken,
		domain.ErrInvalidPosition,
		domain.ErrPositionAlreadyStaked,
		domain.ErrBoostNotActive,
		domain.ErrBoostAlreadyActive,
		domain.ErrReentrantCall,
		domain.ErrAlreadyExists,
	}},
	{http.StatusBadRequest, []error{
		domain.ErrInvalidOrder,
		domain.ErrInvalidPayoutMode,
		domain.ErrInvalidCurrency,
		domain.ErrInvalidTargetCurrency,
		domain.ErrInvalidAmount,
	}},
	{http.StatusUnprocessableEntity, []error{
		domain.ErrPrincipalTooHigh,
		domain.ErrInsufficientAvailablePrincipal,
		domain.ErrInsufficientAmountProvided,
		domain.ErrInsufficientCollateralReceived,
		domain.ErrInvalidInterestAmount,
		domain.ErrLiquidationThresholdNotReached,
		domain.ErrInsufficientPrincipalRepaid,
		domain.ErrPriceTargetNotReached,
		domain.ErrSwapReverted,
		domain.ErrSwapFunctionNeeded,
		domain.ErrTargetNotWhitelistedSwapRouter,
		domain.ErrInsufficientAmountOutReceived,
		domain.ErrInsufficientBalance,
		domain.ErrInsufficientAllowance,
		domain.ErrInsufficientReserve,
	}},
	{http.StatusTooManyRequests, []error{domain.ErrRateLimited}},
}

// classify returns the HTTP status and the stable error code for err.
func classify(err error) (int, string) {
	for _, class := range statusClasses {
		for _, target := range class.errs {
			if errors.Is(err, target) {
				return class.status, strings.ReplaceAll(target.Error(), " ", "_")
			}
		}
	}
	return http.StatusInternalServerError, "internal"
}

// writeLedgerError reports a failed ledger operation. Client errors carry the
// wrapped message; server errors are logged and masked.
func writeLedgerError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse{Error: op + " failed", Code: code})
		return
	}
	logger.DebugContext(r.Context(), "handler: "+op+" rejected",
		slog.String("code", code),
		slog.String("error", err.Error()),
	)
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

// decodeBody reads a JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// callerAddress returns the authenticated caller, writing a 401 when the
// gateway did not supply one.
func callerAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := strings.TrimSpace(r.Header.Get(CallerHeader))
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusUnauthorized, CallerHeader+" header must hold an address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// addressParam parses a hex address path parameter.
func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	raw := pathParam(r, name)
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be an address", name))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since/until take RFC 3339 times.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
	for key, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return domain.ListOpts{}, fmt.Errorf("%s: %w", key, err)
		}
		*dst = &t
	}
	return opts, nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
