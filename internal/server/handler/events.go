package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// EventLister queries committed events.
type EventLister interface {
	List(ctx context.Context, filter domain.EventFilter) ([]domain.EventRecord, error)
}

// EventHandler serves the event log.
type EventHandler struct {
	events EventLister
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventLister, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: logHandler(logger, "events"),
	}
}

// ListEvents returns committed events in sequence order.
// GET /api/events?name=...&after=...&since=...&until=...&limit=50&offset=0
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := domain.EventFilter{
		Name:     r.URL.Query().Get("name"),
		ListOpts: opts,
	}
	if v := r.URL.Query().Get("after"); v != "" {
		seq, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be a sequence number")
			return
		}
		filter.AfterSeq = seq
	}

	records, err := h.events.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if records == nil {
		records = []domain.EventRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

// AuditLister queries the operator audit trail.
type AuditLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit trail of snapshot saves and archive runs.
type AuditHandler struct {
	audit  AuditLister
	logger *slog.Logger
}

func NewAuditHandler(audit AuditLister, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logHandler(logger, "audit")}
}

// ListAudit returns audit entries newest first.
// GET /api/audit?since=...&until=...&limit=50&offset=0
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
