package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"smartattend/internal/ledger"
	"smartattend/internal/transport/http/shared"
	id "smartattend/pkg/domain"
	dErrors "smartattend/pkg/domain-errors"
	"smartattend/pkg/requestcontext"
)

// LedgerService defines the scoped read and verification operations.
type LedgerService interface {
	Query(ctx context.Context, actor id.Actor, q ledger.Query) ([]ledger.Entry, error)
	Verify(ctx context.Context, entryID id.EntryID) error
}

type ledgerHandler struct {
	svc    LedgerService
	logger *slog.Logger
}

type entryResponse struct {
	EntryID      string `json:"entry_id"`
	ActorID      string `json:"actor_id"`
	ActorRole    string `json:"actor_role"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Timestamp    string `json:"timestamp"`
	Checksum     string `json:"checksum"`
}

func (h *ledgerHandler) register(r chi.Router) {
	r.Get("/ledger/entries", h.handleEntries)
	r.Get("/ledger/verify/{entryID}", h.handleVerify)
}

func (h *ledgerHandler) handleEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := parseLedgerQuery(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	entries, err := h.svc.Query(ctx, requestcontext.Actor(ctx), q)
	if err != nil {
		h.logger.WarnContext(ctx, "ledger query refused", "error", err.Error())
		shared.WriteError(w, err)
		return
	}
	resp := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, entryResponse{
			EntryID:      e.ID.String(),
			ActorID:      e.ActorID.String(),
			ActorRole:    e.ActorRole.String(),
			Action:       string(e.Action),
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Timestamp:    e.Timestamp.Format(time.RFC3339Nano),
			Checksum:     e.Checksum,
		})
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *ledgerHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entryID, err := id.ParseEntryID(chi.URLParam(r, "entryID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid entry id"))
		return
	}
	if !requestcontext.Actor(ctx).Role.AtLeast(id.RoleAdmin) {
		shared.WriteError(w, dErrors.New(dErrors.CodeForbidden, "verification requires an admin"))
		return
	}
	if err := h.svc.Verify(ctx, entryID); err != nil {
		if dErrors.HasCode(err, dErrors.CodeIntegrityFault) {
			h.logger.ErrorContext(ctx, "integrity fault on verification", "entry_id", entryID.String())
		}
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{"entry_id": entryID.String(), "status": "verified"})
}

func parseLedgerQuery(r *http.Request) (ledger.Query, error) {
	q := ledger.Query{
		Action:       ledger.Action(r.URL.Query().Get("action")),
		ResourceType: r.URL.Query().Get("resource_type"),
		ResourceID:   r.URL.Query().Get("resource_id"),
		SubjectID:    id.UserID(r.URL.Query().Get("subject_id")),
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return ledger.Query{}, dErrors.New(dErrors.CodeBadRequest, "invalid since timestamp")
		}
		q.Since = t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return ledger.Query{}, dErrors.New(dErrors.CodeBadRequest, "invalid until timestamp")
		}
		q.Until = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return ledger.Query{}, dErrors.New(dErrors.CodeBadRequest, "invalid limit")
		}
		q.Limit = n
	}
	return q, nil
}
