package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"smartattend/internal/escalation"
	"smartattend/internal/transport/http/shared"
	id "smartattend/pkg/domain"
	dErrors "smartattend/pkg/domain-errors"
	"smartattend/pkg/requestcontext"
)

// EscalationService defines the detector operations the transport needs.
type EscalationService interface {
	Evaluate(ctx context.Context, req escalation.EvaluateRequest) (escalation.Verdict, error)
	PendingQueue(ctx context.Context, actor id.Actor) ([]escalation.RevalidationQueueItem, error)
	ResolveQueueItem(ctx context.Context, actor id.Actor, itemID id.QueueItemID, valid bool, justification string) error
}

type escalationHandler struct {
	svc    EscalationService
	logger *slog.Logger
}

type evaluateRequest struct {
	UserID         string   `json:"user_id"`
	FromRole       string   `json:"from_role"`
	ToRole         string   `json:"to_role"`
	OldPermissions []string `json:"old_permissions"`
	NewPermissions []string `json:"new_permissions"`
}

type evaluateResponse struct {
	EventID              string   `json:"event_id"`
	Severity             string   `json:"severity"`
	TriggeredChecks      []string `json:"triggered_checks,omitempty"`
	RequiresRevalidation bool     `json:"requires_revalidation"`
	QueueItemID          string   `json:"queue_item_id,omitempty"`
}

type queueItemResponse struct {
	ItemID     string `json:"item_id"`
	UserID     string `json:"user_id"`
	Priority   string `json:"priority"`
	Reason     string `json:"reason"`
	EnqueuedAt string `json:"enqueued_at"`
}

type resolveRequest struct {
	Valid         bool   `json:"valid"`
	Justification string `json:"justification"`
}

func (h *escalationHandler) register(r chi.Router) {
	r.Post("/escalation/evaluate", h.handleEvaluate)
	r.Get("/revalidation/queue", h.handleQueue)
	r.Post("/revalidation/queue/{itemID}/resolve", h.handleResolve)
}

func (h *escalationHandler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	fromRole, err := id.ParseRole(req.FromRole)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown from_role"))
		return
	}
	toRole, err := id.ParseRole(req.ToRole)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown to_role"))
		return
	}
	verdict, err := h.svc.Evaluate(ctx, escalation.EvaluateRequest{
		UserID:         id.UserID(req.UserID),
		FromRole:       fromRole,
		ToRole:         toRole,
		OldPermissions: req.OldPermissions,
		NewPermissions: req.NewPermissions,
		Actor:          requestcontext.Actor(ctx),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "evaluation failed", "user_id", req.UserID, "error", err.Error())
		shared.WriteError(w, err)
		return
	}
	resp := evaluateResponse{
		EventID:              verdict.EventID.String(),
		Severity:             verdict.Severity.String(),
		TriggeredChecks:      verdict.TriggeredChecks,
		RequiresRevalidation: verdict.RequiresRevalidation,
	}
	if !verdict.QueueItemID.IsNil() {
		resp.QueueItemID = verdict.QueueItemID.String()
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *escalationHandler) handleQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	items, err := h.svc.PendingQueue(ctx, requestcontext.Actor(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	resp := make([]queueItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, queueItemResponse{
			ItemID:     item.ID.String(),
			UserID:     item.UserID.String(),
			Priority:   item.Priority.String(),
			Reason:     item.Reason,
			EnqueuedAt: item.EnqueuedAt.Format(time.RFC3339),
		})
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *escalationHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID, err := id.ParseQueueItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid queue item id"))
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.svc.ResolveQueueItem(ctx, requestcontext.Actor(ctx), itemID, req.Valid, req.Justification); err != nil {
		h.logger.WarnContext(ctx, "queue resolution failed", "item_id", itemID.String(), "error", err.Error())
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
