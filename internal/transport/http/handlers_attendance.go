// Package httptransport is the thin HTTP layer. Handlers decode, delegate to
// the domain services, and encode; no policy decision lives here.
package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"smartattend/internal/attendance"
	"smartattend/internal/transport/http/shared"
	id "smartattend/pkg/domain"
	dErrors "smartattend/pkg/domain-errors"
	"smartattend/pkg/requestcontext"
)

// AttendanceService defines the attendance operations the transport needs.
type AttendanceService interface {
	CreateRecord(ctx context.Context, subject id.SubjectID, session id.SessionRef, actor id.Actor) (attendance.AttendanceRecord, error)
	GetRecord(ctx context.Context, recordID id.RecordID) (attendance.AttendanceRecord, error)
	ListAttempts(ctx context.Context, recordID id.RecordID) ([]attendance.TransitionAttempt, error)
	AttemptTransition(ctx context.Context, req attendance.TransitionRequest) (attendance.TransitionResult, error)
}

type attendanceHandler struct {
	svc    AttendanceService
	logger *slog.Logger
}

type createRecordRequest struct {
	SubjectID  string `json:"subject_id"`
	SessionRef string `json:"session_ref"`
}

type recordResponse struct {
	RecordID   string `json:"record_id"`
	SubjectID  string `json:"subject_id"`
	SessionRef string `json:"session_ref"`
	State      string `json:"state"`
	Version    int    `json:"version"`
}

type transitionRequest struct {
	RecordID       string `json:"record_id"`
	TargetState    string `json:"target_state"`
	ReasonCode     string `json:"reason_code"`
	Justification  string `json:"justification,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type transitionResponse struct {
	RecordID  string `json:"record_id"`
	NewState  string `json:"new_state"`
	AttemptID string `json:"attempt_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

func (h *attendanceHandler) register(r chi.Router) {
	r.Post("/attendance/records", h.handleCreateRecord)
	r.Get("/attendance/records/{recordID}", h.handleGetRecord)
	r.Get("/attendance/records/{recordID}/attempts", h.handleListAttempts)
	r.Post("/attendance/transition", h.handleTransition)
}

func (h *attendanceHandler) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	rec, err := h.svc.CreateRecord(ctx, id.SubjectID(req.SubjectID), id.SessionRef(req.SessionRef), requestcontext.Actor(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "record creation failed", "error", err.Error())
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toRecordResponse(rec))
}

func (h *attendanceHandler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid record id"))
		return
	}
	rec, err := h.svc.GetRecord(r.Context(), recordID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *attendanceHandler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid record id"))
		return
	}
	attempts, err := h.svc.ListAttempts(r.Context(), recordID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	resp := make([]map[string]any, 0, len(attempts))
	for _, a := range attempts {
		resp = append(resp, map[string]any{
			"attempt_id": a.ID.String(),
			"from_state": a.FromState.String(),
			"to_state":   a.ToState.String(),
			"reason":     a.ReasonCode,
			"outcome":    string(a.Outcome),
			"duplicate":  a.Duplicate,
			"timestamp":  a.Timestamp,
		})
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *attendanceHandler) handleTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	recordID, err := id.ParseRecordID(req.RecordID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid record id"))
		return
	}
	result, err := h.svc.AttemptTransition(ctx, attendance.TransitionRequest{
		RecordID:       recordID,
		TargetState:    id.AttendanceState(req.TargetState),
		ReasonCode:     req.ReasonCode,
		Justification:  req.Justification,
		Actor:          requestcontext.Actor(ctx),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.logger.InfoContext(ctx, "transition refused", "record_id", req.RecordID, "error", err.Error())
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, transitionResponse{
		RecordID:  result.RecordID.String(),
		NewState:  result.NewState.String(),
		AttemptID: result.AttemptID.String(),
		Duplicate: result.Duplicate,
	})
}

func toRecordResponse(rec attendance.AttendanceRecord) recordResponse {
	return recordResponse{
		RecordID:   rec.ID.String(),
		SubjectID:  rec.SubjectID.String(),
		SessionRef: rec.SessionRef.String(),
		State:      rec.CurrentState.String(),
		Version:    rec.Version,
	}
}
