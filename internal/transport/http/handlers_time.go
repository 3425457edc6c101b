package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mssola/useragent"

	"smartattend/internal/timeauthority"
	"smartattend/internal/transport/http/shared"
	id "smartattend/pkg/domain"
	dErrors "smartattend/pkg/domain-errors"
	"smartattend/pkg/requestcontext"
)

// TimeService defines the drift classification operation.
type TimeService interface {
	ClassifyDrift(ctx context.Context, req timeauthority.ClassifyRequest) (timeauthority.Result, error)
}

type timeHandler struct {
	svc    TimeService
	logger *slog.Logger
}

type classifyRequest struct {
	SubjectID   string    `json:"subject_id"`
	DeviceID    string    `json:"device_id"`
	DeviceClass string    `json:"device_class"`
	ClientTime  time.Time `json:"client_time"`
}

type classifyResponse struct {
	SampleID      string   `json:"sample_id"`
	Category      string   `json:"category"`
	Action        string   `json:"action"`
	DriftMs       int64    `json:"drift_ms"`
	ForensicFlags []string `json:"forensic_flags,omitempty"`
}

func (h *timeHandler) register(r chi.Router) {
	r.Post("/time/classify", h.handleClassify)
}

func (h *timeHandler) handleClassify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	deviceClass := id.DeviceClass(req.DeviceClass)
	if req.DeviceClass == "" {
		deviceClass = deviceClassFromUserAgent(r.UserAgent())
	}
	result, err := h.svc.ClassifyDrift(ctx, timeauthority.ClassifyRequest{
		SubjectID:   id.SubjectID(req.SubjectID),
		DeviceID:    id.DeviceID(req.DeviceID),
		DeviceClass: deviceClass,
		ClientTime:  req.ClientTime,
		ServerTime:  requestcontext.Now(ctx),
		Actor:       requestcontext.Actor(ctx),
	})
	if err != nil {
		// A rejection still carries the persisted classification.
		if dErrors.HasCode(err, dErrors.CodePolicyViolation) {
			h.logger.InfoContext(ctx, "drift rejected", "device_id", req.DeviceID, "error", err.Error())
		}
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, classifyResponse{
		SampleID:      result.SampleID.String(),
		Category:      result.Category.String(),
		Action:        result.Action.String(),
		DriftMs:       result.Drift.Milliseconds(),
		ForensicFlags: result.ForensicFlags,
	})
}

// deviceClassFromUserAgent maps the request's User-Agent onto a device class
// when the caller did not state one. Kiosks always declare themselves; mobile
// checkins are recognized by platform, everything else is a browser.
func deviceClassFromUserAgent(raw string) id.DeviceClass {
	ua := useragent.New(raw)
	if ua.Mobile() {
		if ua.OSInfo().Name == "Android" {
			return id.DeviceMobileAndroid
		}
		switch ua.Platform() {
		case "iPhone", "iPad", "iPod":
			return id.DeviceMobileIOS
		}
	}
	return id.DeviceWeb
}
