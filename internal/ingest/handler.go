package ingest

import (
	"errors"
	"net/http"

	"github.com/ignite/mailguard/internal/domain"
	"github.com/ignite/mailguard/internal/pkg/httputil"
	"github.com/ignite/mailguard/internal/pkg/logger"
)

// Handler exposes Producer over HTTP: the out-of-scope mailbox-provider
// layer is expected to POST an already-parsed domain.StructuredEmail here.
type Handler struct {
	producer *Producer
}

// NewHandler wires a Handler to producer.
func NewHandler(producer *Producer) *Handler {
	return &Handler{producer: producer}
}

type ingestRequest struct {
	UserID string               `json:"user_id"`
	Email  domain.StructuredEmail `json:"email"`
}

type ingestResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// HandleIngest handles POST /ingest.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Email.MessageID == "" {
		httputil.BadRequest(w, "user_id and email.message_id are required")
		return
	}

	event, err := h.producer.Ingest(r.Context(), req.UserID, req.Email)
	switch {
	case err == nil:
		httputil.JSON(w, http.StatusAccepted, ingestResponse{JobID: event.ID, Status: string(event.Status)})
	case errors.Is(err, ErrDuplicate):
		httputil.OK(w, ingestResponse{JobID: event.ID, Status: "duplicate"})
	default:
		logger.Error("ingest failed", "error", err, "message_id", req.Email.MessageID)
		httputil.InternalError(w, err)
	}
}
