package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/raushankrgupta/tryon-orchestrator/config"
	"github.com/raushankrgupta/tryon-orchestrator/ledger"
	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/raushankrgupta/tryon-orchestrator/tryon"
	"github.com/raushankrgupta/tryon-orchestrator/utils"
)

// TryOnRequest represents the request body for virtual try-on
type TryOnRequest struct {
	Kind         models.Kind `json:"kind"`
	ProductID    string      `json:"product_id"`
	UserImage    string      `json:"user_image"`
	SubjectMedia string      `json:"subject_media"`
}

// TryOnResponse is returned once the try-on is paid for and submitted.
type TryOnResponse struct {
	TaskID               string           `json:"task_id"`
	State                models.TaskState `json:"state"`
	Cost                 int64            `json:"cost"`
	EstimatedWaitSeconds int              `json:"estimated_wait_seconds"`
}

// StartTryOnHandler debits the user and submits a try-on. Polling continues
// in the background; clients follow it with the status endpoint.
func (h *Handler) StartTryOnHandler(w http.ResponseWriter, r *http.Request) {
	var logMessageBuilder strings.Builder
	defer utils.FlushLogMessage(h.logger, &logMessageBuilder)
	utils.AddToLogMessage(&logMessageBuilder, "[Virtual Try-On API]")

	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		utils.RespondError(w, &logMessageBuilder, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var body TryOnRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.RespondError(w, &logMessageBuilder, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if body.Kind == "" {
		body.Kind = models.KindImage
	}

	utils.AddToLogMessage(&logMessageBuilder, fmt.Sprintf("Try-On Request: UserID=%s, ProductID=%s, Kind=%s", userID, body.ProductID, body.Kind))

	req := h.pricing.NewRequest(body.Kind, userID, body.ProductID, body.UserImage, body.SubjectMedia)
	handle, err := h.tryOns.Start(r.Context(), req)
	if err != nil {
		respondTryOnError(w, &logMessageBuilder, err)
		return
	}

	snap := handle.Snapshot()
	utils.AddToLogMessage(&logMessageBuilder, fmt.Sprintf("Try-on started: TaskID=%s, ProviderTaskID=%s", snap.ID, snap.ProviderTaskID))
	utils.RespondJSON(w, http.StatusAccepted, TryOnResponse{
		TaskID:               snap.ID,
		State:                snap.State,
		Cost:                 req.Cost,
		EstimatedWaitSeconds: int(h.pricing.EstimatedWait(req.Kind, config.PollInterval).Seconds()),
	})
}

// TryOnStatusHandler returns the current record of one of the caller's tasks.
func (h *Handler) TryOnStatusHandler(w http.ResponseWriter, r *http.Request) {
	var logMessageBuilder strings.Builder
	defer utils.FlushLogMessage(h.logger, &logMessageBuilder)
	utils.AddToLogMessage(&logMessageBuilder, "[Try-On Status API]")

	task, ok := h.ownedTask(w, r, &logMessageBuilder)
	if !ok {
		return
	}
	for i, ref := range task.ResultMedia {
		if url, err := utils.ResolveMediaURL(r.Context(), ref); err == nil {
			task.ResultMedia[i] = url
		}
	}
	utils.RespondJSON(w, http.StatusOK, task)
}

// CancelTryOnHandler stops polling one of the caller's tasks.
func (h *Handler) CancelTryOnHandler(w http.ResponseWriter, r *http.Request) {
	var logMessageBuilder strings.Builder
	defer utils.FlushLogMessage(h.logger, &logMessageBuilder)
	utils.AddToLogMessage(&logMessageBuilder, "[Try-On Cancel API]")

	task, ok := h.ownedTask(w, r, &logMessageBuilder)
	if !ok {
		return
	}
	if task.State.Terminal() {
		utils.RespondError(w, &logMessageBuilder, "Try-on already finished", http.StatusConflict)
		return
	}
	if err := h.tryOns.Cancel(task.ID); err != nil {
		utils.RespondError(w, &logMessageBuilder, "Try-on not found", http.StatusNotFound)
		return
	}

	utils.AddToLogMessage(&logMessageBuilder, fmt.Sprintf("Try-on canceled: TaskID=%s", task.ID))
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Try-on canceled",
		"task_id": task.ID,
	})
}

func (h *Handler) ownedTask(w http.ResponseWriter, r *http.Request, logMessageBuilder *strings.Builder) (models.TryOnTask, bool) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		utils.RespondError(w, logMessageBuilder, "Unauthorized", http.StatusUnauthorized)
		return models.TryOnTask{}, false
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		utils.RespondError(w, logMessageBuilder, "id is required", http.StatusBadRequest)
		return models.TryOnTask{}, false
	}

	task, found := h.tryOns.Task(id)
	if !found || task.Request.UserID != userID {
		utils.RespondError(w, logMessageBuilder, "Try-on not found", http.StatusNotFound)
		return models.TryOnTask{}, false
	}
	return task, true
}

// respondTryOnError maps orchestrator errors to HTTP responses. Failures that
// were compensated carry refunded=true; a failed refund asks the user to contact support.
func respondTryOnError(w http.ResponseWriter, logMessageBuilder *strings.Builder, err error) {
	utils.AddToLogMessage(logMessageBuilder, fmt.Sprintf("Try-on failed: %v", err))

	switch {
	case errors.Is(err, tryon.ErrRefundFailed):
		utils.RespondErrorWith(w, logMessageBuilder, tryon.ErrRefundFailed.Error(), http.StatusInternalServerError,
			map[string]interface{}{"contact_support": true, "refunded": false})
	case errors.Is(err, tryon.ErrInvalidRequest):
		utils.RespondError(w, logMessageBuilder, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		utils.RespondError(w, logMessageBuilder, "Insufficient balance for this try-on", http.StatusPaymentRequired)
	case errors.Is(err, ledger.ErrUserNotFound):
		utils.RespondError(w, logMessageBuilder, "User not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrPersistence):
		utils.RespondError(w, logMessageBuilder, "Could not update your balance, please try again", http.StatusServiceUnavailable)
	case errors.Is(err, tryon.ErrSubmission), errors.Is(err, tryon.ErrProviderFailure):
		utils.RespondErrorWith(w, logMessageBuilder, err.Error(), http.StatusBadGateway,
			map[string]interface{}{"refunded": true})
	case errors.Is(err, tryon.ErrTimeout):
		utils.RespondErrorWith(w, logMessageBuilder, tryon.ErrTimeout.Error(), http.StatusGatewayTimeout,
			map[string]interface{}{"refunded": true})
	case errors.Is(err, tryon.ErrShuttingDown):
		utils.RespondError(w, logMessageBuilder, "Try-on service is restarting, please try again shortly", http.StatusServiceUnavailable)
	case errors.Is(err, tryon.ErrCanceled):
		utils.RespondError(w, logMessageBuilder, "Try-on canceled", http.StatusConflict)
	default:
		utils.RespondError(w, logMessageBuilder, "Failed to start try-on", http.StatusInternalServerError)
	}
}
