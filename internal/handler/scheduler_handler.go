package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedcaster/internal/middleware"
	"github.com/hitoshi/feedcaster/internal/model"
	"github.com/hitoshi/feedcaster/internal/worker/scheduler"
)

// SchedulerService はスケジューラのパスを手動実行するインターフェース。
type SchedulerService interface {
	RunAction(ctx context.Context, action scheduler.Action) (*scheduler.Result, error)
}

// SchedulerHandler はスケジューラの手動実行ハンドラー。
type SchedulerHandler struct {
	service SchedulerService
	logger  *slog.Logger
}

// NewSchedulerHandler はSchedulerHandlerを生成する。
func NewSchedulerHandler(service SchedulerService, logger *slog.Logger) *SchedulerHandler {
	return &SchedulerHandler{service: service, logger: logger}
}

// Run は指定したパスを実行する。
// POST /api/scheduler/{action}
func (h *SchedulerHandler) Run(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "action")
	action, err := scheduler.ParseAction(raw)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidActionError(raw))
		return
	}

	result, err := h.service.RunAction(r.Context(), action)
	if err != nil {
		middleware.WriteDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
