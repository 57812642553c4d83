package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/feedcaster/internal/middleware"
	"github.com/hitoshi/feedcaster/internal/model"
	"github.com/hitoshi/feedcaster/internal/schedule"
)

// ScheduleHandler はcron式の説明と次回実行時刻を返すハンドラー。
type ScheduleHandler struct {
	defaultTimezone string
	nowFn           func() time.Time
}

// NewScheduleHandler はScheduleHandlerを生成する。
func NewScheduleHandler(defaultTimezone string) *ScheduleHandler {
	return &ScheduleHandler{defaultTimezone: defaultTimezone, nowFn: time.Now}
}

type describeResponse struct {
	Cron        string     `json:"cron"`
	Description string     `json:"description"`
	Timezone    string     `json:"timezone"`
	NextRun     *time.Time `json:"next_run,omitempty"`
}

// Describe はcron式を人が読める形に変換する。
// GET /api/schedule/describe?cron=&timezone=
func (h *ScheduleHandler) Describe(w http.ResponseWriter, r *http.Request) {
	expr := strings.TrimSpace(r.URL.Query().Get("cron"))
	tz := r.URL.Query().Get("timezone")
	if tz == "" {
		tz = h.defaultTimezone
	}

	desc, err := schedule.Describe(expr)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidCronError(expr))
		return
	}

	resp := describeResponse{Cron: expr, Description: desc, Timezone: tz}
	if next, err := schedule.Next(expr, tz, h.nowFn()); err == nil {
		resp.NextRun = &next
	}
	writeJSON(w, http.StatusOK, resp)
}
