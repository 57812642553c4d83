package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedcaster/internal/ingest"
	"github.com/hitoshi/feedcaster/internal/middleware"
	"github.com/hitoshi/feedcaster/internal/pipeline"
)

// IngestService はフィード取り込みのサービスインターフェース。
type IngestService interface {
	ProcessCampaignFeeds(ctx context.Context, campaignID string) (*ingest.Summary, error)
	ProcessAllActiveCampaigns(ctx context.Context) (*ingest.BatchSummary, error)
}

// DraftProcessor は下書き投稿の一括処理インターフェース。
type DraftProcessor interface {
	ProcessDraftPosts(ctx context.Context, campaignID string) (*pipeline.BatchResult, error)
}

// CampaignHandler はキャンペーン単位の処理を起動するハンドラー。
type CampaignHandler struct {
	ingest IngestService
	drafts DraftProcessor
	logger *slog.Logger
}

// NewCampaignHandler はCampaignHandlerを生成する。
func NewCampaignHandler(ingestSvc IngestService, drafts DraftProcessor, logger *slog.Logger) *CampaignHandler {
	return &CampaignHandler{ingest: ingestSvc, drafts: drafts, logger: logger}
}

// IngestAll は全アクティブキャンペーンのフィードを取り込む。
// POST /api/campaigns/ingest
func (h *CampaignHandler) IngestAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ingest.ProcessAllActiveCampaigns(r.Context())
	if err != nil {
		middleware.WriteDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// IngestCampaign は指定キャンペーンのフィードを取り込む。
// POST /api/campaigns/{id}/ingest
func (h *CampaignHandler) IngestCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	summary, err := h.ingest.ProcessCampaignFeeds(r.Context(), id)
	if err != nil {
		middleware.WriteDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ProcessDrafts はキャンペーンのキャプション未生成の投稿をまとめて処理する。
// POST /api/campaigns/{id}/drafts/process
func (h *CampaignHandler) ProcessDrafts(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	result, err := h.drafts.ProcessDraftPosts(r.Context(), id)
	if err != nil {
		middleware.WriteDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
