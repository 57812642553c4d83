// Package handler はパイプラインを手動で起動するHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedcaster/internal/middleware"
	"github.com/hitoshi/feedcaster/internal/model"
)

// maxRequestBody はJSONリクエストボディの上限。
const maxRequestBody = 64 * 1024

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeOptionalJSON はボディをvにデコードする。空ボディは許容する。
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// parseID はパスパラメータのIDがUUID形式かを検証する。不正な場合は400を書き込みfalseを返す。
func parseID(w http.ResponseWriter, raw string) (string, bool) {
	if _, err := uuid.Parse(raw); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("IDの形式が不正です"))
		return "", false
	}
	return raw, true
}

// postResponse は投稿のAPIレスポンス。
type postResponse struct {
	ID                string     `json:"id"`
	CampaignID        string     `json:"campaign_id"`
	SourceTitle       string     `json:"source_title"`
	SourceURL         string     `json:"source_url"`
	GeneratedCaption  string     `json:"generated_caption"`
	ImageURL          string     `json:"image_url,omitempty"`
	ImageCredit       string     `json:"image_credit,omitempty"`
	ImageSearchPhrase string     `json:"image_search_phrase,omitempty"`
	AIModel           string     `json:"ai_model,omitempty"`
	Status            string     `json:"status"`
	ScheduledFor      *time.Time `json:"scheduled_for,omitempty"`
	PostedAt          *time.Time `json:"posted_at,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	RetryCount        int        `json:"retry_count"`
}

func toPostResponse(p *model.Post) postResponse {
	return postResponse{
		ID:                p.ID,
		CampaignID:        p.CampaignID,
		SourceTitle:       p.SourceTitle,
		SourceURL:         p.SourceURL,
		GeneratedCaption:  p.GeneratedCaption,
		ImageURL:          p.ImageURL,
		ImageCredit:       p.ImageCredit,
		ImageSearchPhrase: p.ImageSearchPhrase,
		AIModel:           p.AIModel,
		Status:            string(p.Status),
		ScheduledFor:      p.ScheduledFor,
		PostedAt:          p.PostedAt,
		FailureReason:     p.FailureReason,
		RetryCount:        p.RetryCount,
	}
}
