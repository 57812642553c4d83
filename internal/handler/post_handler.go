package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedcaster/internal/middleware"
	"github.com/hitoshi/feedcaster/internal/model"
)

// PostService は投稿単位の生成と公開のインターフェース。
type PostService interface {
	RegenerateCaption(ctx context.Context, postID, overridePrompt string, savePrompt bool) (*model.Post, error)
	ProcessPost(ctx context.Context, postID string) (*model.Post, error)
	PublishPostByID(ctx context.Context, postID string) (*model.Post, error)
}

// PostHandler は投稿の生成と公開を起動するハンドラー。
type PostHandler struct {
	service PostService
	logger  *slog.Logger
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostService, logger *slog.Logger) *PostHandler {
	return &PostHandler{service: service, logger: logger}
}

type generateRequest struct {
	Prompt     string `json:"prompt"`
	SavePrompt bool   `json:"save_prompt"`
}

// Generate はキャプションを再生成する。画像や予約日時は変更しない。
// POST /api/posts/{id}/generate
func (h *PostHandler) Generate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req generateRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("JSONの解析に失敗しました"))
		return
	}

	post, err := h.service.RegenerateCaption(r.Context(), id, strings.TrimSpace(req.Prompt), req.SavePrompt)
	if err != nil {
		middleware.WriteDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post))
}

// Process はキャプションと画像を生成してレビュー待ちにする。
// POST /api/posts/{id}/process
func (h *PostHandler) Process(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	post, err := h.service.ProcessPost(r.Context(), id)
	if err != nil {
		middleware.WriteDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post))
}

// Publish は投稿を即座に公開する。
// POST /api/posts/{id}/publish
func (h *PostHandler) Publish(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	post, err := h.service.PublishPostByID(r.Context(), id)
	if err != nil {
		middleware.WriteDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post))
}
