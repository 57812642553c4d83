package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/feedcaster/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// ErrorStatus はドメインエラーをHTTPステータスと統一エラーに変換する。
// 対応しないエラーはfalseを返す。
func ErrorStatus(err error) (int, *model.APIError, bool) {
	var (
		apiErr   *model.APIError
		credErr  *model.MissingCredentialsError
		valErr   *model.ValidationError
		pubErr   *model.PublishError
		fetchErr *model.FeedFetchError
	)
	switch {
	case errors.As(err, &apiErr):
		return http.StatusBadRequest, apiErr, true
	case errors.Is(err, model.ErrCampaignNotFound):
		return http.StatusNotFound, model.NewCampaignNotFoundError(""), true
	case errors.Is(err, model.ErrPostNotFound):
		return http.StatusNotFound, model.NewPostNotFoundError(""), true
	case errors.Is(err, model.ErrPostLocked):
		return http.StatusConflict, model.NewPostLockedError(), true
	case errors.Is(err, model.ErrPostAlreadyPosted):
		return http.StatusConflict, model.NewPostAlreadyPostedError(), true
	case errors.Is(err, model.ErrPostChanged):
		return http.StatusConflict, model.NewPostChangedError(), true
	case errors.Is(err, model.ErrMissingCaption):
		return http.StatusUnprocessableEntity, model.NewMissingCaptionError(), true
	case errors.As(err, &credErr):
		return http.StatusUnprocessableEntity, model.NewMissingCredentialsError(credErr.Kind), true
	case errors.As(err, &valErr):
		return http.StatusUnprocessableEntity, model.NewValidationFailedError(valErr.Issues), true
	case errors.As(err, &pubErr):
		return http.StatusBadGateway, model.NewPublishFailedError(pubErr.Reason), true
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway, &model.APIError{
			Code:     "FEED_FETCH_FAILED",
			Message:  "フィードの取得に失敗しました。",
			Category: "campaign",
			Action:   "フィードURLが正しいか確認してください。",
		}, true
	}
	return 0, nil, false
}

// WriteDomainError はエラーを統一エラーレスポンスとして書き込む。
// 未知のエラーは詳細をログに記録して500を返す。
func WriteDomainError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, context.Canceled) {
		// クライアント切断。応答は届かない
		return
	}
	if status, apiErr, ok := ErrorStatus(err); ok {
		WriteErrorResponse(w, status, apiErr)
		return
	}
	logger.ErrorContext(ctx, "リクエストの処理に失敗しました", slog.String("error", err.Error()))
	WriteInternalServerError(w)
}
