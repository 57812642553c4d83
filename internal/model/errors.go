// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, campaign, post, credentials, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeCampaignNotFound   = "CAMPAIGN_NOT_FOUND"
	ErrCodePostNotFound       = "POST_NOT_FOUND"
	ErrCodePostLocked         = "POST_LOCKED"
	ErrCodePostAlreadyPosted  = "POST_ALREADY_POSTED"
	ErrCodePostChanged        = "POST_CHANGED"
	ErrCodeMissingCaption     = "MISSING_CAPTION"
	ErrCodeMissingCredentials = "MISSING_CREDENTIALS"
	ErrCodeValidationFailed   = "CAPTION_VALIDATION_FAILED"
	ErrCodePublishFailed      = "PUBLISH_FAILED"
	ErrCodeInvalidAction      = "INVALID_SCHEDULER_ACTION"
	ErrCodeInvalidURL         = "INVALID_URL"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidCron        = "INVALID_CRON"
	ErrCodeRateLimited        = "RATE_LIMITED"
)

// ドメインの番兵エラー。
var (
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrPostNotFound      = errors.New("post not found")
	ErrPostLocked        = errors.New("post is being processed by another run")
	ErrPostAlreadyPosted = errors.New("post has already been posted")
	ErrPostChanged       = errors.New("post was updated by another run")
	ErrMissingCaption    = errors.New("post has no caption to publish")
	ErrMissingAPIKey     = errors.New("api key is not configured")
	ErrDuplicateArticle  = errors.New("article already ingested for this campaign")
)

// CredentialKind は不足している認証情報の種類を表す。
type CredentialKind string

const (
	CredentialAI      CredentialKind = "ai"
	CredentialPublish CredentialKind = "publish"
)

// MissingCredentialsError は必要なAPI認証情報が解決できない場合のエラー。
// リトライ対象ではなく、即座に呼び出し元へ返す。
type MissingCredentialsError struct {
	Kind   CredentialKind
	UserID string
}

// Error はerrorインターフェースを実装する。
func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("missing %s credentials for user %s", e.Kind, e.UserID)
}

// FeedFetchError はRSSフィードの取得またはパースに失敗した場合のエラー。
type FeedFetchError struct {
	URL string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *FeedFetchError) Error() string {
	return fmt.Sprintf("feed fetch failed for %s: %v", e.URL, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *FeedFetchError) Unwrap() error {
	return e.Err
}

// ValidationError はキャプションが安全性ルールを満たせなかった場合のエラー。
type ValidationError struct {
	Attempts int
	Issues   []string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return fmt.Sprintf("caption failed safety validation after %d attempts: %s",
		e.Attempts, strings.Join(e.Issues, "; "))
}

// PublishError はリトライを使い切っても投稿できなかった場合のエラー。
type PublishError struct {
	Attempts int
	Reason   string
}

// Error はerrorインターフェースを実装する。
func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed after %d attempts: %s", e.Attempts, e.Reason)
}

// NewCampaignNotFoundError はキャンペーン未検出エラーを生成する。
func NewCampaignNotFoundError(campaignID string) *APIError {
	return &APIError{
		Code:     ErrCodeCampaignNotFound,
		Message:  fmt.Sprintf("指定されたキャンペーンが見つかりません: %s", campaignID),
		Category: "campaign",
		Action:   "キャンペーンIDを確認してください。",
	}
}

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", postID),
		Category: "post",
		Action:   "投稿IDを確認してください。",
	}
}

// NewPostLockedError は投稿が処理中の場合のエラーを生成する。
func NewPostLockedError() *APIError {
	return &APIError{
		Code:     ErrCodePostLocked,
		Message:  "この投稿は現在処理中です。",
		Category: "post",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewPostChangedError は処理中に投稿が別の実行で更新されていた場合のエラーを生成する。
func NewPostChangedError() *APIError {
	return &APIError{
		Code:     ErrCodePostChanged,
		Message:  "この投稿は別の処理で更新されました。",
		Category: "post",
		Action:   "投稿を再読み込みしてから再度お試しください。",
	}
}

// NewPostAlreadyPostedError は投稿済みの投稿を操作しようとした場合のエラーを生成する。
func NewPostAlreadyPostedError() *APIError {
	return &APIError{
		Code:     ErrCodePostAlreadyPosted,
		Message:  "この投稿は既に公開されています。",
		Category: "post",
		Action:   "公開済みの投稿は再生成・再投稿できません。",
	}
}

// NewMissingCaptionError はキャプション未生成の投稿を公開しようとした場合のエラーを生成する。
func NewMissingCaptionError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCaption,
		Message:  "キャプションが生成されていません。",
		Category: "post",
		Action:   "先にキャプションを生成してください。",
	}
}

// NewMissingCredentialsError は認証情報不足のエラーを生成する。
func NewMissingCredentialsError(kind CredentialKind) *APIError {
	action := "設定画面でAIのAPIキーを登録してください。"
	if kind == CredentialPublish {
		action = "設定画面で投稿APIのAPIキーとワークスペースIDを登録してください。"
	}
	return &APIError{
		Code:     ErrCodeMissingCredentials,
		Message:  "APIの認証情報が設定されていません。",
		Category: "credentials",
		Action:   action,
	}
}

// NewValidationFailedError はキャプションの安全性検証失敗エラーを生成する。
func NewValidationFailedError(issues []string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("キャプションが安全性ルールを満たしませんでした: %s", strings.Join(issues, "; ")),
		Category: "post",
		Action:   "プロンプトや安全性ルールを見直してから再生成してください。",
	}
}

// NewPublishFailedError は投稿失敗エラーを生成する。
func NewPublishFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePublishFailed,
		Message:  fmt.Sprintf("投稿に失敗しました: %s", reason),
		Category: "post",
		Action:   "投稿先アカウントの接続状態を確認してから再投稿してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "http:// または https:// で始まる正しいURLを入力してください。",
	}
}

// NewInvalidRequestError はリクエスト形式の不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidCronError はcron式の不正エラーを生成する。
func NewInvalidCronError(expr string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCron,
		Message:  fmt.Sprintf("cron式を解釈できません: %s", expr),
		Category: "validation",
		Action:   "「分 時 日 月 曜日」の5項目で指定してください。",
	}
}

// NewInvalidActionError は未定義のスケジューラアクションのエラーを生成する。
func NewInvalidActionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAction,
		Message:  fmt.Sprintf("未定義のアクションです: %s", action),
		Category: "validation",
		Action:   "fetch、process、publishのいずれかを指定してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
