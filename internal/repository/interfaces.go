// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
// 見つからない場合の検索系メソッドはnil, nilを返す。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/feedcaster/internal/model"
)

// CampaignRepository はキャンペーン設定の永続化インターフェース。
// パイプラインからの書き込みはプロンプト同期のみ。
type CampaignRepository interface {
	// FindByID は指定IDのキャンペーンを取得する。
	FindByID(ctx context.Context, id string) (*model.Campaign, error)

	// ListActive はis_active = trueのキャンペーンを作成日時順に返す。
	ListActive(ctx context.Context) ([]*model.Campaign, error)

	// UpdatePrompt はキャンペーンのAIプロンプトを上書きする。
	UpdatePrompt(ctx context.Context, id, prompt string) error
}

// PostRepository は投稿の永続化インターフェース。
type PostRepository interface {
	// FindByID は指定IDの投稿を取得する。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// FindByCampaignAndGUID はキャンペーン内でsource_guidが一致する投稿を取得する。
	// 取り込み時の重複判定に使う。
	FindByCampaignAndGUID(ctx context.Context, campaignID, guid string) (*model.Post, error)

	// ListByCampaign はキャンペーンの投稿のうち指定ステータスのものを作成日時順に返す。
	ListByCampaign(ctx context.Context, campaignID string, statuses []model.PostStatus) ([]*model.Post, error)

	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error

	// Update は投稿の可変フィールドを更新する。リースは変更しない。
	// posted の投稿を別ステータスへ戻す更新は model.ErrPostAlreadyPosted を返す。
	Update(ctx context.Context, post *model.Post) error

	// UpdateCaption はキャプションとAIモデル名のみを更新する。
	UpdateCaption(ctx context.Context, id, caption, aiModel string) error

	// AcquireLease はprocessing_untilが空または期限切れの場合のみuntilを設定する。
	// posted の投稿には設定しない。取得できた場合はtrueを返す。
	AcquireLease(ctx context.Context, id string, until, now time.Time) (bool, error)

	// ReleaseLease はprocessing_untilをクリアする。
	ReleaseLease(ctx context.Context, id string) error
}

// LogRepository は監査ログの永続化インターフェース。追記のみ。
type LogRepository interface {
	// Create は監査ログを1件追加する。
	Create(ctx context.Context, log *model.Log) error

	// ExistsSince はキャンペーンについてmetadata.eventが一致するログが
	// since以降に存在するかを返す。
	ExistsSince(ctx context.Context, campaignID, event string, since time.Time) (bool, error)
}

// UserSettingsRepository はユーザーごとのAPI認証情報の読み取りインターフェース。
type UserSettingsRepository interface {
	// FindByUserID は指定ユーザーの設定を取得する。
	FindByUserID(ctx context.Context, userID string) (*model.UserSettings, error)
}
