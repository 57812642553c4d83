// Package model はドメインモデルを定義する。
package model

import "time"

// ImageProvider は画像検索プロバイダーの種別を表す。
type ImageProvider string

const (
	// ImageProviderPexels はPexels。
	ImageProviderPexels ImageProvider = "pexels"
	// ImageProviderWikimedia はWikimedia Commons。
	ImageProviderWikimedia ImageProvider = "wikimedia"
	// ImageProviderUnsplash はUnsplash。
	ImageProviderUnsplash ImageProvider = "unsplash"
)

// AccountTargeting は投稿先アカウントの指定方法を表す。
type AccountTargeting string

const (
	// AccountTargetingAll は選択プラットフォームの接続済み全アカウントに投稿する。
	AccountTargetingAll AccountTargeting = "all"
	// AccountTargetingSpecific はTargetAccountIDsで指定したアカウントにのみ投稿する。
	AccountTargetingSpecific AccountTargeting = "specific"
)

// Campaign はコンテンツ自動化の設定単位を表す。
// パイプラインからはプロンプト同期以外で更新されない。
type Campaign struct {
	ID               string
	UserID           string
	Name             string
	Topic            string
	RSSURLs          []string
	ScheduleCron     string
	ScheduleTimezone string
	AIPrompt         string

	// 安全性ルール
	SafetyForbiddenTerms []string
	SafetyMaxLength      int

	ImageProviders   []ImageProvider
	TargetPlatforms  []string
	AccountTargeting AccountTargeting
	TargetAccountIDs []string

	AutoPublish bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserSettings はユーザーごとの外部API認証情報を表す。
// 未設定の項目はグローバル設定にフォールバックする。
type UserSettings struct {
	UserID            string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	PostlyAPIKey      string
	PostlyWorkspaceID string
	PexelsAPIKey      string
	UnsplashAccessKey string
	UpdatedAt         time.Time
}
