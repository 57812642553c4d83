// Package model はドメインモデルを定義する。
package model

import "time"

// LogLevel は監査ログのレベルを表す。
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// 監査ログのmetadata["event"]に記録するイベント種別。
const (
	EventFeedFetch        = "feed_fetch"
	EventFeedError        = "feed_error"
	EventCaptionGenerated = "caption_generated"
	EventCaptionRejected  = "caption_rejected"
	EventCaptionFailed    = "caption_failed"
	EventImageProvider    = "image_provider_error"
	EventPostScheduled    = "post_scheduled"
	EventPostPublished    = "post_published"
	EventPublishRetry     = "publish_retry"
	EventPublishFailed    = "publish_failed"
	EventSchedulerError   = "scheduler_error"
)

// Log は追記専用の監査ログを表す。作成後は更新しない。
type Log struct {
	ID         string
	Level      LogLevel
	Message    string
	CampaignID *string
	PostID     *string
	Metadata   map[string]any
	CreatedAt  time.Time
}
