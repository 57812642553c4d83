// Package auditlog は監査ログの記録を提供する。
// ログはLogRepositoryに保存し、同じ内容をslogにも出力する。
package auditlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/hitoshi/feedcaster/internal/model"
	"github.com/hitoshi/feedcaster/internal/repository"
)

// Entry は記録する監査ログ1件分の入力。
type Entry struct {
	Level      model.LogLevel
	Event      string
	Message    string
	CampaignID string
	PostID     string
	Metadata   map[string]any
}

// Recorder は監査ログを記録する。
// 保存に失敗しても呼び出し元の処理は止めず、slogに警告を出すだけにする。
type Recorder struct {
	repo   repository.LogRepository
	logger *slog.Logger
	nowFn  func() time.Time
	// captureFn はerrorレベルのログをSentryへ送る。nilなら送らない。
	captureFn func(message string)
}

// NewRecorder はRecorderを生成する。
func NewRecorder(repo repository.LogRepository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:   repo,
		logger: logger,
		nowFn:  time.Now,
		captureFn: func(message string) {
			sentry.CaptureMessage(message)
		},
	}
}

// Record は監査ログを1件記録する。
func (r *Recorder) Record(ctx context.Context, e Entry) {
	metadata := make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		metadata[k] = v
	}
	if e.Event != "" {
		metadata["event"] = e.Event
	}

	entry := &model.Log{
		ID:        uuid.New().String(),
		Level:     e.Level,
		Message:   e.Message,
		Metadata:  metadata,
		CreatedAt: r.nowFn(),
	}
	if e.CampaignID != "" {
		id := e.CampaignID
		entry.CampaignID = &id
	}
	if e.PostID != "" {
		id := e.PostID
		entry.PostID = &id
	}

	r.mirror(ctx, e)

	if e.Level == model.LogLevelError && r.captureFn != nil {
		r.captureFn(e.Message)
	}

	if r.repo == nil {
		return
	}
	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.WarnContext(ctx, "監査ログの保存に失敗しました",
			slog.String("event", e.Event),
			slog.String("error", err.Error()),
		)
	}
}

// Info はinfoレベルの監査ログを記録する。
func (r *Recorder) Info(ctx context.Context, event, message, campaignID, postID string, metadata map[string]any) {
	r.Record(ctx, Entry{Level: model.LogLevelInfo, Event: event, Message: message,
		CampaignID: campaignID, PostID: postID, Metadata: metadata})
}

// Warning はwarningレベルの監査ログを記録する。
func (r *Recorder) Warning(ctx context.Context, event, message, campaignID, postID string, metadata map[string]any) {
	r.Record(ctx, Entry{Level: model.LogLevelWarning, Event: event, Message: message,
		CampaignID: campaignID, PostID: postID, Metadata: metadata})
}

// Error はerrorレベルの監査ログを記録する。
func (r *Recorder) Error(ctx context.Context, event, message, campaignID, postID string, metadata map[string]any) {
	r.Record(ctx, Entry{Level: model.LogLevelError, Event: event, Message: message,
		CampaignID: campaignID, PostID: postID, Metadata: metadata})
}

func (r *Recorder) mirror(ctx context.Context, e Entry) {
	attrs := []any{slog.String("event", e.Event)}
	if e.CampaignID != "" {
		attrs = append(attrs, slog.String("campaign_id", e.CampaignID))
	}
	if e.PostID != "" {
		attrs = append(attrs, slog.String("post_id", e.PostID))
	}
	for k, v := range e.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}

	switch e.Level {
	case model.LogLevelError:
		r.logger.ErrorContext(ctx, e.Message, attrs...)
	case model.LogLevelWarning:
		r.logger.WarnContext(ctx, e.Message, attrs...)
	default:
		r.logger.InfoContext(ctx, e.Message, attrs...)
	}
}
