package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/feedcaster/internal/metrics"
	"github.com/hitoshi/feedcaster/internal/model"
)

// 公開済み状態の保存の試行回数と待機単位。
const (
	persistAttempts   = 3
	persistRetryDelay = 500 * time.Millisecond
)

// PublishPost は投稿を公開する。失敗時はPublishBackoffで待ちながら最大MaxPublishAttempts回試行する。
// 使い切った場合は投稿をfailedにして*model.PublishErrorを返す。
func (o *Orchestrator) PublishPost(ctx context.Context, post *model.Post, campaign *model.Campaign) error {
	if post.Status == model.PostStatusPosted {
		return model.ErrPostAlreadyPosted
	}
	if !post.HasCaption() {
		o.audit.Warning(ctx, model.EventPublishFailed, "キャプションが無いため投稿できません", post.CampaignID, post.ID, nil)
		return model.ErrMissingCaption
	}

	settings, err := o.userSettings(ctx, campaign.UserID)
	if err != nil {
		return err
	}
	if settings == nil || settings.PostlyAPIKey == "" || settings.PostlyWorkspaceID == "" {
		credErr := &model.MissingCredentialsError{Kind: model.CredentialPublish, UserID: campaign.UserID}
		o.audit.Error(ctx, model.EventPublishFailed, "投稿APIの認証情報が設定されていません", post.CampaignID, post.ID,
			map[string]any{"error": credErr.Error()})
		return credErr
	}

	return o.withLease(ctx, post, func() error {
		if !post.HasCaption() {
			return model.ErrMissingCaption
		}
		return o.publishWithRetry(ctx, post, campaign, settings.PostlyAPIKey, settings.PostlyWorkspaceID)
	})
}

func (o *Orchestrator) publishWithRetry(ctx context.Context, post *model.Post, campaign *model.Campaign, apiKey, workspaceID string) error {
	maxAttempts := o.cfg.MaxPublishAttempts
	var lastErr string

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := o.publisher.Publish(ctx, post, campaign, apiKey, workspaceID, "")
		switch {
		case err != nil:
			lastErr = err.Error()
		case res == nil:
			lastErr = "投稿APIの応答が空です"
		case !res.Success:
			lastErr = res.Error
		default:
			return o.markPublished(ctx, post, res.PostID, attempt)
		}

		if attempt == maxAttempts {
			break
		}
		o.metrics.RecordPublish(metrics.PublishOutcomeRetry)
		o.audit.Warning(ctx, model.EventPublishRetry, "投稿に失敗したため再試行します", post.CampaignID, post.ID,
			map[string]any{"attempt": attempt, "error": lastErr})

		if err := o.sleep(ctx, PublishBackoff(o.cfg.PublishBackoffUnit, attempt)); err != nil {
			return err
		}
	}

	return o.markPublishFailed(ctx, post, maxAttempts, lastErr)
}

func (o *Orchestrator) markPublished(ctx context.Context, post *model.Post, remoteID string, attempts int) error {
	now := o.nowFn()
	if err := post.Transition(model.PostStatusPosted); err != nil {
		return err
	}
	post.PostedAt = &now
	post.FailureReason = ""
	post.RetryCount += attempts - 1
	post.UpdatedAt = now

	// 外部には公開済みのため、保存できないままだと次の公開処理で再投稿される。
	// キャンセルされても保存は続ける
	persistCtx := context.WithoutCancel(ctx)
	var err error
	for i := 1; i <= persistAttempts; i++ {
		if err = o.posts.Update(persistCtx, post); err == nil || i == persistAttempts {
			break
		}
		o.logger.WarnContext(ctx, "公開済み状態の保存を再試行します",
			slog.String("post_id", post.ID),
			slog.Int("attempt", i),
			slog.String("error", err.Error()),
		)
		_ = o.sleep(persistCtx, persistRetryDelay*time.Duration(i))
	}
	if err != nil {
		o.logger.ErrorContext(ctx, "公開済み状態の保存に失敗しました",
			slog.String("post_id", post.ID),
			slog.String("remote_post_id", remoteID),
			slog.String("error", err.Error()),
		)
		o.audit.Error(ctx, model.EventPostPublished, "公開済み状態の保存に失敗しました", post.CampaignID, post.ID,
			map[string]any{"remote_post_id": remoteID, "error": err.Error()})
		return fmt.Errorf("公開済み状態の保存に失敗しました: %w", err)
	}

	o.metrics.RecordPublish(metrics.PublishOutcomeSuccess)
	o.audit.Info(ctx, model.EventPostPublished, "投稿を公開しました", post.CampaignID, post.ID,
		map[string]any{"remote_post_id": remoteID, "attempts": attempts})
	return nil
}

func (o *Orchestrator) markPublishFailed(ctx context.Context, post *model.Post, attempts int, reason string) error {
	if err := post.Transition(model.PostStatusFailed); err != nil {
		return err
	}
	post.FailureReason = reason
	post.RetryCount += attempts
	post.UpdatedAt = o.nowFn()

	if err := o.posts.Update(ctx, post); err != nil {
		o.logger.ErrorContext(ctx, "失敗状態の保存に失敗しました",
			slog.String("post_id", post.ID),
			slog.String("error", err.Error()),
		)
	}

	o.metrics.RecordPublish(metrics.PublishOutcomeFailed)
	o.audit.Error(ctx, model.EventPublishFailed, "投稿の試行回数を使い切りました", post.CampaignID, post.ID,
		map[string]any{"attempts": attempts, "error": reason})
	return &model.PublishError{Attempts: attempts, Reason: reason}
}
