package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/feedcaster/internal/model"
)

// BatchResult は複数投稿の一括処理結果。
type BatchResult struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

// ProcessDraftPosts はキャンペーンのキャプション未生成のingested投稿をまとめて処理する。
// 投稿単位の失敗は結果に集約する。
func (o *Orchestrator) ProcessDraftPosts(ctx context.Context, campaignID string) (*BatchResult, error) {
	campaign, err := o.campaigns.FindByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("キャンペーンの取得に失敗しました: %w", err)
	}
	if campaign == nil {
		return nil, model.ErrCampaignNotFound
	}

	drafts, err := o.posts.ListByCampaign(ctx, campaignID, []model.PostStatus{model.PostStatusIngested})
	if err != nil {
		return nil, fmt.Errorf("下書き投稿の取得に失敗しました: %w", err)
	}

	result := &BatchResult{Errors: []string{}}
	for _, post := range drafts {
		if post.HasCaption() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		err := o.ProcessNewPost(ctx, post, campaign)
		if errors.Is(err, model.ErrPostChanged) {
			// 一覧取得後に別の実行が生成済み
			continue
		}
		result.Processed++
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", post.ID, err.Error()))
			continue
		}
		result.Succeeded++
	}

	o.logger.InfoContext(ctx, "下書き投稿の処理が完了しました",
		slog.String("campaign_id", campaignID),
		slog.Int("processed", result.Processed),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// RegenerateCaption は投稿のキャプションだけを再生成する。
// 画像、ステータス、予約日時は変更しない。savePromptがtrueかつoverridePromptが空でなければ
// キャンペーンのプロンプトとしても保存する。検証を満たせなかった場合は投稿を変更しない。
func (o *Orchestrator) RegenerateCaption(ctx context.Context, postID, overridePrompt string, savePrompt bool) (*model.Post, error) {
	post, campaign, err := o.loadPostAndCampaign(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.Status == model.PostStatusPosted {
		return nil, model.ErrPostAlreadyPosted
	}

	err = o.withLease(ctx, post, func() error {
		result, err := o.generateValidated(ctx, post, campaign, overridePrompt)
		if err != nil {
			var ve *model.ValidationError
			if errors.As(err, &ve) {
				o.audit.Warning(ctx, model.EventCaptionRejected, "再生成したキャプションが安全性ルールを満たしませんでした",
					post.CampaignID, post.ID, map[string]any{"attempts": ve.Attempts, "issues": ve.Issues})
			}
			return err
		}

		if err := o.posts.UpdateCaption(ctx, post.ID, result.Caption, result.Model); err != nil {
			return fmt.Errorf("キャプションの保存に失敗しました: %w", err)
		}
		post.GeneratedCaption = result.Caption
		post.AIModel = result.Model

		if savePrompt && overridePrompt != "" {
			if err := o.campaigns.UpdatePrompt(ctx, campaign.ID, overridePrompt); err != nil {
				return fmt.Errorf("プロンプトの保存に失敗しました: %w", err)
			}
		}

		o.audit.Info(ctx, model.EventCaptionGenerated, "キャプションを再生成しました", post.CampaignID, post.ID,
			map[string]any{
				"manual":         true,
				"caption_length": len([]rune(result.Caption)),
				"prompt_saved":   savePrompt && overridePrompt != "",
			})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

// ProcessPost はIDで指定した投稿のコンテンツを生成する。
func (o *Orchestrator) ProcessPost(ctx context.Context, postID string) (*model.Post, error) {
	post, campaign, err := o.loadPostAndCampaign(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := o.ProcessNewPost(ctx, post, campaign); err != nil {
		return nil, err
	}
	return post, nil
}

// PublishPostByID はIDで指定した投稿を公開する。
func (o *Orchestrator) PublishPostByID(ctx context.Context, postID string) (*model.Post, error) {
	post, campaign, err := o.loadPostAndCampaign(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := o.PublishPost(ctx, post, campaign); err != nil {
		return nil, err
	}
	return post, nil
}
