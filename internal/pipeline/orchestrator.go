// Package pipeline はキャプション生成、画像解決、安全性検証、投稿をまとめて実行する。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/feedcaster/internal/caption"
	"github.com/hitoshi/feedcaster/internal/image"
	"github.com/hitoshi/feedcaster/internal/metrics"
	"github.com/hitoshi/feedcaster/internal/model"
	"github.com/hitoshi/feedcaster/internal/publisher"
	"github.com/hitoshi/feedcaster/internal/repository"
	"github.com/hitoshi/feedcaster/internal/safety"
)

// CaptionGenerator はキャプション生成のインターフェース。
type CaptionGenerator interface {
	Generate(ctx context.Context, post *model.Post, campaign *model.Campaign, overridePrompt string) (*caption.Result, error)
}

// ImageSearcher はストック画像検索のインターフェース。
type ImageSearcher interface {
	SearchImageFixedOffset(ctx context.Context, q image.Query, attempts int) (*image.Result, error)
}

// OgExtractor は記事ページのOGP画像抽出のインターフェース。
type OgExtractor interface {
	ExtractOgImage(ctx context.Context, pageURL string) (string, error)
}

// Publisher は投稿APIのインターフェース。
type Publisher interface {
	Publish(ctx context.Context, post *model.Post, campaign *model.Campaign, apiKey, workspaceID, captionOverride string) (*publisher.Result, error)
}

// AuditRecorder は監査ログの記録インターフェース。
type AuditRecorder interface {
	Info(ctx context.Context, event, message, campaignID, postID string, metadata map[string]any)
	Warning(ctx context.Context, event, message, campaignID, postID string, metadata map[string]any)
	Error(ctx context.Context, event, message, campaignID, postID string, metadata map[string]any)
}

// Config はパイプラインの設定。
type Config struct {
	MaxGenerationAttempts int
	MaxPublishAttempts    int
	MaxImageAttempts      int
	PublishBackoffUnit    time.Duration
	LeaseDuration         time.Duration
	// ImageKeys はユーザー設定に無い場合に使う画像プロバイダーのキー。
	ImageKeys image.Keys
}

// Orchestrator は投稿1件ごとのコンテンツ生成と公開を管理する。
type Orchestrator struct {
	campaigns repository.CampaignRepository
	posts     repository.PostRepository
	settings  repository.UserSettingsRepository
	generator CaptionGenerator
	images    ImageSearcher
	og        OgExtractor
	publisher Publisher
	audit     AuditRecorder
	metrics   metrics.Recorder
	logger    *slog.Logger
	cfg       Config

	nowFn func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Deps はOrchestratorの依存。
type Deps struct {
	Campaigns repository.CampaignRepository
	Posts     repository.PostRepository
	Settings  repository.UserSettingsRepository
	Generator CaptionGenerator
	Images    ImageSearcher
	Og        OgExtractor
	Publisher Publisher
	Audit     AuditRecorder
	Metrics   metrics.Recorder
	Logger    *slog.Logger
}

// NewOrchestrator はOrchestratorを生成する。0以下の設定値は既定値に置き換える。
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if cfg.MaxGenerationAttempts <= 0 {
		cfg.MaxGenerationAttempts = 3
	}
	if cfg.MaxPublishAttempts <= 0 {
		cfg.MaxPublishAttempts = 3
	}
	if cfg.MaxImageAttempts <= 0 {
		cfg.MaxImageAttempts = 3
	}
	if cfg.PublishBackoffUnit < 0 {
		cfg.PublishBackoffUnit = 0
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 10 * time.Minute
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Audit == nil {
		deps.Audit = nopAudit{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		campaigns: deps.Campaigns,
		posts:     deps.Posts,
		settings:  deps.Settings,
		generator: deps.Generator,
		images:    deps.Images,
		og:        deps.Og,
		publisher: deps.Publisher,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
		nowFn:     time.Now,
		sleep:     sleepContext,
	}
}

// ProcessNewPost は投稿のキャプションと画像を生成して保存する。
// 安全性検証を満たすまで最大MaxGenerationAttempts回生成し、使い切った場合は投稿をfailedにして
// *model.ValidationErrorを返す。postは更新後の内容に書き換えられる。
// 呼び出し側が読み込んだ後にキャプションが書き換えられていた場合はmodel.ErrPostChangedを返す。
func (o *Orchestrator) ProcessNewPost(ctx context.Context, post *model.Post, campaign *model.Campaign) error {
	if post.Status == model.PostStatusPosted {
		return model.ErrPostAlreadyPosted
	}
	seen := post.GeneratedCaption
	return o.withLease(ctx, post, func() error {
		if post.GeneratedCaption != seen {
			// 読み込み後に別の実行がキャプションを書いた
			return model.ErrPostChanged
		}
		return o.processNewPost(ctx, post, campaign)
	})
}

func (o *Orchestrator) processNewPost(ctx context.Context, post *model.Post, campaign *model.Campaign) error {
	result, err := o.generateValidated(ctx, post, campaign, "")
	if err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			return o.markGenerationFailed(ctx, post, ve)
		}
		o.audit.Error(ctx, model.EventCaptionFailed, "キャプションの生成に失敗しました", post.CampaignID, post.ID,
			map[string]any{"error": err.Error()})
		return err
	}

	settings, err := o.userSettings(ctx, campaign.UserID)
	if err != nil {
		return err
	}
	imageURL, credit, source := o.resolveImage(ctx, post, campaign, result, settings)

	post.GeneratedCaption = result.Caption
	post.ImageSearchPhrase = result.ImageSearchPhrase
	post.ImagePrompt = result.ImagePrompt
	post.AIModel = result.Model
	post.ImageURL = imageURL
	post.ImageCredit = credit
	post.FailureReason = ""
	switch post.Status {
	case model.PostStatusApproved, model.PostStatusScheduled:
		// レビュー済みの投稿は状態を保つ
	default:
		post.Status = model.PostStatusReviewPending
	}
	post.UpdatedAt = o.nowFn()

	if err := o.posts.Update(ctx, post); err != nil {
		return fmt.Errorf("投稿の保存に失敗しました: %w", err)
	}

	o.audit.Info(ctx, model.EventCaptionGenerated, "キャプションを生成しました", post.CampaignID, post.ID, map[string]any{
		"caption_length": len([]rune(result.Caption)),
		"image_source":   source,
		"parse_mode":     string(result.ParseMode),
		"model":          result.Model,
	})
	return nil
}

// generateValidated は安全性検証を満たすキャプションが得られるまで生成を繰り返す。
// 認証情報の不足とコンテキストのキャンセルは即座に返す。それ以外の生成エラーは失敗した試行として数える。
func (o *Orchestrator) generateValidated(ctx context.Context, post *model.Post, campaign *model.Campaign, overridePrompt string) (*caption.Result, error) {
	rules := safety.RulesFromCampaign(campaign)
	var lastIssues []string

	for attempt := 1; attempt <= o.cfg.MaxGenerationAttempts; attempt++ {
		result, err := o.generator.Generate(ctx, post, campaign, overridePrompt)
		if err != nil {
			var credErr *model.MissingCredentialsError
			if errors.As(err, &credErr) {
				return nil, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastIssues = []string{err.Error()}
			o.logger.WarnContext(ctx, "キャプション生成に失敗しました",
				slog.String("post_id", post.ID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		issues := safety.Validate(result.Caption, rules)
		if len(issues) == 0 {
			return result, nil
		}

		lastIssues = issues
		o.metrics.RecordValidationFailure()
		o.audit.Warning(ctx, model.EventCaptionRejected, "キャプションが安全性ルールを満たしませんでした",
			post.CampaignID, post.ID, map[string]any{
				"attempt": attempt,
				"issues":  issues,
			})
	}

	return nil, &model.ValidationError{Attempts: o.cfg.MaxGenerationAttempts, Issues: lastIssues}
}

// markGenerationFailed は生成の試行を使い切った投稿をfailedにする。
func (o *Orchestrator) markGenerationFailed(ctx context.Context, post *model.Post, ve *model.ValidationError) error {
	if err := post.Transition(model.PostStatusFailed); err != nil {
		return err
	}
	post.FailureReason = strings.Join(ve.Issues, "; ")
	post.RetryCount++
	post.UpdatedAt = o.nowFn()

	if err := o.posts.Update(ctx, post); err != nil {
		o.logger.ErrorContext(ctx, "失敗状態の保存に失敗しました",
			slog.String("post_id", post.ID),
			slog.String("error", err.Error()),
		)
	}

	o.audit.Error(ctx, model.EventCaptionFailed, "キャプション生成の試行回数を使い切りました", post.CampaignID, post.ID,
		map[string]any{
			"attempts": ve.Attempts,
			"issues":   ve.Issues,
		})
	return ve
}

// resolveImage は投稿の画像を決める。既存画像、記事のog:image、ストック画像検索の順。
// 見つからない場合は空文字を返し、投稿は画像なしで続行する。
func (o *Orchestrator) resolveImage(
	ctx context.Context,
	post *model.Post,
	campaign *model.Campaign,
	result *caption.Result,
	settings *model.UserSettings,
) (url, credit, source string) {
	if post.ImageURL != "" {
		o.metrics.RecordImageResolved("existing")
		return post.ImageURL, post.ImageCredit, "existing"
	}

	if o.og != nil && post.SourceURL != "" {
		ogURL, err := o.og.ExtractOgImage(ctx, post.SourceURL)
		if err != nil {
			o.logger.DebugContext(ctx, "og:imageの取得に失敗しました",
				slog.String("post_id", post.ID),
				slog.String("error", err.Error()),
			)
		} else if ogURL != "" {
			o.metrics.RecordImageResolved("og")
			return ogURL, "", "og"
		}
	}

	if o.images == nil || len(campaign.ImageProviders) == 0 {
		return "", "", "none"
	}

	keywords := result.ImageSearchPhrase
	if keywords == "" {
		keywords = campaign.Topic
	}
	if keywords == "" {
		keywords = post.SourceTitle
	}

	found, err := o.images.SearchImageFixedOffset(ctx, image.Query{
		Keywords:   keywords,
		Providers:  campaign.ImageProviders,
		CampaignID: campaign.ID,
		Keys:       image.KeysFromSettings(settings, o.cfg.ImageKeys),
	}, o.cfg.MaxImageAttempts)
	if err != nil || found == nil {
		return "", "", "none"
	}
	return found.URL, found.Credit, string(found.Provider)
}

// userSettings はユーザー設定を取得する。未登録の場合はnilを返す。
func (o *Orchestrator) userSettings(ctx context.Context, userID string) (*model.UserSettings, error) {
	if o.settings == nil || userID == "" {
		return nil, nil
	}
	s, err := o.settings.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザー設定の取得に失敗しました: %w", err)
	}
	return s, nil
}

// withLease は投稿のリースを取得してfnを実行し、終了後に解放する。
// 取得後に投稿を読み直してpostへ反映するため、fnは最新の行を前提にできる。
// 他の実行がリース中の場合はmodel.ErrPostLocked、公開済みの場合はmodel.ErrPostAlreadyPostedを返す。
func (o *Orchestrator) withLease(ctx context.Context, post *model.Post, fn func() error) error {
	now := o.nowFn()
	ok, err := o.posts.AcquireLease(ctx, post.ID, now.Add(o.cfg.LeaseDuration), now)
	if err != nil {
		return fmt.Errorf("リースの取得に失敗しました: %w", err)
	}
	if !ok {
		// posted の行はリースを取れないため、ロック中と区別する
		if fresh, err := o.posts.FindByID(ctx, post.ID); err == nil && fresh != nil && fresh.Status == model.PostStatusPosted {
			return model.ErrPostAlreadyPosted
		}
		return model.ErrPostLocked
	}
	defer func() {
		// キャンセル後も解放できるよう元のコンテキストのキャンセルを引き継がない
		if err := o.posts.ReleaseLease(context.WithoutCancel(ctx), post.ID); err != nil {
			o.logger.ErrorContext(ctx, "リースの解放に失敗しました",
				slog.String("post_id", post.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	fresh, err := o.posts.FindByID(ctx, post.ID)
	if err != nil {
		return fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if fresh == nil {
		return model.ErrPostNotFound
	}
	*post = *fresh
	if post.Status == model.PostStatusPosted {
		return model.ErrPostAlreadyPosted
	}
	return fn()
}

// loadPostAndCampaign は投稿とそのキャンペーンを取得する。
func (o *Orchestrator) loadPostAndCampaign(ctx context.Context, postID string) (*model.Post, *model.Campaign, error) {
	post, err := o.posts.FindByID(ctx, postID)
	if err != nil {
		return nil, nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if post == nil {
		return nil, nil, model.ErrPostNotFound
	}
	campaign, err := o.campaigns.FindByID(ctx, post.CampaignID)
	if err != nil {
		return nil, nil, fmt.Errorf("キャンペーンの取得に失敗しました: %w", err)
	}
	if campaign == nil {
		return nil, nil, model.ErrCampaignNotFound
	}
	return post, campaign, nil
}

type nopAudit struct{}

func (nopAudit) Info(context.Context, string, string, string, string, map[string]any)    {}
func (nopAudit) Warning(context.Context, string, string, string, string, map[string]any) {}
func (nopAudit) Error(context.Context, string, string, string, string, map[string]any)   {}
