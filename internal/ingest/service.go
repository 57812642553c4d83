package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedcaster/internal/metrics"
	"github.com/hitoshi/feedcaster/internal/model"
	"github.com/hitoshi/feedcaster/internal/repository"
	"github.com/hitoshi/feedcaster/internal/schedule"
)

// FeedFetcher はフィード取得のインターフェース。
type FeedFetcher interface {
	FetchFeed(ctx context.Context, feedURL string) ([]model.ParsedArticle, error)
}

// PostProcessor は新規投稿のコンテンツ生成を行うインターフェース。
// 自動公開が有効なキャンペーンで取り込み直後に呼ばれる。
type PostProcessor interface {
	ProcessNewPost(ctx context.Context, post *model.Post, campaign *model.Campaign) error
}

// AuditRecorder は監査ログの記録インターフェース。
type AuditRecorder interface {
	Info(ctx context.Context, event, message, campaignID, postID string, metadata map[string]any)
	Warning(ctx context.Context, event, message, campaignID, postID string, metadata map[string]any)
}

// Summary はキャンペーン1件の取り込み結果。
type Summary struct {
	CampaignID     string   `json:"campaign_id"`
	FeedsProcessed int      `json:"feeds_processed"`
	NewArticles    int      `json:"new_articles"`
	NewPostIDs     []string `json:"new_post_ids"`
	Scheduled      int      `json:"scheduled"`
	Errors         []string `json:"errors"`
}

// BatchSummary は全アクティブキャンペーンの取り込み結果。
type BatchSummary struct {
	Campaigns   int        `json:"campaigns"`
	NewArticles int        `json:"new_articles"`
	Results     []*Summary `json:"results"`
	Errors      []string   `json:"errors"`
}

// Config は取り込みの設定。
type Config struct {
	ItemLimit       int    // 1フィードあたりの最大取り込み件数
	DefaultTimezone string // キャンペーンにタイムゾーンが無い場合に使う
}

// Service はキャンペーンのRSSフィードを取り込み、新規記事を投稿として保存する。
type Service struct {
	campaigns repository.CampaignRepository
	posts     repository.PostRepository
	fetcher   FeedFetcher
	processor PostProcessor
	audit     AuditRecorder
	metrics   metrics.Recorder
	logger    *slog.Logger
	cfg       Config
	nowFn     func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	campaigns repository.CampaignRepository,
	posts repository.PostRepository,
	fetcher FeedFetcher,
	processor PostProcessor,
	audit AuditRecorder,
	rec metrics.Recorder,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.ItemLimit <= 0 {
		cfg.ItemLimit = 30
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		campaigns: campaigns,
		posts:     posts,
		fetcher:   fetcher,
		processor: processor,
		audit:     audit,
		metrics:   rec,
		logger:    logger,
		cfg:       cfg,
		nowFn:     time.Now,
	}
}

// ProcessCampaignFeeds はキャンペーンの全フィードを取り込む。
// フィード単位の失敗はSummary.Errorsに集約し、キャンペーンが存在しない場合のみエラーを返す。
func (s *Service) ProcessCampaignFeeds(ctx context.Context, campaignID string) (*Summary, error) {
	campaign, err := s.campaigns.FindByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("キャンペーンの取得に失敗しました: %w", err)
	}
	if campaign == nil {
		return nil, model.ErrCampaignNotFound
	}
	return s.processCampaign(ctx, campaign), nil
}

// ProcessAllActiveCampaigns は全アクティブキャンペーンのフィードを取り込む。
func (s *Service) ProcessAllActiveCampaigns(ctx context.Context) (*BatchSummary, error) {
	campaigns, err := s.campaigns.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("アクティブキャンペーンの取得に失敗しました: %w", err)
	}

	batch := &BatchSummary{Results: []*Summary{}, Errors: []string{}}
	for _, c := range campaigns {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		summary := s.processCampaign(ctx, c)
		batch.Campaigns++
		batch.NewArticles += summary.NewArticles
		batch.Results = append(batch.Results, summary)
		for _, e := range summary.Errors {
			batch.Errors = append(batch.Errors, fmt.Sprintf("%s: %s", c.ID, e))
		}
	}
	return batch, nil
}

func (s *Service) processCampaign(ctx context.Context, campaign *model.Campaign) *Summary {
	summary := &Summary{CampaignID: campaign.ID, NewPostIDs: []string{}, Errors: []string{}}

	for _, raw := range campaign.RSSURLs {
		feedURL := strings.TrimSpace(raw)
		if feedURL == "" {
			continue
		}
		if ctx.Err() != nil {
			summary.Errors = append(summary.Errors, ctx.Err().Error())
			break
		}

		summary.FeedsProcessed++
		articles, err := s.fetcher.FetchFeed(ctx, feedURL)
		if err != nil {
			s.metrics.RecordFeedFetchFailure()
			summary.Errors = append(summary.Errors, err.Error())
			if s.audit != nil {
				s.audit.Warning(ctx, model.EventFeedError, "RSSフィードの取得に失敗しました", campaign.ID, "",
					map[string]any{"feed_url": feedURL, "error": err.Error()})
			}
			continue
		}

		if len(articles) > s.cfg.ItemLimit {
			articles = articles[:s.cfg.ItemLimit]
		}

		for i := range articles {
			post, err := s.ingestArticle(ctx, campaign, &articles[i])
			if err != nil {
				summary.Errors = append(summary.Errors, err.Error())
				continue
			}
			if post == nil {
				continue
			}
			summary.NewArticles++
			summary.NewPostIDs = append(summary.NewPostIDs, post.ID)

			if campaign.AutoPublish && s.autoPublish(ctx, campaign, post) {
				summary.Scheduled++
			}
		}
	}

	s.metrics.RecordArticlesIngested(summary.NewArticles)
	if s.audit != nil {
		s.audit.Info(ctx, model.EventFeedFetch, "RSSフィードを取り込みました", campaign.ID, "", map[string]any{
			"feeds":        summary.FeedsProcessed,
			"new_articles": summary.NewArticles,
			"scheduled":    summary.Scheduled,
			"errors":       len(summary.Errors),
		})
	}
	return summary
}

// isNewArticle はキャンペーン内でGUIDが未登録かを返す。
func (s *Service) isNewArticle(ctx context.Context, campaignID, guid string) (bool, error) {
	existing, err := s.posts.FindByCampaignAndGUID(ctx, campaignID, guid)
	if err != nil {
		return false, fmt.Errorf("重複チェックに失敗しました: %w", err)
	}
	return existing == nil, nil
}

// ingestArticle は新規記事ならingested状態の投稿を作成して返す。既存記事ならnilを返す。
func (s *Service) ingestArticle(ctx context.Context, campaign *model.Campaign, a *model.ParsedArticle) (*model.Post, error) {
	isNew, err := s.isNewArticle(ctx, campaign.ID, a.GUID)
	if err != nil || !isNew {
		return nil, err
	}

	now := s.nowFn()
	post := &model.Post{
		ID:                uuid.New().String(),
		CampaignID:        campaign.ID,
		UserID:            campaign.UserID,
		SourceTitle:       a.Title,
		SourceURL:         a.Link,
		SourceGUID:        a.GUID,
		SourceSnippet:     a.Snippet,
		SourcePublishedAt: a.PubDate,
		ImageURL:          a.ImageURL,
		Status:            model.PostStatusIngested,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		// 並行実行で先に作成された場合
		if errors.Is(err, model.ErrDuplicateArticle) {
			return nil, nil
		}
		return nil, err
	}
	return post, nil
}

// autoPublish は新規投稿のコンテンツを生成し、cronの次回発火時刻で予約する。
// 予約できた場合はtrueを返す。
func (s *Service) autoPublish(ctx context.Context, campaign *model.Campaign, post *model.Post) bool {
	if s.processor == nil {
		return false
	}
	if err := s.processor.ProcessNewPost(ctx, post, campaign); err != nil {
		s.logger.WarnContext(ctx, "自動公開のコンテンツ生成に失敗しました",
			slog.String("campaign_id", campaign.ID),
			slog.String("post_id", post.ID),
			slog.String("error", err.Error()),
		)
		return false
	}

	tz := campaign.ScheduleTimezone
	if tz == "" {
		tz = s.cfg.DefaultTimezone
	}
	next, err := schedule.Next(campaign.ScheduleCron, tz, s.nowFn())
	if err != nil {
		s.logger.WarnContext(ctx, "次回投稿時刻を決定できないためレビュー待ちのままにします",
			slog.String("campaign_id", campaign.ID),
			slog.String("post_id", post.ID),
			slog.String("cron", campaign.ScheduleCron),
			slog.String("error", err.Error()),
		)
		return false
	}

	next = next.UTC()
	post.ScheduledFor = &next
	if err := post.Transition(model.PostStatusScheduled); err != nil {
		return false
	}
	post.UpdatedAt = s.nowFn()
	if err := s.posts.Update(ctx, post); err != nil {
		s.logger.ErrorContext(ctx, "投稿の予約に失敗しました",
			slog.String("post_id", post.ID),
			slog.String("error", err.Error()),
		)
		return false
	}

	if s.audit != nil {
		s.audit.Info(ctx, model.EventPostScheduled, "投稿を自動で予約しました", campaign.ID, post.ID,
			map[string]any{"scheduled_for": next.Format(time.RFC3339)})
	}
	return true
}
