// Package scheduler はフィード取り込み、コンテンツ準備、予約投稿を周期的に実行する。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/feedcaster/internal/ingest"
	"github.com/hitoshi/feedcaster/internal/model"
	"github.com/hitoshi/feedcaster/internal/repository"
)

// Action は手動実行できるパスの種類。
type Action string

const (
	ActionFetch   Action = "fetch"
	ActionProcess Action = "process"
	ActionPublish Action = "publish"
)

var (
	// ErrAlreadyRunning はStart済みのスケジューラを再度Startした場合のエラー。
	ErrAlreadyRunning = errors.New("scheduler is already running")
	// ErrUnknownAction は未定義のアクションを指定した場合のエラー。
	ErrUnknownAction = errors.New("unknown scheduler action")
)

// ParseAction は文字列をActionに変換する。
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionFetch, ActionProcess, ActionPublish:
		return a, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownAction, s)
}

// Ingestor はキャンペーン単位の取り込みインターフェース。
type Ingestor interface {
	ProcessCampaignFeeds(ctx context.Context, campaignID string) (*ingest.Summary, error)
}

// Pipeline は投稿単位の生成と公開のインターフェース。
type Pipeline interface {
	ProcessNewPost(ctx context.Context, post *model.Post, campaign *model.Campaign) error
	PublishPost(ctx context.Context, post *model.Post, campaign *model.Campaign) error
}

// AuditRecorder は監査ログの記録インターフェース。
type AuditRecorder interface {
	Warning(ctx context.Context, event, message, campaignID, postID string, metadata map[string]any)
	Error(ctx context.Context, event, message, campaignID, postID string, metadata map[string]any)
}

// Config はスケジューラの設定。
type Config struct {
	Interval         time.Duration
	PrepareBatchSize int           // 1サイクルで準備する最大投稿数（全キャンペーン合計）
	PrepareWindow    time.Duration // 予約投稿を準備対象にする先読み時間
	FetchCooldown    time.Duration // 直近にfeed_fetchがあれば取り込みを省略する期間
}

// Result は1パスの実行結果。
type Result struct {
	Action    Action   `json:"action"`
	Campaigns int      `json:"campaigns"`
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

func newResult(a Action) *Result {
	return &Result{Action: a, Errors: []string{}}
}

func (r *Result) fail(id string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %s", id, err.Error()))
}

// Scheduler は取り込み、準備、公開の3パスを一定間隔で順に実行する。
// サイクルは1つのgoroutine内で直列に実行されるため、遅いサイクルは次のティックを取りこぼす。
type Scheduler struct {
	campaigns repository.CampaignRepository
	posts     repository.PostRepository
	logs      repository.LogRepository
	ingestor  Ingestor
	pipeline  Pipeline
	audit     AuditRecorder
	logger    *slog.Logger
	cfg       Config
	nowFn     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler はSchedulerを生成する。0以下の設定値は既定値に置き換える。
func NewScheduler(
	campaigns repository.CampaignRepository,
	posts repository.PostRepository,
	logs repository.LogRepository,
	ingestor Ingestor,
	pipeline Pipeline,
	audit AuditRecorder,
	logger *slog.Logger,
	cfg Config,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.PrepareBatchSize <= 0 {
		cfg.PrepareBatchSize = 2
	}
	if cfg.PrepareWindow <= 0 {
		cfg.PrepareWindow = 30 * time.Minute
	}
	if cfg.FetchCooldown <= 0 {
		cfg.FetchCooldown = time.Hour
	}
	return &Scheduler{
		campaigns: campaigns,
		posts:     posts,
		logs:      logs,
		ingestor:  ingestor,
		pipeline:  pipeline,
		audit:     audit,
		logger:    logger,
		cfg:       cfg,
		nowFn:     time.Now,
	}
}

// Start はバックグラウンドでスケジューラを起動する。起動直後に1回実行する。
// 既に起動中の場合はErrAlreadyRunningを返す。
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx, s.done)
	return nil
}

// Stop はスケジューラを停止し、実行中のサイクルの終了を待つ。起動していなければ何もしない。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running はスケジューラが起動中かを返す。
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("スケジューラを開始しました",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("prepare_batch_size", s.cfg.PrepareBatchSize),
	)

	s.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("スケジューラを停止しました")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("スケジューラサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は取り込み、準備、公開の順に1サイクル実行する。
// 各パスのキャンペーン・投稿単位の失敗は記録して続行する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := s.nowFn()

	campaigns, err := s.campaigns.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("アクティブなキャンペーンの取得に失敗しました: %w", err)
	}
	if len(campaigns) == 0 {
		s.logger.Info("アクティブなキャンペーンはありません")
		return nil
	}

	fetched := s.ingestPass(ctx, campaigns, false)
	prepared := s.preparePass(ctx, campaigns)
	published := s.publishPass(ctx, campaigns)

	s.logger.Info("スケジューラサイクルが完了しました",
		slog.Int("campaign_count", len(campaigns)),
		slog.Int("fetched", fetched.Succeeded),
		slog.Int("prepared", prepared.Succeeded),
		slog.Int("published", published.Succeeded),
		slog.Int("failed", fetched.Failed+prepared.Failed+published.Failed),
		slog.Float64("duration_ms", float64(s.nowFn().Sub(start).Milliseconds())),
	)
	return ctx.Err()
}

// RunAction は指定したパスだけを即座に実行する。手動の取り込みは直近の取り込み有無に関わらず実行する。
func (s *Scheduler) RunAction(ctx context.Context, action Action) (*Result, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return nil, err
	}

	campaigns, err := s.campaigns.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("アクティブなキャンペーンの取得に失敗しました: %w", err)
	}

	switch action {
	case ActionFetch:
		return s.ingestPass(ctx, campaigns, true), nil
	case ActionProcess:
		return s.preparePass(ctx, campaigns), nil
	default:
		return s.publishPass(ctx, campaigns), nil
	}
}

// ingestPass は各キャンペーンのフィードを取り込む。
// manualでなければ、FetchCooldown以内にfeed_fetchログがあるキャンペーンは省略する。
func (s *Scheduler) ingestPass(ctx context.Context, campaigns []*model.Campaign, manual bool) *Result {
	res := newResult(ActionFetch)
	res.Campaigns = len(campaigns)
	since := s.nowFn().Add(-s.cfg.FetchCooldown)

	for _, c := range campaigns {
		if ctx.Err() != nil {
			break
		}
		if !manual {
			recent, err := s.logs.ExistsSince(ctx, c.ID, model.EventFeedFetch, since)
			if err != nil {
				s.recordFailure(ctx, res, c.ID, "", "取り込み履歴の確認に失敗しました", err)
				continue
			}
			if recent {
				res.Skipped++
				continue
			}
		}

		res.Processed++
		if _, err := s.ingestor.ProcessCampaignFeeds(ctx, c.ID); err != nil {
			s.recordFailure(ctx, res, c.ID, "", "フィードの取り込みに失敗しました", err)
			continue
		}
		res.Succeeded++
	}
	return res
}

// preparePass は準備対象の投稿を全キャンペーン合計でPrepareBatchSize件まで生成する。
// 認証情報の不足で失敗したユーザーの残りの投稿はこのサイクルでは試さず、枠を後続の投稿に回す。
func (s *Scheduler) preparePass(ctx context.Context, campaigns []*model.Campaign) *Result {
	res := newResult(ActionProcess)
	res.Campaigns = len(campaigns)

	byID, candidates := s.collectPosts(ctx, res, campaigns, model.PostStatusApproved, model.PostStatusScheduled)
	ordered := SelectForPreparation(candidates, s.nowFn(), s.cfg.PrepareWindow, 0)
	noCredentials := make(map[string]bool)

	for _, p := range ordered {
		if ctx.Err() != nil || res.Processed >= s.cfg.PrepareBatchSize {
			break
		}
		campaign := byID[p.CampaignID]
		if noCredentials[campaign.UserID] {
			res.Skipped++
			continue
		}

		err := s.pipeline.ProcessNewPost(ctx, p, campaign)
		if errors.Is(err, model.ErrPostChanged) {
			// 別の実行が生成済み
			res.Skipped++
			continue
		}
		res.Processed++
		if err != nil {
			var credErr *model.MissingCredentialsError
			if errors.As(err, &credErr) {
				noCredentials[campaign.UserID] = true
			}
			s.recordFailure(ctx, res, p.CampaignID, p.ID, "投稿の準備に失敗しました", err)
			continue
		}
		res.Succeeded++
	}
	return res
}

// publishPass は予約日時を過ぎたscheduled投稿を公開する。キャプションの無い投稿は次回以降に回す。
func (s *Scheduler) publishPass(ctx context.Context, campaigns []*model.Campaign) *Result {
	res := newResult(ActionPublish)
	res.Campaigns = len(campaigns)

	byID, candidates := s.collectPosts(ctx, res, campaigns, model.PostStatusScheduled)
	for _, p := range SelectDueForPublish(candidates, s.nowFn()) {
		if ctx.Err() != nil {
			break
		}
		if !p.HasCaption() {
			res.Skipped++
			s.logger.Warn("キャプションが未生成のため投稿を保留します",
				slog.String("post_id", p.ID),
				slog.String("campaign_id", p.CampaignID),
			)
			continue
		}

		err := s.pipeline.PublishPost(ctx, p, byID[p.CampaignID])
		if errors.Is(err, model.ErrPostAlreadyPosted) {
			// 一覧取得後に手動で公開された
			res.Skipped++
			continue
		}
		res.Processed++
		if err != nil {
			// 失敗の詳細はパイプライン側で監査ログに記録済み
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", p.ID, err.Error()))
			s.logger.Error("予約投稿の公開に失敗しました",
				slog.String("post_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Succeeded++
	}
	return res
}

// collectPosts は全キャンペーンから指定ステータスの投稿を集める。
func (s *Scheduler) collectPosts(
	ctx context.Context,
	res *Result,
	campaigns []*model.Campaign,
	statuses ...model.PostStatus,
) (map[string]*model.Campaign, []*model.Post) {
	byID := make(map[string]*model.Campaign, len(campaigns))
	var all []*model.Post
	for _, c := range campaigns {
		byID[c.ID] = c
		posts, err := s.posts.ListByCampaign(ctx, c.ID, statuses)
		if err != nil {
			s.recordFailure(ctx, res, c.ID, "", "投稿一覧の取得に失敗しました", err)
			continue
		}
		all = append(all, posts...)
	}
	return byID, all
}

func (s *Scheduler) recordFailure(ctx context.Context, res *Result, campaignID, postID, message string, err error) {
	id := campaignID
	if postID != "" {
		id = postID
	}
	res.fail(id, err)

	s.logger.Error(message,
		slog.String("action", string(res.Action)),
		slog.String("campaign_id", campaignID),
		slog.String("post_id", postID),
		slog.String("error", err.Error()),
	)
	if s.audit != nil {
		// ロック中は別の実行が処理しているだけなので警告に留める
		if errors.Is(err, model.ErrPostLocked) {
			s.audit.Warning(ctx, model.EventSchedulerError, message, campaignID, postID,
				map[string]any{"action": string(res.Action), "error": err.Error()})
			return
		}
		s.audit.Error(ctx, model.EventSchedulerError, message, campaignID, postID,
			map[string]any{"action": string(res.Action), "error": err.Error()})
	}
}
