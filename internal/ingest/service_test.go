package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/feedcaster/internal/model"
)

var fixedNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func articles(guids ...string) []model.ParsedArticle {
	out := make([]model.ParsedArticle, 0, len(guids))
	for _, g := range guids {
		out = append(out, model.ParsedArticle{Title: "title " + g, Link: "https://news.example.com/" + g, GUID: g})
	}
	return out
}

func campaignRepoFor(campaigns ...*model.Campaign) *mockCampaignRepo {
	return &mockCampaignRepo{
		findByIDFn: func(_ context.Context, id string) (*model.Campaign, error) {
			for _, c := range campaigns {
				if c.ID == id {
					return c, nil
				}
			}
			return nil, nil
		},
		listActiveFn: func(context.Context) ([]*model.Campaign, error) {
			return campaigns, nil
		},
	}
}

func newTestService(campaigns *mockCampaignRepo, posts *memPostRepo, fetcher FeedFetcher, processor PostProcessor, audit *mockAudit, buf *bytes.Buffer) *Service {
	s := NewService(campaigns, posts, fetcher, processor, audit, nil, slog.New(slog.NewJSONHandler(buf, nil)), Config{ItemLimit: 30})
	s.nowFn = func() time.Time { return fixedNow }
	return s
}

// 同じフィードを2回取り込んでも投稿は増えない。
func TestProcessCampaignFeeds_DedupIsIdempotent(t *testing.T) {
	campaign := &model.Campaign{ID: "c1", UserID: "u1", RSSURLs: []string{"https://feed/a"}}
	posts := newMemPostRepo()
	fetcher := &mockFetcher{fetchFn: func(context.Context, string) ([]model.ParsedArticle, error) {
		return articles("g1", "g2", "g3"), nil
	}}
	var buf bytes.Buffer
	audit := &mockAudit{}
	s := newTestService(campaignRepoFor(campaign), posts, fetcher, nil, audit, &buf)

	first, err := s.ProcessCampaignFeeds(context.Background(), "c1")
	if err != nil {
		t.Fatalf("1回目: %v", err)
	}
	second, err := s.ProcessCampaignFeeds(context.Background(), "c1")
	if err != nil {
		t.Fatalf("2回目: %v", err)
	}

	if first.NewArticles != 3 || second.NewArticles != 0 {
		t.Errorf("NewArticles = %d then %d, want 3 then 0", first.NewArticles, second.NewArticles)
	}
	if posts.count() != 3 {
		t.Errorf("posts = %d, want 3", posts.count())
	}
	for _, p := range posts.posts {
		if p.Status != model.PostStatusIngested || p.UserID != "u1" {
			t.Errorf("post = %+v, want ingested for u1", p)
		}
	}
	if logs := audit.find(model.EventFeedFetch); len(logs) != 2 {
		t.Errorf("feed_fetch logs = %d, want 2", len(logs))
	}
}

// 同じGUIDでも別キャンペーンなら別の投稿になる。
func TestProcessCampaignFeeds_DedupIsPerCampaign(t *testing.T) {
	c1 := &model.Campaign{ID: "c1", RSSURLs: []string{"https://feed/a"}}
	c2 := &model.Campaign{ID: "c2", RSSURLs: []string{"https://feed/a"}}
	posts := newMemPostRepo()
	fetcher := &mockFetcher{fetchFn: func(context.Context, string) ([]model.ParsedArticle, error) {
		return articles("shared"), nil
	}}
	var buf bytes.Buffer
	s := newTestService(campaignRepoFor(c1, c2), posts, fetcher, nil, &mockAudit{}, &buf)

	s.ProcessCampaignFeeds(context.Background(), "c1")
	s.ProcessCampaignFeeds(context.Background(), "c2")

	if posts.count() != 2 {
		t.Errorf("posts = %d, want 2", posts.count())
	}
}

func TestProcessCampaignFeeds_FeedFailureIsCollected(t *testing.T) {
	campaign := &model.Campaign{ID: "c1", RSSURLs: []string{"https://feed/broken", "  ", "https://feed/ok"}}
	posts := newMemPostRepo()
	fetcher := &mockFetcher{fetchFn: func(_ context.Context, u string) ([]model.ParsedArticle, error) {
		if strings.Contains(u, "broken") {
			return nil, &model.FeedFetchError{URL: u, Err: errors.New("HTTPステータス 500")}
		}
		return articles("g1"), nil
	}}
	var buf bytes.Buffer
	audit := &mockAudit{}
	s := newTestService(campaignRepoFor(campaign), posts, fetcher, nil, audit, &buf)

	summary, err := s.ProcessCampaignFeeds(context.Background(), "c1")
	if err != nil {
		t.Fatalf("フィード単位の失敗はエラーにしないべき: %v", err)
	}
	if summary.FeedsProcessed != 2 {
		t.Errorf("FeedsProcessed = %d, want 2 (空URLは除外)", summary.FeedsProcessed)
	}
	if len(summary.Errors) != 1 || !strings.Contains(summary.Errors[0], "broken") {
		t.Errorf("Errors = %v", summary.Errors)
	}
	if summary.NewArticles != 1 {
		t.Errorf("NewArticles = %d, want 1", summary.NewArticles)
	}
	if warns := audit.find(model.EventFeedError); len(warns) != 1 {
		t.Errorf("feed_error logs = %d, want 1", len(warns))
	}
}

func TestProcessCampaignFeeds_CapsItemsInFeedOrder(t *testing.T) {
	campaign := &model.Campaign{ID: "c1", RSSURLs: []string{"https://feed/a"}}
	var guids []string
	for i := 0; i < 40; i++ {
		guids = append(guids, fmt.Sprintf("g%02d", i))
	}
	posts := newMemPostRepo()
	fetcher := &mockFetcher{fetchFn: func(context.Context, string) ([]model.ParsedArticle, error) {
		return articles(guids...), nil
	}}
	var buf bytes.Buffer
	s := newTestService(campaignRepoFor(campaign), posts, fetcher, nil, &mockAudit{}, &buf)

	summary, _ := s.ProcessCampaignFeeds(context.Background(), "c1")
	if summary.NewArticles != 30 {
		t.Errorf("NewArticles = %d, want 30", summary.NewArticles)
	}
	if existing, _ := posts.FindByCampaignAndGUID(context.Background(), "c1", "g30"); existing != nil {
		t.Error("31件目以降は取り込まないべき")
	}
}

func TestProcessCampaignFeeds_CampaignNotFound(t *testing.T) {
	var buf bytes.Buffer
	s := newTestService(campaignRepoFor(), newMemPostRepo(), &mockFetcher{}, nil, &mockAudit{}, &buf)

	_, err := s.ProcessCampaignFeeds(context.Background(), "missing")
	if !errors.Is(err, model.ErrCampaignNotFound) {
		t.Errorf("err = %v, want ErrCampaignNotFound", err)
	}
}

// 自動公開: 生成に成功した投稿はcronの次回発火時刻で予約される。
func TestProcessCampaignFeeds_AutoPublishSchedulesAtNextCron(t *testing.T) {
	campaign := &model.Campaign{
		ID: "c1", UserID: "u1", RSSURLs: []string{"https://feed/a"},
		AutoPublish: true, ScheduleCron: "0 9 * * *", ScheduleTimezone: "UTC",
	}
	posts := newMemPostRepo()
	fetcher := &mockFetcher{fetchFn: func(context.Context, string) ([]model.ParsedArticle, error) {
		return articles("g1"), nil
	}}
	processor := &mockProcessor{processFn: func(_ context.Context, post *model.Post, _ *model.Campaign) error {
		post.GeneratedCaption = "generated"
		post.Status = model.PostStatusReviewPending
		return nil
	}}
	var buf bytes.Buffer
	audit := &mockAudit{}
	s := newTestService(campaignRepoFor(campaign), posts, fetcher, processor, audit, &buf)

	summary, err := s.ProcessCampaignFeeds(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ProcessCampaignFeeds がエラーを返した: %v", err)
	}
	if summary.Scheduled != 1 {
		t.Errorf("Scheduled = %d, want 1", summary.Scheduled)
	}

	stored, _ := posts.FindByID(context.Background(), summary.NewPostIDs[0])
	if stored.Status != model.PostStatusScheduled {
		t.Errorf("Status = %q, want scheduled", stored.Status)
	}
	want := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if stored.ScheduledFor == nil || !stored.ScheduledFor.Equal(want) {
		t.Errorf("ScheduledFor = %v, want %v", stored.ScheduledFor, want)
	}
	if stored.GeneratedCaption != "generated" {
		t.Errorf("GeneratedCaption = %q", stored.GeneratedCaption)
	}
	if len(audit.find(model.EventPostScheduled)) != 1 {
		t.Error("post_scheduled の監査ログが記録されるべき")
	}
}

func TestProcessCampaignFeeds_AutoPublishInvalidCronStaysInReview(t *testing.T) {
	campaign := &model.Campaign{
		ID: "c1", RSSURLs: []string{"https://feed/a"}, AutoPublish: true, ScheduleCron: "",
	}
	posts := newMemPostRepo()
	fetcher := &mockFetcher{fetchFn: func(context.Context, string) ([]model.ParsedArticle, error) {
		return articles("g1"), nil
	}}
	processor := &mockProcessor{processFn: func(_ context.Context, post *model.Post, _ *model.Campaign) error {
		post.Status = model.PostStatusReviewPending
		return nil
	}}
	var buf bytes.Buffer
	s := newTestService(campaignRepoFor(campaign), posts, fetcher, processor, &mockAudit{}, &buf)

	summary, _ := s.ProcessCampaignFeeds(context.Background(), "c1")
	if summary.Scheduled != 0 {
		t.Errorf("Scheduled = %d, want 0", summary.Scheduled)
	}
	if posts.updates != 0 {
		t.Error("予約できない場合は投稿を更新しないべき")
	}
	if !strings.Contains(buf.String(), "レビュー待ちのまま") {
		t.Errorf("警告ログが出力されるべき: %s", buf.String())
	}
}

func TestProcessCampaignFeeds_AutoPublishGenerationFailureContinues(t *testing.T) {
	campaign := &model.Campaign{
		ID: "c1", RSSURLs: []string{"https://feed/a"}, AutoPublish: true, ScheduleCron: "0 9 * * *",
	}
	posts := newMemPostRepo()
	fetcher := &mockFetcher{fetchFn: func(context.Context, string) ([]model.ParsedArticle, error) {
		return articles("g1", "g2"), nil
	}}
	calls := 0
	processor := &mockProcessor{processFn: func(context.Context, *model.Post, *model.Campaign) error {
		calls++
		return &model.ValidationError{Attempts: 3, Issues: []string{"too long"}}
	}}
	var buf bytes.Buffer
	s := newTestService(campaignRepoFor(campaign), posts, fetcher, processor, &mockAudit{}, &buf)

	summary, _ := s.ProcessCampaignFeeds(context.Background(), "c1")
	if calls != 2 || summary.NewArticles != 2 || summary.Scheduled != 0 {
		t.Errorf("calls=%d new=%d scheduled=%d", calls, summary.NewArticles, summary.Scheduled)
	}
}

func TestProcessAllActiveCampaigns_CollectsPerCampaignErrors(t *testing.T) {
	c1 := &model.Campaign{ID: "c1", RSSURLs: []string{"https://feed/bad"}}
	c2 := &model.Campaign{ID: "c2", RSSURLs: []string{"https://feed/good"}}
	fetcher := &mockFetcher{fetchFn: func(_ context.Context, u string) ([]model.ParsedArticle, error) {
		if strings.HasSuffix(u, "bad") {
			return nil, errors.New("timeout")
		}
		return articles("g1", "g2"), nil
	}}
	var buf bytes.Buffer
	s := newTestService(campaignRepoFor(c1, c2), newMemPostRepo(), fetcher, nil, &mockAudit{}, &buf)

	batch, err := s.ProcessAllActiveCampaigns(context.Background())
	if err != nil {
		t.Fatalf("ProcessAllActiveCampaigns がエラーを返した: %v", err)
	}
	if batch.Campaigns != 2 || batch.NewArticles != 2 {
		t.Errorf("batch = %+v", batch)
	}
	if len(batch.Errors) != 1 || !strings.HasPrefix(batch.Errors[0], "c1: ") {
		t.Errorf("Errors = %v", batch.Errors)
	}
}

func TestProcessAllActiveCampaigns_ListFailure(t *testing.T) {
	repo := &mockCampaignRepo{listActiveFn: func(context.Context) ([]*model.Campaign, error) {
		return nil, errors.New("db down")
	}}
	var buf bytes.Buffer
	s := newTestService(repo, newMemPostRepo(), &mockFetcher{}, nil, &mockAudit{}, &buf)

	if _, err := s.ProcessAllActiveCampaigns(context.Background()); err == nil {
		t.Error("キャンペーン一覧の取得失敗はエラーを返すべき")
	}
}
