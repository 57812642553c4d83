package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/feedcaster/internal/image"
	"github.com/hitoshi/feedcaster/internal/ingest"
	"github.com/hitoshi/feedcaster/internal/middleware"
	"github.com/hitoshi/feedcaster/internal/model"
	"github.com/hitoshi/feedcaster/internal/pipeline"
	"github.com/hitoshi/feedcaster/internal/worker/scheduler"
)

const (
	testPostID     = "6f1c1f4e-1b7a-4a55-9d8e-0d8f0b3a9c11"
	testCampaignID = "0b5e7d52-8c0e-4f5a-a7f3-2f4d7c6a1e20"
)

// --- モック定義 ---

type mockIngest struct {
	processCampaignFn func(ctx context.Context, id string) (*ingest.Summary, error)
	processAllFn      func(ctx context.Context) (*ingest.BatchSummary, error)
}

func (m *mockIngest) ProcessCampaignFeeds(ctx context.Context, id string) (*ingest.Summary, error) {
	if m.processCampaignFn != nil {
		return m.processCampaignFn(ctx, id)
	}
	return &ingest.Summary{CampaignID: id, Errors: []string{}}, nil
}

func (m *mockIngest) ProcessAllActiveCampaigns(ctx context.Context) (*ingest.BatchSummary, error) {
	if m.processAllFn != nil {
		return m.processAllFn(ctx)
	}
	return &ingest.BatchSummary{Errors: []string{}}, nil
}

type mockPosts struct {
	regenerateFn func(ctx context.Context, postID, prompt string, save bool) (*model.Post, error)
	processFn    func(ctx context.Context, postID string) (*model.Post, error)
	publishFn    func(ctx context.Context, postID string) (*model.Post, error)
	draftsFn     func(ctx context.Context, campaignID string) (*pipeline.BatchResult, error)
}

func (m *mockPosts) RegenerateCaption(ctx context.Context, postID, prompt string, save bool) (*model.Post, error) {
	if m.regenerateFn != nil {
		return m.regenerateFn(ctx, postID, prompt, save)
	}
	return &model.Post{ID: postID}, nil
}

func (m *mockPosts) ProcessPost(ctx context.Context, postID string) (*model.Post, error) {
	if m.processFn != nil {
		return m.processFn(ctx, postID)
	}
	return &model.Post{ID: postID, Status: model.PostStatusReviewPending}, nil
}

func (m *mockPosts) PublishPostByID(ctx context.Context, postID string) (*model.Post, error) {
	if m.publishFn != nil {
		return m.publishFn(ctx, postID)
	}
	return &model.Post{ID: postID, Status: model.PostStatusPosted}, nil
}

func (m *mockPosts) ProcessDraftPosts(ctx context.Context, campaignID string) (*pipeline.BatchResult, error) {
	if m.draftsFn != nil {
		return m.draftsFn(ctx, campaignID)
	}
	return &pipeline.BatchResult{Errors: []string{}}, nil
}

type mockScheduler struct {
	runFn func(ctx context.Context, action scheduler.Action) (*scheduler.Result, error)
}

func (m *mockScheduler) RunAction(ctx context.Context, action scheduler.Action) (*scheduler.Result, error) {
	if m.runFn != nil {
		return m.runFn(ctx, action)
	}
	return &scheduler.Result{Action: action, Errors: []string{}}, nil
}

type mockImageSearcher struct {
	lastQuery image.Query
	result    *image.Result
	err       error
}

func (m *mockImageSearcher) SearchImage(_ context.Context, q image.Query) (*image.Result, error) {
	m.lastQuery = q
	return m.result, m.err
}

type mockOg struct {
	url string
	err error
}

func (m *mockOg) ExtractOgImage(_ context.Context, _ string) (string, error) {
	return m.url, m.err
}

type mockSettings struct {
	settings *model.UserSettings
}

func (m *mockSettings) FindByUserID(_ context.Context, _ string) (*model.UserSettings, error) {
	return m.settings, nil
}

type mockHealth struct {
	err error
}

func (m *mockHealth) PingContext(context.Context) error { return m.err }

// --- テストヘルパー ---

type testDeps struct {
	ingest    *mockIngest
	posts     *mockPosts
	scheduler *mockScheduler
	searcher  *mockImageSearcher
	og        *mockOg
	settings  *mockSettings
	health    *mockHealth
	limiter   *middleware.RateLimiter
}

func newTestRouter(t *testing.T, mutate func(d *testDeps)) http.Handler {
	t.Helper()
	d := &testDeps{
		ingest:    &mockIngest{},
		posts:     &mockPosts{},
		scheduler: &mockScheduler{},
		searcher:  &mockImageSearcher{},
		og:        &mockOg{},
		settings:  &mockSettings{},
		health:    &mockHealth{},
	}
	if mutate != nil {
		mutate(d)
	}
	return NewRouter(&RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       d.limiter,
		HealthChecker:     d.health,
		MetricsHandler:    http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics")) }),
		Ingest:            d.ingest,
		Posts:             d.posts,
		Drafts:            d.posts,
		Scheduler:         d.scheduler,
		Images:            NewImageHandler(d.searcher, d.og, d.settings, image.Keys{PexelsAPIKey: "global"}, nil),
		DefaultTimezone:   "Asia/Tokyo",
	})
}

func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(middleware.DefaultUserIDHeader, "user-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var errBoom = errors.New("boom")
