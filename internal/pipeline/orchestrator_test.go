package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/feedcaster/internal/caption"
	"github.com/hitoshi/feedcaster/internal/image"
	"github.com/hitoshi/feedcaster/internal/model"
)

func TestProcessNewPost_Success(t *testing.T) {
	post := testPost(model.PostStatusIngested)
	f := newFixture(post, testCampaign())
	f.og.url = "https://example.com/og.jpg"

	if err := f.orch.ProcessNewPost(context.Background(), post, testCampaign()); err != nil {
		t.Fatalf("ProcessNewPost: %v", err)
	}

	saved := f.posts.get(post.ID)
	if saved.Status != model.PostStatusReviewPending {
		t.Errorf("Status = %s, want review_pending", saved.Status)
	}
	if saved.GeneratedCaption != "公園が開園しました" {
		t.Errorf("GeneratedCaption = %q", saved.GeneratedCaption)
	}
	if saved.ImageURL != "https://example.com/og.jpg" {
		t.Errorf("ImageURL = %q, og:imageが使われるべき", saved.ImageURL)
	}
	if saved.AIModel != "gpt-4o-mini" {
		t.Errorf("AIModel = %q", saved.AIModel)
	}
	if f.images.calls != 0 {
		t.Errorf("og:imageが見つかった場合は画像検索しないべき: calls=%d", f.images.calls)
	}
	if f.audit.count(model.EventCaptionGenerated) != 1 {
		t.Error("caption_generated の監査ログが記録されるべき")
	}
	if f.posts.locked[post.ID] {
		t.Error("処理後はリースが解放されるべき")
	}
}

func TestProcessNewPost_KeepsApprovedStatus(t *testing.T) {
	post := testPost(model.PostStatusApproved)
	f := newFixture(post, testCampaign())

	if err := f.orch.ProcessNewPost(context.Background(), post, testCampaign()); err != nil {
		t.Fatalf("ProcessNewPost: %v", err)
	}
	if got := f.posts.get(post.ID).Status; got != model.PostStatusApproved {
		t.Errorf("Status = %s, approved は維持されるべき", got)
	}
}

func TestProcessNewPost_SafetyRetryTerminates(t *testing.T) {
	post := testPost(model.PostStatusIngested)
	campaign := testCampaign()
	campaign.SafetyForbiddenTerms = []string{"casino"}
	f := newFixture(post, campaign)
	f.gen.generate = func(int) (*caption.Result, error) {
		return captionResult("Visit the casino today"), nil
	}

	err := f.orch.ProcessNewPost(context.Background(), post, campaign)

	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("ValidationError が返るべき: %v", err)
	}
	if f.gen.calls != 3 {
		t.Errorf("生成回数 = %d, want 3", f.gen.calls)
	}
	saved := f.posts.get(post.ID)
	if saved.Status != model.PostStatusFailed {
		t.Errorf("Status = %s, want failed", saved.Status)
	}
	if !strings.Contains(saved.FailureReason, "casino") {
		t.Errorf("FailureReason = %q, 禁止語を含むべき", saved.FailureReason)
	}
	if saved.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", saved.RetryCount)
	}
	if saved.GeneratedCaption != "" {
		t.Error("検証を満たさないキャプションは保存しないべき")
	}
	if got := f.audit.count(model.EventCaptionRejected); got != 3 {
		t.Errorf("caption_rejected = %d, want 3", got)
	}
	if f.audit.count(model.EventCaptionFailed) != 1 {
		t.Error("caption_failed が1件記録されるべき")
	}
}

func TestProcessNewPost_RetriesUntilValid(t *testing.T) {
	post := testPost(model.PostStatusIngested)
	f := newFixture(post, testCampaign())
	f.gen.generate = func(call int) (*caption.Result, error) {
		if call == 1 {
			return captionResult(strings.Repeat("長", 150)), nil
		}
		return captionResult("短いキャプション"), nil
	}

	if err := f.orch.ProcessNewPost(context.Background(), post, testCampaign()); err != nil {
		t.Fatalf("ProcessNewPost: %v", err)
	}
	if f.gen.calls != 2 {
		t.Errorf("生成回数 = %d, want 2", f.gen.calls)
	}
	if got := f.posts.get(post.ID).GeneratedCaption; got != "短いキャプション" {
		t.Errorf("GeneratedCaption = %q", got)
	}
}

func TestProcessNewPost_MissingCredentialsNotRetried(t *testing.T) {
	post := testPost(model.PostStatusIngested)
	f := newFixture(post, testCampaign())
	f.gen.generate = func(int) (*caption.Result, error) {
		return nil, &model.MissingCredentialsError{Kind: model.CredentialAI, UserID: "user-1"}
	}

	err := f.orch.ProcessNewPost(context.Background(), post, testCampaign())

	var credErr *model.MissingCredentialsError
	if !errors.As(err, &credErr) {
		t.Fatalf("MissingCredentialsError が返るべき: %v", err)
	}
	if f.gen.calls != 1 {
		t.Errorf("生成回数 = %d, 認証情報不足はリトライしないべき", f.gen.calls)
	}
	if got := f.posts.get(post.ID).Status; got != model.PostStatusIngested {
		t.Errorf("Status = %s, 変更されないべき", got)
	}
}

func TestProcessNewPost_LeaseBusy(t *testing.T) {
	post := testPost(model.PostStatusIngested)
	f := newFixture(post, testCampaign())
	f.posts.locked[post.ID] = true

	err := f.orch.ProcessNewPost(context.Background(), post, testCampaign())
	if !errors.Is(err, model.ErrPostLocked) {
		t.Fatalf("ErrPostLocked が返るべき: %v", err)
	}
	if f.gen.calls != 0 {
		t.Error("リース中は生成しないべき")
	}
}

func TestProcessNewPost_PostedRejected(t *testing.T) {
	post := testPost(model.PostStatusPosted)
	f := newFixture(post, testCampaign())

	if err := f.orch.ProcessNewPost(context.Background(), post, testCampaign()); !errors.Is(err, model.ErrPostAlreadyPosted) {
		t.Fatalf("ErrPostAlreadyPosted が返るべき: %v", err)
	}
}

func TestProcessNewPost_CaptionWrittenByAnotherRun(t *testing.T) {
	post := testPost(model.PostStatusApproved)
	f := newFixture(post, testCampaign())
	stale := f.posts.get(post.ID)

	// 一覧取得後に手動の生成が先に保存した
	if _, err := f.orch.ProcessPost(context.Background(), post.ID); err != nil {
		t.Fatalf("ProcessPost: %v", err)
	}
	f.gen.generate = func(int) (*caption.Result, error) {
		return captionResult("上書きするキャプション"), nil
	}

	err := f.orch.ProcessNewPost(context.Background(), stale, testCampaign())
	if !errors.Is(err, model.ErrPostChanged) {
		t.Fatalf("err = %v, want ErrPostChanged", err)
	}
	if f.gen.calls != 1 {
		t.Errorf("生成回数 = %d, want 1", f.gen.calls)
	}
	if got := f.posts.get(post.ID).GeneratedCaption; got != "公園が開園しました" {
		t.Errorf("GeneratedCaption = %q, 先に保存された内容を保つべき", got)
	}
}

func TestResolveImage_Order(t *testing.T) {
	tests := []struct {
		name         string
		existing     string
		ogURL        string
		ogErr        error
		stock        *image.Result
		providers    []model.ImageProvider
		wantURL      string
		wantSearches int
	}{
		{
			name:      "既存画像を優先",
			existing:  "https://example.com/feed.jpg",
			ogURL:     "https://example.com/og.jpg",
			providers: []model.ImageProvider{model.ImageProviderPexels},
			wantURL:   "https://example.com/feed.jpg",
		},
		{
			name:      "og:imageが次点",
			ogURL:     "https://example.com/og.jpg",
			providers: []model.ImageProvider{model.ImageProviderPexels},
			wantURL:   "https://example.com/og.jpg",
		},
		{
			name:         "og取得失敗時はストック画像",
			ogErr:        errors.New("timeout"),
			stock:        &image.Result{URL: "https://images.pexels.com/1.jpg", Credit: "Photo by A on Pexels", Provider: model.ImageProviderPexels},
			providers:    []model.ImageProvider{model.ImageProviderPexels},
			wantURL:      "https://images.pexels.com/1.jpg",
			wantSearches: 1,
		},
		{
			name:         "見つからなければ画像なし",
			providers:    []model.ImageProvider{model.ImageProviderPexels},
			wantURL:      "",
			wantSearches: 1,
		},
		{
			name:    "プロバイダー未設定なら検索しない",
			wantURL: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post := testPost(model.PostStatusIngested)
			post.ImageURL = tt.existing
			campaign := testCampaign()
			campaign.ImageProviders = tt.providers
			f := newFixture(post, campaign)
			f.og.url = tt.ogURL
			f.og.err = tt.ogErr
			f.images.result = tt.stock

			if err := f.orch.ProcessNewPost(context.Background(), post, campaign); err != nil {
				t.Fatalf("ProcessNewPost: %v", err)
			}
			if got := f.posts.get(post.ID).ImageURL; got != tt.wantURL {
				t.Errorf("ImageURL = %q, want %q", got, tt.wantURL)
			}
			if f.images.calls != tt.wantSearches {
				t.Errorf("画像検索回数 = %d, want %d", f.images.calls, tt.wantSearches)
			}
			if tt.wantSearches > 0 {
				if f.images.lastQ.Keywords != "city skyline" {
					t.Errorf("Keywords = %q, 生成された検索フレーズを使うべき", f.images.lastQ.Keywords)
				}
				if f.images.attempts != 3 {
					t.Errorf("attempts = %d, want 3", f.images.attempts)
				}
			}
		})
	}
}
