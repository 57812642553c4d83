package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/feedcaster/internal/model"
)

type mockCampaignRepo struct {
	findByIDFn   func(ctx context.Context, id string) (*model.Campaign, error)
	listActiveFn func(ctx context.Context) ([]*model.Campaign, error)
}

func (m *mockCampaignRepo) FindByID(ctx context.Context, id string) (*model.Campaign, error) {
	return m.findByIDFn(ctx, id)
}

func (m *mockCampaignRepo) ListActive(ctx context.Context) ([]*model.Campaign, error) {
	return m.listActiveFn(ctx)
}

func (m *mockCampaignRepo) UpdatePrompt(context.Context, string, string) error {
	return nil
}

// memPostRepo はキャンペーンとGUIDで一意性を保つインメモリの投稿リポジトリ。
type memPostRepo struct {
	mu      sync.Mutex
	posts   map[string]*model.Post
	updates int
}

func newMemPostRepo() *memPostRepo {
	return &memPostRepo{posts: map[string]*model.Post{}}
}

func (m *memPostRepo) FindByID(_ context.Context, id string) (*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.posts[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *memPostRepo) FindByCampaignAndGUID(_ context.Context, campaignID, guid string) (*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.posts {
		if p.CampaignID == campaignID && p.SourceGUID == guid {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memPostRepo) ListByCampaign(context.Context, string, []model.PostStatus) ([]*model.Post, error) {
	return nil, nil
}

func (m *memPostRepo) Create(_ context.Context, post *model.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.posts {
		if p.CampaignID == post.CampaignID && p.SourceGUID == post.SourceGUID {
			return model.ErrDuplicateArticle
		}
	}
	cp := *post
	m.posts[post.ID] = &cp
	return nil
}

func (m *memPostRepo) Update(_ context.Context, post *model.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	cp := *post
	m.posts[post.ID] = &cp
	return nil
}

func (m *memPostRepo) UpdateCaption(context.Context, string, string, string) error { return nil }

func (m *memPostRepo) AcquireLease(context.Context, string, time.Time, time.Time) (bool, error) {
	return true, nil
}

func (m *memPostRepo) ReleaseLease(context.Context, string) error { return nil }

func (m *memPostRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posts)
}

type mockFetcher struct {
	fetchFn func(ctx context.Context, feedURL string) ([]model.ParsedArticle, error)
	calls   []string
}

func (m *mockFetcher) FetchFeed(ctx context.Context, feedURL string) ([]model.ParsedArticle, error) {
	m.calls = append(m.calls, feedURL)
	return m.fetchFn(ctx, feedURL)
}

type mockProcessor struct {
	processFn func(ctx context.Context, post *model.Post, campaign *model.Campaign) error
}

func (m *mockProcessor) ProcessNewPost(ctx context.Context, post *model.Post, campaign *model.Campaign) error {
	return m.processFn(ctx, post, campaign)
}

type auditEntry struct {
	level      string
	event      string
	campaignID string
	postID     string
	metadata   map[string]any
}

type mockAudit struct {
	entries []auditEntry
}

func (m *mockAudit) Info(_ context.Context, event, _ string, campaignID, postID string, metadata map[string]any) {
	m.entries = append(m.entries, auditEntry{"info", event, campaignID, postID, metadata})
}

func (m *mockAudit) Warning(_ context.Context, event, _ string, campaignID, postID string, metadata map[string]any) {
	m.entries = append(m.entries, auditEntry{"warning", event, campaignID, postID, metadata})
}

func (m *mockAudit) find(event string) []auditEntry {
	var out []auditEntry
	for _, e := range m.entries {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}
