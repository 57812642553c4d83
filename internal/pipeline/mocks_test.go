package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/feedcaster/internal/caption"
	"github.com/hitoshi/feedcaster/internal/image"
	"github.com/hitoshi/feedcaster/internal/model"
	"github.com/hitoshi/feedcaster/internal/publisher"
)

// --- リポジトリのモック ---

type memPostRepo struct {
	mu      sync.Mutex
	posts   map[string]*model.Post
	updates int
	locked  map[string]bool
	updErr  error
	// failUpdates が正の間はUpdateを失敗させる
	failUpdates int
	updCalls    int
}

func newMemPostRepo(posts ...*model.Post) *memPostRepo {
	r := &memPostRepo{posts: map[string]*model.Post{}, locked: map[string]bool{}}
	for _, p := range posts {
		cp := *p
		r.posts[p.ID] = &cp
	}
	return r
}

func (r *memPostRepo) get(id string) *model.Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (r *memPostRepo) FindByID(_ context.Context, id string) (*model.Post, error) {
	return r.get(id), nil
}

func (r *memPostRepo) FindByCampaignAndGUID(_ context.Context, campaignID, guid string) (*model.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.posts {
		if p.CampaignID == campaignID && p.SourceGUID == guid {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memPostRepo) ListByCampaign(_ context.Context, campaignID string, statuses []model.PostStatus) ([]*model.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Post
	for _, p := range r.posts {
		if p.CampaignID != campaignID {
			continue
		}
		for _, s := range statuses {
			if p.Status == s {
				cp := *p
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (r *memPostRepo) Create(_ context.Context, post *model.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *post
	r.posts[post.ID] = &cp
	return nil
}

func (r *memPostRepo) Update(_ context.Context, post *model.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updCalls++
	if r.updErr != nil {
		return r.updErr
	}
	if r.failUpdates > 0 {
		r.failUpdates--
		return errors.New("connection reset")
	}
	if cur, ok := r.posts[post.ID]; ok && cur.Status == model.PostStatusPosted && post.Status != model.PostStatusPosted {
		return model.ErrPostAlreadyPosted
	}
	cp := *post
	r.posts[post.ID] = &cp
	r.updates++
	return nil
}

func (r *memPostRepo) UpdateCaption(_ context.Context, id, caption, aiModel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return model.ErrPostNotFound
	}
	p.GeneratedCaption = caption
	p.AIModel = aiModel
	return nil
}

func (r *memPostRepo) AcquireLease(_ context.Context, id string, _, _ time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked[id] {
		return false, nil
	}
	if p, ok := r.posts[id]; ok && p.Status == model.PostStatusPosted {
		return false, nil
	}
	r.locked[id] = true
	return true, nil
}

func (r *memPostRepo) ReleaseLease(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locked, id)
	return nil
}

type mockCampaignRepo struct {
	campaigns map[string]*model.Campaign
	prompts   map[string]string
}

func newMockCampaignRepo(cs ...*model.Campaign) *mockCampaignRepo {
	r := &mockCampaignRepo{campaigns: map[string]*model.Campaign{}, prompts: map[string]string{}}
	for _, c := range cs {
		r.campaigns[c.ID] = c
	}
	return r
}

func (r *mockCampaignRepo) FindByID(_ context.Context, id string) (*model.Campaign, error) {
	return r.campaigns[id], nil
}

func (r *mockCampaignRepo) ListActive(_ context.Context) ([]*model.Campaign, error) {
	var out []*model.Campaign
	for _, c := range r.campaigns {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *mockCampaignRepo) UpdatePrompt(_ context.Context, id, prompt string) error {
	r.prompts[id] = prompt
	return nil
}

type mockSettingsRepo struct {
	settings map[string]*model.UserSettings
}

func (r *mockSettingsRepo) FindByUserID(_ context.Context, userID string) (*model.UserSettings, error) {
	return r.settings[userID], nil
}

// --- 外部サービスのモック ---

type mockGenerator struct {
	mu        sync.Mutex
	calls     int
	overrides []string
	generate  func(call int) (*caption.Result, error)
}

func (m *mockGenerator) Generate(_ context.Context, _ *model.Post, _ *model.Campaign, overridePrompt string) (*caption.Result, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.overrides = append(m.overrides, overridePrompt)
	m.mu.Unlock()
	return m.generate(call)
}

func captionResult(text string) *caption.Result {
	return &caption.Result{
		Caption:           text,
		ImageSearchPhrase: "city skyline",
		Model:             "gpt-4o-mini",
		ParseMode:         caption.ParseModeJSON,
	}
}

type mockImages struct {
	calls    int
	lastQ    image.Query
	attempts int
	result   *image.Result
}

func (m *mockImages) SearchImageFixedOffset(_ context.Context, q image.Query, attempts int) (*image.Result, error) {
	m.calls++
	m.lastQ = q
	m.attempts = attempts
	return m.result, nil
}

type mockOg struct {
	calls int
	url   string
	err   error
}

func (m *mockOg) ExtractOgImage(_ context.Context, _ string) (string, error) {
	m.calls++
	return m.url, m.err
}

type mockPublisher struct {
	calls   int
	publish func(call int) (*publisher.Result, error)
}

func (m *mockPublisher) Publish(_ context.Context, _ *model.Post, _ *model.Campaign, _, _, _ string) (*publisher.Result, error) {
	m.calls++
	return m.publish(m.calls)
}

type auditEntry struct {
	level  model.LogLevel
	event  string
	postID string
	meta   map[string]any
}

type mockAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (m *mockAudit) add(level model.LogLevel, event, postID string, meta map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, auditEntry{level: level, event: event, postID: postID, meta: meta})
}

func (m *mockAudit) Info(_ context.Context, event, _, _, postID string, meta map[string]any) {
	m.add(model.LogLevelInfo, event, postID, meta)
}

func (m *mockAudit) Warning(_ context.Context, event, _, _, postID string, meta map[string]any) {
	m.add(model.LogLevelWarning, event, postID, meta)
}

func (m *mockAudit) Error(_ context.Context, event, _, _, postID string, meta map[string]any) {
	m.add(model.LogLevelError, event, postID, meta)
}

func (m *mockAudit) count(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.event == event {
			n++
		}
	}
	return n
}

// --- テスト用の組み立て ---

type fixture struct {
	orch      *Orchestrator
	posts     *memPostRepo
	campaigns *mockCampaignRepo
	gen       *mockGenerator
	images    *mockImages
	og        *mockOg
	pub       *mockPublisher
	audit     *mockAudit
	sleeps    []time.Duration
	logBuf    *bytes.Buffer
}

func testCampaign() *model.Campaign {
	return &model.Campaign{
		ID:              "camp-1",
		UserID:          "user-1",
		Name:            "テスト",
		Topic:           "urban design",
		ImageProviders:  []model.ImageProvider{model.ImageProviderPexels},
		TargetPlatforms: []string{"twitter"},
		SafetyMaxLength: 100,
		IsActive:        true,
	}
}

func testPost(status model.PostStatus) *model.Post {
	return &model.Post{
		ID:          "post-1",
		CampaignID:  "camp-1",
		UserID:      "user-1",
		SourceTitle: "新しい公園が開園",
		SourceURL:   "https://example.com/park",
		SourceGUID:  "guid-1",
		Status:      status,
	}
}

func newFixture(post *model.Post, campaign *model.Campaign) *fixture {
	f := &fixture{
		posts:     newMemPostRepo(post),
		campaigns: newMockCampaignRepo(campaign),
		gen: &mockGenerator{generate: func(int) (*caption.Result, error) {
			return captionResult("公園が開園しました"), nil
		}},
		images: &mockImages{},
		og:     &mockOg{},
		pub: &mockPublisher{publish: func(int) (*publisher.Result, error) {
			return &publisher.Result{Success: true, PostID: "remote-1"}, nil
		}},
		audit:  &mockAudit{},
		logBuf: &bytes.Buffer{},
	}
	settings := &mockSettingsRepo{settings: map[string]*model.UserSettings{
		"user-1": {UserID: "user-1", PostlyAPIKey: "pk", PostlyWorkspaceID: "ws"},
	}}
	f.orch = NewOrchestrator(Deps{
		Campaigns: f.campaigns,
		Posts:     f.posts,
		Settings:  settings,
		Generator: f.gen,
		Images:    f.images,
		Og:        f.og,
		Publisher: f.pub,
		Audit:     f.audit,
		Logger:    slog.New(slog.NewJSONHandler(f.logBuf, nil)),
	}, Config{PublishBackoffUnit: 5 * time.Second})
	fixedNow := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.orch.nowFn = func() time.Time { return fixedNow }
	f.orch.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}
