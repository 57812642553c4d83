package image

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"

	"github.com/hitoshi/feedcaster/internal/model"
)

type mockProvider struct {
	name     model.ImageProvider
	searchFn func(ctx context.Context, keywords string, offset int, keys Keys) (*Result, error)
	calls    int
}

func (m *mockProvider) Name() model.ImageProvider { return m.name }

func (m *mockProvider) Search(ctx context.Context, keywords string, offset int, keys Keys) (*Result, error) {
	m.calls++
	return m.searchFn(ctx, keywords, offset, keys)
}

type mockAudit struct {
	warnings []map[string]any
}

func (m *mockAudit) Warning(_ context.Context, event, _ string, campaignID, _ string, metadata map[string]any) {
	entry := map[string]any{"event": event, "campaign_id": campaignID}
	for k, v := range metadata {
		entry[k] = v
	}
	m.warnings = append(m.warnings, entry)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func TestSortProviders_FixedPriority(t *testing.T) {
	in := []model.ImageProvider{"custom", model.ImageProviderUnsplash, model.ImageProviderPexels, model.ImageProviderWikimedia}
	got := SortProviders(in)
	want := []model.ImageProvider{model.ImageProviderPexels, model.ImageProviderWikimedia, model.ImageProviderUnsplash, "custom"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SortProviders = %v, want %v", got, want)
	}
	if in[0] != "custom" {
		t.Error("入力スライスを変更してはならない")
	}
}

// 要求順に関わらず pexels > wikimedia > unsplash の順で検索される。
func TestSearchImage_ProviderPriority(t *testing.T) {
	var order []model.ImageProvider
	mk := func(name model.ImageProvider, res *Result, err error) *mockProvider {
		return &mockProvider{name: name, searchFn: func(context.Context, string, int, Keys) (*Result, error) {
			order = append(order, name)
			return res, err
		}}
	}
	pexels := mk(model.ImageProviderPexels, nil, errors.New("rate limited"))
	wiki := mk(model.ImageProviderWikimedia, &Result{URL: "https://w/1.jpg", Provider: model.ImageProviderWikimedia}, nil)
	unsplash := mk(model.ImageProviderUnsplash, &Result{URL: "https://u/1.jpg"}, nil)

	var buf bytes.Buffer
	audit := &mockAudit{}
	r := NewResolver([]Provider{unsplash, wiki, pexels}, audit, nil, newTestLogger(&buf))

	res, err := r.SearchImage(context.Background(), Query{
		Keywords:   "kyoto temple",
		Providers:  []model.ImageProvider{model.ImageProviderUnsplash, model.ImageProviderWikimedia, model.ImageProviderPexels},
		CampaignID: "camp-1",
	})
	if err != nil {
		t.Fatalf("SearchImage がエラーを返した: %v", err)
	}
	if res == nil || res.URL != "https://w/1.jpg" {
		t.Fatalf("result = %+v, want wikimedia result", res)
	}
	wantOrder := []model.ImageProvider{model.ImageProviderPexels, model.ImageProviderWikimedia}
	if !reflect.DeepEqual(order, wantOrder) {
		t.Errorf("検索順 = %v, want %v", order, wantOrder)
	}
	if unsplash.calls != 0 {
		t.Error("見つかった時点で以降のプロバイダーは呼ばれないべき")
	}
	if len(audit.warnings) != 1 || audit.warnings[0]["provider"] != "pexels" {
		t.Errorf("pexelsの失敗が監査ログに記録されるべき: %v", audit.warnings)
	}
}

func TestSearchImage_AllFailReturnsNil(t *testing.T) {
	fail := &mockProvider{name: model.ImageProviderPexels, searchFn: func(context.Context, string, int, Keys) (*Result, error) {
		return nil, errors.New("boom")
	}}
	var buf bytes.Buffer
	audit := &mockAudit{}
	r := NewResolver([]Provider{fail}, audit, nil, newTestLogger(&buf))

	res, err := r.SearchImage(context.Background(), Query{
		Keywords:  "x",
		Providers: []model.ImageProvider{model.ImageProviderPexels, model.ImageProviderUnsplash},
	})
	if err != nil || res != nil {
		t.Errorf("SearchImage = (%v, %v), want (nil, nil)", res, err)
	}
	if len(audit.warnings) != 0 {
		t.Error("キャンペーンID未指定の場合は監査ログに記録しないべき")
	}
	if buf.Len() == 0 {
		t.Error("失敗はslogに警告として出力されるべき")
	}
}

// オフセットを進めると別の画像が返り、尽きるとnilになる。
func TestSearchImage_OffsetCycling(t *testing.T) {
	images := []string{"https://img/A.jpg", "https://img/B.jpg"}
	p := &mockProvider{name: model.ImageProviderPexels, searchFn: func(_ context.Context, _ string, offset int, _ Keys) (*Result, error) {
		if offset < len(images) {
			return &Result{URL: images[offset]}, nil
		}
		return nil, nil
	}}
	var buf bytes.Buffer
	r := NewResolver([]Provider{p}, nil, nil, newTestLogger(&buf))

	var got []string
	for offset := 0; offset < 3; offset++ {
		res, err := r.SearchImage(context.Background(), Query{
			Keywords:  "x",
			Providers: []model.ImageProvider{model.ImageProviderPexels},
			Offset:    offset,
		})
		if err != nil {
			t.Fatalf("offset %d: %v", offset, err)
		}
		if res == nil {
			got = append(got, "nil")
		} else {
			got = append(got, res.URL)
		}
	}

	want := []string{"https://img/A.jpg", "https://img/B.jpg", "nil"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("results = %v, want %v", got, want)
	}
}

func TestSearchImageFixedOffset_RetriesSameOffset(t *testing.T) {
	var offsets []int
	p := &mockProvider{name: model.ImageProviderPexels, searchFn: func(_ context.Context, _ string, offset int, _ Keys) (*Result, error) {
		offsets = append(offsets, offset)
		if len(offsets) < 3 {
			return nil, errors.New("temporary")
		}
		return &Result{URL: "https://img/ok.jpg"}, nil
	}}
	var buf bytes.Buffer
	r := NewResolver([]Provider{p}, nil, nil, newTestLogger(&buf))

	res, err := r.SearchImageFixedOffset(context.Background(), Query{
		Keywords:  "x",
		Providers: []model.ImageProvider{model.ImageProviderPexels},
		Offset:    1,
	}, 3)
	if err != nil {
		t.Fatalf("SearchImageFixedOffset がエラーを返した: %v", err)
	}
	if res == nil || res.URL != "https://img/ok.jpg" {
		t.Fatalf("result = %+v", res)
	}
	if !reflect.DeepEqual(offsets, []int{1, 1, 1}) {
		t.Errorf("offsets = %v, want [1 1 1]", offsets)
	}
}

func TestSearchImageFixedOffset_ExhaustedReturnsNil(t *testing.T) {
	p := &mockProvider{name: model.ImageProviderPexels, searchFn: func(context.Context, string, int, Keys) (*Result, error) {
		return nil, nil
	}}
	var buf bytes.Buffer
	r := NewResolver([]Provider{p}, nil, nil, newTestLogger(&buf))

	res, err := r.SearchImageFixedOffset(context.Background(), Query{
		Providers: []model.ImageProvider{model.ImageProviderPexels},
	}, 3)
	if err != nil || res != nil {
		t.Errorf("= (%v, %v), want (nil, nil)", res, err)
	}
	if p.calls != 3 {
		t.Errorf("calls = %d, want 3", p.calls)
	}
}

func TestSearchImage_CanceledContext(t *testing.T) {
	p := &mockProvider{name: model.ImageProviderPexels, searchFn: func(context.Context, string, int, Keys) (*Result, error) {
		return &Result{URL: "x"}, nil
	}}
	var buf bytes.Buffer
	r := NewResolver([]Provider{p}, nil, nil, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.SearchImage(ctx, Query{Providers: []model.ImageProvider{model.ImageProviderPexels}}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
