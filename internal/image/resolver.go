package image

import (
	"context"
	"log/slog"
	"sort"

	"github.com/hitoshi/feedcaster/internal/metrics"
	"github.com/hitoshi/feedcaster/internal/model"
)

// providerPriority はプロバイダーの固定優先順位。未知のプロバイダーは最後。
var providerPriority = map[model.ImageProvider]int{
	model.ImageProviderPexels:    0,
	model.ImageProviderWikimedia: 1,
	model.ImageProviderUnsplash:  2,
}

// AuditRecorder は監査ログへの警告記録インターフェース。
type AuditRecorder interface {
	Warning(ctx context.Context, event, message, campaignID, postID string, metadata map[string]any)
}

// Query は画像検索の条件。
type Query struct {
	Keywords   string
	Providers  []model.ImageProvider
	CampaignID string // 空でなければ失敗を監査ログにも記録する
	Offset     int
	Keys       Keys
}

// Resolver は優先順位に従って複数のプロバイダーを順に検索する。
type Resolver struct {
	providers map[model.ImageProvider]Provider
	audit     AuditRecorder
	metrics   metrics.Recorder
	logger    *slog.Logger
}

// NewResolver はResolverを生成する。
func NewResolver(providers []Provider, audit AuditRecorder, rec metrics.Recorder, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	m := make(map[model.ImageProvider]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Resolver{providers: m, audit: audit, metrics: rec, logger: logger}
}

// SortProviders は指定されたプロバイダーを固定優先順位で並べ替えた新しいスライスを返す。
func SortProviders(providers []model.ImageProvider) []model.ImageProvider {
	sorted := make([]model.ImageProvider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rank(sorted[i]) < rank(sorted[j])
	})
	return sorted
}

func rank(p model.ImageProvider) int {
	if r, ok := providerPriority[p]; ok {
		return r
	}
	return len(providerPriority)
}

// SearchImage は優先順位の高いプロバイダーから順に検索し、最初に見つかった画像を返す。
// 各プロバイダーの失敗は警告として記録して次へ進む。全て失敗または該当無しの場合はnil, nilを返す。
func (r *Resolver) SearchImage(ctx context.Context, q Query) (*Result, error) {
	for _, name := range SortProviders(q.Providers) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, ok := r.providers[name]
		if !ok {
			r.logger.WarnContext(ctx, "未対応の画像プロバイダーが指定されました",
				slog.String("provider", string(name)),
			)
			continue
		}

		result, err := p.Search(ctx, q.Keywords, q.Offset, q.Keys)
		if err != nil {
			r.logger.WarnContext(ctx, "画像プロバイダーの検索に失敗しました",
				slog.String("provider", string(name)),
				slog.String("keywords", q.Keywords),
				slog.String("error", err.Error()),
			)
			if q.CampaignID != "" && r.audit != nil {
				r.audit.Warning(ctx, model.EventImageProvider, "画像プロバイダーの検索に失敗しました",
					q.CampaignID, "", map[string]any{
						"provider": string(name),
						"keywords": q.Keywords,
						"error":    err.Error(),
					})
			}
			continue
		}
		if result == nil {
			continue
		}

		r.metrics.RecordImageResolved(string(name))
		return result, nil
	}
	return nil, nil
}

// SearchImageFixedOffset は同じオフセットで最大attempts回まで検索を繰り返す。
// 一時的なプロバイダー障害を吸収するための戦略で、オフセットは進めない。
func (r *Resolver) SearchImageFixedOffset(ctx context.Context, q Query, attempts int) (*Result, error) {
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		result, err := r.SearchImage(ctx, q)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}
	return nil, nil
}
