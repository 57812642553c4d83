package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/feedcaster/internal/image"
	"github.com/hitoshi/feedcaster/internal/middleware"
	"github.com/hitoshi/feedcaster/internal/model"
	"github.com/hitoshi/feedcaster/internal/repository"
)

// ImageSearcher はストック画像検索のインターフェース。
type ImageSearcher interface {
	SearchImage(ctx context.Context, q image.Query) (*image.Result, error)
}

// OgExtractor はOGP画像抽出のインターフェース。
type OgExtractor interface {
	ExtractOgImage(ctx context.Context, pageURL string) (string, error)
}

// defaultProviders はprovidersが指定されない場合に検索するプロバイダー。
var defaultProviders = []model.ImageProvider{
	model.ImageProviderPexels,
	model.ImageProviderWikimedia,
	model.ImageProviderUnsplash,
}

// ImageHandler は画像検索のハンドラー。「別の画像を探す」ではoffsetを進めて呼ぶ。
type ImageHandler struct {
	searcher ImageSearcher
	og       OgExtractor
	settings repository.UserSettingsRepository
	keys     image.Keys
	logger   *slog.Logger
}

// NewImageHandler はImageHandlerを生成する。keysはユーザー設定に無い場合に使う。
func NewImageHandler(
	searcher ImageSearcher,
	og OgExtractor,
	settings repository.UserSettingsRepository,
	keys image.Keys,
	logger *slog.Logger,
) *ImageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageHandler{searcher: searcher, og: og, settings: settings, keys: keys, logger: logger}
}

type imageResponse struct {
	Found     bool   `json:"found"`
	URL       string `json:"url,omitempty"`
	Credit    string `json:"credit,omitempty"`
	Provider  string `json:"provider,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
	Offset    int    `json:"offset"`
}

// Search はキーワードでストック画像を検索する。
// GET /api/images/search?q=&campaign_id=&offset=&providers=
func (h *ImageHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	keywords := strings.TrimSpace(query.Get("q"))
	if keywords == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("qは必須です"))
		return
	}

	offset := 0
	if raw := query.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("offsetは0以上の整数で指定してください"))
			return
		}
		offset = n
	}

	providers := parseProviders(query.Get("providers"))
	if len(providers) == 0 {
		providers = defaultProviders
	}

	var settings *model.UserSettings
	if userID, err := middleware.UserIDFromContext(r.Context()); err == nil && h.settings != nil {
		s, err := h.settings.FindByUserID(r.Context(), userID)
		if err != nil {
			middleware.WriteDomainError(r.Context(), w, h.logger, err)
			return
		}
		settings = s
	}

	result, err := h.searcher.SearchImage(r.Context(), image.Query{
		Keywords:   keywords,
		Providers:  providers,
		CampaignID: query.Get("campaign_id"),
		Offset:     offset,
		Keys:       image.KeysFromSettings(settings, h.keys),
	})
	if err != nil {
		middleware.WriteDomainError(r.Context(), w, h.logger, err)
		return
	}

	resp := imageResponse{Offset: offset}
	if result != nil {
		resp.Found = true
		resp.URL = result.URL
		resp.Credit = result.Credit
		resp.Provider = string(result.Provider)
		resp.SourceURL = result.SourceURL
	}
	writeJSON(w, http.StatusOK, resp)
}

// Og は記事ページのOGP画像を抽出する。
// GET /api/images/og?url=
func (h *ImageHandler) Og(w http.ResponseWriter, r *http.Request) {
	pageURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if pageURL == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが入力されていません"))
		return
	}

	imageURL, err := h.og.ExtractOgImage(r.Context(), pageURL)
	if err != nil {
		h.logger.WarnContext(r.Context(), "og:imageの取得に失敗しました",
			slog.String("url", pageURL),
			slog.String("error", err.Error()),
		)
		imageURL = ""
	}
	writeJSON(w, http.StatusOK, imageResponse{Found: imageURL != "", URL: imageURL})
}

func parseProviders(raw string) []model.ImageProvider {
	var out []model.ImageProvider
	for _, p := range strings.Split(raw, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, model.ImageProvider(p))
		}
	}
	return out
}
