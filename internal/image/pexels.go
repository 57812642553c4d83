package image

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/feedcaster/internal/model"
)

const pexelsEndpoint = "https://api.pexels.com/v1/search"

// PexelsProvider はPexels APIのクライアント。
type PexelsProvider struct {
	httpClient *http.Client
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewPexelsProvider はPexelsProviderを生成する。
func NewPexelsProvider(httpClient *http.Client) *PexelsProvider {
	return &PexelsProvider{httpClient: httpClient, endpoint: pexelsEndpoint}
}

// Name はプロバイダー名を返す。
func (p *PexelsProvider) Name() model.ImageProvider {
	return model.ImageProviderPexels
}

type pexelsResponse struct {
	Photos []struct {
		URL          string `json:"url"`
		Photographer string `json:"photographer"`
		Src          struct {
			Large    string `json:"large"`
			Original string `json:"original"`
		} `json:"src"`
	} `json:"photos"`
}

// Search はキーワードで写真を1件検索する。
func (p *PexelsProvider) Search(ctx context.Context, keywords string, offset int, keys Keys) (*Result, error) {
	if keys.PexelsAPIKey == "" {
		return nil, fmt.Errorf("pexels: %w", model.ErrMissingAPIKey)
	}

	q := url.Values{}
	q.Set("query", keywords)
	q.Set("per_page", "1")
	q.Set("page", strconv.Itoa(offset+1))
	q.Set("orientation", "landscape")

	var body pexelsResponse
	header := http.Header{"Authorization": []string{keys.PexelsAPIKey}}
	if err := getJSON(ctx, p.httpClient, p.endpoint+"?"+q.Encode(), header, &body); err != nil {
		return nil, fmt.Errorf("pexels: %w", err)
	}
	if len(body.Photos) == 0 {
		return nil, nil
	}

	photo := body.Photos[0]
	imageURL := photo.Src.Large
	if imageURL == "" {
		imageURL = photo.Src.Original
	}
	if imageURL == "" {
		return nil, nil
	}
	return &Result{
		URL:       imageURL,
		Credit:    fmt.Sprintf("Photo by %s on Pexels", photo.Photographer),
		Provider:  model.ImageProviderPexels,
		SourceURL: photo.URL,
	}, nil
}
