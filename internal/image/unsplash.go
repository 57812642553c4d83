package image

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/feedcaster/internal/model"
)

const unsplashEndpoint = "https://api.unsplash.com/search/photos"

// UnsplashProvider はUnsplash APIのクライアント。
type UnsplashProvider struct {
	httpClient *http.Client
	endpoint   string
}

// NewUnsplashProvider はUnsplashProviderを生成する。
func NewUnsplashProvider(httpClient *http.Client) *UnsplashProvider {
	return &UnsplashProvider{httpClient: httpClient, endpoint: unsplashEndpoint}
}

// Name はプロバイダー名を返す。
func (p *UnsplashProvider) Name() model.ImageProvider {
	return model.ImageProviderUnsplash
}

type unsplashResponse struct {
	Results []struct {
		URLs struct {
			Regular string `json:"regular"`
		} `json:"urls"`
		Links struct {
			HTML string `json:"html"`
		} `json:"links"`
		User struct {
			Name string `json:"name"`
		} `json:"user"`
	} `json:"results"`
}

// Search はキーワードで写真を1件検索する。
func (p *UnsplashProvider) Search(ctx context.Context, keywords string, offset int, keys Keys) (*Result, error) {
	if keys.UnsplashAccessKey == "" {
		return nil, fmt.Errorf("unsplash: %w", model.ErrMissingAPIKey)
	}

	q := url.Values{}
	q.Set("query", keywords)
	q.Set("per_page", "1")
	q.Set("page", strconv.Itoa(offset+1))

	var body unsplashResponse
	header := http.Header{
		"Authorization":  []string{"Client-ID " + keys.UnsplashAccessKey},
		"Accept-Version": []string{"v1"},
	}
	if err := getJSON(ctx, p.httpClient, p.endpoint+"?"+q.Encode(), header, &body); err != nil {
		return nil, fmt.Errorf("unsplash: %w", err)
	}
	if len(body.Results) == 0 || body.Results[0].URLs.Regular == "" {
		return nil, nil
	}

	photo := body.Results[0]
	return &Result{
		URL:       photo.URLs.Regular,
		Credit:    fmt.Sprintf("Photo by %s on Unsplash", photo.User.Name),
		Provider:  model.ImageProviderUnsplash,
		SourceURL: photo.Links.HTML,
	}, nil
}
