// Package image は投稿用画像の解決を提供する。
// 記事のog:image抽出と、ストック画像プロバイダー（Pexels, Wikimedia Commons, Unsplash）の検索を含む。
package image

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hitoshi/feedcaster/internal/model"
)

// Result は画像検索の結果1件。
type Result struct {
	URL       string
	Credit    string
	Provider  model.ImageProvider
	SourceURL string // 画像の掲載ページ
}

// Keys はプロバイダーごとのAPIキー。
type Keys struct {
	PexelsAPIKey      string
	UnsplashAccessKey string
}

// KeysFromSettings はユーザー設定のキーを優先し、未設定の項目はfallbackで補う。
func KeysFromSettings(settings *model.UserSettings, fallback Keys) Keys {
	keys := fallback
	if settings == nil {
		return keys
	}
	if settings.PexelsAPIKey != "" {
		keys.PexelsAPIKey = settings.PexelsAPIKey
	}
	if settings.UnsplashAccessKey != "" {
		keys.UnsplashAccessKey = settings.UnsplashAccessKey
	}
	return keys
}

// Provider はストック画像プロバイダーのインターフェース。
// offsetはページ位置として扱い、1ページ1件で検索する。
// 該当が無い場合はnil, nilを返す。
type Provider interface {
	Name() model.ImageProvider
	Search(ctx context.Context, keywords string, offset int, keys Keys) (*Result, error)
}

// maxResponseBytes はプロバイダーAPIレスポンスの読み取り上限。
const maxResponseBytes = 2 << 20

// getJSON はGETリクエストを送り、2xxのレスポンスをoutにデコードする。
func getJSON(ctx context.Context, client *http.Client, reqURL string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("APIがステータス %d を返しました", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}
