// Package publisher はPostly APIへの投稿を提供する。
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/hitoshi/feedcaster/internal/model"
)

// DefaultBaseURL はPostly APIのベースURL。
const DefaultBaseURL = "https://openapi.postly.ai/v1"

// Result は投稿APIの結果。Successがfalseの場合はErrorに理由が入る。
type Result struct {
	Success bool
	PostID  string
	Error   string
}

// Client はPostly APIのクライアント。
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient はClientを生成する。baseURLが空の場合はDefaultBaseURLを使う。
func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

type mediaItem struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

type publishRequest struct {
	Text            string      `json:"text"`
	Media           []mediaItem `json:"media,omitempty"`
	TargetPlatforms string      `json:"target_platforms"`
	Workspace       string      `json:"workspace"`
}

type publishResponse struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	PostID  string `json:"post_id"`
	Data    struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Publish は投稿を公開する。captionOverrideが空でなければ生成キャプションの代わりに使う。
// APIが失敗を返した場合はSuccess=falseのResultを返し、通信やデコードの失敗はerrorで返す。
func (c *Client) Publish(
	ctx context.Context,
	post *model.Post,
	campaign *model.Campaign,
	apiKey, workspaceID, captionOverride string,
) (*Result, error) {
	text := captionOverride
	if text == "" {
		text = post.GeneratedCaption
	}

	body := publishRequest{
		Text:            text,
		TargetPlatforms: TargetString(campaign),
		Workspace:       workspaceID,
	}
	if post.ImageURL != "" {
		body.Media = []mediaItem{{URL: post.ImageURL, Type: MediaType(post.ImageURL)}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/posts", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "投稿APIの呼び出しに失敗しました",
			slog.String("post_id", post.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var decoded publishResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
				return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
			}
			return &Result{Success: false, Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(raw), 200))}, nil
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || (decoded.Success != nil && !*decoded.Success) {
		reason := decoded.Error
		if reason == "" {
			reason = decoded.Message
		}
		if reason == "" {
			reason = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		c.logger.WarnContext(ctx, "投稿APIが失敗を返しました",
			slog.String("post_id", post.ID),
			slog.Int("http_status", resp.StatusCode),
			slog.String("reason", reason),
		)
		return &Result{Success: false, Error: reason}, nil
	}

	postID := decoded.PostID
	if postID == "" {
		postID = decoded.Data.ID
	}
	return &Result{Success: true, PostID: postID}, nil
}

// TargetString は投稿先の指定文字列を返す。
// specificの場合はアカウントID、それ以外はプラットフォーム名のカンマ区切り。
func TargetString(campaign *model.Campaign) string {
	if campaign.AccountTargeting == model.AccountTargetingSpecific && len(campaign.TargetAccountIDs) > 0 {
		return strings.Join(campaign.TargetAccountIDs, ",")
	}
	return strings.Join(campaign.TargetPlatforms, ",")
}

var extMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
}

// MediaType は画像URLの拡張子とホストからMIMEタイプを推定する。
// 判定できない場合はimage/jpegとする。
func MediaType(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "image/jpeg"
	}
	if mime, ok := extMIME[strings.ToLower(path.Ext(u.Path))]; ok {
		return mime
	}

	// Unsplashの画像URLは拡張子が無く、fmパラメータで形式を指定する
	if strings.HasSuffix(strings.ToLower(u.Hostname()), "images.unsplash.com") {
		if mime, ok := extMIME["."+strings.ToLower(u.Query().Get("fm"))]; ok {
			return mime
		}
	}
	return "image/jpeg"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
