// Package caption はAIによる投稿キャプションの生成を提供する。
package caption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hitoshi/feedcaster/internal/metrics"
	"github.com/hitoshi/feedcaster/internal/model"
	"github.com/hitoshi/feedcaster/internal/repository"
	"github.com/hitoshi/feedcaster/internal/security"
)

// ParseMode はAI応答の解釈方法を表す。
type ParseMode string

const (
	// ParseModeJSON は応答をJSONとして解釈できた場合。
	ParseModeJSON ParseMode = "json"
	// ParseModeFallback は応答全体をキャプションとして扱った場合。
	ParseModeFallback ParseMode = "fallback"
)

// defaultMaxLength はキャンペーンに上限が無い場合のキャプション上限文字数。
const defaultMaxLength = 500

// Result は生成結果。
type Result struct {
	Caption           string
	ImageSearchPhrase string
	ImagePrompt       string
	Model             string
	ParseMode         ParseMode
}

// Config はグローバル設定のAI接続情報。ユーザー設定が無い項目に使う。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// ChatClient はチャット補完APIのインターフェース。
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ArticleFetcher は記事本文テキストを取得するインターフェース。
type ArticleFetcher interface {
	FetchText(ctx context.Context, articleURL string) (string, error)
}

// Generator は記事情報とキャンペーン設定からキャプションを生成する。
type Generator struct {
	settings repository.UserSettingsRepository
	cfg      Config
	articles ArticleFetcher
	metrics  metrics.Recorder
	logger   *slog.Logger

	// newClient はAPIキーとベースURLからクライアントを作る。テストで差し替える。
	newClient func(apiKey, baseURL string) ChatClient
}

// NewGenerator はGeneratorを生成する。
func NewGenerator(
	settings repository.UserSettingsRepository,
	cfg Config,
	articles ArticleFetcher,
	rec metrics.Recorder,
	logger *slog.Logger,
) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	httpClient := &http.Client{Timeout: timeout}
	return &Generator{
		settings: settings,
		cfg:      cfg,
		articles: articles,
		metrics:  rec,
		logger:   logger,
		newClient: func(apiKey, baseURL string) ChatClient {
			conf := openai.DefaultConfig(apiKey)
			if baseURL != "" {
				conf.BaseURL = strings.TrimRight(baseURL, "/")
			}
			conf.HTTPClient = httpClient
			return openai.NewClientWithConfig(conf)
		},
	}
}

// credentials は解決済みのAI接続情報。
type credentials struct {
	apiKey  string
	baseURL string
	model   string
}

// resolveCredentials はユーザー設定、グローバル設定の順に接続情報を解決する。
func (g *Generator) resolveCredentials(ctx context.Context, userID string) (*credentials, error) {
	creds := &credentials{apiKey: g.cfg.APIKey, baseURL: g.cfg.BaseURL, model: g.cfg.Model}

	if g.settings != nil && userID != "" {
		s, err := g.settings.FindByUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("ユーザー設定の取得に失敗しました: %w", err)
		}
		if s != nil {
			if s.OpenAIAPIKey != "" {
				creds.apiKey = s.OpenAIAPIKey
			}
			if s.OpenAIBaseURL != "" {
				creds.baseURL = s.OpenAIBaseURL
			}
			if s.OpenAIModel != "" {
				creds.model = s.OpenAIModel
			}
		}
	}

	if creds.apiKey == "" {
		return nil, &model.MissingCredentialsError{Kind: model.CredentialAI, UserID: userID}
	}
	if creds.model == "" {
		creds.model = openai.GPT4oMini
	}
	return creds, nil
}

// Generate はキャプションを1回生成する。overridePromptが空でなければキャンペーンのプロンプトより優先する。
// 安全性検証は呼び出し側で行う。
func (g *Generator) Generate(ctx context.Context, post *model.Post, campaign *model.Campaign, overridePrompt string) (*Result, error) {
	creds, err := g.resolveCredentials(ctx, campaign.UserID)
	if err != nil {
		return nil, err
	}

	maxLength := campaign.SafetyMaxLength
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}

	articleText := g.articleText(ctx, post)

	req := openai.ChatCompletionRequest{
		Model: creds.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: BuildSystemPrompt(campaign, overridePrompt, maxLength, post.SourceURL)},
			{Role: openai.ChatMessageRoleUser, Content: BuildUserContent(post, articleText)},
		},
		MaxTokens:   TokenBudget(maxLength),
		Temperature: float32(g.cfg.Temperature),
	}

	start := time.Now()
	resp, err := g.newClient(creds.apiKey, creds.baseURL).CreateChatCompletion(ctx, req)
	g.metrics.RecordGenerationLatency(time.Since(start))
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusUnauthorized {
			return nil, &model.MissingCredentialsError{Kind: model.CredentialAI, UserID: campaign.UserID}
		}
		return nil, fmt.Errorf("キャプション生成APIの呼び出しに失敗しました: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("キャプション生成APIの応答が空です")
	}

	content := resp.Choices[0].Message.Content
	result, err := ParseResponse(content)
	if err != nil {
		return nil, fmt.Errorf("キャプション生成APIの応答を解釈できません: %w", err)
	}
	if result.ParseMode == ParseModeFallback {
		g.logger.WarnContext(ctx, "AI応答をJSONとして解釈できないためテキスト全体をキャプションとして使用します",
			slog.String("post_id", post.ID),
			slog.Int("response_length", utf8.RuneCountInString(content)),
		)
	}

	result.Caption = AppendSourceURL(result.Caption, post.SourceURL)
	result.Model = resp.Model
	if result.Model == "" {
		result.Model = creds.model
	}

	g.metrics.RecordCaptionGenerated(string(result.ParseMode))
	return result, nil
}

// articleText は記事本文を取得し、失敗時はRSSのスニペットを返す。
func (g *Generator) articleText(ctx context.Context, post *model.Post) string {
	if g.articles == nil || post.SourceURL == "" {
		return post.SourceSnippet
	}
	text, err := g.articles.FetchText(ctx, post.SourceURL)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			g.logger.DebugContext(ctx, "記事本文の取得に失敗したためスニペットを使用します",
				slog.String("post_id", post.ID),
				slog.String("error", err.Error()),
			)
		}
		return post.SourceSnippet
	}
	return security.Truncate(text, maxArticleRunes)
}
