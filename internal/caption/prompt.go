package caption

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/feedcaster/internal/model"
)

// maxArticleRunes はプロンプトに含める記事本文の上限文字数。
const maxArticleRunes = 4000

const defaultBasePrompt = "You are a social media editor. Summarize the article below as an engaging post " +
	"for the audience of this account. Be accurate, do not invent facts, and keep a natural tone."

// BuildSystemPrompt はシステムプロンプトを組み立てる。
// ベース、スレッド禁止、文字数上限、プラットフォーム向けヒント、応答形式の順に重ねる。
func BuildSystemPrompt(campaign *model.Campaign, overridePrompt string, maxLength int, sourceURL string) string {
	base := strings.TrimSpace(overridePrompt)
	if base == "" {
		base = strings.TrimSpace(campaign.AIPrompt)
	}
	if base == "" {
		base = defaultBasePrompt
	}

	var b strings.Builder
	b.WriteString(base)
	if campaign.Topic != "" {
		fmt.Fprintf(&b, "\n\nCampaign topic: %s.", campaign.Topic)
	}

	b.WriteString("\n\nWrite exactly one standalone post. Never write a thread, numbered parts or \"1/\" markers.")

	bodyLimit := maxLength
	if sourceURL != "" {
		// URLは生成後に付け足すため本文の上限から差し引く
		bodyLimit = maxLength - utf8.RuneCountInString(sourceURL) - 2
		if bodyLimit < 40 {
			bodyLimit = 40
		}
		b.WriteString(" Do not include the article URL; it is appended automatically.")
	}
	fmt.Fprintf(&b, "\n\nHARD LIMIT: the caption must be at most %d characters. Posts over the limit are rejected.", bodyLimit)

	if hint := platformHint(campaign.TargetPlatforms); hint != "" {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}

	b.WriteString("\n\nRespond with a JSON object only, no prose and no code fences:\n" +
		`{"caption": "...", "image_search_phrase": "2-4 keywords for a stock photo search", "image_prompt": "one sentence describing an illustrative image"}`)
	return b.String()
}

func platformHint(platforms []string) string {
	var hints []string
	for _, p := range platforms {
		switch strings.ToLower(p) {
		case "twitter", "x":
			hints = append(hints, "For X/Twitter use at most two hashtags.")
		case "linkedin":
			hints = append(hints, "For LinkedIn keep a professional tone.")
		case "instagram":
			hints = append(hints, "For Instagram you may end with a few relevant hashtags.")
		case "threads", "bluesky":
			hints = append(hints, "Keep it conversational.")
		}
	}
	return strings.Join(hints, " ")
}

// BuildUserContent はユーザーメッセージとして記事情報を組み立てる。
func BuildUserContent(post *model.Post, articleText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", post.SourceTitle)
	if post.SourceURL != "" {
		fmt.Fprintf(&b, "URL: %s\n", post.SourceURL)
	}
	text := strings.TrimSpace(articleText)
	if text == "" {
		text = post.SourceTitle
	}
	fmt.Fprintf(&b, "\nArticle:\n%s", text)
	return b.String()
}

// TokenBudget は文字数上限に応じた最大トークン数を返す。短い上限では小さくする。
func TokenBudget(maxLength int) int {
	budget := maxLength*2 + 150
	if budget < 200 {
		budget = 200
	}
	if budget > 1200 {
		budget = 1200
	}
	return budget
}

type responsePayload struct {
	Caption           string `json:"caption"`
	ImageSearchPhrase string `json:"image_search_phrase"`
	ImagePrompt       string `json:"image_prompt"`
}

// ErrEmptyCaption はAI応答にキャプションが含まれていない場合のエラー。
var ErrEmptyCaption = errors.New("AI応答にキャプションが含まれていません")

// ParseResponse はAI応答を解釈する。コードフェンスを除去し、最も外側のJSONオブジェクトを読む。
// JSONとして読めない場合だけ応答全体をキャプションとして扱う。
// 読めたJSONのcaptionが空の場合はErrEmptyCaptionを返す。
func ParseResponse(content string) (*Result, error) {
	text := stripCodeFence(strings.TrimSpace(content))

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		var payload responsePayload
		if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err == nil {
			c := strings.TrimSpace(payload.Caption)
			if c == "" {
				return nil, ErrEmptyCaption
			}
			return &Result{
				Caption:           c,
				ImageSearchPhrase: strings.TrimSpace(payload.ImageSearchPhrase),
				ImagePrompt:       strings.TrimSpace(payload.ImagePrompt),
				ParseMode:         ParseModeJSON,
			}, nil
		}
	}

	if text == "" {
		return nil, ErrEmptyCaption
	}
	return &Result{Caption: text, ParseMode: ParseModeFallback}, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		// ```json のような言語指定を落とす
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// AppendSourceURL はキャプションに記事URLが含まれていなければ末尾に付け足す。
func AppendSourceURL(caption, sourceURL string) string {
	if sourceURL == "" || strings.Contains(caption, sourceURL) {
		return caption
	}
	return strings.TrimRight(caption, " \n") + "\n\n" + sourceURL
}
