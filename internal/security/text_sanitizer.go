package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はフィードやAPIレスポンスに含まれるHTMLをプレーンテキストに変換する。
// スニペット、画像クレジット、記事本文の前処理に使う。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はタグを全て除去するポリシーでTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// StripHTML はタグを除去し、実体参照を戻して空白を1つに詰める。
func (s *TextSanitizer) StripHTML(raw string) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.Join(strings.Fields(text), " ")
}

// Snippet はStripHTMLの結果を最大maxRunes文字に切り詰める。
func (s *TextSanitizer) Snippet(raw string, maxRunes int) string {
	return Truncate(s.StripHTML(raw), maxRunes)
}

// Truncate は文字列をルーン単位で最大maxRunes文字に切り詰める。
// maxRunesが0以下の場合はそのまま返す。
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}
