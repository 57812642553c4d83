// Package safety は生成キャプションの安全性ルール検証を提供する。
package safety

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/feedcaster/internal/model"
)

// Rules はキャプションに適用する安全性ルール。
type Rules struct {
	// MaxLength は最大文字数（ルーン数）。0以下なら無制限。
	MaxLength int
	// ForbiddenTerms は禁止語。大文字小文字を区別しない部分一致で判定する。
	// "/pattern/" 形式の場合は正規表現として扱う。
	ForbiddenTerms []string
}

// RulesFromCampaign はキャンペーン設定から安全性ルールを作る。
func RulesFromCampaign(c *model.Campaign) Rules {
	if c == nil {
		return Rules{}
	}
	return Rules{MaxLength: c.SafetyMaxLength, ForbiddenTerms: c.SafetyForbiddenTerms}
}

// Validate はキャプションを検証し、違反内容を返す。違反が無ければ空スライスを返す。
func Validate(caption string, rules Rules) []string {
	issues := []string{}

	if rules.MaxLength > 0 {
		if n := utf8.RuneCountInString(caption); n > rules.MaxLength {
			issues = append(issues, fmt.Sprintf("caption exceeds max length (%d > %d)", n, rules.MaxLength))
		}
	}

	lower := strings.ToLower(caption)
	for _, term := range rules.ForbiddenTerms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if re, ok := compilePattern(term); ok {
			if re.MatchString(caption) {
				issues = append(issues, fmt.Sprintf("caption matches forbidden pattern %s", term))
			}
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			issues = append(issues, fmt.Sprintf("caption contains forbidden term %q", term))
		}
	}
	return issues
}

// compilePattern は "/pattern/" 形式の禁止語を大文字小文字無視の正規表現にする。
// コンパイルできない場合は通常の文字列として扱う。
func compilePattern(term string) (*regexp.Regexp, bool) {
	if len(term) < 3 || !strings.HasPrefix(term, "/") || !strings.HasSuffix(term, "/") {
		return nil, false
	}
	re, err := regexp.Compile("(?i)" + term[1:len(term)-1])
	if err != nil {
		return nil, false
	}
	return re, true
}
