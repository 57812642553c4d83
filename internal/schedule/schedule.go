// Package schedule はキャンペーンの投稿スケジュール（cron式）を扱う。
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrNoNextRun は次回実行時刻が求められない場合のエラー。
var ErrNoNextRun = errors.New("cron expression has no next run")

// 分 時 日 月 曜日 の5フィールド形式。
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Next はafter以降で最初にcron式が発火する時刻を、timezoneで解釈して返す。
// timezoneが空の場合はUTCとして扱う。
func Next(expr, timezone string, after time.Time) (time.Time, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("タイムゾーンの読み込みに失敗しました: %w", err)
		}
		loc = l
	}

	sched, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return time.Time{}, fmt.Errorf("cron式の解析に失敗しました: %w", err)
	}

	next := sched.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, ErrNoNextRun
	}
	return next, nil
}

// Validate はcron式として解釈できるかを検証する。
func Validate(expr string) error {
	if _, err := parser.Parse(strings.TrimSpace(expr)); err != nil {
		return fmt.Errorf("cron式の解析に失敗しました: %w", err)
	}
	return nil
}

// Describe はcron式を人が読める日本語の説明に変換する。
// 時フィールドが */N の場合は「N時間ごと」と表示する。
func Describe(expr string) (string, error) {
	if err := Validate(expr); err != nil {
		return "", err
	}
	fields := strings.Fields(expr)
	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	var when string
	switch {
	case strings.HasPrefix(hour, "*/"):
		when = fmt.Sprintf("%s時間ごと（%s）", strings.TrimPrefix(hour, "*/"), minuteText(minute))
	case hour == "*":
		if strings.HasPrefix(minute, "*/") {
			when = fmt.Sprintf("%s分ごと", strings.TrimPrefix(minute, "*/"))
		} else if minute == "*" {
			when = "毎分"
		} else {
			when = fmt.Sprintf("毎時%s", minuteText(minute))
		}
	default:
		when = fmt.Sprintf("%s時%s", strings.ReplaceAll(hour, ",", "時・"), minuteText(minute))
	}

	var parts []string
	if month != "*" {
		parts = append(parts, fmt.Sprintf("%s月", month))
	}
	if dom != "*" {
		parts = append(parts, fmt.Sprintf("%s日", dom))
	}
	if dow != "*" {
		parts = append(parts, weekdayText(dow))
	}
	if len(parts) == 0 {
		parts = append(parts, "毎日")
	}
	return strings.Join(parts, " ") + " " + when, nil
}

func minuteText(minute string) string {
	switch {
	case minute == "*":
		return "毎分"
	case strings.HasPrefix(minute, "*/"):
		return fmt.Sprintf("%s分ごと", strings.TrimPrefix(minute, "*/"))
	case minute == "0" || minute == "00":
		return "0分"
	default:
		return minute + "分"
	}
}

var weekdayNames = map[string]string{
	"0": "日", "1": "月", "2": "火", "3": "水", "4": "木", "5": "金", "6": "土", "7": "日",
	"SUN": "日", "MON": "月", "TUE": "火", "WED": "水", "THU": "木", "FRI": "金", "SAT": "土",
}

func weekdayText(dow string) string {
	if dow == "1-5" || strings.EqualFold(dow, "MON-FRI") {
		return "平日"
	}
	var names []string
	for _, d := range strings.Split(dow, ",") {
		if name, ok := weekdayNames[strings.ToUpper(d)]; ok {
			names = append(names, name)
		} else {
			names = append(names, d)
		}
	}
	return "毎週" + strings.Join(names, "・") + "曜"
}
