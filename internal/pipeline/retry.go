package pipeline

import (
	"context"
	"time"
)

// PublishBackoff は投稿リトライのn回目の失敗後に待つ時間を返す。unit×attemptで線形に増える。
func PublishBackoff(unit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return unit * time.Duration(attempt)
}

// sleepContext はdだけ待つ。コンテキストがキャンセルされた場合は即座にエラーを返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
