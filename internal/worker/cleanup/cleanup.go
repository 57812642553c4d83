// Package cleanup は監査ログの保持期間管理ジョブを提供する。
// 保持期間（デフォルト90日）を超過したlogsの行を日次で削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// LogRetentionJob は保持期間を超過した監査ログの削除ジョブ。
// 冪等で、削除対象がなくてもエラーにならない。
type LogRetentionJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int
}

// NewLogRetentionJob はLogRetentionJobを生成する。retentionDaysが0以下なら90日。
func NewLogRetentionJob(db Executor, logger *slog.Logger, retentionDays int) *LogRetentionJob {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &LogRetentionJob{
		db:            db,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Run はcreated_atがRetentionDays日前より古い監査ログを削除し、削除件数を返す。
func (j *LogRetentionJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	interval := fmt.Sprintf("%d days", j.RetentionDays)

	result, err := j.db.ExecContext(ctx, `DELETE FROM logs WHERE created_at < now() - $1::interval`, interval)
	if err != nil {
		j.logger.Error("監査ログの削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return 0, fmt.Errorf("監査ログの削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}

	j.logger.Info("監査ログの削除が完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

// Start は起動直後と以後interval毎にRunを実行する。ctxがキャンセルされるまでブロックする。
func (j *LogRetentionJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
			j.logger.Warn("次回の実行で再試行します", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
