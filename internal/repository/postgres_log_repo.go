package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/feedcaster/internal/model"
)

// PostgresLogRepo はPostgreSQLを使用した監査ログリポジトリ。
type PostgresLogRepo struct {
	db *sql.DB
}

// NewPostgresLogRepo はPostgresLogRepoを生成する。
func NewPostgresLogRepo(db *sql.DB) *PostgresLogRepo {
	return &PostgresLogRepo{db: db}
}

// Create は監査ログを追加する。metadataはJSONBとして保存する。
func (r *PostgresLogRepo) Create(ctx context.Context, l *model.Log) error {
	metadata := l.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("metadataのエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO logs (id, level, message, campaign_id, post_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, string(l.Level), l.Message,
		nullStringPtr(l.CampaignID), nullStringPtr(l.PostID), raw, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("監査ログの作成に失敗しました: %w", err)
	}
	return nil
}

// ExistsSince はsince以降に指定イベントのログがあるかを返す。
func (r *PostgresLogRepo) ExistsSince(ctx context.Context, campaignID, event string, since time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM logs
		    WHERE campaign_id = $1 AND metadata->>'event' = $2 AND created_at >= $3
		 )`,
		campaignID, event, since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("監査ログの検索に失敗しました: %w", err)
	}
	return exists, nil
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}
