package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/feedcaster/internal/model"
)

// PostgresUserSettingsRepo はPostgreSQLを使用したユーザー設定リポジトリ。
type PostgresUserSettingsRepo struct {
	db *sql.DB
}

// NewPostgresUserSettingsRepo はPostgresUserSettingsRepoを生成する。
func NewPostgresUserSettingsRepo(db *sql.DB) *PostgresUserSettingsRepo {
	return &PostgresUserSettingsRepo{db: db}
}

// FindByUserID はユーザー設定を取得する。見つからない場合はnilを返す。
func (r *PostgresUserSettingsRepo) FindByUserID(ctx context.Context, userID string) (*model.UserSettings, error) {
	s := &model.UserSettings{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, openai_api_key, openai_base_url, openai_model,
		        postly_api_key, postly_workspace_id, pexels_api_key, unsplash_access_key,
		        updated_at
		 FROM user_settings WHERE user_id = $1`,
		userID,
	).Scan(
		&s.UserID, &s.OpenAIAPIKey, &s.OpenAIBaseURL, &s.OpenAIModel,
		&s.PostlyAPIKey, &s.PostlyWorkspaceID, &s.PexelsAPIKey, &s.UnsplashAccessKey,
		&s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザー設定の取得に失敗しました: %w", err)
	}
	return s, nil
}
