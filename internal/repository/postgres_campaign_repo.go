package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/feedcaster/internal/model"
)

const campaignColumns = `id, user_id, name, topic, rss_urls, schedule_cron, schedule_timezone,
	ai_prompt, safety_forbidden_terms, safety_max_length, image_providers,
	target_platforms, account_targeting, target_account_ids, auto_publish, is_active,
	created_at, updated_at`

// PostgresCampaignRepo はPostgreSQLを使用したキャンペーンリポジトリ。
type PostgresCampaignRepo struct {
	db *sql.DB
}

// NewPostgresCampaignRepo はPostgresCampaignRepoを生成する。
func NewPostgresCampaignRepo(db *sql.DB) *PostgresCampaignRepo {
	return &PostgresCampaignRepo{db: db}
}

// FindByID は指定IDのキャンペーンを取得する。見つからない場合はnilを返す。
func (r *PostgresCampaignRepo) FindByID(ctx context.Context, id string) (*model.Campaign, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)

	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("キャンペーンの取得に失敗しました: %w", err)
	}
	return c, nil
}

// ListActive は有効なキャンペーンを作成日時順に返す。
func (r *PostgresCampaignRepo) ListActive(ctx context.Context) ([]*model.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE is_active = true ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("有効なキャンペーンの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var campaigns []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("キャンペーンの読み取りに失敗しました: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("キャンペーン一覧の走査に失敗しました: %w", err)
	}
	return campaigns, nil
}

// UpdatePrompt はキャンペーンのAIプロンプトを更新する。
func (r *PostgresCampaignRepo) UpdatePrompt(ctx context.Context, id, prompt string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET ai_prompt = $2, updated_at = now() WHERE id = $1`,
		id, prompt,
	)
	if err != nil {
		return fmt.Errorf("プロンプトの更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return model.ErrCampaignNotFound
	}
	return nil
}

func scanCampaign(s rowScanner) (*model.Campaign, error) {
	c := &model.Campaign{}
	var providers []string
	var targeting string
	err := s.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Topic, pq.Array(&c.RSSURLs),
		&c.ScheduleCron, &c.ScheduleTimezone, &c.AIPrompt,
		pq.Array(&c.SafetyForbiddenTerms), &c.SafetyMaxLength, pq.Array(&providers),
		pq.Array(&c.TargetPlatforms), &targeting, pq.Array(&c.TargetAccountIDs),
		&c.AutoPublish, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ImageProviders = stringsToProviders(providers)
	c.AccountTargeting = model.AccountTargeting(targeting)
	return c, nil
}
