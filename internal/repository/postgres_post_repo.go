package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/feedcaster/internal/model"
)

const postColumns = `id, campaign_id, user_id, source_title, source_url, source_guid,
	source_snippet, source_published_at, generated_caption, image_url, image_credit,
	image_search_phrase, image_prompt, ai_model, scheduled_for, posted_at, status,
	failure_reason, retry_count, processing_until, created_at, updated_at`

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return p, nil
}

// FindByCampaignAndGUID はキャンペーン内でGUIDが一致する投稿を取得する。
func (r *PostgresPostRepo) FindByCampaignAndGUID(ctx context.Context, campaignID, guid string) (*model.Post, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE campaign_id = $1 AND source_guid = $2`,
		campaignID, guid,
	)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GUID による投稿の検索に失敗しました: %w", err)
	}
	return p, nil
}

// ListByCampaign はキャンペーンの指定ステータスの投稿を作成日時順に返す。
func (r *PostgresPostRepo) ListByCampaign(ctx context.Context, campaignID string, statuses []model.PostStatus) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE campaign_id = $1 AND status = ANY($2)
		 ORDER BY created_at ASC`,
		campaignID, pq.Array(statusesToStrings(statuses)),
	)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("投稿の読み取りに失敗しました: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿一覧の走査に失敗しました: %w", err)
	}
	return posts, nil
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, p *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, campaign_id, user_id, source_title, source_url, source_guid,
		        source_snippet, source_published_at, image_url, status, retry_count,
		        created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.CampaignID, p.UserID, p.SourceTitle, p.SourceURL, p.SourceGUID,
		nullString(p.SourceSnippet), nullTime(p.SourcePublishedAt), nullString(p.ImageURL), string(p.Status), p.RetryCount,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return model.ErrDuplicateArticle
		}
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は投稿の可変フィールドを更新する。
// postedから他のステータスへ戻す更新は行を変更せずErrPostAlreadyPostedを返す。
func (r *PostgresPostRepo) Update(ctx context.Context, p *model.Post) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET
		        generated_caption = $2, image_url = $3, image_credit = $4,
		        image_search_phrase = $5, image_prompt = $6, ai_model = $7,
		        scheduled_for = $8, posted_at = $9, status = $10,
		        failure_reason = $11, retry_count = GREATEST(retry_count, $12),
		        updated_at = now()
		 WHERE id = $1 AND (status <> 'posted' OR $10 = 'posted')`,
		p.ID, p.GeneratedCaption, p.ImageURL, p.ImageCredit,
		p.ImageSearchPhrase, p.ImagePrompt, p.AIModel,
		nullTime(p.ScheduledFor), nullTime(p.PostedAt), string(p.Status),
		p.FailureReason, p.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("投稿の更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, p.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("投稿の存在確認に失敗しました: %w", err)
	}
	if !exists {
		return model.ErrPostNotFound
	}
	return model.ErrPostAlreadyPosted
}

// UpdateCaption はキャプションとAIモデル名のみを更新する。
func (r *PostgresPostRepo) UpdateCaption(ctx context.Context, id, caption, aiModel string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET generated_caption = $2, ai_model = $3, updated_at = now()
		 WHERE id = $1`,
		id, caption, aiModel,
	)
	if err != nil {
		return fmt.Errorf("キャプションの更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return model.ErrPostNotFound
	}
	return nil
}

// AcquireLease はリースが空いている場合のみprocessing_untilを設定する。
// 条件付きUPDATEのため、同時に呼ばれても取得できるのは1件のみ。posted の行は取得できない。
func (r *PostgresPostRepo) AcquireLease(ctx context.Context, id string, until, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET processing_until = $2
		 WHERE id = $1 AND status <> 'posted'
		   AND (processing_until IS NULL OR processing_until < $3)`,
		id, until, now,
	)
	if err != nil {
		return false, fmt.Errorf("リースの取得に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}

// ReleaseLease はprocessing_untilをクリアする。
func (r *PostgresPostRepo) ReleaseLease(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE posts SET processing_until = NULL WHERE id = $1`, id,
	); err != nil {
		return fmt.Errorf("リースの解放に失敗しました: %w", err)
	}
	return nil
}

func scanPost(s rowScanner) (*model.Post, error) {
	p := &model.Post{}
	var status string
	var publishedAt, scheduledFor, postedAt, processingUntil sql.NullTime
	var snippet, caption, imageURL, imageCredit, phrase, prompt, aiModel, reason sql.NullString

	err := s.Scan(
		&p.ID, &p.CampaignID, &p.UserID, &p.SourceTitle, &p.SourceURL, &p.SourceGUID,
		&snippet, &publishedAt, &caption, &imageURL, &imageCredit,
		&phrase, &prompt, &aiModel, &scheduledFor, &postedAt, &status,
		&reason, &p.RetryCount, &processingUntil, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.SourceSnippet = nullStringValue(snippet)
	p.GeneratedCaption = nullStringValue(caption)
	p.ImageURL = nullStringValue(imageURL)
	p.ImageCredit = nullStringValue(imageCredit)
	p.ImageSearchPhrase = nullStringValue(phrase)
	p.ImagePrompt = nullStringValue(prompt)
	p.AIModel = nullStringValue(aiModel)
	p.FailureReason = nullStringValue(reason)
	p.SourcePublishedAt = nullTimePtr(publishedAt)
	p.ScheduledFor = nullTimePtr(scheduledFor)
	p.PostedAt = nullTimePtr(postedAt)
	p.ProcessingUntil = nullTimePtr(processingUntil)
	p.Status = model.PostStatus(status)
	return p, nil
}
