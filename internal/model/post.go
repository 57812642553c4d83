// Package model はドメインモデルを定義する。
package model

import "time"

// PostStatus は投稿のパイプライン上の状態を表す。
type PostStatus string

const (
	// PostStatusIngested はRSSから取り込まれ、まだコンテンツが生成されていない状態。
	PostStatusIngested PostStatus = "ingested"
	// PostStatusReviewPending はコンテンツ生成済みでレビュー待ちの状態。
	PostStatusReviewPending PostStatus = "review_pending"
	// PostStatusApproved はレビューで承認され、即時投稿を待つ状態。
	PostStatusApproved PostStatus = "approved"
	// PostStatusScheduled は投稿日時が設定された状態。
	PostStatusScheduled PostStatus = "scheduled"
	// PostStatusPosted は投稿済み。終端状態。
	PostStatusPosted PostStatus = "posted"
	// PostStatusFailed は生成または投稿に失敗した状態。手動で再実行できる。
	PostStatusFailed PostStatus = "failed"
)

// Valid は定義済みのステータスかどうかを返す。
func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusIngested, PostStatusReviewPending, PostStatusApproved,
		PostStatusScheduled, PostStatusPosted, PostStatusFailed:
		return true
	}
	return false
}

// Post は1記事分のパイプライン上のレコードを表す。
type Post struct {
	ID         string
	CampaignID string
	UserID     string

	// 元記事
	SourceTitle       string
	SourceURL         string
	SourceGUID        string
	SourceSnippet     string
	SourcePublishedAt *time.Time

	// 生成コンテンツ
	GeneratedCaption  string
	ImageURL          string
	ImageCredit       string
	ImageSearchPhrase string
	ImagePrompt       string
	AIModel           string

	// スケジューリング
	ScheduledFor *time.Time
	PostedAt     *time.Time

	Status        PostStatus
	FailureReason string
	RetryCount    int

	// ProcessingUntil は生成・投稿処理のリース期限。nilまたは過去なら未ロック。
	ProcessingUntil *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCaption はキャプションが生成済みかどうかを返す。
func (p *Post) HasCaption() bool {
	return p.GeneratedCaption != ""
}

// Transition は投稿のステータスを変更する。
// 投稿済み（posted）から他のステータスへは遷移できない。
func (p *Post) Transition(to PostStatus) error {
	if p.Status == PostStatusPosted && to != PostStatusPosted {
		return ErrPostAlreadyPosted
	}
	p.Status = to
	return nil
}

// IsDueForPublish はスケジュール済みかつ投稿日時を過ぎているかを返す。
func (p *Post) IsDueForPublish(now time.Time) bool {
	return p.Status == PostStatusScheduled && p.ScheduledFor != nil && !p.ScheduledFor.After(now)
}

// ParsedArticle はフィードから取得した未保存の記事データを表す。
type ParsedArticle struct {
	Title    string
	Link     string
	GUID     string
	Snippet  string // HTML除去済み、最大500文字
	PubDate  *time.Time
	ImageURL string
}
