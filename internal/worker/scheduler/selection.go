package scheduler

import (
	"sort"
	"time"

	"github.com/hitoshi/feedcaster/internal/model"
)

// SelectForPreparation はキャプション未生成の投稿から準備対象を最大limit件選ぶ。
// approvedは常に対象、scheduledはnow+window以内に予約日時が来るものだけが対象。
// approvedを先に、scheduledは予約日時の早い順に並べる。
func SelectForPreparation(posts []*model.Post, now time.Time, window time.Duration, limit int) []*model.Post {
	horizon := now.Add(window)

	var approved, scheduled []*model.Post
	for _, p := range posts {
		if p.HasCaption() {
			continue
		}
		switch p.Status {
		case model.PostStatusApproved:
			approved = append(approved, p)
		case model.PostStatusScheduled:
			if p.ScheduledFor != nil && !p.ScheduledFor.After(horizon) {
				scheduled = append(scheduled, p)
			}
		}
	}
	sort.SliceStable(scheduled, func(i, j int) bool {
		return scheduled[i].ScheduledFor.Before(*scheduled[j].ScheduledFor)
	})

	selected := append(approved, scheduled...)
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	return selected
}

// SelectDueForPublish は予約日時を過ぎたscheduled投稿を予約日時の早い順に返す。
func SelectDueForPublish(posts []*model.Post, now time.Time) []*model.Post {
	var due []*model.Post
	for _, p := range posts {
		if p.IsDueForPublish(now) {
			due = append(due, p)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(*due[j].ScheduledFor)
	})
	return due
}
