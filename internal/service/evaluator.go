package service

import (
	"context"
	"fmt"
	"time"

	"github.com/agora/internal/db"
	"github.com/agora/internal/rules"
	"gorm.io/gorm"
)

// Evaluator 根据聚合计数判断徽章/标签条件是否达成
type Evaluator struct {
	db  *gorm.DB
	now Clock
}

// NewEvaluator 构造 Evaluator
func NewEvaluator(gdb *gorm.DB) *Evaluator {
	return &Evaluator{db: gdb, now: systemClock}
}

// WithClock 替换时钟
func (e *Evaluator) WithClock(now Clock) *Evaluator {
	if now != nil {
		e.now = now
	}
	return e
}

// IsEligible 当前计数达到 Target 时返回 true
func (e *Evaluator) IsEligible(ctx context.Context, userID uint, cond rules.Condition) (bool, error) {
	progress, err := e.Progress(ctx, userID, cond)
	if err != nil {
		return false, err
	}
	return progress >= cond.Target, nil
}

// Progress 返回条件对应的当前计数
func (e *Evaluator) Progress(ctx context.Context, userID uint, cond rules.Condition) (int64, error) {
	if err := cond.Validate(); err != nil {
		return 0, err
	}

	tx := e.db.WithContext(ctx)
	now := e.now()
	since, windowed := cond.Period.Since(now)

	scoped := func(q *gorm.DB) *gorm.DB {
		if windowed {
			return q.Where("created_at >= ?", since.UTC())
		}
		return q
	}

	var count int64
	switch cond.Type {
	case rules.CondPostCount:
		if err := scoped(tx.Model(&db.Topic{}).Where("user_id = ?", userID)).Count(&count).Error; err != nil {
			return 0, fmt.Errorf("count topics: %w", err)
		}
	case rules.CondReplyCount:
		if err := scoped(tx.Model(&db.Reply{}).Where("user_id = ?", userID)).Count(&count).Error; err != nil {
			return 0, fmt.Errorf("count replies: %w", err)
		}
	case rules.CondLikeCount:
		if err := scoped(tx.Model(&db.Like{}).Where("owner_id = ?", userID)).Count(&count).Error; err != nil {
			return 0, fmt.Errorf("count likes: %w", err)
		}
	case rules.CondCourseComplete:
		if err := scoped(tx.Model(&db.PointHistory{}).Where("user_id = ? AND type = ?", userID, rules.LedgerCourseComplete)).
			Count(&count).Error; err != nil {
			return 0, fmt.Errorf("count completed courses: %w", err)
		}
	case rules.CondLevel:
		user, err := loadUser(tx, userID)
		if err != nil {
			return 0, err
		}
		count = int64(user.Level)
	case rules.CondConsecutiveCheckin:
		days, err := consecutiveCheckinDays(tx, userID, now.Location())
		if err != nil {
			return 0, err
		}
		count = int64(days)
	default:
		return 0, fmt.Errorf("%w: %s", rules.ErrInvalidCondition, cond.Type)
	}
	return count, nil
}

// checkinPageSize 连续签到按页读取流水的页大小
var checkinPageSize = 400

// consecutiveCheckinDays 从最近一条签到流水开始向前数连续的自然日，遇到第一个空缺即停止
// 流水按页读取，直到出现空缺或读完，连续天数没有上限
func consecutiveCheckinDays(tx *gorm.DB, userID uint, loc *time.Location) (int, error) {
	var (
		streak int
		last   time.Time
	)
	for offset := 0; ; offset += checkinPageSize {
		var stamps []time.Time
		if err := tx.Model(&db.PointHistory{}).
			Where("user_id = ? AND type = ?", userID, rules.ActionLogin).
			Order("created_at DESC").
			Offset(offset).
			Limit(checkinPageSize).
			Pluck("created_at", &stamps).Error; err != nil {
			return 0, fmt.Errorf("load checkin history: %w", err)
		}

		for _, ts := range stamps {
			day := rules.StartOfDay(ts.In(loc))
			switch {
			case streak == 0:
				streak = 1
			case day.Equal(last):
				continue
			case day.Equal(last.AddDate(0, 0, -1)):
				streak++
			default:
				return streak, nil
			}
			last = day
		}
		if len(stamps) < checkinPageSize {
			return streak, nil
		}
	}
}
