package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agora/internal/db"
	"github.com/agora/internal/rules"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SpecialTagService 管理可过期、可撤销的特殊标签
type SpecialTagService struct {
	db            *gorm.DB
	evaluator     *Evaluator
	points        *PointService
	notifications *NotificationService
	now           Clock
	locks         *userLocks
}

// SpecialTagInput 创建标签的参数
type SpecialTagInput struct {
	Name         string
	Description  string
	Color        string
	Icon         string
	Condition    rules.Condition
	DurationDays int
	RewardPoints int64
}

// GrantTagInput 手动授予标签；Duration 为空表示永久
type GrantTagInput struct {
	UserID     uint
	TagID      uint
	OperatorID *uint
	Reason     string
	Duration   *time.Duration
}

// NewSpecialTagService 构造 SpecialTagService
func NewSpecialTagService(gdb *gorm.DB, evaluator *Evaluator, points *PointService, notifications *NotificationService) *SpecialTagService {
	return &SpecialTagService{
		db:            gdb,
		evaluator:     evaluator,
		points:        points,
		notifications: notifications,
		now:           systemClock,
		locks:         &userLocks{},
	}
}

// WithClock 替换时钟
func (s *SpecialTagService) WithClock(now Clock) *SpecialTagService {
	if now != nil {
		s.now = now
	}
	return s
}

// ListForUser 返回用户当前有效的标签，顺带把已过期的记录置为失效
func (s *SpecialTagService) ListForUser(ctx context.Context, userID uint) ([]db.UserSpecialTag, error) {
	if _, err := s.expireForUser(s.db.WithContext(ctx), userID); err != nil {
		return nil, err
	}

	var tags []db.UserSpecialTag
	if err := s.db.WithContext(ctx).Preload("SpecialTag").
		Where("user_id = ? AND active = ?", userID, true).
		Order("created_at DESC").
		Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("list user special tags: %w", err)
	}
	return tags, nil
}

// All 返回全部标签定义
func (s *SpecialTagService) All(ctx context.Context) ([]db.SpecialTag, error) {
	var tags []db.SpecialTag
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("list special tags: %w", err)
	}
	return tags, nil
}

// Create 新建标签定义；条件可以为空（仅手动授予）
func (s *SpecialTagService) Create(ctx context.Context, input SpecialTagInput) (*db.SpecialTag, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if !input.Condition.IsZero() {
		if err := input.Condition.Validate(); err != nil {
			return nil, err
		}
	}
	if input.DurationDays < 0 || input.DurationDays > MaxDurationHours/24 {
		return nil, ErrInvalidDuration
	}

	tag := db.SpecialTag{
		Name:         name,
		Description:  strings.TrimSpace(input.Description),
		Color:        strings.TrimSpace(input.Color),
		Icon:         strings.TrimSpace(input.Icon),
		Condition:    input.Condition,
		DurationDays: input.DurationDays,
		RewardPoints: input.RewardPoints,
		Active:       true,
	}
	if err := s.db.WithContext(ctx).Create(&tag).Error; err != nil {
		return nil, fmt.Errorf("create special tag: %w", err)
	}
	return &tag, nil
}

// Grant 手动授予标签；用户已持有有效的同名标签时返回 ErrTagAlreadyGranted
func (s *SpecialTagService) Grant(ctx context.Context, input GrantTagInput) (*db.UserSpecialTag, error) {
	if !validDuration(input.Duration) {
		return nil, ErrInvalidDuration
	}

	unlock := s.locks.lock(input.UserID)
	defer unlock()

	now := s.now()
	var granted db.UserSpecialTag
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadUser(tx, input.UserID); err != nil {
			return err
		}
		tag, err := loadSpecialTag(tx, input.TagID)
		if err != nil {
			return err
		}
		held, err := s.holds(tx, input.UserID, tag.ID, now)
		if err != nil {
			return err
		}
		if held {
			return ErrTagAlreadyGranted
		}

		granted = db.UserSpecialTag{
			UserID:       input.UserID,
			SpecialTagID: tag.ID,
			GrantedBy:    input.OperatorID,
			Reason:       strings.TrimSpace(input.Reason),
			Active:       true,
		}
		if input.Duration != nil {
			expires := now.Add(*input.Duration).UTC()
			granted.ExpiresAt = &expires
		}
		if err := tx.Create(&granted).Error; err != nil {
			return fmt.Errorf("grant special tag: %w", err)
		}
		granted.SpecialTag = *tag
		return nil
	})
	if err != nil {
		return nil, err
	}

	notifyQuietly(ctx, s.notifications, NotifyInput{
		UserID:  input.UserID,
		Type:    NotifySpecialTag,
		Title:   "获得特殊标签",
		Content: fmt.Sprintf("你获得了特殊标签「%s」", granted.SpecialTag.Name),
		Payload: map[string]interface{}{"tagId": granted.SpecialTagID, "expiresAt": granted.ExpiresAt},
	})
	return &granted, nil
}

// Revoke 撤销用户持有的标签
func (s *SpecialTagService) Revoke(ctx context.Context, userID, tagID uint) error {
	res := s.db.WithContext(ctx).Model(&db.UserSpecialTag{}).
		Where("user_id = ? AND special_tag_id = ? AND active = ?", userID, tagID, true).
		Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("revoke special tag: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserTagNotFound
	}
	return nil
}

// CheckAndAward 为满足条件且当前未持有的用户授予按条件发放的标签
func (s *SpecialTagService) CheckAndAward(ctx context.Context, userID uint) ([]db.SpecialTag, error) {
	var tags []db.SpecialTag
	if err := s.db.WithContext(ctx).Where("active = ? AND condition IS NOT NULL", true).Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("list conditional tags: %w", err)
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	awarded := make([]db.SpecialTag, 0)
	for _, tag := range tags {
		if tag.Condition.IsZero() {
			continue
		}
		now := s.now()
		held, err := s.holds(s.db.WithContext(ctx), userID, tag.ID, now)
		if err != nil {
			return awarded, err
		}
		if held {
			continue
		}
		ok, err := s.evaluator.IsEligible(ctx, userID, tag.Condition)
		if err != nil {
			return awarded, err
		}
		if !ok {
			continue
		}

		row := db.UserSpecialTag{
			UserID:       userID,
			SpecialTagID: tag.ID,
			Reason:       "条件达成自动授予",
			Active:       true,
		}
		if tag.DurationDays > 0 {
			expires := now.AddDate(0, 0, tag.DurationDays).UTC()
			row.ExpiresAt = &expires
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return awarded, fmt.Errorf("award special tag: %w", err)
		}
		awarded = append(awarded, tag)

		if tag.RewardPoints != 0 {
			if _, err := s.points.Reward(ctx, userID, rules.LedgerTagReward, tag.RewardPoints, 0,
				fmt.Sprintf("获得标签「%s」", tag.Name), &Related{ID: tag.ID, Type: "special_tag"}); err != nil {
				log.WithFields(log.Fields{"user_id": userID, "tag_id": tag.ID}).WithError(err).Error("tag reward failed")
			}
		}
		notifyQuietly(ctx, s.notifications, NotifyInput{
			UserID:  userID,
			Type:    NotifySpecialTag,
			Title:   "获得特殊标签",
			Content: fmt.Sprintf("你获得了特殊标签「%s」", tag.Name),
			Payload: map[string]interface{}{"tagId": tag.ID, "expiresAt": row.ExpiresAt},
		})
	}
	return awarded, nil
}

// holds 判断用户是否持有有效且未过期的标签
func (s *SpecialTagService) holds(tx *gorm.DB, userID, tagID uint, now time.Time) (bool, error) {
	var count int64
	if err := tx.Model(&db.UserSpecialTag{}).
		Where("user_id = ? AND special_tag_id = ? AND active = ?", userID, tagID, true).
		Where("expires_at IS NULL OR expires_at > ?", now.UTC()).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check special tag: %w", err)
	}
	return count > 0, nil
}

func (s *SpecialTagService) expireForUser(tx *gorm.DB, userID uint) (int64, error) {
	res := tx.Model(&db.UserSpecialTag{}).
		Where("user_id = ? AND active = ? AND expires_at IS NOT NULL AND expires_at <= ?", userID, true, s.now().UTC()).
		Update("active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("expire special tags: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func loadSpecialTag(tx *gorm.DB, id uint) (*db.SpecialTag, error) {
	var tag db.SpecialTag
	if err := tx.First(&tag, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSpecialTagNotFound
		}
		return nil, fmt.Errorf("get special tag: %w", err)
	}
	return &tag, nil
}
