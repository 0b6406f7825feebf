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
	"gorm.io/gorm/clause"
)

// BadgeService 负责徽章定义维护、条件评估与幂等授予
type BadgeService struct {
	db            *gorm.DB
	evaluator     *Evaluator
	points        *PointService
	notifications *NotificationService
	now           Clock
}

// BadgeView 徽章列表项，附带当前用户的获得状态与进度
type BadgeView struct {
	ID           uint            `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Icon         string          `json:"icon"`
	Condition    rules.Condition `json:"condition"`
	RewardPoints int64           `json:"rewardPoints"`
	RewardExp    int64           `json:"rewardExp"`
	Earned       bool            `json:"earned"`
	AwardedAt    *time.Time      `json:"awardedAt,omitempty"`
	Progress     int64           `json:"progress"`
	Target       int64           `json:"target"`
}

// BadgeInput 创建徽章的参数
type BadgeInput struct {
	Name         string
	Description  string
	Icon         string
	Condition    rules.Condition
	RewardPoints int64
	RewardExp    int64
	SortOrder    int
}

// NewBadgeService 构造 BadgeService
func NewBadgeService(gdb *gorm.DB, evaluator *Evaluator, points *PointService, notifications *NotificationService) *BadgeService {
	return &BadgeService{db: gdb, evaluator: evaluator, points: points, notifications: notifications, now: systemClock}
}

// WithClock 替换时钟
func (s *BadgeService) WithClock(now Clock) *BadgeService {
	if now != nil {
		s.now = now
	}
	return s
}

// All 返回全部启用徽章及用户的获得情况
func (s *BadgeService) All(ctx context.Context, userID uint) ([]BadgeView, error) {
	badges, err := s.activeBadges(ctx)
	if err != nil {
		return nil, err
	}
	earned, err := s.earnedMap(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]BadgeView, 0, len(badges))
	for _, b := range badges {
		view := BadgeView{
			ID:           b.ID,
			Name:         b.Name,
			Description:  b.Description,
			Icon:         b.Icon,
			Condition:    b.Condition,
			RewardPoints: b.RewardPoints,
			RewardExp:    b.RewardExp,
			Target:       b.Condition.Target,
		}
		if ub, ok := earned[b.ID]; ok {
			awarded := ub.AwardedAt
			view.Earned = true
			view.AwardedAt = &awarded
			view.Progress = b.Condition.Target
		} else if !b.Condition.IsZero() {
			progress, err := s.evaluator.Progress(ctx, userID, b.Condition)
			if err != nil {
				return nil, err
			}
			if progress > b.Condition.Target {
				progress = b.Condition.Target
			}
			view.Progress = progress
		}
		views = append(views, view)
	}
	return views, nil
}

// Mine 返回用户已获得的徽章
func (s *BadgeService) Mine(ctx context.Context, userID uint) ([]db.UserBadge, error) {
	var owned []db.UserBadge
	if err := s.db.WithContext(ctx).Preload("Badge").
		Where("user_id = ?", userID).
		Order("awarded_at DESC").
		Find(&owned).Error; err != nil {
		return nil, fmt.Errorf("list user badges: %w", err)
	}
	return owned, nil
}

// CheckAndAward 评估所有未获得的启用徽章并授予满足条件的徽章。
// (user_id, badge_id) 唯一索引保证重复调用不会重复授予或重复奖励。
func (s *BadgeService) CheckAndAward(ctx context.Context, userID uint) ([]db.Badge, error) {
	if _, err := loadUser(s.db.WithContext(ctx), userID); err != nil {
		return nil, err
	}
	badges, err := s.activeBadges(ctx)
	if err != nil {
		return nil, err
	}
	earned, err := s.earnedMap(ctx, userID)
	if err != nil {
		return nil, err
	}

	awarded := make([]db.Badge, 0)
	for _, badge := range badges {
		if _, ok := earned[badge.ID]; ok || badge.Condition.IsZero() {
			continue
		}
		ok, err := s.evaluator.IsEligible(ctx, userID, badge.Condition)
		if err != nil {
			return awarded, err
		}
		if !ok {
			continue
		}

		res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&db.UserBadge{
			UserID:    userID,
			BadgeID:   badge.ID,
			AwardedAt: s.now().UTC(),
		})
		if res.Error != nil {
			return awarded, fmt.Errorf("award badge: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// 并发请求已经授予
			continue
		}

		awarded = append(awarded, badge)
		s.reward(ctx, userID, badge)
	}
	return awarded, nil
}

func (s *BadgeService) reward(ctx context.Context, userID uint, badge db.Badge) {
	if badge.RewardPoints != 0 || badge.RewardExp != 0 {
		if _, err := s.points.Reward(ctx, userID, rules.LedgerBadgeReward, badge.RewardPoints, badge.RewardExp,
			fmt.Sprintf("获得徽章「%s」", badge.Name), &Related{ID: badge.ID, Type: "badge"}); err != nil {
			log.WithFields(log.Fields{"user_id": userID, "badge_id": badge.ID}).WithError(err).Error("badge reward failed")
		}
	}
	notifyQuietly(ctx, s.notifications, NotifyInput{
		UserID:  userID,
		Type:    NotifyBadge,
		Title:   "获得新徽章",
		Content: fmt.Sprintf("恭喜获得徽章「%s」", badge.Name),
		Payload: map[string]interface{}{"badgeId": badge.ID, "name": badge.Name, "icon": badge.Icon},
	})
}

// List 后台列出全部徽章（含停用）
func (s *BadgeService) List(ctx context.Context) ([]db.Badge, error) {
	var badges []db.Badge
	if err := s.db.WithContext(ctx).Order("sort_order ASC, id ASC").Find(&badges).Error; err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	return badges, nil
}

// Create 新建徽章，条件在写入前完成校验
func (s *BadgeService) Create(ctx context.Context, input BadgeInput) (*db.Badge, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if err := input.Condition.Validate(); err != nil {
		return nil, err
	}

	badge := db.Badge{
		Name:         name,
		Description:  strings.TrimSpace(input.Description),
		Icon:         strings.TrimSpace(input.Icon),
		Condition:    input.Condition,
		RewardPoints: input.RewardPoints,
		RewardExp:    input.RewardExp,
		Active:       true,
		SortOrder:    input.SortOrder,
	}
	if badge.Condition.Period == "" {
		badge.Condition.Period = rules.PeriodAllTime
	}
	if err := s.db.WithContext(ctx).Create(&badge).Error; err != nil {
		return nil, fmt.Errorf("create badge: %w", err)
	}
	return &badge, nil
}

// SetActive 启用或停用徽章
func (s *BadgeService) SetActive(ctx context.Context, id uint, active bool) (*db.Badge, error) {
	var badge db.Badge
	if err := s.db.WithContext(ctx).First(&badge, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBadgeNotFound
		}
		return nil, fmt.Errorf("get badge: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&badge).Update("active", active).Error; err != nil {
		return nil, fmt.Errorf("update badge: %w", err)
	}
	badge.Active = active
	return &badge, nil
}

func (s *BadgeService) activeBadges(ctx context.Context) ([]db.Badge, error) {
	var badges []db.Badge
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("sort_order ASC, id ASC").Find(&badges).Error; err != nil {
		return nil, fmt.Errorf("list active badges: %w", err)
	}
	return badges, nil
}

func (s *BadgeService) earnedMap(ctx context.Context, userID uint) (map[uint]db.UserBadge, error) {
	var owned []db.UserBadge
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&owned).Error; err != nil {
		return nil, fmt.Errorf("list user badges: %w", err)
	}
	m := make(map[uint]db.UserBadge, len(owned))
	for _, ub := range owned {
		m[ub.BadgeID] = ub
	}
	return m, nil
}
