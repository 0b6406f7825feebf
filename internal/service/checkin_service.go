package service

import (
	"context"
	"fmt"

	"github.com/agora/internal/rules"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// streakBonusEvery 连续签到每满 7 天额外奖励一次
const streakBonusEvery = 7

// CheckinService 处理每日签到与连续签到奖励
type CheckinService struct {
	db       *gorm.DB
	points   *PointService
	now      Clock
	activity ActivityHook
}

// CheckinResult 签到结果
type CheckinResult struct {
	Success         bool   `json:"success"`
	ConsecutiveDays int    `json:"consecutiveDays"`
	Points          int64  `json:"points"`
	Experience      int64  `json:"experience"`
	BonusPoints     int64  `json:"bonusPoints"`
	BonusExperience int64  `json:"bonusExperience"`
	NewBalance      int64  `json:"newBalance"`
	NewExperience   int64  `json:"newExperience"`
	NewLevel        int    `json:"newLevel"`
	LeveledUp       bool   `json:"leveledUp"`
	Message         string `json:"message"`
}

// NewCheckinService 构造 CheckinService
func NewCheckinService(gdb *gorm.DB, points *PointService) *CheckinService {
	return &CheckinService{db: gdb, points: points, now: systemClock}
}

// WithClock 替换时钟
func (s *CheckinService) WithClock(now Clock) *CheckinService {
	if now != nil {
		s.now = now
	}
	return s
}

// WithActivity 签到成功后触发每日任务与徽章评估
func (s *CheckinService) WithActivity(a ActivityHook) *CheckinService {
	s.activity = a
	return s
}

// Checkin 发放当日签到奖励；当天已签到时 Success=false。
// 连续天数为 7 的倍数时追加 checkin_streak 奖励。
func (s *CheckinService) Checkin(ctx context.Context, userID uint) (CheckinResult, error) {
	grant, err := s.points.Grant(ctx, userID, rules.ActionLogin, "每日签到", nil)
	if err != nil {
		return CheckinResult{}, err
	}

	// 签到奖励已提交，连续天数查询失败只记录日志，按 0 天返回
	days, err := s.ConsecutiveDays(ctx, userID)
	if err != nil {
		log.WithField("user_id", userID).WithError(err).Error("load checkin streak failed")
		days = 0
	}

	if !grant.Success {
		return CheckinResult{
			Success:         false,
			ConsecutiveDays: days,
			NewBalance:      grant.NewBalance,
			NewExperience:   grant.NewExperience,
			NewLevel:        grant.NewLevel,
			Message:         "今日已签到",
		}, nil
	}

	result := CheckinResult{
		Success:         true,
		ConsecutiveDays: days,
		Points:          grant.Points,
		Experience:      grant.Experience,
		NewBalance:      grant.NewBalance,
		NewExperience:   grant.NewExperience,
		NewLevel:        grant.NewLevel,
		LeveledUp:       grant.LeveledUp,
		Message:         fmt.Sprintf("签到成功，已连续签到 %d 天", days),
	}
	if days == 0 {
		result.Message = "签到成功"
	}

	if days > 0 && days%streakBonusEvery == 0 {
		bonus := s.points.GrantQuietly(ctx, userID, rules.ActionCheckinStreak, fmt.Sprintf("连续签到 %d 天奖励", days), nil)
		if bonus.Success {
			result.BonusPoints = bonus.Points
			result.BonusExperience = bonus.Experience
			result.NewBalance = bonus.NewBalance
			result.NewExperience = bonus.NewExperience
			result.NewLevel = bonus.NewLevel
			result.LeveledUp = result.LeveledUp || bonus.LeveledUp
		}
	}

	if s.activity != nil {
		s.activity.CheckedIn(ctx, userID)
	}
	return result, nil
}

// ConsecutiveDays 返回当前连续签到天数
func (s *CheckinService) ConsecutiveDays(ctx context.Context, userID uint) (int, error) {
	return consecutiveCheckinDays(s.db.WithContext(ctx), userID, s.now().Location())
}
