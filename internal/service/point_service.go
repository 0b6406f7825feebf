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

// PointService 负责积分流水写入、等级换算与余额扣减
// 余额与经验通过 balance = balance + ? 原子更新，等级在同一事务内按最新经验重算
type PointService struct {
	db            *gorm.DB
	book          rules.Book
	now           Clock
	locks         *userLocks
	leaderboard   *LeaderboardService
	notifications *NotificationService
}

// GrantResult 描述一次积分发放的结果；Success=false 表示业务上被拒绝（例如达到每日上限）
type GrantResult struct {
	Success       bool   `json:"success"`
	Points        int64  `json:"points"`
	Experience    int64  `json:"experience"`
	NewBalance    int64  `json:"newBalance"`
	NewExperience int64  `json:"newExperience"`
	NewLevel      int    `json:"newLevel"`
	LeveledUp     bool   `json:"leveledUp"`
	LevelUpBonus  int64  `json:"levelUpBonus,omitempty"`
	Message       string `json:"message"`
}

// ConsumeResult 描述一次扣减的结果
type ConsumeResult struct {
	Success    bool   `json:"success"`
	NewBalance int64  `json:"newBalance"`
	Message    string `json:"message"`
}

// PointInfo 聚合用户积分、等级与升级进度
type PointInfo struct {
	UserID       uint         `json:"userId"`
	Balance      int64        `json:"balance"`
	Experience   int64        `json:"experience"`
	Level        rules.Level  `json:"level"`
	NextLevel    *rules.Level `json:"nextLevel,omitempty"`
	Progress     float64      `json:"progress"`
	TodayPoints  int64        `json:"todayPoints"`
	TodayExpGain int64        `json:"todayExperience"`
}

// HistoryFilter 积分流水分页条件
type HistoryFilter struct {
	Page
	Type string
}

// HistoryPage 积分流水分页结果
type HistoryPage struct {
	Items []db.PointHistory `json:"items"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

type ledgerEntry struct {
	kind       string
	points     int64
	experience int64
	reason     string
	related    *Related
}

// NewPointService 构造 PointService
func NewPointService(gdb *gorm.DB, book rules.Book) *PointService {
	return &PointService{db: gdb, book: book, now: systemClock, locks: &userLocks{}}
}

// WithClock 替换时钟，测试中用于模拟跨天
func (s *PointService) WithClock(now Clock) *PointService {
	if now != nil {
		s.now = now
	}
	return s
}

// WithLeaderboard 在积分事务提交后同步经验排行榜
func (s *PointService) WithLeaderboard(l *LeaderboardService) *PointService {
	s.leaderboard = l
	return s
}

// WithNotifications 用于升级提醒
func (s *PointService) WithNotifications(n *NotificationService) *PointService {
	s.notifications = n
	return s
}

// Book 返回注入的规则表
func (s *PointService) Book() rules.Book {
	return s.book
}

// Grant 按规则表为用户发放一次动作奖励。
// 达到每日上限时返回 Success=false 且不修改任何状态。
func (s *PointService) Grant(ctx context.Context, userID uint, action, reason string, related *Related) (GrantResult, error) {
	rule, ok := s.book.Points.Lookup(action)
	if !ok {
		return GrantResult{}, fmt.Errorf("%w: %s", ErrUnknownPointRule, action)
	}
	if strings.TrimSpace(reason) == "" {
		reason = rule.Description
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	now := s.now()
	var result GrantResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}

		if rule.DailyLimit > 0 {
			var count int64
			if err := tx.Model(&db.PointHistory{}).
				Where("user_id = ? AND type = ? AND created_at >= ?", userID, rule.Type, rules.StartOfDay(now).UTC()).
				Count(&count).Error; err != nil {
				return fmt.Errorf("count daily grants: %w", err)
			}
			if count >= int64(rule.DailyLimit) {
				result = GrantResult{
					Success:       false,
					NewBalance:    user.Balance,
					NewExperience: user.Experience,
					NewLevel:      user.Level,
					Message:       "今日该操作的积分奖励已达上限",
				}
				return nil
			}
		}

		applied, err := s.apply(tx, user, ledgerEntry{
			kind:       rule.Type,
			points:     rule.Points,
			experience: rule.Experience,
			reason:     reason,
			related:    related,
		}, now)
		if err != nil {
			return err
		}
		result = applied
		return nil
	})
	if err != nil {
		return GrantResult{}, err
	}

	s.afterCommit(ctx, userID, result)
	return result, nil
}

// GrantQuietly 供业务钩子使用：任何错误只记录日志，不影响触发它的主流程
func (s *PointService) GrantQuietly(ctx context.Context, userID uint, action, reason string, related *Related) GrantResult {
	result, err := s.Grant(ctx, userID, action, reason, related)
	if err != nil {
		log.WithFields(log.Fields{"user_id": userID, "action": action}).WithError(err).Error("grant points failed")
		return GrantResult{Success: false, Message: "积分发放失败"}
	}
	return result
}

// Reward 以系统流水类型直接发放（或扣回）积分与经验，不受每日上限约束。
// 用于徽章、标签、每日任务与管理员调整；余额或经验不会因此变为负数。
func (s *PointService) Reward(ctx context.Context, userID uint, kind string, points, experience int64, reason string, related *Related) (GrantResult, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return GrantResult{}, fmt.Errorf("%w: empty ledger type", ErrUnknownPointRule)
	}
	if points == 0 && experience == 0 {
		return GrantResult{}, ErrInvalidAmount
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	now := s.now()
	var result GrantResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		applied, err := s.apply(tx, user, ledgerEntry{
			kind:       kind,
			points:     points,
			experience: experience,
			reason:     reason,
			related:    related,
		}, now)
		if err != nil {
			return err
		}
		result = applied
		return nil
	})
	if err != nil {
		return GrantResult{}, err
	}

	s.afterCommit(ctx, userID, result)
	return result, nil
}

// Adjust 管理员手动调整积分与经验，并通知用户
func (s *PointService) Adjust(ctx context.Context, userID, operatorID uint, points, experience int64, reason string) (GrantResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return GrantResult{}, ErrReasonRequired
	}
	result, err := s.Reward(ctx, userID, rules.LedgerAdminAdjust, points, experience, reason,
		&Related{ID: operatorID, Type: "operator"})
	if err != nil {
		return result, err
	}
	notifyQuietly(ctx, s.notifications, NotifyInput{
		UserID:  userID,
		Type:    NotifyPointsAdjusted,
		Title:   "积分调整",
		Content: fmt.Sprintf("管理员调整了你的积分 %+d、经验 %+d：%s", points, experience, reason),
		Payload: map[string]interface{}{"points": points, "experience": experience},
	})
	return result, nil
}

// Consume 扣减余额；余额不足时返回 ErrInsufficientBalance 且不修改状态
func (s *PointService) Consume(ctx context.Context, userID uint, amount int64, reason string) (ConsumeResult, error) {
	if amount <= 0 {
		return ConsumeResult{}, ErrInvalidAmount
	}
	if strings.TrimSpace(reason) == "" {
		reason = "积分消费"
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	now := s.now()
	var result ConsumeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}

		res := tx.Model(&db.User{}).
			Where("id = ? AND balance >= ?", userID, amount).
			Update("balance", gorm.Expr("balance - ?", amount))
		if res.Error != nil {
			return fmt.Errorf("debit balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			result = ConsumeResult{Success: false, NewBalance: user.Balance, Message: "积分余额不足"}
			return ErrInsufficientBalance
		}

		if err := tx.Create(&db.PointHistory{
			UserID:    userID,
			Amount:    -amount,
			Type:      rules.LedgerConsume,
			Reason:    reason,
			CreatedAt: now.UTC(),
		}).Error; err != nil {
			return fmt.Errorf("create consume history: %w", err)
		}

		var balance int64
		if err := tx.Model(&db.User{}).Where("id = ?", userID).Pluck("balance", &balance).Error; err != nil {
			return fmt.Errorf("reload balance: %w", err)
		}
		result = ConsumeResult{Success: true, NewBalance: balance, Message: "扣减成功"}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return result, ErrInsufficientBalance
		}
		return ConsumeResult{}, err
	}
	return result, nil
}

// apply 在事务内写入流水并更新聚合字段，升级时追加 level_up 奖励
func (s *PointService) apply(tx *gorm.DB, user *db.User, entry ledgerEntry, now time.Time) (GrantResult, error) {
	res := tx.Model(&db.User{}).
		Where("id = ? AND balance + ? >= 0 AND experience + ? >= 0", user.ID, entry.points, entry.experience).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", entry.points),
			"experience": gorm.Expr("experience + ?", entry.experience),
		})
	if res.Error != nil {
		return GrantResult{}, fmt.Errorf("update user points: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return GrantResult{}, ErrInsufficientBalance
	}

	history := db.PointHistory{
		UserID:     user.ID,
		Amount:     entry.points,
		Experience: entry.experience,
		Type:       entry.kind,
		Reason:     entry.reason,
		CreatedAt:  now.UTC(),
	}
	if entry.related != nil {
		id := entry.related.ID
		history.RelatedID = &id
		history.RelatedType = entry.related.Type
	}
	if err := tx.Create(&history).Error; err != nil {
		return GrantResult{}, fmt.Errorf("create point history: %w", err)
	}

	var updated db.User
	if err := tx.Select("id", "balance", "experience", "level").First(&updated, user.ID).Error; err != nil {
		return GrantResult{}, fmt.Errorf("reload user: %w", err)
	}

	result := GrantResult{
		Success:    true,
		Points:     entry.points,
		Experience: entry.experience,
		Message:    "积分发放成功",
	}

	oldLevel := user.Level
	newLevel := s.book.Levels.For(updated.Experience).Level
	if newLevel != updated.Level {
		if err := tx.Model(&db.User{}).Where("id = ?", user.ID).Update("level", newLevel).Error; err != nil {
			return GrantResult{}, fmt.Errorf("update level: %w", err)
		}
	}

	if newLevel > oldLevel {
		bonus := rules.LevelUpBonus(newLevel)
		if err := tx.Model(&db.User{}).Where("id = ?", user.ID).
			Update("balance", gorm.Expr("balance + ?", bonus)).Error; err != nil {
			return GrantResult{}, fmt.Errorf("credit level up bonus: %w", err)
		}
		if err := tx.Create(&db.PointHistory{
			UserID:    user.ID,
			Amount:    bonus,
			Type:      rules.LedgerLevelUp,
			Reason:    fmt.Sprintf("升级到 Lv.%d 奖励", newLevel),
			CreatedAt: now.UTC(),
		}).Error; err != nil {
			return GrantResult{}, fmt.Errorf("create level up history: %w", err)
		}
		updated.Balance += bonus
		result.LeveledUp = true
		result.LevelUpBonus = bonus
		result.Message = fmt.Sprintf("积分发放成功，升级到 Lv.%d", newLevel)
	}

	result.NewBalance = updated.Balance
	result.NewExperience = updated.Experience
	result.NewLevel = newLevel
	return result, nil
}

func (s *PointService) afterCommit(ctx context.Context, userID uint, result GrantResult) {
	if !result.Success {
		return
	}
	if s.leaderboard != nil {
		s.leaderboard.Record(ctx, userID, result.NewExperience)
	}
	if result.LeveledUp {
		level := s.book.Levels.For(result.NewExperience)
		notifyQuietly(ctx, s.notifications, NotifyInput{
			UserID:  userID,
			Type:    NotifyLevelUp,
			Title:   "等级提升",
			Content: fmt.Sprintf("恭喜升级到 Lv.%d「%s」，获得 %d 积分奖励", level.Level, level.Title, result.LevelUpBonus),
			Payload: map[string]interface{}{"level": level.Level, "bonus": result.LevelUpBonus},
		})
	}
}

// Info 返回积分、等级与进度
func (s *PointService) Info(ctx context.Context, userID uint) (PointInfo, error) {
	user, err := loadUser(s.db.WithContext(ctx), userID)
	if err != nil {
		return PointInfo{}, err
	}

	level := s.book.Levels.For(user.Experience)
	info := PointInfo{
		UserID:     user.ID,
		Balance:    user.Balance,
		Experience: user.Experience,
		Level:      level,
		Progress:   s.book.Levels.Progress(user.Experience),
	}
	if next, ok := s.book.Levels.Next(level.Level); ok {
		info.NextLevel = &next
	}

	var today struct {
		Points     int64
		Experience int64
	}
	since := rules.StartOfDay(s.now()).UTC()
	if err := s.db.WithContext(ctx).Model(&db.PointHistory{}).
		Select("COALESCE(SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END), 0) AS points, COALESCE(SUM(experience), 0) AS experience").
		Where("user_id = ? AND created_at >= ?", userID, since).
		Scan(&today).Error; err != nil {
		return PointInfo{}, fmt.Errorf("sum today points: %w", err)
	}
	info.TodayPoints = today.Points
	info.TodayExpGain = today.Experience
	return info, nil
}

// History 分页返回用户积分流水，按时间倒序
func (s *PointService) History(ctx context.Context, userID uint, filter HistoryFilter) (HistoryPage, error) {
	page := filter.Page.Normalize()

	query := s.db.WithContext(ctx).Model(&db.PointHistory{}).Where("user_id = ?", userID)
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("type = ?", t)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return HistoryPage{}, fmt.Errorf("count point history: %w", err)
	}

	var items []db.PointHistory
	if err := query.Order("created_at DESC, id DESC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&items).Error; err != nil {
		return HistoryPage{}, fmt.Errorf("list point history: %w", err)
	}

	return HistoryPage{Items: items, Total: total, Page: page.Page, Limit: page.Limit}, nil
}

func loadUser(tx *gorm.DB, userID uint) (*db.User, error) {
	var user db.User
	if err := tx.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}
