package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agora/internal/db"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 各处罚类型的默认严重度
var defaultSeverity = map[string]int{
	db.PunishWarning: 1,
	db.PunishMute:    2,
	db.PunishSuspend: 3,
	db.PunishBan:     5,
}

// 严重度相同时按限制强度取更严格的一项
var restrictiveness = map[string]int{
	db.PunishMute:    1,
	db.PunishSuspend: 2,
	db.PunishBan:     3,
}

var statusForType = map[string]string{
	db.PunishMute:    db.UserStatusMuted,
	db.PunishSuspend: db.UserStatusSuspended,
	db.PunishBan:     db.UserStatusBanned,
}

// PunishmentService 负责处罚的创建、撤销、到期与用户状态重算
// 用户的 status 字段始终等于剩余生效处罚中严重度最高的一项（警告不影响状态）
type PunishmentService struct {
	db            *gorm.DB
	notifications *NotificationService
	now           Clock
}

// PunishInput 处罚参数；Duration 为空表示永久，Severity 为 0 时取默认值
type PunishInput struct {
	UserID     uint
	OperatorID *uint
	Type       string
	Severity   int
	Reason     string
	Duration   *time.Duration
}

// PunishmentFilter 后台处罚列表条件
type PunishmentFilter struct {
	Page
	UserID uint
	Status string
	Type   string
}

// PunishmentPage 处罚分页结果
type PunishmentPage struct {
	Items []db.UserPunishment `json:"items"`
	Total int64               `json:"total"`
	Page  int                 `json:"page"`
	Limit int                 `json:"limit"`
}

// Restriction 描述用户当前受到的限制
type Restriction struct {
	Status     string             `json:"status"`
	Punishment *db.UserPunishment `json:"punishment,omitempty"`
}

// Blocks 表示该限制是否禁止访问会员功能
func (r Restriction) Blocks() bool {
	return r.Status == db.UserStatusBanned || r.Status == db.UserStatusSuspended
}

// Mutes 表示是否禁止发言类操作
func (r Restriction) Mutes() bool {
	return r.Status != db.UserStatusActive
}

// NewPunishmentService 构造 PunishmentService
func NewPunishmentService(gdb *gorm.DB, notifications *NotificationService) *PunishmentService {
	return &PunishmentService{db: gdb, notifications: notifications, now: systemClock}
}

// WithClock 替换时钟
func (s *PunishmentService) WithClock(now Clock) *PunishmentService {
	if now != nil {
		s.now = now
	}
	return s
}

// Punish 创建处罚并在同一事务内更新违规次数、信誉分与用户状态
func (s *PunishmentService) Punish(ctx context.Context, input PunishInput) (*db.UserPunishment, error) {
	kind := strings.TrimSpace(strings.ToLower(input.Type))
	severity, ok := defaultSeverity[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPunishment, input.Type)
	}
	if input.Severity != 0 {
		if input.Severity < 1 || input.Severity > 5 {
			return nil, ErrInvalidSeverity
		}
		severity = input.Severity
	}
	if !validDuration(input.Duration) {
		return nil, ErrInvalidDuration
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	now := s.now()
	punishment := db.UserPunishment{
		UserID:     input.UserID,
		OperatorID: input.OperatorID,
		Type:       kind,
		Severity:   severity,
		Reason:     reason,
		StartTime:  now.UTC(),
		Status:     db.PunishmentActive,
	}
	if input.Duration != nil {
		end := now.Add(*input.Duration).UTC()
		punishment.EndTime = &end
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user db.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, input.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("get user: %w", err)
		}

		if err := tx.Create(&punishment).Error; err != nil {
			return fmt.Errorf("create punishment: %w", err)
		}

		penalty := severity * 10
		if err := tx.Model(&db.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
			"violation_count": gorm.Expr("violation_count + 1"),
			"trust_score":     gorm.Expr("CASE WHEN trust_score > ? THEN trust_score - ? ELSE 0 END", penalty, penalty),
		}).Error; err != nil {
			return fmt.Errorf("update violation stats: %w", err)
		}

		_, err := recomputeUserStatus(tx, user.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	notifyQuietly(ctx, s.notifications, NotifyInput{
		UserID:  punishment.UserID,
		Type:    NotifyPunishment,
		Title:   "账号处罚通知",
		Content: describePunishment(punishment),
		Payload: map[string]interface{}{"punishmentId": punishment.ID, "type": punishment.Type, "endTime": punishment.EndTime},
	})
	return &punishment, nil
}

// Revoke 撤销一条生效中的处罚
func (s *PunishmentService) Revoke(ctx context.Context, punishmentID uint, operatorID *uint, reason string) (*db.UserPunishment, error) {
	var revoked *db.UserPunishment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.revokeTx(tx, punishmentID, operatorID, reason)
		if err != nil {
			return err
		}
		revoked = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyRevoked(ctx, revoked)
	return revoked, nil
}

// RevokeAllForUser 撤销用户全部生效中的处罚，返回撤销条数
func (s *PunishmentService) RevokeAllForUser(ctx context.Context, userID uint, operatorID *uint, reason string) (int, error) {
	var revoked []*db.UserPunishment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadUser(tx, userID); err != nil {
			return err
		}
		var ids []uint
		if err := tx.Model(&db.UserPunishment{}).
			Where("user_id = ? AND status = ?", userID, db.PunishmentActive).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("list active punishments: %w", err)
		}
		for _, id := range ids {
			p, err := s.revokeTx(tx, id, operatorID, reason)
			if err != nil {
				return err
			}
			revoked = append(revoked, p)
		}
		// 没有生效处罚时也校正一次状态
		_, err := recomputeUserStatus(tx, userID, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, p := range revoked {
		s.notifyRevoked(ctx, p)
	}
	return len(revoked), nil
}

func (s *PunishmentService) revokeTx(tx *gorm.DB, punishmentID uint, operatorID *uint, reason string) (*db.UserPunishment, error) {
	p, err := loadPunishment(tx, punishmentID)
	if err != nil {
		return nil, err
	}
	if p.Status != db.PunishmentActive {
		return nil, ErrPunishmentNotActive
	}

	now := s.now()
	revokedAt := now.UTC()
	res := tx.Model(&db.UserPunishment{}).
		Where("id = ? AND status = ?", p.ID, db.PunishmentActive).
		Updates(map[string]interface{}{
			"status":        db.PunishmentRevoked,
			"revoked_at":    revokedAt,
			"revoked_by":    operatorID,
			"revoke_reason": strings.TrimSpace(reason),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("revoke punishment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrPunishmentNotActive
	}
	p.Status = db.PunishmentRevoked
	p.RevokedAt = &revokedAt
	p.RevokedBy = operatorID
	p.RevokeReason = strings.TrimSpace(reason)

	if _, err := recomputeUserStatus(tx, p.UserID, now); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PunishmentService) notifyRevoked(ctx context.Context, p *db.UserPunishment) {
	if p == nil {
		return
	}
	notifyQuietly(ctx, s.notifications, NotifyInput{
		UserID:  p.UserID,
		Type:    NotifyPunishmentRevoked,
		Title:   "处罚已撤销",
		Content: fmt.Sprintf("你的%s处罚已被撤销", punishmentLabel(p.Type)),
		Payload: map[string]interface{}{"punishmentId": p.ID},
	})
}

// SweepExpired 将 end_time 已过的生效处罚置为 expired，每条处罚一个事务；单条失败只记录日志
func (s *PunishmentService) SweepExpired(ctx context.Context) (int, error) {
	return s.expire(ctx, 0)
}

// ExpireForUser 读取时惰性地处理单个用户的到期处罚
func (s *PunishmentService) ExpireForUser(ctx context.Context, userID uint) (int, error) {
	return s.expire(ctx, userID)
}

func (s *PunishmentService) expire(ctx context.Context, userID uint) (int, error) {
	now := s.now()
	query := s.db.WithContext(ctx).Model(&db.UserPunishment{}).
		Where("status = ? AND end_time IS NOT NULL AND end_time <= ?", db.PunishmentActive, now.UTC())
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}

	var due []db.UserPunishment
	if err := query.Order("end_time ASC").Find(&due).Error; err != nil {
		return 0, fmt.Errorf("find expired punishments: %w", err)
	}

	expired := 0
	for _, p := range due {
		changed := false
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&db.UserPunishment{}).
				Where("id = ? AND status = ?", p.ID, db.PunishmentActive).
				Update("status", db.PunishmentExpired)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			changed = true
			_, err := recomputeUserStatus(tx, p.UserID, now)
			return err
		})
		if err != nil {
			log.WithFields(log.Fields{"punishment_id": p.ID, "user_id": p.UserID}).WithError(err).Error("expire punishment failed")
			continue
		}
		// 只统计已提交的事务
		if changed {
			expired++
		}
	}
	if expired > 0 {
		log.WithField("count", expired).Info("expired punishments swept")
	}
	return expired, nil
}

// ActiveRestriction 重新查询生效且未到期的处罚，而不只依赖缓存的 status 字段
func (s *PunishmentService) ActiveRestriction(ctx context.Context, userID uint) (Restriction, error) {
	if _, err := s.ExpireForUser(ctx, userID); err != nil {
		return Restriction{}, err
	}
	top, err := strongestActive(s.db.WithContext(ctx), userID, s.now())
	if err != nil {
		return Restriction{}, err
	}
	if top == nil {
		return Restriction{Status: db.UserStatusActive}, nil
	}
	return Restriction{Status: statusForType[top.Type], Punishment: top}, nil
}

// ListForUser 返回用户全部处罚记录
func (s *PunishmentService) ListForUser(ctx context.Context, userID uint) ([]db.UserPunishment, error) {
	var items []db.UserPunishment
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list user punishments: %w", err)
	}
	return items, nil
}

// List 后台分页查询
func (s *PunishmentService) List(ctx context.Context, filter PunishmentFilter) (PunishmentPage, error) {
	page := filter.Page.Normalize()
	query := s.db.WithContext(ctx).Model(&db.UserPunishment{})
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return PunishmentPage{}, fmt.Errorf("count punishments: %w", err)
	}
	var items []db.UserPunishment
	if err := query.Order("created_at DESC, id DESC").Offset(page.Offset()).Limit(page.Limit).Find(&items).Error; err != nil {
		return PunishmentPage{}, fmt.Errorf("list punishments: %w", err)
	}
	return PunishmentPage{Items: items, Total: total, Page: page.Page, Limit: page.Limit}, nil
}

// Get 根据 ID 获取处罚
func (s *PunishmentService) Get(ctx context.Context, id uint) (*db.UserPunishment, error) {
	return loadPunishment(s.db.WithContext(ctx), id)
}

// recomputeUserStatus 按剩余生效处罚重算用户状态
func recomputeUserStatus(tx *gorm.DB, userID uint, now time.Time) (string, error) {
	top, err := strongestActive(tx, userID, now)
	if err != nil {
		return "", err
	}
	status := db.UserStatusActive
	if top != nil {
		status = statusForType[top.Type]
	}
	if err := tx.Model(&db.User{}).Where("id = ?", userID).Update("status", status).Error; err != nil {
		return "", fmt.Errorf("update user status: %w", err)
	}
	return status, nil
}

// strongestActive 返回严重度最高的生效处罚，相同严重度取限制更强的类型
func strongestActive(tx *gorm.DB, userID uint, now time.Time) (*db.UserPunishment, error) {
	var active []db.UserPunishment
	if err := tx.Where("user_id = ? AND status = ? AND type <> ?", userID, db.PunishmentActive, db.PunishWarning).
		Where("end_time IS NULL OR end_time > ?", now.UTC()).
		Find(&active).Error; err != nil {
		return nil, fmt.Errorf("list active punishments: %w", err)
	}

	var top *db.UserPunishment
	for i := range active {
		p := &active[i]
		if _, ok := statusForType[p.Type]; !ok {
			continue
		}
		if top == nil ||
			p.Severity > top.Severity ||
			(p.Severity == top.Severity && restrictiveness[p.Type] > restrictiveness[top.Type]) {
			top = p
		}
	}
	return top, nil
}

func loadPunishment(tx *gorm.DB, id uint) (*db.UserPunishment, error) {
	var p db.UserPunishment
	if err := tx.First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPunishmentNotFound
		}
		return nil, fmt.Errorf("get punishment: %w", err)
	}
	return &p, nil
}

func punishmentLabel(kind string) string {
	switch kind {
	case db.PunishWarning:
		return "警告"
	case db.PunishMute:
		return "禁言"
	case db.PunishSuspend:
		return "停权"
	case db.PunishBan:
		return "封禁"
	default:
		return kind
	}
}

func describePunishment(p db.UserPunishment) string {
	label := punishmentLabel(p.Type)
	if p.EndTime == nil {
		return fmt.Sprintf("你因「%s」受到%s处罚（永久）", p.Reason, label)
	}
	return fmt.Sprintf("你因「%s」受到%s处罚，截止 %s", p.Reason, label, p.EndTime.Format(time.RFC3339))
}
