package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agora/internal/db"
	"gorm.io/gorm"
)

// AppealService 处理用户对处罚的申诉
// 同一处罚只允许一条 pending 申诉：先查询校验，部分唯一索引兜底并发提交
type AppealService struct {
	db            *gorm.DB
	punishments   *PunishmentService
	notifications *NotificationService
	now           Clock
}

// AppealFilter 后台申诉列表条件
type AppealFilter struct {
	Page
	Status string
}

// AppealPage 申诉分页结果
type AppealPage struct {
	Items []db.UserAppeal `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

// NewAppealService 构造 AppealService
func NewAppealService(gdb *gorm.DB, punishments *PunishmentService, notifications *NotificationService) *AppealService {
	return &AppealService{db: gdb, punishments: punishments, notifications: notifications, now: systemClock}
}

// WithClock 替换时钟
func (s *AppealService) WithClock(now Clock) *AppealService {
	if now != nil {
		s.now = now
	}
	return s
}

// Submit 提交申诉；处罚必须属于本人且仍在生效
func (s *AppealService) Submit(ctx context.Context, userID, punishmentID uint, reason string) (*db.UserAppeal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	var appeal db.UserAppeal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadPunishment(tx, punishmentID)
		if err != nil {
			return err
		}
		if p.UserID != userID {
			return ErrPunishmentNotFound
		}
		if p.Status != db.PunishmentActive {
			return ErrPunishmentNotActive
		}

		var pending int64
		if err := tx.Model(&db.UserAppeal{}).
			Where("punishment_id = ? AND status = ?", punishmentID, db.AppealPending).
			Count(&pending).Error; err != nil {
			return fmt.Errorf("count pending appeals: %w", err)
		}
		if pending > 0 {
			return ErrDuplicateAppeal
		}

		appeal = db.UserAppeal{
			UserID:       userID,
			PunishmentID: punishmentID,
			Reason:       reason,
			Status:       db.AppealPending,
		}
		if err := tx.Omit("Punishment").Create(&appeal).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateAppeal
			}
			return fmt.Errorf("create appeal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &appeal, nil
}

// ListForUser 返回用户提交的申诉
func (s *AppealService) ListForUser(ctx context.Context, userID uint) ([]db.UserAppeal, error) {
	var items []db.UserAppeal
	if err := s.db.WithContext(ctx).Preload("Punishment").
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list user appeals: %w", err)
	}
	return items, nil
}

// List 后台分页查询申诉
func (s *AppealService) List(ctx context.Context, filter AppealFilter) (AppealPage, error) {
	page := filter.Page.Normalize()
	query := s.db.WithContext(ctx).Model(&db.UserAppeal{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return AppealPage{}, fmt.Errorf("count appeals: %w", err)
	}
	var items []db.UserAppeal
	if err := query.Preload("Punishment").
		Order("created_at ASC, id ASC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&items).Error; err != nil {
		return AppealPage{}, fmt.Errorf("list appeals: %w", err)
	}
	return AppealPage{Items: items, Total: total, Page: page.Page, Limit: page.Limit}, nil
}

// Review 审核申诉；通过时在同一事务内撤销对应处罚
func (s *AppealService) Review(ctx context.Context, appealID, reviewerID uint, approve bool, note string) (*db.UserAppeal, error) {
	var appeal db.UserAppeal
	var revoked *db.UserPunishment
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&appeal, appealID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAppealNotFound
			}
			return fmt.Errorf("get appeal: %w", err)
		}
		if appeal.Status != db.AppealPending {
			return ErrAppealNotPending
		}

		status := db.AppealRejected
		if approve {
			status = db.AppealApproved
		}
		reviewedAt := now.UTC()
		res := tx.Model(&db.UserAppeal{}).
			Where("id = ? AND status = ?", appeal.ID, db.AppealPending).
			Updates(map[string]interface{}{
				"status":      status,
				"reviewer_id": reviewerID,
				"review_note": strings.TrimSpace(note),
				"reviewed_at": reviewedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("review appeal: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAppealNotPending
		}
		appeal.Status = status
		appeal.ReviewerID = &reviewerID
		appeal.ReviewNote = strings.TrimSpace(note)
		appeal.ReviewedAt = &reviewedAt

		if approve {
			p, err := s.punishments.revokeTx(tx, appeal.PunishmentID, &reviewerID, "申诉通过")
			if err != nil && !errors.Is(err, ErrPunishmentNotActive) {
				return err
			}
			revoked = p
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := "未通过"
	if approve {
		result = "已通过"
	}
	notifyQuietly(ctx, s.notifications, NotifyInput{
		UserID:  appeal.UserID,
		Type:    NotifyAppealReviewed,
		Title:   "申诉处理结果",
		Content: fmt.Sprintf("你的申诉%s。%s", result, appeal.ReviewNote),
		Payload: map[string]interface{}{"appealId": appeal.ID, "status": appeal.Status},
	})
	s.punishments.notifyRevoked(ctx, revoked)
	return &appeal, nil
}
