package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agora/internal/db"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 通知类型
const (
	NotifyLevelUp           = "level_up"
	NotifyBadge             = "badge"
	NotifySpecialTag        = "special_tag"
	NotifyDailyTask         = "daily_task"
	NotifyPunishment        = "punishment"
	NotifyPunishmentRevoked = "punishment_revoked"
	NotifyAppealReviewed    = "appeal_reviewed"
	NotifyReply             = "reply"
	NotifyPointsAdjusted    = "points_adjusted"
)

// Publisher 将新通知实时推送给在线用户，realtime.Hub 实现了它
type Publisher interface {
	Publish(userID uint, eventType string, data interface{})
}

// NotificationService 负责站内通知的持久化与推送
type NotificationService struct {
	db        *gorm.DB
	publisher Publisher
	now       Clock
}

// NotifyInput 描述一条待发送的通知
type NotifyInput struct {
	UserID  uint
	Type    string
	Title   string
	Content string
	Payload interface{}
}

// NotificationFilter 通知列表条件
type NotificationFilter struct {
	Page
	UnreadOnly bool
}

// NotificationPage 通知分页结果
type NotificationPage struct {
	Items  []db.Notification `json:"items"`
	Total  int64             `json:"total"`
	Unread int64             `json:"unread"`
	Page   int               `json:"page"`
	Limit  int               `json:"limit"`
}

// NewNotificationService 构造 NotificationService，publisher 可以为 nil
func NewNotificationService(gdb *gorm.DB, publisher Publisher) *NotificationService {
	return &NotificationService{db: gdb, publisher: publisher, now: systemClock}
}

// WithClock 替换时钟
func (s *NotificationService) WithClock(now Clock) *NotificationService {
	if now != nil {
		s.now = now
	}
	return s
}

// Notify 写入通知并推送给在线连接
func (s *NotificationService) Notify(ctx context.Context, input NotifyInput) (*db.Notification, error) {
	n := db.Notification{
		UserID:  input.UserID,
		Type:    input.Type,
		Title:   input.Title,
		Content: input.Content,
	}
	if input.Payload != nil {
		raw, err := json.Marshal(input.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode notification payload: %w", err)
		}
		n.Payload = datatypes.JSON(raw)
	}

	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	if s.publisher != nil {
		s.publisher.Publish(n.UserID, "notification", n)
	}
	return &n, nil
}

// List 分页返回通知，最新的在前
func (s *NotificationService) List(ctx context.Context, userID uint, filter NotificationFilter) (NotificationPage, error) {
	page := filter.Page.Normalize()

	query := s.db.WithContext(ctx).Model(&db.Notification{}).Where("user_id = ?", userID)
	if filter.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return NotificationPage{}, fmt.Errorf("count notifications: %w", err)
	}

	var items []db.Notification
	if err := query.Order("created_at DESC, id DESC").Offset(page.Offset()).Limit(page.Limit).Find(&items).Error; err != nil {
		return NotificationPage{}, fmt.Errorf("list notifications: %w", err)
	}

	unread, err := s.UnreadCount(ctx, userID)
	if err != nil {
		return NotificationPage{}, err
	}

	return NotificationPage{Items: items, Total: total, Unread: unread, Page: page.Page, Limit: page.Limit}, nil
}

// UnreadCount 返回未读数量
func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&db.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead 将一条通知标记为已读，重复调用保持幂等
func (s *NotificationService) MarkRead(ctx context.Context, userID, id uint) error {
	var n db.Notification
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotificationNotFound
		}
		return fmt.Errorf("get notification: %w", err)
	}
	if n.ReadAt != nil {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&n).Update("read_at", s.now().UTC()).Error; err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

// MarkAllRead 将全部未读通知标记为已读，返回影响的条数
func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	res := s.db.WithContext(ctx).Model(&db.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Update("read_at", s.now().UTC())
	if res.Error != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func notifyQuietly(ctx context.Context, n *NotificationService, input NotifyInput) {
	if n == nil {
		return
	}
	if _, err := n.Notify(ctx, input); err != nil {
		log.WithFields(log.Fields{"user_id": input.UserID, "type": input.Type}).WithError(err).Warn("send notification failed")
	}
}
