package db

import (
	"time"

	"gorm.io/datatypes"
)

// 处罚类型
const (
	PunishWarning = "warning"
	PunishMute    = "mute"
	PunishSuspend = "suspend"
	PunishBan     = "ban"
)

// 处罚状态，只允许 active→expired 与 active→revoked 两种迁移
const (
	PunishmentActive  = "active"
	PunishmentExpired = "expired"
	PunishmentRevoked = "revoked"
)

// UserPunishment 管理员发出的处罚；EndTime 为空表示永久
type UserPunishment struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       uint       `gorm:"not null;index" json:"userId"`
	OperatorID   *uint      `json:"operatorId,omitempty"`
	Type         string     `gorm:"size:16;not null" json:"type"`
	Severity     int        `gorm:"not null;default:1" json:"severity"`
	Reason       string     `gorm:"size:500" json:"reason"`
	StartTime    time.Time  `gorm:"not null" json:"startTime"`
	EndTime      *time.Time `gorm:"index" json:"endTime,omitempty"`
	Status       string     `gorm:"size:16;not null;default:active;index" json:"status"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
	RevokedBy    *uint      `json:"revokedBy,omitempty"`
	RevokeReason string     `gorm:"size:255" json:"revokeReason,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// 申诉状态
const (
	AppealPending  = "pending"
	AppealApproved = "approved"
	AppealRejected = "rejected"
)

// UserAppeal 用户对处罚的申诉
// 同一处罚同时只允许一条 pending 申诉，部分唯一索引兜底并发重复提交
type UserAppeal struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	UserID       uint           `gorm:"not null;index" json:"userId"`
	PunishmentID uint           `gorm:"not null;index;uniqueIndex:idx_appeal_pending,where:status = 'pending'" json:"punishmentId"`
	Punishment   UserPunishment `gorm:"constraint:OnDelete:CASCADE" json:"punishment,omitempty"`
	Reason       string         `gorm:"size:1000;not null" json:"reason"`
	Status       string         `gorm:"size:16;not null;default:pending;index" json:"status"`
	ReviewerID   *uint          `json:"reviewerId,omitempty"`
	ReviewNote   string         `gorm:"size:500" json:"reviewNote,omitempty"`
	ReviewedAt   *time.Time     `json:"reviewedAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// 批量操作状态
const (
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchFailed     = "failed"
)

// BatchOperation 后台批量操作的追踪记录
// 进程重启时正在执行的记录会停留在 processing，不做续跑
type BatchOperation struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	Type        string         `gorm:"size:32;not null" json:"type"`
	OperatorID  uint           `gorm:"not null;index" json:"operatorId"`
	TargetIDs   datatypes.JSON `json:"targetIds"`
	Params      datatypes.JSON `json:"params"`
	Status      string         `gorm:"size:16;not null;index" json:"status"`
	Progress    int            `gorm:"not null;default:0" json:"progress"`
	Total       int            `gorm:"not null;default:0" json:"total"`
	Result      datatypes.JSON `json:"result"`
	Error       string         `gorm:"size:500" json:"error,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Notification 站内通知，Payload 存放与类型相关的结构化数据
type Notification struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"not null;index:idx_notification_user_read,priority:1" json:"userId"`
	Type      string         `gorm:"size:32;not null" json:"type"`
	Title     string         `gorm:"size:128;not null" json:"title"`
	Content   string         `gorm:"size:1000" json:"content"`
	Payload   datatypes.JSON `json:"payload,omitempty"`
	ReadAt    *time.Time     `gorm:"index:idx_notification_user_read,priority:2" json:"readAt,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
