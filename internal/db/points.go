package db

import (
	"time"

	"github.com/agora/internal/rules"
	"gorm.io/gorm"
)

// PointHistory 是不可变的积分流水，同时用于每日次数限制的计数
// Amount 为带符号的积分变化，Experience 为同一笔获得的经验
type PointHistory struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index:idx_point_history_user_type_time,priority:1" json:"userId"`
	Amount      int64     `gorm:"not null" json:"amount"`
	Experience  int64     `gorm:"not null;default:0" json:"experience"`
	Type        string    `gorm:"size:32;not null;index:idx_point_history_user_type_time,priority:2" json:"type"`
	Reason      string    `gorm:"size:255" json:"reason"`
	RelatedID   *uint     `json:"relatedId,omitempty"`
	RelatedType string    `gorm:"size:32" json:"relatedType,omitempty"`
	CreatedAt   time.Time `gorm:"not null;index;index:idx_point_history_user_type_time,priority:3" json:"createdAt"`
}

// Badge 徽章定义，Condition 在读取时即完成校验
type Badge struct {
	gorm.Model
	Name         string          `gorm:"size:64;uniqueIndex;not null"`
	Description  string          `gorm:"size:255"`
	Icon         string          `gorm:"size:64"`
	Condition    rules.Condition `gorm:"type:text"`
	RewardPoints int64           `gorm:"not null;default:0"`
	RewardExp    int64           `gorm:"not null;default:0"`
	Active       bool            `gorm:"not null"`
	SortOrder    int             `gorm:"not null;default:0"`
}

// UserBadge 徽章授予记录，(user_id, badge_id) 唯一保证重复授予为空操作
type UserBadge struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_user_badge,priority:1"`
	BadgeID   uint      `gorm:"not null;uniqueIndex:idx_user_badge,priority:2"`
	Badge     Badge     `gorm:"constraint:OnDelete:CASCADE"`
	AwardedAt time.Time `gorm:"not null"`
}

// SpecialTag 特殊标签，可以永久、限时或按条件授予
// 未配置 Condition 的标签只能由管理员手动授予；DurationDays 为 0 表示永久
type SpecialTag struct {
	gorm.Model
	Name         string          `gorm:"size:64;uniqueIndex;not null"`
	Description  string          `gorm:"size:255"`
	Color        string          `gorm:"size:16"`
	Icon         string          `gorm:"size:64"`
	Condition    rules.Condition `gorm:"type:text"`
	DurationDays int             `gorm:"not null;default:0"`
	RewardPoints int64           `gorm:"not null;default:0"`
	Active       bool            `gorm:"not null"`
}

// UserSpecialTag 标签授予记录，过期后在读取时惰性置为失效
type UserSpecialTag struct {
	ID           uint       `gorm:"primaryKey"`
	UserID       uint       `gorm:"not null;index:idx_user_special_tag,priority:1"`
	SpecialTagID uint       `gorm:"not null;index:idx_user_special_tag,priority:2"`
	SpecialTag   SpecialTag `gorm:"constraint:OnDelete:CASCADE"`
	GrantedBy    *uint
	Reason       string `gorm:"size:255"`
	ExpiresAt    *time.Time
	Active       bool `gorm:"not null;index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// 每日任务类型，与动作钩子对应
const (
	TaskTypeCheckin     = "checkin"
	TaskTypeCreateTopic = "create_topic"
	TaskTypeCreateReply = "create_reply"
	TaskTypeGiveLike    = "give_like"
)

// DailyTask 每日任务模板
type DailyTask struct {
	gorm.Model
	Name        string `gorm:"size:64;not null"`
	Description string `gorm:"size:255"`
	Type        string `gorm:"size:32;not null;index"`
	Target      int    `gorm:"not null;default:1"`
	Points      int64  `gorm:"not null;default:0"`
	Experience  int64  `gorm:"not null;default:0"`
	Active      bool   `gorm:"not null"`
	SortOrder   int    `gorm:"not null;default:0"`
}

// DailyTaskProgress 用户当日任务进度
// TaskDate 采用本地日期字符串 YYYY-MM-DD，与 user/task 组成唯一索引，保证按天幂等
type DailyTaskProgress struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      uint   `gorm:"not null;uniqueIndex:idx_task_progress_day,priority:1"`
	DailyTaskID uint   `gorm:"not null;uniqueIndex:idx_task_progress_day,priority:2"`
	TaskDate    string `gorm:"size:10;not null;uniqueIndex:idx_task_progress_day,priority:3"`
	Progress    int    `gorm:"not null;default:0"`
	Completed   bool   `gorm:"not null;default:false"`
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName 固定表名，便于 sqlx 聚合查询引用
func (DailyTaskProgress) TableName() string {
	return "daily_task_progresses"
}
