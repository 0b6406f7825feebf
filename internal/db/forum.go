package db

import (
	"time"

	"gorm.io/gorm"
)

// Topic 主题帖，ContentHTML 为渲染并清洗后的 Markdown
type Topic struct {
	gorm.Model
	UserID      uint   `gorm:"not null;index"`
	Title       string `gorm:"size:200;not null"`
	Slug        string `gorm:"size:220;index"`
	Content     string `gorm:"type:text;not null"`
	ContentHTML string `gorm:"type:text"`
	ReplyCount  int    `gorm:"not null;default:0"`
	LikeCount   int    `gorm:"not null;default:0"`
	Featured    bool   `gorm:"not null;default:false"`
	Replies     []Reply
}

// Reply 主题下的回复
type Reply struct {
	gorm.Model
	TopicID     uint   `gorm:"not null;index"`
	UserID      uint   `gorm:"not null;index"`
	Content     string `gorm:"type:text;not null"`
	ContentHTML string `gorm:"type:text"`
	LikeCount   int    `gorm:"not null;default:0"`
}

// 点赞对象
const (
	LikeTargetTopic = "topic"
	LikeTargetReply = "reply"
)

// Like 点赞记录，同一用户对同一对象只能点赞一次；OwnerID 冗余内容作者便于统计获赞数
type Like struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_like_unique,priority:1"`
	TargetType string    `gorm:"size:16;not null;uniqueIndex:idx_like_unique,priority:2"`
	TargetID   uint      `gorm:"not null;uniqueIndex:idx_like_unique,priority:3"`
	OwnerID    uint      `gorm:"not null;index"`
	CreatedAt  time.Time `gorm:"index"`
}
