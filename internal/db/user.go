package db

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// 用户角色
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// 用户状态，与最严重的生效处罚保持一致
const (
	UserStatusActive    = "active"
	UserStatusMuted     = "muted"
	UserStatusSuspended = "suspended"
	UserStatusBanned    = "banned"
)

// User 定义了用户模型
// Balance/Experience/Level 是积分流水的聚合缓存，每次积分事务提交后 Level 必然等于等级表查询结果
type User struct {
	gorm.Model
	Username       string `gorm:"unique;not null"`
	Password       string `gorm:"not null" json:"-"`
	Role           string `gorm:"size:16;not null;default:user"`
	Balance        int64  `gorm:"not null;default:0"`
	Experience     int64  `gorm:"not null;default:0"`
	Level          int    `gorm:"not null;default:1"`
	Status         string `gorm:"size:16;not null;default:active;index"`
	TrustScore     int    `gorm:"not null;default:100"`
	ViolationCount int    `gorm:"not null;default:0"`
}

// IsStaff 表示是否拥有后台权限。
func (u User) IsStaff() bool {
	return u.Role == RoleAdmin || u.Role == RoleModerator
}

// AuthToken 保存不透明 bearer token 的 sha256 摘要。
type AuthToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	TokenHash string    `gorm:"size:64;uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
}

// EnsureAdmin 存在性检查：若用户名与密码均非空且不存在对应账号，则创建一个 bcrypt 哈希的管理员。
// 已存在的同名账号会被提升为管理员。
func EnsureAdmin(gdb *gorm.DB, username, password string) error {
	trimmedUser := strings.TrimSpace(username)
	trimmedPassword := strings.TrimSpace(password)
	if trimmedUser == "" || trimmedPassword == "" {
		return nil
	}

	if gdb == nil {
		return errors.New("database not initialized")
	}

	var existing User
	if err := gdb.Where("username = ?", trimmedUser).First(&existing).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(trimmedPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		return gdb.Create(&User{
			Username:   trimmedUser,
			Password:   string(hashed),
			Role:       RoleAdmin,
			Level:      1,
			Status:     UserStatusActive,
			TrustScore: 100,
		}).Error
	}

	if existing.Role != RoleAdmin {
		return gdb.Model(&existing).Update("role", RoleAdmin).Error
	}
	return nil
}
