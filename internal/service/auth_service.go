package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/agora/internal/db"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}_\-]{3,32}$`)

const minPasswordLength = 6

// AuthService 负责注册、登录与 bearer token 校验
type AuthService struct {
	db  *gorm.DB
	ttl time.Duration
	now Clock
}

// Session 登录成功后返回的令牌
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      db.User   `json:"user"`
}

// UserFilter 后台用户列表条件
type UserFilter struct {
	Page
	Status string
	Search string
}

// UserPage 用户分页结果
type UserPage struct {
	Items []db.User `json:"items"`
	Total int64     `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}

// NewAuthService 构造 AuthService
func NewAuthService(gdb *gorm.DB, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &AuthService{db: gdb, ttl: ttl, now: systemClock}
}

// WithClock 替换时钟
func (s *AuthService) WithClock(now Clock) *AuthService {
	if now != nil {
		s.now = now
	}
	return s
}

// Register 创建普通用户
func (s *AuthService) Register(ctx context.Context, username, password string) (*db.User, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := db.User{
		Username:   username,
		Password:   string(hashed),
		Role:       db.RoleUser,
		Level:      1,
		Status:     db.UserStatusActive,
		TrustScore: 100,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

// Login 校验用户名密码并签发新令牌
func (s *AuthService) Login(ctx context.Context, username, password string) (*Session, error) {
	var user db.User
	if err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token := newToken()
	expires := s.now().Add(s.ttl).UTC()
	row := db.AuthToken{UserID: user.ID, TokenHash: hashToken(token), ExpiresAt: expires, CreatedAt: s.now().UTC()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	log.WithField("user_id", user.ID).Info("user logged in")
	return &Session{Token: token, ExpiresAt: expires, User: user}, nil
}

// Authenticate 通过令牌找到用户；过期或不存在都返回 ErrInvalidToken
func (s *AuthService) Authenticate(ctx context.Context, token string) (*db.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	var row db.AuthToken
	if err := s.db.WithContext(ctx).
		Where("token_hash = ? AND expires_at > ?", hashToken(token), s.now().UTC()).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	user, err := loadUser(s.db.WithContext(ctx), row.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

// Logout 作废令牌
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if err := s.db.WithContext(ctx).Where("token_hash = ?", hashToken(strings.TrimSpace(token))).
		Delete(&db.AuthToken{}).Error; err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// PurgeExpired 删除已过期的令牌
func (s *AuthService) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now().UTC()).Delete(&db.AuthToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetUser 按 ID 查询用户
func (s *AuthService) GetUser(ctx context.Context, id uint) (*db.User, error) {
	return loadUser(s.db.WithContext(ctx), id)
}

// ListUsers 后台分页查询用户
func (s *AuthService) ListUsers(ctx context.Context, filter UserFilter) (UserPage, error) {
	page := filter.Page.Normalize()
	query := s.db.WithContext(ctx).Model(&db.User{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		query = query.Where("username LIKE ?", "%"+search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return UserPage{}, fmt.Errorf("count users: %w", err)
	}
	var items []db.User
	if err := query.Order("id ASC").Offset(page.Offset()).Limit(page.Limit).Find(&items).Error; err != nil {
		return UserPage{}, fmt.Errorf("list users: %w", err)
	}
	return UserPage{Items: items, Total: total, Page: page.Page, Limit: page.Limit}, nil
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
