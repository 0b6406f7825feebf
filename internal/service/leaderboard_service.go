package service

import (
	"context"
	"fmt"

	"github.com/agora/internal/cache"
	"github.com/agora/internal/db"
	"github.com/agora/internal/rules"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ExperienceBoard 是经验排行榜的外部存储，cache.Leaderboard 实现了它
type ExperienceBoard interface {
	Update(ctx context.Context, userID uint, experience int64) error
	Top(ctx context.Context, limit int) ([]cache.Entry, error)
	Reset(ctx context.Context, entries []cache.Entry) error
}

// LeaderboardService 提供经验排行榜；配置了 Redis 时读写有序集合，否则直接查询数据库
type LeaderboardService struct {
	db     *gorm.DB
	levels rules.LevelTable
	board  ExperienceBoard
}

// LeaderboardRow 排行榜展示行
type LeaderboardRow struct {
	Rank       int    `json:"rank"`
	UserID     uint   `json:"userId"`
	Username   string `json:"username"`
	Experience int64  `json:"experience"`
	Level      int    `json:"level"`
	Title      string `json:"title"`
}

// NewLeaderboardService 构造 LeaderboardService，board 可以为 nil
func NewLeaderboardService(gdb *gorm.DB, levels rules.LevelTable, board ExperienceBoard) *LeaderboardService {
	return &LeaderboardService{db: gdb, levels: levels, board: board}
}

// Record 同步单个用户的经验，失败只记录日志
func (s *LeaderboardService) Record(ctx context.Context, userID uint, experience int64) {
	if s.board == nil {
		return
	}
	if err := s.board.Update(ctx, userID, experience); err != nil {
		log.WithField("user_id", userID).WithError(err).Warn("update leaderboard failed")
	}
}

// Rebuild 以数据库为准重建外部榜单
func (s *LeaderboardService) Rebuild(ctx context.Context) error {
	if s.board == nil {
		return nil
	}
	var users []db.User
	if err := s.db.WithContext(ctx).Select("id", "experience").
		Where("status <> ?", db.UserStatusBanned).
		Find(&users).Error; err != nil {
		return fmt.Errorf("load users for leaderboard: %w", err)
	}
	entries := make([]cache.Entry, 0, len(users))
	for _, u := range users {
		entries = append(entries, cache.Entry{UserID: u.ID, Score: u.Experience})
	}
	return s.board.Reset(ctx, entries)
}

// Top 返回经验榜前 limit 名
func (s *LeaderboardService) Top(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	if s.board != nil {
		rows, err := s.topFromBoard(ctx, limit)
		if err == nil {
			return rows, nil
		}
		log.WithError(err).Warn("leaderboard cache unavailable, falling back to database")
	}
	return s.topFromDB(ctx, limit)
}

func (s *LeaderboardService) topFromBoard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	entries, err := s.board.Top(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []LeaderboardRow{}, nil
	}

	ids := make([]uint, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UserID)
	}
	var users []db.User
	if err := s.db.WithContext(ctx).Select("id", "username", "experience", "level").
		Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load leaderboard users: %w", err)
	}
	byID := make(map[uint]db.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	rows := make([]LeaderboardRow, 0, len(entries))
	for _, e := range entries {
		u, ok := byID[e.UserID]
		if !ok {
			continue
		}
		rows = append(rows, s.row(len(rows)+1, u))
	}
	return rows, nil
}

func (s *LeaderboardService) topFromDB(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	var users []db.User
	if err := s.db.WithContext(ctx).Select("id", "username", "experience", "level").
		Where("status <> ?", db.UserStatusBanned).
		Order("experience DESC, id ASC").
		Limit(limit).
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	rows := make([]LeaderboardRow, 0, len(users))
	for i, u := range users {
		rows = append(rows, s.row(i+1, u))
	}
	return rows, nil
}

func (s *LeaderboardService) row(rank int, u db.User) LeaderboardRow {
	level := s.levels.For(u.Experience)
	return LeaderboardRow{
		Rank:       rank,
		UserID:     u.ID,
		Username:   u.Username,
		Experience: u.Experience,
		Level:      level.Level,
		Title:      level.Title,
	}
}
