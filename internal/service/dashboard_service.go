package service

import (
	"context"
	"fmt"

	"github.com/agora/internal/db"
	"github.com/agora/internal/rules"
	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"
)

// DashboardService 用 sqlx 直接跑后台统计的聚合 SQL
type DashboardService struct {
	db  *sqlx.DB
	now Clock
}

// StatusCount 按状态分组的人数
type StatusCount struct {
	Status string `db:"status" json:"status"`
	Count  int64  `db:"count" json:"count"`
}

// Overview 后台首页统计
type Overview struct {
	Users              int64         `json:"users"`
	UsersByStatus      []StatusCount `json:"usersByStatus"`
	ActivePunishments  int64         `json:"activePunishments"`
	PendingAppeals     int64         `json:"pendingAppeals"`
	PointsGrantedToday int64         `json:"pointsGrantedToday"`
	Topics             int64         `json:"topics"`
	Replies            int64         `json:"replies"`
	BadgesAwarded      int64         `json:"badgesAwarded"`
	RunningBatches     int64         `json:"runningBatches"`
}

// NewDashboardService 复用 gorm 的连接池
func NewDashboardService(gdb *gorm.DB) (*DashboardService, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("dashboard sql handle: %w", err)
	}
	driver := "sqlite3"
	if gdb.Dialector.Name() == "postgres" {
		driver = "postgres"
	}
	return NewDashboardServiceWithDB(sqlx.NewDb(sqlDB, driver)), nil
}

// NewDashboardServiceWithDB 直接使用给定的 sqlx 连接
func NewDashboardServiceWithDB(x *sqlx.DB) *DashboardService {
	return &DashboardService{db: x, now: systemClock}
}

// WithClock 替换时钟
func (s *DashboardService) WithClock(now Clock) *DashboardService {
	if now != nil {
		s.now = now
	}
	return s
}

// Overview 汇总后台首页数据
func (s *DashboardService) Overview(ctx context.Context) (Overview, error) {
	var out Overview

	if err := s.db.SelectContext(ctx, &out.UsersByStatus,
		`SELECT status, COUNT(*) AS count FROM users WHERE deleted_at IS NULL GROUP BY status ORDER BY status`); err != nil {
		return Overview{}, fmt.Errorf("count users by status: %w", err)
	}
	for _, row := range out.UsersByStatus {
		out.Users += row.Count
	}

	since := rules.StartOfDay(s.now()).UTC()
	counts := []struct {
		dest  *int64
		query string
		args  []interface{}
	}{
		{&out.ActivePunishments, `SELECT COUNT(*) FROM user_punishments WHERE status = ?`, []interface{}{db.PunishmentActive}},
		{&out.PendingAppeals, `SELECT COUNT(*) FROM user_appeals WHERE status = ?`, []interface{}{db.AppealPending}},
		{&out.PointsGrantedToday, `SELECT COALESCE(SUM(amount), 0) FROM point_histories WHERE amount > 0 AND created_at >= ?`, []interface{}{since}},
		{&out.Topics, `SELECT COUNT(*) FROM topics WHERE deleted_at IS NULL`, nil},
		{&out.Replies, `SELECT COUNT(*) FROM replies WHERE deleted_at IS NULL`, nil},
		{&out.BadgesAwarded, `SELECT COUNT(*) FROM user_badges`, nil},
		{&out.RunningBatches, `SELECT COUNT(*) FROM batch_operations WHERE status = ?`, []interface{}{db.BatchProcessing}},
	}
	for _, c := range counts {
		if err := s.db.GetContext(ctx, c.dest, s.db.Rebind(c.query), c.args...); err != nil {
			return Overview{}, fmt.Errorf("dashboard count: %w", err)
		}
	}
	return out, nil
}
