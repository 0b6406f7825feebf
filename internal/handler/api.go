package handler

import (
	"github.com/agora/internal/realtime"
	"github.com/agora/internal/service"
	"github.com/gin-gonic/gin"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	auth          *service.AuthService
	points        *service.PointService
	checkin       *service.CheckinService
	leaderboard   *service.LeaderboardService
	badges        *service.BadgeService
	tags          *service.SpecialTagService
	tasks         *service.DailyTaskService
	punishments   *service.PunishmentService
	appeals       *service.AppealService
	batches       *service.BatchService
	notifications *service.NotificationService
	topics        *service.TopicService
	dashboard     *service.DashboardService
	ledger        *service.LedgerMaintenance
	hub           *realtime.Hub
}

// NewAPI constructs a handler set with shared services. hub 为空时不提供 websocket 推送。
func NewAPI(reg *service.Registry, hub *realtime.Hub) *API {
	return &API{
		auth:          reg.Auth,
		points:        reg.Points,
		checkin:       reg.Checkin,
		leaderboard:   reg.Leaderboard,
		badges:        reg.Badges,
		tags:          reg.Tags,
		tasks:         reg.Tasks,
		punishments:   reg.Punishments,
		appeals:       reg.Appeals,
		batches:       reg.Batches,
		notifications: reg.Notifications,
		topics:        reg.Topics,
		dashboard:     reg.Dashboard,
		ledger:        reg.Ledger,
		hub:           hub,
	}
}

// Ping 健康检查
func (a *API) Ping(c *gin.Context) {
	c.JSON(200, gin.H{"message": "pong"})
}
