package router

import (
	"github.com/agora/internal/handler"
	"github.com/agora/internal/logging"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestLogger())

	r.GET("/ping", api.Ping)

	apiGroup := r.Group("/api")

	auth := apiGroup.Group("/auth")
	{
		auth.POST("/register", api.Register)
		auth.POST("/login", api.Login)
		auth.POST("/logout", api.AuthRequired(), api.Logout)
		auth.GET("/me", api.AuthRequired(), api.Me)
	}

	// 登录后即可访问：处罚查看、申诉与通知对受限用户同样开放
	member := apiGroup.Group("")
	member.Use(api.AuthRequired())
	{
		punishments := member.Group("/punishments")
		{
			punishments.GET("/my-punishments", api.MyPunishments)
			punishments.GET("/status", api.PunishmentStatus)
			punishments.POST("/appeals", api.SubmitAppeal)
			punishments.GET("/appeals", api.MyAppeals)
		}

		notifications := member.Group("/notifications")
		{
			notifications.GET("", api.Notifications)
			notifications.GET("/unread-count", api.UnreadCount)
			notifications.POST("/:id/read", api.MarkNotificationRead)
			notifications.POST("/read-all", api.MarkAllNotificationsRead)
			notifications.GET("/ws", api.NotificationStream)
		}
	}

	// 封禁、停权用户不可访问
	active := member.Group("")
	active.Use(api.EnforcePunishment(false))
	{
		points := active.Group("/points")
		{
			points.GET("/info", api.PointInfo)
			points.GET("/history", api.PointHistory)
			points.POST("/checkin", api.Checkin)
			points.POST("/consume", api.Consume)
			points.GET("/leaderboard", api.Leaderboard)
			points.GET("/levels", api.Levels)
		}

		badges := active.Group("/badges")
		{
			badges.GET("/all", api.AllBadges)
			badges.GET("/my", api.MyBadges)
			badges.POST("/check", api.CheckBadges)
		}

		tags := active.Group("/special-tags")
		{
			tags.GET("/my", api.MySpecialTags)
			tags.GET("/all", api.AllSpecialTags)
		}

		active.GET("/daily-tasks/user", api.MyDailyTasks)
		active.GET("/topics", api.ListTopics)
		active.GET("/topics/:id", api.GetTopic)
	}

	// 发帖、回复、点赞对禁言用户同样关闭
	speaking := member.Group("")
	speaking.Use(api.EnforcePunishment(true))
	{
		speaking.POST("/topics", api.CreateTopic)
		speaking.POST("/topics/:id/replies", api.CreateReply)
		speaking.POST("/topics/:id/like", api.LikeTopic)
		speaking.POST("/replies/:id/like", api.LikeReply)
	}

	admin := apiGroup.Group("/admin")
	admin.Use(api.AuthRequired(), api.RequireStaff())
	{
		admin.GET("/dashboard", api.Dashboard)

		admin.GET("/users", api.ListUsers)
		admin.POST("/users/batch", api.BatchUsers)
		admin.GET("/users/:id", api.GetUser)
		admin.POST("/users/:id/punish", api.PunishUser)
		admin.POST("/users/:id/points", api.AdjustPoints)
		admin.POST("/users/:id/tags", api.GrantUserTag)
		admin.DELETE("/users/:id/tags/:tagId", api.RevokeUserTag)
		admin.GET("/batch-operations/:id", api.GetBatch)

		admin.GET("/punishments", api.ListPunishments)
		admin.POST("/punishments/sweep", api.SweepPunishments)
		admin.POST("/punishments/:id/revoke", api.RevokePunishment)

		admin.GET("/appeals", api.ListAppeals)
		admin.POST("/appeals/:id/review", api.ReviewAppeal)

		admin.POST("/points/cleanup", api.CleanupPoints)

		admin.GET("/badges", api.ListBadgeDefinitions)
		admin.POST("/badges", api.CreateBadge)
		admin.POST("/badges/:id/active", api.SetBadgeActive)

		admin.GET("/special-tags", api.AllSpecialTags)
		admin.POST("/special-tags", api.CreateSpecialTag)

		admin.GET("/daily-tasks", api.ListDailyTaskDefinitions)
		admin.POST("/daily-tasks", api.CreateDailyTask)

		admin.POST("/topics/:id/feature", api.FeatureTopic)
	}

	return r
}
