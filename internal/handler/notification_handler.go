package handler

import (
	"net/http"

	"github.com/agora/internal/realtime"
	"github.com/agora/internal/service"
	"github.com/gin-gonic/gin"
)

// Notifications 通知列表，unread=true 只看未读
func (a *API) Notifications(c *gin.Context) {
	page, err := a.notifications.List(c.Request.Context(), currentUserID(c), service.NotificationFilter{
		Page:       pageFromQuery(c),
		UnreadOnly: queryBool(c, "unread"),
	})
	if err != nil {
		handleServiceError(c, err, "获取通知失败")
		return
	}
	respondOK(c, page)
}

// UnreadCount 未读数量
func (a *API) UnreadCount(c *gin.Context) {
	n, err := a.notifications.UnreadCount(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleServiceError(c, err, "获取未读数量失败")
		return
	}
	respondOK(c, gin.H{"count": n})
}

// MarkNotificationRead 标记单条已读
func (a *API) MarkNotificationRead(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的通知ID")
		return
	}
	if err := a.notifications.MarkRead(c.Request.Context(), currentUserID(c), id); err != nil {
		handleServiceError(c, err, "标记已读失败")
		return
	}
	respondMessage(c, "已标记为已读", nil)
}

// MarkAllNotificationsRead 全部标记已读
func (a *API) MarkAllNotificationsRead(c *gin.Context) {
	n, err := a.notifications.MarkAllRead(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleServiceError(c, err, "标记已读失败")
		return
	}
	respondMessage(c, "已全部标记为已读", gin.H{"updated": n})
}

// NotificationStream 升级为 websocket 推送实时通知
func (a *API) NotificationStream(c *gin.Context) {
	if a.hub == nil {
		respondError(c, http.StatusServiceUnavailable, "实时通知未启用")
		return
	}
	realtime.Serve(c.Writer, c.Request, a.hub, currentUserID(c))
}
