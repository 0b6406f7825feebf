package handler

import (
	"github.com/gin-gonic/gin"
)

// AllBadges 全部徽章及当前用户的获得进度
func (a *API) AllBadges(c *gin.Context) {
	views, err := a.badges.All(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleServiceError(c, err, "获取徽章失败")
		return
	}
	respondOK(c, views)
}

// MyBadges 已获得的徽章
func (a *API) MyBadges(c *gin.Context) {
	items, err := a.badges.Mine(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleServiceError(c, err, "获取徽章失败")
		return
	}
	respondOK(c, items)
}

// CheckBadges 手动触发徽章与标签评估
func (a *API) CheckBadges(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUserID(c)
	badges, err := a.badges.CheckAndAward(ctx, userID)
	if err != nil {
		handleServiceError(c, err, "检查徽章失败")
		return
	}
	tags, err := a.tags.CheckAndAward(ctx, userID)
	if err != nil {
		handleServiceError(c, err, "检查标签失败")
		return
	}
	respondOK(c, gin.H{"awarded": badges, "tags": tags, "count": len(badges)})
}

// MySpecialTags 当前持有的特殊标签
func (a *API) MySpecialTags(c *gin.Context) {
	items, err := a.tags.ListForUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleServiceError(c, err, "获取标签失败")
		return
	}
	respondOK(c, items)
}

// AllSpecialTags 全部特殊标签定义
func (a *API) AllSpecialTags(c *gin.Context) {
	items, err := a.tags.All(c.Request.Context())
	if err != nil {
		handleServiceError(c, err, "获取标签失败")
		return
	}
	respondOK(c, items)
}

// MyDailyTasks 今日任务进度
func (a *API) MyDailyTasks(c *gin.Context) {
	summary, err := a.tasks.ForUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleServiceError(c, err, "获取每日任务失败")
		return
	}
	respondOK(c, summary)
}
