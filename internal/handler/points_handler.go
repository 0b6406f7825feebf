package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/agora/internal/service"
	"github.com/gin-gonic/gin"
)

type consumeRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason"`
}

// PointInfo 积分、等级与升级进度
func (a *API) PointInfo(c *gin.Context) {
	info, err := a.points.Info(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleServiceError(c, err, "获取积分信息失败")
		return
	}
	respondOK(c, info)
}

// PointHistory 积分流水
func (a *API) PointHistory(c *gin.Context) {
	page, err := a.points.History(c.Request.Context(), currentUserID(c), service.HistoryFilter{
		Page: pageFromQuery(c),
		Type: c.Query("type"),
	})
	if err != nil {
		handleServiceError(c, err, "获取积分记录失败")
		return
	}
	respondOK(c, page)
}

// Checkin 每日签到
func (a *API) Checkin(c *gin.Context) {
	result, err := a.checkin.Checkin(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleServiceError(c, err, "签到失败")
		return
	}
	if !result.Success {
		respondRejected(c, http.StatusOK, result.Message, result)
		return
	}
	respondMessage(c, result.Message, result)
}

// Consume 扣减积分
func (a *API) Consume(c *gin.Context) {
	var req consumeRequest
	if !bindJSON(c, &req, "请输入扣减数量") {
		return
	}
	result, err := a.points.Consume(c.Request.Context(), currentUserID(c), req.Amount, req.Reason)
	if err != nil {
		if errors.Is(err, service.ErrInsufficientBalance) {
			respondRejected(c, http.StatusBadRequest, "积分余额不足", result)
			return
		}
		handleServiceError(c, err, "扣减积分失败")
		return
	}
	respondMessage(c, result.Message, result)
}

// Leaderboard 经验排行榜
func (a *API) Leaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	rows, err := a.leaderboard.Top(c.Request.Context(), limit)
	if err != nil {
		handleServiceError(c, err, "获取排行榜失败")
		return
	}
	respondOK(c, rows)
}

// Levels 等级表与积分规则
func (a *API) Levels(c *gin.Context) {
	book := a.points.Book()
	respondOK(c, gin.H{"levels": book.Levels.All(), "rules": book.Points.All()})
}
