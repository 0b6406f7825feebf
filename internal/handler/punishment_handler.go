package handler

import (
	"github.com/gin-gonic/gin"
)

type appealRequest struct {
	PunishmentID uint   `json:"punishmentId" binding:"required"`
	Reason       string `json:"reason"`
}

// MyPunishments 当前用户的处罚记录
func (a *API) MyPunishments(c *gin.Context) {
	items, err := a.punishments.ListForUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleServiceError(c, err, "获取处罚记录失败")
		return
	}
	respondOK(c, items)
}

// PunishmentStatus 当前生效的限制
func (a *API) PunishmentStatus(c *gin.Context) {
	restriction, err := a.punishments.ActiveRestriction(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleServiceError(c, err, "获取处罚状态失败")
		return
	}
	respondOK(c, restriction)
}

// SubmitAppeal 提交申诉
func (a *API) SubmitAppeal(c *gin.Context) {
	var req appealRequest
	if !bindJSON(c, &req, "请选择要申诉的处罚") {
		return
	}
	appeal, err := a.appeals.Submit(c.Request.Context(), currentUserID(c), req.PunishmentID, req.Reason)
	if err != nil {
		handleServiceError(c, err, "提交申诉失败")
		return
	}
	respondMessage(c, "申诉已提交", appeal)
}

// MyAppeals 当前用户的申诉
func (a *API) MyAppeals(c *gin.Context) {
	items, err := a.appeals.ListForUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleServiceError(c, err, "获取申诉失败")
		return
	}
	respondOK(c, items)
}
