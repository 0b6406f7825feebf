package handler

import (
	"github.com/gin-gonic/gin"
)

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register 注册
func (a *API) Register(c *gin.Context) {
	var req credentialsRequest
	if !bindJSON(c, &req, "用户名和密码不能为空") {
		return
	}
	user, err := a.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(c, err, "注册失败")
		return
	}
	respondMessage(c, "注册成功", user)
}

// Login 登录并返回 bearer token
func (a *API) Login(c *gin.Context) {
	var req credentialsRequest
	if !bindJSON(c, &req, "用户名和密码不能为空") {
		return
	}
	session, err := a.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(c, err, "登录失败")
		return
	}
	respondOK(c, session)
}

// Logout 作废当前令牌
func (a *API) Logout(c *gin.Context) {
	token, _ := c.Get(currentTokenKey)
	raw, _ := token.(string)
	if err := a.auth.Logout(c.Request.Context(), raw); err != nil {
		handleServiceError(c, err, "退出失败")
		return
	}
	respondMessage(c, "已退出登录", nil)
}

// Me 当前用户
func (a *API) Me(c *gin.Context) {
	user, err := a.auth.GetUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleServiceError(c, err, "获取用户失败")
		return
	}
	respondOK(c, user)
}
