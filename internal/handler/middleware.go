package handler

import (
	"net/http"
	"strings"

	"github.com/agora/internal/db"
	"github.com/agora/internal/logging"
	"github.com/gin-gonic/gin"
)

const (
	currentUserKey  = "auth_user"
	currentTokenKey = "auth_token"
)

// AuthRequired 校验 bearer token；websocket 握手无法带头部时允许 access_token 查询参数
func (a *API) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			respondError(c, http.StatusUnauthorized, "请先登录")
			return
		}
		user, err := a.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			handleServiceError(c, err, "认证失败")
			return
		}
		c.Set(logging.UserIDKey, user.ID)
		c.Set(currentUserKey, user)
		c.Set(currentTokenKey, token)
		c.Next()
	}
}

// RequireStaff 仅允许管理员与版主
func (a *API) RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil || !user.IsStaff() {
			respondError(c, http.StatusForbidden, "权限不足")
			return
		}
		c.Next()
	}
}

// EnforcePunishment 拦截被封禁、停权的用户；blockMuted 为 true 时禁言用户同样被拦截
// 查询前会先把已到期的处罚置为失效，保证到期后立即恢复
func (a *API) EnforcePunishment(blockMuted bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil {
			respondError(c, http.StatusUnauthorized, "请先登录")
			return
		}
		restriction, err := a.punishments.ActiveRestriction(c.Request.Context(), user.ID)
		if err != nil {
			handleServiceError(c, err, "查询处罚状态失败")
			return
		}
		if restriction.Blocks() || (blockMuted && restriction.Mutes()) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   restrictionMessage(restriction.Status),
				"data":    restriction,
			})
			return
		}
		c.Next()
	}
}

func restrictionMessage(status string) string {
	switch status {
	case db.UserStatusBanned:
		return "账号已被封禁"
	case db.UserStatusSuspended:
		return "账号已被停权"
	case db.UserStatusMuted:
		return "你已被禁言"
	default:
		return "账号受限"
	}
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(c.Query("access_token"))
}

func currentUser(c *gin.Context) *db.User {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*db.User)
	return user
}

func currentUserID(c *gin.Context) uint {
	if user := currentUser(c); user != nil {
		return user.ID
	}
	return 0
}
