package handler

import (
	"errors"
	"net/http"

	"github.com/agora/internal/rules"
	"github.com/agora/internal/service"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type errorMapping struct {
	err      error
	status   int
	message  string
	rejected bool
}

// 顺序即优先级；rejected 表示业务规则拒绝，返回 success:false + message
var errorMappings = []errorMapping{
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "用户名或密码错误", false},
	{service.ErrInvalidToken, http.StatusUnauthorized, "登录已失效，请重新登录", false},

	{service.ErrUserNotFound, http.StatusNotFound, "用户不存在", false},
	{service.ErrBadgeNotFound, http.StatusNotFound, "徽章不存在", false},
	{service.ErrSpecialTagNotFound, http.StatusNotFound, "标签不存在", false},
	{service.ErrUserTagNotFound, http.StatusNotFound, "用户未持有该标签", false},
	{service.ErrDailyTaskNotFound, http.StatusNotFound, "任务不存在", false},
	{service.ErrPunishmentNotFound, http.StatusNotFound, "处罚记录不存在", false},
	{service.ErrAppealNotFound, http.StatusNotFound, "申诉不存在", false},
	{service.ErrBatchNotFound, http.StatusNotFound, "批量操作不存在", false},
	{service.ErrNotificationNotFound, http.StatusNotFound, "通知不存在", false},
	{service.ErrTopicNotFound, http.StatusNotFound, "主题不存在", false},
	{service.ErrReplyNotFound, http.StatusNotFound, "回复不存在", false},

	{service.ErrInsufficientBalance, http.StatusBadRequest, "积分余额不足", true},
	{service.ErrDuplicateAppeal, http.StatusBadRequest, "该处罚已有待处理的申诉", true},
	{service.ErrTagAlreadyGranted, http.StatusBadRequest, "用户已持有该标签", true},
	{service.ErrAlreadyLiked, http.StatusBadRequest, "已经点过赞了", true},
	{service.ErrCannotLikeOwn, http.StatusBadRequest, "不能给自己点赞", true},
	{service.ErrPunishmentNotActive, http.StatusBadRequest, "处罚已失效", true},
	{service.ErrAppealNotPending, http.StatusBadRequest, "申诉已处理", true},
	{service.ErrUsernameTaken, http.StatusConflict, "用户名已被占用", true},

	{service.ErrInvalidAmount, http.StatusBadRequest, "数量无效", false},
	{service.ErrUnknownPointRule, http.StatusBadRequest, "未知的积分规则", false},
	{rules.ErrInvalidCondition, http.StatusBadRequest, "条件配置无效", false},
	{service.ErrNameRequired, http.StatusBadRequest, "名称不能为空", false},
	{service.ErrInvalidDailyTaskType, http.StatusBadRequest, "任务配置无效", false},
	{service.ErrInvalidPunishment, http.StatusBadRequest, "处罚类型无效", false},
	{service.ErrInvalidSeverity, http.StatusBadRequest, "严重度必须在 1 到 5 之间", false},
	{service.ErrInvalidDuration, http.StatusBadRequest, "时长必须为正数且不超过十年", false},
	{service.ErrReasonRequired, http.StatusBadRequest, "原因不能为空", false},
	{service.ErrInvalidBatchType, http.StatusBadRequest, "批量操作类型无效", false},
	{service.ErrEmptyBatch, http.StatusBadRequest, "目标用户不能为空", false},
	{service.ErrTitleRequired, http.StatusBadRequest, "标题不能为空", false},
	{service.ErrContentRequired, http.StatusBadRequest, "内容不能为空", false},
	{service.ErrInvalidUsername, http.StatusBadRequest, "用户名需为 3 到 32 位字母、数字、下划线或短横线", false},
	{service.ErrWeakPassword, http.StatusBadRequest, "密码至少 6 位", false},
}

// handleServiceError 按错误分类输出响应；未识别的错误记录日志后返回通用 500
func handleServiceError(c *gin.Context, err error, fallback string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			if m.rejected {
				respondRejected(c, m.status, m.message, nil)
				c.Abort()
				return
			}
			respondError(c, m.status, m.message)
			return
		}
	}

	log.WithFields(log.Fields{
		"method": c.Request.Method,
		"path":   c.FullPath(),
	}).WithError(err).Error(fallback)
	respondError(c, http.StatusInternalServerError, fallback)
}
