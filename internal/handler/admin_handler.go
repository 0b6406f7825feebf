package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/agora/internal/rules"
	"github.com/agora/internal/service"
	"github.com/gin-gonic/gin"
)

type punishRequest struct {
	Type     string `json:"type" binding:"required"`
	Severity int    `json:"severity"`
	Reason   string `json:"reason"`
	// Duration 以小时计，null 表示永久
	Duration *int `json:"duration"`
}

type batchRequest struct {
	Type    string              `json:"type" binding:"required"`
	UserIDs []uint              `json:"userIds"`
	Params  service.BatchParams `json:"params"`
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

type reviewRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

type adjustPointsRequest struct {
	Points     int64  `json:"points"`
	Experience int64  `json:"experience"`
	Reason     string `json:"reason"`
}

type cleanupRequest struct {
	Before        *time.Time `json:"before"`
	RetentionDays int        `json:"retentionDays"`
}

type badgeRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Icon         string          `json:"icon"`
	Condition    rules.Condition `json:"condition"`
	RewardPoints int64           `json:"rewardPoints"`
	RewardExp    int64           `json:"rewardExp"`
	SortOrder    int             `json:"sortOrder"`
}

type activeRequest struct {
	Active bool `json:"active"`
}

type specialTagRequest struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Color        string           `json:"color"`
	Icon         string           `json:"icon"`
	Condition    *rules.Condition `json:"condition"`
	DurationDays int              `json:"durationDays"`
	RewardPoints int64            `json:"rewardPoints"`
}

type grantTagRequest struct {
	TagID  uint   `json:"tagId" binding:"required"`
	Reason string `json:"reason"`
	// Duration 以小时计，null 表示永久
	Duration *int `json:"duration"`
}

type dailyTaskRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Target      int    `json:"target"`
	Points      int64  `json:"points"`
	Experience  int64  `json:"experience"`
	SortOrder   int    `json:"sortOrder"`
}

type featureRequest struct {
	Featured bool `json:"featured"`
}

// Dashboard 后台统计
func (a *API) Dashboard(c *gin.Context) {
	overview, err := a.dashboard.Overview(c.Request.Context())
	if err != nil {
		handleServiceError(c, err, "获取统计数据失败")
		return
	}
	respondOK(c, overview)
}

// ListUsers 用户列表
func (a *API) ListUsers(c *gin.Context) {
	page, err := a.auth.ListUsers(c.Request.Context(), service.UserFilter{
		Page:   pageFromQuery(c),
		Status: c.Query("status"),
		Search: c.Query("q"),
	})
	if err != nil {
		handleServiceError(c, err, "获取用户列表失败")
		return
	}
	respondOK(c, page)
}

// GetUser 用户详情，附带积分与处罚信息
func (a *API) GetUser(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的用户ID")
		return
	}
	ctx := c.Request.Context()
	user, err := a.auth.GetUser(ctx, id)
	if err != nil {
		handleServiceError(c, err, "获取用户失败")
		return
	}
	info, err := a.points.Info(ctx, id)
	if err != nil {
		handleServiceError(c, err, "获取用户失败")
		return
	}
	punishments, err := a.punishments.ListForUser(ctx, id)
	if err != nil {
		handleServiceError(c, err, "获取用户失败")
		return
	}
	respondOK(c, gin.H{"user": user, "points": info, "punishments": punishments})
}

// PunishUser 处罚用户
func (a *API) PunishUser(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的用户ID")
		return
	}
	var req punishRequest
	if !bindJSON(c, &req, "处罚类型不能为空") {
		return
	}
	duration, err := service.HoursDuration(req.Duration)
	if err != nil {
		handleServiceError(c, err, "处罚失败")
		return
	}
	operator := currentUserID(c)
	punishment, err := a.punishments.Punish(c.Request.Context(), service.PunishInput{
		UserID:     id,
		OperatorID: &operator,
		Type:       strings.TrimSpace(req.Type),
		Severity:   req.Severity,
		Reason:     req.Reason,
		Duration:   duration,
	})
	if err != nil {
		handleServiceError(c, err, "处罚失败")
		return
	}
	respondMessage(c, "处罚已生效", punishment)
}

// BatchUsers 启动批量操作，立即返回追踪记录
func (a *API) BatchUsers(c *gin.Context) {
	var req batchRequest
	if !bindJSON(c, &req, "批量操作类型不能为空") {
		return
	}
	op, err := a.batches.Start(c.Request.Context(), service.BatchInput{
		Type:       req.Type,
		OperatorID: currentUserID(c),
		TargetIDs:  req.UserIDs,
		Params:     req.Params,
	})
	if err != nil {
		handleServiceError(c, err, "启动批量操作失败")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "批量操作已开始", "data": op})
}

// GetBatch 查询批量操作进度
func (a *API) GetBatch(c *gin.Context) {
	op, err := a.batches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, err, "获取批量操作失败")
		return
	}
	respondOK(c, op)
}

// ListPunishments 处罚列表
func (a *API) ListPunishments(c *gin.Context) {
	page, err := a.punishments.List(c.Request.Context(), service.PunishmentFilter{
		Page:   pageFromQuery(c),
		UserID: parseUintQuery(c, "userId"),
		Status: c.Query("status"),
		Type:   c.Query("type"),
	})
	if err != nil {
		handleServiceError(c, err, "获取处罚列表失败")
		return
	}
	respondOK(c, page)
}

// RevokePunishment 撤销处罚
func (a *API) RevokePunishment(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的处罚ID")
		return
	}
	var req revokeRequest
	_ = c.ShouldBindJSON(&req)
	operator := currentUserID(c)
	punishment, err := a.punishments.Revoke(c.Request.Context(), id, &operator, req.Reason)
	if err != nil {
		handleServiceError(c, err, "撤销处罚失败")
		return
	}
	respondMessage(c, "处罚已撤销", punishment)
}

// SweepPunishments 立即执行一次到期扫描
func (a *API) SweepPunishments(c *gin.Context) {
	n, err := a.punishments.SweepExpired(c.Request.Context())
	if err != nil {
		handleServiceError(c, err, "扫描失败")
		return
	}
	respondOK(c, gin.H{"expired": n})
}

// ListAppeals 申诉列表
func (a *API) ListAppeals(c *gin.Context) {
	page, err := a.appeals.List(c.Request.Context(), service.AppealFilter{
		Page:   pageFromQuery(c),
		Status: c.Query("status"),
	})
	if err != nil {
		handleServiceError(c, err, "获取申诉列表失败")
		return
	}
	respondOK(c, page)
}

// ReviewAppeal 审核申诉
func (a *API) ReviewAppeal(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的申诉ID")
		return
	}
	var req reviewRequest
	if !bindJSON(c, &req, "请求格式错误") {
		return
	}
	appeal, err := a.appeals.Review(c.Request.Context(), id, currentUserID(c), req.Approve, req.Note)
	if err != nil {
		handleServiceError(c, err, "审核申诉失败")
		return
	}
	respondMessage(c, "申诉已处理", appeal)
}

// AdjustPoints 手动调整用户积分
func (a *API) AdjustPoints(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的用户ID")
		return
	}
	var req adjustPointsRequest
	if !bindJSON(c, &req, "请求格式错误") {
		return
	}
	result, err := a.points.Adjust(c.Request.Context(), id, currentUserID(c), req.Points, req.Experience, req.Reason)
	if err != nil {
		handleServiceError(c, err, "调整积分失败")
		return
	}
	respondMessage(c, "积分已调整", result)
}

// CleanupPoints 清理旧流水；before 与 retentionDays 二选一
func (a *API) CleanupPoints(c *gin.Context) {
	var req cleanupRequest
	if !bindJSON(c, &req, "请求格式错误") {
		return
	}
	ctx := c.Request.Context()
	var (
		result service.CleanupResult
		err    error
	)
	switch {
	case req.Before != nil:
		result, err = a.ledger.Cleanup(ctx, *req.Before)
	case req.RetentionDays > 0:
		result, err = a.ledger.CleanupKeepingDays(ctx, req.RetentionDays)
	default:
		respondError(c, http.StatusBadRequest, "请指定清理截止时间或保留天数")
		return
	}
	if err != nil {
		handleServiceError(c, err, "清理积分记录失败")
		return
	}
	respondOK(c, result)
}

// ListBadgeDefinitions 徽章定义
func (a *API) ListBadgeDefinitions(c *gin.Context) {
	items, err := a.badges.List(c.Request.Context())
	if err != nil {
		handleServiceError(c, err, "获取徽章失败")
		return
	}
	respondOK(c, items)
}

// CreateBadge 新建徽章
func (a *API) CreateBadge(c *gin.Context) {
	var req badgeRequest
	if !bindJSON(c, &req, "请求格式错误") {
		return
	}
	badge, err := a.badges.Create(c.Request.Context(), service.BadgeInput{
		Name:         req.Name,
		Description:  req.Description,
		Icon:         req.Icon,
		Condition:    req.Condition,
		RewardPoints: req.RewardPoints,
		RewardExp:    req.RewardExp,
		SortOrder:    req.SortOrder,
	})
	if err != nil {
		handleServiceError(c, err, "创建徽章失败")
		return
	}
	respondMessage(c, "徽章创建成功", badge)
}

// SetBadgeActive 启用或停用徽章
func (a *API) SetBadgeActive(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的徽章ID")
		return
	}
	var req activeRequest
	if !bindJSON(c, &req, "请求格式错误") {
		return
	}
	badge, err := a.badges.SetActive(c.Request.Context(), id, req.Active)
	if err != nil {
		handleServiceError(c, err, "更新徽章失败")
		return
	}
	respondOK(c, badge)
}

// CreateSpecialTag 新建特殊标签
func (a *API) CreateSpecialTag(c *gin.Context) {
	var req specialTagRequest
	if !bindJSON(c, &req, "请求格式错误") {
		return
	}
	input := service.SpecialTagInput{
		Name:         req.Name,
		Description:  req.Description,
		Color:        req.Color,
		Icon:         req.Icon,
		DurationDays: req.DurationDays,
		RewardPoints: req.RewardPoints,
	}
	if req.Condition != nil {
		input.Condition = *req.Condition
	}
	tag, err := a.tags.Create(c.Request.Context(), input)
	if err != nil {
		handleServiceError(c, err, "创建标签失败")
		return
	}
	respondMessage(c, "标签创建成功", tag)
}

// GrantUserTag 手动授予标签
func (a *API) GrantUserTag(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的用户ID")
		return
	}
	var req grantTagRequest
	if !bindJSON(c, &req, "请选择标签") {
		return
	}
	duration, err := service.HoursDuration(req.Duration)
	if err != nil {
		handleServiceError(c, err, "授予标签失败")
		return
	}
	operator := currentUserID(c)
	granted, err := a.tags.Grant(c.Request.Context(), service.GrantTagInput{
		UserID:     id,
		TagID:      req.TagID,
		OperatorID: &operator,
		Reason:     req.Reason,
		Duration:   duration,
	})
	if err != nil {
		handleServiceError(c, err, "授予标签失败")
		return
	}
	respondMessage(c, "标签已授予", granted)
}

// RevokeUserTag 撤销用户标签
func (a *API) RevokeUserTag(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的用户ID")
		return
	}
	tagID, err := parseUintParam(c, "tagId")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的标签ID")
		return
	}
	if err := a.tags.Revoke(c.Request.Context(), id, tagID); err != nil {
		handleServiceError(c, err, "撤销标签失败")
		return
	}
	respondMessage(c, "标签已撤销", nil)
}

// ListDailyTaskDefinitions 每日任务模板
func (a *API) ListDailyTaskDefinitions(c *gin.Context) {
	items, err := a.tasks.List(c.Request.Context())
	if err != nil {
		handleServiceError(c, err, "获取每日任务失败")
		return
	}
	respondOK(c, items)
}

// CreateDailyTask 新建每日任务
func (a *API) CreateDailyTask(c *gin.Context) {
	var req dailyTaskRequest
	if !bindJSON(c, &req, "请求格式错误") {
		return
	}
	task, err := a.tasks.Create(c.Request.Context(), service.DailyTaskInput{
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		Target:      req.Target,
		Points:      req.Points,
		Experience:  req.Experience,
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		handleServiceError(c, err, "创建每日任务失败")
		return
	}
	respondMessage(c, "每日任务创建成功", task)
}

// FeatureTopic 设置或取消精华
func (a *API) FeatureTopic(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的主题ID")
		return
	}
	req := featureRequest{Featured: true}
	_ = c.ShouldBindJSON(&req)
	topic, err := a.topics.SetFeatured(c.Request.Context(), id, req.Featured)
	if err != nil {
		handleServiceError(c, err, "设置精华失败")
		return
	}
	respondOK(c, topic)
}
