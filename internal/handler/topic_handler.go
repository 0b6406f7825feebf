package handler

import (
	"net/http"

	"github.com/agora/internal/service"
	"github.com/gin-gonic/gin"
)

type topicRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type replyRequest struct {
	Content string `json:"content"`
}

// ListTopics 主题列表
func (a *API) ListTopics(c *gin.Context) {
	page, err := a.topics.List(c.Request.Context(), service.TopicFilter{
		Page:     pageFromQuery(c),
		UserID:   parseUintQuery(c, "userId"),
		Featured: queryBool(c, "featured"),
	})
	if err != nil {
		handleServiceError(c, err, "获取主题列表失败")
		return
	}
	respondOK(c, page)
}

// GetTopic 主题详情
func (a *API) GetTopic(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的主题ID")
		return
	}
	topic, err := a.topics.Get(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err, "获取主题失败")
		return
	}
	respondOK(c, topic)
}

// CreateTopic 发布主题
func (a *API) CreateTopic(c *gin.Context) {
	var req topicRequest
	if !bindJSON(c, &req, "请求格式错误") {
		return
	}
	topic, err := a.topics.CreateTopic(c.Request.Context(), service.TopicInput{
		UserID:  currentUserID(c),
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		handleServiceError(c, err, "发布主题失败")
		return
	}
	respondMessage(c, "发布成功", topic)
}

// CreateReply 回复主题
func (a *API) CreateReply(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的主题ID")
		return
	}
	var req replyRequest
	if !bindJSON(c, &req, "请求格式错误") {
		return
	}
	reply, err := a.topics.CreateReply(c.Request.Context(), id, currentUserID(c), req.Content)
	if err != nil {
		handleServiceError(c, err, "回复失败")
		return
	}
	respondMessage(c, "回复成功", reply)
}

// LikeTopic 点赞主题
func (a *API) LikeTopic(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的主题ID")
		return
	}
	like, err := a.topics.LikeTopic(c.Request.Context(), currentUserID(c), id)
	if err != nil {
		handleServiceError(c, err, "点赞失败")
		return
	}
	respondMessage(c, "点赞成功", like)
}

// LikeReply 点赞回复
func (a *API) LikeReply(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的回复ID")
		return
	}
	like, err := a.topics.LikeReply(c.Request.Context(), currentUserID(c), id)
	if err != nil {
		handleServiceError(c, err, "点赞失败")
		return
	}
	respondMessage(c, "点赞成功", like)
}
