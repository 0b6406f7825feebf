package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agora/internal/db"
	"github.com/agora/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var handlerDBSeq atomic.Int64

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	gdb    *gorm.DB
	reg    *service.Registry
	api    *API
	engine *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:handler-%d-%d?mode=memory&cache=shared", time.Now().UnixNano(), handlerDBSeq.Add(1))
	gdb, err := db.Open(db.Options{Driver: "sqlite", Path: dsn, Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	reg, err := service.NewRegistry(gdb, service.Options{})
	require.NoError(t, err)
	t.Cleanup(reg.Batches.Wait)

	api := NewAPI(reg, nil)
	r := gin.New()
	r.POST("/register", api.Register)
	r.POST("/login", api.Login)

	member := r.Group("", api.AuthRequired())
	member.GET("/me", api.Me)
	member.POST("/logout", api.Logout)
	member.GET("/status", api.PunishmentStatus)

	active := member.Group("", api.EnforcePunishment(false))
	active.GET("/points/info", api.PointInfo)
	active.POST("/points/checkin", api.Checkin)
	active.POST("/points/consume", api.Consume)

	speaking := member.Group("", api.EnforcePunishment(true))
	speaking.POST("/topics", api.CreateTopic)

	admin := member.Group("/admin", api.RequireStaff())
	admin.POST("/users/:id/punish", api.PunishUser)
	admin.GET("/users/:id", api.GetUser)

	return &testServer{gdb: gdb, reg: reg, api: api, engine: r}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.engine.ServeHTTP(rr, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr.Code, env
}

// signUp 注册并登录，返回令牌与用户
func (s *testServer) signUp(t *testing.T, username string) (string, db.User) {
	t.Helper()
	code, _ := s.do(t, http.MethodPost, "/register", "", credentialsRequest{Username: username, Password: "secret123"})
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(t, http.MethodPost, "/login", "", credentialsRequest{Username: username, Password: "secret123"})
	require.Equal(t, http.StatusOK, code)
	var session service.Session
	require.NoError(t, json.Unmarshal(env.Data, &session))
	return session.Token, session.User
}

func (s *testServer) promote(t *testing.T, userID uint) {
	t.Helper()
	require.NoError(t, s.gdb.Model(&db.User{}).Where("id = ?", userID).Update("role", db.RoleAdmin).Error)
}

func TestRegisterLoginAndMe(t *testing.T) {
	s := newTestServer(t)
	token, user := s.signUp(t, "walker")

	code, env := s.do(t, http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	var me db.User
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, user.ID, me.ID)
	assert.Equal(t, "walker", me.Username)

	code, env = s.do(t, http.MethodPost, "/register", "", credentialsRequest{Username: "walker", Password: "secret123"})
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, env.Success)
	assert.Equal(t, "用户名已被占用", env.Message)

	code, env = s.do(t, http.MethodPost, "/login", "", credentialsRequest{Username: "walker", Password: "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "用户名或密码错误", env.Error)

	code, _ = s.do(t, http.MethodPost, "/logout", token, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAuthRequiredRejectsMissingAndBadTokens(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "请先登录", env.Error)

	code, _ = s.do(t, http.MethodGet, "/me", "not-a-real-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestCheckinEnvelope(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp(t, "early_bird")

	code, env := s.do(t, http.MethodPost, "/points/checkin", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	var result service.CheckinResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 1, result.ConsecutiveDays)
	assert.Equal(t, int64(5), result.NewBalance)

	// 同日重复签到属于业务拒绝，不是错误
	code, env = s.do(t, http.MethodPost, "/points/checkin", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Message)
}

func TestConsumeRejectsOverdraft(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp(t, "spender")

	code, _ := s.do(t, http.MethodPost, "/points/checkin", token, nil)
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(t, http.MethodPost, "/points/consume", token, consumeRequest{Amount: 50, Reason: "商城兑换"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
	assert.Equal(t, "积分余额不足", env.Message)

	code, env = s.do(t, http.MethodPost, "/points/consume", token, consumeRequest{Amount: 3, Reason: "商城兑换"})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	code, env = s.do(t, http.MethodPost, "/points/consume", token, map[string]int{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "请输入扣减数量", env.Error)
}

func TestRequireStaff(t *testing.T) {
	s := newTestServer(t)
	token, user := s.signUp(t, "plain_user")

	path := fmt.Sprintf("/admin/users/%d", user.ID)
	code, env := s.do(t, http.MethodGet, path, token, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "权限不足", env.Error)

	s.promote(t, user.ID)
	code, _ = s.do(t, http.MethodGet, path, token, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodGet, "/admin/users/9999", token, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "用户不存在", env.Error)
}

func TestMutedUserCanReadButNotPost(t *testing.T) {
	s := newTestServer(t)
	adminToken, admin := s.signUp(t, "moderator_1")
	s.promote(t, admin.ID)
	token, user := s.signUp(t, "chatty")

	hours := 2
	code, env := s.do(t, http.MethodPost, fmt.Sprintf("/admin/users/%d/punish", user.ID), adminToken, punishRequest{
		Type:     db.PunishMute,
		Reason:   "刷屏",
		Duration: &hours,
	})
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = s.do(t, http.MethodPost, "/topics", token, topicRequest{Title: "hello", Content: "world"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "你已被禁言", env.Error)
	var restriction service.Restriction
	require.NoError(t, json.Unmarshal(env.Data, &restriction))
	assert.Equal(t, db.UserStatusMuted, restriction.Status)

	code, _ = s.do(t, http.MethodGet, "/points/info", token, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestBannedUserBlockedFromMemberFeatures(t *testing.T) {
	s := newTestServer(t)
	adminToken, admin := s.signUp(t, "root_admin")
	s.promote(t, admin.ID)
	token, user := s.signUp(t, "troll")

	code, env := s.do(t, http.MethodPost, fmt.Sprintf("/admin/users/%d/punish", user.ID), adminToken, punishRequest{
		Type:   db.PunishBan,
		Reason: "违规",
	})
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = s.do(t, http.MethodGet, "/points/info", token, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "账号已被封禁", env.Error)

	// 处罚状态查询仍然开放，便于提交申诉
	code, _ = s.do(t, http.MethodGet, "/status", token, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodPost, fmt.Sprintf("/admin/users/%d/punish", user.ID), adminToken, punishRequest{
		Type:   "exile",
		Reason: "x",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "处罚类型无效", env.Error)
}

func TestBearerTokenSources(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{name: "header", header: "Bearer abc", want: "abc"},
		{name: "lowercase scheme", header: "bearer  xyz ", want: "xyz"},
		{name: "query", query: "?access_token=q1", want: "q1"},
		{name: "other scheme", header: "Basic abc", want: ""},
		{name: "none", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/ws"+tc.query, nil)
			if tc.header != "" {
				c.Request.Header.Set("Authorization", tc.header)
			}
			assert.Equal(t, tc.want, bearerToken(c))
		})
	}
}

func TestHandleServiceErrorFallsBackTo500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rr := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rr)
	c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)

	handleServiceError(c, context.DeadlineExceeded, "查询失败")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.Equal(t, "查询失败", env.Error)
}
