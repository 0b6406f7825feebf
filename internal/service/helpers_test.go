package service

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agora/internal/db"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

// testZone 固定为东八区，验证"本地零点"不依赖机器时区
var testZone = time.FixedZone("CST", 8*3600)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, testZone)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) NextDay() {
	c.Advance(24 * time.Hour)
}

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:service-%d-%d?mode=memory&cache=shared", time.Now().UnixNano(), testDBSeq.Add(1))
	gdb, err := db.Open(db.Options{Driver: "sqlite", Path: dsn, Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func setupRegistry(t *testing.T, opts Options) (*gorm.DB, *Registry, *fakeClock) {
	t.Helper()
	gdb := setupServiceTestDB(t)
	clock := newFakeClock()
	if opts.Clock == nil {
		opts.Clock = clock.Now
	}
	reg, err := NewRegistry(gdb, opts)
	require.NoError(t, err)
	t.Cleanup(reg.Batches.Wait)
	return gdb, reg, clock
}

func createTestUser(t *testing.T, gdb *gorm.DB, username string) *db.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &db.User{
		Username:   username,
		Password:   string(hashed),
		Role:       db.RoleUser,
		Level:      1,
		Status:     db.UserStatusActive,
		TrustScore: 100,
	}
	require.NoError(t, gdb.Create(user).Error)
	return user
}

func reloadUser(t *testing.T, gdb *gorm.DB, id uint) db.User {
	t.Helper()
	var user db.User
	require.NoError(t, gdb.First(&user, id).Error)
	return user
}

func countLedger(t *testing.T, gdb *gorm.DB, userID uint, kind string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, gdb.Model(&db.PointHistory{}).Where("user_id = ? AND type = ?", userID, kind).Count(&n).Error)
	return n
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	userID    uint
	eventType string
	data      interface{}
}

func (p *recordingPublisher) Publish(userID uint, eventType string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{userID: userID, eventType: eventType, data: data})
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
