package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agora/internal/db"
	"github.com/agora/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantRespectsDailyLimitAndResetsAtLocalMidnight(t *testing.T) {
	gdb, reg, clock := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "limit-user")
	ctx := context.Background()

	first, err := reg.Points.Grant(ctx, user.ID, rules.ActionLogin, "", nil)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, int64(5), first.NewBalance)
	assert.Equal(t, int64(10), first.NewExperience)

	second, err := reg.Points.Grant(ctx, user.ID, rules.ActionLogin, "", nil)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, int64(5), second.NewBalance)

	stored := reloadUser(t, gdb, user.ID)
	assert.Equal(t, int64(5), stored.Balance)
	assert.Equal(t, int64(10), stored.Experience)
	assert.Equal(t, int64(1), countLedger(t, gdb, user.ID, rules.ActionLogin))

	// 推进到东八区次日零点
	clock.Advance(14 * time.Hour)
	third, err := reg.Points.Grant(ctx, user.ID, rules.ActionLogin, "", nil)
	require.NoError(t, err)
	assert.True(t, third.Success)
	assert.Equal(t, int64(10), third.NewBalance)
}

func TestGrantAppliesLevelUpBonus(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "leveler")
	ctx := context.Background()

	result, err := reg.Points.Reward(ctx, user.ID, rules.LedgerAdminAdjust, 0, 300, "manual", nil)
	require.NoError(t, err)
	assert.True(t, result.LeveledUp)
	assert.Equal(t, 3, result.NewLevel)
	assert.Equal(t, rules.LevelUpBonus(3), result.LevelUpBonus)
	assert.Equal(t, rules.LevelUpBonus(3), result.NewBalance)

	stored := reloadUser(t, gdb, user.ID)
	assert.Equal(t, 3, stored.Level)
	assert.Equal(t, int64(30), stored.Balance)
	assert.Equal(t, int64(1), countLedger(t, gdb, user.ID, rules.LedgerLevelUp))

	var levelUps []db.Notification
	require.NoError(t, gdb.Where("user_id = ? AND type = ?", user.ID, NotifyLevelUp).Find(&levelUps).Error)
	assert.Len(t, levelUps, 1)
}

func TestConsumeNeverGoesNegative(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "spender")
	ctx := context.Background()

	_, err := reg.Points.Reward(ctx, user.ID, rules.LedgerAdminAdjust, 20, 0, "seed", nil)
	require.NoError(t, err)

	ok, err := reg.Points.Consume(ctx, user.ID, 15, "兑换")
	require.NoError(t, err)
	assert.True(t, ok.Success)
	assert.Equal(t, int64(5), ok.NewBalance)

	rejected, err := reg.Points.Consume(ctx, user.ID, 6, "兑换")
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.False(t, rejected.Success)
	assert.Equal(t, int64(5), rejected.NewBalance)

	assert.Equal(t, int64(5), reloadUser(t, gdb, user.ID).Balance)
	assert.Equal(t, int64(1), countLedger(t, gdb, user.ID, rules.LedgerConsume))

	_, err = reg.Points.Consume(ctx, user.ID, 0, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = reg.Points.Reward(ctx, user.ID, rules.LedgerAdminAdjust, -100, 0, "too much", nil)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(5), reloadUser(t, gdb, user.ID).Balance)
}

func TestConcurrentGrantsStopAtDailyLimit(t *testing.T) {
	book := rules.Book{
		Levels: rules.DefaultLevels(),
		Points: rules.MustPointRules([]rules.PointRule{
			{Type: "burst", Points: 1, Experience: 1, DailyLimit: 3},
		}),
	}
	gdb, reg, _ := setupRegistry(t, Options{Book: book})
	user := createTestUser(t, gdb, "burst-user")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := reg.Points.Grant(context.Background(), user.ID, "burst", "", nil)
			if err != nil {
				t.Error(err)
				return
			}
			if result.Success {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, success)
	assert.Equal(t, int64(3), countLedger(t, gdb, user.ID, "burst"))
	assert.Equal(t, int64(3), reloadUser(t, gdb, user.ID).Balance)
}

func TestGrantRejectsUnknownRule(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "unknown-rule")

	_, err := reg.Points.Grant(context.Background(), user.ID, "teleport", "", nil)
	assert.ErrorIs(t, err, ErrUnknownPointRule)

	_, err = reg.Points.Grant(context.Background(), 9999, rules.ActionLogin, "", nil)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestHistoryFiltersByTypeNewestFirst(t *testing.T) {
	gdb, reg, clock := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "historian")
	ctx := context.Background()

	for day := 0; day < 3; day++ {
		_, err := reg.Points.Grant(ctx, user.ID, rules.ActionLogin, "", nil)
		require.NoError(t, err)
		_, err = reg.Points.Grant(ctx, user.ID, rules.ActionCreateReply, "", nil)
		require.NoError(t, err)
		clock.NextDay()
	}

	page, err := reg.Points.History(ctx, user.ID, HistoryFilter{Type: rules.ActionLogin, Page: Page{Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 2)
	assert.True(t, page.Items[0].CreatedAt.After(page.Items[1].CreatedAt))
	for _, item := range page.Items {
		assert.Equal(t, rules.ActionLogin, item.Type)
	}

	all, err := reg.Points.History(ctx, user.ID, HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(6), all.Total)
}

func TestInfoReportsTodayGainAndNextLevel(t *testing.T) {
	gdb, reg, clock := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "info-user")
	ctx := context.Background()

	_, err := reg.Points.Grant(ctx, user.ID, rules.ActionLogin, "", nil)
	require.NoError(t, err)
	clock.NextDay()
	_, err = reg.Points.Grant(ctx, user.ID, rules.ActionCreateTopic, "", nil)
	require.NoError(t, err)

	info, err := reg.Points.Info(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), info.Balance)
	assert.Equal(t, int64(30), info.Experience)
	assert.Equal(t, 1, info.Level.Level)
	require.NotNil(t, info.NextLevel)
	assert.Equal(t, 2, info.NextLevel.Level)
	assert.Equal(t, int64(10), info.TodayPoints)
	assert.Equal(t, int64(20), info.TodayExpGain)
}

func TestAdjustRequiresReasonAndNotifies(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "adjusted")
	ctx := context.Background()

	_, err := reg.Points.Adjust(ctx, user.ID, 1, 10, 0, "  ")
	assert.ErrorIs(t, err, ErrReasonRequired)

	result, err := reg.Points.Adjust(ctx, user.ID, 1, 10, 0, "活动补偿")
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.NewBalance)
	assert.Equal(t, int64(1), countLedger(t, gdb, user.ID, rules.LedgerAdminAdjust))

	unread, err := reg.Notifications.UnreadCount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}
