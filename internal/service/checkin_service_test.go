package service

import (
	"context"
	"errors"
	"testing"

	"github.com/agora/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCheckinThreeDaysInARow(t *testing.T) {
	gdb, reg, clock := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "three-days")
	ctx := context.Background()

	var last CheckinResult
	for day := 1; day <= 3; day++ {
		result, err := reg.Checkin.Checkin(ctx, user.ID)
		require.NoError(t, err)
		require.True(t, result.Success)
		assert.Equal(t, day, result.ConsecutiveDays)
		last = result
		clock.NextDay()
	}

	assert.Equal(t, int64(15), last.NewBalance)
	assert.Equal(t, int64(30), last.NewExperience)
	assert.Equal(t, int64(3), countLedger(t, gdb, user.ID, rules.ActionLogin))

	stored := reloadUser(t, gdb, user.ID)
	assert.Equal(t, int64(15), stored.Balance)
	assert.Equal(t, int64(30), stored.Experience)
}

func TestCheckinTwiceSameDay(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "twice")
	ctx := context.Background()

	first, err := reg.Checkin.Checkin(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := reg.Checkin.Checkin(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, 1, second.ConsecutiveDays)
	assert.Equal(t, int64(5), second.NewBalance)
	assert.Equal(t, int64(1), countLedger(t, gdb, user.ID, rules.ActionLogin))
}

func TestCheckinSeventhDayPaysStreakBonus(t *testing.T) {
	gdb, reg, clock := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "streaker")
	ctx := context.Background()

	var last CheckinResult
	for day := 1; day <= 7; day++ {
		result, err := reg.Checkin.Checkin(ctx, user.ID)
		require.NoError(t, err)
		require.True(t, result.Success)
		if day < 7 {
			assert.Zero(t, result.BonusPoints)
		}
		last = result
		clock.NextDay()
	}

	assert.Equal(t, 7, last.ConsecutiveDays)
	assert.Equal(t, int64(20), last.BonusPoints)
	assert.Equal(t, int64(30), last.BonusExperience)
	assert.True(t, last.LeveledUp)
	assert.Equal(t, 2, last.NewLevel)
	// 7 次签到 35 + 连签奖励 20 + 升到 Lv.2 奖励 20
	assert.Equal(t, int64(75), last.NewBalance)
	assert.Equal(t, int64(100), last.NewExperience)
	assert.Equal(t, int64(1), countLedger(t, gdb, user.ID, rules.ActionCheckinStreak))
}

func TestCheckinGapResetsStreak(t *testing.T) {
	gdb, reg, clock := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "gap")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := reg.Checkin.Checkin(ctx, user.ID)
		require.NoError(t, err)
		clock.NextDay()
	}
	clock.NextDay()

	result, err := reg.Checkin.Checkin(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 1, result.ConsecutiveDays)
}

func TestCheckinCompletesDailyTask(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "tasker")
	ctx := context.Background()

	_, err := reg.Tasks.Create(ctx, DailyTaskInput{Name: "签到", Type: "checkin", Target: 1, Points: 5, Experience: 5})
	require.NoError(t, err)

	_, err = reg.Checkin.Checkin(ctx, user.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(1), countLedger(t, gdb, user.ID, rules.LedgerDailyTask))
	assert.Equal(t, int64(10), reloadUser(t, gdb, user.ID).Balance)
}

func TestCheckinSurvivesStreakQueryFailure(t *testing.T) {
	gdb, reg, clock := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "streak-broken")
	ctx := context.Background()

	// 连续天数按页查询流水，只让带 LIMIT 的流水查询失败，发奖路径不受影响
	failing := true
	require.NoError(t, gdb.Callback().Query().Before("gorm:query").Register("fail_streak_query", func(tx *gorm.DB) {
		if !failing || tx.Statement.Table != "point_histories" {
			return
		}
		if _, paged := tx.Statement.Clauses["LIMIT"]; paged {
			tx.AddError(errors.New("streak query unavailable"))
		}
	}))

	result, err := reg.Checkin.Checkin(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.ConsecutiveDays)
	assert.Equal(t, "签到成功", result.Message)
	assert.Equal(t, int64(5), result.NewBalance)
	assert.Equal(t, int64(1), countLedger(t, gdb, user.ID, rules.ActionLogin))

	failing = false
	clock.NextDay()
	result, err = reg.Checkin.Checkin(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ConsecutiveDays)
	assert.Equal(t, int64(10), reloadUser(t, gdb, user.ID).Balance)
}
