package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agora/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func hours(n int) *time.Duration {
	d := time.Duration(n) * time.Hour
	return &d
}

func TestPermanentBanAndRevoke(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	admin := createTestUser(t, gdb, "moderator")
	user := createTestUser(t, gdb, "offender")
	ctx := context.Background()

	ban, err := reg.Punishments.Punish(ctx, PunishInput{
		UserID:     user.ID,
		OperatorID: &admin.ID,
		Type:       db.PunishBan,
		Reason:     "spam",
	})
	require.NoError(t, err)
	assert.Nil(t, ban.EndTime)
	assert.Equal(t, 5, ban.Severity)

	stored := reloadUser(t, gdb, user.ID)
	assert.Equal(t, db.UserStatusBanned, stored.Status)
	assert.Equal(t, 1, stored.ViolationCount)
	assert.Equal(t, 50, stored.TrustScore)

	restriction, err := reg.Punishments.ActiveRestriction(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, restriction.Blocks())

	revoked, err := reg.Punishments.Revoke(ctx, ban.ID, &admin.ID, "误封")
	require.NoError(t, err)
	assert.Equal(t, db.PunishmentRevoked, revoked.Status)
	assert.Equal(t, db.UserStatusActive, reloadUser(t, gdb, user.ID).Status)

	_, err = reg.Punishments.Revoke(ctx, ban.ID, &admin.ID, "again")
	assert.ErrorIs(t, err, ErrPunishmentNotActive)

	var notes []db.Notification
	require.NoError(t, gdb.Where("user_id = ?", user.ID).Order("id ASC").Find(&notes).Error)
	require.Len(t, notes, 2)
	assert.Equal(t, NotifyPunishment, notes[0].Type)
	assert.Equal(t, NotifyPunishmentRevoked, notes[1].Type)
}

func TestMuteExpiresThroughSweep(t *testing.T) {
	gdb, reg, clock := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "noisy")
	ctx := context.Background()

	mute, err := reg.Punishments.Punish(ctx, PunishInput{UserID: user.ID, Type: db.PunishMute, Reason: "flood", Duration: hours(2)})
	require.NoError(t, err)
	require.NotNil(t, mute.EndTime)
	assert.Equal(t, db.UserStatusMuted, reloadUser(t, gdb, user.ID).Status)

	swept, err := reg.Punishments.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)

	clock.Advance(2*time.Hour + time.Minute)
	swept, err = reg.Punishments.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	assert.Equal(t, db.UserStatusActive, reloadUser(t, gdb, user.ID).Status)
	p, err := reg.Punishments.Get(ctx, mute.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PunishmentExpired, p.Status)

	_, err = reg.Punishments.Revoke(ctx, mute.ID, nil, "late")
	assert.ErrorIs(t, err, ErrPunishmentNotActive)
}

func TestRestrictionExpiresLazilyBeforeSweep(t *testing.T) {
	gdb, reg, clock := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "lazy")
	ctx := context.Background()

	_, err := reg.Punishments.Punish(ctx, PunishInput{UserID: user.ID, Type: db.PunishSuspend, Reason: "abuse", Duration: hours(1)})
	require.NoError(t, err)

	clock.Advance(90 * time.Minute)
	restriction, err := reg.Punishments.ActiveRestriction(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, db.UserStatusActive, restriction.Status)
	assert.False(t, restriction.Mutes())
	assert.Equal(t, db.UserStatusActive, reloadUser(t, gdb, user.ID).Status)
}

func TestWarningDoesNotChangeStatus(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "warned")
	ctx := context.Background()

	warning, err := reg.Punishments.Punish(ctx, PunishInput{UserID: user.ID, Type: db.PunishWarning, Reason: "off topic"})
	require.NoError(t, err)
	assert.Equal(t, 1, warning.Severity)

	stored := reloadUser(t, gdb, user.ID)
	assert.Equal(t, db.UserStatusActive, stored.Status)
	assert.Equal(t, 90, stored.TrustScore)
	assert.Equal(t, 1, stored.ViolationCount)
}

func TestStatusFollowsStrongestRemainingPunishment(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "layered")
	ctx := context.Background()

	mute, err := reg.Punishments.Punish(ctx, PunishInput{UserID: user.ID, Type: db.PunishMute, Severity: 3, Reason: "a"})
	require.NoError(t, err)
	suspend, err := reg.Punishments.Punish(ctx, PunishInput{UserID: user.ID, Type: db.PunishSuspend, Severity: 3, Reason: "b"})
	require.NoError(t, err)

	// 严重度相同取限制更强的 suspend
	assert.Equal(t, db.UserStatusSuspended, reloadUser(t, gdb, user.ID).Status)

	_, err = reg.Punishments.Revoke(ctx, suspend.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, db.UserStatusMuted, reloadUser(t, gdb, user.ID).Status)

	_, err = reg.Punishments.Revoke(ctx, mute.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, db.UserStatusActive, reloadUser(t, gdb, user.ID).Status)

	assert.Equal(t, 40, reloadUser(t, gdb, user.ID).TrustScore)
}

func TestPunishValidation(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "validation")
	ctx := context.Background()

	_, err := reg.Punishments.Punish(ctx, PunishInput{UserID: user.ID, Type: "exile", Reason: "x"})
	assert.ErrorIs(t, err, ErrInvalidPunishment)

	_, err = reg.Punishments.Punish(ctx, PunishInput{UserID: user.ID, Type: db.PunishMute, Severity: 9, Reason: "x"})
	assert.ErrorIs(t, err, ErrInvalidSeverity)

	_, err = reg.Punishments.Punish(ctx, PunishInput{UserID: user.ID, Type: db.PunishMute, Reason: "x", Duration: hours(0)})
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = reg.Punishments.Punish(ctx, PunishInput{UserID: user.ID, Type: db.PunishMute})
	assert.ErrorIs(t, err, ErrReasonRequired)

	_, err = reg.Punishments.Punish(ctx, PunishInput{UserID: 404, Type: db.PunishMute, Reason: "x"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRevokeAllForUser(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "pardoned")
	ctx := context.Background()

	for _, kind := range []string{db.PunishMute, db.PunishBan} {
		_, err := reg.Punishments.Punish(ctx, PunishInput{UserID: user.ID, Type: kind, Reason: "x"})
		require.NoError(t, err)
	}

	n, err := reg.Punishments.RevokeAllForUser(ctx, user.ID, nil, "大赦")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, db.UserStatusActive, reloadUser(t, gdb, user.ID).Status)

	page, err := reg.Punishments.List(ctx, PunishmentFilter{UserID: user.ID, Status: db.PunishmentRevoked})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
}

func TestSweepCountsOnlyCommittedExpiries(t *testing.T) {
	gdb, reg, clock := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "stuck")
	ctx := context.Background()

	_, err := reg.Punishments.Punish(ctx, PunishInput{UserID: user.ID, Type: db.PunishMute, Reason: "flood", Duration: hours(1)})
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	// 让用户状态回写失败，整个到期事务随之回滚
	failing := true
	require.NoError(t, gdb.Callback().Update().Before("gorm:update").Register("test:fail_user_status", func(tx *gorm.DB) {
		if failing && tx.Statement.Table == "users" {
			tx.AddError(errors.New("users table locked"))
		}
	}))

	swept, err := reg.Punishments.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)

	var active int64
	require.NoError(t, gdb.Model(&db.UserPunishment{}).Where("status = ?", db.PunishmentActive).Count(&active).Error)
	assert.Equal(t, int64(1), active)

	failing = false
	swept, err = reg.Punishments.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.Equal(t, db.UserStatusActive, reloadUser(t, gdb, user.ID).Status)
}

func TestHoursDurationBounds(t *testing.T) {
	valid := 72
	d, err := HoursDuration(&valid)
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, *d)

	d, err = HoursDuration(nil)
	require.NoError(t, err)
	assert.Nil(t, d)

	for _, h := range []int{0, -5, MaxDurationHours + 1, 5124096} {
		h := h
		_, err := HoursDuration(&h)
		assert.ErrorIs(t, err, ErrInvalidDuration, "hours=%d", h)
	}
}

func TestPunishRejectsDurationBeyondCap(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "forever")
	ctx := context.Background()

	_, err := reg.Punishments.Punish(ctx, PunishInput{UserID: user.ID, Type: db.PunishBan, Reason: "x", Duration: hours(MaxDurationHours + 24)})
	assert.ErrorIs(t, err, ErrInvalidDuration)

	p, err := reg.Punishments.Punish(ctx, PunishInput{UserID: user.ID, Type: db.PunishBan, Reason: "x", Duration: hours(MaxDurationHours)})
	require.NoError(t, err)
	require.NotNil(t, p.EndTime)
	assert.Equal(t, time.Duration(MaxDurationHours)*time.Hour, p.EndTime.Sub(p.StartTime))
}
