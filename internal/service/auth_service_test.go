package service

import (
	"context"
	"testing"
	"time"

	"github.com/agora/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterLoginAuthenticate(t *testing.T) {
	gdb, reg, clock := setupRegistry(t, Options{TokenTTL: time.Hour})
	ctx := context.Background()

	user, err := reg.Auth.Register(ctx, "新用户_01", "secret123")
	require.NoError(t, err)
	assert.Equal(t, db.RoleUser, user.Role)
	assert.NotEqual(t, "secret123", user.Password)

	_, err = reg.Auth.Register(ctx, "新用户_01", "secret123")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = reg.Auth.Login(ctx, "新用户_01", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = reg.Auth.Login(ctx, "nobody", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	session, err := reg.Auth.Login(ctx, "新用户_01", "secret123")
	require.NoError(t, err)
	assert.Len(t, session.Token, 64)

	var stored db.AuthToken
	require.NoError(t, gdb.First(&stored).Error)
	assert.NotEqual(t, session.Token, stored.TokenHash)

	authed, err := reg.Auth.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, authed.ID)

	clock.Advance(2 * time.Hour)
	_, err = reg.Auth.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	purged, err := reg.Auth.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestLogoutInvalidatesToken(t *testing.T) {
	_, reg, _ := setupRegistry(t, Options{})
	ctx := context.Background()

	_, err := reg.Auth.Register(ctx, "leaver", "secret123")
	require.NoError(t, err)
	session, err := reg.Auth.Login(ctx, "leaver", "secret123")
	require.NoError(t, err)

	require.NoError(t, reg.Auth.Logout(ctx, session.Token))
	_, err = reg.Auth.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = reg.Auth.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRegisterValidation(t *testing.T) {
	_, reg, _ := setupRegistry(t, Options{})
	ctx := context.Background()

	_, err := reg.Auth.Register(ctx, "ab", "secret123")
	assert.ErrorIs(t, err, ErrInvalidUsername)
	_, err = reg.Auth.Register(ctx, "has space", "secret123")
	assert.ErrorIs(t, err, ErrInvalidUsername)
	_, err = reg.Auth.Register(ctx, "shortpw", "123")
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestListUsersFiltersByStatusAndSearch(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	ctx := context.Background()
	createTestUser(t, gdb, "alice")
	createTestUser(t, gdb, "alex")
	bob := createTestUser(t, gdb, "bob")
	require.NoError(t, gdb.Model(bob).Update("status", db.UserStatusMuted).Error)

	page, err := reg.Auth.ListUsers(ctx, UserFilter{Search: "al"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	page, err = reg.Auth.ListUsers(ctx, UserFilter{Status: db.UserStatusMuted})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "bob", page.Items[0].Username)

	_, err = reg.Auth.GetUser(ctx, 404)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
