package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/agora/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyPersistsAndPublishes(t *testing.T) {
	publisher := &recordingPublisher{}
	gdb, reg, _ := setupRegistry(t, Options{Publisher: publisher})
	user := createTestUser(t, gdb, "listener")
	ctx := context.Background()

	n, err := reg.Notifications.Notify(ctx, NotifyInput{
		UserID:  user.ID,
		Type:    NotifyBadge,
		Title:   "获得新徽章",
		Payload: map[string]interface{}{"badgeId": 3},
	})
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(n.Payload, &payload))
	assert.Equal(t, float64(3), payload["badgeId"])

	require.Equal(t, 1, publisher.count())
	assert.Equal(t, user.ID, publisher.events[0].userID)
	assert.Equal(t, "notification", publisher.events[0].eventType)
	sent, ok := publisher.events[0].data.(db.Notification)
	require.True(t, ok)
	assert.Equal(t, n.ID, sent.ID)
}

func TestMarkReadAndUnreadCounts(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "reader")
	other := createTestUser(t, gdb, "other")
	ctx := context.Background()

	ids := make([]uint, 0, 3)
	for i := 0; i < 3; i++ {
		n, err := reg.Notifications.Notify(ctx, NotifyInput{UserID: user.ID, Type: NotifyReply, Title: "新回复"})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}

	require.NoError(t, reg.Notifications.MarkRead(ctx, user.ID, ids[0]))
	require.NoError(t, reg.Notifications.MarkRead(ctx, user.ID, ids[0]))
	assert.ErrorIs(t, reg.Notifications.MarkRead(ctx, other.ID, ids[1]), ErrNotificationNotFound)

	page, err := reg.Notifications.List(ctx, user.ID, NotificationFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, int64(2), page.Unread)
	assert.Equal(t, ids[2], page.Items[0].ID)

	marked, err := reg.Notifications.MarkAllRead(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	unread, err := reg.Notifications.UnreadCount(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)
}
