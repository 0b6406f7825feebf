package service

import (
	"context"
	"testing"

	"github.com/agora/internal/db"
	"github.com/agora/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackCompletesTaskOnce(t *testing.T) {
	publisher := &recordingPublisher{}
	gdb, reg, clock := setupRegistry(t, Options{Publisher: publisher})
	ctx := context.Background()
	user := createTestUser(t, gdb, "replier")

	task, err := reg.Tasks.Create(ctx, DailyTaskInput{
		Name:       "热心回复",
		Type:       db.TaskTypeCreateReply,
		Target:     3,
		Points:     8,
		Experience: 4,
	})
	require.NoError(t, err)
	_, err = reg.Tasks.Create(ctx, DailyTaskInput{Name: "点赞", Type: db.TaskTypeGiveLike, Target: 1, Points: 1})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		done, err := reg.Tasks.Track(ctx, user.ID, db.TaskTypeCreateReply)
		require.NoError(t, err)
		assert.Empty(t, done)
	}
	done, err := reg.Tasks.Track(ctx, user.ID, db.TaskTypeCreateReply)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, task.ID, done[0].ID)

	// 完成后继续触发不再计数，也不重复发奖
	done, err = reg.Tasks.Track(ctx, user.ID, db.TaskTypeCreateReply)
	require.NoError(t, err)
	assert.Empty(t, done)

	assert.Equal(t, int64(1), countLedger(t, gdb, user.ID, rules.LedgerDailyTask))
	refreshed := reloadUser(t, gdb, user.ID)
	assert.Equal(t, int64(8), refreshed.Balance)
	assert.Equal(t, int64(4), refreshed.Experience)
	assert.Equal(t, 1, publisher.count())

	summary, err := reg.Tasks.ForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, summary.Tasks, 2)
	assert.Equal(t, 3, summary.Tasks[0].Progress)
	assert.True(t, summary.Tasks[0].Completed)
	assert.False(t, summary.Tasks[1].Completed)
	assert.Equal(t, TaskStats{Total: 2, Completed: 1, CompletionRate: 50, PointsEarned: 8}, summary.Stats)

	// 新的一天进度重新开始
	clock.NextDay()
	summary, err = reg.Tasks.ForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, summary.Tasks[0].Progress)
	assert.Zero(t, summary.Stats.Completed)
}

func TestTrackWithoutMatchingTasks(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	user := createTestUser(t, gdb, "idle")

	done, err := reg.Tasks.Track(context.Background(), user.ID, db.TaskTypeGiveLike)
	require.NoError(t, err)
	assert.Empty(t, done)

	summary, err := reg.Tasks.ForUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, summary.Tasks)
	assert.Zero(t, summary.Stats.CompletionRate)
}

func TestCreateDailyTaskValidation(t *testing.T) {
	_, reg, _ := setupRegistry(t, Options{})
	ctx := context.Background()

	_, err := reg.Tasks.Create(ctx, DailyTaskInput{Type: db.TaskTypeCheckin, Target: 1})
	assert.ErrorIs(t, err, ErrNameRequired)
	_, err = reg.Tasks.Create(ctx, DailyTaskInput{Name: "x", Type: "dance", Target: 1})
	assert.ErrorIs(t, err, ErrInvalidDailyTaskType)
	_, err = reg.Tasks.Create(ctx, DailyTaskInput{Name: "x", Type: db.TaskTypeCheckin})
	assert.ErrorIs(t, err, ErrInvalidDailyTaskType)

	tasks, err := reg.Tasks.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
