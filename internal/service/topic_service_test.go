package service

import (
	"context"
	"testing"

	"github.com/agora/internal/db"
	"github.com/agora/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMarkdownSanitizes(t *testing.T) {
	html, err := RenderMarkdown("**bold** <script>alert(1)</script> [link](javascript:alert(1))")
	require.NoError(t, err)
	assert.Contains(t, html, "<strong>bold</strong>")
	assert.NotContains(t, html, "<script")
	assert.NotContains(t, html, "javascript:")
}

func TestCreateTopicGrantsPointsAndBadge(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	author := createTestUser(t, gdb, "writer")
	ctx := context.Background()

	_, err := reg.Badges.Create(ctx, BadgeInput{Name: "初出茅庐", Condition: rules.Condition{Type: rules.CondPostCount, Target: 1}})
	require.NoError(t, err)

	topic, err := reg.Topics.CreateTopic(ctx, TopicInput{UserID: author.ID, Title: "Hello World Go", Content: "# Title\n\nbody"})
	require.NoError(t, err)
	assert.Equal(t, "hello-world-go", topic.Slug)
	assert.Contains(t, topic.ContentHTML, "<h1")

	stored := reloadUser(t, gdb, author.ID)
	assert.Equal(t, int64(10), stored.Balance)
	assert.Equal(t, int64(20), stored.Experience)

	owned, err := reg.Badges.Mine(ctx, author.ID)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "初出茅庐", owned[0].Badge.Name)

	_, err = reg.Topics.CreateTopic(ctx, TopicInput{UserID: author.ID, Title: " ", Content: "x"})
	assert.ErrorIs(t, err, ErrTitleRequired)
	_, err = reg.Topics.CreateTopic(ctx, TopicInput{UserID: author.ID, Title: "x"})
	assert.ErrorIs(t, err, ErrContentRequired)
	_, err = reg.Topics.CreateTopic(ctx, TopicInput{UserID: 404, Title: "x", Content: "y"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRepliesAndLikesFlowIntoPoints(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	author := createTestUser(t, gdb, "op")
	fan := createTestUser(t, gdb, "fan")
	ctx := context.Background()

	topic, err := reg.Topics.CreateTopic(ctx, TopicInput{UserID: author.ID, Title: "讨论", Content: "正文"})
	require.NoError(t, err)

	reply, err := reg.Topics.CreateReply(ctx, topic.ID, fan.ID, "同意")
	require.NoError(t, err)
	assert.Equal(t, topic.ID, reply.TopicID)

	_, err = reg.Topics.LikeTopic(ctx, fan.ID, topic.ID)
	require.NoError(t, err)
	_, err = reg.Topics.LikeTopic(ctx, fan.ID, topic.ID)
	assert.ErrorIs(t, err, ErrAlreadyLiked)
	_, err = reg.Topics.LikeTopic(ctx, author.ID, topic.ID)
	assert.ErrorIs(t, err, ErrCannotLikeOwn)
	_, err = reg.Topics.LikeReply(ctx, author.ID, reply.ID)
	require.NoError(t, err)
	_, err = reg.Topics.LikeReply(ctx, author.ID, 404)
	assert.ErrorIs(t, err, ErrReplyNotFound)

	loaded, err := reg.Topics.Get(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.ReplyCount)
	assert.Equal(t, 1, loaded.LikeCount)
	require.Len(t, loaded.Replies, 1)
	assert.Equal(t, 1, loaded.Replies[0].LikeCount)

	// 发帖 10 + 获赞 2 + 给回复点赞 1
	assert.Equal(t, int64(13), reloadUser(t, gdb, author.ID).Balance)
	// 回复 2 + 点赞 1 + 回复获赞 2
	assert.Equal(t, int64(5), reloadUser(t, gdb, fan.ID).Balance)

	var notes []db.Notification
	require.NoError(t, gdb.Where("user_id = ? AND type = ?", author.ID, NotifyReply).Find(&notes).Error)
	assert.Len(t, notes, 1)

	_, err = reg.Topics.CreateReply(ctx, 404, fan.ID, "lost")
	assert.ErrorIs(t, err, ErrTopicNotFound)
	_, err = reg.Topics.Get(ctx, 404)
	assert.ErrorIs(t, err, ErrTopicNotFound)
}

func TestSetFeaturedRewardsOnce(t *testing.T) {
	gdb, reg, _ := setupRegistry(t, Options{})
	author := createTestUser(t, gdb, "featured-author")
	ctx := context.Background()

	topic, err := reg.Topics.CreateTopic(ctx, TopicInput{UserID: author.ID, Title: "精华", Content: "内容"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		featured, err := reg.Topics.SetFeatured(ctx, topic.ID, true)
		require.NoError(t, err)
		assert.True(t, featured.Featured)
	}
	assert.Equal(t, int64(1), countLedger(t, gdb, author.ID, rules.ActionTopicFeatured))

	page, err := reg.Topics.List(ctx, TopicFilter{Featured: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)

	_, err = reg.Topics.SetFeatured(ctx, topic.ID, false)
	require.NoError(t, err)
	page, err = reg.Topics.List(ctx, TopicFilter{Featured: true})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	_, err = reg.Topics.SetFeatured(ctx, 404, true)
	assert.ErrorIs(t, err, ErrTopicNotFound)
}
