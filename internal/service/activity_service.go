package service

import (
	"context"
	"fmt"

	"github.com/agora/internal/db"
	"github.com/agora/internal/rules"
	log "github.com/sirupsen/logrus"
)

// ActivityHook 接收论坛动作事件，由积分、任务、徽章、标签模块联动处理
type ActivityHook interface {
	CheckedIn(ctx context.Context, userID uint)
	TopicCreated(ctx context.Context, topic *db.Topic)
	ReplyCreated(ctx context.Context, reply *db.Reply)
	LikeGiven(ctx context.Context, like *db.Like)
	TopicFeatured(ctx context.Context, topic *db.Topic)
}

// ActivityService 是 ActivityHook 的默认实现
// 所有联动都只记录日志，不会让触发它的主流程失败
type ActivityService struct {
	points *PointService
	tasks  *DailyTaskService
	badges *BadgeService
	tags   *SpecialTagService
}

// NewActivityService 构造 ActivityService；tasks、badges、tags 可以为 nil
func NewActivityService(points *PointService, tasks *DailyTaskService, badges *BadgeService, tags *SpecialTagService) *ActivityService {
	return &ActivityService{points: points, tasks: tasks, badges: badges, tags: tags}
}

// CheckedIn 签到后推进签到任务并检查成就
func (a *ActivityService) CheckedIn(ctx context.Context, userID uint) {
	a.track(ctx, userID, db.TaskTypeCheckin)
	a.evaluate(ctx, userID)
}

// TopicCreated 发帖奖励
func (a *ActivityService) TopicCreated(ctx context.Context, topic *db.Topic) {
	a.points.GrantQuietly(ctx, topic.UserID, rules.ActionCreateTopic,
		fmt.Sprintf("发布主题「%s」", topic.Title), &Related{ID: topic.ID, Type: "topic"})
	a.track(ctx, topic.UserID, db.TaskTypeCreateTopic)
	a.evaluate(ctx, topic.UserID)
}

// ReplyCreated 回复奖励
func (a *ActivityService) ReplyCreated(ctx context.Context, reply *db.Reply) {
	a.points.GrantQuietly(ctx, reply.UserID, rules.ActionCreateReply,
		"发表回复", &Related{ID: reply.ID, Type: "reply"})
	a.track(ctx, reply.UserID, db.TaskTypeCreateReply)
	a.evaluate(ctx, reply.UserID)
}

// LikeGiven 点赞双方各得一份奖励
func (a *ActivityService) LikeGiven(ctx context.Context, like *db.Like) {
	related := &Related{ID: like.TargetID, Type: like.TargetType}
	a.points.GrantQuietly(ctx, like.UserID, rules.ActionGiveLike, "点赞", related)
	a.track(ctx, like.UserID, db.TaskTypeGiveLike)

	if like.OwnerID != 0 && like.OwnerID != like.UserID {
		a.points.GrantQuietly(ctx, like.OwnerID, rules.ActionReceiveLike, "内容被点赞", related)
		a.evaluate(ctx, like.OwnerID)
	}
}

// TopicFeatured 主题被设为精华
func (a *ActivityService) TopicFeatured(ctx context.Context, topic *db.Topic) {
	a.points.GrantQuietly(ctx, topic.UserID, rules.ActionTopicFeatured,
		fmt.Sprintf("主题「%s」被设为精华", topic.Title), &Related{ID: topic.ID, Type: "topic"})
	a.evaluate(ctx, topic.UserID)
}

func (a *ActivityService) track(ctx context.Context, userID uint, taskType string) {
	if a.tasks == nil {
		return
	}
	if _, err := a.tasks.Track(ctx, userID, taskType); err != nil {
		log.WithFields(log.Fields{"user_id": userID, "task_type": taskType}).WithError(err).Error("track daily task failed")
	}
}

func (a *ActivityService) evaluate(ctx context.Context, userID uint) {
	if a.badges != nil {
		if _, err := a.badges.CheckAndAward(ctx, userID); err != nil {
			log.WithField("user_id", userID).WithError(err).Error("badge check failed")
		}
	}
	if a.tags != nil {
		if _, err := a.tags.CheckAndAward(ctx, userID); err != nil {
			log.WithField("user_id", userID).WithError(err).Error("special tag check failed")
		}
	}
}
