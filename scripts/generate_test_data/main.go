package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/agora/internal/config"
	"github.com/agora/internal/db"
	"github.com/agora/internal/service"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 测试数据生成器：通过业务服务写入，积分、任务与徽章按正常规则联动
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("配置加载失败:", err)
	}
	gdb, err := db.Init(db.Options{Driver: cfg.DBDriver, Path: cfg.DatabasePath, URL: cfg.DatabaseURL})
	if err != nil {
		log.Fatal("数据库初始化失败:", err)
	}
	reg, err := service.NewRegistry(gdb, service.Options{TokenTTL: cfg.TokenTTL})
	if err != nil {
		log.Fatal("服务初始化失败:", err)
	}

	fmt.Println("开始生成测试数据...")
	summary, err := generate(context.Background(), gdb, reg)
	if err != nil {
		log.Fatal("生成测试数据失败:", err)
	}
	fmt.Printf("测试数据生成完成！用户 %d 个，主题 %d 篇，回复 %d 条，点赞 %d 次\n",
		summary.users, summary.topics, summary.replies, summary.likes)
	fmt.Println("用户密码统一为: user123")
}

type seedSummary struct {
	users   int
	topics  int
	replies int
	likes   int
}

var seedUsers = []string{"alice", "bob", "carol", "dave"}

var seedTopics = []struct {
	author  int
	title   string
	content string
}{
	{0, "新人报到", "大家好，我是新来的，请多关照。"},
	{1, "Go 并发模式整理", "整理了常见的 **worker pool**、`errgroup` 与 pipeline 写法。"},
	{2, "每周读书分享", "本周在读《数据密集型应用系统设计》，欢迎讨论。"},
	{3, "论坛积分规则说明", "签到、发帖、回复、点赞都可以获得积分，连续签到 7 天有额外奖励。"},
}

func generate(ctx context.Context, gdb *gorm.DB, reg *service.Registry) (seedSummary, error) {
	var summary seedSummary

	users := make([]*db.User, 0, len(seedUsers))
	for _, name := range seedUsers {
		user, err := reg.Auth.Register(ctx, name, "user123")
		if errors.Is(err, service.ErrUsernameTaken) {
			var existing db.User
			if err := gdb.WithContext(ctx).Where("username = ?", name).First(&existing).Error; err != nil {
				return summary, err
			}
			user = &existing
		} else if err != nil {
			return summary, err
		} else {
			summary.users++
		}
		users = append(users, user)
	}
	fmt.Println("✅ 测试用户创建完成")

	for _, u := range users {
		if _, err := reg.Checkin.Checkin(ctx, u.ID); err != nil {
			return summary, err
		}
	}

	topics := make([]*db.Topic, 0, len(seedTopics))
	for _, t := range seedTopics {
		topic, err := reg.Topics.CreateTopic(ctx, service.TopicInput{
			UserID:  users[t.author].ID,
			Title:   t.title,
			Content: t.content,
		})
		if err != nil {
			return summary, err
		}
		topics = append(topics, topic)
		summary.topics++
	}
	fmt.Println("✅ 测试主题创建完成")

	for i, topic := range topics {
		for j, u := range users {
			if u.ID == topic.UserID {
				continue
			}
			if _, err := reg.Topics.CreateReply(ctx, topic.ID, u.ID, fmt.Sprintf("第 %d 楼：支持一下！", j+1)); err != nil {
				return summary, err
			}
			summary.replies++
			if (i+j)%2 == 0 {
				if _, err := reg.Topics.LikeTopic(ctx, u.ID, topic.ID); err != nil && !errors.Is(err, service.ErrAlreadyLiked) {
					return summary, err
				}
				summary.likes++
			}
		}
	}
	fmt.Println("✅ 测试回复与点赞创建完成")
	return summary, nil
}
