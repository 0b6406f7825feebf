package db

import (
	"fmt"

	"github.com/agora/internal/rules"
	"gorm.io/gorm"
)

// SeedDefaults 在表为空时写入默认徽章、特殊标签与每日任务。
func SeedDefaults(gdb *gorm.DB) error {
	return gdb.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Badge{}).Count(&count).Error; err != nil {
			return fmt.Errorf("count badges: %w", err)
		}
		if count == 0 {
			if err := tx.Create(defaultBadges()).Error; err != nil {
				return fmt.Errorf("seed badges: %w", err)
			}
		}

		if err := tx.Model(&SpecialTag{}).Count(&count).Error; err != nil {
			return fmt.Errorf("count special tags: %w", err)
		}
		if count == 0 {
			if err := tx.Create(defaultSpecialTags()).Error; err != nil {
				return fmt.Errorf("seed special tags: %w", err)
			}
		}

		if err := tx.Model(&DailyTask{}).Count(&count).Error; err != nil {
			return fmt.Errorf("count daily tasks: %w", err)
		}
		if count == 0 {
			if err := tx.Create(defaultDailyTasks()).Error; err != nil {
				return fmt.Errorf("seed daily tasks: %w", err)
			}
		}
		return nil
	})
}

func defaultBadges() []Badge {
	return []Badge{
		{Name: "初出茅庐", Description: "发布第一篇主题", Icon: "✍️", Condition: rules.Condition{Type: rules.CondPostCount, Target: 1}, RewardPoints: 10, RewardExp: 10, Active: true, SortOrder: 1},
		{Name: "笔耕不辍", Description: "累计发布 50 篇主题", Icon: "📚", Condition: rules.Condition{Type: rules.CondPostCount, Target: 50}, RewardPoints: 100, RewardExp: 100, Active: true, SortOrder: 2},
		{Name: "热心回复", Description: "累计回复 100 次", Icon: "💬", Condition: rules.Condition{Type: rules.CondReplyCount, Target: 100}, RewardPoints: 50, RewardExp: 50, Active: true, SortOrder: 3},
		{Name: "人气之星", Description: "累计获得 100 个赞", Icon: "❤️", Condition: rules.Condition{Type: rules.CondLikeCount, Target: 100}, RewardPoints: 80, RewardExp: 80, Active: true, SortOrder: 4},
		{Name: "持之以恒", Description: "连续签到 7 天", Icon: "📅", Condition: rules.Condition{Type: rules.CondConsecutiveCheckin, Target: 7}, RewardPoints: 30, RewardExp: 30, Active: true, SortOrder: 5},
		{Name: "月度全勤", Description: "连续签到 30 天", Icon: "🗓️", Condition: rules.Condition{Type: rules.CondConsecutiveCheckin, Target: 30}, RewardPoints: 150, RewardExp: 150, Active: true, SortOrder: 6},
		{Name: "社区之星", Description: "达到 10 级", Icon: "🏅", Condition: rules.Condition{Type: rules.CondLevel, Target: 10}, RewardPoints: 200, RewardExp: 0, Active: true, SortOrder: 7},
		{Name: "好学不倦", Description: "完成 5 门课程", Icon: "🎓", Condition: rules.Condition{Type: rules.CondCourseComplete, Target: 5}, RewardPoints: 100, RewardExp: 100, Active: true, SortOrder: 8},
	}
}

func defaultSpecialTags() []SpecialTag {
	return []SpecialTag{
		{Name: "本周活跃", Description: "一周内发布 5 篇主题", Color: "#f59e0b", Icon: "⚡", Condition: rules.Condition{Type: rules.CondPostCount, Target: 5, Period: rules.PeriodWeek}, DurationDays: 7, Active: true},
		{Name: "元老", Description: "达到 15 级", Color: "#8b5cf6", Icon: "🏛️", Condition: rules.Condition{Type: rules.CondLevel, Target: 15}, Active: true},
		{Name: "版主推荐", Description: "由管理员授予", Color: "#10b981", Icon: "🌟", Active: true},
	}
}

func defaultDailyTasks() []DailyTask {
	return []DailyTask{
		{Name: "每日签到", Description: "完成一次签到", Type: TaskTypeCheckin, Target: 1, Points: 5, Experience: 5, Active: true, SortOrder: 1},
		{Name: "发布主题", Description: "发布 1 篇主题", Type: TaskTypeCreateTopic, Target: 1, Points: 10, Experience: 10, Active: true, SortOrder: 2},
		{Name: "参与讨论", Description: "发表 3 条回复", Type: TaskTypeCreateReply, Target: 3, Points: 10, Experience: 10, Active: true, SortOrder: 3},
		{Name: "点赞鼓励", Description: "为他人点赞 5 次", Type: TaskTypeGiveLike, Target: 5, Points: 5, Experience: 5, Active: true, SortOrder: 4},
	}
}
