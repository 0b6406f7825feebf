package rules

import (
	"fmt"
	"sort"
	"strings"
)

// 规则表中的积分动作
const (
	ActionLogin         = "login"
	ActionCreateTopic   = "create_topic"
	ActionCreateReply   = "create_reply"
	ActionGiveLike      = "give_like"
	ActionReceiveLike   = "receive_like"
	ActionCheckinStreak = "checkin_streak"
	ActionTopicFeatured = "topic_featured"
)

// 不在规则表中的系统流水类型
const (
	LedgerLevelUp     = "level_up"
	LedgerConsume     = "consume"
	LedgerBadgeReward = "badge_reward"
	LedgerTagReward   = "tag_reward"
	LedgerDailyTask   = "daily_task"
	LedgerAdminAdjust = "admin_adjust"
	// 课程完成由外部系统上报，条件 course_complete 按该类型计数
	LedgerCourseComplete = "course_complete"
)

// PointRule 描述一个动作的积分与经验奖励。DailyLimit 为 0 表示不限次数。
type PointRule struct {
	Type        string `json:"type"`
	Points      int64  `json:"points"`
	Experience  int64  `json:"experience"`
	DailyLimit  int    `json:"dailyLimit"`
	Description string `json:"description"`
}

// PointRules 是只读的规则查找表。
type PointRules struct {
	byType map[string]PointRule
}

// NewPointRules 以切片构造规则表，类型重复或为空时报错。
func NewPointRules(list []PointRule) (PointRules, error) {
	byType := make(map[string]PointRule, len(list))
	for _, rule := range list {
		key := strings.TrimSpace(rule.Type)
		if key == "" {
			return PointRules{}, fmt.Errorf("point rule type is required")
		}
		if _, exists := byType[key]; exists {
			return PointRules{}, fmt.Errorf("duplicate point rule %q", key)
		}
		if rule.DailyLimit < 0 {
			return PointRules{}, fmt.Errorf("point rule %q: negative daily limit", key)
		}
		rule.Type = key
		byType[key] = rule
	}
	return PointRules{byType: byType}, nil
}

func MustPointRules(list []PointRule) PointRules {
	r, err := NewPointRules(list)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup 根据动作类型返回规则。
func (r PointRules) Lookup(action string) (PointRule, bool) {
	rule, ok := r.byType[action]
	return rule, ok
}

// All 按类型名排序返回全部规则。
func (r PointRules) All() []PointRule {
	out := make([]PointRule, 0, len(r.byType))
	for _, rule := range r.byType {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// DefaultPointRules 默认积分规则。
func DefaultPointRules() PointRules {
	return MustPointRules([]PointRule{
		{Type: ActionLogin, Points: 5, Experience: 10, DailyLimit: 1, Description: "每日签到"},
		{Type: ActionCreateTopic, Points: 10, Experience: 20, DailyLimit: 10, Description: "发布主题"},
		{Type: ActionCreateReply, Points: 2, Experience: 5, DailyLimit: 50, Description: "发表回复"},
		{Type: ActionGiveLike, Points: 1, Experience: 1, DailyLimit: 20, Description: "点赞他人"},
		{Type: ActionReceiveLike, Points: 2, Experience: 3, DailyLimit: 50, Description: "获得点赞"},
		{Type: ActionCheckinStreak, Points: 20, Experience: 30, DailyLimit: 1, Description: "连续签到 7 天奖励"},
		{Type: ActionTopicFeatured, Points: 50, Experience: 100, Description: "主题被设为精华"},
	})
}

// Book 汇总注入到各个服务中的规则表。
type Book struct {
	Levels LevelTable
	Points PointRules
}

// DefaultBook 返回内置规则。
func DefaultBook() Book {
	return Book{Levels: DefaultLevels(), Points: DefaultPointRules()}
}

// LevelUpBonus 为升级到 newLevel 时的额外积分。
func LevelUpBonus(newLevel int) int64 {
	return int64(newLevel) * 10
}
