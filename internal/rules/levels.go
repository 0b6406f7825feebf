package rules

import (
	"errors"
	"fmt"
	"math"
)

// Level 描述一个等级档位。
type Level struct {
	Level       int      `json:"level"`
	RequiredExp int64    `json:"requiredExp"`
	Title       string   `json:"title"`
	Badge       string   `json:"badge"`
	Privileges  []string `json:"privileges"`
}

// LevelTable 是按阈值升序排列的不可变等级表。
type LevelTable struct {
	levels []Level
}

var ErrInvalidLevelTable = errors.New("invalid level table")

// NewLevelTable 校验并复制等级配置：首档阈值必须为 0，等级与阈值均严格递增。
// 档位之间允许出现空缺（例如 15 之后直接是 20）。
func NewLevelTable(levels []Level) (LevelTable, error) {
	if len(levels) == 0 {
		return LevelTable{}, fmt.Errorf("%w: empty", ErrInvalidLevelTable)
	}
	if levels[0].RequiredExp != 0 {
		return LevelTable{}, fmt.Errorf("%w: first threshold must be 0", ErrInvalidLevelTable)
	}

	copied := make([]Level, len(levels))
	for i, lv := range levels {
		if i > 0 {
			prev := levels[i-1]
			if lv.Level <= prev.Level {
				return LevelTable{}, fmt.Errorf("%w: level %d not ascending", ErrInvalidLevelTable, lv.Level)
			}
			if lv.RequiredExp <= prev.RequiredExp {
				return LevelTable{}, fmt.Errorf("%w: threshold of level %d not ascending", ErrInvalidLevelTable, lv.Level)
			}
		}
		lv.Privileges = append([]string(nil), lv.Privileges...)
		copied[i] = lv
	}
	return LevelTable{levels: copied}, nil
}

// MustLevelTable 用于内置常量表。
func MustLevelTable(levels []Level) LevelTable {
	table, err := NewLevelTable(levels)
	if err != nil {
		panic(err)
	}
	return table
}

// For 从最高档位向下查找第一个 RequiredExp <= exp 的等级，找不到时回退到首档。
func (t LevelTable) For(exp int64) Level {
	for i := len(t.levels) - 1; i >= 0; i-- {
		if t.levels[i].RequiredExp <= exp {
			return t.levels[i]
		}
	}
	return t.levels[0]
}

// Next 返回比给定等级高的下一个已定义档位。
func (t LevelTable) Next(level int) (Level, bool) {
	for _, lv := range t.levels {
		if lv.Level > level {
			return lv, true
		}
	}
	return Level{}, false
}

// Progress 计算到下一档的进度百分比，无下一档时为 100。
func (t LevelTable) Progress(exp int64) float64 {
	current := t.For(exp)
	next, ok := t.Next(current.Level)
	if !ok {
		return 100
	}
	span := next.RequiredExp - current.RequiredExp
	pct := float64(exp-current.RequiredExp) / float64(span) * 100
	pct = math.Round(pct*100) / 100
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// All 返回等级表副本。
func (t LevelTable) All() []Level {
	out := make([]Level, len(t.levels))
	copy(out, t.levels)
	return out
}

// DefaultLevels 是社区默认等级表。
func DefaultLevels() LevelTable {
	return MustLevelTable([]Level{
		{Level: 1, RequiredExp: 0, Title: "新手上路", Badge: "🌱", Privileges: []string{"post", "reply"}},
		{Level: 2, RequiredExp: 100, Title: "初来乍到", Badge: "🌿", Privileges: []string{"post", "reply", "like"}},
		{Level: 3, RequiredExp: 300, Title: "小有名气", Badge: "🍀", Privileges: []string{"post", "reply", "like", "upload"}},
		{Level: 4, RequiredExp: 600, Title: "渐入佳境", Badge: "🌳", Privileges: []string{"post", "reply", "like", "upload"}},
		{Level: 5, RequiredExp: 1000, Title: "活跃分子", Badge: "⭐", Privileges: []string{"post", "reply", "like", "upload", "signature"}},
		{Level: 6, RequiredExp: 1500, Title: "社区中坚", Badge: "🌟", Privileges: []string{"post", "reply", "like", "upload", "signature"}},
		{Level: 7, RequiredExp: 2100, Title: "资深会员", Badge: "💫", Privileges: []string{"post", "reply", "like", "upload", "signature", "poll"}},
		{Level: 8, RequiredExp: 2800, Title: "论坛达人", Badge: "✨", Privileges: []string{"post", "reply", "like", "upload", "signature", "poll"}},
		{Level: 9, RequiredExp: 3600, Title: "意见领袖", Badge: "🔥", Privileges: []string{"post", "reply", "like", "upload", "signature", "poll"}},
		{Level: 10, RequiredExp: 4500, Title: "社区之星", Badge: "🏅", Privileges: []string{"post", "reply", "like", "upload", "signature", "poll", "color_name"}},
		{Level: 11, RequiredExp: 5500, Title: "明日之星", Badge: "🎖", Privileges: []string{"post", "reply", "like", "upload", "signature", "poll", "color_name"}},
		{Level: 12, RequiredExp: 6600, Title: "论坛精英", Badge: "🏆", Privileges: []string{"post", "reply", "like", "upload", "signature", "poll", "color_name"}},
		{Level: 13, RequiredExp: 7800, Title: "殿堂成员", Badge: "👑", Privileges: []string{"post", "reply", "like", "upload", "signature", "poll", "color_name"}},
		{Level: 14, RequiredExp: 9100, Title: "传奇人物", Badge: "💎", Privileges: []string{"post", "reply", "like", "upload", "signature", "poll", "color_name"}},
		{Level: 15, RequiredExp: 10500, Title: "社区元老", Badge: "🌈", Privileges: []string{"post", "reply", "like", "upload", "signature", "poll", "color_name", "custom_title"}},
		{Level: 20, RequiredExp: 20000, Title: "镇站之宝", Badge: "🐉", Privileges: []string{"post", "reply", "like", "upload", "signature", "poll", "color_name", "custom_title"}},
		{Level: 25, RequiredExp: 35000, Title: "一代宗师", Badge: "🦄", Privileges: []string{"post", "reply", "like", "upload", "signature", "poll", "color_name", "custom_title"}},
		{Level: 30, RequiredExp: 50000, Title: "传说", Badge: "🌌", Privileges: []string{"post", "reply", "like", "upload", "signature", "poll", "color_name", "custom_title"}},
	})
}
