package rules

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConditionType 是徽章/标签/任务条件的种类。
type ConditionType string

const (
	CondPostCount          ConditionType = "post_count"
	CondReplyCount         ConditionType = "reply_count"
	CondLikeCount          ConditionType = "like_count"
	CondLevel              ConditionType = "level"
	CondConsecutiveCheckin ConditionType = "consecutive_checkin"
	CondCourseComplete     ConditionType = "course_complete"
)

// Period 限定计数的时间窗口。
type Period string

const (
	PeriodAllTime Period = "all_time"
	PeriodDay     Period = "day"
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
)

var ErrInvalidCondition = errors.New("invalid condition")

// Condition 是带类型标记的达成条件，持久化为 JSON 文本列。
type Condition struct {
	Type   ConditionType `json:"type"`
	Target int64         `json:"target"`
	Period Period        `json:"period,omitempty"`
}

// ParseCondition 解析并校验 JSON 形式的条件。
func ParseCondition(raw []byte) (Condition, error) {
	var cond Condition
	if err := json.Unmarshal(raw, &cond); err != nil {
		return Condition{}, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	if err := cond.Validate(); err != nil {
		return Condition{}, err
	}
	return cond.normalized(), nil
}

// Validate 检查条件类型、目标值与时间窗口。
func (c Condition) Validate() error {
	switch c.Type {
	case CondPostCount, CondReplyCount, CondLikeCount, CondLevel, CondConsecutiveCheckin, CondCourseComplete:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCondition, c.Type)
	}
	if c.Target <= 0 {
		return fmt.Errorf("%w: target must be positive", ErrInvalidCondition)
	}
	switch c.Period {
	case "", PeriodAllTime, PeriodDay, PeriodWeek, PeriodMonth:
	default:
		return fmt.Errorf("%w: unknown period %q", ErrInvalidCondition, c.Period)
	}
	if c.Period != "" && c.Period != PeriodAllTime {
		// 等级与连续签到本身不是计数，窗口没有意义
		if c.Type == CondLevel || c.Type == CondConsecutiveCheckin {
			return fmt.Errorf("%w: %s does not accept a period", ErrInvalidCondition, c.Type)
		}
	}
	return nil
}

func (c Condition) normalized() Condition {
	if c.Period == "" {
		c.Period = PeriodAllTime
	}
	return c
}

// Since 返回时间窗口的起点；all_time 返回零值与 false。
// day 为本地零点，week 为往前 7 天，month 为当月 1 日零点。
func (p Period) Since(now time.Time) (time.Time, bool) {
	switch p {
	case PeriodDay:
		return StartOfDay(now), true
	case PeriodWeek:
		return now.AddDate(0, 0, -7), true
	case PeriodMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), true
	default:
		return time.Time{}, false
	}
}

// StartOfDay 截断到 t 所在时区的零点。
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// IsZero 表示未配置条件（仅可手动授予）。
func (c Condition) IsZero() bool {
	return c.Type == ""
}

// Value 实现 driver.Valuer，未配置的条件存为 NULL。
func (c Condition) Value() (driver.Value, error) {
	if c.IsZero() {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(c.normalized())
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan 实现 sql.Scanner，读取时即完成校验。
func (c *Condition) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*c = Condition{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("%w: unsupported column type %T", ErrInvalidCondition, value)
	}
	if strings.TrimSpace(string(raw)) == "" {
		*c = Condition{}
		return nil
	}
	parsed, err := ParseCondition(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// GormDataType 让 AutoMigrate 使用文本列。
func (Condition) GormDataType() string {
	return "text"
}
