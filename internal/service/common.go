package service

import (
	"sync"
	"time"
)

// Clock 返回当前时间；其时区决定"本地零点"。
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now()
}

// MaxDurationHours 处罚与标签时长的上限，约十年
const MaxDurationHours = 10 * 366 * 24

const maxDuration = time.Duration(MaxDurationHours) * time.Hour

// HoursDuration 把小时数换算为时长；nil 表示永久，非正数或超过上限返回 ErrInvalidDuration
func HoursDuration(hours *int) (*time.Duration, error) {
	if hours == nil {
		return nil, nil
	}
	if *hours <= 0 || *hours > MaxDurationHours {
		return nil, ErrInvalidDuration
	}
	d := time.Duration(*hours) * time.Hour
	return &d, nil
}

func validDuration(d *time.Duration) bool {
	return d == nil || (*d > 0 && *d <= maxDuration)
}

// Related 标记流水或通知关联的业务对象。
type Related struct {
	ID   uint
	Type string
}

// Page 是通用分页参数，Normalize 后 Page>=1、1<=Limit<=100。
type Page struct {
	Page  int
	Limit int
}

func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	return p
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

// userLocks 按用户 ID 分段加锁，串行化同一用户的"计数后写入"。
type userLocks struct {
	stripes [64]sync.Mutex
}

func (l *userLocks) lock(userID uint) func() {
	m := &l.stripes[userID%uint(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
