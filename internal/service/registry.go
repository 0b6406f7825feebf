package service

import (
	"fmt"
	"time"

	"github.com/agora/internal/archive"
	"github.com/agora/internal/rules"
	"gorm.io/gorm"
)

// Options 组装服务时的可选依赖
type Options struct {
	Book             rules.Book
	Clock            Clock
	Board            ExperienceBoard
	Publisher        Publisher
	Archive          archive.Sink
	TokenTTL         time.Duration
	BatchItemTimeout time.Duration
}

// Registry 持有全部业务服务，main、路由与端到端测试共用同一套装配
type Registry struct {
	Auth          *AuthService
	Points        *PointService
	Checkin       *CheckinService
	Leaderboard   *LeaderboardService
	Evaluator     *Evaluator
	Badges        *BadgeService
	Tags          *SpecialTagService
	Tasks         *DailyTaskService
	Punishments   *PunishmentService
	Appeals       *AppealService
	Batches       *BatchService
	Notifications *NotificationService
	Topics        *TopicService
	Activity      *ActivityService
	Dashboard     *DashboardService
	Ledger        *LedgerMaintenance
}

// NewRegistry 按依赖顺序构造服务
func NewRegistry(gdb *gorm.DB, opts Options) (*Registry, error) {
	book := opts.Book
	if len(book.Levels.All()) == 0 {
		book = rules.DefaultBook()
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock
	}

	notifications := NewNotificationService(gdb, opts.Publisher).WithClock(clock)
	leaderboard := NewLeaderboardService(gdb, book.Levels, opts.Board)
	points := NewPointService(gdb, book).
		WithClock(clock).
		WithLeaderboard(leaderboard).
		WithNotifications(notifications)
	evaluator := NewEvaluator(gdb).WithClock(clock)
	badges := NewBadgeService(gdb, evaluator, points, notifications).WithClock(clock)
	tags := NewSpecialTagService(gdb, evaluator, points, notifications).WithClock(clock)
	tasks := NewDailyTaskService(gdb, points, notifications).WithClock(clock)
	activity := NewActivityService(points, tasks, badges, tags)
	punishments := NewPunishmentService(gdb, notifications).WithClock(clock)

	dashboard, err := NewDashboardService(gdb)
	if err != nil {
		return nil, fmt.Errorf("build dashboard: %w", err)
	}

	return &Registry{
		Auth:          NewAuthService(gdb, opts.TokenTTL).WithClock(clock),
		Points:        points,
		Checkin:       NewCheckinService(gdb, points).WithClock(clock).WithActivity(activity),
		Leaderboard:   leaderboard,
		Evaluator:     evaluator,
		Badges:        badges,
		Tags:          tags,
		Tasks:         tasks,
		Punishments:   punishments,
		Appeals:       NewAppealService(gdb, punishments, notifications).WithClock(clock),
		Batches:       NewBatchService(gdb, punishments, points).WithClock(clock).WithItemTimeout(opts.BatchItemTimeout),
		Notifications: notifications,
		Topics:        NewTopicService(gdb).WithActivity(activity).WithNotifications(notifications),
		Activity:      activity,
		Dashboard:     dashboard.WithClock(clock),
		Ledger:        NewLedgerMaintenance(gdb, opts.Archive).WithClock(clock),
	}, nil
}
