package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"
)

// PunishmentSweeper 定期把到期处罚置为 expired
type PunishmentSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// LedgerCleaner 按保留期清理积分流水
type LedgerCleaner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// TokenPurger 删除过期登录令牌
type TokenPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Options 调度器参数；零值字段对应的任务不会注册
type Options struct {
	Location      *time.Location
	SweepInterval time.Duration
	Sweeper       PunishmentSweeper

	Retention   time.Duration
	CleanupCron string
	Cleaner     LedgerCleaner

	TokenPurgeInterval time.Duration
	Tokens             TokenPurger

	JobTimeout time.Duration
}

// Scheduler 包装 gocron 调度器
type Scheduler struct {
	sched   gocron.Scheduler
	timeout time.Duration
}

// New 注册全部后台任务，尚未启动
func New(opts Options) (*Scheduler, error) {
	schedOpts := []gocron.SchedulerOption{}
	if opts.Location != nil {
		schedOpts = append(schedOpts, gocron.WithLocation(opts.Location))
	}
	sched, err := gocron.NewScheduler(schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s := &Scheduler{sched: sched, timeout: opts.JobTimeout}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Minute
	}

	if opts.Sweeper != nil && opts.SweepInterval > 0 {
		if _, err := sched.NewJob(
			gocron.DurationJob(opts.SweepInterval),
			gocron.NewTask(s.sweep, opts.Sweeper),
			gocron.WithName("punishment-sweep"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, fmt.Errorf("register punishment sweep: %w", err)
		}
	}

	if opts.Cleaner != nil && opts.Retention > 0 && opts.CleanupCron != "" {
		if _, err := sched.NewJob(
			gocron.CronJob(opts.CleanupCron, false),
			gocron.NewTask(s.cleanup, opts.Cleaner, opts.Retention),
			gocron.WithName("ledger-retention"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, fmt.Errorf("register ledger retention: %w", err)
		}
	}

	if opts.Tokens != nil && opts.TokenPurgeInterval > 0 {
		if _, err := sched.NewJob(
			gocron.DurationJob(opts.TokenPurgeInterval),
			gocron.NewTask(s.purgeTokens, opts.Tokens),
			gocron.WithName("token-purge"),
		); err != nil {
			return nil, fmt.Errorf("register token purge: %w", err)
		}
	}

	return s, nil
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Shutdown 停止调度并等待正在运行的任务
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// JobNames 返回已注册的任务名
func (s *Scheduler) JobNames() []string {
	jobs := s.sched.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

func (s *Scheduler) sweep(sweeper PunishmentSweeper) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := sweeper.SweepExpired(ctx)
	if err != nil {
		log.WithError(err).Error("punishment sweep failed")
		return
	}
	if n > 0 {
		log.WithField("expired", n).Info("punishment sweep expired punishments")
	}
}

func (s *Scheduler) cleanup(cleaner LedgerCleaner, retention time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := cleaner.Prune(ctx, retention)
	if err != nil {
		log.WithError(err).Error("ledger retention failed")
		return
	}
	log.WithField("deleted", n).Info("ledger retention finished")
}

func (s *Scheduler) purgeTokens(tokens TokenPurger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := tokens.PurgeExpired(ctx); err != nil {
		log.WithError(err).Error("token purge failed")
	}
}
