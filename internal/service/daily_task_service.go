package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/agora/internal/db"
	"github.com/agora/internal/rules"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const taskDateLayout = "2006-01-02"

// DailyTaskService 负责每日任务模板与用户当日进度
type DailyTaskService struct {
	db            *gorm.DB
	points        *PointService
	notifications *NotificationService
	now           Clock
}

// DailyTaskInput 创建任务模板的参数
type DailyTaskInput struct {
	Name        string
	Description string
	Type        string
	Target      int
	Points      int64
	Experience  int64
	SortOrder   int
}

// TaskProgressView 单个任务的当日进度
type TaskProgressView struct {
	TaskID      uint   `json:"taskId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Target      int    `json:"target"`
	Points      int64  `json:"points"`
	Experience  int64  `json:"experience"`
	Progress    int    `json:"progress"`
	Completed   bool   `json:"completed"`
}

// TaskStats 当日完成情况汇总
type TaskStats struct {
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	CompletionRate float64 `json:"completionRate"`
	PointsEarned   int64   `json:"pointsEarned"`
}

// DailyTaskSummary 当日任务列表与统计
type DailyTaskSummary struct {
	Date  string             `json:"date"`
	Tasks []TaskProgressView `json:"tasks"`
	Stats TaskStats          `json:"stats"`
}

// NewDailyTaskService 构造 DailyTaskService
func NewDailyTaskService(gdb *gorm.DB, points *PointService, notifications *NotificationService) *DailyTaskService {
	return &DailyTaskService{db: gdb, points: points, notifications: notifications, now: systemClock}
}

// WithClock 替换时钟
func (s *DailyTaskService) WithClock(now Clock) *DailyTaskService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *DailyTaskService) today() string {
	return s.now().Format(taskDateLayout)
}

// ForUser 返回用户当日任务进度；新的一天第一次读取时惰性创建进度行
func (s *DailyTaskService) ForUser(ctx context.Context, userID uint) (DailyTaskSummary, error) {
	tasks, err := s.activeTasks(ctx, "")
	if err != nil {
		return DailyTaskSummary{}, err
	}
	date := s.today()

	if err := s.ensureProgress(s.db.WithContext(ctx), userID, tasks, date); err != nil {
		return DailyTaskSummary{}, err
	}

	var rows []db.DailyTaskProgress
	if err := s.db.WithContext(ctx).Where("user_id = ? AND task_date = ?", userID, date).Find(&rows).Error; err != nil {
		return DailyTaskSummary{}, fmt.Errorf("list task progress: %w", err)
	}
	byTask := make(map[uint]db.DailyTaskProgress, len(rows))
	for _, r := range rows {
		byTask[r.DailyTaskID] = r
	}

	summary := DailyTaskSummary{Date: date, Tasks: make([]TaskProgressView, 0, len(tasks))}
	for _, task := range tasks {
		p := byTask[task.ID]
		summary.Tasks = append(summary.Tasks, TaskProgressView{
			TaskID:      task.ID,
			Name:        task.Name,
			Description: task.Description,
			Type:        task.Type,
			Target:      task.Target,
			Points:      task.Points,
			Experience:  task.Experience,
			Progress:    p.Progress,
			Completed:   p.Completed,
		})
		if p.Completed {
			summary.Stats.Completed++
			summary.Stats.PointsEarned += task.Points
		}
	}
	summary.Stats.Total = len(tasks)
	if summary.Stats.Total > 0 {
		rate := float64(summary.Stats.Completed) / float64(summary.Stats.Total) * 100
		summary.Stats.CompletionRate = math.Round(rate*100) / 100
	}
	return summary, nil
}

// Track 记录一次任务相关动作，返回本次刚完成的任务
func (s *DailyTaskService) Track(ctx context.Context, userID uint, taskType string) ([]db.DailyTask, error) {
	tasks, err := s.activeTasks(ctx, taskType)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	date := s.today()

	completed := make([]db.DailyTask, 0)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureProgress(tx, userID, tasks, date); err != nil {
			return err
		}
		for _, task := range tasks {
			scope := tx.Model(&db.DailyTaskProgress{}).
				Where("user_id = ? AND daily_task_id = ? AND task_date = ?", userID, task.ID, date)

			if err := scope.Session(&gorm.Session{}).
				Where("completed = ?", false).
				Update("progress", gorm.Expr("progress + 1")).Error; err != nil {
				return fmt.Errorf("increment task progress: %w", err)
			}

			// completed 只会翻转一次，RowsAffected 决定是否发放奖励
			res := scope.Session(&gorm.Session{}).
				Where("completed = ? AND progress >= ?", false, task.Target).
				Updates(map[string]interface{}{"completed": true, "completed_at": s.now().UTC()})
			if res.Error != nil {
				return fmt.Errorf("complete task: %w", res.Error)
			}
			if res.RowsAffected == 1 {
				completed = append(completed, task)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, task := range completed {
		if task.Points != 0 || task.Experience != 0 {
			if _, err := s.points.Reward(ctx, userID, rules.LedgerDailyTask, task.Points, task.Experience,
				fmt.Sprintf("完成每日任务「%s」", task.Name), &Related{ID: task.ID, Type: "daily_task"}); err != nil {
				log.WithFields(log.Fields{"user_id": userID, "task_id": task.ID}).WithError(err).Error("daily task reward failed")
			}
		}
		notifyQuietly(ctx, s.notifications, NotifyInput{
			UserID:  userID,
			Type:    NotifyDailyTask,
			Title:   "每日任务完成",
			Content: fmt.Sprintf("完成每日任务「%s」，获得 %d 积分", task.Name, task.Points),
			Payload: map[string]interface{}{"taskId": task.ID},
		})
	}
	return completed, nil
}

// List 后台列出全部任务模板
func (s *DailyTaskService) List(ctx context.Context) ([]db.DailyTask, error) {
	var tasks []db.DailyTask
	if err := s.db.WithContext(ctx).Order("sort_order ASC, id ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list daily tasks: %w", err)
	}
	return tasks, nil
}

// Create 新建任务模板
func (s *DailyTaskService) Create(ctx context.Context, input DailyTaskInput) (*db.DailyTask, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	taskType := strings.TrimSpace(input.Type)
	switch taskType {
	case db.TaskTypeCheckin, db.TaskTypeCreateTopic, db.TaskTypeCreateReply, db.TaskTypeGiveLike:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidDailyTaskType, input.Type)
	}
	if input.Target <= 0 {
		return nil, fmt.Errorf("%w: target must be positive", ErrInvalidDailyTaskType)
	}

	task := db.DailyTask{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Type:        taskType,
		Target:      input.Target,
		Points:      input.Points,
		Experience:  input.Experience,
		Active:      true,
		SortOrder:   input.SortOrder,
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return nil, fmt.Errorf("create daily task: %w", err)
	}
	return &task, nil
}

func (s *DailyTaskService) activeTasks(ctx context.Context, taskType string) ([]db.DailyTask, error) {
	query := s.db.WithContext(ctx).Where("active = ?", true)
	if taskType != "" {
		query = query.Where("type = ?", taskType)
	}
	var tasks []db.DailyTask
	if err := query.Order("sort_order ASC, id ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list active daily tasks: %w", err)
	}
	return tasks, nil
}

func (s *DailyTaskService) ensureProgress(tx *gorm.DB, userID uint, tasks []db.DailyTask, date string) error {
	if len(tasks) == 0 {
		return nil
	}
	rows := make([]db.DailyTaskProgress, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, db.DailyTaskProgress{UserID: userID, DailyTaskID: task.ID, TaskDate: date})
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "daily_task_id"}, {Name: "task_date"}},
		DoNothing: true,
	}).Create(&rows).Error; err != nil {
		return fmt.Errorf("ensure task progress: %w", err)
	}
	return nil
}
