package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/agora/internal/db"
	"github.com/agora/internal/rules"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 批量操作类型
const (
	BatchWarning     = "warning"
	BatchMute        = "mute"
	BatchSuspend     = "suspend"
	BatchBan         = "ban"
	BatchUnban       = "unban"
	BatchGrantPoints = "grant_points"
)

// BatchParams 批量操作的附加参数
type BatchParams struct {
	Reason        string `json:"reason"`
	Severity      int    `json:"severity,omitempty"`
	DurationHours *int   `json:"durationHours,omitempty"`
	Points        int64  `json:"points,omitempty"`
	Experience    int64  `json:"experience,omitempty"`
}

// BatchInput 启动批量操作的参数
type BatchInput struct {
	Type       string
	OperatorID uint
	TargetIDs  []uint
	Params     BatchParams
}

// BatchItemResult 单个目标的执行结果
type BatchItemResult struct {
	ID      uint   `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BatchService 在后台 goroutine 中依次处理批量目标，进度写回追踪记录
// 启动后不支持取消；进程重启时未完成的记录停留在 processing
type BatchService struct {
	db          *gorm.DB
	punishments *PunishmentService
	points      *PointService
	now         Clock
	itemTimeout time.Duration
	wg          sync.WaitGroup
}

// NewBatchService 构造 BatchService
func NewBatchService(gdb *gorm.DB, punishments *PunishmentService, points *PointService) *BatchService {
	return &BatchService{
		db:          gdb,
		punishments: punishments,
		points:      points,
		now:         systemClock,
		itemTimeout: 30 * time.Second,
	}
}

// WithItemTimeout 设置单个目标的处理超时
func (s *BatchService) WithItemTimeout(d time.Duration) *BatchService {
	if d > 0 {
		s.itemTimeout = d
	}
	return s
}

// WithClock 替换时钟
func (s *BatchService) WithClock(now Clock) *BatchService {
	if now != nil {
		s.now = now
	}
	return s
}

// Start 创建追踪记录并异步执行，立即返回 processing 状态的记录
func (s *BatchService) Start(ctx context.Context, input BatchInput) (*db.BatchOperation, error) {
	kind := strings.TrimSpace(strings.ToLower(input.Type))
	switch kind {
	case BatchWarning, BatchMute, BatchSuspend, BatchBan, BatchUnban:
		if kind != BatchUnban && strings.TrimSpace(input.Params.Reason) == "" {
			return nil, ErrReasonRequired
		}
	case BatchGrantPoints:
		if input.Params.Points == 0 && input.Params.Experience == 0 {
			return nil, ErrInvalidAmount
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidBatchType, input.Type)
	}
	if len(input.TargetIDs) == 0 {
		return nil, ErrEmptyBatch
	}
	if _, err := HoursDuration(input.Params.DurationHours); err != nil {
		return nil, err
	}
	input.Type = kind

	targets, err := json.Marshal(input.TargetIDs)
	if err != nil {
		return nil, fmt.Errorf("encode batch targets: %w", err)
	}
	params, err := json.Marshal(input.Params)
	if err != nil {
		return nil, fmt.Errorf("encode batch params: %w", err)
	}

	op := db.BatchOperation{
		ID:         uuid.NewString(),
		Type:       kind,
		OperatorID: input.OperatorID,
		TargetIDs:  datatypes.JSON(targets),
		Params:     datatypes.JSON(params),
		Status:     db.BatchProcessing,
		Progress:   0,
		Total:      len(input.TargetIDs),
		Result:     datatypes.JSON("[]"),
		StartedAt:  s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&op).Error; err != nil {
		return nil, fmt.Errorf("create batch operation: %w", err)
	}

	log.WithFields(log.Fields{"batch_id": op.ID, "type": kind, "targets": op.Total}).Info("batch operation started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// 与请求上下文解绑，请求结束后继续执行
		s.run(op.ID, input)
	}()

	return &op, nil
}

// Wait 等待所有进行中的批量操作结束
func (s *BatchService) Wait() {
	s.wg.Wait()
}

// Get 查询批量操作
func (s *BatchService) Get(ctx context.Context, id string) (*db.BatchOperation, error) {
	var op db.BatchOperation
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&op).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("get batch operation: %w", err)
	}
	return &op, nil
}

// Results 解码批量操作的逐项结果
func Results(op *db.BatchOperation) ([]BatchItemResult, error) {
	var results []BatchItemResult
	if len(op.Result) == 0 {
		return results, nil
	}
	if err := json.Unmarshal(op.Result, &results); err != nil {
		return nil, fmt.Errorf("decode batch result: %w", err)
	}
	return results, nil
}

func (s *BatchService) run(id string, input BatchInput) {
	results := make([]BatchItemResult, 0, len(input.TargetIDs))
	total := len(input.TargetIDs)
	entry := log.WithFields(log.Fields{"batch_id": id, "type": input.Type})

	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("batch operation panicked")
			s.finish(id, results, db.BatchFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	for i, target := range input.TargetIDs {
		err := s.applyOne(input, target)
		item := BatchItemResult{ID: target, Success: err == nil}
		if err != nil {
			item.Error = err.Error()
			entry.WithField("target_id", target).WithError(err).Warn("batch item failed")
		}
		results = append(results, item)

		progress := int(math.Round(float64(i+1) / float64(total) * 100))
		if err := s.saveProgress(id, results, progress); err != nil {
			entry.WithError(err).Error("save batch progress failed")
		}
	}

	status := db.BatchCompleted
	message := ""
	if succeeded(results) == 0 {
		status = db.BatchFailed
		message = "all targets failed"
	}
	s.finish(id, results, status, message)
	entry.WithFields(log.Fields{"status": status, "succeeded": succeeded(results), "total": total}).Info("batch operation finished")
}

func (s *BatchService) applyOne(input BatchInput, target uint) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.itemTimeout)
	defer cancel()

	operator := input.OperatorID
	switch input.Type {
	case BatchWarning, BatchMute, BatchSuspend, BatchBan:
		punish := PunishInput{
			UserID:     target,
			OperatorID: &operator,
			Type:       input.Type,
			Severity:   input.Params.Severity,
			Reason:     input.Params.Reason,
		}
		duration, err := HoursDuration(input.Params.DurationHours)
		if err != nil {
			return err
		}
		punish.Duration = duration
		_, err = s.punishments.Punish(ctx, punish)
		return err
	case BatchUnban:
		_, err := s.punishments.RevokeAllForUser(ctx, target, &operator, input.Params.Reason)
		return err
	case BatchGrantPoints:
		reason := input.Params.Reason
		if strings.TrimSpace(reason) == "" {
			reason = "管理员批量发放"
		}
		_, err := s.points.Reward(ctx, target, rules.LedgerAdminAdjust, input.Params.Points, input.Params.Experience, reason, nil)
		return err
	default:
		return ErrInvalidBatchType
	}
}

func (s *BatchService) saveProgress(id string, results []BatchItemResult, progress int) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return err
	}
	return s.db.Model(&db.BatchOperation{}).Where("id = ?", id).Updates(map[string]interface{}{
		"progress": progress,
		"result":   datatypes.JSON(raw),
	}).Error
}

func (s *BatchService) finish(id string, results []BatchItemResult, status, message string) {
	raw, err := json.Marshal(results)
	if err != nil {
		raw = []byte("[]")
	}
	completedAt := s.now().UTC()
	updates := map[string]interface{}{
		"status":       status,
		"result":       datatypes.JSON(raw),
		"error":        message,
		"completed_at": completedAt,
	}
	if status == db.BatchCompleted {
		updates["progress"] = 100
	}
	if err := s.db.Model(&db.BatchOperation{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		log.WithField("batch_id", id).WithError(err).Error("finish batch operation failed")
	}
}

func succeeded(results []BatchItemResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}
