package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agora/internal/archive"
	"github.com/agora/internal/db"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const ledgerCleanupBatch = 500

// LedgerMaintenance 清理过旧的积分流水；配置了归档存储时先导出再删除
// 余额与经验是用户表上的聚合值，删除流水不会改变它们
type LedgerMaintenance struct {
	db   *gorm.DB
	sink archive.Sink
	now  Clock
}

// CleanupResult 一次清理的结果
type CleanupResult struct {
	Deleted  int64    `json:"deleted"`
	Archived []string `json:"archived,omitempty"`
}

// NewLedgerMaintenance 构造 LedgerMaintenance；sink 可以为 nil
func NewLedgerMaintenance(gdb *gorm.DB, sink archive.Sink) *LedgerMaintenance {
	return &LedgerMaintenance{db: gdb, sink: sink, now: systemClock}
}

// WithClock 替换时钟
func (m *LedgerMaintenance) WithClock(now Clock) *LedgerMaintenance {
	if now != nil {
		m.now = now
	}
	return m
}

// CleanupOlderThan 删除 retention 之前的流水
func (m *LedgerMaintenance) CleanupOlderThan(ctx context.Context, retention time.Duration) (CleanupResult, error) {
	return m.Cleanup(ctx, m.now().Add(-retention))
}

// CleanupKeepingDays 保留最近 days 个自然日的流水
func (m *LedgerMaintenance) CleanupKeepingDays(ctx context.Context, days int) (CleanupResult, error) {
	if days <= 0 {
		return CleanupResult{}, ErrInvalidDuration
	}
	return m.Cleanup(ctx, m.now().AddDate(0, 0, -days))
}

// Prune 供定时任务调用，只返回删除条数
func (m *LedgerMaintenance) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	result, err := m.CleanupOlderThan(ctx, retention)
	return result.Deleted, err
}

// Cleanup 分批导出并删除 before 之前的流水；某一批归档失败时该批不会被删除
func (m *LedgerMaintenance) Cleanup(ctx context.Context, before time.Time) (CleanupResult, error) {
	var result CleanupResult
	cutoff := before.UTC()
	stamp := m.now().UTC().Format("20060102T150405")

	for part := 1; ; part++ {
		var rows []db.PointHistory
		if err := m.db.WithContext(ctx).
			Where("created_at < ?", cutoff).
			Order("id ASC").
			Limit(ledgerCleanupBatch).
			Find(&rows).Error; err != nil {
			return result, fmt.Errorf("load ledger rows: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		if m.sink != nil {
			body, err := encodeLines(rows)
			if err != nil {
				return result, err
			}
			key := fmt.Sprintf("point-history/%s-%04d.jsonl", stamp, part)
			if err := m.sink.Put(ctx, key, body); err != nil {
				return result, err
			}
			result.Archived = append(result.Archived, key)
		}

		ids := make([]uint, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		res := m.db.WithContext(ctx).Where("id IN ?", ids).Delete(&db.PointHistory{})
		if res.Error != nil {
			return result, fmt.Errorf("delete ledger rows: %w", res.Error)
		}
		result.Deleted += res.RowsAffected

		if len(rows) < ledgerCleanupBatch {
			break
		}
	}

	log.WithFields(log.Fields{"before": cutoff, "deleted": result.Deleted, "archives": len(result.Archived)}).Info("ledger cleanup finished")
	return result, nil
}

func encodeLines(rows []db.PointHistory) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("encode ledger row: %w", err)
		}
	}
	return buf.Bytes(), nil
}
