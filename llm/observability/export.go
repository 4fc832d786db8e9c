package observability

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/structflow/internal/database"
)

// AttemptRow is the audit table row for one attempt.
type AttemptRow struct {
	ID           string    `gorm:"primaryKey;size:64"`
	InvocationID string    `gorm:"size:64;index"`
	Attempt      int       `gorm:"not null"`
	Name         string    `gorm:"size:255"`
	Input        string    `gorm:"type:text"`
	Output       string    `gorm:"type:text"`
	Outcome      string    `gorm:"size:32;index"`
	Error        string    `gorm:"type:text"`
	StartedAt    time.Time `gorm:"index"`
	DurationMS   int64
}

func (AttemptRow) TableName() string { return "structflow_attempts" }

func toRow(rec *AttemptRecord) AttemptRow {
	return AttemptRow{
		ID:           rec.ID,
		InvocationID: rec.InvocationID,
		Attempt:      rec.Attempt,
		Name:         rec.Name,
		Input:        string(rec.Input),
		Output:       rec.Output,
		Outcome:      string(rec.Outcome),
		Error:        rec.Error,
		StartedAt:    rec.StartTime,
		DurationMS:   rec.Duration.Milliseconds(),
	}
}

// GormExporterConfig 审计导出配置
type GormExporterConfig struct {
	// 缓冲达到 BatchSize 时自动写入，默认 50
	BatchSize int
	// 写入失败时的事务重试次数，默认 3
	MaxRetries  int
	AutoMigrate bool
}

// GormExporter buffers attempt records and writes them to the audit table.
type GormExporter struct {
	pool   *database.PoolManager
	cfg    GormExporterConfig
	logger *zap.Logger

	mu  sync.Mutex
	buf []AttemptRow
}

var _ Exporter = (*GormExporter)(nil)

// NewGormExporter creates the exporter, migrating the table when asked.
func NewGormExporter(pool *database.PoolManager, cfg GormExporterConfig, logger *zap.Logger) (*GormExporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.AutoMigrate {
		if err := pool.DB().AutoMigrate(&AttemptRow{}); err != nil {
			return nil, err
		}
	}
	return &GormExporter{
		pool:   pool,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "attempt_audit")),
	}, nil
}

func (e *GormExporter) Export(ctx context.Context, rec *AttemptRecord) error {
	e.mu.Lock()
	e.buf = append(e.buf, toRow(rec))
	full := len(e.buf) >= e.cfg.BatchSize
	e.mu.Unlock()

	if full {
		return e.Flush(ctx)
	}
	return nil
}

// Flush writes every buffered row. Rows from a failed write are dropped.
func (e *GormExporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	rows := e.buf
	e.buf = nil
	e.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	err := e.pool.WithTransactionRetry(ctx, e.cfg.MaxRetries, func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, e.cfg.BatchSize).Error
	})
	if err != nil {
		e.logger.Error("failed to write attempt audit rows", zap.Int("rows", len(rows)), zap.Error(err))
		return err
	}
	e.logger.Debug("attempt audit rows written", zap.Int("rows", len(rows)))
	return nil
}

// Buffered reports rows waiting for the next flush.
func (e *GormExporter) Buffered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf)
}
