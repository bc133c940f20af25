package database

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stock-lstm-research/internal/train"
)

const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunStopped  = "stopped"
)

type TrainingRun struct {
	gorm.Model
	Task       string     `gorm:"column:task;type:text;not null;index"`
	Code       string     `gorm:"column:code;type:text;not null"`
	Target     string     `gorm:"column:target;type:text;not null"`
	Horizon    int        `gorm:"column:horizon;not null"`
	Epochs     int        `gorm:"column:epochs;not null"`
	BestLoss   *float64   `gorm:"column:best_loss"`
	Status     string     `gorm:"column:status;type:text;not null"`
	FinishedAt *time.Time `gorm:"column:finished_at;type:timestamptz"`
}

func (TrainingRun) TableName() string { return "training_runs" }

type EpochRecord struct {
	gorm.Model
	RunID   uint               `gorm:"column:run_id;not null;index:idx_training_epochs_run"`
	Epoch   int                `gorm:"column:epoch;not null"`
	Loss    float64            `gorm:"column:loss"`
	ValLoss *float64           `gorm:"column:val_loss"`
	LR      *float64           `gorm:"column:lr"`
	Logs    map[string]float64 `gorm:"column:logs;type:jsonb;serializer:json"`
}

func (EpochRecord) TableName() string { return "training_epochs" }

// OpenLedger connects gorm to url and migrates the ledger tables.
func OpenLedger(url string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(url), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&TrainingRun{}, &EpochRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func optional(logs train.Logs, key string) *float64 {
	v, ok := logs[key]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// finite drops NaN and Inf, which jsonb cannot hold.
func finite(logs train.Logs) map[string]float64 {
	out := make(map[string]float64, len(logs))
	for k, v := range logs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[k] = v
	}
	return out
}

func newEpochRecord(runID uint, epoch int, logs train.Logs) EpochRecord {
	return EpochRecord{
		RunID:   runID,
		Epoch:   epoch + 1,
		Loss:    logs["loss"],
		ValLoss: optional(logs, "val_loss"),
		LR:      optional(logs, "lr"),
		Logs:    finite(logs),
	}
}

// bestLoss is the lowest val_loss seen, falling back to loss.
func bestLoss(history []train.Logs) *float64 {
	var best *float64
	for _, logs := range history {
		v := optional(logs, "val_loss")
		if v == nil {
			v = optional(logs, "loss")
		}
		if v != nil && (best == nil || *v < *best) {
			best = v
		}
	}
	return best
}

// RunLedger records a training run and its epochs. Database errors are
// logged and never interrupt training.
type RunLedger struct {
	DB     *gorm.DB
	Run    TrainingRun
	Logger *slog.Logger
}

func NewRunLedger(db *gorm.DB, task, code, target string, horizon, epochs int, logger *slog.Logger) *RunLedger {
	return &RunLedger{
		DB: db,
		Run: TrainingRun{
			Task:    task,
			Code:    code,
			Target:  target,
			Horizon: horizon,
			Epochs:  epochs,
			Status:  RunRunning,
		},
		Logger: logger,
	}
}

func (l *RunLedger) OnTrainBegin(ctx context.Context) error {
	if err := l.DB.WithContext(ctx).Create(&l.Run).Error; err != nil {
		l.Logger.Warn("Ledger: create run failed", "task", l.Run.Task, "error", err)
		return nil
	}
	l.Logger.Info("Ledger: run started", "run_id", l.Run.ID, "task", l.Run.Task)
	return nil
}

func (l *RunLedger) OnEpochEnd(ctx context.Context, epoch int, logs train.Logs) error {
	if l.Run.ID == 0 {
		return nil
	}
	rec := newEpochRecord(l.Run.ID, epoch, logs)
	if err := l.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		l.Logger.Warn("Ledger: epoch insert failed", "run_id", l.Run.ID, "epoch", epoch+1, "error", err)
	}
	return nil
}

func (l *RunLedger) OnTrainEnd(ctx context.Context, history []train.Logs) error {
	if l.Run.ID == 0 {
		return nil
	}
	now := time.Now()
	status := RunFinished
	if len(history) < l.Run.Epochs {
		status = RunStopped
	}
	// the run is closed out even when training was cancelled
	err := l.DB.WithContext(context.WithoutCancel(ctx)).Model(&l.Run).Updates(map[string]any{
		"status":      status,
		"best_loss":   bestLoss(history),
		"finished_at": now,
	}).Error
	if err != nil {
		l.Logger.Warn("Ledger: run update failed", "run_id", l.Run.ID, "error", err)
	}
	return nil
}
