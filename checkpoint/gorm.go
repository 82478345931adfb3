package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// checkpointRecord is the relational shape of a checkpoint. The unique
// (loop_id, checkpoint_id) index makes duplicate IDs impossible even
// under concurrent writers.
type checkpointRecord struct {
	RowID        uint   `gorm:"primaryKey;autoIncrement"`
	LoopID       string `gorm:"size:128;uniqueIndex:idx_loop_ckpt,priority:1;index"`
	CheckpointID uint64 `gorm:"uniqueIndex:idx_loop_ckpt,priority:2"`
	CreatedAt    time.Time
	State        []byte `gorm:"type:blob"`
	Context      []byte `gorm:"type:blob"`
}

func (checkpointRecord) TableName() string { return "checkpoints" }

// GormStore persists checkpoints in SQLite through gorm using the
// pure-Go driver, so it needs no cgo and no external service.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore opens (and migrates) a SQLite database at path. Use
// ":memory:" for an ephemeral store.
func NewGormStore(path string, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite checkpoint db: %w", err)
	}
	if err := db.AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, fmt.Errorf("migrate checkpoint schema: %w", err)
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "sqlite_checkpoint_store")),
	}, nil
}

func (s *GormStore) Save(ctx context.Context, cp *Checkpoint) (uint64, error) {
	if cp == nil || cp.LoopID == "" {
		return 0, &WriteError{Err: fmt.Errorf("checkpoint has no loop id")}
	}

	var next uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last uint64
		row := tx.Model(&checkpointRecord{}).
			Where("loop_id = ?", cp.LoopID).
			Select("COALESCE(MAX(checkpoint_id), 0)").
			Row()
		if err := row.Scan(&last); err != nil {
			return err
		}
		next = last + 1
		rec := checkpointRecord{
			LoopID:       cp.LoopID,
			CheckpointID: next,
			CreatedAt:    nowUTC(),
			State:        append([]byte(nil), cp.State...),
			Context:      append([]byte(nil), cp.Context...),
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return 0, &WriteError{LoopID: cp.LoopID, Err: err}
	}

	s.logger.Debug("checkpoint saved",
		zap.String("loop_id", cp.LoopID),
		zap.Uint64("checkpoint_id", next))
	return next, nil
}

func (s *GormStore) Load(ctx context.Context, loopID string) (*Checkpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).
		Where("loop_id = ?", loopID).
		Order("checkpoint_id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: loop %s", ErrNotFound, loopID)
	}
	if err != nil {
		return nil, err
	}
	return recordToCheckpoint(&rec), nil
}

func (s *GormStore) LoadAt(ctx context.Context, loopID string, id uint64) (*Checkpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).
		Where("loop_id = ? AND checkpoint_id = ?", loopID, id).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: loop %s checkpoint %d", ErrNotFound, loopID, id)
	}
	if err != nil {
		return nil, err
	}
	return recordToCheckpoint(&rec), nil
}

func (s *GormStore) List(ctx context.Context, loopID string) ([]*Checkpoint, error) {
	var recs []checkpointRecord
	err := s.db.WithContext(ctx).
		Where("loop_id = ?", loopID).
		Order("checkpoint_id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*Checkpoint, len(recs))
	for i := range recs {
		out[i] = recordToCheckpoint(&recs[i])
	}
	return out, nil
}

func (s *GormStore) Loops(ctx context.Context) ([]string, error) {
	var loops []string
	err := s.db.WithContext(ctx).
		Model(&checkpointRecord{}).
		Distinct("loop_id").
		Order("loop_id ASC").
		Pluck("loop_id", &loops).Error
	if err != nil {
		return nil, err
	}
	return loops, nil
}

func (s *GormStore) Delete(ctx context.Context, loopID string) error {
	return s.db.WithContext(ctx).
		Where("loop_id = ?", loopID).
		Delete(&checkpointRecord{}).Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func recordToCheckpoint(rec *checkpointRecord) *Checkpoint {
	return &Checkpoint{
		LoopID:    rec.LoopID,
		ID:        rec.CheckpointID,
		CreatedAt: rec.CreatedAt,
		State:     json.RawMessage(rec.State),
		Context:   json.RawMessage(rec.Context),
	}
}

var _ Store = (*GormStore)(nil)
