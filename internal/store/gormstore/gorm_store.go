package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"booner/internal/logger"
	"booner/internal/pkg/retry"
	"booner/internal/store"
	storemodel "booner/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type (
	positionModel      = storemodel.PositionModel
	weightsModel       = storemodel.WeightsModel
	weightHistoryModel = storemodel.WeightHistoryModel
	cooldownModel      = storemodel.CooldownModel
	lockModel          = storemodel.LockModel
	decisionModel      = storemodel.DecisionModel
)

var log = logger.For("store")

// errVersionConflict marks a compare-and-swap that lost to a concurrent writer.
var errVersionConflict = errors.New("version conflict")

type Options struct {
	BusyTimeout time.Duration
	Retry       retry.Policy
	// OnRetry is called before every retried attempt of a contended write.
	OnRetry func(op string)
	Now     func() time.Time
}

// GormStore implements store.Store on SQLite through gorm.
type GormStore struct {
	db      *gorm.DB
	policy  retry.Policy
	onRetry func(op string)
	now     func() time.Time
}

var _ store.Store = (*GormStore)(nil)

// NewGormStore opens (or creates) the SQLite database at path and migrates the schema.
func NewGormStore(path string, opts Options) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate", path, busy.Milliseconds())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&positionModel{},
		&weightsModel{},
		&weightHistoryModel{},
		&cooldownModel{},
		&lockModel{},
		&decisionModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// WAL lets readers run beside the single writer.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)

	policy := opts.Retry
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &GormStore{db: db, policy: policy, onRetry: opts.OnRetry, now: now}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GormDB exposes the underlying *gorm.DB.
func (s *GormStore) GormDB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// write runs fn inside a transaction and retries it while it fails with
// write contention. Exhaustion surfaces as *store.ContentionError.
func (s *GormStore) write(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	err := retry.Do(ctx, s.policy, isTransient, func(attempt int) error {
		if attempt > 1 {
			log.Debugf("%s retry attempt=%d", op, attempt)
			if s.onRetry != nil {
				s.onRetry(op)
			}
		}
		return s.db.WithContext(ctx).Transaction(fn)
	})
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		log.Warnf("%s gave up after %d attempts: %v", op, exhausted.Attempts, exhausted.Err)
		return &store.ContentionError{Op: op, Attempts: exhausted.Attempts, Err: exhausted.Err}
	}
	return err
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errVersionConflict) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// decodeColumn unmarshals a JSON column into dst. An empty column leaves dst
// untouched; undecodable content is an error, never a zero value.
func decodeColumn(table, column string, raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s.%s: %v", store.ErrCorruptRecord, table, column, err)
	}
	return nil
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
