// Package audit keeps an append-only trail of gate decisions.
package audit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GateEvent struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	RequestID string `gorm:"size:64;index" json:"request_id"`
	Transport string `gorm:"size:16" json:"transport"`
	Command   string `gorm:"size:16;index" json:"command"`
	PlateText string `gorm:"size:64" json:"plate_text"`
	Status    string `gorm:"type:text" json:"status"`
	// Detections is the JSON array returned to the client.
	Detections string    `gorm:"type:text" json:"detections"`
	Sent       bool      `json:"sent"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// Recorder is what the pipeline needs from the audit trail.
type Recorder interface {
	Record(ctx context.Context, ev *GateEvent) error
	Recent(ctx context.Context, limit int) ([]GateEvent, error)
}

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"

	MaxRecent = 500
)

type Store struct {
	db *gorm.DB
}

var _ Recorder = (*Store)(nil)

// Open connects with the named dialect and migrates the schema.
func Open(dialect, dsn string) (*Store, error) {
	var dial gorm.Dialector
	switch dialect {
	case "", DialectSQLite:
		dial = sqlite.Open(dsn)
	case DialectPostgres:
		dial = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported audit dialect %q", dialect)
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if dialect != DialectPostgres {
		// sqlite allows one writer; an in-memory db also lives on one connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&GateEvent{}); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Record(ctx context.Context, ev *GateEvent) error {
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("record gate event: %w", err)
	}
	return nil
}

// Recent returns the newest events first. limit is clamped to [1, MaxRecent].
func (s *Store) Recent(ctx context.Context, limit int) ([]GateEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxRecent {
		limit = MaxRecent
	}
	var events []GateEvent
	err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("query gate events: %w", err)
	}
	return events, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Noop discards events; used when no audit database is configured.
type Noop struct{}

func (Noop) Record(context.Context, *GateEvent) error { return nil }
func (Noop) Recent(context.Context, int) ([]GateEvent, error) {
	return []GateEvent{}, nil
}
