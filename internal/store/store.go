// Package store persists replicated session records to Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DoyleJ11/anomaly-detection/internal/engine"
	"github.com/DoyleJ11/anomaly-detection/internal/lobby"
)

var ErrNoDatabase = errors.New("db connection is nil")

// Open connects to Postgres using dsn.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

// Migrate runs GORM auto-migrations for the session tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return ErrNoDatabase
	}
	return conn.AutoMigrate(&SessionCommit{}, &SessionBan{})
}

// Store records commits and bans. A Store with a nil db records nothing.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var _ lobby.Recorder = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

type eventJSON struct {
	Type         engine.EventType `json:"type"`
	StageIndex   int8             `json:"stage_index"`
	SuccessCount int8             `json:"success_count"`
}

func commitRow(c lobby.Commit) (SessionCommit, error) {
	events := make([]eventJSON, len(c.Events))
	for i, e := range c.Events {
		events[i] = eventJSON{Type: e.Type, StageIndex: e.StageIndex, SuccessCount: e.SuccessCount}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return SessionCommit{}, err
	}
	return SessionCommit{
		Code:         c.Code,
		Version:      c.Version,
		Owner:        c.Owner,
		SuccessCount: c.State.SuccessCount,
		StageIndex:   c.State.StageIndex,
		VariantIndex: c.State.VariantIndex,
		Events:       datatypes.JSON(data),
	}, nil
}

func (s *Store) RecordCommit(ctx context.Context, c lobby.Commit) error {
	if s.db == nil {
		return nil
	}
	row, err := commitRow(c)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) RecordBan(ctx context.Context, code, clientID string) error {
	if s.db == nil {
		return nil
	}
	row := SessionBan{Code: code, Actor: clientID, BannedAt: s.now()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

// History returns the commits recorded for code in version order.
func (s *Store) History(ctx context.Context, code string) ([]SessionCommit, error) {
	if s.db == nil {
		return nil, ErrNoDatabase
	}
	var rows []SessionCommit
	err := s.db.WithContext(ctx).
		Where("code = ?", code).
		Order("version asc").
		Find(&rows).Error
	return rows, err
}

// Banned lists the actors banned in code.
func (s *Store) Banned(ctx context.Context, code string) ([]string, error) {
	if s.db == nil {
		return nil, ErrNoDatabase
	}
	var actors []string
	err := s.db.WithContext(ctx).
		Model(&SessionBan{}).
		Where("code = ?", code).
		Order("banned_at asc").
		Pluck("actor", &actors).Error
	return actors, err
}

// CodeTaken reports whether code already has recorded commits or bans, so a
// new session must not reuse it.
func (s *Store) CodeTaken(ctx context.Context, code string) (bool, error) {
	if s.db == nil {
		return false, nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&SessionCommit{}).Where("code = ?", code).Count(&n).Error; err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	err := s.db.WithContext(ctx).Model(&SessionBan{}).Where("code = ?", code).Count(&n).Error
	return n > 0, err
}
