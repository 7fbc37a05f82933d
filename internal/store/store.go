package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the GORM/Postgres handle shared by the registry (reads) and
// the batch sinks (writes). Pool sizing (min=1/max=10) mirrors the
// shared connection pool it replaces.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres via dsn and never auto-migrates; schema
// creation is out of scope for this process.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(1)
	return &Store{db: db}, nil
}

// OpenWithDB wraps an existing *gorm.DB, used by tests to inject a
// go-sqlmock-backed connection.
func OpenWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LoadPhases reads the immutable-per-run phase reference table. Zero
// rows is treated as a load failure rather than synthesizing a fallback
// phase.
func (s *Store) LoadPhases(ctx context.Context) ([]PhaseRow, error) {
	var rows []PhaseRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: load phases: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("store: ref_coin_phases has no rows")
	}
	return rows, nil
}

// LoadActiveStreams reads the coin_streams ⋈ discovered_coins join,
// filtered to is_active=true.
func (s *Store) LoadActiveStreams(ctx context.Context) ([]ActiveStreamRow, error) {
	var rows []ActiveStreamRow
	err := s.db.WithContext(ctx).
		Table("coin_streams").
		Select("coin_streams.token_address, coin_streams.current_phase_id, coin_streams.is_active, "+
			"coin_streams.is_graduated, coin_streams.started_at, coin_streams.ath_price_sol, "+
			"coin_streams.ath_timestamp, discovered_coins.trader_public_key, discovered_coins.token_created_at").
		Joins("JOIN discovered_coins ON discovered_coins.mint = coin_streams.token_address").
		Where("coin_streams.is_active = ?", true).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: load active streams: %w", err)
	}
	return rows, nil
}

// SetPhase updates a stream's current phase on a phase transition.
func (s *Store) SetPhase(ctx context.Context, mint string, phaseID int) error {
	err := s.db.WithContext(ctx).
		Table("coin_streams").
		Where("token_address = ?", mint).
		Update("current_phase_id", phaseID).Error
	if err != nil {
		return fmt.Errorf("store: set phase: %w", err)
	}
	return nil
}

// SetGraduated marks a stream graduated and inactive: terminal phase
// 100, is_active=false.
func (s *Store) SetGraduated(ctx context.Context, mint string) error {
	err := s.db.WithContext(ctx).
		Table("coin_streams").
		Where("token_address = ?", mint).
		Updates(map[string]any{"current_phase_id": 100, "is_graduated": true, "is_active": false}).Error
	if err != nil {
		return fmt.Errorf("store: set graduated: %w", err)
	}
	return nil
}

// SetFinished marks a stream finished (terminal phase 99) and inactive.
func (s *Store) SetFinished(ctx context.Context, mint string) error {
	err := s.db.WithContext(ctx).
		Table("coin_streams").
		Where("token_address = ?", mint).
		Updates(map[string]any{"current_phase_id": 99, "is_active": false}).Error
	if err != nil {
		return fmt.Errorf("store: set finished: %w", err)
	}
	return nil
}

// InsertMetrics writes one multi-row insert per sweep. Batch-or-nothing:
// GORM's Create on a slice issues one statement.
func (s *Store) InsertMetrics(ctx context.Context, rows []MetricRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("store: insert metrics: %w", err)
	}
	return nil
}

// AthUpdate is one row of the ATH batch write.
type AthUpdate struct {
	Mint  string
	Price float64
}

// UpdateAth writes the dirty ATH subset as one multi-row update keyed by
// mint. GORM has no native multi-row UPDATE-with-CASE helper, so this
// issues one UPDATE per row inside a single transaction, still "one
// flush" from the caller's perspective (all-or-nothing).
func (s *Store) UpdateAth(ctx context.Context, updates []AthUpdate, now time.Time) error {
	if len(updates) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			err := tx.Table("coin_streams").
				Where("token_address = ?", u.Mint).
				Updates(map[string]any{"ath_price_sol": u.Price, "ath_timestamp": now}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: update ath: %w", err)
	}
	return nil
}
