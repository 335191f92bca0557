//go:build !js && !wasm
// +build !js,!wasm

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "tapsense.sqlite3"
const errDBClientNil = "db client is nil"

var ErrRunNotFound = errors.New("run not found")

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// Run is one analysed recording together with the detector tuning used.
type Run struct {
	ID              string `gorm:"primaryKey;type:varchar(36)"`
	Source          string `gorm:"index:idx_run_source"`
	Mode            string
	SampleRate      int
	Channels        int
	Blocks          int
	DurationMs      int64
	Transients      int
	Singles         int
	Doubles         int
	MaxFrameSize    int
	ThresholdMin    float64
	ThresholdMax    float64
	CooldownBlocks  int
	DoubleTapWindow int
	StartupHoldoff  int
	Fusion          string
	Events          []TapEvent `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time  `gorm:"index:idx_run_created"`
}

type TapEvent struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	RunID         string `gorm:"type:varchar(36);index:idx_event_run"`
	Kind          string
	Block         uint32
	FirstBlock    uint32
	TimeMs        int64
	FirstTimeMs   int64
	HighBandRatio float64
	Flushed       bool
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("TAPSENSE_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Run{}, &TapEvent{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// CreateRun stores run and its events in one transaction and returns the
// new run ID.
func (c *DBClient) CreateRun(run *Run) (string, error) {
	if c == nil || c.DB == nil {
		return "", errors.New(errDBClientNil)
	}

	run.ID = uuid.NewString()
	events := run.Events
	run.Events = nil
	defer func() { run.Events = events }()

	err := c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("creating run: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		for i := range events {
			events[i].RunID = run.ID
		}
		if err := tx.CreateInBatches(events, 500).Error; err != nil {
			return fmt.Errorf("batch insert events: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func (c *DBClient) GetRun(id string) (*Run, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}

	var run Run
	err := c.DB.Preload("Events", func(db *gorm.DB) *gorm.DB {
		return db.Order("block ASC")
	}).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return &run, nil
}

// ListRuns returns all runs, newest first, without their events.
func (c *DBClient) ListRuns() ([]Run, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var runs []Run
	if err := c.DB.Order("created_at DESC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

func (c *DBClient) DeleteRun(id string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&TapEvent{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Run{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil
	})
}

func (c *DBClient) CountEvents(runID string) (int64, error) {
	if c == nil || c.DB == nil {
		return 0, errors.New(errDBClientNil)
	}
	var n int64
	if err := c.DB.Model(&TapEvent{}).Where("run_id = ?", runID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}
