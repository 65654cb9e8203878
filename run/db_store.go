package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/interflow/types"
)

// DBConfig configures the SQL-backed run store.
type DBConfig struct {
	// Driver is one of sqlite, postgres, mysql.
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the driver-specific connection string. For sqlite this is a
	// file path; ":memory:" gives an ephemeral database.
	DSN string `yaml:"dsn" json:"dsn"`

	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// DefaultDBConfig returns the default SQL store configuration.
func DefaultDBConfig() DBConfig {
	return DBConfig{
		Driver:          "sqlite",
		DSN:             "interflow.db",
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
	}
}

// runRecord is the persisted row. State is stored as a JSON document;
// version and status are lifted into columns for conditional updates
// and operational queries.
type runRecord struct {
	RunID        string    `gorm:"column:run_id;primaryKey;size:64"`
	WorkflowType string    `gorm:"column:workflow_type;size:32;index"`
	Status       string    `gorm:"column:status;size:16;index"`
	Version      uint64    `gorm:"column:version"`
	State        []byte    `gorm:"column:state"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (runRecord) TableName() string { return "pipeline_runs" }

// DBStore persists run state through GORM. Replace is a conditional
// UPDATE on (run_id, version), so optimistic concurrency holds without
// row locks.
type DBStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenDB opens a GORM connection for the configured driver.
func OpenDB(cfg DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		// Normalizes driver errors so duplicate keys surface as
		// gorm.ErrDuplicatedKey across all three drivers.
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// NewDBStore migrates the runs table and wraps the connection.
func NewDBStore(db *gorm.DB, logger *zap.Logger) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&runRecord{}); err != nil {
		return nil, fmt.Errorf("migrate runs table: %w", err)
	}
	return &DBStore{
		db:     db,
		logger: logger.With(zap.String("component", "db_run_store")),
	}, nil
}

func toRecord(st *State) (*runRecord, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return &runRecord{
		RunID:        st.RunID,
		WorkflowType: st.WorkflowType,
		Status:       string(st.Status),
		Version:      st.Version,
		State:        data,
		CreatedAt:    st.CreatedAt,
		UpdatedAt:    st.UpdatedAt,
	}, nil
}

func (s *DBStore) Create(ctx context.Context, st *State) error {
	rec, err := toRecord(st)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Create(rec).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return types.Errorf(types.ErrConflict, "run already exists: %s", st.RunID)
	}
	return err
}

func (s *DBStore) Get(ctx context.Context, runID string) (*State, error) {
	var rec runRecord
	err := s.db.WithContext(ctx).First(&rec, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.Errorf(types.ErrUnknownRun, "run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}

	var st State
	if err := json.Unmarshal(rec.State, &st); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &st, nil
}

func (s *DBStore) Replace(ctx context.Context, st *State) error {
	prev := st.Version
	st.Version++
	st.UpdatedAt = time.Now().UTC()

	rec, err := toRecord(st)
	if err != nil {
		st.Version = prev
		return err
	}

	res := s.db.WithContext(ctx).
		Model(&runRecord{}).
		Where("run_id = ? AND version = ?", st.RunID, prev).
		Updates(map[string]any{
			"workflow_type": rec.WorkflowType,
			"status":        rec.Status,
			"version":       rec.Version,
			"state":         rec.State,
			"updated_at":    rec.UpdatedAt,
		})
	if res.Error != nil {
		st.Version = prev
		return fmt.Errorf("update run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		st.Version = prev
		var count int64
		s.db.WithContext(ctx).Model(&runRecord{}).Where("run_id = ?", st.RunID).Count(&count)
		if count == 0 {
			return types.Errorf(types.ErrUnknownRun, "run not found: %s", st.RunID)
		}
		return types.Errorf(types.ErrConflict, "version mismatch for run %s", st.RunID)
	}
	return nil
}

func (s *DBStore) Delete(ctx context.Context, runID string) error {
	return s.db.WithContext(ctx).Delete(&runRecord{}, "run_id = ?", runID).Error
}
