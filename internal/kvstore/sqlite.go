package kvstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"
)

// Entry is the row model for the kv_entries table.
type Entry struct {
	Key       string `gorm:"column:key;primaryKey"`
	Value     string `gorm:"column:value;not null"`
	UpdatedAt int64  `gorm:"column:updated_at;not null"`
}

func (Entry) TableName() string { return "kv_entries" }

// SQLiteKV persists entries in a single-file SQLite database.
type SQLiteKV struct {
	db *gorm.DB
}

// Open creates the parent directory, opens the database with WAL and a
// busy timeout, and migrates the kv_entries table.
func Open(path string) (*SQLiteKV, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        p,
	}, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	if err := gdb.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return &SQLiteKV{db: gdb}, nil
}

func (s *SQLiteKV) Get(key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errors.New("kv store is not initialized")
	}
	k := strings.TrimSpace(key)
	if k == "" {
		return "", false, errors.New("key is required")
	}
	var row Entry
	err := s.db.Where("key = ?", k).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

func (s *SQLiteKV) Update(key, value string) error {
	if s == nil || s.db == nil {
		return errors.New("kv store is not initialized")
	}
	k := strings.TrimSpace(key)
	if k == "" {
		return errors.New("key is required")
	}
	row := Entry{Key: k, Value: value, UpdatedAt: nowUnix()}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      value,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error
}

func (s *SQLiteKV) Delete(key string) error {
	if s == nil || s.db == nil {
		return errors.New("kv store is not initialized")
	}
	k := strings.TrimSpace(key)
	if k == "" {
		return errors.New("key is required")
	}
	return s.db.Where("key = ?", k).Delete(&Entry{}).Error
}

// Close releases the underlying connection pool.
func (s *SQLiteKV) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
