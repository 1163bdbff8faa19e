// Package store is the Persistent Store (spec.md §4.1... actually §3/§6): a
// thin typed layer over two SQLite databases, grounded on the teacher's
// infrastructure/chatstorage/instance_manager.go WAL/foreign_keys DSN
// pattern for the raw database/sql side, and core/database/connection.go
// for the gorm side used by the small account registry.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/telegram-cli/telegram-cli/internal/model"
)

// Store wraps cache.db, the per-account sync engine database addressed with
// raw database/sql for explicit transaction control over job claims.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if absent) the cache.db at path with the same
// WAL+busy_timeout+foreign_keys DSN shape as the teacher's
// GetOrInitInstanceRepository, then applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(cacheSchema); err != nil {
		return fmt.Errorf("init cache schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nowUnix() int64 { return time.Now().UTC().Unix() }

func unixToTime(v sql.NullInt64) *time.Time {
	if !v.Valid || v.Int64 == 0 {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func timeToUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

// AccountDB wraps data.db, the small account registry kept with gorm the
// way the teacher's core/database/connection.go opens its sqlite dialector.
type AccountDB struct {
	DB *gorm.DB
}

// OpenAccountDB opens data.db and auto-migrates the Account model.
func OpenAccountDB(path string) (*AccountDB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on", path)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(logrusWriter{}, gormlogger.Config{
			LogLevel: gormlogger.Warn,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open account db: %w", err)
	}
	if err := gdb.AutoMigrate(&model.Account{}); err != nil {
		return nil, fmt.Errorf("migrate account db: %w", err)
	}
	return &AccountDB{DB: gdb}, nil
}

type logrusWriter struct{}

func (logrusWriter) Printf(format string, args ...interface{}) {
	logrus.Debugf(format, args...)
}
