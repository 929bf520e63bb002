// Package sqlstore хранит таблицы заказов реляционного бэкенда в SQL-базе.
// Основной диалект — PostgreSQL через pgx, SQLite используется в тестах и для локального запуска.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// Dialect — имя драйвера database/sql.
type Dialect string

const (
	DialectPostgres Dialect = "pgx"
	DialectSQLite   Dialect = "sqlite3"
)

// Store оборачивает SQL-подключение.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	return OpenDialect(ctx, DialectPostgres, dsn)
}

// OpenSQLite открывает SQLite-базу. Для ":memory:" пул ограничен одним соединением,
// иначе каждое соединение видело бы свою пустую базу.
func OpenSQLite(ctx context.Context, dsn string) (*Store, error) {
	return OpenDialect(ctx, DialectSQLite, dsn)
}

// OpenDialect открывает подключение выбранного диалекта.
func OpenDialect(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", dialect, err)
	}
	switch dialect {
	case DialectSQLite:
		db.SetMaxOpenConns(1)
	case DialectPostgres:
		db.SetMaxOpenConns(defaultMaxOpenConns)
		db.SetMaxIdleConns(defaultMaxIdleConns)
		db.SetConnMaxLifetime(defaultConnMaxLifetime)
		db.SetConnMaxIdleTime(defaultConnMaxIdleTime)
	default:
		_ = db.Close()
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	return &Store{db: db, dialect: dialect}, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect возвращает диалект подключения.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sql store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// rebind переводит плейсхолдеры $N в ?N для SQLite.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectSQLite {
		return query
	}
	return placeholderPattern.ReplaceAllString(query, "?$1")
}
