package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"taskhub/internal/config"
	"taskhub/pkg/logger"
)

//go:embed schema.sql
var schemaFS embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	pool   *sql.DB
	driver string
	once   sync.Once
)

// DB returns the global database connection pool (initialized on first use).
// DATABASE_URL selects the driver: postgres:// URLs use lib/pq, anything
// else is treated as a sqlite file path (optional sqlite: prefix).
func DB(ctx context.Context) *sql.DB {
	once.Do(func() {
		cfg := config.Get()
		name, dsn := resolveDSN(cfg.DatabaseURL)
		db, err := open(name, dsn, cfg.DBPoolSize)
		if err != nil {
			logger.Error(ctx, "Failed to open database", "error", err, "driver", name)
			return
		}
		pool = db
		driver = name
		logger.Info(ctx, "Database pool initialized", "driver", name)
	})
	return pool
}

// InitDB initializes the DB pool and returns it (for main and scripts).
func InitDB(ctx context.Context) *sql.DB {
	return DB(ctx)
}

// Driver reports which driver the pool was opened with.
func Driver() string {
	return driver
}

// Open opens a standalone pool, bypassing the singleton. Tests use it with
// ":memory:" paths.
func Open(databaseURL string) (*sql.DB, string, error) {
	name, dsn := resolveDSN(databaseURL)
	db, err := open(name, dsn, 1)
	if err != nil {
		return nil, "", err
	}
	return db, name, nil
}

func resolveDSN(databaseURL string) (name, dsn string) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DriverPostgres, databaseURL
	case strings.HasPrefix(databaseURL, "sqlite:"):
		return DriverSQLite, strings.TrimPrefix(databaseURL, "sqlite:")
	default:
		return DriverSQLite, databaseURL
	}
}

func open(name, dsn string, poolSize int) (*sql.DB, error) {
	if name == DriverSQLite && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, err
	}
	if name == DriverSQLite {
		// sqlite serializes writers anyway; a single connection avoids
		// SQLITE_BUSY and keeps :memory: databases coherent.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(poolSize)
		db.SetMaxIdleConns(poolSize / 2)
	}
	return db, nil
}

// MigrateOrCreateSchema applies the embedded schema and backfills columns
// added after the first release (mirrors the add-column path older
// deployments need).
func MigrateOrCreateSchema(ctx context.Context) error {
	db := DB(ctx)
	if db == nil {
		return sql.ErrConnDone
	}
	return Migrate(ctx, db, driver)
}

// Migrate applies the schema to an explicit pool (tests, scripts).
func Migrate(ctx context.Context, db *sql.DB, driverName string) error {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	for _, col := range []struct {
		table, column, decl string
	}{
		{"users", "is_admin", "BOOLEAN NOT NULL DEFAULT FALSE"},
		{"tasks", "due_date", "TIMESTAMP"},
		{"tasks", "due_notified", "BOOLEAN NOT NULL DEFAULT FALSE"},
	} {
		if err := ensureColumn(ctx, db, driverName, col.table, col.column, col.decl); err != nil {
			return err
		}
	}
	return nil
}

func ensureColumn(ctx context.Context, db *sql.DB, driverName, table, column, decl string) error {
	if driverName == DriverPostgres {
		q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table, column, decl)
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("add %s.%s column: %w", table, column, err)
		}
		return nil
	}

	var exists int
	q := fmt.Sprintf("SELECT 1 FROM pragma_table_info('%s') WHERE name = '%s' LIMIT 1", table, column)
	err := db.QueryRowContext(ctx, q).Scan(&exists)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check %s.%s column: %w", table, column, err)
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)
	if _, err := db.ExecContext(ctx, alter); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}
	return nil
}

// Rebind rewrites ? placeholders to $1..$N when the pool speaks postgres.
// Repository queries are written once with ? and rebound here.
func Rebind(driverName, query string) string {
	if driverName != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
