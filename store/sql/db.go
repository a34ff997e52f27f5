package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/arkade-os/arkive/store/sql/sqlc/queries"
	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	sqliteDbFile   = "sqlite.db"
	migrationsPath = "migration"
)

//go:embed migration/*.sql
var migrations embed.FS

// OpenDB opens the sqlite database in dir and applies the pending
// migrations.
func OpenDB(dir string) (*sql.DB, error) {
	if len(dir) <= 0 {
		return nil, fmt.Errorf("missing sqlite datadir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite datadir: %w", err)
	}

	pragmas := make(url.Values)
	for _, pragma := range []string{
		"foreign_keys=on",
		"journal_mode=WAL",
		"busy_timeout=5000",
		"synchronous=full",
	} {
		pragmas.Add("_pragma", pragma)
	}
	dsn := fmt.Sprintf(
		"%s?%s&_txlock=immediate", filepath.Join(dir, sqliteDbFile), pragmas.Encode(),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := migrateDB(db); err != nil {
		// nolint
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrateDB(db *sql.DB) error {
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to init migration driver: %w", err)
	}
	source, err := iofs.New(migrations, migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		log.Debugf("sqlite db at migration version %d (dirty: %t)", version, dirty)
	}
	return nil
}

func execTx(
	ctx context.Context, db *sql.DB, txBody func(*queries.Queries) error,
) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	qtx := queries.New(db).WithTx(tx)

	if err := txBody(qtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.WithError(rbErr).Warn("failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
