package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	dbmigrations "github.com/coachpo/lotmatch/db/migrations"
)

// ApplyMigrations brings the journal schema up to date using the SQL
// migrations embedded in the binary. A nil logger disables informational
// logging.
func ApplyMigrations(ctx context.Context, dsn string, logger *log.Logger) error {
	m, cleanup, err := newMigrator(ctx, dsn, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			if logger != nil {
				logger.Printf("journal schema up-to-date")
			}
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	if logger != nil {
		logger.Printf("journal migrations applied successfully")
	}
	return nil
}

// RollbackMigrations undoes the given number of migration steps.
func RollbackMigrations(ctx context.Context, dsn string, steps int, logger *log.Logger) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	m, cleanup, err := newMigrator(ctx, dsn, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			if logger != nil {
				logger.Printf("journal schema unchanged")
			}
			return nil
		}
		return fmt.Errorf("rollback migrations: %w", err)
	}
	if logger != nil {
		logger.Printf("journal migrations rolled back %d step(s)", steps)
	}
	return nil
}

func newMigrator(ctx context.Context, dsn string, logger *log.Logger) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open migrations connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	source, err := iofs.New(dbmigrations.Files, ".")
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("initialise migrate instance: %w", err)
	}

	cleanup := func() {
		sourceErr, dbErr := m.Close()
		if logger == nil {
			return
		}
		if sourceErr != nil {
			logger.Printf("journal migrations source close: %v", sourceErr)
		}
		if dbErr != nil {
			logger.Printf("journal migrations db close: %v", dbErr)
		}
	}
	return m, cleanup, nil
}
