package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	billingperioddomain "github.com/smallbiznis/storagebill/internal/billingperiod/domain"
	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
	prepaiddomain "github.com/smallbiznis/storagebill/internal/prepaid/domain"
	ratecatalogdomain "github.com/smallbiznis/storagebill/internal/ratecatalog/domain"
	"github.com/smallbiznis/storagebill/internal/scheduler/report"
	sourcedomain "github.com/smallbiznis/storagebill/internal/source/domain"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded Postgres schema. Every billing table is
// created on startup so a fresh database is usable out of the box.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists the gorm models backing the SQL schema. Dialects without a
// migration source (SQLite in tests) are built from these with AutoMigrate.
func Models() []any {
	return []any{
		&billingprofiledomain.BillingProfile{},
		&ratecatalogdomain.RateRecord{},
		&ratecatalogdomain.RateRecordPrice{},
		&ratecatalogdomain.NegotiatedRate{},
		&ratecatalogdomain.NegotiatedRateOverride{},
		&billingperioddomain.BillingPeriod{},
		&billingperioddomain.BillingLine{},
		&prepaiddomain.PrepaidBalance{},
		&prepaiddomain.PrepaidConsumption{},
		&sourcedomain.ServiceEvent{},
		&sourcedomain.StorageAccount{},
		&report.Record{},
	}
}
