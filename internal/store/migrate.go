package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	rerrors "github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
)

//go:embed migrations
var migrationsFS embed.FS

// MigrationDirection selects Up or Down
type MigrationDirection string

const (
	MigrateUp   MigrationDirection = "up"
	MigrateDown MigrationDirection = "down"
)

// MigrationStatus is the schema state after a migration command
type MigrationStatus struct {
	Version uint
	Dirty   bool
	Applied bool
}

// String returns a human-readable description
func (s MigrationStatus) String() string {
	if s.Version == 0 {
		return "no migrations applied"
	}
	state := "clean"
	if s.Dirty {
		state = "dirty"
	}
	return fmt.Sprintf("version %d (%s)", s.Version, state)
}

// Migrate applies the embedded migrations to the database at loc
func Migrate(loc *Location, direction MigrationDirection) (MigrationStatus, error) {
	m, err := newMigrate(loc)
	if err != nil {
		return MigrationStatus{}, err
	}
	defer m.Close()

	switch direction {
	case MigrateUp:
		err = m.Up()
	case MigrateDown:
		err = m.Down()
	default:
		return MigrationStatus{}, rerrors.ConfigurationError(rerrors.CodeInvalidConfig, "migrate.direction", string(direction), nil)
	}

	status := MigrationStatus{Applied: err == nil}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return status, rerrors.StoreError(rerrors.CodeMigrationFailed, loc.Redacted(), err)
	}

	status.Version, status.Dirty, err = version(m)
	if err != nil {
		return status, rerrors.StoreError(rerrors.CodeMigrationFailed, loc.Redacted(), err)
	}

	logger.GetGlobalLogger().WithComponent("store").WithFields(logger.Fields{
		"location":  loc.Redacted(),
		"direction": direction,
		"version":   status.Version,
		"applied":   status.Applied,
	}).Info("Migrations finished")

	return status, nil
}

// MigrationVersion reports the current schema version at loc
func MigrationVersion(loc *Location) (MigrationStatus, error) {
	m, err := newMigrate(loc)
	if err != nil {
		return MigrationStatus{}, err
	}
	defer m.Close()

	v, dirty, err := version(m)
	if err != nil {
		return MigrationStatus{}, rerrors.StoreError(rerrors.CodeMigrationFailed, loc.Redacted(), err)
	}
	return MigrationStatus{Version: v, Dirty: dirty}, nil
}

func version(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// newMigrate opens a dedicated connection; closing the returned Migrate
// closes it.
func newMigrate(loc *Location) (*migrate.Migrate, error) {
	if !loc.IsSQL() {
		return nil, rerrors.ConfigurationError(rerrors.CodeInvalidConfig, "output", loc.Redacted(),
			fmt.Errorf("migrations only apply to sqlite and mysql stores"))
	}

	db, driverName, err := openDB(loc)
	if err != nil {
		return nil, err
	}

	var driver database.Driver
	switch loc.Scheme {
	case SchemeSQLite:
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	case SchemeMySQL:
		driver, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	}
	if err != nil {
		db.Close()
		return nil, rerrors.StoreError(rerrors.CodeMigrationFailed, loc.Redacted(), err)
	}

	source, err := iofs.New(migrationsFS, "migrations/"+driverName)
	if err != nil {
		db.Close()
		return nil, rerrors.StoreError(rerrors.CodeMigrationFailed, loc.Redacted(), err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driverName, driver)
	if err != nil {
		db.Close()
		return nil, rerrors.StoreError(rerrors.CodeMigrationFailed, loc.Redacted(), err)
	}
	return m, nil
}
