package widgets

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrate applies every pending schema migration for the demo widgets
// resource. Grounded on SeaRoll-oapi-sqlc's database/migrations.go, with
// the dialect swapped from postgres to mysql to match this core's driver.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(embeddedMigrations)

	if err := goose.SetDialect("mysql"); err != nil {
		return fmt.Errorf("widgets: set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("widgets: run migrations: %w", err)
	}
	return nil
}
