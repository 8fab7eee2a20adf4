// Package migrations встраивает SQL-миграции и применяет их к базе.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS содержит встроенные файлы миграций.
//
//go:embed *.sql
var FS embed.FS

// Run применяет все непримененные миграции.
func Run(db *sql.DB) error {
	goose.SetBaseFS(FS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
