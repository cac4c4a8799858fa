package localstore

import (
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
  name TEXT PRIMARY KEY,
  applied_at INTEGER NOT NULL
);`

// RunMigrations applies the embedded migrations that schema_migrations does
// not list yet, in filename order, each in its own transaction.
func RunMigrations(db *sql.DB, logger logrus.FieldLogger) error {
	if _, err := db.Exec(migrationsTable); err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}

	done, err := AppliedMigrations(db)
	if err != nil {
		return err
	}
	applied := make(map[string]bool, len(done))
	for _, name := range done {
		applied[name] = true
	}

	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, file := range files {
		name := path.Base(file)
		if applied[name] {
			continue
		}
		if err := applyMigration(db, file, name); err != nil {
			return err
		}
		logger.WithField("migration", name).Info("index migration applied")
	}
	return nil
}

func applyMigration(db *sql.DB, file, name string) error {
	body, err := migrationsFS.ReadFile(file)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(string(body)); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "migration %s", name)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
		name, time.Now().Unix(),
	); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "record migration %s", name)
	}
	return tx.Commit()
}

// AppliedMigrations lists the recorded migrations by name.
func AppliedMigrations(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT name FROM schema_migrations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
