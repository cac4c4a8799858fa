package localstore

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// IndexEntry is one saved scan as recorded in the sqlite index.
type IndexEntry struct {
	Filename  string    `json:"filename"`
	ScanID    string    `json:"scan_id"`
	AccessPin string    `json:"access_pin"`
	Hostname  string    `json:"hostname"`
	SavedAt   time.Time `json:"saved_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// Index maps access pins and scan ids to local scan files.
type Index struct {
	DB *sql.DB
}

func OpenIndex(path string, logger logrus.FieldLogger) (*Index, error) {
	db, err := OpenDB(path, logger)
	if err != nil {
		return nil, err
	}
	return &Index{DB: db}, nil
}

func (x *Index) Close() error {
	return x.DB.Close()
}

func (x *Index) Record(e IndexEntry) error {
	_, err := x.DB.Exec(
		`INSERT OR REPLACE INTO scans (filename, scan_id, access_pin, hostname, saved_at, size_bytes)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Filename, e.ScanID, e.AccessPin, e.Hostname, e.SavedAt.Unix(), e.SizeBytes,
	)
	return errors.Wrapf(err, "index %s", e.Filename)
}

// FindByPin returns every scan carrying pin, newest first. Pins are not
// unique so more than one match is normal.
func (x *Index) FindByPin(pin string) ([]IndexEntry, error) {
	rows, err := x.DB.Query(
		`SELECT filename, scan_id, access_pin, hostname, saved_at, size_bytes
		 FROM scans
		 WHERE access_pin = ?
		 ORDER BY saved_at DESC, filename DESC`, pin,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IndexEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// FindByScanID returns nil, nil when the scan is not indexed.
func (x *Index) FindByScanID(scanID string) (*IndexEntry, error) {
	row := x.DB.QueryRow(
		`SELECT filename, scan_id, access_pin, hostname, saved_at, size_bytes
		 FROM scans WHERE scan_id = ?`, scanID,
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (x *Index) Remove(filename string) error {
	_, err := x.DB.Exec(`DELETE FROM scans WHERE filename = ?`, filename)
	return err
}

func (x *Index) Count() (int, error) {
	var n int
	err := x.DB.QueryRow(`SELECT COUNT(*) FROM scans`).Scan(&n)
	return n, err
}

// Tables lists the user tables in the index database.
func (x *Index) Tables() ([]string, error) {
	rows, err := x.DB.Query(`SELECT name FROM sqlite_master WHERE type='table' ORDER BY name`)
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

// Migrations lists the schema migrations applied to the index.
func (x *Index) Migrations() ([]string, error) {
	return AppliedMigrations(x.DB)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*IndexEntry, error) {
	var e IndexEntry
	var savedAt int64
	if err := r.Scan(&e.Filename, &e.ScanID, &e.AccessPin, &e.Hostname, &savedAt, &e.SizeBytes); err != nil {
		return nil, err
	}
	e.SavedAt = time.Unix(savedAt, 0)
	return &e, nil
}
