// Package localstore keeps scan documents as indented JSON files on disk,
// one file per scan, with an optional sqlite index for pin lookups.
package localstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"hostscan/internal/shared"
)

var (
	ErrIOFailure       = errors.New("local scan storage failure")
	ErrNotFound        = errors.New("scan file not found")
	ErrCorruptDocument = errors.New("corrupt scan document")
)

const (
	filePattern     = "scan_*.json"
	filenameLayout  = "20060102_150405"
	Unreadable      = "unreadable"
	maxSizePasses   = 8
	dirPermissions  = 0700
	filePermissions = 0644
)

// Summary describes one stored scan without loading it fully.
type Summary struct {
	Filename  string    `json:"filename"`
	Path      string    `json:"full_path"`
	SizeBytes int64     `json:"size_bytes"`
	Created   time.Time `json:"created"`
	ScanID    string    `json:"scan_id"`
	AccessPin string    `json:"access_pin"`
}

type Store struct {
	dir    string
	logger logrus.FieldLogger
	index  *Index
	now    func() time.Time
}

type Option func(*Store)

// WithIndex records every save in x and drops pruned files from it.
func WithIndex(x *Index) Option {
	return func(s *Store) { s.index = x }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(dir string, logger logrus.FieldLogger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, errors.Wrapf(ErrIOFailure, "create %s: %v", dir, err)
	}
	s := &Store{
		dir:    dir,
		logger: logger.WithField("component", "localstore"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Filename derives the file name for a scan saved at t. Names sort
// lexically by save time.
func Filename(t time.Time, scanID string) string {
	return fmt.Sprintf("scan_%s_%s.json", t.Format(filenameLayout), shared.ShortID(scanID))
}

// Save writes doc and returns its path. doc.FileInfo is set so that
// FileSizeBytes equals the size of the written file.
func (s *Store) Save(doc *shared.ScanDocument) (string, error) {
	now := s.now()
	filename := Filename(now, doc.Identifiers.ScanID)
	path := filepath.Join(s.dir, filename)

	doc.FileInfo = &shared.FileInfo{
		Filename: filename,
		SavedAt:  now.Local().Format(shared.TimestampLayout),
	}

	b, err := encodeSized(doc)
	if err != nil {
		return "", errors.Wrapf(ErrIOFailure, "encode %s: %v", filename, err)
	}
	if err := writeFile(s.dir, path, b); err != nil {
		s.logger.WithError(err).WithField("file", path).Error("saving scan failed")
		return "", errors.Wrapf(ErrIOFailure, "write %s: %v", path, err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"file":    path,
		"bytes":   len(b),
		"scan_id": doc.Identifiers.ScanID,
	})
	log.Info("scan saved locally")

	if s.index != nil {
		err := s.index.Record(IndexEntry{
			Filename:  filename,
			ScanID:    doc.Identifiers.ScanID,
			AccessPin: doc.Identifiers.AccessPin,
			Hostname:  doc.Hostname(),
			SavedAt:   now,
			SizeBytes: int64(len(b)),
		})
		if err != nil {
			log.WithError(err).Warn("scan not indexed")
		}
	}
	return path, nil
}

// encodeSized serializes doc with FileSizeBytes set to the length of the
// serialization itself. The length only depends on the digit count of the
// size so this settles within a few passes.
func encodeSized(doc *shared.ScanDocument) ([]byte, error) {
	var size int64
	for i := 0; i < maxSizePasses; i++ {
		doc.FileInfo.FileSizeBytes = size
		b, err := encode(doc)
		if err != nil {
			return nil, err
		}
		if int64(len(b)) == size {
			return b, nil
		}
		size = int64(len(b))
	}
	return nil, errors.New("file size did not settle")
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFile writes through a temp file in dir and renames it over path.
func writeFile(dir, path string, b []byte) error {
	tmp, err := os.CreateTemp(dir, ".scan-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, filePermissions); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (s *Store) Load(path string) (*shared.ScanDocument, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotFound, path)
		}
		return nil, errors.Wrapf(ErrIOFailure, "read %s: %v", path, err)
	}

	var doc shared.ScanDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrapf(ErrCorruptDocument, "%s: %v", path, err)
	}
	s.logger.WithField("file", path).Debug("scan loaded")
	return &doc, nil
}

// LoadByName loads a scan by its bare filename inside the store directory.
func (s *Store) LoadByName(filename string) (*shared.ScanDocument, error) {
	if filename != filepath.Base(filename) || !isScanFile(filename) {
		return nil, errors.Wrap(ErrNotFound, filename)
	}
	return s.Load(filepath.Join(s.dir, filename))
}

func isScanFile(name string) bool {
	ok, _ := filepath.Match(filePattern, name)
	return ok
}

// scanFiles returns the directory entries matching the naming convention.
func (s *Store) scanFiles() ([]os.DirEntry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(ErrIOFailure, "read dir %s: %v", s.dir, err)
	}
	var out []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && isScanFile(e.Name()) {
			out = append(out, e)
		}
	}
	return out, nil
}

// List summarizes every stored scan, most recent first. Files that cannot be
// decoded are still listed with Unreadable identifiers.
func (s *Store) List() ([]Summary, error) {
	entries, err := s.scanFiles()
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		path := filepath.Join(s.dir, e.Name())
		info, err := e.Info()
		if err != nil {
			s.logger.WithError(err).WithField("file", path).Warn("skipping scan file")
			continue
		}
		sum := Summary{
			Filename:  e.Name(),
			Path:      path,
			SizeBytes: info.Size(),
			Created:   info.ModTime(),
		}
		sum.ScanID, sum.AccessPin = peekIdentifiers(path)
		out = append(out, sum)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return strings.Compare(out[i].Filename, out[j].Filename) > 0
	})
	return out, nil
}

func peekIdentifiers(path string) (string, string) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Unreadable, Unreadable
	}
	var head struct {
		Identifiers struct {
			ScanID    string `json:"scan_id"`
			AccessPin string `json:"access_pin"`
		} `json:"identifiers"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return Unreadable, Unreadable
	}
	return orUnknown(head.Identifiers.ScanID), orUnknown(head.Identifiers.AccessPin)
}

func orUnknown(s string) string {
	if s == "" {
		return shared.Unknown
	}
	return s
}

// Prune deletes scans created strictly more than retentionDays ago and
// returns how many were removed. Individual failures are logged and skipped.
func (s *Store) Prune(retentionDays int) (int, error) {
	entries, err := s.scanFiles()
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	deleted := 0
	for _, e := range entries {
		path := filepath.Join(s.dir, e.Name())
		log := s.logger.WithField("file", path)

		info, err := e.Info()
		if err != nil {
			log.WithError(err).Warn("prune: cannot stat scan file")
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.WithError(err).Warn("prune: cannot delete scan file")
			continue
		}
		deleted++
		log.Info("pruned old scan")

		if s.index != nil {
			if err := s.index.Remove(e.Name()); err != nil {
				log.WithError(err).Warn("prune: index entry not removed")
			}
		}
	}

	if deleted > 0 {
		s.logger.WithFields(logrus.Fields{
			"deleted":        deleted,
			"retention_days": retentionDays,
		}).Info("prune completed")
	}
	return deleted, nil
}
