// Package scanner runs one inventory pass over the local host and persists
// the result.
//
// Providers are called one after another in a fixed order. A provider that
// fails or panics leaves a partial subtree behind but never stops the run.
// The local save is the only step allowed to fail a run; the remote upload
// is best-effort.
package scanner

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"hostscan/internal/localstore"
	"hostscan/internal/shared"
)

var errNoProvider = errors.New("no provider configured")

// RemoteStore is the part of the remote client a run needs.
type RemoteStore interface {
	Connect(ctx context.Context) bool
	Insert(ctx context.Context, doc *shared.ScanDocument) (string, bool)
	Close(ctx context.Context)
}

type RunOptions struct {
	IncludeSensitive bool
	UploadRemote     bool
	OperationID      string
}

type Result struct {
	Document *shared.ScanDocument
	Path     string
	RemoteID string
}

// Uploaded reports whether the remote store accepted the document.
func (r *Result) Uploaded() bool {
	return r.RemoteID != ""
}

type Scanner struct {
	Providers Providers
	Store     *localstore.Store
	Version   string
	Logger    logrus.FieldLogger

	// NewRemote opens a client for one run. Nil disables uploads.
	NewRemote func() RemoteStore

	NewIDs func() shared.ScanIdentifiers
}

func New(store *localstore.Store, providers Providers, version string, logger logrus.FieldLogger) *Scanner {
	return &Scanner{
		Providers: providers,
		Store:     store,
		Version:   version,
		Logger:    logger.WithField("component", "scanner"),
		NewIDs:    shared.NewScanIdentifiers,
	}
}

// Run is RunWith for the two switches most callers care about.
func (s *Scanner) Run(ctx context.Context, includeSensitive, uploadRemote bool) (*shared.ScanDocument, error) {
	res, err := s.RunWith(ctx, RunOptions{IncludeSensitive: includeSensitive, UploadRemote: uploadRemote})
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

type step struct {
	path   string
	list   *[]shared.Record
	rec    *shared.Record
	listFn ListProvider
	recFn  RecordProvider
}

// steps lists the providers in collection order. The returned func moves
// the extra records into info once every step has run.
func (s *Scanner) steps(info *shared.SystemInfo) ([]step, func()) {
	p := s.Providers
	steps := []step{
		{path: "hardware.disks", list: &info.Hardware.Disks, listFn: p.Disks},
		{path: "hardware.gpu", list: &info.Hardware.GPU, listFn: p.GPU},
		{path: "hardware.memory", rec: &info.Hardware.Memory, recFn: p.Memory},
		{path: "hardware.cpu", rec: &info.Hardware.CPU, recFn: p.CPU},
		{path: "operating_system", rec: &info.OperatingSystem, recFn: p.OperatingSystem},
		{path: "updates", rec: &info.Updates, recFn: p.Updates},
		{path: "security", rec: &info.Security, recFn: p.Security},
	}

	extras := make([]shared.Record, len(p.Extra))
	for i, x := range p.Extra {
		steps = append(steps, step{path: "extra." + x.Name, rec: &extras[i], recFn: x.Fn})
	}
	return steps, func() {
		if len(extras) == 0 {
			return
		}
		info.Extra = make(map[string]shared.Record, len(extras))
		for i, x := range p.Extra {
			info.Extra[x.Name] = extras[i]
		}
	}
}

// RunWith collects, saves and optionally uploads one scan. A cancelled ctx
// stops the run before the next step and nothing is written.
func (s *Scanner) RunWith(ctx context.Context, opts RunOptions) (*Result, error) {
	doc := &shared.ScanDocument{
		Identifiers: s.NewIDs(),
		ScanSettings: shared.ScanSettings{
			IncludeSensitive: opts.IncludeSensitive,
			ScannerVersion:   s.Version,
			OperationID:      opts.OperationID,
		},
	}
	log := s.Logger.WithFields(logrus.Fields{
		"scan_id":           doc.Identifiers.ScanID,
		"include_sensitive": opts.IncludeSensitive,
	})
	log.Info("scan started")

	popts := Options{IncludeSensitive: opts.IncludeSensitive}
	info := &doc.SystemInfo
	steps, collectExtras := s.steps(info)
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			log.WithField("next", st.path).Warn("scan interrupted")
			return nil, errors.Wrap(err, "scan interrupted")
		}

		slog := log.WithField("step", st.path)
		slog.Debug("collecting")
		err := runStep(ctx, st, popts)

		if st.list != nil && *st.list == nil {
			*st.list = []shared.Record{}
		}
		if st.rec != nil && *st.rec == nil {
			*st.rec = shared.Record{}
		}
		if cerr := cleanStep(st); cerr != nil {
			if err == nil {
				err = cerr
			} else {
				err = fmt.Errorf("%v; %v", err, cerr)
			}
		}
		if err != nil {
			slog.WithError(err).Warn("collection incomplete")
			if info.CollectionErrors == nil {
				info.CollectionErrors = map[string]string{}
			}
			info.CollectionErrors[st.path] = err.Error()
			if st.rec != nil {
				(*st.rec)["error"] = err.Error()
			}
		}
	}

	collectExtras()

	if err := ctx.Err(); err != nil {
		log.Warn("scan interrupted before save")
		return nil, errors.Wrap(err, "scan interrupted")
	}

	path, err := s.Store.Save(doc)
	if err != nil {
		log.WithError(err).Error("scan could not be saved")
		return nil, err
	}
	res := &Result{Document: doc, Path: path}

	if opts.UploadRemote {
		res.RemoteID = s.upload(ctx, doc, log)
	}

	log.WithFields(logrus.Fields{
		"file":     path,
		"uploaded": res.Uploaded(),
		"partial":  len(info.CollectionErrors),
	}).Info("scan finished")
	return res, nil
}

func (s *Scanner) upload(ctx context.Context, doc *shared.ScanDocument, log logrus.FieldLogger) string {
	if s.NewRemote == nil {
		log.Warn("remote upload requested but no remote store configured")
		return ""
	}
	rc := s.NewRemote()
	defer rc.Close(context.WithoutCancel(ctx))

	// Insert dials again on every attempt, so an early outage still gets
	// the full retry schedule.
	if !rc.Connect(ctx) {
		log.Warn("remote store unreachable, insert will retry")
	}
	id, ok := rc.Insert(ctx, doc)
	if !ok {
		doc.MongoDBInfo = nil
		log.Warn("remote upload failed, scan kept locally only")
		return ""
	}
	return id
}

func runStep(ctx context.Context, st step, opts Options) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panicked: %v", r)
		}
	}()

	if st.list != nil {
		if st.listFn == nil {
			return errNoProvider
		}
		v, err := st.listFn(ctx, opts)
		if v != nil {
			*st.list = v
		}
		return err
	}
	if st.recFn == nil {
		return errNoProvider
	}
	v, err := st.recFn(ctx, opts)
	if v != nil {
		*st.rec = v
	}
	return err
}
