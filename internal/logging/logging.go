// Package logging builds the logrus logger that is handed to every
// component. Nothing in hostscan logs through a package-level logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/Velocidex/file-rotatelogs"
	"github.com/pkg/errors"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

const (
	retention = 30 * 24 * time.Hour
	rotation  = 24 * time.Hour
)

type Options struct {
	Level string
	Dir   string
	// File enables the rotating hostscan.log and errors.log sinks.
	File bool
	// Console defaults to stderr.
	Console io.Writer
}

// New returns a configured logger and a function releasing its file sinks.
func New(opts Options) (*logrus.Logger, func() error, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		l, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, errors.Wrap(err, "log level")
		}
		level = l
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(io.Discard)

	logger.AddHook(lfshook.NewHook(
		writerMap(console, logrus.InfoLevel),
		&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true},
	))

	closers := []io.Closer{}
	closeAll := func() error {
		var first error
		for _, c := range closers {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	if opts.File {
		if err := os.MkdirAll(opts.Dir, 0700); err != nil {
			return nil, nil, errors.Wrapf(err, "create log dir %s", opts.Dir)
		}
		detailed := &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
			DisableColors:   true,
		}

		main, err := rotating(opts.Dir, "hostscan")
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, main)
		logger.AddHook(lfshook.NewHook(writerMap(main, logrus.TraceLevel), detailed))

		errLog, err := rotating(opts.Dir, "errors")
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		closers = append(closers, errLog)
		logger.AddHook(lfshook.NewHook(writerMap(errLog, logrus.ErrorLevel), detailed))
	}

	return logger, closeAll, nil
}

// rotating opens a daily-rotated file <dir>/<name>.YYYYMMDD.log with a
// <name>.log link to the current one.
func rotating(dir, name string) (*rotatelogs.RotateLogs, error) {
	w, err := rotatelogs.New(
		filepath.Join(dir, name+".%Y%m%d.log"),
		rotatelogs.WithLinkName(filepath.Join(dir, name+".log")),
		rotatelogs.WithRotationTime(rotation),
		rotatelogs.WithMaxAge(retention),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s log", name)
	}
	return w, nil
}

// writerMap sends every level as severe as threshold or worse to w.
func writerMap(w io.Writer, threshold logrus.Level) lfshook.WriterMap {
	m := lfshook.WriterMap{}
	for _, l := range logrus.AllLevels {
		if l <= threshold {
			m[l] = w
		}
	}
	return m
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
