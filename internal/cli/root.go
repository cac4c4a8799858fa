// Package cli wires the hostscan commands onto cobra.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"hostscan/internal/localstore"
	"hostscan/internal/logging"
	"hostscan/internal/remote"
	"hostscan/internal/scanner"
	"hostscan/internal/shared"
)

// env is the per-invocation state shared by every command.
type env struct {
	version string

	configPath string
	logLevel   string
	noLogFile  bool
	mongoURI   string

	cfg       *shared.Config
	logger    *logrus.Logger
	closeLogs func() error

	// Test seams. Nil means the real thing.
	dial      remote.Dialer
	providers *scanner.Providers
	console   io.Writer
}

// Execute runs hostscan with SIGINT/SIGTERM cancelling the command context.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(&env{version: version})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func newRootCommand(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:   "hostscan",
		Short: "Inventory this host and keep the scans locally and in MongoDB",
		Long: `hostscan collects hardware, operating system, update and security facts
about the local machine, stamps them with a scan id and access pin, saves them
as JSON under the scans directory and uploads them to MongoDB.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  e.setup,
		PersistentPostRunE: e.teardown,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&e.configPath, "config", "./hostscan.json", "path to config json")
	pf.StringVar(&e.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&e.noLogFile, "no-log-file", false, "only log to the console")
	pf.StringVar(&e.mongoURI, "mongo-uri", "", "MongoDB connection string (overrides MONGO_URI)")

	root.AddCommand(
		scanCmd(e),
		listCmd(e),
		showCmd(e),
		pruneCmd(e),
		testRemoteCmd(e),
		findCmd(e),
		recentCmd(e),
		statsCmd(e),
		serveCmd(e),
		versionCmd(e),
	)
	root.Version = e.version
	return root
}

func (e *env) setup(cmd *cobra.Command, args []string) error {
	cfg, err := shared.LoadConfig(e.configPath)
	if err != nil {
		return err
	}
	if e.mongoURI != "" {
		cfg.MongoURI = e.mongoURI
	}
	if e.logLevel != "" {
		cfg.LogLevel = e.logLevel
	}
	e.cfg = cfg

	console := e.console
	if console == nil {
		console = cmd.ErrOrStderr()
	}
	logger, closeLogs, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Dir:     cfg.LogsDir,
		File:    !e.noLogFile,
		Console: console,
	})
	if err != nil {
		return err
	}
	e.logger = logger
	e.closeLogs = closeLogs
	logger.WithFields(logrus.Fields{
		"command": cmd.Name(),
		"version": e.version,
	}).Debug("hostscan starting")
	return nil
}

func (e *env) teardown(cmd *cobra.Command, args []string) error {
	if e.closeLogs == nil {
		return nil
	}
	return e.closeLogs()
}

// openStore opens the scans directory and, when possible, its index. A
// broken index only costs pin lookups.
func (e *env) openStore() (*localstore.Store, *localstore.Index, func(), error) {
	var opts []localstore.Option
	cleanup := func() {}

	index, err := localstore.OpenIndex(e.cfg.IndexPath, e.logger)
	if err != nil {
		e.logger.WithError(err).WithField("index", e.cfg.IndexPath).Warn("scan index unavailable")
		index = nil
	} else {
		opts = append(opts, localstore.WithIndex(index))
		cleanup = func() { index.Close() }
	}

	store, err := localstore.New(e.cfg.ScansDir, e.logger, opts...)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return store, index, cleanup, nil
}

func (e *env) newRemote() *remote.Client {
	var opts []remote.ClientOption
	if e.dial != nil {
		opts = append(opts, remote.WithDialer(e.dial))
	}
	return remote.New(remote.OptionsFromConfig(e.cfg), e.logger, opts...)
}

func versionCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hostscan version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hostscan %s (scanner %s)\n", e.version, e.cfg.ScannerVersion)
		},
	}
}
