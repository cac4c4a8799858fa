package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	humanize "github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"hostscan/internal/localstore"
	"hostscan/internal/scanner"
	"hostscan/internal/shared"
)

func listCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List locally saved scans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, cleanup, err := e.openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			scans, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(scans) == 0 {
				fmt.Fprintf(out, "No scans in %s\n", store.Dir())
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tSCAN ID\tPIN\tSIZE\tCREATED")
			for _, s := range scans {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					s.Filename,
					shared.ShortID(s.ScanID),
					s.AccessPin,
					humanize.Bytes(uint64(s.SizeBytes)),
					humanize.Time(s.Created))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d scan(s)\n", len(scans))
			return nil
		},
	}
}

func showCmd(e *env) *cobra.Command {
	var (
		pin    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "show [PATH]",
		Short: "Show a saved scan by path, file name or access pin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (pin == "") == (len(args) == 0) {
				return errors.New("give either a PATH or --pin")
			}
			store, index, cleanup, err := e.openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			var doc *shared.ScanDocument
			if pin != "" {
				doc, err = loadByPin(store, index, pin, out)
			} else {
				doc, err = loadPath(store, args[0])
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}
			fmt.Fprint(out, scanner.FormatSummary(doc))
			return nil
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "look the scan up by its 4 character access pin")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the whole document")
	return cmd
}

// loadPath accepts a full path, or a bare file name inside the scans directory.
func loadPath(store *localstore.Store, arg string) (*shared.ScanDocument, error) {
	doc, err := store.Load(arg)
	if errors.Is(err, localstore.ErrNotFound) && filepath.Base(arg) == arg {
		return store.LoadByName(arg)
	}
	return doc, err
}

// loadByPin loads the newest scan with pin and lists any older ones.
func loadByPin(store *localstore.Store, index *localstore.Index, pin string, out io.Writer) (*shared.ScanDocument, error) {
	if !shared.ValidPin(pin) {
		return nil, errors.Errorf("%q is not an access pin", pin)
	}
	if index == nil {
		return nil, errors.New("scan index unavailable, look the scan up by path instead")
	}

	entries, err := index.FindByPin(pin)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.Wrapf(localstore.ErrNotFound, "no scan with pin %s", pin)
	}
	for _, older := range entries[1:] {
		fmt.Fprintf(out, "also saved with this pin: %s (%s)\n", older.Filename, humanize.Time(older.SavedAt))
	}
	return store.LoadByName(entries[0].Filename)
}

func pruneCmd(e *env) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete saved scans older than --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return errors.New("--days must not be negative")
			}
			store, _, cleanup, err := e.openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := store.Prune(days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d scan(s) older than %d day(s)\n", n, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "retention in days")
	return cmd
}
