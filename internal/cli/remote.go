package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	humanize "github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"hostscan/internal/remote"
)

var errRemoteUnavailable = errors.New("remote store unavailable")

// withRemote brackets fn with Connect and a Close that runs even when the
// command context is cancelled.
func (e *env) withRemote(ctx context.Context, fn func(rc *remote.Client) error) error {
	rc := e.newRemote()
	defer rc.Close(context.WithoutCancel(ctx))
	if !rc.Connect(ctx) {
		return errRemoteUnavailable
	}
	return fn(rc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func testRemoteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "test-remote",
		Short: "Check the MongoDB connection and print server details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rc := e.newRemote()
			defer rc.Close(context.WithoutCancel(ctx))

			info := rc.TestConnection(ctx)
			if err := printJSON(cmd.OutOrStdout(), info); err != nil {
				return err
			}
			if !info.Connected {
				return errRemoteUnavailable
			}
			return nil
		},
	}
}

func findCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "find SCAN_ID",
		Short: "Fetch a scan from MongoDB by scan id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withRemote(cmd.Context(), func(rc *remote.Client) error {
				doc := rc.FindByID(cmd.Context(), args[0])
				if doc == nil {
					return errors.Errorf("scan %s not found in MongoDB", args[0])
				}
				return printJSON(cmd.OutOrStdout(), doc)
			})
		},
	}
}

func recentCmd(e *env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recent scans in MongoDB",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}
			return e.withRemote(cmd.Context(), func(rc *remote.Client) error {
				scans := rc.Recent(cmd.Context(), limit)
				out := cmd.OutOrStdout()
				if len(scans) == 0 {
					fmt.Fprintln(out, "No scans in MongoDB")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SCAN ID\tTIMESTAMP\tHOSTNAME\tOS")
				for _, s := range scans {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ScanID, s.Timestamp, s.Hostname, s.OSName)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "how many scans to show")
	return cmd
}

func statsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show MongoDB collection statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withRemote(cmd.Context(), func(rc *remote.Client) error {
				stats := rc.CollectionStats(cmd.Context())
				if stats.Error != "" {
					return errors.New(stats.Error)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Collection:      %s.%s\n", e.cfg.Database, e.cfg.Collection)
				fmt.Fprintf(out, "Documents:       %s\n", humanize.Comma(stats.TotalDocuments))
				fmt.Fprintf(out, "Size:            %.2f MB\n", stats.CollectionSizeMB)
				fmt.Fprintf(out, "Average doc:     %s\n", humanize.Bytes(uint64(stats.AvgDocumentSize)))
				fmt.Fprintf(out, "Indexes:         %d\n", stats.IndexCount)
				return nil
			})
		},
	}
}
