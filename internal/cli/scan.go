package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"hostscan/internal/scanner"
)

func scanCmd(e *env) *cobra.Command {
	var (
		noSensitive bool
		scanOnly    bool
		output      string
		operationID string
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a full inventory scan, save it and upload it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, cleanup, err := e.openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			providers := scanner.DefaultProviders(e.logger)
			if e.providers != nil {
				providers = *e.providers
			}
			s := scanner.New(store, providers, e.cfg.ScannerVersion, e.logger)
			s.NewRemote = func() scanner.RemoteStore { return e.newRemote() }

			res, err := s.RunWith(cmd.Context(), scanner.RunOptions{
				IncludeSensitive: !noSensitive,
				UploadRemote:     !scanOnly,
				OperationID:      operationID,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, scanner.FormatSummary(res.Document))
			fmt.Fprintf(out, "Saved to %s\n", res.Path)
			switch {
			case scanOnly:
			case res.Uploaded():
				fmt.Fprintf(out, "Uploaded to MongoDB as %s\n", res.RemoteID)
			default:
				fmt.Fprintln(out, "MongoDB upload failed, the scan is only stored locally")
			}

			if output != "" {
				b, err := json.MarshalIndent(res.Document, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(output, b, 0644); err != nil {
					return errors.Wrapf(err, "write %s", output)
				}
				fmt.Fprintf(out, "Copy written to %s\n", output)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&noSensitive, "no-sensitive", false, "hide serial numbers, product keys and similar values")
	f.BoolVar(&scanOnly, "scan-only", false, "save locally without uploading to MongoDB")
	f.StringVarP(&output, "output", "o", "", "also write the scan document to this file")
	f.StringVar(&operationID, "operation-id", "", "tag the scan with an external operation id")
	return cmd
}
