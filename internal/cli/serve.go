package cli

import (
	"github.com/spf13/cobra"

	"hostscan/internal/server"
)

func serveCmd(e *env) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve saved and uploaded scans over a read-only HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, index, cleanup, err := e.openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			if addr == "" {
				addr = e.cfg.ListenAddr
			}
			api := &server.API{
				Store:     store,
				Index:     index,
				Logger:    e.logger.WithField("component", "api"),
				NewRemote: func() server.RemoteReader { return e.newRemote() },
			}
			return server.Serve(cmd.Context(), addr, api.Routes(), e.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8086)")
	return cmd
}
