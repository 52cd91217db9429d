package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/cellforge/pkg/api"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve schematic documents and runs over HTTP",
		Long: `Serve starts the JSON API on top of the configured document store.
It stops gracefully on interrupt.`,
		Example: `  cellforge serve --addr :8080`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := c.config()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			lib, err := cfg.Library()
			if err != nil {
				return err
			}

			st, err := c.newStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close(ctx)

			ch, err := c.newCache(ctx, false)
			if err != nil {
				return err
			}
			defer ch.Close()

			srv := api.New(st, api.Options{
				Library:     lib,
				Recentering: cfg.Recentering(),
				Cache:       ch,
				RunTTL:      cfg.Cache.TTL.Duration,
				Logger:      c.Logger,
			})
			printInfo("Listening on %s", StyleHighlight.Render(addr))
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	return cmd
}
