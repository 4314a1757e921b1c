package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/elasticmodels/elastic/internal/api"
	"github.com/elasticmodels/elastic/internal/daemon"
	"github.com/elasticmodels/elastic/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "maint",
	Short:   "Run the HTTP API",
	Long: `Serve the JSON API:

  GET  /schemas/                   list schemas
  GET  /schemas/{id}/              schema with field definitions
  GET  /instances/{plural}/        list instances
  POST /instances/{plural}/        create an instance
  GET  /instances/{plural}/{id}/   retrieve an instance
  GET  /health                     health check
  GET  /ws                         websocket change feed

When definitions.dir is set its files are applied on startup; with
definitions.watch (or --watch) the directory is also watched and changes
are applied as they happen.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = addr
		}
		if cmd.Flags().Changed("watch") {
			cfg.Definitions.Watch, _ = cmd.Flags().GetBool("watch")
			if cfg.Definitions.Watch && cfg.Definitions.Dir == "" {
				return fmt.Errorf("--watch requires definitions.dir")
			}
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		server := api.NewServer(a.Registry, a.Store, a.Feed, &api.Config{
			Addr:   cfg.Server.Addr,
			Logger: a.Logger("api"),
		})

		var d *daemon.Daemon
		switch {
		case cfg.Definitions.Watch:
			d, err = daemon.New(a.Syncer(), cfg.Definitions.Dir, &daemon.Config{
				DebounceInterval: cfg.Definitions.Debounce,
				Logger:           a.Logger("daemon"),
			})
			if err != nil {
				return err
			}
		case cfg.Definitions.Dir != "":
			if _, err := a.Syncer().FullSync(ctx, cfg.Definitions.Dir); err != nil {
				return err
			}
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return server.Run(ctx)
		})
		if d != nil {
			g.Go(func() error {
				return d.Start(ctx)
			})
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Serving on %s (policy %s, backend %s)\n",
			ui.RenderAccent("●"), cfg.Server.Addr, cfg.Fields.OnChange, cfg.Storage.Backend)
		if d != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "   Watching definitions in %s\n", cfg.Definitions.Dir)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "\nPress Ctrl+C to stop")

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8000", "Address to listen on (overrides server.addr)")
	serveCmd.Flags().Bool("watch", false, "Watch definitions.dir for changes")
	rootCmd.AddCommand(serveCmd)
}
