package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/elasticmodels/elastic/internal/app"
	"github.com/elasticmodels/elastic/internal/config"
	"github.com/elasticmodels/elastic/internal/loadtest"
	"github.com/elasticmodels/elastic/internal/logging"
	"github.com/elasticmodels/elastic/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "maint",
	Short:   "Measure concurrent instance creation",
	Long: `Create several schemas in a scratch database, run concurrent writers
against them and report create latency. Afterwards every instance is
checked to belong to the schema it was written under.

The scratch database uses the configured backend and driver and is
removed afterwards unless --keep is given.

Examples:
  elastic loadtest
  elastic loadtest --workers 64 --per-worker 200 --backend bolt`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := loadtest.DefaultOptions()
		flags := cmd.Flags()
		opts.Schemas, _ = flags.GetInt("schemas")
		opts.Workers, _ = flags.GetInt("workers")
		opts.PerWorker, _ = flags.GetInt("per-worker")
		keep, _ := flags.GetBool("keep")

		if opts.Schemas <= 0 || opts.Workers <= 0 || opts.PerWorker <= 0 {
			return fmt.Errorf("--schemas, --workers and --per-worker must be positive")
		}

		dir, err := os.MkdirTemp("", "elastic-loadtest-")
		if err != nil {
			return err
		}
		if !keep {
			defer os.RemoveAll(dir)
		}

		scratch := *cfg
		scratch.Storage.Path = filepath.Join(dir, "loadtest.db")
		if scratch.Storage.Backend == config.BackendBolt {
			scratch.Storage.Path = filepath.Join(dir, "loadtest.bolt")
		}
		a, err := app.Open(&scratch, logging.Discard())
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		fx, err := loadtest.Setup(ctx, a.Registry, a.Store, opts.Schemas)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Running %d workers x %d creates over %d schemas (%s)\n\n",
			ui.RenderAccent("●"), opts.Workers, opts.PerWorker, opts.Schemas, scratch.Storage.Backend)

		stats, runErr := fx.Run(ctx, opts)
		if stats != nil {
			if jsonOutput {
				if err := writeJSON(out, stats); err != nil {
					return err
				}
			} else {
				stats.Print(out)
			}
		}
		if runErr != nil {
			return runErr
		}

		total, err := fx.Verify(ctx)
		if err != nil {
			fmt.Fprintf(out, "\n%s Cross-schema check failed\n", ui.RenderFail("✗"))
			return err
		}
		if !jsonOutput {
			fmt.Fprintf(out, "\n%s %d instances verified, none under the wrong schema\n", ui.RenderPass("✓"), total)
			if keep {
				fmt.Fprintf(out, "   Database kept at %s\n", scratch.Storage.Path)
			}
		}
		return nil
	},
}

func init() {
	d := loadtest.DefaultOptions()
	loadtestCmd.Flags().Int("schemas", d.Schemas, "Number of schemas to spread writes over")
	loadtestCmd.Flags().Int("workers", d.Workers, "Number of concurrent writers")
	loadtestCmd.Flags().Int("per-worker", d.PerWorker, "Creates per writer")
	loadtestCmd.Flags().Bool("keep", false, "Keep the scratch database")
	rootCmd.AddCommand(loadtestCmd)
}
