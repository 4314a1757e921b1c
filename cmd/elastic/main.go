// Command elastic serves user-defined record schemas over HTTP and manages
// them from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/elasticmodels/elastic/internal/app"
	"github.com/elasticmodels/elastic/internal/config"
	"github.com/elasticmodels/elastic/internal/logging"
)

var (
	cfgFile    string
	jsonOutput bool

	v   *viper.Viper
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "elastic",
	Short: "Runtime-defined record schemas with a JSON API",
	Long: `elastic lets administrators define record schemas at runtime and
exposes create/list/retrieve endpoints for their instances without a
code deployment.

Configuration is read from --config, else elastic.{yaml,toml,json} in the
working directory or $HOME/.elastic, and ELASTIC_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v = config.New(cfgFile)
		flags := cmd.Flags()
		for key, name := range map[string]string{
			"storage.path":    "db",
			"storage.backend": "backend",
			"storage.driver":  "driver",
		} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return err
				}
			}
		}

		var err error
		cfg, err = config.Load(v)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./elastic.yaml or ~/.elastic/elastic.yaml)")
	rootCmd.PersistentFlags().String("db", "", "Database path (overrides storage.path)")
	rootCmd.PersistentFlags().String("backend", "", "Storage backend: sqlite or bolt")
	rootCmd.PersistentFlags().String("driver", "", "SQLite driver: sqlite3 (ncruces) or sqlite (modernc)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Schemas and instances:"},
		&cobra.Group{ID: "sync", Title: "Definitions and transfer:"},
		&cobra.Group{ID: "maint", Title: "Server and maintenance:"},
	)
}

// openApp opens storage per the loaded config. Logs go to the configured
// file, or stderr.
func openApp() (*app.App, error) {
	sink, err := logging.Open(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	a, err := app.Open(cfg, sink)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}
	return a, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
