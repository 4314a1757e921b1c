package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/elasticmodels/elastic/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "maint",
	Short:   "Show storage status",
	Long: `Display the storage backend in use, its location and size, and the
number of schemas, fields and instances it holds.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Storage.Stats(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, stats)
		}

		configFile := cfg.File
		if configFile == "" {
			configFile = ui.RenderMuted("none")
		}
		fmt.Fprintf(out, "\n%s Elastic Status\n\n", ui.RenderAccent("●"))
		fmt.Fprint(out, ui.KeyValues([][2]string{
			{"Backend", stats.Backend},
			{"Location", stats.Path},
			{"Size", humanize.Bytes(uint64(stats.SizeBytes))},
			{"Schemas", humanize.Comma(int64(stats.Schemas))},
			{"Fields", humanize.Comma(int64(stats.Fields))},
			{"Instances", humanize.Comma(int64(stats.Instances))},
			{"On field change", string(cfg.Fields.OnChange)},
			{"Config", configFile},
		}))
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
