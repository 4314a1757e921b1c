package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync [dir]",
	GroupID: "sync",
	Short:   "Apply schema definition files",
	Long: `Apply every definition file (*.json, *.yaml, *.yml, *.toml) in a
directory to the registry. The directory defaults to definitions.dir.

A definition file declares one schema:

  name: aquarium
  fields:
    - name: volume
      type: number
    - name: water
      type: enum
      choices: [saltwater, freshwater]

Fields missing from the file are removed; added or changed fields are saved
and prune instances per fields.on_change. Re-applying an unchanged file
does nothing. A file that fails to parse or validate is reported and
skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Definitions.Dir
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			return errors.New("no definitions directory (pass one or set definitions.dir)")
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Syncing from %s...\n", ui.RenderAccent("↻"), dir)
		start := time.Now()

		summary, err := a.Syncer().FullSync(cmd.Context(), dir)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(out, summary)
		}

		mark := ui.RenderPass("✓")
		if summary.Failed > 0 {
			mark = ui.RenderWarn("⚠")
		}
		fmt.Fprintf(out, "%s Sync complete in %v\n", mark, time.Since(start).Round(time.Millisecond))
		fmt.Fprintf(out, "   Files: %d\n", summary.Files)
		fmt.Fprintf(out, "   Changed: %d\n", summary.Changed)
		fmt.Fprintf(out, "   Failed: %d\n", summary.Failed)
		if summary.Failed > 0 {
			return fmt.Errorf("%d definition file(s) failed to sync", summary.Failed)
		}
		return nil
	},
}

var syncExportCmd = &cobra.Command{
	Use:   "export [dir]",
	Short: "Write a definition file for every schema",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		dir := cfg.Definitions.Dir
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			return errors.New("no definitions directory (pass one or set definitions.dir)")
		}
		switch schema.Format(format) {
		case schema.FormatJSON, schema.FormatYAML, schema.FormatTOML:
		default:
			return fmt.Errorf("unknown format %q (want json, yaml or toml)", format)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		paths, err := a.Syncer().Export(cmd.Context(), dir, schema.Format(format))
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", ui.RenderPass("✓"), p)
		}
		return nil
	},
}

func init() {
	syncExportCmd.Flags().StringP("format", "f", "yaml", "File format: json, yaml or toml")

	syncCmd.AddCommand(syncExportCmd)
	rootCmd.AddCommand(syncCmd)
}
