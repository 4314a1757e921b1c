package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elasticmodels/elastic/internal/migrate"
	"github.com/elasticmodels/elastic/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <schema>",
	GroupID: "sync",
	Short:   "Dump a schema's instances as JSONL",
	Long: `Write every instance of a schema as one JSON object per line, in the
same shape the API serves. Without --out the dump goes to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("out")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.ResolveSchema(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if outPath == "" {
			_, err := migrate.Export(cmd.Context(), a.Store, s, cmd.OutOrStdout())
			return err
		}
		n, err := migrate.ExportFile(cmd.Context(), a.Store, s, outPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s Exported %d %s to %s\n", ui.RenderPass("✓"), n, s.NamePlural, outPath)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import <schema> <file.jsonl>",
	GroupID: "sync",
	Short:   "Load instances from a JSONL file",
	Long: `Create one instance per line of a JSONL file. Every line is validated
against the schema's current fields; id and timestamps in the file are
ignored.

By default the first invalid line stops the import (lines before it stay
stored). --continue skips invalid lines, --dry-run only validates.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		cont, _ := cmd.Flags().GetBool("continue")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.ResolveSchema(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		result, err := migrate.ImportFile(cmd.Context(), a.Store, s, args[1], migrate.ImportOptions{
			DryRun:          dryRun,
			ContinueOnError: cont,
		})
		if result != nil {
			if jsonOutput {
				if jerr := writeJSON(cmd.OutOrStdout(), result); jerr != nil {
					return jerr
				}
			} else {
				verb := "Imported"
				if dryRun {
					verb = "Validated"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %d of %d lines into %s\n", ui.RenderPass("✓"), verb, result.Created, result.Read, s.NamePlural)
				for _, e := range result.Errors {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", ui.RenderWarn("⚠"), e)
				}
			}
		}
		return err
	},
}

func init() {
	exportCmd.Flags().StringP("out", "o", "", "Output file (default: stdout)")
	importCmd.Flags().Bool("dry-run", false, "Validate without storing")
	importCmd.Flags().Bool("continue", false, "Skip invalid lines instead of stopping")

	rootCmd.AddCommand(exportCmd, importCmd)
}
