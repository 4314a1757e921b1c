package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/elasticmodels/elastic/internal/projection"
	"github.com/elasticmodels/elastic/internal/ui"
)

var schemaCmd = &cobra.Command{
	Use:     "schema",
	GroupID: "data",
	Short:   "Manage schemas",
}

var schemaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schemas",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		schemas, err := a.Registry.Schemas(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			summaries := make([]any, 0, len(schemas))
			for _, s := range schemas {
				summaries = append(summaries, s.Summary())
			}
			return writeJSON(out, summaries)
		}
		if len(schemas) == 0 {
			fmt.Fprintln(out, "No schemas defined")
			return nil
		}

		rows := make([][]string, 0, len(schemas))
		for _, s := range schemas {
			rows = append(rows, []string{strconv.FormatInt(s.ID, 10), s.Name, s.NamePlural, strconv.Itoa(len(s.Fields))})
		}
		fmt.Fprintln(out, ui.Table([]string{"ID", "NAME", "PLURAL", "FIELDS"}, rows))
		return nil
	},
}

var schemaShowCmd = &cobra.Command{
	Use:   "show <id|plural>",
	Short: "Show a schema and its fields",
	Long: `Show a schema and its ordered field definitions.

With --definitions the persisted record-field definitions derived from the
schema are printed instead, e.g.

  [{"class": "IntegerField", "name": "volume", "kwargs": {"blank": false}}]`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		definitions, _ := cmd.Flags().GetBool("definitions")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.ResolveSchema(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if definitions {
			return writeJSON(out, projection.BuildDescriptors(s).Definitions())
		}
		if jsonOutput {
			return writeJSON(out, s)
		}

		fmt.Fprintf(out, "%s %s (id %d, plural %s)\n\n", ui.RenderAccent("●"), ui.RenderBold(s.Name), s.ID, s.NamePlural)
		if len(s.Fields) == 0 {
			fmt.Fprintln(out, ui.RenderMuted("No fields"))
			return nil
		}
		rows := make([][]string, 0, len(s.Fields))
		for _, f := range s.Fields {
			rows = append(rows, []string{f.Name, f.Label, string(f.Type), strconv.FormatBool(f.Blank), strings.Join(f.Choices, ", ")})
		}
		fmt.Fprintln(out, ui.Table([]string{"NAME", "LABEL", "TYPE", "BLANK", "CHOICES"}, rows))
		return nil
	},
}

var schemaCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a schema without fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plural, _ := cmd.Flags().GetString("plural")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Registry.CreateSchema(cmd.Context(), args[0], plural)
		if err != nil {
			printFieldErrors(cmd.ErrOrStderr(), err)
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), s)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Created schema %s (id %d, plural %s)\n", ui.RenderPass("✓"), s.Name, s.ID, s.NamePlural)
		return nil
	},
}

var schemaRenameCmd = &cobra.Command{
	Use:   "rename <id|plural> <name>",
	Short: "Rename a schema; instances are kept",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		plural, _ := cmd.Flags().GetString("plural")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.ResolveSchema(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		s, err = a.Registry.UpdateSchema(cmd.Context(), s.ID, args[1], plural)
		if err != nil {
			printFieldErrors(cmd.ErrOrStderr(), err)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Renamed schema %d to %s (plural %s)\n", ui.RenderPass("✓"), s.ID, s.Name, s.NamePlural)
		return nil
	},
}

var schemaDeleteCmd = &cobra.Command{
	Use:   "delete <id|plural>",
	Short: "Delete a schema with its fields and instances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.ResolveSchema(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if !yes {
			if !isInteractive() {
				return fmt.Errorf("refusing to delete %s without --yes", s.Name)
			}
			confirmed := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Delete schema %s and all of its instances?", s.Name)).
				Affirmative("Delete").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil {
				return err
			}
			if !confirmed {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}
		}

		if err := a.Registry.DeleteSchema(cmd.Context(), s.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted schema %s\n", ui.RenderPass("✓"), s.Name)
		return nil
	},
}

func init() {
	schemaShowCmd.Flags().Bool("definitions", false, "Print the derived record-field definitions")
	schemaCreateCmd.Flags().String("plural", "", "Plural name used in URLs (default: name + \"s\")")
	schemaRenameCmd.Flags().String("plural", "", "New plural name (default: name + \"s\")")
	schemaDeleteCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	schemaCmd.AddCommand(schemaListCmd, schemaShowCmd, schemaCreateCmd, schemaRenameCmd, schemaDeleteCmd)
	rootCmd.AddCommand(schemaCmd)
}
