package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/ui"
)

var fieldCmd = &cobra.Command{
	Use:     "field",
	GroupID: "data",
	Short:   "Manage the fields of a schema",
	Long: `Add, change or remove field definitions.

Saving a field changes the shape every instance must have. Under the
default "wipe" policy (fields.on_change) every instance of the schema is
deleted; under "revalidate" only instances that no longer validate are.
Removing a field keeps instances; the removed key is no longer read.`,
}

var fieldAddCmd = &cobra.Command{
	Use:   "add <schema> [name]",
	Short: "Add a field",
	Long: `Add a field to a schema.

Without a name or --type on an interactive terminal, a form asks for the
missing values.

Examples:
  elastic field add aquariums volume --type number
  elastic field add aquariums water --type enum --choices saltwater,freshwater
  elastic field add cars`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := specFromFlags(cmd)
		if len(args) == 2 {
			spec.Name = args[1]
		}

		if spec.Name == "" || spec.Type == "" {
			if !isInteractive() {
				return errors.New("field name and --type are required")
			}
			if err := promptFieldSpec(spec); err != nil {
				return err
			}
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.ResolveSchema(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		saved, err := a.Registry.AddFieldSpec(cmd.Context(), s.ID, spec)
		if err != nil {
			printFieldErrors(cmd.ErrOrStderr(), err)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Added %s field %s.%s\n", ui.RenderPass("✓"), saved.Type, s.Name, saved.Name)
		return nil
	},
}

var fieldUpdateCmd = &cobra.Command{
	Use:   "update <schema> <name>",
	Short: "Change a field; only the given flags are applied",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.ResolveSchema(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		current := s.Field(strings.ToLower(args[1]))
		if current == nil {
			return fmt.Errorf("schema %s has no field %s", s.Name, args[1])
		}

		spec := *current
		flags := cmd.Flags()
		if flags.Changed("name") {
			spec.Name, _ = flags.GetString("name")
		}
		if flags.Changed("label") {
			spec.Label, _ = flags.GetString("label")
		}
		if flags.Changed("type") {
			t, _ := flags.GetString("type")
			spec.Type = schema.FieldType(t)
		}
		if flags.Changed("blank") {
			spec.Blank, _ = flags.GetBool("blank")
		}
		if flags.Changed("choices") {
			c, _ := flags.GetString("choices")
			spec.Choices = splitChoices(c)
		}

		saved, err := a.Registry.UpdateFieldSpec(cmd.Context(), s.ID, current.Name, &spec)
		if err != nil {
			printFieldErrors(cmd.ErrOrStderr(), err)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Updated field %s.%s\n", ui.RenderPass("✓"), s.Name, saved.Name)
		return nil
	},
}

var fieldRemoveCmd = &cobra.Command{
	Use:   "remove <schema> <name>",
	Short: "Remove a field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.ResolveSchema(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		name := strings.ToLower(args[1])
		if err := a.Registry.RemoveFieldSpec(cmd.Context(), s.ID, name); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed field %s.%s\n", ui.RenderPass("✓"), s.Name, name)
		return nil
	},
}

func specFromFlags(cmd *cobra.Command) *schema.FieldSpec {
	label, _ := cmd.Flags().GetString("label")
	typ, _ := cmd.Flags().GetString("type")
	blank, _ := cmd.Flags().GetBool("blank")
	choices, _ := cmd.Flags().GetString("choices")
	return &schema.FieldSpec{
		Label:   label,
		Type:    schema.FieldType(typ),
		Blank:   blank,
		Choices: splitChoices(choices),
	}
}

// promptFieldSpec asks for the attributes of spec on the terminal.
func promptFieldSpec(spec *schema.FieldSpec) error {
	typeOptions := make([]huh.Option[schema.FieldType], 0, len(schema.FieldTypes))
	for _, t := range schema.FieldTypes {
		typeOptions = append(typeOptions, huh.NewOption(t.Title(), t))
	}
	if spec.Type == "" {
		spec.Type = schema.TypeText
	}
	choices := strings.Join(spec.Choices, ", ")

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Name").
				Description("Lowercase letters and underscores").
				Value(&spec.Name).
				Validate(schema.ValidateFieldName),
			huh.NewInput().
				Title("Label").
				Description("Leave empty to derive it from the name").
				Value(&spec.Label),
			huh.NewSelect[schema.FieldType]().
				Title("Type").
				Options(typeOptions...).
				Value(&spec.Type),
			huh.NewConfirm().
				Title("May be left blank?").
				Value(&spec.Blank),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Choices").
				Description("Comma separated").
				Value(&choices),
		).WithHideFunc(func() bool { return spec.Type != schema.TypeEnum }),
	)
	if err := form.Run(); err != nil {
		return err
	}

	spec.Choices = nil
	if spec.Type == schema.TypeEnum {
		spec.Choices = splitChoices(choices)
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{fieldAddCmd, fieldUpdateCmd} {
		c.Flags().String("label", "", "Display label (default: derived from the name)")
		c.Flags().StringP("type", "t", "", "Field type: number, text, enum or date")
		c.Flags().Bool("blank", false, "Allow the field to be left blank")
		c.Flags().String("choices", "", "Comma-separated choices for enum fields")
	}
	fieldUpdateCmd.Flags().String("name", "", "Rename the field")

	fieldCmd.AddCommand(fieldAddCmd, fieldUpdateCmd, fieldRemoveCmd)
	rootCmd.AddCommand(fieldCmd)
}
