package main

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/elasticmodels/elastic/internal/projection"
	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/store"
	"github.com/elasticmodels/elastic/internal/ui"
)

var instanceCmd = &cobra.Command{
	Use:     "instance",
	GroupID: "data",
	Short:   "Manage the instances of a schema",
}

var instanceListCmd = &cobra.Command{
	Use:   "list <schema>",
	Short: "List instances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSchema(cmd, args[0], func(ctx context.Context, a *appScope) error {
			instances, err := a.store.List(ctx, a.schema)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, instances)
			}
			if len(instances) == 0 {
				fmt.Fprintf(out, "No %s\n", a.schema.NamePlural)
				return nil
			}

			headers := append([]string{"ID"}, a.schema.FieldNames()...)
			rows := make([][]string, 0, len(instances))
			for _, inst := range instances {
				row := []string{strconv.FormatInt(inst.ID, 10)}
				for _, name := range inst.Fields() {
					row = append(row, formatValue(inst.Get(name)))
				}
				rows = append(rows, row)
			}
			fmt.Fprintln(out, ui.Table(headers, rows))
			return nil
		})
	},
}

var instanceGetCmd = &cobra.Command{
	Use:   "get <schema> <id>",
	Short: "Show one instance as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseInstanceID(args[1])
		if err != nil {
			return err
		}
		return withSchema(cmd, args[0], func(ctx context.Context, a *appScope) error {
			inst, err := a.store.Retrieve(ctx, a.schema, id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), inst)
		})
	},
}

var instanceCreateCmd = &cobra.Command{
	Use:   "create <schema> [field=value ...]",
	Short: "Create an instance",
	Long: `Create an instance from field=value pairs or a JSON object.

Values given as pairs are strings and are coerced like API input, so
"volume=200" stores the integer 200. An empty value ("temperature=")
leaves a blank field empty.

Examples:
  elastic instance create aquariums volume=200 water=saltwater origin=Malawi next_water_change=2018-05-01
  elastic instance create cars --data '{"make": "BMW", "mileage": 12000}'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString("data")
		payload, err := buildPayload(data, args[1:])
		if err != nil {
			return err
		}

		return withSchema(cmd, args[0], func(ctx context.Context, a *appScope) error {
			inst, err := a.store.Create(ctx, a.schema, payload)
			if err != nil {
				printFieldErrors(cmd.ErrOrStderr(), err)
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), inst)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created %s %d\n", ui.RenderPass("✓"), a.schema.Name, inst.ID)
			return nil
		})
	},
}

var instanceUpdateCmd = &cobra.Command{
	Use:   "update <schema> <id> [field=value ...]",
	Short: "Replace or patch an instance",
	Long: `Replace an instance with the given values, or with --partial change
only the fields named and keep the rest.

Examples:
  elastic instance update aquariums 1 volume=250 water=saltwater origin=Malawi next_water_change=2018-06-01
  elastic instance update aquariums 1 --partial temperature=26`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseInstanceID(args[1])
		if err != nil {
			return err
		}
		data, _ := cmd.Flags().GetString("data")
		partial, _ := cmd.Flags().GetBool("partial")
		payload, err := buildPayload(data, args[2:])
		if err != nil {
			return err
		}

		return withSchema(cmd, args[0], func(ctx context.Context, a *appScope) error {
			update := a.store.Update
			if partial {
				update = a.store.PartialUpdate
			}
			inst, err := update(ctx, a.schema, id, payload)
			if err != nil {
				printFieldErrors(cmd.ErrOrStderr(), err)
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), inst)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Updated %s %d\n", ui.RenderPass("✓"), a.schema.Name, inst.ID)
			return nil
		})
	},
}

var instanceDeleteCmd = &cobra.Command{
	Use:   "delete <schema> <id>",
	Short: "Delete an instance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseInstanceID(args[1])
		if err != nil {
			return err
		}
		yes, _ := cmd.Flags().GetBool("yes")

		return withSchema(cmd, args[0], func(ctx context.Context, a *appScope) error {
			if !yes {
				if !isInteractive() {
					return fmt.Errorf("refusing to delete %s %d without --yes", a.schema.Name, id)
				}
				confirmed := false
				err := huh.NewConfirm().
					Title(fmt.Sprintf("Delete %s %d?", a.schema.Name, id)).
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

			if err := a.store.Delete(ctx, a.schema, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s %d\n", ui.RenderPass("✓"), a.schema.Name, id)
			return nil
		})
	},
}

func parseInstanceID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid instance id %q", s)
	}
	return id, nil
}

// appScope is what withSchema hands to its callback.
type appScope struct {
	store  *store.Store
	schema *schema.Schema
}

// withSchema opens the app, resolves ref and runs fn with the schema's
// descriptors active.
func withSchema(cmd *cobra.Command, ref string, fn func(ctx context.Context, a *appScope) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.ResolveSchema(cmd.Context(), ref)
	if err != nil {
		return err
	}
	return projection.WithSchema(cmd.Context(), s, func(ctx context.Context) error {
		return fn(ctx, &appScope{store: a.Store, schema: s})
	})
}

// buildPayload merges a JSON object with field=value pairs; pairs win.
func buildPayload(data string, pairs []string) (map[string]any, error) {
	payload := map[string]any{}
	if data != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(data)))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			return nil, fmt.Errorf("invalid --data: %w", err)
		}
		if payload == nil {
			return nil, fmt.Errorf("invalid --data: object expected")
		}
	}
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field assignment %q (want field=value)", p)
		}
		payload[key] = value
	}
	return payload, nil
}

func formatValue(v any) string {
	if v == nil {
		return ui.RenderMuted("-")
	}
	return fmt.Sprint(v)
}

func init() {
	instanceCreateCmd.Flags().String("data", "", "Instance as a JSON object")
	instanceUpdateCmd.Flags().String("data", "", "Values as a JSON object")
	instanceUpdateCmd.Flags().Bool("partial", false, "Change only the given fields")
	instanceDeleteCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	instanceCmd.AddCommand(instanceListCmd, instanceGetCmd, instanceCreateCmd, instanceUpdateCmd, instanceDeleteCmd)
	rootCmd.AddCommand(instanceCmd)
}
