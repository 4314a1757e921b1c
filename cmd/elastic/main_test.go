package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/elasticmodels/elastic/internal/ui"
)

// setupCLI points storage at a fresh database and isolates the config search.
func setupCLI(t *testing.T) string {
	t.Helper()
	ui.DisableColor()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ELASTIC_STORAGE_PATH", filepath.Join(dir, "elastic.db"))
	return dir
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	jsonOutput, cfgFile = false, ""

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String() + errOut.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("elastic %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func setupAquarium(t *testing.T) {
	t.Helper()
	mustRun(t, "schema", "create", "Aquarium")
	mustRun(t, "field", "add", "aquariums", "volume", "--type", "number")
	mustRun(t, "field", "add", "aquariums", "water", "--type", "enum", "--choices", "saltwater, freshwater")
	mustRun(t, "field", "add", "aquariums", "next_water_change", "--type", "date", "--label", "Next water change", "--blank")
}

func TestSchemaAndFieldCommands(t *testing.T) {
	setupCLI(t)
	setupAquarium(t)

	out := mustRun(t, "schema", "list")
	if !strings.Contains(out, "aquarium") || !strings.Contains(out, "aquariums") {
		t.Errorf("schema list missing aquarium:\n%s", out)
	}

	out = mustRun(t, "--json", "schema", "list")
	if strings.TrimSpace(out) != "[\n  {\n    \"id\": 1,\n    \"name\": \"aquarium\"\n  }\n]" {
		t.Errorf("schema list --json = %s", out)
	}

	out = mustRun(t, "schema", "show", "aquariums", "--definitions")
	var defs []map[string]any
	if err := json.Unmarshal([]byte(out), &defs); err != nil {
		t.Fatalf("--definitions output is not JSON: %v\n%s", err, out)
	}
	if len(defs) != 3 || defs[0]["class"] != "IntegerField" || defs[1]["class"] != "CharField" || defs[2]["class"] != "DateField" {
		t.Errorf("definitions = %v", defs)
	}

	mustRun(t, "field", "update", "aquariums", "volume", "--blank")
	out = mustRun(t, "--json", "schema", "show", "1")
	var detail struct {
		Fields []struct {
			Name  string `json:"name"`
			Blank bool   `json:"blank"`
		} `json:"field_definitions"`
	}
	if err := json.Unmarshal([]byte(out), &detail); err != nil {
		t.Fatalf("schema show --json is not JSON: %v\n%s", err, out)
	}
	if len(detail.Fields) != 3 || detail.Fields[0].Name != "volume" || !detail.Fields[0].Blank {
		t.Errorf("volume should be blank after update: %+v", detail.Fields)
	}

	mustRun(t, "field", "remove", "aquariums", "next_water_change")
	mustRun(t, "schema", "rename", "aquariums", "tank", "--plural", "tanks")
	out = mustRun(t, "schema", "show", "tanks")
	if !strings.Contains(out, "tank") || strings.Contains(out, "next_water_change") {
		t.Errorf("schema show after rename/remove:\n%s", out)
	}
}

func TestFieldAdd_Invalid(t *testing.T) {
	setupCLI(t)
	mustRun(t, "schema", "create", "car")

	if _, err := run(t, "field", "add", "cars", "make"); err == nil {
		t.Error("field add without --type should fail off a terminal")
	}

	out, err := run(t, "field", "add", "cars", "make", "--type", "enum")
	if err == nil {
		t.Fatal("enum without choices should fail")
	}
	if !strings.Contains(out, "choices:") {
		t.Errorf("validation output should name choices:\n%s", out)
	}

	if _, err := run(t, "field", "add", "boats", "x", "--type", "text"); err == nil {
		t.Error("unknown schema should fail")
	}
}

func TestInstanceCommands(t *testing.T) {
	setupCLI(t)
	setupAquarium(t)

	mustRun(t, "instance", "create", "aquariums", "volume=200", "water=saltwater", "next_water_change=2018-05-01")
	mustRun(t, "instance", "create", "aquariums", "--data", `{"volume": 80, "water": "freshwater"}`)

	out, err := run(t, "instance", "create", "aquariums", "volume=big", "water=lava")
	if err == nil {
		t.Fatal("invalid instance should fail")
	}
	if !strings.Contains(out, "A valid integer is required.") || !strings.Contains(out, `"lava" is not a valid choice.`) {
		t.Errorf("validation output:\n%s", out)
	}

	out = mustRun(t, "--json", "instance", "list", "aquariums")
	var list []map[string]any
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("instance list --json is not JSON: %v\n%s", err, out)
	}
	if len(list) != 2 {
		t.Fatalf("got %d instances, want 2", len(list))
	}
	if list[0]["volume"] != float64(200) || list[0]["next_water_change"] != "2018-05-01" || list[1]["next_water_change"] != nil {
		t.Errorf("instances = %v", list)
	}

	out = mustRun(t, "instance", "get", "aquariums", "2")
	if !strings.Contains(out, `"water": "freshwater"`) {
		t.Errorf("instance get:\n%s", out)
	}

	if _, err := run(t, "instance", "get", "aquariums", "99"); err == nil {
		t.Error("missing instance should fail")
	}

	out = mustRun(t, "instance", "list", "aquariums")
	if !strings.Contains(out, "saltwater") || !strings.Contains(out, "2018-05-01") {
		t.Errorf("instance list table:\n%s", out)
	}
}

func TestInstanceUpdateDelete(t *testing.T) {
	setupCLI(t)
	setupAquarium(t)
	mustRun(t, "instance", "create", "aquariums", "volume=200", "water=saltwater", "next_water_change=2018-05-01")

	mustRun(t, "instance", "update", "aquariums", "1", "--partial", "volume=250")
	out := mustRun(t, "instance", "get", "aquariums", "1")
	if !strings.Contains(out, `"volume": 250`) || !strings.Contains(out, `"next_water_change": "2018-05-01"`) {
		t.Errorf("after partial update:\n%s", out)
	}

	mustRun(t, "instance", "update", "aquariums", "1", "volume=90", "water=freshwater")
	out = mustRun(t, "instance", "get", "aquariums", "1")
	if !strings.Contains(out, `"water": "freshwater"`) || !strings.Contains(out, `"next_water_change": null`) {
		t.Errorf("after full update:\n%s", out)
	}

	out, err := run(t, "instance", "update", "aquariums", "1", "--partial", "water=lava")
	if err == nil || !strings.Contains(out, `"lava" is not a valid choice.`) {
		t.Errorf("invalid update: err = %v\n%s", err, out)
	}

	if _, err := run(t, "instance", "delete", "aquariums", "1"); err == nil {
		t.Error("delete without --yes should fail off a terminal")
	}
	mustRun(t, "instance", "delete", "aquariums", "1", "--yes")
	if _, err := run(t, "instance", "get", "aquariums", "1"); err == nil {
		t.Error("deleted instance should be gone")
	}
	if _, err := run(t, "instance", "delete", "aquariums", "1", "--yes"); err == nil {
		t.Error("deleting twice should fail")
	}
}

func TestBuildPayload(t *testing.T) {
	p, err := buildPayload(`{"a": 1, "b": "x"}`, []string{"b=y", "c="})
	if err != nil {
		t.Fatalf("buildPayload() failed: %v", err)
	}
	if p["b"] != "y" || p["c"] != "" {
		t.Errorf("pairs should override data: %v", p)
	}
	if _, err := buildPayload("", []string{"novalue"}); err == nil {
		t.Error("assignment without = should fail")
	}
	if _, err := buildPayload("[1]", nil); err == nil {
		t.Error("non-object --data should fail")
	}
}

func TestExportImportCommands(t *testing.T) {
	dir := setupCLI(t)
	setupAquarium(t)
	mustRun(t, "instance", "create", "aquariums", "volume=200", "water=saltwater")

	path := filepath.Join(dir, "out", "aquariums.jsonl")
	mustRun(t, "export", "aquariums", "--out", path)

	mustRun(t, "import", "aquariums", path)
	out := mustRun(t, "--json", "instance", "list", "aquariums")
	var list []map[string]any
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("instance list --json is not JSON: %v\n%s", err, out)
	}
	if len(list) != 2 || list[0]["volume"] != float64(200) || list[1]["volume"] != float64(200) || list[0]["id"] == list[1]["id"] {
		t.Errorf("want two distinct instances with volume 200: %v", list)
	}

	bad := filepath.Join(dir, "bad.jsonl")
	if err := os.WriteFile(bad, []byte("{\"volume\": 1, \"water\": \"saltwater\"}\n{\"volume\": \"x\"}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	out = mustRun(t, "import", "aquariums", bad, "--dry-run", "--continue")
	if !strings.Contains(out, "Validated 1 of 2") || !strings.Contains(out, "line 2") {
		t.Errorf("dry run output:\n%s", out)
	}
}

func TestSyncCommands(t *testing.T) {
	dir := setupCLI(t)
	defs := filepath.Join(dir, "definitions")
	if err := os.MkdirAll(defs, 0755); err != nil {
		t.Fatal(err)
	}
	content := "name: car\nfields:\n  - name: make\n    type: enum\n    choices: [BMW, Fiat]\n  - name: mileage\n    type: number\n"
	if err := os.WriteFile(filepath.Join(defs, "cars.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, "sync", defs)
	if !strings.Contains(out, "Changed: 1") {
		t.Errorf("sync output:\n%s", out)
	}
	out = mustRun(t, "sync", defs)
	if !strings.Contains(out, "Changed: 0") {
		t.Errorf("second sync should change nothing:\n%s", out)
	}

	exported := filepath.Join(dir, "exported")
	mustRun(t, "sync", "export", exported, "--format", "toml")
	if _, err := os.Stat(filepath.Join(exported, "cars.toml")); err != nil {
		t.Errorf("export did not write cars.toml: %v", err)
	}

	if err := os.WriteFile(filepath.Join(defs, "broken.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "sync", defs); err == nil {
		t.Error("sync with a broken file should report failure")
	}

	if _, err := run(t, "sync"); err == nil {
		t.Error("sync without a directory should fail")
	}
}

func TestStatusCommand(t *testing.T) {
	setupCLI(t)
	setupAquarium(t)

	out := mustRun(t, "status")
	for _, want := range []string{"Backend:", "sqlite/sqlite3", "Schemas:", "Fields:", "Instances:", "wipe"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}

	out = mustRun(t, "--backend", "bolt", "--db", filepath.Join(t.TempDir(), "x.bolt"), "status")
	if !strings.Contains(out, "bolt") {
		t.Errorf("status with --backend bolt:\n%s", out)
	}
}

func TestSchemaDelete_RequiresConfirmation(t *testing.T) {
	setupCLI(t)
	mustRun(t, "schema", "create", "car")

	if _, err := run(t, "schema", "delete", "cars"); err == nil {
		t.Fatal("delete without --yes should fail off a terminal")
	}
	mustRun(t, "schema", "delete", "cars", "--yes")
	if _, err := run(t, "schema", "show", "cars"); err == nil {
		t.Error("schema should be gone")
	}
}

func TestLoadtestCommand(t *testing.T) {
	setupCLI(t)

	out := mustRun(t, "loadtest", "--schemas", "2", "--workers", "4", "--per-worker", "5")
	if !strings.Contains(out, "Total Creates: 20") || !strings.Contains(out, "20 instances verified") {
		t.Errorf("loadtest output:\n%s", out)
	}

	if _, err := run(t, "loadtest", "--workers", "0"); err == nil {
		t.Error("zero workers should fail")
	}
}

func TestInvalidConfig(t *testing.T) {
	setupCLI(t)
	if _, err := run(t, "--backend", "postgres", "status"); err == nil {
		t.Error("unknown backend should fail")
	}
}
