package migrate

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/elasticmodels/elastic/internal/projection"
	"github.com/elasticmodels/elastic/internal/registry"
	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/storage/sqlite"
	"github.com/elasticmodels/elastic/internal/store"
)

func setupTest(t *testing.T) (*registry.Registry, *store.Store, *schema.Schema) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), sqlite.DefaultOptions())
	if err != nil {
		t.Fatalf("sqlite.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := registry.New(db, registry.Options{})
	ctx := context.Background()
	sc, err := reg.CreateSchema(ctx, "car", "")
	if err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}
	fields := []*schema.FieldSpec{
		{Name: "make", Type: schema.TypeEnum, Choices: []string{"BMW", "Fiat"}},
		{Name: "mileage", Type: schema.TypeNumber},
		{Name: "first_registration_date", Type: schema.TypeDate, Blank: true},
	}
	for _, f := range fields {
		if _, err := reg.AddFieldSpec(ctx, sc.ID, f); err != nil {
			t.Fatalf("AddFieldSpec(%s) failed: %v", f.Name, err)
		}
	}
	sc, err = reg.GetSchemaDetail(ctx, sc.ID)
	if err != nil {
		t.Fatalf("GetSchemaDetail() failed: %v", err)
	}
	return reg, store.New(db, store.Options{}), sc
}

func count(t *testing.T, st *store.Store, sc *schema.Schema) int {
	t.Helper()
	n, err := st.Count(projection.Activate(context.Background(), sc), sc)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	return n
}

const carsJSONL = `{"id": 7, "make": "BMW", "mileage": 12000, "first_registration_date": "2015-03-01"}

{"make": "Fiat", "mileage": "800", "first_registration_date": null}
`

func TestImport(t *testing.T) {
	_, st, sc := setupTest(t)

	result, err := Import(context.Background(), st, sc, strings.NewReader(carsJSONL), ImportOptions{})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Read != 2 || result.Created != 2 || result.Failed != 0 {
		t.Errorf("Import() = %+v, want 2 read, 2 created", result)
	}
	if got := count(t, st, sc); got != 2 {
		t.Errorf("stored %d instances, want 2", got)
	}

	ctx := projection.Activate(context.Background(), sc)
	list, err := st.List(ctx, sc)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if list[0].ID == 7 {
		t.Error("id from the file should not be reused")
	}
	if got := list[1].Get("mileage"); got != int64(800) {
		t.Errorf("mileage = %#v, want int64(800)", got)
	}
}

func TestImport_StopsOnFirstError(t *testing.T) {
	_, st, sc := setupTest(t)
	input := `{"make": "BMW", "mileage": 1}
{"make": "Trabant", "mileage": 2}
{"make": "Fiat", "mileage": 3}
`
	result, err := Import(context.Background(), st, sc, strings.NewReader(input), ImportOptions{})
	if err == nil {
		t.Fatal("Import() should fail on an invalid line")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error %q should name line 2", err)
	}
	if _, ok := schema.AsFieldErrors(err); !ok {
		t.Errorf("error should wrap FieldErrors, got %T", err)
	}
	if result.Created != 1 || result.Failed != 1 {
		t.Errorf("Import() = %+v, want 1 created, 1 failed", result)
	}
	if got := count(t, st, sc); got != 1 {
		t.Errorf("stored %d instances, want 1", got)
	}
}

func TestImport_ContinueOnError(t *testing.T) {
	_, st, sc := setupTest(t)
	input := `{"make": "BMW", "mileage": 1}
not json
[1, 2]
null
{"make": "Fiat"}
{"make": "Fiat", "mileage": 3}
`
	result, err := Import(context.Background(), st, sc, strings.NewReader(input), ImportOptions{ContinueOnError: true})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Read != 6 || result.Created != 2 || result.Failed != 4 {
		t.Errorf("Import() = %+v, want 6 read, 2 created, 4 failed", result)
	}
	if len(result.Errors) != 4 || !strings.HasPrefix(result.Errors[0], "line 2:") {
		t.Errorf("Errors = %v", result.Errors)
	}
}

func TestImport_DryRun(t *testing.T) {
	_, st, sc := setupTest(t)

	result, err := Import(context.Background(), st, sc, strings.NewReader(carsJSONL), ImportOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Created != 2 {
		t.Errorf("Created = %d, want 2", result.Created)
	}
	if got := count(t, st, sc); got != 0 {
		t.Errorf("dry run stored %d instances", got)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	_, st, sc := setupTest(t)
	ctx := context.Background()

	if _, err := Import(ctx, st, sc, strings.NewReader(carsJSONL), ImportOptions{}); err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "out", "cars.jsonl")
	n, err := ExportFile(ctx, st, sc, path)
	if err != nil {
		t.Fatalf("ExportFile() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("ExportFile() wrote %d, want 2", n)
	}

	_, other, otherSchema := setupTest(t)
	result, err := ImportFile(ctx, other, otherSchema, path, ImportOptions{})
	if err != nil {
		t.Fatalf("ImportFile() failed: %v", err)
	}
	if result.Created != 2 {
		t.Errorf("Created = %d, want 2", result.Created)
	}

	var a, b bytes.Buffer
	if _, err := Export(ctx, st, sc, &a); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if _, err := Export(ctx, other, otherSchema, &b); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if got, want := stripMeta(t, b.String()), stripMeta(t, a.String()); got != want {
		t.Errorf("round trip changed field values:\n got %s\nwant %s", got, want)
	}
}

func TestExport_LineShape(t *testing.T) {
	_, st, sc := setupTest(t)
	ctx := context.Background()
	if _, err := Import(ctx, st, sc, strings.NewReader(`{"make": "BMW", "mileage": 5}`), ImportOptions{}); err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	var buf bytes.Buffer
	if _, err := Export(ctx, st, sc, &buf); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	line := strings.TrimSpace(buf.String())
	if strings.Count(buf.String(), "\n") != 1 {
		t.Errorf("want exactly one line, got %q", buf.String())
	}
	if !strings.HasPrefix(line, `{"id":1,"created_at":`) {
		t.Errorf("line should start with id and created_at, got %s", line)
	}
	if !strings.HasSuffix(line, `"make":"BMW","mileage":5,"first_registration_date":null}`) {
		t.Errorf("fields out of order or wrong values: %s", line)
	}
}

func TestImportFile_Missing(t *testing.T) {
	_, st, sc := setupTest(t)
	if _, err := ImportFile(context.Background(), st, sc, filepath.Join(t.TempDir(), "nope.jsonl"), ImportOptions{}); err == nil {
		t.Fatal("ImportFile() should fail for a missing file")
	}
}

// stripMeta drops id and timestamps so dumps from two stores compare.
func stripMeta(t *testing.T, dump string) string {
	t.Helper()
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(dump), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad line %q: %v", line, err)
		}
		delete(m, "id")
		delete(m, "created_at")
		delete(m, "updated_at")
		b, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("Marshal() failed: %v", err)
		}
		out = append(out, string(b))
	}
	return strings.Join(out, "\n")
}
