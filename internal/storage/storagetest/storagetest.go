// Package storagetest is the conformance suite every storage backend runs.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/storage"
)

// Opener returns a fresh, empty store. The suite closes it.
type Opener func(t *testing.T) storage.Storage

// Run executes the suite against the backend returned by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, st storage.Storage)
	}{
		{"SchemaLifecycle", testSchemaLifecycle},
		{"FindSchemaByPlural", testFindSchemaByPlural},
		{"FieldSpecs", testFieldSpecs},
		{"FieldSpecConflict", testFieldSpecConflict},
		{"SaveFieldSpecWipes", testSaveFieldSpecWipes},
		{"SaveFieldSpecKeep", testSaveFieldSpecKeep},
		{"DeleteFieldSpecKeepsInstances", testDeleteFieldSpecKeepsInstances},
		{"Instances", testInstances},
		{"FieldChangesBumpGeneration", testFieldChangesBumpGeneration},
		{"StaleGenerationRefused", testStaleGenerationRefused},
		{"UpdateInstance", testUpdateInstance},
		{"DeleteInstance", testDeleteInstance},
		{"DeleteSchemaCascades", testDeleteSchemaCascades},
		{"Stats", testStats},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := open(t)
			defer st.Close()
			tt.fn(t, st)
		})
	}
}

var epoch = time.Date(2018, 5, 1, 12, 30, 0, 123000000, time.UTC)

func createSchema(t *testing.T, st storage.Storage, name string) *schema.Schema {
	t.Helper()
	s := &schema.Schema{Name: name, CreatedAt: epoch, UpdatedAt: epoch}
	s.Normalize()
	if err := st.CreateSchema(context.Background(), s); err != nil {
		t.Fatalf("CreateSchema(%s) failed: %v", name, err)
	}
	return s
}

func addField(t *testing.T, st storage.Storage, s *schema.Schema, spec *schema.FieldSpec) *schema.FieldSpec {
	t.Helper()
	spec.SchemaID = s.ID
	spec.Normalize()
	if _, err := st.SaveFieldSpec(context.Background(), spec, nil); err != nil {
		t.Fatalf("SaveFieldSpec(%s) failed: %v", spec.Name, err)
	}
	return spec
}

func insert(t *testing.T, st storage.Storage, schemaID int64, data map[string]any) *storage.Instance {
	t.Helper()
	inst := &storage.Instance{SchemaID: schemaID, Data: data, CreatedAt: epoch, UpdatedAt: epoch}
	if err := st.InsertInstance(context.Background(), inst, generation(t, st, schemaID)); err != nil {
		t.Fatalf("InsertInstance() failed: %v", err)
	}
	return inst
}

func generation(t *testing.T, st storage.Storage, schemaID int64) int64 {
	t.Helper()
	s, err := st.GetSchema(context.Background(), schemaID)
	if err != nil {
		t.Fatalf("GetSchema(%d) failed: %v", schemaID, err)
	}
	return s.Generation
}

func count(t *testing.T, st storage.Storage, schemaID int64) int {
	t.Helper()
	n, err := st.CountInstances(context.Background(), schemaID)
	if err != nil {
		t.Fatalf("CountInstances() failed: %v", err)
	}
	return n
}

func testSchemaLifecycle(t *testing.T, st storage.Storage) {
	ctx := context.Background()

	aquarium := createSchema(t, st, "aquarium")
	car := createSchema(t, st, "car")
	if aquarium.ID == 0 || car.ID <= aquarium.ID {
		t.Fatalf("ids not increasing: aquarium=%d car=%d", aquarium.ID, car.ID)
	}

	got, err := st.GetSchema(ctx, car.ID)
	if err != nil {
		t.Fatalf("GetSchema() failed: %v", err)
	}
	if got.Name != "car" || got.NamePlural != "cars" {
		t.Errorf("GetSchema() = %s/%s, want car/cars", got.Name, got.NamePlural)
	}
	if len(got.Fields) != 0 {
		t.Errorf("new schema has %d fields", len(got.Fields))
	}
	if !got.CreatedAt.Equal(epoch) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, epoch)
	}

	later := epoch.Add(time.Hour)
	car.Name, car.NamePlural, car.UpdatedAt = "vehicle", "vehicles", later
	if err := st.UpdateSchema(ctx, car); err != nil {
		t.Fatalf("UpdateSchema() failed: %v", err)
	}
	got, _ = st.GetSchema(ctx, car.ID)
	if got.NamePlural != "vehicles" || !got.UpdatedAt.Equal(later) {
		t.Errorf("after update: %s updated %v", got.NamePlural, got.UpdatedAt)
	}

	list, err := st.ListSchemas(ctx)
	if err != nil {
		t.Fatalf("ListSchemas() failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != aquarium.ID || list[1].ID != car.ID {
		t.Errorf("ListSchemas() returned %v", list)
	}

	if _, err := st.GetSchema(ctx, 9999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSchema(missing) error = %v, want ErrNotFound", err)
	}
	missing := &schema.Schema{ID: 9999, Name: "x", NamePlural: "xs"}
	if err := st.UpdateSchema(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateSchema(missing) error = %v, want ErrNotFound", err)
	}
	if err := st.DeleteSchema(ctx, 9999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteSchema(missing) error = %v, want ErrNotFound", err)
	}
}

func testFindSchemaByPlural(t *testing.T, st storage.Storage) {
	ctx := context.Background()

	first := createSchema(t, st, "fish")
	createSchema(t, st, "fish")

	got, err := st.FindSchemaByPlural(ctx, "fishs")
	if err != nil {
		t.Fatalf("FindSchemaByPlural() failed: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("FindSchemaByPlural() id = %d, want lowest %d", got.ID, first.ID)
	}

	if _, err := st.FindSchemaByPlural(ctx, "fish"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("FindSchemaByPlural(singular) error = %v, want ErrNotFound", err)
	}
}

func testFieldSpecs(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	s := createSchema(t, st, "aquarium")

	volume := addField(t, st, s, &schema.FieldSpec{Name: "volume", Type: schema.TypeNumber})
	water := addField(t, st, s, &schema.FieldSpec{Name: "water", Type: schema.TypeEnum, Choices: []string{"saltwater", "freshwater"}})
	if volume.ID == 0 || water.ID <= volume.ID {
		t.Fatalf("field ids not increasing: %d, %d", volume.ID, water.ID)
	}

	got, err := st.GetSchema(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSchema() failed: %v", err)
	}
	if len(got.Fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(got.Fields))
	}
	if !got.Fields[0].Equal(volume) || !got.Fields[1].Equal(water) {
		t.Errorf("fields = %+v, %+v", got.Fields[0], got.Fields[1])
	}
	if got.Fields[0].Choices == nil {
		t.Error("choices should be non-nil")
	}

	water.Label = "Water type"
	water.Choices = []string{"saltwater", "freshwater", "brackish"}
	if _, err := st.SaveFieldSpec(ctx, water, nil); err != nil {
		t.Fatalf("SaveFieldSpec(update) failed: %v", err)
	}
	got, _ = st.GetSchema(ctx, s.ID)
	if len(got.Fields) != 2 || !got.Fields[1].Equal(water) {
		t.Errorf("after update fields = %+v", got.Fields)
	}

	if err := st.DeleteFieldSpec(ctx, s.ID, "volume"); err != nil {
		t.Fatalf("DeleteFieldSpec() failed: %v", err)
	}
	got, _ = st.GetSchema(ctx, s.ID)
	if len(got.Fields) != 1 || got.Fields[0].Name != "water" {
		t.Errorf("after delete fields = %+v", got.Fields)
	}
	if err := st.DeleteFieldSpec(ctx, s.ID, "volume"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteFieldSpec(missing) error = %v, want ErrNotFound", err)
	}

	orphan := &schema.FieldSpec{SchemaID: 9999, Name: "x", Label: "X", Type: schema.TypeText, Choices: []string{}}
	if _, err := st.SaveFieldSpec(ctx, orphan, nil); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("SaveFieldSpec(missing schema) error = %v, want ErrNotFound", err)
	}
}

func testFieldSpecConflict(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	aquarium := createSchema(t, st, "aquarium")
	car := createSchema(t, st, "car")

	addField(t, st, aquarium, &schema.FieldSpec{Name: "origin", Type: schema.TypeText})
	insert(t, st, aquarium.ID, map[string]any{"origin": "x"})

	dup := &schema.FieldSpec{SchemaID: aquarium.ID, Name: "origin", Label: "Origin", Type: schema.TypeText, Choices: []string{}}
	if _, err := st.SaveFieldSpec(ctx, dup, nil); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("duplicate SaveFieldSpec() error = %v, want ErrConflict", err)
	}
	// the failed save must not have wiped anything
	if n := count(t, st, aquarium.ID); n != 1 {
		t.Errorf("instances after failed save = %d, want 1", n)
	}

	// same name in another schema is fine
	addField(t, st, car, &schema.FieldSpec{Name: "origin", Type: schema.TypeText})
}

func testSaveFieldSpecWipes(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	aquarium := createSchema(t, st, "aquarium")
	car := createSchema(t, st, "car")
	addField(t, st, aquarium, &schema.FieldSpec{Name: "volume", Type: schema.TypeNumber})

	for i := 0; i < 3; i++ {
		insert(t, st, aquarium.ID, map[string]any{"volume": int64(i)})
	}
	insert(t, st, car.ID, map[string]any{})

	spec := &schema.FieldSpec{SchemaID: aquarium.ID, Name: "origin", Type: schema.TypeText}
	spec.Normalize()
	removed, err := st.SaveFieldSpec(ctx, spec, nil)
	if err != nil {
		t.Fatalf("SaveFieldSpec() failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	if n := count(t, st, aquarium.ID); n != 0 {
		t.Errorf("aquarium instances = %d, want 0", n)
	}
	if n := count(t, st, car.ID); n != 1 {
		t.Errorf("car instances = %d, want 1 (other schemas untouched)", n)
	}
}

func testSaveFieldSpecKeep(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	s := createSchema(t, st, "aquarium")
	volume := addField(t, st, s, &schema.FieldSpec{Name: "volume", Type: schema.TypeNumber})

	small := insert(t, st, s.ID, map[string]any{"volume": int64(10)})
	insert(t, st, s.ID, map[string]any{"volume": int64(500)})

	volume.Label = "Litres"
	removed, err := st.SaveFieldSpec(ctx, volume, func(data map[string]any) bool {
		v, ok := data["volume"].(int64)
		return ok && v < 100
	})
	if err != nil {
		t.Fatalf("SaveFieldSpec() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	list, err := st.ListInstances(ctx, s.ID)
	if err != nil {
		t.Fatalf("ListInstances() failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != small.ID {
		t.Errorf("survivors = %v, want only %d", list, small.ID)
	}
}

func testDeleteFieldSpecKeepsInstances(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	s := createSchema(t, st, "aquarium")
	addField(t, st, s, &schema.FieldSpec{Name: "volume", Type: schema.TypeNumber})
	insert(t, st, s.ID, map[string]any{"volume": int64(1)})

	if err := st.DeleteFieldSpec(ctx, s.ID, "volume"); err != nil {
		t.Fatalf("DeleteFieldSpec() failed: %v", err)
	}
	if n := count(t, st, s.ID); n != 1 {
		t.Errorf("instances = %d, want 1", n)
	}
}

func testInstances(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	aquarium := createSchema(t, st, "aquarium")
	car := createSchema(t, st, "car")

	first := insert(t, st, aquarium.ID, map[string]any{
		"volume":            int64(200),
		"temperature":       nil,
		"water":             "saltwater",
		"next_water_change": "2018-05-01",
	})
	second := insert(t, st, aquarium.ID, nil)
	other := insert(t, st, car.ID, map[string]any{"make": "BMW"})
	if first.ID == 0 || second.ID <= first.ID {
		t.Fatalf("instance ids not increasing: %d, %d", first.ID, second.ID)
	}

	got, err := st.GetInstance(ctx, aquarium.ID, first.ID)
	if err != nil {
		t.Fatalf("GetInstance() failed: %v", err)
	}
	if got.SchemaID != aquarium.ID || !got.CreatedAt.Equal(epoch) || !got.UpdatedAt.Equal(epoch) {
		t.Errorf("GetInstance() = %+v", got)
	}
	want := map[string]any{"volume": int64(200), "temperature": nil, "water": "saltwater", "next_water_change": "2018-05-01"}
	if len(got.Data) != len(want) {
		t.Errorf("data = %v, want %v", got.Data, want)
	}
	for k, w := range want {
		v, ok := got.Data[k]
		if !ok || v != w {
			t.Errorf("data[%q] = %#v, want %#v", k, v, w)
		}
	}

	empty, err := st.GetInstance(ctx, aquarium.ID, second.ID)
	if err != nil {
		t.Fatalf("GetInstance(empty) failed: %v", err)
	}
	if empty.Data == nil || len(empty.Data) != 0 {
		t.Errorf("empty data = %#v", empty.Data)
	}

	if _, err := st.GetInstance(ctx, aquarium.ID, other.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetInstance(other schema) error = %v, want ErrNotFound", err)
	}

	list, err := st.ListInstances(ctx, aquarium.ID)
	if err != nil {
		t.Fatalf("ListInstances() failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Errorf("ListInstances() = %v", list)
	}

	none, err := st.ListInstances(ctx, 9999)
	if err != nil {
		t.Fatalf("ListInstances(missing) failed: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("ListInstances(missing) = %#v, want empty", none)
	}

	orphan := &storage.Instance{SchemaID: 9999, Data: map[string]any{}}
	if err := st.InsertInstance(ctx, orphan, 0); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("InsertInstance(missing schema) error = %v, want ErrNotFound", err)
	}
}

func testFieldChangesBumpGeneration(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	s := createSchema(t, st, "aquarium")
	if g := generation(t, st, s.ID); g != 0 {
		t.Fatalf("new schema generation = %d, want 0", g)
	}

	volume := addField(t, st, s, &schema.FieldSpec{Name: "volume", Type: schema.TypeNumber})
	if g := generation(t, st, s.ID); g != 1 {
		t.Errorf("generation after add = %d, want 1", g)
	}

	volume.Label = "Litres"
	if _, err := st.SaveFieldSpec(ctx, volume, nil); err != nil {
		t.Fatalf("SaveFieldSpec(update) failed: %v", err)
	}
	if g := generation(t, st, s.ID); g != 2 {
		t.Errorf("generation after update = %d, want 2", g)
	}

	s.Name = "tank"
	s.Normalize()
	if err := st.UpdateSchema(ctx, s); err != nil {
		t.Fatalf("UpdateSchema() failed: %v", err)
	}
	if g := generation(t, st, s.ID); g != 2 {
		t.Errorf("generation after rename = %d, want 2", g)
	}

	if err := st.DeleteFieldSpec(ctx, s.ID, "volume"); err != nil {
		t.Fatalf("DeleteFieldSpec() failed: %v", err)
	}
	if g := generation(t, st, s.ID); g != 3 {
		t.Errorf("generation after delete = %d, want 3", g)
	}

	if err := st.DeleteFieldSpec(ctx, s.ID, "volume"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteFieldSpec(missing) error = %v, want ErrNotFound", err)
	}
	if g := generation(t, st, s.ID); g != 3 {
		t.Errorf("generation after failed delete = %d, want 3", g)
	}
}

func testStaleGenerationRefused(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	s := createSchema(t, st, "aquarium")
	addField(t, st, s, &schema.FieldSpec{Name: "volume", Type: schema.TypeNumber})
	loaded := generation(t, st, s.ID)
	insert(t, st, s.ID, map[string]any{"volume": int64(1)})

	addField(t, st, s, &schema.FieldSpec{Name: "ph", Type: schema.TypeNumber, Blank: true})

	late := &storage.Instance{SchemaID: s.ID, Data: map[string]any{"volume": int64(2)}, CreatedAt: epoch, UpdatedAt: epoch}
	if err := st.InsertInstance(ctx, late, loaded); !errors.Is(err, storage.ErrStale) {
		t.Errorf("InsertInstance(stale) error = %v, want ErrStale", err)
	}
	if n := count(t, st, s.ID); n != 0 {
		t.Errorf("instances after stale insert = %d, want 0", n)
	}

	kept := insert(t, st, s.ID, map[string]any{"volume": int64(3), "ph": nil})
	kept.Data = map[string]any{"volume": int64(4)}
	if err := st.UpdateInstance(ctx, kept, loaded); !errors.Is(err, storage.ErrStale) {
		t.Errorf("UpdateInstance(stale) error = %v, want ErrStale", err)
	}
	got, err := st.GetInstance(ctx, s.ID, kept.ID)
	if err != nil {
		t.Fatalf("GetInstance() failed: %v", err)
	}
	if got.Data["volume"] != int64(3) {
		t.Errorf("volume after stale update = %#v, want 3", got.Data["volume"])
	}
}

func testUpdateInstance(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	s := createSchema(t, st, "aquarium")
	car := createSchema(t, st, "car")
	addField(t, st, s, &schema.FieldSpec{Name: "volume", Type: schema.TypeNumber})
	inst := insert(t, st, s.ID, map[string]any{"volume": int64(1)})

	later := epoch.Add(time.Hour)
	change := &storage.Instance{
		ID:        inst.ID,
		SchemaID:  s.ID,
		Data:      map[string]any{"volume": int64(2)},
		CreatedAt: later,
		UpdatedAt: later,
	}
	if err := st.UpdateInstance(ctx, change, generation(t, st, s.ID)); err != nil {
		t.Fatalf("UpdateInstance() failed: %v", err)
	}
	got, err := st.GetInstance(ctx, s.ID, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance() failed: %v", err)
	}
	if got.Data["volume"] != int64(2) {
		t.Errorf("volume = %#v, want 2", got.Data["volume"])
	}
	if !got.CreatedAt.Equal(epoch) || !got.UpdatedAt.Equal(later) {
		t.Errorf("timestamps = %v / %v, want created kept and updated bumped", got.CreatedAt, got.UpdatedAt)
	}

	missing := &storage.Instance{ID: inst.ID + 100, SchemaID: s.ID, Data: map[string]any{}}
	if err := st.UpdateInstance(ctx, missing, generation(t, st, s.ID)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateInstance(missing) error = %v, want ErrNotFound", err)
	}
	wrongSchema := &storage.Instance{ID: inst.ID, SchemaID: car.ID, Data: map[string]any{}}
	if err := st.UpdateInstance(ctx, wrongSchema, generation(t, st, car.ID)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateInstance(other schema) error = %v, want ErrNotFound", err)
	}
}

func testDeleteInstance(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	s := createSchema(t, st, "aquarium")
	car := createSchema(t, st, "car")
	first := insert(t, st, s.ID, nil)
	second := insert(t, st, s.ID, nil)

	if err := st.DeleteInstance(ctx, car.ID, first.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteInstance(other schema) error = %v, want ErrNotFound", err)
	}
	if err := st.DeleteInstance(ctx, s.ID, first.ID); err != nil {
		t.Fatalf("DeleteInstance() failed: %v", err)
	}
	if _, err := st.GetInstance(ctx, s.ID, first.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetInstance(deleted) error = %v, want ErrNotFound", err)
	}
	if err := st.DeleteInstance(ctx, s.ID, first.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteInstance(twice) error = %v, want ErrNotFound", err)
	}
	if n := count(t, st, s.ID); n != 1 {
		t.Errorf("instances = %d, want 1 (id %d)", n, second.ID)
	}
}

func testDeleteSchemaCascades(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	aquarium := createSchema(t, st, "aquarium")
	car := createSchema(t, st, "car")
	addField(t, st, aquarium, &schema.FieldSpec{Name: "volume", Type: schema.TypeNumber})
	addField(t, st, car, &schema.FieldSpec{Name: "mileage", Type: schema.TypeNumber})
	inst := insert(t, st, aquarium.ID, map[string]any{"volume": int64(1)})
	insert(t, st, car.ID, map[string]any{"mileage": int64(1)})

	if err := st.DeleteSchema(ctx, aquarium.ID); err != nil {
		t.Fatalf("DeleteSchema() failed: %v", err)
	}
	if _, err := st.GetSchema(ctx, aquarium.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSchema(deleted) error = %v", err)
	}
	if _, err := st.GetInstance(ctx, aquarium.ID, inst.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetInstance(deleted schema) error = %v", err)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Schemas != 1 || stats.Fields != 1 || stats.Instances != 1 {
		t.Errorf("stats after cascade = %+v, want 1/1/1", stats)
	}
}

func testStats(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	s := createSchema(t, st, "aquarium")
	addField(t, st, s, &schema.FieldSpec{Name: "volume", Type: schema.TypeNumber})
	addField(t, st, s, &schema.FieldSpec{Name: "origin", Type: schema.TypeText})
	insert(t, st, s.ID, map[string]any{"volume": int64(1), "origin": "x"})

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Schemas != 1 || stats.Fields != 2 || stats.Instances != 1 {
		t.Errorf("Stats() = %+v, want 1/2/1", stats)
	}
	if stats.Backend == "" || stats.Path == "" {
		t.Errorf("Stats() missing backend or path: %+v", stats)
	}
	if stats.SizeBytes <= 0 {
		t.Errorf("SizeBytes = %d", stats.SizeBytes)
	}
}
