package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/storage"
	"github.com/elasticmodels/elastic/internal/storage/storagetest"
)

func openTest(t *testing.T, path string) *DB {
	t.Helper()
	db, err := Open(path, Options{NoSync: true, Timeout: time.Second})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return db
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return openTest(t, filepath.Join(t.TempDir(), "test.bolt"))
	})
}

func TestKeys_SortByID(t *testing.T) {
	if string(idKey(1)) >= string(idKey(256)) {
		t.Error("idKey order does not follow numeric order")
	}
	if string(pairKey(1, 999)) >= string(pairKey(2, 1)) {
		t.Error("pairKey does not group by parent")
	}
}

func TestReopen_KeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.bolt")
	ctx := context.Background()

	db := openTest(t, path)
	s := &schema.Schema{Name: "car", NamePlural: "cars"}
	if err := db.CreateSchema(ctx, s); err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}
	inst := &storage.Instance{SchemaID: s.ID, Data: map[string]any{"mileage": int64(70000)}}
	if err := db.InsertInstance(ctx, inst, 0); err != nil {
		t.Fatalf("InsertInstance() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	db = openTest(t, path)
	defer db.Close()

	got, err := db.GetInstance(ctx, s.ID, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance() failed: %v", err)
	}
	if got.Data["mileage"] != int64(70000) {
		t.Errorf("mileage = %#v, want int64(70000)", got.Data["mileage"])
	}
}

func TestCanceledContext(t *testing.T) {
	db := openTest(t, filepath.Join(t.TempDir(), "test.bolt"))
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := db.ListSchemas(ctx); err == nil {
		t.Error("ListSchemas() with canceled context should fail")
	}
}
