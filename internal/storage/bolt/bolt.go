// Package bolt stores schemas, fields and instances in a bbolt file.
//
// Buckets:
//
//	schemas    id                    -> schemaRecord
//	fields     schema id | field id  -> fieldRecord
//	instances  schema id | inst id   -> instanceRecord
//
// Keys are big-endian so cursor order is id order and a schema's rows are
// one prefix scan. Records are msgpack encoded. Every multi-row change runs
// in a single Update transaction.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/storage"
)

var (
	bucketSchemas   = []byte("schemas")
	bucketFields    = []byte("fields")
	bucketInstances = []byte("instances")
)

type schemaRecord struct {
	ID         int64     `msgpack:"id"`
	Name       string    `msgpack:"name"`
	NamePlural string    `msgpack:"name_plural"`
	Generation int64     `msgpack:"generation"`
	CreatedAt  time.Time `msgpack:"created_at"`
	UpdatedAt  time.Time `msgpack:"updated_at"`
}

type fieldRecord struct {
	ID       int64    `msgpack:"id"`
	SchemaID int64    `msgpack:"schema_id"`
	Name     string   `msgpack:"name"`
	Label    string   `msgpack:"label"`
	Type     string   `msgpack:"type"`
	Blank    bool     `msgpack:"blank"`
	Choices  []string `msgpack:"choices"`
}

type instanceRecord struct {
	ID        int64          `msgpack:"id"`
	SchemaID  int64          `msgpack:"schema_id"`
	Data      map[string]any `msgpack:"data"`
	CreatedAt time.Time      `msgpack:"created_at"`
	UpdatedAt time.Time      `msgpack:"updated_at"`
}

// Options configures Open.
type Options struct {
	// Timeout bounds the wait for the file lock held by another process.
	Timeout time.Duration
	// NoSync skips fsync; only for tests.
	NoSync bool
}

// DB is the bbolt storage backend.
type DB struct {
	bdb  *bbolt.DB
	path string
}

var _ storage.Storage = (*DB)(nil)

// Open creates or opens the bolt file at path.
func Open(path string, opts Options) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	bopt := *bbolt.DefaultOptions
	bopt.Timeout = opts.Timeout
	if bopt.Timeout == 0 {
		bopt.Timeout = 10 * time.Second
	}
	if opts.NoSync {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	}

	bdb, err := bbolt.Open(path, 0644, &bopt)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSchemas, bucketFields, bucketInstances} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &DB{bdb: bdb, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the bolt file.
func (db *DB) Close() error {
	if err := db.bdb.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (db *DB) update(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.bdb.Update(fn)
}

func (db *DB) view(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.bdb.View(fn)
}

// CreateSchema inserts s and assigns its id.
func (db *DB) CreateSchema(ctx context.Context, s *schema.Schema) error {
	return db.update(ctx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSchemas)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate schema id: %w", err)
		}
		rec := schemaRecord{
			ID:         int64(seq),
			Name:       s.Name,
			NamePlural: s.NamePlural,
			CreatedAt:  s.CreatedAt,
			UpdatedAt:  s.UpdatedAt,
		}
		if err := put(b, idKey(rec.ID), &rec); err != nil {
			return fmt.Errorf("failed to insert schema: %w", err)
		}
		s.ID = rec.ID
		return nil
	})
}

// UpdateSchema renames an existing schema.
func (db *DB) UpdateSchema(ctx context.Context, s *schema.Schema) error {
	return db.update(ctx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSchemas)
		var rec schemaRecord
		if err := get(b, idKey(s.ID), &rec); err != nil {
			return fmt.Errorf("schema %d: %w", s.ID, err)
		}
		rec.Name = s.Name
		rec.NamePlural = s.NamePlural
		rec.UpdatedAt = s.UpdatedAt
		return put(b, idKey(s.ID), &rec)
	})
}

// DeleteSchema removes a schema with its fields and instances.
func (db *DB) DeleteSchema(ctx context.Context, id int64) error {
	return db.update(ctx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSchemas)
		if b.Get(idKey(id)) == nil {
			return fmt.Errorf("schema %d: %w", id, storage.ErrNotFound)
		}
		if err := b.Delete(idKey(id)); err != nil {
			return err
		}
		if _, err := deletePrefix(tx.Bucket(bucketFields), idKey(id), nil); err != nil {
			return err
		}
		_, err := deletePrefix(tx.Bucket(bucketInstances), idKey(id), nil)
		return err
	})
}

// GetSchema returns a schema with its fields.
func (db *DB) GetSchema(ctx context.Context, id int64) (*schema.Schema, error) {
	var s *schema.Schema
	err := db.view(ctx, func(tx *bbolt.Tx) error {
		var rec schemaRecord
		if err := get(tx.Bucket(bucketSchemas), idKey(id), &rec); err != nil {
			return fmt.Errorf("schema %d: %w", id, err)
		}
		var err error
		s, err = loadSchema(tx, &rec)
		return err
	})
	return s, err
}

// FindSchemaByPlural returns the lowest-id schema named plural.
func (db *DB) FindSchemaByPlural(ctx context.Context, plural string) (*schema.Schema, error) {
	var s *schema.Schema
	err := db.view(ctx, func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketSchemas).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec schemaRecord
			if err := decode(v, &rec); err != nil {
				return err
			}
			if rec.NamePlural == plural {
				var err error
				s, err = loadSchema(tx, &rec)
				return err
			}
		}
		return fmt.Errorf("schema %q: %w", plural, storage.ErrNotFound)
	})
	return s, err
}

// ListSchemas returns every schema with its fields, ordered by id.
func (db *DB) ListSchemas(ctx context.Context) ([]*schema.Schema, error) {
	var schemas []*schema.Schema
	err := db.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchemas).ForEach(func(_, v []byte) error {
			var rec schemaRecord
			if err := decode(v, &rec); err != nil {
				return err
			}
			s, err := loadSchema(tx, &rec)
			if err != nil {
				return err
			}
			schemas = append(schemas, s)
			return nil
		})
	})
	return schemas, err
}

func loadSchema(tx *bbolt.Tx, rec *schemaRecord) (*schema.Schema, error) {
	s := &schema.Schema{
		ID:         rec.ID,
		Name:       rec.Name,
		NamePlural: rec.NamePlural,
		Generation: rec.Generation,
		CreatedAt:  rec.CreatedAt.UTC(),
		UpdatedAt:  rec.UpdatedAt.UTC(),
		Fields:     []*schema.FieldSpec{},
	}
	prefix := idKey(rec.ID)
	c := tx.Bucket(bucketFields).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var f fieldRecord
		if err := decode(v, &f); err != nil {
			return nil, err
		}
		s.Fields = append(s.Fields, f.spec())
	}
	return s, nil
}

func (f *fieldRecord) spec() *schema.FieldSpec {
	choices := f.Choices
	if choices == nil {
		choices = []string{}
	}
	return &schema.FieldSpec{
		ID:       f.ID,
		SchemaID: f.SchemaID,
		Name:     f.Name,
		Label:    f.Label,
		Type:     schema.FieldType(f.Type),
		Blank:    f.Blank,
		Choices:  choices,
	}
}

// SaveFieldSpec inserts or updates spec and prunes the schema's instances
// in the same transaction.
func (db *DB) SaveFieldSpec(ctx context.Context, spec *schema.FieldSpec, keep storage.KeepFunc) (int, error) {
	var removed int
	err := db.update(ctx, func(tx *bbolt.Tx) error {
		if err := bumpGeneration(tx, spec.SchemaID); err != nil {
			return err
		}

		fields := tx.Bucket(bucketFields)
		prefix := idKey(spec.SchemaID)
		c := fields.Cursor()
		found := spec.ID == 0
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var f fieldRecord
			if err := decode(v, &f); err != nil {
				return err
			}
			if f.ID == spec.ID {
				found = true
				continue
			}
			if f.Name == spec.Name {
				return fmt.Errorf("failed to save field %q: %w", spec.Name, storage.ErrConflict)
			}
		}
		if !found {
			return fmt.Errorf("field %d: %w", spec.ID, storage.ErrNotFound)
		}

		rec := fieldRecord{
			ID:       spec.ID,
			SchemaID: spec.SchemaID,
			Name:     spec.Name,
			Label:    spec.Label,
			Type:     string(spec.Type),
			Blank:    spec.Blank,
			Choices:  spec.Choices,
		}
		if rec.ID == 0 {
			seq, err := fields.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to allocate field id: %w", err)
			}
			rec.ID = int64(seq)
		}
		if err := put(fields, pairKey(spec.SchemaID, rec.ID), &rec); err != nil {
			return fmt.Errorf("failed to save field: %w", err)
		}

		var err error
		removed, err = deletePrefix(tx.Bucket(bucketInstances), prefix, keep)
		if err != nil {
			return err
		}
		spec.ID = rec.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// DeleteFieldSpec removes a field by name.
func (db *DB) DeleteFieldSpec(ctx context.Context, schemaID int64, name string) error {
	return db.update(ctx, func(tx *bbolt.Tx) error {
		prefix := idKey(schemaID)
		c := tx.Bucket(bucketFields).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var f fieldRecord
			if err := decode(v, &f); err != nil {
				return err
			}
			if f.Name == name {
				if err := c.Delete(); err != nil {
					return err
				}
				return bumpGeneration(tx, schemaID)
			}
		}
		return fmt.Errorf("field %q: %w", name, storage.ErrNotFound)
	})
}

func bumpGeneration(tx *bbolt.Tx, schemaID int64) error {
	b := tx.Bucket(bucketSchemas)
	var rec schemaRecord
	if err := get(b, idKey(schemaID), &rec); err != nil {
		return fmt.Errorf("schema %d: %w", schemaID, err)
	}
	rec.Generation++
	return put(b, idKey(schemaID), &rec)
}

func checkGeneration(tx *bbolt.Tx, op string, schemaID, generation int64) error {
	var rec schemaRecord
	if err := get(tx.Bucket(bucketSchemas), idKey(schemaID), &rec); err != nil {
		return fmt.Errorf("failed to %s: schema %w", op, err)
	}
	if rec.Generation != generation {
		return fmt.Errorf("failed to %s: schema %d at generation %d, not %d: %w", op, schemaID, rec.Generation, generation, storage.ErrStale)
	}
	return nil
}

// InsertInstance stores inst and assigns its id.
func (db *DB) InsertInstance(ctx context.Context, inst *storage.Instance, generation int64) error {
	return db.update(ctx, func(tx *bbolt.Tx) error {
		if err := checkGeneration(tx, "insert instance", inst.SchemaID, generation); err != nil {
			return err
		}
		b := tx.Bucket(bucketInstances)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate instance id: %w", err)
		}
		data := inst.Data
		if data == nil {
			data = map[string]any{}
		}
		rec := instanceRecord{
			ID:        int64(seq),
			SchemaID:  inst.SchemaID,
			Data:      data,
			CreatedAt: inst.CreatedAt,
			UpdatedAt: inst.UpdatedAt,
		}
		if err := put(b, pairKey(inst.SchemaID, rec.ID), &rec); err != nil {
			return fmt.Errorf("failed to insert instance: %w", err)
		}
		inst.ID = rec.ID
		return nil
	})
}

// UpdateInstance rewrites the payload and updated_at of one instance.
func (db *DB) UpdateInstance(ctx context.Context, inst *storage.Instance, generation int64) error {
	return db.update(ctx, func(tx *bbolt.Tx) error {
		if err := checkGeneration(tx, "update instance", inst.SchemaID, generation); err != nil {
			return err
		}
		b := tx.Bucket(bucketInstances)
		key := pairKey(inst.SchemaID, inst.ID)
		var rec instanceRecord
		if err := get(b, key, &rec); err != nil {
			return fmt.Errorf("instance %d: %w", inst.ID, err)
		}
		rec.Data = inst.Data
		if rec.Data == nil {
			rec.Data = map[string]any{}
		}
		rec.UpdatedAt = inst.UpdatedAt
		if err := put(b, key, &rec); err != nil {
			return fmt.Errorf("failed to update instance: %w", err)
		}
		return nil
	})
}

// DeleteInstance removes one instance of a schema.
func (db *DB) DeleteInstance(ctx context.Context, schemaID, id int64) error {
	return db.update(ctx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		key := pairKey(schemaID, id)
		if b.Get(key) == nil {
			return fmt.Errorf("instance %d: %w", id, storage.ErrNotFound)
		}
		return b.Delete(key)
	})
}

// ListInstances returns a schema's instances ordered by id.
func (db *DB) ListInstances(ctx context.Context, schemaID int64) ([]*storage.Instance, error) {
	instances := []*storage.Instance{}
	err := db.view(ctx, func(tx *bbolt.Tx) error {
		prefix := idKey(schemaID)
		c := tx.Bucket(bucketInstances).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec instanceRecord
			if err := decode(v, &rec); err != nil {
				return err
			}
			instances = append(instances, rec.instance())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// GetInstance returns one instance of a schema.
func (db *DB) GetInstance(ctx context.Context, schemaID, id int64) (*storage.Instance, error) {
	var inst *storage.Instance
	err := db.view(ctx, func(tx *bbolt.Tx) error {
		var rec instanceRecord
		if err := get(tx.Bucket(bucketInstances), pairKey(schemaID, id), &rec); err != nil {
			return fmt.Errorf("instance %d: %w", id, err)
		}
		inst = rec.instance()
		return nil
	})
	return inst, err
}

// CountInstances counts a schema's instances.
func (db *DB) CountInstances(ctx context.Context, schemaID int64) (int, error) {
	var n int
	err := db.view(ctx, func(tx *bbolt.Tx) error {
		prefix := idKey(schemaID)
		c := tx.Bucket(bucketInstances).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Stats reports key counts and the file size.
func (db *DB) Stats(ctx context.Context) (*storage.Stats, error) {
	st := &storage.Stats{Backend: "bolt", Path: db.path}
	err := db.view(ctx, func(tx *bbolt.Tx) error {
		st.Schemas = tx.Bucket(bucketSchemas).Stats().KeyN
		st.Fields = tx.Bucket(bucketFields).Stats().KeyN
		st.Instances = tx.Bucket(bucketInstances).Stats().KeyN
		st.SizeBytes = tx.Size()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (rec *instanceRecord) instance() *storage.Instance {
	data := rec.Data
	if data == nil {
		data = map[string]any{}
	}
	return &storage.Instance{
		ID:        rec.ID,
		SchemaID:  rec.SchemaID,
		Data:      storage.CanonicalData(data),
		CreatedAt: rec.CreatedAt.UTC(),
		UpdatedAt: rec.UpdatedAt.UTC(),
	}
}

// deletePrefix removes every key under prefix whose instance keep rejects.
// A nil keep removes them all.
func deletePrefix(b *bbolt.Bucket, prefix []byte, keep storage.KeepFunc) (int, error) {
	var doomed [][]byte
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if keep != nil {
			var rec instanceRecord
			if err := decode(v, &rec); err == nil && keep(rec.instance().Data) {
				continue
			}
		}
		doomed = append(doomed, append([]byte(nil), k...))
	}
	for _, k := range doomed {
		if err := b.Delete(k); err != nil {
			return 0, fmt.Errorf("failed to delete key: %w", err)
		}
	}
	return len(doomed), nil
}

func idKey(id int64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), uint64(id))
}

func pairKey(parent, id int64) []byte {
	k := make([]byte, 0, 16)
	k = binary.BigEndian.AppendUint64(k, uint64(parent))
	return binary.BigEndian.AppendUint64(k, uint64(id))
}

func get(b *bbolt.Bucket, key []byte, v any) error {
	raw := b.Get(key)
	if raw == nil {
		return storage.ErrNotFound
	}
	return decode(raw, v)
}

func put(b *bbolt.Bucket, key []byte, v any) error {
	raw, err := encode(v)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

func decode(raw []byte, v any) error {
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(raw))
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return fmt.Errorf("failed to decode %T: %w", v, err)
	}
	return nil
}
