// Package sqlite stores schemas, fields and instances in an embedded SQLite
// database through database/sql.
//
// Two pure-Go drivers are supported:
//
//   - "sqlite3": github.com/ncruces/go-sqlite3 (default, wasm build of SQLite)
//   - "sqlite":  modernc.org/sqlite (transpiled SQLite)
//
// Both accept the same DSN pragmas, so WAL mode, the busy timeout, foreign
// keys and immediate write transactions are set per connection rather than
// once after Open.
//
// Layout:
//   - schemas: one row per schema
//   - field_specs: one row per field, UNIQUE(schema_id, name), cascade delete
//   - instances: one row per record, payload in a JSON text column
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "modernc.org/sqlite"

	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/storage"
)

// Supported database/sql driver names.
const (
	DriverNcruces = "sqlite3"
	DriverModernc = "sqlite"
)

// DefaultDriver is used when Options.Driver is empty.
const DefaultDriver = DriverNcruces

// Options configures Open.
type Options struct {
	// Driver is DriverNcruces or DriverModernc.
	Driver string
	// BusyTimeout bounds how long a writer waits for the database lock.
	BusyTimeout time.Duration
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		Driver:      DefaultDriver,
		BusyTimeout: 5 * time.Second,
	}
}

// DB is the SQLite storage backend.
type DB struct {
	conn   *sql.DB
	path   string
	driver string
}

var _ storage.Storage = (*DB)(nil)

// Open creates or opens the database at path and initializes its tables.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := sqlite.Open(".elastic/elastic.db", sqlite.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string, opts Options) (*DB, error) {
	if opts.Driver == "" {
		opts.Driver = DefaultDriver
	}
	if opts.Driver != DriverNcruces && opts.Driver != DriverModernc {
		return nil, fmt.Errorf("unsupported sqlite driver %q", opts.Driver)
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultOptions().BusyTimeout
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open(opts.Driver, dsn(path, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:   conn,
		path:   path,
		driver: opts.Driver,
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func dsn(path string, opts Options) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(wal)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the tables with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS schemas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		name_plural TEXT NOT NULL,
		generation INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS field_specs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		schema_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		label TEXT NOT NULL,
		type TEXT NOT NULL,
		blank INTEGER NOT NULL DEFAULT 0,
		choices TEXT NOT NULL DEFAULT '[]',  -- JSON array
		UNIQUE (schema_id, name),
		FOREIGN KEY (schema_id) REFERENCES schemas(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS instances (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		schema_id INTEGER NOT NULL,
		data TEXT NOT NULL DEFAULT '{}',  -- JSON object
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (schema_id) REFERENCES schemas(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_schemas_plural ON schemas(name_plural);
	CREATE INDEX IF NOT EXISTS idx_field_specs_schema ON field_specs(schema_id, id);
	CREATE INDEX IF NOT EXISTS idx_instances_schema ON instances(schema_id, id);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// databases created before schemas.generation existed
	if err := db.ensureColumn(ctx, "schemas", "generation", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}

	return nil
}

func (db *DB) ensureColumn(ctx context.Context, table, column, decl string) error {
	rows, err := db.conn.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to inspect %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	_ = rows.Close()

	if _, err := db.conn.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl)); err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}

// CreateSchema inserts s and assigns its id.
func (db *DB) CreateSchema(ctx context.Context, s *schema.Schema) error {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO schemas (name, name_plural, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		s.Name, s.NamePlural, formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert schema: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read schema id: %w", err)
	}
	s.ID = id
	return nil
}

// UpdateSchema renames an existing schema.
func (db *DB) UpdateSchema(ctx context.Context, s *schema.Schema) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE schemas SET name = ?, name_plural = ?, updated_at = ? WHERE id = ?`,
		s.Name, s.NamePlural, formatTime(s.UpdatedAt), s.ID)
	if err != nil {
		return fmt.Errorf("failed to update schema: %w", err)
	}
	return requireRow(res, "schema", s.ID)
}

// DeleteSchema removes a schema. Fields and instances go with it through
// the foreign keys.
func (db *DB) DeleteSchema(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM schemas WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schema: %w", err)
	}
	return requireRow(res, "schema", id)
}

// GetSchema returns a schema with its fields.
func (db *DB) GetSchema(ctx context.Context, id int64) (*schema.Schema, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, name, name_plural, generation, created_at, updated_at FROM schemas WHERE id = ?`, id)
	s, err := scanSchema(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schema %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}
	if err := db.loadFields(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// FindSchemaByPlural returns the first schema named plural.
func (db *DB) FindSchemaByPlural(ctx context.Context, plural string) (*schema.Schema, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, name, name_plural, generation, created_at, updated_at FROM schemas
		 WHERE name_plural = ? ORDER BY id LIMIT 1`, plural)
	s, err := scanSchema(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schema %q: %w", plural, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find schema: %w", err)
	}
	if err := db.loadFields(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ListSchemas returns all schemas with their fields, ordered by id.
func (db *DB) ListSchemas(ctx context.Context) ([]*schema.Schema, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, name_plural, generation, created_at, updated_at FROM schemas ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schemas: %w", err)
	}

	var schemas []*schema.Schema
	for rows.Next() {
		s, err := scanSchema(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan schema: %w", err)
		}
		schemas = append(schemas, s)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating schemas: %w", err)
	}
	_ = rows.Close()

	for _, s := range schemas {
		if err := db.loadFields(ctx, s); err != nil {
			return nil, err
		}
	}
	return schemas, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchema(row scanner) (*schema.Schema, error) {
	var s schema.Schema
	var createdAt, updatedAt string
	if err := row.Scan(&s.ID, &s.Name, &s.NamePlural, &s.Generation, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	s.Fields = []*schema.FieldSpec{}
	return &s, nil
}

func (db *DB) loadFields(ctx context.Context, s *schema.Schema) error {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, schema_id, name, label, type, blank, choices
		 FROM field_specs WHERE schema_id = ? ORDER BY id`, s.ID)
	if err != nil {
		return fmt.Errorf("failed to query fields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f schema.FieldSpec
		var typ, choicesJSON string
		if err := rows.Scan(&f.ID, &f.SchemaID, &f.Name, &f.Label, &typ, &f.Blank, &choicesJSON); err != nil {
			return fmt.Errorf("failed to scan field: %w", err)
		}
		f.Type = schema.FieldType(typ)
		f.Choices = []string{}
		if choicesJSON != "" && choicesJSON != "null" {
			if err := json.Unmarshal([]byte(choicesJSON), &f.Choices); err != nil {
				return fmt.Errorf("failed to unmarshal choices: %w", err)
			}
		}
		s.Fields = append(s.Fields, &f)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating fields: %w", err)
	}
	return nil
}

// SaveFieldSpec inserts or updates spec and prunes the schema's instances
// in the same transaction.
func (db *DB) SaveFieldSpec(ctx context.Context, spec *schema.FieldSpec, keep storage.KeepFunc) (int, error) {
	choices := spec.Choices
	if choices == nil {
		choices = []string{}
	}
	choicesJSON, err := json.Marshal(choices)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal choices: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if spec.ID == 0 {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO field_specs (schema_id, name, label, type, blank, choices) VALUES (?, ?, ?, ?, ?, ?)`,
			spec.SchemaID, spec.Name, spec.Label, string(spec.Type), spec.Blank, string(choicesJSON))
		if err != nil {
			return 0, mapConstraint(err, "insert field")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to read field id: %w", err)
		}
		spec.ID = id
	} else {
		res, err := tx.ExecContext(ctx,
			`UPDATE field_specs SET name = ?, label = ?, type = ?, blank = ?, choices = ?
			 WHERE id = ? AND schema_id = ?`,
			spec.Name, spec.Label, string(spec.Type), spec.Blank, string(choicesJSON), spec.ID, spec.SchemaID)
		if err != nil {
			return 0, mapConstraint(err, "update field")
		}
		if err := requireRow(res, "field", spec.ID); err != nil {
			return 0, err
		}
	}

	if err := bumpGeneration(ctx, tx, spec.SchemaID); err != nil {
		return 0, err
	}

	removed, err := pruneInstances(ctx, tx, spec.SchemaID, keep)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return removed, nil
}

func bumpGeneration(ctx context.Context, tx *sql.Tx, schemaID int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE schemas SET generation = generation + 1 WHERE id = ?`, schemaID)
	if err != nil {
		return fmt.Errorf("failed to bump schema generation: %w", err)
	}
	return requireRow(res, "schema", schemaID)
}

func pruneInstances(ctx context.Context, tx *sql.Tx, schemaID int64, keep storage.KeepFunc) (int, error) {
	if keep == nil {
		res, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE schema_id = ?`, schemaID)
		if err != nil {
			return 0, fmt.Errorf("failed to delete instances: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count deleted instances: %w", err)
		}
		return int(n), nil
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, data FROM instances WHERE schema_id = ?`, schemaID)
	if err != nil {
		return 0, fmt.Errorf("failed to query instances: %w", err)
	}
	var doomed []int64
	for rows.Next() {
		var id int64
		var dataJSON string
		if err := rows.Scan(&id, &dataJSON); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to scan instance: %w", err)
		}
		data, err := decodeData(dataJSON)
		if err != nil || !keep(data) {
			doomed = append(doomed, id)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("error iterating instances: %w", err)
	}
	_ = rows.Close()

	for _, id := range doomed {
		if _, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to delete instance %d: %w", id, err)
		}
	}
	return len(doomed), nil
}

// DeleteFieldSpec removes a field by name.
func (db *DB) DeleteFieldSpec(ctx context.Context, schemaID int64, name string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM field_specs WHERE schema_id = ? AND name = ?`, schemaID, name)
	if err != nil {
		return fmt.Errorf("failed to delete field: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count deleted fields: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("field %q: %w", name, storage.ErrNotFound)
	}
	if err := bumpGeneration(ctx, tx, schemaID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InsertInstance stores inst with its payload serialized as JSON. The
// generation check and the insert are one statement.
func (db *DB) InsertInstance(ctx context.Context, inst *storage.Instance, generation int64) error {
	dataJSON, err := encodeData(inst.Data)
	if err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO instances (schema_id, data, created_at, updated_at)
		 SELECT id, ?, ?, ? FROM schemas WHERE id = ? AND generation = ?`,
		dataJSON, formatTime(inst.CreatedAt), formatTime(inst.UpdatedAt), inst.SchemaID, generation)
	if err != nil {
		return mapConstraint(err, "insert instance")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return db.refusal(ctx, "insert instance", inst.SchemaID, generation, nil)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read instance id: %w", err)
	}
	inst.ID = id
	return nil
}

// UpdateInstance rewrites the payload and updated_at of one instance.
func (db *DB) UpdateInstance(ctx context.Context, inst *storage.Instance, generation int64) error {
	dataJSON, err := encodeData(inst.Data)
	if err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE instances SET data = ?, updated_at = ?
		 WHERE id = ? AND schema_id = ?
		   AND EXISTS (SELECT 1 FROM schemas WHERE id = ? AND generation = ?)`,
		dataJSON, formatTime(inst.UpdatedAt), inst.ID, inst.SchemaID, inst.SchemaID, generation)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		missing := fmt.Errorf("instance %d: %w", inst.ID, storage.ErrNotFound)
		return db.refusal(ctx, "update instance", inst.SchemaID, generation, missing)
	}
	return nil
}

// DeleteInstance removes one instance of a schema.
func (db *DB) DeleteInstance(ctx context.Context, schemaID, id int64) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM instances WHERE id = ? AND schema_id = ?`, id, schemaID)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return requireRow(res, "instance", id)
}

// refusal explains a guarded write that touched no row. A missing schema
// is ErrNotFound and a moved generation ErrStale; anything else is
// fallback.
func (db *DB) refusal(ctx context.Context, op string, schemaID, generation int64, fallback error) error {
	var current int64
	err := db.conn.QueryRowContext(ctx, `SELECT generation FROM schemas WHERE id = ?`, schemaID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to %s: schema %w", op, storage.ErrNotFound)
	case err != nil:
		return fmt.Errorf("failed to %s: %w", op, err)
	case current != generation:
		return fmt.Errorf("failed to %s: schema %d at generation %d, not %d: %w", op, schemaID, current, generation, storage.ErrStale)
	case fallback != nil:
		return fallback
	}
	return fmt.Errorf("failed to %s: no row written", op)
}

func encodeData(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal instance data: %w", err)
	}
	return string(dataJSON), nil
}

// ListInstances returns a schema's instances ordered by id.
func (db *DB) ListInstances(ctx context.Context, schemaID int64) ([]*storage.Instance, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, schema_id, data, created_at, updated_at
		 FROM instances WHERE schema_id = ? ORDER BY id`, schemaID)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	instances := []*storage.Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}
	return instances, nil
}

// GetInstance returns one instance of a schema.
func (db *DB) GetInstance(ctx context.Context, schemaID, id int64) (*storage.Instance, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, schema_id, data, created_at, updated_at
		 FROM instances WHERE id = ? AND schema_id = ?`, id, schemaID)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance %d: %w", id, storage.ErrNotFound)
	}
	return inst, err
}

// CountInstances counts a schema's instances.
func (db *DB) CountInstances(ctx context.Context, schemaID int64) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM instances WHERE schema_id = ?`, schemaID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return count, nil
}

// Stats reports row counts and the database file size.
func (db *DB) Stats(ctx context.Context) (*storage.Stats, error) {
	st := &storage.Stats{Backend: "sqlite/" + db.driver, Path: db.path}
	err := db.conn.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM schemas),
		       (SELECT COUNT(*) FROM field_specs),
		       (SELECT COUNT(*) FROM instances)`).Scan(&st.Schemas, &st.Fields, &st.Instances)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	for _, p := range []string{db.path, db.path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			st.SizeBytes += info.Size()
		}
	}
	return st, nil
}

func scanInstance(row scanner) (*storage.Instance, error) {
	var inst storage.Instance
	var dataJSON, createdAt, updatedAt string
	if err := row.Scan(&inst.ID, &inst.SchemaID, &dataJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}
	data, err := decodeData(dataJSON)
	if err != nil {
		return nil, err
	}
	inst.Data = data
	inst.CreatedAt = parseTime(createdAt)
	inst.UpdatedAt = parseTime(updatedAt)
	return &inst, nil
}

func decodeData(dataJSON string) (map[string]any, error) {
	data := map[string]any{}
	if dataJSON == "" || dataJSON == "null" {
		return data, nil
	}
	dec := json.NewDecoder(strings.NewReader(dataJSON))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance data: %w", err)
	}
	return storage.CanonicalData(data), nil
}

func requireRow(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, storage.ErrNotFound)
	}
	return nil
}

// mapConstraint turns SQLite constraint failures into storage errors. Both
// drivers report them with SQLite's own message text.
func mapConstraint(err error, op string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("failed to %s: %w", op, storage.ErrConflict)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("failed to %s: schema %w", op, storage.ErrNotFound)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
