package store

import (
	"bytes"
	"time"

	"github.com/goccy/go-json"

	"github.com/elasticmodels/elastic/internal/projection"
)

// Instance is one record of a schema with values in their native kinds:
// int64, string, projection.Date or nil.
type Instance struct {
	ID        int64
	SchemaID  int64
	CreatedAt time.Time
	UpdatedAt time.Time

	fields []string
	values map[string]any
}

func newInstance(ds *projection.DescriptorSet, id int64, createdAt, updatedAt time.Time, values map[string]any) *Instance {
	return &Instance{
		ID:        id,
		SchemaID:  ds.SchemaID,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		fields:    ds.Names(),
		values:    values,
	}
}

// Fields returns the schema's field names in order.
func (i *Instance) Fields() []string {
	return append([]string(nil), i.fields...)
}

// Get returns the value of field name.
func (i *Instance) Get(name string) any {
	return i.values[name]
}

// Values returns a copy of all field values.
func (i *Instance) Values() map[string]any {
	out := make(map[string]any, len(i.values))
	for k, v := range i.values {
		out[k] = v
	}
	return out
}

// MarshalJSON renders the flat wire form: id, created_at, updated_at and
// then every field in schema order. Dates render as YYYY-MM-DD.
func (i *Instance) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"id":`)
	id, _ := json.Marshal(i.ID)
	buf.Write(id)

	buf.WriteString(`,"created_at":`)
	created, err := json.Marshal(i.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	buf.Write(created)

	buf.WriteString(`,"updated_at":`)
	updated, err := json.Marshal(i.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	buf.Write(updated)

	for _, name := range i.fields {
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(i.values[name])
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
