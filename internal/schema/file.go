package schema

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a definition file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForPath picks the encoding from the file extension.
func FormatForPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".toml":
		return FormatTOML, true
	}
	return "", false
}

// IsDefinitionFile reports whether path has a supported extension.
func IsDefinitionFile(path string) bool {
	_, ok := FormatForPath(path)
	return ok
}

// DefinitionFile is a schema declared on disk in definitions/*.{json,yaml,toml}.
//
// Choices stay untyped until Spec() so that malformed lists are reported
// as validation failures rather than decode errors.
type DefinitionFile struct {
	Name       string            `json:"name" yaml:"name" toml:"name"`
	NamePlural string            `json:"name_plural,omitempty" yaml:"name_plural,omitempty" toml:"name_plural,omitempty"`
	Fields     []FieldDefinition `json:"fields" yaml:"fields" toml:"fields"`
}

// FieldDefinition is one entry of DefinitionFile.Fields.
type FieldDefinition struct {
	Name    string `json:"name" yaml:"name" toml:"name"`
	Label   string `json:"label,omitempty" yaml:"label,omitempty" toml:"label,omitempty"`
	Type    string `json:"type" yaml:"type" toml:"type"`
	Blank   bool   `json:"blank,omitempty" yaml:"blank,omitempty" toml:"blank,omitempty"`
	Choices any    `json:"choices,omitempty" yaml:"choices,omitempty" toml:"choices,omitempty"`
}

// Spec converts the definition into a FieldSpec.
func (d *FieldDefinition) Spec() (*FieldSpec, error) {
	choices, err := ParseChoices(d.Choices)
	if err != nil {
		var errs FieldErrors
		errs.Add("choices", ErrInvalidChoices, "List of strings expected.")
		return nil, &errs
	}
	return &FieldSpec{
		Name:    d.Name,
		Label:   d.Label,
		Type:    FieldType(d.Type),
		Blank:   d.Blank,
		Choices: choices,
	}, nil
}

// Validate checks the schema name and every field. Failures are keyed as
// "name" or "fields.<field>.<attribute>".
func (d *DefinitionFile) Validate() error {
	var errs FieldErrors
	checkNames(&errs, d.Name, d.NamePlural)
	seen := make(map[string]bool)
	for i := range d.Fields {
		key := d.Fields[i].Name
		if key == "" {
			key = fmt.Sprint(i)
		}
		spec, err := d.Fields[i].Spec()
		if err == nil {
			err = ValidateFieldSpec(spec)
		}
		if fe, ok := AsFieldErrors(err); ok {
			errs.Merge("fields."+key+".", fe)
			continue
		}
		name := strings.ToLower(spec.Name)
		if seen[name] {
			errs.Add("fields."+key+".name", ErrDuplicateField, "Field with this name already exists.")
		}
		if IsReservedName(name) {
			errs.Add("fields."+key+".name", ErrReservedName, fmt.Sprintf("%q is reserved.", name))
		}
		seen[name] = true
	}
	return errs.Err()
}

// Schema converts a validated definition into a normalized Schema.
func (d *DefinitionFile) Schema() (*Schema, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	s := &Schema{Name: d.Name, NamePlural: d.NamePlural}
	s.Normalize()
	for i := range d.Fields {
		spec, err := d.Fields[i].Spec()
		if err != nil {
			return nil, err
		}
		spec.Normalize()
		s.Fields = append(s.Fields, spec)
	}
	return s, nil
}

// DefinitionFromSchema renders s as a definition file.
func DefinitionFromSchema(s *Schema) *DefinitionFile {
	d := &DefinitionFile{Name: s.Name, NamePlural: s.NamePlural}
	for _, f := range s.Fields {
		fd := FieldDefinition{
			Name:  f.Name,
			Label: f.Label,
			Type:  string(f.Type),
			Blank: f.Blank,
		}
		if len(f.Choices) > 0 {
			fd.Choices = append([]string(nil), f.Choices...)
		}
		d.Fields = append(d.Fields, fd)
	}
	return d
}

// Filename returns the canonical filename for this definition: {name_plural}.{ext}
func (d *DefinitionFile) Filename(format Format) string {
	s := &Schema{Name: d.Name, NamePlural: d.NamePlural}
	s.Normalize()
	return s.NamePlural + "." + string(format)
}

// DecodeDefinition parses data in the given format.
func DecodeDefinition(data []byte, format Format) (*DefinitionFile, error) {
	var def DefinitionFile
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &def)
	case FormatYAML:
		err = yaml.Unmarshal(data, &def)
	case FormatTOML:
		err = toml.Unmarshal(data, &def)
	default:
		return nil, fmt.Errorf("unsupported definition format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// EncodeDefinition renders def in the given format.
func EncodeDefinition(def *DefinitionFile, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(def, "", "  ")
	case FormatYAML:
		return yaml.Marshal(def)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(def); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported definition format %q", format)
	}
}

// ReadDefinitionFile reads, parses and validates a definition file.
func ReadDefinitionFile(path string) (*DefinitionFile, error) {
	format, ok := FormatForPath(path)
	if !ok {
		return nil, fmt.Errorf("unsupported definition file %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file %s: %w", path, err)
	}

	def, err := DecodeDefinition(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse definition file %s: %w", path, err)
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid definition file %s: %w", path, err)
	}

	return def, nil
}

// WriteDefinitionFile writes def to dir/{name_plural}.{format} and returns the path.
func WriteDefinitionFile(dir string, def *DefinitionFile, format Format) (string, error) {
	if err := def.Validate(); err != nil {
		return "", fmt.Errorf("cannot write invalid definition: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create definitions directory: %w", err)
	}

	data, err := EncodeDefinition(def, format)
	if err != nil {
		return "", fmt.Errorf("failed to marshal definition %s: %w", def.Name, err)
	}

	path := filepath.Join(dir, def.Filename(format))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write definition file %s: %w", path, err)
	}

	return path, nil
}

// ListDefinitionFiles returns the supported files directly inside dir,
// sorted by name. A missing directory yields no files.
func ListDefinitionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read definitions directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !IsDefinitionFile(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
