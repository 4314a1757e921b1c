// Package migrate moves a schema's instances in and out of JSONL files.
//
// Each line holds one flat instance as served by the API. Import sends
// every line through the validating store, so a dump taken under an older
// field set is checked against the current one; id and timestamps in the
// file are ignored and assigned afresh.
package migrate

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/elasticmodels/elastic/internal/projection"
	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/store"
)

// maxLineSize bounds one JSONL record.
const maxLineSize = 4 << 20

// ImportOptions configures Import.
type ImportOptions struct {
	// DryRun validates every line without storing anything.
	DryRun bool
	// ContinueOnError records failing lines and carries on.
	ContinueOnError bool
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	Read    int      `json:"read"`
	Created int      `json:"created"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Export writes every instance of sc to w, one JSON object per line, and
// returns the number written.
func Export(ctx context.Context, st *store.Store, sc *schema.Schema, w io.Writer) (int, error) {
	var n int
	err := projection.WithSchema(ctx, sc, func(ctx context.Context) error {
		instances, err := st.List(ctx, sc)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(w)
		for _, inst := range instances {
			if err := enc.Encode(inst); err != nil {
				return fmt.Errorf("failed to encode %s %d: %w", sc.Name, inst.ID, err)
			}
			n++
		}
		return nil
	})
	return n, err
}

// ExportFile writes the JSONL dump to path atomically via a temp file.
func ExportFile(ctx context.Context, st *store.Store, sc *schema.Schema, path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	var buf bytes.Buffer
	n, err := Export(ctx, st, sc, &buf)
	if err != nil {
		return 0, err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0600); err != nil {
		return 0, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return n, nil
}

// Import reads JSONL records from r and creates an instance of sc for each.
// Blank lines are skipped. Without ContinueOnError the first bad line stops
// the import; lines before it stay stored.
func Import(ctx context.Context, st *store.Store, sc *schema.Schema, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	err := projection.WithSchema(ctx, sc, func(ctx context.Context) error {
		ds, err := projection.ActiveFor(ctx, sc.ID)
		if err != nil {
			return err
		}

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			result.Read++

			lineErr := importLine(ctx, st, sc, ds, line, opts.DryRun)
			if lineErr == nil {
				result.Created++
				continue
			}

			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, lineErr))
			if !opts.ContinueOnError {
				return fmt.Errorf("line %d: %w", lineNum, lineErr)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read JSONL: %w", err)
		}
		return nil
	})
	return result, err
}

// ImportFile opens path and imports it.
func ImportFile(ctx context.Context, st *store.Store, sc *schema.Schema, path string, opts ImportOptions) (*ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer f.Close()

	return Import(ctx, st, sc, f, opts)
}

func importLine(ctx context.Context, st *store.Store, sc *schema.Schema, ds *projection.DescriptorSet, line []byte, dryRun bool) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if payload == nil {
		return fmt.Errorf("invalid JSON: object expected")
	}

	if dryRun {
		_, err := ds.Validate(payload)
		return err
	}
	_, err := st.Create(ctx, sc, payload)
	return err
}
