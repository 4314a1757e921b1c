package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/term"

	"github.com/elasticmodels/elastic/internal/schema"
)

func writeJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(w)
	return err
}

// isInteractive reports whether prompts can be shown.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// printFieldErrors lists validation failures one per line.
func printFieldErrors(w io.Writer, err error) bool {
	fe, ok := schema.AsFieldErrors(err)
	if !ok {
		return false
	}
	for _, field := range fe.Fields() {
		fmt.Fprintf(w, "  %s: %s\n", field, strings.Join(fe.Messages(field), " "))
	}
	return true
}

// splitChoices parses "a,b , c" into trimmed, non-empty values.
func splitChoices(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
