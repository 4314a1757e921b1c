package ui

import (
	"strings"
	"testing"
)

func TestRender_PlainWhenColorDisabled(t *testing.T) {
	DisableColor()

	if got := RenderPass("ok"); got != "ok" {
		t.Errorf("RenderPass() = %q, want plain text", got)
	}
	if got := RenderFail("no"); got != "no" {
		t.Errorf("RenderFail() = %q, want plain text", got)
	}
}

func TestTable(t *testing.T) {
	DisableColor()

	out := Table([]string{"ID", "NAME"}, [][]string{{"1", "aquarium"}, {"2", "car"}})
	for _, want := range []string{"ID", "NAME", "aquarium", "car"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if lines := strings.Split(out, "\n"); len(lines) != 6 {
		t.Errorf("got %d lines, want 6 (border, header, rule, 2 rows, border):\n%s", len(lines), out)
	}
}

func TestKeyValues(t *testing.T) {
	DisableColor()

	out := KeyValues([][2]string{{"Backend", "sqlite"}, {"Instances", "3"}})
	want := "Backend:   sqlite\nInstances: 3\n"
	if out != want {
		t.Errorf("KeyValues() = %q, want %q", out, want)
	}
}
