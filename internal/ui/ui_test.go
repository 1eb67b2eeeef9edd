package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestRender_PlainWithoutColor(t *testing.T) {
	DisableColor()
	if got := RenderPass("ok"); got != "ok" {
		t.Errorf("RenderPass() = %q, want plain text", got)
	}
	if got := RenderFail("bad"); got != "bad" {
		t.Errorf("RenderFail() = %q, want plain text", got)
	}
}

func TestTable(t *testing.T) {
	DisableColor()
	var buf bytes.Buffer
	Table(&buf, []string{"PATH", "FRQ"}, [][]string{
		{"/data/p1c0b01", "8"},
		{"/d/p2c0b01", "16"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"PATH           FRQ",
		"/data/p1c0b01  8",
		"/d/p2c0b01     16",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}
