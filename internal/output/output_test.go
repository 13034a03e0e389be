package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 0, ""},
		{"hello", 2, "he"},
		{"日本語テキスト", 7, "日本..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestWrap(t *testing.T) {
	got := Wrap("one two three four", 9)
	if got != "one two\nthree\nfour" {
		t.Errorf("Wrap = %q", got)
	}
	if Wrap("unchanged", 0) != "unchanged" {
		t.Error("Wrap with zero width changed the text")
	}
}

func TestTableAlignsWideRunes(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, "TIER", "REASON")
	table.AddRow("resume_link", "ok")
	table.AddRow("日本", "wide")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want 4:\n%s", len(lines), buf.String())
	}
	// the second column starts at the same cell offset on every row
	col := strings.Index(lines[0], "REASON")
	if !strings.HasPrefix(lines[2][col:], "ok") {
		t.Errorf("row 1 misaligned: %q", lines[2])
	}
	if table.Len() != 2 {
		t.Errorf("Len = %d", table.Len())
	}
}

func TestFormatterJSON(t *testing.T) {
	var buf bytes.Buffer
	f := New(&buf, WithFormat(FormatJSON))
	if !f.IsJSON() {
		t.Fatal("IsJSON = false")
	}
	if err := f.JSON(map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"a": 1`) {
		t.Errorf("JSON = %q", buf.String())
	}
}

func TestColorDisabledForBuffers(t *testing.T) {
	var buf bytes.Buffer
	f := New(&buf)
	if got := f.Color("x", "1"); got != "x" {
		t.Errorf("Color on buffer = %q, want plain", got)
	}
	f = New(&buf, WithColor(true))
	if got := f.Color("x", "1"); got == "x" {
		t.Error("forced color produced plain text")
	}
	if IsTerminal(&buf) {
		t.Error("buffer reported as terminal")
	}
}

func TestCountStr(t *testing.T) {
	if got := CountStr(1, "action", "actions"); got != "1 action" {
		t.Errorf("CountStr = %q", got)
	}
	if got := CountStr(3, "action", "actions"); got != "3 actions" {
		t.Errorf("CountStr = %q", got)
	}
}
