package logtail

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeLines(t *testing.T, n int, width int) (string, []string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clanhub.log")
	var b strings.Builder
	var all []string
	for i := 1; i <= n; i++ {
		line := fmt.Sprintf("line %d %s", i, strings.Repeat("x", width))
		b.WriteString(line + "\n")
		all = append(all, line)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path, all
}

func TestTail(t *testing.T) {
	path, all := writeLines(t, 10, 0)

	tests := []struct {
		name     string
		maxLines int
		expected []string
	}{
		{"zero", 0, nil},
		{"fewer than file", 3, all[7:]},
		{"exact", 10, all},
		{"more than file", 50, all},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Tail(path, tt.maxLines)
			if err != nil {
				t.Fatalf("Tail: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Tail(%d) = %v, want %v", tt.maxLines, got, tt.expected)
			}
		})
	}
}

func TestTailAcrossChunks(t *testing.T) {
	// lines of ~1KB force several backward reads
	path, all := writeLines(t, 200, 1000)

	got, err := Tail(path, 40)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if !reflect.DeepEqual(got, all[160:]) {
		t.Fatalf("got %d lines, want the last 40", len(got))
	}
}

func TestTailMissingAndEmpty(t *testing.T) {
	lines, err := Tail(filepath.Join(t.TempDir(), "missing.log"), 10)
	if err != nil || lines != nil {
		t.Fatalf("missing file: lines=%v err=%v", lines, err)
	}

	empty := filepath.Join(t.TempDir(), "empty.log")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	lines, err = Tail(empty, 10)
	if err != nil || lines != nil {
		t.Fatalf("empty file: lines=%v err=%v", lines, err)
	}
}

func TestTailWithoutTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clanhub.log")
	if err := os.WriteFile(path, []byte("a\r\nb\nc"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Tail(path, 2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("got %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want Severity
	}{
		{"2026/10/14 12:00:00 realtime connected", Info},
		{"2026/10/14 12:00:00 realtime disconnected; pausing collections", Warn},
		{"realtime connect failed (attempt 2): dial tcp: refused; retrying in 4s", Error},
		{"apply news update: ERROR decoding", Error},
		{"", Info},
	}
	for _, tt := range tests {
		if got := Classify(tt.line); got != tt.want {
			t.Errorf("Classify(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}
