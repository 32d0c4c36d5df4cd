package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriterCreatesDatedFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRotatingWriter(filepath.Join(dir, "panelchat.log"), 0)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	if _, err := io.WriteString(w, "hello\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	want := filepath.Join(dir, "panelchat-"+today+".log")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read %s: %v", want, err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("file content = %q", data)
	}
}

func TestWriterRollsOverAtSizeCap(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRotatingWriter(filepath.Join(dir, "panelchat.log"), 10)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	if _, err := io.WriteString(w, "123456789\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := io.WriteString(w, "overflow\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 2 {
		t.Fatalf("expected rollover to a second file, got %v", names)
	}
	found := false
	for _, n := range names {
		if strings.HasSuffix(n, "-2.log") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no indexed rollover file in %v", names)
	}
}

func TestWriterDiscardTarget(t *testing.T) {
	w, err := NewRotatingWriter("-", 0)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	if _, err := io.WriteString(w, "dropped"); err != nil {
		t.Fatalf("Write to discard target: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
