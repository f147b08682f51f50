package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestFilesAreGooseMigrations(t *testing.T) {
	entries, err := fs.ReadDir(Files(), ".")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("migrations = %d, want 2", len(entries))
	}
	for _, e := range entries {
		b, err := fs.ReadFile(Files(), e.Name())
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		body := string(b)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Errorf("%s lacks goose annotations", e.Name())
		}
	}
}
