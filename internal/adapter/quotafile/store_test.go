package quotafile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/quantlab/dispatch/internal/port/quotastore"
)

func TestLoadMissingFile(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "quota.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	records, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %v, want empty map", records)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.json")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	limit := 250
	in := map[string]quotastore.Record{
		"gemini_free": {Used: 42, Limit: &limit},
		"openai_api":  {Used: 7},
	}
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out["gemini_free"].Used != 42 {
		t.Errorf("used = %d, want 42", out["gemini_free"].Used)
	}
	if out["gemini_free"].Limit == nil || *out["gemini_free"].Limit != 250 {
		t.Errorf("limit = %v, want 250", out["gemini_free"].Limit)
	}
	if out["openai_api"].Limit != nil {
		t.Errorf("limit = %v, want nil for unlimited key", out["openai_api"].Limit)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "quota.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Save(context.Background(), map[string]quotastore.Record{"k": {Used: 1}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "quota.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Load(context.Background()); err == nil {
		t.Error("expected parse error for corrupt file")
	}
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty path")
	}
}
