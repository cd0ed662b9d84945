package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(FileConfig{Directory: dir, CacheCapacity: 4})
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	defer fs.Close()

	rec := Record{UUID: "seq-1", Name: "M42 LRGB", Data: json.RawMessage(`{"targets":[]}`), CreatedAt: time.Now().UTC()}
	if err := fs.Save(context.Background(), rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := fs.Load(context.Background(), "seq-1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Name != rec.Name {
		t.Fatalf("name mismatch: got %q want %q", got.Name, rec.Name)
	}
}

func TestFileStoreListAndDelete(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(FileConfig{Directory: dir})
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	defer fs.Close()

	for i := 0; i < 3; i++ {
		rec := Record{UUID: filepath.Base(t.TempDir()), Name: "seq", Data: json.RawMessage(`{}`), CreatedAt: time.Now()}
		if err := fs.Save(context.Background(), rec); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	list, err := fs.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}
	if err := fs.Delete(context.Background(), list[0].UUID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, err = fs.List(context.Background())
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 records after delete, got %d", len(list))
	}
}

func TestFileStoreLoadMissingReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(FileConfig{Directory: dir})
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	defer fs.Close()
	_, ok, err := fs.Load(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for missing record")
	}
}
