package client

import (
	"path/filepath"
	"testing"
)

func testKVs(t *testing.T) map[string]KV {
	t.Helper()
	sqlite, err := OpenSQLiteKV(filepath.Join(t.TempDir(), "state.sqlite3"))
	if err != nil {
		t.Fatalf("OpenSQLiteKV: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]KV{"mem": NewMemKV(), "sqlite": sqlite}
}

func TestKVPutGetDelete(t *testing.T) {
	for name, kv := range testKVs(t) {
		t.Run(name, func(t *testing.T) {
			if err := kv.Put("k", []byte("v1")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := kv.Put("k", []byte("v2")); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}

			value, ok, err := kv.Get("k")
			if err != nil || !ok || string(value) != "v2" {
				t.Fatalf("Get: %q %v %v", value, ok, err)
			}

			if err := kv.Delete("k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := kv.Get("k"); ok {
				t.Error("expected key gone")
			}
		})
	}
}

func TestKVListPrefixSorted(t *testing.T) {
	for name, kv := range testKVs(t) {
		t.Run(name, func(t *testing.T) {
			kv.Put("op/000000000002", []byte("b"))
			kv.Put("op/000000000001", []byte("a"))
			kv.Put("meta/x", []byte("m"))

			entries, err := kv.List("op/")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(entries) != 2 {
				t.Fatalf("expected 2 entries, got %d", len(entries))
			}
			if entries[0].Key != "op/000000000001" || entries[1].Key != "op/000000000002" {
				t.Errorf("expected sorted keys, got %v", entries)
			}
		})
	}
}
