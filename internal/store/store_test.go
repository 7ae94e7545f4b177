package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func setupStoreTest(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "replica.db"))
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPutGet(t *testing.T) {
	st := setupStoreTest(t)

	if err := st.Put("session:abc", []byte(`{"id":"abc"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, err := st.Get("session:abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != `{"id":"abc"}` {
		t.Errorf("Unexpected value: %s", value)
	}
}

func TestPutReplaces(t *testing.T) {
	st := setupStoreTest(t)

	st.Put("session:abc", []byte(`1`))
	if err := st.Put("session:abc", []byte(`2`)); err != nil {
		t.Fatalf("Second Put failed: %v", err)
	}

	value, err := st.Get("session:abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != `2` {
		t.Errorf("Expected replaced value, got %s", value)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	st := setupStoreTest(t)

	_, err := st.Get("session:missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestKeysPrefixScan(t *testing.T) {
	st := setupStoreTest(t)

	st.Put("session:a", []byte(`1`))
	st.Put("session:b", []byte(`2`))
	st.Put("activities:a", []byte(`[]`))

	keys, err := st.Keys("session:")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Expected 2 session keys, got %d: %v", len(keys), keys)
	}
	if keys[0] != "session:a" || keys[1] != "session:b" {
		t.Errorf("Unexpected key order: %v", keys)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	st := setupStoreTest(t)

	st.Put("session:a", []byte(`1`))
	if err := st.Delete("session:a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := st.Delete("session:a"); err != nil {
		t.Errorf("Deleting absent key should not error: %v", err)
	}

	if _, err := st.Get("session:a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}
