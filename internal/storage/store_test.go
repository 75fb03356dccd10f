package storage

import (
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(nil, filepath.Join(t.TempDir(), "node.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesEveryNamespace(t *testing.T) {
	s := openTestStore(t)
	for _, ns := range allNamespaces {
		var found bool
		err := s.db.View(func(tx *bbolt.Tx) error {
			found = tx.Bucket([]byte(ns)) != nil
			return nil
		})
		if err != nil {
			t.Fatalf("view: %v", err)
		}
		if !found {
			t.Fatalf("namespace %q missing after Open", ns)
		}
	}
}

func TestNamespaceWriteThenRead(t *testing.T) {
	s := openTestStore(t)
	ns := s.Namespace(NSParams)

	err := ns.Write(func(b *bbolt.Bucket) error {
		return b.Put([]byte("currency"), []byte("test_currency"))
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	var got []byte
	err = ns.Read(func(b *bbolt.Bucket) error {
		got = append([]byte{}, b.Get([]byte("currency"))...)
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "test_currency" {
		t.Fatalf("got %q, want %q", got, "test_currency")
	}
}

func TestNamespaceResetClearsKeys(t *testing.T) {
	s := openTestStore(t)
	ns := s.Namespace(NSIdentities)
	if err := ns.Write(func(b *bbolt.Bucket) error { return b.Put([]byte("k"), []byte("v")) }); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ns.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	var got []byte
	err := ns.Read(func(b *bbolt.Bucket) error {
		got = b.Get([]byte("k"))
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != nil {
		t.Fatalf("expected key cleared, got %q", got)
	}
}

func TestResetAllClearsEveryNamespace(t *testing.T) {
	s := openTestStore(t)
	if err := s.Namespace(NSParams).Write(func(b *bbolt.Bucket) error { return b.Put([]byte("k"), []byte("v")) }); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.ResetAll(); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	for _, ns := range allNamespaces {
		var found bool
		err := s.db.View(func(tx *bbolt.Tx) error {
			found = tx.Bucket([]byte(ns)) != nil
			return nil
		})
		if err != nil {
			t.Fatalf("view: %v", err)
		}
		if !found {
			t.Fatalf("namespace %q missing after ResetAll", ns)
		}
	}
}

func TestNamespaceSaveIsNoop(t *testing.T) {
	s := openTestStore(t)
	if err := s.Namespace(NSSources).Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestReopenPreservesWrittenData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.db")

	s1, err := Open(nil, path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s1.Namespace(NSIdentities).Write(func(b *bbolt.Bucket) error {
		return b.Put([]byte("k"), []byte("v"))
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(nil, path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	var got []byte
	err = s2.Namespace(NSIdentities).Read(func(b *bbolt.Bucket) error {
		got = append([]byte{}, b.Get([]byte("k"))...)
		return nil
	})
	if err != nil {
		t.Fatalf("read after reopen: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q, want %q", got, "v")
	}
}
