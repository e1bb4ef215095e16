package bolt

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/backend/kv"
	backendtesting "github.com/ValentinKolb/gstore/lib/backend/testing"
)

func TestBoltProvider(t *testing.T) {
	factory := func(t testing.TB) backend.Provider {
		path := filepath.Join(t.TempDir(), "graph.db")
		p, err := kv.NewProvider("bolt", "test_graph", "1.0", New(path))
		if err != nil {
			t.Fatalf("failed to create provider: %v", err)
		}
		return p
	}
	backendtesting.RunBackendStoreTests(t, "bolt", factory)
}

func TestPersistsAcrossEngines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "graph.db")

	e := New(path)
	if err := e.Open(); err != nil {
		t.Fatal(err)
	}
	if err := e.CreateTable("t"); err != nil {
		t.Fatal(err)
	}
	err := e.Update(func(w kv.Writer) error {
		return w.Put("t", []byte("k"), []byte("v"))
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := New(path)
	if err := reopened.Open(); err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	v, found, err := reopened.Get("t", []byte("k"))
	if err != nil || !found || string(v) != "v" {
		t.Errorf("expected k=v after reopen, got %q %v %v", v, found, err)
	}
}

func TestFailedRestoreKeepsEngineOpen(t *testing.T) {
	e := New(filepath.Join(t.TempDir(), "graph.db"))
	if err := e.Open(); err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if err := e.CreateTable("t"); err != nil {
		t.Fatal(err)
	}

	if err := e.RestoreFrom(filepath.Join(t.TempDir(), "missing.snapshot")); err == nil {
		t.Fatal("expected restore of a missing snapshot to fail")
	}
	if ok, err := e.HasTable("t"); err != nil || !ok {
		t.Errorf("expected engine to stay usable, got %v %v", ok, err)
	}
}

func TestTruncateMissingTable(t *testing.T) {
	e := New(filepath.Join(t.TempDir(), "graph.db"))
	if err := e.Open(); err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if err := e.TruncateTable("missing"); !errors.Is(err, kv.ErrTableNotFound) {
		t.Errorf("expected %v, got %v", kv.ErrTableNotFound, err)
	}
	if err := e.DropTable("missing"); err != nil {
		t.Errorf("expected drop of a missing table to succeed, got %v", err)
	}
}
