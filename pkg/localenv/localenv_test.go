package localenv

import (
	"testing"

	"lsmcloud/pkg/dberrors"
)

func TestWriteReadRoundTrip(t *testing.T) {
	env, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wf, err := env.NewWritableFile("000001.sst")
	if err != nil {
		t.Fatalf("NewWritableFile: %v", err)
	}
	want := []byte("hello world")
	if _, err := wf.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := wf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := env.ReadFile("000001.sst")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExistsAndDelete(t *testing.T) {
	env, _ := New(t.TempDir())
	if env.Exists("missing.sst") {
		t.Fatalf("expected missing.sst to not exist")
	}

	wf, _ := env.NewWritableFile("present.sst")
	wf.Close()
	if !env.Exists("present.sst") {
		t.Fatalf("expected present.sst to exist")
	}

	if err := env.Delete("present.sst"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if env.Exists("present.sst") {
		t.Fatalf("expected present.sst to be gone after Delete")
	}
	// Idempotent.
	if err := env.Delete("present.sst"); err != nil {
		t.Fatalf("Delete of missing file should be a no-op, got %v", err)
	}
}

func TestReadRange(t *testing.T) {
	env, _ := New(t.TempDir())
	wf, _ := env.NewWritableFile("000002.sst")
	wf.Write([]byte("0123456789"))
	wf.Close()

	got, err := env.ReadRange("000002.sst", 2, 3)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(got) != "234" {
		t.Fatalf("got %q, want %q", got, "234")
	}
}

func TestSizeNotFound(t *testing.T) {
	env, _ := New(t.TempDir())
	if _, err := env.Size("nope.sst"); !dberrors.Is(err, dberrors.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestListChildren(t *testing.T) {
	env, _ := New(t.TempDir())
	wf, _ := env.NewWritableFile("a.sst")
	wf.Close()
	wf2, _ := env.NewWritableFile("b.sst")
	wf2.Close()

	children, err := env.ListChildren("")
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %v", children)
	}
}
