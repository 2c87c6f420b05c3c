package obsolete

import (
	"context"
	"sort"
	"testing"

	"lsmcloud/pkg/dbid"
	"lsmcloud/pkg/objstore"
	"lsmcloud/pkg/objstore/objstoretest"
	"lsmcloud/pkg/types"
)

func TestFindObsoleteFilesDisabledByDefault(t *testing.T) {
	ctx := context.Background()
	store := objstoretest.New(nil)
	prefix := types.Prefix{Bucket: "b", Path: "db1"}
	store.Put(ctx, prefix, "1000.000001.sst", []byte("x"), objstore.Opts{})

	f := New(store, dbid.New(store))
	obsolete, err := f.FindObsoleteFiles(ctx, prefix, []string{})
	if err != nil {
		t.Fatalf("FindObsoleteFiles: %v", err)
	}
	if obsolete != nil {
		t.Fatalf("expected nil result while Enabled is false, got %v", obsolete)
	}
}

func TestFindObsoleteFilesWhenEnabled(t *testing.T) {
	ctx := context.Background()
	store := objstoretest.New(nil)
	prefix := types.Prefix{Bucket: "b", Path: "db1"}

	store.Put(ctx, prefix, "1000.000001.sst", []byte("x"), objstore.Opts{})
	store.Put(ctx, prefix, "2000.000002.sst", []byte("x"), objstore.Opts{})
	store.Put(ctx, prefix, "CLOUDMANIFEST", []byte("2000.MANIFEST-1"), objstore.Opts{})

	f := New(store, dbid.New(store))
	f.Enabled = true

	obsolete, err := f.FindObsoleteFiles(ctx, prefix, []string{"2000.000002.sst"})
	if err != nil {
		t.Fatalf("FindObsoleteFiles: %v", err)
	}
	sort.Strings(obsolete)
	if len(obsolete) != 1 || obsolete[0] != "1000.000001.sst" {
		t.Fatalf("expected only 1000.000001.sst to be obsolete, got %v", obsolete)
	}
}
