package savepoint

import (
	"context"
	"encoding/json"
	"testing"

	"lsmcloud/pkg/cloudmanifest"
	"lsmcloud/pkg/objstore"
	"lsmcloud/pkg/objstore/objstoretest"
	"lsmcloud/pkg/types"
)

func TestMaterializeCopiesMissingFilesAndCommits(t *testing.T) {
	ctx := context.Background()
	store := objstoretest.New(nil)

	src := types.Prefix{Bucket: "b", Path: "source-db"}
	dst := types.Prefix{Bucket: "b", Path: "clone-db"}

	srcWriter := cloudmanifest.New(store, src, src, types.NanosWithRandom, nil)
	srcWriter.OpenAsWriter(ctx)
	srcWriter.CommitManifest(ctx, "MANIFEST-000001", []byte("source-manifest"))

	sourceKey := srcWriter.Remap("000001.sst")
	store.Put(ctx, src, sourceKey, []byte("sst-data"), objstore.Opts{})

	clone := cloudmanifest.New(store, src, dst, types.NanosWithRandom, nil)
	if _, err := clone.OpenAsWriter(ctx); err != nil {
		t.Fatalf("clone OpenAsWriter: %v", err)
	}

	mat := New(store)
	rewrite := func(remapped map[string]string) ([]byte, error) {
		return json.Marshal(remapped)
	}
	if err := mat.Materialize(ctx, clone, []string{"000001.sst"}, rewrite, "MANIFEST-000001"); err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	// Materialize preserves the source's own physical key (the epoch the
	// clone inherited, not its own freshly-minted one) so the copy lands
	// at the same name it had under the source.
	destKey := sourceKey
	data, err := objstore.GetAll(ctx, store, dst, destKey)
	if err != nil {
		t.Fatalf("expected file copied into destination, got %v", err)
	}
	if string(data) != "sst-data" {
		t.Fatalf("got %q", data)
	}

	if clone.ReadPrefix().String() != dst.String() {
		t.Fatalf("expected clone to read from its own destination after materializing")
	}
	if store.CopyCount != 1 {
		t.Fatalf("expected exactly one Copy call, got %d", store.CopyCount)
	}
}

func TestMaterializeSkipsFilesAlreadyInDestination(t *testing.T) {
	ctx := context.Background()
	store := objstoretest.New(nil)

	src := types.Prefix{Bucket: "b", Path: "source-db"}
	dst := types.Prefix{Bucket: "b", Path: "clone-db"}

	srcWriter := cloudmanifest.New(store, src, src, types.NanosWithRandom, nil)
	srcWriter.OpenAsWriter(ctx)
	srcWriter.CommitManifest(ctx, "MANIFEST-000001", []byte("source-manifest"))
	sourceKey := srcWriter.Remap("000001.sst")
	store.Put(ctx, src, sourceKey, []byte("sst-data"), objstore.Opts{})

	clone := cloudmanifest.New(store, src, dst, types.NanosWithRandom, nil)
	clone.OpenAsWriter(ctx)

	// Pre-populate the destination under the source's own physical key so
	// Materialize should skip copying.
	store.Put(ctx, dst, sourceKey, []byte("already-here"), objstore.Opts{})

	mat := New(store)
	rewrite := func(remapped map[string]string) ([]byte, error) { return []byte("{}"), nil }
	if err := mat.Materialize(ctx, clone, []string{"000001.sst"}, rewrite, "MANIFEST-000002"); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if store.CopyCount != 0 {
		t.Fatalf("expected no Copy calls when destination already has the file, got %d", store.CopyCount)
	}
}

func TestMaterializeRejectsNonClone(t *testing.T) {
	ctx := context.Background()
	store := objstoretest.New(nil)
	prefix := types.Prefix{Bucket: "b", Path: "db1"}

	coord := cloudmanifest.New(store, prefix, prefix, types.NanosWithRandom, nil)
	coord.OpenAsWriter(ctx)

	mat := New(store)
	err := mat.Materialize(ctx, coord, nil, func(map[string]string) ([]byte, error) { return nil, nil }, "MANIFEST-000001")
	if err == nil {
		t.Fatalf("expected Materialize to reject a non-clone coordinator")
	}
}
