package deferred

import (
	"context"
	"testing"
	"time"

	"lsmcloud/pkg/objstore"
	"lsmcloud/pkg/objstore/objstoretest"
	"lsmcloud/pkg/types"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestEnqueueFiresAfterDelay(t *testing.T) {
	ctx := context.Background()
	store := objstoretest.New(nil)
	prefix := types.Prefix{Bucket: "b", Path: "db1"}
	store.Put(ctx, prefix, "000001.sst", []byte("data"), objstore.Opts{})

	s := New(store, prefix, Opts{Delay: 20 * time.Millisecond})
	s.Start(ctx)
	defer s.Stop()

	s.Enqueue("000001.sst")
	if !s.Pending("000001.sst") {
		t.Fatalf("expected key to be pending immediately after Enqueue")
	}

	waitFor(t, time.Second, func() bool {
		_, err := store.Head(ctx, prefix, "000001.sst")
		return err != nil
	})
	if s.Pending("000001.sst") {
		t.Fatalf("expected key to no longer be pending once deleted")
	}
}

func TestCancelBeforeDeadlinePreventsDelete(t *testing.T) {
	ctx := context.Background()
	store := objstoretest.New(nil)
	prefix := types.Prefix{Bucket: "b", Path: "db1"}
	store.Put(ctx, prefix, "000002.sst", []byte("data"), objstore.Opts{})

	s := New(store, prefix, Opts{Delay: 100 * time.Millisecond})
	s.Start(ctx)
	defer s.Stop()

	s.Enqueue("000002.sst")
	if !s.Cancel("000002.sst") {
		t.Fatalf("expected Cancel to find a pending delete")
	}

	time.Sleep(200 * time.Millisecond)
	if _, err := store.Head(ctx, prefix, "000002.sst"); err != nil {
		t.Fatalf("expected cancelled delete to leave object in place, got %v", err)
	}
}

func TestLenReflectsPendingCount(t *testing.T) {
	ctx := context.Background()
	store := objstoretest.New(nil)
	prefix := types.Prefix{Bucket: "b", Path: "db1"}

	s := New(store, prefix, Opts{Delay: time.Hour})
	s.Start(ctx)
	defer s.Stop()

	if s.Len() != 0 {
		t.Fatalf("expected Len 0 on a fresh scheduler, got %d", s.Len())
	}
	s.Enqueue("a.sst")
	s.Enqueue("b.sst")
	if s.Len() != 2 {
		t.Fatalf("expected Len 2, got %d", s.Len())
	}
	s.Cancel("a.sst")
	if s.Len() != 1 {
		t.Fatalf("expected Len 1 after cancelling one, got %d", s.Len())
	}
}

func TestReEnqueueReplacesEarlierDeadline(t *testing.T) {
	ctx := context.Background()
	store := objstoretest.New(nil)
	prefix := types.Prefix{Bucket: "b", Path: "db1"}
	store.Put(ctx, prefix, "000003.sst", []byte("data"), objstore.Opts{})

	s := New(store, prefix, Opts{Delay: time.Hour})
	s.Start(ctx)
	defer s.Stop()

	s.Enqueue("000003.sst")
	s.Enqueue("000003.sst")

	if s.byDeadline.Len() != 1 {
		t.Fatalf("expected exactly one pending entry for a re-enqueued key, got %d", s.byDeadline.Len())
	}
}
