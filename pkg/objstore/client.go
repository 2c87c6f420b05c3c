// Package objstore is the thin façade over the remote object store that
// the virtual environment, the tailer, the coordinator, and the
// deferred-deletion scheduler all share. It exposes exactly the
// operations spec.md §4.2 requires and nothing else: Put, ranged Get,
// Head, List, Delete, Copy, and CreateBucket.
package objstore

import (
	"context"
	"time"

	"lsmcloud/pkg/types"
)

// Opts controls per-object upload behavior.
type Opts struct {
	ServerSideEncryption bool
	EncryptionKeyID      string
}

// ObjectInfo describes a listed or head-probed object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// DefaultListPageSize is the spec-mandated list page size. Callers may
// override it per spec.md §9's open question ("adopt the spec value,
// allow override").
const DefaultListPageSize = 50

// Client is the object-store client adapter's capability set.
type Client interface {
	// Put uploads data under prefix/key. Durable after success.
	Put(ctx context.Context, prefix types.Prefix, key string, data []byte, opts Opts) error

	// Get returns the [offset, offset+length) byte range of prefix/key.
	// offset=0, length=0 is the approved existence/size probe.
	Get(ctx context.Context, prefix types.Prefix, key string, offset, length int64) ([]byte, error)

	// Head returns size and modification time. S3Client implements it
	// with a real HeadObject call rather than a zero-length Get.
	Head(ctx context.Context, prefix types.Prefix, key string) (ObjectInfo, error)

	// List returns up to max keys under prefix/subPrefix starting after
	// marker, and a nextMarker to resume from (empty when exhausted).
	// Callers must not assume List reflects just-written objects.
	List(ctx context.Context, prefix types.Prefix, subPrefix, marker string, max int) ([]ObjectInfo, string, error)

	// Delete removes prefix/key. Idempotent: NotFound is success.
	Delete(ctx context.Context, prefix types.Prefix, key string) error

	// Copy performs a server-side copy from (srcPrefix, srcKey) to
	// (dstPrefix, dstKey), atomic per object.
	Copy(ctx context.Context, srcPrefix types.Prefix, srcKey string, dstPrefix types.Prefix, dstKey string) error

	// CreateBucket is idempotent.
	CreateBucket(ctx context.Context, prefix types.Prefix) error
}
