// Package objstoretest provides a deterministic, in-memory fake of
// objstore.Client for the rest of lsmcloud's tests, following the
// teacher's convention of hand-written fakes over a mocking framework
// (pkg/store/store_test.go uses a plain mockTimeProvider struct, not a
// generated mock).
package objstoretest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"lsmcloud/pkg/dberrors"
	"lsmcloud/pkg/objstore"
	"lsmcloud/pkg/types"
)

type object struct {
	data    []byte
	modTime time.Time
}

// Fake is an in-memory objstore.Client. Zero value is ready to use.
type Fake struct {
	mu      sync.Mutex
	buckets map[string]map[string]object
	now     func() time.Time

	// CopyCount and PutCount let tests assert call volume (e.g. savepoint
	// only copies files missing from the destination).
	CopyCount int
	PutCount  int

	// PutErr, if set, is returned by every Put call instead of succeeding.
	// Lets tests exercise callers' handling of a persistently failing
	// store (e.g. a tailer whose checkpoint writes are failing) without a
	// network-level fake.
	PutErr error
}

// New returns a ready Fake. nowFn defaults to time.Now if nil.
func New(nowFn func() time.Time) *Fake {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Fake{buckets: make(map[string]map[string]object), now: nowFn}
}

func (f *Fake) bucket(name string) map[string]object {
	b, ok := f.buckets[name]
	if !ok {
		b = make(map[string]object)
		f.buckets[name] = b
	}
	return b
}

func (f *Fake) Put(_ context.Context, prefix types.Prefix, key string, data []byte, _ objstore.Opts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PutErr != nil {
		return f.PutErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.bucket(prefix.Bucket)[prefix.Key(key)] = object{data: cp, modTime: f.now()}
	f.PutCount++
	return nil
}

func (f *Fake) Get(_ context.Context, prefix types.Prefix, key string, offset, length int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.bucket(prefix.Bucket)[prefix.Key(key)]
	if !ok {
		return nil, dberrors.New(dberrors.NotFound, "objstoretest.Get", nil)
	}
	if offset == 0 && length == 0 {
		return nil, nil
	}
	end := int64(len(obj.data))
	if length > 0 && offset+length < end {
		end = offset + length
	}
	if offset > int64(len(obj.data)) {
		offset = int64(len(obj.data))
	}
	return obj.data[offset:end], nil
}

func (f *Fake) Head(_ context.Context, prefix types.Prefix, key string) (objstore.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.bucket(prefix.Bucket)[prefix.Key(key)]
	if !ok {
		return objstore.ObjectInfo{}, dberrors.New(dberrors.NotFound, "objstoretest.Head", nil)
	}
	return objstore.ObjectInfo{Key: key, Size: int64(len(obj.data)), ModTime: obj.modTime}, nil
}

func (f *Fake) List(_ context.Context, prefix types.Prefix, subPrefix, marker string, max int) ([]objstore.ObjectInfo, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	full := prefix.Key(subPrefix)
	var keys []string
	for k := range f.bucket(prefix.Bucket) {
		if strings.HasPrefix(k, full) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if max <= 0 {
		max = objstore.DefaultListPageSize
	}

	start := 0
	if marker != "" {
		markerFull := prefix.Key(marker)
		for i, k := range keys {
			if k > markerFull {
				start = i
				break
			}
			start = i + 1
		}
	}

	var out []objstore.ObjectInfo
	var next string
	for i := start; i < len(keys) && len(out) < max; i++ {
		k := keys[i]
		obj := f.bucket(prefix.Bucket)[k]
		rel := strings.TrimPrefix(k, prefix.Path+"/")
		out = append(out, objstore.ObjectInfo{Key: rel, Size: int64(len(obj.data)), ModTime: obj.modTime})
		if i == start+max-1 && i+1 < len(keys) {
			next = rel
		}
	}
	return out, next, nil
}

func (f *Fake) Delete(_ context.Context, prefix types.Prefix, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bucket(prefix.Bucket), prefix.Key(key))
	return nil
}

func (f *Fake) Copy(_ context.Context, srcPrefix types.Prefix, srcKey string, dstPrefix types.Prefix, dstKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.bucket(srcPrefix.Bucket)[srcPrefix.Key(srcKey)]
	if !ok {
		return dberrors.New(dberrors.NotFound, "objstoretest.Copy", nil)
	}
	f.bucket(dstPrefix.Bucket)[dstPrefix.Key(dstKey)] = object{data: obj.data, modTime: f.now()}
	f.CopyCount++
	return nil
}

func (f *Fake) CreateBucket(_ context.Context, prefix types.Prefix) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucket(prefix.Bucket)
	return nil
}

var _ objstore.Client = (*Fake)(nil)
