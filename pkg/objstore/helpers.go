package objstore

import (
	"context"

	"lsmcloud/pkg/types"
)

// GetAll reads the full contents of prefix/key. It Heads first to learn
// the size, then ranges over exactly that many bytes, since Get's
// offset=0,length=0 form is reserved for the existence probe and would
// otherwise collide with "read the whole (possibly empty) object".
func GetAll(ctx context.Context, c Client, prefix types.Prefix, key string) ([]byte, error) {
	info, err := c.Head(ctx, prefix, key)
	if err != nil {
		return nil, err
	}
	if info.Size == 0 {
		return []byte{}, nil
	}
	return c.Get(ctx, prefix, key, 0, info.Size)
}

// Exists reports whether prefix/key is present, using the spec-mandated
// zero-length Get probe rather than List (list is eventually consistent).
func Exists(ctx context.Context, c Client, prefix types.Prefix, key string) bool {
	_, err := c.Get(ctx, prefix, key, 0, 0)
	return err == nil
}
