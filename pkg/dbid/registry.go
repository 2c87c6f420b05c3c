// Package dbid records which database identity owns which prefix, so
// obsolete identities (ones no live engine-manifest references any more)
// can be found and their data purged. Grounded on the teacher's
// pkg/persistance.Manifest load/save-a-small-JSON-object shape, applied
// here to one record per identity instead of one record per database.
package dbid

import (
	"context"
	"encoding/json"

	"lsmcloud/pkg/dberrors"
	"lsmcloud/pkg/objstore"
	"lsmcloud/pkg/types"
)

// recordPrefix is the well-known directory under which one object per
// known database identity is kept.
const recordPrefix = "dbids/"

// Record is the body of a dbids/<identity> object.
type Record struct {
	Identity string      `json:"identity"`
	Prefix   types.Prefix `json:"prefix"`
	Epoch    types.Epoch `json:"epoch"`
}

// Registry manages dbids/<identity> records in a single bucket.
type Registry struct {
	store objstore.Client
}

// New returns a Registry backed by store.
func New(store objstore.Client) *Registry {
	return &Registry{store: store}
}

// Record writes dbids/<identity> if it does not already exist, recording
// that identity was opened as a fresh database under prefix at epoch.
// Called by the open path whenever the engine reports a fresh identity.
func (r *Registry) Record(ctx context.Context, bucket, identity string, prefix types.Prefix, epoch types.Epoch) error {
	key := recordPrefix + identity
	rootPrefix := types.Prefix{Bucket: bucket}
	if objstore.Exists(ctx, r.store, rootPrefix, key) {
		return nil
	}
	data, err := json.Marshal(Record{Identity: identity, Prefix: prefix, Epoch: epoch})
	if err != nil {
		return dberrors.New(dberrors.Internal, "dbid.Record", err)
	}
	return r.store.Put(ctx, rootPrefix, key, data, objstore.Opts{})
}

// List returns every known identity record in bucket.
func (r *Registry) List(ctx context.Context, bucket string) ([]Record, error) {
	rootPrefix := types.Prefix{Bucket: bucket}
	var out []Record
	marker := ""
	for {
		infos, next, err := r.store.List(ctx, rootPrefix, recordPrefix, marker, 0)
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			data, err := objstore.GetAll(ctx, r.store, rootPrefix, info.Key)
			if err != nil {
				return nil, err
			}
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return nil, dberrors.New(dberrors.Corruption, "dbid.List", err)
			}
			out = append(out, rec)
		}
		if next == "" {
			break
		}
		marker = next
	}
	return out, nil
}

// ManifestReader resolves the current engine-manifest bytes for a given
// prefix, used by FindObsolete to check whether a candidate identity is
// still referenced. A caller can build a cloudmanifest.Coordinator for
// prefix inside the closure and return its OpenAsReader result; tests
// pass a plain fetch closure.
type ManifestReader func(ctx context.Context, prefix types.Prefix) ([]byte, error)

// FindObsolete lists every known identity under bucket and returns those
// whose prefix's current engine-manifest no longer references them.
// "References" is decided by identityInManifest, since the identity's
// on-disk representation is entirely the engine's concern; lsmcloud only
// knows where to look.
func (r *Registry) FindObsolete(ctx context.Context, bucket string, readManifest ManifestReader, identityInManifest func(manifest []byte, identity string) bool) ([]Record, error) {
	records, err := r.List(ctx, bucket)
	if err != nil {
		return nil, err
	}

	var obsolete []Record
	for _, rec := range records {
		manifest, err := readManifest(ctx, rec.Prefix)
		if err != nil {
			if dberrors.Is(err, dberrors.NotFound) {
				obsolete = append(obsolete, rec)
				continue
			}
			return nil, err
		}
		if !identityInManifest(manifest, rec.Identity) {
			obsolete = append(obsolete, rec)
		}
	}
	return obsolete, nil
}

// Purge deletes the dbids/<identity> record itself. It does not touch the
// identity's data files; that is the caller's responsibility once it has
// independently decided the identity is truly unreferenced everywhere.
func (r *Registry) Purge(ctx context.Context, bucket, identity string) error {
	rootPrefix := types.Prefix{Bucket: bucket}
	return r.store.Delete(ctx, rootPrefix, recordPrefix+identity)
}
