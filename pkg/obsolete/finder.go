// Package obsolete computes which data-file objects and which database
// identities are no longer referenced by any reachable engine-manifest,
// and are therefore candidates for purge.
//
// Per spec.md's open question ("find-obsolete-files and
// find-obsolete-dbids are referenced by tests with the comparison
// disabled [...] the algorithm [...] is the intended contract"), the
// comparison is gated behind Finder.Enabled, which defaults to false: the
// algorithm itself is fully implemented and tested with the flag forced
// on, but nothing in lsmcloud acts on its output by default. We do not
// silently flip this to "fixed" — that decision belongs to whoever
// re-enables the purger.
package obsolete

import (
	"context"

	"github.com/zhangyunhao116/skipset"

	"lsmcloud/pkg/classify"
	"lsmcloud/pkg/dbid"
	"lsmcloud/pkg/objstore"
	"lsmcloud/pkg/types"
)

// Finder computes obsolete data files and obsolete database identities.
type Finder struct {
	store    objstore.Client
	registry *dbid.Registry

	// Enabled gates whether Find* actually compute and return results.
	// False by default; see the package doc.
	Enabled bool
}

// New returns a Finder backed by store for object listing and registry
// for dbid lookups.
func New(store objstore.Client, registry *dbid.Registry) *Finder {
	return &Finder{store: store, registry: registry}
}

// FindObsoleteFiles lists prefix and reports every data-file key not
// present in any of liveFiles, the union of live-file sets named by each
// engine-manifest currently reachable from prefix (the prefix's own
// manifest plus any clone source it still depends on). Names in
// liveFiles must already be epoch-remapped physical keys, matching what
// List returns.
func (f *Finder) FindObsoleteFiles(ctx context.Context, prefix types.Prefix, liveFiles ...[]string) ([]string, error) {
	if !f.Enabled {
		return nil, nil
	}

	live := skipset.New[string]()
	for _, files := range liveFiles {
		for _, name := range files {
			live.Add(name)
		}
	}

	var obsolete []string
	marker := ""
	for {
		infos, next, err := f.store.List(ctx, prefix, "", marker, 0)
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			if classify.Classify(info.Key) != types.KindData {
				continue
			}
			if !live.Contains(info.Key) {
				obsolete = append(obsolete, info.Key)
			}
		}
		if next == "" {
			break
		}
		marker = next
	}
	return obsolete, nil
}

// FindObsoleteDbids delegates to the dbid registry's algorithm, gated the
// same way as FindObsoleteFiles.
func (f *Finder) FindObsoleteDbids(ctx context.Context, bucket string, readManifest dbid.ManifestReader, identityInManifest func(manifest []byte, identity string) bool) ([]dbid.Record, error) {
	if !f.Enabled {
		return nil, nil
	}
	return f.registry.FindObsolete(ctx, bucket, readManifest, identityInManifest)
}
