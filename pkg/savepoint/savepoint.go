// Package savepoint materializes a clone: copies forward every live file
// the clone still depends on from its source prefix, then commits a
// rewritten engine-manifest that names only destination-side files. Once
// that commit succeeds the clone is independent of its source.
//
// Grounded on the teacher's compaction shape (pkg/persistance/levels.go's
// LevelManager.compactLevel: gather inputs, produce output, then make the
// manifest the new source of truth) adapted from "rewrite local tables"
// to "copy remote objects forward".
package savepoint

import (
	"context"
	"fmt"

	"lsmcloud/pkg/classify"
	"lsmcloud/pkg/cloudmanifest"
	"lsmcloud/pkg/dberrors"
	"lsmcloud/pkg/objstore"
)

// Materializer copies clone dependencies forward from source to
// destination prefixes.
type Materializer struct {
	store objstore.Client
}

// New returns a Materializer backed by store.
func New(store objstore.Client) *Materializer {
	return &Materializer{store: store}
}

// RewriteManifest produces the new engine-manifest body once every
// liveFiles name has been resolved to its destination-side physical key
// (liveFiles name -> copied-or-already-present key).
type RewriteManifest func(remapped map[string]string) ([]byte, error)

// Materialize runs spec.md §4.10 against coord, which must be a clone
// (Src != Dst). liveFiles are the engine's logical file names (e.g.
// "000042.sst"); engineManifestName is the name CommitManifest will
// prepend this clone's epoch to.
func (m *Materializer) Materialize(ctx context.Context, coord *cloudmanifest.Coordinator, liveFiles []string, rewrite RewriteManifest, engineManifestName string) error {
	if !coord.IsClone() {
		return dberrors.New(dberrors.NotSupported, "savepoint.Materialize", fmt.Errorf("coordinator is not a clone (src == dst)"))
	}

	src, dst := coord.Src(), coord.Dst()
	remapped := make(map[string]string, len(liveFiles))

	// Live files named by the manifest this clone replayed from its
	// source were written under the source owner's epoch, not this
	// clone's own freshly-minted one (coord.Remap); fall back to the
	// clone's own epoch only for a fresh source with no prior owner.
	sourceEpoch := coord.LoadedEpoch()
	if sourceEpoch == "" {
		sourceEpoch = coord.CurrentEpoch()
	}

	for _, name := range liveFiles {
		key := classify.WithEpoch(sourceEpoch, classify.StripEpoch(name))
		remapped[name] = key

		if objstore.Exists(ctx, m.store, dst, key) {
			continue
		}
		if err := m.store.Copy(ctx, src, key, dst, key); err != nil {
			return err
		}
	}

	data, err := rewrite(remapped)
	if err != nil {
		return dberrors.New(dberrors.Internal, "savepoint.Materialize", err)
	}
	return coord.CommitManifest(ctx, engineManifestName, data)
}
