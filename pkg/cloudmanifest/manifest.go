// Package cloudmanifest resolves ownership of a shared object-store prefix
// among possibly-concurrent writers. A pointer object names the currently
// authoritative engine-manifest; the manifest's own name embeds an epoch
// that namespaces every data file written under that ownership, so two
// writers racing for the same prefix never produce colliding file names.
//
// The load/save shape is grounded on the teacher's own manifest
// persistence (pkg/persistance.Manifest): a mutex-guarded struct backed by
// a single small object, loaded once at open and rewritten on commit.
package cloudmanifest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/zhangyunhao116/fastrand"

	"lsmcloud/pkg/classify"
	"lsmcloud/pkg/clock"
	"lsmcloud/pkg/dberrors"
	"lsmcloud/pkg/objstore"
	"lsmcloud/pkg/types"
)

// PointerKey is the well-known object holding the name of the
// authoritative engine-manifest for a prefix.
const PointerKey = "CLOUDMANIFEST"

// EpochHistoryKey is a small auxiliary object recording every epoch ever
// minted against this prefix, newline-separated, oldest first. A regular
// (non-clone) reopen inherits only the immediately preceding owner's
// engine-manifest, but files still live from owners further back retain
// their original epoch-prefix forever (no data motion happens on a plain
// reopen, only on savepoint) — so resolving them by name needs the full
// lineage, not just the one epoch embedded in the manifest just loaded.
const EpochHistoryKey = "EPOCH-HISTORY"

// manifestName matches "<epoch>.<engine-base-name>". Unlike
// classify.EpochPrefix, which only recognizes epoch prefixes on data/log
// names, engine-manifest names carry no such restriction: this
// coordinator mints and parses them itself, so any suffix is accepted.
var manifestName = regexp.MustCompile(`^([0-9]+-[0-9a-fA-F]+|[0-9]+)\.(.+)$`)

// splitManifestName splits a pointer's target into (epoch, engineBase).
// ok is false if target carries no recognizable epoch prefix, which
// means it predates cloud-manifest ownership (a bare engine manifest
// name left over from a non-cloud open).
func splitManifestName(target string) (epoch, engineBase string, ok bool) {
	m := manifestName.FindStringSubmatch(target)
	if m == nil {
		return "", target, false
	}
	return m[1], m[2], true
}

// Coordinator owns the open/commit protocol for one database's prefix.
// Src and Dst are equal for an ordinary open; they differ for a clone,
// where reads fall through to Src for objects not yet present in Dst.
type Coordinator struct {
	store    objstore.Client
	src, dst types.Prefix
	strategy types.EpochStrategy
	counter  *clock.AtomicClock

	mu           sync.RWMutex
	isWriter     bool
	epoch        types.Epoch
	loadedEpoch  types.Epoch   // epoch embedded in the manifest this process inherited, if any
	epochHistory []types.Epoch // every epoch this prefix has ever minted, oldest first
	engineBase   string        // engine's own manifest name, without any epoch prefix
	readFrom     types.Prefix  // where the currently-loaded engine-manifest's bytes live
}

// New returns a Coordinator for src/dst using strategy to mint epochs.
// counter is only consulted when strategy is types.MonotonicCounter; pass
// nil otherwise.
func New(store objstore.Client, src, dst types.Prefix, strategy types.EpochStrategy, counter *clock.AtomicClock) *Coordinator {
	return &Coordinator{
		store:    store,
		src:      src,
		dst:      dst,
		strategy: strategy,
		counter:  counter,
		readFrom: src,
	}
}

// IsClone reports whether Dst differs from Src.
func (c *Coordinator) IsClone() bool {
	return c.dst.String() != c.src.String()
}

// Src returns the prefix this Coordinator reads an unowned or
// not-yet-materialized manifest from.
func (c *Coordinator) Src() types.Prefix { return c.src }

// Dst returns the prefix this Coordinator writes to as owner.
func (c *Coordinator) Dst() types.Prefix { return c.dst }

// OpenAsWriter runs the open protocol (spec steps 1-4): read the pointer,
// fetch the named engine-manifest, and mint a fresh epoch for this
// process's subsequent writes. It does not itself write anything — the
// pointer is only swapped once the engine actually rolls its manifest,
// via CommitManifest (step 5).
func (c *Coordinator) OpenAsWriter(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isWriter = true
	manifestBytes, err := c.load(ctx, c.primaryReadPrefix(ctx))
	if err != nil {
		return nil, err
	}
	c.epoch = c.mintEpoch()
	return manifestBytes, nil
}

// OpenAsReader runs steps 1-2 only; no new epoch is minted and no pointer
// is written.
func (c *Coordinator) OpenAsReader(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isWriter = false
	return c.load(ctx, c.primaryReadPrefix(ctx))
}

// primaryReadPrefix picks Dst over Src once a clone has materialized its
// own pointer there; a clone that has never committed reads through from
// Src, as spec.md §4.5 describes. Non-clones always have Src == Dst.
func (c *Coordinator) primaryReadPrefix(ctx context.Context) types.Prefix {
	if c.IsClone() && objstore.Exists(ctx, c.store, c.dst, PointerKey) {
		return c.dst
	}
	return c.src
}

// load implements steps 1-2 against readPrefix: read the pointer object,
// then fetch the engine-manifest it names. A NotFound pointer means a
// fresh, unowned prefix: that is not an error, just an empty manifest.
func (c *Coordinator) load(ctx context.Context, readPrefix types.Prefix) ([]byte, error) {
	pointer, err := objstore.GetAll(ctx, c.store, readPrefix, PointerKey)
	if dberrors.Is(err, dberrors.NotFound) {
		c.engineBase = ""
		c.readFrom = readPrefix
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	targetName := string(pointer)
	epoch, base, _ := splitManifestName(targetName)

	data, err := objstore.GetAll(ctx, c.store, readPrefix, targetName)
	if dberrors.Is(err, dberrors.NotFound) {
		// The pointer names an engine-manifest that does not exist.
		return nil, dberrors.New(dberrors.Corruption, "cloudmanifest.load", fmt.Errorf("pointer names missing engine-manifest %q: %w", targetName, err))
	}
	if err != nil {
		return nil, err
	}
	c.engineBase = base
	c.loadedEpoch = types.Epoch(epoch)
	c.epochHistory = c.loadEpochHistory(ctx, readPrefix)
	c.readFrom = readPrefix
	return data, nil
}

// loadEpochHistory fetches the auxiliary epoch-history object, if any. A
// NotFound prefix (nothing ever committed here, or a history predating
// this mechanism) is not an error: ReadCandidates simply falls back to
// loadedEpoch alone.
func (c *Coordinator) loadEpochHistory(ctx context.Context, readPrefix types.Prefix) []types.Epoch {
	data, err := objstore.GetAll(ctx, c.store, readPrefix, EpochHistoryKey)
	if err != nil {
		return nil
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	history := make([]types.Epoch, 0, len(lines))
	for _, line := range lines {
		if line != "" {
			history = append(history, types.Epoch(line))
		}
	}
	return history
}

// CommitManifest implements steps 5-6: upload the engine's freshly-rolled
// manifest under this process's epoch, then atomically swap the pointer
// to reference it. engineBaseName is the engine's own manifest name (it
// may increment across rolls independently of the epoch).
func (c *Coordinator) CommitManifest(ctx context.Context, engineBaseName string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isWriter {
		return dberrors.New(dberrors.Permanent, "cloudmanifest.CommitManifest", fmt.Errorf("coordinator opened as reader"))
	}
	if c.epoch == "" {
		return dberrors.New(dberrors.Internal, "cloudmanifest.CommitManifest", fmt.Errorf("no epoch minted; OpenAsWriter was not called"))
	}

	key := classify.WithEpoch(c.epoch, engineBaseName)
	if err := c.store.Put(ctx, c.dst, key, data, objstore.Opts{}); err != nil {
		return err
	}
	if err := c.appendEpochHistory(ctx); err != nil {
		return err
	}
	if err := c.store.Put(ctx, c.dst, PointerKey, []byte(key), objstore.Opts{}); err != nil {
		return err
	}

	c.engineBase = engineBaseName
	c.readFrom = c.dst
	return nil
}

// appendEpochHistory records c.epoch into the destination's epoch-history
// object, if not already present. Committed before the pointer swap so a
// crash between the two leaves the history a superset of what's actually
// reachable — harmless, since ReadCandidates only ever probes keys that
// may or may not exist.
func (c *Coordinator) appendEpochHistory(ctx context.Context) error {
	history := c.loadEpochHistory(ctx, c.dst)
	for _, e := range history {
		if e == c.epoch {
			return nil
		}
	}
	history = append(history, c.epoch)

	lines := make([]string, len(history))
	for i, e := range history {
		lines[i] = string(e)
	}
	body := []byte(strings.Join(lines, "\n"))
	return c.store.Put(ctx, c.dst, EpochHistoryKey, body, objstore.Opts{})
}

// Remap translates a logical data-file name into the physical object key
// under this writer's own minted epoch: epoch_prefix || strip_epoch(name).
// Two concurrent writers minting different epochs can never produce the
// same physical key for the same logical name.
func (c *Coordinator) Remap(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return classify.WithEpoch(c.epoch, classify.StripEpoch(name))
}

// ReadPrefix returns the prefix the currently loaded engine-manifest's
// bytes live in: Src until this process commits its own manifest, Dst
// afterward. cloudenv consults this to decide where a remapped data-file
// read should actually go for files this process has not itself written.
func (c *Coordinator) ReadPrefix() types.Prefix {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readFrom
}

// CurrentEpoch returns the epoch minted at OpenAsWriter, or the zero
// value if this Coordinator was opened as a reader or not yet opened.
func (c *Coordinator) CurrentEpoch() types.Epoch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// LoadedEpoch returns the epoch embedded in the engine-manifest this
// process inherited at load (OpenAsWriter/OpenAsReader), or the zero
// value for a fresh prefix with no prior owner.
func (c *Coordinator) LoadedEpoch() types.Epoch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedEpoch
}

// ReadCandidates returns the physical object keys name could live under,
// most-likely-first: the epoch this process mints its own writes under,
// then the epoch embedded in the engine-manifest this process inherited
// at load, then every other epoch this prefix has ever minted (most
// recent first). A file the engine created earlier in this same session
// resolves on the first try; a file inherited from the immediately
// preceding owner resolves on the second. A file surviving from several
// owners back - never moved, since only savepoint copies data - only
// resolves by walking the rest of the prefix's epoch lineage.
func (c *Coordinator) ReadCandidates(name string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stripped := classify.StripEpoch(name)

	seen := make(map[types.Epoch]bool, len(c.epochHistory)+2)
	var out []string
	add := func(e types.Epoch) {
		if e == "" || seen[e] {
			return
		}
		seen[e] = true
		out = append(out, classify.WithEpoch(e, stripped))
	}

	add(c.epoch)
	add(c.loadedEpoch)
	for i := len(c.epochHistory) - 1; i >= 0; i-- {
		add(c.epochHistory[i])
	}
	return out
}

// EngineManifestBase returns the engine's own manifest name as last
// loaded or committed, without any epoch prefix.
func (c *Coordinator) EngineManifestBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engineBase
}

func (c *Coordinator) mintEpoch() types.Epoch {
	switch c.strategy {
	case types.MonotonicCounter:
		return types.Epoch(fmt.Sprintf("%020d", c.counter.Next()))
	default:
		return types.Epoch(fmt.Sprintf("%d-%x", time.Now().UnixNano(), fastrand.Uint32()))
	}
}
