// Package cloudenv is the virtual environment dispatcher: the single
// surface the LSM engine calls for every filesystem-shaped operation. It
// routes each call to local disk, the object store, or the log stream
// according to classify.Classify(path), and owns the lifecycle of the
// collaborators that make that routing safe across process restarts and
// concurrent writers: the cloud-manifest coordinator, the log-tailer, and
// the deferred-deletion scheduler.
//
// Grounded on the teacher's own composition root shape (cmd/init.go wiring
// a Config into concrete collaborators, handed to one top-level struct)
// adapted from "one store" to "one environment with three storage
// backends".
package cloudenv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lsmcloud/internal/config"
	"lsmcloud/pkg/classify"
	"lsmcloud/pkg/clock"
	"lsmcloud/pkg/cloudmanifest"
	"lsmcloud/pkg/dberrors"
	"lsmcloud/pkg/dbid"
	"lsmcloud/pkg/deferred"
	"lsmcloud/pkg/localenv"
	"lsmcloud/pkg/logstream"
	"lsmcloud/pkg/metrics"
	"lsmcloud/pkg/objstore"
	"lsmcloud/pkg/obsolete"
	"lsmcloud/pkg/savepoint"
	"lsmcloud/pkg/tailer"
	"lsmcloud/pkg/types"
)

// Env is one open database's virtual environment.
type Env struct {
	cfg config.Config

	store objstore.Client
	logs  logstream.Client
	local *localenv.Env
	cache *localenv.BlockCache

	coord   *cloudmanifest.Coordinator
	tailer  *tailer.Tailer
	deleter *deferred.Scheduler
	dbids   *dbid.Registry
	finder  *obsolete.Finder
	matz    *savepoint.Materializer

	metrics metrics.Collector

	mu      sync.Mutex
	started bool
}

// New constructs an Env from cfg. It does not touch the network or local
// disk beyond creating the local cache directory; call Open to run the
// cloud-manifest open protocol and start background workers.
func New(cfg config.Config, store objstore.Client, logs logstream.Client, collector metrics.Collector) (*Env, error) {
	local, err := localenv.New(cfg.Cloud.LocalCacheDir)
	if err != nil {
		return nil, err
	}
	if collector == nil {
		collector = noopCollector{}
	}

	src := cfg.SrcPrefixValue()
	dst := cfg.DstPrefixValue()
	switch {
	case dst.IsEmpty():
		// Local-only mode: the coordinator still exists so Remap/ReadPrefix
		// behave sanely; Open only reads through it (OpenAsReader) when a
		// source is configured, and never opens it as a writer.
		dst = src
	case src.IsEmpty():
		// No explicit clone source: this is a plain single-prefix node, not
		// a clone of an empty bucket. Src==Dst keeps Coordinator.IsClone
		// false, as it should be for the common case.
		src = dst
	}

	var counter *clock.AtomicClock
	if cfg.EpochStrategy() == types.MonotonicCounter {
		counter = clock.NewAtomic(0)
	}

	e := &Env{
		cfg:     cfg,
		store:   store,
		logs:    logs,
		local:   local,
		coord:   cloudmanifest.New(store, src, dst, cfg.EpochStrategy(), counter),
		dbids:   dbid.New(store),
		metrics: collector,
	}
	e.finder = obsolete.New(store, e.dbids)
	e.matz = savepoint.New(store)

	cacheBytes := int64(cfg.Cloud.PersistentCacheSizeGB) * (1 << 30)
	e.cache = localenv.NewBlockCache(cacheBytes)

	if cfg.Mode() != config.ModeLocal {
		e.deleter = deferred.New(store, dst, deferred.Opts{
			Delay: time.Duration(cfg.Cloud.FileDeletionDelaySeconds) * time.Second,
		})
	}
	if cfg.Mode() == config.ModeCloudFull {
		t, err := tailer.New(logs, store, dst, cfg.Cloud.StreamName, cfg.Cloud.LocalCacheDir, tailer.Opts{})
		if err != nil {
			return nil, err
		}
		e.tailer = t
	}

	return e, nil
}

// Open runs the cloud-manifest open-as-writer protocol (spec.md §4.5) and
// starts the deferred-deletion and log-tailer background workers; in local
// mode it runs only the read-only open, and only when a source is set. The
// returned bytes are the engine's own MANIFEST contents to replay, or nil
// for a fresh prefix.
func (e *Env) Open(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil, dberrors.New(dberrors.Internal, "cloudenv.Open", fmt.Errorf("already open"))
	}

	if e.cfg.Mode() == config.ModeLocal {
		// No destination configured, so there is nothing to own or write.
		// A source may still be configured (reading someone else's prefix
		// without ever becoming its writer), in which case the pointer is
		// still worth resolving so ReadCandidates can find pre-existing
		// remote files under their real epoch.
		if e.cfg.Cloud.SrcBucket != "" {
			data, err := e.coord.OpenAsReader(ctx)
			if err != nil {
				return nil, err
			}
			e.started = true
			return data, nil
		}
		e.started = true
		return nil, nil
	}

	data, err := e.coord.OpenAsWriter(ctx)
	if err != nil {
		return nil, err
	}
	e.metrics.IncCounter("cloudenv_opens_total", map[string]string{"mode": e.cfg.Mode().String()}, 1)

	e.deleter.Start(ctx)
	if e.tailer != nil {
		if err := e.tailer.Start(ctx); err != nil {
			e.deleter.Stop()
			return nil, err
		}
	}

	e.started = true
	return data, nil
}

// Close stops all background workers. Pending deferred deletes are
// abandoned per spec.md §4.8.
func (e *Env) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	if e.tailer != nil {
		e.tailer.Stop()
	}
	if e.deleter != nil {
		e.deleter.Stop()
	}
	e.started = false
}

// Mode reports the deployment mode this Env was configured for.
func (e *Env) Mode() config.Mode {
	return e.cfg.Mode()
}

// Health is the status snapshot healthz exposes: whether the log tailer
// (if any) is keeping up, its last error if not, and how many deferred
// deletes are currently queued.
type Health struct {
	Mode              string
	TailerRunning     bool
	TailerHealthy     bool
	TailerLastError   string
	PendingDeletes    int
	DeferredDeletions bool
}

// Health reports the current status of this Env's background workers.
func (e *Env) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := Health{Mode: e.cfg.Mode().String()}
	if e.tailer != nil {
		h.TailerRunning = true
		h.TailerHealthy = e.tailer.Healthy()
		if err := e.tailer.LastError(); err != nil {
			h.TailerLastError = err.Error()
		}
	}
	if e.deleter != nil {
		h.DeferredDeletions = true
		h.PendingDeletes = e.deleter.Len()
	}
	return h
}

// RecordIdentity records a freshly-reported database identity via the
// dbid registry, per spec.md §4.6 ("on open-as-writer, if the engine
// reports a fresh database identity").
func (e *Env) RecordIdentity(ctx context.Context, identity string) error {
	return e.dbids.Record(ctx, e.coord.Dst().Bucket, identity, e.coord.Dst(), e.coord.CurrentEpoch())
}

// Savepoint materializes a clone per spec.md §4.10, delegating to
// pkg/savepoint.
func (e *Env) Savepoint(ctx context.Context, liveFiles []string, rewrite savepoint.RewriteManifest, engineManifestName string) error {
	return e.matz.Materialize(ctx, e.coord, liveFiles, rewrite, engineManifestName)
}

// CommitManifest implements cloud-manifest protocol steps 5-6 (spec.md
// §4.5): the engine calls this once it has rolled a fresh manifest of
// its own, uploading it under this process's epoch and atomically
// swapping the pointer to reference it. After this call, reads of data
// files this process has not itself written still fall back through
// Coordinator.ReadCandidates for anything the swapped-to manifest still
// references from before this process's own epoch.
func (e *Env) CommitManifest(ctx context.Context, engineManifestName string, data []byte) error {
	return e.coord.CommitManifest(ctx, engineManifestName, data)
}

// FindObsoleteFiles delegates to pkg/obsolete, gated by Finder.Enabled.
func (e *Env) FindObsoleteFiles(ctx context.Context, liveFiles ...[]string) ([]string, error) {
	return e.finder.FindObsoleteFiles(ctx, e.coord.Dst(), liveFiles...)
}

// FindObsoleteDbids delegates to pkg/obsolete, gated by Finder.Enabled.
func (e *Env) FindObsoleteDbids(ctx context.Context, readManifest dbid.ManifestReader, identityInManifest func([]byte, string) bool) ([]dbid.Record, error) {
	return e.finder.FindObsoleteDbids(ctx, e.coord.Dst().Bucket, readManifest, identityInManifest)
}

// Resync implements the supplemented "DeleteCloudInvisibleFiles" behavior:
// given the set of data files the just-replayed engine-manifest actually
// references (logical names), remove any locally-cached data file that is
// not among them. The engine calls this once after Open, having parsed
// its own manifest format (out of lsmcloud's scope).
func (e *Env) Resync(liveFiles []string) error {
	if e.cfg.Cloud.SkipDbidVerification {
		return nil
	}
	live := make(map[string]bool, len(liveFiles))
	for _, f := range liveFiles {
		live[f] = true
	}
	names, err := e.local.ListChildren("")
	if err != nil {
		return err
	}
	for _, name := range names {
		if classify.Classify(name) != types.KindData {
			continue
		}
		if live[name] {
			continue
		}
		if err := e.local.Delete(name); err != nil {
			return err
		}
	}
	return nil
}

type noopCollector struct{}

func (noopCollector) IncCounter(string, map[string]string, float64)      {}
func (noopCollector) SetGauge(string, map[string]string, float64)       {}
func (noopCollector) ObserveHistogram(string, map[string]string, float64) {}
