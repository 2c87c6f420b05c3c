// Package tailer materializes one database's log stream into its local
// WAL cache directory. One Tailer runs per open database, consuming
// Append/Delete/Close records in order and persisting a resumable
// checkpoint so restart never replays arbitrarily old history.
//
// The checkpoint-batching half reuses the teacher's pkg/listener
// generic, the same way the teacher's own pkg/wal drives its disk writer:
// a channel of values consumed by one background goroutine, started and
// stopped uniformly via listener.Listener.Start/Stop.
package tailer

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lsmcloud/pkg/dberrors"
	"lsmcloud/pkg/listener"
	"lsmcloud/pkg/localenv"
	"lsmcloud/pkg/logstream"
	"lsmcloud/pkg/objstore"
	"lsmcloud/pkg/retry"
	"lsmcloud/pkg/types"
)

// CheckpointKeyPrefix is the well-known directory holding one checkpoint
// object per tailer instance.
const CheckpointKeyPrefix = "tailer-checkpoint/"

// DefaultCheckpointEvery and DefaultCheckpointInterval bound how often a
// checkpoint is persisted: whichever comes first.
const (
	DefaultCheckpointEvery    = 200
	DefaultCheckpointInterval = 5 * time.Second
	pollIdleSleep             = 50 * time.Millisecond
)

type checkpoint struct {
	Shard logstream.Shard `json:"shard"`
	Seqno logstream.Seqno `json:"seqno"`
}

// Tailer owns a cache directory and keeps it in sync with one stream.
type Tailer struct {
	*listener.Listener[checkpoint]

	logs   logstream.Client
	store  objstore.Client
	cache  *localenv.Env
	prefix types.Prefix

	streamName string
	shard      logstream.Shard
	instanceID string

	checkpointEvery    int
	checkpointInterval time.Duration
	retryBudget        time.Duration

	mu          sync.Mutex
	closed      map[string]bool
	lastErr     error
	healthy     atomic.Bool
	checkpointCh chan checkpoint
	stopPoll    context.CancelFunc
	pollDone    chan struct{}
}

// Opts configures a Tailer beyond its required collaborators.
type Opts struct {
	CheckpointEvery    int
	CheckpointInterval time.Duration
	RetryBudget        time.Duration
}

// New returns a Tailer for streamName, writing cached files under
// cacheDir and its checkpoint object under prefix in store.
func New(logs logstream.Client, store objstore.Client, prefix types.Prefix, streamName string, cacheDir string, opts Opts) (*Tailer, error) {
	cache, err := localenv.New(cacheDir)
	if err != nil {
		return nil, err
	}
	every := opts.CheckpointEvery
	if every <= 0 {
		every = DefaultCheckpointEvery
	}
	interval := opts.CheckpointInterval
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	budget := opts.RetryBudget
	if budget <= 0 {
		budget = retry.DefaultBudget
	}

	t := &Tailer{
		logs:               logs,
		store:               store,
		cache:               cache,
		prefix:              prefix,
		streamName:          streamName,
		shard:               "shard-0",
		instanceID:          uuid.NewString(),
		checkpointEvery:     every,
		checkpointInterval:  interval,
		retryBudget:         budget,
		closed:              make(map[string]bool),
		checkpointCh:        make(chan checkpoint, 8),
	}
	return t, nil
}

// Start loads the persisted checkpoint (or starts from the stream tail if
// none exists), then begins consuming records in the background. Start
// returns once the initial checkpoint load and stream position are
// established; consumption continues until Stop or ctx is cancelled.
func (t *Tailer) Start(ctx context.Context) error {
	cursor, err := t.loadCheckpoint(ctx)
	if err != nil {
		return err
	}
	return t.startFrom(ctx, cursor)
}

// startFrom begins consumption from an explicit cursor, bypassing
// checkpoint resolution. Exported tests use this to exercise replay from
// a known position instead of the production "start from tail" default.
func (t *Tailer) startFrom(ctx context.Context, cursor logstream.Cursor) error {
	t.Listener = listener.New(t.checkpointCh, t.persistCheckpoint, func() {})
	t.Listener.Start(ctx)
	t.healthy.Store(true)

	pollCtx, cancel := cancelWithParent(ctx)
	t.stopPoll = cancel
	t.pollDone = make(chan struct{})
	go func() {
		defer close(t.pollDone)
		t.pollLoop(pollCtx, cursor)
	}()
	return nil
}

func cancelWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(ctx)
}

// Stop halts consumption and flushes the final checkpoint.
func (t *Tailer) Stop() {
	if t.stopPoll != nil {
		t.stopPoll()
		<-t.pollDone
	}
	if t.Listener != nil {
		t.Listener.Stop()
	}
}

// Healthy reports whether the tailer is still consuming records
// successfully. Once false, the virtual environment's log reads fail
// with Internal; its log writes and deletes do not consult it.
func (t *Tailer) Healthy() bool {
	return t.healthy.Load()
}

// LastError returns the error that marked the tailer unhealthy, or nil.
func (t *Tailer) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// IsClosed reports whether path has received a Close record, meaning the
// engine has released it and it is eligible for cache eviction once
// otherwise unreferenced.
func (t *Tailer) IsClosed(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed[path]
}

func (t *Tailer) loadCheckpoint(ctx context.Context) (logstream.Cursor, error) {
	key := CheckpointKeyPrefix + t.instanceID
	data, err := objstore.GetAll(ctx, t.store, t.prefix, key)
	if dberrors.Is(err, dberrors.NotFound) {
		seqno, lerr := t.logs.GetLatestSeqno(ctx, t.streamName, t.shard)
		if lerr != nil {
			return logstream.Cursor{}, lerr
		}
		return logstream.Cursor{Shard: t.shard, Seqno: seqno}, nil
	}
	if err != nil {
		return logstream.Cursor{}, err
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return logstream.Cursor{}, dberrors.New(dberrors.Corruption, "tailer.loadCheckpoint", err)
	}
	return logstream.Cursor{Shard: cp.Shard, Seqno: cp.Seqno}, nil
}

// persistCheckpoint is the listener.Listener handler: it runs on the
// single background goroutine draining checkpointCh, so no locking is
// needed around the write itself.
//
// A failure here already exhausted its retry budget, so it is not a
// transient blip listener.Listener should simply log and move past: it
// means this tailer has lost the ability to persist its position, which
// is as serious as losing the ability to read records at all. Mark the
// tailer unhealthy in addition to returning the error, so Healthy/
// LastError reflect it even though the listener loop itself continues
// (the next record is still consumed; only the checkpoint write failed).
func (t *Tailer) persistCheckpoint(cp checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		err = dberrors.New(dberrors.Internal, "tailer.persistCheckpoint", err)
		t.markUnhealthy(err)
		return err
	}
	key := CheckpointKeyPrefix + t.instanceID
	err = retry.Do(context.Background(), t.retryBudget, retry.Transient, func() error {
		return t.store.Put(context.Background(), t.prefix, key, data, objstore.Opts{})
	})
	if err != nil {
		t.markUnhealthy(err)
	}
	return err
}

func (t *Tailer) markUnhealthy(err error) {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()
	t.healthy.Store(false)
}

func (t *Tailer) pollLoop(ctx context.Context, cursor logstream.Cursor) {
	next, err := t.logs.Read(ctx, t.streamName, cursor.Shard, cursor.Seqno)
	if err != nil {
		t.markUnhealthy(err)
		return
	}

	sinceCheckpoint := 0
	lastCheckpoint := time.Now()
	var latest logstream.Cursor

	for {
		select {
		case <-ctx.Done():
			t.maybeCheckpoint(&latest, &sinceCheckpoint, true)
			return
		default:
		}

		rec, pos, ok, err := next()
		if err != nil {
			if retry.Transient(err) {
				time.Sleep(retry.DefaultSleep)
				continue
			}
			t.markUnhealthy(err)
			return
		}
		if !ok {
			time.Sleep(pollIdleSleep)
			continue
		}

		if err := t.apply(rec); err != nil {
			t.markUnhealthy(err)
			return
		}

		latest = pos
		sinceCheckpoint++
		t.maybeCheckpoint(&latest, &sinceCheckpoint, time.Since(lastCheckpoint) >= t.checkpointInterval)
		if sinceCheckpoint == 0 {
			lastCheckpoint = time.Now()
		}
	}
}

func (t *Tailer) maybeCheckpoint(latest *logstream.Cursor, sinceCheckpoint *int, intervalElapsed bool) {
	if *sinceCheckpoint == 0 {
		return
	}
	if *sinceCheckpoint < t.checkpointEvery && !intervalElapsed {
		return
	}
	select {
	case t.checkpointCh <- checkpoint{Shard: latest.Shard, Seqno: latest.Seqno}:
		*sinceCheckpoint = 0
	default:
		// Checkpoint writer is behind; skip this tick rather than block
		// record consumption. The next successful send carries a seqno
		// at least as new, so no progress is lost, only batched further.
	}
}

func (t *Tailer) apply(rec logstream.Record) error {
	switch rec.Op {
	case logstream.OpAppend:
		wf, err := t.cache.OpenAppend(rec.Path)
		if err != nil {
			return err
		}
		if _, err := wf.Write(rec.Payload); err != nil {
			wf.Close()
			return dberrors.New(dberrors.Internal, "tailer.apply", err)
		}
		return wf.Close()
	case logstream.OpDelete:
		t.mu.Lock()
		delete(t.closed, rec.Path)
		t.mu.Unlock()
		return t.cache.Delete(rec.Path)
	case logstream.OpClose:
		t.mu.Lock()
		t.closed[rec.Path] = true
		t.mu.Unlock()
		return nil
	default:
		return dberrors.New(dberrors.Corruption, "tailer.apply", nil)
	}
}
