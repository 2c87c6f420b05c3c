// Package logstream is the façade over the ordered, append-only log
// service (Kinesis-compatible) that carries WAL records. Only the tailer
// and the virtual environment's log-classified writes use it.
package logstream

import "context"

// MaxRecordBytes bounds a single record per spec.md §4.3.
const MaxRecordBytes = 1 << 20 // 1 MiB

// MaxBatchRecords and MaxBatchBytes name spec.md §5's per-flush resource
// caps. Nothing in this module enforces them; cloudenv's log writer
// splits its flushes by MaxRecordBytes only.
const (
	MaxBatchRecords = 100
	MaxBatchBytes   = 1 << 20
)

// Op enumerates the WAL record operations the log stream carries.
type Op int

const (
	OpAppend Op = iota
	OpDelete
	OpClose
)

func (o Op) String() string {
	switch o {
	case OpAppend:
		return "Append"
	case OpDelete:
		return "Delete"
	case OpClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// Record is a single WAL record as carried on the stream: operation,
// logical path, payload, and the epoch of the writer that produced it.
type Record struct {
	Op      Op
	Path    string
	Payload []byte
	Epoch   string
}

// Seqno identifies a record's position within a shard. Kinesis sequence
// numbers are opaque, monotonically-comparable decimal strings (up to
// 128 bits) rather than a plain integer, so Seqno is a string alias;
// callers only ever compare and persist it, never arithmetic on it.
type Seqno string

// SeqnoLatest is the sentinel meaning "start tailing from the current
// tail", used when no checkpoint has been persisted yet (spec.md §4.7:
// "if absent, starts from the latest-seqno to avoid replaying arbitrarily
// old WAL").
const SeqnoLatest Seqno = ""

// Shard identifies one shard of a stream. lsmcloud only ever uses shard 0
// (spec.md §6: "one shard"), but the type keeps room for the real
// service's sharding model.
type Shard string

// Cursor is a (shard, seqno) resume point, persisted by the tailer as its
// checkpoint.
type Cursor struct {
	Shard Shard
	Seqno Seqno
}

// Client is the stream client adapter's capability set.
type Client interface {
	// CreateStream is idempotent; blocks until the stream is ACTIVE.
	CreateStream(ctx context.Context, name string, shards int) error

	// Append is the only writer path; returns the assigned cursor.
	// rec.Payload must be <= MaxRecordBytes.
	Append(ctx context.Context, name string, rec Record) (Cursor, error)

	// Read returns a pull iterator over records from shard starting at
	// fromSeqno (exclusive: fromSeqno is the last record already
	// processed), finite at the current tail. next returns (record,
	// cursor, true, nil) per call, where cursor is that record's own
	// position (for checkpointing), or (_, _, false, nil) once exhausted,
	// or (_, _, false, err) on failure.
	Read(ctx context.Context, name string, shard Shard, fromSeqno Seqno) (next func() (Record, Cursor, bool, error), err error)

	// GetLatestSeqno returns the current tail position of shard, used by
	// the tailer to start from "latest" when no checkpoint exists.
	GetLatestSeqno(ctx context.Context, name string, shard Shard) (Seqno, error)
}
