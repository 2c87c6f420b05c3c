// Package logstreamtest provides a deterministic, in-memory fake of
// logstream.Client, mirroring pkg/objstore/objstoretest's fake.
package logstreamtest

import (
	"context"
	"strconv"
	"sync"

	"lsmcloud/pkg/dberrors"
	"lsmcloud/pkg/logstream"
)

type entry struct {
	seqno logstream.Seqno
	rec   logstream.Record
}

// Fake is a single-shard, in-memory logstream.Client.
type Fake struct {
	mu      sync.Mutex
	streams map[string][]entry
	next    uint64
}

func New() *Fake {
	return &Fake{streams: make(map[string][]entry)}
}

const shard0 = logstream.Shard("shard-0")

func (f *Fake) CreateStream(_ context.Context, name string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.streams[name]; !ok {
		f.streams[name] = nil
	}
	return nil
}

func (f *Fake) Append(_ context.Context, name string, rec logstream.Record) (logstream.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(rec.Payload) > logstream.MaxRecordBytes {
		return logstream.Cursor{}, dberrors.New(dberrors.Permanent, "logstreamtest.Append", nil)
	}
	f.next++
	seq := logstream.Seqno(strconv.FormatUint(f.next, 10))
	f.streams[name] = append(f.streams[name], entry{seqno: seq, rec: rec})
	return logstream.Cursor{Shard: shard0, Seqno: seq}, nil
}

func (f *Fake) Read(_ context.Context, name string, _ logstream.Shard, fromSeqno logstream.Seqno) (func() (logstream.Record, logstream.Cursor, bool, error), error) {
	f.mu.Lock()
	entries := append([]entry(nil), f.streams[name]...)
	f.mu.Unlock()

	idx := 0
	if fromSeqno != logstream.SeqnoLatest {
		from, err := strconv.ParseUint(string(fromSeqno), 10, 64)
		if err != nil {
			return nil, dberrors.New(dberrors.Corruption, "logstreamtest.Read", err)
		}
		idx = len(entries)
		for i, e := range entries {
			seq, _ := strconv.ParseUint(string(e.seqno), 10, 64)
			if seq > from {
				idx = i
				break
			}
		}
	} else {
		idx = len(entries)
	}

	pos := idx
	return func() (logstream.Record, logstream.Cursor, bool, error) {
		if pos >= len(entries) {
			return logstream.Record{}, logstream.Cursor{}, false, nil
		}
		e := entries[pos]
		pos++
		return e.rec, logstream.Cursor{Shard: shard0, Seqno: e.seqno}, true, nil
	}, nil
}

func (f *Fake) GetLatestSeqno(_ context.Context, name string, _ logstream.Shard) (logstream.Seqno, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.streams[name]
	if len(entries) == 0 {
		return logstream.SeqnoLatest, nil
	}
	return entries[len(entries)-1].seqno, nil
}

var _ logstream.Client = (*Fake)(nil)
