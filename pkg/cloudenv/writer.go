package cloudenv

import (
	"context"
	"sync"

	"lsmcloud/internal/config"
	"lsmcloud/pkg/localenv"
	"lsmcloud/pkg/logstream"
	"lsmcloud/pkg/objstore"
	"lsmcloud/pkg/retry"
)

// dataWriter buffers a data file locally; Close uploads the finished file
// to the destination prefix under its remapped key, per spec.md §4.4's
// "on close upload to DESTINATION prefix".
type dataWriter struct {
	e     *Env
	path  string
	local *localenv.WritableFile
}

func (w *dataWriter) Write(p []byte) (int, error) { return w.local.Write(p) }
func (w *dataWriter) Sync() error                 { return w.local.Sync() }

func (w *dataWriter) Close() error {
	if err := w.local.Close(); err != nil {
		return err
	}
	if w.e.cfg.Mode() == config.ModeLocal {
		// No destination configured: the write stays local-only and never
		// propagates, per spec.md §6's "dst_bucket empty ⇒ writes are
		// local only".
		return nil
	}

	data, err := w.e.local.ReadFile(w.path)
	if err != nil {
		return err
	}

	key := w.e.coord.Remap(w.path)
	opts := objstore.Opts{
		ServerSideEncryption: w.e.cfg.Cloud.ServerSideEncryption,
		EncryptionKeyID:      w.e.cfg.Cloud.EncryptionKeyID,
	}
	ctx := context.Background()
	if err := retry.Do(ctx, retry.DefaultBudget, retry.Transient, func() error {
		return w.e.store.Put(ctx, w.e.coord.Dst(), key, data, opts)
	}); err != nil {
		return err
	}

	w.e.metrics.IncCounter("cloudenv_data_bytes_uploaded_total", nil, float64(len(data)))

	if w.e.deleter != nil {
		w.e.deleter.Cancel(key)
	}
	if !w.e.cfg.Cloud.KeepLocalSST {
		return w.e.local.Delete(w.path)
	}
	return nil
}

// logWriter is an append-only stream writer: records are batched until a
// byte threshold, Sync, or Close flushes them as Append records whose
// payloads are at most logstream.MaxRecordBytes each, per spec.md §4.4's
// "records batched per flush".
type logWriter struct {
	e    *Env
	path string

	mu  sync.Mutex
	buf []byte
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if len(w.buf) >= logstream.MaxRecordBytes {
		if err := w.flushLocked(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *logWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *logWriter) Close() error {
	w.mu.Lock()
	err := w.flushLocked()
	w.mu.Unlock()
	if err != nil {
		return err
	}
	rec := logstream.Record{Op: logstream.OpClose, Path: w.path, Epoch: string(w.e.coord.CurrentEpoch())}
	_, err = w.e.logs.Append(context.Background(), w.e.cfg.Cloud.StreamName, rec)
	return err
}

func (w *logWriter) flushLocked() error {
	buf := w.buf
	w.buf = nil
	for len(buf) > 0 {
		n := len(buf)
		if n > logstream.MaxRecordBytes {
			n = logstream.MaxRecordBytes
		}
		rec := logstream.Record{Op: logstream.OpAppend, Path: w.path, Payload: buf[:n], Epoch: string(w.e.coord.CurrentEpoch())}
		if _, err := w.e.logs.Append(context.Background(), w.e.cfg.Cloud.StreamName, rec); err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
