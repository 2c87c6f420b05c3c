package cloudenv

import (
	"context"
	"fmt"
	"sort"

	"lsmcloud/internal/config"
	"lsmcloud/pkg/classify"
	"lsmcloud/pkg/dberrors"
	"lsmcloud/pkg/logstream"
	"lsmcloud/pkg/objstore"
	"lsmcloud/pkg/types"
)

// WritableFile is what NewWritableFile returns: a buffered, append-style
// sink whose Close commits the write per spec.md §4.4's dispatch table.
type WritableFile interface {
	Write(p []byte) (int, error)
	Sync() error
	Close() error
}

// FS is the capability set the engine calls. classify.Classify(path)
// picks the backend internally; there are no exported Data/Log/Other
// variants of these methods.
type FS interface {
	NewWritableFile(path string) (WritableFile, error)
	ReadRange(path string, offset, length int64) ([]byte, error)
	FileExists(path string) bool
	GetFileSize(path string) (int64, error)
	GetFileModTime(path string) (int64, error)
	DeleteFile(path string) error
	RenameFile(oldPath, newPath string) error
	ListChildren(dir string) ([]string, error)
	MMapAllowed(path string) bool
}

var _ FS = (*Env)(nil)

// NewWritableFile dispatches per spec.md §4.4's "new-writable-file" row.
func (e *Env) NewWritableFile(path string) (WritableFile, error) {
	switch classify.Classify(path) {
	case types.KindData:
		lf, err := e.local.NewWritableFile(path)
		if err != nil {
			return nil, err
		}
		return &dataWriter{e: e, path: path, local: lf}, nil
	case types.KindLog:
		if e.cfg.Mode() != config.ModeCloudFull {
			// No stream configured: the WAL segment stays local-only, the
			// tailer never runs to materialize it back.
			return e.local.NewWritableFile(path)
		}
		return &logWriter{e: e, path: path}, nil
	default:
		return e.local.NewWritableFile(path)
	}
}

// ReadRange dispatches per spec.md §4.4's "new-sequential / random-read" row.
func (e *Env) ReadRange(path string, offset, length int64) ([]byte, error) {
	switch classify.Classify(path) {
	case types.KindData:
		if e.local.Exists(path) {
			return e.local.ReadRange(path, offset, length)
		}
		ctx := context.Background()
		lastErr := error(dberrors.New(dberrors.NotFound, "cloudenv.ReadRange", fmt.Errorf("%s: no known epoch for this prefix", path)))
		for _, key := range e.coord.ReadCandidates(path) {
			cacheKey := fmt.Sprintf("%s#%d:%d", key, offset, length)
			if data, ok := e.cache.Get(cacheKey); ok {
				return data, nil
			}
			data, err := e.store.Get(ctx, e.coord.ReadPrefix(), key, offset, length)
			if err == nil {
				e.cache.Set(cacheKey, data)
				return data, nil
			}
			lastErr = err
			if !dberrors.Is(err, dberrors.NotFound) {
				return nil, err
			}
		}
		return nil, lastErr
	case types.KindLog:
		// Log reads come from the tailer-materialized local cache, and fail
		// with Internal once the tailer has gone unhealthy.
		if e.tailer != nil && !e.tailer.Healthy() {
			return nil, dberrors.New(dberrors.Internal, "cloudenv.ReadRange", e.tailer.LastError())
		}
		return e.local.ReadRange(path, offset, length)
	default:
		// Other files are local-only.
		return e.local.ReadRange(path, offset, length)
	}
}

// FileExists dispatches per spec.md §4.4's "file-exists" row.
func (e *Env) FileExists(path string) bool {
	switch classify.Classify(path) {
	case types.KindData:
		if e.local.Exists(path) {
			return true
		}
		ctx := context.Background()
		for _, key := range e.coord.ReadCandidates(path) {
			if objstore.Exists(ctx, e.store, e.coord.ReadPrefix(), key) {
				return true
			}
		}
		return false
	default:
		return e.local.Exists(path)
	}
}

// GetFileSize dispatches per spec.md §4.4's "get-size" row.
func (e *Env) GetFileSize(path string) (int64, error) {
	if classify.Classify(path) == types.KindData && !e.local.Exists(path) {
		info, err := e.headRemote(path)
		if err != nil {
			return 0, err
		}
		return info.Size, nil
	}
	return e.local.Size(path)
}

// GetFileModTime dispatches per spec.md §4.4's "get-mtime" row, returning
// a Unix-nanosecond timestamp (the engine's own mtime representation is
// out of scope).
func (e *Env) GetFileModTime(path string) (int64, error) {
	if classify.Classify(path) == types.KindData && !e.local.Exists(path) {
		info, err := e.headRemote(path)
		if err != nil {
			return 0, err
		}
		return info.ModTime.UnixNano(), nil
	}
	t, err := e.local.ModTime(path)
	if err != nil {
		return 0, err
	}
	return t.UnixNano(), nil
}

// headRemote tries each of path's candidate physical keys in turn,
// returning the first that resolves. See Coordinator.ReadCandidates.
func (e *Env) headRemote(path string) (objstore.ObjectInfo, error) {
	ctx := context.Background()
	lastErr := error(dberrors.New(dberrors.NotFound, "cloudenv.headRemote", fmt.Errorf("%s: no known epoch for this prefix", path)))
	for _, key := range e.coord.ReadCandidates(path) {
		info, err := e.store.Head(ctx, e.coord.ReadPrefix(), key)
		if err == nil {
			return info, nil
		}
		lastErr = err
		if !dberrors.Is(err, dberrors.NotFound) {
			return objstore.ObjectInfo{}, err
		}
	}
	return objstore.ObjectInfo{}, lastErr
}

// DeleteFile dispatches per spec.md §4.4's "delete-file" row.
func (e *Env) DeleteFile(path string) error {
	switch classify.Classify(path) {
	case types.KindData:
		if e.cfg.Mode() == config.ModeLocal {
			return e.local.Delete(path)
		}
		if e.deleter != nil {
			// A deleted data file may be one this session wrote (current
			// epoch) or one inherited live from a prior owner (loaded
			// epoch); enqueue every candidate key, since the object store's
			// Delete of a missing key succeeds.
			for _, key := range e.coord.ReadCandidates(path) {
				e.deleter.Enqueue(key)
			}
		}
		return e.local.Delete(path)
	case types.KindLog:
		if e.cfg.Mode() != config.ModeCloudFull {
			return e.local.Delete(path)
		}
		rec := logstream.Record{Op: logstream.OpDelete, Path: path, Epoch: string(e.coord.CurrentEpoch())}
		if _, err := e.logs.Append(context.Background(), e.cfg.Cloud.StreamName, rec); err != nil {
			return err
		}
		return e.local.Delete(path)
	default:
		return e.local.Delete(path)
	}
}

// RenameFile dispatches per spec.md §4.4's "rename-file" row: illegal for
// data and log files, local-only for everything else. Rejected before
// touching any path component, never attempted as copy+delete.
func (e *Env) RenameFile(oldPath, newPath string) error {
	if classify.Classify(oldPath) != types.KindOther {
		return dberrors.New(dberrors.NotSupported, "cloudenv.RenameFile", fmt.Errorf("rename of data/log file %q is not supported", oldPath))
	}
	return e.local.Rename(oldPath, newPath)
}

// ListChildren dispatches per spec.md §4.4's "list-children" row: the
// union of the source prefix's remote data files and local non-data
// entries, with local data-file entries suppressed so a stray local file
// can never masquerade as live.
func (e *Env) ListChildren(dir string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	if e.cfg.Mode() != config.ModeLocal {
		marker := ""
		for {
			infos, next, err := e.store.List(context.Background(), e.coord.ReadPrefix(), dir, marker, 0)
			if err != nil {
				return nil, err
			}
			for _, info := range infos {
				if classify.Classify(info.Key) != types.KindData {
					continue
				}
				logical := classify.StripEpoch(info.Key)
				if !seen[logical] {
					seen[logical] = true
					out = append(out, logical)
				}
			}
			if next == "" {
				break
			}
			marker = next
		}
	}

	localNames, err := e.local.ListChildren(dir)
	if err != nil {
		return nil, err
	}
	for _, name := range localNames {
		if classify.Classify(name) == types.KindData {
			continue
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	sort.Strings(out)
	return out, nil
}

// MMapAllowed reports whether path may be memory-mapped: only once a
// local copy exists, per spec.md §4.4's MMap policy.
func (e *Env) MMapAllowed(path string) bool {
	return e.local.Exists(path)
}
