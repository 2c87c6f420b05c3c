// Package localenv is the passthrough environment for "Other"-classified
// paths and for the local cache directory: a thin wrapper over os/io,
// grounded on the teacher's own WAL/SSTable file handling
// (os.OpenFile with restrictive perms, os.MkdirAll, bufio).
package localenv

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"time"

	"lsmcloud/pkg/dberrors"
)

// Env wraps the host filesystem rooted at Root.
type Env struct {
	Root string
}

// New returns an Env rooted at root, creating root if it does not exist.
func New(root string) (*Env, error) {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, dberrors.New(dberrors.Internal, "localenv.New", err)
	}
	return &Env{Root: root}, nil
}

func (e *Env) path(name string) string {
	return filepath.Join(e.Root, filepath.Clean("/"+name))
}

// NewWritableFile opens name for buffered writing, creating parent
// directories as needed. Truncates any existing content, matching the
// engine's expectation that a fresh data/log file starts empty.
func (e *Env) NewWritableFile(name string) (*WritableFile, error) {
	full := e.path(name)
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return nil, dberrors.New(dberrors.Internal, "localenv.NewWritableFile", err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, dberrors.New(dberrors.Internal, "localenv.NewWritableFile", err)
	}
	return &WritableFile{file: f, writer: bufio.NewWriter(f)}, nil
}

// OpenAppend opens name for append, creating it if missing. Used by the
// tailer to materialize Append WAL records into cache files.
func (e *Env) OpenAppend(name string) (*WritableFile, error) {
	full := e.path(name)
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return nil, dberrors.New(dberrors.Internal, "localenv.OpenAppend", err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, dberrors.New(dberrors.Internal, "localenv.OpenAppend", err)
	}
	return &WritableFile{file: f, writer: bufio.NewWriter(f)}, nil
}

// ReadFile reads the full contents of name.
func (e *Env) ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(e.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dberrors.New(dberrors.NotFound, "localenv.ReadFile", err)
		}
		return nil, dberrors.New(dberrors.Internal, "localenv.ReadFile", err)
	}
	return data, nil
}

// ReadRange opens name and reads [offset, offset+length) without loading
// the whole file; length<=0 means "to EOF".
func (e *Env) ReadRange(name string, offset, length int64) ([]byte, error) {
	f, err := os.Open(e.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dberrors.New(dberrors.NotFound, "localenv.ReadRange", err)
		}
		return nil, dberrors.New(dberrors.Internal, "localenv.ReadRange", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, dberrors.New(dberrors.Internal, "localenv.ReadRange", err)
	}
	if length <= 0 {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, dberrors.New(dberrors.Internal, "localenv.ReadRange", err)
		}
		return data, nil
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, dberrors.New(dberrors.Internal, "localenv.ReadRange", err)
	}
	return buf[:n], nil
}

// Exists reports whether name is present locally.
func (e *Env) Exists(name string) bool {
	_, err := os.Stat(e.path(name))
	return err == nil
}

// Size returns the size of name.
func (e *Env) Size(name string) (int64, error) {
	info, err := os.Stat(e.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, dberrors.New(dberrors.NotFound, "localenv.Size", err)
		}
		return 0, dberrors.New(dberrors.Internal, "localenv.Size", err)
	}
	return info.Size(), nil
}

// ModTime returns the modification time of name.
func (e *Env) ModTime(name string) (time.Time, error) {
	info, err := os.Stat(e.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, dberrors.New(dberrors.NotFound, "localenv.ModTime", err)
		}
		return time.Time{}, dberrors.New(dberrors.Internal, "localenv.ModTime", err)
	}
	return info.ModTime(), nil
}

// Delete removes name. Idempotent: a missing file is not an error.
func (e *Env) Delete(name string) error {
	if err := os.Remove(e.path(name)); err != nil && !os.IsNotExist(err) {
		return dberrors.New(dberrors.Internal, "localenv.Delete", err)
	}
	return nil
}

// Rename renames oldName to newName, both local-only. Callers are
// responsible for rejecting this for data/log-classified names before
// calling Rename (spec.md: rename of data/log files is NotSupported, not
// emulated).
func (e *Env) Rename(oldName, newName string) error {
	if err := os.MkdirAll(filepath.Dir(e.path(newName)), 0o750); err != nil {
		return dberrors.New(dberrors.Internal, "localenv.Rename", err)
	}
	if err := os.Rename(e.path(oldName), e.path(newName)); err != nil {
		return dberrors.New(dberrors.Internal, "localenv.Rename", err)
	}
	return nil
}

// ListChildren lists the entries directly under dir (non-recursive).
func (e *Env) ListChildren(dir string) ([]string, error) {
	entries, err := os.ReadDir(e.path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, dberrors.New(dberrors.Internal, "localenv.ListChildren", err)
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		names = append(names, ent.Name())
	}
	return names, nil
}

// Mkdir creates dir and any missing parents.
func (e *Env) Mkdir(dir string) error {
	if err := os.MkdirAll(e.path(dir), 0o750); err != nil {
		return dberrors.New(dberrors.Internal, "localenv.Mkdir", err)
	}
	return nil
}

// WritableFile is a buffered local file handle.
type WritableFile struct {
	file   *os.File
	writer *bufio.Writer
}

func (w *WritableFile) Write(p []byte) (int, error) {
	return w.writer.Write(p)
}

func (w *WritableFile) Sync() error {
	if err := w.writer.Flush(); err != nil {
		return dberrors.New(dberrors.Internal, "localenv.WritableFile.Sync", err)
	}
	return w.file.Sync()
}

func (w *WritableFile) Close() error {
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return dberrors.New(dberrors.Internal, "localenv.WritableFile.Close", err)
	}
	return w.file.Close()
}
