// Package types holds the small value types shared across lsmcloud's
// packages: prefixes, epochs, and file classification.
package types

import "fmt"

// FileKind is the classifier's output: which storage path a given
// filesystem path is routed through.
type FileKind int

const (
	KindOther FileKind = iota
	KindData
	KindLog
)

func (k FileKind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindLog:
		return "log"
	default:
		return "other"
	}
}

// Prefix is a (bucket, object-path-prefix) pair naming a logical database
// location in the object store.
type Prefix struct {
	Bucket string
	Path   string
}

func (p Prefix) String() string {
	return fmt.Sprintf("%s/%s", p.Bucket, p.Path)
}

// IsEmpty reports whether this is the zero prefix, used to mean "no
// destination" (writes stay local-only) or "no source" (fresh database).
func (p Prefix) IsEmpty() bool {
	return p.Bucket == "" && p.Path == ""
}

// Key joins the prefix path with a relative object key.
func (p Prefix) Key(name string) string {
	if p.Path == "" {
		return name
	}
	return p.Path + "/" + name
}

// Epoch is a monotonic identifier minted per open-as-writer, embedded in
// engine-manifest and data-file names to isolate concurrent writers.
type Epoch string

// EpochStrategy selects how Epoch values are minted.
type EpochStrategy int

const (
	// NanosWithRandom mints epochs from wall-clock nanoseconds tie-broken
	// by a random suffix. Default.
	NanosWithRandom EpochStrategy = iota
	// MonotonicCounter mints epochs from a process-local atomic counter.
	MonotonicCounter
)

func (s EpochStrategy) String() string {
	if s == MonotonicCounter {
		return "MonotonicCounter"
	}
	return "NanosWithRandom"
}
