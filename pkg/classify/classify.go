// Package classify implements the pure, deterministic mapping from a
// filesystem path to one of the three classes the virtual environment
// dispatches on: data file, log file, or other.
package classify

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"lsmcloud/pkg/types"
)

// dataFile matches "<numeric-id>.sst", the engine's SST naming.
var dataFile = regexp.MustCompile(`^(\d+)\.sst$`)

// logFile matches "<numeric-id>.log", the engine's WAL segment naming.
var logFile = regexp.MustCompile(`^(\d+)\.log$`)

// epochPrefix matches a leading "<epoch>." stamped onto a data/log file
// name by cloud-manifest remapping, e.g. "172839...123.42.sst".
var epochPrefix = regexp.MustCompile(`^([0-9]+-[0-9a-fA-F]+|[0-9]+)\.(.+)$`)

// Classify maps a path to its storage class. Only the base name is
// inspected; directory components never change the outcome.
func Classify(path string) types.FileKind {
	name := filepath.Base(path)

	if dataFile.MatchString(name) {
		return types.KindData
	}
	if logFile.MatchString(name) {
		return types.KindLog
	}

	// A data/log file may already carry an epoch prefix (post-remap);
	// classify on what remains after stripping it.
	if rest := StripEpoch(name); rest != name {
		if dataFile.MatchString(rest) {
			return types.KindData
		}
		if logFile.MatchString(rest) {
			return types.KindLog
		}
	}

	return types.KindOther
}

// StripEpoch removes a leading "<epoch>." prefix from name, if present and
// well-formed, returning name unchanged otherwise. Used by cloud-manifest
// remapping to recover the engine's original, epoch-agnostic file name.
func StripEpoch(name string) string {
	m := epochPrefix.FindStringSubmatch(name)
	if m == nil {
		return name
	}
	// Only strip if what remains parses as a recognizable data/log name;
	// otherwise this was never an epoch-prefixed name (e.g. "MANIFEST-7").
	rest := m[2]
	if dataFile.MatchString(rest) || logFile.MatchString(rest) {
		return rest
	}
	return name
}

// EpochPrefix splits an epoch-prefixed name into (epoch, rest, ok). ok is
// false if name carries no recognizable epoch prefix.
func EpochPrefix(name string) (epoch, rest string, ok bool) {
	m := epochPrefix.FindStringSubmatch(name)
	if m == nil {
		return "", name, false
	}
	if !dataFile.MatchString(m[2]) && !logFile.MatchString(m[2]) {
		return "", name, false
	}
	return m[1], m[2], true
}

// WithEpoch prepends epoch to name, producing the remapped on-disk object
// key used for data and log files once a cloud-manifest has been loaded.
func WithEpoch(epoch types.Epoch, name string) string {
	return string(epoch) + "." + name
}

// SequenceOf extracts the numeric sequence id from a data or log file
// name (after any epoch prefix has been stripped). Returns false if name
// is not a recognized data/log name.
func SequenceOf(name string) (uint64, bool) {
	name = StripEpoch(name)
	var m []string
	if m = dataFile.FindStringSubmatch(name); m == nil {
		if m = logFile.FindStringSubmatch(name); m == nil {
			return 0, false
		}
	}
	seq, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// IsWellKnownOther reports whether name is one of the fixed, single-copy
// "other" objects lsmcloud itself manages (the cloud-manifest pointer,
// dbid records, tailer checkpoints) as opposed to engine-owned other
// files (MANIFEST, IDENTITY, CURRENT, LOCK).
func IsWellKnownOther(name string) bool {
	if name == "CLOUDMANIFEST" {
		return true
	}
	if strings.HasPrefix(name, "dbids/") {
		return true
	}
	if strings.HasPrefix(name, "tailer-checkpoint/") {
		return true
	}
	return false
}
