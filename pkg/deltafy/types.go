// Package deltafy detects created, modified and deleted files under a root by
// comparing a fresh walk against a persisted snapshot.
package deltafy

import (
	"path"
	"sort"
	"strings"
)

// Status classifies a single file between two snapshots.
type Status int

const (
	Unchanged Status = iota
	Created
	Modified
	Deleted
)

func (s Status) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Modified:
		return "MODIFIED"
	case Deleted:
		return "DELETED"
	default:
		return "UNCHANGED"
	}
}

// Fingerprint identifies one observed version of a file. Hash is only set for
// paths the caller asked to compare by content.
type Fingerprint struct {
	Size    int64
	ModTime int64
	Hash    string
}

// Same reports whether two fingerprints describe the same content. Content
// hashes decide when both sides carry one.
func (f Fingerprint) Same(other Fingerprint) bool {
	if f.Hash != "" && other.Hash != "" {
		return f.Hash == other.Hash
	}
	return f.Size == other.Size && f.ModTime == other.ModTime
}

// Snapshot maps a slash separated path relative to the scan root to its
// fingerprint. Treat a Snapshot as immutable once returned.
type Snapshot map[string]Fingerprint

// Paths returns the snapshot keys in lexical order.
func (s Snapshot) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Delta is one non-trivial change. Fingerprint is nil for deletions.
type Delta struct {
	Path        string
	AbsPath     string
	Status      Status
	Fingerprint *Fingerprint
}

// IncludeFunc decides whether a path takes part in a scan. It is the only
// extension point for ignore rules.
type IncludeFunc func(path string, isFile bool) bool

// Normalize canonicalizes a relative path to forward slashes without a
// leading "./" or separator.
func Normalize(rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = path.Clean(rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "." {
		return ""
	}
	return rel
}

// outsideRoot reports whether a snapshot key points above the scan root, as
// happens for control files recorded with ScanFile.
func outsideRoot(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, "../")
}
