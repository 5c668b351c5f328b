package deltafy

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Store persists one snapshot per scope. Replace must be atomic: a reader
// observes either the previous or the new snapshot, never a mix.
type Store interface {
	Load(ctx context.Context, scope string) (Snapshot, error)
	Replace(ctx context.Context, scope string, snap Snapshot) error
	Clear(ctx context.Context, scope string) error
}

// Scanner ties a root directory to its persisted snapshot.
type Scanner struct {
	root    string
	store   Store
	include IncludeFunc
	hashed  HashFunc
}

// Option customises a Scanner.
type Option func(*Scanner)

// WithInclude installs the ignore predicate.
func WithInclude(fn IncludeFunc) Option {
	return func(s *Scanner) { s.include = fn }
}

// WithContentHash compares the selected paths by blake2b digest instead of
// size and modification time.
func WithContentHash(fn HashFunc) Option {
	return func(s *Scanner) { s.hashed = fn }
}

// NewScanner builds a scanner for root backed by store.
func NewScanner(root string, store Store, opts ...Option) (*Scanner, error) {
	if store == nil {
		return nil, errors.New("deltafy: store is nil")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "deltafy: resolve root")
	}
	s := &Scanner{root: abs, store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute scan root, which doubles as the store scope.
func (s *Scanner) Root() string {
	return s.root
}

// Scan walks the tree, persists the new snapshot and returns the changes
// since the previous scan.
func (s *Scanner) Scan(ctx context.Context) ([]Delta, error) {
	prior := s.loadPrior(ctx)
	next, deltas, err := Diff(s.root, prior, s.include, s.hashed)
	if err != nil {
		return nil, err
	}
	if err := s.store.Replace(ctx, s.root, next); err != nil {
		return nil, errors.Wrapf(err, "deltafy: persist snapshot for %s", s.root)
	}
	log.Debug().
		Str("root", s.root).
		Int("files", len(next)).
		Int("deltas", len(deltas)).
		Msg("deltafy scan finished")
	return deltas, nil
}

// ScanFile checks a single control file without walking the tree. The file is
// recorded in the same snapshot so later scans do not report it again. A nil
// delta means unchanged.
func (s *Scanner) ScanFile(ctx context.Context, path string) (*Delta, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "deltafy: resolve file")
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return nil, errors.Wrapf(err, "deltafy: relate %s to %s", abs, s.root)
	}
	key := Normalize(rel)
	prior := s.loadPrior(ctx)
	next := prior.Clone()

	var delta *Delta
	old, existed := prior[key]
	fp, statErr := fingerprint(abs, s.hashed != nil && s.hashed(key))
	switch {
	case statErr != nil && !os.IsNotExist(statErr):
		return nil, errors.Wrapf(statErr, "deltafy: fingerprint %s", abs)
	case statErr != nil:
		if !existed {
			return nil, nil
		}
		delete(next, key)
		delta = &Delta{Path: key, AbsPath: abs, Status: Deleted}
	case !existed:
		next[key] = fp
		d := newDelta(key, abs, Created, fp)
		delta = &d
	case !old.Same(fp):
		next[key] = fp
		d := newDelta(key, abs, Modified, fp)
		delta = &d
	default:
		return nil, nil
	}
	if err := s.store.Replace(ctx, s.root, next); err != nil {
		return nil, errors.Wrapf(err, "deltafy: persist snapshot for %s", s.root)
	}
	return delta, nil
}

// Clear drops the persisted snapshot; the next Scan reports every included
// file as created.
func (s *Scanner) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx, s.root); err != nil {
		return errors.Wrapf(err, "deltafy: clear snapshot for %s", s.root)
	}
	log.Debug().Str("root", s.root).Msg("deltafy state cleared")
	return nil
}

// loadPrior never fails: an unreadable snapshot degrades to an empty one so
// every file is reported as created.
func (s *Scanner) loadPrior(ctx context.Context) Snapshot {
	prior, err := s.store.Load(ctx, s.root)
	if err != nil {
		log.Warn().Err(err).Str("root", s.root).Msg("deltafy snapshot unreadable, forcing full rescan")
		return Snapshot{}
	}
	if prior == nil {
		return Snapshot{}
	}
	return prior
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	snaps map[string]Snapshot
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

func (m *MemoryStore) Load(ctx context.Context, scope string) (Snapshot, error) {
	return m.snaps[scope].Clone(), nil
}

func (m *MemoryStore) Replace(ctx context.Context, scope string, snap Snapshot) error {
	m.snaps[scope] = snap.Clone()
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context, scope string) error {
	delete(m.snaps, scope)
	return nil
}
