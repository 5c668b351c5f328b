package deltafy

import (
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// HashFunc reports whether a relative path must be compared by content.
type HashFunc func(rel string) bool

// Diff walks root and compares every included file against prior. It returns
// the new snapshot and the non-unchanged deltas: walk order first, deletions
// last in lexical order. Entries of prior that live outside root are carried
// over untouched.
func Diff(root string, prior Snapshot, include IncludeFunc, hashed HashFunc) (Snapshot, []Delta, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, errors.Wrap(err, "resolve scan root")
	}
	current := make(Snapshot, len(prior))
	deltas := make([]Delta, 0)

	if _, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			return nil, nil, errors.Wrapf(err, "stat scan root %s", root)
		}
	} else {
		walkErr := filepath.WalkDir(root, func(abs string, d fs.DirEntry, err error) error {
			if err != nil {
				// vanished mid-walk: treated as absent
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if abs == root {
				return nil
			}
			isFile := !d.IsDir()
			if include != nil && !include(abs, isFile) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(root, abs)
			if err != nil {
				return err
			}
			key := Normalize(rel)
			fp, err := fingerprint(abs, hashed != nil && hashed(key))
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			current[key] = fp
			old, existed := prior[key]
			switch {
			case !existed:
				deltas = append(deltas, newDelta(key, abs, Created, fp))
			case !old.Same(fp):
				deltas = append(deltas, newDelta(key, abs, Modified, fp))
			}
			return nil
		})
		if walkErr != nil {
			return nil, nil, errors.Wrapf(walkErr, "walk %s", root)
		}
	}

	for _, key := range prior.Paths() {
		if _, ok := current[key]; ok {
			continue
		}
		if outsideRoot(key) {
			current[key] = prior[key]
			continue
		}
		deltas = append(deltas, Delta{
			Path:    key,
			AbsPath: filepath.Join(root, filepath.FromSlash(key)),
			Status:  Deleted,
		})
	}
	return current, deltas, nil
}

func newDelta(key, abs string, status Status, fp Fingerprint) Delta {
	f := fp
	return Delta{Path: key, AbsPath: abs, Status: status, Fingerprint: &f}
}

func fingerprint(abs string, withHash bool) (Fingerprint, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return Fingerprint{}, err
	}
	fp := Fingerprint{Size: info.Size(), ModTime: info.ModTime().UnixNano()}
	if withHash {
		sum, err := HashFile(abs)
		if err != nil {
			return Fingerprint{}, err
		}
		fp.Hash = sum
	}
	return fp, nil
}

// HashFile returns the hex blake2b-256 digest of a file.
func HashFile(abs string) (string, error) {
	f, err := os.Open(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex blake2b-256 digest of data.
func HashBytes(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
