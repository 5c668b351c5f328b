package deploy

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/apkdeploy/pkg/deltafy"
)

const androidDir = "android/"

// resource trees of other platforms, never packaged
var foreignPlatforms = []string{"iphone/", "blackberry/"}

// SyncedFile is a resource copied into the assets tree.
type SyncedFile struct {
	// Local is the source file under Resources.
	Local string
	// Rel is the destination relative to the assets Resources dir, slash
	// separated.
	Rel string
}

// SyncAssets mirrors resource deltas into assetsDir. Files under android/
// override shared files of the same name; deleting an override restores the
// shared file. Deleted shared files are removed from the assets unless an
// override still provides them.
func SyncAssets(resourcesDir, assetsDir string, deltas []deltafy.Delta) ([]SyncedFile, error) {
	var synced []SyncedFile
	for _, d := range deltas {
		rel := d.Path
		if strings.HasPrefix(rel, "../") || foreign(rel) {
			continue
		}
		override := strings.HasPrefix(rel, androidDir)

		if d.Status == deltafy.Deleted {
			if override {
				shared := strings.TrimPrefix(rel, androidDir)
				src := filepath.Join(resourcesDir, filepath.FromSlash(shared))
				if fileExists(src) {
					log.Trace().Str("file", shared).Msg("platform override removed, restoring shared file")
					if err := copyFile(src, filepath.Join(assetsDir, filepath.FromSlash(shared))); err != nil {
						return synced, err
					}
					synced = append(synced, SyncedFile{Local: src, Rel: shared})
				}
				continue
			}
			if fileExists(filepath.Join(resourcesDir, "android", filepath.FromSlash(rel))) {
				continue
			}
			if err := os.Remove(filepath.Join(assetsDir, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
				return synced, errors.Wrapf(err, "remove asset %s", rel)
			}
			continue
		}

		dest := rel
		if override {
			dest = strings.TrimPrefix(rel, androidDir)
		} else if fileExists(filepath.Join(resourcesDir, "android", filepath.FromSlash(rel))) {
			continue
		}
		src := d.AbsPath
		if src == "" {
			src = filepath.Join(resourcesDir, filepath.FromSlash(rel))
		}
		log.Trace().Str("status", d.Status.String()).Str("file", rel).Str("dest", dest).Msg("copying resource")
		if err := copyFile(src, filepath.Join(assetsDir, filepath.FromSlash(dest))); err != nil {
			return synced, err
		}
		synced = append(synced, SyncedFile{Local: src, Rel: dest})
	}
	return synced, nil
}

func foreign(rel string) bool {
	for _, p := range foreignPlatforms {
		if strings.HasPrefix(rel, p) {
			return true
		}
	}
	return false
}

// sdcardPath joins a synced file onto the device resources dir.
func sdcardPath(base, rel string) string {
	return path.Join(base, rel)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func dirExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "create dir for %s", dst)
	}
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copy %s", src)
	}
	return errors.Wrapf(out.Close(), "close %s", dst)
}
