package manifest

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/httprunner/apkdeploy/pkg/deltafy"
	"github.com/pkg/errors"
)

var apiCallPattern = regexp.MustCompile(`\b(?:Titanium|Ti)\.(\w+)\.(\w+)\s*\(`)

// ScanUsage finds capability calls such as Titanium.Map.createView( in the
// JavaScript files under root. The result is normalized.
func ScanUsage(root string, include deltafy.IncludeFunc) ([]Capability, error) {
	var found []Capability
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path == root {
			return nil
		}
		if include != nil && !include(path, !d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".js") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		found = append(found, ParseUsage(string(data))...)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan capability usage under %s", root)
	}
	return Normalize(found), nil
}

// ParseUsage extracts capabilities referenced in one source text.
func ParseUsage(src string) []Capability {
	var out []Capability
	for _, m := range apiCallPattern.FindAllStringSubmatch(src, -1) {
		if c, ok := ParseCapability(m[1] + "." + m[2]); ok {
			out = append(out, c)
		}
	}
	return out
}
