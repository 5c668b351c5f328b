package deltafy

import (
	"path/filepath"
	"strings"
)

var (
	ignoredFiles = map[string]struct{}{".gitignore": {}, ".cvsignore": {}, ".DS_Store": {}}
	ignoredDirs  = map[string]struct{}{".git": {}, ".svn": {}, "_svn": {}, "CVS": {}}
)

// DefaultInclude skips version control metadata and OS droppings.
func DefaultInclude(path string, isFile bool) bool {
	base := filepath.Base(path)
	if isFile {
		_, skip := ignoredFiles[base]
		return !skip
	}
	_, skip := ignoredDirs[base]
	return !skip
}

// ExtensionInclude admits directories and files ending in one of exts.
func ExtensionInclude(exts ...string) IncludeFunc {
	return func(path string, isFile bool) bool {
		if !isFile {
			return DefaultInclude(path, false)
		}
		for _, ext := range exts {
			if strings.EqualFold(filepath.Ext(path), ext) {
				return true
			}
		}
		return false
	}
}
