package manifest

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultIcon is the icon file looked up when the descriptor names none.
const DefaultIcon = "appicon.png"

// ThemeXML declares Theme.Titanium, which the manifest template references.
const ThemeXML = `<?xml version="1.0" encoding="utf-8"?>
<resources>
<style name="Theme.Titanium" parent="android:Theme">
    <item name="android:windowBackground">@drawable/background</item>
</style>
</resources>
`

// ResourceFiles locate the inputs of the generated Android resources.
type ResourceFiles struct {
	// ResDir is the res directory of the generated project.
	ResDir string
	// AssetsDir holds the synced application resources.
	AssetsDir string
	// SupportDir holds default.png, the fallback icon and splash image.
	SupportDir string
	// Icon is the icon path relative to AssetsDir.
	Icon string
}

// WriteResources writes the drawables and theme the manifest refers to:
// res/drawable/appicon<ext>, res/drawable/background.png and
// res/values/theme.xml. An existing theme.xml is left alone so projects can
// customise it.
func WriteResources(files ResourceFiles) error {
	drawable := filepath.Join(files.ResDir, "drawable")
	values := filepath.Join(files.ResDir, "values")
	for _, dir := range []string{drawable, values} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	fallback := filepath.Join(files.SupportDir, "default.png")

	icon := files.Icon
	if icon == "" {
		icon = DefaultIcon
	}
	iconDst := filepath.Join(drawable, "appicon"+filepath.Ext(icon))
	if err := os.Remove(iconDst); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove stale app icon")
	}
	if err := copyPreferred(filepath.Join(files.AssetsDir, icon), fallback, iconDst); err != nil {
		return errors.Wrap(err, "write app icon")
	}

	theme := filepath.Join(values, "theme.xml")
	if _, err := os.Stat(theme); os.IsNotExist(err) {
		if err := os.WriteFile(theme, []byte(ThemeXML), 0o644); err != nil {
			return errors.Wrap(err, "write theme.xml")
		}
	}

	background := filepath.Join(drawable, "background.png")
	if err := copyPreferred(filepath.Join(files.AssetsDir, "default.png"), fallback, background); err != nil {
		return errors.Wrap(err, "write splash background")
	}
	return nil
}

// copyPreferred copies src to dst, or fallback when src does not exist.
func copyPreferred(src, fallback, dst string) error {
	if _, err := os.Stat(src); err != nil {
		if !os.IsNotExist(err) {
			return errors.Wrapf(err, "stat %s", src)
		}
		log.Debug().Str("missing", src).Str("fallback", fallback).Msg("using default image")
		src = fallback
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
