package manifest

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/httprunner/apkdeploy/pkg/deltafy"
	"github.com/pkg/errors"
)

const (
	activitiesMarker  = "<!-- TI_ACTIVITIES -->"
	permissionsMarker = "<!-- TI_PERMISSIONS -->"
)

// DefaultTemplate is used when the project carries no custom manifest.
const DefaultTemplate = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android"
	package="{{APP_ID}}"
	android:versionCode="1"
	android:versionName="1.0">
	<uses-sdk android:minSdkVersion="4" />
	<application android:icon="@drawable/appicon" android:label="{{APP_NAME}}"
		android:name="{{CLASSNAME}}Application" android:debuggable="{{DEBUGGABLE}}"
		android:theme="@style/Theme.Titanium">
		<activity android:name=".{{CLASSNAME}}Activity"
			android:label="{{APP_NAME}}"
			android:configChanges="keyboardHidden|orientation">
			<intent-filter>
				<action android:name="android.intent.action.MAIN" />
				<category android:name="android.intent.category.LAUNCHER" />
			</intent-filter>
		</activity>
		<!-- TI_ACTIVITIES -->
	</application>
	<!-- TI_PERMISSIONS -->
</manifest>
`

var minSDKPattern = regexp.MustCompile(`<uses-sdk android:minSdkVersion="\d+" />`)

// Params fill the project specific parts of the template.
type Params struct {
	AppID      string
	AppName    string
	ClassName  string
	MinSDK     string
	Debuggable bool
}

// Render substitutes resolved permissions, components and project values into
// template.
func Render(template string, res Resolution, p Params) string {
	activities := make([]string, 0, len(res.Components))
	for _, c := range res.Components {
		activities = append(activities, c.XML)
	}
	var perms strings.Builder
	for _, perm := range res.Permissions {
		perms.WriteString(`<uses-permission android:name="android.permission.`)
		perms.WriteString(string(perm))
		perms.WriteString("\"/>\n\t")
	}
	debuggable := "false"
	if p.Debuggable {
		debuggable = "true"
	}
	out := strings.NewReplacer(
		activitiesMarker, strings.Join(activities, "\n\n\t\t"),
		permissionsMarker, perms.String(),
		"{{APP_ID}}", p.AppID,
		"{{APP_NAME}}", p.AppName,
		"{{CLASSNAME}}", p.ClassName,
		"{{DEBUGGABLE}}", debuggable,
	).Replace(template)
	if p.MinSDK != "" {
		out = minSDKPattern.ReplaceAllLiteralString(out, `<uses-sdk android:minSdkVersion="`+p.MinSDK+`" />`)
	}
	return out
}

// LoadTemplate returns AndroidManifest.custom.xml from buildDir when present,
// otherwise DefaultTemplate. custom reports which one was used.
func LoadTemplate(buildDir string) (template string, custom bool, err error) {
	path := filepath.Join(buildDir, "AndroidManifest.custom.xml")
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), true, nil
	}
	if os.IsNotExist(err) {
		return DefaultTemplate, false, nil
	}
	return "", false, errors.Wrapf(err, "read custom manifest %s", path)
}

// Changed reports whether content differs from the file at path by content
// hash. A missing file counts as changed.
func Changed(path, content string) (bool, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, errors.Wrapf(err, "read manifest %s", path)
	}
	return deltafy.HashBytes(existing) != deltafy.HashBytes([]byte(content)), nil
}

// Write replaces path with content through a temporary file and rename.
func Write(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create manifest dir for %s", path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return errors.Wrap(err, "create temp manifest")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp manifest")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp manifest")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "replace manifest %s", path)
	}
	return nil
}
