package deploy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httprunner/apkdeploy/pkg/deltafy"
)

func TestSyncAssetsOverridesAndRestores(t *testing.T) {
	res := t.TempDir()
	assets := t.TempDir()
	writeFile(t, filepath.Join(res, "app.js"), "shared")
	writeFile(t, filepath.Join(res, "android", "app.js"), "android")
	writeFile(t, filepath.Join(res, "style.css"), "css")
	writeFile(t, filepath.Join(res, "iphone", "icon.png"), "ios")

	deltas := []deltafy.Delta{
		{Path: "app.js", AbsPath: filepath.Join(res, "app.js"), Status: deltafy.Created},
		{Path: "android/app.js", AbsPath: filepath.Join(res, "android", "app.js"), Status: deltafy.Created},
		{Path: "style.css", AbsPath: filepath.Join(res, "style.css"), Status: deltafy.Created},
		{Path: "iphone/icon.png", AbsPath: filepath.Join(res, "iphone", "icon.png"), Status: deltafy.Created},
		{Path: "../tiapp.xml", Status: deltafy.Created},
	}
	synced, err := SyncAssets(res, assets, deltas)
	require.NoError(t, err)
	assert.Equal(t, []SyncedFile{
		{Local: filepath.Join(res, "android", "app.js"), Rel: "app.js"},
		{Local: filepath.Join(res, "style.css"), Rel: "style.css"},
	}, synced)

	data, err := os.ReadFile(filepath.Join(assets, "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "android", string(data))
	assert.NoFileExists(t, filepath.Join(assets, "iphone", "icon.png"))

	// removing the override restores the shared file
	require.NoError(t, os.Remove(filepath.Join(res, "android", "app.js")))
	synced, err = SyncAssets(res, assets, []deltafy.Delta{{Path: "android/app.js", Status: deltafy.Deleted}})
	require.NoError(t, err)
	require.Len(t, synced, 1)
	data, err = os.ReadFile(filepath.Join(assets, "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "shared", string(data))

	// deleting a shared file removes its asset copy
	require.NoError(t, os.Remove(filepath.Join(res, "style.css")))
	_, err = SyncAssets(res, assets, []deltafy.Delta{{Path: "style.css", Status: deltafy.Deleted}})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(assets, "style.css"))
}
