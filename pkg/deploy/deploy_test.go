package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httprunner/apkdeploy/internal/device"
	"github.com/httprunner/apkdeploy/internal/toolchain"
	"github.com/httprunner/apkdeploy/pkg/deltafy"
	"github.com/httprunner/apkdeploy/pkg/planner"
)

func deltaPaths(deltas []deltafy.Delta) map[string]deltafy.Status {
	out := make(map[string]deltafy.Status, len(deltas))
	for _, d := range deltas {
		out[d.Path] = d.Status
	}
	return out
}

func TestRunIncrementalScenario(t *testing.T) {
	h := newHarness(t, Development)
	ctx := context.Background()

	// first run: nothing on record, nothing on the device
	res, err := h.deployer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]deltafy.Status{
		"app.js":          deltafy.Created,
		"lib.js":          deltafy.Created,
		"images/logo.png": deltafy.Created,
	}, deltaPaths(res.Deltas))
	for _, s := range planner.Stages() {
		assert.True(t, res.Stages.Dirty(s), s.String())
	}
	assert.Equal(t, PathRedeploy, res.Path)
	assert.Equal(t, Launched, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []string{"manifest", "compile", "dex", "package", "apkbuilder", "sign", "align"}, h.builder.calls)
	assert.FileExists(t, filepath.Join(h.dir, "build", "android", "AndroidManifest.xml"))
	assert.FileExists(t, filepath.Join(h.dir, "build", "android", "bin", "assets", "Resources", "images", "logo.png"))
	assert.Len(t, h.state.shellCalls("am"), 1)

	// second run: no filesystem change
	h.builder.reset()
	res, err = h.deployer.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Deltas)
	assert.False(t, res.Stages.Any())
	assert.Equal(t, PathRelaunch, res.Path)
	assert.Equal(t, Launched, res.Outcome)
	assert.Empty(t, res.Pushed)
	assert.Empty(t, h.builder.calls)

	// third run: one resource modified
	writeFile(t, filepath.Join(h.dir, "Resources", "lib.js"), "exports.x = 2; exports.y = 3;\n")
	res, err = h.deployer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]deltafy.Status{"lib.js": deltafy.Modified}, deltaPaths(res.Deltas))
	assert.False(t, res.Stages.Dirty(planner.StageManifest))
	assert.False(t, res.Stages.Dirty(planner.StageCompile))
	assert.False(t, res.Stages.Dirty(planner.StageDex))
	assert.Equal(t, PathRelaunch, res.Path)
	assert.Equal(t, []string{"/sdcard/Ti.debug/" + testAppID + "/Resources/lib.js"}, res.Pushed)
	assert.Empty(t, h.builder.calls)

	kills := h.state.shellCalls("kill")
	require.Len(t, kills, 2)
	assert.Equal(t, []string{"kill", "412"}, kills[0])

	require.Len(t, h.recorder.started, 3)
	assert.Equal(t, "relaunch", h.recorder.finished["run-3"].Path)
	assert.Equal(t, "launched", h.recorder.finished["run-3"].Outcome)
	assert.Equal(t, "redeploy", h.recorder.finished["run-1"].Path)
}

func TestRunDescriptorChangeForcesFullRebuild(t *testing.T) {
	h := newHarness(t, Development)
	ctx := context.Background()
	_, err := h.deployer.Run(ctx)
	require.NoError(t, err)

	writeFile(t, filepath.Join(h.dir, "tiapp.xml"), `<ti:app xmlns:ti="http://ti.appcelerator.org"><id>`+testAppID+`</id><name>Demo 2</name></ti:app>`)
	h.builder.reset()
	res, err := h.deployer.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Deltas, 3, "cleared state reports every file as created")
	for _, d := range res.Deltas {
		assert.Equal(t, deltafy.Created, d.Status)
	}
	assert.Equal(t, []string{"manifest", "compile", "dex", "package"}, res.Stages.DirtyStages())
	assert.Equal(t, PathRedeploy, res.Path)
}

func TestRunCapabilityChangeRegeneratesManifest(t *testing.T) {
	h := newHarness(t, Development)
	ctx := context.Background()
	_, err := h.deployer.Run(ctx)
	require.NoError(t, err)

	writeFile(t, filepath.Join(h.dir, "Resources", "app.js"), "var win = Ti.UI.createWindow();\nTi.Media.vibrate();\n")
	h.builder.reset()
	res, err := h.deployer.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Stages.Dirty(planner.StageManifest))
	assert.Equal(t, PathRedeploy, res.Path)

	data, err := os.ReadFile(filepath.Join(h.dir, "build", "android", "AndroidManifest.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "android.permission.VIBRATE")
}

func TestInstallRetryBound(t *testing.T) {
	h := newHarness(t, Development)
	h.state.installErr = func(int) error {
		return &toolchain.ReportedFailure{Tool: "adb install", Message: "INSTALL_FAILED_INSUFFICIENT_STORAGE"}
	}
	res, err := h.deployer.DeployAndRun(context.Background(), DeployRequest{Stages: planner.AllDirty("test")})
	require.Error(t, err)
	assert.Equal(t, Failed, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, h.state.installs)
	assert.Len(t, h.slept, 2, "backoff only between attempts")
	assert.Empty(t, h.state.shellCalls("am"))

	var failure *toolchain.ReportedFailure
	assert.True(t, errors.As(err, &failure))
}

func TestInstallRecoversAfterTransientFailure(t *testing.T) {
	h := newHarness(t, Development)
	h.state.installErr = func(attempt int) error {
		if attempt < 2 {
			return &toolchain.ReportedFailure{Tool: "adb install", Message: "Failure"}
		}
		return nil
	}
	res, err := h.deployer.DeployAndRun(context.Background(), DeployRequest{Stages: planner.AllDirty("test")})
	require.NoError(t, err)
	assert.Equal(t, Launched, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
}

func TestInstallInvocationErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, Development)
	h.state.installErr = func(int) error {
		return &toolchain.InvocationError{Tool: "adb", Err: errors.New("exec: not found")}
	}
	res, err := h.deployer.DeployAndRun(context.Background(), DeployRequest{Stages: planner.AllDirty("test")})
	require.Error(t, err)
	assert.Equal(t, Failed, res.Outcome)
	assert.Equal(t, 1, h.state.installs)
}

func TestTestDeployInstallsWithoutLaunching(t *testing.T) {
	h := newHarness(t, Test)
	res, err := h.deployer.DeployAndRun(context.Background(), DeployRequest{Stages: planner.AllDirty("test")})
	require.NoError(t, err)
	assert.Equal(t, InstalledNotLaunched, res.Outcome)
	assert.Empty(t, h.state.shellCalls("am"))
}

func TestRelaunchSelectionSkipsPackaging(t *testing.T) {
	h := newHarness(t, Development)
	res, err := h.deployer.DeployAndRun(context.Background(), DeployRequest{
		Serial:      "emulator-5560",
		Installed:   InstallState{App: true, Resources: true},
		SyncEnabled: true,
	})
	require.NoError(t, err)
	assert.Equal(t, PathRelaunch, res.Path)
	assert.Equal(t, Launched, res.Outcome)
	assert.Empty(t, h.builder.calls)
	assert.Zero(t, h.state.installs)
	assert.Zero(t, h.devices.waits)
	require.Len(t, h.state.shellCalls("kill"), 1)

	launch := h.state.shellCalls("am")
	require.Len(t, launch, 1)
	assert.Equal(t, LaunchArgs(testAppID, "Demo"), launch[0])
}

func TestRedeployWhenSyncDisabledOrNotInstalled(t *testing.T) {
	clean := planner.StageSet{}
	assert.True(t, DeployRequest{Stages: clean, Installed: InstallState{App: true}}.NeedsRedeploy())
	assert.True(t, DeployRequest{Stages: clean, SyncEnabled: true}.NeedsRedeploy())
	assert.True(t, DeployRequest{Stages: planner.AllDirty("x"), Installed: InstallState{App: true}, SyncEnabled: true}.NeedsRedeploy())
	assert.False(t, DeployRequest{Stages: clean, Installed: InstallState{App: true}, SyncEnabled: true}.NeedsRedeploy())
}

func TestRunNoDevicesPresent(t *testing.T) {
	h := newHarness(t, Development)
	h.devices.outcome = device.NoDevicesPresent
	res, err := h.deployer.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, NoDevicesPresent, res.Outcome)
	assert.Equal(t, 21, res.Outcome.ExitCode())

	var unavailable *device.UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, device.NoDevicesPresent, unavailable.Outcome)
	assert.Empty(t, h.builder.calls)
}

func TestProductionPackagesToDistDir(t *testing.T) {
	h := newHarness(t, Production)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		h.builder.reset()
		res, err := h.deployer.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, Packaged, res.Outcome)
		assert.Equal(t, PathPackage, res.Path)
		assert.Equal(t, filepath.Join(h.dir, "dist", "Demo.apk"), res.APK)
		assert.True(t, res.Stages.Dirty(planner.StagePackage))
		assert.Contains(t, h.builder.calls, "sign")
	}
	assert.Zero(t, h.state.installs)
	assert.Empty(t, h.state.pushes)
}

func TestNewRejectsProductionWithoutDistDir(t *testing.T) {
	h := newHarness(t, Development)
	_, err := New(h.cfg, Production, h.app, Deps{Store: deltafy.NewMemoryStore(), Builder: h.builder, Bridge: h.state})
	require.Error(t, err)
}

func TestOutcomeExitCodes(t *testing.T) {
	codes := map[Outcome]int{
		Launched:             0,
		Packaged:             0,
		Failed:               1,
		InstalledNotLaunched: 10,
		TimedOut:             20,
		NoDevicesPresent:     21,
	}
	seen := map[int]Outcome{}
	for o, code := range codes {
		assert.Equal(t, code, o.ExitCode(), string(o))
		if code != 0 {
			prev, dup := seen[code]
			assert.False(t, dup, "%s and %s share exit code %d", o, prev, code)
			seen[code] = o
		}
	}
}

func TestFindPIDs(t *testing.T) {
	ps := "USER PID PPID NAME\napp_1 100 1 com.example.demo\napp_2 200 1 com.example.demo:remote\n\n"
	assert.Equal(t, []string{"100"}, FindPIDs(ps, "com.example.demo"))
	assert.Empty(t, FindPIDs(ps, "com.other"))
}

type settleRecorder struct {
	*device.Monitor
	settled []device.WaitResult
}

func (s *settleRecorder) Settle(ctx context.Context, res device.WaitResult) error {
	s.settled = append(s.settled, res)
	return s.Monitor.Settle(ctx, res)
}

func TestRunSettlesLateDeviceOnce(t *testing.T) {
	h := newHarness(t, Development)
	listings := 0
	source := device.SourceFunc(func(ctx context.Context) ([]device.Record, error) {
		listings++
		if listings <= 2 {
			return nil, nil
		}
		return []device.Record{{Serial: "emulator-5560", Role: device.RoleEmulator, State: device.StateOnline, Port: 5560}}, nil
	})
	monitor := &settleRecorder{Monitor: device.NewMonitor(source, device.WaitOptions{
		MaxPolls:                 10,
		MaxConsecutiveEmptyPolls: 5,
		PollInterval:             30 * time.Millisecond,
		SettleThreshold:          20 * time.Millisecond,
		SettleDelay:              time.Millisecond,
	})}
	h.deps.Devices = monitor
	h.rewire(t, Development)

	res, err := h.deployer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PathRedeploy, res.Path)
	assert.Equal(t, Launched, res.Outcome)
	assert.Equal(t, 3, listings, "the device found before the build is reused for install")
	require.Len(t, monitor.settled, 1)
	assert.True(t, monitor.settled[0].NeedsSettle)
}

func TestRunSettlesBeforeProbing(t *testing.T) {
	h := newHarness(t, Development)
	h.devices.booting = true
	h.devices.onSettle = func() {
		assert.Empty(t, h.state.shellCalls("ls"), "device queried before it settled")
	}
	_, err := h.deployer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.devices.waits)
	require.Len(t, h.devices.settled, 1)
	assert.True(t, h.devices.settled[0].NeedsSettle)
}

func TestRunAfterStageFailureRebuilds(t *testing.T) {
	h := newHarness(t, Development)
	ctx := context.Background()
	_, err := h.deployer.Run(ctx)
	require.NoError(t, err)

	writeFile(t, filepath.Join(h.dir, "Resources", "app.js"), "var win = Ti.UI.createWindow();\nTi.Media.vibrate();\n")
	h.builder.fail = map[string]error{"manifest": &toolchain.ReportedFailure{Tool: "aapt", Message: "ERROR", ExitCode: 1}}
	res, err := h.deployer.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, Failed, res.Outcome)
	assert.NoFileExists(t, filepath.Join(h.dir, "build", "android", "AndroidManifest.xml"))

	h.builder.fail = nil
	h.builder.reset()
	res, err = h.deployer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"manifest", "compile", "dex", "package"}, res.Stages.DirtyStages())
	assert.Equal(t, PathRedeploy, res.Path)
	assert.Contains(t, h.builder.calls, "manifest")
	assert.Contains(t, h.builder.calls, "sign")

	data, err := os.ReadFile(filepath.Join(h.dir, "build", "android", "AndroidManifest.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "android.permission.VIBRATE")
}

func TestRunAfterInstallFailureReinstalls(t *testing.T) {
	h := newHarness(t, Development)
	ctx := context.Background()
	_, err := h.deployer.Run(ctx)
	require.NoError(t, err)

	writeFile(t, filepath.Join(h.dir, "Resources", "app.js"), "var win = Ti.UI.createWindow();\nTi.Media.vibrate();\n")
	h.state.installErr = func(int) error {
		return &toolchain.ReportedFailure{Tool: "adb install", Message: "INSTALL_FAILED_INSUFFICIENT_STORAGE"}
	}
	res, err := h.deployer.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, Failed, res.Outcome)
	installs := h.state.installs

	h.state.installErr = nil
	res, err = h.deployer.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Stages.Dirty(planner.StagePackage))
	assert.Equal(t, PathRedeploy, res.Path)
	assert.Equal(t, Launched, res.Outcome)
	assert.Equal(t, installs+1, h.state.installs)
}

func TestDevelopmentDeployIgnoresConfiguredDistDir(t *testing.T) {
	h := newHarness(t, Development)
	h.cfg.DistDir = filepath.Join(h.dir, "dist")
	res, err := h.deployer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PathRedeploy, res.Path)
	assert.Equal(t, Launched, res.Outcome)
	assert.Equal(t, 1, h.state.installs)
	assert.NoDirExists(t, filepath.Join(h.dir, "dist"))
}

func TestRunWritesAndroidResources(t *testing.T) {
	h := newHarness(t, Development)
	writeFile(t, filepath.Join(h.dir, "Resources", "default.png"), "splash")
	_, err := h.deployer.Run(context.Background())
	require.NoError(t, err)

	res := filepath.Join(h.dir, "build", "android", "res")
	icon, err := os.ReadFile(filepath.Join(res, "drawable", "appicon.png"))
	require.NoError(t, err)
	assert.Equal(t, "default", string(icon), "missing icon falls back to the support image")
	splash, err := os.ReadFile(filepath.Join(res, "drawable", "background.png"))
	require.NoError(t, err)
	assert.Equal(t, "splash", string(splash))
	assert.FileExists(t, filepath.Join(res, "values", "theme.xml"))
}
