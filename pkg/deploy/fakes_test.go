package deploy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/httprunner/apkdeploy/internal/config"
	"github.com/httprunner/apkdeploy/internal/device"
	"github.com/httprunner/apkdeploy/internal/tiapp"
	"github.com/httprunner/apkdeploy/internal/toolchain"
	"github.com/httprunner/apkdeploy/pkg/deltafy"
	"github.com/httprunner/apkdeploy/pkg/storage"
)

const testAppID = "com.example.demo"

type fakeBuilder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (b *fakeBuilder) record(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, name)
}

func (b *fakeBuilder) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

func (b *fakeBuilder) failing(stage string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fail[stage]
}

func (b *fakeBuilder) GenerateR(ctx context.Context, manifest, srcDir, resDir string) error {
	b.record("manifest")
	return b.failing("manifest")
}

func (b *fakeBuilder) Compile(ctx context.Context, classpath []string, classesDir, srcDir string, sources []string) error {
	b.record("compile")
	return nil
}

func (b *fakeBuilder) Dex(ctx context.Context, dexFile, classesDir string, jars []string) error {
	b.record("dex")
	return nil
}

func (b *fakeBuilder) PackageResources(ctx context.Context, manifest, assetsDir, resDir string, includes []string, out string) error {
	b.record("package")
	return nil
}

func (b *fakeBuilder) BuildAPK(ctx context.Context, unsigned, resPackage, dexFile, srcDir string, jars []string) error {
	b.record("apkbuilder")
	return nil
}

func (b *fakeBuilder) Sign(ctx context.Context, opts toolchain.SignOptions, signed, unsigned string) error {
	b.record("sign")
	return nil
}

func (b *fakeBuilder) Align(ctx context.Context, apk string) error {
	b.record("align")
	return nil
}

// fakeDeviceState plays both the bridge and the device shell.
type fakeDeviceState struct {
	mu           sync.Mutex
	resourcesDir string
	installed    bool
	resources    bool
	installErr   func(attempt int) error
	installs     int
	pushes       []string
	shells       [][]string
}

func (f *fakeDeviceState) Push(ctx context.Context, serial, local, remote string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, remote)
	if local == f.resourcesDir {
		f.resources = true
	}
	return nil
}

func (f *fakeDeviceState) Install(ctx context.Context, serial, apk string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs++
	if f.installErr != nil {
		if err := f.installErr(f.installs); err != nil {
			return err
		}
	}
	f.installed = true
	return nil
}

func (f *fakeDeviceState) Shell(ctx context.Context, serial string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shells = append(f.shells, args)
	switch args[0] {
	case "ls":
		exists := f.installed
		if strings.HasSuffix(args[1], "/app.js") {
			exists = f.resources
		}
		if exists {
			return args[1] + "\n", nil
		}
		return "ls: " + args[1] + ": No such file or directory\n", nil
	case "ps":
		return "USER     PID   PPID  VSIZE  RSS     WCHAN    PC         NAME\n" +
			"root      1     0     296    204   c009b74c 0000ca4c S /init\n" +
			"app_35    412   31    97388  20732 ffffffff afd0eb08 S " + testAppID + "\n", nil
	}
	return "", nil
}

func (f *fakeDeviceState) shellCalls(cmd string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, s := range f.shells {
		if s[0] == cmd {
			out = append(out, s)
		}
	}
	return out
}

type fakeDevices struct {
	outcome device.Outcome
	// booting makes the device show up late enough to need settling.
	booting  bool
	waits    int
	settled  []device.WaitResult
	onSettle func()
}

func (d *fakeDevices) Wait(ctx context.Context, role device.Role) (device.WaitResult, error) {
	d.waits++
	if d.outcome != device.Ready {
		return device.WaitResult{Outcome: d.outcome, Polls: 3}, nil
	}
	return device.WaitResult{
		Outcome:     device.Ready,
		Device:      device.Record{Serial: "emulator-5560", Role: role, State: device.StateOnline, Port: 5560},
		Polls:       1,
		NeedsSettle: d.booting,
	}, nil
}

func (d *fakeDevices) Settle(ctx context.Context, res device.WaitResult) error {
	d.settled = append(d.settled, res)
	if d.onSettle != nil {
		d.onSettle()
	}
	return nil
}

type fakeRecorder struct {
	started  []storage.RunRecord
	finished map[string]storage.RunUpdate
}

func (r *fakeRecorder) StartRun(ctx context.Context, rec storage.RunRecord) (string, error) {
	r.started = append(r.started, rec)
	return "run-" + string(rune('0'+len(r.started))), nil
}

func (r *fakeRecorder) FinishRun(ctx context.Context, runID string, upd storage.RunUpdate) error {
	if r.finished == nil {
		r.finished = make(map[string]storage.RunUpdate)
	}
	r.finished[runID] = upd
	return nil
}

type harness struct {
	dir      string
	cfg      *config.Config
	app      *tiapp.App
	builder  *fakeBuilder
	state    *fakeDeviceState
	devices  *fakeDevices
	recorder *fakeRecorder
	deps     Deps
	deployer *Deployer
	slept    []time.Duration
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newHarness(t *testing.T, typ Type) *harness {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tiapp.xml"), `<ti:app xmlns:ti="http://ti.appcelerator.org"><id>`+testAppID+`</id><name>Demo</name></ti:app>`)
	writeFile(t, filepath.Join(dir, "Resources", "app.js"), "var win = Ti.UI.createWindow();\n")
	writeFile(t, filepath.Join(dir, "Resources", "lib.js"), "exports.x = 1;\n")
	writeFile(t, filepath.Join(dir, "Resources", "images", "logo.png"), "png")
	writeFile(t, filepath.Join(dir, "build", "support", "resources", "default.png"), "default")

	cfg := &config.Config{
		ProjectDir:      dir,
		SupportDir:      filepath.Join(dir, "build", "support"),
		AppID:           testAppID,
		AndroidAPI:      "4",
		InstallAttempts: 3,
		InstallBackoff:  time.Second,
		StorePass:       "tirocks",
		KeyAlias:        "tidev",
	}
	if typ == Production {
		cfg.DistDir = filepath.Join(dir, "dist")
		cfg.Keystore = filepath.Join(dir, "release.keystore")
	}
	app := &tiapp.App{
		ID:         testAppID,
		Name:       "Demo",
		Properties: []tiapp.Property{{Name: tiapp.PropLoadFromSDCard, Type: "bool", Value: "true"}},
	}
	h := &harness{
		dir:      dir,
		cfg:      cfg,
		app:      app,
		builder:  &fakeBuilder{},
		state:    &fakeDeviceState{resourcesDir: cfg.ResourcesDir()},
		devices:  &fakeDevices{},
		recorder: &fakeRecorder{},
	}
	deps := Deps{
		Store:    deltafy.NewMemoryStore(),
		Builder:  h.builder,
		Bridge:   h.state,
		Recorder: h.recorder,
	}
	if typ != Production {
		deps.Shell = h.state
		deps.Devices = h.devices
	}
	h.deps = deps
	h.rewire(t, typ)
	return h
}

// rewire rebuilds the deployer from h.deps, keeping the stores.
func (h *harness) rewire(t *testing.T, typ Type) {
	t.Helper()
	d, err := New(h.cfg, typ, h.app, h.deps)
	require.NoError(t, err)
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		h.slept = append(h.slept, dur)
		return nil
	}
	h.deployer = d
}
