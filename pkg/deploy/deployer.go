package deploy

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/apkdeploy/internal/config"
	"github.com/httprunner/apkdeploy/internal/tiapp"
	"github.com/httprunner/apkdeploy/internal/toolchain"
	"github.com/httprunner/apkdeploy/pkg/deltafy"
	"github.com/httprunner/apkdeploy/pkg/manifest"
	"github.com/httprunner/apkdeploy/pkg/planner"
	"github.com/httprunner/apkdeploy/pkg/storage"
)

// Deps are the collaborators of a Deployer. Recorder may be nil.
type Deps struct {
	Store    deltafy.Store
	Builder  Builder
	Bridge   Bridge
	Shell    Shell
	Devices  Devices
	Recorder Recorder
}

// Deployer runs the incremental pipeline for one project.
type Deployer struct {
	cfg  *config.Config
	typ  Type
	app  *tiapp.App
	deps Deps

	resources *deltafy.Scanner
	libraries *deltafy.Scanner
	sleep     func(ctx context.Context, d time.Duration) error
}

// New wires a Deployer. The resources scanner also tracks tiapp.xml, by
// content hash, in the same snapshot.
func New(cfg *config.Config, typ Type, app *tiapp.App, deps Deps) (*Deployer, error) {
	if cfg == nil || app == nil {
		return nil, errors.New("deploy: config and app are required")
	}
	if deps.Store == nil || deps.Builder == nil || deps.Bridge == nil {
		return nil, errors.New("deploy: store, builder and bridge are required")
	}
	if typ == Production && cfg.DistDir == "" {
		return nil, errors.New("deploy: production deploys need a dist dir")
	}
	if typ != Production && (deps.Shell == nil || deps.Devices == nil) {
		return nil, errors.Errorf("deploy: %s deploys need a device shell and monitor", typ)
	}
	descriptorKey := deltafy.Normalize(filepath.Join("..", filepath.Base(cfg.DescriptorPath())))
	resources, err := deltafy.NewScanner(cfg.ResourcesDir(), deps.Store,
		deltafy.WithInclude(deltafy.DefaultInclude),
		deltafy.WithContentHash(func(rel string) bool { return rel == descriptorKey }))
	if err != nil {
		return nil, err
	}
	libraries, err := deltafy.NewScanner(cfg.SupportDir, deps.Store,
		deltafy.WithInclude(deltafy.ExtensionInclude(".jar")))
	if err != nil {
		return nil, err
	}
	return &Deployer{
		cfg:       cfg,
		typ:       typ,
		app:       app,
		deps:      deps,
		resources: resources,
		libraries: libraries,
		sleep:     sleepCtx,
	}, nil
}

// layout is the generated Android project under build/android.
type layout struct {
	buildDir   string
	manifest   string
	srcDir     string
	resDir     string
	binDir     string
	classesDir string
	classesDex string
	assetsDir  string
	assetsRes  string
}

func (d *Deployer) layout() layout {
	build := d.cfg.BuildDir()
	bin := filepath.Join(build, "bin")
	return layout{
		buildDir:   build,
		manifest:   filepath.Join(build, "AndroidManifest.xml"),
		srcDir:     filepath.Join(build, "src"),
		resDir:     filepath.Join(build, "res"),
		binDir:     bin,
		classesDir: filepath.Join(bin, "classes"),
		classesDex: filepath.Join(bin, "classes.dex"),
		assetsDir:  filepath.Join(bin, "assets"),
		assetsRes:  filepath.Join(bin, "assets", "Resources"),
	}
}

func (d *Deployer) sdcardResources() string {
	return "/sdcard/Ti.debug/" + d.app.ID + "/Resources"
}

// InstallState is what the device already holds.
type InstallState struct {
	App       bool
	Resources bool
}

// Run executes one incremental deploy and records it.
func (d *Deployer) Run(ctx context.Context) (res *Result, err error) {
	runID := d.startRun(ctx)
	defer func() { d.finishRun(ctx, runID, res, err) }()
	scanned := false
	defer func() {
		if err != nil && scanned {
			d.invalidate(ctx)
		}
	}()

	res = &Result{}
	l := d.layout()
	for _, dir := range []string{l.binDir, l.classesDir, l.assetsRes} {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return res, errors.Wrapf(mkErr, "create %s", dir)
		}
	}
	if err := copyFile(d.cfg.DescriptorPath(), filepath.Join(l.assetsDir, filepath.Base(d.cfg.DescriptorPath()))); err != nil {
		return res, err
	}

	// device first: its install state decides what needs to be pushed
	install := InstallState{}
	if d.typ != Production {
		if err := d.waitReady(ctx, res); err != nil {
			return res, err
		}
		install = d.installState(ctx, res.Serial)
	}

	// from here on a failed run has consumed deltas the next run must see again
	scanned = true
	deltas, force, err := d.scanResources(ctx)
	if err != nil {
		return res, err
	}
	res.Deltas = deltas

	synced, err := SyncAssets(d.cfg.ResourcesDir(), l.assetsRes, deltas)
	if err != nil {
		return res, errors.Wrap(err, "sync assets")
	}

	if err := manifest.WriteResources(manifest.ResourceFiles{
		ResDir:     l.resDir,
		AssetsDir:  l.assetsRes,
		SupportDir: filepath.Join(d.cfg.SupportDir, "resources"),
		Icon:       d.app.Icon,
	}); err != nil {
		return res, err
	}

	manifestChanged, googleAPIs, err := d.renderManifest(ctx, l)
	if err != nil {
		return res, err
	}
	libDeltas, err := d.libraries.Scan(ctx)
	if err != nil {
		return res, errors.Wrap(err, "scan library jars")
	}

	res.Stages = planner.Plan(planner.Input{
		Deltas:           deltas,
		LibraryDeltas:    libDeltas,
		ManifestChanged:  manifestChanged,
		ForceFullRebuild: force || d.typ == Production,
		Release:          d.typ == Production,
	})
	log.Info().Strs("dirty", res.Stages.DirtyStages()).Int("deltas", len(deltas)).
		Int("library_deltas", len(libDeltas)).Msg("build plan")

	if err := d.executeStages(ctx, l, res.Stages, googleAPIs); err != nil {
		res.Outcome = Failed
		return res, err
	}

	syncEnabled := d.app.LoadFromSDCard() && d.typ != Production
	if syncEnabled && res.Serial != "" {
		pushed, err := d.pushResources(ctx, res.Serial, install, synced)
		res.Pushed = pushed
		if err != nil {
			res.Outcome = Failed
			return res, err
		}
		install.Resources = true
	}

	return d.deployAndRun(ctx, res, DeployRequest{
		Stages:      res.Stages,
		Serial:      res.Serial,
		Installed:   install,
		SyncEnabled: syncEnabled,
	})
}

// scanResources reports resource deltas. A changed descriptor, or the force
// flag, clears the snapshot and rescans so every file shows as created.
func (d *Deployer) scanResources(ctx context.Context) ([]deltafy.Delta, bool, error) {
	deltas, err := d.resources.Scan(ctx)
	if err != nil {
		return nil, false, errors.Wrap(err, "scan resources")
	}
	descriptor, err := d.resources.ScanFile(ctx, d.cfg.DescriptorPath())
	if err != nil {
		return nil, false, errors.Wrap(err, "scan project descriptor")
	}
	if descriptor == nil && !d.cfg.Force {
		return deltas, false, nil
	}
	log.Info().Bool("descriptor_changed", descriptor != nil).Msg("forcing full re-build")
	if err := d.resources.Clear(ctx); err != nil {
		return nil, false, err
	}
	if deltas, err = d.resources.Scan(ctx); err != nil {
		return nil, false, errors.Wrap(err, "rescan resources")
	}
	// record the descriptor again so the next run does not see it as created
	if _, err := d.resources.ScanFile(ctx, d.cfg.DescriptorPath()); err != nil {
		return nil, false, errors.Wrap(err, "rescan project descriptor")
	}
	return deltas, true, nil
}

func (d *Deployer) renderManifest(ctx context.Context, l layout) (changed, googleAPIs bool, err error) {
	used, err := manifest.ScanUsage(d.cfg.ResourcesDir(), deltafy.DefaultInclude)
	if err != nil {
		return false, false, err
	}
	resolution := manifest.Resolve(used, d.cfg.GoogleAPIs)
	template, custom, err := manifest.LoadTemplate(l.buildDir)
	if err != nil {
		return false, false, err
	}
	content := manifest.Render(template, resolution, manifest.Params{
		AppID:      d.app.ID,
		AppName:    d.app.Name,
		ClassName:  tiapp.ClassName(d.app.Name),
		MinSDK:     d.cfg.AndroidAPI,
		Debuggable: d.typ != Production,
	})
	changed, err = manifest.Changed(l.manifest, content)
	if err != nil {
		return false, false, err
	}
	if changed {
		if err := manifest.Write(l.manifest, content); err != nil {
			return false, false, err
		}
	}
	log.Debug().Bool("custom", custom).Bool("changed", changed).Int("capabilities", len(used)).
		Int("permissions", len(resolution.Permissions)).Msg("android manifest rendered")
	return changed, resolution.UsesGoogleAPIs(), nil
}

func (d *Deployer) executeStages(ctx context.Context, l layout, stages planner.StageSet, googleAPIs bool) error {
	b := d.deps.Builder
	if stages.Dirty(planner.StageManifest) {
		log.Info().Str("reason", stages.Reason(planner.StageManifest)).Msg("generating R.java")
		if err := b.GenerateR(ctx, l.manifest, l.srcDir, l.resDir); err != nil {
			return err
		}
	} else {
		log.Info().Msg("manifest unchanged, skipping R.java")
	}

	if stages.Dirty(planner.StageCompile) {
		sources, moduleJars, err := d.javaInputs(l)
		if err != nil {
			return err
		}
		classpath := append([]string{filepath.Join(d.cfg.SupportDir, "titanium.jar")}, moduleJars...)
		if googleAPIs {
			classpath = append(classpath, filepath.Join(d.cfg.SupportDir, "modules", "titanium-map.jar"))
		}
		log.Info().Int("sources", len(sources)).Msg("compiling java classes")
		if err := b.Compile(ctx, classpath, l.classesDir, l.srcDir, sources); err != nil {
			return err
		}
	} else {
		log.Info().Msg("manifest unchanged, skipping java build")
	}

	if stages.Dirty(planner.StageDex) {
		log.Info().Msg("compiling android resources, this could take some time")
		if err := b.Dex(ctx, l.classesDex, l.classesDir, d.supportJars()); err != nil {
			return err
		}
	}
	return nil
}

// javaInputs collects generated sources and project module sources and jars.
func (d *Deployer) javaInputs(l layout) (sources, jars []string, err error) {
	collect := func(root string) error {
		if !dirExists(root) {
			return nil
		}
		return filepath.WalkDir(root, func(p string, e fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !deltafy.DefaultInclude(p, !e.IsDir()) {
				if e.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			switch strings.ToLower(filepath.Ext(p)) {
			case ".java":
				sources = append(sources, p)
			case ".jar":
				jars = append(jars, p)
			}
			return nil
		})
	}
	if err := collect(l.srcDir); err != nil {
		return nil, nil, errors.Wrap(err, "collect generated sources")
	}
	if err := collect(filepath.Join(d.cfg.ProjectDir, "modules", "android")); err != nil {
		return nil, nil, errors.Wrap(err, "collect module sources")
	}
	return sources, jars, nil
}

// supportJars are the runtime jars dexed into and shipped with the app.
func (d *Deployer) supportJars() []string {
	top, _ := filepath.Glob(filepath.Join(d.cfg.SupportDir, "*.jar"))
	modules, _ := filepath.Glob(filepath.Join(d.cfg.SupportDir, "modules", "*.jar"))
	return append(top, modules...)
}

// installState checks what the device already holds. An unanswerable check
// counts as absent so the deploy errs towards a full install.
func (d *Deployer) installState(ctx context.Context, serial string) InstallState {
	st := InstallState{
		App:       d.remoteExists(ctx, serial, "/data/app/"+d.app.ID+".apk"),
		Resources: d.remoteExists(ctx, serial, d.sdcardResources()+"/app.js"),
	}
	log.Debug().Str("app", d.app.ID).Bool("installed", st.App).Bool("resources", st.Resources).Msg("device install state")
	return st
}

func (d *Deployer) remoteExists(ctx context.Context, serial, p string) bool {
	out, err := d.deps.Shell.Shell(ctx, serial, "ls", p)
	if err != nil {
		log.Debug().Err(err).Str("path", p).Msg("existence check failed")
		return false
	}
	if strings.TrimSpace(out) == "" {
		return false
	}
	return toolchain.NoFileClassifier.Classify("ls", out) == nil
}

// pushResources copies resources to the sdcard. Everything is pushed when the
// app or its resources are missing; otherwise only the synced files.
func (d *Deployer) pushResources(ctx context.Context, serial string, install InstallState, synced []SyncedFile) ([]string, error) {
	base := d.sdcardResources()
	if !install.App || !install.Resources {
		log.Info().Str("dest", base).Msg("performing full copy to sdcard")
		pushed := []string{base}
		if err := d.deps.Bridge.Push(ctx, serial, d.cfg.ResourcesDir(), base); err != nil {
			return nil, err
		}
		android := filepath.Join(d.cfg.ResourcesDir(), "android")
		if dirExists(android) {
			if err := d.deps.Bridge.Push(ctx, serial, android, base); err != nil {
				return pushed, err
			}
		}
		return pushed, nil
	}
	pushed := make([]string, 0, len(synced))
	for _, f := range synced {
		remote := sdcardPath(base, f.Rel)
		if err := d.deps.Bridge.Push(ctx, serial, f.Local, remote); err != nil {
			return pushed, err
		}
		pushed = append(pushed, remote)
	}
	return pushed, nil
}

// invalidate drops every record of what was built so the next run rebuilds
// and reinstalls from scratch. Errors are logged, the run already failed.
func (d *Deployer) invalidate(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range []*deltafy.Scanner{d.resources, d.libraries} {
		if err := s.Clear(ctx); err != nil {
			log.Warn().Err(err).Str("root", s.Root()).Msg("clear scan state after failed run")
		}
	}
	manifestPath := d.layout().manifest
	if err := os.Remove(manifestPath); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", manifestPath).Msg("remove manifest after failed run")
	}
	log.Info().Msg("run failed, next run will rebuild and reinstall")
}

func (d *Deployer) startRun(ctx context.Context) string {
	if d.deps.Recorder == nil {
		return ""
	}
	id, err := d.deps.Recorder.StartRun(ctx, storage.RunRecord{AppID: d.app.ID, DeployType: string(d.typ)})
	if err != nil {
		log.Warn().Err(err).Msg("record deploy run failed")
		return ""
	}
	return id
}

func (d *Deployer) finishRun(ctx context.Context, runID string, res *Result, runErr error) {
	if d.deps.Recorder == nil || runID == "" || res == nil {
		return
	}
	if res.Outcome == "" && runErr != nil {
		res.Outcome = Failed
	}
	upd := storage.RunUpdate{
		DeviceSerial: res.Serial,
		Path:         string(res.Path),
		Outcome:      string(res.Outcome),
		Attempts:     res.Attempts,
		DirtyStages:  res.Stages.DirtyStages(),
	}
	if runErr != nil {
		upd.Error = runErr.Error()
	}
	// history must be written even when the run was cancelled
	if err := d.deps.Recorder.FinishRun(context.WithoutCancel(ctx), runID, upd); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("finish deploy run failed")
	}
}
