package deploy

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/apkdeploy/internal/device"
	"github.com/httprunner/apkdeploy/internal/tiapp"
	"github.com/httprunner/apkdeploy/internal/toolchain"
	"github.com/httprunner/apkdeploy/pkg/planner"
)

// DeployRequest is the input of DeployAndRun.
type DeployRequest struct {
	Stages planner.StageSet
	// Serial is the device found by an earlier wait, if any.
	Serial      string
	Installed   InstallState
	SyncEnabled bool
}

// NeedsRedeploy reports whether the package must be rebuilt and installed
// rather than relaunched in place.
func (r DeployRequest) NeedsRedeploy() bool {
	return r.Stages.Dirty(planner.StagePackage) || !r.Installed.App || !r.SyncEnabled
}

// DeployAndRun takes the full redeploy path or the relaunch path.
func (d *Deployer) DeployAndRun(ctx context.Context, req DeployRequest) (*Result, error) {
	return d.deployAndRun(ctx, &Result{Stages: req.Stages, Serial: req.Serial}, req)
}

func (d *Deployer) deployAndRun(ctx context.Context, res *Result, req DeployRequest) (*Result, error) {
	if req.NeedsRedeploy() {
		return d.redeploy(ctx, res)
	}
	return d.relaunch(ctx, res)
}

func (d *Deployer) redeploy(ctx context.Context, res *Result) (*Result, error) {
	res.Path = PathRedeploy
	apk, err := d.packageApp(ctx)
	if err != nil {
		res.Outcome = Failed
		return res, err
	}
	res.APK = apk
	if d.typ == Production {
		res.Path = PathPackage
		res.Outcome = Packaged
		log.Info().Str("apk", apk).Msg("application packaged")
		return res, nil
	}

	if res.Serial == "" {
		if err := d.waitReady(ctx, res); err != nil {
			return res, err
		}
	}

	attempts, err := d.installWithRetry(ctx, res.Serial, apk)
	res.Attempts = attempts
	if err != nil {
		res.Outcome = Failed
		return res, err
	}
	if d.typ != Development {
		res.Outcome = InstalledNotLaunched
		log.Info().Str("app", d.app.ID).Msg("application installed, launch from the drawer on the home screen")
		return res, nil
	}
	if err := d.launch(ctx, res.Serial); err != nil {
		res.Outcome = Failed
		return res, err
	}
	res.Outcome = Launched
	log.Info().Str("app", d.app.Name).Msg("deployed, application should be running")
	return res, nil
}

// packageApp builds, signs and aligns the apk and returns its path.
func (d *Deployer) packageApp(ctx context.Context) (string, error) {
	l := d.layout()
	b := d.deps.Builder
	resPackage := filepath.Join(l.binDir, "app.ap_")
	unsigned := filepath.Join(l.binDir, "app-unsigned.apk")
	apk := filepath.Join(l.binDir, "app.apk")
	if d.typ == Production {
		if err := os.MkdirAll(d.cfg.DistDir, 0o755); err != nil {
			return "", errors.Wrap(err, "create dist dir")
		}
		apk = filepath.Join(d.cfg.DistDir, d.app.Name+".apk")
	}
	keystore := d.cfg.Keystore
	if keystore == "" {
		keystore = filepath.Join(d.cfg.SupportDir, "dev_keystore")
	}

	log.Info().Str("apk", apk).Msg("packaging application")
	titaniumJar := filepath.Join(d.cfg.SupportDir, "titanium.jar")
	if err := b.PackageResources(ctx, l.manifest, l.assetsDir, l.resDir, []string{titaniumJar}, resPackage); err != nil {
		return "", err
	}
	if err := b.BuildAPK(ctx, unsigned, resPackage, l.classesDex, l.srcDir, d.supportJars()); err != nil {
		return "", err
	}
	sign := toolchain.SignOptions{Keystore: keystore, StorePass: d.cfg.StorePass, Alias: d.cfg.KeyAlias}
	if err := b.Sign(ctx, sign, apk, unsigned); err != nil {
		return "", err
	}
	if err := b.Align(ctx, apk); err != nil {
		return "", err
	}
	return apk, nil
}

// installWithRetry retries reported install failures with a fixed backoff up
// to the configured attempts. Invocation errors are not retried.
func (d *Deployer) installWithRetry(ctx context.Context, serial, apk string) (int, error) {
	limit := d.cfg.InstallAttempts
	if limit <= 0 {
		limit = 1
	}
	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		log.Info().Str("serial", serial).Int("attempt", attempt).Msg("installing application")
		err := d.deps.Bridge.Install(ctx, serial, apk)
		if err == nil {
			return attempt, nil
		}
		var failure *toolchain.ReportedFailure
		if !errors.As(err, &failure) {
			return attempt, err
		}
		lastErr = err
		log.Warn().Str("serial", serial).Int("attempt", attempt).Str("reason", failure.Message).Msg("install failed")
		if attempt < limit {
			if err := d.sleep(ctx, d.cfg.InstallBackoff); err != nil {
				return attempt, errors.Wrap(err, "install backoff")
			}
		}
	}
	return limit, errors.Wrapf(lastErr, "install %s failed after %d attempts", d.app.ID, limit)
}

// relaunch kills the running app so it reloads pushed resources, then starts
// it again. No build stage runs.
func (d *Deployer) relaunch(ctx context.Context, res *Result) (*Result, error) {
	res.Path = PathRelaunch
	if res.Serial == "" {
		if err := d.waitReady(ctx, res); err != nil {
			return res, err
		}
	}
	log.Info().Str("app", d.app.Name).Msg("re-launching application")

	ps, err := d.deps.Shell.Shell(ctx, res.Serial, "ps")
	if err != nil {
		res.Outcome = Failed
		return res, errors.Wrap(err, "list device processes")
	}
	killed := false
	for _, pid := range FindPIDs(ps, d.app.ID) {
		if _, err := d.deps.Shell.Shell(ctx, res.Serial, "kill", pid); err != nil {
			log.Warn().Err(err).Str("pid", pid).Msg("kill application process failed")
			continue
		}
		killed = true
	}
	if err := d.launch(ctx, res.Serial); err != nil {
		res.Outcome = Failed
		return res, err
	}
	res.Outcome = Launched
	if killed {
		log.Info().Str("app", d.app.Name).Msg("relaunched, application should be running")
	}
	return res, nil
}

// waitReady waits for a device of the deploy role and lets it settle.
func (d *Deployer) waitReady(ctx context.Context, res *Result) error {
	wait, err := d.deps.Devices.Wait(ctx, d.typ.Role())
	if err != nil {
		return err
	}
	if wait.Outcome != device.Ready {
		res.Outcome = outcomeForWait(wait.Outcome)
		return wait.Err(d.typ.Role())
	}
	res.Serial = wait.Device.Serial
	return d.deps.Devices.Settle(ctx, wait)
}

// FindPIDs returns the pid column of ps lines whose last column is appID.
func FindPIDs(ps, appID string) []string {
	var pids []string
	for _, line := range strings.Split(ps, "\n") {
		cols := strings.Fields(line)
		if len(cols) < 2 {
			continue
		}
		if cols[len(cols)-1] == appID {
			pids = append(pids, cols[1])
		}
	}
	return pids
}

// LaunchArgs is the activity manager command starting the app.
func LaunchArgs(appID, name string) []string {
	return []string{"am", "start",
		"-a", "android.intent.action.MAIN",
		"-c", "android.intent.category.LAUNCHER",
		"-n", appID + "/." + tiapp.ClassName(name) + "Activity"}
}

func (d *Deployer) launch(ctx context.Context, serial string) error {
	log.Info().Str("app", d.app.Name).Msg("launching application")
	out, err := d.deps.Shell.Shell(ctx, serial, LaunchArgs(d.app.ID, d.app.Name)...)
	if err != nil {
		return errors.Wrap(err, "launch application")
	}
	log.Trace().Str("output", out).Msg("launch output")
	if strings.Contains(out, "Error:") {
		return &toolchain.ReportedFailure{Tool: "am start", Message: strings.TrimSpace(out), Output: out}
	}
	return nil
}
