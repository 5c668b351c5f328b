// Package deploy sequences scanning, planning, stage execution, device waits,
// installation and launch.
package deploy

import (
	"context"
	"time"

	"github.com/httprunner/apkdeploy/internal/device"
	"github.com/httprunner/apkdeploy/internal/toolchain"
	"github.com/httprunner/apkdeploy/pkg/deltafy"
	"github.com/httprunner/apkdeploy/pkg/planner"
	"github.com/httprunner/apkdeploy/pkg/storage"
)

// Type selects how the application is deployed.
type Type string

const (
	// Development installs to the emulator and launches the app.
	Development Type = "development"
	// Test installs to a device without a release keystore.
	Test Type = "test"
	// Production signs with the release keystore and writes to the dist dir.
	Production Type = "production"
)

// Role is the device role a deploy type targets.
func (t Type) Role() device.Role {
	if t == Development {
		return device.RoleEmulator
	}
	return device.RoleDevice
}

// Outcome is the terminal state of a deploy.
type Outcome string

const (
	Launched             Outcome = "launched"
	InstalledNotLaunched Outcome = "installed_not_launched"
	Packaged             Outcome = "packaged"
	Failed               Outcome = "failed"
	TimedOut             Outcome = "timed_out"
	NoDevicesPresent     Outcome = "no_devices_present"
)

// ExitCode maps an outcome to the process exit status.
func (o Outcome) ExitCode() int {
	switch o {
	case Launched, Packaged:
		return 0
	case InstalledNotLaunched:
		return 10
	case TimedOut:
		return 20
	case NoDevicesPresent:
		return 21
	default:
		return 1
	}
}

func outcomeForWait(o device.Outcome) Outcome {
	if o == device.NoDevicesPresent {
		return NoDevicesPresent
	}
	return TimedOut
}

// Path names the strategy a deploy took.
type Path string

const (
	PathNone     Path = ""
	PathRedeploy Path = "redeploy"
	PathRelaunch Path = "relaunch"
	PathPackage  Path = "package"
)

// Result reports what a run did.
type Result struct {
	Outcome  Outcome
	Path     Path
	Serial   string
	Attempts int
	Stages   planner.StageSet
	// Deltas are the resource changes seen by this run.
	Deltas []deltafy.Delta
	// Pushed lists device paths written through the sdcard channel.
	Pushed []string
	// APK is the packaged artifact on the full path.
	APK string
}

// Builder runs the build stages. *toolchain.Android implements it.
type Builder interface {
	GenerateR(ctx context.Context, manifest, srcDir, resDir string) error
	Compile(ctx context.Context, classpath []string, classesDir, srcDir string, sources []string) error
	Dex(ctx context.Context, dexFile, classesDir string, jars []string) error
	PackageResources(ctx context.Context, manifest, assetsDir, resDir string, includes []string, out string) error
	BuildAPK(ctx context.Context, unsigned, resPackage, dexFile, srcDir string, jars []string) error
	Sign(ctx context.Context, opts toolchain.SignOptions, signed, unsigned string) error
	Align(ctx context.Context, apk string) error
}

// Bridge transfers files and installs packages. *toolchain.Bridge
// implements it.
type Bridge interface {
	Push(ctx context.Context, serial, local, remote string) error
	Install(ctx context.Context, serial, apk string) error
}

// Shell executes device shell commands. The adb provider implements it.
type Shell interface {
	Shell(ctx context.Context, serial string, args ...string) (string, error)
}

// Devices waits for a device. *device.Monitor implements it.
type Devices interface {
	Wait(ctx context.Context, role device.Role) (device.WaitResult, error)
	Settle(ctx context.Context, res device.WaitResult) error
}

// Recorder keeps deploy history. *storage.DB implements it.
type Recorder interface {
	StartRun(ctx context.Context, rec storage.RunRecord) (string, error)
	FinishRun(ctx context.Context, runID string, upd storage.RunUpdate) error
}

var (
	_ Builder  = (*toolchain.Android)(nil)
	_ Bridge   = (*toolchain.Bridge)(nil)
	_ Devices  = (*device.Monitor)(nil)
	_ Recorder = (*storage.DB)(nil)
)

// sleepCtx waits for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
