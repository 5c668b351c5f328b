package toolchain

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// hardware options appended to every new AVD config.ini.
var avdHardware = [][2]string{{"hw.camera", "yes"}, {"hw.gps", "yes"}}

// EmulatorOptions configure an AVD launch.
type EmulatorOptions struct {
	Emulator string
	Android  string
	MkSDCard string
	// HomeDir holds the shared SD card image.
	HomeDir string
	// AVDDir is where the android tool stores virtual devices.
	AVDDir string
	Port   int
	// GracePeriod bounds how long the emulator may take to exit after SIGTERM.
	GracePeriod time.Duration
}

// Emulator creates and runs Android virtual devices.
type Emulator struct {
	runner Runner
	opts   EmulatorOptions
	// start builds the long-running emulator process; swapped in tests.
	start func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewEmulator builds an Emulator. The runner executes short commands such as
// mksdcard and android create avd.
func NewEmulator(runner Runner, opts EmulatorOptions) *Emulator {
	if runner == nil {
		runner = ExecRunner{}
	}
	if opts.Port == 0 {
		opts.Port = 5560
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 10 * time.Second
	}
	return &Emulator{runner: runner, opts: opts, start: exec.CommandContext}
}

// SDCard is the path of the shared SD card image.
func (e *Emulator) SDCard() string {
	return filepath.Join(e.opts.HomeDir, "android2.sdcard")
}

// AVDName is the virtual device name for an SDK target and skin.
func AVDName(avdID, skin string) string {
	return fmt.Sprintf("titanium_%s_%s", avdID, skin)
}

// EnsureAVD creates the shared SD card and the virtual device when missing
// and returns the AVD name.
func (e *Emulator) EnsureAVD(ctx context.Context, avdID, skin string) (string, error) {
	if err := os.MkdirAll(e.opts.HomeDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create emulator home")
	}
	sdcard := e.SDCard()
	if _, err := os.Stat(sdcard); os.IsNotExist(err) {
		log.Info().Str("path", sdcard).Msg("creating shared 64M SD card for android emulators")
		if _, err := e.runner.Run(ctx, e.opts.MkSDCard, "64M", sdcard); err != nil {
			return "", errors.Wrap(err, "create sd card")
		}
	}

	name := AVDName(avdID, skin)
	avdPath := filepath.Join(e.opts.AVDDir, name+".avd")
	if _, err := os.Stat(avdPath); err == nil {
		return name, nil
	}
	log.Info().Str("avd", avdID).Str("skin", skin).Msg("creating android virtual device")
	if _, err := e.runner.Run(ctx, e.opts.Android, "--verbose", "create", "avd",
		"--name", name, "--target", avdID, "-s", skin, "--force", "--sdcard", sdcard); err != nil {
		return "", errors.Wrap(err, "create avd")
	}
	if err := appendHardware(filepath.Join(avdPath, "config.ini")); err != nil {
		return "", err
	}
	return name, nil
}

func appendHardware(ini string) error {
	f, err := os.OpenFile(ini, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrap(err, "open avd config")
	}
	defer f.Close()
	var b strings.Builder
	for _, kv := range avdHardware {
		b.WriteString(kv[0] + "=" + kv[1] + "\n")
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return errors.Wrap(err, "write avd hardware options")
	}
	return nil
}

// Run launches the emulator for avdName and blocks until it exits. When ctx
// is cancelled the child receives SIGTERM once and is killed if it has not
// exited within the grace period.
func (e *Emulator) Run(ctx context.Context, avdName string) error {
	args := []string{
		"-avd", avdName,
		"-port", strconv.Itoa(e.opts.Port),
		"-sdcard", e.SDCard(),
		"-logcat", "*:d *",
		"-no-boot-anim",
		"-partition-size", "128",
	}
	cmd := e.start(ctx, e.opts.Emulator, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error {
		log.Debug().Int("pid", cmd.Process.Pid).Msg("terminating emulator")
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = e.opts.GracePeriod

	log.Info().Str("avd", avdName).Int("port", e.opts.Port).Msg("launching android emulator")
	if err := cmd.Start(); err != nil {
		return &InvocationError{Tool: filepath.Base(e.opts.Emulator), Args: args, Err: err}
	}
	err := cmd.Wait()
	if ctx.Err() != nil {
		log.Info().Msg("android emulator stopped")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "android emulator exited")
	}
	log.Info().Msg("android emulator has exited")
	return nil
}
