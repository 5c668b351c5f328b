package toolchain

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Bridge drives the adb command line for file transfer and installation.
type Bridge struct {
	runner Runner
	adb    string
}

// NewBridge returns a Bridge invoking the adb binary at path adb.
func NewBridge(runner Runner, adb string) *Bridge {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Bridge{runner: runner, adb: adb}
}

func (b *Bridge) run(ctx context.Context, serial string, args ...string) (string, error) {
	if serial != "" {
		args = append([]string{"-s", serial}, args...)
	}
	return b.runner.Run(ctx, b.adb, args...)
}

// StartServer makes sure the adb daemon is running. Output is ignored.
func (b *Bridge) StartServer(ctx context.Context) error {
	if _, err := b.run(ctx, "", "start-server"); err != nil {
		return errors.Wrap(err, "adb start-server")
	}
	return nil
}

// Push copies local (file or directory) to remote on the device.
func (b *Bridge) Push(ctx context.Context, serial, local, remote string) error {
	out, err := b.run(ctx, serial, "push", local, remote)
	if err != nil {
		return errors.Wrapf(err, "adb push %s", local)
	}
	log.Trace().Str("serial", serial).Str("local", local).Str("remote", remote).Str("output", out).Msg("pushed")
	return nil
}

// Install installs apk with replace. A "Failure" line in the output is
// returned as *ReportedFailure so callers can retry.
func (b *Bridge) Install(ctx context.Context, serial, apk string) error {
	out, err := b.run(ctx, serial, "install", "-r", apk)
	if failure := InstallClassifier.Classify("adb install", out); failure != nil {
		var reported *ReportedFailure
		if errors.As(err, &reported) {
			failure.ExitCode = reported.ExitCode
		}
		return failure
	}
	if err != nil {
		return errors.Wrapf(err, "adb install %s", apk)
	}
	return nil
}

// State returns the trimmed output of adb get-state.
func (b *Bridge) State(ctx context.Context, serial string) (string, error) {
	out, err := b.run(ctx, serial, "get-state")
	if err != nil {
		return "", errors.Wrap(err, "adb get-state")
	}
	return strings.TrimSpace(out), nil
}
