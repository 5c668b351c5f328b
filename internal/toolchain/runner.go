// Package toolchain invokes the external SDK commands: resource packager,
// compiler, dex assembler, signer, zip aligner, device bridge and emulator.
package toolchain

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Runner invokes one external command and returns its combined output.
// A nil error with empty output is a successful command that printed nothing.
// A non-zero exit with output returns that output with a *ReportedFailure;
// *InvocationError is returned when there is no output to inspect at all.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, name string, args ...string) (string, error)

func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) (string, error) {
	return f(ctx, name, args...)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	tool := filepath.Base(name)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	log.Debug().Str("tool", tool).Strs("args", args).Msg("run tool")
	err := cmd.Run()
	out := buf.String()
	if err == nil {
		log.Trace().Str("tool", tool).Str("output", out).Msg("tool finished")
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && strings.TrimSpace(out) != "" {
		log.Debug().Str("tool", tool).Int("exit", exitErr.ExitCode()).Msg("tool exited non-zero with output")
		return out, &ReportedFailure{Tool: tool, Message: firstLine(out), Output: out, ExitCode: exitErr.ExitCode()}
	}
	invErr := &InvocationError{Tool: tool, Args: args, Err: err}
	if exitErr != nil {
		invErr.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		invErr.Err = ctxErr
	}
	return "", invErr
}
