package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/apkdeploy/internal/config"
)

// Android wraps the build commands of the SDK.
type Android struct {
	runner Runner
	tools  config.Tools
}

// NewAndroid returns build commands backed by runner.
func NewAndroid(runner Runner, tools config.Tools) *Android {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Android{runner: runner, tools: tools}
}

// GenerateR regenerates R.java for manifest into srcDir.
func (a *Android) GenerateR(ctx context.Context, manifest, srcDir, resDir string) error {
	_, err := a.runner.Run(ctx, a.tools.AAPT,
		"package", "-m", "-J", srcDir, "-M", manifest, "-S", resDir, "-I", a.tools.AndroidJar)
	if err != nil {
		return errors.Wrap(err, "generate R.java from manifest")
	}
	return nil
}

// Compile runs javac over sources into classesDir.
func (a *Android) Compile(ctx context.Context, classpath []string, classesDir, srcDir string, sources []string) error {
	if len(sources) == 0 {
		log.Debug().Msg("no java sources to compile")
		return nil
	}
	if err := os.MkdirAll(classesDir, 0o755); err != nil {
		return errors.Wrap(err, "create classes dir")
	}
	cp := append([]string{a.tools.AndroidJar}, classpath...)
	args := []string{"-classpath", strings.Join(cp, string(os.PathListSeparator)), "-d", classesDir, "-sourcepath", srcDir}
	args = append(args, sources...)
	out, err := a.runner.Run(ctx, a.tools.Javac, args...)
	if strings.Contains(out, " error") && strings.Contains(out, ".java:") {
		return &ReportedFailure{Tool: "javac", Message: firstLine(out), Output: out, ExitCode: exitCode(err)}
	}
	if err != nil {
		return errors.Wrap(err, "compile java sources")
	}
	return nil
}

// Dex assembles classesDir and jars into dexFile.
func (a *Android) Dex(ctx context.Context, dexFile, classesDir string, jars []string) error {
	args := []string{"-JXmx896M", "-JXX:-UseGCOverheadLimit", "--dex", "--output=" + dexFile, classesDir}
	args = append(args, jars...)
	if _, err := a.runner.Run(ctx, a.tools.DX, args...); err != nil {
		return errors.Wrap(err, "compile classes.dex")
	}
	return nil
}

// PackageResources builds the resource package ap_ from the manifest, assets
// and res dir.
func (a *Android) PackageResources(ctx context.Context, manifest, assetsDir, resDir string, includes []string, out string) error {
	args := []string{"package", "-f", "-M", manifest, "-A", assetsDir, "-S", resDir, "-I", a.tools.AndroidJar}
	for _, inc := range includes {
		args = append(args, "-I", inc)
	}
	args = append(args, "-F", out)
	if _, err := a.runner.Run(ctx, a.tools.AAPT, args...); err != nil {
		return errors.Wrap(err, "package resources")
	}
	return nil
}

// BuildAPK assembles an unsigned apk.
func (a *Android) BuildAPK(ctx context.Context, unsigned, resPackage, dexFile, srcDir string, jars []string) error {
	args := []string{unsigned, "-u", "-z", resPackage, "-f", dexFile, "-rf", srcDir}
	for _, jar := range jars {
		args = append(args, "-rj", jar)
	}
	if _, err := a.runner.Run(ctx, a.tools.ApkBuilder, args...); err != nil {
		return errors.Wrap(err, "build unsigned apk")
	}
	return nil
}

// SignOptions name the keystore used by Sign.
type SignOptions struct {
	Keystore  string
	StorePass string
	Alias     string
}

// Sign signs unsigned into signed with jarsigner.
func (a *Android) Sign(ctx context.Context, opts SignOptions, signed, unsigned string) error {
	out, err := a.runner.Run(ctx, a.tools.Jarsigner,
		"-storepass", opts.StorePass, "-keystore", opts.Keystore, "-signedjar", signed, unsigned, opts.Alias)
	if failure := SignClassifier.Classify("jarsigner", out); failure != nil {
		failure.ExitCode = exitCode(err)
		return failure
	}
	if err != nil {
		return errors.Wrap(err, "sign apk")
	}
	return nil
}

// Align zipaligns apk in place. Zipalign must print its verification output;
// no output at all is fatal.
func (a *Android) Align(ctx context.Context, apk string) error {
	aligned := apk + "z"
	if err := os.Remove(aligned); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove stale aligned apk")
	}
	out, err := a.runner.Run(ctx, a.tools.Zipalign, "-v", "4", apk, aligned)
	if err != nil {
		return errors.Wrap(err, "zipalign apk")
	}
	if strings.TrimSpace(out) == "" {
		return &InvocationError{Tool: filepath.Base(a.tools.Zipalign), Args: []string{"-v", "4", apk, aligned},
			Err: errors.New("no output")}
	}
	if err := os.Remove(apk); err != nil {
		return errors.Wrap(err, "remove unaligned apk")
	}
	if err := os.Rename(aligned, apk); err != nil {
		return errors.Wrap(err, "replace apk with aligned copy")
	}
	return nil
}

func exitCode(err error) int {
	var reported *ReportedFailure
	if errors.As(err, &reported) {
		return reported.ExitCode
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr.ExitCode
	}
	return 0
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
