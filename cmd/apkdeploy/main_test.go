package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/httprunner/apkdeploy/pkg/deploy"
)

func TestReportSetsExitCode(t *testing.T) {
	defer func() { exitCode = 0 }()

	if err := report(&deploy.Result{Outcome: deploy.Launched}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exitCode != 0 {
		t.Fatalf("launched should exit 0, got %d", exitCode)
	}

	if err := report(&deploy.Result{Outcome: deploy.TimedOut}, errors.New("no online emulator")); err != nil {
		t.Fatalf("handled outcome should not bubble up: %v", err)
	}
	if exitCode != 20 {
		t.Fatalf("timed out should exit 20, got %d", exitCode)
	}

	exitCode = 0
	boom := errors.New("scan failed")
	if err := report(&deploy.Result{}, boom); err != boom {
		t.Fatalf("unhandled error must be returned, got %v", err)
	}
}

func TestCleanAndHistoryCommands(t *testing.T) {
	project := t.TempDir()
	tiappXML := `<ti:app xmlns:ti="http://ti.appcelerator.org"><id>com.example.cli</id><name>Cli</name></ti:app>`
	if err := os.WriteFile(filepath.Join(project, "tiapp.xml"), []byte(tiappXML), 0o644); err != nil {
		t.Fatal(err)
	}
	stateDB := filepath.Join(t.TempDir(), "state.sqlite")

	rootCmd.SetArgs([]string{"clean", "--project", project, "--state-db", stateDB, "--log-level", "error"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("clean failed: %v", err)
	}
	if _, err := os.Stat(stateDB); err != nil {
		t.Fatalf("state db not created: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)
	// history only reads the state database, so no SDK is configured
	rootCmd.SetArgs([]string{"history", "--project", project, "--state-db", stateDB, "--log-level", "error"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "STARTED") {
		t.Fatalf("unexpected history output %q", out.String())
	}
}
