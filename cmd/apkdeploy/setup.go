package main

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/apkdeploy/internal/config"
	"github.com/httprunner/apkdeploy/internal/device"
	"github.com/httprunner/apkdeploy/internal/providers/adb"
	"github.com/httprunner/apkdeploy/internal/tiapp"
	"github.com/httprunner/apkdeploy/internal/toolchain"
	"github.com/httprunner/apkdeploy/pkg/deploy"
	"github.com/httprunner/apkdeploy/pkg/storage"
)

// session holds everything a deploy command wires together.
type session struct {
	cfg      *config.Config
	app      *tiapp.App
	db       *storage.DB
	deployer *deploy.Deployer
}

func (s *session) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Warn().Err(err).Msg("close state db failed")
		}
	}
}

// loadProject reads config and tiapp.xml, filling app id and name from the
// descriptor when not configured.
func loadProject(cmd *cobra.Command) (*config.Config, *tiapp.App, error) {
	cfg, app, err := loadDescriptor(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, app, nil
}

// loadDescriptor reads config and tiapp.xml without requiring the SDK, for
// commands that never touch the toolchain.
func loadDescriptor(cmd *cobra.Command) (*config.Config, *tiapp.App, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	app, err := tiapp.Load(cfg.DescriptorPath())
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(cfg.AppID) == "" {
		cfg.AppID = app.ID
	}
	app.ID = cfg.AppID
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = app.Name
	}
	app.Name = cfg.Name
	return cfg, app, nil
}

func newMonitor(cfg *config.Config, source device.Source) *device.Monitor {
	return device.NewMonitor(source, device.WaitOptions{
		MaxPolls:                 cfg.MaxPolls,
		MaxConsecutiveEmptyPolls: cfg.MaxEmptyPolls,
		PollInterval:             cfg.PollInterval,
		SettleThreshold:          cfg.SettleThreshold,
		SettleDelay:              cfg.SettleDelay,
	})
}

func openSession(ctx context.Context, cmd *cobra.Command, typ deploy.Type) (*session, error) {
	cfg, app, err := loadProject(cmd)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(ctx, cfg.StateDB)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, app: app, db: db}

	runner := toolchain.ExecRunner{Dir: cfg.BuildDir()}
	bridge := toolchain.NewBridge(runner, cfg.Tools.ADB)
	deps := deploy.Deps{
		Store:    db,
		Builder:  toolchain.NewAndroid(runner, cfg.Tools),
		Bridge:   bridge,
		Recorder: db,
	}
	if typ != deploy.Production {
		if err := bridge.StartServer(ctx); err != nil {
			log.Warn().Err(err).Msg("adb start-server failed")
		}
		provider, err := adb.NewDefault()
		if err != nil {
			s.Close()
			return nil, err
		}
		deps.Shell = provider
		deps.Devices = newMonitor(cfg, provider)
	}
	s.deployer, err = deploy.New(cfg, typ, app, deps)
	if err != nil {
		s.Close()
		return nil, err
	}
	log.Info().Str("app", app.ID).Str("name", app.Name).Str("type", string(typ)).
		Str("project", cfg.ProjectDir).Msg("deploy session ready")
	return s, nil
}

// report logs the result and records the exit code for main.
func report(res *deploy.Result, err error) error {
	if res != nil && res.Outcome != "" {
		exitCode = res.Outcome.ExitCode()
		ev := log.Info()
		if exitCode != 0 {
			ev = log.Error().Err(err)
		}
		ev.Str("outcome", string(res.Outcome)).Str("path", string(res.Path)).
			Str("serial", res.Serial).Int("attempts", res.Attempts).
			Strs("dirty", res.Stages.DirtyStages()).Msg("deploy finished")
		if err != nil && exitCode != 0 {
			return nil
		}
	}
	return err
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func requireFlag(cmd *cobra.Command, name string) error {
	v, _ := cmd.Flags().GetString(name)
	if strings.TrimSpace(v) == "" {
		return errors.Errorf("--%s is required", name)
	}
	return nil
}
