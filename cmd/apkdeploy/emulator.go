package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/apkdeploy/internal/config"
	"github.com/httprunner/apkdeploy/internal/device"
	"github.com/httprunner/apkdeploy/internal/providers/adb"
	"github.com/httprunner/apkdeploy/internal/toolchain"
)

func newEmulatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emulator",
		Short: "Create the AVD on demand and run the Android emulator until it exits",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag(cmd, "avd-id"); err != nil {
				return err
			}
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.SDKDir == "" {
				return errors.New("missing required config: sdk")
			}
			ctx := cmd.Context()
			runner := toolchain.ExecRunner{}
			if err := toolchain.NewBridge(runner, cfg.Tools.ADB).StartServer(ctx); err != nil {
				log.Warn().Err(err).Msg("adb start-server failed")
			}

			if provider, err := adb.NewDefault(); err == nil {
				if records, err := provider.ListDevices(ctx); err == nil {
					for _, rec := range records {
						if rec.Role == device.RoleEmulator && rec.Port == cfg.EmulatorPort {
							log.Info().Str("serial", rec.Serial).Msg("emulator is running")
							return nil
						}
					}
				}
			}

			home, err := os.UserHomeDir()
			if err != nil {
				return errors.Wrap(err, "locate user home")
			}
			emu := toolchain.NewEmulator(runner, toolchain.EmulatorOptions{
				Emulator: cfg.Tools.Emulator,
				Android:  cfg.Tools.Android,
				MkSDCard: cfg.Tools.MkSDCard,
				HomeDir:  filepath.Dir(cfg.StateDB),
				AVDDir:   filepath.Join(home, ".android", "avd"),
				Port:     cfg.EmulatorPort,
			})
			name, err := emu.EnsureAVD(ctx, cfg.AVDID, cfg.AVDSkin)
			if err != nil {
				return err
			}
			log.Debug().Str("sdcard", emu.SDCard()).Str("avd", name).Str("sdk", cfg.SDKDir).Msg("emulator settings")
			return emu.Run(ctx, name)
		},
	}
	cmd.Flags().String("avd-id", "", "SDK target id of the virtual device")
	cmd.Flags().String("avd-skin", "HVGA", "Virtual device skin")
	cmd.Flags().Int("emulator-port", 5560, "Emulator console port")
	return cmd
}
