package main

import (
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/apkdeploy/internal/config"
	"github.com/httprunner/apkdeploy/pkg/storage"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Forget recorded change state so the next deploy rebuilds everything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			db, err := storage.Open(cmd.Context(), cfg.StateDB)
			if err != nil {
				return err
			}
			defer db.Close()

			prefix := cfg.ProjectDir + string(filepath.Separator)
			removed, err := db.ClearPrefix(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			support := absPath(cfg.SupportDir)
			if !strings.HasPrefix(support, prefix) {
				if err := db.Clear(cmd.Context(), support); err != nil {
					return err
				}
			}
			log.Info().Str("project", cfg.ProjectDir).Int64("entries", removed).Msg("change state cleared")
			return nil
		},
	}
}
