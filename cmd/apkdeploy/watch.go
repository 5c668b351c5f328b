package main

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/apkdeploy/internal/watcher"
	"github.com/httprunner/apkdeploy/pkg/deltafy"
	"github.com/httprunner/apkdeploy/pkg/deploy"
)

func newWatchCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Deploy to the emulator, then redeploy after every burst of resource edits",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, deploy.Development)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := report(s.deployer.Run(ctx)); err != nil {
				return err
			}
			w, err := watcher.New(s.cfg.ResourcesDir(), deltafy.DefaultInclude, debounce)
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			for batch := range w.Events() {
				log.Info().Int("files", len(batch.Paths)).Msg("resources changed")
				if err := report(s.deployer.Run(ctx)); err != nil {
					if ctx.Err() != nil {
						break
					}
					log.Error().Err(err).Msg("deploy failed, waiting for next change")
				}
			}
			exitCode = 0
			log.Info().Msg("watch stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "Quiet period before a batch of edits is deployed")
	return cmd
}
