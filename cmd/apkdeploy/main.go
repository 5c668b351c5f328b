package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/apkdeploy/internal/env"
	"github.com/httprunner/apkdeploy/pkg/deploy"
)

var rootCmd = &cobra.Command{
	Use:   "apkdeploy",
	Short: "Incrementally build and deploy Titanium Android apps",
	Long: `apkdeploy rebuilds only the Android build stages whose inputs changed since the last run,
waits for an emulator or device and either reinstalls the package or relaunches the app with freshly pushed resources.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		if err := env.Ensure(project); err != nil {
			log.Warn().Err(err).Msg("load .env failed")
		}
		level, _ := cmd.Flags().GetString("log-level")
		setLogLevel(level)
		return nil
	},
}

// exitCode is set by commands that end with a deploy outcome.
var exitCode int

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()

	pf := rootCmd.PersistentFlags()
	pf.String("project", ".", "Titanium project directory containing tiapp.xml")
	pf.String("sdk", "", "Android SDK directory")
	pf.String("support-dir", "", "Titanium Android support directory (default <project>/build/support)")
	pf.String("app-id", "", "Application id (default from tiapp.xml)")
	pf.String("name", "", "Application name (default from tiapp.xml)")
	pf.String("state-db", "", "Snapshot and history database (default ~/.apkdeploy/deltafy.sqlite)")
	pf.String("log-level", "info", "Log level: trace|debug|info|warn|error")
	pf.String("android-api", "4", "Android API level of the build target")
	pf.Duration("poll-interval", 5*time.Second, "Interval between device polls")
	pf.Int("max-polls", 30, "Device polls before timing out")
	pf.Int("max-empty-polls", 6, "Consecutive empty device lists before giving up")
	pf.Duration("settle-threshold", time.Second, "Wait after which a found device gets extra settle time")
	pf.Duration("settle-delay", 20*time.Second, "Settle time for freshly booted devices")
	pf.Int("install-attempts", 5, "Install attempts before failing")
	pf.Duration("install-backoff", 3*time.Second, "Pause between install attempts")
	pf.Bool("google-apis", false, "Target supports the Google APIs add-on")
	pf.Bool("force", false, "Clear change state and rebuild everything")

	rootCmd.AddCommand(
		newDeployCmd("simulator", "Build, install and launch on the emulator", deploy.Development),
		newDeployCmd("install", "Build and install on a device without launching", deploy.Test),
		newDistributeCmd(),
		newEmulatorCmd(),
		newCleanCmd(),
		newWatchCmd(),
		newHistoryCmd(),
	)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("apkdeploy command failed")
		if exitCode == 0 {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}
