package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/ecosort/cmd/classify"
	"github.com/tphakala/ecosort/cmd/models"
	"github.com/tphakala/ecosort/cmd/resume"
	"github.com/tphakala/ecosort/cmd/review"
	"github.com/tphakala/ecosort/cmd/serve"
	"github.com/tphakala/ecosort/cmd/sessions"
	"github.com/tphakala/ecosort/internal/buildinfo"
	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/telemetry"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ecosort",
		Short:         "Waste sorting classification sessions",
		Version:       build.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the ecosort version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), build.String())
		},
	}

	rootCmd.AddCommand(
		classify.Command(settings),
		resume.Command(settings),
		sessions.Command(settings),
		review.Command(settings),
		models.Command(settings),
		serve.Command(settings),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(settings)
	}

	return rootCmd
}

// initialize validates the merged flag and file settings and installs the
// global logger and telemetry before any subcommand runs.
func initialize(settings *conf.Settings) error {
	if err := conf.ValidateSettings(settings); err != nil {
		return err
	}

	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}
	central, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	return telemetry.Init(settings)
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Prediction.Mode, "mode", viper.GetString("prediction.mode"), "Processing mode for new sessions: cloud or ondevice")
	rootCmd.PersistentFlags().StringVar(&settings.Prediction.Group, "group", viper.GetString("prediction.group"), "Taxonomy group snapshotted onto new sessions")
	rootCmd.PersistentFlags().StringVar(&settings.Model.Version, "model", viper.GetString("model.version"), "On-device model version")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
