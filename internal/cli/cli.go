// Package cli provides the voicehook command line entry point.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arveller/voicehook/internal/config"
	"github.com/arveller/voicehook/internal/service"
)

// Version and Commit are set at build time via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

// NewRootCmd creates the root command for the voicehook daemon
func NewRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:   "voicehook",
		Short: "Voice memo transcription daemon",
		Long: `Voicehook watches a directory tree for new or moved audio recordings,
transcribes them with a speech-to-text engine and delivers the text to a
Discord-style webhook.`,
		Version:      fmt.Sprintf("%s (commit: %s)", Version, Commit),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "Initializing...")

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			svc, err := service.NewService(cfg)
			if err != nil {
				return err
			}

			return svc.Run(cmd.Context())
		},
	}

	rootCmd.Flags().StringVar(&configPath, "config", config.DefaultFileName, "path to the configuration file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	return rootCmd
}
