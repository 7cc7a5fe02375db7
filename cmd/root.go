package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/config"
	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/logging"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
	closeLog     = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "ttsrec",
	Short: "Microphone recorder for text-to-speech datasets",
	Long: `ttsrec records single utterances from a microphone into WAV files,
padding every take with a short silence at both ends.

Recordings go to a local directory or to an ftp:// or sftp:// destination.
The recorder can be driven from the terminal or over HTTP with 'ttsrec serve'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Terminal logging first so config problems are reported consistently
		if _, err := logging.Setup(verboseLevel, logging.FileConfig{}); err != nil {
			return err
		}

		var err error
		cfg, err = loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		closeLog, err = logging.Setup(verboseLevel, logging.FileConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		slog.Debug("Configuration loaded", "file", cfgFile, "profile", cfg.Profile)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

// loadConfig reads the config file, falling back to built-in defaults when
// the default file does not exist.
func loadConfig() (*config.Config, error) {
	explicit := cfgFile != ""
	if !explicit {
		cfgFile = config.DefaultPath()
	}

	if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) && !explicit {
		if profile != "" && profile != "default" {
			return nil, fmt.Errorf("configuration profile '%s' not found: %s does not exist", profile, cfgFile)
		}
		slog.Debug("No config file, using defaults", "path", cfgFile)
		c := config.Default()
		return c, c.Validate()
	}

	return config.LoadWithProfile(cfgFile, profile)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/ttsrec.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 3=max tracing")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
}
