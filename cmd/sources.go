package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/audio"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available capture sources",
	Long:  `List the microphones the configured audio backend can record from, and check the configured source.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := audio.NewBackend(cfg.Audio.Backend)
		if err != nil {
			return err
		}

		sources, err := backend.ListSources()
		if err != nil {
			return fmt.Errorf("failed to list %s sources: %w", backend.GetType(), err)
		}

		fmt.Printf("Audio Sources (%s, %s backend)\n", runtime.GOOS, backend.GetType())
		fmt.Printf("=======================================\n\n")
		fmt.Printf("%d found:\n", len(sources))
		for i, source := range sources {
			fmt.Printf("  %d. %s\n", i+1, source)
		}

		fmt.Println()
		if cfg.Audio.Source == "" {
			fmt.Println("Configured source: system default")
			fmt.Println("Set audio.source in the config file to pin a device.")
			return nil
		}
		if err := backend.ValidateSource(cfg.Audio.Source); err != nil {
			fmt.Printf("Configured source: %s [unavailable: %v]\n", cfg.Audio.Source, err)
			return nil
		}
		fmt.Printf("Configured source: %s [ok]\n", cfg.Audio.Source)
		return nil
	},
}
