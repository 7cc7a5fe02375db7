package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/audio"
	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/config"
	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/sink"
)

var infoCmd = &cobra.Command{
	Use:   "info [label]",
	Short: "Show resolved configuration and the output path for a label",
	Long:  `Display the resolved configuration with inheritance indicators and the file a recording with the given label would be written to. Shows which values are inherited from default vs profile-specific.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label := ""
		if len(args) == 1 {
			label = args[0]
		}

		sc, err := cfg.SessionConfig()
		if err != nil {
			return err
		}
		inh := cfg.Inheritance
		if inh == nil {
			inh = &config.InheritanceInfo{}
		}

		fmt.Printf("=== OUTPUT ===\n")
		fmt.Printf("profile: %s\n", cfg.Profile)
		fmt.Printf("next_file: %s\n", sink.NameFor(cfg.Output.Directory, label, "wav", time.Now()))

		fmt.Printf("\n=== RESOLVED CONFIGURATION ===\n")

		fmt.Printf("\n[Audio]\n")
		fmt.Printf("backend: %s %s\n", cfg.Audio.Backend, getInheritanceIndicator(inh.Audio.Backend))
		fmt.Printf("sample_rate: %d %s\n", sc.SampleRate, getInheritanceIndicator(inh.Audio.SampleRate))
		fmt.Printf("format: %s %s\n", sc.Format, getInheritanceIndicator(inh.Audio.Format))
		fmt.Printf("silence_padding_ms: %d %s\n", sc.PaddingMs, getInheritanceIndicator(inh.Audio.SilencePaddingMs))
		fmt.Printf("source: %s %s\n", valueOr(sc.Source, "(system default)"), getInheritanceIndicator(inh.Audio.Source))
		fmt.Printf("buffer_frames: %d %s\n", sc.BufferFrames, getInheritanceIndicator(inh.Audio.BufferFrames))

		padFrames := audio.SilenceFrames(sc.PaddingMs, sc.SampleRate)
		fmt.Printf("\n[Derived]\n")
		fmt.Printf("block_align: %d bytes\n", sc.BlockAlign())
		fmt.Printf("byte_rate: %d bytes/s\n", sc.ByteRate())
		fmt.Printf("padding: %d frames, %d bytes per side\n", padFrames, padFrames*sc.BlockAlign())

		fmt.Printf("\n[Output]\n")
		fmt.Printf("directory: %s %s\n", cfg.Output.Directory, getInheritanceIndicator(inh.Output.Directory))

		fmt.Printf("\n[Permission]\n")
		fmt.Printf("check_device_nodes: %t %s\n", cfg.CheckDeviceNodes(), getInheritanceIndicator(inh.Permission.CheckDeviceNodes))

		return nil
	},
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	case "global":
		return "[global]"
	case "default":
		return "[default]"
	default:
		return "[built-in]"
	}
}
