package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/audio"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.wav>",
	Short: "Print the header of a recorded WAV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		h, err := audio.ReadHeader(f)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		info, err := f.Stat()
		if err != nil {
			return err
		}

		fmt.Printf("file: %s\n", args[0])
		fmt.Printf("audio_format: %d\n", h.AudioFormat)
		fmt.Printf("channels: %d\n", h.NumChannels)
		fmt.Printf("sample_rate: %d\n", h.SampleRate)
		fmt.Printf("bits_per_sample: %d\n", h.BitsPerSample)
		fmt.Printf("byte_rate: %d\n", h.ByteRate)
		fmt.Printf("block_align: %d\n", h.BlockAlign)
		fmt.Printf("data_bytes: %d\n", h.Subchunk2Size)
		fmt.Printf("duration: %.3fs\n", h.Duration())
		if want := int64(h.Subchunk2Size) + audio.HeaderSize; info.Size() != want {
			fmt.Printf("warning: file is %d bytes, header describes %d\n", info.Size(), want)
		}
		return nil
	},
}
