package audio

import (
	"fmt"
	"strings"
)

// SampleFormat is the numeric encoding of one captured sample.
type SampleFormat string

const (
	FormatPCM8    SampleFormat = "pcm8"
	FormatPCM16   SampleFormat = "pcm16"
	FormatPCM32   SampleFormat = "pcm32"
	FormatFloat32 SampleFormat = "float32"
)

// WAVE format tags
const (
	formatTagPCM   uint16 = 1
	formatTagFloat uint16 = 3
)

// ParseSampleFormat resolves a configuration name such as "pcm16" or "float32".
func ParseSampleFormat(name string) (SampleFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pcm8", "u8", "s8":
		return FormatPCM8, nil
	case "", "pcm16", "s16", "s16le":
		return FormatPCM16, nil
	case "pcm32", "s32", "s32le":
		return FormatPCM32, nil
	case "float32", "f32", "f32le", "float":
		return FormatFloat32, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// Supported reports whether the format can be captured and encoded.
func (f SampleFormat) Supported() bool {
	switch f {
	case FormatPCM8, FormatPCM16, FormatPCM32, FormatFloat32:
		return true
	}
	return false
}

// BitsPerSample returns the sample width, or 0 for an unknown format.
func (f SampleFormat) BitsPerSample() int {
	switch f {
	case FormatPCM8:
		return 8
	case FormatPCM16:
		return 16
	case FormatPCM32, FormatFloat32:
		return 32
	}
	return 0
}

// BytesPerSample returns BitsPerSample/8.
func (f SampleFormat) BytesPerSample() int {
	return f.BitsPerSample() / 8
}

// FormatTag is the WAVE fmt chunk audio format: 3 for IEEE float, 1 otherwise.
func (f SampleFormat) FormatTag() uint16 {
	if f == FormatFloat32 {
		return formatTagFloat
	}
	return formatTagPCM
}

func (f SampleFormat) String() string {
	return string(f)
}

// SessionConfig holds the immutable parameters of one recording session.
type SessionConfig struct {
	SampleRate   int
	Channels     int
	Format       SampleFormat
	PaddingMs    int
	BufferFrames int
	Source       string
}

// DefaultSessionConfig matches the values used for sentence recording.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SampleRate: 22050,
		Channels:   1,
		Format:     FormatPCM16,
		PaddingMs:  150,
	}
}

// Validate rejects parameter combinations the pipeline cannot capture and
// encode consistently.
func (c SessionConfig) Validate() error {
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("%w: sample rate %d out of range 8000..192000", ErrInvalidConfig, c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("%w: only mono capture is supported, got %d channels", ErrInvalidConfig, c.Channels)
	}
	if !c.Format.Supported() {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, c.Format)
	}
	if c.PaddingMs < 0 || c.PaddingMs > 10000 {
		return fmt.Errorf("%w: silence padding %dms out of range 0..10000", ErrInvalidConfig, c.PaddingMs)
	}
	if c.BufferFrames < 0 {
		return fmt.Errorf("%w: buffer frames must be >= 0, got %d", ErrInvalidConfig, c.BufferFrames)
	}
	return nil
}

// BlockAlign is the size in bytes of one frame across all channels.
func (c SessionConfig) BlockAlign() int {
	return c.Channels * c.Format.BytesPerSample()
}

// ByteRate is the number of payload bytes per second of audio.
func (c SessionConfig) ByteRate() int {
	return c.SampleRate * c.BlockAlign()
}
