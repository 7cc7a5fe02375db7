package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSampleFormat(t *testing.T) {
	tests := []struct {
		name string
		want SampleFormat
	}{
		{"", FormatPCM16},
		{"pcm16", FormatPCM16},
		{"S16LE", FormatPCM16},
		{"u8", FormatPCM8},
		{"pcm32", FormatPCM32},
		{"f32", FormatFloat32},
		{" float32 ", FormatFloat32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSampleFormat(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseSampleFormat("pcm24")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSampleFormat_Widths(t *testing.T) {
	assert.Equal(t, 8, FormatPCM8.BitsPerSample())
	assert.Equal(t, 2, FormatPCM16.BytesPerSample())
	assert.Equal(t, 32, FormatFloat32.BitsPerSample())
	assert.Equal(t, 0, SampleFormat("pcm24").BitsPerSample())

	assert.Equal(t, uint16(3), FormatFloat32.FormatTag())
	assert.Equal(t, uint16(1), FormatPCM32.FormatTag())
}

func TestSessionConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultSessionConfig().Validate())

	cfg := DefaultSessionConfig()
	assert.Equal(t, 2, cfg.BlockAlign())
	assert.Equal(t, 44100, cfg.ByteRate())

	tests := []struct {
		name   string
		modify func(*SessionConfig)
		want   error
	}{
		{"rate too low", func(c *SessionConfig) { c.SampleRate = 4000 }, ErrInvalidConfig},
		{"stereo", func(c *SessionConfig) { c.Channels = 2 }, ErrInvalidConfig},
		{"unknown format", func(c *SessionConfig) { c.Format = "pcm24" }, ErrUnsupportedFormat},
		{"negative padding", func(c *SessionConfig) { c.PaddingMs = -1 }, ErrInvalidConfig},
		{"negative buffer", func(c *SessionConfig) { c.BufferFrames = -8 }, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultSessionConfig()
			tt.modify(&c)
			assert.ErrorIs(t, c.Validate(), tt.want)
		})
	}
}

func TestIsFatalReadError(t *testing.T) {
	assert.True(t, IsFatalReadError(ErrDeadObject))
	assert.True(t, IsFatalReadError(ErrInvalidOperation))
	assert.True(t, IsFatalReadError(ErrBadValue))
	assert.True(t, IsFatalReadError(ErrDevice))
	assert.False(t, IsFatalReadError(ErrClosed))
	assert.False(t, IsFatalReadError(nil))
}
