package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
)

// HeaderSize is the fixed size of the RIFF/WAVE header written before the payload.
const HeaderSize = 44

// maxPayload keeps the RIFF chunk size inside a uint32.
const maxPayload = math.MaxUint32 - (HeaderSize - 8)

var ErrPayloadTooLarge = errors.New("payload exceeds RIFF size limit")

// WAVHeader is the canonical 44-byte header: RIFF chunk, 16-byte fmt
// sub-chunk, data sub-chunk. All integers are little-endian on disk.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // payload + 36
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16
	AudioFormat   uint16  // 1 PCM, 3 IEEE float
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // payload length
}

// NewHeader computes the header fields for a payload of payloadLen bytes.
// An unknown format is framed as 16-bit PCM and logged.
func NewHeader(payloadLen, sampleRate, channels int, format SampleFormat) (WAVHeader, error) {
	if payloadLen < 0 || uint64(payloadLen) > maxPayload {
		return WAVHeader{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, payloadLen)
	}
	if !format.Supported() {
		slog.Warn("Unknown sample format, framing header as 16-bit PCM", "format", format)
		format = FormatPCM16
	}

	bits := uint16(format.BitsPerSample())
	blockAlign := uint16(channels) * bits / 8

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(payloadLen) + 36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   format.FormatTag(),
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: bits,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(payloadLen),
	}, nil
}

// MarshalBinary returns the 44 header bytes.
func (h WAVHeader) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeContainer writes header ++ pcm to w. pcm is not modified, so the call
// can be repeated with the same snapshot.
func EncodeContainer(w io.Writer, pcm []byte, sampleRate, channels int, format SampleFormat) error {
	header, err := NewHeader(len(pcm), sampleRate, channels, format)
	if err != nil {
		return err
	}
	raw, err := header.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	if len(pcm) == 0 {
		return nil
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	return nil
}

// ReadHeader parses and validates a 44-byte header from r.
func ReadHeader(r io.Reader) (WAVHeader, error) {
	var h WAVHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return WAVHeader{}, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if string(h.ChunkID[:]) != "RIFF" {
		return WAVHeader{}, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(h.Format[:]) != "WAVE" {
		return WAVHeader{}, fmt.Errorf("invalid WAV file: missing WAVE format")
	}
	if string(h.Subchunk1ID[:]) != "fmt " {
		return WAVHeader{}, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if string(h.Subchunk2ID[:]) != "data" {
		return WAVHeader{}, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	return h, nil
}

// Duration returns the playback length in seconds implied by the header.
func (h WAVHeader) Duration() float64 {
	if h.ByteRate == 0 {
		return 0
	}
	return float64(h.Subchunk2Size) / float64(h.ByteRate)
}
