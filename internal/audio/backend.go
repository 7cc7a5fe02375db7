package audio

import (
	"fmt"
	"os/exec"
	"strings"
)

// FrameSource is an opened capture stream.
type FrameSource interface {
	Start() error
	// Read fills buf with up to len(buf) bytes of frames. A zero-length read
	// with a nil error is valid. Errors matching IsFatalReadError end the
	// session; other errors are transient.
	Read(buf []byte) (int, error)
	Stop() error
	// Release frees the device. It must be safe to call more than once and
	// on a source that was never started.
	Release() error
}

// Opener opens capture streams for a session configuration.
type Opener interface {
	// MinBufferSize reports the smallest read buffer, in bytes, the device
	// accepts for cfg.
	MinBufferSize(cfg SessionConfig) (int, error)
	Open(cfg SessionConfig) (FrameSource, error)
}

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypeMalgo    BackendType = "malgo"
	BackendTypeAuto     BackendType = "auto"
)

// AudioBackend is an Opener that can also enumerate its devices.
type AudioBackend interface {
	Opener

	// List available audio sources
	ListSources() ([]string, error)

	// Validate if a source is available
	ValidateSource(source string) error

	// Get the backend type
	GetType() BackendType
}

// NewBackend returns the backend named in configuration.
func NewBackend(name string) (AudioBackend, error) {
	switch determineBackend(name) {
	case BackendTypePipeWire:
		return NewPipeWireBackend(), nil
	case BackendTypeMalgo:
		return NewMalgoBackend(), nil
	}
	return nil, fmt.Errorf("unknown audio backend: %s", name)
}

// determineBackend resolves "auto" to PipeWire when pw-record is installed.
func determineBackend(name string) BackendType {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pipewire":
		return BackendTypePipeWire
	case "malgo", "miniaudio":
		return BackendTypeMalgo
	case "", "auto":
		if _, err := exec.LookPath(pwRecordBinary); err == nil {
			return BackendTypePipeWire
		}
		return BackendTypeMalgo
	}
	return BackendType(name)
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	backends := []BackendType{BackendTypeMalgo}
	if _, err := exec.LookPath(pwRecordBinary); err == nil {
		backends = append([]BackendType{BackendTypePipeWire}, backends...)
	}
	return backends
}

// minBufferBytes is the read size used when the configuration leaves
// BufferFrames at zero.
func minBufferBytes(cfg SessionConfig, frames int) int {
	if cfg.BufferFrames > frames {
		frames = cfg.BufferFrames
	}
	return frames * cfg.BlockAlign()
}
