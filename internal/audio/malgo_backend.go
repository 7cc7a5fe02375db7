package audio

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

const (
	// malgoPeriodFrames is requested from miniaudio when the configuration
	// does not set a buffer size
	malgoPeriodFrames = 512

	// malgoQueueDepth bounds the number of periods buffered between the
	// device callback and Read
	malgoQueueDepth = 64
)

// MalgoBackend captures through miniaudio
type MalgoBackend struct{}

// NewMalgoBackend creates a new miniaudio backend
func NewMalgoBackend() *MalgoBackend {
	return &MalgoBackend{}
}

func (m *MalgoBackend) MinBufferSize(cfg SessionConfig) (int, error) {
	if _, err := malgoFormat(cfg.Format); err != nil {
		return 0, err
	}
	return minBufferBytes(cfg, malgoPeriodFrames), nil
}

// Open initializes the context and capture device. Anything acquired before
// a failure is released before returning.
func (m *MalgoBackend) Open(cfg SessionConfig) (FrameSource, error) {
	format, err := malgoFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	ctx, err := malgo.InitContext(platformBackends(), malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize context: %w", err)
	}

	src := &malgoSource{
		ctx:    ctx,
		frames: make(chan []byte, malgoQueueDepth),
		dead:   make(chan struct{}),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = format
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(max(cfg.BufferFrames, malgoPeriodFrames))
	deviceConfig.Alsa.NoMMap = 1

	if cfg.Source != "" && cfg.Source != "default" {
		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			src.freeContext()
			return nil, fmt.Errorf("failed to get devices: %w", err)
		}
		info, ok := selectCaptureDevice(infos, cfg.Source)
		if !ok {
			src.freeContext()
			return nil, fmt.Errorf("no capture device matches %q", cfg.Source)
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: src.onData,
		Stop: src.onStop,
	})
	if err != nil {
		src.freeContext()
		return nil, fmt.Errorf("failed to initialize device: %w", err)
	}
	src.device = device

	return src, nil
}

// ListSources returns the names of the capture devices
func (m *MalgoBackend) ListSources() ([]string, error) {
	ctx, err := malgo.InitContext(platformBackends(), malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	sources := make([]string, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if id, err := hexToASCII(info.ID.String()); err == nil && runtime.GOOS == "linux" {
			name = fmt.Sprintf("%s, %s", name, id)
		}
		sources = append(sources, name)
	}
	return sources, nil
}

func (m *MalgoBackend) ValidateSource(source string) error {
	if source == "" || source == "default" {
		return nil
	}
	sources, err := m.ListSources()
	if err != nil {
		return err
	}
	for _, s := range sources {
		if strings.Contains(s, source) {
			return nil
		}
	}
	return fmt.Errorf("capture device not found: %s", source)
}

func (m *MalgoBackend) GetType() BackendType {
	return BackendTypeMalgo
}

func platformBackends() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	}
	return nil
}

func malgoFormat(f SampleFormat) (malgo.FormatType, error) {
	switch f {
	case FormatPCM8:
		return malgo.FormatU8, nil
	case FormatPCM16:
		return malgo.FormatS16, nil
	case FormatPCM32:
		return malgo.FormatS32, nil
	case FormatFloat32:
		return malgo.FormatF32, nil
	}
	return malgo.FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// selectCaptureDevice matches on decoded device id or a name substring
func selectCaptureDevice(infos []malgo.DeviceInfo, source string) (malgo.DeviceInfo, bool) {
	for _, info := range infos {
		decodedID, err := hexToASCII(info.ID.String())
		if err != nil {
			continue
		}
		if decodedID == source || strings.Contains(info.Name(), source) {
			return info, true
		}
	}
	return malgo.DeviceInfo{}, false
}

// hexToASCII converts a hexadecimal string to an ASCII string.
func hexToASCII(hexStr string) (string, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\x00"), nil
}

// malgoSource adapts miniaudio's push callbacks to the pull-based Read
type malgoSource struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	frames  chan []byte
	pending []byte

	dead     chan struct{}
	deadOnce sync.Once
	stopping atomic.Bool
	overruns atomic.Int64

	mu       sync.Mutex
	started  bool
	released bool
}

func (s *malgoSource) onData(_, input []byte, _ uint32) {
	frame := make([]byte, len(input))
	copy(frame, input)
	select {
	case s.frames <- frame:
	default:
		s.overruns.Add(1)
	}
}

func (s *malgoSource) onStop() {
	if !s.stopping.Load() {
		slog.Warn("Capture device stopped unexpectedly")
	}
	s.deadOnce.Do(func() { close(s.dead) })
}

func (s *malgoSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.device == nil {
		return fmt.Errorf("%w: device not initialized", ErrInvalidOperation)
	}
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("failed to start device: %w", err)
	}
	s.started = true
	return nil
}

func (s *malgoSource) Read(buf []byte) (int, error) {
	if len(s.pending) == 0 {
		select {
		case frame := <-s.frames:
			s.pending = frame
		case <-s.dead:
			// drain what the device delivered before it went away
			select {
			case frame := <-s.frames:
				s.pending = frame
			default:
				return 0, fmt.Errorf("%w: capture device stopped", ErrDeadObject)
			}
		}
	}
	n := copy(buf, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *malgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.device == nil {
		return nil
	}
	s.started = false
	s.stopping.Store(true)
	if n := s.overruns.Load(); n > 0 {
		slog.Warn("Capture queue overruns dropped frames", "periods", n)
	}
	if err := s.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}
	return nil
}

func (s *malgoSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	s.started = false
	s.stopping.Store(true)
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	s.freeContext()
	// unblock a Read still waiting for a period
	s.deadOnce.Do(func() { close(s.dead) })
	return nil
}

func (s *malgoSource) freeContext() {
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
}
