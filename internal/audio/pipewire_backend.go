package audio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const (
	pwRecordBinary = "pw-record"

	// pipewireQuantum is the default graph quantum in frames
	pipewireQuantum = 1024

	stopTimeout = 5 * time.Second
)

// PipeWireBackend implements the AudioBackend interface for PipeWire
type PipeWireBackend struct {
	pipewire *PipeWire
	lookPath func(string) (string, error)
}

// NewPipeWireBackend creates a backend that captures through pw-record
func NewPipeWireBackend() *PipeWireBackend {
	return &PipeWireBackend{
		pipewire: NewPipeWire(),
		lookPath: exec.LookPath,
	}
}

// MinBufferSize returns one graph quantum worth of bytes
func (p *PipeWireBackend) MinBufferSize(cfg SessionConfig) (int, error) {
	if !cfg.Format.Supported() {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, cfg.Format)
	}
	return minBufferBytes(cfg, pipewireQuantum), nil
}

// Open prepares a pw-record process. The device is not acquired until Start.
func (p *PipeWireBackend) Open(cfg SessionConfig) (FrameSource, error) {
	bin, err := p.lookPath(pwRecordBinary)
	if err != nil {
		return nil, fmt.Errorf("%s not available: %w", pwRecordBinary, err)
	}
	if err := p.ValidateSource(cfg.Source); err != nil {
		return nil, err
	}
	format, err := pwFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	args := []string{
		"--raw",
		"--rate", strconv.Itoa(cfg.SampleRate),
		"--channels", strconv.Itoa(cfg.Channels),
		"--format", format,
	}
	if cfg.Source != "" && cfg.Source != "default" {
		args = append(args, "--target", nodeName(cfg.Source))
	}
	args = append(args, "-")

	return &pwRecordSource{bin: bin, args: args}, nil
}

// ListSources returns available PipeWire output ports
func (p *PipeWireBackend) ListSources() ([]string, error) {
	return p.pipewire.ListPorts()
}

// ValidateSource validates a PipeWire source
func (p *PipeWireBackend) ValidateSource(source string) error {
	return p.pipewire.ValidatePort(source)
}

// GetType returns the backend type
func (p *PipeWireBackend) GetType() BackendType {
	return BackendTypePipeWire
}

func pwFormat(f SampleFormat) (string, error) {
	switch f {
	case FormatPCM8:
		return "u8", nil
	case FormatPCM16:
		return "s16", nil
	case FormatPCM32:
		return "s32", nil
	case FormatFloat32:
		return "f32", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// pwRecordSource streams raw frames from a pw-record child process
type pwRecordSource struct {
	bin  string
	args []string

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdout   *os.File
	done     chan error
	released bool
}

func (s *pwRecordSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return fmt.Errorf("%w: source already released", ErrInvalidOperation)
	}
	if s.cmd != nil {
		return nil
	}

	// exec must not own stdout: Wait would close it before buffered frames
	// are read.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	cmd := exec.Command(s.bin, s.args...)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	slog.Debug("Starting pw-record", "args", s.args)
	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("failed to start %s: %w", s.bin, err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.done = make(chan error, 1)
	go readOutput(stderr)
	go func() { s.done <- cmd.Wait() }()

	return nil
}

// Read returns frames until pw-record has exited and everything it wrote has
// been consumed.
func (s *pwRecordSource) Read(buf []byte) (int, error) {
	s.mu.Lock()
	stdout := s.stdout
	s.mu.Unlock()

	if stdout == nil {
		return 0, ErrInvalidOperation
	}
	n, err := stdout.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return n, fmt.Errorf("%w: pw-record exited", ErrDeadObject)
		}
		return n, fmt.Errorf("%w: %v", ErrDevice, err)
	}
	return n, nil
}

// Stop interrupts pw-record and waits for it, killing it after stopTimeout
func (s *pwRecordSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *pwRecordSource) stopLocked() error {
	if s.cmd == nil {
		return nil
	}
	cmd := s.cmd
	s.cmd = nil

	stdout := s.stdout
	s.stdout = nil
	defer stdout.Close()

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to interrupt pw-record, killing", "error", err)
		_ = cmd.Process.Kill()
	}

	select {
	case err := <-s.done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && !exitErr.Exited() {
				// terminated by our signal
				return nil
			}
			return fmt.Errorf("pw-record failed: %w", err)
		}
		return nil
	case <-time.After(stopTimeout):
		slog.Warn("pw-record did not exit within timeout, force killing")
		_ = cmd.Process.Kill()
		<-s.done
		return nil
	}
}

func (s *pwRecordSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	return s.stopLocked()
}

// readOutput forwards child stderr to the debug log
func readOutput(pipe io.ReadCloser) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		slog.Debug("pw-record output", "line", scanner.Text())
	}
	pipe.Close()
}
