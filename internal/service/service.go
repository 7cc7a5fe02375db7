package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/audio"
	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/config"
	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/metrics"
	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/sink"
)

const defaultHistorySize = 20

// Service represents the core recording service interface
type Service interface {
	// Recording operations
	Begin(ctx context.Context, label string) (string, error)
	BeginTo(ctx context.Context, destination string) error
	End() error
	Wait(ctx context.Context) (*SessionRecord, error)

	// Information operations
	Status() Status
	History() []SessionRecord
	Sources() ([]string, error)
	ListRecordings() ([]RecordingInfo, error)
	GetConfig() *config.Config
	GetLastError() string

	Close(ctx context.Context) error
}

// Status is a snapshot of the recorder
type Status struct {
	State     audio.State        `json:"state"`
	Session   *audio.SessionInfo `json:"session,omitempty"`
	LastError string             `json:"last_error,omitempty"`
	Backend   string             `json:"backend"`
	Profile   string             `json:"profile"`
}

// SessionRecord describes a session from Started until the recorder is idle again
type SessionRecord struct {
	ID        string    `json:"id"`
	Label     string    `json:"label,omitempty"`
	Location  string    `json:"location"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Saved     bool      `json:"saved"`
	Errors    []string  `json:"errors,omitempty"`

	done chan struct{}
}

// RecordingInfo describes a finished recording in the output directory
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	Duration     float64   `json:"duration_seconds"`
	SampleRate   uint32    `json:"sample_rate"`
	BitDepth     uint16    `json:"bit_depth"`
}

// Options wires optional collaborators into the service
type Options struct {
	// Backend overrides the backend named in the configuration
	Backend audio.AudioBackend

	// Registerer receives the recorder metrics when set
	Registerer prometheus.Registerer

	// Listener additionally receives the recorder's status callbacks
	Listener audio.Listener

	HistorySize int
}

// TTSService is the main service implementation
type TTSService struct {
	cfg      *config.Config
	backend  audio.AudioBackend
	recorder *audio.Recorder
	metrics  *metrics.Metrics

	// Begin calls are serialized so pending belongs to exactly one attempt
	beginMu sync.Mutex

	mu          sync.Mutex
	pending     SessionRecord
	current     *SessionRecord
	history     []SessionRecord
	historySize int

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a new service instance
func New(cfg *config.Config, opts Options) (*TTSService, error) {
	sc, err := cfg.SessionConfig()
	if err != nil {
		return nil, err
	}

	backend := opts.Backend
	if backend == nil {
		backend, err = audio.NewBackend(cfg.Audio.Backend)
		if err != nil {
			return nil, err
		}
	}

	var auth audio.Authorizer = audio.AllowAll
	if cfg.CheckDeviceNodes() {
		auth = audio.NewDeviceNodeAuthorizer(cfg.Permission.DeviceNodes...)
	}

	s := &TTSService{
		cfg:         cfg,
		backend:     backend,
		historySize: opts.HistorySize,
	}
	if s.historySize <= 0 {
		s.historySize = defaultHistorySize
	}
	if opts.Registerer != nil {
		s.metrics = metrics.New(opts.Registerer)
	}

	s.recorder, err = audio.NewRecorder(audio.Options{
		Config:     sc,
		Opener:     backend,
		Authorizer: auth,
		Listener:   opts.Listener,
		Observer:   s,
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("Service created",
		"backend", backend.GetType(),
		"profile", cfg.Profile,
		"sample_rate", sc.SampleRate,
		"format", sc.Format)
	return s, nil
}

// Begin starts a recording named after label in the configured output directory
func (s *TTSService) Begin(ctx context.Context, label string) (string, error) {
	dest := sink.NameFor(s.cfg.Output.Directory, label, "wav", time.Now())
	return dest, s.begin(ctx, label, dest)
}

// BeginTo starts a recording written to destination (path or URL)
func (s *TTSService) BeginTo(ctx context.Context, destination string) error {
	return s.begin(ctx, "", destination)
}

func (s *TTSService) begin(ctx context.Context, label, destination string) error {
	s.beginMu.Lock()
	defer s.beginMu.Unlock()

	if state := s.recorder.State(); state != audio.StateIdle {
		slog.Warn("Begin ignored, session already in progress", "state", state)
		return fmt.Errorf("%w: state is %s", audio.ErrSessionActive, state)
	}

	s.clearLastError()
	out, err := sink.Open(ctx, destination, sink.Options{
		Timeout:               s.cfg.RemoteTimeout(),
		KeyFile:               s.cfg.Output.Remote.KeyFile,
		KnownHostsFile:        s.cfg.Output.Remote.KnownHostsFile,
		InsecureIgnoreHostKey: s.cfg.Output.Remote.InsecureIgnoreHostKey,
	})
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to open output: %v", err))
		return fmt.Errorf("failed to open output: %w", err)
	}

	s.mu.Lock()
	s.pending = SessionRecord{Label: label, Location: out.Location()}
	s.mu.Unlock()

	if err := s.recorder.Begin(ctx, out); err != nil {
		// rejected before the recorder took ownership of the sink
		if errors.Is(err, audio.ErrSessionActive) || errors.Is(err, audio.ErrClosed) {
			_ = out.Discard()
		}
		return err
	}
	return nil
}

// End stops the current recording. The file is written in the background;
// use Wait to block until it is done.
func (s *TTSService) End() error {
	return s.recorder.End()
}

// Wait blocks until the current session, if any, has finished and returns
// its record. Without an active session it returns the most recent one.
func (s *TTSService) Wait(ctx context.Context) (*SessionRecord, error) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	if current != nil {
		select {
		case <-current.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return nil, audio.ErrNotRecording
	}
	last := s.history[len(s.history)-1]
	return &last, nil
}

// Status returns a snapshot of the recorder
func (s *TTSService) Status() Status {
	return Status{
		State:     s.recorder.State(),
		Session:   s.recorder.Session(),
		LastError: s.GetLastError(),
		Backend:   string(s.backend.GetType()),
		Profile:   s.cfg.Profile,
	}
}

// History returns finished sessions, oldest first
func (s *TTSService) History() []SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Sources lists capture sources of the active backend
func (s *TTSService) Sources() ([]string, error) {
	return s.backend.ListSources()
}

// GetConfig returns the current configuration
func (s *TTSService) GetConfig() *config.Config {
	return s.cfg
}

// Close finalizes any active session and stops background work
func (s *TTSService) Close(ctx context.Context) error {
	return s.recorder.Shutdown(ctx)
}

// ObserveEvent keeps the session history and forwards to metrics. It runs
// under the recorder's lock and must not call back into the recorder.
func (s *TTSService) ObserveEvent(ev audio.Event) {
	s.metrics.ObserveEvent(ev)

	switch ev.Kind {
	case audio.EventStarted:
		s.mu.Lock()
		record := s.pending
		record.ID = ev.SessionID
		record.StartTime = time.Now()
		record.done = make(chan struct{})
		s.current = &record
		s.mu.Unlock()

	case audio.EventStopped:
		s.mu.Lock()
		if s.current != nil && s.current.ID == ev.SessionID {
			s.current.Saved = true
			s.current.Location = ev.Location
		}
		s.mu.Unlock()

	case audio.EventError:
		s.mu.Lock()
		if s.current != nil && s.current.ID == ev.SessionID {
			s.current.Errors = append(s.current.Errors, ev.Message)
		}
		s.mu.Unlock()
		s.setLastError(ev.Message)
	}
}

// ObserveState closes out the current session once the recorder is idle
func (s *TTSService) ObserveState(state audio.State) {
	s.metrics.ObserveState(state)
	if state != audio.StateIdle {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	record := s.current
	s.current = nil
	record.EndTime = time.Now()

	s.history = append(s.history, *record)
	if len(s.history) > s.historySize {
		s.history = s.history[len(s.history)-s.historySize:]
	}
	close(record.done)
}

func (s *TTSService) ObserveEncode(payloadBytes int, elapsed time.Duration) {
	s.metrics.ObserveEncode(payloadBytes, elapsed)
}

// ListRecordings returns the WAV files in a local output directory, newest first
func (s *TTSService) ListRecordings() ([]RecordingInfo, error) {
	recordingDir := s.cfg.Output.Directory
	if strings.Contains(recordingDir, "://") {
		return nil, fmt.Errorf("listing recordings requires a local output directory, got %s", recordingDir)
	}

	files, err := os.ReadDir(recordingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RecordingInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	recordings := []RecordingInfo{}
	for _, file := range files {
		if file.IsDir() || strings.HasPrefix(file.Name(), ".") {
			continue
		}
		if strings.ToLower(filepath.Ext(file.Name())) != ".wav" {
			continue
		}

		filePath := filepath.Join(recordingDir, file.Name())
		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info for recording", "file", file.Name(), "error", err)
			continue
		}

		rec := RecordingInfo{
			Name:         file.Name(),
			Path:         filePath,
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
		}
		if h, err := readHeader(filePath); err == nil {
			rec.Duration = h.Duration()
			rec.SampleRate = h.SampleRate
			rec.BitDepth = h.BitsPerSample
		} else {
			slog.Debug("Skipping header of unreadable recording", "file", file.Name(), "error", err)
		}
		recordings = append(recordings, rec)
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})
	return recordings, nil
}

func readHeader(path string) (audio.WAVHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.WAVHeader{}, err
	}
	defer f.Close()
	return audio.ReadHeader(f)
}

// GetLastError returns the last error message (thread-safe)
func (s *TTSService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *TTSService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err
}

// clearLastError clears the last error message (thread-safe)
func (s *TTSService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
