package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/audio"
	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/config"
	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/metrics"
	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/service"
)

// stubService records calls and returns canned results.
type stubService struct {
	cfg       *config.Config
	state     audio.State
	beginErr  error
	endErr    error
	record    *service.SessionRecord
	sources   []string
	lastLabel string
	lastDest  string
}

func (s *stubService) Begin(_ context.Context, label string) (string, error) {
	s.lastLabel = label
	if s.beginErr != nil {
		return "", s.beginErr
	}
	s.state = audio.StateRecording
	return "/tmp/" + label + ".wav", nil
}

func (s *stubService) BeginTo(_ context.Context, destination string) error {
	s.lastDest = destination
	return s.beginErr
}

func (s *stubService) End() error {
	if s.endErr != nil {
		return s.endErr
	}
	s.state = audio.StateIdle
	return nil
}

func (s *stubService) Wait(context.Context) (*service.SessionRecord, error) {
	if s.record == nil {
		return nil, audio.ErrNotRecording
	}
	return s.record, nil
}

func (s *stubService) Status() service.Status {
	return service.Status{State: s.state, Backend: "fake", Profile: "default"}
}

func (s *stubService) History() []service.SessionRecord {
	if s.record == nil {
		return nil
	}
	return []service.SessionRecord{*s.record}
}

func (s *stubService) Sources() ([]string, error)                      { return s.sources, nil }
func (s *stubService) ListRecordings() ([]service.RecordingInfo, error) { return nil, nil }
func (s *stubService) GetConfig() *config.Config                        { return s.cfg }
func (s *stubService) GetLastError() string                             { return "" }
func (s *stubService) Close(context.Context) error                      { return nil }

func newStub(t *testing.T) *stubService {
	cfg := config.Default()
	cfg.Output.Directory = t.TempDir()
	return &stubService{cfg: cfg, state: audio.StateIdle}
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) GenericResponse {
	t.Helper()
	var resp GenericResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestBegin(t *testing.T) {
	stub := newStub(t)
	h := New(stub, "0", nil).Handler()

	rec := postForm(t, h, "/begin", url.Values{"label": {"hello"}})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "/tmp/hello.wav", resp.Location)
	assert.Equal(t, "hello", stub.lastLabel)
}

func TestBegin_Destination(t *testing.T) {
	stub := newStub(t)
	h := New(stub, "0", nil).Handler()

	rec := postForm(t, h, "/begin", url.Values{"destination": {"line-7"}})
	require.Equal(t, http.StatusOK, rec.Code)
	want := filepath.Join(stub.cfg.Output.Directory, "line-7.wav")
	assert.Equal(t, want, stub.lastDest)
	assert.Equal(t, want, decode(t, rec).Location)
}

func TestBegin_DestinationStaysInOutputDirectory(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "important.conf")
	require.NoError(t, os.WriteFile(outside, []byte("precious"), 0o644))

	for _, dest := range []string{
		outside,
		"../important.conf",
		"../take.wav",
		"sub/take.wav",
		"sftp://host/take.wav",
		"file:///etc/take.wav",
		".hidden.wav",
	} {
		t.Run(dest, func(t *testing.T) {
			stub := newStub(t)
			h := New(stub, "0", nil).Handler()

			rec := postForm(t, h, "/begin", url.Values{"destination": {dest}})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, decode(t, rec).Success)
			assert.Empty(t, stub.lastDest)
		})
	}

	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "precious", string(data))
}

func TestBegin_DestinationExists(t *testing.T) {
	stub := newStub(t)
	existing := filepath.Join(stub.cfg.Output.Directory, "take.wav")
	require.NoError(t, os.WriteFile(existing, []byte("RIFF"), 0o644))
	h := New(stub, "0", nil).Handler()

	rec := postForm(t, h, "/begin", url.Values{"destination": {"take.wav"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, stub.lastDest)
}

func TestBegin_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"active", fmt.Errorf("%w: state is RECORDING", audio.ErrSessionActive), http.StatusConflict},
		{"permission", audio.ErrPermissionDenied, http.StatusForbidden},
		{"closed", audio.ErrClosed, http.StatusServiceUnavailable},
		{"other", fmt.Errorf("failed to open capture device: boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStub(t)
			stub.beginErr = tt.err
			rec := postForm(t, New(stub, "0", nil).Handler(), "/begin", url.Values{"label": {"x"}})
			assert.Equal(t, tt.want, rec.Code)
			resp := decode(t, rec)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, "Failed to start recording")
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := New(newStub(t), "0", nil).Handler()

	for _, path := range []string{"/begin", "/end"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEnd(t *testing.T) {
	stub := newStub(t)
	stub.state = audio.StateRecording
	stub.record = &service.SessionRecord{ID: "abc", Location: "/tmp/take.wav", Saved: true}
	h := New(stub, "0", nil).Handler()

	rec := postForm(t, h, "/end", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "/tmp/take.wav", resp.Location)
}

func TestEnd_NotSaved(t *testing.T) {
	stub := newStub(t)
	stub.record = &service.SessionRecord{ID: "abc", Errors: []string{"disk full"}}
	rec := postForm(t, New(stub, "0", nil).Handler(), "/end", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec).Error, "disk full")
}

func TestEnd_NotRecording(t *testing.T) {
	stub := newStub(t)
	stub.endErr = fmt.Errorf("%w: state is IDLE", audio.ErrNotRecording)
	rec := postForm(t, New(stub, "0", nil).Handler(), "/end", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatus(t *testing.T) {
	stub := newStub(t)
	h := New(stub, "0", nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "IDLE", body["state"])
	assert.Equal(t, "fake", body["backend"])
	assert.Equal(t, "Ready to record", body["message"])
}

func TestSources(t *testing.T) {
	stub := newStub(t)
	stub.sources = []string{"mic-a", "mic-b"}
	h := New(stub, "0", nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sources", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SourcesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"mic-a", "mic-b"}, resp.Sources)
}

func TestFileDownload(t *testing.T) {
	stub := newStub(t)
	require.NoError(t, os.WriteFile(filepath.Join(stub.cfg.Output.Directory, "take.wav"), []byte("RIFF"), 0o644))
	h := New(stub, "0", nil).Handler()

	tests := []struct {
		path string
		want int
	}{
		{"/api/files/download/take.wav", http.StatusOK},
		{"/api/files/download/missing.wav", http.StatusNotFound},
		{"/api/files/download/..secret.wav", http.StatusBadRequest},
		{"/api/files/download/notes.txt", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.want, rec.Code, tt.path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files/download/take.wav", nil))
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "RIFF", string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	h := New(newStub(t), "0", reg).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ttsrec_recorder_state{state="IDLE"} 1`)

	rec = httptest.NewRecorder()
	New(newStub(t), "0", nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
