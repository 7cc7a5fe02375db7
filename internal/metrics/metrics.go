// Package metrics exposes recorder activity as Prometheus metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/audio"
)

const namespace = "ttsrec"

var states = []audio.State{
	audio.StateIdle,
	audio.StateStarting,
	audio.StateRecording,
	audio.StateStopping,
	audio.StateFinalizing,
}

// Metrics contains all Prometheus metrics for the recorder. A nil *Metrics
// is a valid observer that records nothing.
type Metrics struct {
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionErrors     *prometheus.CounterVec
	CapturedBytes     prometheus.Counter
	EncodeDuration    prometheus.Histogram
	RecorderState     *prometheus.GaugeVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of recording sessions started",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Total number of recordings written to their destination",
		}),
		SessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Total number of session errors by kind",
		}, []string{"kind"}),
		CapturedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captured_bytes_total",
			Help:      "Total payload bytes encoded, silence padding included",
		}),
		EncodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "encode_duration_seconds",
			Help:      "Time taken to write a finished recording",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		RecorderState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recorder_state",
			Help:      "1 for the state the recorder is currently in",
		}, []string{"state"}),
	}
	m.ObserveState(audio.StateIdle)
	return m
}

// ObserveEvent counts session starts, completions and errors.
func (m *Metrics) ObserveEvent(ev audio.Event) {
	if m == nil {
		return
	}
	switch ev.Kind {
	case audio.EventStarted:
		m.SessionsStarted.Inc()
	case audio.EventStopped:
		m.SessionsCompleted.Inc()
	case audio.EventError:
		m.SessionErrors.WithLabelValues(ErrorKind(ev.Err)).Inc()
	}
}

// ObserveState marks state as the current one.
func (m *Metrics) ObserveState(state audio.State) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.RecorderState.WithLabelValues(string(s)).Set(v)
	}
}

// ObserveEncode records the size and duration of a finished write.
func (m *Metrics) ObserveEncode(payloadBytes int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CapturedBytes.Add(float64(payloadBytes))
	m.EncodeDuration.Observe(elapsed.Seconds())
}

// ErrorKind buckets a session error for the kind label.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, audio.ErrPermissionDenied):
		return "permission"
	case errors.Is(err, audio.ErrNilSink):
		return "output"
	case audio.IsFatalReadError(err):
		return "device"
	}
	return "other"
}
