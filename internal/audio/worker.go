package audio

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// captureWorker runs the read loop for one session. It owns the source and
// the accumulator from the moment it is submitted until run returns.
type captureWorker struct {
	cfg     SessionConfig
	source  FrameSource
	acc     *Accumulator
	bufSize int
	stop    *atomic.Bool

	// report surfaces a failure as an Error event
	report func(err error)

	started bool
}

// run captures until stop is set or the source fails fatally, padding the
// recording with silence on both ends. The source is always released. The
// returned error is the fault that ended the session early, if any.
func (w *captureWorker) run() (fault error) {
	defer func() {
		if r := recover(); r != nil {
			fault = fmt.Errorf("capture worker panicked: %v", r)
			w.report(fault)
		}
		w.teardown()
	}()

	if err := w.source.Start(); err != nil {
		fault = fmt.Errorf("failed to start capture: %w", err)
		w.report(fault)
		return fault
	}
	w.started = true

	bytesPerSample := w.cfg.BlockAlign()
	lead := w.acc.AppendSilence(w.cfg.PaddingMs, w.cfg.SampleRate, bytesPerSample)
	slog.Debug("Capture started", "lead_silence_bytes", lead, "buffer_bytes", w.bufSize)

	buf := make([]byte, w.bufSize)
	for !w.stop.Load() {
		n, err := w.source.Read(buf)
		if n > 0 {
			w.acc.Append(buf[:n])
		}
		if err == nil {
			continue
		}
		if IsFatalReadError(err) {
			w.stop.Store(true)
			fault = fmt.Errorf("capture read failed: %w", err)
			w.report(fault)
			break
		}
		slog.Debug("Ignoring transient capture read error", "error", err)
	}

	w.acc.AppendSilence(w.cfg.PaddingMs, w.cfg.SampleRate, bytesPerSample)
	slog.Debug("Capture loop finished", "bytes", w.acc.Len())
	return fault
}

// teardown stops the source if it was started and always releases it.
func (w *captureWorker) teardown() {
	if w.started {
		if err := w.source.Stop(); err != nil {
			slog.Error("Failed to stop capture source", "error", err)
			w.report(fmt.Errorf("failed to stop capture: %w", err))
		}
	}
	if err := w.source.Release(); err != nil {
		slog.Error("Failed to release capture source", "error", err)
		w.report(fmt.Errorf("failed to release capture device: %w", err))
	}
}
