package audio

import (
	"github.com/valyala/bytebufferpool"
)

// silenceChunk bounds the scratch slice used when appending long pads.
const silenceChunk = 4096

var zeroChunk [silenceChunk]byte

// Accumulator is the append-only byte store for one session. It is not safe
// for concurrent use: the capture worker owns it while recording and the
// controller owns it once the worker has been joined.
type Accumulator struct {
	buf *bytebufferpool.ByteBuffer
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

func (a *Accumulator) ensure() *bytebufferpool.ByteBuffer {
	if a.buf == nil {
		a.buf = bytebufferpool.Get()
	}
	return a.buf
}

// Append copies p onto the end of the sequence.
func (a *Accumulator) Append(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	n, _ := a.ensure().Write(p)
	return n
}

// AppendSilence appends durationMs of zero frames and returns the byte count.
func (a *Accumulator) AppendSilence(durationMs, sampleRate, bytesPerSample int) int {
	remaining := SilenceFrames(durationMs, sampleRate) * bytesPerSample
	if remaining <= 0 {
		return 0
	}
	b := a.ensure()
	total := remaining
	for remaining > 0 {
		n := min(remaining, silenceChunk)
		b.B = append(b.B, zeroChunk[:n]...)
		remaining -= n
	}
	return total
}

// Len returns the number of bytes held.
func (a *Accumulator) Len() int {
	if a.buf == nil {
		return 0
	}
	return a.buf.Len()
}

// Bytes returns the accumulated bytes. The slice is only valid until the next
// Append or Reset.
func (a *Accumulator) Bytes() []byte {
	if a.buf == nil {
		return nil
	}
	return a.buf.B
}

// Reset discards all content and returns the storage to the pool.
func (a *Accumulator) Reset() {
	if a.buf != nil {
		bytebufferpool.Put(a.buf)
		a.buf = nil
	}
}
