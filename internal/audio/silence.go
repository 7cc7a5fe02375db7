package audio

// SilenceFrames returns the number of whole frames in durationMs of audio at
// sampleRate. Partial frames are dropped.
func SilenceFrames(durationMs, sampleRate int) int {
	if durationMs <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(int64(durationMs) * int64(sampleRate) / 1000)
}

// Silence returns durationMs of zero-valued mono frames, each bytesPerSample wide.
func Silence(durationMs, sampleRate, bytesPerSample int) []byte {
	if bytesPerSample <= 0 {
		return nil
	}
	return make([]byte, SilenceFrames(durationMs, sampleRate)*bytesPerSample)
}
