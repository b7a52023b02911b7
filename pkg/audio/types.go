// Package audio defines the PCM values exchanged between the capture engine
// and its recognition providers. The engine never encodes or decodes audio;
// it only buffers and forwards raw segments, so a single value type suffices.
package audio

import "time"

// bytesPerSample is fixed: all audio entering the engine is 16-bit
// little-endian PCM. Sample rate and channel count vary per transport and
// travel with the data.
const bytesPerSample = 2

// Segment is a contiguous run of 16-bit LE PCM samples. A transport adapter
// produces small segments (frames) at a fixed cadence; the consensus voter
// concatenates them into utterance-sized segments before recognition.
type Segment struct {
	// Data holds interleaved 16-bit little-endian PCM samples.
	Data []byte

	// SampleRate in Hz (e.g. 8000 for telephony, 16000 for wideband STT).
	SampleRate int

	// Channels is 1 for mono telephony input, 2 for stereo.
	Channels int
}

// Duration returns the play time of the segment, or zero when the format
// fields are unset.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 || s.Channels <= 0 {
		return 0
	}
	samples := len(s.Data) / (bytesPerSample * s.Channels)
	return time.Duration(samples) * time.Second / time.Duration(s.SampleRate)
}

// Empty reports whether the segment carries no samples.
func (s Segment) Empty() bool { return len(s.Data) == 0 }

// Append returns s extended with the samples of more. The format of s wins;
// when s is empty the format of more is adopted. Callers are expected to feed
// segments of one format per stream, so no resampling is attempted.
func (s Segment) Append(more Segment) Segment {
	if s.Empty() {
		out := more
		out.Data = append([]byte(nil), more.Data...)
		return out
	}
	s.Data = append(s.Data, more.Data...)
	return s
}
