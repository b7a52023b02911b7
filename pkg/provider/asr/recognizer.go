// Package asr defines the narrow speech-recognition interface the capture
// engine consumes. A Recognizer wraps a concrete transcription service (a
// cloud STT API, a local whisper server) and turns one buffered audio segment
// into text with a confidence estimate.
//
// The engine requires at least one Recognizer and tolerates any number of
// additional ones: the consensus voter fans a segment out to all of them and
// reconciles the candidates. Implementations must be safe for concurrent use
// and must honor ctx cancellation and deadlines — the engine applies a
// per-call timeout to every Transcribe call.
package asr

import (
	"context"

	"github.com/voximply/intake/pkg/audio"
)

// Result is a single recognition outcome for one audio segment.
type Result struct {
	// Text is the recognized utterance. Empty text means the recognizer heard
	// nothing usable; the voter discards such candidates.
	Text string

	// Confidence is the recognizer's own estimate in [0.0, 1.0]. Recognizers
	// without a native confidence score should report a fixed calibrated value
	// rather than 0, since downstream capture gates on this number.
	Confidence float64
}

// Recognizer transcribes one complete audio segment in a single call.
type Recognizer interface {
	// Name identifies the recognizer in events, logs, and metrics.
	Name() string

	// Transcribe converts seg into text. A non-nil error means the recognizer
	// produced no usable candidate; the voter treats errors and empty text the
	// same way.
	Transcribe(ctx context.Context, seg audio.Segment) (Result, error)
}
