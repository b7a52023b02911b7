// Package mock provides a test double for the asr package.
//
// Use Recognizer to script recognition outcomes and inspect the segments the
// engine delivered:
//
//	r := &mock.Recognizer{NameVal: "east", Result: asr.Result{Text: "hello", Confidence: 0.9}}
//	got, _ := r.Transcribe(ctx, seg)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voximply/intake/pkg/audio"
	"github.com/voximply/intake/pkg/provider/asr"
)

// TranscribeCall records a single invocation of Recognizer.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Seg is the segment passed to Transcribe.
	Seg audio.Segment
}

// Recognizer is a mock implementation of asr.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// NameVal is returned by Name. Defaults to "mock".
	NameVal string

	// Result is returned by Transcribe when Err is nil.
	Result asr.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Delay makes Transcribe sleep before answering, aborting early with the
	// context error if ctx expires first. Useful for timeout tests.
	Delay time.Duration

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Name returns NameVal, or "mock" when unset.
func (r *Recognizer) Name() string {
	if r.NameVal == "" {
		return "mock"
	}
	return r.NameVal
}

// Transcribe records the call and returns Result, Err after the configured Delay.
func (r *Recognizer) Transcribe(ctx context.Context, seg audio.Segment) (asr.Result, error) {
	r.mu.Lock()
	r.TranscribeCalls = append(r.TranscribeCalls, TranscribeCall{Ctx: ctx, Seg: seg})
	res, err, delay := r.Result, r.Err, r.Delay
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return asr.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return asr.Result{}, err
	}
	return res, nil
}

// Calls returns the number of recorded Transcribe calls. Thread-safe.
func (r *Recognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.TranscribeCalls = nil
}

// Ensure Recognizer implements asr.Recognizer at compile time.
var _ asr.Recognizer = (*Recognizer)(nil)
