// Package gen defines the generation interface the capture engine dispatches
// to. It covers the two generation capabilities the engine needs — language
// (rephrasing prompts, ranking transcription candidates) and speech
// (synthesizing prompt audio) — behind one request/response pair the engine
// treats as opaque beyond success or failure.
//
// Concrete network clients live outside this repository; the engine only ever
// calls a Generator through the resilient provider dispatcher, which wraps a
// primary and a secondary implementation per capability.
package gen

import "context"

// Capability names a kind of generation output.
type Capability string

const (
	// CapabilityLanguage produces text from text.
	CapabilityLanguage Capability = "language"

	// CapabilitySpeech produces PCM audio from text.
	CapabilitySpeech Capability = "speech"
)

// IsValid reports whether c is a known capability.
func (c Capability) IsValid() bool {
	return c == CapabilityLanguage || c == CapabilitySpeech
}

// Request is one generation call.
type Request struct {
	// Capability selects the kind of output requested.
	Capability Capability

	// Prompt is the input text: an instruction for language generation, the
	// utterance to synthesize for speech generation.
	Prompt string

	// Metadata carries provider-specific hints (voice id, temperature) the
	// engine passes through without interpreting.
	Metadata map[string]string
}

// Response is the outcome of a successful generation call. Which field is
// populated depends on the requested capability.
type Response struct {
	// Text is the generated text for language requests.
	Text string

	// Audio is synthesized 16-bit LE PCM for speech requests.
	Audio []byte
}

// Generator produces language or speech output for the engine.
// Implementations must be safe for concurrent use and must honor ctx
// cancellation and deadlines; the dispatcher applies a per-attempt timeout.
type Generator interface {
	// Name identifies the provider in events, logs, and breaker state.
	Name() string

	// Generate performs one generation call.
	Generate(ctx context.Context, req Request) (Response, error)
}
