// Package mock provides a test double for the gen package.
//
// Script outcomes by setting Response and Err; queue distinct per-call errors
// through Errs to exercise failover paths:
//
//	g := &mock.Generator{NameVal: "primary", Errs: []error{errBoom, errBoom, nil}}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voximply/intake/pkg/provider/gen"
)

// GenerateCall records a single invocation of Generator.Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the request passed to Generate.
	Req gen.Request
}

// Generator is a mock implementation of gen.Generator.
type Generator struct {
	mu sync.Mutex

	// NameVal is returned by Name. Defaults to "mock".
	NameVal string

	// Response is returned by Generate on success.
	Response gen.Response

	// Err, if non-nil, is returned as the error from Generate once Errs is
	// exhausted.
	Err error

	// Errs queues per-call outcomes: each Generate consumes one entry (nil
	// means success) until the queue is empty, after which Err applies.
	Errs []error

	// Delay makes Generate sleep before answering, aborting early with the
	// context error if ctx expires first.
	Delay time.Duration

	// GenerateCalls records every call to Generate.
	GenerateCalls []GenerateCall
}

// Name returns NameVal, or "mock" when unset.
func (g *Generator) Name() string {
	if g.NameVal == "" {
		return "mock"
	}
	return g.NameVal
}

// Generate records the call and returns the next scripted outcome.
func (g *Generator) Generate(ctx context.Context, req gen.Request) (gen.Response, error) {
	g.mu.Lock()
	g.GenerateCalls = append(g.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})
	err := g.Err
	if len(g.Errs) > 0 {
		err = g.Errs[0]
		g.Errs = g.Errs[1:]
	}
	resp, delay := g.Response, g.Delay
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return gen.Response{}, ctx.Err()
		}
	}
	if err != nil {
		return gen.Response{}, err
	}
	return resp, nil
}

// Calls returns the number of recorded Generate calls. Thread-safe.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.GenerateCalls)
}

// Reset clears all recorded calls and scripted errors. Thread-safe.
func (g *Generator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.GenerateCalls = nil
	g.Errs = nil
}

// Ensure Generator implements gen.Generator at compile time.
var _ gen.Generator = (*Generator)(nil)
