// ABOUTME: Ordered, short-circuiting middleware executor
// ABOUTME: Runs named stages strictly in registration order with one terminal error

package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrHalted is reported when a stage returns without calling next.
	ErrHalted = errors.New("stage returned without calling next")

	// ErrNextCalled is returned by next when a stage calls it twice.
	ErrNextCalled = errors.New("next called more than once")
)

// Next continues the chain with the following stage. It returns the error
// of the remainder of the chain.
type Next func() error

// Handler is one stage of a pipeline. It may mutate payload, suspend on
// external calls, and must either call next or return an error.
type Handler[B, P any] func(ctx context.Context, bot B, payload P, next Next) error

// ShortCircuitError reports the stage that stopped a pipeline.
type ShortCircuitError struct {
	Stage string
	Err   error
}

func (e *ShortCircuitError) Error() string {
	return fmt.Sprintf("middleware %q: %v", e.Stage, e.Err)
}

func (e *ShortCircuitError) Unwrap() error { return e.Err }

type stage[B, P any] struct {
	name    string
	handler Handler[B, P]
}

// Pipeline is an ordered chain of stages. Registration is safe for concurrent
// use; a Run sees the stages registered when it started.
type Pipeline[B, P any] struct {
	mu     sync.RWMutex
	stages []stage[B, P]
}

// New creates an empty pipeline.
func New[B, P any]() *Pipeline[B, P] {
	return &Pipeline[B, P]{}
}

// Use appends a stage.
func (p *Pipeline[B, P]) Use(name string, h Handler[B, P]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, stage[B, P]{name: name, handler: h})
}

// Len returns the number of registered stages.
func (p *Pipeline[B, P]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.stages)
}

// Names returns the stage names in execution order.
func (p *Pipeline[B, P]) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.name
	}
	return names
}

// Run executes every stage in order. It returns nil once the last stage has
// called next, or a *ShortCircuitError naming the stage that stopped the chain.
func (p *Pipeline[B, P]) Run(ctx context.Context, bot B, payload P) error {
	p.mu.RLock()
	stages := make([]stage[B, P], len(p.stages))
	copy(stages, p.stages)
	p.mu.RUnlock()

	return runStage(ctx, stages, 0, bot, payload)
}

func runStage[B, P any](ctx context.Context, stages []stage[B, P], i int, bot B, payload P) error {
	if i == len(stages) {
		return nil
	}
	s := stages[i]
	if err := ctx.Err(); err != nil {
		return &ShortCircuitError{Stage: s.name, Err: err}
	}

	called := false
	var downstream error
	next := func() error {
		if called {
			return ErrNextCalled
		}
		called = true
		downstream = runStage(ctx, stages, i+1, bot, payload)
		return downstream
	}

	err := invoke(ctx, s, bot, payload, next)
	switch {
	case err != nil:
		// An error already attributed to a later stage passes through as is.
		var sc *ShortCircuitError
		if called && downstream != nil && errors.As(err, &sc) {
			return err
		}
		return &ShortCircuitError{Stage: s.name, Err: err}
	case !called:
		return &ShortCircuitError{Stage: s.name, Err: ErrHalted}
	default:
		return downstream
	}
}

// invoke runs a single handler, turning a panic into an error.
func invoke[B, P any](ctx context.Context, s stage[B, P], bot B, payload P, next Next) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.handler(ctx, bot, payload, next)
}
