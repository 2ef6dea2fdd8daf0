// ABOUTME: Dialog contracts and the persisted dialog stack entry
// ABOUTME: Defines Dialog, Instance, Func and Waterfall used by the dialog set

package dialog

import (
	"context"
	"errors"
	"fmt"
)

// WrapperSuffix is appended to a developer dialog id to form the id the
// dialog is registered and pushed under.
const WrapperSuffix = ":botkit-wrapper"

// ErrDialogNotFound is returned when a dialog id is not registered in the set.
var ErrDialogNotFound = errors.New("dialog not found")

// ErrNoTurn is returned when a dialog context without a turn is asked to send.
var ErrNoTurn = errors.New("dialog context has no turn")

// WrappedID returns the stack id for a developer dialog id.
func WrappedID(id string) string {
	return id + WrapperSuffix
}

// Instance is one entry of a conversation's dialog stack. It is persisted as
// JSON, so Options and State hold JSON-compatible values only.
type Instance struct {
	ID      string         `json:"id"`
	Options map[string]any `json:"options,omitempty"`
	State   map[string]any `json:"state"`
}

// Dialog is a multi-turn interaction driven by a dialog context.
type Dialog interface {
	// Begin runs when the dialog is pushed onto the stack.
	Begin(ctx context.Context, dc *Context, options map[string]any) error
	// Continue runs on each later turn while the dialog is on top.
	Continue(ctx context.Context, dc *Context) error
}

// Resumer is implemented by dialogs that want the result of a child dialog
// that ended while they were underneath it.
type Resumer interface {
	Resume(ctx context.Context, dc *Context, result any) error
}

// Func adapts a single function to a Dialog. It receives the dialog's options
// on Begin, never nil, and nil on Continue.
type Func func(ctx context.Context, dc *Context, options map[string]any) error

// Begin calls f with the options, or an empty map when there are none.
func (f Func) Begin(ctx context.Context, dc *Context, options map[string]any) error {
	if options == nil {
		options = map[string]any{}
	}
	return f(ctx, dc, options)
}

// Continue calls f with nil options.
func (f Func) Continue(ctx context.Context, dc *Context) error {
	return f(ctx, dc, nil)
}

// Step is one stage of a Waterfall. inst is the running dialog's stack entry;
// steps keep their answers in inst.State.
type Step func(ctx context.Context, dc *Context, inst *Instance) error

// Waterfall runs its steps one per turn and ends the dialog after the last.
type Waterfall []Step

const stepKey = "step"

// Begin runs the first step.
func (w Waterfall) Begin(ctx context.Context, dc *Context, options map[string]any) error {
	return w.run(ctx, dc, 0)
}

// Continue runs the step after the one recorded in the instance state.
func (w Waterfall) Continue(ctx context.Context, dc *Context) error {
	inst := dc.ActiveDialog()
	if inst == nil {
		return nil
	}
	return w.run(ctx, dc, stepIndex(inst.State[stepKey])+1)
}

// Resume records a child dialog's result under "result" and runs the next step.
func (w Waterfall) Resume(ctx context.Context, dc *Context, result any) error {
	inst := dc.ActiveDialog()
	if inst == nil {
		return nil
	}
	inst.State["result"] = result
	return w.run(ctx, dc, stepIndex(inst.State[stepKey])+1)
}

func (w Waterfall) run(ctx context.Context, dc *Context, index int) error {
	if index >= len(w) {
		return dc.EndDialog(ctx, nil)
	}

	inst := dc.ActiveDialog()
	if inst == nil {
		return fmt.Errorf("waterfall step %d: no active dialog", index)
	}
	inst.State[stepKey] = index
	if err := w[index](ctx, dc, inst); err != nil {
		return fmt.Errorf("waterfall step %d: %w", index, err)
	}

	// The step may have ended or replaced the dialog itself.
	if top := dc.ActiveDialog(); top == nil || top != inst {
		return nil
	}
	if index == len(w)-1 {
		return dc.EndDialog(ctx, inst.State)
	}
	return nil
}

// stepIndex reads a step index back from state that may have round-tripped
// through JSON.
func stepIndex(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return -1
	}
}
