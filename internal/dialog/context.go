// ABOUTME: Dialog context bound to one turn and its conversation's dialog stack
// ABOUTME: Implements begin, replace, continue, end and cancel against the stack

package dialog

import (
	"context"
	"fmt"
	"sync"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/transport"
)

// Sender delivers an outbound activity, typically through the bot's send
// middleware.
type Sender func(ctx context.Context, message any) (*transport.ResourceResponse, error)

// Context couples a turn with the dialog stack of its conversation. Stack
// mutations are guarded; dialog callbacks run without the lock held so they
// may call back into the context.
type Context struct {
	Turn *transport.TurnContext

	set *Set
	key string

	mu    sync.Mutex
	stack []*Instance
	send  Sender
}

// SetSender routes Say through send.
func (dc *Context) SetSender(send Sender) {
	dc.mu.Lock()
	dc.send = send
	dc.mu.Unlock()
}

// Say sends message into the dialog's conversation. Without a sender it is
// handed straight to the turn.
func (dc *Context) Say(ctx context.Context, message any) (*transport.ResourceResponse, error) {
	if dc.Turn == nil {
		return nil, ErrNoTurn
	}
	act := activity.Normalize(message)
	if act.Conversation == nil {
		activity.ApplyConversationReference(act, dc.Turn.Reference(), false)
	}

	dc.mu.Lock()
	send := dc.send
	dc.mu.Unlock()
	if send == nil {
		return dc.Turn.SendActivity(ctx, act)
	}
	return send(ctx, act)
}

// Key returns the state key the stack is persisted under.
func (dc *Context) Key() string {
	return dc.key
}

// Stack returns a copy of the stack, bottom first.
func (dc *Context) Stack() []Instance {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	out := make([]Instance, len(dc.stack))
	for i, inst := range dc.stack {
		out[i] = *inst
	}
	return out
}

// ActiveDialog returns the instance on top of the stack, or nil when the
// stack is empty. The returned instance is live: changes to its State are
// persisted on the next save.
func (dc *Context) ActiveDialog() *Instance {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if len(dc.stack) == 0 {
		return nil
	}
	return dc.stack[len(dc.stack)-1]
}

// BeginDialog pushes the dialog registered under id and runs its Begin.
func (dc *Context) BeginDialog(ctx context.Context, id string, options map[string]any) error {
	d, err := dc.set.find(id)
	if err != nil {
		return err
	}

	inst := newInstance(id, options)
	dc.mu.Lock()
	dc.stack = append(dc.stack, inst)
	dc.mu.Unlock()

	if err := d.Begin(ctx, dc, options); err != nil {
		dc.remove(inst)
		return fmt.Errorf("beginning dialog %s: %w", id, err)
	}
	return nil
}

// ReplaceDialog pops the active dialog, if any, and begins id in its place.
func (dc *Context) ReplaceDialog(ctx context.Context, id string, options map[string]any) error {
	if _, err := dc.set.find(id); err != nil {
		return err
	}

	dc.mu.Lock()
	if n := len(dc.stack); n > 0 {
		dc.stack = dc.stack[:n-1]
	}
	dc.mu.Unlock()

	return dc.BeginDialog(ctx, id, options)
}

// ContinueDialog runs Continue on the active dialog. It reports whether a
// dialog was active.
func (dc *Context) ContinueDialog(ctx context.Context) (bool, error) {
	inst := dc.ActiveDialog()
	if inst == nil {
		return false, nil
	}

	d, err := dc.set.find(inst.ID)
	if err != nil {
		return true, err
	}
	if err := d.Continue(ctx, dc); err != nil {
		return true, fmt.Errorf("continuing dialog %s: %w", inst.ID, err)
	}
	return true, nil
}

// EndDialog pops the active dialog and hands result to the dialog below it
// when that dialog implements Resumer.
func (dc *Context) EndDialog(ctx context.Context, result any) error {
	dc.mu.Lock()
	n := len(dc.stack)
	if n == 0 {
		dc.mu.Unlock()
		return nil
	}
	dc.stack = dc.stack[:n-1]
	var parent *Instance
	if n > 1 {
		parent = dc.stack[n-2]
	}
	dc.mu.Unlock()

	if parent == nil {
		return nil
	}
	d, err := dc.set.find(parent.ID)
	if err != nil {
		return err
	}
	if r, ok := d.(Resumer); ok {
		if err := r.Resume(ctx, dc, result); err != nil {
			return fmt.Errorf("resuming dialog %s: %w", parent.ID, err)
		}
	}
	return nil
}

// CancelAllDialogs empties the stack without running any dialog code.
func (dc *Context) CancelAllDialogs(ctx context.Context) error {
	dc.mu.Lock()
	dc.stack = nil
	dc.mu.Unlock()
	return nil
}

// remove drops inst from the stack if it is still on it.
func (dc *Context) remove(inst *Instance) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	for i, cur := range dc.stack {
		if cur == inst {
			dc.stack = append(dc.stack[:i:i], dc.stack[i+1:]...)
			return
		}
	}
}

func newInstance(id string, options map[string]any) *Instance {
	opts := make(map[string]any, len(options))
	for k, v := range options {
		opts[k] = v
	}
	return &Instance{
		ID:      id,
		Options: opts,
		State:   make(map[string]any),
	}
}
