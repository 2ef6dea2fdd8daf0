// ABOUTME: Controller that owns the adapter, dialogs, send middleware and handlers
// ABOUTME: Spawns workers and runs each inbound turn through dialogs and handlers

package botkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/dedupe"
	"github.com/2389/coven-botkit/internal/dialog"
	"github.com/2389/coven-botkit/internal/middleware"
	"github.com/2389/coven-botkit/internal/store"
	"github.com/2389/coven-botkit/internal/transport"
)

// Handler reacts to an inbound message.
type Handler func(ctx context.Context, bot *Worker, msg *Message) error

// Options configures a Controller.
type Options struct {
	Adapter transport.Adapter
	Store   store.Store
	Logger  *slog.Logger

	// DedupeTTL enables redelivery suppression when positive.
	DedupeTTL  time.Duration
	DedupeSize int

	// Transcript records inbound and outbound activities in the store.
	Transcript bool
}

type route struct {
	event   string
	pattern *regexp.Regexp
	handler Handler
}

// Controller is the bot: it holds the platform adapter, the registered
// dialogs and handlers, and the send middleware shared by its workers.
type Controller struct {
	adapter transport.Adapter
	store   store.Store
	dialogs *dialog.Set
	send    *SendPipeline
	seen    *dedupe.Cache
	logger  *slog.Logger

	transcript bool

	mu     sync.RWMutex
	routes []route
}

// New creates a Controller. If opts.Logger is nil, uses slog.Default().
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		adapter: opts.Adapter,
		store:   opts.Store,
		dialogs: dialog.NewSet(opts.Store, logger),
		send:    middleware.New[*Worker, *activity.Activity](),
		logger:  logger.With("component", "controller"),
	}
	if opts.DedupeTTL > 0 {
		size := opts.DedupeSize
		if size <= 0 {
			size = 10_000
		}
		c.seen = dedupe.New(opts.DedupeTTL, size)
	}
	if opts.Transcript && opts.Store != nil {
		c.transcript = true
		c.send.Use("transcript", c.transcriptStage)
	}
	return c
}

// Adapter returns the platform adapter.
func (c *Controller) Adapter() transport.Adapter { return c.adapter }

// Dialogs returns the dialog set.
func (c *Controller) Dialogs() *dialog.Set { return c.dialogs }

// SendMiddleware returns the send pipeline. Stages registered on it run for
// every Say on every worker.
func (c *Controller) SendMiddleware() *SendPipeline { return c.send }

// Logger returns the controller's logger.
func (c *Controller) Logger() *slog.Logger { return c.logger }

// Close releases the dedupe sweeper.
func (c *Controller) Close() {
	if c.seen != nil {
		c.seen.Close()
	}
}

// SaveState persists the dialog stack of the worker's conversation. It is
// safe to call more than once per turn.
func (c *Controller) SaveState(ctx context.Context, bot *Worker) error {
	return c.dialogs.Save(ctx, bot.Config().DialogContext)
}

// AddDialog registers a developer dialog under its wrapped id so workers can
// begin it by its plain id.
func (c *Controller) AddDialog(id string, d dialog.Dialog) {
	c.dialogs.Add(dialog.WrappedID(id), d)
}

// On registers a handler for activities of the given type.
func (c *Controller) On(eventType string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes = append(c.routes, route{event: eventType, handler: h})
}

// Hears registers a handler for message activities whose text matches pattern.
func (c *Controller) Hears(pattern string, h Handler) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compiling hears pattern %q: %w", pattern, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes = append(c.routes, route{pattern: re, handler: h})
	return nil
}

// Spawn creates a worker bound to turn. A nil turn yields an unbound worker,
// which can be pointed at a conversation with ChangeContext. Dialogs send
// through the worker, so their messages pass the send middleware.
func (c *Controller) Spawn(ctx context.Context, turn *transport.TurnContext) (*Worker, error) {
	if turn == nil {
		return NewWorker(c, WorkerConfig{}), nil
	}

	dc, err := c.dialogs.CreateContext(ctx, turn)
	if err != nil {
		return nil, fmt.Errorf("creating dialog context: %w", err)
	}
	bot := NewWorker(c, WorkerConfig{
		Context:       turn,
		Reference:     turn.Reference(),
		DialogContext: dc,
		Activity:      turn.Activity,
	})
	dc.SetSender(bot.Say)
	return bot, nil
}

// ProcessTurn handles one inbound turn. Redelivered activities are dropped.
// An active dialog gets the turn first; otherwise the first matching Hears
// handler runs, or every On handler for the activity type in registration
// order. Dialog state is saved at the end of the turn.
func (c *Controller) ProcessTurn(ctx context.Context, turn *transport.TurnContext) error {
	if turn == nil || turn.Activity == nil {
		return errors.New("process turn: no activity")
	}
	act := turn.Activity

	key := dedupe.ActivityKey(act.ChannelID, conversationID(act), act.ID)
	if c.seen != nil && c.seen.Seen(key) {
		c.logger.Debug("dropping redelivered activity", "activity_id", act.ID, "channel_id", act.ChannelID)
		return nil
	}

	if err := c.handleTurn(ctx, turn); err != nil {
		// Let the platform's retry through.
		if c.seen != nil {
			c.seen.Forget(key)
		}
		return err
	}
	return nil
}

func (c *Controller) handleTurn(ctx context.Context, turn *transport.TurnContext) error {
	act := turn.Activity
	logger := c.logger.With("activity_id", act.ID, "type", act.Type, "channel_id", act.ChannelID)

	if act.From != nil && act.Conversation != nil {
		if err := c.SaveReference(ctx, turn.Reference()); err != nil {
			logger.Warn("failed to save conversation reference", "error", err)
		}
	}
	if c.transcript {
		c.record(ctx, store.DirectionInbound, act, act)
	}

	bot, err := c.Spawn(ctx, turn)
	if err != nil {
		return err
	}

	active, err := bot.Config().DialogContext.ContinueDialog(ctx)
	if err != nil {
		return fmt.Errorf("continuing dialog: %w", err)
	}
	if !active {
		if err := c.runHandlers(ctx, bot, NewMessage(act)); err != nil {
			return err
		}
	} else {
		logger.Debug("turn handled by active dialog")
	}

	if err := c.SaveState(ctx, bot); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	return nil
}

func (c *Controller) runHandlers(ctx context.Context, bot *Worker, msg *Message) error {
	c.mu.RLock()
	routes := make([]route, len(c.routes))
	copy(routes, c.routes)
	c.mu.RUnlock()

	if msg.Type == activity.TypeMessage {
		for _, r := range routes {
			if r.pattern == nil {
				continue
			}
			if m := r.pattern.FindStringSubmatch(msg.Text); m != nil {
				msg.Matches = m
				return r.handler(ctx, bot, msg)
			}
		}
	}

	for _, r := range routes {
		if r.pattern != nil || r.event != msg.Type {
			continue
		}
		if err := r.handler(ctx, bot, msg); err != nil {
			return err
		}
	}
	return nil
}

// SaveReference stores ref as the latest way to reach its user.
func (c *Controller) SaveReference(ctx context.Context, ref *activity.ConversationReference) error {
	if c.store == nil {
		return nil
	}
	if ref == nil || ref.User == nil || ref.Conversation == nil {
		return &ConfigurationError{Op: "saveReference", Err: ErrNoReference}
	}

	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("encoding reference: %w", err)
	}
	return c.store.SaveReference(ctx, &store.Reference{
		ChannelID:      ref.ChannelID,
		UserID:         ref.User.ID,
		ConversationID: ref.Conversation.ID,
		Data:           data,
		UpdatedAt:      time.Now(),
	})
}

// LoadReference returns the saved reference for a user on a channel, ready
// for ChangeContext. Returns store.ErrNotFound if the user was never seen.
func (c *Controller) LoadReference(ctx context.Context, channelID, userID string) (*activity.ConversationReference, error) {
	if c.store == nil {
		return nil, store.ErrNotFound
	}
	saved, err := c.store.GetReference(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	var ref activity.ConversationReference
	if err := json.Unmarshal(saved.Data, &ref); err != nil {
		return nil, fmt.Errorf("decoding reference: %w", err)
	}
	return &ref, nil
}

func conversationID(act *activity.Activity) string {
	if act.Conversation == nil {
		return ""
	}
	return act.Conversation.ID
}
