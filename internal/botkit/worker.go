// ABOUTME: Bot worker bound to one turn or proactive conversation
// ABOUTME: Sends through the send middleware, drives dialogs and swaps addressing context

package botkit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/dialog"
	"github.com/2389/coven-botkit/internal/middleware"
	"github.com/2389/coven-botkit/internal/transport"
)

// SendPipeline is the send-side middleware chain every worker runs.
type SendPipeline = middleware.Pipeline[*Worker, *activity.Activity]

// Host is what a worker needs from the controller that spawned it.
type Host interface {
	Adapter() transport.Adapter
	Dialogs() *dialog.Set
	SendMiddleware() *SendPipeline
	SaveState(ctx context.Context, bot *Worker) error
	Logger() *slog.Logger
}

// WorkerConfig is the addressing context of a worker. It is replaced as a
// whole, never field by field.
type WorkerConfig struct {
	Context       *transport.TurnContext
	Reference     *activity.ConversationReference
	DialogContext *dialog.Context
	Activity      *activity.Activity
}

// Worker performs bot actions on behalf of handlers.
type Worker struct {
	host   Host
	logger *slog.Logger

	mu  sync.RWMutex
	cfg WorkerConfig
}

// NewWorker creates a worker owned by host with the given configuration.
func NewWorker(host Host, cfg WorkerConfig) *Worker {
	logger := host.Logger()
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		host:   host,
		logger: logger.With("component", "worker"),
		cfg:    cfg,
	}
}

// Controller returns the host that spawned the worker.
func (w *Worker) Controller() Host {
	return w.host
}

// Config returns a snapshot of the current configuration.
func (w *Worker) Config() WorkerConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

func (w *Worker) setConfig(cfg WorkerConfig) {
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
}

// Say normalizes message, runs it through the send middleware and delivers
// it on the bound turn. A middleware short circuit is returned unchanged as
// a *middleware.ShortCircuitError; transport failures come back as
// *DeliveryError.
func (w *Worker) Say(ctx context.Context, message any) (*transport.ResourceResponse, error) {
	turn := w.Config().Context
	if turn == nil {
		return nil, &ConfigurationError{Op: "say", Err: ErrNoTurnContext}
	}

	act := activity.Normalize(message)
	if err := w.host.SendMiddleware().Run(ctx, w, act); err != nil {
		w.logger.Debug("send middleware stopped delivery", "error", err)
		return nil, err
	}

	resp, err := turn.SendActivity(ctx, act)
	if err != nil {
		return nil, &DeliveryError{Op: "say", Err: err}
	}
	w.logger.Debug("activity delivered", "activity_id", resp.ID, "type", act.Type)
	return resp, nil
}

// Reply sends resp into the conversation src arrived in, whatever the
// worker's current context points at.
func (w *Worker) Reply(ctx context.Context, src *Message, resp any) (*transport.ResourceResponse, error) {
	if src == nil || src.IncomingMessage == nil {
		return nil, &ConfigurationError{Op: "reply", Err: ErrNoIncomingMessage}
	}

	act := activity.Normalize(resp)
	ref := activity.GetConversationReference(src.IncomingMessage)
	activity.ApplyConversationReference(act, ref, false)
	return w.Say(ctx, act)
}

// BeginDialog pushes the dialog registered as id onto the conversation's
// stack and saves state. The invoking user and channel are merged under
// options; caller options win.
func (w *Worker) BeginDialog(ctx context.Context, id string, options map[string]any) error {
	cfg := w.Config()
	if cfg.DialogContext == nil {
		return &ConfigurationError{Op: "beginDialog", Err: ErrNoDialogContext}
	}
	if err := cfg.DialogContext.BeginDialog(ctx, dialog.WrappedID(id), dialogOptions(cfg, options)); err != nil {
		return err
	}
	return w.host.SaveState(ctx, w)
}

// ReplaceDialog replaces the active dialog with id and saves state. With no
// active dialog it behaves like BeginDialog.
func (w *Worker) ReplaceDialog(ctx context.Context, id string, options map[string]any) error {
	cfg := w.Config()
	if cfg.DialogContext == nil {
		return &ConfigurationError{Op: "replaceDialog", Err: ErrNoDialogContext}
	}
	if err := cfg.DialogContext.ReplaceDialog(ctx, dialog.WrappedID(id), dialogOptions(cfg, options)); err != nil {
		return err
	}
	return w.host.SaveState(ctx, w)
}

// CancelAllDialogs clears the conversation's dialog stack and saves state.
// It does nothing on a worker without a dialog context.
func (w *Worker) CancelAllDialogs(ctx context.Context) error {
	cfg := w.Config()
	if cfg.DialogContext == nil {
		return nil
	}
	if err := cfg.DialogContext.CancelAllDialogs(ctx); err != nil {
		return err
	}
	return w.host.SaveState(ctx, w)
}

// dialogOptions layers options over the user and channel of the bound activity.
func dialogOptions(cfg WorkerConfig, options map[string]any) map[string]any {
	act := cfg.Activity
	if cfg.Context != nil && cfg.Context.Activity != nil {
		act = cfg.Context.Activity
	}

	merged := make(map[string]any, len(options)+2)
	if act != nil {
		if act.From != nil {
			merged["user"] = act.From.ID
		}
		if act.Conversation != nil {
			merged["channel"] = act.Conversation.ID
		}
	}
	for k, v := range options {
		merged[k] = v
	}
	return merged
}

// ChangeContext points the worker at the conversation described by ref so
// later Say and BeginDialog calls target it. It returns the same worker.
func (w *Worker) ChangeContext(ctx context.Context, ref *activity.ConversationReference) (*Worker, error) {
	if ref == nil {
		return w, &ConfigurationError{Op: "changeContext", Err: ErrNoReference}
	}

	act := activity.ApplyConversationReference(&activity.Activity{
		Type:        activity.TypeMessage,
		ChannelData: map[string]any{},
	}, ref, true)

	if err := w.rebind(ctx, "changeContext", ref, act); err != nil {
		return w, err
	}
	return w, nil
}

// StartConversationWithUser opens a new one-to-one conversation with
// ref.User and binds the worker to it.
func (w *Worker) StartConversationWithUser(ctx context.Context, ref *activity.ConversationReference) error {
	const op = "startConversationWithUser"
	if ref == nil || ref.ServiceURL == "" {
		return &ConfigurationError{Op: op, Err: ErrMissingServiceURL}
	}
	adapter := w.host.Adapter()
	if adapter == nil {
		return &ConfigurationError{Op: op, Err: ErrNoAdapter}
	}

	params := &transport.ConversationParameters{
		Bot:     ref.Bot,
		IsGroup: false,
	}
	if ref.User != nil {
		params.Members = []*activity.ChannelAccount{ref.User}
	}
	// Teams reads the tenant from channelData; newer services read tenantId.
	if tenantID := ref.TenantID(); tenantID != "" {
		params.ChannelData = map[string]any{"tenant": map[string]any{"id": tenantID}}
		params.TenantID = tenantID
	}

	client, err := adapter.CreateConnectorClient(ref.ServiceURL)
	if err != nil {
		return &DeliveryError{Op: op, Err: err}
	}
	resp, err := client.CreateConversation(ctx, params)
	if err != nil {
		return &DeliveryError{Op: op, Err: err}
	}

	act := activity.ApplyConversationReference(&activity.Activity{
		Type:        activity.TypeEvent,
		Name:        "createConversation",
		ChannelData: map[string]any{},
	}, ref, true)
	act.Conversation = &activity.ConversationAccount{ID: resp.ID, IsGroup: false}
	if resp.ServiceURL != "" {
		act.ServiceURL = resp.ServiceURL
	}

	w.logger.Info("started conversation", "conversation_id", resp.ID, "channel_id", act.ChannelID)
	return w.rebind(ctx, op, activity.GetConversationReference(act), act)
}

// rebind builds the turn and dialog context for act and swaps the whole
// configuration in one step.
func (w *Worker) rebind(ctx context.Context, op string, ref *activity.ConversationReference, act *activity.Activity) error {
	adapter := w.host.Adapter()
	if adapter == nil {
		return &ConfigurationError{Op: op, Err: ErrNoAdapter}
	}

	turn := adapter.CreateTurnContext(act)
	dc, err := w.host.Dialogs().CreateContext(ctx, turn)
	if err != nil {
		return err
	}
	dc.SetSender(w.Say)

	w.setConfig(WorkerConfig{
		Context:       turn,
		Reference:     ref,
		DialogContext: dc,
		Activity:      act,
	})
	return nil
}

// HTTPStatus sets the status code the webhook ingress answers this turn with.
func (w *Worker) HTTPStatus(status int) {
	w.setTurnState(transport.KeyHTTPStatus, status)
}

// HTTPBody sets the body the webhook ingress answers this turn with.
func (w *Worker) HTTPBody(body any) {
	w.setTurnState(transport.KeyHTTPBody, body)
}

func (w *Worker) setTurnState(key string, value any) {
	turn := w.Config().Context
	if turn == nil || turn.TurnState == nil {
		w.logger.Warn("ignoring turn state on unbound worker", "key", key)
		return
	}
	turn.TurnState.Set(key, value)
}
