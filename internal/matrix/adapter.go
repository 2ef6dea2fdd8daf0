// ABOUTME: Matrix adapter that turns room messages into turns and delivers replies
// ABOUTME: Wraps a mautrix client for sync ingress, room sends and direct room creation

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/transport"
)

// ChannelID is the channel id of every Matrix activity.
const ChannelID = "matrix"

// Channel data keys understood on outbound activities.
const (
	KeyFormattedBody = "formatted_body"
	KeyMsgType       = "msgtype"
	KeyEventID       = "event_id"
)

// networkTimeout is the timeout for Matrix API calls made outside a turn.
const networkTimeout = 10 * time.Second

// typingTimeout is how long a typing indicator shows.
const typingTimeout = 30 * time.Second

// Config configures the adapter.
type Config struct {
	Homeserver   string
	UserID       string
	AccessToken  string
	AllowedRooms []string
	// MsgType is m.text or m.notice. Defaults to m.text.
	MsgType string
}

// Logic is the bot's turn handler, normally Controller.ProcessTurn.
type Logic func(ctx context.Context, turn *transport.TurnContext) error

// Adapter implements transport.Adapter for Matrix rooms.
type Adapter struct {
	cfg     Config
	client  *mautrix.Client
	self    id.UserID
	msgType event.MessageType
	logger  *slog.Logger

	// since drops history replayed by the initial sync.
	since time.Time

	wg sync.WaitGroup
}

var _ transport.Adapter = (*Adapter)(nil)

// New creates an Adapter. If logger is nil, uses slog.Default().
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	msgType := event.MsgText
	if cfg.MsgType != "" {
		msgType = event.MessageType(cfg.MsgType)
	}

	return &Adapter{
		cfg:     cfg,
		client:  client,
		self:    id.UserID(cfg.UserID),
		msgType: msgType,
		logger:  logger.With("component", "matrix"),
		since:   time.Now(),
	}, nil
}

// Run syncs with the homeserver and hands each text message to logic until
// ctx is cancelled. Turns run concurrently; Run waits for the sync loop and
// every turn before returning.
func (a *Adapter) Run(ctx context.Context, logic Logic) error {
	a.logger.Info("starting matrix adapter", "homeserver", a.cfg.Homeserver, "user_id", a.cfg.UserID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.wg.Wait()

	syncer, ok := a.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", a.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		if ctx.Err() != nil {
			return
		}
		act := a.toActivity(evt)
		if act == nil {
			return
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.runTurn(ctx, act, logic)
		}()
	})

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- a.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down matrix adapter")
		cancel()
		// No turns may start once the wait below begins.
		<-syncErr
		return nil
	case err := <-syncErr:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

func (a *Adapter) runTurn(ctx context.Context, act *activity.Activity, logic Logic) {
	roomID := id.RoomID(act.Conversation.ID)
	a.setTyping(ctx, roomID, true)
	defer a.setTyping(ctx, roomID, false)

	if err := logic(ctx, a.CreateTurnContext(act)); err != nil {
		a.logger.Error("turn failed", "room", roomID.String(), "activity_id", act.ID, "error", err)
	}
}

// toActivity converts a room message into a message activity. It returns nil
// for events the bot ignores: its own messages, non-text messages, events
// from rooms outside the allow list and history from before startup.
func (a *Adapter) toActivity(evt *event.Event) *activity.Activity {
	if evt.Sender == a.self {
		return nil
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return nil
	}
	if content.MsgType != event.MsgText && content.MsgType != event.MsgNotice {
		return nil
	}
	roomID := evt.RoomID.String()
	if !a.isRoomAllowed(roomID) {
		a.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return nil
	}

	ts := time.UnixMilli(evt.Timestamp)
	if evt.Timestamp > 0 && ts.Before(a.since) {
		return nil
	}

	actID := evt.ID.String()
	if actID == "" {
		actID = uuid.New().String()
	}

	return &activity.Activity{
		Type:         activity.TypeMessage,
		ID:           actID,
		Text:         content.Body,
		ChannelID:    ChannelID,
		ServiceURL:   a.cfg.Homeserver,
		Timestamp:    &ts,
		From:         &activity.ChannelAccount{ID: evt.Sender.String()},
		Recipient:    &activity.ChannelAccount{ID: a.self.String()},
		Conversation: &activity.ConversationAccount{ID: roomID},
		ChannelData: map[string]any{
			KeyMsgType: string(content.MsgType),
			KeyEventID: evt.ID.String(),
		},
	}
}

// isRoomAllowed checks if the room is in the allowed list.
func (a *Adapter) isRoomAllowed(roomID string) bool {
	if len(a.cfg.AllowedRooms) == 0 {
		return true
	}
	return slices.Contains(a.cfg.AllowedRooms, roomID)
}

// CreateTurnContext binds act to this adapter.
func (a *Adapter) CreateTurnContext(act *activity.Activity) *transport.TurnContext {
	return transport.NewTurnContext(a, act)
}

// CreateConnectorClient returns a client that creates rooms on the
// configured homeserver. The service URL is not used.
func (a *Adapter) CreateConnectorClient(serviceURL string) (transport.ConnectorClient, error) {
	return &roomCreator{client: a.client}, nil
}

// SendActivities posts message activities into their conversation's room.
// Typing activities toggle the typing indicator; other types are skipped.
func (a *Adapter) SendActivities(ctx context.Context, turn *transport.TurnContext, acts []*activity.Activity) ([]*transport.ResourceResponse, error) {
	resps := make([]*transport.ResourceResponse, 0, len(acts))
	for _, act := range acts {
		if act.Conversation == nil || act.Conversation.ID == "" {
			return resps, errors.New("activity has no room")
		}
		roomID := id.RoomID(act.Conversation.ID)

		switch act.Type {
		case activity.TypeMessage:
			resp, err := a.client.SendMessageEvent(ctx, roomID, event.EventMessage, a.messageContent(act))
			if err != nil {
				return resps, fmt.Errorf("sending to room %s: %w", roomID, err)
			}
			resps = append(resps, &transport.ResourceResponse{ID: resp.EventID.String()})

		case activity.TypeTyping:
			a.setTyping(ctx, roomID, true)
			resps = append(resps, &transport.ResourceResponse{})

		default:
			a.logger.Debug("skipping unsupported activity", "type", act.Type, "room", roomID.String())
			resps = append(resps, &transport.ResourceResponse{})
		}
	}
	return resps, nil
}

func (a *Adapter) messageContent(act *activity.Activity) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: a.msgType,
		Body:    act.Text,
	}
	if mt := act.ChannelString(KeyMsgType); mt != "" {
		content.MsgType = event.MessageType(mt)
	}
	if html := act.ChannelString(KeyFormattedBody); html != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	return content
}

// setTyping sends a typing indicator, logging failures.
func (a *Adapter) setTyping(ctx context.Context, roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), networkTimeout)
	defer cancel()
	if _, err := a.client.UserTyping(ctx, roomID, typing, timeout); err != nil {
		a.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// roomCreator creates Matrix rooms as conversations.
type roomCreator struct {
	client *mautrix.Client
}

// CreateConversation creates a private room inviting the members. A
// non-group conversation is flagged as a direct chat.
func (r *roomCreator) CreateConversation(ctx context.Context, params *transport.ConversationParameters) (*transport.ConversationResourceResponse, error) {
	req := &mautrix.ReqCreateRoom{
		Preset:   "trusted_private_chat",
		IsDirect: !params.IsGroup,
		Name:     params.TopicName,
	}
	for _, m := range params.Members {
		if m != nil && m.ID != "" {
			req.Invite = append(req.Invite, id.UserID(m.ID))
		}
	}

	resp, err := r.client.CreateRoom(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("creating room: %w", err)
	}
	return &transport.ConversationResourceResponse{ID: resp.RoomID.String()}, nil
}
