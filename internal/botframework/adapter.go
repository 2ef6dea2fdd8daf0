// ABOUTME: Bot Framework adapter delivering activities over the connector REST API
// ABOUTME: Runs inbound middleware (tenant id relocation) and builds connector clients

package botframework

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/auth"
	"github.com/2389/coven-botkit/internal/middleware"
	"github.com/2389/coven-botkit/internal/transport"
)

// Activity types handled by the adapter itself rather than delivered.
const (
	TypeDelay          = "delay"
	TypeInvokeResponse = "invokeResponse"
)

// defaultDelay is used for a delay activity without a numeric value.
const defaultDelay = time.Second

// ErrNoServiceURL is returned when an outbound activity has nowhere to go.
var ErrNoServiceURL = errors.New("activity has no serviceUrl")

// Config configures the adapter.
type Config struct {
	AppID       string
	AppPassword string
	TokenURL    string
	Scope       string

	// JWTSecret enables bearer verification of inbound webhook requests.
	JWTSecret string

	RequestTimeout time.Duration

	// Version is reported in the connector user agent.
	Version string

	// HTTPClient is the base client for token and connector requests.
	// Defaults to http.DefaultClient's transport.
	HTTPClient *http.Client
}

// InboundPipeline runs against every inbound turn before the bot logic.
type InboundPipeline = middleware.Pipeline[*transport.TurnContext, *activity.Activity]

// Adapter implements transport.Adapter for Bot Framework channels such as
// Microsoft Teams.
type Adapter struct {
	cfg       Config
	userAgent string
	inbound   *InboundPipeline
	tokens    oauth2.TokenSource
	verifier  auth.TokenVerifier
	logger    *slog.Logger

	mu         sync.Mutex
	connectors map[string]*Connector
}

var _ transport.Adapter = (*Adapter)(nil)

// New creates an Adapter. If logger is nil, uses slog.Default(). The tenant
// relocation stage is always registered first.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	a := &Adapter{
		cfg:        cfg,
		userAgent:  UserAgent(cfg.Version),
		inbound:    middleware.New[*transport.TurnContext, *activity.Activity](),
		logger:     logger.With("component", "botframework"),
		connectors: make(map[string]*Connector),
	}

	if cfg.AppID != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppPassword,
			TokenURL:     cfg.TokenURL,
		}
		if cfg.Scope != "" {
			cc.Scopes = []string{cfg.Scope}
		}
		tokenCtx := context.Background()
		if cfg.HTTPClient != nil {
			tokenCtx = context.WithValue(tokenCtx, oauth2.HTTPClient, cfg.HTTPClient)
		}
		a.tokens = oauth2.ReuseTokenSource(nil, cc.TokenSource(tokenCtx))
	}

	if cfg.JWTSecret != "" {
		a.verifier = auth.NewJWTVerifier([]byte(cfg.JWTSecret), cfg.AppID)
	}

	a.inbound.Use("tenant", TenantMiddleware)
	return a
}

// UserAgent is the user agent sent on every connector request.
func UserAgent(version string) string {
	return fmt.Sprintf("Microsoft-BotFramework/3.1 Botkit/%s (Go,Version=%s; %s %s)",
		version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Use appends an inbound middleware stage.
func (a *Adapter) Use(name string, h middleware.Handler[*transport.TurnContext, *activity.Activity]) {
	a.inbound.Use(name, h)
}

// Inbound returns the inbound middleware pipeline.
func (a *Adapter) Inbound() *InboundPipeline {
	return a.inbound
}

// TenantMiddleware copies channelData.tenant.id onto the conversation when
// the conversation does not carry a tenant id yet.
func TenantMiddleware(ctx context.Context, turn *transport.TurnContext, act *activity.Activity, next middleware.Next) error {
	if act != nil && act.Conversation != nil && act.Conversation.TenantID == "" {
		if tenant := act.ChannelString("tenant", "id"); tenant != "" {
			act.Conversation.TenantID = tenant
		}
	}
	return next()
}

// CreateTurnContext binds act to this adapter.
func (a *Adapter) CreateTurnContext(act *activity.Activity) *transport.TurnContext {
	return transport.NewTurnContext(a, act)
}

// CreateConnectorClient returns the connector for serviceURL.
func (a *Adapter) CreateConnectorClient(serviceURL string) (transport.ConnectorClient, error) {
	return a.connector(serviceURL)
}

// connector returns a cached Connector for serviceURL. All connectors share
// one token source.
func (a *Adapter) connector(serviceURL string) (*Connector, error) {
	base := strings.TrimRight(serviceURL, "/")
	if base == "" {
		return nil, ErrNoServiceURL
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.connectors[base]; ok {
		return c, nil
	}
	c := newConnector(base, a.httpClient(), a.userAgent)
	a.connectors[base] = c
	return c, nil
}

func (a *Adapter) httpClient() *http.Client {
	var rt http.RoundTripper = http.DefaultTransport
	if a.cfg.HTTPClient != nil && a.cfg.HTTPClient.Transport != nil {
		rt = a.cfg.HTTPClient.Transport
	}
	if a.tokens != nil {
		rt = &oauth2.Transport{Source: a.tokens, Base: rt}
	}
	return &http.Client{Transport: rt, Timeout: a.cfg.RequestTimeout}
}

// SendActivities delivers acts in order. Delay activities pause the turn and
// invoke responses are written to turn state for the webhook to return.
func (a *Adapter) SendActivities(ctx context.Context, turn *transport.TurnContext, acts []*activity.Activity) ([]*transport.ResourceResponse, error) {
	resps := make([]*transport.ResourceResponse, 0, len(acts))
	for _, act := range acts {
		switch act.Type {
		case TypeDelay:
			if err := sleep(ctx, delayDuration(act.Value)); err != nil {
				return resps, err
			}
			resps = append(resps, &transport.ResourceResponse{})

		case TypeInvokeResponse:
			if turn != nil {
				status, body := invokeResponse(act.Value)
				turn.TurnState.Set(transport.KeyHTTPStatus, status)
				if body != nil {
					turn.TurnState.Set(transport.KeyHTTPBody, body)
				}
			}
			resps = append(resps, &transport.ResourceResponse{})

		default:
			resp, err := a.deliver(ctx, act)
			if err != nil {
				return resps, err
			}
			resps = append(resps, resp)
		}
	}
	return resps, nil
}

func (a *Adapter) deliver(ctx context.Context, act *activity.Activity) (*transport.ResourceResponse, error) {
	if act.Conversation == nil || act.Conversation.ID == "" {
		return nil, errors.New("activity has no conversation")
	}
	c, err := a.connector(act.ServiceURL)
	if err != nil {
		return nil, err
	}
	if act.ReplyToID != "" {
		return c.ReplyToActivity(ctx, act.Conversation.ID, act.ReplyToID, act)
	}
	return c.SendToConversation(ctx, act.Conversation.ID, act)
}

func delayDuration(v any) time.Duration {
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Millisecond
	case int64:
		return time.Duration(n) * time.Millisecond
	case float64:
		return time.Duration(n * float64(time.Millisecond))
	case time.Duration:
		return n
	}
	return defaultDelay
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// invokeResponse reads {status, body} from an invoke response value.
func invokeResponse(v any) (int, any) {
	m, ok := v.(map[string]any)
	if !ok {
		return http.StatusOK, v
	}
	status := http.StatusOK
	switch s := m["status"].(type) {
	case int:
		status = s
	case float64:
		status = int(s)
	}
	return status, m["body"]
}
