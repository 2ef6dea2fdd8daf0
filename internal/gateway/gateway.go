// ABOUTME: Gateway hosts the bot: channel adapters, controllers, webhook and health endpoints
// ABOUTME: Manages the store, HTTP/tailscale listener, matrix sync loop and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-botkit/internal/botframework"
	"github.com/2389/coven-botkit/internal/botkit"
	"github.com/2389/coven-botkit/internal/config"
	"github.com/2389/coven-botkit/internal/matrix"
	"github.com/2389/coven-botkit/internal/store"
	"github.com/2389/coven-botkit/internal/transport"
)

// Setup registers the bot's handlers and dialogs on a controller. It runs
// once per enabled channel.
type Setup func(bot *botkit.Controller) error

// Gateway owns one controller per enabled channel and the servers feeding them.
type Gateway struct {
	config *config.Config
	store  store.Store
	logger *slog.Logger

	botframework *botframework.Adapter
	bfBot        *botkit.Controller

	matrix *matrix.Adapter
	mxBot  *botkit.Controller

	httpServer  *http.Server
	tsnetServer *tsnet.Server

	// publicURL is the webhook URL announced at startup, if known
	publicURL string
}

// New creates a Gateway. The SQLite store is opened at cfg.Database.Path and
// setup is applied to every channel's controller.
func New(cfg *config.Config, logger *slog.Logger, setup Setup) (*Gateway, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	gw, err := newWithStore(cfg, s, logger, setup)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

func newWithStore(cfg *config.Config, s store.Store, logger *slog.Logger, setup Setup) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config: cfg,
		store:  s,
		logger: logger.With("component", "gateway"),
	}

	controllerFor := func(adapter transport.Adapter) *botkit.Controller {
		return botkit.New(botkit.Options{
			Adapter:    adapter,
			Store:      s,
			Logger:     logger,
			DedupeTTL:  cfg.Dedupe.TTL,
			DedupeSize: cfg.Dedupe.MaxSize,
			Transcript: cfg.Middleware.Transcript,
		})
	}

	if cfg.BotFramework.Enabled {
		gw.botframework = botframework.New(botframework.Config{
			AppID:          cfg.BotFramework.AppID,
			AppPassword:    cfg.BotFramework.AppPassword,
			TokenURL:       cfg.BotFramework.TokenURL,
			Scope:          cfg.BotFramework.Scope,
			JWTSecret:      cfg.BotFramework.JWTSecret,
			RequestTimeout: cfg.BotFramework.RequestTimeout,
			Version:        Version,
		}, logger)
		gw.bfBot = controllerFor(gw.botframework)
	}

	if cfg.Matrix.Enabled {
		mx, err := matrix.New(matrix.Config{
			Homeserver:   cfg.Matrix.Homeserver,
			UserID:       cfg.Matrix.UserID,
			AccessToken:  cfg.Matrix.AccessToken,
			AllowedRooms: cfg.Matrix.AllowedRooms,
			MsgType:      cfg.Matrix.MsgType,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating matrix adapter: %w", err)
		}
		gw.matrix = mx
		gw.mxBot = controllerFor(mx)
		if cfg.Middleware.Markdown {
			gw.mxBot.SendMiddleware().Use("markdown", matrix.MarkdownStage[*botkit.Worker]())
		}
	}

	if setup != nil {
		for _, bot := range gw.Controllers() {
			if err := setup(bot); err != nil {
				gw.closeControllers()
				return nil, fmt.Errorf("setting up bot: %w", err)
			}
		}
	}

	gw.httpServer = &http.Server{
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// Version is reported in connector user agents. Set by the binary.
var Version = "dev"

// Controllers returns the controllers of the enabled channels.
func (g *Gateway) Controllers() []*botkit.Controller {
	var out []*botkit.Controller
	if g.bfBot != nil {
		out = append(out, g.bfBot)
	}
	if g.mxBot != nil {
		out = append(out, g.mxBot)
	}
	return out
}

// Handler returns the HTTP routes: health checks and, when Bot Framework is
// enabled, the webhook.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	if g.botframework != nil {
		mux.Handle(g.config.Server.WebhookPath, g.botframework.Handler(g.bfBot.ProcessTurn))
	}
	return mux
}

// Run serves until ctx is cancelled or a server fails, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		g.closeControllers()
		_ = g.store.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "webhook_path", g.config.Server.WebhookPath)
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	matrixDone := make(chan struct{})
	if g.matrix != nil {
		go func() {
			defer close(matrixDone)
			if err := g.matrix.Run(runCtx, g.mxBot.ProcessTurn); err != nil {
				errCh <- err
			}
		}()
	} else {
		close(matrixDone)
	}

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	cancel()
	<-matrixDone

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and tailscale node and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	g.closeControllers()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

func (g *Gateway) closeControllers() {
	for _, bot := range g.Controllers() {
		bot.Close()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// setupListener returns the tailscale listener when enabled, else a TCP one.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListener(ctx)
	}
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "coven-botkit", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and listens on it. With funnel
// the webhook is public on :443, which channels like Teams need to reach it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	var ln net.Listener
	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err = g.tsnetServer.ListenFunnel("tcp", ":443")
	} else {
		ln, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status and records
// the public webhook URL.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	if dnsName != "" && g.config.Tailscale.Funnel {
		g.publicURL = "https://" + dnsName + g.config.Server.WebhookPath
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName, "webhook_url", g.publicURL)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports the enabled channels.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	var channels []string
	if g.botframework != nil {
		channels = append(channels, "botframework")
	}
	if g.matrix != nil {
		channels = append(channels, matrix.ChannelID)
	}
	if len(channels) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no channels enabled"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%s)", strings.Join(channels, ", "))
}
