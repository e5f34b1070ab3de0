// Package app wires the PageSpace realtime server runtime: config, logging,
// HTTP routes, the session authority, and the websocket gateway.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	authapi "github.com/2witstudios/pagespace/cmd/internal/auth/api"
	"github.com/2witstudios/pagespace/cmd/internal/auth/session"
	"github.com/2witstudios/pagespace/cmd/internal/broadcast"
	"github.com/2witstudios/pagespace/cmd/internal/events"
	"github.com/2witstudios/pagespace/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the server runtime: it owns HTTP wiring, the connection registry,
// and the background maintenance loops.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	sessions *session.Service
	registry *realtime.Registry

	ws          *realtime.WSGateway
	reaper      *realtime.Reaper
	revalidator *realtime.Revalidator

	broadcastHandler *realtime.BroadcastHandler
	broadcaster      *broadcast.Broadcaster

	auth *authapi.Handler
	bus  events.Bus
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	st, dbPool, dbEnabled, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	tokens, err := session.NewJWTManager(sessCfg)
	if err != nil {
		return nil, err
	}

	var sessionStore session.Store
	var members realtime.DriveMembership
	if dbEnabled {
		sessionStore = session.NewPostgresStore(dbPool)
		pgMembers, err := realtime.NewPostgresDriveMembership(dbPool)
		if err != nil {
			return nil, err
		}
		members = pgMembers
	} else {
		sessionStore = session.NewMemoryStore()
		members = &realtime.StaticDriveMembership{}
	}

	sessions := session.NewService(sessCfg, sessionStore, tokens)

	registry := realtime.NewRegistry(log)
	challenges := realtime.NewChallengeAuthenticator()
	tools := realtime.NewToolDispatcher(log, registry)

	ws, err := realtime.NewWSGateway(log, registry, challenges, tools, sessions)
	if err != nil {
		return nil, err
	}

	router, err := realtime.NewRouter(log, registry, members)
	if err != nil {
		return nil, err
	}

	var broadcastHandler *realtime.BroadcastHandler
	var broadcaster *broadcast.Broadcaster
	if cfg.BroadcastSecret != "" {
		secret := []byte(cfg.BroadcastSecret)
		broadcastHandler, err = realtime.NewBroadcastHandler(log, router, secret)
		if err != nil {
			return nil, err
		}
		broadcaster, err = broadcast.NewBroadcaster(log, runtimeBaseURL(cfg.HTTPAddr), secret, nil)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("broadcast.disabled", "reason", "no secret configured")
	}

	var bus events.Bus
	if cfg.RedisURL != "" {
		bus, err = events.NewRedisStreamBus(log, cfg.RedisURL, cfg.EventGroup)
		if err != nil {
			return nil, err
		}
		log.Info("events.transport", "kind", "redis_stream", "group", cfg.EventGroup)
	} else {
		bus = events.NewInProcessBus(log)
		log.Info("events.transport", "kind", "in_process")
	}

	auth, err := authapi.NewHandler(log, authapi.LoadConfigFromEnv(), sessions, bus)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:              cfg,
		log:              log,
		store:            st,
		dbPool:           dbPool,
		dbEnabled:        dbEnabled,
		sessions:         sessions,
		registry:         registry,
		ws:               ws,
		reaper:           realtime.NewReaper(log, registry),
		revalidator:      realtime.NewRevalidator(log, registry, sessions),
		broadcastHandler: broadcastHandler,
		broadcaster:      broadcaster,
		auth:             auth,
		bus:              bus,
	}, nil
}

// Run starts the HTTP server and maintenance loops and blocks until context
// cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.reaper.Run(runCtx)
	go a.revalidator.Run(runCtx)
	go a.auditLoop(runCtx)

	handler := registerHTTP(a)
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", runtimeBaseURL(a.cfg.HTTPAddr),
		"ws_url", wsBaseURL(runtimeBaseURL(a.cfg.HTTPAddr))+"/ws",
		"db_enabled", a.dbEnabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.bus.Close(); err != nil {
		a.log.Error("events.close.fail", "err", err)
	}
	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// auditLoop consumes session lifecycle events and records them. It exits
// when the context is cancelled or the bus closes the subscription.
func (a *App) auditLoop(ctx context.Context) {
	topics := []string{events.TopicSessionRefreshed, events.TopicSessionExpired, events.TopicConnectionClosed}

	for _, topic := range topics {
		ch, err := a.bus.Subscribe(ctx, topic)
		if err != nil {
			a.log.Warn("audit.subscribe.fail", "topic", topic, "err", err)
			continue
		}
		go func(topic string, ch <-chan events.Event) {
			for ev := range ch {
				a.log.Info("audit.event", "topic", topic, "event_id", ev.ID, "occurred_at", ev.OccurredAt)
			}
		}(topic, ch)
	}

	<-ctx.Done()
}

// Broadcaster returns the outbound push client, or nil when broadcasting is
// disabled.
func (a *App) Broadcaster() *broadcast.Broadcaster {
	return a.broadcaster
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
// Bind-all addresses map to loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + port
}

// wsBaseURL maps an HTTP base URL to its websocket scheme.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}

// newStore decides between Postgres-backed persistence and in-memory dev mode.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store")

	return dbStore{pool: pool}, pool, true, nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
