// Package app wires the resogate runtime: config, logging, metrics,
// the score store, the sync queue, the gate manager, one chat adapter,
// and the HTTP surface.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"resogate/internal/account"
	"resogate/internal/api"
	"resogate/internal/captoken"
	"resogate/internal/chat"
	"resogate/internal/chat/discord"
	"resogate/internal/chat/telegram"
	"resogate/internal/gate"
	"resogate/internal/ledger"
	"resogate/internal/score"
	"resogate/internal/syncq"
	"resogate/internal/vault"
)

// App is the resogate server runtime.
type App struct {
	cfg Config
	log Logger

	pool      *pgxpool.Pool
	dbEnabled bool
	reg       *prometheus.Registry

	accounts account.Store
	queue    *syncq.Queue
	manager  *gate.Manager
	api      *api.Handler

	// Background event loops besides the queue and the session sweep.
	loops []func(context.Context)
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, reg: newRegistry()}

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.dbEnabled = true
	}

	if err := a.wire(ctx); err != nil {
		if a.pool != nil {
			a.pool.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	if a.dbEnabled {
		store, err := account.NewPostgresStore(a.pool)
		if err != nil {
			return err
		}
		a.accounts = store
		a.log.Info("db.enabled.postgres_store")
	} else {
		a.accounts = account.NewMemoryStore()
		a.log.Info("db.disabled.inmemory_store")
	}

	v, err := vault.New()
	if err != nil {
		return err
	}
	issuer, err := captoken.NewIssuer([]byte(a.cfg.TokenSecret))
	if err != nil {
		return err
	}

	guard := score.NewSyncGuard()

	var enqueuer api.Enqueuer
	if a.cfg.LedgerURL != "" {
		queue, err := syncq.New(a.log, ledger.NewHTTPClient(a.cfg.LedgerURL),
			syncq.WithMetrics(a.reg),
			syncq.WithCommitHook(func(ctx context.Context, addr string, target int, _ string) {
				if err := a.accounts.MarkSynced(ctx, addr, target, time.Now().UTC()); err != nil {
					a.log.Warn("app.mark_synced_fail", "address", addr, "err", err)
				}
				guard.Forget(addr)
			}),
		)
		if err != nil {
			return err
		}
		a.queue = queue
		enqueuer = queue
	} else {
		a.log.Warn("ledger.disabled", "reason", "RG_LEDGER_URL not set")
		enqueuer = dropQueue{log: a.log}
	}

	var scores ledger.ScoreSource
	if a.cfg.ScoreAPIURL != "" {
		scores = ledger.NewHTTPScoreSource(a.cfg.ScoreAPIURL)
	} else {
		scores = localScoreSource{accounts: a.accounts}
	}

	var configStore gate.ConfigStore
	if a.dbEnabled {
		cs, err := gate.NewPostgresConfigStore(a.pool)
		if err != nil {
			return err
		}
		configStore = cs
	} else {
		configStore = gate.NewMemoryConfigStore()
	}

	msgr, err := a.newMessenger()
	if err != nil {
		return err
	}

	mgrCfg := gate.DefaultManagerConfig()
	mgrCfg.RefreshInterval = a.cfg.SessionRefreshInterval
	mgrCfg.SweepInterval = a.cfg.SessionSweepInterval
	manager, err := gate.NewManager(a.log, v, issuer, scores, msgr, configStore,
		gate.WithManagerConfig(mgrCfg),
		gate.WithMetrics(a.reg),
	)
	if err != nil {
		return err
	}
	a.manager = manager

	apiHandler, err := api.NewHandler(a.log, a.accounts, enqueuer, guard, manager)
	if err != nil {
		return err
	}
	a.api = apiHandler
	return nil
}

// newMessenger picks the chat adapter from config. Telegram wins when
// both platforms are configured; with neither, chat control is off and
// only the HTTP surface runs.
func (a *App) newMessenger() (chat.Messenger, error) {
	switch {
	case a.cfg.TelegramToken != "":
		bot, err := telegram.NewBot(a.log, a.cfg.TelegramToken, deferredHandler{app: a})
		if err != nil {
			return nil, err
		}
		a.loops = append(a.loops, bot.Run)
		a.log.Info("chat.platform", "platform", "telegram")
		return bot, nil

	case a.cfg.DiscordToken != "":
		client, err := discord.NewClient(a.log, a.cfg.DiscordToken, a.cfg.DiscordGuildID,
			discord.WithAdminRoles(a.cfg.DiscordAdminRoles))
		if err != nil {
			return nil, err
		}
		if a.cfg.DiscordChannelID == "" {
			return nil, errors.New("RG_DISCORD_CHANNEL_ID required with a discord token")
		}
		gw, err := discord.NewGateway(a.log, client, deferredHandler{app: a}, a.cfg.DiscordChannelID)
		if err != nil {
			return nil, err
		}
		a.loops = append(a.loops, gw.Run)
		a.log.Info("chat.platform", "platform", "discord")
		return client, nil

	default:
		a.log.Warn("chat.disabled", "reason", "no platform token configured")
		return noopMessenger{}, nil
	}
}

// Run starts the HTTP server and all background loops, blocking until
// context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.pool, a.dbEnabled, a.reg, a.api)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	start := func(loop func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop(runCtx)
		}()
	}

	if a.queue != nil {
		start(a.queue.Run)
	}
	start(a.manager.Run)
	for _, loop := range a.loops {
		start(loop)
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = err
	}

	if a.accounts != nil {
		_ = a.accounts.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}

	a.log.Info("server.stopped")
	return runErr
}

// deferredHandler forwards chat events to the gate manager. It exists
// because the messenger is built before the manager; by the time any
// event arrives, wiring is complete.
type deferredHandler struct {
	app *App
}

func (d deferredHandler) OnJoin(ctx context.Context, gateID, subjectID, inviteLink string) error {
	return d.app.manager.OnJoin(ctx, gateID, subjectID, inviteLink)
}

func (d deferredHandler) OnLeave(ctx context.Context, gateID, subjectID string) {
	d.app.manager.OnLeave(ctx, gateID, subjectID)
}

func (d deferredHandler) OnMessage(ctx context.Context, gateID, subjectID, text, replyToID string) {
	d.app.manager.OnMessage(ctx, gateID, subjectID, text, replyToID)
}

// localScoreSource computes live resonance from the local store when no
// external score API is configured.
type localScoreSource struct {
	accounts account.Store
}

func (l localScoreSource) GetLiveScore(ctx context.Context, walletAddress string) (int, error) {
	st, err := l.accounts.Get(ctx, walletAddress)
	if err != nil {
		return 0, err
	}
	followers, err := l.accounts.FollowerScores(ctx, walletAddress)
	if err != nil {
		return 0, err
	}
	return score.Compute(st.Score, followers).Ledger, nil
}

// dropQueue stands in for the sync queue when no ledger bridge is
// configured. Every enqueue is refused so callers report the sync as
// not queued.
type dropQueue struct {
	log Logger
}

func (d dropQueue) Enqueue(address string, target int) error {
	d.log.Debug("syncq.drop", "address", address, "target", target)
	return errors.New("ledger disabled")
}

func (d dropQueue) Depth() int                       { return 0 }
func (d dropQueue) LastCommitted(string) (int, bool) { return 0, false }

// noopMessenger disables chat control while keeping the HTTP surface
// functional. Invite links are locally unique placeholders.
type noopMessenger struct{}

func (noopMessenger) GrantWrite(context.Context, string, string) error { return nil }

func (noopMessenger) RevokeWrite(context.Context, string, string) error { return nil }

func (noopMessenger) Send(context.Context, string, string) (string, error) { return "", nil }

func (noopMessenger) SendTo(context.Context, string, string, string) error { return nil }

func (noopMessenger) CreateInvite(context.Context, string) (string, error) {
	return "invite-" + ulid.MustNew(ulid.Now(), rand.Reader).String(), nil
}

func (noopMessenger) IsAdmin(context.Context, string, string) (bool, error) { return false, nil }
