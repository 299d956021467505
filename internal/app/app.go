package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/mcbot/internal/bridge"
	"github.com/MrSnakeDoc/mcbot/internal/chat"
	"github.com/MrSnakeDoc/mcbot/internal/chat/telegram"
	"github.com/MrSnakeDoc/mcbot/internal/config"
	"github.com/MrSnakeDoc/mcbot/internal/dispatch"
	"github.com/MrSnakeDoc/mcbot/internal/domain"
	"github.com/MrSnakeDoc/mcbot/internal/httpserver"
	"github.com/MrSnakeDoc/mcbot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/mcbot/internal/locale"
	"github.com/MrSnakeDoc/mcbot/internal/logger"
	"github.com/MrSnakeDoc/mcbot/internal/logsource"
	"github.com/MrSnakeDoc/mcbot/internal/probe"
	"github.com/MrSnakeDoc/mcbot/internal/rcon"
	"github.com/MrSnakeDoc/mcbot/internal/redis"
	"github.com/MrSnakeDoc/mcbot/internal/scheduler"
	"github.com/MrSnakeDoc/mcbot/internal/startseq"
	redisstore "github.com/MrSnakeDoc/mcbot/internal/store/redis"
	"github.com/MrSnakeDoc/mcbot/internal/systemd"
	"github.com/MrSnakeDoc/mcbot/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	transport   *telegram.Transport
	dispatcher  *dispatch.Dispatcher
	registry    *bridge.Registry
	sweeper     *scheduler.PendingSweeper
	server      *httpserver.Server // nil when ops.listen is empty
	redisClient *goredis.Client    // nil when redis.addr is empty

	// relays run under this context, not under the update that spawned them
	cancelRoot context.CancelFunc
}

// New builds every component from cfg. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	catalog, err := locale.New(cfg.Locale)
	if err != nil {
		return nil, fmt.Errorf("locale: %w", err)
	}

	// Redis is optional; when configured, fail fast if unavailable
	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = redis.New(ctx, redisOptions(cfg.Redis), loggerClient)
		if err != nil {
			return nil, err
		}
	}

	transport, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		APIEndpoint: cfg.Telegram.APIEndpoint,
		PollTimeout: cfg.Telegram.PollTimeout,
		Chats:       cfg.ChatIDs(),
	}, offsetStore(cfg, redisClient, loggerClient), loggerClient)
	if err != nil {
		closeRedis(redisClient, loggerClient)
		return nil, err
	}

	useSudo := os.Geteuid() != 0
	if cfg.Systemd.UseSudo != nil {
		useSudo = *cfg.Systemd.UseSudo
	}

	sys := systemd.New().WithSudo(useSudo, cfg.Systemd.SudoCommand)
	sys.SystemctlPath = cfg.Systemd.SystemctlPath
	sys.Timeout = cfg.Systemd.CommandTimeout

	journal := logsource.NewJournal()
	journal.UseSudo = useSudo
	journal.SudoCommand = cfg.Systemd.SudoCommand
	journal.JournalctlPath = cfg.Systemd.JournalctlPath
	follower := logsource.Auto{Journal: journal, File: logsource.NewFile()}

	var exec rcon.Executor = rcon.NewNative(cfg.RCON.Timeout)
	if cfg.RCON.Backend == config.RCONMcrcon {
		exec = rcon.NewMcrcon(cfg.RCON.McrconPath, cfg.RCON.Timeout)
	}
	console := rcon.NewConsole(exec)

	registry := bridge.NewRegistry()
	pending := bridge.NewPendingActivations()
	relayDeps := bridge.RelayDeps{
		Follower: follower,
		Sender:   transport,
		Throttle: bridge.NewThrottle(bridge.ThrottleConfig{
			Burst:        cfg.Bridge.ThrottleBurst,
			RefillPerMin: cfg.Bridge.ThrottlePerMinute,
		}),
		Log: loggerClient,
	}

	root, cancelRoot := context.WithCancel(context.Background())

	dispatcher := dispatch.New(dispatch.Deps{
		Servers:  cfg.Directory(),
		Chats:    cfg.Chats(),
		Init:     sys,
		Probe:    probe.New(sys, console),
		Console:  console,
		Starter:  startseq.New(sys, follower, cfg.Start.Timeout, cfg.Start.ReadyMarker, loggerClient),
		Registry: registry,
		Pending:  pending,
		Spawn: func(srv domain.Server, chatID int64) (*bridge.RelayTask, error) {
			return bridge.StartRelay(root, relayDeps, srv, chatID)
		},
		Sender:  transport,
		Catalog: catalog,
		Log:     loggerClient,
	})

	sweeper := scheduler.NewPendingSweeper(
		dispatcher,
		loggerClient,
		cfg.Bridge.SweepInterval,
		cfg.Bridge.PendingTTL,
	)

	var server *httpserver.Server
	if cfg.Ops.Listen != "" {
		d := deps.Deps{
			Logger:       loggerClient,
			StartTime:    time.Now(),
			Version:      version.Version,
			Commit:       version.Commit,
			BuildDate:    version.BuildDate,
			GoVersion:    version.GoVersion,
			TimeNow:      time.Now,
			AllowedCIDRS: cfg.Ops.AllowedCIDRS,
			TrustProxy:   cfg.Ops.TrustProxy,
			Transport:    transport,
			Sessions:     registry,
			Pending:      pending,
		}
		if redisClient != nil {
			d.Redis = redisPinger{redisClient}
		}
		server = httpserver.New(cfg.Ops.Listen, d)
	}

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		transport:   transport,
		dispatcher:  dispatcher,
		registry:    registry,
		sweeper:     sweeper,
		server:      server,
		redisClient: redisClient,
		cancelRoot:  cancelRoot,
	}, nil
}

func redisOptions(c config.RedisConfig) redis.ConnectOptions {
	return redis.ConnectOptions{
		Addr:           c.Addr,
		User:           c.User,
		Password:       c.Password,
		DB:             c.DB,
		DialTimeout:    c.DialTimeout,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		PoolSize:       c.PoolSize,
		ConnectTimeout: c.ConnectTimeout,
		RetryInterval:  c.RetryInterval,
		MaxWait:        c.MaxWait,
		PingTimeout:    c.PingTimeout,
		WarnThreshold:  c.WarnThreshold,
	}
}

// offsetStore prefers redis, then a file, then memory.
func offsetStore(cfg *config.Config, client *goredis.Client, log logger.Logger) chat.OffsetStore {
	switch {
	case client != nil:
		botID, _, _ := strings.Cut(cfg.Telegram.Token, ":")
		log.Info("update offset stored in redis", logger.String("key", redisstore.OffsetKey(botID)))
		return redisstore.NewOffsetStore(client, botID)
	case cfg.Telegram.OffsetFile != "":
		log.Info("update offset stored on disk", logger.String("path", cfg.Telegram.OffsetFile))
		return chat.NewFileOffsetStore(cfg.Telegram.OffsetFile)
	default:
		log.Warn("update offset kept in memory, a restart may replay recent commands")
		return chat.NewMemoryOffsetStore()
	}
}

type redisPinger struct{ c *goredis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }

func closeRedis(c *goredis.Client, log logger.Logger) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Warnf("failed to close redis: %v", err)
	} else {
		log.Info("✅ Redis closed cleanly")
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting mcbot %s managing %d server(s)", version.Version, len(a.cfg.Servers))
	a.logger.Infof("mcbot %s", version.String())
	defer func() { _ = a.logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.sweeper.Start(ctx)
	a.logger.Info("pending activation sweeper started",
		logger.Duration("interval", a.cfg.Bridge.SweepInterval),
		logger.Duration("ttl", a.cfg.Bridge.PendingTTL))

	if a.server != nil {
		if err := a.server.Start(); err != nil {
			a.sweeper.Stop()
			a.cancelRoot()
			closeRedis(a.redisClient, a.logger)
			return fmt.Errorf("ops server: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.transport.Run(ctx, a.dispatcher)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
		<-errCh
	case runErr = <-errCh:
		if runErr != nil {
			runErr = fmt.Errorf("telegram transport: %w", runErr)
		}
	}

	a.sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.registry.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("relays did not stop in time", logger.Error(err))
	}
	a.cancelRoot()

	if a.server != nil {
		if err := a.server.Stop(shutdownCtx); err != nil {
			a.logger.Warn("failed to stop ops server", logger.Error(err))
		}
	}

	closeRedis(a.redisClient, a.logger)

	if runErr != nil {
		return runErr
	}
	a.logger.Info("✅ mcbot stopped cleanly")
	return nil
}
