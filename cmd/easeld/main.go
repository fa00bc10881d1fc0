package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/throw-if-null/easel/internal/config"
	"github.com/throw-if-null/easel/internal/job"
	"github.com/throw-if-null/easel/internal/midjourney"
	"github.com/throw-if-null/easel/internal/onebot"
	"github.com/throw-if-null/easel/internal/painting"
	"github.com/throw-if-null/easel/internal/paths"
	"github.com/throw-if-null/easel/internal/plugin"
	"github.com/throw-if-null/easel/internal/server"
	"github.com/throw-if-null/easel/internal/store"
	"github.com/throw-if-null/easel/internal/telemetry"
	"github.com/throw-if-null/easel/internal/version"
)

// Swapped out in tests.
var (
	dotenvLoad    = config.LoadDotEnv
	lookupEnv     = os.LookupEnv
	telemetryInit = telemetry.Init
)

type daemon struct {
	addr    string
	handler http.Handler
	runner  *job.Runner
	bot     *onebot.Client
	plugin  *plugin.Plugin
	log     *logrus.Logger
	closers []func(context.Context) error
}

func main() {
	root, err := os.Getwd()
	if err != nil {
		logrus.WithError(err).Fatal("resolve working directory")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := setup(ctx, root, logrus.New())
	if err != nil {
		logrus.WithError(err).Fatal("easeld setup failed")
	}
	if err := d.run(ctx); err != nil {
		d.log.WithError(err).Error("easeld stopped")
	}
	d.shutdown(context.Background())
}

func setup(ctx context.Context, root string, log *logrus.Logger) (*daemon, error) {
	if err := dotenvLoad(root); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	res := config.Load(root)
	if res.ParseError != nil {
		return nil, fmt.Errorf("load %s: %w", res.Path, res.ParseError)
	}
	cfg, err := config.ApplyEnv(res.Config, lookupEnv)
	if err != nil {
		return nil, err
	}
	if err := configureLogger(log, cfg.Logging); err != nil {
		return nil, err
	}
	// gin's route dump is only wanted when debugging.
	if !log.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}

	d := &daemon{
		addr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		log:  log,
	}

	shutdownTracing, err := telemetryInit(ctx, telemetry.FromConfig(cfg.Telemetry, version.Version), log)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	d.closers = append(d.closers, shutdownTracing)

	st, db, err := store.Open(paths.DBPath(root))
	if err != nil {
		d.shutdown(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}
	d.closers = append(d.closers, func(context.Context) error { return db.Close() })

	if n, err := st.ReconcileRunningJobs(); err != nil {
		log.WithError(err).Warn("reconcile running jobs")
	} else if n > 0 {
		log.WithField("count", n).Info("marked orphaned jobs abandoned")
	}

	var last painting.LastTasks = st
	if cfg.Cache.Backend == config.CacheRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			d.shutdown(ctx)
			return nil, fmt.Errorf("redis %s: %w", cfg.Cache.RedisAddr, err)
		}
		d.closers = append(d.closers, func(context.Context) error { return rdb.Close() })
		last = store.NewRedisLastTasks(rdb)
	}

	deadline := time.Duration(cfg.Jobs.DeadlineMS) * time.Millisecond
	if deadline <= 0 {
		deadline = job.DefaultDeadline
	}
	d.runner = job.NewRunner(st, deadline,
		job.WithTimeoutErrors(midjourney.ErrPollTimeout),
		job.WithLogger(log),
	)

	mgr := config.NewManager(root, cfg)
	svc := painting.New(mgr, d.runner, last, painting.WithLogger(log))

	if cfg.Bot.WSURL != "" {
		d.bot = onebot.New(cfg.Bot, onebot.WithLogger(log))
		d.plugin = plugin.New(mgr, svc, d.runner, d.bot, plugin.WithLogger(log))
	}

	d.handler = server.New(st, svc, d.runner, log).Handler()
	return d, nil
}

func configureLogger(log *logrus.Logger, c config.LoggingConfig) error {
	lvl, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("%w: logging.level: %v", config.ErrInvalid, err)
	}
	log.SetLevel(lvl)
	switch strings.ToLower(c.Format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("%w: logging.format %q", config.ErrInvalid, c.Format)
	}
	return nil
}

// run serves HTTP and, when configured, the OneBot connection until ctx ends
// or either of them fails.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{Addr: d.addr, Handler: d.handler, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 2)
	go func() {
		d.log.WithFields(logrus.Fields{"addr": d.addr, "version": version.Version, "commit": version.Commit}).Info("easeld listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	botDone := make(chan struct{})
	if d.bot != nil {
		go func() {
			defer close(botDone)
			if err := d.bot.Run(ctx, d.plugin); err != nil && !errors.Is(err, context.Canceled) {
				errc <- err
			}
		}()
	} else {
		close(botDone)
		d.log.Info("no onebot ws_url configured, chat bot disabled")
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	cancel()

	sctx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if serr := srv.Shutdown(sctx); serr != nil {
		d.log.WithError(serr).Warn("http shutdown")
	}
	<-botDone
	return err
}

// shutdown stops in-flight jobs and releases resources in reverse order.
func (d *daemon) shutdown(ctx context.Context) {
	if d.runner != nil {
		d.runner.AbandonAll()
		d.runner.Wait()
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			d.log.WithError(err).Warn("shutdown")
		}
	}
}
