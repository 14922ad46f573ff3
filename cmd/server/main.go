package main // HTTP API, waiting room and saga orchestrator

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/ticket-rush/internal/admission"
	"github.com/iliyamo/ticket-rush/internal/clock"
	"github.com/iliyamo/ticket-rush/internal/config"
	"github.com/iliyamo/ticket-rush/internal/database"
	"github.com/iliyamo/ticket-rush/internal/handler"
	"github.com/iliyamo/ticket-rush/internal/queue"
	"github.com/iliyamo/ticket-rush/internal/repository"
	"github.com/iliyamo/ticket-rush/internal/router"
	"github.com/iliyamo/ticket-rush/internal/service"
)

func main() {
	_ = godotenv.Load() // a missing .env is fine outside local runs
	cfg := config.Load()

	named := func(prefix string) *log.Logger {
		l := log.New(prefix)
		l.SetLevel(cfg.LogLevel)
		return l
	}
	logger := named("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, named); err != nil {
		logger.Errorf("server stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, named func(string) *log.Logger) error {
	db, err := database.Open(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.DB.AutoMigrate {
		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}
	}

	brokerCfg := config.LoadBrokerConfig()
	pub := queue.NewPublisher(brokerCfg, named("broker"))
	defer pub.Close()

	clk := clock.NewSystem()
	saga := service.NewSagaOrchestrator(repository.NewProductRepo(db), repository.NewReservationRepo(db), pub, clk, named("saga"))

	deps := router.Deps{
		JWTSecret:    cfg.JWTSecret,
		ServiceKey:   cfg.ServiceKey,
		RateLimit:    config.LoadRateLimitConfig(),
		Reservations: handler.NewReservationHandler(saga),
		Ready:        map[string]handler.PingFunc{"mysql": db.PingContext},
	}
	if cfg.QueueServiceURL == "" {
		rdb, err := config.NewRedisClient(ctx)
		if err != nil {
			return err
		}
		defer rdb.Close()
		ctrl := admission.NewController(rdb, config.LoadAdmissionConfig(), clk, named("admission"))
		deps.Redis = rdb
		deps.Queue = handler.NewQueueHandler(ctrl)
		deps.Passes = ctrl
		deps.Ready["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		deps.Passes = admission.NewRemoteValidator(cfg.QueueServiceURL, cfg.ServiceKey, named("admission"))
	}

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(cfg.LogLevel)
	e.Use(echomw.Recover())
	router.Register(e, deps)

	consumer := queue.NewConsumer(brokerCfg, service.OrchestratorQueue, named("consumer"))
	service.RegisterSaga(consumer, saga)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error {
		addr := ":" + cfg.Port
		e.Logger.Infof("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
