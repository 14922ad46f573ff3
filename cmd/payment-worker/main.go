package main // payment worker: charges reservations and reports the outcome

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
	"github.com/labstack/gommon/log"
	"golang.org/x/sync/errgroup"

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
	_ = godotenv.Load()
	lvl := config.ParseLogLevel(os.Getenv("LOG_LEVEL"))
	logger := log.New("payment")
	logger.SetLevel(lvl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, lvl, logger); err != nil {
		logger.Errorf("payment worker stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("payment worker stopped")
}

func run(ctx context.Context, lvl log.Lvl, logger *log.Logger) error {
	dbCfg := config.LoadDBConfig()
	db, err := database.Open(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if dbCfg.AutoMigrate {
		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}
	}

	brokerCfg := config.LoadBrokerConfig()
	gwCfg := config.LoadGatewayConfig()

	brokerLog := log.New("broker")
	brokerLog.SetLevel(lvl)
	pub := queue.NewPublisher(brokerCfg, brokerLog)
	defer pub.Close()

	worker := service.NewPaymentWorker(repository.NewPaymentRepo(db), service.NewMockGateway(gwCfg), pub, clock.NewSystem(), logger)
	consumer := queue.NewConsumer(brokerCfg, service.PaymentQueue, brokerLog)
	service.RegisterPayment(consumer, worker)
	logger.Infof("mock gateway: failure rate %.2f, latency %s", gwCfg.FailureRate, gwCfg.Latency)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })

	if gwCfg.MetricsPort != "" {
		e := echo.New()
		e.HideBanner = true
		e.Logger.SetLevel(lvl)
		router.RegisterRoutes(e, map[string]handler.PingFunc{"mysql": db.PingContext})
		g.Go(func() error {
			if err := e.Start(":" + gwCfg.MetricsPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
