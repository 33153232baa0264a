package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	contractmq "jobnotify/contracts/mq"
	"jobnotify/internal/auth"
	"jobnotify/internal/config"
	"jobnotify/internal/delivery"
	"jobnotify/internal/handler"
	"jobnotify/internal/httpserver"
	"jobnotify/internal/mqhandler"
	"jobnotify/internal/render"
	"jobnotify/internal/repository"
	"jobnotify/internal/service/dispatch"
	"jobnotify/pkg/circuitbreaker"
	"jobnotify/pkg/db"
	"jobnotify/pkg/logger"
	"jobnotify/pkg/mq"
	"jobnotify/pkg/otel"
	"jobnotify/pkg/redis"
	"jobnotify/pkg/util"
)

var version = "dev"

func main() {
	hashSecret := flag.String("hash-secret", "", "print the bcrypt hash of a cron secret for auth.cron_secret_hash and exit")
	flag.Parse()

	if *hashSecret != "" {
		hash, err := auth.HashSecret(*hashSecret)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg := config.Load()

	log := logger.NewLogger(cfg.Debug)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting job-notify dispatcher...",
		zap.String("version", version),
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("email_provider", cfg.Email.Provider),
		zap.Bool("claim_enabled", cfg.Dispatch.Claim.Enabled),
		zap.Int("concurrency", cfg.Dispatch.Concurrency),
	)

	// Tracing
	shutdownTracing, err := otel.Init(cfg.OTel, version, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownTracing()

	// DB
	dbConn, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()
	log.Info("Database connection established successfully")

	// Repositories
	queueRepo := repository.NewNotificationQueueRepository(dbConn, repository.ClaimOptions{
		Enabled:    cfg.Dispatch.Claim.Enabled,
		TTL:        cfg.Dispatch.Claim.TTL,
		ScanFactor: cfg.Dispatch.Claim.ScanFactor,
	}, log)
	adminRepo := repository.NewAdminRepository(dbConn)

	// Dispatcher
	dispatcher := dispatch.NewDispatcher(
		queueRepo,
		render.NewRenderer(cfg.Site.BaseURL, cfg.Site.Name),
		newSender(cfg, log),
		dispatch.Config{
			DefaultLimit: cfg.Dispatch.DefaultLimit,
			MaxLimit:     cfg.Dispatch.MaxLimit,
			Concurrency:  cfg.Dispatch.Concurrency,
			Timeout:      cfg.Dispatch.Timeout,
		},
		log,
	)

	// Redis delivery markers + MQ 重试计数（可选）
	var retryCounter *util.RetryCounter
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable, delivery markers disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			dispatcher.WithMarker(util.NewDeliveryMarker(rdb, cfg.Dispatch.MarkerTTL, log))
			retryCounter = util.NewRetryCounter(rdb, time.Hour)
			log.Info("Delivery markers enabled", zap.Duration("ttl", cfg.Dispatch.MarkerTTL))
		}
	}

	// 后台任务必须在连接池关闭前退出
	bg := newWorkers(log)

	// MQ（可选）：结果事件 + dispatch 触发
	var publisher *mq.Publisher
	if cfg.MQ.URL != "" {
		publisher, err = mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer publisher.Close()
		dispatcher.WithEvents(publisher)

		if cfg.Dispatch.Consumer.Enabled {
			consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.Dispatch.Consumer.Queue, contractmq.RoutingKeyDispatch, log)
			if err != nil {
				log.Fatal("Failed to init consumer", zap.Error(err))
			}
			defer consumer.Close()

			if err := consumer.SetDLQ(publisher); err != nil {
				log.Fatal("Failed to declare dispatch DLQ", zap.Error(err))
			}
			triggerHandler := mqhandler.NewDispatchRequestedHandler(dispatcher, log).
				WithMaxRetries(cfg.Dispatch.Consumer.MaxRetries)
			if retryCounter != nil {
				triggerHandler.WithRetryCounter(retryCounter)
			}
			consumer.SetHandler(triggerHandler.HandleDispatchRequested)

			bg.Go("dispatch-consumer", func() error {
				log.Info("Starting dispatch trigger consumer...", zap.String("queue", cfg.Dispatch.Consumer.Queue))
				return consumer.StartConsuming(ctx)
			})
		}
	}

	// Scheduler（interval 为 0 时不启动）
	scheduler := dispatch.NewScheduler(dispatcher, cfg.Dispatch.Interval, log).
		WithLimit(cfg.Dispatch.DefaultLimit)
	bg.Go("scheduler", func() error {
		scheduler.Start(ctx)
		return nil
	})

	// HTTP Server
	gate := auth.NewGate(auth.Config{
		CronSecret:     cfg.Auth.CronSecret,
		CronSecretHash: cfg.Auth.CronSecretHash,
		JWTSecret:      cfg.JWT.Secret,
		AdminEmails:    cfg.Auth.AdminEmails,
		SessionCookie:  cfg.Auth.SessionCookie,
	}, adminRepo, log)

	router := httpserver.NewRouter(
		handler.NewDispatchHandler(dispatcher, log),
		gate,
		readiness{db: dbConn, publisher: publisher},
		log,
	)

	addr := ":" + strings.TrimPrefix(cfg.Server.Port, ":")
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("job-notify dispatcher is fully initialized and running")

	// Graceful shutdown
	<-ctx.Done()
	log.Info("Shutting down dispatcher gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	// 等待进行中的 scheduler / consumer run 写回状态，之后 defer 才关闭 DB、MQ、Redis
	if !bg.Wait(30 * time.Second) {
		log.Warn("Background workers did not stop before the shutdown timeout")
	}

	log.Info("job-notify dispatcher shutdown complete")
}

func newSender(cfg *config.Config, log *zap.Logger) delivery.Sender {
	var base delivery.Sender
	switch cfg.Email.Provider {
	case "log":
		base = delivery.NewLogSender(log)
	default:
		base = delivery.NewHTTPSender(delivery.HTTPConfig{
			APIURL:  cfg.Email.APIURL,
			APIKey:  cfg.Email.APIKey,
			From:    cfg.Email.From,
			ReplyTo: cfg.Email.ReplyTo,
			Timeout: cfg.Email.Timeout,
		})
	}

	return delivery.NewGuardedSender(base, cfg.Email.Provider, circuitbreaker.Config{
		FailureThreshold:    cfg.Email.Breaker.FailureThreshold,
		SuccessThreshold:    cfg.Email.Breaker.SuccessThreshold,
		Timeout:             cfg.Email.Breaker.Timeout,
		HalfOpenMaxRequests: 1,
	}, log)
}

// readiness DB 可用且（启用时）MQ 连接未断开
type readiness struct {
	db        *pgxpool.Pool
	publisher *mq.Publisher
}

func (r readiness) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return err
	}
	if r.publisher != nil && !r.publisher.IsConnected() {
		return errors.New("mq publisher disconnected")
	}
	return nil
}
