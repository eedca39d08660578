// Binary server runs the loyalty API: customer identification, the points
// ledger, referrals, and the hardware bridge listener.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"gemma/internal/identify/bridge"
	"gemma/internal/identify/debounce"
	identifyhandler "gemma/internal/identify/handler"
	identifymetrics "gemma/internal/identify/metrics"
	identifyports "gemma/internal/identify/ports"
	identifyservice "gemma/internal/identify/service"
	"gemma/internal/identify/session"
	"gemma/internal/identify/store/accesslog"
	"gemma/internal/identify/store/tag"
	"gemma/internal/jwttoken"
	"gemma/internal/loyalty/handler"
	"gemma/internal/loyalty/levels"
	loyaltymetrics "gemma/internal/loyalty/metrics"
	"gemma/internal/loyalty/models"
	loyaltyports "gemma/internal/loyalty/ports"
	"gemma/internal/loyalty/service/ledger"
	"gemma/internal/loyalty/service/reconcile"
	"gemma/internal/loyalty/service/referral"
	"gemma/internal/loyalty/store/customer"
	referralstore "gemma/internal/loyalty/store/referral"
	"gemma/internal/loyalty/store/transaction"
	operatorhandler "gemma/internal/operator/handler"
	operatorservice "gemma/internal/operator/service"
	operatorstore "gemma/internal/operator/store"
	"gemma/internal/platform/config"
	"gemma/internal/platform/httpserver"
	"gemma/internal/platform/kafka"
	"gemma/internal/platform/logger"
	"gemma/internal/platform/metrics"
	"gemma/internal/platform/middleware"
	"gemma/internal/platform/postgres"
	redisplatform "gemma/internal/platform/redis"
	id "gemma/pkg/domain"
	"gemma/pkg/platform/audit"
	auditmemory "gemma/pkg/platform/audit/store/memory"
	auditpostgres "gemma/pkg/platform/audit/store/postgres"
	"gemma/pkg/platform/audit/worker"
	"gemma/pkg/requestcontext"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	// Storage. Postgres when configured, in-memory otherwise so the server
	// stays runnable on a bare laptop.
	var db *sql.DB
	if cfg.PostgresURL != "" {
		db, err = postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	var (
		customers    loyaltyports.CustomerStore
		transactions loyaltyports.TransactionStore
		referrals    loyaltyports.ReferralStore
		tags         identifyports.TagStore
		accessLog    identifyports.AccessLogStore
		operators    operatorservice.Store
		auditStore   audit.Store
	)
	if db != nil {
		customers = customer.NewPostgres(db)
		transactions = transaction.NewPostgres(db)
		referrals = referralstore.NewPostgres(db)
		tags = tag.NewPostgres(db)
		accessLog = accesslog.NewPostgres(db)
		operators = operatorstore.NewPostgres(db)
		auditStore = auditpostgres.New(db)
	} else {
		log.Warn("POSTGRES_URL not set, using in-memory stores")
		customers = customer.NewInMemory()
		transactions = transaction.NewInMemory()
		referrals = referralstore.NewInMemory()
		tags = tag.NewInMemory()
		accessLog = accesslog.NewInMemory()
		operators = operatorstore.NewInMemory()
		auditStore = auditmemory.New()
	}
	publisher := audit.NewStorePublisher(auditStore)

	redisClient, err := redisplatform.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Lookup tables, optionally overridden from YAML files.
	levelTable := levels.DefaultTable()
	if cfg.LevelsFile != "" {
		if levelTable, err = levels.Load(cfg.LevelsFile); err != nil {
			return err
		}
	}
	rewardTable := models.DefaultRewardTable()
	if cfg.TiersFile != "" {
		if rewardTable, err = models.LoadRewardTable(cfg.TiersFile); err != nil {
			return err
		}
	}
	prizeTable := models.DefaultPrizeTable()
	if cfg.PrizesFile != "" {
		if prizeTable, err = models.LoadPrizeTable(cfg.PrizesFile); err != nil {
			return err
		}
	}

	loyaltyMetrics := loyaltymetrics.New()
	identifyMetrics := identifymetrics.New()
	httpMetrics := metrics.New()

	ledgerOpts := []ledger.Option{
		ledger.WithLogger(log),
		ledger.WithAuditPublisher(publisher),
		ledger.WithMetrics(loyaltyMetrics),
		ledger.WithPointsPerEuro(cfg.PointsPerEuro),
		ledger.WithPrizes(prizeTable),
	}
	if db != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithTxRunner(db))
	}
	pointsLedger := ledger.New(customers, transactions, ledgerOpts...)

	referralOpts := []referral.Option{
		referral.WithLogger(log),
		referral.WithAuditPublisher(publisher),
		referral.WithMetrics(loyaltyMetrics),
		referral.WithRewardTable(rewardTable),
	}
	if db != nil {
		referralOpts = append(referralOpts, referral.WithTxRunner(db))
	}
	if start, end, ok, err := cfg.PromoWindow(); err != nil {
		return err
	} else if ok {
		referralOpts = append(referralOpts, referral.WithPromoWindow(models.PromoWindow{Start: start, End: end}))
	}
	referralEngine := referral.New(customers, referrals, pointsLedger, referralOpts...)
	pointsLedger.SetSaleHook(referralEngine.OnQualifyingSale)

	reconciler := reconcile.New(customers, referrals, reconcile.WithLogger(log))

	var window identifyports.DebounceWindow = debounce.NewInMemory(cfg.TapDebounceWindow)
	if redisClient != nil {
		window = debounce.NewRedis(redisClient.Client, cfg.TapDebounceWindow)
	}
	resolver := identifyservice.New(tags, accessLog, customers,
		identifyservice.WithLogger(log),
		identifyservice.WithAuditPublisher(publisher),
		identifyservice.WithMetrics(identifyMetrics),
		identifyservice.WithDebounceWindow(window),
	)
	sessions := session.NewManager(cfg.ScanSessionTimeout,
		session.WithLogger(log),
		session.WithMetrics(identifyMetrics),
	)

	var listener *bridge.Listener
	if redisClient != nil && cfg.BridgeStream != "" {
		listener = bridge.New(redisClient.Client, cfg.BridgeStream,
			bridge.WithLogger(log),
			bridge.WithMetrics(identifyMetrics),
			bridge.WithBackoff(cfg.BridgeBaseBackoff, cfg.BridgeMaxBackoff),
			bridge.WithDropHook(func(reason string) {
				sessions.AbortAll(reason)
			}),
		)
		listener.Subscribe(func(ctx context.Context, event bridge.TapEvent) {
			handleTap(ctx, log, resolver, sessions, event)
		})
	} else {
		log.Warn("hardware bridge disabled", "redis_configured", redisClient != nil)
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "gemma", "gemma-api")
	operatorSvc := operatorservice.New(operators, jwtService,
		operatorservice.WithLogger(log),
		operatorservice.WithAuditPublisher(publisher),
		operatorservice.WithTokenTTL(cfg.TokenTTL),
	)

	loyaltyHandler := handler.New(pointsLedger, referralEngine, reconciler, log, handler.WithLevels(levelTable))
	identifyOpts := []identifyhandler.Option{
		identifyhandler.WithSearchRateLimit(middleware.SearchRateLimit(cfg.SearchRatePerSecond, cfg.SearchRateBurst)),
	}
	if listener != nil {
		identifyOpts = append(identifyOpts, identifyhandler.WithBridgeStatus(listener))
	}
	identifyHandler := identifyhandler.New(resolver, sessions, log, identifyOpts...)
	operatorHandler := operatorhandler.New(operatorSvc, log)

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.Terminal)
	router.Use(middleware.ClientMetadata)
	router.Use(middleware.Logger(log))
	router.Use(middleware.Timeout(cfg.ScanSessionTimeout + 5*time.Second))

	router.Get("/healthz", healthHandler(db, redisClient))
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.Latency(httpMetrics, "auth"))
		operatorHandler.RegisterPublic(r)
	})
	router.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.Latency(httpMetrics, "api"))
		r.Use(middleware.RequireAuth(jwttoken.NewJWTServiceAdapter(jwtService), log))
		operatorHandler.Register(r)
		loyaltyHandler.Register(r)
		identifyHandler.Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("http server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if listener != nil {
		group.Go(func() error {
			if err := listener.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("bridge listener: %w", err)
			}
			return nil
		})
	}
	if len(cfg.KafkaBrokers) > 0 && db != nil {
		producer, err := kafka.NewProducer(ctx, cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			return err
		}
		defer producer.Close()
		relay := worker.NewRelay(auditpostgres.New(db), producer, cfg.OutboxPollGap, worker.WithLogger(log))
		group.Go(func() error {
			if err := relay.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("audit relay: %w", err)
			}
			return nil
		})
	}

	return group.Wait()
}

// handleTap feeds a hardware tap through the resolver and into whichever
// scan session the terminal has open. Taps with no waiting session still go
// through the resolver so the access log and debounce stay authoritative.
func handleTap(ctx context.Context, log *slog.Logger, resolver *identifyservice.Service, sessions *session.Manager, event bridge.TapEvent) {
	terminal := id.TerminalID(event.TerminalID)
	ctx = requestcontext.WithTerminalID(ctx, terminal)

	resolution, err := resolver.ResolveTag(ctx, event.UID)
	if err != nil {
		if failErr := sessions.Fail(terminal, err.Error()); failErr != nil {
			log.DebugContext(ctx, "tap with no open scan", "terminal_id", event.TerminalID, "error", err)
		}
		return
	}
	if err := sessions.Resolve(terminal, resolution); err != nil {
		log.DebugContext(ctx, "resolved tap with no open scan", "terminal_id", event.TerminalID)
	}
}

// healthHandler reports liveness plus the state of optional backends.
func healthHandler(db *sql.DB, redisClient *redisplatform.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				status = http.StatusServiceUnavailable
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				status = http.StatusServiceUnavailable
			}
		}
		w.WriteHeader(status)
	}
}
