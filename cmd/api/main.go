package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/departure-inventory/internal/adapters/crdb"
	"github.com/robertarktes/departure-inventory/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/departure-inventory/internal/adapters/mongo"
	"github.com/robertarktes/departure-inventory/internal/adapters/payments"
	redisadapter "github.com/robertarktes/departure-inventory/internal/adapters/redis"
	"github.com/robertarktes/departure-inventory/internal/booking"
	"github.com/robertarktes/departure-inventory/internal/clock"
	"github.com/robertarktes/departure-inventory/internal/config"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/robertarktes/departure-inventory/internal/holds"
	httphandler "github.com/robertarktes/departure-inventory/internal/http"
	"github.com/robertarktes/departure-inventory/internal/idempotency"
	"github.com/robertarktes/departure-inventory/internal/inventory"
	"github.com/robertarktes/departure-inventory/internal/observability"
	"github.com/robertarktes/departure-inventory/internal/ratelimit"
	"github.com/robertarktes/departure-inventory/migrations"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// engineStore is everything the engine persists, served by either driver.
type engineStore interface {
	holds.Store
	booking.Store
	holds.SweepStore
	inventory.Snapshotter
}

// noPayments serves deployments without a payment service. Confirmations
// must then carry a payment reference collected elsewhere.
type noPayments struct{}

func (noPayments) CollectPayment(context.Context, uuid.UUID, decimal.Decimal) (domain.PaymentResult, error) {
	return domain.PaymentResult{}, errors.New("PAYMENTS_BASE_URL is not configured")
}

func (noPayments) VoidOrRefund(context.Context, string) error {
	return errors.New("PAYMENTS_BASE_URL is not configured")
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel)

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "inventory-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	ctx := context.Background()
	ready := map[string]func(ctx context.Context) error{}

	var (
		store   engineStore
		catalog inventory.Catalog
		auditor holds.Auditor
		audit   httphandler.AuditHistory
	)

	switch cfg.StoreDriver {
	case config.StoreCockroach:
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		if err := migrations.Apply(ctx, pool); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
		repo := crdb.NewRepository(pool)
		ready["crdb"] = repo.Ping
		store = repo
	default:
		logger.Warn("running on the in-memory store, state is lost on restart")
		store = memory.NewStore()
	}

	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		mongoDB := mongoClient.Database(cfg.MongoDB)
		ready["mongo"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }

		catalog = mongoadapter.NewCatalogRepository(mongoDB, logger)
		auditLogger := mongoadapter.NewAuditLogger(mongoDB, logger)
		auditor, audit = auditLogger, auditLogger
	} else {
		logger.Warn("MONGO_URI not set, using an empty in-memory catalog")
		catalog = memory.NewCatalog()
	}

	var routerOpts httphandler.RouterOptions
	var lease holds.Lease
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		redisCache := redisadapter.NewCache(redisClient)
		ready["redis"] = redisCache.Ping

		routerOpts = httphandler.RouterOptions{
			RateLimiter: ratelimit.NewRateLimiter(redisCache, logger),
			RateLimits: httphandler.RateLimits{
				PerActor: cfg.RateLimitActor,
				PerIP:    cfg.RateLimitIP,
				Window:   cfg.RateLimitWindow,
			},
			Idempotency: idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL),
		}
		lease = redisadapter.NewLease(redisClient)
	}

	var pay booking.Payments = noPayments{}
	if cfg.PaymentsBaseURL != "" {
		client, err := payments.NewClient(cfg.PaymentsBaseURL, cfg.PaymentsTimeout)
		if err != nil {
			log.Fatalf("failed to create payments client: %v", err)
		}
		pay = client
	}

	clk := clock.NewSystem()
	calc := inventory.NewCalculator(clk,
		inventory.NewSlotInventory(catalog, store),
		inventory.NewRangeInventory(catalog, store),
	)
	ttls := holds.TTLTable{
		domain.HoldCart:           cfg.CartHoldTTL,
		domain.HoldPaymentPending: cfg.PaymentPendingHoldTTL,
	}
	manager := holds.NewManager(store, calc, clk,
		holds.WithTTLs(ttls),
		holds.WithAuditor(auditor),
		holds.WithLogger(logger),
	)
	orchestrator := booking.NewOrchestrator(store, manager, catalog, pay, clk,
		booking.WithAuditor(auditor),
		booking.WithLogger(logger),
	)
	sweepOpts := []holds.SweeperOption{
		holds.WithBatchSize(cfg.SweepBatchSize),
		holds.WithSweepAuditor(auditor),
		holds.WithSweepLogger(logger),
	}
	if lease != nil {
		sweepOpts = append(sweepOpts, holds.WithLease(lease, cfg.SweepLeaseTTL))
	}

	handlers := httphandler.NewHandlers(httphandler.Deps{
		Holds:        manager,
		Checkouts:    orchestrator,
		Availability: inventory.NewChecker(calc, store),
		Sweeper:      holds.NewSweeper(store, clk, sweepOpts...),
		Audit:        audit,
		Ready:        ready,
	})
	r := httphandler.SetupRouter(handlers, logger, routerOpts)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).WithField("store", cfg.StoreDriver).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
