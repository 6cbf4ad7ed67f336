package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/departure-inventory/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/departure-inventory/internal/adapters/mongo"
	"github.com/robertarktes/departure-inventory/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/departure-inventory/internal/adapters/redis"
	"github.com/robertarktes/departure-inventory/internal/clock"
	"github.com/robertarktes/departure-inventory/internal/config"
	"github.com/robertarktes/departure-inventory/internal/holds"
	"github.com/robertarktes/departure-inventory/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.StoreDriver != config.StoreCockroach {
		log.Fatalf("expiry worker requires STORE_DRIVER=%s", config.StoreCockroach)
	}

	logger := observability.NewLogger(cfg.LogLevel).WithField("component", "expiry-worker")

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "inventory-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	opts := []holds.SweeperOption{
		holds.WithBatchSize(cfg.SweepBatchSize),
		holds.WithSweepLogger(logger),
	}

	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		opts = append(opts, holds.WithLease(redisadapter.NewLease(redisClient), cfg.SweepLeaseTTL))
	}

	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		opts = append(opts, holds.WithSweepAuditor(mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)))
	}

	sweeper := holds.NewSweeper(repo, clock.NewSystem(), opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sweeper.Run(gctx, cfg.SweepInterval)
		return nil
	})

	if cfg.RabbitURL != "" {
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer conn.Close()
		consumer, err := rabbit.NewConsumer(conn, cfg.SweepQueue, rabbit.SweepRoutingKey, logger)
		if err != nil {
			log.Fatalf("failed to create consumer: %v", err)
		}
		defer consumer.Close()

		// On-demand sweeps, e.g. after a departure is cancelled.
		g.Go(func() error {
			return consumer.Handle(gctx, func(ctx context.Context, d amqp.Delivery) error {
				n, err := sweeper.SweepExpired(ctx)
				if err != nil {
					return err
				}
				logger.WithField("message_id", d.MessageId).WithField("expired", n).Debug("triggered sweep done")
				return nil
			})
		})
	}

	logger.WithField("interval", cfg.SweepInterval.String()).Info("expiry worker started")
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("expiry worker stopped")
	}
	logger.Info("Shutdown expiry worker")
}
