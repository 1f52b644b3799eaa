package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	appbilling "github.com/billingapp/backend/internal/application/billing"
	"github.com/billingapp/backend/internal/domain/billing"
	"github.com/billingapp/backend/internal/infrastructure/cache"
	"github.com/billingapp/backend/internal/infrastructure/config"
	"github.com/billingapp/backend/internal/infrastructure/logger"
	"github.com/billingapp/backend/internal/infrastructure/persistence"
	"github.com/billingapp/backend/internal/infrastructure/processing"
	"github.com/billingapp/backend/internal/infrastructure/queue"
	"github.com/billingapp/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting billing worker",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("billing_queue", cfg.Queue.BillingQueue),
		zap.String("invoice_queue", cfg.Queue.InvoiceQueue),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	awsCfg, err := persistence.LoadAWSConfig(ctx, persistence.ClientOptions{
		Region:    cfg.AWS.Region,
		Endpoint:  cfg.AWS.Endpoint,
		AccessKey: cfg.AWS.AccessKey,
		SecretKey: cfg.AWS.SecretKey,
	})
	if err != nil {
		log.Fatal("Failed to load AWS configuration", zap.Error(err))
	}

	dynamoClient := persistence.NewDynamoDBClient(awsCfg, cfg.AWS.Endpoint)
	records := persistence.NewDynamoRecordStore(dynamoClient, cfg.Store.BillingTable, log)
	invoices := persistence.NewDynamoInvoiceStore(dynamoClient, cfg.Store.InvoiceTable, log)

	sqsClient := queue.NewSQSClient(awsCfg, cfg.AWS.Endpoint)
	workQueue := queue.NewSQSQueue(sqsClient, log)

	simulated := processing.NewSimulatedProcessor(processing.SimulatedConfig{
		FailureRate: cfg.Processor.FailureRate,
		MinLatency:  cfg.Processor.MinLatency,
		MaxLatency:  cfg.Processor.MaxLatency,
	}, log)

	lifecycleCfg := appbilling.LifecycleConfig{
		BillingQueue:  cfg.Queue.BillingQueue,
		InvoiceQueue:  cfg.Queue.InvoiceQueue,
		MaxRetryCount: cfg.Processor.MaxRetryCount,
		LockTTL:       cfg.Processor.LockTTL,
	}
	processor := appbilling.NewLifecycleProcessor(records, workQueue, simulated, lifecycleCfg, log)

	if cfg.Processor.LockEnabled {
		lock, err := cache.NewRedisRecordLock(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
		if err != nil {
			log.Fatal("Failed to connect record lock", zap.Error(err))
		}
		defer func() {
			if err := lock.Close(); err != nil {
				log.Error("Error closing record lock", zap.Error(err))
			}
		}()
		processor.WithRecordLock(lock)
		log.Info("Redis record lock enabled")
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		consumeBillingQueue(ctx, cfg, processor, workQueue, log)
	}()

	if cfg.Aggregator.Enabled {
		aggregator := appbilling.NewInvoiceAggregator(records, invoices, workQueue, appbilling.AggregatorConfig{
			Queue:       cfg.Queue.InvoiceQueue,
			BatchSize:   cfg.Aggregator.BatchSize,
			WindowSize:  cfg.Aggregator.WindowSize,
			Timeout:     cfg.Aggregator.Timeout,
			ReceiveWait: cfg.Aggregator.ReceiveWait,
		}, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			runAggregator(ctx, cfg.Aggregator.Interval, aggregator, log)
		}()
	}

	<-ctx.Done()
	log.Info("Shutting down worker...")
	wg.Wait()
	log.Info("Worker exited gracefully")
}

// consumeBillingQueue long-polls the billing queue and drives received
// records through the lifecycle processor. Acknowledged messages are deleted
// in batch after handling.
func consumeBillingQueue(ctx context.Context, cfg *config.Config, processor *appbilling.LifecycleProcessor, workQueue billing.Queue, log *zap.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := workQueue.Receive(ctx, cfg.Queue.BillingQueue, cfg.Processor.BatchSize, cfg.Processor.ReceiveWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to receive billing messages", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		result := processor.HandleBatch(ctx, msgs)
		if len(result.Acked) > 0 {
			if _, err := workQueue.DeleteBatch(ctx, cfg.Queue.BillingQueue, result.Acked); err != nil {
				log.Error("failed to delete acknowledged messages", zap.Error(err))
			}
		}
	}
}

// runAggregator triggers an aggregation run on every tick.
func runAggregator(ctx context.Context, interval time.Duration, aggregator *appbilling.InvoiceAggregator, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := aggregator.Run(ctx)
			if err != nil {
				log.Error("invoice aggregation run failed",
					zap.String("batch_id", summary.BatchID),
					zap.Error(err),
				)
			}
		}
	}
}
