package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/billingapp/backend/internal/domain/billing"
	"github.com/billingapp/backend/internal/domain/shared"
	"github.com/billingapp/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// LifecycleConfig holds configuration for the lifecycle processor
type LifecycleConfig struct {
	// BillingQueue receives records awaiting processing; retryable
	// failures are re-enqueued here.
	BillingQueue string
	// InvoiceQueue receives completed records for aggregation.
	InvoiceQueue string
	// MaxRetryCount bounds processing attempts per record. The queue's
	// own max-receive-count dead-letter policy is the independent
	// backstop for the envelope itself.
	MaxRetryCount int
	// LockTTL bounds how long a per-record lock is held when a lock is
	// configured.
	LockTTL time.Duration
}

// DefaultLifecycleConfig returns default configuration
func DefaultLifecycleConfig(billingQueue, invoiceQueue string) LifecycleConfig {
	return LifecycleConfig{
		BillingQueue:  billingQueue,
		InvoiceQueue:  invoiceQueue,
		MaxRetryCount: billing.DefaultMaxRetryCount,
		LockTTL:       30 * time.Second,
	}
}

// Outcome is the result of handling a single queue message. Failures are
// values, never panics. Ack reports whether the message should be deleted
// from the queue: unprocessable bodies and I/O failures are left un-acked so
// the queue's redelivery and dead-letter policy governs them.
type Outcome struct {
	OK     bool
	Ack    bool
	Reason string
}

// BatchResult aggregates outcomes over one received batch
type BatchResult struct {
	Processed int
	Succeeded int
	Failed    int
	// Acked holds the messages whose outcome requested acknowledgement.
	Acked []billing.Message
}

// LifecycleProcessor drives billing records through their bounded-retry
// state machine. Each message is handled independently: one message's
// failure never aborts its siblings in a batch.
type LifecycleProcessor struct {
	records   billing.RecordStore
	queue     billing.Queue
	processor billing.RecordProcessor
	lock      billing.RecordLock
	config    LifecycleConfig
	logger    *zap.Logger
}

// NewLifecycleProcessor creates a new lifecycle processor
func NewLifecycleProcessor(
	records billing.RecordStore,
	queue billing.Queue,
	processor billing.RecordProcessor,
	config LifecycleConfig,
	logger *zap.Logger,
) *LifecycleProcessor {
	if config.MaxRetryCount <= 0 {
		config.MaxRetryCount = billing.DefaultMaxRetryCount
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 30 * time.Second
	}
	return &LifecycleProcessor{
		records:   records,
		queue:     queue,
		processor: processor,
		config:    config,
		logger:    logger,
	}
}

// WithRecordLock configures a per-record lock that serializes concurrent
// handling of the same record id across workers. The plain store contract is
// load-modify-store without versioning, so without a lock a duplicate
// delivery racing a slow first attempt can lose an update.
func (p *LifecycleProcessor) WithRecordLock(lock billing.RecordLock) *LifecycleProcessor {
	p.lock = lock
	return p
}

// HandleBatch processes a batch of messages sequentially. Outcomes are
// independent per message.
func (p *LifecycleProcessor) HandleBatch(ctx context.Context, msgs []billing.Message) BatchResult {
	result := BatchResult{Processed: len(msgs)}
	for _, msg := range msgs {
		outcome := p.HandleMessage(ctx, msg)
		if outcome.OK {
			result.Succeeded++
		} else {
			result.Failed++
		}
		if outcome.Ack {
			result.Acked = append(result.Acked, msg)
		}
	}
	p.logger.Info("processed billing batch",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result
}

// HandleMessage runs one billing record through a single processing attempt.
func (p *LifecycleProcessor) HandleMessage(ctx context.Context, msg billing.Message) Outcome {
	ctx, span := telemetry.StartSpan(ctx, "billing_record.process",
		telemetry.WithAttribute("messaging.message_id", msg.ID),
	)
	defer span.End()

	recordID, err := billing.DecodeRecordRef(msg.Body)
	if err != nil {
		p.logger.Error("billing message is unprocessable",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		telemetry.RecordError(span, err)
		return Outcome{OK: false, Ack: false, Reason: "unprocessable message: " + err.Error()}
	}
	telemetry.SetAttribute(span, "billing.record_id", recordID)

	if p.lock != nil {
		release, acquired, lockErr := p.lock.Acquire(ctx, recordID, p.config.LockTTL)
		if lockErr != nil {
			p.logger.Error("failed to acquire record lock",
				zap.String("record_id", recordID),
				zap.Error(lockErr),
			)
			telemetry.RecordError(span, lockErr)
			return Outcome{OK: false, Ack: false, Reason: "lock acquisition failed"}
		}
		if !acquired {
			p.logger.Warn("record is being processed by another worker",
				zap.String("record_id", recordID),
			)
			return Outcome{OK: false, Ack: false, Reason: "record locked by another worker"}
		}
		defer release()
	}

	record, err := p.records.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			p.logger.Error("billing record not found", zap.String("record_id", recordID))
			return Outcome{OK: false, Ack: false, Reason: "billing record not found"}
		}
		p.logger.Error("failed to load billing record",
			zap.String("record_id", recordID),
			zap.Error(err),
		)
		telemetry.RecordError(span, err)
		return Outcome{OK: false, Ack: false, Reason: "store error: " + err.Error()}
	}

	// Idempotent re-delivery guard: a terminal record is a no-op.
	if record.IsTerminal() {
		p.logger.Info("billing record already processed",
			zap.String("record_id", record.ID),
			zap.String("status", string(record.Status)),
		)
		return Outcome{OK: true, Ack: true, Reason: "already processed"}
	}

	if err := record.MarkProcessing(); err != nil {
		p.logger.Warn("billing record is not in a processable state",
			zap.String("record_id", record.ID),
			zap.String("status", string(record.Status)),
			zap.Error(err),
		)
		return Outcome{OK: false, Ack: false, Reason: err.Error()}
	}
	if err := p.records.Put(ctx, record); err != nil {
		p.logger.Error("failed to persist processing status",
			zap.String("record_id", record.ID),
			zap.Error(err),
		)
		telemetry.RecordError(span, err)
		return Outcome{OK: false, Ack: false, Reason: "store error: " + err.Error()}
	}

	if processErr := p.process(ctx, record); processErr != nil {
		return p.handleFailure(ctx, record, processErr)
	}
	return p.handleSuccess(ctx, record)
}

// process invokes the domain hook. A panicking hook is converted into an
// ordinary failure so one record cannot take down the batch.
func (p *LifecycleProcessor) process(ctx context.Context, record *billing.BillingRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processing panicked: %v", r)
		}
	}()
	return p.processor.Process(ctx, record)
}

func (p *LifecycleProcessor) handleSuccess(ctx context.Context, record *billing.BillingRecord) Outcome {
	if err := record.MarkCompleted(); err != nil {
		return Outcome{OK: false, Ack: false, Reason: err.Error()}
	}
	if err := p.records.Put(ctx, record); err != nil {
		p.logger.Error("failed to persist completed status",
			zap.String("record_id", record.ID),
			zap.Error(err),
		)
		return Outcome{OK: false, Ack: false, Reason: "store error: " + err.Error()}
	}

	body, err := billing.EncodeRecordMessage(record)
	if err != nil {
		return Outcome{OK: false, Ack: true, Reason: "completed but failed to encode aggregation message"}
	}
	if _, err := p.queue.Send(ctx, p.config.InvoiceQueue, body); err != nil {
		// The record is already terminal, so a redelivery would no-op;
		// surface the missed enqueue instead of retrying blindly.
		p.logger.Error("failed to enqueue completed record for aggregation",
			zap.String("record_id", record.ID),
			zap.Error(err),
		)
		return Outcome{OK: false, Ack: true, Reason: "completed but not enqueued for aggregation"}
	}

	p.logger.Info("billing record completed",
		zap.String("record_id", record.ID),
		zap.String("customer_id", record.CustomerID),
		zap.String("amount", record.Amount.String()),
	)
	return Outcome{OK: true, Ack: true, Reason: "completed"}
}

func (p *LifecycleProcessor) handleFailure(ctx context.Context, record *billing.BillingRecord, processErr error) Outcome {
	terminal := record.RecordFailure(p.config.MaxRetryCount, processErr.Error())

	if terminal {
		if err := p.records.Put(ctx, record); err != nil {
			p.logger.Error("failed to persist failed status",
				zap.String("record_id", record.ID),
				zap.Error(err),
			)
			return Outcome{OK: false, Ack: false, Reason: "store error: " + err.Error()}
		}
		p.logger.Warn("billing record failed terminally",
			zap.String("record_id", record.ID),
			zap.Int("retry_count", record.RetryCount),
			zap.Error(processErr),
		)
		return Outcome{OK: false, Ack: true, Reason: record.ErrorMessage}
	}

	if err := p.records.Put(ctx, record); err != nil {
		p.logger.Error("failed to persist retry status",
			zap.String("record_id", record.ID),
			zap.Error(err),
		)
		return Outcome{OK: false, Ack: false, Reason: "store error: " + err.Error()}
	}

	body, err := billing.EncodeRecordMessage(record)
	if err != nil {
		return Outcome{OK: false, Ack: false, Reason: "failed to encode retry message"}
	}
	if _, err := p.queue.Send(ctx, p.config.BillingQueue, body); err != nil {
		// Leave the original envelope un-acked so queue redelivery
		// drives the retry instead.
		p.logger.Error("failed to re-enqueue billing record for retry",
			zap.String("record_id", record.ID),
			zap.Error(err),
		)
		return Outcome{OK: false, Ack: false, Reason: "failed to re-enqueue for retry"}
	}

	p.logger.Info("billing record scheduled for retry",
		zap.String("record_id", record.ID),
		zap.Int("retry_count", record.RetryCount),
		zap.Error(processErr),
	)
	return Outcome{OK: false, Ack: true, Reason: "scheduled for retry"}
}
