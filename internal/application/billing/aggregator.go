package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/billingapp/backend/internal/domain/billing"
	"github.com/billingapp/backend/internal/domain/shared"
	"github.com/billingapp/backend/internal/domain/shared/valueobject"
	"github.com/billingapp/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// maxAggregatorBatchSize is the upper bound the queue contract allows
	// for a single receive.
	maxAggregatorBatchSize = 10
	// budgetFraction stops a run once this share of the time budget is
	// spent, leaving headroom to finish the in-flight batch cleanly.
	budgetFraction = 0.8
)

// AggregatorConfig holds configuration for the invoice aggregator
type AggregatorConfig struct {
	// Queue is the invoice queue drained by each run.
	Queue string
	// BatchSize is the number of messages requested per receive, clamped
	// to 1..10.
	BatchSize int
	// WindowSize is the invoicing time window, anchored at the top of
	// the hour.
	WindowSize time.Duration
	// Timeout is the total time budget of one run.
	Timeout time.Duration
	// ReceiveWait is the long-poll wait passed to the queue.
	ReceiveWait time.Duration
}

// DefaultAggregatorConfig returns default configuration
func DefaultAggregatorConfig(queue string) AggregatorConfig {
	return AggregatorConfig{
		Queue:       queue,
		BatchSize:   maxAggregatorBatchSize,
		WindowSize:  5 * time.Minute,
		Timeout:     60 * time.Second,
		ReceiveWait: time.Second,
	}
}

// RunSummary reports what a single aggregation run accomplished
type RunSummary struct {
	BatchID           string
	MessagesProcessed int
	InvoicesCreated   int
	Elapsed           time.Duration
}

// InvoiceAggregator drains the invoice queue and rolls completed billing
// records up into per-customer, per-currency, per-window invoices. Each run
// is budgeted: it stops early once most of the budget is spent rather than
// risk abandoning a half-processed batch.
type InvoiceAggregator struct {
	records  billing.RecordStore
	invoices billing.InvoiceStore
	queue    billing.Queue
	config   AggregatorConfig
	logger   *zap.Logger
	// now is swappable for tests
	now func() time.Time
}

// NewInvoiceAggregator creates a new invoice aggregator
func NewInvoiceAggregator(
	records billing.RecordStore,
	invoices billing.InvoiceStore,
	queue billing.Queue,
	config AggregatorConfig,
	logger *zap.Logger,
) *InvoiceAggregator {
	if config.BatchSize < 1 {
		config.BatchSize = 1
	}
	if config.BatchSize > maxAggregatorBatchSize {
		config.BatchSize = maxAggregatorBatchSize
	}
	if config.WindowSize <= 0 {
		config.WindowSize = 5 * time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &InvoiceAggregator{
		records:  records,
		invoices: invoices,
		queue:    queue,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Run drains the invoice queue until it is empty, the time budget is spent,
// or the context is cancelled. Messages are deleted from the queue only
// after the invoices built from their batch have been persisted, so a crash
// mid-run re-delivers rather than loses records.
func (a *InvoiceAggregator) Run(ctx context.Context) (RunSummary, error) {
	start := a.now()
	summary := RunSummary{BatchID: uuid.New().String()}

	ctx, span := telemetry.StartSpan(ctx, "invoice.aggregate",
		telemetry.WithAttribute("billing.batch_id", summary.BatchID),
	)
	defer span.End()

	logger := a.logger.With(zap.String("batch_id", summary.BatchID))
	logger.Info("starting invoice aggregation run",
		zap.Duration("window_size", a.config.WindowSize),
		zap.Duration("timeout", a.config.Timeout),
	)

	for {
		if err := ctx.Err(); err != nil {
			logger.Warn("aggregation run cancelled", zap.Error(err))
			break
		}
		if a.now().Sub(start) >= a.config.Timeout {
			logger.Warn("aggregation run reached its time budget")
			break
		}

		msgs, err := a.queue.Receive(ctx, a.config.Queue, a.config.BatchSize, a.config.ReceiveWait)
		if err != nil {
			logger.Error("failed to receive invoice messages", zap.Error(err))
			telemetry.RecordError(span, err)
			summary.Elapsed = a.now().Sub(start)
			return summary, fmt.Errorf("receive from %s: %w", a.config.Queue, err)
		}
		if len(msgs) == 0 {
			logger.Info("invoice queue drained")
			break
		}

		summary.InvoicesCreated += a.processBatch(ctx, logger, summary.BatchID, msgs)
		summary.MessagesProcessed += len(msgs)

		deleted, err := a.queue.DeleteBatch(ctx, a.config.Queue, msgs)
		if err != nil {
			// Undeleted messages come back on a later run; the
			// aggregation itself already succeeded.
			logger.Error("failed to delete processed messages",
				zap.Int("deleted", deleted),
				zap.Error(err),
			)
		}

		if a.now().Sub(start) >= time.Duration(budgetFraction*float64(a.config.Timeout)) {
			logger.Warn("stopping aggregation run early",
				zap.Duration("elapsed", a.now().Sub(start)),
			)
			break
		}
	}

	summary.Elapsed = a.now().Sub(start)
	telemetry.SetAttribute(span, "billing.messages_processed", summary.MessagesProcessed)
	telemetry.SetAttribute(span, "billing.invoices_created", summary.InvoicesCreated)
	logger.Info("invoice aggregation run finished",
		zap.Int("messages_processed", summary.MessagesProcessed),
		zap.Int("invoices_created", summary.InvoicesCreated),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

// groupKey identifies one invoice bucket within a batch.
type groupKey struct {
	customerID string
	currency   valueobject.Currency
	windowID   string
}

// processBatch resolves the batch's records, groups the eligible ones by
// customer, currency and time window, and persists one invoice per group.
// A failure in one group is logged and skipped without aborting the others.
func (a *InvoiceAggregator) processBatch(ctx context.Context, logger *zap.Logger, batchID string, msgs []billing.Message) int {
	// Insertion-ordered grouping keeps a run deterministic for a given
	// input sequence.
	groups := make(map[groupKey][]*billing.BillingRecord)
	var order []groupKey

	for _, msg := range msgs {
		record := a.resolveRecord(ctx, logger, msg)
		if record == nil {
			continue
		}
		key := groupKey{
			customerID: record.CustomerID,
			currency:   record.Amount.Currency(),
			windowID:   billing.WindowFor(record.CreatedAt, a.config.WindowSize).ID(),
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], record)
	}

	created := 0
	for _, key := range order {
		if a.buildInvoice(ctx, logger, batchID, key, groups[key]) {
			created++
		}
	}
	return created
}

// resolveRecord loads the record referenced by one message and filters out
// everything that must not be invoiced. Returns nil when the message should
// be skipped.
func (a *InvoiceAggregator) resolveRecord(ctx context.Context, logger *zap.Logger, msg billing.Message) *billing.BillingRecord {
	recordID, err := billing.DecodeRecordRef(msg.Body)
	if err != nil {
		logger.Error("skipping unprocessable invoice message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return nil
	}

	record, err := a.records.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			logger.Warn("skipping message for missing billing record",
				zap.String("record_id", recordID),
			)
		} else {
			logger.Error("failed to load billing record",
				zap.String("record_id", recordID),
				zap.Error(err),
			)
		}
		return nil
	}

	if record.Status != billing.StatusCompleted {
		logger.Warn("skipping billing record that is not completed",
			zap.String("record_id", record.ID),
			zap.String("status", string(record.Status)),
		)
		return nil
	}
	return record
}

// buildInvoice creates, fills and persists one invoice. Records are added in
// arrival order.
func (a *InvoiceAggregator) buildInvoice(ctx context.Context, logger *zap.Logger, batchID string, key groupKey, records []*billing.BillingRecord) bool {
	invoice, err := billing.NewInvoice(key.customerID, key.currency, batchID, key.windowID)
	if err != nil {
		logger.Error("failed to create invoice",
			zap.String("customer_id", key.customerID),
			zap.Error(err),
		)
		return false
	}

	for _, record := range records {
		if err := invoice.AddRecord(record); err != nil {
			logger.Error("failed to add billing record to invoice",
				zap.String("invoice_id", invoice.ID),
				zap.String("record_id", record.ID),
				zap.Error(err),
			)
			return false
		}
	}
	if err := invoice.MarkCompleted(); err != nil {
		logger.Error("failed to complete invoice",
			zap.String("invoice_id", invoice.ID),
			zap.Error(err),
		)
		return false
	}

	if err := a.invoices.Put(ctx, invoice); err != nil {
		logger.Error("failed to persist invoice",
			zap.String("invoice_id", invoice.ID),
			zap.Error(err),
		)
		return false
	}

	logger.Info("invoice created",
		zap.String("invoice_id", invoice.ID),
		zap.String("customer_id", invoice.CustomerID),
		zap.String("window_id", invoice.WindowID),
		zap.Int("record_count", invoice.RecordCount()),
		zap.String("total_amount", invoice.TotalAmount.String()),
	)
	return true
}
