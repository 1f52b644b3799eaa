package billing

import (
	"context"
	"fmt"

	"github.com/billingapp/backend/internal/domain/billing"
	"github.com/billingapp/backend/internal/domain/shared"
	"github.com/billingapp/backend/internal/domain/shared/valueobject"
	"github.com/billingapp/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// IntakeRequest carries one billing charge submitted over the API
type IntakeRequest struct {
	CustomerID string
	ProductID  string
	Amount     string
	Currency   string
	Metadata   map[string]string
}

// IntakeService accepts new billing charges: it persists a pending record
// and hands it to the billing queue for asynchronous processing.
type IntakeService struct {
	records      billing.RecordStore
	queue        billing.Queue
	billingQueue string
	logger       *zap.Logger
}

// NewIntakeService creates a new intake service
func NewIntakeService(records billing.RecordStore, queue billing.Queue, billingQueue string, logger *zap.Logger) *IntakeService {
	return &IntakeService{
		records:      records,
		queue:        queue,
		billingQueue: billingQueue,
		logger:       logger,
	}
}

// Submit validates the request, persists a pending billing record and
// enqueues it for processing. The record is the source of truth: an enqueue
// failure is logged but does not fail the submission, since the record can
// be re-driven later.
func (s *IntakeService) Submit(ctx context.Context, req IntakeRequest) (*billing.BillingRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "billing_record.submit",
		telemetry.WithAttribute("billing.customer_id", req.CustomerID),
	)
	defer span.End()

	currency := valueobject.Currency(req.Currency)
	if currency == "" {
		currency = valueobject.DefaultCurrency
	}
	amount, err := valueobject.NewMoneyFromString(req.Amount, currency)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount: %v", shared.ErrInvalidInput, err)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", shared.ErrInvalidInput)
	}

	record, err := billing.NewBillingRecord(req.CustomerID, req.ProductID, amount)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Metadata {
		record.AddMetadata(k, v)
	}
	telemetry.SetAttribute(span, "billing.record_id", record.ID)

	if err := s.records.Put(ctx, record); err != nil {
		s.logger.Error("failed to persist billing record",
			zap.String("record_id", record.ID),
			zap.Error(err),
		)
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("persist billing record: %w", err)
	}

	body, err := billing.EncodeRecordMessage(record)
	if err != nil {
		return nil, fmt.Errorf("encode billing message: %w", err)
	}
	if _, err := s.queue.Send(ctx, s.billingQueue, body); err != nil {
		s.logger.Error("failed to enqueue billing record",
			zap.String("record_id", record.ID),
			zap.Error(err),
		)
	}

	s.logger.Info("billing record accepted",
		zap.String("record_id", record.ID),
		zap.String("customer_id", record.CustomerID),
		zap.String("amount", record.Amount.String()),
	)
	return record, nil
}
