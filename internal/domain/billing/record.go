package billing

import (
	"fmt"
	"time"

	"github.com/billingapp/backend/internal/domain/shared"
	"github.com/billingapp/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// Status represents the lifecycle status of a billing record or invoice
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// DefaultMaxRetryCount is the default number of processing attempts
// before a record is terminally failed.
const DefaultMaxRetryCount = 3

// BillingRecord represents one unit of billable work moving through the
// PENDING -> PROCESSING -> {COMPLETED | PENDING(retry) | FAILED} state machine.
// COMPLETED and FAILED are terminal.
type BillingRecord struct {
	ID           string
	CustomerID   string
	ProductID    string
	Amount       valueobject.Money
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
	RetryCount   int
	ErrorMessage string
	Metadata     map[string]string
}

// NewBillingRecord creates a new pending billing record
func NewBillingRecord(customerID, productID string, amount valueobject.Money) (*BillingRecord, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", shared.ErrInvalidInput)
	}
	if productID == "" {
		return nil, fmt.Errorf("%w: product id is required", shared.ErrInvalidInput)
	}
	if amount.Currency() == "" {
		return nil, fmt.Errorf("%w: currency is required", shared.ErrInvalidInput)
	}
	now := time.Now().UTC()
	return &BillingRecord{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		ProductID:  productID,
		Amount:     amount,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		RetryCount: 0,
		Metadata:   make(map[string]string),
	}, nil
}

// IsTerminal returns true if the record is in a terminal status
func (r *BillingRecord) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// MarkProcessing transitions a pending record to PROCESSING
func (r *BillingRecord) MarkProcessing() error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: cannot start processing a %s record", shared.ErrInvalidState, r.Status)
	}
	r.Status = StatusProcessing
	r.touch()
	return nil
}

// MarkCompleted transitions a processing record to the terminal COMPLETED status
func (r *BillingRecord) MarkCompleted() error {
	if r.Status != StatusProcessing {
		return fmt.Errorf("%w: cannot complete a %s record", shared.ErrInvalidState, r.Status)
	}
	r.Status = StatusCompleted
	r.touch()
	return nil
}

// RecordFailure registers one failed processing attempt. It increments the
// retry count exactly once; once the count reaches maxRetryCount the record
// moves to the terminal FAILED status with a final "failed after N retries"
// message, otherwise it returns to PENDING for another attempt. Returns true
// when the record is terminally failed.
func (r *BillingRecord) RecordFailure(maxRetryCount int, errMsg string) bool {
	r.RetryCount++
	if r.RetryCount >= maxRetryCount {
		r.Status = StatusFailed
		r.ErrorMessage = fmt.Sprintf("failed after %d retries: %s", maxRetryCount, errMsg)
	} else {
		r.Status = StatusPending
		r.ErrorMessage = errMsg
	}
	r.touch()
	return r.Status == StatusFailed
}

// AddMetadata attaches a metadata entry to the record
func (r *BillingRecord) AddMetadata(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

// touch advances UpdatedAt. The timestamp is strictly monotonic even when
// two mutations land within the clock resolution.
func (r *BillingRecord) touch() {
	now := time.Now().UTC()
	if !now.After(r.UpdatedAt) {
		now = r.UpdatedAt.Add(time.Nanosecond)
	}
	r.UpdatedAt = now
}
