package billing

import (
	"fmt"
	"time"

	"github.com/billingapp/backend/internal/domain/shared"
	"github.com/billingapp/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// Invoice aggregates the billing records of one customer, one currency and
// one time window, produced by a single aggregation batch.
type Invoice struct {
	ID               string
	CustomerID       string
	TotalAmount      valueobject.Money
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
	BillingRecordIDs []string
	BatchID          string
	WindowID         string
	Metadata         map[string]string
}

// NewInvoice creates an empty pending invoice for one (customer, currency,
// window) group within an aggregation batch.
func NewInvoice(customerID string, currency valueobject.Currency, batchID, windowID string) (*Invoice, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", shared.ErrInvalidInput)
	}
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", shared.ErrInvalidInput)
	}
	now := time.Now().UTC()
	return &Invoice{
		ID:               uuid.New().String(),
		CustomerID:       customerID,
		TotalAmount:      valueobject.Zero(currency),
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
		BillingRecordIDs: make([]string, 0),
		BatchID:          batchID,
		WindowID:         windowID,
		Metadata:         make(map[string]string),
	}, nil
}

// Currency returns the invoice currency
func (inv *Invoice) Currency() valueobject.Currency {
	return inv.TotalAmount.Currency()
}

// AddRecord folds a billing record into the invoice: the record id is
// appended and the total amount updated as one operation. A record whose
// currency differs from the invoice's is a programming error and is rejected.
func (inv *Invoice) AddRecord(record *BillingRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", shared.ErrInvalidInput)
	}
	if inv.Status != StatusPending {
		return fmt.Errorf("%w: cannot add records to a %s invoice", shared.ErrInvalidState, inv.Status)
	}
	total, err := inv.TotalAmount.Add(record.Amount)
	if err != nil {
		return fmt.Errorf("%w: invoice currency is %s but record %s has %s",
			shared.ErrCurrencyMismatch, inv.Currency(), record.ID, record.Amount.Currency())
	}
	inv.BillingRecordIDs = append(inv.BillingRecordIDs, record.ID)
	inv.TotalAmount = total
	inv.touch()
	return nil
}

// MarkCompleted finalizes the invoice. A completed invoice is never mutated
// again by the aggregation pipeline.
func (inv *Invoice) MarkCompleted() error {
	if inv.Status != StatusPending {
		return fmt.Errorf("%w: cannot complete a %s invoice", shared.ErrInvalidState, inv.Status)
	}
	inv.Status = StatusCompleted
	inv.touch()
	return nil
}

// RecordCount returns the number of constituent billing records
func (inv *Invoice) RecordCount() int {
	return len(inv.BillingRecordIDs)
}

func (inv *Invoice) touch() {
	now := time.Now().UTC()
	if !now.After(inv.UpdatedAt) {
		now = inv.UpdatedAt.Add(time.Nanosecond)
	}
	inv.UpdatedAt = now
}
