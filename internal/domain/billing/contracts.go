package billing

import (
	"context"
	"time"
)

// Message is one unit of work received from a queue. ReceiptHandle is the
// opaque token required to delete the message after successful handling.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          []byte
}

// RecordStore persists billing records keyed by id. Put is a full-record
// overwrite; there is no partial update and no optimistic lock token.
type RecordStore interface {
	// Get loads a record by id. Returns shared.ErrNotFound (wrapped) when
	// the record does not exist.
	Get(ctx context.Context, id string) (*BillingRecord, error)
	// Put stores the record, overwriting any previous version.
	Put(ctx context.Context, record *BillingRecord) error
}

// InvoiceStore persists invoices keyed by id.
type InvoiceStore interface {
	Get(ctx context.Context, id string) (*Invoice, error)
	Put(ctx context.Context, invoice *Invoice) error
}

// Queue is an at-least-once message queue with visibility-timeout based
// redelivery. Dead-lettering after a bounded receive count is configured on
// the queue itself, outside this contract.
type Queue interface {
	// Send enqueues a payload and returns the queue-assigned message id.
	Send(ctx context.Context, queue string, body []byte) (string, error)
	// Receive fetches up to maxMessages (clamped to 1..10) messages,
	// waiting at most wait (clamped to 0..20s) for the first one.
	Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]Message, error)
	// Delete acknowledges a handled message so it is not redelivered.
	Delete(ctx context.Context, queue string, receiptHandle string) error
	// DeleteBatch acknowledges a batch of messages and returns how many
	// were successfully deleted.
	DeleteBatch(ctx context.Context, queue string, msgs []Message) (int, error)
}

// RecordProcessor is the domain-specific processing hook executed for each
// billing record. A processing failure is reported as an error value; the
// hook must complete within the invocation's time budget.
type RecordProcessor interface {
	Process(ctx context.Context, record *BillingRecord) error
}

// RecordProcessorFunc adapts a function to the RecordProcessor interface
type RecordProcessorFunc func(ctx context.Context, record *BillingRecord) error

// Process implements RecordProcessor
func (f RecordProcessorFunc) Process(ctx context.Context, record *BillingRecord) error {
	return f(ctx, record)
}

// RecordLock serializes mutations per record id. The store contract is
// load-modify-store without versioning, so concurrent redeliveries of the
// same record id would otherwise race with lost updates.
type RecordLock interface {
	// Acquire attempts to take the lock for key. When acquired is true the
	// caller must invoke release exactly once. When acquired is false the
	// key is held elsewhere and the caller should back off.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}
