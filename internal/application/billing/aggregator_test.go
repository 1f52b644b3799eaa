package billing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/billingapp/backend/internal/domain/billing"
	"github.com/billingapp/backend/internal/domain/shared/valueobject"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAggregatorFixture(t *testing.T) (*InvoiceAggregator, *memRecordStore, *memInvoiceStore, *memQueue) {
	t.Helper()
	records := newMemRecordStore()
	invoices := newMemInvoiceStore()
	queue := newMemQueue()
	agg := NewInvoiceAggregator(records, invoices, queue,
		DefaultAggregatorConfig(testInvoiceQueue), zap.NewNop())
	return agg, records, invoices, queue
}

// completedRecord stores a completed record with the given creation time and
// enqueues its message on the invoice queue.
func completedRecord(t *testing.T, records *memRecordStore, queue *memQueue, customerID, amount string, currency valueobject.Currency, createdAt time.Time) *billing.BillingRecord {
	t.Helper()
	m, err := valueobject.NewMoneyFromString(amount, currency)
	require.NoError(t, err)
	record, err := billing.NewBillingRecord(customerID, "prod-1", m)
	require.NoError(t, err)
	record.CreatedAt = createdAt
	require.NoError(t, record.MarkProcessing())
	require.NoError(t, record.MarkCompleted())
	require.NoError(t, records.Put(context.Background(), record))

	body, err := billing.EncodeRecordMessage(record)
	require.NoError(t, err)
	_, err = queue.Send(context.Background(), testInvoiceQueue, body)
	require.NoError(t, err)
	return record
}

func TestInvoiceAggregator_GroupsByCustomerAndCurrency(t *testing.T) {
	agg, records, invoices, queue := newAggregatorFixture(t)
	at := time.Date(2024, 1, 15, 10, 2, 0, 0, time.UTC)

	a1 := completedRecord(t, records, queue, "cust-a", "100.00", valueobject.USD, at)
	a2 := completedRecord(t, records, queue, "cust-a", "25.50", valueobject.USD, at.Add(time.Minute))
	b1 := completedRecord(t, records, queue, "cust-b", "10.00", valueobject.USD, at)
	aEur := completedRecord(t, records, queue, "cust-a", "7.00", valueobject.EUR, at)

	summary, err := agg.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.MessagesProcessed)
	assert.Equal(t, 3, summary.InvoicesCreated)
	assert.NotEmpty(t, summary.BatchID)

	byCustomerCurrency := make(map[string]*billing.Invoice)
	for _, invoice := range invoices.all() {
		assert.Equal(t, billing.StatusCompleted, invoice.Status)
		assert.Equal(t, summary.BatchID, invoice.BatchID)
		byCustomerCurrency[invoice.CustomerID+"/"+string(invoice.Currency())] = invoice
	}
	require.Len(t, byCustomerCurrency, 3)

	usdA := byCustomerCurrency["cust-a/USD"]
	require.NotNil(t, usdA)
	assert.Equal(t, []string{a1.ID, a2.ID}, usdA.BillingRecordIDs)
	assert.Equal(t, "125.50", usdA.TotalAmount.StringFixed(2))

	usdB := byCustomerCurrency["cust-b/USD"]
	require.NotNil(t, usdB)
	assert.Equal(t, []string{b1.ID}, usdB.BillingRecordIDs)

	eurA := byCustomerCurrency["cust-a/EUR"]
	require.NotNil(t, eurA)
	assert.Equal(t, []string{aEur.ID}, eurA.BillingRecordIDs)
	assert.Equal(t, "7.00", eurA.TotalAmount.StringFixed(2))
}

func TestInvoiceAggregator_SplitsAcrossTimeWindows(t *testing.T) {
	agg, records, invoices, queue := newAggregatorFixture(t)
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	// Minutes 0 and 3 share the 10:00 window; minute 7 falls in 10:05.
	completedRecord(t, records, queue, "cust-a", "10.00", valueobject.USD, base)
	completedRecord(t, records, queue, "cust-a", "20.00", valueobject.USD, base.Add(3*time.Minute))
	completedRecord(t, records, queue, "cust-a", "40.00", valueobject.USD, base.Add(7*time.Minute))

	summary, err := agg.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.InvoicesCreated)

	byWindow := make(map[string]*billing.Invoice)
	for _, invoice := range invoices.all() {
		byWindow[invoice.WindowID] = invoice
	}
	require.Len(t, byWindow, 2)

	first := byWindow["2024-01-15T10:00:00Z"]
	require.NotNil(t, first)
	assert.Equal(t, "30.00", first.TotalAmount.StringFixed(2))
	assert.Equal(t, 2, first.RecordCount())

	second := byWindow["2024-01-15T10:05:00Z"]
	require.NotNil(t, second)
	assert.Equal(t, "40.00", second.TotalAmount.StringFixed(2))
	assert.Equal(t, 1, second.RecordCount())
}

func TestInvoiceAggregator_SkipsIneligibleRecords(t *testing.T) {
	agg, records, invoices, queue := newAggregatorFixture(t)
	at := time.Date(2024, 1, 15, 10, 2, 0, 0, time.UTC)

	kept := completedRecord(t, records, queue, "cust-a", "10.00", valueobject.USD, at)

	// A message whose record was deleted.
	_, err := queue.Send(context.Background(), testInvoiceQueue, []byte(`{"id":"ghost"}`))
	require.NoError(t, err)

	// A record that never completed.
	m, err := valueobject.NewMoneyFromString("5.00", valueobject.USD)
	require.NoError(t, err)
	pending, err := billing.NewBillingRecord("cust-a", "prod-1", m)
	require.NoError(t, err)
	pending.CreatedAt = at
	require.NoError(t, records.Put(context.Background(), pending))
	body, err := billing.EncodeRecordMessage(pending)
	require.NoError(t, err)
	_, err = queue.Send(context.Background(), testInvoiceQueue, body)
	require.NoError(t, err)

	// A malformed body.
	_, err = queue.Send(context.Background(), testInvoiceQueue, []byte("garbage"))
	require.NoError(t, err)

	summary, err := agg.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.MessagesProcessed, "skipped messages still count as processed and deleted")
	assert.Equal(t, 1, summary.InvoicesCreated)

	all := invoices.all()
	require.Len(t, all, 1)
	assert.Equal(t, []string{kept.ID}, all[0].BillingRecordIDs)
	assert.Equal(t, "10.00", all[0].TotalAmount.StringFixed(2))
	assert.Equal(t, 0, queue.size(testInvoiceQueue), "the queue is drained")
}

func TestInvoiceAggregator_DeletesOnlyAfterPersist(t *testing.T) {
	agg, records, invoices, queue := newAggregatorFixture(t)
	log := &journal{}
	invoices.journal = log
	queue.journal = log

	at := time.Date(2024, 1, 15, 10, 2, 0, 0, time.UTC)
	completedRecord(t, records, queue, "cust-a", "10.00", valueobject.USD, at)
	completedRecord(t, records, queue, "cust-b", "20.00", valueobject.USD, at)

	_, err := agg.Run(context.Background())
	require.NoError(t, err)

	entries := log.list()
	require.NotEmpty(t, entries)
	var lastPut, firstDelete = -1, -1
	for i, entry := range entries {
		if strings.HasPrefix(entry, "invoice.put") {
			lastPut = i
		}
		if firstDelete == -1 && strings.HasPrefix(entry, "queue.delete") {
			firstDelete = i
		}
	}
	require.NotEqual(t, -1, lastPut)
	require.NotEqual(t, -1, firstDelete)
	assert.Less(t, lastPut, firstDelete, "invoices are persisted before their messages are deleted")
}

func TestInvoiceAggregator_StopsNearTimeBudget(t *testing.T) {
	records := newMemRecordStore()
	invoices := newMemInvoiceStore()
	queue := newMemQueue()

	config := DefaultAggregatorConfig(testInvoiceQueue)
	config.BatchSize = 1
	agg := NewInvoiceAggregator(records, invoices, queue, config, zap.NewNop())

	// Each clock read advances 25s: the run crosses 80% of the 60s
	// budget after finishing its first batch.
	var elapsed time.Duration
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	agg.now = func() time.Time {
		now := base.Add(elapsed)
		elapsed += 25 * time.Second
		return now
	}

	at := time.Date(2024, 1, 15, 9, 50, 0, 0, time.UTC)
	completedRecord(t, records, queue, "cust-a", "10.00", valueobject.USD, at)
	completedRecord(t, records, queue, "cust-b", "20.00", valueobject.USD, at)

	summary, err := agg.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.MessagesProcessed, "the run stops before starting another batch")
	assert.Equal(t, 1, summary.InvoicesCreated)
	assert.Equal(t, 1, queue.size(testInvoiceQueue), "the remaining message waits for the next run")
}

func TestInvoiceAggregator_ReceiveFailure(t *testing.T) {
	agg, _, _, queue := newAggregatorFixture(t)
	queue.recvErr = errors.New("queue unavailable")

	_, err := agg.Run(context.Background())
	assert.Error(t, err)
}

func TestInvoiceAggregator_GroupFailureIsolation(t *testing.T) {
	agg, records, invoices, queue := newAggregatorFixture(t)
	at := time.Date(2024, 1, 15, 10, 2, 0, 0, time.UTC)

	completedRecord(t, records, queue, "cust-a", "10.00", valueobject.USD, at)
	completedRecord(t, records, queue, "cust-b", "20.00", valueobject.USD, at)

	// The store rejects every persist for this run.
	invoices.putErr = errors.New("store unavailable")

	summary, err := agg.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.MessagesProcessed)
	assert.Equal(t, 0, summary.InvoicesCreated)
	assert.Empty(t, invoices.all())
}

func TestInvoiceAggregator_EmptyQueue(t *testing.T) {
	agg, _, _, _ := newAggregatorFixture(t)

	summary, err := agg.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.MessagesProcessed)
	assert.Equal(t, 0, summary.InvoicesCreated)
}
