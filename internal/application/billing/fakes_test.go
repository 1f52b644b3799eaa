package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/billingapp/backend/internal/domain/billing"
	"github.com/billingapp/backend/internal/domain/shared"
)

// journal records side effects in order so tests can assert ordering
// guarantees such as persist-before-delete.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...interface{}) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type memRecordStore struct {
	mu      sync.Mutex
	records map[string]*billing.BillingRecord
	getErr  error
	putErr  error
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{records: make(map[string]*billing.BillingRecord)}
}

func (s *memRecordStore) Get(ctx context.Context, id string) (*billing.BillingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	record, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("billing record %s: %w", id, shared.ErrNotFound)
	}
	clone := *record
	return &clone, nil
}

func (s *memRecordStore) Put(ctx context.Context, record *billing.BillingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

func (s *memRecordStore) mustGet(id string) *billing.BillingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		panic("record not stored: " + id)
	}
	clone := *record
	return &clone
}

type memInvoiceStore struct {
	mu       sync.Mutex
	invoices map[string]*billing.Invoice
	putErr   error
	journal  *journal
}

func newMemInvoiceStore() *memInvoiceStore {
	return &memInvoiceStore{invoices: make(map[string]*billing.Invoice)}
}

func (s *memInvoiceStore) Get(ctx context.Context, id string) (*billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invoice, ok := s.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", id, shared.ErrNotFound)
	}
	clone := *invoice
	return &clone, nil
}

func (s *memInvoiceStore) Put(ctx context.Context, invoice *billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	clone := *invoice
	s.invoices[invoice.ID] = &clone
	s.journal.add("invoice.put %s", invoice.ID)
	return nil
}

func (s *memInvoiceStore) all() []*billing.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*billing.Invoice, 0, len(s.invoices))
	for _, invoice := range s.invoices {
		clone := *invoice
		out = append(out, &clone)
	}
	return out
}

// memQueue is an in-memory queue where Receive removes the returned
// messages, mirroring at-most-once visibility within a single test.
type memQueue struct {
	mu      sync.Mutex
	queues  map[string][]billing.Message
	nextID  int
	deleted int
	sendErr error
	recvErr error
	journal *journal
}

func newMemQueue() *memQueue {
	return &memQueue{queues: make(map[string][]billing.Message)}
}

func (q *memQueue) Send(ctx context.Context, queue string, body []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil {
		return "", q.sendErr
	}
	q.nextID++
	msg := billing.Message{
		ID:            fmt.Sprintf("msg-%d", q.nextID),
		ReceiptHandle: fmt.Sprintf("rh-%d", q.nextID),
		Body:          body,
	}
	q.queues[queue] = append(q.queues[queue], msg)
	return msg.ID, nil
}

func (q *memQueue) Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]billing.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.recvErr != nil {
		return nil, q.recvErr
	}
	if maxMessages < 1 {
		maxMessages = 1
	}
	if maxMessages > 10 {
		maxMessages = 10
	}
	pending := q.queues[queue]
	n := maxMessages
	if n > len(pending) {
		n = len(pending)
	}
	msgs := append([]billing.Message(nil), pending[:n]...)
	q.queues[queue] = pending[n:]
	return msgs, nil
}

func (q *memQueue) Delete(ctx context.Context, queue string, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted++
	q.journal.add("queue.delete %s", receiptHandle)
	return nil
}

func (q *memQueue) DeleteBatch(ctx context.Context, queue string, msgs []billing.Message) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted += len(msgs)
	q.journal.add("queue.delete_batch %d", len(msgs))
	return len(msgs), nil
}

func (q *memQueue) size(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[queue])
}

func (q *memQueue) pop(queue string) (billing.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.queues[queue]
	if len(pending) == 0 {
		return billing.Message{}, false
	}
	msg := pending[0]
	q.queues[queue] = pending[1:]
	return msg, true
}

// scriptedProcessor replays a fixed sequence of results, then keeps
// returning the last one.
type scriptedProcessor struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (p *scriptedProcessor) Process(ctx context.Context, record *billing.BillingRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	p.calls++
	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	if idx < 0 {
		return nil
	}
	return p.results[idx]
}

func (p *scriptedProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// deniedLock always reports the record as held elsewhere.
type deniedLock struct{}

func (deniedLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return func() {}, false, nil
}
