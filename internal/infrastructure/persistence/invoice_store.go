package persistence

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/billingapp/backend/internal/domain/billing"
	"github.com/billingapp/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Ensure DynamoInvoiceStore implements billing.InvoiceStore
var _ billing.InvoiceStore = (*DynamoInvoiceStore)(nil)

// DynamoInvoiceStore stores invoices as flat items keyed by id.
type DynamoInvoiceStore struct {
	client *dynamodb.Client
	table  string
	logger *zap.Logger
}

// NewDynamoInvoiceStore creates a new invoice store backed by the given table.
func NewDynamoInvoiceStore(client *dynamodb.Client, table string, logger *zap.Logger) *DynamoInvoiceStore {
	return &DynamoInvoiceStore{
		client: client,
		table:  table,
		logger: logger,
	}
}

// Get loads an invoice by id.
func (s *DynamoInvoiceStore) Get(ctx context.Context, id string) (*billing.Invoice, error) {
	var item billing.InvoiceItem
	found, err := getItem(ctx, s.client, s.table, id, &item)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("invoice table %s does not exist: %w", s.table, err)
		}
		s.logger.Error("failed to get invoice",
			zap.String("invoice_id", id),
			zap.Error(err),
		)
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("invoice %s: %w", id, shared.ErrNotFound)
	}

	invoice, err := billing.InvoiceFromItem(item)
	if err != nil {
		return nil, fmt.Errorf("decode invoice %s: %w", id, err)
	}
	return invoice, nil
}

// Put overwrites the stored invoice.
func (s *DynamoInvoiceStore) Put(ctx context.Context, invoice *billing.Invoice) error {
	if err := putItem(ctx, s.client, s.table, invoice.Item()); err != nil {
		s.logger.Error("failed to put invoice",
			zap.String("invoice_id", invoice.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
