package persistence

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/billingapp/backend/internal/domain/billing"
	"github.com/billingapp/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Ensure DynamoRecordStore implements billing.RecordStore
var _ billing.RecordStore = (*DynamoRecordStore)(nil)

// DynamoRecordStore stores billing records as flat items keyed by id.
// Put overwrites the full item; there is no partial update or versioning.
type DynamoRecordStore struct {
	client *dynamodb.Client
	table  string
	logger *zap.Logger
}

// NewDynamoRecordStore creates a new record store backed by the given table.
func NewDynamoRecordStore(client *dynamodb.Client, table string, logger *zap.Logger) *DynamoRecordStore {
	return &DynamoRecordStore{
		client: client,
		table:  table,
		logger: logger,
	}
}

// Get loads a billing record by id.
func (s *DynamoRecordStore) Get(ctx context.Context, id string) (*billing.BillingRecord, error) {
	var item billing.RecordItem
	found, err := getItem(ctx, s.client, s.table, id, &item)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("billing record table %s does not exist: %w", s.table, err)
		}
		s.logger.Error("failed to get billing record",
			zap.String("record_id", id),
			zap.Error(err),
		)
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("billing record %s: %w", id, shared.ErrNotFound)
	}

	record, err := billing.RecordFromItem(item)
	if err != nil {
		return nil, fmt.Errorf("decode billing record %s: %w", id, err)
	}
	return record, nil
}

// Put overwrites the stored record.
func (s *DynamoRecordStore) Put(ctx context.Context, record *billing.BillingRecord) error {
	if err := putItem(ctx, s.client, s.table, record.Item()); err != nil {
		s.logger.Error("failed to put billing record",
			zap.String("record_id", record.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
