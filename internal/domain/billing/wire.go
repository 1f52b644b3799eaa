package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/billingapp/backend/internal/domain/shared"
	"github.com/billingapp/backend/internal/domain/shared/valueobject"
)

// instantLayout is the textual form of instants in stored items and queue
// payloads. RFC 3339 UTC timestamps sort chronologically as strings.
const instantLayout = time.RFC3339Nano

// RecordItem is the flat wire form of a BillingRecord, shared by queue
// payloads (JSON) and store items (DynamoDB attribute values). Collection
// attributes stay typed; they are never flattened into strings.
type RecordItem struct {
	ID           string            `json:"id" dynamodbav:"id"`
	CustomerID   string            `json:"customerId" dynamodbav:"customerId"`
	ProductID    string            `json:"productId" dynamodbav:"productId"`
	Amount       string            `json:"amount" dynamodbav:"amount"`
	Currency     string            `json:"currency" dynamodbav:"currency"`
	Status       string            `json:"status" dynamodbav:"status"`
	CreatedAt    string            `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt    string            `json:"updatedAt" dynamodbav:"updatedAt"`
	RetryCount   int               `json:"retryCount" dynamodbav:"retryCount"`
	ErrorMessage string            `json:"errorMessage,omitempty" dynamodbav:"errorMessage,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
}

// InvoiceItem is the flat wire form of an Invoice.
type InvoiceItem struct {
	ID               string            `json:"id" dynamodbav:"id"`
	CustomerID       string            `json:"customerId" dynamodbav:"customerId"`
	TotalAmount      string            `json:"totalAmount" dynamodbav:"totalAmount"`
	Currency         string            `json:"currency" dynamodbav:"currency"`
	Status           string            `json:"status" dynamodbav:"status"`
	CreatedAt        string            `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt        string            `json:"updatedAt" dynamodbav:"updatedAt"`
	BillingRecordIDs []string          `json:"billingRecordIds" dynamodbav:"billingRecordIds"`
	BatchID          string            `json:"batchId" dynamodbav:"batchId"`
	WindowID         string            `json:"windowId" dynamodbav:"windowId"`
	Metadata         map[string]string `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
}

// Item returns the wire form of the record
func (r *BillingRecord) Item() RecordItem {
	return RecordItem{
		ID:           r.ID,
		CustomerID:   r.CustomerID,
		ProductID:    r.ProductID,
		Amount:       r.Amount.Amount().String(),
		Currency:     string(r.Amount.Currency()),
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt.UTC().Format(instantLayout),
		UpdatedAt:    r.UpdatedAt.UTC().Format(instantLayout),
		RetryCount:   r.RetryCount,
		ErrorMessage: r.ErrorMessage,
		Metadata:     r.Metadata,
	}
}

// RecordFromItem reconstructs a BillingRecord from its wire form
func RecordFromItem(item RecordItem) (*BillingRecord, error) {
	if item.ID == "" {
		return nil, fmt.Errorf("%w: record item has no id", shared.ErrInvalidInput)
	}
	amount, err := valueobject.NewMoneyFromString(item.Amount, valueobject.Currency(item.Currency))
	if err != nil {
		return nil, fmt.Errorf("invalid record amount: %w", err)
	}
	createdAt, err := parseInstant(item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid record createdAt: %w", err)
	}
	updatedAt, err := parseInstant(item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid record updatedAt: %w", err)
	}
	return &BillingRecord{
		ID:           item.ID,
		CustomerID:   item.CustomerID,
		ProductID:    item.ProductID,
		Amount:       amount,
		Status:       Status(item.Status),
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		RetryCount:   item.RetryCount,
		ErrorMessage: item.ErrorMessage,
		Metadata:     item.Metadata,
	}, nil
}

// Item returns the wire form of the invoice
func (inv *Invoice) Item() InvoiceItem {
	return InvoiceItem{
		ID:               inv.ID,
		CustomerID:       inv.CustomerID,
		TotalAmount:      inv.TotalAmount.Amount().String(),
		Currency:         string(inv.Currency()),
		Status:           string(inv.Status),
		CreatedAt:        inv.CreatedAt.UTC().Format(instantLayout),
		UpdatedAt:        inv.UpdatedAt.UTC().Format(instantLayout),
		BillingRecordIDs: inv.BillingRecordIDs,
		BatchID:          inv.BatchID,
		WindowID:         inv.WindowID,
		Metadata:         inv.Metadata,
	}
}

// InvoiceFromItem reconstructs an Invoice from its wire form
func InvoiceFromItem(item InvoiceItem) (*Invoice, error) {
	if item.ID == "" {
		return nil, fmt.Errorf("%w: invoice item has no id", shared.ErrInvalidInput)
	}
	total, err := valueobject.NewMoneyFromString(item.TotalAmount, valueobject.Currency(item.Currency))
	if err != nil {
		return nil, fmt.Errorf("invalid invoice total: %w", err)
	}
	createdAt, err := parseInstant(item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice createdAt: %w", err)
	}
	updatedAt, err := parseInstant(item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice updatedAt: %w", err)
	}
	return &Invoice{
		ID:               item.ID,
		CustomerID:       item.CustomerID,
		TotalAmount:      total,
		Status:           Status(item.Status),
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
		BillingRecordIDs: item.BillingRecordIDs,
		BatchID:          item.BatchID,
		WindowID:         item.WindowID,
		Metadata:         item.Metadata,
	}, nil
}

// EncodeRecordMessage serializes a record into a queue message body
func EncodeRecordMessage(record *BillingRecord) ([]byte, error) {
	body, err := json.Marshal(record.Item())
	if err != nil {
		return nil, fmt.Errorf("failed to encode record message: %w", err)
	}
	return body, nil
}

// DecodeRecordRef extracts the referenced record id from a queue message
// body. A body without an id is unprocessable: the envelope is left to the
// queue's own redelivery policy, never retried by the consumer itself.
func DecodeRecordRef(body []byte) (string, error) {
	var ref struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &ref); err != nil {
		return "", fmt.Errorf("%w: invalid message body: %v", shared.ErrUnprocessable, err)
	}
	if ref.ID == "" {
		return "", fmt.Errorf("%w: message body has no record id", shared.ErrUnprocessable)
	}
	return ref.ID, nil
}

func parseInstant(s string) (time.Time, error) {
	t, err := time.Parse(instantLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
