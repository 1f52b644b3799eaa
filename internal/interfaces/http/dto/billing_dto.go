package dto

import "time"

// SubmitBillingRequest is the payload for creating a billing charge
type SubmitBillingRequest struct {
	CustomerID string            `json:"customer_id" binding:"required"`
	ProductID  string            `json:"product_id" binding:"required"`
	Amount     string            `json:"amount" binding:"required"`
	Currency   string            `json:"currency"`
	Metadata   map[string]string `json:"metadata"`
}

// BillingRecordResponse is the API shape of a billing record
type BillingRecordResponse struct {
	ID           string            `json:"id"`
	CustomerID   string            `json:"customer_id"`
	ProductID    string            `json:"product_id"`
	Amount       string            `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	RetryCount   int               `json:"retry_count"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// InvoiceResponse is the API shape of an invoice
type InvoiceResponse struct {
	ID               string    `json:"id"`
	CustomerID       string    `json:"customer_id"`
	TotalAmount      string    `json:"total_amount"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	BillingRecordIDs []string  `json:"billing_record_ids"`
	BatchID          string    `json:"batch_id"`
	WindowID         string    `json:"window_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
