// Package handler contains the gin HTTP handlers for the billing API.
package handler

import (
	"errors"
	"net/http"

	appbilling "github.com/billingapp/backend/internal/application/billing"
	"github.com/billingapp/backend/internal/domain/billing"
	"github.com/billingapp/backend/internal/domain/shared"
	"github.com/billingapp/backend/internal/infrastructure/logger"
	"github.com/billingapp/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BillingHandler handles billing record and invoice API endpoints
type BillingHandler struct {
	intake   *appbilling.IntakeService
	records  billing.RecordStore
	invoices billing.InvoiceStore
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(intake *appbilling.IntakeService, records billing.RecordStore, invoices billing.InvoiceStore) *BillingHandler {
	return &BillingHandler{
		intake:   intake,
		records:  records,
		invoices: invoices,
	}
}

// RegisterRoutes registers the billing routes on the API group
func (h *BillingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/billing", h.Submit)
	rg.GET("/billing/:id", h.GetRecord)
	rg.GET("/invoices/:id", h.GetInvoice)
}

// Submit accepts a billing charge and returns the accepted pending record.
func (h *BillingHandler) Submit(c *gin.Context) {
	var req dto.SubmitBillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("INVALID_REQUEST", err.Error()))
		return
	}

	record, err := h.intake.Submit(c.Request.Context(), appbilling.IntakeRequest{
		CustomerID: req.CustomerID,
		ProductID:  req.ProductID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Metadata:   req.Metadata,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(toRecordResponse(record)))
}

// GetRecord returns one billing record by id.
func (h *BillingHandler) GetRecord(c *gin.Context) {
	record, err := h.records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(toRecordResponse(record)))
}

// GetInvoice returns one invoice by id.
func (h *BillingHandler) GetInvoice(c *gin.Context) {
	invoice, err := h.invoices.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(toInvoiceResponse(invoice)))
}

func (h *BillingHandler) respondError(c *gin.Context, err error) {
	var domainErr *shared.DomainError
	switch {
	case errors.Is(err, shared.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(shared.ErrNotFound.Code, err.Error()))
	case errors.Is(err, shared.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(shared.ErrInvalidInput.Code, err.Error()))
	case errors.As(err, &domainErr):
		c.JSON(http.StatusUnprocessableEntity, dto.NewErrorResponse(domainErr.Code, err.Error()))
	default:
		logger.GetGinLogger(c).Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("INTERNAL_ERROR", "internal server error"))
	}
}

func toRecordResponse(record *billing.BillingRecord) dto.BillingRecordResponse {
	return dto.BillingRecordResponse{
		ID:           record.ID,
		CustomerID:   record.CustomerID,
		ProductID:    record.ProductID,
		Amount:       record.Amount.StringFixed(2),
		Currency:     string(record.Amount.Currency()),
		Status:       string(record.Status),
		RetryCount:   record.RetryCount,
		ErrorMessage: record.ErrorMessage,
		Metadata:     record.Metadata,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}

func toInvoiceResponse(invoice *billing.Invoice) dto.InvoiceResponse {
	return dto.InvoiceResponse{
		ID:               invoice.ID,
		CustomerID:       invoice.CustomerID,
		TotalAmount:      invoice.TotalAmount.StringFixed(2),
		Currency:         string(invoice.Currency()),
		Status:           string(invoice.Status),
		BillingRecordIDs: invoice.BillingRecordIDs,
		BatchID:          invoice.BatchID,
		WindowID:         invoice.WindowID,
		CreatedAt:        invoice.CreatedAt,
		UpdatedAt:        invoice.UpdatedAt,
	}
}
