package v1

import (
	"net/http"

	"github.com/flexprice/billingops/internal/api/dto"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/flexprice/billingops/internal/service"
	"github.com/flexprice/billingops/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/gocarina/gocsv"
)

type SettlementHandler struct {
	service service.SettlementService
	log     *logger.Logger
}

func NewSettlementHandler(service service.SettlementService, log *logger.Logger) *SettlementHandler {
	return &SettlementHandler{service: service, log: log}
}

func customerParam(c *gin.Context) (string, bool) {
	id := c.Param("customer_id")
	if id == "" {
		c.Error(ierr.NewError("customer_id is required").
			WithHint("Customer ID is required").
			Mark(ierr.ErrValidation))
		return "", false
	}
	return id, true
}

func bindJSON(c *gin.Context, log *logger.Logger, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		log.Errorw("failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return false
	}
	return true
}

// @Summary Pay now
// @Description Charge a saved payment method and settle the proceeds across the customer's invoices
// @Tags Settlements
// @Accept json
// @Produce json
// @Param customer_id path string true "Customer ID"
// @Param request body dto.PayNowRequest true "Pay now request"
// @Success 200 {object} dto.PayNowResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Router /customers/{customer_id}/settlements/pay-now [post]
func (h *SettlementHandler) PayNow(c *gin.Context) {
	customerID, ok := customerParam(c)
	if !ok {
		return
	}
	var req dto.PayNowRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	req.CustomerID = customerID

	resp, err := h.service.PayNow(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Finalize a charge after its 3-D Secure challenge
// @Tags Settlements
// @Produce json
// @Param charge_id path string true "Charge ID"
// @Success 200 {object} dto.SettlementResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /settlements/charges/{charge_id}/finalize [post]
func (h *SettlementHandler) FinalizeCharge(c *gin.Context) {
	resp, err := h.service.FinalizeAfterChallenge(c.Request.Context(), c.Param("charge_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Grant manual credit
// @Description Grant a staff-approved credit and settle it across the customer's invoices
// @Tags Settlements
// @Accept json
// @Produce json
// @Param customer_id path string true "Customer ID"
// @Param request body dto.GrantCreditRequest true "Credit request"
// @Success 201 {object} dto.SettlementResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /customers/{customer_id}/credits [post]
func (h *SettlementHandler) GrantCredit(c *gin.Context) {
	customerID, ok := customerParam(c)
	if !ok {
		return
	}
	var req dto.GrantCreditRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	req.CustomerID = customerID

	resp, err := h.service.GrantCredit(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary Preview a settlement
// @Tags Settlements
// @Accept json
// @Produce json
// @Param customer_id path string true "Customer ID"
// @Param request body dto.PreviewSettlementRequest true "Preview request"
// @Success 200 {object} dto.AllocationResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /customers/{customer_id}/settlements/preview [post]
func (h *SettlementHandler) PreviewSettlement(c *gin.Context) {
	customerID, ok := customerParam(c)
	if !ok {
		return
	}
	var req dto.PreviewSettlementRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	req.CustomerID = customerID

	resp, err := h.service.PreviewSettlement(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List outstanding invoices in settlement order
// @Tags Settlements
// @Produce json
// @Param customer_id path string true "Customer ID"
// @Param correlation_id query string false "Bill correlation ID"
// @Success 200 {object} dto.ListOutstandingInvoicesResponse
// @Router /customers/{customer_id}/invoices/outstanding [get]
func (h *SettlementHandler) ListOutstanding(c *gin.Context) {
	customerID, ok := customerParam(c)
	if !ok {
		return
	}

	resp, err := h.service.ListOutstanding(c.Request.Context(), customerID, c.Query("correlation_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Get the settlement report recorded on a source
// @Tags Settlements
// @Produce json
// @Produce text/csv
// @Param kind path string true "charge or manual_credit"
// @Param source_id path string true "Source ID"
// @Param format query string false "json (default) or csv"
// @Success 200 {object} dto.SettlementReportResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /settlements/{kind}/{source_id}/report [get]
func (h *SettlementHandler) GetSettlementReport(c *gin.Context) {
	kind := types.SettlementSourceKind(c.Param("kind"))
	sourceID := c.Param("source_id")

	resp, err := h.service.GetSettlementReport(c.Request.Context(), kind, sourceID)
	if err != nil {
		c.Error(err)
		return
	}

	if c.Query("format") != "csv" {
		c.JSON(http.StatusOK, resp)
		return
	}

	out, err := gocsv.MarshalBytes(resp.Rows)
	if err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Failed to export settlement report").
			Mark(ierr.ErrInternal))
		return
	}
	c.Header("Content-Disposition", "attachment; filename=settlement_"+sourceID+".csv")
	c.Data(http.StatusOK, "text/csv", out)
}
