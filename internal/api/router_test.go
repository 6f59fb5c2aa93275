package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flexprice/billingops/internal/api/dto"
	v1 "github.com/flexprice/billingops/internal/api/v1"
	"github.com/flexprice/billingops/internal/domain/invoice"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/idempotency"
	"github.com/flexprice/billingops/internal/lock"
	"github.com/flexprice/billingops/internal/service"
	"github.com/flexprice/billingops/internal/testutil"
	"github.com/flexprice/billingops/internal/types"
	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type RouterSuite struct {
	testutil.BaseServiceTestSuite
	router *gin.Engine
}

func TestRouter(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	gin.SetMode(gin.TestMode)

	stores := s.GetStores()
	svc := service.NewSettlementService(service.ServiceParams{
		Logger:           s.GetLogger(),
		Config:           s.GetConfig(),
		InvoiceRepo:      stores.InvoiceRepo,
		ChargeGateway:    stores.ChargeGateway,
		BalanceRepo:      stores.BalanceRepo,
		ManualCreditRepo: stores.ManualCreditRepo,
		Locker:           lock.NewMemoryLocker(),
		Cache:            s.GetCache(),
		EventPublisher:   s.GetPublisher(),
		SentryService:    s.GetSentry(),
		Idempotency:      idempotency.NewGenerator(),
		Clock:            s.GetNow,
	})

	s.router = NewRouter(Handlers{
		Health:     v1.NewHealthHandler(s.GetLogger()),
		Settlement: v1.NewSettlementHandler(svc, s.GetLogger()),
	}, s.GetConfig(), s.GetLogger())

	s.Require().NoError(stores.InvoiceRepo.Seed(s.GetContext(),
		&invoice.Invoice{
			ID:              "in_open",
			Number:          "INV-1",
			CustomerID:      "cus_1",
			Currency:        "usd",
			Status:          types.InvoiceStatusOpen,
			AmountDue:       1500,
			AmountRemaining: 1500,
			AttemptCount:    2,
			DueDate:         s.GetNow().AddDate(0, 0, -3),
			CreatedAt:       s.GetNow().AddDate(0, -1, 0),
			Metadata:        types.Metadata{},
		},
		&invoice.Invoice{
			ID:                       "in_draft",
			CustomerID:               "cus_1",
			Currency:                 "usd",
			Status:                   types.InvoiceStatusDraft,
			AmountDue:                4000,
			AmountRemaining:          4000,
			AutomaticallyFinalizesAt: s.GetNow().Add(72 * time.Hour),
			CreatedAt:                s.GetNow().AddDate(0, 0, -2),
			Metadata:                 types.Metadata{},
		},
	))
}

func (s *RouterSuite) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) decode(rec *httptest.ResponseRecorder, out interface{}) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func (s *RouterSuite) TestHealth() {
	rec := s.do(http.MethodGet, "/health", nil, map[string]string{types.HeaderRequestID: "req_fixed"})
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("req_fixed", rec.Header().Get(types.HeaderRequestID))
}

func (s *RouterSuite) TestGrantCreditAndReport() {
	rec := s.do(http.MethodPost, "/v1/customers/cus_1/credits", map[string]interface{}{
		"amount":       "20.00",
		"currency":     "USD",
		"reason":       "service outage",
		"apply_to_all": true,
	}, map[string]string{types.HeaderUserID: "staff_7"})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var resp dto.SettlementResponse
	s.decode(rec, &resp)
	s.Equal("cus_1", resp.CustomerID)
	s.Require().Len(resp.Applied, 2)
	s.Equal("in_open", resp.Applied[0].InvoiceID)
	s.True(resp.TotalApplied.Equal(decimal.RequireFromString("20")))

	source, err := s.GetStores().ManualCreditRepo.Get(s.GetContext(), resp.SourceID)
	s.Require().NoError(err)
	s.Equal("staff_7", source.Metadata[types.MetadataKeyGrantedBy])
	s.True(strings.HasPrefix(resp.Reference, types.SHORT_ID_PREFIX_SETTLEMENT), resp.Reference)
	s.Equal(resp.Reference, source.Metadata[types.MetadataKeyReference])

	rec = s.do(http.MethodGet, "/v1/settlements/manual_credit/"+resp.SourceID+"/report", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var report dto.SettlementReportResponse
	s.decode(rec, &report)
	s.Len(report.Rows, 2)
	s.Equal(resp.Reference, report.Reference)

	rec = s.do(http.MethodGet, "/v1/settlements/manual_credit/"+resp.SourceID+"/report?format=csv", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("text/csv", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	s.Require().Len(lines, 3)
	s.Equal("source_id,invoice_id,invoice_number,amount_applied,currency", lines[0])
	s.Equal(resp.SourceID+",in_open,INV-1,15.00,usd", lines[1])
	s.Equal(resp.SourceID+",in_draft,,5.00,usd", lines[2])
}

func (s *RouterSuite) TestValidationErrorIsRendered() {
	rec := s.do(http.MethodPost, "/v1/customers/cus_1/credits", map[string]interface{}{
		"amount":   "-1",
		"currency": "usd",
		"reason":   "oops",
	}, nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	var body ierr.ErrorResponse
	s.decode(rec, &body)
	s.False(body.Success)
	s.Equal("Amount must be greater than 0", body.Error.Display)
}

func (s *RouterSuite) TestMalformedBody() {
	req := httptest.NewRequest(http.MethodPost, "/v1/customers/cus_1/settlements/preview", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *RouterSuite) TestReportNotFound() {
	rec := s.do(http.MethodGet, "/v1/settlements/charge/pi_unknown/report", nil, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *RouterSuite) TestPayNowRequiresAction() {
	s.GetStores().ChargeGateway.NextStatus = types.ChargeStatusRequiresAction

	rec := s.do(http.MethodPost, "/v1/customers/cus_1/settlements/pay-now", map[string]interface{}{
		"payment_method_id": "pm_3ds",
		"amount":            "10",
		"currency":          "usd",
		"apply_to_all":      true,
	}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var resp dto.PayNowResponse
	s.decode(rec, &resp)
	s.True(resp.RequiresAction)
	s.NotEmpty(resp.ClientSecret)
	s.Nil(resp.Settlement)

	rec = s.do(http.MethodPost, "/v1/settlements/charges/"+resp.ChargeID+"/finalize", nil, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *RouterSuite) TestPreviewAndOutstanding() {
	rec := s.do(http.MethodPost, "/v1/customers/cus_1/settlements/preview", map[string]interface{}{
		"amount":       "100",
		"currency":     "usd",
		"apply_to_all": true,
	}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var preview dto.AllocationResponse
	s.decode(rec, &preview)
	s.True(preview.CreditAdded.Equal(decimal.RequireFromString("45")))

	rec = s.do(http.MethodGet, "/v1/customers/cus_1/invoices/outstanding", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var list dto.ListOutstandingInvoicesResponse
	s.decode(rec, &list)
	s.Require().Len(list.Items, 2)
	s.Equal("in_open", list.Items[0].InvoiceID)
	s.Equal("in_draft", list.Items[1].InvoiceID)
}
