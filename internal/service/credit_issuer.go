package service

import (
	"context"
	"fmt"

	"github.com/flexprice/billingops/internal/domain/settlement"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/idempotency"
	"github.com/flexprice/billingops/internal/types"
)

// CreditRequest turns the unapplied remainder of a settlement into account credit.
type CreditRequest struct {
	CustomerID    string
	Amount        int64
	Currency      string
	Reason        string
	CorrelationID string
	SourceID      string
}

// CreditResult is empty when no credit was needed.
type CreditResult struct {
	Issued        bool
	TransactionID string
	Amount        int64
}

// CreditIssuer writes customer balance credit.
type CreditIssuer interface {
	IssueCredit(ctx context.Context, req *CreditRequest) (*CreditResult, error)
}

type creditIssuer struct {
	ServiceParams
}

func NewCreditIssuer(params ServiceParams) CreditIssuer {
	return &creditIssuer{ServiceParams: params}
}

func (s *creditIssuer) IssueCredit(ctx context.Context, req *CreditRequest) (*CreditResult, error) {
	if req.Amount < 0 {
		return nil, ierr.NewError("credit amount cannot be negative").
			WithHint("Credit amount must be zero or greater").
			WithReportableDetails(map[string]interface{}{
				"amount": req.Amount,
			}).
			Mark(ierr.ErrValidation)
	}
	if req.Amount == 0 {
		return &CreditResult{}, nil
	}

	md := types.Metadata{
		types.MetadataKeySettlementSourceID: req.SourceID,
		types.MetadataKeyReason:             req.Reason,
	}
	if req.CorrelationID != "" {
		md[s.correlationKey()] = req.CorrelationID
	}

	txnID, err := s.BalanceRepo.CreateCreditTransaction(ctx, &settlement.CreditTransaction{
		CustomerID:  req.CustomerID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: creditDescription(req),
		Metadata:    md,
		IdempotencyKey: s.Idempotency.GenerateKey(idempotency.ScopeBalanceTransaction, map[string]interface{}{
			"source_id": req.SourceID,
		}),
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to add account credit").
			WithReportableDetails(map[string]interface{}{
				"customer_id": req.CustomerID,
				"source_id":   req.SourceID,
				"amount":      req.Amount,
			}).
			Mark(ierr.ErrHTTPClient)
	}

	s.Logger.WithContext(ctx).Infow("account credit issued",
		"customer_id", req.CustomerID,
		"source_id", req.SourceID,
		"amount", req.Amount,
		"transaction_id", txnID)

	return &CreditResult{Issued: true, TransactionID: txnID, Amount: req.Amount}, nil
}

func creditDescription(req *CreditRequest) string {
	if req.Reason == "" {
		return fmt.Sprintf("Unapplied settlement %s", req.SourceID)
	}
	return fmt.Sprintf("Unapplied settlement %s: %s", req.SourceID, req.Reason)
}
