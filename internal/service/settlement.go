package service

import (
	"context"
	"time"

	"github.com/flexprice/billingops/internal/api/dto"
	"github.com/flexprice/billingops/internal/cache"
	"github.com/flexprice/billingops/internal/domain/events"
	"github.com/flexprice/billingops/internal/domain/settlement"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/idempotency"
	"github.com/flexprice/billingops/internal/types"
	"github.com/samber/lo"
)

const (
	defaultPayNowReason = "Pay now"
	previewSourceID     = "preview"
)

// SettlementOutcome is what a settlement did.
type SettlementOutcome struct {
	SourceID            string                       `json:"source_id"`
	SourceKind          types.SettlementSourceKind   `json:"source_kind"`
	CustomerID          string                       `json:"customer_id"`
	Currency            string                       `json:"currency"`
	Amount              int64                        `json:"amount"`
	Result              *settlement.AllocationResult `json:"result"`
	CreditIssued        bool                         `json:"credit_issued"`
	CreditTransactionID string                       `json:"credit_transaction_id,omitempty"`
	Recorded            bool                         `json:"recorded"`
	// Replayed is set when the outcome comes from an earlier run of the same source.
	Replayed bool `json:"-"`
}

// SettlementService is the single entry point for every way money reaches a customer's invoices.
type SettlementService interface {
	// Settle distributes one settlement event exactly once.
	Settle(ctx context.Context, event *settlement.Event) (*SettlementOutcome, error)
	PayNow(ctx context.Context, req dto.PayNowRequest) (*dto.PayNowResponse, error)
	FinalizeAfterChallenge(ctx context.Context, chargeID string) (*dto.SettlementResponse, error)
	GrantCredit(ctx context.Context, req dto.GrantCreditRequest) (*dto.SettlementResponse, error)
	PreviewSettlement(ctx context.Context, req dto.PreviewSettlementRequest) (*dto.AllocationResponse, error)
	ListOutstanding(ctx context.Context, customerID, correlationID string) (*dto.ListOutstandingInvoicesResponse, error)
	GetSettlementReport(ctx context.Context, kind types.SettlementSourceKind, sourceID string) (*dto.SettlementReportResponse, error)
}

type settlementService struct {
	ServiceParams
	selector CandidateSelector
	engine   AllocationEngine
	issuer   CreditIssuer
	recorder SettlementRecorder
}

func NewSettlementService(params ServiceParams) SettlementService {
	if params.Idempotency == nil {
		params.Idempotency = idempotency.NewGenerator()
	}
	return &settlementService{
		ServiceParams: params,
		selector:      NewCandidateSelector(params),
		engine:        NewAllocationEngine(params),
		issuer:        NewCreditIssuer(params),
		recorder:      NewSettlementRecorder(params),
	}
}

func (s *settlementService) cacheKey(kind string, ref settlement.SourceRef) string {
	return s.Idempotency.GenerateKey(idempotency.ScopeSettlement, map[string]interface{}{
		"kind":        kind,
		"source_kind": ref.Kind,
		"source_id":   ref.ID,
	})
}

func (s *settlementService) Settle(ctx context.Context, event *settlement.Event) (*SettlementOutcome, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	event.Currency = types.NormalizeCurrency(event.Currency)

	ref := event.Ref()
	ctx = types.SetCustomerID(ctx, event.CustomerID)
	log := s.Logger.WithContext(ctx).With("source", ref.String())

	outcomeKey := s.cacheKey("outcome", ref)
	if outcome, ok := s.cachedOutcome(ctx, outcomeKey); ok {
		log.Infow("settlement already completed, replaying outcome")
		return outcome, nil
	}

	claimKey := s.cacheKey("claim", ref)
	if s.Cache != nil && !s.Cache.Add(ctx, claimKey, s.now().Format(time.RFC3339), cache.ExpirySettlementClaim) {
		return nil, ierr.NewError("settlement already in progress").
			WithHintf("Settlement %s is already being processed", ref.ID).
			WithReportableDetails(map[string]interface{}{
				"source_id":   ref.ID,
				"source_kind": ref.Kind,
			}).
			Mark(ierr.ErrAlreadyExists)
	}

	var outcome *SettlementOutcome
	err := s.withCustomerLock(ctx, event.CustomerID, func(ctx context.Context) error {
		var err error
		outcome, err = s.settleLocked(ctx, event)
		return err
	})
	if err != nil {
		// nothing was applied, so a retry may claim the source again
		if s.Cache != nil {
			s.Cache.Delete(ctx, claimKey)
		}
		return nil, err
	}

	if s.Cache != nil {
		s.Cache.Set(ctx, outcomeKey, outcome, s.outcomeTTL())
	}
	return outcome, nil
}

func (s *settlementService) cachedOutcome(ctx context.Context, key string) (*SettlementOutcome, bool) {
	if s.Cache == nil {
		return nil, false
	}
	value, found := s.Cache.Get(ctx, key)
	if !found {
		return nil, false
	}
	outcome, ok := cache.UnmarshalCacheValue[SettlementOutcome](value)
	if !ok {
		return nil, false
	}
	cp := *outcome
	cp.Replayed = true
	return &cp, true
}

func (s *settlementService) outcomeTTL() time.Duration {
	if s.Config == nil || s.Config.Settlement.OutcomeTTL <= 0 {
		return 24 * time.Hour
	}
	return s.Config.Settlement.OutcomeTTL
}

func (s *settlementService) withCustomerLock(ctx context.Context, customerID string, fn func(ctx context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}

	req := types.LockRequest{Key: types.SettlementLockKey(customerID)}
	if s.Config != nil {
		req.Timeout = lo.ToPtr(s.Config.Locking.Wait)
		req.TTL = s.Config.Locking.TTL
	}
	return s.Locker.WithLock(ctx, req, fn)
}

// settleLocked runs the settlement pipeline. Errors are returned only before any invoice was touched.
func (s *settlementService) settleLocked(ctx context.Context, event *settlement.Event) (*SettlementOutcome, error) {
	ref := event.Ref()
	log := s.Logger.WithContext(ctx).With("source", ref.String())

	if outcome, ok := s.recordedOutcome(ctx, event); ok {
		log.Infow("settlement summary already recorded on source, replaying")
		return outcome, nil
	}

	candidates, err := s.selector.SelectCandidates(ctx, CandidateQuery{
		CustomerID:         event.CustomerID,
		CorrelationID:      event.CorrelationID,
		SelectedInvoiceIDs: event.SelectedInvoiceIDs,
		ApplyToAll:         event.ApplyToAll,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.engine.Allocate(ctx, &AllocationRequest{
		SourceID:      event.SourceID,
		SourceKind:    event.SourceKind,
		CustomerID:    event.CustomerID,
		Currency:      event.Currency,
		Amount:        event.Amount,
		Reason:        event.Reason,
		CorrelationID: event.CorrelationID,
		CandidateIDs:  candidates,
	})
	if err != nil {
		return nil, err
	}

	// invoices may already carry funds from here on, so cancellation no longer applies
	ctx = context.WithoutCancel(ctx)

	outcome := &SettlementOutcome{
		SourceID:   event.SourceID,
		SourceKind: event.SourceKind,
		CustomerID: event.CustomerID,
		Currency:   event.Currency,
		Amount:     event.Amount,
		Result:     result,
	}

	credit, err := s.issuer.IssueCredit(ctx, &CreditRequest{
		CustomerID:    event.CustomerID,
		Amount:        result.RemainingCredit,
		Currency:      event.Currency,
		Reason:        event.Reason,
		CorrelationID: event.CorrelationID,
		SourceID:      event.SourceID,
	})
	if err != nil {
		log.Errorw("failed to issue account credit",
			"amount", result.RemainingCredit,
			"error", err)
		s.SentryService.CaptureExceptionWithContext(ctx, err, map[string]string{
			"component": "credit_issuer",
			"source_id": event.SourceID,
		})
	} else {
		outcome.CreditIssued = credit.Issued
		outcome.CreditTransactionID = credit.TransactionID
	}

	outcome.Recorded = s.recorder.Record(ctx, ref, result)
	s.publishCompleted(ctx, event, outcome)

	log.Infow("settlement complete",
		"amount", event.Amount,
		"total_applied", result.TotalApplied(),
		"credit_added", result.RemainingCredit,
		"credit_issued", outcome.CreditIssued,
		"recorded", outcome.Recorded)

	return outcome, nil
}

// recordedOutcome rebuilds the outcome from a summary already written on the source.
func (s *settlementService) recordedOutcome(ctx context.Context, event *settlement.Event) (*SettlementOutcome, bool) {
	repo := s.sourceRepo(event.SourceKind)
	if repo == nil {
		return nil, false
	}
	src, err := repo.Get(ctx, event.SourceID)
	if err != nil {
		s.Logger.WithContext(ctx).Debugw("settlement source not readable, continuing",
			"source_id", event.SourceID,
			"error", err)
		return nil, false
	}
	summary, ok := settlement.ParseSummary(src.Metadata)
	if !ok {
		return nil, false
	}
	return &SettlementOutcome{
		SourceID:     event.SourceID,
		SourceKind:   event.SourceKind,
		CustomerID:   event.CustomerID,
		Currency:     event.Currency,
		Amount:       event.Amount,
		Result:       summary.Result(),
		CreditIssued: summary.CreditAdded > 0,
		Recorded:     true,
		Replayed:     true,
	}, true
}

func (s *settlementService) publishCompleted(ctx context.Context, event *settlement.Event, outcome *SettlementOutcome) {
	if s.EventPublisher == nil {
		return
	}
	payload := events.NewSettlementCompleted(event, outcome.Result, outcome.CreditIssued, outcome.CreditTransactionID)
	if err := s.EventPublisher.Publish(ctx, events.EventSettlementCompleted, event.CustomerID, payload); err != nil {
		s.Logger.WithContext(ctx).Warnw("failed to publish settlement event",
			"source_id", event.SourceID,
			"error", err)
	}
}

func (s *settlementService) PayNow(ctx context.Context, req dto.PayNowRequest) (*dto.PayNowResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	currency := types.NormalizeCurrency(req.Currency)
	event := &settlement.Event{
		SourceKind:         types.SettlementSourceKindCharge,
		CustomerID:         req.CustomerID,
		Amount:             types.ToMinorUnits(req.Amount, currency),
		Currency:           currency,
		Reason:             lo.Ternary(req.Reason != "", req.Reason, defaultPayNowReason),
		CorrelationID:      req.CorrelationID,
		SelectedInvoiceIDs: req.SelectedInvoiceIDs,
		ApplyToAll:         req.ApplyToAll,
	}

	requestID := types.GetRequestID(ctx)
	if requestID == "" {
		requestID = types.GenerateUUID()
	}

	charge, err := s.ChargeGateway.CreateCharge(ctx, &settlement.ChargeRequest{
		CustomerID:      event.CustomerID,
		Amount:          event.Amount,
		Currency:        currency,
		PaymentMethodID: req.PaymentMethodID,
		Description:     event.Reason,
		Metadata:        settlement.EventMetadata(event, s.correlationKey()),
		IdempotencyKey: s.Idempotency.GenerateKey(idempotency.ScopeCharge, map[string]interface{}{
			"customer_id":       event.CustomerID,
			"amount":            event.Amount,
			"currency":          currency,
			"payment_method_id": req.PaymentMethodID,
			"request_id":        requestID,
		}),
	})
	if err != nil {
		return nil, err
	}

	resp := &dto.PayNowResponse{
		ChargeID: charge.Ref.ID,
		Status:   charge.Status,
	}

	switch charge.Status {
	case types.ChargeStatusSucceeded:
		event.SourceID = charge.Ref.ID
		outcome, err := s.Settle(ctx, event)
		if err != nil {
			return nil, err
		}
		resp.Settlement = toSettlementResponse(outcome)
		return resp, nil
	case types.ChargeStatusRequiresAction:
		s.Logger.WithContext(ctx).Infow("charge requires customer authentication",
			"charge_id", charge.Ref.ID,
			"customer_id", event.CustomerID)
		resp.RequiresAction = true
		resp.ClientSecret = charge.ClientSecret
		return resp, nil
	default:
		return nil, ierr.NewError("charge did not succeed").
			WithHintf("Charge %s is %s", charge.Ref.ID, charge.Status).
			WithReportableDetails(map[string]interface{}{
				"charge_id": charge.Ref.ID,
				"status":    charge.Status,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
}

func (s *settlementService) FinalizeAfterChallenge(ctx context.Context, chargeID string) (*dto.SettlementResponse, error) {
	if chargeID == "" {
		return nil, ierr.NewError("charge_id is required").
			WithHint("Charge ID is required").
			Mark(ierr.ErrValidation)
	}

	charge, err := s.ChargeGateway.Get(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if charge.Status != types.ChargeStatusSucceeded {
		return nil, ierr.NewError("charge has not succeeded").
			WithHintf("Charge %s is %s", chargeID, charge.Status).
			WithReportableDetails(map[string]interface{}{
				"charge_id": chargeID,
				"status":    charge.Status,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	event := charge.ToEvent(s.correlationKey())
	if summary, ok := settlement.ParseSummary(charge.Metadata); ok {
		s.Logger.WithContext(ctx).Infow("charge already settled, returning recorded summary",
			"charge_id", chargeID)
		return toSettlementResponse(&SettlementOutcome{
			SourceID:     charge.Ref.ID,
			SourceKind:   charge.Ref.Kind,
			CustomerID:   event.CustomerID,
			Currency:     types.NormalizeCurrency(charge.Currency),
			Amount:       charge.Amount,
			Result:       summary.Result(),
			CreditIssued: summary.CreditAdded > 0,
			Recorded:     true,
			Replayed:     true,
		}), nil
	}

	outcome, err := s.Settle(ctx, event)
	if err != nil {
		return nil, err
	}
	return toSettlementResponse(outcome), nil
}

func (s *settlementService) GrantCredit(ctx context.Context, req dto.GrantCreditRequest) (*dto.SettlementResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	currency := types.NormalizeCurrency(req.Currency)
	event := &settlement.Event{
		SourceID:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_MANUAL_CREDIT),
		SourceKind:         types.SettlementSourceKindManualCredit,
		CustomerID:         req.CustomerID,
		Amount:             types.ToMinorUnits(req.Amount, currency),
		Currency:           currency,
		Reason:             req.Reason,
		CorrelationID:      req.CorrelationID,
		SelectedInvoiceIDs: req.SelectedInvoiceIDs,
		ApplyToAll:         req.ApplyToAll,
	}

	md := settlement.EventMetadata(event, s.correlationKey())
	md[types.MetadataKeyReference] = types.GenerateShortIDWithPrefix(types.SHORT_ID_PREFIX_SETTLEMENT)
	if userID := types.GetUserID(ctx); userID != "" {
		md[types.MetadataKeyGrantedBy] = userID
	}

	err := s.ManualCreditRepo.Create(ctx, &settlement.Source{
		Ref:        event.Ref(),
		CustomerID: event.CustomerID,
		Amount:     event.Amount,
		Currency:   currency,
		Status:     types.ChargeStatusSucceeded,
		Metadata:   md,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return nil, err
	}

	outcome, err := s.Settle(ctx, event)
	if err != nil {
		return nil, err
	}
	resp := toSettlementResponse(outcome)
	resp.Reference = md[types.MetadataKeyReference]
	return resp, nil
}

func (s *settlementService) PreviewSettlement(ctx context.Context, req dto.PreviewSettlementRequest) (*dto.AllocationResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	currency := types.NormalizeCurrency(req.Currency)
	candidates, err := s.selector.SelectCandidates(ctx, CandidateQuery{
		CustomerID:         req.CustomerID,
		CorrelationID:      req.CorrelationID,
		SelectedInvoiceIDs: req.SelectedInvoiceIDs,
		ApplyToAll:         req.ApplyToAll,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.engine.Plan(ctx, &AllocationRequest{
		SourceID:      previewSourceID,
		CustomerID:    req.CustomerID,
		Currency:      currency,
		Amount:        types.ToMinorUnits(req.Amount, currency),
		CorrelationID: req.CorrelationID,
		CandidateIDs:  candidates,
	})
	if err != nil {
		return nil, err
	}

	resp := dto.NewAllocationResponse(result, currency)
	return &resp, nil
}

func (s *settlementService) ListOutstanding(ctx context.Context, customerID, correlationID string) (*dto.ListOutstandingInvoicesResponse, error) {
	invoices, err := s.selector.ListCandidates(ctx, customerID, correlationID)
	if err != nil {
		return nil, err
	}

	resp := &dto.ListOutstandingInvoicesResponse{
		CustomerID: customerID,
		Items:      make([]*dto.OutstandingInvoiceResponse, 0, len(invoices)),
	}
	for _, inv := range invoices {
		due := EffectiveRemaining(inv)
		if due <= 0 {
			continue
		}
		resp.Items = append(resp.Items, dto.NewOutstandingInvoiceResponse(inv, due, s.correlationKey()))
	}
	return resp, nil
}

func (s *settlementService) GetSettlementReport(ctx context.Context, kind types.SettlementSourceKind, sourceID string) (*dto.SettlementReportResponse, error) {
	if err := kind.Validate(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Settlement kind must be charge or manual_credit").
			Mark(ierr.ErrValidation)
	}

	repo := s.sourceRepo(kind)
	if repo == nil {
		return nil, ierr.NewErrorf("no store configured for %s settlements", kind).
			Mark(ierr.ErrSystem)
	}
	src, err := repo.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	summary, ok := settlement.ParseSummary(src.Metadata)
	if !ok {
		return nil, ierr.NewError("settlement has not been recorded").
			WithHintf("No settlement summary recorded on %s %s", kind, sourceID).
			Mark(ierr.ErrNotFound)
	}
	return dto.NewSettlementReportResponse(src, summary), nil
}

func toSettlementResponse(outcome *SettlementOutcome) *dto.SettlementResponse {
	return &dto.SettlementResponse{
		AllocationResponse:  dto.NewAllocationResponse(outcome.Result, outcome.Currency),
		SourceID:            outcome.SourceID,
		SourceKind:          outcome.SourceKind,
		CustomerID:          outcome.CustomerID,
		Amount:              types.FromMinorUnits(outcome.Amount, outcome.Currency),
		CreditIssued:        outcome.CreditIssued,
		CreditTransactionID: outcome.CreditTransactionID,
		Recorded:            outcome.Recorded,
		Replayed:            outcome.Replayed,
	}
}
