package service

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/billingops/internal/domain/invoice"
	"github.com/flexprice/billingops/internal/domain/settlement"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/idempotency"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/flexprice/billingops/internal/types"
	"github.com/samber/lo"
)

// AllocationRequest is one lump sum to walk across an ordered list of candidate invoices.
type AllocationRequest struct {
	SourceID string
	// SourceKind locates the source record that remembers deleted drafts. Empty disables it.
	SourceKind    types.SettlementSourceKind
	CustomerID    string
	Currency      string
	Amount        int64
	Reason        string
	CorrelationID string
	CandidateIDs  []string
}

func (r *AllocationRequest) Validate() error {
	if r.Amount <= 0 {
		return ierr.NewError("allocation amount must be positive").
			WithHint("Amount must be greater than 0").
			WithReportableDetails(map[string]interface{}{
				"amount": r.Amount,
			}).
			Mark(ierr.ErrValidation)
	}
	if r.SourceID == "" || r.CustomerID == "" {
		return ierr.NewError("source_id and customer_id are required").
			WithHint("Allocation must reference a settlement source and a customer").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// AllocationEngine distributes a settlement across invoices.
type AllocationEngine interface {
	// Allocate applies funds in a single sequential pass. Per-invoice failures never abort the pass;
	// the only errors returned are precondition failures.
	Allocate(ctx context.Context, req *AllocationRequest) (*settlement.AllocationResult, error)
	// Plan walks the same candidates without writing anything.
	Plan(ctx context.Context, req *AllocationRequest) (*settlement.AllocationResult, error)
}

type allocationEngine struct {
	ServiceParams
}

func NewAllocationEngine(params ServiceParams) AllocationEngine {
	return &allocationEngine{ServiceParams: params}
}

func (s *allocationEngine) Allocate(ctx context.Context, req *AllocationRequest) (*settlement.AllocationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	span, ctx := s.SentryService.StartMonitoringSpan(ctx, "settlement.allocate", map[string]interface{}{
		"source_id":  req.SourceID,
		"candidates": len(req.CandidateIDs),
	})
	if span != nil {
		defer span.Finish()
	}

	log := s.Logger.WithContext(ctx).With("source_id", req.SourceID, "customer_id", req.CustomerID)

	remaining := req.Amount
	result := &settlement.AllocationResult{Applied: []settlement.AppliedInvoice{}}
	seen := make(map[string]struct{}, len(req.CandidateIDs))
	retired := s.retiredInvoices(ctx, log, req)

	for _, id := range req.CandidateIDs {
		if remaining <= 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			log.Warnw("allocation interrupted, remaining funds stay unapplied",
				"remaining", remaining,
				"error", err)
			break
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		applied, ok := s.allocateOne(ctx, log.With("invoice_id", id), req, retired, id, remaining)
		if !ok {
			continue
		}
		remaining -= applied.AmountApplied
		result.Applied = append(result.Applied, applied)
	}

	result.RemainingCredit = remaining

	log.Infow("allocation complete",
		"amount", req.Amount,
		"applied_invoices", len(result.Applied),
		"total_applied", result.TotalApplied(),
		"remaining_credit", remaining)

	return result, nil
}

// allocateOne applies up to remaining to a single invoice. ok is false when nothing was counted.
func (s *allocationEngine) allocateOne(
	ctx context.Context,
	log *logger.Logger,
	req *AllocationRequest,
	retired settlement.RetiredInvoices,
	id string,
	remaining int64,
) (settlement.AppliedInvoice, bool) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		if !ierr.IsNotFound(err) {
			s.reportInvoiceError(ctx, log, id, "fetch", err)
			return settlement.AppliedInvoice{}, false
		}
		// A previous interrupted run of this source deleted the draft.
		if amount, found := retired[id]; found {
			amount = min(amount, remaining)
			log.Infow("invoice was deleted by this settlement, counting recorded amount",
				"amount", amount)
			return settlement.AppliedInvoice{InvoiceID: id, AmountApplied: amount}, amount > 0
		}
		log.Infow("candidate invoice not found, skipping")
		return settlement.AppliedInvoice{}, false
	}
	if !s.belongsTo(log, req, inv) {
		return settlement.AppliedInvoice{}, false
	}

	// A previous interrupted run of this source already paid the invoice, possibly voiding it.
	if prior, found := lo.Find(inv.PaymentHistory(), func(e invoice.PaymentHistoryEntry) bool {
		return e.SourceID == req.SourceID
	}); found {
		amount := min(prior.Amount, remaining)
		log.Infow("invoice already carries this settlement, counting recorded amount",
			"amount", amount,
			"status", inv.Status)
		return appliedTo(inv, amount), amount > 0
	}

	if !isPayable(log, inv) {
		return settlement.AppliedInvoice{}, false
	}

	due := EffectiveRemaining(inv)
	if due <= 0 {
		log.Debugw("invoice has nothing left to pay, skipping", "status", inv.Status)
		return settlement.AppliedInvoice{}, false
	}

	apply := min(remaining, due)
	fullySettled := apply >= due

	transition, err := TransitionFor(inv.Status, fullySettled)
	if err != nil {
		log.Warnw("no transition for invoice, skipping", "status", inv.Status, "error", err)
		return settlement.AppliedInvoice{}, false
	}

	update := invoice.LedgerUpdate{
		Entry: invoice.NewSettlementEntry(req.SourceID, apply, req.Reason, s.now()),
	}
	if inv.Status == types.InvoiceStatusDraft {
		update.BaseAmountDue = inv.BaseAmountDue()
	}

	log = log.With("status", inv.Status, "apply", apply, "fully_settled", fullySettled)

	recorded := false
	if transition.Action == ActionDelete {
		err = s.retire(ctx, req, retired, inv.ID, apply)
	}
	if err == nil {
		err = s.perform(ctx, transition.Action, inv, apply, req)
	}
	if err == nil {
		recorded = true
		log.Infow("invoice transition applied", "action", transition.Action)
		if transition.WriteLedger {
			s.writeLedger(ctx, log, inv.ID, update)
		}
	} else {
		s.reportInvoiceError(ctx, log, inv.ID, string(transition.Action), err)

		switch transition.Fallback {
		case ActionMarkSettledInMeta:
			update.Settled = true
			recorded = s.writeLedger(ctx, log, inv.ID, update)
		case ActionCreditNote:
			if fbErr := s.perform(ctx, ActionCreditNote, inv, apply, req); fbErr != nil {
				s.reportInvoiceError(ctx, log, inv.ID, string(ActionCreditNote), fbErr)
				break
			}
			recorded = true
			log.Infow("invoice settled through fallback", "action", ActionCreditNote)
			update.Settled = true
			s.writeLedger(ctx, log, inv.ID, update)
		default:
			// drafts keep their balance in the ledger, so the metadata write alone records the payment
			if inv.Status == types.InvoiceStatusDraft {
				recorded = s.writeLedger(ctx, log, inv.ID, update)
			}
		}
	}

	if !recorded {
		log.Warnw("no durable record of application, funds carried forward")
		return settlement.AppliedInvoice{}, false
	}
	return appliedTo(inv, apply), true
}

// fetchCandidate re-reads a candidate and decides whether it may receive funds.
func (s *allocationEngine) fetchCandidate(ctx context.Context, log *logger.Logger, req *AllocationRequest, id string) (*invoice.Invoice, bool) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		if ierr.IsNotFound(err) {
			log.Infow("candidate invoice not found, skipping")
			return nil, false
		}
		s.reportInvoiceError(ctx, log, id, "fetch", err)
		return nil, false
	}
	if !s.belongsTo(log, req, inv) || !isPayable(log, inv) {
		return nil, false
	}
	return inv, true
}

func (s *allocationEngine) belongsTo(log *logger.Logger, req *AllocationRequest, inv *invoice.Invoice) bool {
	if inv.CustomerID != req.CustomerID {
		log.Warnw("candidate invoice belongs to another customer, skipping",
			"invoice_customer_id", inv.CustomerID)
		return false
	}
	if req.Currency != "" && inv.Currency != "" &&
		types.NormalizeCurrency(inv.Currency) != types.NormalizeCurrency(req.Currency) {
		log.Warnw("candidate invoice currency differs, skipping",
			"invoice_currency", inv.Currency,
			"settlement_currency", req.Currency)
		return false
	}
	return true
}

func isPayable(log *logger.Logger, inv *invoice.Invoice) bool {
	if !inv.Status.IsSettleable() {
		log.Infow("candidate invoice is not payable, skipping", "status", inv.Status)
		return false
	}
	return true
}

// retiredInvoices loads the drafts an earlier run of this source deleted.
func (s *allocationEngine) retiredInvoices(ctx context.Context, log *logger.Logger, req *AllocationRequest) settlement.RetiredInvoices {
	repo := s.sourceRepo(req.SourceKind)
	if repo == nil {
		return settlement.RetiredInvoices{}
	}
	src, err := repo.Get(ctx, req.SourceID)
	if err != nil {
		if !ierr.IsNotFound(err) {
			log.Warnw("failed to read retired invoices from source", "error", err)
		}
		return settlement.RetiredInvoices{}
	}
	return settlement.ParseRetiredInvoices(src.Metadata)
}

// retire records on the source that invoiceID is about to be deleted with amount applied.
// A source the provider does not know cannot hold the record and is not an error.
func (s *allocationEngine) retire(ctx context.Context, req *AllocationRequest, retired settlement.RetiredInvoices, invoiceID string, amount int64) error {
	repo := s.sourceRepo(req.SourceKind)
	if repo == nil {
		return nil
	}

	next := maps.Clone(retired)
	next[invoiceID] = amount
	md := next.Metadata()
	if req.SourceKind == types.SettlementSourceKindCharge {
		if err := settlement.ValidateMetadataSize(md); err != nil {
			return err
		}
	}
	if err := repo.UpdateMetadata(ctx, req.SourceID, md); err != nil {
		if ierr.IsNotFound(err) {
			return nil
		}
		return err
	}
	retired[invoiceID] = amount
	return nil
}

func appliedTo(inv *invoice.Invoice, amount int64) settlement.AppliedInvoice {
	return settlement.AppliedInvoice{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.Number,
		AmountApplied: amount,
	}
}

func (s *allocationEngine) perform(ctx context.Context, action TransitionAction, inv *invoice.Invoice, apply int64, req *AllocationRequest) error {
	switch action {
	case ActionDelete:
		return s.InvoiceRepo.Delete(ctx, inv.ID)
	case ActionVoid:
		_, err := s.InvoiceRepo.Void(ctx, inv.ID, s.Idempotency.GenerateKey(idempotency.ScopeInvoiceVoid, map[string]interface{}{
			"source_id":  req.SourceID,
			"invoice_id": inv.ID,
		}))
		return err
	case ActionAdjustmentItem:
		_, err := s.InvoiceRepo.CreateAdjustmentLineItem(ctx, &invoice.AdjustmentLineItem{
			InvoiceID:   inv.ID,
			CustomerID:  inv.CustomerID,
			Amount:      -apply,
			Currency:    inv.Currency,
			Description: settlementMemo(req),
			IdempotencyKey: s.Idempotency.GenerateKey(idempotency.ScopeInvoiceItem, map[string]interface{}{
				"source_id":  req.SourceID,
				"invoice_id": inv.ID,
			}),
		})
		return err
	case ActionCreditNote:
		_, err := s.InvoiceRepo.CreateCreditNote(ctx, &invoice.CreditNote{
			InvoiceID: inv.ID,
			Amount:    apply,
			Memo:      settlementMemo(req),
			IdempotencyKey: s.Idempotency.GenerateKey(idempotency.ScopeCreditNote, map[string]interface{}{
				"source_id":  req.SourceID,
				"invoice_id": inv.ID,
				"amount":     apply,
			}),
		})
		return err
	default:
		return ierr.NewErrorf("unsupported settlement action %q", action).
			Mark(ierr.ErrInternal)
	}
}

func settlementMemo(req *AllocationRequest) string {
	if req.Reason == "" {
		return fmt.Sprintf("Settlement %s", req.SourceID)
	}
	return fmt.Sprintf("Settlement %s: %s", req.SourceID, req.Reason)
}

// writeLedger appends update to the invoice ledger with verify-and-retry on ledgerVersion.
// It reports whether the entry is present afterwards. Failures are logged and reported, never returned.
func (s *allocationEngine) writeLedger(ctx context.Context, log *logger.Logger, invoiceID string, update invoice.LedgerUpdate) bool {
	sourceID := update.Entry.SourceID

	op := func() error {
		current, err := s.InvoiceRepo.Get(ctx, invoiceID)
		if err != nil {
			if ierr.IsNotFound(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		md, ok, err := current.ApplyLedgerUpdate(update)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return nil
		}
		expected := current.LedgerVersion() + 1

		updated, err := s.InvoiceRepo.UpdateMetadata(ctx, invoiceID, md)
		if err != nil {
			return err
		}
		if updated.LedgerVersion() != expected || !invoice.HasSource(updated.PaymentHistory(), sourceID) {
			return ierr.NewError("invoice ledger changed during write").
				WithHintf("Ledger of invoice %s was modified concurrently", invoiceID).
				WithReportableDetails(map[string]interface{}{
					"invoice_id":       invoiceID,
					"expected_version": expected,
					"actual_version":   updated.LedgerVersion(),
				}).
				Mark(ierr.ErrVersionConflict)
		}

		verified, err := s.InvoiceRepo.Get(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !invoice.HasSource(verified.PaymentHistory(), sourceID) {
			return ierr.NewError("invoice ledger entry was overwritten").
				WithHintf("Ledger of invoice %s lost entry for %s", invoiceID, sourceID).
				Mark(ierr.ErrVersionConflict)
		}
		return nil
	}

	err := backoff.RetryNotify(op, s.ledgerBackOff(ctx), func(err error, wait time.Duration) {
		log.Debugw("retrying invoice ledger write", "error", err, "wait", wait)
	})
	if err != nil {
		s.reportInvoiceError(ctx, log, invoiceID, "ledger_write", err)
		return false
	}
	log.Debugw("invoice ledger updated")
	return true
}

func (s *allocationEngine) ledgerBackOff(ctx context.Context) backoff.BackOff {
	wait := 200 * time.Millisecond
	var retries uint64 = 3
	if s.Config != nil {
		if s.Config.Settlement.LedgerRetryBackoff > 0 {
			wait = s.Config.Settlement.LedgerRetryBackoff
		}
		retries = s.Config.Settlement.LedgerWriteRetries
	}
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(wait), retries), ctx)
}

func (s *allocationEngine) reportInvoiceError(ctx context.Context, log *logger.Logger, invoiceID, operation string, err error) {
	log.Errorw("settlement step failed",
		"operation", operation,
		"error", err)
	s.SentryService.CaptureExceptionWithContext(ctx, err, map[string]string{
		"component":  "allocation_engine",
		"operation":  operation,
		"invoice_id": invoiceID,
	})
}

func (s *allocationEngine) Plan(ctx context.Context, req *AllocationRequest) (*settlement.AllocationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	log := s.Logger.WithContext(ctx).With("source_id", req.SourceID, "customer_id", req.CustomerID)

	remaining := req.Amount
	result := &settlement.AllocationResult{Applied: []settlement.AppliedInvoice{}}
	seen := make(map[string]struct{}, len(req.CandidateIDs))

	for _, id := range req.CandidateIDs {
		if remaining <= 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		inv, ok := s.fetchCandidate(ctx, log.With("invoice_id", id), req, id)
		if !ok {
			continue
		}
		due := EffectiveRemaining(inv)
		if due <= 0 {
			continue
		}
		apply := min(remaining, due)
		remaining -= apply
		result.Applied = append(result.Applied, appliedTo(inv, apply))
	}

	result.RemainingCredit = remaining
	return result, nil
}
