package service

import (
	"context"

	"github.com/flexprice/billingops/internal/domain/settlement"
	"github.com/flexprice/billingops/internal/types"
)

// SettlementRecorder writes the allocation summary back onto the settlement source.
type SettlementRecorder interface {
	// Record is best effort: failures are logged and reported, and the returned bool is false.
	Record(ctx context.Context, source settlement.SourceRef, result *settlement.AllocationResult) bool
}

type settlementRecorder struct {
	ServiceParams
}

func NewSettlementRecorder(params ServiceParams) SettlementRecorder {
	return &settlementRecorder{ServiceParams: params}
}

func (s *settlementRecorder) Record(ctx context.Context, source settlement.SourceRef, result *settlement.AllocationResult) bool {
	log := s.Logger.WithContext(ctx).With("source", source.String())

	repo := s.sourceRepo(source.Kind)
	if repo == nil {
		log.Errorw("no repository for settlement source kind")
		return false
	}

	summary := settlement.NewSummary(result)
	md := summary.Metadata()
	if source.Kind == types.SettlementSourceKindCharge {
		if err := settlement.ValidateMetadataSize(md); err != nil {
			log.Errorw("settlement summary too long for charge metadata, not recorded",
				"oversized_keys", md.OversizedKeys(),
				"invoices_paid", len(summary.InvoicesPaid),
				"error", err)
			s.SentryService.CaptureExceptionWithContext(ctx, err, map[string]string{
				"component": "settlement_recorder",
				"source_id": source.ID,
			})
			return false
		}
	}
	if err := repo.UpdateMetadata(ctx, source.ID, md); err != nil {
		log.Errorw("failed to record settlement summary",
			"total_applied", summary.TotalAppliedToInvoices,
			"credit_added", summary.CreditAdded,
			"error", err)
		s.SentryService.CaptureExceptionWithContext(ctx, err, map[string]string{
			"component": "settlement_recorder",
			"source_id": source.ID,
		})
		return false
	}

	log.Infow("settlement summary recorded",
		"invoices_paid", len(summary.InvoicesPaid),
		"total_applied", summary.TotalAppliedToInvoices,
		"credit_added", summary.CreditAdded)
	return true
}
