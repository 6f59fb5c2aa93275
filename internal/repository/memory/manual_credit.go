package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/flexprice/billingops/internal/domain/settlement"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/types"
)

// manualCreditRepository keeps manual credits in process. Used when postgres is not configured.
type manualCreditRepository struct {
	mu      sync.RWMutex
	sources map[string]*settlement.Source
}

func NewManualCreditRepository() settlement.ManualCreditRepository {
	return &manualCreditRepository{sources: make(map[string]*settlement.Source)}
}

func (r *manualCreditRepository) Create(_ context.Context, source *settlement.Source) error {
	if source.Ref.Kind != types.SettlementSourceKindManualCredit {
		return ierr.NewError("only manual credit sources are stored locally").
			WithHintf("Unexpected source kind %s", source.Ref.Kind).
			Mark(ierr.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sources[source.Ref.ID]; ok {
		return ierr.NewError("manual credit already exists").
			WithHintf("Manual credit %s already exists", source.Ref.ID).
			Mark(ierr.ErrAlreadyExists)
	}
	if source.CreatedAt.IsZero() {
		source.CreatedAt = time.Now().UTC()
	}
	cp := *source
	cp.Metadata = source.Metadata.Clone()
	r.sources[source.Ref.ID] = &cp
	return nil
}

func (r *manualCreditRepository) Get(_ context.Context, id string) (*settlement.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[id]
	if !ok {
		return nil, ierr.NewError("manual credit not found").
			WithHintf("Manual credit %s does not exist", id).
			Mark(ierr.ErrNotFound)
	}
	cp := *src
	cp.Status = types.ChargeStatusSucceeded
	cp.Metadata = src.Metadata.Clone()
	return &cp, nil
}

func (r *manualCreditRepository) UpdateMetadata(_ context.Context, id string, md map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[id]
	if !ok {
		return ierr.NewError("manual credit not found").
			WithHintf("Manual credit %s does not exist", id).
			Mark(ierr.ErrNotFound)
	}
	if src.Metadata == nil {
		src.Metadata = types.Metadata{}
	}
	maps.Copy(src.Metadata, md)
	return nil
}
