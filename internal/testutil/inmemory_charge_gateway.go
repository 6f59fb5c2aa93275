package testutil

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/flexprice/billingops/internal/domain/settlement"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/types"
)

// InMemoryChargeGateway implements settlement.ChargeGateway. New charges take NextStatus.
type InMemoryChargeGateway struct {
	*InMemoryStore[*settlement.Source]

	mu         sync.Mutex
	seq        int
	NextStatus types.ChargeStatus
	// CreateErr fails every CreateCharge call when set.
	CreateErr error
	// UpdateErr fails every UpdateMetadata call when set.
	UpdateErr error
	requests  []settlement.ChargeRequest
}

func NewInMemoryChargeGateway() *InMemoryChargeGateway {
	return &InMemoryChargeGateway{
		InMemoryStore: NewInMemoryStore[*settlement.Source](),
		NextStatus:    types.ChargeStatusSucceeded,
	}
}

func copySource(src *settlement.Source) *settlement.Source {
	cp := *src
	cp.Metadata = src.Metadata.Clone()
	return &cp
}

func (g *InMemoryChargeGateway) CreateCharge(ctx context.Context, req *settlement.ChargeRequest) (*settlement.Source, error) {
	g.mu.Lock()
	if g.CreateErr != nil {
		g.mu.Unlock()
		return nil, g.CreateErr
	}
	g.seq++
	id := fmt.Sprintf("pi_test_%d", g.seq)
	status := g.NextStatus
	g.requests = append(g.requests, *req)
	g.mu.Unlock()

	src := &settlement.Source{
		Ref:        settlement.SourceRef{Kind: types.SettlementSourceKindCharge, ID: id},
		CustomerID: req.CustomerID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Status:     status,
		Metadata:   req.Metadata.Clone(),
		CreatedAt:  time.Now().UTC(),
	}
	if src.Metadata == nil {
		src.Metadata = types.Metadata{}
	}
	if status == types.ChargeStatusRequiresAction {
		src.ClientSecret = id + "_secret"
	}
	if err := g.InMemoryStore.Create(ctx, id, src); err != nil {
		return nil, err
	}
	return copySource(src), nil
}

// Seed stores a charge directly.
func (g *InMemoryChargeGateway) Seed(ctx context.Context, src *settlement.Source) error {
	cp := copySource(src)
	if cp.Metadata == nil {
		cp.Metadata = types.Metadata{}
	}
	return g.InMemoryStore.Create(ctx, cp.Ref.ID, cp)
}

func (g *InMemoryChargeGateway) Get(ctx context.Context, id string) (*settlement.Source, error) {
	src, err := g.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Charge %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	return copySource(src), nil
}

func (g *InMemoryChargeGateway) UpdateMetadata(ctx context.Context, id string, md map[string]string) error {
	g.mu.Lock()
	updateErr := g.UpdateErr
	g.mu.Unlock()
	if updateErr != nil {
		return updateErr
	}
	return g.Mutate(ctx, id, func(src *settlement.Source) (*settlement.Source, error) {
		cp := copySource(src)
		if cp.Metadata == nil {
			cp.Metadata = types.Metadata{}
		}
		maps.Copy(cp.Metadata, md)
		return cp, nil
	})
}

// SetStatus moves a charge to status, as the provider does once a challenge completes.
func (g *InMemoryChargeGateway) SetStatus(ctx context.Context, id string, status types.ChargeStatus) error {
	return g.Mutate(ctx, id, func(src *settlement.Source) (*settlement.Source, error) {
		cp := copySource(src)
		cp.Status = status
		return cp, nil
	})
}

func (g *InMemoryChargeGateway) Requests() []settlement.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]settlement.ChargeRequest(nil), g.requests...)
}
