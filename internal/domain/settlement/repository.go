package settlement

import (
	"context"
)

// SourceRepository reads and annotates settlement sources of one kind.
type SourceRepository interface {
	Get(ctx context.Context, id string) (*Source, error)
	// UpdateMetadata merges md into the source metadata.
	UpdateMetadata(ctx context.Context, id string, md map[string]string) error
}

// ManualCreditRepository stores staff-granted credits, which have no provider record.
type ManualCreditRepository interface {
	SourceRepository
	Create(ctx context.Context, source *Source) error
}

// ChargeGateway creates and reads charges at the billing provider.
type ChargeGateway interface {
	SourceRepository
	CreateCharge(ctx context.Context, req *ChargeRequest) (*Source, error)
}

// BalanceRepository writes customer balance transactions.
type BalanceRepository interface {
	CreateCreditTransaction(ctx context.Context, txn *CreditTransaction) (string, error)
}
