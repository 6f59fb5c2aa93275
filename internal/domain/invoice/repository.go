package invoice

import (
	"context"

	"github.com/flexprice/billingops/internal/types"
)

// Repository is the billing provider's invoice surface.
// Every call is a blocking network call and may fail independently per invoice.
type Repository interface {
	Get(ctx context.Context, id string) (*Invoice, error)
	ListByCustomerAndStatus(ctx context.Context, customerID string, status types.InvoiceStatus) ([]*Invoice, error)
	// UpdateMetadata merges md into the invoice metadata and returns the updated invoice.
	UpdateMetadata(ctx context.Context, id string, md types.Metadata) (*Invoice, error)
	Delete(ctx context.Context, id string) error
	// Void retires an open invoice. A repeated call with the same idempotency key returns the first result.
	Void(ctx context.Context, id, idempotencyKey string) (*Invoice, error)
	CreateAdjustmentLineItem(ctx context.Context, item *AdjustmentLineItem) (string, error)
	CreateCreditNote(ctx context.Context, note *CreditNote) (string, error)
}
