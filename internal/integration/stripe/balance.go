package stripe

import (
	"context"

	"github.com/flexprice/billingops/internal/domain/settlement"
	"github.com/stripe/stripe-go/v82"
)

// BalanceRepository writes customer balance transactions.
type BalanceRepository struct {
	*Client
}

func NewBalanceRepository(client *Client) settlement.BalanceRepository {
	return &BalanceRepository{Client: client}
}

// CreateCreditTransaction credits the customer's balance. Stripe models credit as a negative amount.
func (r *BalanceRepository) CreateCreditTransaction(ctx context.Context, txn *settlement.CreditTransaction) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}

	params := &stripe.CustomerBalanceTransactionParams{
		Customer: stripe.String(txn.CustomerID),
		Amount:   stripe.Int64(-txn.Amount),
		Currency: stripe.String(txn.Currency),
	}
	if txn.Description != "" {
		params.Description = stripe.String(txn.Description)
	}
	params.Context = ctx
	for k, v := range txn.Metadata {
		params.AddMetadata(k, v)
	}
	if txn.IdempotencyKey != "" {
		params.SetIdempotencyKey(txn.IdempotencyKey)
	}

	bt, err := r.balances.New(params)
	if err != nil {
		return "", mapError(err, "Failed to credit customer balance in Stripe", map[string]interface{}{
			"customer_id": txn.CustomerID,
			"amount":      txn.Amount,
		})
	}

	r.logger.Infow("credited customer balance in stripe",
		"customer_id", txn.CustomerID,
		"balance_transaction_id", bt.ID,
		"amount", txn.Amount)
	return bt.ID, nil
}
