package stripe

import (
	"context"

	"github.com/flexprice/billingops/internal/domain/settlement"
	"github.com/stripe/stripe-go/v82"
)

// ChargeGateway creates and annotates payment intents used as settlement sources.
type ChargeGateway struct {
	*Client
}

func NewChargeGateway(client *Client) settlement.ChargeGateway {
	return &ChargeGateway{Client: client}
}

// CreateCharge confirms a payment intent against the customer's saved payment method.
// A card requiring authentication comes back as requires_action with a client secret.
func (g *ChargeGateway) CreateCharge(ctx context.Context, req *settlement.ChargeRequest) (*settlement.Source, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerID),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		Confirm:       stripe.Bool(true),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.payments.New(params)
	if err != nil {
		return nil, mapError(err, "Failed to create charge in Stripe", map[string]interface{}{
			"customer_id": req.CustomerID,
			"amount":      req.Amount,
		})
	}

	g.logger.Infow("created stripe charge",
		"payment_intent_id", pi.ID,
		"customer_id", req.CustomerID,
		"amount", req.Amount,
		"status", pi.Status)
	return toSource(pi), nil
}

func (g *ChargeGateway) Get(ctx context.Context, id string) (*settlement.Source, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.payments.Get(id, params)
	if err != nil {
		return nil, mapError(err, "Failed to retrieve charge from Stripe", map[string]interface{}{
			"payment_intent_id": id,
		})
	}
	return toSource(pi), nil
}

func (g *ChargeGateway) UpdateMetadata(ctx context.Context, id string, md map[string]string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	for k, v := range md {
		params.AddMetadata(k, v)
	}
	if _, err := g.payments.Update(id, params); err != nil {
		return mapError(err, "Failed to update charge metadata in Stripe", map[string]interface{}{
			"payment_intent_id": id,
		})
	}
	return nil
}
