package stripe

import (
	"context"

	domainInvoice "github.com/flexprice/billingops/internal/domain/invoice"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/types"
	"github.com/stripe/stripe-go/v82"
)

// InvoiceRepository is the Stripe backed invoice.Repository.
type InvoiceRepository struct {
	*Client
}

func NewInvoiceRepository(client *Client) domainInvoice.Repository {
	return &InvoiceRepository{Client: client}
}

func (r *InvoiceRepository) Get(ctx context.Context, id string) (*domainInvoice.Invoice, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	params := &stripe.InvoiceParams{}
	params.Context = ctx
	inv, err := r.invoices.Get(id, params)
	if err != nil {
		return nil, mapError(err, "Failed to retrieve invoice from Stripe", map[string]interface{}{
			"invoice_id": id,
		})
	}
	return toInvoice(inv), nil
}

func (r *InvoiceRepository) ListByCustomerAndStatus(ctx context.Context, customerID string, status types.InvoiceStatus) ([]*domainInvoice.Invoice, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(status)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(100)

	var out []*domainInvoice.Invoice
	iter := r.invoices.List(params)
	for iter.Next() {
		out = append(out, toInvoice(iter.Invoice()))
	}
	if err := iter.Err(); err != nil {
		return nil, mapError(err, "Failed to list invoices from Stripe", map[string]interface{}{
			"customer_id": customerID,
			"status":      string(status),
		})
	}

	r.logger.Debugw("listed stripe invoices",
		"customer_id", customerID,
		"status", status,
		"count", len(out))
	return out, nil
}

func (r *InvoiceRepository) UpdateMetadata(ctx context.Context, id string, md types.Metadata) (*domainInvoice.Invoice, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	params := &stripe.InvoiceParams{}
	params.Context = ctx
	for k, v := range md {
		params.AddMetadata(k, v)
	}

	inv, err := r.invoices.Update(id, params)
	if err != nil {
		return nil, mapError(err, "Failed to update invoice metadata in Stripe", map[string]interface{}{
			"invoice_id": id,
		})
	}
	return toInvoice(inv), nil
}

func (r *InvoiceRepository) Delete(ctx context.Context, id string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}

	params := &stripe.InvoiceParams{}
	params.Context = ctx
	if _, err := r.invoices.Del(id, params); err != nil {
		err = mapError(err, "Failed to delete draft invoice in Stripe", map[string]interface{}{
			"invoice_id": id,
		})
		// Stripe ignores idempotency keys on DELETE, so a retried delete that already
		// succeeded comes back as resource_missing.
		if ierr.IsNotFound(err) {
			r.logger.Infow("draft invoice already deleted in stripe", "invoice_id", id)
			return nil
		}
		return err
	}

	r.logger.Infow("deleted draft invoice in stripe", "invoice_id", id)
	return nil
}

func (r *InvoiceRepository) Void(ctx context.Context, id, idempotencyKey string) (*domainInvoice.Invoice, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	params := &stripe.InvoiceVoidInvoiceParams{}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	inv, err := r.invoices.VoidInvoice(id, params)
	if err != nil {
		return nil, mapError(err, "Failed to void invoice in Stripe", map[string]interface{}{
			"invoice_id": id,
		})
	}

	r.logger.Infow("voided invoice in stripe", "invoice_id", id)
	return toInvoice(inv), nil
}

func (r *InvoiceRepository) CreateAdjustmentLineItem(ctx context.Context, item *domainInvoice.AdjustmentLineItem) (string, error) {
	if err := item.Validate(); err != nil {
		return "", err
	}
	if err := r.wait(ctx); err != nil {
		return "", err
	}

	params := &stripe.InvoiceItemParams{
		Customer:    stripe.String(item.CustomerID),
		Invoice:     stripe.String(item.InvoiceID),
		Amount:      stripe.Int64(item.Amount),
		Currency:    stripe.String(item.Currency),
		Description: stripe.String(item.Description),
	}
	params.Context = ctx
	if item.IdempotencyKey != "" {
		params.SetIdempotencyKey(item.IdempotencyKey)
	}

	ii, err := r.invoiceItems.New(params)
	if err != nil {
		return "", mapError(err, "Failed to create adjustment line item in Stripe", map[string]interface{}{
			"invoice_id": item.InvoiceID,
			"amount":     item.Amount,
		})
	}

	r.logger.Infow("created adjustment line item in stripe",
		"invoice_id", item.InvoiceID,
		"invoice_item_id", ii.ID,
		"amount", item.Amount)
	return ii.ID, nil
}

func (r *InvoiceRepository) CreateCreditNote(ctx context.Context, note *domainInvoice.CreditNote) (string, error) {
	if err := note.Validate(); err != nil {
		return "", err
	}
	if err := r.wait(ctx); err != nil {
		return "", err
	}

	params := &stripe.CreditNoteParams{
		Invoice: stripe.String(note.InvoiceID),
		Amount:  stripe.Int64(note.Amount),
	}
	if note.Memo != "" {
		params.Memo = stripe.String(note.Memo)
	}
	params.Context = ctx
	if note.IdempotencyKey != "" {
		params.SetIdempotencyKey(note.IdempotencyKey)
	}

	cn, err := r.creditNotes.New(params)
	if err != nil {
		return "", mapError(err, "Failed to create credit note in Stripe", map[string]interface{}{
			"invoice_id": note.InvoiceID,
			"amount":     note.Amount,
		})
	}

	r.logger.Infow("created credit note in stripe",
		"invoice_id", note.InvoiceID,
		"credit_note_id", cn.ID,
		"amount", note.Amount)
	return cn.ID, nil
}
