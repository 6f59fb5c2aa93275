package service

import (
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/types"
)

// TransitionAction is the provider mutation an allocation step performs.
type TransitionAction string

const (
	ActionNone              TransitionAction = ""
	ActionDelete            TransitionAction = "delete"
	ActionVoid              TransitionAction = "void"
	ActionAdjustmentItem    TransitionAction = "adjustment_item"
	ActionCreditNote        TransitionAction = "credit_note"
	ActionMarkSettledInMeta TransitionAction = "mark_settled"
)

// Transition is one row of the terminal handling table.
type Transition struct {
	Action   TransitionAction
	Fallback TransitionAction
	// WriteLedger is true when the ledger metadata is written after a successful action.
	// The fallback always writes it.
	WriteLedger bool
}

type transitionKey struct {
	status       types.InvoiceStatus
	fullySettled bool
}

var transitions = map[transitionKey]Transition{
	{types.InvoiceStatusDraft, true}:  {Action: ActionDelete, Fallback: ActionMarkSettledInMeta, WriteLedger: false},
	{types.InvoiceStatusDraft, false}: {Action: ActionAdjustmentItem, Fallback: ActionNone, WriteLedger: true},
	{types.InvoiceStatusOpen, true}:   {Action: ActionVoid, Fallback: ActionCreditNote, WriteLedger: true},
	{types.InvoiceStatusOpen, false}:  {Action: ActionCreditNote, Fallback: ActionNone, WriteLedger: true},
}

// TransitionFor looks up the terminal handling for an invoice in status.
func TransitionFor(status types.InvoiceStatus, fullySettled bool) (Transition, error) {
	t, ok := transitions[transitionKey{status: status, fullySettled: fullySettled}]
	if !ok {
		return Transition{}, ierr.NewErrorf("no settlement transition for status %s", status).
			WithHint("Only draft and open invoices can be settled").
			Mark(ierr.ErrInvalidOperation)
	}
	return t, nil
}
