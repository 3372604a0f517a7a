// Package payment splits a charge across the silver and deposit balances.
package payment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/praisedesk/settlement/internal/ledger"
	"github.com/praisedesk/settlement/internal/money"
)

var (
	ErrUnknownStrategy = errors.New("unknown payment strategy")
	ErrInvalidAmount   = errors.New("invalid charge amount")
)

// Strategy selects how a charge is funded.
type Strategy string

const (
	// CashOnly charges the whole amount to deposit.
	CashOnly Strategy = "cash_only"
	// SilverFirst spends as much silver as possible, then deposit.
	SilverFirst Strategy = "silver_first"
)

// ParseStrategy accepts the canonical names plus their camelCase forms.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cash_only", "cashonly":
		return CashOnly, nil
	case "silver_first", "silverfirst":
		return SilverFirst, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// Allocation is a fully fundable split of a charge.
type Allocation struct {
	SilverLeg  decimal.Decimal `json:"silverLeg"`
	DepositLeg decimal.Decimal `json:"depositLeg"`
}

// Total returns the charged amount.
func (a Allocation) Total() decimal.Decimal {
	return a.SilverLeg.Add(a.DepositLeg)
}

// Allocate splits amount against the account's available balances. It
// never returns a partial split: either both legs are fundable or it
// fails with ledger.ErrInsufficientFunds.
func Allocate(amount decimal.Decimal, strategy Strategy, acct ledger.Account) (Allocation, error) {
	if err := money.Validate(amount); err != nil {
		return Allocation{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	var alloc Allocation
	switch strategy {
	case CashOnly:
		alloc = Allocation{SilverLeg: decimal.Zero, DepositLeg: amount}
	case SilverFirst:
		silver := money.Min(amount, decimal.Max(acct.Silver, decimal.Zero))
		alloc = Allocation{SilverLeg: silver, DepositLeg: amount.Sub(silver)}
	default:
		return Allocation{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	if alloc.DepositLeg.GreaterThan(acct.Deposit) {
		return Allocation{}, fmt.Errorf("%w: deposit leg %s exceeds deposit %s",
			ledger.ErrInsufficientFunds, money.Format(alloc.DepositLeg), money.Format(acct.Deposit))
	}
	return alloc, nil
}

// Postings turns an allocation into ledger postings for a task charge:
// the silver leg is spent, the deposit leg is frozen until settlement.
func (a Allocation) Postings(reason, taskID string) []ledger.Posting {
	var postings []ledger.Posting
	if a.SilverLeg.IsPositive() {
		postings = append(postings, ledger.DebitPosting(ledger.Silver, a.SilverLeg, reason, taskID))
	}
	if a.DepositLeg.IsPositive() {
		postings = append(postings, ledger.FreezePosting(a.DepositLeg, reason, taskID))
	}
	return postings
}

// RefundPostings returns the postings that undo a charge of this allocation.
func (a Allocation) RefundPostings(reason, taskID string) []ledger.Posting {
	var postings []ledger.Posting
	if a.SilverLeg.IsPositive() {
		postings = append(postings, ledger.CreditPosting(ledger.Silver, a.SilverLeg, reason, taskID))
	}
	if a.DepositLeg.IsPositive() {
		postings = append(postings, ledger.UnfreezePosting(a.DepositLeg, reason, taskID))
	}
	return postings
}

// Plan returns a ledger plan that allocates amount against the locked
// account snapshot and charges it.
func Plan(amount decimal.Decimal, strategy Strategy, reason, taskID string, out *Allocation) ledger.PlanFunc {
	return func(acct ledger.Account) ([]ledger.Posting, error) {
		alloc, err := Allocate(amount, strategy, acct)
		if err != nil {
			return nil, err
		}
		if out != nil {
			*out = alloc
		}
		return alloc.Postings(reason, taskID), nil
	}
}
