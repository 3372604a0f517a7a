package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/praisedesk/settlement/internal/idgen"
	"github.com/praisedesk/settlement/internal/money"
)

// Posting is one signed movement on a single currency of an account.
// Delta changes the available balance, FrozenDelta the frozen deposit.
type Posting struct {
	Currency    Currency        `json:"currency"`
	Delta       decimal.Decimal `json:"delta"`
	FrozenDelta decimal.Decimal `json:"frozenDelta"`
	Reason      string          `json:"reason"`
	TaskID      string          `json:"taskId,omitempty"`
}

// CreditPosting adds amount to the available balance of a currency.
func CreditPosting(c Currency, amount decimal.Decimal, reason, taskID string) Posting {
	return Posting{Currency: c, Delta: amount, Reason: reason, TaskID: taskID}
}

// DebitPosting removes amount from the available balance of a currency.
func DebitPosting(c Currency, amount decimal.Decimal, reason, taskID string) Posting {
	return Posting{Currency: c, Delta: amount.Neg(), Reason: reason, TaskID: taskID}
}

// FreezePosting moves amount from deposit into frozen deposit.
func FreezePosting(amount decimal.Decimal, reason, taskID string) Posting {
	return Posting{Currency: Deposit, Delta: amount.Neg(), FrozenDelta: amount, Reason: reason, TaskID: taskID}
}

// UnfreezePosting moves amount from frozen deposit back into deposit.
func UnfreezePosting(amount decimal.Decimal, reason, taskID string) Posting {
	return Posting{Currency: Deposit, Delta: amount, FrozenDelta: amount.Neg(), Reason: reason, TaskID: taskID}
}

// ConsumeFrozenPosting removes amount from frozen deposit.
func ConsumeFrozenPosting(amount decimal.Decimal, reason, taskID string) Posting {
	return Posting{Currency: Deposit, FrozenDelta: amount.Neg(), Reason: reason, TaskID: taskID}
}

// Reverse returns the posting that undoes p.
func (p Posting) Reverse(reason string) Posting {
	return Posting{
		Currency:    p.Currency,
		Delta:       p.Delta.Neg(),
		FrozenDelta: p.FrozenDelta.Neg(),
		Reason:      reason,
		TaskID:      p.TaskID,
	}
}

func (p Posting) validate() error {
	if !p.Currency.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, p.Currency)
	}
	if p.Delta.IsZero() && p.FrozenDelta.IsZero() {
		return fmt.Errorf("%w: empty posting", ErrInvalidAmount)
	}
	if err := money.Validate(p.Delta.Abs()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if err := money.Validate(p.FrozenDelta.Abs()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if p.Currency == Silver && !p.FrozenDelta.IsZero() {
		return fmt.Errorf("%w: silver cannot be frozen", ErrInvalidPosting)
	}
	if p.Reason == "" {
		return fmt.Errorf("%w: reason code required", ErrInvalidPosting)
	}
	return nil
}

// applyPostings applies postings in order to a copy of acct. It fails
// without side effects if any posting is invalid or any balance would go
// negative at any step.
func applyPostings(acct Account, postings []Posting, now time.Time) (Account, []*FinanceRecord, error) {
	if len(postings) == 0 {
		return acct, nil, fmt.Errorf("%w: no postings", ErrInvalidPosting)
	}

	next := acct
	records := make([]*FinanceRecord, 0, len(postings))
	for _, p := range postings {
		if err := p.validate(); err != nil {
			return acct, nil, err
		}

		rec := &FinanceRecord{
			ID:            idgen.WithPrefix("fr_"),
			AccountID:     acct.ID,
			Currency:      p.Currency,
			Delta:         p.Delta,
			FrozenDelta:   p.FrozenDelta,
			ReasonCode:    p.Reason,
			RelatedTaskID: p.TaskID,
			CreatedAt:     now,
		}

		switch p.Currency {
		case Silver:
			next.Silver = next.Silver.Add(p.Delta)
			if next.Silver.IsNegative() {
				return acct, nil, fmt.Errorf("%w: silver %s, need %s", ErrInsufficientFunds, money.Format(acct.Silver), money.Format(p.Delta.Neg()))
			}
			rec.BalanceAfter = next.Silver
			rec.FrozenAfter = decimal.Zero
		case Deposit:
			next.Deposit = next.Deposit.Add(p.Delta)
			next.FrozenDeposit = next.FrozenDeposit.Add(p.FrozenDelta)
			if next.Deposit.IsNegative() {
				return acct, nil, fmt.Errorf("%w: deposit %s, need %s", ErrInsufficientFunds, money.Format(acct.Deposit), money.Format(p.Delta.Neg()))
			}
			if next.FrozenDeposit.IsNegative() {
				return acct, nil, fmt.Errorf("%w: frozen deposit %s, need %s", ErrInsufficientFunds, money.Format(acct.FrozenDeposit), money.Format(p.FrozenDelta.Neg()))
			}
			rec.BalanceAfter = next.Deposit
			rec.FrozenAfter = next.FrozenDeposit
		}
		records = append(records, rec)
	}

	next.Version++
	next.UpdatedAt = now
	return next, records, nil
}
