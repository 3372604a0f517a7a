package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/praisedesk/settlement/internal/money"
	"github.com/praisedesk/settlement/internal/syncutil"
	"github.com/praisedesk/settlement/internal/traces"
)

const auditPageSize = 200

// AccountAudit is the outcome of replaying an account's finance records
// from zero and comparing the result with its stored balances.
type AccountAudit struct {
	AccountID     string          `json:"accountId"`
	Records       int             `json:"records"`
	Deposit       decimal.Decimal `json:"deposit"`
	FrozenDeposit decimal.Decimal `json:"frozenDeposit"`
	Silver        decimal.Decimal `json:"silver"`
	Problems      []string        `json:"problems,omitempty"`
}

// OK reports whether the replay matched every record and the account.
func (a *AccountAudit) OK() bool {
	return len(a.Problems) == 0
}

func (a *AccountAudit) problem(format string, args ...any) {
	a.Problems = append(a.Problems, fmt.Sprintf(format, args...))
}

// ListAccounts pages through all accounts ordered by id.
func (l *Ledger) ListAccounts(ctx context.Context, limit, offset int) ([]*Account, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return l.store.ListAccounts(ctx, limit, offset)
}

// Audit replays every record of an account under its lock, so no posting
// lands between reading the balances and reading the history.
func (l *Ledger) Audit(ctx context.Context, accountID string) (*AccountAudit, error) {
	ctx, span := traces.StartSpan(ctx, "ledger.Audit", traces.AccountID(accountID))
	defer span.End()

	unlock, err := l.locks.LockContext(ctx, accountID)
	if err != nil {
		if errors.Is(err, syncutil.ErrLockTimeout) {
			return nil, fmt.Errorf("%w: account %s is busy", ErrConcurrentModification, accountID)
		}
		return nil, err
	}
	defer unlock()

	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var newestFirst []*FinanceRecord
	for offset := 0; ; offset += auditPageSize {
		page, err := l.store.ListRecords(ctx, accountID, auditPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to read records of %s: %w", accountID, err)
		}
		newestFirst = append(newestFirst, page...)
		if len(page) < auditPageSize {
			break
		}
	}

	audit := replay(accountID, newestFirst)
	if !audit.Deposit.Equal(acct.Deposit) || !audit.FrozenDeposit.Equal(acct.FrozenDeposit) || !audit.Silver.Equal(acct.Silver) {
		audit.problem("balances deposit %s frozen %s silver %s, records add up to %s/%s/%s",
			money.Format(acct.Deposit), money.Format(acct.FrozenDeposit), money.Format(acct.Silver),
			money.Format(audit.Deposit), money.Format(audit.FrozenDeposit), money.Format(audit.Silver))
	}
	return audit, nil
}

// replay walks records oldest first, checking each recorded running
// balance against the sum of the deltas before it.
func replay(accountID string, newestFirst []*FinanceRecord) *AccountAudit {
	audit := &AccountAudit{
		AccountID:     accountID,
		Records:       len(newestFirst),
		Deposit:       decimal.Zero,
		FrozenDeposit: decimal.Zero,
		Silver:        decimal.Zero,
	}

	for i := len(newestFirst) - 1; i >= 0; i-- {
		rec := newestFirst[i]
		switch rec.Currency {
		case Deposit:
			audit.Deposit = audit.Deposit.Add(rec.Delta)
			audit.FrozenDeposit = audit.FrozenDeposit.Add(rec.FrozenDelta)
			if !audit.Deposit.Equal(rec.BalanceAfter) || !audit.FrozenDeposit.Equal(rec.FrozenAfter) {
				audit.problem("record %s: deposit %s frozen %s recorded, replay gives %s/%s",
					rec.ID, money.Format(rec.BalanceAfter), money.Format(rec.FrozenAfter),
					money.Format(audit.Deposit), money.Format(audit.FrozenDeposit))
			}
		case Silver:
			audit.Silver = audit.Silver.Add(rec.Delta)
			if !rec.FrozenDelta.IsZero() {
				audit.problem("record %s: silver cannot be frozen", rec.ID)
			}
			if !audit.Silver.Equal(rec.BalanceAfter) {
				audit.problem("record %s: silver %s recorded, replay gives %s",
					rec.ID, money.Format(rec.BalanceAfter), money.Format(audit.Silver))
			}
		default:
			audit.problem("record %s: unknown currency %q", rec.ID, rec.Currency)
		}

		if audit.Deposit.IsNegative() || audit.FrozenDeposit.IsNegative() || audit.Silver.IsNegative() {
			audit.problem("record %s: balance went negative", rec.ID)
		}
	}
	return audit
}
