// Package ledger owns the dual-currency account balances.
//
// Every account holds three balances:
//   - deposit: cash-equivalent funds, available for any charge
//   - frozen deposit: deposit earmarked against an in-flight task
//   - silver: non-withdrawable points usable for commission only
//
// Balances change only through postings applied by the Ledger. Each
// posting produces exactly one append-only FinanceRecord.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/praisedesk/settlement/internal/money"
	"github.com/praisedesk/settlement/internal/syncutil"
	"github.com/praisedesk/settlement/internal/traces"
)

var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidCurrency        = errors.New("invalid currency")
	ErrInvalidPosting         = errors.New("invalid posting")
	ErrConcurrentModification = errors.New("concurrent modification, retry")
	ErrAccountNotFound        = errors.New("account not found")
	ErrAccountExists          = errors.New("account already exists")
)

// Currency names one of the two balances a posting can move.
type Currency string

const (
	Deposit Currency = "deposit"
	Silver  Currency = "silver"
)

// Valid reports whether c is a known currency.
func (c Currency) Valid() bool {
	return c == Deposit || c == Silver
}

// Reason codes recorded on finance records.
const (
	ReasonRecharge        = "recharge"
	ReasonAdjustment      = "adjustment"
	ReasonTaskPayment     = "task_payment"
	ReasonTaskRefund      = "task_refund"
	ReasonTaskSettlement  = "task_settlement"
	ReasonBuyerCommission = "buyer_commission"
	ReasonReversal        = "reversal"
)

// Account is a snapshot of one holder's balances.
type Account struct {
	ID            string          `json:"id"`
	Deposit       decimal.Decimal `json:"deposit"`
	FrozenDeposit decimal.Decimal `json:"frozenDeposit"`
	Silver        decimal.Decimal `json:"silver"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Available returns the spendable balance of a currency.
func (a Account) Available(c Currency) decimal.Decimal {
	if c == Silver {
		return a.Silver
	}
	return a.Deposit
}

// FinanceRecord is an immutable audit entry for one applied posting.
type FinanceRecord struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"accountId"`
	Currency      Currency        `json:"currency"`
	Delta         decimal.Decimal `json:"delta"`
	FrozenDelta   decimal.Decimal `json:"frozenDelta"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	FrozenAfter   decimal.Decimal `json:"frozenAfter"`
	ReasonCode    string          `json:"reasonCode"`
	RelatedTaskID string          `json:"relatedTaskId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// PlanFunc derives the postings to apply from the locked account snapshot.
// Returning an error aborts the operation with no mutation.
type PlanFunc func(acct Account) ([]Posting, error)

// Store persists accounts and finance records.
type Store interface {
	CreateAccount(ctx context.Context, id string) (*Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
	// Commit reads the account, calls plan with it and persists the new
	// balances together with one record per posting as a single unit.
	Commit(ctx context.Context, id string, plan PlanFunc) (*Account, []*FinanceRecord, error)
	ListRecords(ctx context.Context, accountID string, limit, offset int) ([]*FinanceRecord, error)
	// ListAccounts pages through accounts ordered by id.
	ListAccounts(ctx context.Context, limit, offset int) ([]*Account, error)
}

// EventEmitter receives every record the ledger writes. Implementations
// must not block.
type EventEmitter interface {
	EmitFinanceRecord(rec *FinanceRecord)
}

// DefaultLockTimeout bounds how long an operation waits for an account.
const DefaultLockTimeout = 5 * time.Second

// Ledger serializes and applies postings per account.
type Ledger struct {
	store  Store
	locks  *syncutil.ContextShardedMutex
	events EventEmitter
}

// New creates a ledger. A non-positive lockTimeout uses DefaultLockTimeout.
func New(store Store, lockTimeout time.Duration) *Ledger {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Ledger{
		store: store,
		locks: syncutil.NewContextShardedMutex(lockTimeout),
	}
}

// WithEvents adds a record listener.
func (l *Ledger) WithEvents(e EventEmitter) *Ledger {
	l.events = e
	return l
}

// OpenAccount creates an account with zero balances.
func (l *Ledger) OpenAccount(ctx context.Context, id string) (*Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty account id", ErrInvalidPosting)
	}
	defer observeOp("open_account")()
	return l.store.CreateAccount(ctx, id)
}

// GetAccount returns the current balances of an account.
func (l *Ledger) GetAccount(ctx context.Context, id string) (*Account, error) {
	return l.store.GetAccount(ctx, id)
}

// History returns the newest records of an account first.
func (l *Ledger) History(ctx context.Context, accountID string, limit, offset int) ([]*FinanceRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return l.store.ListRecords(ctx, accountID, limit, offset)
}

// Execute applies the postings returned by plan atomically under the
// account lock. Either every posting is applied or none is.
func (l *Ledger) Execute(ctx context.Context, accountID string, plan PlanFunc) ([]*FinanceRecord, error) {
	ctx, span := traces.StartSpan(ctx, "ledger.Execute", traces.AccountID(accountID))
	defer span.End()
	defer observeOp("execute")()

	unlock, err := l.locks.LockContext(ctx, accountID)
	if err != nil {
		if errors.Is(err, syncutil.ErrLockTimeout) {
			return nil, fmt.Errorf("%w: account %s is busy", ErrConcurrentModification, accountID)
		}
		return nil, err
	}
	defer unlock()

	_, records, err := l.store.Commit(ctx, accountID, plan)
	if err != nil {
		span.RecordError(err)
		observeRejection(err)
		return nil, err
	}

	for _, rec := range records {
		LedgerRecordsTotal.WithLabelValues(string(rec.Currency), rec.ReasonCode).Inc()
		if l.events != nil {
			l.events.EmitFinanceRecord(rec)
		}
	}
	return records, nil
}

// Transfer changes the available balance of one currency by delta.
// A negative delta is a debit.
func (l *Ledger) Transfer(ctx context.Context, accountID string, currency Currency, delta decimal.Decimal, reason, taskID string) (*FinanceRecord, error) {
	if delta.IsZero() {
		return nil, ErrInvalidAmount
	}
	return l.single(ctx, accountID, Posting{Currency: currency, Delta: delta, Reason: reason, TaskID: taskID})
}

// Freeze moves amount from deposit to frozen deposit.
func (l *Ledger) Freeze(ctx context.Context, accountID string, amount decimal.Decimal, reason, taskID string) (*FinanceRecord, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return l.single(ctx, accountID, FreezePosting(amount, reason, taskID))
}

// Unfreeze moves amount from frozen deposit back to deposit.
func (l *Ledger) Unfreeze(ctx context.Context, accountID string, amount decimal.Decimal, reason, taskID string) (*FinanceRecord, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return l.single(ctx, accountID, UnfreezePosting(amount, reason, taskID))
}

// ConsumeFrozen removes amount from frozen deposit for good.
func (l *Ledger) ConsumeFrozen(ctx context.Context, accountID string, amount decimal.Decimal, reason, taskID string) (*FinanceRecord, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return l.single(ctx, accountID, ConsumeFrozenPosting(amount, reason, taskID))
}

func (l *Ledger) single(ctx context.Context, accountID string, p Posting) (*FinanceRecord, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	records, err := l.Execute(ctx, accountID, func(Account) ([]Posting, error) {
		return []Posting{p}, nil
	})
	if err != nil {
		return nil, err
	}
	return records[0], nil
}

// ParseCurrency validates a currency name from user input.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
	return c, nil
}

// ParseAmount parses a positive money amount from user input.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := money.Parse(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}
