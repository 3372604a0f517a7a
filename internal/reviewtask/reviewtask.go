// Package reviewtask runs the lifecycle of paid review tasks.
//
// Flow:
//  1. Merchant creates a task → priced server-side, state unpaid
//  2. Merchant pays → silver leg spent, deposit leg frozen
//  3. Admin examines → approved (or rejected and refunded)
//  4. Buyer uploads proof of the review
//  5. Merchant confirms → frozen leg settled, buyer credited its commission
//
// Cancellation and refunds are possible from the states listed in the
// transition table; every one of them returns the paid legs exactly.
package reviewtask

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/praisedesk/settlement/internal/ledger"
	"github.com/praisedesk/settlement/internal/payment"
	"github.com/praisedesk/settlement/internal/pricing"
)

var (
	ErrTaskNotFound      = errors.New("review task not found")
	ErrInvalidTransition = errors.New("invalid transition for task state")
	ErrUnauthorized      = errors.New("not authorized for this task operation")
	ErrInvalidInput      = errors.New("invalid input")

	// ErrConcurrentModification is shared with the ledger so callers need
	// a single retry check.
	ErrConcurrentModification = ledger.ErrConcurrentModification
)

// DefaultCommissionRatio is the share of a task's money paid to the buyer.
var DefaultCommissionRatio = decimal.RequireFromString("0.5")

// MaxProofRefs bounds the evidence a buyer can attach.
const MaxProofRefs = 20

// Task is a review task and its settlement state.
type Task struct {
	ID              string           `json:"id"`
	TaskNumber      string           `json:"taskNumber"`
	MerchantID      string           `json:"merchantId"`
	BuyerID         string           `json:"buyerId"`
	ShopID          string           `json:"shopId,omitempty"`
	PurchaseOrderID string           `json:"purchaseOrderId,omitempty"`
	Pricing         pricing.Input    `json:"pricing"`
	Money           decimal.Decimal  `json:"money"`
	BuyerCommission decimal.Decimal  `json:"buyerCommission"`
	DepositTotal    decimal.Decimal  `json:"depositTotal"`
	State           State            `json:"state"`
	Strategy        payment.Strategy `json:"strategy,omitempty"`
	PaidSilver      decimal.Decimal  `json:"paidSilver"`
	PaidDeposit     decimal.Decimal  `json:"paidDeposit"`
	Proof           []string         `json:"proof,omitempty"`
	Remark          string           `json:"remark,omitempty"`
	CancelReason    string           `json:"cancelReason,omitempty"`
	PaidAt          *time.Time       `json:"paidAt,omitempty"`
	ExaminedAt      *time.Time       `json:"examinedAt,omitempty"`
	UploadedAt      *time.Time       `json:"uploadedAt,omitempty"`
	ConfirmedAt     *time.Time       `json:"confirmedAt,omitempty"`
	BuyerRejectedAt *time.Time       `json:"buyerRejectedAt,omitempty"`
	CancelledAt     *time.Time       `json:"cancelledAt,omitempty"`
	EscalatedAt     *time.Time       `json:"escalatedAt,omitempty"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// Paid returns the allocation charged at pay time.
func (t *Task) Paid() payment.Allocation {
	return payment.Allocation{SilverLeg: t.PaidSilver, DepositLeg: t.PaidDeposit}
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Proof = append([]string(nil), t.Proof...)
	cp.Pricing.Orders = append([]pricing.OrderOption(nil), t.Pricing.Orders...)
	cp.Pricing.Goods = append([]pricing.GoodsLine(nil), t.Pricing.Goods...)
	for _, ts := range []**time.Time{&cp.PaidAt, &cp.ExaminedAt, &cp.UploadedAt, &cp.ConfirmedAt, &cp.BuyerRejectedAt, &cp.CancelledAt, &cp.EscalatedAt} {
		if *ts != nil {
			v := **ts
			*ts = &v
		}
	}
	return &cp
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	MerchantID string
	BuyerID    string
	State      State
	Limit      int
	Offset     int
}

// Store persists review tasks.
type Store interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Update persists t if its stored version equals t.Version and bumps
	// the version. A mismatch fails with ErrConcurrentModification.
	Update(ctx context.Context, t *Task) error
	List(ctx context.Context, f Filter) ([]*Task, error)
	// ListStale returns unescalated tasks in state whose UploadedAt is before the cutoff.
	ListStale(ctx context.Context, state State, before time.Time, limit int) ([]*Task, error)
}

// LedgerService is the subset of the ledger the lifecycle drives.
type LedgerService interface {
	Execute(ctx context.Context, accountID string, plan ledger.PlanFunc) ([]*ledger.FinanceRecord, error)
	GetAccount(ctx context.Context, id string) (*ledger.Account, error)
}

// TaskEvent describes a completed transition.
type TaskEvent struct {
	Type    string    `json:"type"`
	Event   Event     `json:"event"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	ActorID string    `json:"actorId"`
	Task    *Task     `json:"task"`
	At      time.Time `json:"at"`
}

// EventEmitter receives task events. Implementations must not block.
type EventEmitter interface {
	EmitTaskEvent(ev *TaskEvent)
}

// CreateRequest contains the parameters for creating a task.
type CreateRequest struct {
	MerchantID      string        `json:"merchantId"`
	BuyerID         string        `json:"buyerId" binding:"required"`
	ShopID          string        `json:"shopId"`
	PurchaseOrderID string        `json:"purchaseOrderId"`
	Pricing         pricing.Input `json:"pricing"`
}
