package reviewtask

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/praisedesk/settlement/internal/idgen"
	"github.com/praisedesk/settlement/internal/ledger"
	"github.com/praisedesk/settlement/internal/logging"
	"github.com/praisedesk/settlement/internal/money"
	"github.com/praisedesk/settlement/internal/payment"
	"github.com/praisedesk/settlement/internal/pricing"
	"github.com/praisedesk/settlement/internal/retry"
	"github.com/praisedesk/settlement/internal/syncutil"
	"github.com/praisedesk/settlement/internal/traces"
)

// DefaultLockTimeout bounds how long a transition waits for its task.
const DefaultLockTimeout = 5 * time.Second

// A reversal that loses the account lock race is retried a few times
// before it is counted as a compensation failure.
const (
	compensationAttempts = 3
	compensationBackoff  = 20 * time.Millisecond
)

// Service implements the review-task lifecycle.
type Service struct {
	store  Store
	ledger LedgerService
	calc   *pricing.Calculator
	events EventEmitter
	ratio  decimal.Decimal
	locks  *syncutil.ContextShardedMutex // per-task; separate from the ledger's account locks
	now    func() time.Time
}

// NewService creates a new review-task service.
func NewService(store Store, ledger LedgerService, calc *pricing.Calculator) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
		calc:   calc,
		ratio:  DefaultCommissionRatio,
		locks:  syncutil.NewContextShardedMutex(DefaultLockTimeout),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithEvents adds a task event listener.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// WithCommissionRatio sets the buyer's share of task money. The ratio
// must lie in [0, 1].
func (s *Service) WithCommissionRatio(r decimal.Decimal) *Service {
	if !r.IsNegative() && r.LessThanOrEqual(decimal.NewFromInt(1)) {
		s.ratio = r
	}
	return s
}

// WithLockTimeout sets how long a transition waits for a busy task.
func (s *Service) WithLockTimeout(d time.Duration) *Service {
	if d > 0 {
		s.locks = syncutil.NewContextShardedMutex(d)
	}
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// PriceTask prices a configuration without creating anything.
func (s *Service) PriceTask(in pricing.Input) (*pricing.FeePlan, error) {
	return s.calc.Price(in)
}

// BuyerCommission returns the buyer payout for a task's money.
func (s *Service) BuyerCommission(m decimal.Decimal) decimal.Decimal {
	return money.Floor(m.Mul(s.ratio))
}

// Create prices the request and stores a new unpaid task.
func (s *Service) Create(ctx context.Context, actor Actor, req CreateRequest) (*Task, error) {
	ctx, span := traces.StartSpan(ctx, "reviewtask.Create", traces.ActorID(actor.ID))
	defer span.End()

	switch actor.Role {
	case RoleMerchant:
		if req.MerchantID == "" {
			req.MerchantID = actor.ID
		}
		if req.MerchantID != actor.ID {
			return nil, fmt.Errorf("%w: merchants create tasks for themselves", ErrUnauthorized)
		}
	case RoleAdmin:
		if req.MerchantID == "" {
			return nil, fmt.Errorf("%w: merchantId required", ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: only merchants create tasks", ErrUnauthorized)
	}

	req.BuyerID = strings.TrimSpace(req.BuyerID)
	if req.BuyerID == "" {
		return nil, fmt.Errorf("%w: buyerId required", ErrInvalidInput)
	}
	if req.BuyerID == req.MerchantID {
		return nil, fmt.Errorf("%w: buyer and merchant must differ", ErrInvalidInput)
	}

	plan, err := s.calc.Price(req.Pricing)
	if err != nil {
		return nil, err
	}

	for _, id := range []string{req.MerchantID, req.BuyerID} {
		if _, err := s.ledger.GetAccount(ctx, id); err != nil {
			return nil, err
		}
	}

	now := s.now()
	task := &Task{
		ID:              idgen.WithPrefix("rt_"),
		TaskNumber:      idgen.TaskNumber(now),
		MerchantID:      req.MerchantID,
		BuyerID:         req.BuyerID,
		ShopID:          req.ShopID,
		PurchaseOrderID: req.PurchaseOrderID,
		Pricing:         req.Pricing,
		Money:           plan.CommissionTotal,
		BuyerCommission: s.BuyerCommission(plan.CommissionTotal),
		DepositTotal:    plan.DepositTotal,
		State:           StateUnpaid,
		PaidSilver:      decimal.Zero,
		PaidDeposit:     decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create review task: %w", err)
	}

	TransitionsTotal.WithLabelValues("create", "ok").Inc()
	logging.L(ctx).Info("review task created",
		"taskId", task.ID, "merchant", task.MerchantID, "buyer", task.BuyerID, "money", money.Format(task.Money))
	s.emit(&TaskEvent{Type: "task.created", To: StateUnpaid, ActorID: actor.ID, Task: task.Clone(), At: now})
	return task, nil
}

// Reprice recomputes a draft's fees from a new configuration.
func (s *Service) Reprice(ctx context.Context, actor Actor, id string, in pricing.Input) (*Task, error) {
	return s.fire(ctx, id, actor, EventReprice, func(ctx context.Context, t *Task) (undoFunc, error) {
		plan, err := s.calc.Price(in)
		if err != nil {
			return nil, err
		}
		t.Pricing = in
		t.Money = plan.CommissionTotal
		t.BuyerCommission = s.BuyerCommission(plan.CommissionTotal)
		t.DepositTotal = plan.DepositTotal
		return nil, nil
	})
}

// Pay charges the task's money to the merchant. The split is computed
// against the merchant's locked balance; the deposit leg stays frozen
// until the task settles or is refunded.
func (s *Service) Pay(ctx context.Context, actor Actor, id string, strategy payment.Strategy) (*Task, error) {
	strategy, err := payment.ParseStrategy(string(strategy))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.fire(ctx, id, actor, EventPay, func(ctx context.Context, t *Task) (undoFunc, error) {
		var alloc payment.Allocation
		if t.Money.IsPositive() {
			plan := payment.Plan(t.Money, strategy, ledger.ReasonTaskPayment, t.ID, &alloc)
			if _, err := s.ledger.Execute(ctx, t.MerchantID, plan); err != nil {
				return nil, err
			}
		}
		t.Strategy = strategy
		t.PaidSilver = alloc.SilverLeg
		t.PaidDeposit = alloc.DepositLeg
		return s.undoPostings(t.MerchantID, alloc.RefundPostings(ledger.ReasonReversal, t.ID)), nil
	})
}

// Examine records the admin audit. Rejection refunds the merchant.
func (s *Service) Examine(ctx context.Context, actor Actor, id string, approve bool, remark string) (*Task, error) {
	if approve {
		return s.fire(ctx, id, actor, EventApprove, func(ctx context.Context, t *Task) (undoFunc, error) {
			t.Remark = remark
			return nil, nil
		})
	}
	return s.fire(ctx, id, actor, EventReject, func(ctx context.Context, t *Task) (undoFunc, error) {
		t.Remark = remark
		return s.refund(ctx, t)
	})
}

// UploadProof attaches the buyer's evidence references.
func (s *Service) UploadProof(ctx context.Context, actor Actor, id string, proof []string) (*Task, error) {
	refs := make([]string, 0, len(proof))
	for _, p := range proof {
		if p = strings.TrimSpace(p); p != "" {
			refs = append(refs, p)
		}
	}
	if len(refs) == 0 || len(refs) > MaxProofRefs {
		return nil, fmt.Errorf("%w: between 1 and %d proof references required", ErrInvalidInput, MaxProofRefs)
	}
	return s.fire(ctx, id, actor, EventUpload, func(ctx context.Context, t *Task) (undoFunc, error) {
		t.Proof = refs
		return nil, nil
	})
}

// BuyerReject lets the buyer abandon the task; the merchant is refunded.
func (s *Service) BuyerReject(ctx context.Context, actor Actor, id, reason string) (*Task, error) {
	return s.fire(ctx, id, actor, EventBuyerReject, func(ctx context.Context, t *Task) (undoFunc, error) {
		t.CancelReason = reason
		return s.refund(ctx, t)
	})
}

// Confirm settles the task: the merchant's frozen leg is consumed, then
// the buyer is credited its commission. The buyer credit only runs after
// the merchant leg succeeded.
func (s *Service) Confirm(ctx context.Context, actor Actor, id string) (*Task, error) {
	return s.fire(ctx, id, actor, EventConfirm, func(ctx context.Context, t *Task) (undoFunc, error) {
		var merchantLeg, buyerLeg []ledger.Posting
		if t.PaidDeposit.IsPositive() {
			merchantLeg = []ledger.Posting{ledger.ConsumeFrozenPosting(t.PaidDeposit, ledger.ReasonTaskSettlement, t.ID)}
			if _, err := s.ledger.Execute(ctx, t.MerchantID, fixed(merchantLeg)); err != nil {
				return nil, fmt.Errorf("failed to settle merchant funds: %w", err)
			}
		}

		if t.BuyerCommission.IsPositive() {
			buyerLeg = []ledger.Posting{ledger.CreditPosting(ledger.Deposit, t.BuyerCommission, ledger.ReasonBuyerCommission, t.ID)}
			if _, err := s.ledger.Execute(ctx, t.BuyerID, fixed(buyerLeg)); err != nil {
				s.compensate(ctx, t, s.undoPostings(t.MerchantID, reverse(merchantLeg)))
				return nil, fmt.Errorf("failed to credit buyer commission: %w", err)
			}
		}

		return chain(
			s.undoPostings(t.BuyerID, reverse(buyerLeg)),
			s.undoPostings(t.MerchantID, reverse(merchantLeg)),
		), nil
	})
}

// Cancel withdraws the task on the merchant's behalf and refunds anything paid.
func (s *Service) Cancel(ctx context.Context, actor Actor, id, reason string) (*Task, error) {
	return s.fire(ctx, id, actor, EventCancel, func(ctx context.Context, t *Task) (undoFunc, error) {
		t.CancelReason = reason
		return s.refund(ctx, t)
	})
}

// RefundWithoutConfirm lets an admin close an uploaded task the merchant
// never confirmed. Nothing has been consumed before completion, so both
// paid legs are returned.
func (s *Service) RefundWithoutConfirm(ctx context.Context, actor Actor, id, reason string) (*Task, error) {
	return s.fire(ctx, id, actor, EventRefund, func(ctx context.Context, t *Task) (undoFunc, error) {
		t.CancelReason = reason
		return s.refund(ctx, t)
	})
}

// Escalate flags a task left in uploaded for admin attention. It changes
// neither state nor balances and fires at most once per task.
func (s *Service) Escalate(ctx context.Context, id string) (*Task, error) {
	return s.fire(ctx, id, System, EventEscalate, func(ctx context.Context, t *Task) (undoFunc, error) {
		return nil, nil
	})
}

// Get returns a task visible to actor.
func (s *Service) Get(ctx context.Context, actor Actor, id string) (*Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(t, actor) {
		return nil, ErrUnauthorized
	}
	return t, nil
}

// List returns tasks visible to actor. Merchants and buyers only see
// their own tasks.
func (s *Service) List(ctx context.Context, actor Actor, f Filter) ([]*Task, error) {
	switch actor.Role {
	case RoleMerchant:
		f.MerchantID = actor.ID
	case RoleBuyer:
		f.BuyerID = actor.ID
	case RoleAdmin:
	default:
		return nil, ErrUnauthorized
	}
	if f.State != "" && !f.State.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidInput, f.State)
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.List(ctx, f)
}

// undoFunc reverses the ledger side of a step whose task update failed.
type undoFunc func(ctx context.Context) error

// fire runs one event through the gate, applies step and persists the
// result under the task lock. step performs any ledger movement and
// returns how to undo it; if step fails nothing has been applied.
func (s *Service) fire(ctx context.Context, id string, actor Actor, ev Event, step func(ctx context.Context, t *Task) (undoFunc, error)) (*Task, error) {
	ctx, span := traces.StartSpan(ctx, "reviewtask."+string(ev), traces.TaskID(id), traces.ActorID(actor.ID), traces.Event(string(ev)))
	defer span.End()
	done := observeTransition(ev)

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		if errors.Is(err, syncutil.ErrLockTimeout) {
			err = fmt.Errorf("%w: task %s is busy", ErrConcurrentModification, id)
		}
		done(err)
		return nil, err
	}
	defer unlock()

	task, err := s.store.Get(ctx, id)
	if err != nil {
		done(err)
		return nil, err
	}

	tr, err := gate(task, ev, actor)
	if err != nil {
		done(err)
		return nil, err
	}

	from := task.State
	undo, err := step(ctx, task)
	if err != nil {
		span.RecordError(err)
		done(err)
		return nil, err
	}

	now := s.now()
	task.State = tr.to
	if tr.stamp != nil {
		ts := now
		*tr.stamp(task) = &ts
	}
	task.UpdatedAt = now

	if err := s.persist(ctx, task, undo); err != nil {
		span.RecordError(err)
		done(err)
		return nil, err
	}
	done(nil)

	logging.L(ctx).Info("review task transition",
		"taskId", task.ID, "event", ev, "from", from, "to", task.State, "actor", actor.ID)
	s.emit(&TaskEvent{Type: "task." + string(ev), Event: ev, From: from, To: task.State, ActorID: actor.ID, Task: task.Clone(), At: now})
	return task, nil
}

// persist writes the task, retrying once. If the write still fails the
// ledger side is undone; a failed undo is logged for manual resolution.
func (s *Service) persist(ctx context.Context, t *Task, undo undoFunc) error {
	err := s.store.Update(ctx, t)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrConcurrentModification) {
		if retryErr := s.store.Update(ctx, t); retryErr == nil {
			return nil
		}
	}
	s.compensate(ctx, t, undo)
	return fmt.Errorf("failed to update review task %s: %w", t.ID, err)
}

func (s *Service) compensate(ctx context.Context, t *Task, undo undoFunc) {
	if undo == nil {
		return
	}
	// Reversal must outlive a cancelled request.
	ctx = context.WithoutCancel(ctx)
	err := retry.Do(ctx, compensationAttempts, compensationBackoff, func() error {
		return retry.Classify(undo(ctx), ledger.ErrConcurrentModification)
	})
	if err != nil {
		CompensationFailuresTotal.Inc()
		logging.L(ctx).Error("CRITICAL: review task ledger effect could not be reversed",
			"taskId", t.ID, "merchant", t.MerchantID, "buyer", t.BuyerID,
			"paidSilver", money.Format(t.PaidSilver), "paidDeposit", money.Format(t.PaidDeposit),
			"error", err)
	}
}

// refund returns both paid legs to the merchant.
func (s *Service) refund(ctx context.Context, t *Task) (undoFunc, error) {
	paid := t.Paid()
	postings := paid.RefundPostings(ledger.ReasonTaskRefund, t.ID)
	if len(postings) == 0 {
		return nil, nil
	}
	if _, err := s.ledger.Execute(ctx, t.MerchantID, fixed(postings)); err != nil {
		return nil, fmt.Errorf("failed to refund merchant: %w", err)
	}
	return s.undoPostings(t.MerchantID, paid.Postings(ledger.ReasonReversal, t.ID)), nil
}

func (s *Service) undoPostings(accountID string, postings []ledger.Posting) undoFunc {
	if len(postings) == 0 {
		return nil
	}
	return func(ctx context.Context) error {
		_, err := s.ledger.Execute(ctx, accountID, fixed(postings))
		return err
	}
}

func (s *Service) emit(ev *TaskEvent) {
	if s.events != nil {
		s.events.EmitTaskEvent(ev)
	}
}

func fixed(postings []ledger.Posting) ledger.PlanFunc {
	return func(ledger.Account) ([]ledger.Posting, error) {
		return postings, nil
	}
}

func reverse(postings []ledger.Posting) []ledger.Posting {
	out := make([]ledger.Posting, 0, len(postings))
	for _, p := range postings {
		out = append(out, p.Reverse(ledger.ReasonReversal))
	}
	return out
}

// chain runs undo steps in order and stops at the first failure.
func chain(steps ...undoFunc) undoFunc {
	return func(ctx context.Context) error {
		for _, step := range steps {
			if step == nil {
				continue
			}
			if err := step(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
