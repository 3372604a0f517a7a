package reviewtask

import (
	"context"
	"testing"

	"github.com/praisedesk/settlement/internal/payment"
)

func TestExposure_MatchesFrozenDeposit(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "m1", "100", "")
	ctx := context.Background()

	uploaded := f.uploaded(t)
	paid := f.create(t)
	if _, err := f.svc.Pay(ctx, merchant, paid.ID, payment.CashOnly); err != nil {
		t.Fatalf("Pay: %v", err)
	}
	f.create(t) // unpaid drafts hold nothing

	cancelled := f.create(t)
	if _, err := f.svc.Pay(ctx, merchant, cancelled.ID, payment.CashOnly); err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, merchant, cancelled.ID, "changed plans"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if _, err := f.svc.Escalate(ctx, uploaded.ID); err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	exp, err := f.svc.Exposure(ctx, "m1")
	if err != nil {
		t.Fatalf("Exposure: %v", err)
	}
	if exp.OpenTasks != 2 || exp.Escalated != 1 || !exp.Frozen.Equal(d("32")) {
		t.Fatalf("exposure = %+v, want 2 open, 1 escalated, 32 frozen", exp)
	}
	f.assertBalances(t, "m1", "68", "32", "0")
}

func TestExposure_NoTasks(t *testing.T) {
	f := newFixture(t)
	exp, err := f.svc.Exposure(context.Background(), "b1")
	if err != nil {
		t.Fatalf("Exposure: %v", err)
	}
	if exp.OpenTasks != 0 || !exp.Frozen.IsZero() {
		t.Fatalf("exposure = %+v, want empty", exp)
	}
}
