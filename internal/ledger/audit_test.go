package ledger

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestAudit_CleanHistory(t *testing.T) {
	l := newTestLedger(t, "m1")
	ctx := context.Background()
	fund(t, l, "m1", "100", "10")

	if _, err := l.Freeze(ctx, "m1", d("16"), ReasonTaskPayment, "rt_1"); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if _, err := l.ConsumeFrozen(ctx, "m1", d("6"), ReasonTaskSettlement, "rt_1"); err != nil {
		t.Fatalf("ConsumeFrozen: %v", err)
	}
	if _, err := l.Transfer(ctx, "m1", Silver, d("-4"), ReasonTaskPayment, "rt_2"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	audit, err := l.Audit(ctx, "m1")
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if !audit.OK() {
		t.Fatalf("expected clean audit, got %v", audit.Problems)
	}
	if audit.Records != 5 {
		t.Errorf("Records = %d, want 5", audit.Records)
	}
	if !audit.Deposit.Equal(d("84")) || !audit.FrozenDeposit.Equal(d("10")) || !audit.Silver.Equal(d("6")) {
		t.Errorf("replayed %s/%s/%s, want 84/10/6", audit.Deposit, audit.FrozenDeposit, audit.Silver)
	}
}

func TestAudit_PagesThroughLongHistory(t *testing.T) {
	l := newTestLedger(t, "m1")
	for i := 0; i < auditPageSize+5; i++ {
		fund(t, l, "m1", "1", "")
	}

	audit, err := l.Audit(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if !audit.OK() || audit.Records != auditPageSize+5 {
		t.Fatalf("audit = %d records, problems %v", audit.Records, audit.Problems)
	}
}

func TestAudit_DetectsDrift(t *testing.T) {
	store := NewMemoryStore()
	l := New(store, time.Second)
	ctx := context.Background()
	if _, err := l.OpenAccount(ctx, "m1"); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	fund(t, l, "m1", "50", "")

	store.accounts["m1"].Deposit = d("60")

	audit, err := l.Audit(ctx, "m1")
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if audit.OK() || !strings.Contains(audit.Problems[0], "records add up to 50.00/0.00/0.00") {
		t.Fatalf("expected a balance mismatch, got %v", audit.Problems)
	}
}

func TestAudit_DetectsBrokenRunningBalance(t *testing.T) {
	store := NewMemoryStore()
	l := New(store, time.Second)
	ctx := context.Background()
	if _, err := l.OpenAccount(ctx, "m1"); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	fund(t, l, "m1", "50", "5")

	store.records["m1"][1].BalanceAfter = d("7")

	audit, err := l.Audit(ctx, "m1")
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(audit.Problems) != 1 || !strings.Contains(audit.Problems[0], "silver 7.00 recorded") {
		t.Fatalf("expected one record problem, got %v", audit.Problems)
	}
}

func TestAudit_UnknownAccount(t *testing.T) {
	l := newTestLedger(t)
	if _, err := l.Audit(context.Background(), "ghost"); err != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestListAccounts_OrderedAndPaged(t *testing.T) {
	l := newTestLedger(t, "c", "a", "b")
	ctx := context.Background()

	first, err := l.ListAccounts(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(first) != 2 || first[0].ID != "a" || first[1].ID != "b" {
		t.Fatalf("first page = %v", first)
	}

	rest, err := l.ListAccounts(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != "c" {
		t.Fatalf("second page = %v", rest)
	}
}
