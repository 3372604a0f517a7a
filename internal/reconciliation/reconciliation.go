// Package reconciliation audits ledger balances against their finance
// records and against the deposits held by open review tasks.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/praisedesk/settlement/internal/ledger"
	"github.com/praisedesk/settlement/internal/money"
	"github.com/praisedesk/settlement/internal/reviewtask"
)

// AccountAuditor lists accounts and replays their records.
type AccountAuditor interface {
	ListAccounts(ctx context.Context, limit, offset int) ([]*ledger.Account, error)
	Audit(ctx context.Context, accountID string) (*ledger.AccountAudit, error)
}

// ExposureSource reports the deposits a merchant's open tasks hold.
type ExposureSource interface {
	Exposure(ctx context.Context, merchantID string) (*reviewtask.Exposure, error)
}

// Finding is one account that failed reconciliation.
type Finding struct {
	AccountID string   `json:"accountId"`
	Problems  []string `json:"problems"`
}

// Report summarizes a reconciliation run.
type Report struct {
	Accounts         int       `json:"accounts"`
	Records          int       `json:"records"`
	LedgerMismatches int       `json:"ledgerMismatches"`
	FrozenMismatches int       `json:"frozenMismatches"`
	EscalatedTasks   int       `json:"escalatedTasks"`
	Errors           int       `json:"errors"`
	Findings         []Finding `json:"findings,omitempty"`
	Healthy          bool      `json:"healthy"`
	DurationMs       int64     `json:"durationMs"`
	Timestamp        time.Time `json:"timestamp"`
}

const accountPageSize = 100

// Runner performs reconciliation runs and remembers the last report.
type Runner struct {
	ledger AccountAuditor
	tasks  ExposureSource
	logger *slog.Logger

	mu   sync.Mutex // serializes runs
	last *Report
}

// NewRunner creates a reconciliation runner.
func NewRunner(l AccountAuditor, tasks ExposureSource, logger *slog.Logger) *Runner {
	return &Runner{ledger: l, tasks: tasks, logger: logger}
}

// Last returns the report of the most recent run, or nil.
func (r *Runner) Last() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// RunAll audits every account. Per-account failures are counted in the
// report; only a failure to list accounts aborts the run.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	report := &Report{Timestamp: start.UTC()}

	for offset := 0; ; offset += accountPageSize {
		accounts, err := r.ledger.ListAccounts(ctx, accountPageSize, offset)
		if err != nil {
			reconcileErrors.Inc()
			return nil, fmt.Errorf("failed to list accounts: %w", err)
		}
		for _, acct := range accounts {
			r.checkAccount(ctx, acct, report)
		}
		if len(accounts) < accountPageSize {
			break
		}
	}

	report.Healthy = report.LedgerMismatches == 0 && report.FrozenMismatches == 0 && report.Errors == 0
	report.DurationMs = time.Since(start).Milliseconds()

	reconcileLedgerMismatches.Set(float64(report.LedgerMismatches))
	reconcileFrozenMismatches.Set(float64(report.FrozenMismatches))
	reconcileEscalatedTasks.Set(float64(report.EscalatedTasks))
	reconcileDuration.Observe(time.Since(start).Seconds())

	if report.Healthy {
		r.logger.Info("reconciliation passed",
			"accounts", report.Accounts, "records", report.Records, "escalated", report.EscalatedTasks)
	} else {
		r.logger.Error("reconciliation found mismatches",
			"ledger", report.LedgerMismatches, "frozen", report.FrozenMismatches, "errors", report.Errors)
	}

	r.last = report
	return report, nil
}

func (r *Runner) checkAccount(ctx context.Context, acct *ledger.Account, report *Report) {
	report.Accounts++
	var problems []string

	audit, err := r.ledger.Audit(ctx, acct.ID)
	if err != nil {
		report.Errors++
		reconcileErrors.Inc()
		r.logger.Warn("account audit failed", "account", acct.ID, "error", err)
		return
	}
	report.Records += audit.Records
	if !audit.OK() {
		report.LedgerMismatches++
		problems = append(problems, audit.Problems...)
	}

	exp, err := r.tasks.Exposure(ctx, acct.ID)
	if err != nil {
		report.Errors++
		reconcileErrors.Inc()
		r.logger.Warn("task exposure failed", "account", acct.ID, "error", err)
		return
	}
	report.EscalatedTasks += exp.Escalated
	if frozen := audit.FrozenDeposit; !frozen.Equal(exp.Frozen) {
		report.FrozenMismatches++
		problems = append(problems, frozenProblem(frozen, exp))
	}

	if len(problems) > 0 {
		report.Findings = append(report.Findings, Finding{AccountID: acct.ID, Problems: problems})
	}
}

func frozenProblem(frozen decimal.Decimal, exp *reviewtask.Exposure) string {
	return fmt.Sprintf("frozen deposit %s, %d open tasks hold %s",
		money.Format(frozen), exp.OpenTasks, money.Format(exp.Frozen))
}
