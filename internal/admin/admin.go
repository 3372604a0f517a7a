// Package admin provides operator endpoints for checking settlement health.
package admin

import (
	"context"

	"github.com/praisedesk/settlement/internal/ledger"
	"github.com/praisedesk/settlement/internal/reconciliation"
	"github.com/praisedesk/settlement/internal/reviewtask"
)

// Reconciler runs reconciliation on demand and remembers the last report.
type Reconciler interface {
	RunAll(ctx context.Context) (*reconciliation.Report, error)
	Last() *reconciliation.Report
}

// Auditor exposes account listing and per-account record replay.
type Auditor interface {
	ListAccounts(ctx context.Context, limit, offset int) ([]*ledger.Account, error)
	Audit(ctx context.Context, accountID string) (*ledger.AccountAudit, error)
}

// ExposureSource reports what a merchant's open tasks keep frozen.
type ExposureSource interface {
	Exposure(ctx context.Context, merchantID string) (*reviewtask.Exposure, error)
}
