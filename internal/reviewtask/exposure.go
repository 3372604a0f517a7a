package reviewtask

import (
	"context"

	"github.com/shopspring/decimal"
)

// frozenStates hold the merchant's deposit leg frozen until settlement.
var frozenStates = []State{StatePaid, StateApproved, StateUploaded}

const exposurePageSize = 200

// Exposure summarizes a merchant's open tasks.
type Exposure struct {
	MerchantID string          `json:"merchantId"`
	OpenTasks  int             `json:"openTasks"`
	Escalated  int             `json:"escalated"`
	Frozen     decimal.Decimal `json:"frozen"`
}

// Exposure sums the deposit legs a merchant's open tasks keep frozen.
// A consistent ledger holds exactly this amount in the merchant's frozen
// deposit.
func (s *Service) Exposure(ctx context.Context, merchantID string) (*Exposure, error) {
	exp := &Exposure{MerchantID: merchantID, Frozen: decimal.Zero}
	for _, state := range frozenStates {
		for offset := 0; ; offset += exposurePageSize {
			tasks, err := s.store.List(ctx, Filter{
				MerchantID: merchantID,
				State:      state,
				Limit:      exposurePageSize,
				Offset:     offset,
			})
			if err != nil {
				return nil, err
			}
			for _, t := range tasks {
				exp.OpenTasks++
				exp.Frozen = exp.Frozen.Add(t.PaidDeposit)
				if t.EscalatedAt != nil {
					exp.Escalated++
				}
			}
			if len(tasks) < exposurePageSize {
				break
			}
		}
	}
	return exp, nil
}
