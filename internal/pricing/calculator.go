package pricing

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/praisedesk/settlement/internal/money"
)

// Calculator prices task configurations against a fixed price table.
// It holds no mutable state and is safe for concurrent use.
type Calculator struct {
	table PriceTable
}

// NewCalculator validates the table and returns a calculator bound to it.
func NewCalculator(table PriceTable) (*Calculator, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	praise := make(map[PraiseType]decimal.Decimal, len(table.Praise))
	for k, v := range table.Praise {
		praise[k] = v
	}
	table.Praise = praise
	return &Calculator{table: table}, nil
}

// Table returns a copy of the unit prices in use.
func (c *Calculator) Table() PriceTable {
	t := c.table
	t.Praise = make(map[PraiseType]decimal.Decimal, len(c.table.Praise))
	for k, v := range c.table.Praise {
		t.Praise[k] = v
	}
	return t
}

// Validate checks an input without pricing it.
func (c *Calculator) Validate(in Input) error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, FieldError{Field: field, Message: msg})
	}

	switch {
	case in.OrderCount <= 0:
		add("orderCount", "must be a positive integer")
	case in.OrderCount > MaxOrders:
		add("orderCount", "must not exceed "+strconv.Itoa(MaxOrders))
	case len(in.Orders) != in.OrderCount:
		add("orders", "must configure exactly orderCount orders")
	}

	seen := make(map[string]bool, len(in.Orders))
	for i, o := range in.Orders {
		field := "orders[" + strconv.Itoa(i) + "]"
		if o.ID == "" {
			add(field+".id", "required")
		} else if seen[o.ID] {
			add(field+".id", "duplicate order id "+o.ID)
		}
		seen[o.ID] = true
		if _, ok := c.table.Praise[o.Praise]; !ok {
			add(field+".praise", "unknown praise type "+strconv.Quote(string(o.Praise)))
		}
	}

	if len(in.Goods) == 0 {
		add("goods", "at least one goods line is required")
	}
	for i, g := range in.Goods {
		field := "goods[" + strconv.Itoa(i) + "]"
		if err := money.Validate(g.Price); err != nil {
			add(field+".price", err.Error())
		}
		if g.Quantity <= 0 {
			add(field+".quantity", "must be a positive integer")
		}
	}

	if in.CycleExtensionDays < 0 {
		add("cycleExtensionDays", "must not be negative")
	}
	if err := money.Validate(in.ExtraReward); err != nil {
		add("extraReward", err.Error())
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Price computes the fee plan for an input. It is pure: identical inputs
// always yield identical plans.
func (c *Calculator) Price(in Input) (*FeePlan, error) {
	if err := c.Validate(in); err != nil {
		return nil, err
	}

	t := c.table
	n := int64(in.OrderCount)
	plan := &FeePlan{OrderCount: in.OrderCount}

	// Per-order commission shared by every order (everything except praise).
	shared := []LineItem{}
	addShared := func(code string, unit decimal.Decimal, enabled bool) {
		if enabled && unit.IsPositive() {
			shared = append(shared, LineItem{Code: code, Unit: unit})
		}
	}
	addShared(ItemBaseFee, t.BaseFee, true)
	addShared(ItemTimedPublish, t.TimedPublish, in.TimedPublish)
	addShared(ItemTimedPay, t.TimedPay, in.TimedPay)
	addShared(ItemCycleExtension, t.CycleExtensionPerDay.Mul(decimal.NewFromInt(int64(in.CycleExtensionDays))), in.CycleExtensionDays > 0)
	addShared(ItemExtraReward, in.ExtraReward, true)
	addShared(ItemMultiGoods, t.MultiGoods.Mul(decimal.NewFromInt(int64(len(in.Goods)-1))), len(in.Goods) > 1)
	addShared(ItemNextDay, t.NextDay, in.NextDay)
	addShared(ItemRandomBrowse, t.RandomBrowse, in.RandomBrowse)

	sharedPerOrder := decimal.Zero
	for _, item := range shared {
		sharedPerOrder = sharedPerOrder.Add(item.Unit)
	}

	// Deposit backing every order.
	goodsPerOrder := decimal.Zero
	for _, g := range in.Goods {
		goodsPerOrder = goodsPerOrder.Add(g.Price.Mul(decimal.NewFromInt(int64(g.Quantity))))
	}
	depositParts := []LineItem{{Code: ItemGoods, Unit: goodsPerOrder}}
	if !in.FreeShipping {
		depositParts = append(depositParts,
			LineItem{Code: ItemPostage, Unit: t.Postage},
			LineItem{Code: ItemMargin, Unit: t.Margin},
		)
	}
	depositPerOrder := decimal.Zero
	for _, item := range depositParts {
		depositPerOrder = depositPerOrder.Add(item.Unit)
	}

	// Praise is priced per order; count orders per type for the summary.
	praiseCount := make(map[PraiseType]int64, len(PraiseTypes))
	plan.Orders = make([]OrderFee, 0, len(in.Orders))
	for _, o := range in.Orders {
		praise := t.Praise[o.Praise]
		praiseCount[o.Praise]++
		fee := OrderFee{
			OrderID:    o.ID,
			Praise:     o.Praise,
			Commission: sharedPerOrder.Add(praise),
			Deposit:    depositPerOrder,
		}
		plan.Orders = append(plan.Orders, fee)
		plan.CommissionTotal = plan.CommissionTotal.Add(fee.Commission)
		plan.DepositTotal = plan.DepositTotal.Add(fee.Deposit)
	}

	for _, item := range shared {
		plan.CommissionItems = append(plan.CommissionItems, lineItem(item.Code, item.Unit, n))
	}
	for _, p := range PraiseTypes {
		if cnt := praiseCount[p]; cnt > 0 && t.Praise[p].IsPositive() {
			plan.CommissionItems = append(plan.CommissionItems, lineItem(ItemPraisePrefix+string(p), t.Praise[p], cnt))
		}
	}
	for _, item := range depositParts {
		if item.Unit.IsPositive() {
			plan.DepositItems = append(plan.DepositItems, lineItem(item.Code, item.Unit, n))
		}
	}

	return plan, nil
}

func lineItem(code string, unit decimal.Decimal, qty int64) LineItem {
	return LineItem{
		Code:     code,
		Unit:     unit,
		Quantity: qty,
		Amount:   unit.Mul(decimal.NewFromInt(qty)),
	}
}
