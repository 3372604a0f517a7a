// Package pricing turns a review-task configuration into a fee plan.
//
// The calculator is the single source of truth for what a merchant is
// charged. Totals computed by clients are display estimates only; every
// charge is priced here from the raw input, never from a cached plan.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/praisedesk/settlement/internal/money"
)

// ErrValidation is matched (via errors.Is) by every input or price-table
// validation failure.
var ErrValidation = errors.New("invalid pricing input")

// MaxOrders bounds a single task's order count.
const MaxOrders = 500

// PraiseType is the kind of review content a buyer must produce for an order.
type PraiseType string

const (
	PraiseNone  PraiseType = "none"
	PraiseText  PraiseType = "text"
	PraiseImage PraiseType = "image"
	PraiseVideo PraiseType = "video"
)

// PraiseTypes lists the praise types in ascending price order.
var PraiseTypes = []PraiseType{PraiseNone, PraiseText, PraiseImage, PraiseVideo}

// Line item codes.
const (
	ItemBaseFee        = "base_fee"
	ItemPraisePrefix   = "praise_"
	ItemTimedPublish   = "timed_publish"
	ItemTimedPay       = "timed_pay"
	ItemCycleExtension = "cycle_extension"
	ItemExtraReward    = "extra_reward"
	ItemMultiGoods     = "multi_goods"
	ItemNextDay        = "next_day"
	ItemRandomBrowse   = "random_browse"
	ItemGoods          = "goods"
	ItemPostage        = "postage"
	ItemMargin         = "margin"
)

// PriceTable holds the platform unit prices. Every field is a per-order
// price unless noted.
type PriceTable struct {
	BaseFee              decimal.Decimal                `json:"baseFee"`
	Praise               map[PraiseType]decimal.Decimal `json:"praise"`
	TimedPublish         decimal.Decimal                `json:"timedPublish"`
	TimedPay             decimal.Decimal                `json:"timedPay"`
	CycleExtensionPerDay decimal.Decimal                `json:"cycleExtensionPerDay"`
	MultiGoods           decimal.Decimal                `json:"multiGoods"` // per extra goods line
	NextDay              decimal.Decimal                `json:"nextDay"`
	RandomBrowse         decimal.Decimal                `json:"randomBrowse"`
	Postage              decimal.Decimal                `json:"postage"`
	Margin               decimal.Decimal                `json:"margin"`
}

// DefaultPriceTable returns the standard unit prices.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		BaseFee: decimal.NewFromInt(5),
		Praise: map[PraiseType]decimal.Decimal{
			PraiseNone:  decimal.Zero,
			PraiseText:  decimal.NewFromInt(2),
			PraiseImage: decimal.NewFromInt(4),
			PraiseVideo: decimal.NewFromInt(6),
		},
		TimedPublish:         decimal.NewFromInt(1),
		TimedPay:             decimal.NewFromInt(1),
		CycleExtensionPerDay: decimal.NewFromInt(1),
		MultiGoods:           decimal.NewFromInt(1),
		NextDay:              decimal.NewFromInt(2),
		RandomBrowse:         decimal.NewFromInt(1),
		Postage:              decimal.NewFromInt(10),
		Margin:               decimal.NewFromInt(2),
	}
}

// Validate rejects negative, sub-cent or missing unit prices.
func (t PriceTable) Validate() error {
	var errs ValidationErrors
	check := func(field string, d decimal.Decimal) {
		if err := money.Validate(d); err != nil {
			errs = append(errs, FieldError{Field: field, Message: err.Error()})
		}
	}
	check("baseFee", t.BaseFee)
	check("timedPublish", t.TimedPublish)
	check("timedPay", t.TimedPay)
	check("cycleExtensionPerDay", t.CycleExtensionPerDay)
	check("multiGoods", t.MultiGoods)
	check("nextDay", t.NextDay)
	check("randomBrowse", t.RandomBrowse)
	check("postage", t.Postage)
	check("margin", t.Margin)
	for _, p := range PraiseTypes {
		price, ok := t.Praise[p]
		if !ok {
			errs = append(errs, FieldError{Field: "praise." + string(p), Message: "unit price missing"})
			continue
		}
		check("praise."+string(p), price)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// GoodsLine is one purchased product attached to the task.
type GoodsLine struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// OrderOption configures a single order of the task. ID is a stable
// identifier chosen by the caller so options survive reordering.
type OrderOption struct {
	ID     string     `json:"id"`
	Praise PraiseType `json:"praise"`
}

// Input is the full set of independently toggled task options.
type Input struct {
	OrderCount         int             `json:"orderCount"`
	Orders             []OrderOption   `json:"orders"`
	Goods              []GoodsLine     `json:"goods"`
	FreeShipping       bool            `json:"freeShipping"`
	TimedPublish       bool            `json:"timedPublish"`
	TimedPay           bool            `json:"timedPay"`
	CycleExtensionDays int             `json:"cycleExtensionDays"`
	ExtraReward        decimal.Decimal `json:"extraReward"`
	NextDay            bool            `json:"nextDay"`
	RandomBrowse       bool            `json:"randomBrowse"`
}

// LineItem is one priced component of a plan: Unit × Quantity = Amount.
type LineItem struct {
	Code     string          `json:"code"`
	Unit     decimal.Decimal `json:"unit"`
	Quantity int64           `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

// OrderFee is the commission attributable to a single order.
type OrderFee struct {
	OrderID    string          `json:"orderId"`
	Praise     PraiseType      `json:"praise"`
	Commission decimal.Decimal `json:"commission"`
	Deposit    decimal.Decimal `json:"deposit"`
}

// FeePlan is the itemized, deterministic price of a task configuration.
type FeePlan struct {
	OrderCount      int             `json:"orderCount"`
	DepositTotal    decimal.Decimal `json:"depositTotal"`
	CommissionTotal decimal.Decimal `json:"commissionTotal"`
	DepositItems    []LineItem      `json:"depositItems"`
	CommissionItems []LineItem      `json:"commissionItems"`
	Orders          []OrderFee      `json:"orders"`
}

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects every invalid field of an input.
type ValidationErrors []FieldError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e ValidationErrors) Unwrap() error {
	return ErrValidation
}
