package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *SettlementClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *SettlementClient) *Handlers {
	return &Handlers{client: client}
}

// HandlePriceTask quotes a task.
func (h *Handlers) HandlePriceTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, ok := req.GetArguments()["input"].(map[string]any)
	if !ok {
		return mcp.NewToolResultError("input is required and must be an object"), nil
	}

	raw, err := h.client.Quote(ctx, input)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to price task: %v", err)), nil
	}

	text, err := formatPlan(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse quote: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetReviewTask looks up one task.
func (h *Handlers) HandleGetReviewTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("task_id is required"), nil
	}

	raw, err := h.client.GetTask(ctx, taskID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get task: %v", err)), nil
	}

	text, err := formatTaskResponse(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse task: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListReviewTasks lists the caller's tasks.
func (h *Handlers) HandleListReviewTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state := req.GetString("state", "")
	limit := req.GetInt("limit", 50)

	raw, err := h.client.ListTasks(ctx, state, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list tasks: %v", err)), nil
	}

	text, err := formatTaskList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse tasks: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandlePayReviewTask pays a task.
func (h *Handlers) HandlePayReviewTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("task_id is required"), nil
	}
	strategy := req.GetString("strategy", "cash_only")

	raw, err := h.client.PayTask(ctx, taskID, strategy)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Payment failed: %v", err)), nil
	}

	text, err := formatTaskResponse(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse task: %v", err)), nil
	}
	return mcp.NewToolResultText("Payment accepted.\n\n" + text), nil
}

// HandleConfirmReviewTask confirms a task.
func (h *Handlers) HandleConfirmReviewTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("task_id is required"), nil
	}

	raw, err := h.client.ConfirmTask(ctx, taskID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Confirm failed: %v", err)), nil
	}

	text, err := formatTaskResponse(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse task: %v", err)), nil
	}
	return mcp.NewToolResultText("Task confirmed and settled.\n\n" + text), nil
}

// HandleCheckBalance returns an account's balances.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetAccount(ctx, req.GetString("account_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	text, err := formatBalance(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListFinanceRecords returns an account's recent movements.
func (h *Handlers) HandleListFinanceRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListRecords(ctx, req.GetString("account_id", ""), req.GetInt("limit", 50))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list records: %v", err)), nil
	}

	text, err := formatRecords(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse records: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

type lineItem struct {
	Code     string `json:"code"`
	Unit     string `json:"unit"`
	Quantity int64  `json:"quantity"`
	Amount   string `json:"amount"`
}

type orderFee struct {
	OrderID    string `json:"orderId"`
	Praise     string `json:"praise"`
	Commission string `json:"commission"`
	Deposit    string `json:"deposit"`
}

type feePlan struct {
	OrderCount      int        `json:"orderCount"`
	DepositTotal    string     `json:"depositTotal"`
	CommissionTotal string     `json:"commissionTotal"`
	DepositItems    []lineItem `json:"depositItems"`
	CommissionItems []lineItem `json:"commissionItems"`
	Orders          []orderFee `json:"orders"`
}

type taskView struct {
	ID              string   `json:"id"`
	TaskNumber      string   `json:"taskNumber"`
	MerchantID      string   `json:"merchantId"`
	BuyerID         string   `json:"buyerId"`
	State           string   `json:"state"`
	Money           string   `json:"money"`
	BuyerCommission string   `json:"buyerCommission"`
	Strategy        string   `json:"strategy"`
	PaidSilver      string   `json:"paidSilver"`
	PaidDeposit     string   `json:"paidDeposit"`
	Proof           []string `json:"proof"`
	Remark          string   `json:"remark"`
	CancelReason    string   `json:"cancelReason"`
}

type accountView struct {
	ID            string `json:"id"`
	Deposit       string `json:"deposit"`
	FrozenDeposit string `json:"frozenDeposit"`
	Silver        string `json:"silver"`
}

type recordView struct {
	Currency      string `json:"currency"`
	Delta         string `json:"delta"`
	FrozenDelta   string `json:"frozenDelta"`
	BalanceAfter  string `json:"balanceAfter"`
	ReasonCode    string `json:"reasonCode"`
	RelatedTaskID string `json:"relatedTaskId"`
	CreatedAt     string `json:"createdAt"`
}

func formatPlan(raw json.RawMessage) (string, error) {
	var resp struct {
		Plan *feePlan `json:"plan"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Plan == nil {
		return "", fmt.Errorf("no plan in response: %s", string(raw))
	}
	p := resp.Plan

	var sb strings.Builder
	fmt.Fprintf(&sb, "Quote for %d order(s):\n", p.OrderCount)
	fmt.Fprintf(&sb, "  Merchant deposit: %s\n", p.DepositTotal)
	fmt.Fprintf(&sb, "  Buyer commission: %s\n", p.CommissionTotal)
	writeItems(&sb, "Deposit items", p.DepositItems)
	writeItems(&sb, "Commission items", p.CommissionItems)
	if len(p.Orders) > 0 {
		sb.WriteString("\nPer order:\n")
		for _, o := range p.Orders {
			fmt.Fprintf(&sb, "  %s (%s): commission %s, deposit %s\n", o.OrderID, o.Praise, o.Commission, o.Deposit)
		}
	}
	return sb.String(), nil
}

func writeItems(sb *strings.Builder, title string, items []lineItem) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(sb, "  %-16s %s x %d = %s\n", it.Code, it.Unit, it.Quantity, it.Amount)
	}
}

func formatTaskResponse(raw json.RawMessage) (string, error) {
	var resp struct {
		Task    *taskView `json:"task"`
		Allowed []string  `json:"allowed"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Task == nil {
		return "", fmt.Errorf("no task in response: %s", string(raw))
	}

	text := formatTask(resp.Task)
	if resp.Allowed != nil {
		if len(resp.Allowed) == 0 {
			text += "  Next actions: none\n"
		} else {
			text += fmt.Sprintf("  Next actions: %s\n", strings.Join(resp.Allowed, ", "))
		}
	}
	return text, nil
}

func formatTask(t *taskView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Review task %s (%s):\n", t.ID, t.TaskNumber)
	fmt.Fprintf(&sb, "  State: %s\n", t.State)
	fmt.Fprintf(&sb, "  Merchant: %s  Buyer: %s\n", t.MerchantID, t.BuyerID)
	fmt.Fprintf(&sb, "  Deposit: %s  Buyer commission: %s\n", t.Money, t.BuyerCommission)
	if t.Strategy != "" {
		fmt.Fprintf(&sb, "  Paid: %s silver + %s deposit (%s)\n", t.PaidSilver, t.PaidDeposit, t.Strategy)
	}
	if len(t.Proof) > 0 {
		fmt.Fprintf(&sb, "  Proof: %s\n", strings.Join(t.Proof, ", "))
	}
	if t.Remark != "" {
		fmt.Fprintf(&sb, "  Remark: %s\n", t.Remark)
	}
	if t.CancelReason != "" {
		fmt.Fprintf(&sb, "  Cancel reason: %s\n", t.CancelReason)
	}
	return sb.String()
}

func formatTaskList(raw json.RawMessage) (string, error) {
	var resp struct {
		Tasks []taskView `json:"tasks"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected tasks response format")
	}
	if len(resp.Tasks) == 0 {
		return "No review tasks found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d task(s):\n\n", len(resp.Tasks))
	for i, t := range resp.Tasks {
		fmt.Fprintf(&sb, "%d. %s [%s] deposit %s, commission %s\n", i+1, t.ID, t.State, t.Money, t.BuyerCommission)
	}
	return sb.String(), nil
}

func formatBalance(raw json.RawMessage) (string, error) {
	var resp struct {
		Account *accountView `json:"account"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Account == nil {
		return "", fmt.Errorf("no account in response: %s", string(raw))
	}
	a := resp.Account

	var sb strings.Builder
	fmt.Fprintf(&sb, "Balances for %s:\n", a.ID)
	fmt.Fprintf(&sb, "  Deposit:  %s\n", a.Deposit)
	if a.FrozenDeposit != "" && a.FrozenDeposit != "0" {
		fmt.Fprintf(&sb, "  Frozen:   %s\n", a.FrozenDeposit)
	}
	fmt.Fprintf(&sb, "  Silver:   %s\n", a.Silver)
	return sb.String(), nil
}

func formatRecords(raw json.RawMessage) (string, error) {
	var resp struct {
		Records []recordView `json:"records"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Records) == 0 {
		return "No finance records.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d record(s):\n", len(resp.Records))
	for _, r := range resp.Records {
		delta := r.Delta
		if delta == "0" && r.FrozenDelta != "" && r.FrozenDelta != "0" {
			delta = "frozen " + r.FrozenDelta
		}
		fmt.Fprintf(&sb, "  %s %-7s %-14s %s -> %s", r.CreatedAt, r.Currency, r.ReasonCode, delta, r.BalanceAfter)
		if r.RelatedTaskID != "" {
			fmt.Fprintf(&sb, " (task %s)", r.RelatedTaskID)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
