package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the settlement MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolPriceTask = mcp.NewTool("price_task",
	mcp.WithDescription(
		"Quote the deposit and buyer commission for a review task without creating it. "+
			"Returns the deposit the merchant will pay, the commission the buyer earns, "+
			"and every line item. Amounts are decimal strings."),
	mcp.WithObject("input",
		mcp.Required(),
		mcp.Description("Pricing input, e.g. {\"orderCount\":2,\"orders\":[{\"id\":\"o1\",\"praise\":\"text\"},"+
			"{\"id\":\"o2\",\"praise\":\"image\"}],\"goods\":[{\"price\":\"30\",\"quantity\":1}],\"freeShipping\":true}")),
)

var ToolGetReviewTask = mcp.NewTool("get_review_task",
	mcp.WithDescription(
		"Look up a review task by ID. Shows its state, amounts, what was paid from silver and deposit, "+
			"and which lifecycle events you are allowed to fire next."),
	mcp.WithString("task_id",
		mcp.Required(),
		mcp.Description("The review task ID (e.g. 'rt_...')")),
)

var ToolListReviewTasks = mcp.NewTool("list_review_tasks",
	mcp.WithDescription(
		"List review tasks you take part in, newest first."),
	mcp.WithString("state",
		mcp.Description("Only return tasks in this state"),
		mcp.Enum("unpaid", "paid", "approved", "uploaded", "completed", "cancelled", "buyer_rejected", "rejected")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of tasks to return (default 50)")),
)

var ToolPayReviewTask = mcp.NewTool("pay_review_task",
	mcp.WithDescription(
		"Pay an unpaid review task. The deposit is frozen until the task settles. "+
			"cash_only charges deposit only; silver_first spends silver before deposit."),
	mcp.WithString("task_id",
		mcp.Required(),
		mcp.Description("The review task ID")),
	mcp.WithString("strategy",
		mcp.Description("Payment strategy (default cash_only)"),
		mcp.Enum("cash_only", "silver_first")),
)

var ToolConfirmReviewTask = mcp.NewTool("confirm_review_task",
	mcp.WithDescription(
		"Confirm a review task after the buyer uploaded proof. "+
			"Releases the frozen deposit and credits the buyer's commission in silver."),
	mcp.WithString("task_id",
		mcp.Required(),
		mcp.Description("The review task ID")),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check an account's deposit, frozen deposit and silver balances. "+
			"Defaults to your own account."),
	mcp.WithString("account_id",
		mcp.Description("Account to inspect. Only admins can inspect other accounts.")),
)

var ToolListFinanceRecords = mcp.NewTool("list_finance_records",
	mcp.WithDescription(
		"List the finance records (balance movements) of an account, newest first. "+
			"Defaults to your own account."),
	mcp.WithString("account_id",
		mcp.Description("Account to inspect. Only admins can inspect other accounts.")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of records to return (default 50)")),
)
