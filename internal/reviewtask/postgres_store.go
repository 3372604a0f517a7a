package reviewtask

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/praisedesk/settlement/internal/payment"
)

// PostgresStore persists tasks in the review_tasks table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed task store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const taskColumns = `id, task_number, merchant_id, buyer_id, shop_id, purchase_order_id,
	pricing, money, buyer_commission, deposit_total, state, strategy,
	paid_silver, paid_deposit, proof, remark, cancel_reason,
	paid_at, examined_at, uploaded_at, confirmed_at, buyer_rejected_at, cancelled_at, escalated_at,
	version, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Task) error {
	pricingJSON, err := json.Marshal(t.Pricing)
	if err != nil {
		return fmt.Errorf("encode pricing: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO review_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		        $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
	`,
		t.ID, t.TaskNumber, t.MerchantID, t.BuyerID, t.ShopID, t.PurchaseOrderID,
		pricingJSON, t.Money, t.BuyerCommission, t.DepositTotal, string(t.State), string(t.Strategy),
		t.PaidSilver, t.PaidDeposit, pq.Array(nonNil(t.Proof)), t.Remark, t.CancelReason,
		nullTime(t.PaidAt), nullTime(t.ExaminedAt), nullTime(t.UploadedAt), nullTime(t.ConfirmedAt),
		nullTime(t.BuyerRejectedAt), nullTime(t.CancelledAt), nullTime(t.EscalatedAt),
		t.Version, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Task, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM review_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

func (p *PostgresStore) Update(ctx context.Context, t *Task) error {
	pricingJSON, err := json.Marshal(t.Pricing)
	if err != nil {
		return fmt.Errorf("encode pricing: %w", err)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE review_tasks SET
			pricing = $2, money = $3, buyer_commission = $4, deposit_total = $5,
			state = $6, strategy = $7, paid_silver = $8, paid_deposit = $9,
			proof = $10, remark = $11, cancel_reason = $12,
			paid_at = $13, examined_at = $14, uploaded_at = $15, confirmed_at = $16,
			buyer_rejected_at = $17, cancelled_at = $18, escalated_at = $19,
			version = version + 1, updated_at = $20
		WHERE id = $1 AND version = $21
	`,
		t.ID, pricingJSON, t.Money, t.BuyerCommission, t.DepositTotal,
		string(t.State), string(t.Strategy), t.PaidSilver, t.PaidDeposit,
		pq.Array(nonNil(t.Proof)), t.Remark, t.CancelReason,
		nullTime(t.PaidAt), nullTime(t.ExaminedAt), nullTime(t.UploadedAt), nullTime(t.ConfirmedAt),
		nullTime(t.BuyerRejectedAt), nullTime(t.CancelledAt), nullTime(t.EscalatedAt),
		t.UpdatedAt, t.Version,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM review_tasks WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrTaskNotFound
		}
		return ErrConcurrentModification
	}
	t.Version++
	return nil
}

func (p *PostgresStore) List(ctx context.Context, f Filter) ([]*Task, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.MerchantID != "" {
		add("merchant_id = $%d", f.MerchantID)
	}
	if f.BuyerID != "" {
		add("buyer_id = $%d", f.BuyerID)
	}
	if f.State != "" {
		add("state = $%d", string(f.State))
	}

	query := `SELECT ` + taskColumns + ` FROM review_tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanTasks(rows)
}

func (p *PostgresStore) ListStale(ctx context.Context, state State, before time.Time, limit int) ([]*Task, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM review_tasks
		WHERE state = $1 AND escalated_at IS NULL AND uploaded_at < $2
		ORDER BY uploaded_at ASC
		LIMIT $3
	`, string(state), before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanTasks(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	t := &Task{}
	var (
		pricingJSON []byte
		state       string
		strategy    string
		proof       pq.StringArray
		paidAt, examinedAt, uploadedAt, confirmedAt,
		buyerRejectedAt, cancelledAt, escalatedAt sql.NullTime
	)

	err := s.Scan(
		&t.ID, &t.TaskNumber, &t.MerchantID, &t.BuyerID, &t.ShopID, &t.PurchaseOrderID,
		&pricingJSON, &t.Money, &t.BuyerCommission, &t.DepositTotal, &state, &strategy,
		&t.PaidSilver, &t.PaidDeposit, &proof, &t.Remark, &t.CancelReason,
		&paidAt, &examinedAt, &uploadedAt, &confirmedAt, &buyerRejectedAt, &cancelledAt, &escalatedAt,
		&t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(pricingJSON, &t.Pricing); err != nil {
		return nil, fmt.Errorf("decode pricing of task %s: %w", t.ID, err)
	}
	t.State = State(state)
	t.Strategy = payment.Strategy(strategy)
	if len(proof) > 0 {
		t.Proof = []string(proof)
	}
	t.PaidAt = timePtr(paidAt)
	t.ExaminedAt = timePtr(examinedAt)
	t.UploadedAt = timePtr(uploadedAt)
	t.ConfirmedAt = timePtr(confirmedAt)
	t.BuyerRejectedAt = timePtr(buyerRejectedAt)
	t.CancelledAt = timePtr(cancelledAt)
	t.EscalatedAt = timePtr(escalatedAt)
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var result []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
