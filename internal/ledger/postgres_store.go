package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL. Schema lives in
// migrations/ (accounts, finance_records).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateAccount(ctx context.Context, id string) (*Account, error) {
	acct := &Account{ID: id}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, deposit, frozen_deposit, silver, version, created_at, updated_at)
		VALUES ($1, 0, 0, 0, 0, NOW(), NOW())
		RETURNING deposit, frozen_deposit, silver, version, created_at, updated_at
	`, id).Scan(&acct.Deposit, &acct.FrozenDeposit, &acct.Silver, &acct.Version, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return nil, mapPQError(err)
	}
	return acct, nil
}

func (p *PostgresStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	return scanAccount(p.db.QueryRowContext(ctx, `
		SELECT id, deposit, frozen_deposit, silver, version, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id))
}

// Commit runs read, plan and write in one SERIALIZABLE transaction with
// the account row locked. Serialization failures surface as
// ErrConcurrentModification so the caller can retry.
func (p *PostgresStore) Commit(ctx context.Context, id string, plan PlanFunc) (*Account, []*FinanceRecord, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	acct, err := scanAccount(tx.QueryRowContext(ctx, `
		SELECT id, deposit, frozen_deposit, silver, version, created_at, updated_at
		FROM accounts WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, nil, err
	}

	postings, err := plan(*acct)
	if err != nil {
		return nil, nil, err
	}
	next, records, err := applyPostings(*acct, postings, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE accounts SET
			deposit        = $2,
			frozen_deposit = $3,
			silver         = $4,
			version        = $5,
			updated_at     = $6
		WHERE id = $1 AND version = $7
	`, id, next.Deposit, next.FrozenDeposit, next.Silver, next.Version, next.UpdatedAt, acct.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update balance: %w", mapPQError(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, nil, ErrConcurrentModification
	}

	for _, rec := range records {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO finance_records (
				id, account_id, currency, delta, frozen_delta,
				balance_after, frozen_after, reason_code, related_task_id, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, rec.ID, rec.AccountID, string(rec.Currency), rec.Delta, rec.FrozenDelta,
			rec.BalanceAfter, rec.FrozenAfter, rec.ReasonCode, rec.RelatedTaskID, rec.CreatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to record entry: %w", mapPQError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, mapPQError(err)
	}
	return &next, records, nil
}

func (p *PostgresStore) ListRecords(ctx context.Context, accountID string, limit, offset int) ([]*FinanceRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account_id, currency, delta, frozen_delta,
		       balance_after, frozen_after, reason_code, related_task_id, created_at
		FROM finance_records
		WHERE account_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*FinanceRecord
	for rows.Next() {
		rec := &FinanceRecord{}
		var currency string
		if err := rows.Scan(&rec.ID, &rec.AccountID, &currency, &rec.Delta, &rec.FrozenDelta,
			&rec.BalanceAfter, &rec.FrozenAfter, &rec.ReasonCode, &rec.RelatedTaskID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Currency = Currency(currency)
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ListAccounts(ctx context.Context, limit, offset int) ([]*Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, deposit, frozen_deposit, silver, version, created_at, updated_at
		FROM accounts
		ORDER BY id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	acct := &Account{}
	err := row.Scan(&acct.ID, &acct.Deposit, &acct.FrozenDeposit, &acct.Silver, &acct.Version, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, mapPQError(err)
	}
	return acct, nil
}

// PostgreSQL error codes the ledger translates.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
	pqCheckViolation       = "23514"
)

// mapPQError translates driver errors into ledger sentinels.
func mapPQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqSerializationFailure, pqDeadlockDetected:
		return fmt.Errorf("%w: %s", ErrConcurrentModification, pqErr.Message)
	case pqUniqueViolation:
		return ErrAccountExists
	case pqCheckViolation:
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, pqErr.Constraint)
	}
	return err
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
