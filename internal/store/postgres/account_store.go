package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL. The
// per-account trigger policy is stored as JSONB so new policy fields do not
// require schema changes.
type AccountStore struct {
	pool *pgxpool.Pool
}

var _ domain.AccountStore = (*AccountStore)(nil)

// NewAccountStore creates an AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountCols = `id, name, enabled, tweet_enabled, actions, created_at, updated_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	var actionsJSON []byte
	err := row.Scan(&a.ID, &a.Name, &a.Enabled, &a.TweetEnabled, &actionsJSON, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.Account{}, err
	}
	if len(actionsJSON) > 0 {
		if err := json.Unmarshal(actionsJSON, &a.Actions); err != nil {
			return domain.Account{}, fmt.Errorf("unmarshal actions config: %w", err)
		}
	}
	return a, nil
}

func scanAccountRows(rows pgx.Rows) ([]domain.Account, error) {
	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Upsert inserts or updates an account by id.
func (s *AccountStore) Upsert(ctx context.Context, acct domain.Account) error {
	actionsJSON, err := json.Marshal(acct.Actions)
	if err != nil {
		return fmt.Errorf("postgres: marshal actions config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO accounts (id, name, enabled, tweet_enabled, actions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			enabled = EXCLUDED.enabled,
			tweet_enabled = EXCLUDED.tweet_enabled,
			actions = EXCLUDED.actions,
			updated_at = NOW()`,
		acct.ID, acct.Name, acct.Enabled, acct.TweetEnabled, actionsJSON)
	if err != nil {
		return fmt.Errorf("postgres: upsert account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by its primary key.
func (s *AccountStore) GetByID(ctx context.Context, id string) (domain.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return a, nil
}

// ListEnabled returns every enabled account.
func (s *AccountStore) ListEnabled(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list enabled accounts: %w", err)
	}
	defer rows.Close()
	return scanAccountRows(rows)
}

// List returns all accounts with pagination.
func (s *AccountStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Account, error) {
	query := `SELECT ` + accountCols + ` FROM accounts ORDER BY id`
	var args []any
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()
	return scanAccountRows(rows)
}
