package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// ActionStore implements domain.ActionStore using PostgreSQL. The actions
// and action_events tables together are the durable source of truth for the
// posting queue.
type ActionStore struct {
	pool *pgxpool.Pool
}

var _ domain.ActionStore = (*ActionStore)(nil)

// NewActionStore creates an ActionStore backed by the given connection pool.
func NewActionStore(pool *pgxpool.Pool) *ActionStore {
	return &ActionStore{pool: pool}
}

const actionCols = `id, account_id, trigger_type, status,
	wallet_address, event, wallet_profile, fresh_signal,
	draft_text, final_text, screenshot_path, post_id, post_url,
	retry_count, last_error, next_retry_at,
	created_at, updated_at, processed_at`

func actionArgs(a domain.Action) ([]any, error) {
	eventJSON, err := json.Marshal(a.Event)
	if err != nil {
		return nil, fmt.Errorf("marshal event snapshot: %w", err)
	}
	profileJSON, err := marshalNullable(a.Profile)
	if err != nil {
		return nil, fmt.Errorf("marshal wallet profile: %w", err)
	}
	signalJSON, err := marshalNullable(a.Signal)
	if err != nil {
		return nil, fmt.Errorf("marshal fresh signal: %w", err)
	}

	return []any{
		a.ID, a.AccountID, a.TriggerType, a.Status,
		a.WalletAddress, eventJSON, profileJSON, signalJSON,
		a.DraftText, a.FinalText, a.ScreenshotPath, a.PostID, a.PostURL,
		a.RetryCount, a.LastError, a.NextRetryAt,
		a.CreatedAt, a.UpdatedAt, a.ProcessedAt,
	}, nil
}

func scanAction(row pgx.Row) (domain.Action, error) {
	var a domain.Action
	var eventJSON, profileJSON, signalJSON []byte
	err := row.Scan(
		&a.ID, &a.AccountID, &a.TriggerType, &a.Status,
		&a.WalletAddress, &eventJSON, &profileJSON, &signalJSON,
		&a.DraftText, &a.FinalText, &a.ScreenshotPath, &a.PostID, &a.PostURL,
		&a.RetryCount, &a.LastError, &a.NextRetryAt,
		&a.CreatedAt, &a.UpdatedAt, &a.ProcessedAt,
	)
	if err != nil {
		return domain.Action{}, err
	}

	if err := json.Unmarshal(eventJSON, &a.Event); err != nil {
		return domain.Action{}, fmt.Errorf("unmarshal event snapshot: %w", err)
	}
	if len(profileJSON) > 0 {
		a.Profile = &domain.WalletProfile{}
		if err := json.Unmarshal(profileJSON, a.Profile); err != nil {
			return domain.Action{}, fmt.Errorf("unmarshal wallet profile: %w", err)
		}
	}
	if len(signalJSON) > 0 {
		a.Signal = &domain.FreshWalletSignal{}
		if err := json.Unmarshal(signalJSON, a.Signal); err != nil {
			return domain.Action{}, fmt.Errorf("unmarshal fresh signal: %w", err)
		}
	}
	return a, nil
}

func scanActionRows(rows pgx.Rows) ([]domain.Action, error) {
	var actions []domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Create persists a new action.
func (s *ActionStore) Create(ctx context.Context, action domain.Action) error {
	args, err := actionArgs(action)
	if err != nil {
		return fmt.Errorf("postgres: create action: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO actions (`+actionCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19)`, args...)
	if err != nil {
		return fmt.Errorf("postgres: create action: %w", err)
	}
	return nil
}

// Update overwrites an action's mutable state by id.
func (s *ActionStore) Update(ctx context.Context, action domain.Action) error {
	args, err := actionArgs(action)
	if err != nil {
		return fmt.Errorf("postgres: update action: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE actions SET
			account_id = $2, trigger_type = $3, status = $4,
			wallet_address = $5, event = $6, wallet_profile = $7, fresh_signal = $8,
			draft_text = $9, final_text = $10, screenshot_path = $11,
			post_id = $12, post_url = $13,
			retry_count = $14, last_error = $15, next_retry_at = $16,
			created_at = $17, updated_at = $18, processed_at = $19
		WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("postgres: update action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves an action by its primary key.
func (s *ActionStore) GetByID(ctx context.Context, id string) (domain.Action, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+actionCols+` FROM actions WHERE id = $1`, id)
	a, err := scanAction(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Action{}, domain.ErrNotFound
		}
		return domain.Action{}, fmt.Errorf("postgres: get action %s: %w", id, err)
	}
	return a, nil
}

// DequeueReady returns up to limit pending actions for the account whose
// retry time, if any, has elapsed, oldest first.
func (s *ActionStore) DequeueReady(ctx context.Context, accountID string, now time.Time, limit int) ([]domain.Action, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+actionCols+` FROM actions
		WHERE account_id = $1 AND status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= $2)
		ORDER BY created_at ASC
		LIMIT $3`, accountID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: dequeue actions: %w", err)
	}
	defer rows.Close()
	return scanActionRows(rows)
}

// ListByStatus returns the most recent actions in the given status.
func (s *ActionStore) ListByStatus(ctx context.Context, status domain.ActionStatus, limit int) ([]domain.Action, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+actionCols+` FROM actions
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list actions by status: %w", err)
	}
	defer rows.Close()
	return scanActionRows(rows)
}

// ListRetryable returns scheduled retries whose delay has elapsed.
func (s *ActionStore) ListRetryable(ctx context.Context, now time.Time, limit int) ([]domain.Action, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+actionCols+` FROM actions
		WHERE status = 'pending' AND retry_count > 0
		  AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list retryable actions: %w", err)
	}
	defer rows.Close()
	return scanActionRows(rows)
}

// ListRecent returns actions newest first with pagination.
func (s *ActionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Action, error) {
	query := `SELECT ` + actionCols + ` FROM actions ORDER BY created_at DESC`
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
		return nil, fmt.Errorf("postgres: list recent actions: %w", err)
	}
	defer rows.Close()
	return scanActionRows(rows)
}

// Stats aggregates action counts by status.
func (s *ActionStore) Stats(ctx context.Context) (domain.ActionStats, error) {
	var stats domain.ActionStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status IN ('fetching', 'generating', 'capturing', 'posting')),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE status = 'pending' AND retry_count > 0)
		FROM actions`).Scan(
		&stats.Total, &stats.Pending, &stats.Active,
		&stats.Completed, &stats.Failed, &stats.Retrying,
	)
	if err != nil {
		return domain.ActionStats{}, fmt.Errorf("postgres: action stats: %w", err)
	}
	return stats, nil
}

// HasActionForEvent reports whether the dedup ledger already holds an
// action for this (account, event) pair.
func (s *ActionStore) HasActionForEvent(ctx context.Context, accountID, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM action_events WHERE account_id = $1 AND event_id = $2)`,
		accountID, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check action for event: %w", err)
	}
	return exists, nil
}

// MarkActionForEvent records the dedup ledger entry. A concurrent duplicate
// insert loses silently; the winning action keeps the slot.
func (s *ActionStore) MarkActionForEvent(ctx context.Context, accountID, eventID, actionID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO action_events (account_id, event_id, action_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, event_id) DO NOTHING`,
		accountID, eventID, actionID)
	if err != nil {
		return fmt.Errorf("postgres: mark action for event: %w", err)
	}
	return nil
}
