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

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

var _ domain.EventStore = (*EventStore)(nil)

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventCols = `id, event_type, asset_id, ts,
	market_slug, market_name, event_slug, event_title, market_link, image,
	price, size, side, outcome, outcome_index,
	trade_id, condition_id, wallet_address, trader_name,
	is_fresh_wallet, wallet_profile, fresh_signal, risk_score, risk_signals`

const eventInsert = `
	INSERT INTO events (
		id, event_type, asset_id, ts,
		market_slug, market_name, event_slug, event_title, market_link, image,
		price, size, side, outcome, outcome_index,
		trade_id, condition_id, wallet_address, trader_name,
		is_fresh_wallet, wallet_profile, fresh_signal, risk_score, risk_signals
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15,
		$16, $17, $18, $19,
		$20, $21, $22, $23, $24
	) ON CONFLICT (id) DO NOTHING`

func eventInsertArgs(e domain.TradeEvent) ([]any, error) {
	profileJSON, err := marshalNullable(e.Profile)
	if err != nil {
		return nil, fmt.Errorf("marshal wallet profile: %w", err)
	}
	signalJSON, err := marshalNullable(e.Signal)
	if err != nil {
		return nil, fmt.Errorf("marshal fresh signal: %w", err)
	}
	var signalsJSON []byte
	if len(e.RiskSignals) > 0 {
		signalsJSON, err = json.Marshal(e.RiskSignals)
		if err != nil {
			return nil, fmt.Errorf("marshal risk signals: %w", err)
		}
	}

	return []any{
		e.ID, e.EventType, e.AssetID, e.Timestamp,
		e.MarketSlug, e.MarketName, e.EventSlug, e.EventTitle, e.MarketLink, e.Image,
		e.Price, e.Size, e.Side, e.Outcome, e.OutcomeIndex,
		e.TradeID, e.ConditionID, e.WalletAddress, e.TraderName,
		e.IsFreshWallet, profileJSON, signalJSON, e.RiskScore, signalsJSON,
	}, nil
}

func scanEvent(row pgx.Row) (domain.TradeEvent, error) {
	var e domain.TradeEvent
	var profileJSON, signalJSON, signalsJSON []byte
	err := row.Scan(
		&e.ID, &e.EventType, &e.AssetID, &e.Timestamp,
		&e.MarketSlug, &e.MarketName, &e.EventSlug, &e.EventTitle, &e.MarketLink, &e.Image,
		&e.Price, &e.Size, &e.Side, &e.Outcome, &e.OutcomeIndex,
		&e.TradeID, &e.ConditionID, &e.WalletAddress, &e.TraderName,
		&e.IsFreshWallet, &profileJSON, &signalJSON, &e.RiskScore, &signalsJSON,
	)
	if err != nil {
		return domain.TradeEvent{}, err
	}

	if len(profileJSON) > 0 {
		e.Profile = &domain.WalletProfile{}
		if err := json.Unmarshal(profileJSON, e.Profile); err != nil {
			return domain.TradeEvent{}, fmt.Errorf("unmarshal wallet profile: %w", err)
		}
	}
	if len(signalJSON) > 0 {
		e.Signal = &domain.FreshWalletSignal{}
		if err := json.Unmarshal(signalJSON, e.Signal); err != nil {
			return domain.TradeEvent{}, fmt.Errorf("unmarshal fresh signal: %w", err)
		}
	}
	if len(signalsJSON) > 0 {
		if err := json.Unmarshal(signalsJSON, &e.RiskSignals); err != nil {
			return domain.TradeEvent{}, fmt.Errorf("unmarshal risk signals: %w", err)
		}
	}
	return e, nil
}

func scanEventRows(rows pgx.Rows) ([]domain.TradeEvent, error) {
	var events []domain.TradeEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Insert persists a single trade event. Duplicate ids are silently skipped.
func (s *EventStore) Insert(ctx context.Context, event domain.TradeEvent) error {
	args, err := eventInsertArgs(event)
	if err != nil {
		return fmt.Errorf("postgres: insert event: %w", err)
	}
	if _, err := s.pool.Exec(ctx, eventInsert, args...); err != nil {
		return fmt.Errorf("postgres: insert event: %w", err)
	}
	return nil
}

// GetByID retrieves an event by its primary key.
func (s *EventStore) GetByID(ctx context.Context, id string) (domain.TradeEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventCols+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.TradeEvent{}, domain.ErrNotFound
		}
		return domain.TradeEvent{}, fmt.Errorf("postgres: get event %s: %w", id, err)
	}
	return e, nil
}

// ListRecent returns events newest first with pagination and optional time
// filtering.
func (s *EventStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	return s.list(ctx, "", opts)
}

// ListFresh returns only fresh-wallet events, newest first.
func (s *EventStore) ListFresh(ctx context.Context, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	return s.list(ctx, "is_fresh_wallet", opts)
}

func (s *EventStore) list(ctx context.Context, where string, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	query := `SELECT ` + eventCols + ` FROM events`
	var args []any
	argIdx := 1

	clauses := make([]string, 0, 3)
	if where != "" {
		clauses = append(clauses, where)
	}
	if opts.Since != nil {
		clauses = append(clauses, fmt.Sprintf("ts >= $%d", argIdx))
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		clauses = append(clauses, fmt.Sprintf("ts <= $%d", argIdx))
		args = append(args, *opts.Until)
		argIdx++
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}

	query += " ORDER BY ts DESC"
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
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}

// ListBefore returns all events older than the given time, oldest first.
// Used by the archiver.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventCols+` FROM events WHERE ts < $1 ORDER BY ts ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// DeleteBefore removes events older than the given time and returns the
// number removed.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAll clears the event table and returns the number removed.
func (s *EventStore) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events`)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete all events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Info summarizes the persisted event set for the status API.
func (s *EventStore) Info(ctx context.Context) (domain.DatabaseInfo, error) {
	var info domain.DatabaseInfo
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), MIN(ts), MAX(ts),
		       pg_total_relation_size('events')
		FROM events`).Scan(&info.EventCount, &info.OldestEvent, &info.NewestEvent, &info.SizeBytes)
	if err != nil {
		return domain.DatabaseInfo{}, fmt.Errorf("postgres: database info: %w", err)
	}
	return info, nil
}

// marshalNullable returns nil for nil pointers so JSONB columns stay NULL.
func marshalNullable(v any) ([]byte, error) {
	switch p := v.(type) {
	case *domain.WalletProfile:
		if p == nil {
			return nil, nil
		}
	case *domain.FreshWalletSignal:
		if p == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
