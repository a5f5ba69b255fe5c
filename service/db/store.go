package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/brojonat/flashtrade/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a trade execution does not exist.
var ErrNotFound = errors.New("trade execution not found")

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// m may be nil.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Execution is the persisted outcome of one trade.
type Execution struct {
	ID             string
	TxID           uint64
	Status         string // "committed", "aborted" or "simulated"
	Mode           string // "execute" or "simulate"
	AbortedState   *string
	ErrorKind      *string
	ErrorMessage   *string
	Payer          string
	Borrower       string
	LoanAuthority  string
	LendingProgram string
	Amount         uint64
	RepayAmount    *uint64
	Actions        []string
	Logs           []string
	CreatedAt      time.Time
	Events         []*Event
}

// Event is one audit event of a committed trade, in emission order.
type Event struct {
	Sequence   int
	EventType  string
	ActionType *string
	Data       []byte
}

// CreateExecutionParams contains the parameters for recording a trade.
type CreateExecutionParams struct {
	ID             string
	TxID           uint64
	Status         string
	Mode           string
	AbortedState   *string
	ErrorKind      *string
	ErrorMessage   *string
	Payer          string
	Borrower       string
	LoanAuthority  string
	LendingProgram string
	Amount         uint64
	RepayAmount    *uint64
	Actions        []string
	Logs           []string
	Events         []*Event
}

// ListExecutionsParams filters and paginates executions.
type ListExecutionsParams struct {
	Borrower string
	Status   string
	Limit    int32
	Offset   int32
}

const executionColumns = `id, tx_id, status, mode, aborted_state, error_kind, error_message,
	payer, borrower, loan_authority, lending_program, amount::text, repay_amount::text,
	actions, logs, created_at`

// CreateExecution records a trade and its events in one database
// transaction. Recording the same ID twice is a no-op, so activity retries
// are safe; the stored row is returned either way.
func (s *Store) CreateExecution(ctx context.Context, params CreateExecutionParams) (*Execution, error) {
	start := time.Now()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO trade_executions (
				id, tx_id, status, mode, aborted_state, error_kind, error_message,
				payer, borrower, loan_authority, lending_program, amount, repay_amount,
				actions, logs
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::numeric, $13::numeric, $14, $15)
			ON CONFLICT (id) DO NOTHING`,
			params.ID,
			int64(params.TxID),
			params.Status,
			params.Mode,
			pgtextFromStringPtr(params.AbortedState),
			pgtextFromStringPtr(params.ErrorKind),
			pgtextFromStringPtr(params.ErrorMessage),
			params.Payer,
			params.Borrower,
			params.LoanAuthority,
			params.LendingProgram,
			strconv.FormatUint(params.Amount, 10),
			pgtextFromUint64Ptr(params.RepayAmount),
			nonNil(params.Actions),
			nonNil(params.Logs),
		)
		if err != nil {
			return fmt.Errorf("insert execution: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, e := range params.Events {
			batch.Queue(`
				INSERT INTO trade_events (execution_id, sequence, event_type, action_type, data)
				VALUES ($1, $2, $3, $4, $5)`,
				params.ID, e.Sequence, e.EventType, pgtextFromStringPtr(e.ActionType), e.Data,
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
		return nil
	})
	s.record("create_execution", "trade_executions", start, err)
	if err != nil {
		return nil, err
	}
	return s.GetExecution(ctx, params.ID)
}

// GetExecution retrieves an execution and its events by ID.
func (s *Store) GetExecution(ctx context.Context, id string) (*Execution, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM trade_executions WHERE id = $1`, id)
	exec, err := scanExecution(row)
	s.record("get_execution", "trade_executions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	events, err := s.ListEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	exec.Events = events
	return exec, nil
}

// ListExecutions retrieves executions, most recent first.
func (s *Store) ListExecutions(ctx context.Context, params ListExecutionsParams) ([]*Execution, error) {
	start := time.Now()
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+executionColumns+`
		FROM trade_executions
		WHERE ($1 = '' OR borrower = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`,
		params.Borrower, params.Status, limit, params.Offset,
	)
	if err != nil {
		s.record("list_executions", "trade_executions", start, err)
		return nil, err
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			s.record("list_executions", "trade_executions", start, err)
			return nil, err
		}
		out = append(out, exec)
	}
	err = rows.Err()
	s.record("list_executions", "trade_executions", start, err)
	return out, err
}

// ListEvents retrieves the events of an execution in emission order.
func (s *Store) ListEvents(ctx context.Context, executionID string) ([]*Event, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT sequence, event_type, action_type, data
		FROM trade_events
		WHERE execution_id = $1
		ORDER BY sequence`,
		executionID,
	)
	if err != nil {
		s.record("list_events", "trade_events", start, err)
		return nil, err
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Event, error) {
		var (
			e      Event
			action pgtype.Text
		)
		if err := row.Scan(&e.Sequence, &e.EventType, &action, &e.Data); err != nil {
			return nil, err
		}
		e.ActionType = stringPtrFromPgtext(action)
		return &e, nil
	})
	s.record("list_events", "trade_events", start, err)
	return events, err
}

// CountExecutionsByStatus returns the number of executions per status.
func (s *Store) CountExecutionsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM trade_executions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// DeleteExecutionsOlderThan removes history recorded before the cutoff.
func (s *Store) DeleteExecutionsOlderThan(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trade_executions WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) record(operation, table string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
}

// Helper functions for type conversions

func scanExecution(row pgx.Row) (*Execution, error) {
	var (
		e                                 Execution
		txID                              int64
		abortedState, errorKind, errorMsg pgtype.Text
		amount                            string
		repayAmount                       pgtype.Text
	)
	err := row.Scan(
		&e.ID, &txID, &e.Status, &e.Mode, &abortedState, &errorKind, &errorMsg,
		&e.Payer, &e.Borrower, &e.LoanAuthority, &e.LendingProgram, &amount, &repayAmount,
		&e.Actions, &e.Logs, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.TxID = uint64(txID)
	e.AbortedState = stringPtrFromPgtext(abortedState)
	e.ErrorKind = stringPtrFromPgtext(errorKind)
	e.ErrorMessage = stringPtrFromPgtext(errorMsg)
	if e.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if repayAmount.Valid {
		v, err := strconv.ParseUint(repayAmount.String, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse repay amount %q: %w", repayAmount.String, err)
		}
		e.RepayAmount = &v
	}
	return &e, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgtextFromUint64Ptr(v *uint64) pgtype.Text {
	if v == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: strconv.FormatUint(*v, 10), Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
