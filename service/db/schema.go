package db

import "context"

// schema creates the trade history tables. Statements are idempotent so
// Migrate can run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS trade_executions (
    id              TEXT PRIMARY KEY,
    tx_id           BIGINT NOT NULL,
    status          TEXT NOT NULL,
    mode            TEXT NOT NULL,
    aborted_state   TEXT,
    error_kind      TEXT,
    error_message   TEXT,
    payer           TEXT NOT NULL,
    borrower        TEXT NOT NULL,
    loan_authority  TEXT NOT NULL,
    lending_program TEXT NOT NULL,
    amount          NUMERIC(20, 0) NOT NULL,
    repay_amount    NUMERIC(20, 0),
    actions         TEXT[] NOT NULL DEFAULT '{}',
    logs            TEXT[] NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS trade_executions_borrower_idx
    ON trade_executions (borrower, created_at DESC);

CREATE TABLE IF NOT EXISTS trade_events (
    execution_id TEXT NOT NULL REFERENCES trade_executions (id) ON DELETE CASCADE,
    sequence     INT NOT NULL,
    event_type   TEXT NOT NULL,
    action_type  TEXT,
    data         BYTEA NOT NULL,
    PRIMARY KEY (execution_id, sequence)
);
`

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}
