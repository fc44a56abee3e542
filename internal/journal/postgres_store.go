package journal

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coachpo/lotmatch/errs"
	"github.com/coachpo/lotmatch/ledger"
)

const (
	recordUpsertSQL = `
INSERT INTO trading_records (
    name,
    opening_side,
    match_policy,
    next_sequence,
    total_fees,
    payload,
    created_at,
    updated_at
)
VALUES (
    @name,
    @opening_side,
    @match_policy,
    @next_sequence,
    @total_fees,
    @payload::jsonb,
    NOW(),
    NOW()
)
ON CONFLICT (name) DO UPDATE SET
    opening_side = EXCLUDED.opening_side,
    match_policy = EXCLUDED.match_policy,
    next_sequence = EXCLUDED.next_sequence,
    total_fees = EXCLUDED.total_fees,
    payload = EXCLUDED.payload,
    updated_at = NOW()
WHERE trading_records.next_sequence <= EXCLUDED.next_sequence;
`

	closedInsertSQL = `
INSERT INTO closed_positions (
    record_name,
    entry_sequence,
    exit_sequence,
    entry_time,
    exit_time,
    entry_price,
    exit_price,
    amount,
    gross_profit,
    total_cost,
    net_profit
)
VALUES (
    @record_name,
    @entry_sequence,
    @exit_sequence,
    @entry_time,
    @exit_time,
    @entry_price,
    @exit_price,
    @amount,
    @gross_profit,
    @total_cost,
    @net_profit
)
ON CONFLICT (record_name, entry_sequence, exit_sequence) DO NOTHING;
`

	recordSelectSQL = `SELECT payload FROM trading_records WHERE name = @name;`

	recordListSQL = `SELECT name FROM trading_records ORDER BY name;`

	recordDeleteSQL = `DELETE FROM trading_records WHERE name = @name;`

	closedSelectSQL = `
SELECT
    entry_sequence,
    exit_sequence,
    amount::text,
    net_profit::text
FROM closed_positions
WHERE record_name = @name
ORDER BY exit_time DESC, exit_sequence DESC
LIMIT @limit;
`

	defaultClosedLimit = 100
	maxDialInterval    = 5 * time.Second
)

// PostgresStore persists trading records in Postgres. The full record payload
// lands in trading_records and every closed position is mirrored into the
// append-only closed_positions table for querying.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ClosedPositionRow is the queryable projection of one persisted closed position.
type ClosedPositionRow struct {
	EntrySequence uint64
	ExitSequence  uint64
	Amount        decimal.Decimal
	NetProfit     decimal.Decimal
}

// NewPostgresStore dials Postgres, retrying with exponential backoff until the
// context expires. Transient startup races with the database container or
// sidecar proxies resolve within a few attempts.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.New("journal/postgres", errs.CodeStorage,
			errs.WithMessage("create pool"), errs.WithCause(err))
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxDialInterval
	for {
		pingErr := pool.Ping(ctx)
		if pingErr == nil {
			return &PostgresStore{pool: pool}, nil
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxDialInterval
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, errs.New("journal/postgres", errs.CodeStorage,
				errs.WithMessage("database unreachable"), errs.WithCause(pingErr))
		case <-time.After(sleep):
		}
	}
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SaveRecord implements Store. The record row and its closed positions are
// written in one transaction; a stale writer loses the upsert and gets a
// conflict back.
func (s *PostgresStore) SaveRecord(ctx context.Context, record *ledger.LiveTradingRecord) error {
	if record == nil {
		return errs.New("journal/postgres", errs.CodeStorage,
			errs.WithMessage("record required"))
	}
	name, err := validateName(record.Name())
	if err != nil {
		return err
	}
	snap := record.Snapshot()
	payload, err := json.Marshal(record)
	if err != nil {
		return errs.New("journal/postgres", errs.CodeSerialization,
			errs.WithMessage("encode record"), errs.WithCause(err))
	}
	totalFees, err := numericFromDecimal(snap.TotalFees)
	if err != nil {
		return errs.New("journal/postgres", errs.CodeStorage,
			errs.WithMessage("encode total fees"), errs.WithCause(err))
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:       pgx.ReadCommitted,
		AccessMode:     pgx.ReadWrite,
		DeferrableMode: pgx.NotDeferrable,
	})
	if err != nil {
		return errs.New("journal/postgres", errs.CodeStorage,
			errs.WithMessage("begin tx"), errs.WithCause(err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	args := pgx.NamedArgs{
		"name":          name,
		"opening_side":  string(snap.OpeningSide),
		"match_policy":  string(snap.MatchPolicy),
		"next_sequence": int64(snap.NextSequence),
		"total_fees":    totalFees,
		"payload":       string(payload),
	}
	tag, err := tx.Exec(ctx, recordUpsertSQL, args)
	if err != nil {
		return errs.New("journal/postgres", errs.CodeStorage,
			errs.WithMessage("upsert record"), errs.WithCause(err))
	}
	if tag.RowsAffected() == 0 {
		return errs.New("journal/postgres", errs.CodeConflict,
			errs.WithMessage("stored record is ahead of this writer"))
	}

	for _, pos := range snap.ClosedPositions {
		if err := s.insertClosed(ctx, tx, name, pos); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return errs.New("journal/postgres", errs.CodeStorage,
			errs.WithMessage("commit tx"), errs.WithCause(err))
	}
	return nil
}

func (s *PostgresStore) insertClosed(ctx context.Context, tx pgx.Tx, name string, pos ledger.ClosedPosition) error {
	entryPrice, err := numericFromDecimal(pos.Entry.Price)
	if err != nil {
		return errs.New("journal/postgres", errs.CodeStorage, errs.WithCause(err))
	}
	exitPrice, err := numericFromDecimal(pos.Exit.Price)
	if err != nil {
		return errs.New("journal/postgres", errs.CodeStorage, errs.WithCause(err))
	}
	amount, err := numericFromDecimal(pos.Entry.Amount)
	if err != nil {
		return errs.New("journal/postgres", errs.CodeStorage, errs.WithCause(err))
	}
	gross, err := numericFromDecimal(pos.GrossProfit)
	if err != nil {
		return errs.New("journal/postgres", errs.CodeStorage, errs.WithCause(err))
	}
	cost, err := numericFromDecimal(pos.TotalCost)
	if err != nil {
		return errs.New("journal/postgres", errs.CodeStorage, errs.WithCause(err))
	}
	net, err := numericFromDecimal(pos.NetProfit)
	if err != nil {
		return errs.New("journal/postgres", errs.CodeStorage, errs.WithCause(err))
	}

	args := pgx.NamedArgs{
		"record_name":    name,
		"entry_sequence": int64(pos.EntrySequence),
		"exit_sequence":  int64(pos.ExitSequence),
		"entry_time":     pos.Entry.Time,
		"exit_time":      pos.Exit.Time,
		"entry_price":    entryPrice,
		"exit_price":     exitPrice,
		"amount":         amount,
		"gross_profit":   gross,
		"total_cost":     cost,
		"net_profit":     net,
	}
	if _, err := tx.Exec(ctx, closedInsertSQL, args); err != nil {
		return errs.New("journal/postgres", errs.CodeStorage,
			errs.WithMessage("insert closed position"), errs.WithCause(err))
	}
	return nil
}

// LoadRecord implements Store.
func (s *PostgresStore) LoadRecord(ctx context.Context, name string) (*ledger.LiveTradingRecord, error) {
	trimmed, err := validateName(name)
	if err != nil {
		return nil, err
	}
	var payload []byte
	row := s.pool.QueryRow(ctx, recordSelectSQL, pgx.NamedArgs{"name": trimmed})
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New("journal/postgres", errs.CodeNotFound,
				errs.WithMessage("record "+trimmed+" not found"))
		}
		return nil, errs.New("journal/postgres", errs.CodeStorage,
			errs.WithMessage("select record"), errs.WithCause(err))
	}

	record := new(ledger.LiveTradingRecord)
	if err := json.Unmarshal(payload, record); err != nil {
		return nil, errs.New("journal/postgres", errs.CodeSerialization,
			errs.WithMessage("decode record"), errs.WithCause(err))
	}
	if err := record.Rehydrate(nil); err != nil {
		return nil, err
	}
	return record, nil
}

// ListRecords implements Store.
func (s *PostgresStore) ListRecords(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, recordListSQL)
	if err != nil {
		return nil, errs.New("journal/postgres", errs.CodeStorage,
			errs.WithMessage("list records"), errs.WithCause(err))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.New("journal/postgres", errs.CodeStorage,
				errs.WithMessage("scan record name"), errs.WithCause(err))
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New("journal/postgres", errs.CodeStorage,
			errs.WithMessage("iterate records"), errs.WithCause(err))
	}
	return names, nil
}

// DeleteRecord implements Store.
func (s *PostgresStore) DeleteRecord(ctx context.Context, name string) error {
	trimmed, err := validateName(name)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, recordDeleteSQL, pgx.NamedArgs{"name": trimmed})
	if err != nil {
		return errs.New("journal/postgres", errs.CodeStorage,
			errs.WithMessage("delete record"), errs.WithCause(err))
	}
	if tag.RowsAffected() == 0 {
		return errs.New("journal/postgres", errs.CodeNotFound,
			errs.WithMessage("record "+trimmed+" not found"))
	}
	return nil
}

// RecentClosedPositions queries the newest persisted closed positions for a
// record, most recent exit first.
func (s *PostgresStore) RecentClosedPositions(ctx context.Context, name string, limit int) ([]ClosedPositionRow, error) {
	trimmed, err := validateName(name)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultClosedLimit
	}
	rows, err := s.pool.Query(ctx, closedSelectSQL, pgx.NamedArgs{"name": trimmed, "limit": limit})
	if err != nil {
		return nil, errs.New("journal/postgres", errs.CodeStorage,
			errs.WithMessage("list closed positions"), errs.WithCause(err))
	}
	defer rows.Close()

	var out []ClosedPositionRow
	for rows.Next() {
		var (
			entrySeq int64
			exitSeq  int64
			amount   string
			net      string
		)
		if err := rows.Scan(&entrySeq, &exitSeq, &amount, &net); err != nil {
			return nil, errs.New("journal/postgres", errs.CodeStorage,
				errs.WithMessage("scan closed position"), errs.WithCause(err))
		}
		amountDec, err := decimalFromText(amount)
		if err != nil {
			return nil, errs.New("journal/postgres", errs.CodeStorage, errs.WithCause(err))
		}
		netDec, err := decimalFromText(net)
		if err != nil {
			return nil, errs.New("journal/postgres", errs.CodeStorage, errs.WithCause(err))
		}
		out = append(out, ClosedPositionRow{
			EntrySequence: uint64(entrySeq),
			ExitSequence:  uint64(exitSeq),
			Amount:        amountDec,
			NetProfit:     netDec,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New("journal/postgres", errs.CodeStorage,
			errs.WithMessage("iterate closed positions"), errs.WithCause(err))
	}
	return out, nil
}
