package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"yieldvault/internal/vault"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertVaultStateSQL = `INSERT INTO vault_state (
        id,
        total_shares,
        total_principal,
        total_allocated_subsidy,
        updated_at
    ) VALUES (1,$1,$2,$3,NOW())
    ON CONFLICT (id) DO UPDATE
    SET total_shares            = EXCLUDED.total_shares,
        total_principal         = EXCLUDED.total_principal,
        total_allocated_subsidy = EXCLUDED.total_allocated_subsidy,
        updated_at              = NOW();`

	selectVaultStateSQL = `SELECT
        total_shares,
        total_principal,
        total_allocated_subsidy
    FROM vault_state
    WHERE id = 1;`

	upsertPositionSQL = `INSERT INTO positions (
        address,
        principal,
        shares,
        reserved_subsidy,
        last_debt_interest,
        updated_at
    ) VALUES ($1,$2,$3,$4,$5,NOW())
    ON CONFLICT (address) DO UPDATE
    SET principal          = EXCLUDED.principal,
        shares             = EXCLUDED.shares,
        reserved_subsidy   = EXCLUDED.reserved_subsidy,
        last_debt_interest = EXCLUDED.last_debt_interest,
        updated_at         = NOW();`

	listPositionsSQL = `SELECT
        address,
        principal,
        shares,
        reserved_subsidy,
        last_debt_interest
    FROM positions
    WHERE principal <> '0' OR shares <> '0' OR reserved_subsidy <> '0';`

	insertEventSQL = `INSERT INTO ledger_events (
        id,
        kind,
        caller,
        receiver,
        owner,
        assets,
        shares,
        interest,
        price,
        reservation,
        principal_paid,
        yield_paid,
        subsidy_paid,
        note,
        occurred_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15);`

	listRecentEventsSQL = `SELECT
        id,
        kind,
        caller,
        receiver,
        owner,
        assets,
        shares,
        interest,
        price,
        reservation,
        principal_paid,
        yield_paid,
        subsidy_paid,
        note,
        occurred_at,
        created_at
    FROM ledger_events
    ORDER BY created_at DESC
    LIMIT $1;`

	upsertYieldSampleSQL = `INSERT INTO yield_samples (
        bucket_ts,
        total_assets,
        total_principal,
        total_shares,
        available_yield,
        allocated_subsidy,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET total_assets      = EXCLUDED.total_assets,
        total_principal   = EXCLUDED.total_principal,
        total_shares      = EXCLUDED.total_shares,
        available_yield   = EXCLUDED.available_yield,
        allocated_subsidy = EXCLUDED.allocated_subsidy,
        status            = EXCLUDED.status,
        error             = EXCLUDED.error;`

	listSamplesBetweenSQL = `SELECT
        bucket_ts,
        total_assets,
        total_principal,
        total_shares,
        available_yield,
        allocated_subsidy,
        status,
        error,
        created_at
    FROM yield_samples
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
    ORDER BY bucket_ts;`

	listRecentSamplesSQL = `SELECT
        bucket_ts,
        total_assets,
        total_principal,
        total_shares,
        available_yield,
        allocated_subsidy,
        status,
        error,
        created_at
    FROM yield_samples
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM yield_samples;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// YieldSampleStore defines operations for yield sample persistence.
type YieldSampleStore interface {
	UpsertYieldSample(ctx context.Context, sample YieldSample) error
	ListSamplesBetween(ctx context.Context, from, to time.Time) ([]YieldSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]YieldSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// EventStore defines read access to the ledger journal.
type EventStore interface {
	ListRecentEvents(ctx context.Context, limit int) ([]EventRow, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the ledger journal, vault state, and samples.
// It implements vault.Journal: every Record lands in one transaction.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Record persists a completed ledger operation: the state snapshot, every
// touched position, and the event, atomically.
func (s *Store) Record(ctx context.Context, entry vault.JournalEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, upsertVaultStateSQL,
		numeric(entry.State.TotalShares),
		numeric(entry.State.TotalPrincipal),
		numeric(entry.State.TotalAllocatedSubsidy),
	); err != nil {
		return fmt.Errorf("upsert vault state: %w", err)
	}

	for _, pos := range entry.Positions {
		if _, err := tx.Exec(ctx, upsertPositionSQL,
			pos.User.Hex(),
			numeric(pos.Principal),
			numeric(pos.Shares),
			numeric(pos.ReservedSubsidy),
			numeric(pos.LastRecordedDebtInterest),
		); err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
	}

	ev := entry.Event
	if _, err := tx.Exec(ctx, insertEventSQL,
		ev.ID,
		string(ev.Kind),
		ev.Caller.Hex(),
		ev.Receiver.Hex(),
		ev.Owner.Hex(),
		numericPtr(ev.Assets),
		numericPtr(ev.Shares),
		numericPtr(ev.Interest),
		numericPtr(ev.Price),
		numericPtr(ev.Reservation),
		numericPtr(ev.PrincipalPaid),
		numericPtr(ev.YieldPaid),
		numericPtr(ev.SubsidyPaid),
		ev.Note,
		ev.At,
	); err != nil {
		return fmt.Errorf("insert ledger event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit journal tx: %w", err)
	}
	return nil
}

var _ vault.Journal = (*Store)(nil)

// LoadState rehydrates the vault totals and live positions. A missing state
// row yields zero totals, not an error.
func (s *Store) LoadState(ctx context.Context) (vault.StateSnapshot, []vault.PositionSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return vault.StateSnapshot{}, nil, err
	}

	state := vault.StateSnapshot{
		TotalShares:           big.NewInt(0),
		TotalPrincipal:        big.NewInt(0),
		TotalAllocatedSubsidy: big.NewInt(0),
	}

	var sharesStr, principalStr, allocatedStr string
	err = pool.QueryRow(ctx, selectVaultStateSQL).Scan(&sharesStr, &principalStr, &allocatedStr)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return state, nil, nil
	case err != nil:
		return vault.StateSnapshot{}, nil, fmt.Errorf("load vault state: %w", err)
	}

	if state.TotalShares, err = parseNumeric(sharesStr); err != nil {
		return vault.StateSnapshot{}, nil, err
	}
	if state.TotalPrincipal, err = parseNumeric(principalStr); err != nil {
		return vault.StateSnapshot{}, nil, err
	}
	if state.TotalAllocatedSubsidy, err = parseNumeric(allocatedStr); err != nil {
		return vault.StateSnapshot{}, nil, err
	}

	rows, err := pool.Query(ctx, listPositionsSQL)
	if err != nil {
		return vault.StateSnapshot{}, nil, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	positions := make([]vault.PositionSnapshot, 0)
	for rows.Next() {
		var addr, principal, shares, reserved, interest string
		if err := rows.Scan(&addr, &principal, &shares, &reserved, &interest); err != nil {
			return vault.StateSnapshot{}, nil, err
		}
		snap := vault.PositionSnapshot{User: common.HexToAddress(addr)}
		if snap.Principal, err = parseNumeric(principal); err != nil {
			return vault.StateSnapshot{}, nil, err
		}
		if snap.Shares, err = parseNumeric(shares); err != nil {
			return vault.StateSnapshot{}, nil, err
		}
		if snap.ReservedSubsidy, err = parseNumeric(reserved); err != nil {
			return vault.StateSnapshot{}, nil, err
		}
		if snap.LastRecordedDebtInterest, err = parseNumeric(interest); err != nil {
			return vault.StateSnapshot{}, nil, err
		}
		positions = append(positions, snap)
	}
	if rows.Err() != nil {
		return vault.StateSnapshot{}, nil, rows.Err()
	}
	return state, positions, nil
}

// ListRecentEvents lists the newest journal entries first.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]EventRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]EventRow, 0, limit)
	for rows.Next() {
		var (
			row      EventRow
			assets   sql.NullString
			shares   sql.NullString
			interest sql.NullString
			price    sql.NullString
			reserved sql.NullString
			prin     sql.NullString
			yld      sql.NullString
			subsidy  sql.NullString
		)
		if err := rows.Scan(
			&row.ID,
			&row.Kind,
			&row.Caller,
			&row.Receiver,
			&row.Owner,
			&assets,
			&shares,
			&interest,
			&price,
			&reserved,
			&prin,
			&yld,
			&subsidy,
			&row.Note,
			&row.At,
			&row.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		if row.Assets, convErr = parseNullNumeric(assets); convErr != nil {
			return nil, convErr
		}
		if row.Shares, convErr = parseNullNumeric(shares); convErr != nil {
			return nil, convErr
		}
		if row.Interest, convErr = parseNullNumeric(interest); convErr != nil {
			return nil, convErr
		}
		if row.Price, convErr = parseNullNumeric(price); convErr != nil {
			return nil, convErr
		}
		if row.Reservation, convErr = parseNullNumeric(reserved); convErr != nil {
			return nil, convErr
		}
		if row.PrincipalPaid, convErr = parseNullNumeric(prin); convErr != nil {
			return nil, convErr
		}
		if row.YieldPaid, convErr = parseNullNumeric(yld); convErr != nil {
			return nil, convErr
		}
		if row.SubsidyPaid, convErr = parseNullNumeric(subsidy); convErr != nil {
			return nil, convErr
		}

		events = append(events, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// UpsertYieldSample persists or updates a yield observation.
func (s *Store) UpsertYieldSample(ctx context.Context, sample YieldSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	if _, execErr := pool.Exec(ctx, upsertYieldSampleSQL,
		sample.Bucket,
		numeric(sample.TotalAssets),
		numeric(sample.TotalPrincipal),
		numeric(sample.TotalShares),
		numeric(sample.AvailableYield),
		numeric(sample.AllocatedSubsidy),
		sample.Status,
		errMsg,
	); execErr != nil {
		return fmt.Errorf("upsert yield sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time) ([]YieldSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, 0)
}

// ListRecentSamples lists the most recent samples, newest first.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]YieldSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, limit)
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func collectSamples(rows pgx.Rows, sizeHint int) ([]YieldSample, error) {
	samples := make([]YieldSample, 0, sizeHint)
	for rows.Next() {
		var (
			sample    YieldSample
			assets    string
			principal string
			shares    string
			available string
			allocated string
			errMsg    sql.NullString
		)
		if err := rows.Scan(
			&sample.Bucket,
			&assets,
			&principal,
			&shares,
			&available,
			&allocated,
			&sample.Status,
			&errMsg,
			&sample.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		if sample.TotalAssets, convErr = parseNumeric(assets); convErr != nil {
			return nil, convErr
		}
		if sample.TotalPrincipal, convErr = parseNumeric(principal); convErr != nil {
			return nil, convErr
		}
		if sample.TotalShares, convErr = parseNumeric(shares); convErr != nil {
			return nil, convErr
		}
		if sample.AvailableYield, convErr = parseNumeric(available); convErr != nil {
			return nil, convErr
		}
		if sample.AllocatedSubsidy, convErr = parseNumeric(allocated); convErr != nil {
			return nil, convErr
		}
		if errMsg.Valid {
			msg := errMsg.String
			sample.Error = &msg
		}

		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// numeric renders a big.Int for a NUMERIC column; nil becomes "0".
func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// numericPtr renders an optional big.Int; nil stays NULL.
func numericPtr(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func parseNumeric(v string) (*big.Int, error) {
	parsed, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("parse numeric %q", v)
	}
	return parsed, nil
}

func parseNullNumeric(v sql.NullString) (*big.Int, error) {
	if !v.Valid {
		return nil, nil
	}
	return parseNumeric(v.String)
}
