package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertObservationSQL = `INSERT INTO observations (
        symbol,
        price,
        volume,
        change_24h,
        currency,
        ts,
        source
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (symbol, ts, source) DO UPDATE
    SET
        price      = EXCLUDED.price,
        volume     = EXCLUDED.volume,
        change_24h = EXCLUDED.change_24h,
        currency   = EXCLUDED.currency;`

	listObservationsBetweenSQL = `SELECT
        symbol,
        price,
        volume,
        change_24h,
        currency,
        ts,
        source,
        created_at
    FROM observations
    WHERE symbol = $1
      AND ts >= $2
      AND ts < $3
    ORDER BY ts;`

	listRecentObservationsSQL = `SELECT
        symbol,
        price,
        volume,
        change_24h,
        currency,
        ts,
        source,
        created_at
    FROM observations
    ORDER BY ts DESC
    LIMIT $1;`

	countObservationsSQL = `SELECT COUNT(*) FROM observations;`

	insertBlockedSQL = `INSERT INTO blocked_symbols (
        bucket_ts,
        symbol,
        reason
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (bucket_ts, symbol) DO UPDATE
    SET reason = EXCLUDED.reason
    RETURNING id, bucket_ts, symbol, reason, created_at;`

	listRecentBlockedSQL = `SELECT
        id,
        bucket_ts,
        symbol,
        reason,
        created_at
    FROM blocked_symbols
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteBlockedBeforeSQL = `DELETE FROM blocked_symbols WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ObservationStore defines operations for clean price sample persistence.
type ObservationStore interface {
	UpsertObservation(ctx context.Context, obs Observation) error
	ListObservationsBetween(ctx context.Context, symbol string, from, to time.Time) ([]Observation, error)
	ListRecentObservations(ctx context.Context, limit int) ([]Observation, error)
	CountObservations(ctx context.Context) (int64, error)
}

// BlockedStore defines operations for blocked-symbol auditing.
type BlockedStore interface {
	InsertBlocked(ctx context.Context, rec BlockedRecord) (BlockedRecord, error)
	ListRecentBlocked(ctx context.Context, limit int) ([]BlockedRecord, error)
	DeleteBlockedBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to observations and blocked-symbol records.
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
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertObservation persists or updates a clean price sample.
func (s *Store) UpsertObservation(ctx context.Context, obs Observation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var volume, change interface{}
	if obs.Volume != nil {
		volume = obs.Volume.String()
	}
	if obs.Change24h != nil {
		change = obs.Change24h.String()
	}

	_, execErr := pool.Exec(ctx, upsertObservationSQL,
		obs.Symbol,
		obs.Price.String(),
		volume,
		change,
		obs.Currency,
		obs.TS,
		obs.Source,
	)
	if execErr != nil {
		return fmt.Errorf("upsert observation: %w", execErr)
	}
	return nil
}

// ListObservationsBetween lists one symbol's samples within a time window.
func (s *Store) ListObservationsBetween(ctx context.Context, symbol string, from, to time.Time) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations between: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows, 0)
}

// ListRecentObservations lists the most recent samples ordered by descending timestamp.
func (s *Store) ListRecentObservations(ctx context.Context, limit int) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentObservationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent observations: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows, limit)
}

// CountObservations counts stored samples.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// InsertBlocked persists a blocked-symbol audit record.
func (s *Store) InsertBlocked(ctx context.Context, rec BlockedRecord) (BlockedRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return BlockedRecord{}, err
	}

	row := pool.QueryRow(ctx, insertBlockedSQL, rec.Bucket, rec.Symbol, rec.Reason)

	var out BlockedRecord
	if scanErr := row.Scan(
		&out.ID,
		&out.Bucket,
		&out.Symbol,
		&out.Reason,
		&out.CreatedAt,
	); scanErr != nil {
		return BlockedRecord{}, fmt.Errorf("insert blocked symbol: %w", scanErr)
	}
	return out, nil
}

// ListRecentBlocked lists the most recent blocked-symbol records.
func (s *Store) ListRecentBlocked(ctx context.Context, limit int) ([]BlockedRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentBlockedSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent blocked: %w", queryErr)
	}
	defer rows.Close()

	records := make([]BlockedRecord, 0, limit)
	for rows.Next() {
		var rec BlockedRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Bucket,
			&rec.Symbol,
			&rec.Reason,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// DeleteBlockedBefore deletes historical blocked-symbol records.
func (s *Store) DeleteBlockedBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteBlockedBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete blocked before: %w", execErr)
	}
	return nil
}

func collectObservations(rows pgx.Rows, sizeHint int) ([]Observation, error) {
	observations := make([]Observation, 0, sizeHint)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

func scanObservation(rows pgx.Rows) (Observation, error) {
	var (
		symbol    string
		priceStr  string
		volumeStr sql.NullString
		changeStr sql.NullString
		currency  string
		ts        time.Time
		source    string
		createdAt time.Time
	)

	if err := rows.Scan(
		&symbol,
		&priceStr,
		&volumeStr,
		&changeStr,
		&currency,
		&ts,
		&source,
		&createdAt,
	); err != nil {
		return Observation{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return Observation{}, fmt.Errorf("parse price: %w", err)
	}

	obs := Observation{
		Symbol:    symbol,
		Price:     price,
		Currency:  currency,
		TS:        ts,
		Source:    source,
		CreatedAt: createdAt,
	}

	if volumeStr.Valid {
		volume, err := decimal.NewFromString(volumeStr.String)
		if err != nil {
			return Observation{}, fmt.Errorf("parse volume: %w", err)
		}
		obs.Volume = &volume
	}
	if changeStr.Valid {
		change, err := decimal.NewFromString(changeStr.String)
		if err != nil {
			return Observation{}, fmt.Errorf("parse change_24h: %w", err)
		}
		obs.Change24h = &change
	}

	return obs, nil
}
