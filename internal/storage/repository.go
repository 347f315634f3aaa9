package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"hotel-cache-loss/internal/lossmatrix"
	"hotel-cache-loss/internal/storage/migrations"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = errors.New("storage: loss run not found")
)

const (
	insertRunSQL = `INSERT INTO loss_runs (
        started_at,
        finished_at,
        refresh_override,
        vendors,
        hotels,
        mean_loss,
        failed_vendors,
        vendor_names
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id, created_at;`

	selectRunColumns = `SELECT
        id,
        started_at,
        finished_at,
        refresh_override,
        vendors,
        hotels,
        mean_loss,
        failed_vendors,
        created_at
    FROM loss_runs`

	listRecentRunsSQL = selectRunColumns + `
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	getRunSQL = selectRunColumns + `
    WHERE id = $1;`

	latestRunIDSQL = `SELECT id FROM loss_runs ORDER BY created_at DESC, id DESC LIMIT 1;`

	vendorNamesSQL = `SELECT vendor_names FROM loss_runs WHERE id = $1;`

	listCellsSQL = `SELECT vendor, hotel, loss
    FROM loss_cells
    WHERE run_id = $1
    ORDER BY vendor, hotel;`

	deleteRunsBeforeSQL = `DELETE FROM loss_runs WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

var lossCellColumns = []string{"run_id", "vendor", "hotel", "loss"}

// RunStore defines persistence of loss runs and their matrices.
type RunStore interface {
	InsertRun(ctx context.Context, run LossRun, matrix lossmatrix.Matrix) (LossRun, error)
	ListRecentRuns(ctx context.Context, limit int) ([]LossRun, error)
	GetRun(ctx context.Context, id int64) (LossRun, error)
	LatestRunID(ctx context.Context) (int64, error)
	LoadMatrix(ctx context.Context, runID int64) (lossmatrix.Matrix, error)
	DeleteRunsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists loss runs in PostgreSQL.
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

// Migrate applies the embedded schema. Every migration is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	migs, err := migrations.Ordered()
	if err != nil {
		return err
	}
	for _, m := range migs {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
	}
	return nil
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

// InsertRun stores the run summary and copies every matrix cell in one transaction.
func (s *Store) InsertRun(ctx context.Context, run LossRun, matrix lossmatrix.Matrix) (LossRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return LossRun{}, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return LossRun{}, fmt.Errorf("begin insert run: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	failed := run.FailedVendors
	if failed == nil {
		failed = []string{}
	}

	if err := tx.QueryRow(ctx, insertRunSQL,
		run.StartedAt,
		run.FinishedAt,
		run.RefreshOverride,
		run.Vendors,
		run.Hotels,
		run.MeanLoss.String(),
		failed,
		vendorNames(matrix),
	).Scan(&run.ID, &run.CreatedAt); err != nil {
		return LossRun{}, fmt.Errorf("insert loss run: %w", err)
	}

	rows := cellRows(run.ID, matrix)
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"loss_cells"}, lossCellColumns, pgx.CopyFromRows(rows)); err != nil {
			return LossRun{}, fmt.Errorf("copy loss cells: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return LossRun{}, fmt.Errorf("commit insert run: %w", err)
	}
	run.FailedVendors = failed
	return run, nil
}

// vendorNames lists every vendor column of the matrix, including vendors without
// hotels, which leave no loss_cells rows behind.
func vendorNames(matrix lossmatrix.Matrix) []string {
	names := make([]string, 0, len(matrix))
	for v := range matrix {
		names = append(names, v)
	}
	sort.Strings(names)
	return names
}

// restoreVendors adds an empty column for every stored vendor missing from matrix.
func restoreVendors(matrix lossmatrix.Matrix, names []string) {
	for _, v := range names {
		if _, ok := matrix[v]; !ok {
			matrix[v] = map[string]int64{}
		}
	}
}

func cellRows(runID int64, matrix lossmatrix.Matrix) [][]any {
	vendors := make([]string, 0, len(matrix))
	for v := range matrix {
		vendors = append(vendors, v)
	}
	sort.Strings(vendors)

	var rows [][]any
	for _, vendor := range vendors {
		hotels := make([]string, 0, len(matrix[vendor]))
		for h := range matrix[vendor] {
			hotels = append(hotels, h)
		}
		sort.Strings(hotels)
		for _, hotel := range hotels {
			rows = append(rows, []any{runID, vendor, hotel, matrix[vendor][hotel]})
		}
	}
	return rows
}

// ListRecentRuns lists the most recent runs, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]LossRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]LossRun, 0, limit)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// GetRun fetches a single run summary.
func (s *Store) GetRun(ctx context.Context, id int64) (LossRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return LossRun{}, err
	}

	run, err := scanRun(pool.QueryRow(ctx, getRunSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return LossRun{}, ErrRunNotFound
	}
	return run, err
}

// LatestRunID returns the id of the newest run.
func (s *Store) LatestRunID(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var id int64
	if scanErr := pool.QueryRow(ctx, latestRunIDSQL).Scan(&id); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return 0, ErrRunNotFound
		}
		return 0, fmt.Errorf("latest run id: %w", scanErr)
	}
	return id, nil
}

// LoadMatrix rebuilds the loss matrix persisted for a run.
func (s *Store) LoadMatrix(ctx context.Context, runID int64) (lossmatrix.Matrix, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var names []string
	if scanErr := pool.QueryRow(ctx, vendorNamesSQL, runID).Scan(&names); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("load vendor names: %w", scanErr)
	}

	rows, queryErr := pool.Query(ctx, listCellsSQL, runID)
	if queryErr != nil {
		return nil, fmt.Errorf("list loss cells: %w", queryErr)
	}
	defer rows.Close()

	matrix := lossmatrix.Matrix{}
	for rows.Next() {
		var (
			vendor, hotel string
			loss          int64
		)
		if err := rows.Scan(&vendor, &hotel, &loss); err != nil {
			return nil, err
		}
		matrix.Set(vendor, hotel, loss)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	restoreVendors(matrix, names)
	return matrix, nil
}

// DeleteRunsBefore prunes historical runs; cells cascade.
func (s *Store) DeleteRunsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteRunsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete runs before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func scanRun(row pgx.Row) (LossRun, error) {
	var (
		run     LossRun
		meanStr string
	)
	if err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.RefreshOverride,
		&run.Vendors,
		&run.Hotels,
		&meanStr,
		&run.FailedVendors,
		&run.CreatedAt,
	); err != nil {
		return LossRun{}, err
	}

	mean, err := decimal.NewFromString(meanStr)
	if err != nil {
		return LossRun{}, fmt.Errorf("parse mean loss: %w", err)
	}
	run.MeanLoss = mean
	return run, nil
}

var (
	_ RunStore       = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
