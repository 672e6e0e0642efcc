package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/peerhours/libs/db"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/model"
)

// WindowRepository persists weekly windows. Times are stored as minutes since midnight.
type WindowRepository struct {
	pool db.TxQuerier
}

func NewWindowRepository(pool db.TxQuerier) *WindowRepository {
	return &WindowRepository{pool: pool}
}

// InTx runs fn in a single transaction.
func (r *WindowRepository) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

// LockProvider serializes window mutations for one provider until the transaction ends.
func (r *WindowRepository) LockProvider(ctx context.Context, tx pgx.Tx, providerID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, providerID)
	return err
}

func (r *WindowRepository) Insert(ctx context.Context, tx pgx.Tx, w *model.Window) error {
	return tx.QueryRow(ctx, `
		INSERT INTO availability_windows (id, provider_id, day_of_week, start_minute, end_minute, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING version, created_at, updated_at
	`, w.ID, w.ProviderID, int(w.DayOfWeek), int(w.StartTime), int(w.EndTime), w.Active).Scan(&w.Version, &w.CreatedAt, &w.UpdatedAt)
}

func (r *WindowRepository) Get(ctx context.Context, id string) (model.Window, error) {
	return scanWindow(r.pool.QueryRow(ctx, selectWindow+` WHERE id = $1`, id))
}

func (r *WindowRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Window, error) {
	return scanWindow(tx.QueryRow(ctx, selectWindow+` WHERE id = $1 FOR UPDATE`, id))
}

// Update writes w if the stored version still equals w.Version, returning the bumped version.
// pgx.ErrNoRows means the row changed or vanished underneath the caller.
func (r *WindowRepository) Update(ctx context.Context, tx pgx.Tx, w *model.Window) error {
	return tx.QueryRow(ctx, `
		UPDATE availability_windows
		SET day_of_week = $3,
			start_minute = $4,
			end_minute = $5,
			is_active = $6,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`, w.ID, w.Version, int(w.DayOfWeek), int(w.StartTime), int(w.EndTime), w.Active).Scan(&w.Version, &w.UpdatedAt)
}

func (r *WindowRepository) Delete(ctx context.Context, tx pgx.Tx, id string, version int64) (bool, error) {
	tag, err := tx.Exec(ctx, `
		DELETE FROM availability_windows
		WHERE id = $1 AND version = $2
	`, id, version)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *WindowRepository) ListByProvider(ctx context.Context, providerID string) ([]model.Window, error) {
	rows, err := r.pool.Query(ctx, selectWindow+`
		WHERE provider_id = $1
		ORDER BY day_of_week, start_minute, id
	`, providerID)
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

func (r *WindowRepository) ListActive(ctx context.Context) ([]model.Window, error) {
	rows, err := r.pool.Query(ctx, selectWindow+`
		WHERE is_active
		ORDER BY day_of_week, start_minute, id
	`)
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

const selectWindow = `
	SELECT id, provider_id, day_of_week, start_minute, end_minute, is_active, version, created_at, updated_at
	FROM availability_windows`

func scanWindow(row pgx.Row) (model.Window, error) {
	var (
		w                model.Window
		day, start, end  int
		created, updated time.Time
	)
	if err := row.Scan(&w.ID, &w.ProviderID, &day, &start, &end, &w.Active, &w.Version, &created, &updated); err != nil {
		return model.Window{}, err
	}
	w.DayOfWeek = time.Weekday(day)
	w.StartTime = model.TimeOfDay(start)
	w.EndTime = model.TimeOfDay(end)
	w.CreatedAt = created
	w.UpdatedAt = updated
	return w, nil
}

func collectWindows(rows pgx.Rows) ([]model.Window, error) {
	defer rows.Close()
	var out []model.Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
