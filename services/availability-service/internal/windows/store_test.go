package windows

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/storage"
)

var fixedNow = time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)

type stubDirectory struct {
	providers map[string]model.Provider
	err       error
}

func (s stubDirectory) Providers(context.Context, []string) (map[string]model.Provider, error) {
	return s.providers, s.err
}

type mutationLog struct{ ops []string }

func (m *mutationLog) ObserveMutation(op string, err error) {
	status := "ok"
	if err != nil {
		status = model.KindOf(err).String()
	}
	m.ops = append(m.ops, op+":"+status)
}

func newStore(t *testing.T, dir stubDirectory) (*Store, pgxmock.PgxPoolIface, *mutationLog) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	obs := &mutationLog{}
	s := NewStore(storage.NewWindowRepository(mock), outbox.NewRepository(), dir, obs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return fixedNow }
	s.newID = func() string { return "w-new" }
	return s, mock, obs
}

func windowRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "provider_id", "day_of_week", "start_minute", "end_minute", "is_active", "version", "created_at", "updated_at"})
}

var provider = model.AuthContext{UserID: "p1", Role: "provider"}

func TestCreate(t *testing.T) {
	s, mock, obs := newStore(t, stubDirectory{})

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("p1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`INSERT INTO availability_windows`).WithArgs("w-new", "p1", 1, 540, 1020, true).
		WillReturnRows(pgxmock.NewRows([]string{"version", "created_at", "updated_at"}).AddRow(int64(1), fixedNow, fixedNow))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(outbox.AggregateWindow, "p1", outbox.EventWindowCreated, pgxmock.AnyArg(), "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	w, err := s.Create(context.Background(), provider, NewWindow{
		DayOfWeek: time.Monday,
		StartTime: model.NewTimeOfDay(9, 0),
		EndTime:   model.NewTimeOfDay(17, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, "w-new", w.ID)
	assert.Equal(t, "p1", w.ProviderID)
	assert.True(t, w.Active, "omitted active defaults to true")
	assert.Equal(t, int64(1), w.Version)
	assert.Equal(t, []string{"create:ok"}, obs.ops)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsBeforeTouchingStore(t *testing.T) {
	s, mock, _ := newStore(t, stubDirectory{})
	inactive := false

	_, err := s.Create(context.Background(), provider, NewWindow{
		ProviderID: "someone-else",
		DayOfWeek:  time.Monday,
		StartTime:  model.NewTimeOfDay(9, 0),
		EndTime:    model.NewTimeOfDay(10, 0),
	})
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = s.Create(context.Background(), model.AuthContext{}, NewWindow{ProviderID: "p1"})
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = s.Create(context.Background(), provider, NewWindow{
		DayOfWeek: 7,
		StartTime: model.NewTimeOfDay(9, 0),
		EndTime:   model.NewTimeOfDay(10, 0),
		Active:    &inactive,
	})
	assert.ErrorIs(t, err, model.ErrInputInvalid)

	_, err = s.Create(context.Background(), provider, NewWindow{
		DayOfWeek: time.Monday,
		StartTime: model.NewTimeOfDay(10, 0),
		EndTime:   model.NewTimeOfDay(10, 0),
	})
	assert.ErrorIs(t, err, model.ErrInputInvalid)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateStoreFailure(t *testing.T) {
	s, mock, _ := newStore(t, stubDirectory{})
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err := s.Create(context.Background(), provider, NewWindow{
		DayOfWeek: time.Monday,
		StartTime: model.NewTimeOfDay(9, 0),
		EndTime:   model.NewTimeOfDay(10, 0),
	})
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}

func TestUpdate(t *testing.T) {
	s, mock, _ := newStore(t, stubDirectory{})
	end := model.NewTimeOfDay(12, 0)
	version := int64(2)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("p1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("w1").
		WillReturnRows(windowRows().AddRow("w1", "p1", 1, 540, 1020, true, int64(2), fixedNow, fixedNow))
	mock.ExpectQuery(`UPDATE availability_windows`).WithArgs("w1", int64(2), 1, 540, 720, true).
		WillReturnRows(pgxmock.NewRows([]string{"version", "updated_at"}).AddRow(int64(3), fixedNow))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(outbox.AggregateWindow, "p1", outbox.EventWindowUpdated, pgxmock.AnyArg(), "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	w, err := s.Update(context.Background(), provider, "w1", model.WindowPatch{EndTime: &end, ExpectedVersion: &version})
	require.NoError(t, err)
	assert.Equal(t, model.NewTimeOfDay(12, 0), w.EndTime)
	assert.Equal(t, model.NewTimeOfDay(9, 0), w.StartTime)
	assert.Equal(t, int64(3), w.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRejections(t *testing.T) {
	end := model.NewTimeOfDay(8, 0)
	stale := int64(1)

	cases := []struct {
		name  string
		rows  *pgxmock.Rows
		err   error
		patch model.WindowPatch
		want  error
	}{
		{
			name:  "other provider",
			rows:  windowRows().AddRow("w1", "p2", 1, 540, 1020, true, int64(2), fixedNow, fixedNow),
			patch: model.WindowPatch{EndTime: &end},
			want:  model.ErrUnauthorized,
		},
		{
			name:  "missing window",
			err:   pgx.ErrNoRows,
			patch: model.WindowPatch{EndTime: &end},
			want:  model.ErrNotFound,
		},
		{
			name:  "stale version",
			rows:  windowRows().AddRow("w1", "p1", 1, 540, 1020, true, int64(2), fixedNow, fixedNow),
			patch: model.WindowPatch{EndTime: &end, ExpectedVersion: &stale},
			want:  model.ErrConflict,
		},
		{
			name:  "end before start after merge",
			rows:  windowRows().AddRow("w1", "p1", 1, 540, 1020, true, int64(2), fixedNow, fixedNow),
			patch: model.WindowPatch{EndTime: &end},
			want:  model.ErrInputInvalid,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, mock, _ := newStore(t, stubDirectory{})
			mock.ExpectBegin()
			mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("p1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
			q := mock.ExpectQuery(`FOR UPDATE`).WithArgs("w1")
			if tc.err != nil {
				q.WillReturnError(tc.err)
			} else {
				q.WillReturnRows(tc.rows)
			}
			mock.ExpectRollback()

			_, err := s.Update(context.Background(), provider, "w1", tc.patch)
			assert.ErrorIs(t, err, tc.want)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUpdateLostRaceIsConflict(t *testing.T) {
	s, mock, _ := newStore(t, stubDirectory{})
	inactive := false

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("p1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("w1").
		WillReturnRows(windowRows().AddRow("w1", "p1", 1, 540, 1020, true, int64(2), fixedNow, fixedNow))
	mock.ExpectQuery(`UPDATE availability_windows`).WithArgs("w1", int64(2), 1, 540, 1020, false).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.SetActive(context.Background(), provider, "w1", inactive)
	assert.ErrorIs(t, err, model.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateEmptyPatch(t *testing.T) {
	s, _, _ := newStore(t, stubDirectory{})
	_, err := s.Update(context.Background(), provider, "w1", model.WindowPatch{})
	assert.ErrorIs(t, err, model.ErrInputInvalid)
}

func TestSetActive(t *testing.T) {
	s, mock, obs := newStore(t, stubDirectory{})

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("p1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("w1").
		WillReturnRows(windowRows().AddRow("w1", "p1", 3, 600, 660, true, int64(5), fixedNow, fixedNow))
	mock.ExpectQuery(`UPDATE availability_windows`).WithArgs("w1", int64(5), 3, 600, 660, false).
		WillReturnRows(pgxmock.NewRows([]string{"version", "updated_at"}).AddRow(int64(6), fixedNow))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(outbox.AggregateWindow, "p1", outbox.EventWindowUpdated, pgxmock.AnyArg(), "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	w, err := s.SetActive(context.Background(), provider, "w1", false)
	require.NoError(t, err)
	assert.False(t, w.Active)
	assert.Equal(t, time.Wednesday, w.DayOfWeek)
	assert.Equal(t, []string{"set_active:ok"}, obs.ops)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	s, mock, _ := newStore(t, stubDirectory{})

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("p1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("w1").
		WillReturnRows(windowRows().AddRow("w1", "p1", 1, 540, 1020, true, int64(4), fixedNow, fixedNow))
	mock.ExpectExec(`DELETE FROM availability_windows`).WithArgs("w1", int64(4)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(outbox.AggregateWindow, "p1", outbox.EventWindowDeleted, pgxmock.AnyArg(), "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	version := int64(4)
	require.NoError(t, s.Delete(context.Background(), provider, "w1", &version))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteStaleVersion(t *testing.T) {
	s, mock, obs := newStore(t, stubDirectory{})

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("p1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("w1").
		WillReturnRows(windowRows().AddRow("w1", "p1", 1, 540, 1020, true, int64(4), fixedNow, fixedNow))
	mock.ExpectRollback()

	stale := int64(1)
	err := s.Delete(context.Background(), provider, "w1", &stale)
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, []string{"delete:conflict"}, obs.ops)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	s, mock, _ := newStore(t, stubDirectory{})
	mock.ExpectQuery(`FROM availability_windows`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveJoinsDirectory(t *testing.T) {
	s, mock, _ := newStore(t, stubDirectory{providers: map[string]model.Provider{
		"p1": {ID: "p1", DisplayName: "Dana", AvatarRef: "avatars/p1.png"},
	}})
	mock.ExpectQuery(`WHERE is_active`).WillReturnRows(windowRows().
		AddRow("w1", "p1", 1, 540, 1020, true, int64(1), fixedNow, fixedNow).
		AddRow("w2", "p2", 1, 600, 660, true, int64(1), fixedNow, fixedNow).
		AddRow("w3", "p1", 2, 540, 600, true, int64(1), fixedNow, fixedNow))

	got, err := s.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Dana", got[0].Provider.DisplayName)
	assert.Equal(t, "", got[1].Provider.DisplayName, "unknown provider keeps empty display fields")
	assert.Equal(t, "p2", got[1].Provider.ID)
	assert.Equal(t, "w3", got[2].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveStoreFailure(t *testing.T) {
	s, mock, _ := newStore(t, stubDirectory{})
	mock.ExpectQuery(`WHERE is_active`).WillReturnError(errors.New("connection reset"))

	_, err := s.ListActive(context.Background())
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}

func TestListRequiresProvider(t *testing.T) {
	s, mock, _ := newStore(t, stubDirectory{})
	_, err := s.List(context.Background(), "")
	assert.ErrorIs(t, err, model.ErrInputInvalid)

	mock.ExpectQuery(`WHERE provider_id = \$1`).WithArgs("p1").WillReturnRows(windowRows().
		AddRow("w1", "p1", 0, 540, 600, false, int64(1), fixedNow, fixedNow))
	ws, err := s.List(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.Equal(t, time.Sunday, ws[0].DayOfWeek)
	assert.False(t, ws[0].Active)
}
