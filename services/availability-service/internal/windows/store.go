package windows

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/peerhours/libs/db"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/directory"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/storage"
)

type MutationObserver interface {
	ObserveMutation(op string, err error)
}

// NewWindow is the create request. A nil Active means active; an empty
// ProviderID means the caller's own schedule.
type NewWindow struct {
	ProviderID string
	DayOfWeek  time.Weekday
	StartTime  model.TimeOfDay
	EndTime    model.TimeOfDay
	Active     *bool
}

// Store owns window CRUD. Every mutation runs in one transaction holding the
// provider's advisory lock and enqueues an outbox event before commit.
type Store struct {
	repo   *storage.WindowRepository
	outbox *outbox.Repository
	dir    directory.Lookup
	obs    MutationObserver
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewStore(repo *storage.WindowRepository, ob *outbox.Repository, dir directory.Lookup, obs MutationObserver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:   repo,
		outbox: ob,
		dir:    dir,
		obs:    obs,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (s *Store) Create(ctx context.Context, auth model.AuthContext, in NewWindow) (w model.Window, err error) {
	const op = "windows.create"
	defer func() { s.observe("create", err) }()

	if auth.UserID == "" {
		return model.Window{}, model.E(model.KindUnauthorized, op, "caller is not authenticated")
	}
	if in.ProviderID == "" {
		in.ProviderID = auth.UserID
	}
	if in.ProviderID != auth.UserID {
		return model.Window{}, model.E(model.KindUnauthorized, op, "windows can only be created for your own schedule")
	}
	w = model.Window{
		ID:         s.newID(),
		ProviderID: in.ProviderID,
		DayOfWeek:  in.DayOfWeek,
		StartTime:  in.StartTime,
		EndTime:    in.EndTime,
		Active:     in.Active == nil || *in.Active,
	}
	if err := w.Validate(); err != nil {
		return model.Window{}, err
	}

	err = s.repo.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.LockProvider(ctx, tx, w.ProviderID); err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, &w); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, outbox.EventWindowCreated, w)
	})
	if err != nil {
		return model.Window{}, classify(op, err)
	}
	s.logger.Info("window created", "window_id", w.ID, "provider_id", w.ProviderID)
	return w, nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Window, error) {
	const op = "windows.get"
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return model.Window{}, model.E(model.KindNotFound, op, "window not found")
		}
		return model.Window{}, model.Wrap(model.KindStoreUnavailable, op, err)
	}
	return w, nil
}

// List returns a provider's windows, active or not, ordered by (dayOfWeek, startTime).
func (s *Store) List(ctx context.Context, providerID string) ([]model.Window, error) {
	const op = "windows.list"
	if providerID == "" {
		return nil, model.E(model.KindInputInvalid, op, "provider_id is required")
	}
	ws, err := s.repo.ListByProvider(ctx, providerID)
	if err != nil {
		return nil, model.Wrap(model.KindStoreUnavailable, op, err)
	}
	return ws, nil
}

// ListActive returns every active window joined with provider display data.
// A provider missing from the directory keeps empty display fields.
func (s *Store) ListActive(ctx context.Context) ([]model.ActiveWindow, error) {
	const op = "windows.list_active"
	ws, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, model.Wrap(model.KindStoreUnavailable, op, err)
	}

	var ids []string
	seen := make(map[string]struct{})
	for _, w := range ws {
		if _, ok := seen[w.ProviderID]; ok {
			continue
		}
		seen[w.ProviderID] = struct{}{}
		ids = append(ids, w.ProviderID)
	}

	providers := map[string]model.Provider{}
	if s.dir != nil && len(ids) > 0 {
		found, err := s.dir.Providers(ctx, ids)
		if err != nil {
			s.logger.Warn("provider directory lookup failed", "err", err, "providers", len(ids))
		} else {
			providers = found
		}
	}

	out := make([]model.ActiveWindow, 0, len(ws))
	for _, w := range ws {
		p, ok := providers[w.ProviderID]
		if !ok {
			p = model.Provider{ID: w.ProviderID}
		}
		out = append(out, model.ActiveWindow{Window: w, Provider: p})
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, auth model.AuthContext, id string, patch model.WindowPatch) (w model.Window, err error) {
	const op = "windows.update"
	defer func() { s.observe("update", err) }()
	return s.update(ctx, op, auth, id, patch)
}

// SetActive toggles a window without touching its times.
func (s *Store) SetActive(ctx context.Context, auth model.AuthContext, id string, active bool) (w model.Window, err error) {
	const op = "windows.set_active"
	defer func() { s.observe("set_active", err) }()
	return s.update(ctx, op, auth, id, model.WindowPatch{Active: &active})
}

func (s *Store) update(ctx context.Context, op string, auth model.AuthContext, id string, patch model.WindowPatch) (model.Window, error) {
	if auth.UserID == "" {
		return model.Window{}, model.E(model.KindUnauthorized, op, "caller is not authenticated")
	}
	if id == "" {
		return model.Window{}, model.E(model.KindInputInvalid, op, "window id is required")
	}
	if patch.Empty() {
		return model.Window{}, model.E(model.KindInputInvalid, op, "patch has no changes")
	}

	var updated model.Window
	err := s.repo.InTx(ctx, func(tx pgx.Tx) error {
		cur, err := s.lockAndLoad(ctx, tx, op, auth, id, patch.ExpectedVersion)
		if err != nil {
			return err
		}
		next := patch.Apply(cur)
		if err := next.Validate(); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, tx, &next); err != nil {
			if db.IsNotFound(err) {
				return model.E(model.KindConflict, op, "window was modified concurrently")
			}
			return err
		}
		updated = next
		return s.enqueue(ctx, tx, outbox.EventWindowUpdated, next)
	})
	if err != nil {
		return model.Window{}, classify(op, err)
	}
	s.logger.Info("window updated", "window_id", updated.ID, "provider_id", updated.ProviderID, "version", updated.Version)
	return updated, nil
}

// Delete removes a window. A non-nil expectedVersion must match the stored
// version or the call fails with a conflict.
func (s *Store) Delete(ctx context.Context, auth model.AuthContext, id string, expectedVersion *int64) (err error) {
	const op = "windows.delete"
	defer func() { s.observe("delete", err) }()

	if auth.UserID == "" {
		return model.E(model.KindUnauthorized, op, "caller is not authenticated")
	}
	if id == "" {
		return model.E(model.KindInputInvalid, op, "window id is required")
	}

	err = s.repo.InTx(ctx, func(tx pgx.Tx) error {
		cur, err := s.lockAndLoad(ctx, tx, op, auth, id, expectedVersion)
		if err != nil {
			return err
		}
		ok, err := s.repo.Delete(ctx, tx, cur.ID, cur.Version)
		if err != nil {
			return err
		}
		if !ok {
			return model.E(model.KindConflict, op, "window was modified concurrently")
		}
		return s.enqueue(ctx, tx, outbox.EventWindowDeleted, cur)
	})
	if err != nil {
		return classify(op, err)
	}
	s.logger.Info("window deleted", "window_id", id, "provider_id", auth.UserID)
	return nil
}

// lockAndLoad takes the caller's provider lock before reading the window. Only the
// owner may mutate a window, so locking on the caller serializes that provider.
// A non-nil expectedVersion is checked against the locked row.
func (s *Store) lockAndLoad(ctx context.Context, tx pgx.Tx, op string, auth model.AuthContext, id string, expectedVersion *int64) (model.Window, error) {
	if err := s.repo.LockProvider(ctx, tx, auth.UserID); err != nil {
		return model.Window{}, err
	}
	cur, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return model.Window{}, model.E(model.KindNotFound, op, "window not found")
		}
		return model.Window{}, err
	}
	if cur.ProviderID != auth.UserID {
		return model.Window{}, model.E(model.KindUnauthorized, op, "window belongs to another provider")
	}
	if expectedVersion != nil && *expectedVersion != cur.Version {
		return model.Window{}, model.E(model.KindConflict, op, "window was modified concurrently")
	}
	return cur, nil
}

func (s *Store) enqueue(ctx context.Context, tx pgx.Tx, eventType string, w model.Window) error {
	evt, err := outbox.WindowEvent(eventType, w, s.now())
	if err != nil {
		return err
	}
	return s.outbox.Insert(ctx, tx, evt)
}

func (s *Store) observe(op string, err error) {
	if s.obs != nil {
		s.obs.ObserveMutation(op, err)
	}
}

// classify keeps domain errors and reports everything else as a store failure.
func classify(op string, err error) error {
	var me *model.Error
	if errors.As(err, &me) {
		return err
	}
	return model.Wrap(model.KindStoreUnavailable, op, err)
}
