package availability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/model"
)

// WindowSource lists every active window joined with provider display data.
type WindowSource interface {
	ListActive(ctx context.Context) ([]model.ActiveWindow, error)
}

type Recorder interface {
	ObserveQuery(query string, err error, d time.Duration)
	ObserveSlots(n int)
}

type Service struct {
	windows WindowSource
	gen     *Generator
	rec     Recorder
	tracer  trace.Tracer
	logger  *slog.Logger
}

func NewService(windows WindowSource, gen *Generator, rec Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		windows: windows,
		gen:     gen,
		rec:     rec,
		tracer:  otel.Tracer("availability"),
		logger:  logger,
	}
}

// ListOpenSlots returns every admitted slot of the given length across the inclusive range.
func (s *Service) ListOpenSlots(ctx context.Context, r model.DateRange, durationMinutes int) (res SlotResult, err error) {
	ctx, span := s.tracer.Start(ctx, "availability.ListOpenSlots", trace.WithAttributes(
		attribute.String("range.start", r.Start.String()),
		attribute.String("range.end", r.End.String()),
		attribute.Int("duration_minutes", durationMinutes),
	))
	began := time.Now()
	defer func() {
		s.finish(span, "list_open_slots", err, began)
		if err == nil {
			s.observeSlots(len(res.Slots))
		}
	}()

	if err := s.gen.Validate(r, durationMinutes); err != nil {
		return SlotResult{}, err
	}

	windows, err := s.listActive(ctx)
	if err != nil {
		return SlotResult{}, err
	}
	res, err = s.gen.Generate(ctx, windows, r, durationMinutes)
	if err != nil {
		return SlotResult{}, err
	}
	span.SetAttributes(
		attribute.Int("slots", len(res.Slots)),
		attribute.Int("excluded", len(res.Excluded)),
	)
	return res, nil
}

// FindFreeProviders returns providers with an active window covering [t, t+duration) on date
// whose oracle answer admits the booking. Providers are unique and in window order.
func (s *Service) FindFreeProviders(ctx context.Context, date model.Date, t model.TimeOfDay, durationMinutes int) (providers []model.Provider, err error) {
	const op = "availability.find_free_providers"
	ctx, span := s.tracer.Start(ctx, "availability.FindFreeProviders", trace.WithAttributes(
		attribute.String("date", date.String()),
		attribute.String("time", t.String()),
		attribute.Int("duration_minutes", durationMinutes),
	))
	began := time.Now()
	defer func() { s.finish(span, "find_free_providers", err, began) }()

	if durationMinutes <= 0 {
		return nil, model.E(model.KindInputInvalid, op, "duration_minutes must be positive")
	}
	if t < 0 || t >= model.MinutesPerDay {
		return nil, model.E(model.KindInputInvalid, op, "time must be between 00:00 and 23:59")
	}

	windows, err := s.listActive(ctx)
	if err != nil {
		return nil, err
	}

	weekday := date.Weekday()
	var cands []Candidate
	seen := make(map[string]struct{})
	for _, w := range sortedWindows(windows) {
		if w.DayOfWeek != weekday || !w.Covers(t, durationMinutes) {
			continue
		}
		if _, dup := seen[w.ProviderID]; dup {
			continue
		}
		seen[w.ProviderID] = struct{}{}
		cands = append(cands, Candidate{
			Window:   w,
			Date:     date,
			Start:    t,
			Duration: durationMinutes,
			StartsAt: date.At(t, s.gen.cfg.Location).UTC(),
		})
	}

	res, err := s.gen.Filter(ctx, cands)
	if err != nil {
		return nil, err
	}
	providers = make([]model.Provider, 0, len(res.Slots))
	for _, slot := range res.Slots {
		providers = append(providers, model.Provider{
			ID:          slot.ProviderID,
			DisplayName: slot.ProviderDisplayName,
			AvatarRef:   slot.ProviderAvatarRef,
		})
	}
	span.SetAttributes(attribute.Int("providers", len(providers)))
	return providers, nil
}

func (s *Service) listActive(ctx context.Context) ([]model.ActiveWindow, error) {
	windows, err := s.windows.ListActive(ctx)
	if err == nil {
		return windows, nil
	}
	var me *model.Error
	if errors.As(err, &me) {
		return nil, err
	}
	return nil, model.Wrap(model.KindStoreUnavailable, "availability.list_active", err)
}

func (s *Service) finish(span trace.Span, query string, err error, began time.Time) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if model.KindOf(err) != model.KindInputInvalid {
			s.logger.Error("availability query failed", "query", query, "err", err)
		}
	}
	span.End()
	if s.rec != nil {
		s.rec.ObserveQuery(query, err, time.Since(began))
	}
}

func (s *Service) observeSlots(n int) {
	if s.rec != nil {
		s.rec.ObserveSlots(n)
	}
}
