package availability

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/oracle"
)

const (
	DefaultMaxRangeDays      = 93
	DefaultOracleConcurrency = 8
	DefaultOracleTimeout     = 2 * time.Second
)

// Candidate is a slot before the oracle has been consulted.
type Candidate struct {
	Window   model.ActiveWindow
	Date     model.Date
	Start    model.TimeOfDay
	Duration int
	StartsAt time.Time
}

func (c Candidate) slot() model.TimeSlot {
	return model.TimeSlot{
		ProviderID:          c.Window.ProviderID,
		ProviderDisplayName: c.Window.Provider.DisplayName,
		ProviderAvatarRef:   c.Window.Provider.AvatarRef,
		Date:                c.Date,
		StartTime:           c.Start,
		EndTime:             c.Start.Add(c.Duration),
		DurationMinutes:     c.Duration,
		StartsAt:            c.StartsAt,
	}
}

// ReasonUnknown marks a candidate the oracle answered without a verdict.
const ReasonUnknown = "unknown"

// CandidateFailure records a candidate dropped because the oracle could not answer,
// either with an error or with an Unknown verdict.
type CandidateFailure struct {
	ProviderID string          `json:"provider_id"`
	Date       model.Date      `json:"date"`
	StartTime  model.TimeOfDay `json:"start_time"`
	Reason     string          `json:"reason"`
}

type SlotResult struct {
	Slots    []model.TimeSlot   `json:"slots"`
	Excluded []CandidateFailure `json:"excluded,omitempty"`
}

type GeneratorConfig struct {
	Concurrency  int
	CallTimeout  time.Duration
	MaxRangeDays int
	Location     *time.Location
}

// Generator expands weekly windows into concrete slots and filters them through the oracle.
type Generator struct {
	oracle oracle.Oracle
	cfg    GeneratorConfig
	logger *slog.Logger
}

func NewGenerator(o oracle.Oracle, cfg GeneratorConfig, logger *slog.Logger) *Generator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultOracleConcurrency
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultOracleTimeout
	}
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = DefaultMaxRangeDays
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{oracle: o, cfg: cfg, logger: logger}
}

// Generate returns the open slots for the active windows over the inclusive range.
func (g *Generator) Generate(ctx context.Context, windows []model.ActiveWindow, r model.DateRange, durationMinutes int) (SlotResult, error) {
	if err := g.Validate(r, durationMinutes); err != nil {
		return SlotResult{}, err
	}
	cands := Candidates(windows, r, durationMinutes, g.cfg.Location)
	return g.Filter(ctx, cands)
}

// Validate rejects a non-positive duration and ranges longer than the configured maximum.
// A range whose start is after its end is valid and produces no slots.
func (g *Generator) Validate(r model.DateRange, durationMinutes int) error {
	const op = "availability.validate"
	if durationMinutes <= 0 {
		return model.E(model.KindInputInvalid, op, "duration_minutes must be positive")
	}
	if durationMinutes > model.MinutesPerDay {
		return model.E(model.KindInputInvalid, op, "duration_minutes must not exceed one day")
	}
	if days := r.Start.DaysUntil(r.End) + 1; days > g.cfg.MaxRangeDays {
		return model.E(model.KindInputInvalid, op, "date range is too long")
	}
	return nil
}

// Candidates lists every slot the windows allow over the range, in output order:
// date, then window (dayOfWeek, startTime), then cursor. A provider offering the
// same start instant from overlapping windows yields one candidate.
func Candidates(windows []model.ActiveWindow, r model.DateRange, durationMinutes int, loc *time.Location) []Candidate {
	if durationMinutes <= 0 {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	byDay := make(map[time.Weekday][]model.ActiveWindow, 7)
	for _, w := range sortedWindows(windows) {
		byDay[w.DayOfWeek] = append(byDay[w.DayOfWeek], w)
	}

	var out []Candidate
	seen := make(map[candidateKey]struct{})
	for _, d := range r.Days() {
		for _, w := range byDay[d.Weekday()] {
			for cursor := w.StartTime; cursor.Add(durationMinutes) <= w.EndTime; cursor = cursor.Add(durationMinutes) {
				c := Candidate{
					Window:   w,
					Date:     d,
					Start:    cursor,
					Duration: durationMinutes,
					StartsAt: d.At(cursor, loc).UTC(),
				}
				key := c.key()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, c)
			}
		}
	}
	return out
}

type candidateKey struct {
	providerID string
	at         int64
}

func (c Candidate) key() candidateKey {
	return candidateKey{providerID: c.Window.ProviderID, at: c.StartsAt.Unix()}
}

// sortedWindows orders by (dayOfWeek, startTime) and breaks ties by id.
func sortedWindows(windows []model.ActiveWindow) []model.ActiveWindow {
	out := make([]model.ActiveWindow, len(windows))
	copy(out, windows)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DayOfWeek != b.DayOfWeek {
			return a.DayOfWeek < b.DayOfWeek
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
	return out
}

type outcome struct {
	availability oracle.Availability
	err          error
}

// Filter asks the oracle about every candidate on a bounded pool and keeps the admitted ones
// in candidate order. Oracle errors and Unknown answers exclude the candidate and are reported;
// cancellation of ctx aborts with no partial result.
func (g *Generator) Filter(ctx context.Context, cands []Candidate) (SlotResult, error) {
	results := make([]outcome, len(cands))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for i, c := range cands {
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			callCtx, cancel := context.WithTimeout(egCtx, g.cfg.CallTimeout)
			defer cancel()
			a, err := g.oracle.IsAvailable(callCtx, c.Window.ProviderID, c.StartsAt, c.Duration)
			results[i] = outcome{availability: a, err: err}
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return SlotResult{}, err
	}

	res := SlotResult{Slots: make([]model.TimeSlot, 0, len(cands))}
	for i, c := range cands {
		o := results[i]
		if o.err != nil {
			res.Excluded = append(res.Excluded, CandidateFailure{
				ProviderID: c.Window.ProviderID,
				Date:       c.Date,
				StartTime:  c.Start,
				Reason:     o.err.Error(),
			})
			g.logger.Warn("oracle check failed",
				"provider_id", c.Window.ProviderID,
				"starts_at", c.StartsAt,
				"err", o.err,
			)
			continue
		}
		switch o.availability {
		case oracle.Available:
			res.Slots = append(res.Slots, c.slot())
		case oracle.Unknown:
			res.Excluded = append(res.Excluded, CandidateFailure{
				ProviderID: c.Window.ProviderID,
				Date:       c.Date,
				StartTime:  c.Start,
				Reason:     ReasonUnknown,
			})
		}
	}
	return res, nil
}
