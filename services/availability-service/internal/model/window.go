package model

import (
	"time"
)

// Window is a weekly recurring availability window owned by one provider.
// DayOfWeek follows time.Weekday: 0 is Sunday.
type Window struct {
	ID         string
	ProviderID string
	DayOfWeek  time.Weekday
	StartTime  TimeOfDay
	EndTime    TimeOfDay
	Active     bool
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks the day and time bounds shared by create and update.
func (w Window) Validate() error {
	const op = "window.validate"
	if w.ProviderID == "" {
		return E(KindInputInvalid, op, "provider_id is required")
	}
	if w.DayOfWeek < time.Sunday || w.DayOfWeek > time.Saturday {
		return E(KindInputInvalid, op, "day_of_week must be between 0 and 6")
	}
	if w.StartTime < 0 || w.StartTime >= MinutesPerDay {
		return E(KindInputInvalid, op, "start_time must be between 00:00 and 23:59")
	}
	if w.EndTime <= 0 || w.EndTime > MinutesPerDay {
		return E(KindInputInvalid, op, "end_time must be between 00:01 and 24:00")
	}
	if w.StartTime >= w.EndTime {
		return E(KindInputInvalid, op, "start_time must be before end_time")
	}
	return nil
}

// Covers reports whether a booking of the given length starting at t fits inside the window.
func (w Window) Covers(t TimeOfDay, durationMinutes int) bool {
	return w.StartTime <= t && t.Add(durationMinutes) <= w.EndTime
}

// WindowPatch carries optional changes. Ownership cannot be patched.
type WindowPatch struct {
	DayOfWeek       *time.Weekday
	StartTime       *TimeOfDay
	EndTime         *TimeOfDay
	Active          *bool
	ExpectedVersion *int64
}

func (p WindowPatch) Empty() bool {
	return p.DayOfWeek == nil && p.StartTime == nil && p.EndTime == nil && p.Active == nil
}

// Apply returns w with the patch merged in.
func (p WindowPatch) Apply(w Window) Window {
	if p.DayOfWeek != nil {
		w.DayOfWeek = *p.DayOfWeek
	}
	if p.StartTime != nil {
		w.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		w.EndTime = *p.EndTime
	}
	if p.Active != nil {
		w.Active = *p.Active
	}
	return w
}

type Provider struct {
	ID          string
	DisplayName string
	AvatarRef   string
}

// ActiveWindow is an active window joined with its provider's display data.
type ActiveWindow struct {
	Window
	Provider Provider
}

// TimeSlot is computed per query and never persisted.
type TimeSlot struct {
	ProviderID          string    `json:"provider_id"`
	ProviderDisplayName string    `json:"provider_display_name"`
	ProviderAvatarRef   string    `json:"provider_avatar_ref,omitempty"`
	Date                Date      `json:"date"`
	StartTime           TimeOfDay `json:"start_time"`
	EndTime             TimeOfDay `json:"end_time"`
	DurationMinutes     int       `json:"duration_minutes"`
	StartsAt            time.Time `json:"starts_at"`
}

// AuthContext identifies the caller of a mutating operation.
type AuthContext struct {
	UserID string
	Role   string
}
