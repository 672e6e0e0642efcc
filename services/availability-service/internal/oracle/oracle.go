package oracle

import (
	"context"
	"time"
)

// Availability is the oracle's three-valued answer. The zero value is Unknown.
type Availability uint8

const (
	Unknown Availability = iota
	Available
	Unavailable
)

func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Oracle answers whether a provider has no conflicting commitment for
// [start, start+durationMinutes). start is a UTC instant.
type Oracle interface {
	IsAvailable(ctx context.Context, providerID string, start time.Time, durationMinutes int) (Availability, error)
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, providerID string, start time.Time, durationMinutes int) (Availability, error)

func (f Func) IsAvailable(ctx context.Context, providerID string, start time.Time, durationMinutes int) (Availability, error) {
	return f(ctx, providerID, start, durationMinutes)
}

// Admits is the slot admission policy: only an explicit Available with no error admits a candidate.
func Admits(a Availability, err error) bool {
	return err == nil && a == Available
}
