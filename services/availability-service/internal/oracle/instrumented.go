package oracle

import (
	"context"
	"time"
)

type Observer interface {
	ObserveOracle(result string, d time.Duration)
}

// Instrumented records the result and latency of every call to the wrapped oracle.
type Instrumented struct {
	next Oracle
	obs  Observer
}

func NewInstrumented(next Oracle, obs Observer) *Instrumented {
	return &Instrumented{next: next, obs: obs}
}

func (i *Instrumented) IsAvailable(ctx context.Context, providerID string, start time.Time, durationMinutes int) (Availability, error) {
	began := time.Now()
	a, err := i.next.IsAvailable(ctx, providerID, start, durationMinutes)
	if i.obs != nil {
		result := a.String()
		if err != nil {
			result = "error"
		}
		i.obs.ObserveOracle(result, time.Since(began))
	}
	return a, err
}
