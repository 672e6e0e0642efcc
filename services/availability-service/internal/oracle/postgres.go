package oracle

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/peerhours/libs/db"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/model"
)

// Postgres asks the is_provider_available SQL function, which owns the booking tables.
// A NULL answer maps to Unknown.
type Postgres struct {
	q db.Querier
}

func NewPostgres(q db.Querier) *Postgres {
	return &Postgres{q: q}
}

func (p *Postgres) IsAvailable(ctx context.Context, providerID string, start time.Time, durationMinutes int) (Availability, error) {
	var ok *bool
	err := p.q.QueryRow(ctx, `SELECT is_provider_available($1, $2, $3)`, providerID, start.UTC(), durationMinutes).Scan(&ok)
	if err != nil {
		return Unknown, model.Wrap(model.KindOracleUnavailable, "oracle.postgres", err)
	}
	switch {
	case ok == nil:
		return Unknown, nil
	case *ok:
		return Available, nil
	default:
		return Unavailable, nil
	}
}
