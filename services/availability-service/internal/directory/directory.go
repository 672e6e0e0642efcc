package directory

import (
	"context"

	"github.com/md-rashed-zaman/peerhours/libs/db"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/model"
)

// Lookup resolves provider display data. Unknown ids are absent from the result.
type Lookup interface {
	Providers(ctx context.Context, ids []string) (map[string]model.Provider, error)
}

// Postgres reads the profiles table.
type Postgres struct {
	q db.Querier
}

func NewPostgres(q db.Querier) *Postgres {
	return &Postgres{q: q}
}

func (p *Postgres) Providers(ctx context.Context, ids []string) (map[string]model.Provider, error) {
	out := make(map[string]model.Provider, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := p.q.Query(ctx, `
		SELECT id, display_name, COALESCE(avatar_ref, '')
		FROM profiles
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var pr model.Provider
		if err := rows.Scan(&pr.ID, &pr.DisplayName, &pr.AvatarRef); err != nil {
			return nil, err
		}
		out[pr.ID] = pr
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
