package event

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/pkg/errors"
)

var ErrNotFound = stderrors.New("event not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetEvent(ctx context.Context, id string) (*Event, error) {
	query := `SELECT id, slug, title, short_description, event_start, event_end, all_day,
            location_name, location_address, location_city, location_state, location_zip,
            registration_url
        FROM events WHERE id = $1`

	e := &Event{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.Slug, &e.Title, &e.ShortDescription, &e.Start, &e.End, &e.AllDay,
		&e.LocationName, &e.LocationAddress, &e.LocationCity, &e.LocationState, &e.LocationZip,
		&e.RegistrationURL,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "eventRepo.GetEvent.Scan")
	}
	return e, nil
}
