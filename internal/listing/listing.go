package listing

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"

	"github.com/pkg/errors"
)

const StatusActive = "active"

var ErrNotFound = stderrors.New("listing not found")

// Listing is the part of a boat listing the messaging flows need.
type Listing struct {
	ID              string   `json:"id"`
	OwnerID         string   `json:"owner_id"`
	Title           string   `json:"title"`
	Make            string   `json:"make"`
	Model           string   `json:"model"`
	Price           *float64 `json:"price"`
	Status          string   `json:"status"`
	PrimaryPhotoURL *string  `json:"primary_photo_url"`
}

func (l *Listing) Active() bool { return l.Status == StatusActive }

// DisplayTitle falls back to "make model" for listings created without a title.
func DisplayTitle(title, mk, model string) string {
	if title != "" {
		return title
	}
	return strings.TrimSpace(mk + " " + model)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// primaryPhoto picks the primary photo, or the first one uploaded.
const primaryPhoto = `(SELECT p.photo_url FROM boat_photos p WHERE p.boat_id = b.id
        ORDER BY p.is_primary DESC, p.id ASC LIMIT 1)`

func (r *Repository) GetListing(ctx context.Context, id string) (*Listing, error) {
	query := `SELECT b.id, b.owner_id, b.title, b.make, b.model, b.price::float8, b.status, ` + primaryPhoto + `
        FROM boats b WHERE b.id = $1`

	l := &Listing{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&l.ID, &l.OwnerID, &l.Title, &l.Make, &l.Model, &l.Price, &l.Status, &l.PrimaryPhotoURL,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "listingRepo.GetListing.Scan")
	}
	return l, nil
}
