package listings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snapsell/backend/internal/models"
)

// ErrListingNotFound covers both a missing row and a row owned by someone
// else. The two cases are indistinguishable on purpose: answering "exists
// but not yours" would leak other users' listing ids.
var ErrListingNotFound = errors.New("listing not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, l *models.Listing) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO listings (id, user_id, title, price, description, condition, location, brand,
			pickup_available, shipping_available, pickup_notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		RETURNING created_at, updated_at
	`, l.ID, l.UserID, l.Title, l.Price, l.Description, l.Condition, l.Location, l.Brand,
		l.PickupAvailable, l.ShippingAvailable, l.PickupNotes,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, userID, id uuid.UUID) (*models.Listing, error) {
	var l models.Listing
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, title, price, description, condition, location, brand,
			pickup_available, shipping_available, pickup_notes, created_at, updated_at
		FROM listings WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(
		&l.ID, &l.UserID, &l.Title, &l.Price, &l.Description, &l.Condition, &l.Location, &l.Brand,
		&l.PickupAvailable, &l.ShippingAvailable, &l.PickupNotes, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Listing, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, title, price, description, condition, location, brand,
			pickup_available, shipping_available, pickup_notes, created_at, updated_at
		FROM listings WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.Title, &l.Price, &l.Description, &l.Condition, &l.Location, &l.Brand,
			&l.PickupAvailable, &l.ShippingAvailable, &l.PickupNotes, &l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) Update(ctx context.Context, l *models.Listing) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE listings
		SET title = $3, price = $4, description = $5, condition = $6, location = $7, brand = $8,
			pickup_available = $9, shipping_available = $10, pickup_notes = $11, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING updated_at
	`, l.ID, l.UserID, l.Title, l.Price, l.Description, l.Condition, l.Location, l.Brand,
		l.PickupAvailable, l.ShippingAvailable, l.PickupNotes,
	).Scan(&l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrListingNotFound
	}
	return err
}

func (r *Repository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM listings WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrListingNotFound
	}
	return nil
}
