package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReservationRepository struct {
	db *pgxpool.Pool
}

func NewReservationRepository(db *pgxpool.Pool) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) Reserve(ctx context.Context, res domain.Reservation) (domain.Reservation, error) {
	query := `
		INSERT INTO meeting_reservations (id, created_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET expires_at = GREATEST(meeting_reservations.expires_at, EXCLUDED.expires_at)
		RETURNING id, created_by, created_at, expires_at`

	var out domain.Reservation
	err := r.db.QueryRow(ctx, query, res.ID, res.CreatedBy, res.CreatedAt, res.ExpiresAt).
		Scan(&out.ID, &out.CreatedBy, &out.CreatedAt, &out.ExpiresAt)
	if err != nil {
		return domain.Reservation{}, err
	}
	return out, nil
}

func (r *ReservationRepository) Get(ctx context.Context, id string) (domain.Reservation, error) {
	query := `SELECT id, created_by, created_at, expires_at FROM meeting_reservations WHERE id = $1`

	var out domain.Reservation
	err := r.db.QueryRow(ctx, query, id).Scan(&out.ID, &out.CreatedBy, &out.CreatedAt, &out.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Reservation{}, domain.ErrMeetingNotFound
		}
		return domain.Reservation{}, err
	}
	return out, nil
}

func (r *ReservationRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM meeting_reservations WHERE id = $1`, id)
	return err
}

func (r *ReservationRepository) Purge(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM meeting_reservations WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
