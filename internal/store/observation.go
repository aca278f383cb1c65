package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/observach/apiserver/types"
)

// ObservationRepository handles persistence for observations.
// List methods return rows in insertion order.
type ObservationRepository struct {
	db *sql.DB
}

func NewObservationRepository(db *sql.DB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

const observationColumns = `
	o.id, o.user_id, o.user_name, o.photo_ref, o.popular_name, o.scientific_name,
	o.species_group, o.location, o.sex, o.observed_at, o.status, o.created_at`

func scanObservation(s rowScanner) (types.Observation, error) {
	var obs types.Observation
	err := s.Scan(
		&obs.ID,
		&obs.AuthorID,
		&obs.AuthorName,
		&obs.PhotoRef,
		&obs.PopularName,
		&obs.ScientificName,
		&obs.Group,
		&obs.Location,
		&obs.Sex,
		&obs.ObservedAt,
		&obs.Status,
		&obs.CreatedAt,
	)
	return obs, err
}

func (r *ObservationRepository) Get(ctx context.Context, id string) (types.Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM observations o WHERE o.id = $1`
	obs, err := scanObservation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return types.Observation{}, translate(err)
	}
	return obs, nil
}

// Create inserts a new observation. The status is always pending.
func (r *ObservationRepository) Create(ctx context.Context, obs types.Observation) (types.Observation, error) {
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}
	obs.Status = types.StatusPending
	obs.ObservedAt = obs.ObservedAt.UTC()
	obs.CreatedAt = time.Now().UTC()

	const query = `
		INSERT INTO observations (
			id, user_id, user_name, photo_ref, popular_name, scientific_name,
			species_group, location, sex, observed_at, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		obs.ID,
		obs.AuthorID,
		obs.AuthorName,
		obs.PhotoRef,
		obs.PopularName,
		obs.ScientificName,
		obs.Group,
		obs.Location,
		obs.Sex,
		obs.ObservedAt,
		obs.Status,
		obs.CreatedAt,
	); err != nil {
		return types.Observation{}, translate(err)
	}
	return obs, nil
}

// SetStatus overwrites the moderation status. Writing the current value
// again is not an error.
func (r *ObservationRepository) SetStatus(ctx context.Context, id string, status types.Status) error {
	const query = `UPDATE observations SET status = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return translate(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ObservationRepository) ListByStatus(ctx context.Context, status types.Status) ([]types.Observation, error) {
	query := `SELECT ` + observationColumns + `
		FROM observations o
		WHERE o.status = $1
		ORDER BY o.seq`
	return r.list(ctx, query, status)
}

func (r *ObservationRepository) ListByAuthor(ctx context.Context, authorID string) ([]types.Observation, error) {
	query := `SELECT ` + observationColumns + `
		FROM observations o
		WHERE o.user_id = $1
		ORDER BY o.seq`
	return r.list(ctx, query, authorID)
}

// ListAwaitingReview returns every observation that is pending itself or
// carries at least one pending comment. Each observation appears once.
func (r *ObservationRepository) ListAwaitingReview(ctx context.Context) ([]types.Observation, error) {
	query := `SELECT ` + observationColumns + `
		FROM observations o
		WHERE o.status = 'pending'
		   OR EXISTS (
				SELECT 1 FROM comments c
				WHERE c.observation_id = o.id AND c.status = 'pending'
		   )
		ORDER BY o.seq`
	return r.list(ctx, query)
}

func (r *ObservationRepository) list(ctx context.Context, query string, args ...any) ([]types.Observation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	observations := make([]types.Observation, 0)
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return observations, nil
}
