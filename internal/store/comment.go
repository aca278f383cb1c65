package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/observach/apiserver/types"
)

// CommentRepository handles persistence for comments.
type CommentRepository struct {
	db *sql.DB
}

func NewCommentRepository(db *sql.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// Create inserts a pending comment, but only while the parent observation is
// approved. The status check and the insert are one statement, so a comment
// can never land on a post that is not visible at that instant. ErrNotFound
// is returned when the observation is missing or not approved.
func (r *CommentRepository) Create(ctx context.Context, comment types.Comment) (types.Comment, error) {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	comment.Status = types.StatusPending
	comment.CreatedAt = time.Now().UTC()

	const query = `
		INSERT INTO comments (id, observation_id, user_id, user_name, text, status, created_at)
		SELECT $1, o.id, $3, $4, $5, $6, $7
		FROM observations o
		WHERE o.id = $2 AND o.status = 'approved'
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		comment.ID,
		comment.ObservationID,
		comment.AuthorID,
		comment.AuthorName,
		comment.Text,
		comment.Status,
		comment.CreatedAt,
	).Scan(&comment.ID); err != nil {
		return types.Comment{}, translate(err)
	}
	return comment, nil
}

func (r *CommentRepository) SetStatus(ctx context.Context, id string, status types.Status) error {
	const query = `UPDATE comments SET status = $1 WHERE id = $2`
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

// ListByObservations returns every comment, of any status, attached to the
// given observations, in insertion order.
func (r *CommentRepository) ListByObservations(ctx context.Context, observationIDs []string) ([]types.Comment, error) {
	if len(observationIDs) == 0 {
		return []types.Comment{}, nil
	}

	const query = `
		SELECT id, observation_id, user_id, user_name, text, status, created_at
		FROM comments
		WHERE observation_id = ANY($1::uuid[])
		ORDER BY seq`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(observationIDs))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	comments := make([]types.Comment, 0)
	for rows.Next() {
		var c types.Comment
		if err := rows.Scan(
			&c.ID,
			&c.ObservationID,
			&c.AuthorID,
			&c.AuthorName,
			&c.Text,
			&c.Status,
			&c.CreatedAt,
		); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return comments, nil
}
