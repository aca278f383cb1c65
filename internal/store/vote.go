package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/observach/apiserver/types"
)

// VoteRepository handles persistence for votes.
type VoteRepository struct {
	db *sql.DB
}

func NewVoteRepository(db *sql.DB) *VoteRepository {
	return &VoteRepository{db: db}
}

// Upsert records the voter's value for an approved observation. An existing
// row for the same (observation, voter) pair has its value and timestamp
// overwritten; concurrent calls resolve to the last writer, never to a second
// row. ErrNotFound is returned when the observation is missing or not approved.
func (r *VoteRepository) Upsert(ctx context.Context, vote types.Vote) (types.Vote, error) {
	vote.CreatedAt = time.Now().UTC()

	const query = `
		INSERT INTO votes (id, observation_id, user_id, value, created_at)
		SELECT $1, o.id, $3, $4, $5
		FROM observations o
		WHERE o.id = $2 AND o.status = 'approved'
		ON CONFLICT (observation_id, user_id)
		DO UPDATE SET value = EXCLUDED.value, created_at = EXCLUDED.created_at
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		uuid.NewString(),
		vote.ObservationID,
		vote.VoterID,
		vote.Value,
		vote.CreatedAt,
	).Scan(&vote.ID); err != nil {
		return types.Vote{}, translate(err)
	}
	return vote, nil
}

func (r *VoteRepository) ListByObservations(ctx context.Context, observationIDs []string) ([]types.Vote, error) {
	if len(observationIDs) == 0 {
		return []types.Vote{}, nil
	}

	const query = `
		SELECT id, observation_id, user_id, value, created_at
		FROM votes
		WHERE observation_id = ANY($1::uuid[])`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(observationIDs))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	votes := make([]types.Vote, 0)
	for rows.Next() {
		var v types.Vote
		if err := rows.Scan(&v.ID, &v.ObservationID, &v.VoterID, &v.Value, &v.CreatedAt); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return votes, nil
}
