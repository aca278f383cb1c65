// Package storetest provides in-memory repositories with the same observable
// behavior as the Postgres ones in package store, for use in tests.
package storetest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/observach/apiserver/internal/store"
	"github.com/observach/apiserver/types"
)

// Memory holds every table behind one lock. Rows are kept in insertion order.
type Memory struct {
	mu sync.Mutex

	// Now stamps new rows. Tests replace it to control ordering.
	Now func() time.Time

	// CreateObservationErr, when set, fails the next observation insert.
	CreateObservationErr error

	users        []types.User
	observations []types.Observation
	comments     []types.Comment
	votes        []types.Vote
}

func NewMemory() *Memory {
	return &Memory{Now: func() time.Time { return time.Now().UTC() }}
}

// Users returns the user repository view.
func (m *Memory) Users() *Users { return &Users{m} }

// Observations returns the observation repository view.
func (m *Memory) Observations() *Observations { return &Observations{m} }

// Comments returns the comment repository view.
func (m *Memory) Comments() *Comments { return &Comments{m} }

// Votes returns the vote repository view.
func (m *Memory) Votes() *Votes { return &Votes{m} }

// ObservationCount reports how many observations were stored.
func (m *Memory) ObservationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observations)
}

func (m *Memory) findObservation(id string) int {
	return slices.IndexFunc(m.observations, func(o types.Observation) bool { return o.ID == id })
}

type Users struct{ m *Memory }

func (r *Users) GetByID(ctx context.Context, id string) (types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *Users) GetByEmail(ctx context.Context, email string) (types.User, error) {
	email = store.NormalizeEmail(email)
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *Users) Create(ctx context.Context, user types.User) (types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	user.Email = store.NormalizeEmail(user.Email)
	for _, u := range r.m.users {
		if u.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = r.m.Now()
	r.m.users = append(r.m.users, user)
	return user, nil
}

type Observations struct{ m *Memory }

func (r *Observations) Get(ctx context.Context, id string) (types.Observation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if i := r.m.findObservation(id); i >= 0 {
		return r.m.observations[i], nil
	}
	return types.Observation{}, store.ErrNotFound
}

func (r *Observations) Create(ctx context.Context, obs types.Observation) (types.Observation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.CreateObservationErr; err != nil {
		r.m.CreateObservationErr = nil
		return types.Observation{}, err
	}
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}
	obs.Status = types.StatusPending
	obs.ObservedAt = obs.ObservedAt.UTC()
	obs.CreatedAt = r.m.Now()
	r.m.observations = append(r.m.observations, obs)
	return obs, nil
}

func (r *Observations) SetStatus(ctx context.Context, id string, status types.Status) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	i := r.m.findObservation(id)
	if i < 0 {
		return store.ErrNotFound
	}
	r.m.observations[i].Status = status
	return nil
}

func (r *Observations) ListByStatus(ctx context.Context, status types.Status) ([]types.Observation, error) {
	return r.filter(func(o types.Observation) bool { return o.Status == status }), nil
}

func (r *Observations) ListByAuthor(ctx context.Context, authorID string) ([]types.Observation, error) {
	return r.filter(func(o types.Observation) bool { return o.AuthorID == authorID }), nil
}

// ListAwaitingReview reads comments and observations under one lock, like
// the single query it stands in for.
func (r *Observations) ListAwaitingReview(ctx context.Context) ([]types.Observation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	withPending := make(map[string]bool)
	for _, c := range r.m.comments {
		if c.Status == types.StatusPending {
			withPending[c.ObservationID] = true
		}
	}
	return r.filterLocked(func(o types.Observation) bool {
		return o.Status == types.StatusPending || withPending[o.ID]
	}), nil
}

func (r *Observations) filter(keep func(types.Observation) bool) []types.Observation {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.filterLocked(keep)
}

func (r *Observations) filterLocked(keep func(types.Observation) bool) []types.Observation {
	out := make([]types.Observation, 0)
	for _, o := range r.m.observations {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

type Comments struct{ m *Memory }

// Create only accepts comments on approved observations.
func (r *Comments) Create(ctx context.Context, comment types.Comment) (types.Comment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	i := r.m.findObservation(comment.ObservationID)
	if i < 0 || r.m.observations[i].Status != types.StatusApproved {
		return types.Comment{}, store.ErrNotFound
	}
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	comment.Status = types.StatusPending
	comment.CreatedAt = r.m.Now()
	r.m.comments = append(r.m.comments, comment)
	return comment, nil
}

func (r *Comments) SetStatus(ctx context.Context, id string, status types.Status) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := range r.m.comments {
		if r.m.comments[i].ID == id {
			r.m.comments[i].Status = status
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *Comments) ListByObservations(ctx context.Context, observationIDs []string) ([]types.Comment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]types.Comment, 0)
	for _, c := range r.m.comments {
		if slices.Contains(observationIDs, c.ObservationID) {
			out = append(out, c)
		}
	}
	return out, nil
}

type Votes struct{ m *Memory }

// Upsert replaces the voter's earlier vote in place.
func (r *Votes) Upsert(ctx context.Context, vote types.Vote) (types.Vote, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	i := r.m.findObservation(vote.ObservationID)
	if i < 0 || r.m.observations[i].Status != types.StatusApproved {
		return types.Vote{}, store.ErrNotFound
	}
	vote.CreatedAt = r.m.Now()
	for j := range r.m.votes {
		existing := &r.m.votes[j]
		if existing.ObservationID == vote.ObservationID && existing.VoterID == vote.VoterID {
			existing.Value = vote.Value
			existing.CreatedAt = vote.CreatedAt
			return *existing, nil
		}
	}
	vote.ID = uuid.NewString()
	r.m.votes = append(r.m.votes, vote)
	return vote, nil
}

func (r *Votes) ListByObservations(ctx context.Context, observationIDs []string) ([]types.Vote, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]types.Vote, 0)
	for _, v := range r.m.votes {
		if slices.Contains(observationIDs, v.ObservationID) {
			out = append(out, v)
		}
	}
	return out, nil
}
