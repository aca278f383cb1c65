package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/observach/apiserver/internal/metrics"
	"github.com/observach/apiserver/types"
)

// ObservationRepository defines persistence operations for observations.
// List methods return rows in insertion order.
type ObservationRepository interface {
	Get(ctx context.Context, id string) (types.Observation, error)
	Create(ctx context.Context, obs types.Observation) (types.Observation, error)
	SetStatus(ctx context.Context, id string, status types.Status) error
	ListByStatus(ctx context.Context, status types.Status) ([]types.Observation, error)
	ListByAuthor(ctx context.Context, authorID string) ([]types.Observation, error)
	ListAwaitingReview(ctx context.Context) ([]types.Observation, error)
}

// CommentRepository defines persistence operations for comments.
type CommentRepository interface {
	Create(ctx context.Context, comment types.Comment) (types.Comment, error)
	SetStatus(ctx context.Context, id string, status types.Status) error
	ListByObservations(ctx context.Context, observationIDs []string) ([]types.Comment, error)
}

// VoteRepository defines persistence operations for votes.
type VoteRepository interface {
	Upsert(ctx context.Context, vote types.Vote) (types.Vote, error)
	ListByObservations(ctx context.Context, observationIDs []string) ([]types.Vote, error)
}

// ModerationService computes the visibility views and applies admin
// decisions. Every view is rebuilt from the store on each call.
type ModerationService struct {
	observations ObservationRepository
	comments     CommentRepository
	votes        VoteRepository
	logger       *slog.Logger
}

func NewModerationService(
	observations ObservationRepository,
	comments CommentRepository,
	votes VoteRepository,
	logger *slog.Logger,
) *ModerationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModerationService{
		observations: observations,
		comments:     comments,
		votes:        votes,
		logger:       logger,
	}
}

// authorizeModerator is the one admin gate. Status changes and the pending
// queue all pass through it before touching the store.
func authorizeModerator(actor types.Actor) error {
	if err := requireIdentity(actor); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return newError(ErrForbidden, "admin access required")
	}
	return nil
}

func requireIdentity(actor types.Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return newError(ErrForbidden, "authentication required")
	}
	return nil
}

// PublicFeed lists approved observations with their approved comments.
func (s *ModerationService) PublicFeed(ctx context.Context, actor types.Actor) ([]types.Bundle, error) {
	if err := requireIdentity(actor); err != nil {
		return nil, err
	}
	observations, err := s.observations.ListByStatus(ctx, types.StatusApproved)
	if err != nil {
		return nil, err
	}
	return s.bundle(ctx, observations, actor, approvedComments)
}

// MyObservations lists the actor's own observations in every status. Only
// approved comments are shown, except to admins, who see all of them.
func (s *ModerationService) MyObservations(ctx context.Context, actor types.Actor) ([]types.Bundle, error) {
	if err := requireIdentity(actor); err != nil {
		return nil, err
	}
	observations, err := s.observations.ListByAuthor(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	keep := approvedComments
	if actor.IsAdmin() {
		keep = allComments
	}
	return s.bundle(ctx, observations, actor, keep)
}

// PendingQueue lists observations awaiting a decision on themselves or on
// at least one of their comments. All comments are included for context.
func (s *ModerationService) PendingQueue(ctx context.Context, actor types.Actor) ([]types.Bundle, error) {
	if err := authorizeModerator(actor); err != nil {
		return nil, err
	}
	observations, err := s.observations.ListAwaitingReview(ctx)
	if err != nil {
		return nil, err
	}
	return s.bundle(ctx, observations, actor, allComments)
}

// SetObservationStatus approves or rejects an observation. Decisions can be
// reversed by calling again with the other status.
func (s *ModerationService) SetObservationStatus(ctx context.Context, actor types.Actor, id string, status types.Status) (types.Observation, error) {
	if err := authorizeModerator(actor); err != nil {
		return types.Observation{}, err
	}
	if !status.Decision() {
		return types.Observation{}, newError(ErrValidation, "status must be approved or rejected")
	}
	if err := s.observations.SetStatus(ctx, id, status); err != nil {
		return types.Observation{}, fromStore(err, "observation not found")
	}
	metrics.ModerationDecisions.WithLabelValues("observation", string(status)).Inc()
	s.logger.InfoContext(ctx, "observation moderated",
		"observation_id", id,
		"status", status,
		"admin_id", actor.ID,
	)

	obs, err := s.observations.Get(ctx, id)
	return obs, fromStore(err, "observation not found")
}

// SetCommentStatus approves or rejects a comment.
func (s *ModerationService) SetCommentStatus(ctx context.Context, actor types.Actor, id string, status types.Status) error {
	if err := authorizeModerator(actor); err != nil {
		return err
	}
	if !status.Decision() {
		return newError(ErrValidation, "status must be approved or rejected")
	}
	if err := s.comments.SetStatus(ctx, id, status); err != nil {
		return fromStore(err, "comment not found")
	}
	metrics.ModerationDecisions.WithLabelValues("comment", string(status)).Inc()
	s.logger.InfoContext(ctx, "comment moderated",
		"comment_id", id,
		"status", status,
		"admin_id", actor.ID,
	)
	return nil
}

func (s *ModerationService) bundle(
	ctx context.Context,
	observations []types.Observation,
	viewer types.Actor,
	keep commentFilter,
) ([]types.Bundle, error) {
	if len(observations) == 0 {
		return []types.Bundle{}, nil
	}

	ids := make([]string, 0, len(observations))
	for _, obs := range observations {
		ids = append(ids, obs.ID)
	}

	comments, err := s.comments.ListByObservations(ctx, ids)
	if err != nil {
		return nil, err
	}
	votes, err := s.votes.ListByObservations(ctx, ids)
	if err != nil {
		return nil, err
	}
	return assembleBundles(observations, comments, votes, viewer, keep), nil
}
