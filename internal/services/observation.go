package services

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/observach/apiserver/internal/metrics"
	"github.com/observach/apiserver/types"
)

const (
	photoKeyPrefix   = "photos"
	notAvailableText = "observation not found or not approved"
)

var allowedPhotoExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// photoExtByType names stored photos after their sniffed content, so the
// served Content-Type matches the bytes whatever the client called the file.
var photoExtByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// PhotoStore keeps uploaded photo bytes out of the database.
type PhotoStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}

// Photo is an uploaded image as received from the client.
type Photo struct {
	Filename string
	Data     []byte
}

// ObservationService accepts new observations, comments and votes.
type ObservationService struct {
	observations ObservationRepository
	comments     CommentRepository
	votes        VoteRepository
	photos       PhotoStore
	events       *eventSink
	logger       *slog.Logger
}

func NewObservationService(
	observations ObservationRepository,
	comments CommentRepository,
	votes VoteRepository,
	photos PhotoStore,
	logger *slog.Logger,
) *ObservationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObservationService{
		observations: observations,
		comments:     comments,
		votes:        votes,
		photos:       photos,
		logger:       logger,
	}
}

// PublishEventsTo makes the service announce new submissions on channel.
func (s *ObservationService) PublishEventsTo(publisher EventPublisher, channel string) {
	s.events = &eventSink{publisher: publisher, channel: channel, logger: s.logger}
}

// Submit stores the photo and creates a pending observation authored by
// actor. If the insert fails the stored photo is removed again.
func (s *ObservationService) Submit(ctx context.Context, actor types.Actor, fields types.ObservationFields, photo Photo) (types.Observation, error) {
	if err := requireIdentity(actor); err != nil {
		return types.Observation{}, err
	}

	fields = trimFields(fields)
	observedAt := ""
	if !fields.ObservedAt.IsZero() {
		observedAt = fields.ObservedAt.String()
	}
	if missing := missingFields(
		field{"popularName", fields.PopularName},
		field{"scientificName", fields.ScientificName},
		field{"group", fields.Group},
		field{"location", fields.Location},
		field{"sex", fields.Sex},
		field{"observedAt", observedAt},
	); len(missing) > 0 {
		return types.Observation{}, newError(ErrValidation, "missing required fields: %s", strings.Join(missing, ", "))
	}
	if len(photo.Data) == 0 {
		return types.Observation{}, newError(ErrValidation, "photo is required")
	}

	key, contentType, err := photoKey(fields.PopularName, photo)
	if err != nil {
		return types.Observation{}, err
	}
	if err := s.photos.Put(ctx, key, bytes.NewReader(photo.Data), int64(len(photo.Data)), contentType); err != nil {
		return types.Observation{}, err
	}

	obs, err := s.observations.Create(ctx, types.Observation{
		AuthorID:       actor.ID,
		AuthorName:     actor.Name,
		PhotoRef:       key,
		PopularName:    fields.PopularName,
		ScientificName: fields.ScientificName,
		Group:          fields.Group,
		Location:       fields.Location,
		Sex:            fields.Sex,
		ObservedAt:     fields.ObservedAt,
	})
	if err != nil {
		if delErr := s.photos.Delete(ctx, key); delErr != nil {
			s.logger.WarnContext(ctx, "remove orphaned photo", "key", key, "error", delErr)
		}
		return types.Observation{}, fromStore(err, "author not found")
	}

	metrics.Submissions.WithLabelValues("observation").Inc()
	s.events.emit(ctx, SubmissionEvent{
		Type:          EventObservationSubmitted,
		ObservationID: obs.ID,
		AuthorID:      obs.AuthorID,
		CreatedAt:     obs.CreatedAt,
	})
	return obs, nil
}

// Comment attaches a pending comment to an approved observation.
func (s *ObservationService) Comment(ctx context.Context, actor types.Actor, observationID, text string) (types.Comment, error) {
	if err := requireIdentity(actor); err != nil {
		return types.Comment{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Comment{}, newError(ErrValidation, "comment text is required")
	}

	comment, err := s.comments.Create(ctx, types.Comment{
		ObservationID: observationID,
		AuthorID:      actor.ID,
		AuthorName:    actor.Name,
		Text:          text,
	})
	if err != nil {
		return types.Comment{}, fromStore(err, notAvailableText)
	}

	metrics.Submissions.WithLabelValues("comment").Inc()
	s.events.emit(ctx, SubmissionEvent{
		Type:          EventCommentSubmitted,
		ObservationID: observationID,
		CommentID:     comment.ID,
		AuthorID:      comment.AuthorID,
		CreatedAt:     comment.CreatedAt,
	})
	return comment, nil
}

// Vote records or replaces actor's vote on an approved observation.
func (s *ObservationService) Vote(ctx context.Context, actor types.Actor, observationID string, value types.VoteValue) (types.Vote, error) {
	if err := requireIdentity(actor); err != nil {
		return types.Vote{}, err
	}
	if !value.Valid() {
		return types.Vote{}, newError(ErrValidation, "vote must be coherent or incoherent")
	}

	vote, err := s.votes.Upsert(ctx, types.Vote{
		ObservationID: observationID,
		VoterID:       actor.ID,
		Value:         value,
	})
	if err != nil {
		return types.Vote{}, fromStore(err, notAvailableText)
	}
	metrics.Votes.WithLabelValues(string(value)).Inc()
	return vote, nil
}

func trimFields(f types.ObservationFields) types.ObservationFields {
	f.PopularName = strings.TrimSpace(f.PopularName)
	f.ScientificName = strings.TrimSpace(f.ScientificName)
	f.Group = strings.TrimSpace(f.Group)
	f.Location = strings.TrimSpace(f.Location)
	f.Sex = strings.TrimSpace(f.Sex)
	return f
}

// photoKey derives a unique object key such as
// "photos/onca-pintada-<uuid>.jpg" and checks the bytes really are an image.
// The key's extension follows the detected type, not the upload's filename.
func photoKey(popularName string, photo Photo) (key, contentType string, err error) {
	if ext := strings.ToLower(filepath.Ext(photo.Filename)); ext != "" && !allowedPhotoExts[ext] {
		return "", "", newError(ErrValidation, "unsupported photo format %q", ext)
	}

	contentType = http.DetectContentType(photo.Data)
	if !strings.HasPrefix(contentType, "image/") {
		return "", "", newError(ErrValidation, "photo must be an image")
	}
	ext, ok := photoExtByType[contentType]
	if !ok {
		return "", "", newError(ErrValidation, "unsupported photo format %q", contentType)
	}

	base := slug.Make(popularName)
	if base == "" {
		base = "observation"
	}
	return path.Join(photoKeyPrefix, base+"-"+uuid.NewString()+ext), contentType, nil
}
