package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/observach/apiserver/internal/services"
	"github.com/observach/apiserver/types"
)

const (
	defaultMaxPhotoBytes = 8 << 20
	maxMultipartMemory   = 32 << 20
	uploadsPrefix        = "/uploads/"

	formFieldPopularName    = "popularName"
	formFieldScientificName = "scientificName"
	formFieldGroup          = "group"
	formFieldLocation       = "location"
	formFieldSex            = "sex"
	formFieldObservedAt     = "observedAt"
	formFieldPhoto          = "photo"
)

// observedAtLayouts are tried in order. The second one is what an HTML
// datetime-local input sends.
var observedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02",
}

// ObservationHandler provides HTTP handlers for observations, their comments
// and votes.
type ObservationHandler struct {
	observationService *services.ObservationService
	moderationService  *services.ModerationService
	maxPhotoBytes      int64
	logger             *slog.Logger
}

// NewObservationHandler constructs a handler with the provided services.
func NewObservationHandler(
	observationService *services.ObservationService,
	moderationService *services.ModerationService,
	maxPhotoBytes int64,
	logger *slog.Logger,
) *ObservationHandler {
	if maxPhotoBytes <= 0 {
		maxPhotoBytes = defaultMaxPhotoBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ObservationHandler{
		observationService: observationService,
		moderationService:  moderationService,
		maxPhotoBytes:      maxPhotoBytes,
		logger:             logger,
	}
}

// ObservationRouter registers observation routes on the given router. Every
// route requires authentication.
func ObservationRouter(r chi.Router, handler *ObservationHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware)

	r.Get("/public", handler.ListPublic)
	r.Get("/mine", handler.ListMine)
	r.Get("/pending", handler.ListPending)
	r.Post("/", handler.CreateObservation)
	r.Route("/{observationID}", func(r chi.Router) {
		r.Post("/vote", handler.Vote)
		r.Post("/comments", handler.CreateComment)
	})
}

func (h *ObservationHandler) ListPublic(w http.ResponseWriter, r *http.Request) {
	h.listBundles(w, r, h.moderationService.PublicFeed)
}

func (h *ObservationHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	h.listBundles(w, r, h.moderationService.MyObservations)
}

func (h *ObservationHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	h.listBundles(w, r, h.moderationService.PendingQueue)
}

type bundleLister func(ctx context.Context, actor types.Actor) ([]types.Bundle, error)

func (h *ObservationHandler) listBundles(
	w http.ResponseWriter,
	r *http.Request,
	list bundleLister,
) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	bundles, err := list(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list observations")
		return
	}
	for i := range bundles {
		bundles[i].Photo = photoURL(bundles[i].PhotoRef)
	}
	writeJSON(w, http.StatusOK, bundles)
}

func (h *ObservationHandler) CreateObservation(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, err := h.parseObservationForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.observationService.Submit(r.Context(), actor, req.Fields, req.Photo)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to create observation")
		return
	}

	writeJSON(w, http.StatusCreated, types.Bundle{
		Observation: created,
		Photo:       photoURL(created.PhotoRef),
		Comments:    []types.Comment{},
		Votes:       types.VoteTally{Coherent: []string{}, Incoherent: []string{}},
	})
}

func (h *ObservationHandler) Vote(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req VoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	vote, err := h.observationService.Vote(r.Context(), actor, pathID(r, "observationID"), types.VoteValue(strings.TrimSpace(req.Value)))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to record vote")
		return
	}

	writeJSON(w, http.StatusOK, vote)
}

func (h *ObservationHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	comment, err := h.observationService.Comment(r.Context(), actor, pathID(r, "observationID"), req.Text)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to create comment")
		return
	}

	writeJSON(w, http.StatusCreated, comment)
}

// ObservationCreateRequest represents the parsed multipart form payload.
type ObservationCreateRequest struct {
	Fields types.ObservationFields
	Photo  services.Photo
}

type VoteRequest struct {
	Value string `json:"value"`
}

type CommentRequest struct {
	Text string `json:"text"`
}

// parseObservationForm reads the multipart form. Missing text fields are
// left empty for the service to report together; only malformed input is
// rejected here.
func (h *ObservationHandler) parseObservationForm(w http.ResponseWriter, r *http.Request) (ObservationCreateRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxPhotoBytes+maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ObservationCreateRequest{}, errors.New("uploaded file too large")
		}
		return ObservationCreateRequest{}, errors.New("invalid multipart form")
	}

	observedAt, err := parseObservedAt(r.FormValue(formFieldObservedAt))
	if err != nil {
		return ObservationCreateRequest{}, err
	}

	photo, err := parsePhotoFile(r.MultipartForm, h.maxPhotoBytes)
	if err != nil {
		return ObservationCreateRequest{}, err
	}

	return ObservationCreateRequest{
		Fields: types.ObservationFields{
			PopularName:    r.FormValue(formFieldPopularName),
			ScientificName: r.FormValue(formFieldScientificName),
			Group:          r.FormValue(formFieldGroup),
			Location:       r.FormValue(formFieldLocation),
			Sex:            r.FormValue(formFieldSex),
			ObservedAt:     observedAt,
		},
		Photo: photo,
	}, nil
}

// parseObservedAt returns the zero time for an empty value.
func parseObservedAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range observedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("invalid observedAt")
}

// parsePhotoFile returns an empty Photo when none was sent.
func parsePhotoFile(form *multipart.Form, limit int64) (services.Photo, error) {
	if form == nil {
		return services.Photo{}, errors.New("missing form data")
	}

	files := form.File[formFieldPhoto]
	if len(files) == 0 {
		return services.Photo{}, nil
	}
	if len(files) > 1 {
		return services.Photo{}, errors.New("only one photo is allowed")
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		return services.Photo{}, fmt.Errorf("failed to read photo: %w", err)
	}

	data, err := readFileLimited(file, limit)
	_ = file.Close()
	if err != nil {
		return services.Photo{}, err
	}

	return services.Photo{
		Filename: fileHeader.Filename,
		Data:     data,
	}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}

func photoURL(ref string) string {
	if ref == "" {
		return ""
	}
	return uploadsPrefix + ref
}
