package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	pkgjson "github.com/openscribe/backend/pkg/json"
	"github.com/openscribe/backend/services/transcription/audio"
	"github.com/openscribe/backend/services/transcription/consts"
	"github.com/openscribe/backend/services/transcription/engine"
	"github.com/openscribe/backend/services/transcription/entity"
	"github.com/openscribe/backend/services/transcription/session"
	"github.com/openscribe/backend/services/transcription/usecase"
)

type Server struct {
	usecase    usecase.Usecase
	engine     engine.Engine
	media      audio.Media
	sessionCfg session.Config
	validate   *validator.Validate
	log        *slog.Logger
}

func New(usc usecase.Usecase, eng engine.Engine, media audio.Media, sessionCfg session.Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		usecase:    usc,
		engine:     eng,
		media:      media,
		sessionCfg: sessionCfg,
		validate:   validator.New(),
		log:        log,
	}
}

func (s *Server) RegisterRoutes(router chi.Router) {
	router.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", s.HealthCheck)
		api.Get("/ws", s.HandleWebSocket)

		api.Route("/transcriptions", func(r chi.Router) {
			r.Get("/", s.ListTranscriptions)
			r.Post("/", s.CreateTranscription)
			r.Get("/summaries", s.ListSummaries)
			r.Post("/transcribe", s.TranscribeFile)
			r.Get("/deleted", s.ListDeleted)
			r.Post("/deleted/{id}/restore", s.RestoreTranscription)
			r.Post("/review", s.Review)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.GetTranscription)
				r.Patch("/", s.UpdateTranscription)
				r.Delete("/", s.DeleteTranscription)
				r.Get("/history", s.GetHistory)
			})
		})

		api.Get("/audio/*", s.ServeAudio)
	})
}

func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	pkgjson.WriteJSON(w, http.StatusOK, map[string]bool{"status": true})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		pkgjson.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, entity.ErrConflict):
		pkgjson.WriteError(w, http.StatusConflict, err)
	case errors.Is(err, entity.ErrReviewUnavailable):
		pkgjson.WriteError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, entity.ErrCorruptAudio):
		pkgjson.WriteError(w, http.StatusUnprocessableEntity, err)
	default:
		pkgjson.WriteError(w, http.StatusInternalServerError, err)
	}
}

func parseID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (s *Server) ListTranscriptions(w http.ResponseWriter, r *http.Request) {
	req := &entity.ListTranscriptionsRequest{}
	if v := r.URL.Query().Get("page"); v != "" {
		req.Page, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		req.PageSize, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("reviewed_only"); v != "" {
		reviewed := v == "true" || v == "1"
		req.ReviewedOnly = &reviewed
	}

	resp, err := s.usecase.List(r.Context(), req)
	if err != nil {
		s.log.Error("failed to list transcriptions", slog.String("error", err.Error()))
		s.writeDomainError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(resp.Transcriptions))
	for _, t := range resp.Transcriptions {
		items = append(items, transcriptionJSON(t))
	}
	pkgjson.WriteJSON(w, http.StatusOK, map[string]any{
		"transcriptions": items,
		"total":          resp.Total,
		"page":           resp.Page,
		"page_size":      resp.PageSize,
	})
}

func (s *Server) CreateTranscription(w http.ResponseWriter, r *http.Request) {
	var req entity.CreateTranscriptionRequest
	if err := pkgjson.ParseJSON(r, &req); err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, err)
		return
	}

	t, err := s.usecase.Create(r.Context(), &req)
	if err != nil {
		s.log.Error("failed to create transcription", slog.String("error", err.Error()))
		s.writeDomainError(w, err)
		return
	}
	pkgjson.WriteJSON(w, http.StatusCreated, transcriptionJSON(t))
}

func (s *Server) GetTranscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, err)
		return
	}

	t, err := s.usecase.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	pkgjson.WriteJSON(w, http.StatusOK, transcriptionJSON(t))
}

func (s *Server) UpdateTranscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, err)
		return
	}

	var req entity.UpdateTranscriptionRequest
	if err := pkgjson.ParseJSON(r, &req); err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, err)
		return
	}

	t, err := s.usecase.Update(r.Context(), id, &req)
	if err != nil {
		s.log.Error("failed to update transcription",
			slog.String("id", id.String()), slog.String("error", err.Error()))
		s.writeDomainError(w, err)
		return
	}
	pkgjson.WriteJSON(w, http.StatusOK, transcriptionJSON(t))
}

func (s *Server) DeleteTranscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, err)
		return
	}

	var reason *string
	if v := r.URL.Query().Get("reason"); v != "" {
		reason = &v
	}

	if err := s.usecase.Delete(r.Context(), id, reason); err != nil {
		s.writeDomainError(w, err)
		return
	}
	pkgjson.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, err)
		return
	}

	diffs, err := s.usecase.History(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(diffs))
	for _, d := range diffs {
		items = append(items, map[string]any{
			"id":                 d.ID,
			"transcription_id":   d.TranscriptionID,
			"content_at_version": d.ContentAtVersion,
			"sequence_number":    d.SequenceNumber,
			"created_at":         d.CreatedAt,
		})
	}
	pkgjson.WriteJSON(w, http.StatusOK, map[string]any{"diffs": items})
}

func (s *Server) ListSummaries(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.usecase.Summaries(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if summaries == nil {
		summaries = []*entity.TranscriptionSummary{}
	}
	pkgjson.WriteJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

func (s *Server) ListDeleted(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.usecase.ListDeleted(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(deleted))
	for _, d := range deleted {
		items = append(items, map[string]any{
			"id":               d.ID,
			"title":            d.Title,
			"content":          d.Content,
			"created_at":       d.CreatedAt,
			"deleted_at":       d.DeletedAt,
			"deleted_reason":   d.DeletedReason,
			"duration_seconds": d.DurationSeconds,
		})
	}
	pkgjson.WriteJSON(w, http.StatusOK, map[string]any{"deleted": items})
}

func (s *Server) RestoreTranscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, err)
		return
	}

	t, err := s.usecase.Restore(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	pkgjson.WriteJSON(w, http.StatusOK, transcriptionJSON(t))
}

func (s *Server) Review(w http.ResponseWriter, r *http.Request) {
	var req entity.ReviewRequest
	if err := pkgjson.ParseJSON(r, &req); err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Action.Valid() {
		pkgjson.WriteError(w, http.StatusBadRequest, errors.New("unknown review action"))
		return
	}

	resp, err := s.usecase.Review(r.Context(), &req)
	if err != nil {
		s.log.Error("review failed", slog.String("error", err.Error()))
		s.writeDomainError(w, err)
		return
	}
	pkgjson.WriteJSON(w, http.StatusOK, resp)
}

// TranscribeFile runs one-shot inference on an uploaded file. Multipart
// fields: file (required), channel, language.
func (s *Server) TranscribeFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(consts.MaxUploadSize); err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	channel := r.FormValue("channel")
	var language *string
	if v := r.FormValue("language"); v != "" {
		language = &v
	}

	segments, err := s.usecase.TranscribeFile(r.Context(), file, header.Filename, channel, language)
	if err != nil {
		s.log.Error("file transcription failed",
			slog.String("filename", header.Filename), slog.String("error", err.Error()))
		s.writeDomainError(w, err)
		return
	}
	if segments == nil {
		segments = []entity.Segment{}
	}
	pkgjson.WriteJSON(w, http.StatusOK, map[string]any{"segments": segments})
}

func transcriptionJSON(t *entity.Transcription) map[string]any {
	return map[string]any{
		"id":               t.ID,
		"title":            t.Title,
		"original_content": t.OriginalContent,
		"current_content":  t.CurrentContent,
		"current_diff_id":  t.CurrentDiffID,
		"created_at":       t.CreatedAt,
		"updated_at":       t.UpdatedAt,
		"last_modified_at": t.LastModifiedAt,
		"audio_file_path":  t.AudioFilePath,
		"duration_seconds": t.DurationSeconds,
		"speaker_map":      t.SpeakerMap,
		"metadata":         t.ExtraMetadata,
		"is_reviewed":      t.IsReviewed,
	}
}
