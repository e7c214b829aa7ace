package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brightclass/speech_service/internal/errors"
	"github.com/brightclass/speech_service/internal/middleware"
	"github.com/brightclass/speech_service/internal/recording"
	"github.com/brightclass/speech_service/internal/service"
	"github.com/brightclass/speech_service/pkg/response"
)

// maxUploadBytes caps direct audio uploads at 32 MiB.
const maxUploadBytes = 32 << 20

// AnalysisHandler handles analysis pipeline HTTP endpoints.
type AnalysisHandler struct {
	log      zerolog.Logger
	analysis *service.AnalysisService
	status   *service.StatusService
	worker   *service.WorkerService
}

// NewAnalysisHandler creates a new AnalysisHandler.
func NewAnalysisHandler(
	log zerolog.Logger,
	analysis *service.AnalysisService,
	status *service.StatusService,
	worker *service.WorkerService,
) *AnalysisHandler {
	return &AnalysisHandler{
		log:      log,
		analysis: analysis,
		status:   status,
		worker:   worker,
	}
}

// Analyze handles POST /api/v1/analyses. Runs the pipeline synchronously
// and returns the normalized result.
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAnalyzeRequest(w, r)
	if !ok {
		return
	}

	result, err := h.analysis.AnalyzeAndUpload(r.Context(), req)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, result)
}

// AnalyzeAsync handles POST /api/v1/analyses/async. Queues the run and
// returns a job ID to poll with.
func (h *AnalysisHandler) AnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAnalyzeRequest(w, r)
	if !ok {
		return
	}

	// Bearer credentials are never queued; background delivery uses the
	// configured service token.
	req.Token = ""

	jobID, err := h.worker.Enqueue(r.Context(), req)
	if err != nil {
		h.handleError(w, err)
		return
	}

	h.log.Info().
		Str("job_id", jobID).
		Str("user_id", middleware.UserID(r.Context())).
		Msg("Analysis queued")

	response.JSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": jobID,
		"status": "queued",
	})
}

// GetAsyncOutcome handles GET /api/v1/analyses/async/{jobID}. Blocks
// briefly; responds 202 while the job is still processing.
func (h *AnalysisHandler) GetAsyncOutcome(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.handleError(w, errors.Validation("job id is required"))
		return
	}

	outcome, err := h.worker.AwaitOutcome(r.Context(), jobID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if outcome == nil {
		response.JSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": jobID,
			"status": "processing",
		})
		return
	}

	response.JSON(w, http.StatusOK, outcome)
}

// Get handles GET /api/v1/analyses/{analysisID}.
func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "analysisID"))
	if err != nil {
		h.handleError(w, errors.Validation("invalid analysis id"))
		return
	}

	attempt, err := h.analysis.GetAttempt(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, attempt)
}

// GetStatus handles GET /api/v1/analyses/{analysisID}/status. Prefers the
// live tracker, falls back to the stored attempt.
func (h *AnalysisHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "analysisID"))
	if err != nil {
		h.handleError(w, errors.Validation("invalid analysis id"))
		return
	}

	if tracked, err := h.status.Get(r.Context(), id.String()); err == nil && tracked != nil {
		response.JSON(w, http.StatusOK, tracked)
		return
	}

	attempt, err := h.analysis.GetAttempt(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, &service.AnalysisStatus{
		AnalysisID: attempt.ID.String(),
		Status:     attempt.Status,
		Stage:      attempt.Stage,
		Error:      attempt.Error,
		UpdatedAt:  attempt.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// List handles GET /api/v1/analyses?progress_id=42&limit=20.
func (h *AnalysisHandler) List(w http.ResponseWriter, r *http.Request) {
	progressID, err := strconv.ParseInt(r.URL.Query().Get("progress_id"), 10, 64)
	if err != nil {
		h.handleError(w, errors.Validation("progress_id query parameter is required"))
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			h.handleError(w, errors.Validation("limit must be between 1 and 100"))
			return
		}
		limit = parsed
	}

	attempts, err := h.analysis.ListAttempts(r.Context(), progressID, limit)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.JSONWithMeta(w, http.StatusOK, attempts, &response.Meta{Total: len(attempts)})
}

// Busy handles GET /api/v1/analyses/busy.
func (h *AnalysisHandler) Busy(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.analysis.Busy())
}

// decodeAnalyzeRequest accepts both request forms: a multipart upload
// carrying the audio bytes, or a JSON body naming a recording_url.
func (h *AnalysisHandler) decodeAnalyzeRequest(w http.ResponseWriter, r *http.Request) (service.AnalyzeRequest, bool) {
	var (
		req service.AnalyzeRequest
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req, err = decodeMultipartRequest(r)
	} else {
		req, err = decodeJSONRequest(r)
	}
	if err != nil {
		h.handleError(w, err)
		return req, false
	}

	if req.ReferenceText == "" {
		h.handleError(w, errors.Validation("reference_text is required"))
		return req, false
	}

	req.Token = bearerToken(r)
	return req, true
}

// decodeJSONRequest reads the JSON body. recording_url is the documented
// field; handle is accepted as an alias.
func decodeJSONRequest(r *http.Request) (service.AnalyzeRequest, error) {
	var body struct {
		service.AnalyzeRequest
		RecordingURL string `json:"recording_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return service.AnalyzeRequest{}, errors.Validation("invalid request body")
	}

	req := body.AnalyzeRequest
	if req.Handle == "" {
		req.Handle = body.RecordingURL
	}
	if req.Handle == "" && req.Recording == nil {
		return req, errors.Validation("recording_url is required")
	}
	return req, nil
}

// decodeMultipartRequest reads a direct upload: audio bytes in the
// audio_file part, the rest as form fields.
func decodeMultipartRequest(r *http.Request) (service.AnalyzeRequest, error) {
	var req service.AnalyzeRequest
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return req, errors.Validation("invalid multipart body")
	}

	file, header, err := r.FormFile("audio_file")
	if err != nil {
		return req, errors.Validation("audio_file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return req, errors.Validation("could not read audio_file")
	}
	if len(data) == 0 {
		return req, errors.Validation("audio_file is empty")
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	req.Recording = &recording.Recording{Data: data, ContentType: contentType}
	req.ReferenceText = r.FormValue("reference_text")

	if raw := r.FormValue("preview"); raw != "" {
		preview, err := strconv.ParseBool(raw)
		if err != nil {
			return req, errors.Validation("preview must be a boolean")
		}
		req.Preview = preview
	}
	if req.ProgressID, err = formInt64(r, "progress_id"); err != nil {
		return req, err
	}
	if req.ContentItemID, err = formInt64(r, "content_item_id"); err != nil {
		return req, err
	}
	return req, nil
}

// formInt64 parses a numeric form field, absent meaning nil.
func formInt64(r *http.Request, field string) (*int64, error) {
	raw := r.FormValue(field)
	if raw == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errors.Validation(field + " must be an integer")
	}
	return &parsed, nil
}

// bearerToken extracts the raw bearer credential for platform delivery.
func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

func (h *AnalysisHandler) handleError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		response.Error(w, appErr.HTTPStatus(), &response.ErrorBody{
			Code:    string(appErr.Code),
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}
	h.log.Error().Err(err).Msg("Internal server error")
	response.InternalError(w, "internal server error")
}
