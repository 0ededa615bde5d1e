package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/maauso/videogen-api/internal/job"
	"github.com/maauso/videogen-api/internal/media"
	"github.com/maauso/videogen-api/internal/render"
	"github.com/maauso/videogen-api/internal/storage"
	"github.com/maauso/videogen-api/internal/template"
)

// DefaultMaxUploadBytes bounds a multipart upload when no limit is configured.
const DefaultMaxUploadBytes = 100 << 20

// sniffLen is how much of an upload is inspected when no usable MIME type is declared.
const sniffLen = 3072

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        *job.RenderService
	uploads        storage.Storage
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes limits the size of a multipart upload request.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance. Uploaded media is written to uploads.
func NewHandlers(service *job.RenderService, uploads storage.Storage, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		uploads:        uploads,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", QueueDepth: h.service.QueueDepth()})
}

// Templates handles GET /api/templates requests.
func (h *Handlers) Templates(w http.ResponseWriter, r *http.Request) {
	kinds := []template.ContentKind{template.KindText, template.KindImage, template.KindVideo}
	resp := TemplatesResponse{
		FormatKeys:   template.FormatKeys(),
		ContentKinds: kinds,
		Templates:    make(map[template.ContentKind]map[string]template.Template, len(kinds)),
	}
	for _, k := range kinds {
		resp.Templates[k] = template.Catalogue(k)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Upload handles POST /api/uploads requests. The multipart form carries a
// single file whose field name is the media kind.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart form expected", "INVALID_UPLOAD")
		return
	}

	part, err := nextFilePart(mr)
	if err != nil {
		if !writeTooLarge(w, err) {
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_UPLOAD")
		}
		return
	}
	defer part.Close()

	kind, err := media.ParseKind(part.FormName())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_MEDIA_KIND")
		return
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(part, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		h.uploadFailed(w, err)
		return
	}
	head = head[:n]

	mime := declaredMIME(part.Header.Get("Content-Type"))
	if mime == "" {
		mime = mimetype.Detect(head).String()
	}
	if err := media.CheckMIME(kind, mime); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_MEDIA_KIND")
		return
	}

	name := uploadName(part.FileName(), kind)
	counter := &countingReader{r: io.MultiReader(bytes.NewReader(head), part)}
	if _, err := h.uploads.Save(r.Context(), name, counter); err != nil {
		h.uploadFailed(w, err)
		return
	}

	h.logger.Info("media uploaded",
		slog.String("filename", name),
		slog.String("kind", string(kind)),
		slog.String("mime", mime),
		slog.Int64("size", counter.n),
	)

	writeJSON(w, http.StatusCreated, UploadResponse{
		Filename: name,
		Kind:     string(kind),
		MIME:     mime,
		Size:     counter.n,
	})
}

func (h *Handlers) uploadFailed(w http.ResponseWriter, err error) {
	if writeTooLarge(w, err) {
		return
	}
	h.logger.Error("failed to store upload", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "failed to store upload", "UPLOAD_FAILED")
}

// writeTooLarge answers 413 when err comes from the upload size limit.
func writeTooLarge(w http.ResponseWriter, err error) bool {
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		return false
	}
	writeError(w, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), "UPLOAD_TOO_LARGE")
	return true
}

// CreateJob handles POST /api/jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRenderRequest(w, r)
	if !ok {
		return
	}

	created, err := h.service.Submit(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		JobID:  created.ID,
		Status: string(created.Status),
	})
}

// Render handles POST /api/render requests. The response is written once
// the video is finished, so the server write deadline is lifted: queue wait
// and render time are bounded by the service, not by the connection.
func (h *Handlers) Render(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRenderRequest(w, r)
	if !ok {
		return
	}
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("failed to clear write deadline", slog.String("error", err.Error()))
	}

	finished, err := h.service.Render(r.Context(), req)
	if err != nil {
		if finished != nil && r.Context().Err() != nil {
			// Client went away; the job keeps running and stays queryable.
			h.logger.Info("render client disconnected", slog.String("job_id", finished.ID))
			return
		}
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RenderResponse{
		VideoID:     finished.ID,
		DownloadURL: downloadURL(finished.ID),
		OutputURL:   finished.OutputURL,
		Duration:    float64(finished.DurationFrames) / float64(template.FPS),
	})
}

func (h *Handlers) decodeRenderRequest(w http.ResponseWriter, r *http.Request) (job.RenderRequest, bool) {
	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return job.RenderRequest{}, false
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return job.RenderRequest{}, false
	}

	return job.RenderRequest{
		Title:           req.Title,
		Subtitle:        req.Subtitle,
		BackgroundColor: req.BackgroundColor,
		TextColor:       req.TextColor,
		ContentKind:     template.ParseContentKind(req.ContentKind),
		FormatKey:       req.Format,
		DurationSeconds: req.Duration,
		Image:           req.Image.reference(media.KindImage),
		Video:           req.Video.reference(media.KindVideo),
		Audio:           req.Audio.reference(media.KindAudio),
		Logo:            req.Logo.reference(media.KindLogo),
	}, true
}

func (m *MediaInput) reference(kind media.Kind) media.Reference {
	switch {
	case m == nil:
		return media.Reference{}
	case m.URL != "":
		return media.Remote(kind, m.URL)
	case m.Filename != "":
		return media.Upload(kind, m.Filename)
	default:
		return media.Reference{}
	}
}

// ListJobs handles GET /api/jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs)), Count: len(jobs)}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /api/jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// DeleteJob handles DELETE /api/jobs/{id} requests.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	if err := h.service.DeleteJob(r.Context(), jobID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Download handles GET /api/download/{id} requests by streaming the video.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	rc, found, err := h.service.OpenOutput(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, found.OutputName))
	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, found.OutputName, found.UpdatedAt, rs)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("download interrupted",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// writeServiceError maps domain errors onto HTTP status codes.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	var procErr *render.ProcessError
	switch {
	case errors.Is(err, render.ErrInvalidProperties),
		errors.Is(err, media.ErrInvalidFilename),
		errors.Is(err, media.ErrUnsupportedURL):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	case errors.Is(err, media.ErrUploadNotFound):
		writeError(w, http.StatusBadRequest, err.Error(), "UPLOAD_NOT_FOUND")
	case errors.Is(err, media.ErrInvalidKind):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_MEDIA_KIND")
	case errors.Is(err, media.ErrDownload):
		writeError(w, http.StatusBadGateway, err.Error(), "DOWNLOAD_FAILED")
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrOutputNotFound):
		writeError(w, http.StatusNotFound, "video not found", "OUTPUT_NOT_FOUND")
	case errors.Is(err, job.ErrJobActive):
		writeError(w, http.StatusConflict, "job is still running", "JOB_ACTIVE")
	case errors.Is(err, job.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "render queue is full", "QUEUE_FULL")
	case errors.Is(err, job.ErrShuttingDown), errors.Is(err, job.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, "service shutting down", "SHUTTING_DOWN")
	case errors.As(err, &procErr):
		writeError(w, http.StatusInternalServerError, procErr.Error(), "RENDER_FAILED")
	case errors.Is(err, job.ErrRenderFailed):
		writeError(w, http.StatusInternalServerError, err.Error(), "RENDER_FAILED")
	default:
		h.logger.Error("request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:             j.ID,
		Status:         string(j.Status),
		Progress:       j.Progress,
		TemplateID:     j.TemplateID,
		Width:          j.Width,
		Height:         j.Height,
		DurationFrames: j.DurationFrames,
		OutputURL:      j.OutputURL,
		Error:          j.Error,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		StartedAt:      timePtr(j.StartedAt),
		CompletedAt:    timePtr(j.CompletedAt),
		FailedAt:       timePtr(j.FailedAt),
	}
	if j.Status == job.StatusCompleted {
		resp.DownloadURL = downloadURL(j.ID)
	}
	return resp
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func downloadURL(jobID string) string {
	return "/api/download/" + jobID
}

// nextFilePart skips plain form fields and returns the first file part.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no file in upload")
		}
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		if part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

// declaredMIME returns the client's content type unless it is generic.
func declaredMIME(ct string) string {
	ct = strings.TrimSpace(strings.ToLower(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "" || ct == "application/octet-stream" {
		return ""
	}
	return ct
}

// uploadName prefixes the client file name with a UUID so uploads never
// collide. Names unusable on disk are replaced by the kind's extension.
func uploadName(clientName string, kind media.Kind) string {
	base := filepath.Base(strings.ReplaceAll(clientName, `\`, "/"))
	base = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		if r == ' ' {
			return '_'
		}
		return r
	}, base)
	if !storage.ValidName(base) || len(base) > 200 {
		base = string(kind) + kind.DefaultExtension()
	}
	return uuid.NewString() + "-" + base
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
