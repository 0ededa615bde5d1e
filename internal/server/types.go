// Package server provides the HTTP server for the video generation API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/videogen-api/internal/template"
)

// MediaInput references one media file either by a previously uploaded
// filename or by a remote URL. Both empty means the media is absent.
type MediaInput struct {
	// Filename is a file returned by POST /api/uploads.
	Filename string `json:"filename,omitempty" validate:"omitempty,excluded_with=URL,max=255"`
	// URL is an http(s) address downloaded before rendering.
	URL string `json:"url,omitempty" validate:"omitempty,http_url,max=2048"`
}

// RenderRequest is the HTTP request body for POST /api/jobs and POST /api/render.
type RenderRequest struct {
	Title           string `json:"title" validate:"max=500"`
	Subtitle        string `json:"subtitle" validate:"max=1000"`
	BackgroundColor string `json:"background_color" validate:"omitempty,hexcolor"`
	TextColor       string `json:"text_color" validate:"omitempty,hexcolor"`
	// ContentKind is text-only, image-background or video-background.
	ContentKind string `json:"content_kind" validate:"max=32"`
	// Format is a format key such as "tiktok" or "instagram-post".
	Format string `json:"format" validate:"max=32"`
	// Duration is in seconds. Zero selects the template default.
	Duration float64 `json:"duration" validate:"gte=0,lte=600"`

	Image *MediaInput `json:"image,omitempty"`
	Video *MediaInput `json:"video,omitempty"`
	Audio *MediaInput `json:"audio,omitempty"`
	Logo  *MediaInput `json:"logo,omitempty"`
}

// SubmitResponse is the HTTP response after queuing a job.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// RenderResponse is the HTTP response of a synchronous render.
type RenderResponse struct {
	VideoID     string `json:"video_id"`
	DownloadURL string `json:"download_url"`
	// OutputURL is set when the video was published to object storage.
	OutputURL string `json:"output_url,omitempty"`
	// Duration is the video length in seconds.
	Duration float64 `json:"duration"`
}

// JobResponse is the HTTP response for job details.
type JobResponse struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Progress       int        `json:"progress"`
	TemplateID     string     `json:"template_id"`
	Width          int        `json:"width"`
	Height         int        `json:"height"`
	DurationFrames int        `json:"duration_frames"`
	DownloadURL    string     `json:"download_url,omitempty"`
	OutputURL      string     `json:"output_url,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	FailedAt       *time.Time `json:"failed_at,omitempty"`
}

// JobListResponse wraps GET /api/jobs.
type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

// UploadResponse is returned after a media upload.
type UploadResponse struct {
	Filename string `json:"filename"`
	Kind     string `json:"kind"`
	MIME     string `json:"mime"`
	Size     int64  `json:"size"`
}

// TemplatesResponse lists the accepted format keys and every composition.
type TemplatesResponse struct {
	FormatKeys   []string                                              `json:"format_keys"`
	ContentKinds []template.ContentKind                                `json:"content_kinds"`
	Templates    map[template.ContentKind]map[string]template.Template `json:"templates"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// QueueDepth is the number of jobs waiting for a worker.
	QueueDepth int `json:"queue_depth"`
}
