// Package media turns client media references into local files the render
// process can read.
//
// A reference is either absent, the name of a file already stored in the
// uploads area, or a remote URL that must be downloaded first. The kind of a
// reference (image, video, audio, logo) comes from the request field it
// arrived in and is never sniffed from content.
package media

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDownload matches every DownloadError.
	ErrDownload = errors.New("media: download failed")
	// ErrInvalidKind matches every InvalidKindError.
	ErrInvalidKind = errors.New("media: invalid media kind")
	// ErrInvalidFilename is returned for upload names that would escape the uploads area.
	ErrInvalidFilename = errors.New("media: invalid filename")
	// ErrUnsupportedURL is returned for remote references that are not http(s).
	ErrUnsupportedURL = errors.New("media: unsupported URL")
	// ErrUploadNotFound is returned for upload references with no stored file.
	ErrUploadNotFound = errors.New("media: upload not found")
)

// Kind identifies the role a media file plays in a composition.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindLogo  Kind = "logo"
)

// Kinds lists every media kind in request field order.
var Kinds = []Kind{KindImage, KindVideo, KindAudio, KindLogo}

// ParseKind validates a kind name such as a multipart field name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", &InvalidKindError{Kind: Kind(s)}
}

// DefaultExtension is used for downloads whose URL path carries no extension.
func (k Kind) DefaultExtension() string {
	switch k {
	case KindVideo:
		return ".mp4"
	case KindAudio:
		return ".mp3"
	default:
		return ".png"
	}
}

type source int

const (
	sourceAbsent source = iota
	sourceUpload
	sourceRemote
)

// Reference is a client media reference. The zero value is absent.
type Reference struct {
	Kind     Kind
	Filename string
	URL      string
	src      source
}

// Upload references a file already stored in the uploads area.
func Upload(kind Kind, filename string) Reference {
	return Reference{Kind: kind, Filename: filename, src: sourceUpload}
}

// Remote references a file to be downloaded from url.
func Remote(kind Kind, url string) Reference {
	return Reference{Kind: kind, URL: url, src: sourceRemote}
}

// IsAbsent reports whether the reference carries no media.
func (r Reference) IsAbsent() bool {
	return r.src == sourceAbsent
}

// IsRemote reports whether the reference must be downloaded.
func (r Reference) IsRemote() bool {
	return r.src == sourceRemote
}

func (r Reference) String() string {
	switch r.src {
	case sourceUpload:
		return fmt.Sprintf("%s upload %q", r.Kind, r.Filename)
	case sourceRemote:
		return fmt.Sprintf("%s url %q", r.Kind, r.URL)
	default:
		return string(r.Kind) + " absent"
	}
}

// Resolved is a media file available in the uploads area.
type Resolved struct {
	Kind     Kind
	Filename string
	Path     string
	// Downloaded is true when the file was fetched during resolution.
	Downloaded bool
}

// DownloadError is returned when a remote reference could not be fetched.
// StatusCode is zero when no response was received.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDownload) match any DownloadError.
func (e *DownloadError) Is(target error) bool {
	return target == ErrDownload
}

// InvalidKindError is returned when a declared MIME type or field name does
// not match a known media kind.
type InvalidKindError struct {
	Kind Kind
	MIME string
}

func (e *InvalidKindError) Error() string {
	if e.MIME != "" {
		return fmt.Sprintf("media: %s does not accept %s", e.Kind, e.MIME)
	}
	return fmt.Sprintf("media: unknown kind %q", e.Kind)
}

func (e *InvalidKindError) Is(target error) bool {
	return target == ErrInvalidKind
}

// CheckMIME verifies that a declared MIME type is acceptable for kind.
// Images and logos need image/*, videos video/*, audio audio/*.
func CheckMIME(kind Kind, mime string) error {
	major, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(mime)), "/")
	var want string
	switch kind {
	case KindImage, KindLogo:
		want = "image"
	case KindVideo:
		want = "video"
	case KindAudio:
		want = "audio"
	default:
		return &InvalidKindError{Kind: kind}
	}
	if major != want {
		return &InvalidKindError{Kind: kind, MIME: mime}
	}
	return nil
}
