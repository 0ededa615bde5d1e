package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/maauso/videogen-api/internal/storage"
)

const (
	// DefaultConcurrency bounds parallel downloads within one ResolveAll call.
	DefaultConcurrency = 3
	// DefaultHostLimit bounds concurrent downloads per upstream host.
	DefaultHostLimit = 4
	// DefaultTimeout is the overall per-download deadline.
	DefaultTimeout = 120 * time.Second
	// DefaultBackoff is the wait before the first download retry.
	DefaultBackoff = 500 * time.Millisecond
)

// Observer is notified after every remote download attempt.
type Observer func(kind Kind, elapsed time.Duration, err error)

// Resolver resolves media references into files in the uploads area.
type Resolver struct {
	store       storage.Storage
	client      *http.Client
	hosts       *HostSemaphore
	concurrency int
	maxRetries  int
	baseBackoff time.Duration
	logger      *slog.Logger
	observe     Observer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the client used for remote downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithConcurrency sets how many references ResolveAll fetches at once.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithRetries retries transient download failures up to n times with
// exponential backoff starting at base. Network errors, truncated bodies,
// 429 and 5xx responses are transient.
func WithRetries(n int, base time.Duration) Option {
	return func(r *Resolver) {
		r.maxRetries = max(n, 0)
		if base > 0 {
			r.baseBackoff = base
		}
	}
}

// WithHostSemaphore shares a per-host limiter across resolvers.
func WithHostSemaphore(h *HostSemaphore) Option {
	return func(r *Resolver) { r.hosts = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithObserver registers a download observer, typically a metrics recorder.
func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observe = o }
}

// NewHTTPClient returns a client tuned for media downloads.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// NewResolver creates a Resolver writing into store.
func NewResolver(store storage.Storage, opts ...Option) *Resolver {
	r := &Resolver{
		store:       store,
		concurrency: DefaultConcurrency,
		baseBackoff: DefaultBackoff,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = NewHTTPClient(DefaultTimeout)
	}
	if r.hosts == nil {
		r.hosts = NewHostSemaphore(DefaultHostLimit)
	}
	return r
}

// Resolve returns the local file for ref, downloading it when remote.
// An absent reference resolves to nil without any I/O. An upload must already
// be present in the store.
func (r *Resolver) Resolve(ctx context.Context, ref Reference) (*Resolved, error) {
	switch {
	case ref.IsAbsent():
		return nil, nil
	case ref.IsRemote():
		return r.download(ctx, ref)
	default:
		if !storage.ValidName(ref.Filename) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFilename, ref.Filename)
		}
		if !r.store.Exists(ref.Filename) {
			return nil, fmt.Errorf("%w: %q", ErrUploadNotFound, ref.Filename)
		}
		return &Resolved{
			Kind:     ref.Kind,
			Filename: ref.Filename,
			Path:     r.store.Path(ref.Filename),
		}, nil
	}
}

// ResolveAll resolves refs concurrently. The result has the same length and
// order as refs, with nil entries for absent references. On failure every
// file downloaded by the batch is removed and the first error is returned.
func (r *Resolver) ResolveAll(ctx context.Context, refs []Reference) ([]*Resolved, error) {
	out := make([]*Resolved, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			res, err := r.Resolve(gctx, ref)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.discard(out)
		return nil, err
	}
	return out, nil
}

// Discard removes downloaded files from a resolved batch.
// Uploaded files are left in place.
func (r *Resolver) Discard(ctx context.Context, resolved []*Resolved) error {
	var names []string
	for _, res := range resolved {
		if res != nil && res.Downloaded {
			names = append(names, res.Filename)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return r.store.Remove(ctx, names...)
}

func (r *Resolver) discard(resolved []*Resolved) {
	if err := r.Discard(context.Background(), resolved); err != nil {
		r.logger.Warn("failed to remove downloaded media", slog.String("error", err.Error()))
	}
}

func (r *Resolver) download(ctx context.Context, ref Reference) (res *Resolved, err error) {
	start := time.Now()
	if r.observe != nil {
		defer func() { r.observe(ref.Kind, time.Since(start), err) }()
	}

	u, err := url.Parse(ref.URL)
	if err != nil {
		return nil, &DownloadError{URL: ref.URL, Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &DownloadError{URL: ref.URL, Err: ErrUnsupportedURL}
	}

	release, err := r.hosts.Acquire(ctx, u.Scheme+"://"+u.Host)
	if err != nil {
		return nil, &DownloadError{URL: ref.URL, Err: err}
	}
	defer release()

	name := uuid.NewString() + extension(ref.Kind, u.Path)
	backoff := r.baseBackoff
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &DownloadError{URL: ref.URL, Err: ctx.Err()}
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		res, err = r.fetch(ctx, ref, name)
		if err == nil || attempt >= r.maxRetries || !isRetryable(err) || ctx.Err() != nil {
			break
		}
		r.logger.Debug("retrying media download",
			slog.String("url", ref.URL),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Debug("media downloaded",
		slog.String("kind", string(ref.Kind)),
		slog.String("url", ref.URL),
		slog.String("file", name),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// fetch performs one download attempt into name.
func (r *Resolver) fetch(ctx context.Context, ref Reference, name string) (*Resolved, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, &DownloadError{URL: ref.URL, Err: err}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: ref.URL, Err: &retryableError{err: err}}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var cause error = errors.New(http.StatusText(resp.StatusCode))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			cause = &retryableError{err: cause}
		}
		return nil, &DownloadError{URL: ref.URL, StatusCode: resp.StatusCode, Err: cause}
	}

	path, err := r.store.Save(ctx, name, resp.Body)
	if err != nil {
		return nil, &DownloadError{URL: ref.URL, StatusCode: resp.StatusCode, Err: &retryableError{err: err}}
	}
	return &Resolved{Kind: ref.Kind, Filename: name, Path: path, Downloaded: true}, nil
}

// retryableError marks a download failure worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// extension infers a file extension from a URL path.
func extension(kind Kind, urlPath string) string {
	ext := strings.ToLower(path.Ext(urlPath))
	if len(ext) < 2 || len(ext) > 6 {
		return kind.DefaultExtension()
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return kind.DefaultExtension()
		}
	}
	return ext
}
