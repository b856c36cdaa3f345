// Package fetch turns a job posting URL into a JobPosting.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/match-orchestrator/internal/logger"
	"github.com/jonathan/match-orchestrator/internal/types"
)

const (
	// DefaultTimeout bounds a single HTTP fetch.
	DefaultTimeout = 30 * time.Second
	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "Mozilla/5.0 (compatible; MatchAgent/1.0)"
	// maxBodyBytes caps how much of a page is read.
	maxBodyBytes = 5 << 20
)

// Error represents an error during URL fetching.
type Error struct {
	URL        string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Renderer returns the HTML of a page after its scripts have run.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Fetcher downloads job postings.
type Fetcher struct {
	client    *http.Client
	userAgent string
	renderer  Renderer
	logger    *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithRenderer enables rendering for pages whose static HTML holds too little text.
func WithRenderer(r Renderer) Option {
	return func(f *Fetcher) { f.renderer = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = logger.OrNop(l) }
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: DefaultTimeout},
		userAgent: DefaultUserAgent,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// HTML retrieves the raw page at rawURL.
func (f *Fetcher) HTML(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", &Error{URL: rawURL, Message: "invalid URL", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &Error{URL: rawURL, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &Error{URL: rawURL, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", &Error{URL: rawURL, StatusCode: resp.StatusCode, Message: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &Error{URL: rawURL, Message: "failed to read response body", Cause: err}
	}
	return string(body), nil
}

// JobPosting fetches rawURL and extracts the posting's title and description.
// When the static page is too thin and a Renderer is configured, the page is
// rendered and extracted again.
func (f *Fetcher) JobPosting(ctx context.Context, rawURL string) (*types.JobPosting, error) {
	html, err := f.HTML(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	platform := DetectPlatform(rawURL)
	page, err := Extract(html, platform)
	if err != nil {
		return nil, &Error{URL: rawURL, Message: "failed to extract text", Cause: err}
	}

	if NeedsRendering(page.Text) && f.renderer != nil {
		f.logger.Info("static page too thin, rendering",
			zap.String("url", rawURL),
			zap.Int("text_length", len(page.Text)))
		rendered, err := f.renderer.Render(ctx, rawURL)
		if err != nil {
			return nil, &Error{URL: rawURL, Message: "render failed", Cause: err}
		}
		if page, err = Extract(rendered, platform); err != nil {
			return nil, &Error{URL: rawURL, Message: "failed to extract rendered text", Cause: err}
		}
	}

	if page.Text == "" {
		return nil, &Error{URL: rawURL, Message: "page has no text"}
	}
	f.logger.Debug("job posting fetched",
		zap.String("url", rawURL),
		zap.String("platform", string(platform)),
		zap.Int("text_length", len(page.Text)))
	return &types.JobPosting{ID: rawURL, Title: page.Title, Description: page.Text}, nil
}
