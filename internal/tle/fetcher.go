package tle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultSourceURL is the CelesTrak "active satellites" group in 3-line format.
	DefaultSourceURL = "https://celestrak.org/NORAD/elements/gp.php?GROUP=active&FORMAT=tle"

	// DefaultMinInterval is the minimum time between two fetches. CelesTrak
	// only refreshes element sets a few times a day and blocks aggressive clients.
	DefaultMinInterval = time.Minute

	maxBodyBytes = 50 << 20
)

// Fetcher retrieves raw element set text from a primary source and optional
// extra sources, concatenating the results.
type Fetcher struct {
	sourceURL  string
	extraURLs  []string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher for the given source URL. extraURLs are fetched
// after the primary; their failures are logged and ignored.
func NewFetcher(sourceURL string, logger *slog.Logger, extraURLs ...string) *Fetcher {
	if sourceURL == "" {
		sourceURL = DefaultSourceURL
	}
	return &Fetcher{
		sourceURL: sourceURL,
		extraURLs: extraURLs,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(DefaultMinInterval), 1),
		logger:  logger,
	}
}

// SetMinInterval changes the minimum spacing between fetches. Zero disables
// rate limiting.
func (f *Fetcher) SetMinInterval(d time.Duration) {
	if d <= 0 {
		f.limiter.SetLimit(rate.Inf)
		return
	}
	f.limiter.SetLimit(rate.Every(d))
}

// SourceURL returns the configured primary source URL.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Fetch performs the HTTP GETs and returns the concatenated bodies. It blocks
// until the rate limiter admits the fetch or ctx is done.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := f.get(ctx, f.sourceURL)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(body)
	for _, u := range f.extraURLs {
		extra, err := f.get(ctx, u)
		if err != nil {
			f.logger.Warn("extra element source failed", "url", u, "error", err)
			continue
		}
		if buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
			buf.WriteByte('\n')
		}
		buf.Write(extra)
	}

	return buf.Bytes(), nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching element sets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", url, maxBodyBytes)
	}

	return body, nil
}
