// scraper/bal_downloader.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

// FetchErrorKind names the exact condition that made a fetch unusable.
type FetchErrorKind string

const (
	FetchTimeout     FetchErrorKind = "timeout"
	FetchBadStatus   FetchErrorKind = "bad-status"
	FetchHTMLContent FetchErrorKind = "html-content-type"
	FetchEmptyBody   FetchErrorKind = "empty-body"
	FetchTransport   FetchErrorKind = "transport"
)

// FetchError is returned for any unusable download. Kind carries the
// offending condition so callers can record it without string matching.
type FetchError struct {
	Kind        FetchErrorKind
	URL         string
	Status      int
	ContentType string
	Err         error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchBadStatus:
		return fmt.Sprintf("failed to download BAL from %s: received status code %d", e.URL, e.Status)
	case FetchHTMLContent:
		return fmt.Sprintf("failed to download BAL from %s: not a BAL file (content type %s)", e.URL, e.ContentType)
	case FetchEmptyBody:
		return fmt.Sprintf("failed to download BAL from %s: empty body", e.URL)
	case FetchTimeout:
		return fmt.Sprintf("failed to download BAL from %s: timed out", e.URL)
	default:
		return fmt.Sprintf("failed to download BAL from %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Downloader fetches BAL files. One GET per attempt, no retries: the retry
// policy belongs to the next scheduled batch run, not to a single fetch.
type Downloader struct {
	client *http.Client
}

// NewDownloader builds a Downloader with the given overall request timeout
// (the boundary contract is 300s).
func NewDownloader(timeout time.Duration) *Downloader {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Downloader{client: &http.Client{Timeout: timeout, Transport: tr}}
}

// FetchBAL downloads one source's file. Succeeds only if the response is a
// 200 with a non-HTML content type and a non-empty body; anything else is a
// *FetchError.
func (d *Downloader) FetchBAL(ctx context.Context, url string) ([]byte, error) {
	log.Printf("Scraper: downloading BAL from %s\n", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: FetchTransport, URL: url, Err: err}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: fetchErrKind(err), URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: FetchBadStatus, URL: url, Status: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		return nil, &FetchError{Kind: FetchHTMLContent, URL: url, ContentType: contentType}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: fetchErrKind(err), URL: url, Err: err}
	}
	if len(data) == 0 {
		return nil, &FetchError{Kind: FetchEmptyBody, URL: url}
	}

	log.Printf("Scraper: downloaded %d bytes from %s\n", len(data), url)
	return data, nil
}

func fetchErrKind(err error) FetchErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FetchTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FetchTimeout
	}
	return FetchTransport
}
