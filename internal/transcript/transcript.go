// Package transcript fetches video captions and turns them into plain text
// and markdown artifacts.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	ErrNoTranscript = errors.New("no transcript available")
	ErrUnreachable  = errors.New("transcript service unreachable")
	ErrTimeout      = errors.New("transcript service timeout")
	ErrService      = errors.New("transcript service error")
)

const maxCaptionBytes = 8 << 20

// Fetcher returns the plain-text transcript of a video.
type Fetcher interface {
	Fetch(ctx context.Context, videoID string) (string, error)
}

// HTTPFetcher downloads WebVTT captions from a caption service.
type HTTPFetcher struct {
	baseURL  string
	language string
	client   *http.Client
}

func NewHTTPFetcher(baseURL, language string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: language,
		client:   &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, videoID string) (string, error) {
	params := url.Values{"lang": {f.language}, "fmt": {"vtt"}}
	u := fmt.Sprintf("%s/captions/%s?%s", f.baseURL, url.PathEscape(videoID), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "text/vtt")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrNoTranscript, videoID)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: status %d", ErrService, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCaptionBytes))
	if err != nil {
		return "", fmt.Errorf("reading captions: %w", err)
	}
	text := ParseVTT(string(body))
	if text == "" {
		return "", fmt.Errorf("%w: %s", ErrNoTranscript, videoID)
	}
	return text, nil
}

var (
	timestampLine = regexp.MustCompile(`^\d{2}:\d{2}`)
	sequenceLine  = regexp.MustCompile(`^\d+$`)
	markupTag     = regexp.MustCompile(`<[^>]+>`)
)

// ParseVTT strips headers, cue timings, sequence numbers and inline tags from
// WebVTT content and joins the distinct caption lines with spaces.
// Auto-generated captions repeat lines across cues; only the first copy is kept.
func ParseVTT(content string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "",
			strings.HasPrefix(line, "WEBVTT"),
			strings.HasPrefix(line, "Kind:"),
			strings.HasPrefix(line, "Language:"),
			timestampLine.MatchString(line),
			sequenceLine.MatchString(line):
			continue
		}
		if strings.Contains(line, "<") {
			line = strings.TrimSpace(markupTag.ReplaceAllString(line, ""))
		}
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return strings.Join(out, " ")
}

// VideoURL is the canonical watch link for a video.
func VideoURL(videoID string) string {
	return "https://youtube.com/watch?v=" + videoID
}

// Markdown renders a transcript as the stored artifact.
func Markdown(videoID, title, text string) string {
	return fmt.Sprintf("# %s\n\n**Video:** %s\n\n---\n\n%s", title, VideoURL(videoID), text)
}

func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

var _ Fetcher = (*HTTPFetcher)(nil)
