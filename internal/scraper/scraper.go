// Package scraper downloads documentation pages and extracts readable markdown.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	ErrUnreachable  = errors.New("page unreachable")
	ErrTimeout      = errors.New("page fetch timeout")
	ErrBadStatus    = errors.New("unexpected page status")
	ErrNotHTML      = errors.New("page is not html")
	ErrEmptyContent = errors.New("page has no extractable content")
)

// Page is the extracted content of one URL.
type Page struct {
	URL       string
	Title     string
	Markdown  string
	Truncated bool
}

// Fetcher downloads and extracts a single page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

const maxRedirects = 5

// HTTPFetcher implements Fetcher with an HTTP client that only dials public
// addresses unless AllowPrivateNetworks is set.
type HTTPFetcher struct {
	userAgent    string
	maxBytes     int
	allowPrivate bool
	client       *http.Client
}

type FetcherOption func(*HTTPFetcher)

// AllowPrivateNetworks disables the address checks.
func AllowPrivateNetworks(allow bool) FetcherOption {
	return func(f *HTTPFetcher) { f.allowPrivate = allow }
}

func NewHTTPFetcher(userAgent string, maxBytes int, timeout time.Duration, opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{userAgent: userAgent, maxBytes: maxBytes}
	for _, o := range opts {
		o(f)
	}

	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	if !f.allowPrivate {
		dialer.Control = dialControl
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	f.client = &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if f.allowPrivate {
				return nil
			}
			return CheckURL(req.URL.String())
		},
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	doc, err := f.load(ctx, url)
	if err != nil {
		return nil, err
	}

	page := Extract(doc)
	page.URL = url
	if page.Markdown == "" {
		return nil, ErrEmptyContent
	}
	if len(page.Markdown) > f.maxBytes {
		page.Markdown = truncate(page.Markdown, f.maxBytes)
		page.Truncated = true
	}
	return page, nil
}

// load downloads url and parses it as HTML.
func (f *HTTPFetcher) load(ctx context.Context, url string) (*html.Node, error) {
	if !f.allowPrivate {
		if err := CheckURL(url); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBadStatus, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("%w: %s", ErrNotHTML, ct)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, int64(f.maxBytes)*4))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	return doc, nil
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Svg:      true,
	atom.Iframe:   true,
}

var blocks = map[atom.Atom]string{
	atom.H1: "# ", atom.H2: "## ", atom.H3: "### ", atom.H4: "#### ", atom.H5: "##### ", atom.H6: "###### ",
	atom.P: "", atom.Li: "- ", atom.Pre: "", atom.Blockquote: "> ", atom.Td: "", atom.Dt: "", atom.Dd: "",
}

// Extract pulls the title and a markdown rendering of the main content out of
// a parsed document. The first <main> or <article> is preferred over <body>.
func Extract(doc *html.Node) *Page {
	page := &Page{}
	if t := find(doc, atom.Title); t != nil {
		page.Title = collapse(text(t))
	}

	root := find(doc, atom.Main)
	if root == nil {
		root = find(doc, atom.Article)
	}
	if root == nil {
		root = find(doc, atom.Body)
	}
	if root == nil {
		return page
	}

	if page.Title == "" {
		if h1 := find(root, atom.H1); h1 != nil {
			page.Title = collapse(text(h1))
		}
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipped[n.DataAtom] {
				return
			}
			if prefix, ok := blocks[n.DataAtom]; ok {
				var line string
				if n.DataAtom == atom.Pre {
					line = "```\n" + strings.TrimSpace(text(n)) + "\n```"
				} else {
					line = collapse(text(n))
					if line != "" {
						line = prefix + line
					}
				}
				if line != "" && line != "```\n\n```" {
					parts = append(parts, line)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	page.Markdown = strings.Join(parts, "\n\n")
	return page
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, a); found != nil {
			return found
		}
	}
	return nil
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, maxBytes int) string {
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

func classifyError(err error) error {
	if errors.Is(err, ErrBlockedAddress) {
		return err
	}
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
