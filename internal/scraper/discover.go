package scraper

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MaxDiscoveredPages caps the page list returned for one entry page.
const MaxDiscoveredPages = 100

var ErrNoPagesFound = errors.New("no documentation pages found at this URL")

var skippedExtensions = map[string]bool{
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".svg": true, ".ico": true, ".mp4": true, ".mp3": true, ".avi": true, ".mov": true,
	".exe": true, ".dmg": true, ".css": true, ".js": true, ".woff": true, ".woff2": true, ".ttf": true,
	".eot": true,
}

// Link is a candidate page found on an entry page.
type Link struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Discovery is the table of contents read from a documentation entry page.
// OriginalCount is set only when the list was cut to MaxDiscoveredPages.
type Discovery struct {
	EntryURL      string `json:"entry_url"`
	ScopePath     string `json:"scope_path"`
	SiteName      string `json:"site_name"`
	Pages         []Link `json:"pages"`
	TotalCount    int    `json:"total_count"`
	Truncated     bool   `json:"truncated"`
	OriginalCount *int   `json:"original_count,omitempty"`
}

// Discover loads entry and lists the same-host pages it links to.
func (f *HTTPFetcher) Discover(ctx context.Context, entry string) (*Discovery, error) {
	doc, err := f.load(ctx, entry)
	if err != nil {
		return nil, err
	}
	return DiscoverLinks(doc, entry)
}

// DiscoverLinks resolves every anchor in doc against entry and keeps the
// ones on entry's host. Fragments and trailing slashes are stripped before
// de-duplication and links to downloadable files are dropped.
func DiscoverLinks(doc *html.Node, entry string) (*Discovery, error) {
	base, err := url.Parse(entry)
	if err != nil {
		return nil, err
	}

	d := &Discovery{EntryURL: entry, ScopePath: base.Path}
	if !strings.HasSuffix(d.ScopePath, "/") {
		d.ScopePath += "/"
	}
	if t := find(doc, atom.Title); t != nil {
		d.SiteName = collapse(text(t))
	}
	if d.SiteName == "" {
		d.SiteName = base.Hostname()
	}
	if d.SiteName == "" {
		d.SiteName = "Documentation"
	}

	seen := map[string]bool{}
	var pages []Link
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if link, ok := normalizeLink(base, attr(n, "href")); ok && !seen[link] {
				seen[link] = true
				pages = append(pages, Link{URL: link, Title: collapse(text(n))})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(pages) == 0 {
		return nil, ErrNoPagesFound
	}
	if len(pages) > MaxDiscoveredPages {
		n := len(pages)
		d.OriginalCount = &n
		d.Truncated = true
		pages = pages[:MaxDiscoveredPages]
	}
	d.Pages = pages
	d.TotalCount = len(pages)
	return d, nil
}

func normalizeLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if !strings.EqualFold(u.Hostname(), base.Hostname()) {
		return "", false
	}
	if skippedExtensions[strings.ToLower(path.Ext(u.Path))] {
		return "", false
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}
	return u.String(), true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
