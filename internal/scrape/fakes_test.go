package scrape_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/scraper"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/internal/vectorstore"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

// slowFetcher fails for the configured URLs and tracks how many fetches
// overlap.
type slowFetcher struct {
	fail     map[string]bool
	hold     time.Duration
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *slowFetcher) Fetch(_ context.Context, url string) (*scraper.Page, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.hold)
	if f.fail[url] {
		return nil, errors.New("extraction failed for " + url)
	}
	return &scraper.Page{URL: url, Title: "Title " + url, Markdown: "# content of " + url}, nil
}

type memDocs struct {
	mu          sync.Mutex
	collections map[uuid.UUID]*models.DocCollection
	pages       map[uuid.UUID]*models.DocPage
}

func newMemDocs() *memDocs {
	return &memDocs{collections: map[uuid.UUID]*models.DocCollection{}, pages: map[uuid.UUID]*models.DocPage{}}
}

func (m *memDocs) CreateCollection(_ context.Context, c *models.DocCollection, pages []*models.DocPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc := *c
	m.collections[c.ID] = &cc
	for _, p := range pages {
		pp := *p
		m.pages[p.ID] = &pp
	}
	return nil
}

func (m *memDocs) GetCollection(_ context.Context, _ uuid.UUID, id uuid.UUID) (*models.DocCollection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (m *memDocs) UpdateCollectionStatus(_ context.Context, _ uuid.UUID, id uuid.UUID, status string, succeeded, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = status
	c.SucceededPages = succeeded
	c.FailedPages = failed
	return nil
}

func (m *memDocs) ListPages(_ context.Context, _ uuid.UUID, collectionID uuid.UUID) ([]*models.DocPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DocPage
	for _, p := range m.pages {
		if p.CollectionID == collectionID {
			pp := *p
			out = append(out, &pp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (m *memDocs) UpdatePage(_ context.Context, p *models.DocPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pages[p.ID]; !ok {
		return store.ErrNotFound
	}
	pp := *p
	m.pages[p.ID] = &pp
	return nil
}

func (m *memDocs) ResetFailedPages(_ context.Context, _ uuid.UUID, collectionID uuid.UUID) ([]*models.DocPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DocPage
	for _, p := range m.pages {
		if p.CollectionID == collectionID && p.Status == models.PageStatusFailed {
			p.Status = models.PageStatusPending
			p.ErrorMessage = nil
			pp := *p
			out = append(out, &pp)
		}
	}
	return out, nil
}

func (m *memDocs) DeleteCollection(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.collections, id)
	for k, p := range m.pages {
		if p.CollectionID == id {
			delete(m.pages, k)
		}
	}
	return nil
}

func (m *memDocs) page(url string) *models.DocPage {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pages {
		if p.URL == url {
			pp := *p
			return &pp
		}
	}
	return nil
}

var _ store.DocStore = (*memDocs)(nil)

type fakeIndex struct {
	mu      sync.Mutex
	err     error
	docs    []vectorstore.Document
	deleted []string
}

func (f *fakeIndex) AddDocuments(_ context.Context, _ uuid.UUID, docs []vectorstore.Document) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.docs = append(f.docs, docs...)
	return len(docs), nil
}

func (f *fakeIndex) ListChunks(context.Context, uuid.UUID) ([]vectorstore.Chunk, error) { return nil, nil }

func (f *fakeIndex) DeleteBySource(_ context.Context, _ uuid.UUID, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *fakeIndex) Search(context.Context, uuid.UUID, string, int) ([]vectorstore.Match, error) {
	return nil, nil
}
