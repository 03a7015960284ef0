package articles_test

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/scraper"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/internal/vectorstore"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

type stubFetcher struct {
	page *scraper.Page
	err  error
}

func (f *stubFetcher) Fetch(_ context.Context, url string) (*scraper.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := *f.page
	p.URL = url
	return &p, nil
}

type memArticles struct {
	mu           sync.Mutex
	rows         map[uuid.UUID]*models.Article
	rejectStatus string
}

func newMemArticles() *memArticles {
	return &memArticles{rows: map[uuid.UUID]*models.Article{}}
}

func (m *memArticles) CreateArticle(_ context.Context, a *models.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	aa := *a
	m.rows[a.ID] = &aa
	return nil
}

func (m *memArticles) GetArticle(_ context.Context, ownerID, id uuid.UUID) (*models.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok || a.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	aa := *a
	return &aa, nil
}

func (m *memArticles) ListArticles(_ context.Context, ownerID uuid.UUID) ([]*models.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Article
	for _, a := range m.rows {
		if a.OwnerID == ownerID {
			aa := *a
			out = append(out, &aa)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdateArticle fails writes that move a row to rejectStatus.
func (m *memArticles) UpdateArticle(_ context.Context, a *models.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejectStatus != "" && a.Status == m.rejectStatus {
		return errors.New("connection reset")
	}
	if _, ok := m.rows[a.ID]; !ok {
		return store.ErrNotFound
	}
	aa := *a
	m.rows[a.ID] = &aa
	return nil
}

func (m *memArticles) DeleteArticle(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

var _ store.ArticleStore = (*memArticles)(nil)

type fakeIndex struct {
	mu      sync.Mutex
	docs    []vectorstore.Document
	deleted []string
}

func (f *fakeIndex) AddDocuments(_ context.Context, _ uuid.UUID, docs []vectorstore.Document) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, docs...)
	return len(docs) * 2, nil
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
