package ingest_test

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/internal/vectorstore"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

type fakeFetcher struct {
	fail map[string]bool
}

func (f *fakeFetcher) Fetch(_ context.Context, videoID string) (string, error) {
	if f.fail[videoID] {
		return "", errors.New("no captions for " + videoID)
	}
	return "transcript of " + videoID, nil
}

type memArtifacts struct {
	mu      sync.Mutex
	objects map[string]string
	deleted []string
}

func newMemArtifacts() *memArtifacts { return &memArtifacts{objects: map[string]string{}} }

func (m *memArtifacts) Put(_ context.Context, key, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = content
	return nil
}

func (m *memArtifacts) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key], nil
}

func (m *memArtifacts) Delete(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.objects, k)
		m.deleted = append(m.deleted, k)
	}
	return nil
}

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

// memChannels is an in-memory store.ChannelStore.
type memChannels struct {
	mu       sync.Mutex
	channels map[string]*models.Channel
	videos   map[string]*models.Video
}

func newMemChannels() *memChannels {
	return &memChannels{channels: map[string]*models.Channel{}, videos: map[string]*models.Video{}}
}

func (m *memChannels) UpsertChannel(_ context.Context, ch *models.Channel) (*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.channels[ch.ExternalID]; ok {
		existing.Title = ch.Title
		return existing, nil
	}
	c := *ch
	m.channels[ch.ExternalID] = &c
	return &c, nil
}

func (m *memChannels) GetChannel(_ context.Context, _ uuid.UUID, externalID string) (*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[externalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (m *memChannels) UpsertVideos(_ context.Context, videos []*models.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range videos {
		if _, ok := m.videos[v.ExternalID]; !ok {
			c := *v
			m.videos[v.ExternalID] = &c
		}
	}
	return nil
}

func (m *memChannels) ListVideos(_ context.Context, _ uuid.UUID, channelID uuid.UUID) ([]*models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Video
	for _, v := range m.videos {
		if v.ChannelID == channelID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memChannels) MarkVideoTranscribed(_ context.Context, _ uuid.UUID, externalID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[externalID]
	if !ok {
		return store.ErrNotFound
	}
	v.Transcribed = true
	v.ArtifactKey = &key
	return nil
}

func (m *memChannels) DeleteChannel(_ context.Context, _ uuid.UUID, channelID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.channels {
		if c.ID == channelID {
			delete(m.channels, k)
		}
	}
	for k, v := range m.videos {
		if v.ChannelID == channelID {
			delete(m.videos, k)
		}
	}
	return nil
}

var _ store.ChannelStore = (*memChannels)(nil)
