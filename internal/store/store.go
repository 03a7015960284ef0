package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
// Every query on corpus records is scoped to an owner.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultOwner(ctx context.Context) (*models.Owner, error)

	KeyStore
	ChannelStore
	DocStore
	ArticleStore
	TrainingStore
}

// KeyStore manages API keys.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, ownerID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error
}

// ChannelStore manages channels and their videos.
type ChannelStore interface {
	UpsertChannel(ctx context.Context, ch *models.Channel) (*models.Channel, error)
	GetChannel(ctx context.Context, ownerID uuid.UUID, externalID string) (*models.Channel, error)
	UpsertVideos(ctx context.Context, videos []*models.Video) error
	ListVideos(ctx context.Context, ownerID, channelID uuid.UUID) ([]*models.Video, error)
	MarkVideoTranscribed(ctx context.Context, ownerID uuid.UUID, externalID, artifactKey string) error
	DeleteChannel(ctx context.Context, ownerID, channelID uuid.UUID) error
}

// DocStore manages documentation collections and pages.
type DocStore interface {
	CreateCollection(ctx context.Context, c *models.DocCollection, pages []*models.DocPage) error
	GetCollection(ctx context.Context, ownerID, id uuid.UUID) (*models.DocCollection, error)
	UpdateCollectionStatus(ctx context.Context, ownerID, id uuid.UUID, status string, succeeded, failed int) error
	ListPages(ctx context.Context, ownerID, collectionID uuid.UUID) ([]*models.DocPage, error)
	UpdatePage(ctx context.Context, page *models.DocPage) error
	ResetFailedPages(ctx context.Context, ownerID, collectionID uuid.UUID) ([]*models.DocPage, error)
	DeleteCollection(ctx context.Context, ownerID, id uuid.UUID) error
}

// ArticleStore manages standalone scraped articles.
type ArticleStore interface {
	CreateArticle(ctx context.Context, a *models.Article) error
	GetArticle(ctx context.Context, ownerID, id uuid.UUID) (*models.Article, error)
	ListArticles(ctx context.Context, ownerID uuid.UUID) ([]*models.Article, error)
	UpdateArticle(ctx context.Context, a *models.Article) error
	DeleteArticle(ctx context.Context, ownerID, id uuid.UUID) error
}

// TrainingStore manages training runs, their pairs and per-owner settings.
type TrainingStore interface {
	CreateTrainingRun(ctx context.Context, run *models.TrainingRun) error
	GetTrainingRun(ctx context.Context, ownerID, id uuid.UUID) (*models.TrainingRun, error)
	ListTrainingRuns(ctx context.Context, ownerID uuid.UUID) ([]*models.TrainingRun, error)
	UpdateTrainingRun(ctx context.Context, run *models.TrainingRun) error
	FindBlockingRun(ctx context.Context, ownerID uuid.UUID) (*models.TrainingRun, error)
	HasCompletedRun(ctx context.Context, ownerID uuid.UUID) (bool, error)

	InsertTrainingPairs(ctx context.Context, pairs []*models.TrainingPair) error
	ListRunPairs(ctx context.Context, ownerID, runID uuid.UUID, limit int) ([]*models.TrainingPair, error)
	ListCompletedRunPairs(ctx context.Context, ownerID, excludeRunID uuid.UUID) ([]*models.TrainingPair, error)
	CoveredChunkIDs(ctx context.Context, ownerID, runID uuid.UUID) (map[string]struct{}, error)

	GetDeepMemorySettings(ctx context.Context, ownerID uuid.UUID) (*models.DeepMemorySettings, error)
	UpsertDeepMemorySettings(ctx context.Context, s *models.DeepMemorySettings) error
}
