package jobs

import "github.com/google/uuid"

// IngestProgress is attached to transcript ingestion jobs.
type IngestProgress struct {
	ChannelID string `json:"channel_id"`
	Indexed   int    `json:"chunks_indexed"`
}

func (IngestProgress) extraKind() string { return "ingest" }

// ScrapeProgress is attached to documentation scrape jobs.
type ScrapeProgress struct {
	CollectionID     uuid.UUID `json:"collection_id"`
	CollectionStatus string    `json:"collection_status,omitempty"`
	Indexed          int       `json:"chunks_indexed"`
}

func (ScrapeProgress) extraKind() string { return "scrape" }

// ArticleProgress is attached to article scrape jobs.
type ArticleProgress struct {
	ArticleID uuid.UUID `json:"article_id"`
	URL       string    `json:"url"`
	Truncated bool      `json:"is_truncated,omitempty"`
	Indexed   int       `json:"chunks_indexed"`
}

func (ArticleProgress) extraKind() string { return "article" }

// GenerationProgress is attached to pair generation jobs.
type GenerationProgress struct {
	Phase           string    `json:"phase"`
	TrainingRunID   uuid.UUID `json:"training_run_id"`
	TotalChunks     int       `json:"total_chunks"`
	ProcessedChunks int       `json:"processed_chunks"`
	PairsGenerated  int       `json:"pairs_generated"`
	MaxPairs        int       `json:"max_pairs"`
}

func (GenerationProgress) extraKind() string { return "generation" }

// Percent reports chunk progress; generation jobs keep TotalUnits at zero
// until the chunk set is known.
func (g GenerationProgress) Percent() float64 {
	if g.Phase == "generated" {
		return 100
	}
	if g.TotalChunks == 0 {
		return 0
	}
	return float64(g.ProcessedChunks) / float64(g.TotalChunks) * 100
}

// TrainingProgress is attached to training jobs.
type TrainingProgress struct {
	Phase          string             `json:"phase"`
	TrainingRunID  uuid.UUID          `json:"training_run_id"`
	ExternalJobID  string             `json:"external_job_id,omitempty"`
	TrainPairs     int                `json:"train_pairs"`
	TestPairs      int                `json:"test_pairs"`
	Polls          int                `json:"polls"`
	ExternalStatus string             `json:"external_status,omitempty"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
}

func (TrainingProgress) extraKind() string { return "training" }

var trainingPhasePercent = map[string]float64{
	"preparing":  5,
	"submitting": 10,
	"training":   20,
	"evaluating": 90,
	"completed":  100,
}

func (t TrainingProgress) Percent() float64 { return trainingPhasePercent[t.Phase] }
