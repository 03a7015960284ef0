package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a YouTube channel whose transcripts were added to the corpus.
type Channel struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	OwnerID    uuid.UUID `db:"owner_id"    json:"owner_id"`
	ExternalID string    `db:"external_id" json:"channel_id"`
	Title      string    `db:"title"       json:"title"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}

// Video is one channel video. ArtifactKey is set once its transcript is stored.
type Video struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	OwnerID     uuid.UUID  `db:"owner_id"     json:"owner_id"`
	ChannelID   uuid.UUID  `db:"channel_id"   json:"channel_id"`
	ExternalID  string     `db:"external_id"  json:"video_id"`
	Title       string     `db:"title"        json:"title"`
	Transcribed bool       `db:"transcribed"  json:"transcribed"`
	ArtifactKey *string    `db:"artifact_key" json:"artifact_key,omitempty"`
	IngestedAt  *time.Time `db:"ingested_at"  json:"ingested_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}
