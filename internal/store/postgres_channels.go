package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

// --- Channels ---

func (s *PostgresStore) UpsertChannel(ctx context.Context, ch *models.Channel) (*models.Channel, error) {
	var out models.Channel
	err := s.pool.QueryRow(ctx,
		`INSERT INTO channels (id, owner_id, external_id, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (owner_id, external_id) DO UPDATE SET
		   title = EXCLUDED.title,
		   updated_at = NOW()
		 RETURNING id, owner_id, external_id, title, created_at, updated_at`,
		ch.ID, ch.OwnerID, ch.ExternalID, ch.Title, ch.CreatedAt, ch.UpdatedAt,
	).Scan(&out.ID, &out.OwnerID, &out.ExternalID, &out.Title, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert channel: %w", err)
	}
	return &out, nil
}

func (s *PostgresStore) GetChannel(ctx context.Context, ownerID uuid.UUID, externalID string) (*models.Channel, error) {
	var c models.Channel
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, external_id, title, created_at, updated_at
		 FROM channels WHERE owner_id = $1 AND external_id = $2`, ownerID, externalID,
	).Scan(&c.ID, &c.OwnerID, &c.ExternalID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &c, nil
}

// UpsertVideos inserts videos, refreshing titles of ones already known.
func (s *PostgresStore) UpsertVideos(ctx context.Context, videos []*models.Video) error {
	if len(videos) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, v := range videos {
		batch.Queue(
			`INSERT INTO videos (id, owner_id, channel_id, external_id, title, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (owner_id, external_id) DO UPDATE SET
			   title = EXCLUDED.title,
			   channel_id = EXCLUDED.channel_id,
			   updated_at = NOW()`,
			v.ID, v.OwnerID, v.ChannelID, v.ExternalID, v.Title, v.CreatedAt, v.UpdatedAt)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert videos: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVideos(ctx context.Context, ownerID, channelID uuid.UUID) ([]*models.Video, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, channel_id, external_id, title, transcribed, artifact_key, ingested_at, created_at, updated_at
		 FROM videos WHERE owner_id = $1 AND channel_id = $2 ORDER BY created_at`, ownerID, channelID)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var out []*models.Video
	for rows.Next() {
		var v models.Video
		if err := rows.Scan(&v.ID, &v.OwnerID, &v.ChannelID, &v.ExternalID, &v.Title, &v.Transcribed,
			&v.ArtifactKey, &v.IngestedAt, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkVideoTranscribed(ctx context.Context, ownerID uuid.UUID, externalID, artifactKey string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE videos SET transcribed = TRUE, artifact_key = $3, ingested_at = NOW(), updated_at = NOW()
		 WHERE owner_id = $1 AND external_id = $2`, ownerID, externalID, artifactKey)
	if err != nil {
		return fmt.Errorf("mark video transcribed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChannel removes a channel and, by cascade, its videos.
func (s *PostgresStore) DeleteChannel(ctx context.Context, ownerID, channelID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM channels WHERE id = $1 AND owner_id = $2`, channelID, ownerID)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
