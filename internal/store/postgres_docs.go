package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

// --- Documentation ---

// CreateCollection inserts the collection and all of its pages in one transaction.
func (s *PostgresStore) CreateCollection(ctx context.Context, c *models.DocCollection, pages []*models.DocPage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create collection: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO doc_collections (id, owner_id, name, source_url, status, total_pages, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.OwnerID, c.Name, c.SourceURL, c.Status, c.TotalPages, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create collection: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range pages {
		batch.Queue(
			`INSERT INTO doc_pages (id, collection_id, owner_id, url, title, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.ID, p.CollectionID, p.OwnerID, p.URL, p.Title, p.Status, p.CreatedAt, p.UpdatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("create pages: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetCollection(ctx context.Context, ownerID, id uuid.UUID) (*models.DocCollection, error) {
	var c models.DocCollection
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, source_url, status, total_pages, succeeded_pages, failed_pages, created_at, updated_at
		 FROM doc_collections WHERE id = $1 AND owner_id = $2`, id, ownerID,
	).Scan(&c.ID, &c.OwnerID, &c.Name, &c.SourceURL, &c.Status, &c.TotalPages,
		&c.SucceededPages, &c.FailedPages, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) UpdateCollectionStatus(ctx context.Context, ownerID, id uuid.UUID, status string, succeeded, failed int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE doc_collections SET status = $3, succeeded_pages = $4, failed_pages = $5, updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2`, id, ownerID, status, succeeded, failed)
	if err != nil {
		return fmt.Errorf("update collection status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListPages(ctx context.Context, ownerID, collectionID uuid.UUID) ([]*models.DocPage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, collection_id, owner_id, url, title, content, status, error_message, scraped_at, created_at, updated_at
		 FROM doc_pages WHERE owner_id = $1 AND collection_id = $2 ORDER BY created_at, url`, ownerID, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return scanPages(rows)
}

func (s *PostgresStore) UpdatePage(ctx context.Context, p *models.DocPage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE doc_pages SET title = $3, content = $4, status = $5, error_message = $6, scraped_at = $7, updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2`,
		p.ID, p.OwnerID, p.Title, p.Content, p.Status, p.ErrorMessage, p.ScrapedAt)
	if err != nil {
		return fmt.Errorf("update page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetFailedPages moves every failed page of the collection back to pending
// and returns the reset pages.
func (s *PostgresStore) ResetFailedPages(ctx context.Context, ownerID, collectionID uuid.UUID) ([]*models.DocPage, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE doc_pages SET status = 'pending', error_message = NULL, updated_at = NOW()
		 WHERE owner_id = $1 AND collection_id = $2 AND status = 'failed'
		 RETURNING id, collection_id, owner_id, url, title, content, status, error_message, scraped_at, created_at, updated_at`,
		ownerID, collectionID)
	if err != nil {
		return nil, fmt.Errorf("reset failed pages: %w", err)
	}
	return scanPages(rows)
}

// DeleteCollection removes a collection and, by cascade, its pages.
func (s *PostgresStore) DeleteCollection(ctx context.Context, ownerID, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM doc_collections WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPages(rows pgx.Rows) ([]*models.DocPage, error) {
	defer rows.Close()
	var out []*models.DocPage
	for rows.Next() {
		var p models.DocPage
		if err := rows.Scan(&p.ID, &p.CollectionID, &p.OwnerID, &p.URL, &p.Title, &p.Content, &p.Status,
			&p.ErrorMessage, &p.ScrapedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
