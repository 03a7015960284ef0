package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

// --- Articles ---

const articleColumns = `id, owner_id, url, title, content, is_truncated, status, error_message, scraped_at, created_at, updated_at`

func (s *PostgresStore) CreateArticle(ctx context.Context, a *models.Article) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO articles (id, owner_id, url, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.OwnerID, a.URL, a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create article: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetArticle(ctx context.Context, ownerID, id uuid.UUID) (*models.Article, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanArticle)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	return a, nil
}

// ListArticles returns the owner's articles, newest first.
func (s *PostgresStore) ListArticles(ctx context.Context, ownerID uuid.UUID) ([]*models.Article, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanArticle)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateArticle(ctx context.Context, a *models.Article) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE articles SET title = $3, content = $4, is_truncated = $5, status = $6, error_message = $7,
		 scraped_at = $8, updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2`,
		a.ID, a.OwnerID, a.Title, a.Content, a.IsTruncated, a.Status, a.ErrorMessage, a.ScrapedAt)
	if err != nil {
		return fmt.Errorf("update article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteArticle(ctx context.Context, ownerID, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM articles WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanArticle(row pgx.CollectableRow) (*models.Article, error) {
	var a models.Article
	err := row.Scan(&a.ID, &a.OwnerID, &a.URL, &a.Title, &a.Content, &a.IsTruncated, &a.Status,
		&a.ErrorMessage, &a.ScrapedAt, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}
