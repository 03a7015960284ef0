package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ArticleStatusPending   = "pending"
	ArticleStatusScraping  = "scraping"
	ArticleStatusCompleted = "completed"
	ArticleStatusFailed    = "failed"
)

// Article is a single web page scraped on its own, outside any collection.
type Article struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	OwnerID      uuid.UUID  `db:"owner_id"      json:"owner_id"`
	URL          string     `db:"url"           json:"url"`
	Title        string     `db:"title"         json:"title"`
	Content      string     `db:"content"       json:"-"`
	IsTruncated  bool       `db:"is_truncated"  json:"is_truncated"`
	Status       string     `db:"status"        json:"status"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	ScrapedAt    *time.Time `db:"scraped_at"    json:"scraped_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}
