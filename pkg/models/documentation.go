package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	CollectionStatusPending   = "pending"
	CollectionStatusScraping  = "scraping"
	CollectionStatusCompleted = "completed"
	CollectionStatusPartial   = "partial"
	CollectionStatusFailed    = "failed"
)

const (
	PageStatusPending   = "pending"
	PageStatusScraping  = "scraping"
	PageStatusCompleted = "completed"
	PageStatusFailed    = "failed"
)

// DocCollection groups documentation pages scraped together. Its status is
// derived from the page outcomes and never set directly by clients.
type DocCollection struct {
	ID             uuid.UUID `db:"id"              json:"id"`
	OwnerID        uuid.UUID `db:"owner_id"        json:"owner_id"`
	Name           string    `db:"name"            json:"name"`
	SourceURL      string    `db:"source_url"      json:"source_url"`
	Status         string    `db:"status"          json:"status"`
	TotalPages     int       `db:"total_pages"     json:"total_pages"`
	SucceededPages int       `db:"succeeded_pages" json:"succeeded_pages"`
	FailedPages    int       `db:"failed_pages"    json:"failed_pages"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"      json:"updated_at"`
}

// DocPage is one page of a collection.
type DocPage struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	CollectionID uuid.UUID  `db:"collection_id" json:"collection_id"`
	OwnerID      uuid.UUID  `db:"owner_id"      json:"owner_id"`
	URL          string     `db:"url"           json:"url"`
	Title        string     `db:"title"         json:"title"`
	Content      string     `db:"content"       json:"-"`
	Status       string     `db:"status"        json:"status"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	ScrapedAt    *time.Time `db:"scraped_at"    json:"scraped_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}
