package models

import (
	"time"

	"github.com/google/uuid"
)

// Owner is the account every corpus record belongs to.
type Owner struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
