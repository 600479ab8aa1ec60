package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/redactor/constants"
)

// Batch represents a submission for data transfer between layers.
type Batch struct {
	ID        uuid.UUID             `json:"id"`
	Status    constants.BatchStatus `json:"status"`
	CreatedAt time.Time             `json:"created_at"`
}
