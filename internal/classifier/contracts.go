package classifier

import (
	"context"

	"github.com/joseph-ayodele/redactor/internal/entity"
)

// Request is one classification call: the space-joined text of a file plus
// the label set and score threshold to apply.
type Request struct {
	Text      string
	Labels    []string
	Threshold float32
}

// Classifier is the interface our pipeline depends on.
type Classifier interface {
	Classify(ctx context.Context, req Request) ([]entity.Entity, error)
}

// entitiesDoc is the wire shape every backend is normalized to.
type entitiesDoc struct {
	Entities []entity.Entity `json:"entities"`
}
