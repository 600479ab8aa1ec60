package classifier

import (
	"strings"

	"github.com/joseph-ayodele/redactor/internal/entity"
)

// TokenLabels splits every entity span on whitespace and maps each token to
// the entity's label. When a token appears in several entities the label of
// the last one wins.
func TokenLabels(entities []entity.Entity) map[string]string {
	out := make(map[string]string)
	for _, e := range entities {
		for _, tok := range strings.Fields(e.Text) {
			out[tok] = e.Label
		}
	}
	return out
}

// ApplyLabels labels payload records whose text exactly matches a token.
// It returns a new payload and leaves payload untouched.
func ApplyLabels(payload *entity.ExtractionPayload, tokens map[string]string) *entity.ExtractionPayload {
	return payload.WithLabels(tokens)
}
