package classifier

import (
	"encoding/json"
	"strings"

	"github.com/joseph-ayodele/redactor/constants"
	"github.com/joseph-ayodele/redactor/internal/entity"
)

// SanitizeEntities trims span text, resolves labels against the requested set
// and drops empty spans and labels outside it. Order and repeated spans are kept
// so TokenLabels sees the classifier's sequence. A label matched through a
// synonym is reported as the label the caller requested.
func SanitizeEntities(in []entity.Entity, labels []string) []entity.Entity {
	requested := requestedLabels(labels)
	out := make([]entity.Entity, 0, len(in))
	for _, e := range in {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		label, ok := resolveLabel(e.Label, requested)
		if !ok {
			continue
		}
		out = append(out, entity.Entity{Text: text, Label: label, Score: e.Score})
	}
	return out
}

// DropUnknownLabels removes entities whose label is not one of labels from a raw
// response document so the rest of it can still validate. It returns the
// cleaned document and the number of entities dropped.
func DropUnknownLabels(doc []byte, labels []string) ([]byte, int, error) {
	var m struct {
		Entities []map[string]any `json:"entities"`
	}
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, 0, err
	}
	requested := requestedLabels(labels)
	kept := make([]map[string]any, 0, len(m.Entities))
	for _, e := range m.Entities {
		raw, _ := e["label"].(string)
		if label, ok := resolveLabel(raw, requested); ok {
			e["label"] = label
			kept = append(kept, e)
		}
	}
	dropped := len(m.Entities) - len(kept)
	m.Entities = kept
	b, err := json.Marshal(m)
	if err != nil {
		return nil, 0, err
	}
	return b, dropped, nil
}

// requestedLabels maps the canonical form of each requested label to the
// label as the caller spelled it. The first spelling wins.
func requestedLabels(labels []string) map[string]string {
	m := make(map[string]string, len(labels))
	for _, l := range labels {
		c, ok := constants.CanonicalLabel(l)
		if !ok {
			continue
		}
		if _, dup := m[c]; !dup {
			m[c] = l
		}
	}
	return m
}

// resolveLabel returns the requested label raw stands for. With no requested
// labels every non-empty label resolves to its canonical form.
func resolveLabel(raw string, requested map[string]string) (string, bool) {
	c, ok := constants.CanonicalLabel(raw)
	if !ok {
		return "", false
	}
	if len(requested) == 0 {
		return c, true
	}
	l, ok := requested[c]
	return l, ok
}
