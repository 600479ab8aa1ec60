package entity

import (
	"image"
	"strings"
)

// ScaleFactor is the upscale applied before recognition. Every bbox is stored in the
// scaled space; redaction divides by it to get back to the original image.
const ScaleFactor = 3

// Point is an (x, y) pixel coordinate.
type Point [2]int

// BBox is the (top-left, bottom-right) corner pair of a text fragment.
type BBox [2]Point

// NewBBox builds a box from a left/top origin and a width/height.
func NewBBox(left, top, width, height int) BBox {
	return BBox{{left, top}, {left + width, top + height}}
}

// Rect returns the box as an image rectangle in its own coordinate space.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b[0][0], b[0][1], b[1][0], b[1][1])
}

// Original maps the box back to the unscaled image. The min corner rounds down and the
// max corner rounds up so the mapped box always covers the scaled one.
func (b BBox) Original(scale int) image.Rectangle {
	if scale <= 1 {
		return b.Rect()
	}
	return image.Rect(
		floorDiv(b[0][0], scale),
		floorDiv(b[0][1], scale),
		ceilDiv(b[1][0], scale),
		ceilDiv(b[1][1], scale),
	)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

func ceilDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a > 0 {
		q++
	}
	return q
}

// TextRecord is one recognized text fragment.
type TextRecord struct {
	Text       string  `json:"text"`
	BBox       BBox    `json:"bbox"`
	Entity     *string `json:"entity"`
	Confidence float64 `json:"confidence"`
}

// Labeled reports whether the classifier flagged this record.
func (r TextRecord) Labeled() bool {
	return r.Entity != nil && *r.Entity != ""
}

// ExtractionPayload is the per-file structured result stored after localization.
type ExtractionPayload struct {
	Records []TextRecord `json:"records"`
}

// Text joins every record's text with single spaces, in extraction order.
func (p *ExtractionPayload) Text() string {
	if p == nil {
		return ""
	}
	parts := make([]string, 0, len(p.Records))
	for _, r := range p.Records {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, " ")
}

// Flagged returns the records carrying an entity label.
func (p *ExtractionPayload) Flagged() []TextRecord {
	if p == nil {
		return nil
	}
	var out []TextRecord
	for _, r := range p.Records {
		if r.Labeled() {
			out = append(out, r)
		}
	}
	return out
}

// WithLabels returns a new payload whose records are labelled by exact token match.
// The receiver is not modified.
func (p *ExtractionPayload) WithLabels(labels map[string]string) *ExtractionPayload {
	if p == nil {
		return &ExtractionPayload{}
	}
	out := &ExtractionPayload{Records: make([]TextRecord, len(p.Records))}
	for i, r := range p.Records {
		r.Entity = nil
		if label, ok := labels[r.Text]; ok {
			l := label
			r.Entity = &l
		}
		out.Records[i] = r
	}
	return out
}

// LabelCounts tallies flagged records per label.
func (p *ExtractionPayload) LabelCounts() map[string]int {
	counts := map[string]int{}
	for _, r := range p.Flagged() {
		counts[*r.Entity]++
	}
	return counts
}

// Entity is a classifier result pairing a text span with a label.
type Entity struct {
	Text  string  `json:"text"`
	Label string  `json:"label"`
	Score float64 `json:"score,omitempty"`
}
