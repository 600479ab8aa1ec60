package ocr

import (
	"fmt"
	"image"
	"strconv"
	"strings"
)

// Word is one recognized word in the coordinate space of the image given to
// the engine. Confidence is on the engine's 0-100 scale.
type Word struct {
	Text       string
	Box        image.Rectangle
	Confidence float64
}

const (
	tsvLevel = iota
	tsvPage
	tsvBlock
	tsvPar
	tsvLine
	tsvWord
	tsvLeft
	tsvTop
	tsvWidth
	tsvHeight
	tsvConf
	tsvText
)

// tsvWordLevel is the level column value tesseract uses for word rows.
const tsvWordLevel = 5

// ParseTSV reads tesseract TSV output and returns the word rows in output order.
func ParseTSV(data []byte) ([]Word, error) {
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	var words []Word
	for i, ln := range lines {
		if ln == "" {
			continue
		}
		if i == 0 && strings.HasPrefix(ln, "level") {
			continue
		} // header
		cols := strings.Split(ln, "\t")
		if len(cols) < tsvText {
			return nil, fmt.Errorf("tsv line %d: %d columns", i+1, len(cols))
		}
		level, err := strconv.Atoi(cols[tsvLevel])
		if err != nil {
			return nil, fmt.Errorf("tsv line %d: level: %w", i+1, err)
		}
		if level != tsvWordLevel {
			continue
		}
		var nums [4]int
		for j, col := range []int{tsvLeft, tsvTop, tsvWidth, tsvHeight} {
			n, err := strconv.Atoi(cols[col])
			if err != nil {
				return nil, fmt.Errorf("tsv line %d: column %d: %w", i+1, col, err)
			}
			nums[j] = n
		}
		conf, err := strconv.ParseFloat(cols[tsvConf], 64)
		if err != nil {
			return nil, fmt.Errorf("tsv line %d: conf: %w", i+1, err)
		}
		text := ""
		if len(cols) > tsvText {
			text = strings.Join(cols[tsvText:], "\t")
		}
		words = append(words, Word{
			Text:       text,
			Box:        image.Rect(nums[0], nums[1], nums[0]+nums[2], nums[1]+nums[3]),
			Confidence: conf,
		})
	}
	return words, nil
}
