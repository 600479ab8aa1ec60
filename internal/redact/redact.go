package redact

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/entity"
	"github.com/joseph-ayodele/redactor/internal/ocr"
)

// DefaultJPEGQuality is used when Options.JPEGQuality is unset.
const DefaultJPEGQuality = 90

type Options struct {
	JPEGQuality int
	Fill        color.Color // default opaque black
}

// Output is an encoded redacted image.
type Output struct {
	Data   []byte
	Format string // jpeg | png | gif | webp
	Ext    string // extension for the output name, with dot; empty keeps the original
}

// Redactor paints flagged text regions over images.
type Redactor struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Redactor {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	if opts.Fill == nil {
		opts.Fill = color.Black
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redactor{opts: opts, logger: logger}
}

// Redact covers every labelled record of records on a copy of original. Boxes
// are in preprocessed space and are mapped back with entity.ScaleFactor.
// Without labelled records the original bytes are returned untouched.
func (r *Redactor) Redact(original []byte, records []entity.TextRecord) (Output, error) {
	start := time.Now()
	var rects []image.Rectangle
	for _, rec := range records {
		if rec.Labeled() {
			rects = append(rects, rec.BBox.Original(entity.ScaleFactor))
		}
	}

	if len(rects) == 0 {
		_, format, err := image.DecodeConfig(bytes.NewReader(original))
		if err != nil {
			return Output{}, common.ImageDecodeError("decode image header", err)
		}
		return Output{Data: original, Format: format}, nil
	}
	img, format, err := ocr.Decode(original)
	if err != nil {
		return Output{}, err
	}

	bounds := img.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, img, bounds.Min, draw.Src)
	fill := image.NewUniform(r.opts.Fill)
	painted := 0
	for _, rc := range rects {
		rc = rc.Add(bounds.Min).Intersect(bounds)
		if rc.Empty() {
			continue
		}
		draw.Draw(canvas, rc, fill, image.Point{}, draw.Src)
		painted++
	}

	out, err := r.encode(canvas, format)
	if err != nil {
		return Output{}, err
	}
	r.logger.Debug("redact.ok",
		"format", out.Format,
		"regions", len(rects),
		"painted", painted,
		"bytes", len(out.Data),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (r *Redactor) encode(img image.Image, format string) (Output, error) {
	var buf bytes.Buffer
	out := Output{Format: format}
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.opts.JPEGQuality})
	case "png":
		err = png.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	case "webp":
		// No pure-Go webp encoder; webp uploads come back as PNG.
		out.Format, out.Ext = "png", ".png"
		err = png.Encode(&buf, img)
	default:
		return Output{}, common.ImageDecodeError(fmt.Sprintf("unsupported output format %q", format), nil)
	}
	if err != nil {
		return Output{}, common.ImageDecodeError("encode "+out.Format, err)
	}
	out.Data = buf.Bytes()
	return out, nil
}
