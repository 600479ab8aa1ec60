package redact

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/entity"
)

func whitePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func label(s string) *string { return &s }

func TestRedactNoFlaggedReturnsInput(t *testing.T) {
	in := whitePNG(t, 10, 10)
	out, err := New(Options{}, nil).Redact(in, []entity.TextRecord{{Text: "hello", BBox: entity.NewBBox(0, 0, 9, 9)}})
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	if !bytes.Equal(out.Data, in) {
		t.Fatalf("output differs from input")
	}
	if out.Format != "png" || out.Ext != "" {
		t.Fatalf("format = %q ext = %q", out.Format, out.Ext)
	}
}

func TestRedactPaintsScaledBox(t *testing.T) {
	in := whitePNG(t, 40, 20)
	recs := []entity.TextRecord{
		// preprocessed (30,15)-(60,30) maps to original (10,5)-(20,10)
		{Text: "Jane", BBox: entity.BBox{{30, 15}, {60, 30}}, Entity: label("person")},
		// partially outside the image is clipped
		{Text: "Doe", BBox: entity.BBox{{105, 45}, {300, 300}}, Entity: label("person")},
		{Text: "keep", BBox: entity.BBox{{0, 0}, {12, 12}}},
	}
	out, err := New(Options{}, nil).Redact(in, recs)
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	if out.Format != "png" {
		t.Fatalf("format = %q", out.Format)
	}
	img, err := png.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	black := color.RGBA{0, 0, 0, 255}
	white := color.RGBA{255, 255, 255, 255}
	checks := []struct {
		p    image.Point
		want color.RGBA
	}{
		{image.Pt(10, 5), black},
		{image.Pt(19, 9), black},
		{image.Pt(20, 10), white},
		{image.Pt(9, 5), white},
		{image.Pt(1, 1), white},
		{image.Pt(35, 15), black},
		{image.Pt(39, 19), black},
	}
	for _, c := range checks {
		if got := color.RGBAModel.Convert(img.At(c.p.X, c.p.Y)).(color.RGBA); got != c.want {
			t.Fatalf("pixel %v = %v, want %v", c.p, got, c.want)
		}
	}
	if img.Bounds() != image.Rect(0, 0, 40, 20) {
		t.Fatalf("bounds = %v", img.Bounds())
	}
}

func TestRedactChangesOnlyFlaggedBoxes(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 50, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 50; x++ {
			src.SetRGBA(x, y, color.RGBA{uint8(40 + 4*x), uint8(60 + 5*y), 200, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode: %v", err)
	}

	recs := []entity.TextRecord{
		{Text: "Jane", BBox: entity.BBox{{31, 16}, {59, 29}}, Entity: label("person")},
		{Text: "4111", BBox: entity.BBox{{120, 60}, {200, 100}}, Entity: label("credit card number")},
		{Text: "hello", BBox: entity.BBox{{3, 45}, {60, 84}}},
	}
	var flagged []image.Rectangle
	for _, r := range recs {
		if r.Labeled() {
			flagged = append(flagged, r.BBox.Original(entity.ScaleFactor).Intersect(src.Bounds()))
		}
	}
	keep := recs[2].BBox.Original(entity.ScaleFactor)

	out, err := New(Options{}, nil).Redact(buf.Bytes(), recs)
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if img.Bounds() != src.Bounds() {
		t.Fatalf("bounds = %v, want %v", img.Bounds(), src.Bounds())
	}

	black := color.RGBA{0, 0, 0, 255}
	changed := 0
	for y := 0; y < 30; y++ {
		for x := 0; x < 50; x++ {
			p := image.Pt(x, y)
			inFlagged := false
			for _, r := range flagged {
				if p.In(r) {
					inFlagged = true
					break
				}
			}
			got := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			orig := src.RGBAAt(x, y)
			switch {
			case inFlagged && got != black:
				t.Fatalf("pixel %v = %v inside a flagged box, want black", p, got)
			case !inFlagged && got != orig:
				t.Fatalf("pixel %v changed outside flagged boxes: %v -> %v", p, orig, got)
			}
			if got != orig {
				changed++
			}
			if p.In(keep) && !inFlagged && got != orig {
				t.Fatalf("unflagged record pixel %v changed", p)
			}
		}
	}
	if changed == 0 {
		t.Fatalf("no pixels changed")
	}
}

func TestRedactKeepsJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16)), nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := New(Options{JPEGQuality: 75}, nil).Redact(buf.Bytes(), []entity.TextRecord{
		{Text: "x", BBox: entity.BBox{{0, 0}, {9, 9}}, Entity: label("email")},
	})
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	if out.Format != "jpeg" || out.Ext != "" {
		t.Fatalf("format = %q ext = %q", out.Format, out.Ext)
	}
	if _, err := jpeg.Decode(bytes.NewReader(out.Data)); err != nil {
		t.Fatalf("output not jpeg: %v", err)
	}
}

func TestRedactUndecodable(t *testing.T) {
	_, err := New(Options{}, nil).Redact([]byte("nope"), []entity.TextRecord{
		{Text: "x", BBox: entity.BBox{{0, 0}, {3, 3}}, Entity: label("email")},
	})
	if !errors.Is(err, common.ErrImageDecode) {
		t.Fatalf("err = %v, want ErrImageDecode", err)
	}
}
