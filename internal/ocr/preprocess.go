package ocr

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/joseph-ayodele/redactor/internal/entity"
)

// Fixed preprocessing parameters. Every stored bbox depends on them.
const (
	BlurKernel     = 5
	ThresholdBlock = 13
	ThresholdC     = 7
)

// Preprocess upscales img by entity.ScaleFactor, converts it to grayscale,
// smooths it and binarizes it with a Gaussian adaptive threshold. The result
// holds only 0 and 255.
func Preprocess(img image.Image) *image.Gray {
	scaled := upscale(img, entity.ScaleFactor)
	gray := toGray(scaled)
	blurred := gaussianBlur(gray, BlurKernel, kernelSigma(BlurKernel))
	return adaptiveThreshold(blurred, ThresholdBlock, ThresholdC)
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetGray(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return out
}

func upscale(src image.Image, factor int) image.Image {
	if factor <= 1 {
		return src
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// kernelSigma derives sigma from the kernel size the way common vision
// libraries do when no explicit sigma is given.
func kernelSigma(ksize int) float64 {
	return 0.3*(float64(ksize-1)*0.5-1) + 0.8
}

func gaussianKernel(ksize int, sigma float64) []float64 {
	k := make([]float64, ksize)
	half := ksize / 2
	var sum float64
	for i := range k {
		d := float64(i - half)
		k[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// gaussianBlur applies a separable Gaussian filter with replicated borders.
func gaussianBlur(src *image.Gray, ksize int, sigma float64) *image.Gray {
	k := gaussianKernel(ksize, sigma)
	half := ksize / 2
	w, h := src.Rect.Dx(), src.Rect.Dy()
	tmp := image.NewGray(src.Rect)
	out := image.NewGray(src.Rect)

	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w]
		dst := tmp.Pix[y*tmp.Stride : y*tmp.Stride+w]
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				acc += kv * float64(row[clamp(x+i-half, w)])
			}
			dst[x] = roundByte(acc)
		}
	}
	for y := 0; y < h; y++ {
		dst := out.Pix[y*out.Stride : y*out.Stride+w]
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				acc += kv * float64(tmp.Pix[clamp(y+i-half, h)*tmp.Stride+x])
			}
			dst[x] = roundByte(acc)
		}
	}
	return out
}

// adaptiveThreshold sets a pixel to 255 when it is brighter than its
// Gaussian-weighted neighbourhood mean minus c, and to 0 otherwise.
func adaptiveThreshold(src *image.Gray, block, c int) *image.Gray {
	mean := gaussianBlur(src, block, kernelSigma(block))
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(src.Rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := int(src.Pix[y*src.Stride+x])
			m := int(mean.Pix[y*mean.Stride+x])
			if v > m-c {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func roundByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
