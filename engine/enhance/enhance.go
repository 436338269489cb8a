// Package enhance prepares rasterized pages for QR detection.
//
// Small QR codes on a 300 DPI page are often only a few pixels per module.
// The enhancer always runs the same chain: grayscale, 4x cubic upscale,
// 3x3 sharpen and an Otsu binarisation. There is no branching on image size
// or contrast so the output only depends on the input pixels.
//
// Every stage works on 8-bit gray buffers: a letter page at 300 DPI grows to
// 10200x13200 pixels at scale 4.
package enhance

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// DefaultScale is the linear upscale factor applied to both dimensions
const DefaultScale = 4

// SharpenKernel is the 3x3 convolution applied after upscaling
var SharpenKernel = [9]float64{
	-1, -1, -1,
	-1, 9, -1,
	-1, -1, -1,
}

// Enhancer runs the fixed filter chain
type Enhancer struct {
	Scale int
}

// New returns an Enhancer using the given scale, DefaultScale when scale < 1
func New(scale int) Enhancer {
	if scale < 1 {
		scale = DefaultScale
	}
	return Enhancer{Scale: scale}
}

// Enhance returns a black and white version of img ready for the decoder
func (e Enhancer) Enhance(img image.Image) *image.Gray {
	scale := e.Scale
	if scale < 1 {
		scale = DefaultScale
	}

	out := Resize(Grayscale(img), scale)
	Sharpen(out, SharpenKernel)
	Binarize(out, OtsuThreshold(out))
	return out
}

// Grayscale converts img to luma with a zero origin. Gray input is returned as is.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// tap is one source sample contributing to an output pixel
type tap struct {
	index  int
	weight float64
}

// catmullRomTaps returns, for every output coordinate, the four source
// samples and their normalised Catmull-Rom weights. Edges are clamped.
func catmullRomTaps(srcLen, scale int) [][4]tap {
	taps := make([][4]tap, srcLen*scale)
	for d := range taps {
		center := (float64(d)+0.5)/float64(scale) - 0.5
		first := int(math.Floor(center)) - 1
		var sum float64
		for k := 0; k < 4; k++ {
			i := first + k
			w := draw.CatmullRom.At(math.Abs(center - float64(i)))
			taps[d][k] = tap{index: min(max(i, 0), srcLen-1), weight: w}
			sum += w
		}
		for k := range taps[d] {
			taps[d][k].weight /= sum
		}
	}
	return taps
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

// Resize upscales src by scale in both dimensions with a separable
// Catmull-Rom filter. The intermediate buffer is one byte per pixel.
func Resize(src *image.Gray, scale int) *image.Gray {
	sw, sh := src.Bounds().Dx(), src.Bounds().Dy()
	dw, dh := sw*scale, sh*scale
	dst := image.NewGray(image.Rect(0, 0, dw, dh))
	if sw == 0 || sh == 0 {
		return dst
	}
	xTaps := catmullRomTaps(sw, scale)
	yTaps := catmullRomTaps(sh, scale)

	// horizontal pass: sh rows of dw pixels
	wide := make([]uint8, sh*dw)
	for y := 0; y < sh; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+sw]
		out := wide[y*dw : (y+1)*dw]
		for x, t := range xTaps {
			out[x] = clampByte(float64(row[t[0].index])*t[0].weight +
				float64(row[t[1].index])*t[1].weight +
				float64(row[t[2].index])*t[2].weight +
				float64(row[t[3].index])*t[3].weight)
		}
	}

	// vertical pass into the destination
	for y, t := range yTaps {
		r0 := wide[t[0].index*dw:]
		r1 := wide[t[1].index*dw:]
		r2 := wide[t[2].index*dw:]
		r3 := wide[t[3].index*dw:]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+dw]
		for x := range out {
			out[x] = clampByte(float64(r0[x])*t[0].weight +
				float64(r1[x])*t[1].weight +
				float64(r2[x])*t[2].weight +
				float64(r3[x])*t[3].weight)
		}
	}
	return dst
}

// Sharpen convolves img with the 3x3 kernel in place, replicating edge
// pixels. Results are clamped to 0-255.
func Sharpen(img *image.Gray, kernel [9]float64) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w == 0 || h == 0 {
		return
	}
	row := func(y int) []uint8 { return img.Pix[y*img.Stride : y*img.Stride+w] }

	// prev and cur hold unmodified copies of the rows above and at y
	prev := make([]uint8, w)
	cur := make([]uint8, w)
	copy(prev, row(0))
	for y := 0; y < h; y++ {
		copy(cur, row(y))
		next := cur
		if y+1 < h {
			next = row(y + 1)
		}
		out := row(y)
		for x := 0; x < w; x++ {
			l, r := max(x-1, 0), min(x+1, w-1)
			v := kernel[0]*float64(prev[l]) + kernel[1]*float64(prev[x]) + kernel[2]*float64(prev[r]) +
				kernel[3]*float64(cur[l]) + kernel[4]*float64(cur[x]) + kernel[5]*float64(cur[r]) +
				kernel[6]*float64(next[l]) + kernel[7]*float64(next[x]) + kernel[8]*float64(next[r])
			out[x] = clampByte(v)
		}
		prev, cur = cur, prev
	}
}
