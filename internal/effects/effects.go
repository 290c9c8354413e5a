// Package effects implements the pixel blends used inside transition windows.
package effects

import (
	"image"
)

// Transition renders one frame of a transition window into dst. t is the weight of
// the incoming image in [0,1): t == 0 must reproduce out exactly. dst, out and in
// share the same bounds.
type Transition interface {
	Blend(dst, out, in *image.RGBA, t float64)
}

// Fade is a linear cross-fade.
type Fade struct{}

func (Fade) Blend(dst, out, in *image.RGBA, t float64) {
	w := weight(t)
	if w == 0 {
		copyRows(dst, out)
		return
	}
	inv := uint32(1<<16) - w

	b := dst.Rect
	rowLen := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		d := dst.Pix[y*dst.Stride : y*dst.Stride+rowLen]
		o := out.Pix[y*out.Stride : y*out.Stride+rowLen]
		n := in.Pix[y*in.Stride : y*in.Stride+rowLen]
		for i := range d {
			d[i] = uint8((uint32(o[i])*inv + uint32(n[i])*w + 1<<15) >> 16)
		}
	}
}

// WipeLeft reveals the incoming image from the right edge towards the left.
type WipeLeft struct{}

func (WipeLeft) Blend(dst, out, in *image.RGBA, t float64) {
	b := dst.Rect
	edge := b.Dx() - int(lerp(0, float64(b.Dx()), clamp(t)))
	for y := 0; y < b.Dy(); y++ {
		d := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()*4]
		copy(d[:edge*4], out.Pix[y*out.Stride:y*out.Stride+edge*4])
		copy(d[edge*4:], in.Pix[y*in.Stride+edge*4:y*in.Stride+b.Dx()*4])
	}
}

// SlideUp pushes the outgoing image up while the incoming one enters from below.
type SlideUp struct{}

func (SlideUp) Blend(dst, out, in *image.RGBA, t float64) {
	b := dst.Rect
	h := b.Dy()
	shift := int(lerp(0, float64(h), clamp(t)))
	rowLen := b.Dx() * 4
	for y := 0; y < h; y++ {
		d := dst.Pix[y*dst.Stride : y*dst.Stride+rowLen]
		if src := y + shift; src < h {
			copy(d, out.Pix[src*out.Stride:src*out.Stride+rowLen])
		} else {
			src -= h
			copy(d, in.Pix[src*in.Stride:src*in.Stride+rowLen])
		}
	}
}

func copyRows(dst, src *image.RGBA) {
	rowLen := dst.Rect.Dx() * 4
	for y := 0; y < dst.Rect.Dy(); y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowLen], src.Pix[y*src.Stride:y*src.Stride+rowLen])
	}
}

// weight converts t to 16-bit fixed point.
func weight(t float64) uint32 {
	return uint32(lerp(0, 1<<16, clamp(t)))
}

// lerp performs linear interpolation between a and b
func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}
