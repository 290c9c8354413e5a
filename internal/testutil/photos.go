// Package testutil generates fixture photos for package tests.
package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/skip2/go-qrcode"
)

// Palette is the background colour sequence used by Photo.
var Palette = []color.RGBA{
	{R: 0xe6, G: 0x39, B: 0x46, A: 0xff},
	{R: 0xf1, G: 0xfa, B: 0xee, A: 0xff},
	{R: 0xa8, G: 0xda, B: 0xdc, A: 0xff},
	{R: 0x45, G: 0x7b, B: 0x9d, A: 0xff},
	{R: 0x1d, G: 0x35, B: 0x57, A: 0xff},
	{R: 0x2a, G: 0x9d, B: 0x8f, A: 0xff},
	{R: 0xe9, G: 0xc4, B: 0x6a, A: 0xff},
	{R: 0xf4, G: 0xa2, B: 0x61, A: 0xff},
	{R: 0x26, G: 0x46, B: 0x53, A: 0xff},
	{R: 0x8a, G: 0xb1, B: 0x7d, A: 0xff},
	{R: 0x6d, G: 0x59, B: 0x7a, A: 0xff},
	{R: 0xb5, G: 0x65, B: 0x76, A: 0xff},
}

// Solid returns a w x h image filled with c.
func Solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// Photo returns a w x h image with a palette background and a QR glyph encoding seed,
// so no two seeds produce the same pixels.
func Photo(w, h, seed int) *image.RGBA {
	img := Solid(w, h, Palette[seed%len(Palette)])

	q, err := qrcode.New(fmt.Sprintf("photo-%d", seed), qrcode.Low)
	if err != nil {
		return img
	}
	q.DisableBorder = true
	side := w
	if h < side {
		side = h
	}
	glyph := q.Image(side / 2)
	offset := image.Pt((w-glyph.Bounds().Dx())/2, (h-glyph.Bounds().Dy())/2)
	draw.Draw(img, glyph.Bounds().Add(offset), glyph, glyph.Bounds().Min, draw.Src)
	return img
}

// WritePNG encodes img to path.
func WritePNG(t testing.TB, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

// WritePhotos writes n distinct w x h PNG photos into dir and returns their paths in order.
func WritePhotos(t testing.TB, dir string, n, w, h int) []string {
	t.Helper()
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		paths[i] = filepath.Join(dir, fmt.Sprintf("photo_%02d.png", i+1))
		WritePNG(t, paths[i], Photo(w, h, i))
	}
	return paths
}
