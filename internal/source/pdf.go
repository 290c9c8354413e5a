package source

import (
	"fmt"
	"image"
	"math"

	"github.com/gen2brain/go-fitz"
)

// pdfPageSize reports the pixel size of page at the source DPI. page 0 means the first page.
func (s *FileSource) pdfPageSize(path string, page int) (int, int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return 0, 0, err
	}
	defer doc.Close()

	index, err := pageIndex(doc, page)
	if err != nil {
		return 0, 0, err
	}
	rect, err := doc.Bound(index)
	if err != nil {
		return 0, 0, err
	}

	// Bound is in points (1/72 inch)
	scale := float64(s.dpi()) / 72.0
	w := int(math.Round(float64(rect.Dx()) * scale))
	h := int(math.Round(float64(rect.Dy()) * scale))
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("empty page %d in %s", page, path)
	}
	return w, h, nil
}

// renderPDFPage opens its own document so concurrent decodes do not share MuPDF state.
func (s *FileSource) renderPDFPage(path string, page int) (image.Image, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	index, err := pageIndex(doc, page)
	if err != nil {
		return nil, err
	}
	return doc.ImageDPI(index, float64(s.dpi()))
}

func pageIndex(doc *fitz.Document, page int) (int, error) {
	if page == 0 {
		page = 1
	}
	if page > doc.NumPage() {
		return 0, fmt.Errorf("page %d out of range (document has %d)", page, doc.NumPage())
	}
	return page - 1, nil
}

func (s *FileSource) dpi() int {
	if s.DPI <= 0 {
		return 150
	}
	return s.DPI
}
