package source

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Info is what probing learns about a reference without decoding pixels.
type Info struct {
	Identity string // Content digest, equal for two refs naming the same image
	Format   string
	Width    int
	Height   int
}

// Source resolves opaque photo references to pixel data.
type Source interface {
	Probe(ref string) (Info, error)
	Decode(ref string) (image.Image, error)
}

// sniffLen is the header size filetype needs for every matcher.
const sniffLen = 261

var decodable = map[string]bool{
	"png":  true,
	"jpg":  true,
	"gif":  true,
	"webp": true,
	"bmp":  true,
	"tif":  true,
}

// FileSource resolves local image files and PDF pages addressed as "doc.pdf#3"
// (1-based page number, first page when omitted).
type FileSource struct {
	DPI int // Render density for PDF pages
}

func NewFileSource() *FileSource {
	return &FileSource{DPI: 150}
}

func (s *FileSource) Probe(ref string) (Info, error) {
	path, page, err := splitRef(ref)
	if err != nil {
		return Info{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	kind, err := sniff(f)
	if err != nil {
		return Info{}, err
	}

	identity, err := contentDigest(f)
	if err != nil {
		return Info{}, err
	}

	if kind.Extension == "pdf" {
		if page == 0 {
			page = 1
		}
		w, h, err := s.pdfPageSize(path, page)
		if err != nil {
			return Info{}, err
		}
		return Info{
			Identity: fmt.Sprintf("%s#%d", identity, page),
			Format:   "pdf",
			Width:    w,
			Height:   h,
		}, nil
	}
	if err := checkImage(kind, path, page); err != nil {
		return Info{}, err
	}

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Info{}, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("empty image %dx%d", cfg.Width, cfg.Height)
	}

	return Info{Identity: identity, Format: kind.Extension, Width: cfg.Width, Height: cfg.Height}, nil
}

// Decode classifies the file by content, the same way Probe does, so a reference
// that probed as a PDF page is always rendered as one.
func (s *FileSource) Decode(ref string) (image.Image, error) {
	path, page, err := splitRef(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	kind, err := sniff(f)
	if err != nil {
		return nil, err
	}
	if kind.Extension == "pdf" {
		return s.renderPDFPage(path, page)
	}
	if err := checkImage(kind, path, page); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// sniff matches the file header and rewinds f.
func sniff(f io.ReadSeeker) (types.Type, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return types.Unknown, err
	}
	kind, _ := filetype.Match(head[:n])
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return types.Unknown, err
	}
	return kind, nil
}

func checkImage(kind types.Type, path string, page int) error {
	if page != 0 {
		return fmt.Errorf("page selector on non-PDF file %s", path)
	}
	if !decodable[kind.Extension] {
		return fmt.Errorf("unsupported image format %q", kind.MIME.Value)
	}
	return nil
}

// ListImages returns the decodable images of dir in name order.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tif", ".tiff":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// splitRef separates a trailing "#N" page selector. A ref naming an existing file
// is taken whole, so "shot#2.png" style names keep working.
func splitRef(ref string) (string, int, error) {
	if ref == "" {
		return "", 0, fmt.Errorf("empty reference")
	}
	if _, err := os.Stat(ref); err == nil {
		return ref, 0, nil
	}
	idx := strings.LastIndex(ref, "#")
	if idx <= 0 || !isDigits(ref[idx+1:]) {
		return ref, 0, nil
	}
	page, err := strconv.Atoi(ref[idx+1:])
	if err != nil || page < 1 {
		return "", 0, fmt.Errorf("bad page selector in %q", ref)
	}
	return ref[:idx], page, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// contentDigest hashes the whole file and rewinds it. Identity follows content, so
// symlinks, hard links and byte-identical copies all collapse to one photo.
func contentDigest(f io.ReadSeeker) (string, error) {
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return fmt.Sprintf("xxh64:%016x", h.Sum64()), nil
}
