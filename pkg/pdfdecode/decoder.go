// Package pdfdecode wraps a poppler-backed page rasterizer behind a small
// interface, producing decoded page images plus document metadata. It
// shells out to pdftoppm the same way the rest of the retrieval
// pack's PDF handlers do, and uses pdfcpu as a pure-Go validity/page-count
// pre-check so a corrupt PDF fails fast before a poppler subprocess is ever
// spawned.
package pdfdecode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Page is one decoded PDF page.
type Page struct {
	Image      image.Image
	PageNumber int // 1-indexed
	WidthPx    int
	HeightPx   int
}

// Info is the document-level metadata read ahead of rasterization.
type Info struct {
	TotalPages    int
	FileSizeBytes int64
}

// Decoder rasterizes PDF pages into images.
type Decoder interface {
	// Inspect validates the PDF and reports its page count and size
	// without rasterizing any page.
	Inspect(ctx context.Context, pdfPath string) (Info, error)

	// DecodeRange rasterizes pages [first, last] (1-indexed, inclusive) at
	// the given resolution in DPI.
	DecodeRange(ctx context.Context, pdfPath string, first, last, dpi int) ([]Page, error)
}

// PopplerDecoder shells out to pdftoppm for rasterization and pdfcpu for
// the pre-flight validity/page-count check.
type PopplerDecoder struct {
	// WorkDir is the directory pdftoppm writes intermediate PNGs to. A
	// fresh temp directory is used when empty.
	WorkDir string
}

// NewPopplerDecoder builds a Decoder backed by the poppler CLI tools.
func NewPopplerDecoder() *PopplerDecoder {
	return &PopplerDecoder{}
}

// Inspect validates the PDF with pdfcpu and reports its page count and
// size. pdfcpu's pure-Go parser catches structurally invalid files before
// a pdftoppm subprocess is ever spawned.
func (d *PopplerDecoder) Inspect(ctx context.Context, pdfPath string) (Info, error) {
	stat, err := os.Stat(pdfPath)
	if err != nil {
		return Info{}, fmt.Errorf("stat pdf: %w", err)
	}

	if err := api.ValidateFile(pdfPath, nil); err != nil {
		return Info{}, fmt.Errorf("invalid pdf %s: %w", pdfPath, err)
	}

	pageCount, err := api.PageCountFile(pdfPath)
	if err != nil {
		return Info{}, fmt.Errorf("read page count: %w", err)
	}
	if pageCount == 0 {
		return Info{}, fmt.Errorf("pdf %s reports zero pages", pdfPath)
	}

	return Info{TotalPages: pageCount, FileSizeBytes: stat.Size()}, nil
}

// DecodeRange rasterizes pages [first, last] via pdftoppm into a scratch
// directory, then decodes the resulting PNGs back into image.Image values
// in page order.
func (d *PopplerDecoder) DecodeRange(ctx context.Context, pdfPath string, first, last, dpi int) ([]Page, error) {
	if first < 1 || last < first {
		return nil, fmt.Errorf("invalid page range [%d,%d]", first, last)
	}
	if dpi <= 0 {
		dpi = 150
	}

	workDir := d.WorkDir
	if workDir == "" {
		tmp, err := os.MkdirTemp("", "pdfdecode-*")
		if err != nil {
			return nil, fmt.Errorf("create scratch dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		workDir = tmp
	}

	outputPrefix := filepath.Join(workDir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-f", strconv.Itoa(first),
		"-l", strconv.Itoa(last),
		"-png",
		"-r", strconv.Itoa(dpi),
		pdfPath,
		outputPrefix)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm pages %d-%d: %w: %s", first, last, err, stderr.String())
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		return nil, fmt.Errorf("list rasterized pages: %w", err)
	}

	type found struct {
		path string
		page int
	}
	var files []found
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		pageNum, ok := parsePdftoppmPageNumber(e.Name())
		if !ok {
			continue
		}
		files = append(files, found{path: filepath.Join(workDir, e.Name()), page: pageNum})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].page < files[j].page })

	pages := make([]Page, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("read rasterized page %d: %w", f.page, err)
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode rasterized page %d: %w", f.page, err)
		}
		bounds := img.Bounds()
		pages = append(pages, Page{
			Image:      img,
			PageNumber: f.page,
			WidthPx:    bounds.Dx(),
			HeightPx:   bounds.Dy(),
		})
	}

	if len(pages) != last-first+1 {
		return nil, fmt.Errorf("expected %d rasterized pages, got %d", last-first+1, len(pages))
	}
	return pages, nil
}

// parsePdftoppmPageNumber extracts the trailing page number pdftoppm
// appends to its output prefix, e.g. "page-3.png" or "page-03.png".
func parsePdftoppmPageNumber(name string) (int, bool) {
	name = strings.TrimSuffix(name, ".png")
	idx := strings.LastIndexByte(name, '-')
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
