// Package pdf opens source documents for per-page text and raster access.
package pdf

import (
	"fmt"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/webdevavi/aureus/internal/imaging"
)

// Document gives page access with 1-based page numbers.
type Document interface {
	NumPage() int
	Text(page int) (string, error)
	// RenderPage writes the page as a grayscale JPEG into dir and returns its path.
	RenderPage(page int, dir string) (string, error)
	Close() error
}

// Opener opens documents; each worker opens its own handle.
type Opener interface {
	Open(path string) (Document, error)
}

type RenderOptions struct {
	DPI     float64
	MaxEdge int
	Quality int
}

func DefaultRenderOptions() RenderOptions {
	return RenderOptions{DPI: 96, MaxEdge: 1024, Quality: 75}
}

// FitzOpener opens documents through MuPDF.
type FitzOpener struct {
	Options RenderOptions
}

func (o FitzOpener) Open(path string) (Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	opts := o.Options
	if opts.DPI <= 0 {
		opts = DefaultRenderOptions()
	}
	return &fitzDocument{doc: doc, opts: opts}, nil
}

type fitzDocument struct {
	doc  *fitz.Document
	opts RenderOptions
}

func (d *fitzDocument) NumPage() int { return d.doc.NumPage() }

func (d *fitzDocument) Text(page int) (string, error) {
	txt, err := d.doc.Text(page - 1)
	if err != nil {
		return "", fmt.Errorf("page %d text: %w", page, err)
	}
	return txt, nil
}

func (d *fitzDocument) RenderPage(page int, dir string) (string, error) {
	img, err := d.doc.ImageDPI(page-1, d.opts.DPI)
	if err != nil {
		return "", fmt.Errorf("render page %d: %w", page, err)
	}
	out := imaging.Gray(imaging.FitLongEdge(img, d.opts.MaxEdge))
	path := filepath.Join(dir, fmt.Sprintf("page_%03d.jpg", page))
	if _, err := imaging.SaveJPEG(path, out, d.opts.Quality); err != nil {
		return "", fmt.Errorf("save page %d: %w", page, err)
	}
	return path, nil
}

func (d *fitzDocument) Close() error { return d.doc.Close() }

// Validate checks the file's structure in relaxed mode and returns its page count.
func Validate(path string) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return 0, fmt.Errorf("invalid pdf: %w", err)
	}
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}
