// Package extract turns uploaded documents into plain text. It reads the
// PDF text layer first and falls back to page-by-page OCR with a vision model.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/edubridge/classquiz/internal/llm"
	"github.com/edubridge/classquiz/internal/llm/prompts"
	"github.com/edubridge/classquiz/internal/metrics"
	"github.com/edubridge/classquiz/internal/model"
)

func init() {
	// Keep pdfcpu from creating a config directory under $HOME.
	api.DisableConfigDir()
}

// DefaultConcurrency is the number of pages sent to the vision model at once.
const DefaultConcurrency = 4

var (
	// ErrNoText is returned by a strategy that ran but found no text.
	ErrNoText = errors.New("no text found")
	// ErrUnsupported is returned for data that is neither a PDF nor an image.
	ErrUnsupported = errors.New("unsupported document type")
	// ErrNoVisionModel is returned when OCR is needed but not configured.
	ErrNoVisionModel = errors.New("no vision model configured")
)

// ExtractionError reports that both the text layer and OCR failed.
type ExtractionError struct {
	TextErr error
	OCRErr  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: text layer: %v; ocr: %v", e.TextErr, e.OCRErr)
}

func (e *ExtractionError) Unwrap() []error {
	return []error{e.TextErr, e.OCRErr}
}

// Result is the text of one document.
type Result struct {
	Text   string
	Method model.ExtractionMethod
	Pages  int
}

// Page is the images of one document page, in reading order.
type Page []llm.Image

// Extractor runs the extraction fallback chain.
type Extractor struct {
	vision      llm.Completer
	concurrency int

	textLayer  func(data []byte) (string, error)
	pageImages func(data []byte) ([]Page, error)
}

// New creates an Extractor. A nil vision model disables OCR.
func New(vision llm.Completer, concurrency int) *Extractor {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Extractor{
		vision:      vision,
		concurrency: concurrency,
		textLayer:   pdfText,
		pageImages:  pdfPageImages,
	}
}

// Extract returns the text of a PDF or image document. It never returns
// empty text without an error.
func (e *Extractor) Extract(ctx context.Context, data []byte) (Result, error) {
	kind := Detect(data)
	if kind == "" {
		metrics.Extractions.WithLabelValues("none", "error").Inc()
		return Result{}, &ExtractionError{TextErr: ErrUnsupported, OCRErr: ErrUnsupported}
	}

	var textErr error
	var pages []Page
	if kind == "application/pdf" {
		text, err := e.textLayer(data)
		if err == nil {
			text = normalize(text)
			if text != "" {
				metrics.Extractions.WithLabelValues(string(model.MethodTextLayer), "ok").Inc()
				return Result{Text: text, Method: model.MethodTextLayer}, nil
			}
			err = ErrNoText
		}
		textErr = err
		metrics.Extractions.WithLabelValues(string(model.MethodTextLayer), "error").Inc()

		pages, err = e.pageImages(data)
		if err != nil {
			metrics.Extractions.WithLabelValues(string(model.MethodOCR), "error").Inc()
			return Result{}, &ExtractionError{TextErr: textErr, OCRErr: fmt.Errorf("extract page images: %w", err)}
		}
	} else {
		textErr = fmt.Errorf("%s has no text layer", kind)
		pages = []Page{{{Data: data, MIMEType: kind}}}
	}

	text, err := e.ocr(ctx, pages)
	metrics.Extractions.WithLabelValues(string(model.MethodOCR), metrics.Outcome(err)).Inc()
	if err != nil {
		return Result{}, &ExtractionError{TextErr: textErr, OCRErr: err}
	}
	slog.Debug("document extracted with OCR", "pages", len(pages), "text_error", textErr)
	return Result{Text: text, Method: model.MethodOCR, Pages: len(pages)}, nil
}

// ocr transcribes pages concurrently and joins them in page order.
func (e *Extractor) ocr(ctx context.Context, pages []Page) (string, error) {
	if e.vision == nil {
		return "", ErrNoVisionModel
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("no page images: %w", ErrNoText)
	}
	instruction, err := prompts.ExtractInstruction()
	if err != nil {
		return "", err
	}

	out := make([]string, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, page := range pages {
		g.Go(func() error {
			text, err := e.vision.Complete(gctx, llm.Request{
				Kind:   "extract",
				System: prompts.ExtractSystem,
				Prompt: instruction,
				Images: page,
			})
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			out[i] = normalize(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	text := normalize(strings.Join(out, "\n\n"))
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// Detect returns the MIME type of a supported document, or "".
func Detect(data []byte) string {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return "application/pdf"
	}
	switch ct := http.DetectContentType(data); ct {
	case "application/pdf", "image/png", "image/jpeg", "image/gif", "image/webp":
		return ct
	}
	return ""
}

// normalize composes Unicode, trims trailing spaces per line and drops
// leading and trailing blank lines.
func normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\f\v ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func pdfText(data []byte) (text string, err error) {
	// The reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read text layer: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read text layer: %w", err)
	}
	return string(b), nil
}

func pdfConfig() *pdfmodel.Configuration {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	return conf
}

// pdfPageImages returns the embedded raster images of each page. Scanned
// documents carry one image per page. Pages are not rendered, so a page
// without an embedded image yields nothing; such pages are logged, and a
// document where no page has an image is an error.
func pdfPageImages(data []byte) ([]Page, error) {
	count, err := api.PageCount(bytes.NewReader(data), pdfConfig())
	if err != nil {
		return nil, err
	}
	perPage, err := api.ExtractImagesRaw(bytes.NewReader(data), nil, pdfConfig())
	if err != nil {
		return nil, err
	}

	byPage := make(map[int][]pdfmodel.Image)
	for _, imgs := range perPage {
		for _, img := range imgs {
			byPage[img.PageNr] = append(byPage[img.PageNr], img)
		}
	}
	nums := make([]int, 0, len(byPage))
	for n := range byPage {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var pages []Page
	covered := make(map[int]bool, len(nums))
	for _, n := range nums {
		imgs := byPage[n]
		sort.Slice(imgs, func(i, j int) bool { return imgs[i].ObjNr < imgs[j].ObjNr })
		var page Page
		for _, img := range imgs {
			mime := imageMIME(img.FileType)
			if mime == "" {
				slog.Debug("skipping page image", "page", n, "type", img.FileType)
				continue
			}
			b, err := io.ReadAll(img)
			if err != nil {
				return nil, fmt.Errorf("read image on page %d: %w", n, err)
			}
			page = append(page, llm.Image{Data: b, MIMEType: mime})
		}
		if len(page) > 0 {
			pages = append(pages, page)
			covered[n] = true
		}
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("none of %d pages has a readable image: %w", count, ErrNoText)
	}
	if len(pages) < count {
		var missing []int
		for n := 1; n <= count; n++ {
			if !covered[n] {
				missing = append(missing, n)
			}
		}
		slog.Warn("pages without a readable image are left out of OCR", "pages", count, "missing", missing)
	}
	return pages, nil
}

func imageMIME(fileType string) string {
	switch strings.ToLower(fileType) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	}
	return ""
}
