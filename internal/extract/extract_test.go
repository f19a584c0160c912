package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/edubridge/classquiz/internal/llm"
	"github.com/edubridge/classquiz/internal/model"
)

// fakeVision transcribes each page as "text of <first image byte>".
type fakeVision struct {
	mu    sync.Mutex
	calls []llm.Request
	fail  map[byte]error
}

func (f *fakeVision) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if len(req.Images) == 0 {
		return "", errors.New("no image")
	}
	id := req.Images[0].Data[0]
	if err := f.fail[id]; err != nil {
		return "", err
	}
	return fmt.Sprintf("  text of page %d  \n", id), nil
}

func pdfData() []byte { return []byte("%PDF-1.7\n...") }

func pages(n int) []Page {
	out := make([]Page, n)
	for i := range out {
		out[i] = Page{{Data: []byte{byte(i + 1)}, MIMEType: "image/png"}}
	}
	return out
}

func TestExtractTextLayer(t *testing.T) {
	vision := &fakeVision{}
	e := New(vision, 2)
	e.textLayer = func([]byte) (string, error) { return "  1. What is the capital of France?  \r\n", nil }
	e.pageImages = func([]byte) ([]Page, error) {
		t.Fatal("page images requested although the text layer had text")
		return nil, nil
	}

	res, err := e.Extract(context.Background(), pdfData())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Method != model.MethodTextLayer {
		t.Errorf("Method = %q, want text-layer", res.Method)
	}
	if res.Text != "1. What is the capital of France?" {
		t.Errorf("Text = %q", res.Text)
	}
	if len(vision.calls) != 0 {
		t.Errorf("vision model called %d times", len(vision.calls))
	}
}

func TestExtractOCRFallback(t *testing.T) {
	tests := []struct {
		name    string
		textErr error
		text    string
	}{
		{"empty text layer", nil, " \n\t "},
		{"broken text layer", errors.New("malformed xref"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vision := &fakeVision{}
			e := New(vision, 3)
			e.textLayer = func([]byte) (string, error) { return tt.text, tt.textErr }
			e.pageImages = func([]byte) ([]Page, error) { return pages(7), nil }

			res, err := e.Extract(context.Background(), pdfData())
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if res.Method != model.MethodOCR || res.Pages != 7 {
				t.Errorf("got method %q with %d pages", res.Method, res.Pages)
			}
			var want []string
			for i := 1; i <= 7; i++ {
				want = append(want, fmt.Sprintf("text of page %d", i))
			}
			if res.Text != strings.Join(want, "\n\n") {
				t.Errorf("pages out of order:\n%s", res.Text)
			}
			if len(vision.calls) != 7 {
				t.Errorf("vision calls = %d, want 7", len(vision.calls))
			}
			for _, c := range vision.calls {
				if !strings.Contains(c.Prompt, "no commentary") || c.Kind != "extract" {
					t.Errorf("unexpected request %+v", c)
				}
			}
		})
	}
}

func TestExtractFailure(t *testing.T) {
	pageErr := errors.New("model overloaded")
	tests := []struct {
		name    string
		vision  llm.Completer
		images  func([]byte) ([]Page, error)
		wantOCR error
	}{
		{"no vision model", nil, func([]byte) ([]Page, error) { return pages(1), nil }, ErrNoVisionModel},
		{"no images", &fakeVision{}, func([]byte) ([]Page, error) { return nil, nil }, ErrNoText},
		{"page fails", &fakeVision{fail: map[byte]error{2: pageErr}}, func([]byte) ([]Page, error) { return pages(3), nil }, pageErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.vision, 1)
			e.textLayer = func([]byte) (string, error) { return "", nil }
			e.pageImages = tt.images

			_, err := e.Extract(context.Background(), pdfData())
			var xerr *ExtractionError
			if !errors.As(err, &xerr) {
				t.Fatalf("expected *ExtractionError, got %v", err)
			}
			if !errors.Is(xerr.TextErr, ErrNoText) {
				t.Errorf("TextErr = %v, want ErrNoText", xerr.TextErr)
			}
			if !errors.Is(err, tt.wantOCR) {
				t.Errorf("error %v does not wrap %v", err, tt.wantOCR)
			}
		})
	}
}

func TestExtractImageUpload(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	var got llm.Request
	vision := llmFunc(func(_ context.Context, req llm.Request) (string, error) {
		got = req
		return "1. Paris", nil
	})
	e := New(vision, 1)
	res, err := e.Extract(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "1. Paris" || res.Method != model.MethodOCR || res.Pages != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(got.Images) != 1 || got.Images[0].MIMEType != "image/png" {
		t.Errorf("image not forwarded: %+v", got.Images)
	}
}

func TestExtractUnsupported(t *testing.T) {
	e := New(&fakeVision{}, 1)
	_, err := e.Extract(context.Background(), []byte("just some plain text"))
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestPDFTextMalformed(t *testing.T) {
	if _, err := pdfText([]byte("%PDF-1.4 truncated")); err == nil {
		t.Error("expected an error for a truncated PDF")
	}
}

func TestNormalize(t *testing.T) {
	// "e" followed by a combining acute accent composes to "é".
	got := normalize("\n\ncafe\u0301  \r\nline two\t\n\n")
	if got != "caf\u00e9\nline two" {
		t.Errorf("normalize = %q", got)
	}
}

type llmFunc func(context.Context, llm.Request) (string, error)

func (f llmFunc) Complete(ctx context.Context, req llm.Request) (string, error) { return f(ctx, req) }

// jpegPage returns a grey JPEG of the given width.
func jpegPage(t *testing.T, width int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, 12))
	for i := range img.Pix {
		img.Pix[i] = byte(i * 7)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

// imagePDF builds a PDF with one page per image width.
func imagePDF(t *testing.T, widths ...int) []byte {
	t.Helper()
	var readers []io.Reader
	for _, w := range widths {
		readers = append(readers, bytes.NewReader(jpegPage(t, w)))
	}
	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, readers, nil, nil); err != nil {
		t.Fatalf("ImportImages: %v", err)
	}
	return out.Bytes()
}

func pageWidths(t *testing.T, pages []Page) []int {
	t.Helper()
	var widths []int
	for i, page := range pages {
		if len(page) != 1 {
			t.Fatalf("page %d has %d images, want 1", i+1, len(page))
		}
		if page[0].MIMEType == "" {
			t.Errorf("page %d has no MIME type", i+1)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(page[0].Data))
		if err != nil {
			t.Fatalf("decode page %d: %v", i+1, err)
		}
		widths = append(widths, cfg.Width)
	}
	return widths
}

func TestPDFPageImages(t *testing.T) {
	doc := imagePDF(t, 16, 32)

	t.Run("pages in order", func(t *testing.T) {
		got, err := pdfPageImages(doc)
		if err != nil {
			t.Fatalf("pdfPageImages: %v", err)
		}
		if w := pageWidths(t, got); fmt.Sprint(w) != "[16 32]" {
			t.Errorf("page widths = %v, want [16 32]", w)
		}
	})

	t.Run("page without image is left out", func(t *testing.T) {
		var out bytes.Buffer
		if err := api.InsertPages(bytes.NewReader(doc), &out, []string{"1"}, false, nil, nil); err != nil {
			t.Fatalf("InsertPages: %v", err)
		}
		got, err := pdfPageImages(out.Bytes())
		if err != nil {
			t.Fatalf("pdfPageImages: %v", err)
		}
		if w := pageWidths(t, got); fmt.Sprint(w) != "[16 32]" {
			t.Errorf("page widths = %v, want [16 32]", w)
		}
	})

	t.Run("no page with an image", func(t *testing.T) {
		var withBlank, blankOnly bytes.Buffer
		if err := api.InsertPages(bytes.NewReader(imagePDF(t, 16)), &withBlank, []string{"1"}, true, nil, nil); err != nil {
			t.Fatalf("InsertPages: %v", err)
		}
		if err := api.RemovePages(bytes.NewReader(withBlank.Bytes()), &blankOnly, []string{"2"}, nil); err != nil {
			t.Fatalf("RemovePages: %v", err)
		}
		if _, err := pdfPageImages(blankOnly.Bytes()); !errors.Is(err, ErrNoText) {
			t.Errorf("pdfPageImages = %v, want ErrNoText", err)
		}
	})

	t.Run("OCR over real page images", func(t *testing.T) {
		vision := &fakeVision{}
		e := New(vision, 2)
		e.textLayer = func([]byte) (string, error) { return "", nil }
		res, err := e.Extract(context.Background(), doc)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if res.Method != model.MethodOCR || res.Pages != 2 {
			t.Errorf("result = %+v", res)
		}
		if len(vision.calls) != 2 {
			t.Errorf("vision calls = %d, want 2", len(vision.calls))
		}
	})
}
