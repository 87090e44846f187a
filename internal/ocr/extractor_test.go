package ocr

import (
	"context"
	"errors"
	"image/color"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/pdf"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/tools"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
)

func testConfig() config.OCRConfig {
	return config.OCRConfig{
		Language:        "eng",
		Mode:            ModeSkip,
		OutputType:      "pdfa",
		ImageDPI:        300,
		FallbackDPI:     150,
		Clean:           "clean",
		Deskew:          true,
		RotatePages:     true,
		RotateThreshold: 12,
		Optimize:        1,
		Timeout:         time.Second,
		MaxConcurrent:   2,
		MinTextChars:    10,
	}
}

// ocrWrites is an ocrmypdf stand-in that copies its input to the output path
// and writes text to the sidecar.
func ocrWrites(text string) tools.Script {
	return func(_ context.Context, inv tools.Invocation) (tools.Result, error) {
		n := len(inv.Args)
		input, output := inv.Args[n-2], inv.Args[n-1]
		sidecar := inv.Args[slices.Index(inv.Args, "--sidecar")+1]
		data, err := os.ReadFile(input)
		if err != nil {
			return tools.Result{ExitCode: 1}, err
		}
		if err := os.WriteFile(output, data, 0o600); err != nil {
			return tools.Result{ExitCode: 1}, err
		}
		return tools.Result{}, os.WriteFile(sidecar, []byte(text), 0o600)
	}
}

func pdfDoc(t *testing.T) document.WorkingDocument {
	t.Helper()
	data, err := pdf.Synthetic(1)
	if err != nil {
		t.Fatal(err)
	}
	return document.WorkingDocument{Data: data, MimeType: document.MimePDF, PageCount: 1}
}

func TestExtractRunsOCRWhenNoEmbeddedText(t *testing.T) {
	runner := tools.NewFakeRunner().
		On(toolPDFToText, tools.Stdout("")).
		On(toolOCRMyPDF, ocrWrites("Invoice  42\f\nACME   Corp\n"))
	e := New(testConfig(), runner, t.TempDir())

	ex, err := e.Extract(context.Background(), pdfDoc(t), []string{"deu", "eng"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ex.Text != "Invoice 42\nACME Corp" {
		t.Errorf("text = %q", ex.Text)
	}
	if ex.OCRSkipped || len(ex.Archive) == 0 || ex.ArchiveMime != document.MimePDF {
		t.Errorf("extraction = %+v", ex)
	}
	args := runner.Calls(toolOCRMyPDF)[0].Args
	if !slices.Contains(args, "deu+eng") || !slices.Contains(args, "--skip-text") {
		t.Errorf("args = %v", args)
	}
}

func TestExtractSkipsOCRWithEmbeddedText(t *testing.T) {
	runner := tools.NewFakeRunner().
		On(toolPDFToText, tools.Stdout("This document already carries a text layer.")).
		On(toolOCRMyPDF, ocrWrites("should not be used"))
	e := New(testConfig(), runner, t.TempDir())

	ex, err := e.Extract(context.Background(), pdfDoc(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ex.OCRSkipped || !strings.Contains(ex.Text, "text layer") {
		t.Errorf("extraction = %+v", ex)
	}
	if len(ex.Archive) == 0 {
		t.Error("skip mode still produces a PDF/A archive")
	}
}

func TestSkipNoArchive(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeSkipNoArchive
	runner := tools.NewFakeRunner().On(toolPDFToText, tools.Stdout("Plenty of embedded text here."))
	e := New(cfg, runner, t.TempDir())

	ex, err := e.Extract(context.Background(), pdfDoc(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Archive != nil || !ex.OCRSkipped {
		t.Errorf("extraction = %+v", ex)
	}
	if len(runner.Calls(toolOCRMyPDF)) != 0 {
		t.Error("ocrmypdf ran in skip_noarchive mode with adequate text")
	}
}

func TestEmptyOCRTextIsSuccess(t *testing.T) {
	runner := tools.NewFakeRunner().
		On(toolPDFToText, tools.Stdout("")).
		On(toolOCRMyPDF, ocrWrites(""))
	e := New(testConfig(), runner, t.TempDir())

	ex, err := e.Extract(context.Background(), pdfDoc(t), nil)
	if err != nil {
		t.Fatalf("empty text should succeed: %v", err)
	}
	if ex.Text != "" || len(ex.Archive) == 0 {
		t.Errorf("extraction = %+v", ex)
	}
}

func TestRetryInDegradedMode(t *testing.T) {
	runner := tools.NewFakeRunner().
		On(toolPDFToText, tools.Stdout("")).
		On(toolOCRMyPDF, tools.Sequence(tools.Timeout(toolOCRMyPDF), ocrWrites("recovered")))
	e := New(testConfig(), runner, t.TempDir())

	ex, err := e.Extract(context.Background(), pdfDoc(t), nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ex.Text != "recovered" {
		t.Errorf("text = %q", ex.Text)
	}
	calls := runner.Calls(toolOCRMyPDF)
	if len(calls) != 2 {
		t.Fatalf("ocrmypdf calls = %d", len(calls))
	}
	if slices.Contains(calls[1].Args, "--deskew") || slices.Contains(calls[1].Args, "--clean") {
		t.Errorf("degraded args still preprocess: %v", calls[1].Args)
	}
}

func TestTwoFailuresAreRetriableOcrFailure(t *testing.T) {
	runner := tools.NewFakeRunner().
		On(toolPDFToText, tools.Stdout("")).
		On(toolOCRMyPDF, tools.Timeout(toolOCRMyPDF))
	e := New(testConfig(), runner, t.TempDir())
	doc := pdfDoc(t)
	original := append([]byte(nil), doc.Data...)

	_, err := e.Extract(context.Background(), doc, nil)
	if !errors.Is(err, apperrors.ErrOcr) || !apperrors.Retryable(err) {
		t.Fatalf("expected retryable OcrFailure, got %v", err)
	}
	if !errors.Is(err, tools.ErrToolTimeout) {
		t.Errorf("cause lost: %v", err)
	}
	if string(doc.Data) != string(original) {
		t.Error("input document was modified")
	}
	if n := len(runner.Calls(toolOCRMyPDF)); n != 2 {
		t.Errorf("ocrmypdf calls = %d, want 2", n)
	}
}

func TestEncryptedIsRejected(t *testing.T) {
	runner := tools.NewFakeRunner().
		On(toolPDFToText, tools.Stdout("")).
		On(toolOCRMyPDF, tools.Exit(toolOCRMyPDF, exitEncryptedPDF, "input file is encrypted"))
	e := New(testConfig(), runner, t.TempDir())
	_, err := e.Extract(context.Background(), pdfDoc(t), nil)
	if apperrors.KindOf(err) != apperrors.KindRejected {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestImageIsConvertedBeforeOCR(t *testing.T) {
	runner := tools.NewFakeRunner().On(toolOCRMyPDF, ocrWrites("scanned receipt"))
	e := New(testConfig(), runner, t.TempDir())
	img := document.WorkingDocument{Data: pdf.SyntheticPNG(20, 20, color.White), MimeType: document.MimePNG}

	ex, err := e.Extract(context.Background(), img, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n, err := pdf.PageCount(ex.Archive); err != nil || n != 1 {
		t.Errorf("archive page count = %d, %v", n, err)
	}
	args := runner.Calls(toolOCRMyPDF)[0].Args
	if i := slices.Index(args, "--image-dpi"); i < 0 || args[i+1] != "300" {
		t.Errorf("image dpi not passed: %v", args)
	}
	if len(runner.Calls(toolPDFToText)) != 0 {
		t.Error("pdftotext ran on an image input")
	}
}

func TestLanguages(t *testing.T) {
	cases := []struct {
		hints []string
		want  string
	}{
		{nil, "eng"},
		{[]string{"deu+eng", "fra"}, "deu+eng+fra"},
		{[]string{"DEU", "deu"}, "deu"},
		{[]string{"../etc", "chi_sim"}, "chi_sim"},
	}
	for _, c := range cases {
		if got := languages(c.hints, "eng"); got != c.want {
			t.Errorf("languages(%v) = %q, want %q", c.hints, got, c.want)
		}
	}
}

func TestBuildArgsModes(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeRedo
	cfg.Clean = "clean-final"
	cfg.UserArgs = map[string]string{"jbig2-lossy": "", "tesseract-timeout": "60"}
	args := buildArgs(cfg, invocation{input: "in", output: "out", sidecar: "sc", langs: "eng"})
	joined := strings.Join(args, " ")
	for _, want := range []string{"--redo-ocr", "--clean ", "--jbig2-lossy", "--tesseract-timeout 60", "--sidecar sc in out"} {
		if !strings.Contains(joined+" ", want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
	if strings.Contains(joined, "--deskew") || strings.Contains(joined, "--clean-final") {
		t.Errorf("redo mode args incompatible: %q", joined)
	}
}
