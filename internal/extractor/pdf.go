package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
)

// pdfExtractor pulls text and the Title metadata entry out of PDF bytes.
// pdfcpu works on files, so payloads go through a temp directory.
type pdfExtractor struct {
	logger  arbor.ILogger
	tempDir string
}

func newPDFExtractor(logger arbor.ILogger) *pdfExtractor {
	tempDir := filepath.Join(os.TempDir(), "rss-reader-pdf")
	os.MkdirAll(tempDir, 0755)

	return &pdfExtractor{
		logger:  logger,
		tempDir: tempDir,
	}
}

// extract returns the concatenated page text and the metadata title (may be
// empty) for a PDF payload.
func (e *pdfExtractor) extract(pdfContent []byte) (text string, title string, err error) {
	// Per-call temp paths: the crawl phase runs extractions concurrently, so
	// anything keyed by PID alone would be shared across goroutines.
	temp, err := os.CreateTemp(e.tempDir, "extract_*.pdf")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temp PDF file: %w", err)
	}
	tempFile := temp.Name()
	defer os.Remove(tempFile)
	if _, err := temp.Write(pdfContent); err != nil {
		temp.Close()
		return "", "", fmt.Errorf("failed to write temp PDF file: %w", err)
	}
	if err := temp.Close(); err != nil {
		return "", "", fmt.Errorf("failed to write temp PDF file: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return "", "", fmt.Errorf("failed to read PDF context: %w", err)
	}

	title = e.metadataTitle(pdfCtx)

	outDir, err := os.MkdirTemp(e.tempDir, "pages_")
	if err != nil {
		return "", title, fmt.Errorf("failed to create page output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		return "", title, fmt.Errorf("failed to extract PDF content: %w", err)
	}

	pageTexts := make(map[int]string)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		} else if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		}
	}

	var builder strings.Builder
	for pageNum := 1; pageNum <= pdfCtx.PageCount; pageNum++ {
		pageText, ok := pageTexts[pageNum]
		if !ok || strings.TrimSpace(pageText) == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(pageText)
	}

	return strings.TrimSpace(builder.String()), title, nil
}

// metadataTitle reads the Title entry of the document info dictionary.
func (e *pdfExtractor) metadataTitle(pdfCtx *model.Context) string {
	if pdfCtx.Info == nil {
		return ""
	}
	d, err := pdfCtx.DereferenceDict(*pdfCtx.Info)
	if err != nil || d == nil {
		return ""
	}
	if title := d.StringEntry("Title"); title != nil {
		return strings.TrimSpace(*title)
	}
	return ""
}
