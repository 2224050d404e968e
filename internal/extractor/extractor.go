package extractor

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/ternarybob/arbor"

	"github.com/kojira/ai-rss-reader/internal/interfaces"
	"github.com/kojira/ai-rss-reader/internal/models"
)

// minReadableTextLength is the floor below which an HTML extraction is
// rejected as boilerplate.
const minReadableTextLength = 50

var videoHosts = map[string]bool{
	"youtube.com":   true,
	"youtu.be":      true,
	"m.youtube.com": true,
}

// Service converts fetched payloads into readable text. Dispatch is by
// content type and host: PDF, known video hosts, then general HTML.
type Service struct {
	logger arbor.ILogger
	pdf    *pdfExtractor
}

// NewService creates a new extractor service
func NewService(logger arbor.ILogger) interfaces.Extractor {
	return &Service{
		logger: logger,
		pdf:    newPDFExtractor(logger),
	}
}

// Extract converts a fetched payload into {title, text, image_url, final_url}.
// Rejections surface as readability errors; there are no retries.
func (s *Service) Extract(fetched *models.FetchResult) (*models.ExtractResult, error) {
	if isPDF(fetched) {
		return s.extractPDF(fetched)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(fetched.Body))
	if err != nil {
		return nil, models.NewReadabilityError(err)
	}

	if isVideoHost(fetched.FinalURL) {
		if result, ok := s.extractVideoPage(doc, fetched.FinalURL); ok {
			return result, nil
		}
	}

	return s.extractHTML(doc, fetched)
}

// extractPDF decodes the PDF and uses the metadata Title, falling back to the
// URL path basename.
func (s *Service) extractPDF(fetched *models.FetchResult) (*models.ExtractResult, error) {
	text, title, err := s.pdf.extract(fetched.Body)
	if err != nil {
		return nil, models.NewReadabilityError(err)
	}
	if text == "" {
		return nil, models.NewReadabilityError(fmt.Errorf("PDF contains no extractable text"))
	}

	if title == "" {
		title = urlBasename(fetched.FinalURL)
	}
	if title == "" {
		return nil, models.NewReadabilityError(fmt.Errorf("PDF has no title and no usable filename"))
	}

	s.logger.Debug().Str("url", fetched.FinalURL).Int("text_len", len(text)).Msg("Extracted PDF content")

	return &models.ExtractResult{
		Title:    title,
		Text:     text,
		FinalURL: fetched.FinalURL,
	}, nil
}

// extractVideoPage builds synthetic content from a video page's title and
// description meta. Returns false when either piece is missing so the caller
// can fall through to the readability path.
func (s *Service) extractVideoPage(doc *goquery.Document, finalURL string) (*models.ExtractResult, bool) {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	description, _ := doc.Find(`meta[name="description"]`).Attr("content")
	if description == "" {
		description, _ = doc.Find(`meta[property="og:description"]`).Attr("content")
	}
	description = strings.TrimSpace(description)

	if title == "" || description == "" {
		return nil, false
	}

	return &models.ExtractResult{
		Title:    title,
		Text:     fmt.Sprintf("%s\n\nDescription:\n%s", title, description),
		ImageURL: metaImage(doc),
		FinalURL: finalURL,
	}, true
}

// extractHTML applies readability heuristics and reads social-card image meta.
func (s *Service) extractHTML(doc *goquery.Document, fetched *models.FetchResult) (*models.ExtractResult, error) {
	pageURL, err := url.Parse(fetched.FinalURL)
	if err != nil {
		return nil, models.NewReadabilityError(fmt.Errorf("unparseable final URL: %w", err))
	}

	article, err := readability.FromReader(bytes.NewReader(fetched.Body), pageURL)
	if err != nil {
		return nil, models.NewReadabilityError(err)
	}

	title := strings.TrimSpace(article.Title)
	text := strings.TrimSpace(article.TextContent)
	if title == "" || len([]rune(text)) < minReadableTextLength {
		return nil, models.NewReadabilityError(
			fmt.Errorf("rejected extraction: title=%q text_len=%d", title, len([]rune(text))))
	}

	imageURL := metaImage(doc)
	if imageURL == "" {
		imageURL = article.Image
	}

	return &models.ExtractResult{
		Title:    title,
		Text:     text,
		ImageURL: imageURL,
		FinalURL: fetched.FinalURL,
	}, nil
}

// metaImage reads the og:image or twitter:image meta tag.
func metaImage(doc *goquery.Document) string {
	if img, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok && img != "" {
		return strings.TrimSpace(img)
	}
	if img, ok := doc.Find(`meta[name="twitter:image"]`).Attr("content"); ok && img != "" {
		return strings.TrimSpace(img)
	}
	return ""
}

func isPDF(fetched *models.FetchResult) bool {
	if strings.Contains(strings.ToLower(fetched.ContentType), "application/pdf") {
		return true
	}
	u, err := url.Parse(fetched.FinalURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

func isVideoHost(rawURL string) bool {
	host := models.HostOf(rawURL)
	host = strings.TrimPrefix(host, "www.")
	return videoHosts[host]
}

// urlBasename returns the last path segment of a URL, without the extension.
func urlBasename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
