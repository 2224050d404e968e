package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/kojira/ai-rss-reader/internal/common"
	"github.com/kojira/ai-rss-reader/internal/interfaces"
	"github.com/kojira/ai-rss-reader/internal/models"
)

// Service is the two-tier fetcher: a direct HTTP client first, the headless
// browser when the direct client is refused.
type Service struct {
	config    *common.FetchConfig
	blocklist interfaces.BlocklistStorage
	logger    arbor.ILogger
	client    *http.Client
	browser   *Browser
}

// NewService creates a new fetcher service
func NewService(config *common.FetchConfig, blocklist interfaces.BlocklistStorage, logger arbor.ILogger) interfaces.Fetcher {
	return &Service{
		config:    config,
		blocklist: blocklist,
		logger:    logger,
		client: &http.Client{
			Timeout: config.DirectTimeout,
		},
		browser: NewBrowser(config, logger),
	}
}

// Fetch retrieves the payload for a URL. Blocked hosts fail immediately;
// 404 never falls back; 401/403 goes through the browser and blocks the host
// when the browser also fails.
func (s *Service) Fetch(ctx context.Context, rawURL string) (*models.FetchResult, error) {
	host := models.HostOf(rawURL)

	blocked, err := s.blocklist.IsBlocked(host)
	if err != nil {
		return nil, models.NewStorageError(err)
	}
	if blocked {
		return nil, models.NewBlockedError(host)
	}

	result, status, err := s.fetchDirect(ctx, rawURL)
	if err != nil {
		if isTimeout(err) {
			return nil, models.NewTimeoutError(err)
		}
		return nil, models.NewTransportError(0, "", err)
	}

	switch {
	case status == http.StatusNotFound:
		return nil, models.NewNotFoundError()

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		s.logger.Debug().Str("url", rawURL).Int("status", status).Msg("Direct fetch refused, trying browser")
		return s.fetchViaBrowser(ctx, rawURL, host, status)

	case status >= 200 && status < 300:
		return result, nil

	default:
		return nil, models.NewTransportError(status, http.StatusText(status), nil)
	}
}

// fetchDirect performs the lightweight HTTP GET with a desktop UA.
func (s *Service) fetchDirect(ctx context.Context, rawURL string) (*models.FetchResult, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxBodySize))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &models.FetchResult{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    finalURL,
	}, resp.StatusCode, nil
}

// fetchViaBrowser runs the browser fallback after a direct refusal. A browser
// failure marks the host hostile; a bot-wall fingerprint in the rendered HTML
// does the same.
func (s *Service) fetchViaBrowser(ctx context.Context, rawURL, host string, directStatus int) (*models.FetchResult, error) {
	html, finalURL, err := s.browserFetch(ctx, rawURL)
	if err != nil {
		reason := fmt.Sprintf("HTTP %d + browser fetch failed", directStatus)
		if blockErr := s.blocklist.Block(host, reason); blockErr != nil {
			s.logger.Error().Err(blockErr).Str("domain", host).Msg("Failed to record blocked domain")
		}
		return nil, models.NewBlockedError(host)
	}

	if reason, hit := detectBotWall(html); hit {
		if blockErr := s.blocklist.Block(host, reason); blockErr != nil {
			s.logger.Error().Err(blockErr).Str("domain", host).Msg("Failed to record blocked domain")
		}
		return nil, models.NewBotProtectionError(host)
	}

	return &models.FetchResult{
		Body:        []byte(html),
		ContentType: "text/html",
		FinalURL:    finalURL,
	}, nil
}

// ResolveURL resolves aggregator redirect URLs to their final target.
// Structural decoding is attempted first; the browser is the fallback.
// Non-aggregator URLs pass through without network I/O.
func (s *Service) ResolveURL(ctx context.Context, rawURL string) (string, error) {
	if !isAggregatorURL(rawURL) {
		return rawURL, nil
	}

	if target, ok := decodeAggregatorURL(rawURL); ok {
		s.logger.Debug().Str("url", rawURL).Str("resolved", target).Msg("Aggregator URL decoded structurally")
		return target, nil
	}

	finalURL, err := s.browserResolve(ctx, rawURL)
	if err != nil {
		return rawURL, fmt.Errorf("failed to resolve aggregator URL: %w", err)
	}
	s.logger.Debug().Str("url", rawURL).Str("resolved", finalURL).Msg("Aggregator URL resolved via browser")
	return finalURL, nil
}

// CloseBrowser tears down the browser singleton if running
func (s *Service) CloseBrowser() {
	s.browser.Close()
}

// browserFetch retries once with a fresh Chrome when the singleton
// disconnected under us.
func (s *Service) browserFetch(ctx context.Context, rawURL string) (string, string, error) {
	html, finalURL, err := s.browser.FetchPage(ctx, rawURL)
	if err != nil && isBrowserGone(err) && ctx.Err() == nil {
		s.logger.Warn().Err(err).Str("url", rawURL).Msg("Browser disconnected, rebuilding")
		s.browser.Reset()
		html, finalURL, err = s.browser.FetchPage(ctx, rawURL)
	}
	return html, finalURL, err
}

func (s *Service) browserResolve(ctx context.Context, rawURL string) (string, error) {
	finalURL, err := s.browser.ResolvePage(ctx, rawURL)
	if err != nil && isBrowserGone(err) && ctx.Err() == nil {
		s.logger.Warn().Err(err).Str("url", rawURL).Msg("Browser disconnected, rebuilding")
		s.browser.Reset()
		finalURL, err = s.browser.ResolvePage(ctx, rawURL)
	}
	return finalURL, err
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// isBrowserGone matches the failure modes of a dead Chrome process.
func isBrowserGone(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "browser has been closed") ||
		strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "context canceled")
}
