package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/kojira/ai-rss-reader/internal/common"
)

// stealthScript hides headless automation markers before any page script runs.
const stealthScript = `
	Object.defineProperty(navigator, 'webdriver', {
		get: () => undefined,
		configurable: true
	});

	Object.defineProperty(navigator, 'plugins', {
		get: () => {
			const plugins = [
				{ name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer' },
				{ name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai' },
				{ name: 'Native Client', filename: 'internal-nacl-plugin' }
			];
			plugins.length = 3;
			return plugins;
		},
		configurable: true
	});

	Object.defineProperty(navigator, 'languages', {
		get: () => ['en-US', 'en'],
		configurable: true
	});

	if (!window.chrome) window.chrome = {};
	window.chrome.runtime = { id: undefined };

	const originalQuery = window.navigator.permissions.query;
	window.navigator.permissions.query = (parameters) => (
		parameters.name === 'notifications' ?
			Promise.resolve({ state: Notification.permission }) :
			originalQuery(parameters)
	);

	const getParameter = WebGLRenderingContext.prototype.getParameter;
	WebGLRenderingContext.prototype.getParameter = function(parameter) {
		if (parameter === 37445) return 'Intel Inc.';
		if (parameter === 37446) return 'Intel Iris OpenGL Engine';
		return getParameter.call(this, parameter);
	};
`

// consentClickScript opportunistically clicks common consent buttons.
// Failures are expected on most pages and ignored.
const consentClickScript = `
	(function() {
		const selectors = [
			'#onetrust-accept-btn-handler',
			'button[id*="accept"]',
			'button[aria-label*="Accept"]',
			'button[title*="Accept"]',
			'.fc-cta-consent',
			'#didomi-notice-agree-button'
		];
		for (const sel of selectors) {
			const el = document.querySelector(sel);
			if (el) { el.click(); return sel; }
		}
		return null;
	})()
`

// Browser is the lazy process-wide headless browser singleton. Every fetch
// opens a fresh tab context; the underlying Chrome process is shared and can
// be replaced when it disconnects.
type Browser struct {
	config *common.FetchConfig
	logger arbor.ILogger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewBrowser creates the singleton wrapper; Chrome starts on first use
func NewBrowser(config *common.FetchConfig, logger arbor.ILogger) *Browser {
	return &Browser{
		config: config,
		logger: logger,
	}
}

// ensure starts Chrome when no live browser context exists. Callers hold mu.
func (b *Browser) ensure() error {
	if b.browserCtx != nil && b.browserCtx.Err() == nil {
		return nil
	}
	b.teardown()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserAgent(b.config.UserAgent),

		// Stealth flags for bypassing bot detection
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("useAutomationExtension", false),

		chromedp.WindowSize(1920, 1080),
	}
	if b.config.Headless {
		// New headless mode is less detectable
		opts = append(opts, chromedp.Flag("headless", "new"))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(s string, i ...interface{}) {
			b.logger.Debug().Msgf("chromedp: "+s, i...)
		}),
	)

	startCtx, startCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer startCancel()
	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser failed startup: %w", err)
	}

	b.allocCancel = allocCancel
	b.browserCtx = browserCtx
	b.browserCancel = browserCancel
	b.logger.Info().Bool("headless", b.config.Headless).Msg("Headless browser started")
	return nil
}

// FetchPage navigates to a URL in a fresh tab and returns the rendered HTML
// and final URL after redirects.
func (b *Browser) FetchPage(ctx context.Context, rawURL string) (html string, finalURL string, err error) {
	tabCtx, cancel, err := b.newTab(ctx, b.config.BrowserTimeout)
	if err != nil {
		return "", "", err
	}
	defer cancel()

	err = chromedp.Run(tabCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": "en-US,en;q=0.9",
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		}),
		emulation.SetTimezoneOverride("America/New_York"),
		chromedp.EmulateViewport(1920, 1080),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(rawURL),
		// Approximate networkidle: give scripts and deferred content time
		chromedp.Sleep(3*time.Second),
		chromedp.Evaluate(consentClickScript, nil),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2)`, nil),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", "", fmt.Errorf("browser fetch failed for %s: %w", rawURL, err)
	}
	return html, finalURL, nil
}

// ResolvePage navigates to a URL and returns only the final URL after all
// redirects settle.
func (b *Browser) ResolvePage(ctx context.Context, rawURL string) (string, error) {
	tabCtx, cancel, err := b.newTab(ctx, b.config.ResolveTimeout)
	if err != nil {
		return "", err
	}
	defer cancel()

	var finalURL string
	err = chromedp.Run(tabCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(rawURL),
		chromedp.Sleep(2*time.Second),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return "", fmt.Errorf("browser resolve failed for %s: %w", rawURL, err)
	}
	return finalURL, nil
}

// newTab returns a fresh tab context bound to both the caller's context and
// the tab timeout.
func (b *Browser) newTab(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensure(); err != nil {
		return nil, nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, timeout)

	// Propagate caller cancellation into the tab
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			timeoutCancel()
		case <-stop:
		case <-tabCtx.Done():
		}
	}()

	cancel := func() {
		close(stop)
		timeoutCancel()
		tabCancel()
	}
	return tabCtx, cancel, nil
}

// Reset tears down the browser so the next use starts a fresh Chrome
func (b *Browser) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger.Warn().Msg("Resetting headless browser")
	b.teardown()
}

// Close shuts down the browser if running
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx != nil {
		b.logger.Debug().Msg("Closing headless browser")
	}
	b.teardown()
}

// teardown cancels the browser and allocator contexts. Callers hold mu.
func (b *Browser) teardown() {
	if b.browserCancel != nil {
		b.browserCancel()
		b.browserCancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	b.browserCtx = nil
}
