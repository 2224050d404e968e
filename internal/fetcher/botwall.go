package fetcher

import (
	"regexp"
)

// botWallFingerprint matches the challenge page of a commercial bot-protection
// vendor. A hit means the host will never serve us real content.
type botWallFingerprint struct {
	vendor  string
	pattern *regexp.Regexp
	reason  string
}

var botWallFingerprints = []botWallFingerprint{
	{
		vendor:  "DataDome",
		pattern: regexp.MustCompile(`(?i)datadome|geo\.captcha-delivery\.com`),
		reason:  "DataDome bot protection",
	},
	{
		vendor:  "Cloudflare",
		pattern: regexp.MustCompile(`(?i)cf-browser-verification|cf_chl_|challenges\.cloudflare\.com|checking your browser before accessing`),
		reason:  "Cloudflare challenge",
	},
	{
		vendor:  "PerimeterX",
		pattern: regexp.MustCompile(`(?i)_pxappid|perimeterx|px-captcha`),
		reason:  "PerimeterX bot protection",
	},
	{
		vendor:  "Distil",
		pattern: regexp.MustCompile(`(?i)distil_r_captcha|distilnetworks|distil_referrer`),
		reason:  "Distil bot protection",
	},
	{
		vendor:  "Akamai",
		pattern: regexp.MustCompile(`(?i)<title>\s*access denied\s*</title>|errors\.edgesuite\.net`),
		reason:  "Akamai access denied",
	},
}

// detectBotWall returns the block reason when the HTML matches a known
// bot-protection challenge page.
func detectBotWall(html string) (string, bool) {
	for _, fp := range botWallFingerprints {
		if fp.pattern.MatchString(html) {
			return fp.reason, true
		}
	}
	return "", false
}
