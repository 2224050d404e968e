package fetcher

import "testing"

func TestDetectBotWall(t *testing.T) {
	cases := []struct {
		name   string
		html   string
		reason string
	}{
		{
			name:   "datadome",
			html:   `<html><script src="https://geo.captcha-delivery.com/captcha/?initialCid=x"></script></html>`,
			reason: "DataDome bot protection",
		},
		{
			name:   "cloudflare",
			html:   `<html><head><title>Just a moment...</title><script src="https://challenges.cloudflare.com/turnstile/v0/api.js"></script></head></html>`,
			reason: "Cloudflare challenge",
		},
		{
			name:   "perimeterx",
			html:   `<html><script>window._pxAppId = 'PX12345';</script></html>`,
			reason: "PerimeterX bot protection",
		},
		{
			name:   "distil",
			html:   `<html><body><div id="distil_r_captcha"></div></body></html>`,
			reason: "Distil bot protection",
		},
		{
			name:   "akamai",
			html:   `<html><head><title>Access Denied</title></head><body>Reference #18.abc</body></html>`,
			reason: "Akamai access denied",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reason, hit := detectBotWall(tc.html)
			if !hit {
				t.Fatal("Fingerprint not detected")
			}
			if reason != tc.reason {
				t.Errorf("Expected reason %q, got %q", tc.reason, reason)
			}
		})
	}
}

func TestDetectBotWallIgnoresOrdinaryPages(t *testing.T) {
	html := `<html><head><title>An article about security</title></head>
		<body><p>Cloudflare reported strong earnings this quarter.</p></body></html>`
	if reason, hit := detectBotWall(html); hit {
		t.Errorf("False positive on ordinary page: %q", reason)
	}
}
