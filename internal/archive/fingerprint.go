package archive

import (
	"fmt"
	"math/rand"
	"net/http"
)

// Fingerprint is a coherent set of browser identification headers: the
// User-Agent, client hints and fetch metadata all describe the same
// imaginary browser.
type Fingerprint struct {
	UserAgent string
	Headers   map[string]string
}

// browser/platform pools the generator draws from
var (
	chromeVersions  = []int{120, 121, 122, 123, 124, 125, 126}
	firefoxVersions = []int{121, 122, 123, 124, 125}

	platforms = []struct {
		uaToken string // token inside the User-Agent
		hint    string // sec-ch-ua-platform value
	}{
		{"Windows NT 10.0; Win64; x64", `"Windows"`},
		{"Macintosh; Intel Mac OS X 10_15_7", `"macOS"`},
		{"X11; Linux x86_64", `"Linux"`},
	}

	acceptLanguages = []string{
		"en-US,en;q=0.9",
		"en-GB,en;q=0.9",
		"en-US,en;q=0.8,de;q=0.5",
		"en-US,en;q=0.9,fr;q=0.6",
	}
)

// RandomFingerprint builds a random desktop-browser identity. Chrome
// identities carry client-hint headers, Firefox ones do not, matching
// what the real browsers send.
func RandomFingerprint() Fingerprint {
	platform := platforms[rand.Intn(len(platforms))]

	headers := map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           acceptLanguages[rand.Intn(len(acceptLanguages))],
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Sec-Fetch-User":            "?1",
	}

	var ua string
	if rand.Intn(4) > 0 { // Chrome three times out of four
		version := chromeVersions[rand.Intn(len(chromeVersions))]
		ua = fmt.Sprintf(
			"Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36",
			platform.uaToken, version)
		headers["sec-ch-ua"] = fmt.Sprintf(
			`"Chromium";v="%d", "Google Chrome";v="%d", "Not-A.Brand";v="99"`,
			version, version)
		headers["sec-ch-ua-mobile"] = "?0"
		headers["sec-ch-ua-platform"] = platform.hint
	} else {
		version := firefoxVersions[rand.Intn(len(firefoxVersions))]
		ua = fmt.Sprintf(
			"Mozilla/5.0 (%s; rv:%d.0) Gecko/20100101 Firefox/%d.0",
			platform.uaToken, version, version)
	}

	return Fingerprint{UserAgent: ua, Headers: headers}
}

// Apply sets the fingerprint headers on a request.
func (f Fingerprint) Apply(req *http.Request) {
	req.Header.Set("User-Agent", f.UserAgent)
	for key, value := range f.Headers {
		req.Header.Set(key, value)
	}
}
