package leakedzone

import (
	"runtime"
)

// headerProfile is the browser-fingerprint impersonation profile attached to
// every request. Cookie and fingerprint combinations are fragile, so the
// profile follows the host OS family: a Windows cookie presented with a mac
// fingerprint trips the challenge wall far more often.
type headerProfile struct {
	UserAgent      string
	Accept         string
	AcceptLanguage string
}

func impersonationProfile() headerProfile {
	profile := headerProfile{
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
	}

	switch runtime.GOOS {
	case "windows":
		profile.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:147.0) Gecko/20100101 Firefox/147.0"
	case "darwin":
		profile.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
	default:
		profile.UserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:147.0) Gecko/20100101 Firefox/147.0"
	}

	return profile
}
