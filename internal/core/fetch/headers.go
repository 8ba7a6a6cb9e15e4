package fetch

import "math/rand"

// HeaderProfile is a coherent set of request headers for one client
type HeaderProfile struct {
	UserAgent       string
	Accept          string
	AcceptLanguage  string
	SecFetchDest    string
	SecFetchMode    string
	SecFetchSite    string
	SecChUa         string
	SecChUaMobile   string
	SecChUaPlatform string
}

type HeaderStrategy string

const (
	StrategyBotFriendly   HeaderStrategy = "bot_friendly"
	StrategyModernBrowser HeaderStrategy = "modern_browser"
)

const htmlAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

var browserProfiles = []HeaderProfile{
	{
		UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Accept:          htmlAccept,
		AcceptLanguage:  "en-US,en;q=0.9",
		SecFetchDest:    "document",
		SecFetchMode:    "navigate",
		SecFetchSite:    "none",
		SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"macOS"`,
	},
	{
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Accept:          htmlAccept,
		AcceptLanguage:  "en-US,en;q=0.9",
		SecFetchDest:    "document",
		SecFetchMode:    "navigate",
		SecFetchSite:    "none",
		SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"Windows"`,
	},
}

// Profile returns the headers for strategy. The bot profile identifies as
// userAgent; browser profiles are picked at random.
func Profile(strategy HeaderStrategy, userAgent string) HeaderProfile {
	if strategy == StrategyModernBrowser {
		return browserProfiles[rand.Intn(len(browserProfiles))]
	}
	return HeaderProfile{UserAgent: userAgent, Accept: htmlAccept, AcceptLanguage: "en-US,en;q=0.9"}
}

// Map renders the profile as header name/value pairs. User-Agent and
// Accept-Encoding are left to the client.
func (p HeaderProfile) Map() map[string]string {
	h := map[string]string{
		"Accept":          p.Accept,
		"Accept-Language": p.AcceptLanguage,
	}
	if p.SecFetchDest != "" {
		h["Sec-Fetch-Dest"] = p.SecFetchDest
		h["Sec-Fetch-Mode"] = p.SecFetchMode
		h["Sec-Fetch-Site"] = p.SecFetchSite
	}
	if p.SecChUa != "" {
		h["Sec-Ch-Ua"] = p.SecChUa
		h["Sec-Ch-Ua-Mobile"] = p.SecChUaMobile
		h["Sec-Ch-Ua-Platform"] = p.SecChUaPlatform
	}
	return h
}
