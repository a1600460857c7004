package browser

import "math/rand"

// HeaderProfile is a coherent header set for one desktop browser.
type HeaderProfile struct {
	UserAgent       string
	AcceptLanguage  string
	SecChUa         string
	SecChUaMobile   string
	SecChUaPlatform string
}

// Headers returns the extra HTTP headers to send with every request.
func (h HeaderProfile) Headers() map[string]string {
	out := map[string]string{"Accept-Language": h.AcceptLanguage}
	if h.SecChUa != "" {
		out["Sec-Ch-Ua"] = h.SecChUa
		out["Sec-Ch-Ua-Mobile"] = h.SecChUaMobile
		out["Sec-Ch-Ua-Platform"] = h.SecChUaPlatform
	}
	return out
}

var desktopProfiles = []HeaderProfile{
	{
		UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		AcceptLanguage:  "en-US,en;q=0.9",
		SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"macOS"`,
	},
	{
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		AcceptLanguage:  "en-US,en;q=0.9",
		SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"Windows"`,
	},
	{
		UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		AcceptLanguage:  "en-GB,en;q=0.9",
		SecChUa:         `"Chromium";v="131", "Not_A Brand";v="24"`,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"Linux"`,
	},
}

// RandomHeaderProfile picks one of the desktop header sets.
func RandomHeaderProfile() HeaderProfile {
	return desktopProfiles[rand.Intn(len(desktopProfiles))]
}

type Viewport struct {
	Width  int
	Height int
}

// Profile is the execution profile pages and browsers are configured from.
type Profile struct {
	Name        string
	Constrained bool
	Viewport    Viewport
	// Headers is fixed per page; zero value means pick at random.
	Headers            HeaderProfile
	BlockResourceTypes []string
	BlockTrackers      bool
	LaunchArgs         []string
	ExecutablePath     string
	Channel            string
}

var baseLaunchArgs = []string{
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--disable-blink-features=AutomationControlled",
	"--disable-extensions",
	"--no-first-run",
}

// StandardProfile is the unconstrained profile: wide viewport, no request
// blocking.
func StandardProfile() Profile {
	return Profile{
		Name:       "standard",
		Viewport:   Viewport{Width: 1920, Height: 1080},
		LaunchArgs: append([]string(nil), baseLaunchArgs...),
	}
}

// ConstrainedProfile is used on serverless hosts: narrow viewport, single
// process and aggressive blocking of non-essential requests.
func ConstrainedProfile() Profile {
	return Profile{
		Name:               "constrained",
		Constrained:        true,
		Viewport:           Viewport{Width: 1280, Height: 720},
		BlockResourceTypes: []string{"image", "font", "stylesheet", "media"},
		BlockTrackers:      true,
		LaunchArgs: append(append([]string(nil), baseLaunchArgs...),
			"--single-process",
			"--no-zygote",
			"--disable-gpu",
			"--js-flags=--max-old-space-size=256",
		),
	}
}

// ProfileFor selects the profile from the serverless flag.
func ProfileFor(serverless bool) Profile {
	if serverless {
		return ConstrainedProfile()
	}
	return StandardProfile()
}

func (p Profile) headerProfile() HeaderProfile {
	if p.Headers.UserAgent != "" {
		return p.Headers
	}
	return RandomHeaderProfile()
}
