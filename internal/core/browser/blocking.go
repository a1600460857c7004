package browser

import "strings"

var trackerPatterns = []string{
	"google-analytics.com", "googletagmanager.com", "googlesyndication.com",
	"doubleclick.net", "hotjar.com", "mixpanel.com", "segment.com",
	"amplitude.com", "fullstory.com", "quantserve.com", "scorecardresearch.com",
	"facebook.com/tr", "connect.facebook.net", "twitter.com/i/adsct",
	"pubmatic.com", "adnxs.com", "criteo.com", "/analytics", "/tracking",
}

func isTrackerURL(url string) bool {
	for _, p := range trackerPatterns {
		if strings.Contains(url, p) {
			return true
		}
	}
	return false
}

// ShouldBlock decides whether a request is aborted under profile p.
// Unconstrained profiles never block.
func ShouldBlock(p Profile, resourceType, url string) bool {
	if !p.Constrained {
		return false
	}
	for _, t := range p.BlockResourceTypes {
		if resourceType == t {
			return true
		}
	}
	return p.BlockTrackers && isTrackerURL(url)
}

// concealScript hides the common automation tells before any page script
// runs.
const concealScript = `(() => {
  Object.defineProperty(Navigator.prototype, 'webdriver', { get: () => undefined, configurable: true });
  if (!window.chrome) { window.chrome = { runtime: {} }; }
  Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
  Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
  const query = window.navigator.permissions && window.navigator.permissions.query;
  if (query) {
    window.navigator.permissions.query = (p) =>
      p && p.name === 'notifications'
        ? Promise.resolve({ state: Notification.permission })
        : query.call(window.navigator.permissions, p);
  }
})();`
