package scrape

import (
	"context"
	"fmt"
	"time"

	"ratingsync/internal/core/browser"
	"ratingsync/internal/core/scrapeerr"
	"ratingsync/internal/logger"
)

// Strategy is one navigation attempt: the event to wait for and how long.
type Strategy struct {
	Wait    browser.WaitCondition
	Timeout time.Duration
}

// DefaultStrategies returns the escalating strategy list for a profile.
func DefaultStrategies(constrained bool) []Strategy {
	if constrained {
		return []Strategy{
			{Wait: browser.WaitDOMContentLoaded, Timeout: 8 * time.Second},
			{Wait: browser.WaitNetworkIdle, Timeout: 15 * time.Second},
			{Wait: browser.WaitLoad, Timeout: 25 * time.Second},
		}
	}
	return []Strategy{
		{Wait: browser.WaitDOMContentLoaded, Timeout: 15 * time.Second},
		{Wait: browser.WaitNetworkIdle, Timeout: 30 * time.Second},
		{Wait: browser.WaitLoad, Timeout: 45 * time.Second},
	}
}

// DefaultSettle is the content settle delay for a profile.
func DefaultSettle(constrained bool) time.Duration {
	if constrained {
		return 1500 * time.Millisecond
	}
	return 2 * time.Second
}

type Loader struct {
	strategies []Strategy
	settle     time.Duration
	log        *logger.Logger
}

func NewLoader(strategies []Strategy, settle time.Duration) *Loader {
	return &Loader{strategies: strategies, settle: settle, log: logger.New("PageLoader")}
}

// LoadWithRetry navigates page to url trying each strategy once, preferred
// first. It returns the response status of the first successful attempt,
// or a navigation_timeout error when every strategy fails.
func (l *Loader) LoadWithRetry(ctx context.Context, page browser.Page, url string, preferred browser.WaitCondition) (int, error) {
	order := l.order(preferred)
	var lastErr error
	for i, s := range order {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		start := time.Now()
		status, err := page.Goto(url, s.Wait, s.Timeout)
		if err == nil {
			l.log.LogDebugf("loaded %s with %s in %v (status %d)", url, s.Wait, time.Since(start), status)
			return status, nil
		}
		lastErr = err
		l.log.LogWarnf("strategy %d/%d (%s, %v) failed for %s: %v", i+1, len(order), s.Wait, s.Timeout, url, err)
	}
	return 0, scrapeerr.New(scrapeerr.CodeNavigationTimeout,
		fmt.Sprintf("all %d load strategies failed for %s", len(order), url), lastErr)
}

func (l *Loader) order(preferred browser.WaitCondition) []Strategy {
	out := make([]Strategy, 0, len(l.strategies))
	for _, s := range l.strategies {
		if s.Wait == preferred {
			out = append(out, s)
		}
	}
	for _, s := range l.strategies {
		if s.Wait != preferred {
			out = append(out, s)
		}
	}
	return out
}

// AwaitContentReady waits for selector or the settle delay, whichever comes
// first. It reports whether the selector appeared.
func (l *Loader) AwaitContentReady(ctx context.Context, page browser.Page, selector string) bool {
	timer := time.NewTimer(l.settle)
	defer timer.Stop()

	if selector == "" {
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		return false
	}

	found := make(chan error, 1)
	go func() { found <- page.WaitForSelector(selector, l.settle) }()

	select {
	case err := <-found:
		return err == nil
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
