package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"ratingsync/internal/core/scrapeerr"
	"ratingsync/internal/logger"
)

// Manager hands out browsers. Single-page work shares one lazily launched
// instance; paginated jobs get a dedicated instance behind a Lease.
type Manager struct {
	launcher Launcher
	fallback Launcher
	profile  Profile
	log      *logger.Logger

	mu       sync.Mutex
	shared   Browser
	inflight *launchCall

	launches   atomic.Int64
	activeJobs atomic.Int64
}

type launchCall struct {
	done chan struct{}
	b    Browser
	err  error
}

// NewManager builds a manager. fallback may be nil; it is tried once when
// the primary launcher fails.
func NewManager(launcher, fallback Launcher, profile Profile) *Manager {
	return &Manager{
		launcher: launcher,
		fallback: fallback,
		profile:  profile,
		log:      logger.New("BrowserManager"),
	}
}

func (m *Manager) Profile() Profile { return m.profile }

// AcquireShared returns the shared browser, launching it if needed. Callers
// arriving during a launch wait for that launch instead of starting another.
// A launch abandoned because its caller's context ended does not fail the
// waiters; they try again with their own context.
func (m *Manager) AcquireShared(ctx context.Context) (Browser, error) {
	for {
		m.mu.Lock()
		if m.shared != nil && m.shared.IsConnected() {
			b := m.shared
			m.mu.Unlock()
			return b, nil
		}
		call := m.inflight
		if call == nil {
			return m.launchShared(ctx)
		}
		m.mu.Unlock()

		select {
		case <-call.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if isContextErr(call.err) && ctx.Err() == nil {
			continue
		}
		return call.b, call.err
	}
}

// launchShared starts the shared browser. m.mu must be held on entry.
func (m *Manager) launchShared(ctx context.Context) (Browser, error) {
	stale := m.shared
	m.shared = nil
	call := &launchCall{done: make(chan struct{})}
	m.inflight = call
	m.mu.Unlock()

	if stale != nil {
		m.log.LogWarn("shared browser disconnected, relaunching")
		_ = stale.Close()
	}

	b, err := m.launch(ctx)

	m.mu.Lock()
	call.b, call.err = b, err
	if err == nil {
		m.shared = b
	}
	m.inflight = nil
	m.mu.Unlock()
	close(call.done)

	return b, err
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// AcquireJob launches a browser owned by one job. The lease must be
// released on every exit path.
func (m *Manager) AcquireJob(ctx context.Context) (*Lease, error) {
	b, err := m.launch(ctx)
	if err != nil {
		return nil, err
	}
	m.activeJobs.Add(1)
	return &Lease{browser: b, manager: m}, nil
}

func (m *Manager) launch(ctx context.Context) (Browser, error) {
	m.launches.Add(1)
	b, err := m.launcher.Launch(ctx, m.profile)
	if err == nil {
		return b, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if m.fallback == nil {
		return nil, scrapeerr.New(scrapeerr.CodeResourceExhaustion, "browser launch failed", err)
	}

	m.log.LogWarnf("primary browser launch failed, trying fallback: %v", err)
	b, fbErr := m.fallback.Launch(ctx, m.profile)
	if fbErr != nil {
		return nil, scrapeerr.New(scrapeerr.CodeResourceExhaustion, "browser launch failed", errors.Join(err, fbErr))
	}
	return b, nil
}

// NewPage opens a page configured from the manager's profile.
func (m *Manager) NewPage(b Browser) (Page, error) {
	if b == nil || !b.IsConnected() {
		return nil, scrapeerr.New(scrapeerr.CodeResourceExhaustion, "browser is not connected", nil)
	}
	p, err := b.NewPage(m.profile)
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	return p, nil
}

// ReleasePage closes a page. It is safe to call with nil.
func (m *Manager) ReleasePage(p Page) {
	if p == nil {
		return
	}
	if err := p.Close(); err != nil {
		m.log.LogDebugf("page close: %v", err)
	}
}

// Close shuts the shared browser down.
func (m *Manager) Close() error {
	m.mu.Lock()
	b := m.shared
	m.shared = nil
	m.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close()
}

// HealthCheck fails when a shared browser exists but lost its connection.
func (m *Manager) HealthCheck(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shared != nil && !m.shared.IsConnected() {
		return errors.New("shared browser disconnected")
	}
	return nil
}

// Launches counts launch attempts, fallbacks excluded.
func (m *Manager) Launches() int64 { return m.launches.Load() }

// ActiveJobs is the number of unreleased job leases.
func (m *Manager) ActiveJobs() int64 { return m.activeJobs.Load() }

// Lease is exclusive ownership of a job browser.
type Lease struct {
	browser Browser
	manager *Manager
	once    sync.Once
	err     error
}

func (l *Lease) Browser() Browser { return l.browser }

// Release closes the browser. Only the first call has an effect.
func (l *Lease) Release() error {
	l.once.Do(func() {
		l.err = l.browser.Close()
		l.manager.activeJobs.Add(-1)
		if l.err != nil {
			l.manager.log.LogWarnf("job browser close: %v", l.err)
		}
	})
	return l.err
}
