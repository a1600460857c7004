package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type fakePage struct{ closed atomic.Int32 }

func (p *fakePage) Goto(string, WaitCondition, time.Duration) (int, error) { return 200, nil }
func (p *fakePage) WaitForSelector(string, time.Duration) error            { return nil }
func (p *fakePage) Content() (string, error)                               { return "<html></html>", nil }
func (p *fakePage) Title() (string, error)                                 { return "", nil }
func (p *fakePage) Close() error                                           { p.closed.Add(1); return nil }

type fakeBrowser struct {
	mu        sync.Mutex
	connected bool
	closes    int
	pages     []*fakePage
	profiles  []Profile
}

func newFakeBrowser() *fakeBrowser { return &fakeBrowser{connected: true} }

func (b *fakeBrowser) NewPage(p Profile) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	page := &fakePage{}
	b.pages = append(b.pages, page)
	b.profiles = append(b.profiles, p)
	return page, nil
}

func (b *fakeBrowser) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	b.connected = false
	return nil
}

func (b *fakeBrowser) disconnect() {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
}

type countingLauncher struct {
	calls   atomic.Int32
	delay   time.Duration
	fail    bool
	mu      sync.Mutex
	browser []*fakeBrowser
}

func (l *countingLauncher) Launch(ctx context.Context, _ Profile) (Browser, error) {
	l.calls.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.fail {
		return nil, errors.New("no chromium binary")
	}
	b := newFakeBrowser()
	l.mu.Lock()
	l.browser = append(l.browser, b)
	l.mu.Unlock()
	return b, nil
}
