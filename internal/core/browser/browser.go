// Package browser owns headless browser processes and the pages opened in
// them. Callers see narrow Browser and Page interfaces; playwright.go backs
// them with playwright-go.
package browser

import (
	"context"
	"time"
)

// WaitCondition is the navigation event a page load waits for.
type WaitCondition string

const (
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
	WaitNetworkIdle      WaitCondition = "networkidle"
	WaitLoad             WaitCondition = "load"
)

// Page is one isolated tab with its own browser context.
type Page interface {
	// Goto navigates and returns the main response status, 0 if unknown.
	Goto(url string, wait WaitCondition, timeout time.Duration) (int, error)
	WaitForSelector(selector string, timeout time.Duration) error
	Content() (string, error)
	Title() (string, error)
	Close() error
}

type Browser interface {
	NewPage(p Profile) (Page, error)
	IsConnected() bool
	Close() error
}

type Launcher interface {
	Launch(ctx context.Context, p Profile) (Browser, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, p Profile) (Browser, error)

func (f LauncherFunc) Launch(ctx context.Context, p Profile) (Browser, error) { return f(ctx, p) }
