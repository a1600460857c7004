package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightLauncher starts Chromium through playwright-go. ExecutablePath
// and Channel override the profile's values when set, which is how the
// fallback launcher points at an alternate binary.
type PlaywrightLauncher struct {
	ExecutablePath string
	Channel        string
}

func (l PlaywrightLauncher) Launch(ctx context.Context, p Profile) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("could not start playwright: %w", err)
	}

	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args:     p.LaunchArgs,
	}
	execPath, channel := p.ExecutablePath, p.Channel
	if l.ExecutablePath != "" {
		execPath = l.ExecutablePath
	}
	if l.Channel != "" {
		channel = l.Channel
	}
	if execPath != "" {
		opts.ExecutablePath = playwright.String(execPath)
	}
	if channel != "" {
		opts.Channel = playwright.String(channel)
	}

	b, err := pw.Chromium.Launch(opts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("could not launch chromium: %w", err)
	}
	return &pwBrowser{pw: pw, browser: b}, nil
}

type pwBrowser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

func (b *pwBrowser) IsConnected() bool { return b.browser.IsConnected() }

func (b *pwBrowser) Close() error {
	err := b.browser.Close()
	if stopErr := b.pw.Stop(); err == nil {
		err = stopErr
	}
	return err
}

func (b *pwBrowser) NewPage(p Profile) (Page, error) {
	headers := p.headerProfile()
	bctx, err := b.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:        playwright.String(headers.UserAgent),
		ExtraHttpHeaders: headers.Headers(),
		Locale:           playwright.String("en-US"),
		Viewport: &playwright.Size{
			Width:  p.Viewport.Width,
			Height: p.Viewport.Height,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("browser context creation failed: %w", err)
	}

	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(concealScript)}); err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("init script: %w", err)
	}

	if p.Constrained {
		if err := bctx.Route("**/*", func(route playwright.Route) {
			req := route.Request()
			if ShouldBlock(p, req.ResourceType(), req.URL()) {
				_ = route.Abort("blockedbyclient")
				return
			}
			_ = route.Continue()
		}); err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("request interception: %w", err)
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("page creation failed: %w", err)
	}
	return &pwPage{ctx: bctx, page: page}, nil
}

type pwPage struct {
	ctx  playwright.BrowserContext
	page playwright.Page
}

func waitUntil(w WaitCondition) *playwright.WaitUntilState {
	switch w {
	case WaitNetworkIdle:
		return playwright.WaitUntilStateNetworkidle
	case WaitLoad:
		return playwright.WaitUntilStateLoad
	default:
		return playwright.WaitUntilStateDomcontentloaded
	}
}

func millis(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *pwPage) Goto(url string, wait WaitCondition, timeout time.Duration) (int, error) {
	resp, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntil(wait),
		Timeout:   millis(timeout),
	})
	if err != nil {
		return 0, err
	}
	if resp == nil {
		return 0, nil
	}
	return resp.Status(), nil
}

func (p *pwPage) WaitForSelector(selector string, timeout time.Duration) error {
	return p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: millis(timeout),
	})
}

func (p *pwPage) Content() (string, error) { return p.page.Content() }
func (p *pwPage) Title() (string, error)   { return p.page.Title() }

func (p *pwPage) Close() error {
	err := p.page.Close()
	if ctxErr := p.ctx.Close(); err == nil {
		err = ctxErr
	}
	return err
}
