package portal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"cdrwatch/internal/config"
)

// Driver is the browser capability the portal layer runs on:
// navigate, fill and click form fields, evaluate scripts in page
// context and read the cookie jar. The production implementation
// drives a Chromium instance; tests substitute a fake.
type Driver interface {
	// Navigate loads url in the page and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// CurrentURL returns the page's current location.
	CurrentURL() (string, error)
	// Title returns the page title. Doubles as the liveness probe.
	Title() (string, error)
	// Fill clears the element at selector and types value into it.
	Fill(ctx context.Context, selector, value string) error
	// Click clicks the element at selector.
	Click(ctx context.Context, selector string) error
	// Eval runs a script in page context and returns its string value.
	Eval(ctx context.Context, js string) (string, error)
	// Cookies returns the jar as a "name=value; ..." header string.
	Cookies() (string, error)
	// Reset discards the page and creates a fresh one, dropping any
	// corrupted form state.
	Reset(ctx context.Context) error
	// Connected reports whether a live browser is attached.
	Connected() bool
	// Close tears down the page and the browser process.
	Close() error
}

// chromiumFlags mirrors the flags the deployment has always launched
// the scraping browser with.
var chromiumFlags = []string{
	"no-sandbox",
	"disable-setuid-sandbox",
	"disable-dev-shm-usage",
	"disable-gpu",
	"ignore-certificate-errors",
	"disable-extensions",
}

// rodDriver drives one Chromium page through go-rod. The browser is
// launched lazily and reused while alive.
type rodDriver struct {
	cfg config.BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
}

// NewRodDriver returns a Driver backed by a lazily launched Chromium.
func NewRodDriver(cfg config.BrowserConfig) Driver {
	return &rodDriver{cfg: cfg}
}

// ensurePage launches or revives the browser and page as needed.
// Caller must hold mu.
func (d *rodDriver) ensurePage(ctx context.Context) (*rod.Page, error) {
	if d.browser != nil {
		if _, err := d.browser.Version(); err != nil {
			// Stale connection; relaunch from scratch.
			_ = d.browser.Close()
			d.browser = nil
			d.page = nil
		}
	}

	if d.browser == nil {
		launch := launcher.New().Headless(d.cfg.Headless)
		if d.cfg.ChromiumPath != "" {
			launch = launch.Bin(d.cfg.ChromiumPath)
		}
		for _, f := range chromiumFlags {
			launch = launch.Set(flags.Flag(f))
		}
		controlURL, err := launch.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chromium: %w", err)
		}

		browser := rod.New().ControlURL(controlURL).Context(ctx)
		if err := browser.Connect(); err != nil {
			return nil, fmt.Errorf("connect to chromium: %w", err)
		}
		d.browser = browser
	}

	if d.page == nil {
		page, err := d.newPage()
		if err != nil {
			return nil, err
		}
		d.page = page
	}
	return d.page, nil
}

func (d *rodDriver) newPage() (*rod.Page, error) {
	page, err := d.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             d.cfg.ViewportWidth,
		Height:            d.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	return page, nil
}

func (d *rodDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	page, err := d.ensurePage(ctx)
	if err != nil {
		return err
	}
	if err := page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return page.Context(ctx).WaitLoad()
}

func (d *rodDriver) CurrentURL() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil {
		return "", fmt.Errorf("no page")
	}
	info, err := d.page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (d *rodDriver) Title() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil {
		return "", fmt.Errorf("no page")
	}
	info, err := d.page.Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (d *rodDriver) Fill(ctx context.Context, selector, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	page, err := d.ensurePage(ctx)
	if err != nil {
		return err
	}
	el, err := page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %s not found: %w", selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("clear %s: %w", selector, err)
	}
	return el.Input(value)
}

func (d *rodDriver) Click(ctx context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	page, err := d.ensurePage(ctx)
	if err != nil {
		return err
	}
	el, err := page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %s not found: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (d *rodDriver) Eval(ctx context.Context, js string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	page, err := d.ensurePage(ctx)
	if err != nil {
		return "", err
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return "", err
	}
	if res == nil || res.Value.Nil() {
		return "", nil
	}
	return res.Value.Str(), nil
}

func (d *rodDriver) Cookies() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil {
		return "", fmt.Errorf("no page")
	}
	cookies, err := d.page.Cookies(nil)
	if err != nil {
		return "", err
	}
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; "), nil
}

func (d *rodDriver) Reset(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
	if d.browser == nil {
		_, err := d.ensurePage(ctx)
		return err
	}
	page, err := d.newPage()
	if err != nil {
		return err
	}
	d.page = page
	return nil
}

func (d *rodDriver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser == nil {
		return false
	}
	_, err := d.browser.Version()
	return err == nil
}

func (d *rodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
	var err error
	if d.browser != nil {
		err = d.browser.Close()
		d.browser = nil
	}
	return err
}

// settle pauses for the configured delay, honoring cancellation.
func settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
