package portal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cdrwatch/internal/cdr"
	"cdrwatch/internal/config"
)

// fakeDriver scripts the browser: Navigate records the target,
// clicking the submit button consumes the next entry of landURLs as
// the page's new location.
type fakeDriver struct {
	mu        sync.Mutex
	url       string
	landURLs  []string
	navigates int
	navDelay  time.Duration
	fills     map[string]string
	resets    int
	titleErr  error
	cookieStr string
	cookieErr error
	evalFn    func(js string) (string, error)
	closed    bool
}

func newFakeDriver(landURLs ...string) *fakeDriver {
	return &fakeDriver{
		landURLs:  landURLs,
		fills:     map[string]string{},
		cookieStr: "PHPSESSID=abc123; portal=xyz",
	}
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	if d.navDelay > 0 {
		time.Sleep(d.navDelay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigates++
	d.url = url
	return nil
}

func (d *fakeDriver) CurrentURL() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *fakeDriver) Title() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.titleErr != nil {
		return "", d.titleErr
	}
	return "Portal", nil
}

func (d *fakeDriver) Fill(ctx context.Context, selector, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fills[selector] = value
	return nil
}

func (d *fakeDriver) Click(ctx context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.landURLs) > 0 {
		d.url = d.landURLs[0]
		d.landURLs = d.landURLs[1:]
	}
	return nil
}

func (d *fakeDriver) Eval(ctx context.Context, js string) (string, error) {
	d.mu.Lock()
	fn := d.evalFn
	d.mu.Unlock()
	if fn != nil {
		return fn(js)
	}
	return "true", nil
}

func (d *fakeDriver) Cookies() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cookieStr, d.cookieErr
}

func (d *fakeDriver) Reset(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets++
	d.fills = map[string]string{}
	return nil
}

func (d *fakeDriver) Connected() bool { return true }

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) navigateCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.navigates
}

// fakeFetcher scripts page retrievals and counts calls.
type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	fn    func(q Query, page int) (*PageResult, error)
}

func (f *fakeFetcher) FetchPage(ctx context.Context, q Query, page int) (*PageResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fn == nil {
		return &PageResult{NoRecords: true}, nil
	}
	return f.fn(q, page)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func makeRows(n, offset int) []cdr.RawRow {
	rows := make([]cdr.RawRow, n)
	for i := range rows {
		rows[i] = cdr.RawRow{
			Timestamp:    "15/08/2026 10:30",
			Origin:       fmt.Sprintf("10%02d", (offset+i)%20),
			Destination:  "11987654321",
			CarrierLabel: "Claro Móvel",
			DurationText: "1 min 5 seg",
			CostText:     "0,75",
		}
	}
	return rows
}

// twoPageFetcher serves the classic 73-record report in two pages.
func twoPageFetcher() *fakeFetcher {
	return &fakeFetcher{fn: func(q Query, page int) (*PageResult, error) {
		switch page {
		case 1:
			return &PageResult{Rows: makeRows(50, 0), Range: &PageRange{From: 1, To: 50, Total: 73}}, nil
		case 2:
			return &PageResult{Rows: makeRows(23, 50), Range: &PageRange{From: 51, To: 73, Total: 73}}, nil
		default:
			return &PageResult{NoRecords: true}, nil
		}
	}}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Portal.URL = "https://pabx.example"
	cfg.Portal.Username = "LabCorp"
	cfg.Portal.Password = "secret"
	cfg.Fetch.SettleDelay = 0
	return cfg
}
