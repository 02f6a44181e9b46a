package portal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cdrwatch/internal/directory"
)

func newTestCoordinator(t *testing.T, driver *fakeDriver, primary, fallback *fakeFetcher) (*Coordinator, *Session) {
	t.Helper()
	cfg := testConfig()
	session := NewSession(cfg, driver, nil)
	resolver := directory.New(map[string]string{"1001": "Alice", "1002": "Bob"})
	coord := NewCoordinator(cfg, session, driver, resolver, primary, fallback, nil)
	return coord, session
}

func loginDriver() *fakeDriver {
	d := newFakeDriver("https://pabx.example/dashboard/customer/index")
	return d
}

func TestGetRecordsPaginates(t *testing.T) {
	primary := twoPageFetcher()
	fallback := &fakeFetcher{}
	coord, _ := newTestCoordinator(t, loginDriver(), primary, fallback)

	records, err := coord.GetRecords(context.Background(), "2026-08-15", "2026-08-15", "", "")
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(records) != 73 {
		t.Fatalf("records = %d, want 73", len(records))
	}
	if got := primary.callCount(); got != 2 {
		t.Errorf("primary calls = %d, want 2", got)
	}
	if got := fallback.callCount(); got != 0 {
		t.Errorf("fallback calls = %d, want 0", got)
	}

	// ISO dates are converted to the portal's form.
	if records[0].RawTimestamp != "15/08/2026 10:30" {
		t.Errorf("raw timestamp = %q", records[0].RawTimestamp)
	}
	if records[0].TimestampISO != "2026-08-15T10:30:00" {
		t.Errorf("iso timestamp = %q", records[0].TimestampISO)
	}
}

func TestGetRecordsServedFromCache(t *testing.T) {
	primary := twoPageFetcher()
	coord, _ := newTestCoordinator(t, loginDriver(), primary, &fakeFetcher{})
	ctx := context.Background()

	if _, err := coord.GetRecords(ctx, "15/08/2026", "15/08/2026", "", ""); err != nil {
		t.Fatalf("first GetRecords: %v", err)
	}
	records, err := coord.GetRecords(ctx, "15/08/2026", "15/08/2026", "", "")
	if err != nil {
		t.Fatalf("second GetRecords: %v", err)
	}
	if len(records) != 73 {
		t.Fatalf("records = %d, want 73", len(records))
	}
	if got := primary.callCount(); got != 2 {
		t.Errorf("primary calls = %d, want 2 (second call served from cache)", got)
	}
}

func TestGetRecordsDistinctKeysMiss(t *testing.T) {
	primary := twoPageFetcher()
	coord, _ := newTestCoordinator(t, loginDriver(), primary, &fakeFetcher{})
	ctx := context.Background()

	if _, err := coord.GetRecords(ctx, "15/08/2026", "15/08/2026", "", ""); err != nil {
		t.Fatalf("first GetRecords: %v", err)
	}
	if _, err := coord.GetRecords(ctx, "15/08/2026", "15/08/2026", "", "1001"); err != nil {
		t.Fatalf("filtered GetRecords: %v", err)
	}
	if got := primary.callCount(); got != 4 {
		t.Errorf("primary calls = %d, want 4 (filter change is a cache miss)", got)
	}
}

func TestFallbackEscalationMidPagination(t *testing.T) {
	primary := &fakeFetcher{fn: func(q Query, page int) (*PageResult, error) {
		if page == 1 {
			return &PageResult{Rows: makeRows(50, 0), Range: &PageRange{From: 1, To: 50, Total: 73}}, nil
		}
		return nil, &TransportError{Transport: "page", Page: page, Err: errors.New("evaluation timed out")}
	}}
	fallback := twoPageFetcher()
	coord, _ := newTestCoordinator(t, loginDriver(), primary, fallback)

	records, err := coord.GetRecords(context.Background(), "15/08/2026", "15/08/2026", "", "")
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(records) != 73 {
		t.Fatalf("records = %d, want 73 (page 2 served by fallback)", len(records))
	}
	if got := fallback.callCount(); got != 1 {
		t.Errorf("fallback calls = %d, want 1", got)
	}
}

func TestNavigationFailureUsesFallback(t *testing.T) {
	driver := loginDriver()
	driver.evalFn = func(js string) (string, error) {
		return "", errors.New("menu not rendered")
	}
	primary := &fakeFetcher{}
	fallback := twoPageFetcher()
	coord, _ := newTestCoordinator(t, driver, primary, fallback)

	records, err := coord.GetRecords(context.Background(), "15/08/2026", "15/08/2026", "", "")
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(records) != 73 {
		t.Fatalf("records = %d, want 73", len(records))
	}
	if got := primary.callCount(); got != 0 {
		t.Errorf("primary calls = %d, want 0 (navigation failed)", got)
	}
}

func TestSessionExpiryReturnsEmptyAndRecovers(t *testing.T) {
	expired := true
	var mu sync.Mutex
	fetch := func(q Query, page int) (*PageResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if expired {
			return nil, ErrSessionExpired
		}
		return twoPageFetcher().fn(q, page)
	}
	primary := &fakeFetcher{fn: fetch}
	fallback := &fakeFetcher{fn: fetch}
	driver := newFakeDriver(
		"https://pabx.example/dashboard/customer/index",
		"https://pabx.example/dashboard/customer/index",
	)
	coord, session := newTestCoordinator(t, driver, primary, fallback)
	ctx := context.Background()

	records, err := coord.GetRecords(ctx, "15/08/2026", "15/08/2026", "", "")
	if err != nil {
		t.Fatalf("GetRecords during expiry: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("records = %d, want 0", len(records))
	}
	if session.LoggedIn() {
		t.Error("LoggedIn() = true after expiry was detected")
	}

	mu.Lock()
	expired = false
	mu.Unlock()

	records, err = coord.GetRecords(ctx, "15/08/2026", "15/08/2026", "", "")
	if err != nil {
		t.Fatalf("GetRecords after recovery: %v", err)
	}
	if len(records) != 73 {
		t.Fatalf("records = %d, want 73 (next call re-fetches)", len(records))
	}
	if !session.LoggedIn() {
		t.Error("LoggedIn() = false after re-authentication")
	}
	if got := driver.navigateCount(); got != 2 {
		t.Errorf("navigates = %d, want 2 (second call re-authenticates)", got)
	}
}

func TestPartialResultOnLaterPageFailure(t *testing.T) {
	primary := &fakeFetcher{fn: func(q Query, page int) (*PageResult, error) {
		if page == 1 {
			return &PageResult{Rows: makeRows(50, 0), Range: &PageRange{From: 1, To: 50, Total: 73}}, nil
		}
		return nil, &TransportError{Transport: "page", Page: page, Err: errors.New("timeout")}
	}}
	fallback := &fakeFetcher{fn: func(q Query, page int) (*PageResult, error) {
		return nil, &TransportError{Transport: "http", Page: page, Err: errors.New("connection refused")}
	}}
	coord, session := newTestCoordinator(t, loginDriver(), primary, fallback)

	records, err := coord.GetRecords(context.Background(), "15/08/2026", "15/08/2026", "", "")
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(records) != 50 {
		t.Fatalf("records = %d, want 50 (partial page 1)", len(records))
	}
	if !session.LoggedIn() {
		t.Error("transport failure must not invalidate the session")
	}
}

func TestConcurrentIdenticalCallsCoalesce(t *testing.T) {
	primary := twoPageFetcher()
	primary.delay = 20 * time.Millisecond
	coord, _ := newTestCoordinator(t, loginDriver(), primary, &fakeFetcher{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records, err := coord.GetRecords(context.Background(), "15/08/2026", "15/08/2026", "", "")
			if err != nil {
				t.Errorf("GetRecords: %v", err)
				return
			}
			if len(records) != 73 {
				t.Errorf("records = %d, want 73", len(records))
			}
		}()
	}
	wg.Wait()

	if got := primary.callCount(); got != 2 {
		t.Errorf("primary calls = %d, want 2 (one retrieval for all callers)", got)
	}
}

func TestLoginFailureFailsRequest(t *testing.T) {
	driver := newFakeDriver("https://pabx.example/login", "https://pabx.example/login")
	coord, _ := newTestCoordinator(t, driver, twoPageFetcher(), &fakeFetcher{})

	_, err := coord.GetRecords(context.Background(), "15/08/2026", "15/08/2026", "", "")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}
}

func TestStatusSnapshot(t *testing.T) {
	coord, _ := newTestCoordinator(t, loginDriver(), twoPageFetcher(), &fakeFetcher{})

	status := coord.Status()
	if !status.Configured {
		t.Error("Configured = false with full credentials")
	}
	if status.LoggedIn {
		t.Error("LoggedIn = true before any fetch")
	}
	if status.Username != "Lab***" {
		t.Errorf("Username = %q, want masked", status.Username)
	}
	if status.CachePopulated {
		t.Error("CachePopulated = true before any fetch")
	}

	if _, err := coord.GetRecords(context.Background(), "15/08/2026", "15/08/2026", "", ""); err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	status = coord.Status()
	if !status.LoggedIn {
		t.Error("LoggedIn = false after fetch")
	}
	if !status.CachePopulated || status.CacheSize != 73 {
		t.Errorf("cache status = %v/%d, want populated with 73", status.CachePopulated, status.CacheSize)
	}
	if !status.FallbackAvailable {
		t.Error("FallbackAvailable = false with captured cookies")
	}
}
