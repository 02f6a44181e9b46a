package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cdrwatch/internal/cdr"
	"cdrwatch/internal/config"
)

// reportMenuJS clicks the reports menu entry by its link text.
const reportMenuJS = `() => {
	const links = Array.from(document.querySelectorAll('a'));
	for (const link of links) {
		if (link.innerText.trim() === 'Relatórios') {
			link.click();
			return true;
		}
	}
	return false;
}`

// outboundReportJS clicks the outbound-calls report submenu entry.
const outboundReportJS = `() => {
	const links = Array.from(document.querySelectorAll('a'));
	for (const link of links) {
		const text = link.innerText.trim();
		if (text.includes('Liga') && text.includes('Efetuadas')) {
			link.click();
			return true;
		}
	}
	return false;
}`

// Coordinator orchestrates full paginated retrievals: cache lookup,
// session readiness, report-screen navigation, the pagination loop
// with primary-to-fallback escalation, and record mapping.
//
// All retrievals serialize behind one mutex regardless of key: the
// single shared browser page cannot run two navigations at once.
// Callers that waited on the mutex re-check the cache before fetching,
// which coalesces concurrent identical requests into one retrieval.
type Coordinator struct {
	cfg      *config.Config
	session  *Session
	driver   Driver
	resolver cdr.Resolver
	primary  PageFetcher
	fallback PageFetcher
	cache    *reportCache
	log      *zap.Logger

	fetchMu sync.Mutex
}

// NewCoordinator wires a Coordinator from its parts.
func NewCoordinator(cfg *config.Config, session *Session, driver Driver, resolver cdr.Resolver, primary, fallback PageFetcher, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		session:  session,
		driver:   driver,
		resolver: resolver,
		primary:  primary,
		fallback: fallback,
		cache:    newReportCache(cfg.Fetch.CacheTTL),
		log:      log,
	}
}

// GetRecords retrieves and parses the outbound-calls report for the
// date range. Dates may be ISO (YYYY-MM-DD) or already in portal form.
// Partial results are returned rather than an error whenever any page
// was retrieved; only a cold session that cannot log in fails hard.
func (c *Coordinator) GetRecords(ctx context.Context, startDate, endDate, callType, filter string) ([]cdr.Record, error) {
	q := Query{
		StartDate: cdr.FormatPortalDate(startDate),
		EndDate:   cdr.FormatPortalDate(endDate),
		Type:      callType,
		Filter:    filter,
	}
	key := cacheKey{start: q.StartDate, end: q.EndDate, typ: q.Type, filter: q.Filter}

	if records, ok := c.cache.get(key); ok {
		c.log.Debug("serving records from cache", zap.Int("count", len(records)))
		return records, nil
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	// The retrieval we waited on may have populated our key.
	if records, ok := c.cache.get(key); ok {
		c.log.Debug("cache populated while waiting", zap.Int("count", len(records)))
		return records, nil
	}

	if err := c.session.EnsureLoggedIn(ctx); err != nil {
		return nil, err
	}

	cycle := uuid.NewString()[:8]
	log := c.log.With(zap.String("cycle", cycle),
		zap.String("start", q.StartDate), zap.String("end", q.EndDate))
	log.Info("fetching outbound-calls report")

	useFallback := false
	if err := c.openReportScreen(ctx); err != nil {
		// Navigation trouble disables the primary transport for this
		// cycle only; the fallback can still serve the data.
		log.Warn("report navigation failed, using fallback transport", zap.Error(err))
		useFallback = true
	}

	rows, sessionLost := c.paginate(ctx, log, q, &useFallback)

	records := cdr.FromRows(rows, c.resolver)
	if sessionLost {
		// Not cached: the next call must re-authenticate and re-fetch
		// instead of being served this truncated result.
		log.Info("report truncated by session expiry",
			zap.Int("records", len(records)))
		return records, nil
	}
	c.cache.put(key, records)
	log.Info("report fetched", zap.Int("records", len(records)),
		zap.Bool("fallback", useFallback))
	return records, nil
}

// paginate walks the report pages in order, escalating to the
// fallback transport on primary failure and ending early (with the
// rows gathered so far) on any unrecoverable page error. sessionLost
// reports that the walk ended because the portal killed the session.
func (c *Coordinator) paginate(ctx context.Context, log *zap.Logger, q Query, useFallback *bool) (rows []cdr.RawRow, sessionLost bool) {
	for page := 1; ; page++ {
		result, err := c.fetchPage(ctx, log, q, page, useFallback)
		if err != nil {
			if errors.Is(err, ErrSessionExpired) {
				log.Warn("session expired mid-pagination", zap.Int("page", page))
				c.session.Invalidate()
				return rows, true
			}
			log.Warn("page fetch failed, returning partial result",
				zap.Int("page", page), zap.Error(err))
			return rows, false
		}

		if result.NoRecords || len(result.Rows) == 0 {
			return rows, false
		}
		rows = append(rows, result.Rows...)

		if !result.Range.HasMore() {
			return rows, false
		}
	}
}

// fetchPage tries the primary transport unless this cycle already
// escalated, then the fallback.
func (c *Coordinator) fetchPage(ctx context.Context, log *zap.Logger, q Query, page int, useFallback *bool) (*PageResult, error) {
	if !*useFallback {
		result, err := c.primary.FetchPage(ctx, q, page)
		if err == nil {
			return result, nil
		}
		log.Warn("primary transport failed, escalating to fallback",
			zap.Int("page", page), zap.Error(err))
		*useFallback = true
	}
	return c.fallback.FetchPage(ctx, q, page)
}

// openReportScreen walks the portal menu to the outbound-calls report
// so the page context can issue report queries.
func (c *Coordinator) openReportScreen(ctx context.Context) error {
	url, err := c.driver.CurrentURL()
	if err != nil {
		return err
	}
	if !strings.Contains(url, "dashboard") && !strings.Contains(url, "relatorio") {
		if err := c.driver.Navigate(ctx, c.cfg.Portal.URL+"/dashboard/customer/index"); err != nil {
			return err
		}
		settle(ctx, c.cfg.Fetch.SettleDelay)
	}

	if _, err := c.driver.Eval(ctx, reportMenuJS); err != nil {
		return fmt.Errorf("open reports menu: %w", err)
	}
	settle(ctx, c.cfg.Fetch.SettleDelay)

	if _, err := c.driver.Eval(ctx, outboundReportJS); err != nil {
		return fmt.Errorf("open outbound report: %w", err)
	}
	settle(ctx, c.cfg.Fetch.SettleDelay)
	return nil
}

// Status is the operational snapshot served to diagnostics.
type Status struct {
	Configured        bool      `json:"configured"`
	Connected         bool      `json:"connected"`
	LoggedIn          bool      `json:"logged_in"`
	LastLoginAt       time.Time `json:"last_login_at,omitzero"`
	CachePopulated    bool      `json:"cache_populated"`
	CacheSize         int       `json:"cache_size"`
	FallbackAvailable bool      `json:"fallback_available"`
	PortalURL         string    `json:"portal_url"`
	Username          string    `json:"username"`
	Message           string    `json:"message"`
}

// Status reports the current session, cache and transport state.
func (c *Coordinator) Status() Status {
	_, fallback := c.session.Credentials()
	return Status{
		Configured:        c.cfg.Configured(),
		Connected:         c.driver.Connected(),
		LoggedIn:          c.session.LoggedIn(),
		LastLoginAt:       c.session.LastLoginAt(),
		CachePopulated:    c.cache.populated(),
		CacheSize:         c.cache.size(),
		FallbackAvailable: fallback,
		PortalURL:         c.cfg.Portal.URL,
		Username:          maskUsername(c.cfg.Portal.Username),
		Message:           "CDR acquisition via browser session with HTTP fallback",
	}
}

func maskUsername(username string) string {
	if username == "" {
		return ""
	}
	if len(username) <= 3 {
		return username + "***"
	}
	return username[:3] + "***"
}

// Shutdown releases the browser resource. Safe to call more than once.
func (c *Coordinator) Shutdown() error {
	return c.session.Close()
}
