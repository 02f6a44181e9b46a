package portal

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Query identifies one report retrieval. Dates are already in the
// portal's DD/MM/YYYY form.
type Query struct {
	StartDate string
	EndDate   string
	Type      string
	Filter    string
}

// params builds the report query string for one page, including the
// sort fields the portal expects on every request.
func (q Query) params(page int) url.Values {
	typ := q.Type
	if typ == "" {
		typ = "0"
	}
	return url.Values{
		"DATAI_TMP":      {q.StartDate},
		"DATAF_TMP":      {q.EndDate},
		"SORT_DIRECTION": {"DESC"},
		"SORT_CHANGE":    {""},
		"SORT_TAG":       {"data_index"},
		"PAGE":           {strconv.Itoa(page)},
		"txtDataI":       {q.StartDate},
		"txtDataF":       {q.EndDate},
		"txtTipo":        {typ},
		"txtFiltro":      {q.Filter},
	}
}

// reportQueryPath renders the report path with the portal's
// cache-busting random token prefix.
func reportQueryPath(reportPath string, q Query, page int) string {
	return fmt.Sprintf("%s?%v&%s", reportPath, rand.Float64(), q.params(page).Encode())
}

// PageFetcher retrieves one report page. Implemented by the primary
// (in-session) and fallback (direct HTTP) transports.
type PageFetcher interface {
	FetchPage(ctx context.Context, q Query, page int) (*PageResult, error)
}

// CredentialSource supplies the captured session cookies for the
// fallback transport.
type CredentialSource interface {
	Credentials() (string, bool)
}

// pageTransport issues the report query from inside the authenticated
// page, inheriting its cookies. The evaluation races a fixed timeout;
// a hung page surfaces as a TransportError, never a stuck fetch.
type pageTransport struct {
	driver     Driver
	reportPath string
	timeout    time.Duration
}

// NewPageTransport returns the primary transport over a browser page.
func NewPageTransport(driver Driver, reportPath string, timeout time.Duration) PageFetcher {
	return &pageTransport{driver: driver, reportPath: reportPath, timeout: timeout}
}

func (t *pageTransport) FetchPage(ctx context.Context, q Query, page int) (*PageResult, error) {
	evalCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	js := fmt.Sprintf(`async () => {
		const response = await fetch(%q, {
			headers: { 'X-Requested-With': 'XMLHttpRequest' }
		});
		return await response.text();
	}`, reportQueryPath(t.reportPath, q, page))

	fragment, err := t.driver.Eval(evalCtx, js)
	if err != nil {
		return nil, &TransportError{Transport: "page", Page: page, Err: err}
	}

	result, err := ParseReportPage(fragment)
	if err != nil {
		return nil, &ParseError{Page: page, Err: err}
	}
	return result, nil
}

// httpTransport replays the authenticated session over direct HTTP
// using the cookies captured at login. A redirect-to-login or
// unauthorized status means the session died server-side.
type httpTransport struct {
	baseURL    string
	reportPath string
	creds      CredentialSource
	client     *http.Client
}

// NewHTTPTransport returns the fallback transport.
func NewHTTPTransport(baseURL, reportPath string, creds CredentialSource, timeout time.Duration) PageFetcher {
	return &httpTransport{
		baseURL:    baseURL,
		reportPath: reportPath,
		creds:      creds,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				// The portal serves a self-signed chain.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
			// Surface the portal's redirect-to-login instead of
			// following it.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (t *httpTransport) FetchPage(ctx context.Context, q Query, page int) (*PageResult, error) {
	cookies, ok := t.creds.Credentials()
	if !ok {
		return nil, &TransportError{Transport: "http", Page: page, Err: ErrNoCredentials}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+reportQueryPath(t.reportPath, q, page), nil)
	if err != nil {
		return nil, &TransportError{Transport: "http", Page: page, Err: err}
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Cookie", cookies)
	req.Header.Set("Accept", "text/html, */*")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Transport: "http", Page: page, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Transport: "http", Page: page,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &TransportError{Transport: "http", Page: page, Err: err}
	}

	result, err := ParseReportPage(string(body))
	if err != nil {
		return nil, &ParseError{Page: page, Err: err}
	}
	return result, nil
}
