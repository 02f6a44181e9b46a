package portal

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"cdrwatch/internal/config"
)

// LoginState tracks the session's position in the login lifecycle.
type LoginState int

const (
	StateLoggedOut LoginState = iota
	StateLoggingIn
	StateLoggedIn
)

func (s LoginState) String() string {
	switch s {
	case StateLoggingIn:
		return "logging_in"
	case StateLoggedIn:
		return "logged_in"
	default:
		return "logged_out"
	}
}

const loginAttempts = 2

// Session owns the authenticated browser session against the portal:
// it performs logins with bounded retries, tracks freshness against
// the session TTL, and captures the cookie jar so the fallback
// transport can replay the session over plain HTTP.
//
// Logins are coalesced: a caller arriving while a login is in flight
// waits for that same login instead of starting another.
type Session struct {
	cfg    *config.Config
	driver Driver
	log    *zap.Logger

	flight singleflight.Group
	now    func() time.Time

	mu          sync.Mutex
	state       LoginState
	lastLoginAt time.Time
	cookies     string
}

// NewSession wires a Session over a browser driver.
func NewSession(cfg *config.Config, driver Driver, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		cfg:    cfg,
		driver: driver,
		log:    log,
		now:    time.Now,
	}
}

// EnsureLoggedIn reuses a fresh live session or performs a login.
// Returns *AuthError after exhausting the login attempts.
func (s *Session) EnsureLoggedIn(ctx context.Context) error {
	_, err, _ := s.flight.Do("login", func() (interface{}, error) {
		return nil, s.ensure(ctx)
	})
	return err
}

func (s *Session) ensure(ctx context.Context) error {
	if s.fresh() {
		// Cheap liveness probe; a dead page means the session is gone
		// no matter what the TTL says.
		if _, err := s.driver.Title(); err == nil {
			return nil
		}
		s.log.Info("session page unresponsive, re-authenticating")
	}
	return s.login(ctx)
}

// fresh reports whether the session is logged in and within TTL.
func (s *Session) fresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateLoggedIn && s.now().Sub(s.lastLoginAt) < s.cfg.Fetch.SessionTTL
}

func (s *Session) login(ctx context.Context) error {
	s.setState(StateLoggingIn)

	var lastURL string
	var lastErr error

	for attempt := 1; attempt <= loginAttempts; attempt++ {
		s.log.Info("logging in to portal",
			zap.String("url", s.cfg.Portal.URL),
			zap.Int("attempt", attempt))

		url, err := s.attemptLogin(ctx)
		lastURL = url
		if err == nil {
			s.completeLogin()
			return nil
		}
		lastErr = err
		s.log.Warn("login attempt failed",
			zap.Int("attempt", attempt),
			zap.String("last_url", url),
			zap.Error(err))

		if attempt < loginAttempts {
			// Recreate the page so a half-filled form cannot poison
			// the retry.
			if resetErr := s.driver.Reset(ctx); resetErr != nil {
				s.log.Warn("page reset failed", zap.Error(resetErr))
			}
			settle(ctx, s.cfg.Fetch.SettleDelay)
		}
	}

	s.setState(StateLoggedOut)
	_ = s.driver.Reset(ctx)
	return &AuthError{LastURL: lastURL, Err: lastErr}
}

// attemptLogin runs one full login pass and returns the URL the
// portal landed on.
func (s *Session) attemptLogin(ctx context.Context) (string, error) {
	if err := s.driver.Navigate(ctx, s.cfg.Portal.URL); err != nil {
		return "", err
	}
	if err := s.driver.Fill(ctx, "#username", s.cfg.Portal.Username); err != nil {
		return "", err
	}
	if err := s.driver.Fill(ctx, "#password", s.cfg.Portal.Password); err != nil {
		return "", err
	}
	if err := s.driver.Click(ctx, `button[type="submit"]`); err != nil {
		return "", err
	}
	settle(ctx, s.cfg.Fetch.SettleDelay)

	url, err := s.driver.CurrentURL()
	if err != nil {
		return "", err
	}
	if !s.authenticatedURL(url) {
		return url, &AuthError{LastURL: url}
	}
	return url, nil
}

func (s *Session) authenticatedURL(url string) bool {
	for _, segment := range s.cfg.Portal.AuthenticatedPaths {
		if strings.Contains(url, segment) {
			return true
		}
	}
	return false
}

func (s *Session) completeLogin() {
	cookies, err := s.driver.Cookies()
	if err != nil {
		// Non-fatal: only the fallback transport loses out this cycle.
		s.log.Warn("could not capture session cookies", zap.Error(err))
		cookies = ""
	}

	s.mu.Lock()
	s.state = StateLoggedIn
	s.lastLoginAt = s.now()
	s.cookies = cookies
	s.mu.Unlock()

	s.log.Info("portal login succeeded",
		zap.Bool("fallback_credentials", cookies != ""))
}

func (s *Session) setState(state LoginState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Invalidate marks the session expired and drops the captured
// credentials. Idempotent; called when any transport sees an
// authorization failure.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.state = StateLoggedOut
	s.cookies = ""
	s.mu.Unlock()
	s.log.Info("session invalidated")
}

// Credentials returns the captured cookie header. Only trusted while
// the session is logged in.
func (s *Session) Credentials() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoggedIn || s.cookies == "" {
		return "", false
	}
	return s.cookies, true
}

// LoggedIn reports whether the session believes it is authenticated.
func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateLoggedIn
}

// LastLoginAt returns the time of the last successful login, zero if
// none happened yet.
func (s *Session) LastLoginAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLoginAt
}

// Close releases the browser resource.
func (s *Session) Close() error {
	s.mu.Lock()
	s.state = StateLoggedOut
	s.cookies = ""
	s.mu.Unlock()
	return s.driver.Close()
}
