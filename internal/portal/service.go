package portal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"cdrwatch/internal/cdr"
	"cdrwatch/internal/config"
	"cdrwatch/internal/directory"
	"cdrwatch/internal/stats"
)

// Service is the subsystem facade: it owns the browser driver, the
// session, both transports and the coordinator, and exposes the
// operations callers consume.
type Service struct {
	cfg         *config.Config
	resolver    *directory.Resolver
	coordinator *Coordinator
	log         *zap.Logger
}

// NewService wires the full acquisition stack from configuration.
func NewService(cfg *config.Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	driver := NewRodDriver(cfg.Browser)
	session := NewSession(cfg, driver, log.Named("session"))
	resolver := directory.New(cfg.Extensions)

	primary := NewPageTransport(driver, cfg.Portal.ReportPath, cfg.Fetch.EvalTimeout)
	fallback := NewHTTPTransport(cfg.Portal.URL, cfg.Portal.ReportPath, session, cfg.Fetch.RequestTimeout)

	return &Service{
		cfg:         cfg,
		resolver:    resolver,
		coordinator: NewCoordinator(cfg, session, driver, resolver, primary, fallback, log.Named("fetch")),
		log:         log,
	}
}

// GetRecords retrieves the outbound-calls report for the range.
// Empty dates default to today.
func (s *Service) GetRecords(ctx context.Context, startDate, endDate, callType, filter string) ([]cdr.Record, error) {
	startDate, endDate = s.defaultRange(startDate, endDate)
	return s.coordinator.GetRecords(ctx, startDate, endDate, callType, filter)
}

// GetSummary retrieves the report and aggregates it.
func (s *Service) GetSummary(ctx context.Context, startDate, endDate, callType, filter string) (stats.Summary, error) {
	records, err := s.GetRecords(ctx, startDate, endDate, callType, filter)
	if err != nil {
		return stats.Summary{}, err
	}
	return stats.Summarize(records), nil
}

// ListExtensions returns the extension directory merged with the
// extensions observed in today's records. Never fails: when the portal
// is unreachable it degrades to the configured directory alone.
func (s *Service) ListExtensions(ctx context.Context) []directory.Entry {
	today := time.Now().Format("02/01/2006")
	records, err := s.coordinator.GetRecords(ctx, today, today, "", "")
	if err != nil {
		s.log.Warn("extension listing degraded to static directory", zap.Error(err))
		return s.resolver.StaticList()
	}
	observed := make([]string, 0, len(records))
	for _, r := range records {
		observed = append(observed, r.Extension)
	}
	return s.resolver.List(observed)
}

// Status reports the subsystem's operational snapshot.
func (s *Service) Status() Status {
	return s.coordinator.Status()
}

// Shutdown releases the browser. Safe to call more than once.
func (s *Service) Shutdown() error {
	return s.coordinator.Shutdown()
}

func (s *Service) defaultRange(startDate, endDate string) (string, string) {
	today := time.Now().Format("02/01/2006")
	if startDate == "" {
		startDate = today
	}
	if endDate == "" {
		endDate = today
	}
	return startDate, endDate
}
