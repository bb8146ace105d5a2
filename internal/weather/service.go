package weather

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mbd888/krishiconnect/internal/circuitbreaker"
)

const (
	defaultCacheTTL  = 15 * time.Minute
	upstreamForecast = "weather.forecast"
)

type cached struct {
	hours   []Hour
	fetched time.Time
}

// Service builds advisory reports and caches forecasts per location.
type Service struct {
	forecaster Forecaster
	lat, lon   float64
	ttl        time.Duration
	now        func() time.Time
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]cached
}

// NewService creates a weather service. forecaster may be nil, in which
// case every report fails with ErrUnconfigured.
func NewService(forecaster Forecaster) *Service {
	return &Service{
		forecaster: forecaster,
		lat:        DefaultLatitude,
		lon:        DefaultLongitude,
		ttl:        defaultCacheTTL,
		now:        time.Now,
		breaker:    circuitbreaker.New(5, time.Minute),
		logger:     slog.Default(),
		cache:      make(map[string]cached),
	}
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithDefaultLocation sets the location used when a request names none.
func (s *Service) WithDefaultLocation(lat, lon float64) *Service {
	s.lat, s.lon = lat, lon
	return s
}

// WithCacheTTL sets how long a forecast is reused. Zero disables caching.
func (s *Service) WithCacheTTL(d time.Duration) *Service {
	s.ttl = d
	return s
}

// WithBreaker replaces the circuit breaker guarding the provider.
func (s *Service) WithBreaker(b *circuitbreaker.Breaker) *Service {
	s.breaker = b
	return s
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Configured reports whether a forecaster is wired.
func (s *Service) Configured() bool { return s.forecaster != nil }

// DefaultLocation returns the configured fallback coordinates.
func (s *Service) DefaultLocation() (float64, float64) { return s.lat, s.lon }

// Report fetches the forecast for lat/lon and derives advisories.
func (s *Service) Report(ctx context.Context, lat, lon float64) (*Report, error) {
	if s.forecaster == nil {
		return nil, ErrUnconfigured
	}
	if !ValidLocation(lat, lon) {
		return nil, fmt.Errorf("%w: %g,%g", ErrInvalidLocation, lat, lon)
	}

	hours, fetched, err := s.hours(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	return &Report{
		Latitude:          lat,
		Longitude:         lon,
		Insights:          Advise(hours),
		CurrentConditions: Current(hours),
		FetchedAt:         fetched,
	}, nil
}

func (s *Service) hours(ctx context.Context, lat, lon float64) ([]Hour, time.Time, error) {
	key := cacheKey(lat, lon)
	now := s.now()

	s.mu.Lock()
	c, ok := s.cache[key]
	s.mu.Unlock()
	if ok && s.ttl > 0 && now.Sub(c.fetched) < s.ttl {
		return c.hours, c.fetched, nil
	}

	var hours []Hour
	err := s.breaker.Execute(upstreamForecast, func() error {
		var err error
		hours, err = s.forecaster.Forecast(ctx, lat, lon)
		return err
	})
	if err != nil {
		s.logger.Warn("weather forecast failed", "lat", lat, "lon", lon, "error", err)
		return nil, time.Time{}, err
	}
	if s.ttl > 0 {
		s.mu.Lock()
		s.cache[key] = cached{hours: hours, fetched: now}
		s.mu.Unlock()
	}
	return hours, now, nil
}

// Locations within roughly a kilometre share a forecast.
func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("%.2f,%.2f", math.Round(lat*100)/100, math.Round(lon*100)/100)
}
