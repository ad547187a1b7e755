// Package location decides which coordinates the weather is fetched for.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-by-location/internal/cache"
	"github.com/kjstillabower/weather-by-location/internal/client"
	"github.com/kjstillabower/weather-by-location/internal/config"
	"github.com/kjstillabower/weather-by-location/internal/models"
	"github.com/kjstillabower/weather-by-location/internal/observability"
)

// ErrLocationUnavailable is returned when no location could be determined.
var ErrLocationUnavailable = errors.New("location unavailable")

// Source labels where a resolved location came from.
type Source string

const (
	SourceManual Source = "manual"
	SourceCached Source = "cached"
	SourceLookup Source = "lookup"
)

// Saver persists a freshly geolocated result.
type Saver interface {
	SaveLocation(loc models.LocationData) error
}

// Resolver resolves the effective location in priority order: manual
// override, cached geolocation whose IP still matches, fresh lookup.
type Resolver struct {
	locator    client.Locator
	saver      Saver
	validated  cache.Cache
	revalidate time.Duration
	logger     *zap.Logger
}

// NewResolver builds a Resolver. validated memoizes "stored IP is still the
// public IP" for revalidate; a nil cache disables memoization.
func NewResolver(locator client.Locator, saver Saver, validated cache.Cache, revalidate time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		locator:    locator,
		saver:      saver,
		validated:  validated,
		revalidate: revalidate,
		logger:     observability.OrNop(logger),
	}
}

// Resolve returns the location to use for the current cycle.
func (r *Resolver) Resolve(ctx context.Context, st config.Settings) (models.LocationData, error) {
	loc, _, err := r.ResolveSource(ctx, st)
	return loc, err
}

// ResolveSource is Resolve that also reports which rule produced the answer.
func (r *Resolver) ResolveSource(ctx context.Context, st config.Settings) (models.LocationData, Source, error) {
	loc, src, err := r.resolve(ctx, st)
	if err != nil {
		observability.LocationResolutionsTotal.WithLabelValues("unavailable").Inc()
		return models.LocationData{}, "", err
	}
	observability.LocationResolutionsTotal.WithLabelValues(string(src)).Inc()
	return loc, src, nil
}

func (r *Resolver) resolve(ctx context.Context, st config.Settings) (models.LocationData, Source, error) {
	if st.HasManualLocation() {
		return st.Location(), SourceManual, nil
	}

	if st.HasCachedLocation() {
		stored := st.Location()
		if r.stillCurrent(ctx, stored) {
			return stored, SourceCached, nil
		}
	}

	loc, err := r.locator.Locate(ctx)
	if err != nil {
		r.logger.Warn("geolocation lookup failed",
			zap.Error(err),
			zap.String("category", string(client.CategorizeError(err))),
		)
		return models.LocationData{}, "", fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}

	if r.saver != nil {
		if err := r.saver.SaveLocation(loc); err != nil {
			r.logger.Warn("failed to persist geolocation result", zap.Error(err))
		}
	}
	r.remember(ctx, loc)

	r.logger.Info("location resolved by lookup",
		zap.String("city", loc.City),
		zap.String("region", loc.Region),
		zap.String("countryCode", loc.CountryCode),
	)
	return loc, SourceLookup, nil
}

// stillCurrent reports whether the stored IP is still the caller's public IP, consulting
// the validation cache before asking the network.
func (r *Resolver) stillCurrent(ctx context.Context, stored models.LocationData) bool {
	ip := stored.SourceIP
	if r.validated != nil {
		_, ok, err := r.validated.Get(ctx, cacheKey(ip))
		switch {
		case err != nil:
			observability.LocationCacheTotal.WithLabelValues("error").Inc()
			r.logger.Warn("location cache get failed", zap.Error(err))
		case ok:
			observability.LocationCacheTotal.WithLabelValues("hit").Inc()
			return true
		default:
			observability.LocationCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	current, err := r.locator.CurrentIP(ctx)
	if err != nil {
		r.logger.Warn("public IP check failed, falling back to lookup", zap.Error(err))
		return false
	}
	if current != ip {
		r.logger.Info("public IP changed", zap.String("stored", ip), zap.String("current", current))
		return false
	}
	r.remember(ctx, stored)
	return true
}

func (r *Resolver) remember(ctx context.Context, loc models.LocationData) {
	if r.validated == nil || loc.SourceIP == "" || r.revalidate <= 0 {
		return
	}
	if err := r.validated.Set(ctx, cacheKey(loc.SourceIP), loc, r.revalidate); err != nil {
		r.logger.Warn("location cache set failed", zap.Error(err))
	}
}

func cacheKey(ip string) string {
	return "ip:" + ip
}
