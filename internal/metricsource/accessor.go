// Package metricsource supplies metric values to the rule engine. A missing
// value means "condition cannot be evaluated", never zero.
package metricsource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marketpulse/backend/internal/storage"
	"github.com/marketpulse/backend/internal/storage/models"
)

// Accessor resolves current and historical metric values. The boolean return
// is false when no data exists for the window.
type Accessor interface {
	GetValue(ctx context.Context, metric string, window time.Duration, agg models.Aggregation) (float64, bool, error)
	GetHistoricalValue(ctx context.Context, metric string, window time.Duration) (float64, bool, error)
}

// StoreAccessor aggregates recorded metric samples from the persistence seam.
type StoreAccessor struct {
	store storage.MetricSampleStore
	now   func() time.Time
}

func NewStoreAccessor(store storage.MetricSampleStore) *StoreAccessor {
	return &StoreAccessor{store: store, now: time.Now}
}

func (a *StoreAccessor) GetValue(ctx context.Context, metric string, window time.Duration, agg models.Aggregation) (float64, bool, error) {
	if window <= 0 {
		window = time.Hour
	}
	now := a.now()
	return a.aggregate(ctx, metric, now.Add(-window), now, agg)
}

// GetHistoricalValue aggregates the window immediately preceding the current
// one, so percentage-change conditions compare like-for-like periods.
func (a *StoreAccessor) GetHistoricalValue(ctx context.Context, metric string, window time.Duration) (float64, bool, error) {
	if window <= 0 {
		window = time.Hour
	}
	now := a.now()
	return a.aggregate(ctx, metric, now.Add(-2*window), now.Add(-window), models.AggAvg)
}

func (a *StoreAccessor) aggregate(ctx context.Context, metric string, from, to time.Time, agg models.Aggregation) (float64, bool, error) {
	samples, err := a.store.SamplesInWindow(ctx, metric, from, to)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load metric samples: %w", err)
	}
	if len(samples) == 0 {
		return 0, false, nil
	}

	switch agg {
	case models.AggCount:
		return float64(len(samples)), true, nil
	case models.AggSum:
		var sum float64
		for _, s := range samples {
			sum += s.Value
		}
		return sum, true, nil
	case models.AggMin:
		min := samples[0].Value
		for _, s := range samples[1:] {
			if s.Value < min {
				min = s.Value
			}
		}
		return min, true, nil
	case models.AggMax:
		max := samples[0].Value
		for _, s := range samples[1:] {
			if s.Value > max {
				max = s.Value
			}
		}
		return max, true, nil
	default:
		var sum float64
		for _, s := range samples {
			sum += s.Value
		}
		return sum / float64(len(samples)), true, nil
	}
}

// Router dispatches metric lookups by source prefix, e.g. "seo.rank" to the
// accessor registered under "seo". Unknown prefixes fall through to the
// default accessor.
type Router struct {
	routes       map[string]Accessor
	defaultRoute Accessor
}

func NewRouter(defaultRoute Accessor) *Router {
	return &Router{
		routes:       make(map[string]Accessor),
		defaultRoute: defaultRoute,
	}
}

func (r *Router) Register(prefix string, accessor Accessor) {
	r.routes[prefix] = accessor
}

func (r *Router) resolve(metric string) Accessor {
	if idx := strings.IndexByte(metric, '.'); idx > 0 {
		if a, ok := r.routes[metric[:idx]]; ok {
			return a
		}
	}
	return r.defaultRoute
}

func (r *Router) GetValue(ctx context.Context, metric string, window time.Duration, agg models.Aggregation) (float64, bool, error) {
	return r.resolve(metric).GetValue(ctx, metric, window, agg)
}

func (r *Router) GetHistoricalValue(ctx context.Context, metric string, window time.Duration) (float64, bool, error) {
	return r.resolve(metric).GetHistoricalValue(ctx, metric, window)
}
