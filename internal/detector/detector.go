// Package detector compares fresh observations against stored baselines and
// emits typed change events.
package detector

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/fingerprint"
	"github.com/marketpulse/backend/internal/snapshots"
	"github.com/marketpulse/backend/internal/storage"
	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/logger"
)

const source = "change_detector"

// HashCache is an optional fast-path cache of the latest baseline hash,
// consulted before loading the full snapshot.
type HashCache interface {
	GetContentHash(ctx context.Context, entityID string, kind models.EntityKind) (string, bool, error)
	SetContentHash(ctx context.Context, entityID string, kind models.EntityKind, hash string, ttl time.Duration) error
}

// Config holds the detection policy constants. The thresholds and confidence
// values are fixed policy, not learned.
type Config struct {
	ChangeThreshold   float64
	BaselineThreshold float64
	PricingConfidence float64
	ContentConfidence float64
}

func DefaultConfig() Config {
	return Config{
		ChangeThreshold:   0.95,
		BaselineThreshold: 0.90,
		PricingConfidence: 0.8,
		ContentConfidence: 0.9,
	}
}

// lockShards bounds the per-entity lock table. Distinct entities may share a
// shard, which only costs contention, never correctness.
const lockShards = 64

type Detector struct {
	snapshots *snapshots.Service
	events    storage.ChangeEventStore
	cache     HashCache
	cfg       Config

	locks [lockShards]sync.Mutex
}

func New(snaps *snapshots.Service, events storage.ChangeEventStore, cache HashCache, cfg Config) *Detector {
	if cfg.ChangeThreshold == 0 {
		cfg = DefaultConfig()
	}
	return &Detector{
		snapshots: snaps,
		events:    events,
		cache:     cache,
		cfg:       cfg,
	}
}

// entityLock serializes detection per (entityID, entityKind) so concurrent
// runs on the same entity cannot interleave the read-compare-write of its
// snapshot. The same entity always hashes to the same shard.
func (d *Detector) entityLock(entityID string, kind models.EntityKind) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(kind))
	h.Write([]byte{'|'})
	h.Write([]byte(entityID))
	return &d.locks[h.Sum32()%lockShards]
}

// DetectChanges compares an observation against the latest baseline. The
// first observation for an entity becomes the baseline and is never itself a
// change. Event and snapshot persistence failures are logged and swallowed so
// the comparison result is always available to the caller.
func (d *Detector) DetectChanges(ctx context.Context, entityID string, kind models.EntityKind, obs *models.Observation) (*models.ComparisonResult, error) {
	lock := d.entityLock(entityID, kind)
	lock.Lock()
	defer lock.Unlock()

	newHash := fingerprint.Hash(obs.Content)

	if d.cache != nil {
		cached, ok, err := d.cache.GetContentHash(ctx, entityID, kind)
		if err != nil {
			logger.Debug("Hash cache unavailable", zap.Error(err))
		} else if ok && cached == newHash {
			return &models.ComparisonResult{HasChanges: false, Similarity: 1.0}, nil
		}
	}

	prev, err := d.snapshots.Latest(ctx, entityID, kind)
	if errors.Is(err, storage.ErrNotFound) {
		if _, err := d.snapshots.Create(ctx, entityID, kind, obs); err != nil {
			logger.Warn("Failed to persist initial baseline",
				zap.String("entity_id", entityID),
				zap.Error(err),
			)
		} else {
			d.cacheHash(ctx, entityID, kind, newHash)
		}
		return &models.ComparisonResult{HasChanges: false, Similarity: 1.0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}

	if prev.ContentHash == newHash {
		d.cacheHash(ctx, entityID, kind, newHash)
		return &models.ComparisonResult{HasChanges: false, Similarity: 1.0}, nil
	}

	similarity := fingerprint.Similarity(prev.Content, obs.Content)

	result := &models.ComparisonResult{Similarity: similarity}
	d.diffExtracted(&prev.Extracted, &obs.Extracted, result)

	result.HasChanges = similarity < d.cfg.ChangeThreshold ||
		len(result.AddedItems) > 0 || len(result.RemovedItems) > 0 || len(result.ModifiedItems) > 0

	if result.HasChanges {
		result.Changes = d.buildEvents(entityID, kind, result, obs.ObservedAt)
		for i := range result.Changes {
			if err := d.events.AppendEvent(ctx, &result.Changes[i]); err != nil {
				logger.Warn("Failed to persist change event",
					zap.String("entity_id", entityID),
					zap.String("event_id", result.Changes[i].ID),
					zap.Error(err),
				)
			}
		}
	}

	// The baseline replacement threshold is looser than the change threshold
	// so trivial fluctuations don't constantly replace the baseline.
	if similarity < d.cfg.BaselineThreshold {
		if _, err := d.snapshots.Create(ctx, entityID, kind, obs); err != nil {
			logger.Warn("Failed to replace baseline",
				zap.String("entity_id", entityID),
				zap.Error(err),
			)
		} else {
			d.cacheHash(ctx, entityID, kind, newHash)
		}
	}

	logger.Debug("Detection completed",
		zap.String("entity_id", entityID),
		zap.Float64("similarity", similarity),
		zap.Bool("has_changes", result.HasChanges),
		zap.Int("events", len(result.Changes)),
	)

	return result, nil
}

func (d *Detector) cacheHash(ctx context.Context, entityID string, kind models.EntityKind, hash string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.SetContentHash(ctx, entityID, kind, hash, 24*time.Hour); err != nil {
		logger.Debug("Failed to cache content hash", zap.Error(err))
	}
}

func (d *Detector) diffExtracted(prev, curr *models.ExtractedFields, result *models.ComparisonResult) {
	dimensions := []struct {
		name string
		old  []string
		new  []string
	}{
		{"url", prev.URLs, curr.URLs},
		{"keyword", prev.Keywords, curr.Keywords},
		{"plan", prev.Pricing.Plans, curr.Pricing.Plans},
		{"currency", prev.Pricing.Currencies, curr.Pricing.Currencies},
		{"social", prev.SocialHandles, curr.SocialHandles},
	}

	for _, dim := range dimensions {
		added, removed := setDiff(dim.old, dim.new)
		for _, v := range added {
			result.AddedItems = append(result.AddedItems, models.ChangedItem{Type: dim.name, Value: v})
		}
		for _, v := range removed {
			result.RemovedItems = append(result.RemovedItems, models.ChangedItem{Type: dim.name, Value: v})
		}
	}

	oldAmounts := formatAmounts(prev.Pricing.Amounts)
	newAmounts := formatAmounts(curr.Pricing.Amounts)
	if !sameSet(oldAmounts, newAmounts) {
		result.ModifiedItems = append(result.ModifiedItems, models.ModifiedItem{
			Type: "pricing",
			Old:  oldAmounts,
			New:  newAmounts,
		})
	}
}

// buildEvents materializes one event per meaningful dimension: content
// additions, content removals, and pricing modification. Significance and
// confidence are fixed policy.
func (d *Detector) buildEvents(entityID string, kind models.EntityKind, result *models.ComparisonResult, observedAt time.Time) []models.ChangeEvent {
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	var events []models.ChangeEvent

	if len(result.AddedItems) > 0 {
		events = append(events, models.ChangeEvent{
			ID:           uuid.NewString(),
			Category:     models.ChangeContent,
			EntityID:     entityID,
			EntityKind:   kind,
			Kind:         models.ChangeAdded,
			Timestamp:    observedAt,
			NewValue:     itemValues(result.AddedItems),
			Confidence:   d.cfg.ContentConfidence,
			Significance: models.SignificanceMedium,
			Description:  fmt.Sprintf("%d new items observed", len(result.AddedItems)),
			Source:       source,
		})
	}

	if len(result.RemovedItems) > 0 {
		events = append(events, models.ChangeEvent{
			ID:           uuid.NewString(),
			Category:     models.ChangeContent,
			EntityID:     entityID,
			EntityKind:   kind,
			Kind:         models.ChangeRemoved,
			Timestamp:    observedAt,
			OldValue:     itemValues(result.RemovedItems),
			Confidence:   d.cfg.ContentConfidence,
			Significance: models.SignificanceMedium,
			Description:  fmt.Sprintf("%d items no longer observed", len(result.RemovedItems)),
			Source:       source,
		})
	}

	for _, mod := range result.ModifiedItems {
		if mod.Type != "pricing" {
			continue
		}
		events = append(events, models.ChangeEvent{
			ID:           uuid.NewString(),
			Category:     models.ChangePricing,
			EntityID:     entityID,
			EntityKind:   kind,
			Kind:         models.ChangeModified,
			Timestamp:    observedAt,
			OldValue:     mod.Old,
			NewValue:     mod.New,
			Confidence:   d.cfg.PricingConfidence,
			Significance: models.SignificanceHigh,
			Description:  "Pricing figures changed",
			Source:       source,
		})
	}

	return events
}

func itemValues(items []models.ChangedItem) []string {
	values := make([]string, 0, len(items))
	for _, item := range items {
		values = append(values, item.Type+":"+item.Value)
	}
	return values
}

func setDiff(prev, curr []string) (added, removed []string) {
	oldSet := make(map[string]struct{}, len(prev))
	for _, v := range prev {
		oldSet[v] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(curr))
	for _, v := range curr {
		newSet[v] = struct{}{}
	}

	for _, v := range curr {
		if _, ok := oldSet[v]; !ok {
			added = append(added, v)
		}
	}
	for _, v := range prev {
		if _, ok := newSet[v]; !ok {
			removed = append(removed, v)
		}
	}
	return added, removed
}

func sameSet(a, b []string) bool {
	added, removed := setDiff(a, b)
	return len(added) == 0 && len(removed) == 0
}

func formatAmounts(amounts []float64) []string {
	out := make([]string, 0, len(amounts))
	for _, a := range amounts {
		out = append(out, strconv.FormatFloat(a, 'f', -1, 64))
	}
	return out
}
