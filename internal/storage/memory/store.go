// Package memory provides an in-memory storage adapter. It implements the
// same seam as the sqlite adapter and backs the component tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marketpulse/backend/internal/storage"
	"github.com/marketpulse/backend/internal/storage/models"
)

type Store struct {
	mu         sync.RWMutex
	snapshots  map[string][]models.Snapshot // keyed by entityID|entityKind
	events     []models.ChangeEvent
	targets    map[string]*models.MonitoringTarget
	rules      map[string]*models.AlertRule
	alerts     map[string]*models.IntelligentAlert
	deliveries map[string]*models.AlertDelivery
	samples    []models.MetricSample
	nextSample int64

	// FailWrites makes every write return ErrStoreUnavailable, for testing
	// the non-fatal persistence paths.
	FailWrites bool
}

func NewStore() *Store {
	return &Store{
		snapshots:  make(map[string][]models.Snapshot),
		targets:    make(map[string]*models.MonitoringTarget),
		rules:      make(map[string]*models.AlertRule),
		alerts:     make(map[string]*models.IntelligentAlert),
		deliveries: make(map[string]*models.AlertDelivery),
	}
}

func snapshotKey(entityID string, kind models.EntityKind) string {
	return entityID + "|" + string(kind)
}

func (s *Store) CreateSnapshot(ctx context.Context, snap *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return storage.ErrStoreUnavailable
	}

	key := snapshotKey(snap.EntityID, snap.EntityKind)
	s.snapshots[key] = append(s.snapshots[key], *snap)
	return nil
}

func (s *Store) LatestSnapshot(ctx context.Context, entityID string, kind models.EntityKind) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snapshots[snapshotKey(entityID, kind)]
	if len(snaps) == 0 {
		return nil, storage.ErrNotFound
	}

	latest := snaps[0]
	for _, snap := range snaps[1:] {
		if snap.Timestamp.After(latest.Timestamp) {
			latest = snap
		}
	}
	return &latest, nil
}

// SnapshotCount reports how many snapshots exist for an entity. Test helper.
func (s *Store) SnapshotCount(entityID string, kind models.EntityKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots[snapshotKey(entityID, kind)])
}

func (s *Store) AppendEvent(ctx context.Context, event *models.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return storage.ErrStoreUnavailable
	}

	s.events = append(s.events, *event)
	return nil
}

func (s *Store) EventsSince(ctx context.Context, category models.ChangeCategory, entityID string, since time.Time) ([]models.ChangeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ChangeEvent
	for _, e := range s.events {
		if e.Timestamp.Before(since) {
			continue
		}
		if category != "" && e.Category != category {
			continue
		}
		if entityID != "" && e.EntityID != entityID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) CreateTarget(ctx context.Context, target *models.MonitoringTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return storage.ErrStoreUnavailable
	}

	cp := *target
	s.targets[target.ID] = &cp
	return nil
}

func (s *Store) ActiveTargets(ctx context.Context) ([]models.MonitoringTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.MonitoringTarget
	for _, t := range s.targets {
		if t.Active {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastChecked.Before(out[j].LastChecked) })
	return out, nil
}

func (s *Store) MarkChecked(ctx context.Context, targetID string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.targets[targetID]
	if !ok {
		return storage.ErrNotFound
	}
	t.LastChecked = when
	return nil
}

func (s *Store) DeactivateTarget(ctx context.Context, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.targets[targetID]
	if !ok {
		return storage.ErrNotFound
	}
	t.Active = false
	return nil
}

func (s *Store) CreateRule(ctx context.Context, rule *models.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return storage.ErrStoreUnavailable
	}

	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

func (s *Store) UpdateRule(ctx context.Context, rule *models.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rules[rule.ID]
	if !ok {
		return storage.ErrNotFound
	}
	cp := *rule
	cp.LastTriggered = existing.LastTriggered
	s.rules[rule.ID] = &cp
	return nil
}

func (s *Store) ActiveRules(ctx context.Context) ([]models.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AlertRule
	for _, r := range s.rules {
		if r.Active {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetLastTriggered(ctx context.Context, ruleID string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[ruleID]
	if !ok {
		return storage.ErrNotFound
	}
	r.LastTriggered = &when
	return nil
}

func (s *Store) CreateAlert(ctx context.Context, alert *models.IntelligentAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return storage.ErrStoreUnavailable
	}

	cp := *alert
	s.alerts[alert.ID] = &cp
	return nil
}

func (s *Store) GetAlert(ctx context.Context, alertID string) (*models.IntelligentAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[alertID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) UpdateAlertStatus(ctx context.Context, alertID string, status models.AlertStatus, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok {
		return storage.ErrNotFound
	}
	a.Status = status
	switch status {
	case models.AlertSent:
		a.SentAt = &when
	case models.AlertAcknowledged:
		a.AcknowledgedAt = &when
	}
	return nil
}

func (s *Store) ListAlerts(ctx context.Context, limit int) ([]models.IntelligentAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.IntelligentAlert
	for _, a := range s.alerts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateDelivery(ctx context.Context, delivery *models.AlertDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return storage.ErrStoreUnavailable
	}

	cp := *delivery
	s.deliveries[delivery.ID] = &cp
	return nil
}

func (s *Store) PendingDeliveries(ctx context.Context, maxAttempts, limit int) ([]models.AlertDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AlertDelivery
	for _, d := range s.deliveries {
		if (d.Status == models.DeliveryPending || d.Status == models.DeliveryFailed) && d.Attempts < maxAttempts {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateDelivery(ctx context.Context, delivery *models.AlertDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deliveries[delivery.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *delivery
	s.deliveries[delivery.ID] = &cp
	return nil
}

func (s *Store) DeliveriesForAlert(ctx context.Context, alertID string) ([]models.AlertDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AlertDelivery
	for _, d := range s.deliveries {
		if d.AlertID == alertID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) RecordSample(ctx context.Context, sample *models.MetricSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return storage.ErrStoreUnavailable
	}

	s.nextSample++
	cp := *sample
	cp.ID = s.nextSample
	s.samples = append(s.samples, cp)
	return nil
}

func (s *Store) SamplesInWindow(ctx context.Context, name string, from, to time.Time) ([]models.MetricSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.MetricSample
	for _, smp := range s.samples {
		if smp.Name != name {
			continue
		}
		if smp.Timestamp.Before(from) || !smp.Timestamp.Before(to) {
			continue
		}
		out = append(out, smp)
	}
	return out, nil
}
