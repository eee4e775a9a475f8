// Package storage defines the persistence seam between the pipeline workers.
// The detection, rule-evaluation, and dispatch loops communicate only through
// these interfaces; internal/storage/sqlite is the durable adapter and
// internal/storage/memory backs tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/marketpulse/backend/internal/storage/models"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStoreUnavailable indicates the backing store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, snap *models.Snapshot) error
	LatestSnapshot(ctx context.Context, entityID string, kind models.EntityKind) (*models.Snapshot, error)
}

type ChangeEventStore interface {
	AppendEvent(ctx context.Context, event *models.ChangeEvent) error
	EventsSince(ctx context.Context, category models.ChangeCategory, entityID string, since time.Time) ([]models.ChangeEvent, error)
}

type TargetStore interface {
	CreateTarget(ctx context.Context, target *models.MonitoringTarget) error
	ActiveTargets(ctx context.Context) ([]models.MonitoringTarget, error)
	MarkChecked(ctx context.Context, targetID string, when time.Time) error
	DeactivateTarget(ctx context.Context, targetID string) error
}

type RuleStore interface {
	CreateRule(ctx context.Context, rule *models.AlertRule) error
	UpdateRule(ctx context.Context, rule *models.AlertRule) error
	ActiveRules(ctx context.Context) ([]models.AlertRule, error)
	SetLastTriggered(ctx context.Context, ruleID string, when time.Time) error
}

type AlertStore interface {
	CreateAlert(ctx context.Context, alert *models.IntelligentAlert) error
	GetAlert(ctx context.Context, alertID string) (*models.IntelligentAlert, error)
	UpdateAlertStatus(ctx context.Context, alertID string, status models.AlertStatus, when time.Time) error
	ListAlerts(ctx context.Context, limit int) ([]models.IntelligentAlert, error)
}

type DeliveryStore interface {
	CreateDelivery(ctx context.Context, delivery *models.AlertDelivery) error
	PendingDeliveries(ctx context.Context, maxAttempts, limit int) ([]models.AlertDelivery, error)
	UpdateDelivery(ctx context.Context, delivery *models.AlertDelivery) error
	DeliveriesForAlert(ctx context.Context, alertID string) ([]models.AlertDelivery, error)
}

type MetricSampleStore interface {
	RecordSample(ctx context.Context, sample *models.MetricSample) error
	SamplesInWindow(ctx context.Context, name string, from, to time.Time) ([]models.MetricSample, error)
}

// Store aggregates every persistence concern the pipeline touches.
type Store interface {
	SnapshotStore
	ChangeEventStore
	TargetStore
	RuleStore
	AlertStore
	DeliveryStore
	MetricSampleStore
}
