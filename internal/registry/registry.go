// Package registry tracks what to watch and when it is next due. Due-ness is
// a pure function of stored state and the supplied clock; the caller drives
// polling.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/metrics"
	"github.com/marketpulse/backend/internal/storage"
	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/logger"
)

type Registry struct {
	store storage.TargetStore
}

func New(store storage.TargetStore) *Registry {
	return &Registry{store: store}
}

// TargetDescriptor is the operator-supplied definition of a new target.
type TargetDescriptor struct {
	Kind           models.EntityKind
	EntityID       string
	Query          string
	Frequency      models.CheckFrequency
	AlertThreshold float64
	Metadata       map[string]string
}

func (r *Registry) AddTarget(ctx context.Context, desc TargetDescriptor) (string, error) {
	if desc.EntityID == "" {
		return "", fmt.Errorf("target entity id is required")
	}
	if desc.Frequency == "" {
		desc.Frequency = models.FrequencyDaily
	}

	target := &models.MonitoringTarget{
		ID:             uuid.NewString(),
		Kind:           desc.Kind,
		EntityID:       desc.EntityID,
		Query:          desc.Query,
		Frequency:      desc.Frequency,
		Active:         true,
		AlertThreshold: desc.AlertThreshold,
		Metadata:       desc.Metadata,
		CreatedAt:      time.Now(),
	}

	if err := r.store.CreateTarget(ctx, target); err != nil {
		return "", fmt.Errorf("failed to add target: %w", err)
	}

	metrics.TargetsActive.Inc()
	logger.Info("Monitoring target registered",
		zap.String("target_id", target.ID),
		zap.String("entity_id", target.EntityID),
		zap.String("frequency", string(target.Frequency)),
	)

	return target.ID, nil
}

// DueTargets returns active targets whose check interval has elapsed,
// oldest-checked first.
func (r *Registry) DueTargets(ctx context.Context, now time.Time) ([]models.MonitoringTarget, error) {
	targets, err := r.store.ActiveTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load targets: %w", err)
	}

	var due []models.MonitoringTarget
	for _, t := range targets {
		if now.Sub(t.LastChecked) >= t.Frequency.Interval() {
			due = append(due, t)
		}
	}
	return due, nil
}

func (r *Registry) MarkChecked(ctx context.Context, targetID string, when time.Time) error {
	if err := r.store.MarkChecked(ctx, targetID, when); err != nil {
		return fmt.Errorf("failed to mark target checked: %w", err)
	}
	return nil
}

// Deactivate retires a target. Targets are never deleted.
func (r *Registry) Deactivate(ctx context.Context, targetID string) error {
	if err := r.store.DeactivateTarget(ctx, targetID); err != nil {
		return fmt.Errorf("failed to deactivate target: %w", err)
	}
	metrics.TargetsActive.Dec()
	return nil
}
