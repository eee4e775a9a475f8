// Package snapshots owns baseline persistence for monitored entities.
// Snapshots are immutable; a newer baseline supersedes, never overwrites.
package snapshots

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/fingerprint"
	"github.com/marketpulse/backend/internal/storage"
	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/logger"
)

type Service struct {
	store           storage.SnapshotStore
	maxContentBytes int
}

func NewService(store storage.SnapshotStore, maxContentBytes int) *Service {
	if maxContentBytes <= 0 {
		maxContentBytes = 65536
	}
	return &Service{
		store:           store,
		maxContentBytes: maxContentBytes,
	}
}

// Create persists a new baseline from an observation. The stored content is
// truncated to the configured cap, but the hash is always computed over the
// full pre-truncation content so the detector's exact-match fast path stays
// correct.
func (s *Service) Create(ctx context.Context, entityID string, kind models.EntityKind, obs *models.Observation) (string, error) {
	hash := fingerprint.Hash(obs.Content)

	content := obs.Content
	truncated := false
	if len(content) > s.maxContentBytes {
		content = content[:s.maxContentBytes]
		truncated = true
	}

	timestamp := obs.ObservedAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	snap := &models.Snapshot{
		ID:          uuid.NewString(),
		EntityID:    entityID,
		EntityKind:  kind,
		Timestamp:   timestamp,
		Content:     content,
		Extracted:   obs.Extracted,
		ContentHash: hash,
	}
	if truncated {
		snap.Metadata = map[string]string{"truncated": "true"}
	}

	if err := s.store.CreateSnapshot(ctx, snap); err != nil {
		return "", fmt.Errorf("failed to create snapshot: %w", err)
	}

	logger.Debug("Baseline snapshot written",
		zap.String("snapshot_id", snap.ID),
		zap.String("entity_id", entityID),
		zap.Bool("truncated", truncated),
	)

	return snap.ID, nil
}

// Latest returns the most recent baseline, or storage.ErrNotFound.
func (s *Service) Latest(ctx context.Context, entityID string, kind models.EntityKind) (*models.Snapshot, error) {
	return s.store.LatestSnapshot(ctx, entityID, kind)
}
