package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/backend/internal/storage/memory"
	"github.com/marketpulse/backend/internal/storage/models"
)

func TestAddTargetRequiresEntityID(t *testing.T) {
	reg := New(memory.NewStore())

	_, err := reg.AddTarget(context.Background(), TargetDescriptor{Query: "https://example.com"})
	assert.Error(t, err)
}

func TestAddTargetDefaultsToDaily(t *testing.T) {
	store := memory.NewStore()
	reg := New(store)

	id, err := reg.AddTarget(context.Background(), TargetDescriptor{
		Kind:     models.EntityCompetitor,
		EntityID: "acme",
		Query:    "https://acme.example.com/pricing",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	targets, err := store.ActiveTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, models.FrequencyDaily, targets[0].Frequency)
	assert.True(t, targets[0].Active)
}

func TestDueTargetsRespectsFrequency(t *testing.T) {
	store := memory.NewStore()
	reg := New(store)
	ctx := context.Background()

	id, err := reg.AddTarget(ctx, TargetDescriptor{
		Kind:      models.EntityCompetitor,
		EntityID:  "acme",
		Query:     "https://acme.example.com",
		Frequency: models.FrequencyDaily,
	})
	require.NoError(t, err)

	checked := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, reg.MarkChecked(ctx, id, checked))

	// One hour after a daily check: not due yet.
	due, err := reg.DueTargets(ctx, checked.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)

	// Twenty-five hours after: due.
	due, err = reg.DueTargets(ctx, checked.Add(25*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].ID)
}

func TestDueTargetsNeverChecked(t *testing.T) {
	store := memory.NewStore()
	reg := New(store)
	ctx := context.Background()

	id, err := reg.AddTarget(ctx, TargetDescriptor{
		Kind:      models.EntityProduct,
		EntityID:  "widget",
		Query:     "https://shop.example.com/widget",
		Frequency: models.FrequencyWeekly,
	})
	require.NoError(t, err)

	// A target with no recorded check has a zero LastChecked and is
	// immediately due regardless of frequency.
	due, err := reg.DueTargets(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].ID)
}

func TestDeactivateExcludesTarget(t *testing.T) {
	store := memory.NewStore()
	reg := New(store)
	ctx := context.Background()

	id, err := reg.AddTarget(ctx, TargetDescriptor{
		Kind:      models.EntityKeyword,
		EntityID:  "cloud pricing",
		Query:     "cloud pricing trends",
		Frequency: models.FrequencyHourly,
	})
	require.NoError(t, err)

	require.NoError(t, reg.Deactivate(ctx, id))

	due, err := reg.DueTargets(ctx, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}
