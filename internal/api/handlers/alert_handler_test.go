package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/backend/internal/analytics"
	"github.com/marketpulse/backend/internal/storage/memory"
	"github.com/marketpulse/backend/internal/storage/models"
)

func newAlertTestApp(store *memory.Store) *fiber.App {
	app := fiber.New()
	h := NewAlertHandler(store, analytics.NewAggregator())
	app.Get("/api/v1/alerts/:id", h.GetAlert)
	app.Post("/api/v1/alerts/:id/ack", h.AcknowledgeAlert)
	return app
}

func storeAlert(t *testing.T, store *memory.Store, id string, status models.AlertStatus) {
	t.Helper()
	err := store.CreateAlert(context.Background(), &models.IntelligentAlert{
		ID:        id,
		Category:  models.AlertPricing,
		Priority:  models.PriorityHigh,
		Title:     "Price drop",
		Message:   "Pro plan dropped 15%",
		Status:    status,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestAcknowledgeSentAlert(t *testing.T) {
	store := memory.NewStore()
	storeAlert(t, store, "alert-1", models.AlertSent)
	app := newAlertTestApp(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/alert-1/ack", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := store.GetAlert(context.Background(), "alert-1")
	require.NoError(t, err)
	assert.Equal(t, models.AlertAcknowledged, got.Status)
	assert.NotNil(t, got.AcknowledgedAt)
}

func TestAcknowledgeFailedAlertRejected(t *testing.T) {
	store := memory.NewStore()
	storeAlert(t, store, "alert-1", models.AlertFailed)
	app := newAlertTestApp(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/alert-1/ack", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	got, err := store.GetAlert(context.Background(), "alert-1")
	require.NoError(t, err)
	assert.Equal(t, models.AlertFailed, got.Status)
	assert.Nil(t, got.AcknowledgedAt)
}

func TestAcknowledgePendingAlertRejected(t *testing.T) {
	store := memory.NewStore()
	storeAlert(t, store, "alert-1", models.AlertPending)
	app := newAlertTestApp(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/alert-1/ack", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	got, err := store.GetAlert(context.Background(), "alert-1")
	require.NoError(t, err)
	assert.Equal(t, models.AlertPending, got.Status)
}

func TestAcknowledgeUnknownAlert(t *testing.T) {
	store := memory.NewStore()
	app := newAlertTestApp(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/missing/ack", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecordSample(t *testing.T) {
	store := memory.NewStore()
	app := fiber.New()
	app.Post("/api/v1/samples", NewSampleHandler(store).RecordSample)

	body := `{"name":"competitor_price","value":42.5,"tags":{"plan":"pro"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/samples", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	now := time.Now().UTC()
	samples, err := store.SamplesInWindow(context.Background(), "competitor_price",
		now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 42.5, samples[0].Value)
	assert.Equal(t, "pro", samples[0].Tags["plan"])
}

func TestRecordSampleWithExplicitTimestamp(t *testing.T) {
	store := memory.NewStore()
	app := fiber.New()
	app.Post("/api/v1/samples", NewSampleHandler(store).RecordSample)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := map[string]any{
		"name":      "review_count",
		"value":     17.0,
		"timestamp": at,
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/samples", strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	samples, err := store.SamplesInWindow(context.Background(), "review_count",
		at.Add(-time.Second), at.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Timestamp.Equal(at))
}

func TestRecordSampleRequiresName(t *testing.T) {
	store := memory.NewStore()
	app := fiber.New()
	app.Post("/api/v1/samples", NewSampleHandler(store).RecordSample)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/samples", strings.NewReader(`{"value":1}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
