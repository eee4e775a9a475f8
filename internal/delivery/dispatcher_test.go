package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/backend/internal/storage/memory"
	"github.com/marketpulse/backend/internal/storage/models"
)

type fakeSender struct {
	err   error
	calls []string
}

func (f *fakeSender) Send(ctx context.Context, alert *models.IntelligentAlert, recipient string) error {
	f.calls = append(f.calls, recipient)
	return f.err
}

func seedAlert(t *testing.T, store *memory.Store, channels []models.Channel, recipients []string) *models.IntelligentAlert {
	t.Helper()
	ctx := context.Background()

	alert := &models.IntelligentAlert{
		ID:         "alert-1",
		Category:   models.AlertPricing,
		Priority:   models.PriorityHigh,
		Title:      "Price drop",
		Message:    "Pro plan dropped 15%",
		Channels:   channels,
		Recipients: recipients,
		Status:     models.AlertPending,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.CreateAlert(ctx, alert))

	n := 0
	for _, ch := range channels {
		for _, r := range recipients {
			n++
			require.NoError(t, store.CreateDelivery(ctx, &models.AlertDelivery{
				ID:        alert.ID + "-" + string(ch) + "-" + r,
				AlertID:   alert.ID,
				Channel:   ch,
				Recipient: r,
				Status:    models.DeliveryPending,
				CreatedAt: time.Now(),
			}))
		}
	}
	require.Positive(t, n)
	return alert
}

func TestDispatchSendsAndRollsUp(t *testing.T) {
	store := memory.NewStore()
	alert := seedAlert(t, store, []models.Channel{models.ChannelEmail}, []string{"ops@marketpulse.io"})

	sender := &fakeSender{}
	d := NewDispatcher(store, store, map[models.Channel]Sender{models.ChannelEmail: sender}, nil, 3, 50)

	result := d.DispatchPending(context.Background())
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, []string{"ops@marketpulse.io"}, sender.calls)

	got, err := store.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertSent, got.Status)
	require.NotNil(t, got.SentAt)

	deliveries, err := store.DeliveriesForAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, models.DeliverySent, deliveries[0].Status)
	assert.Equal(t, 1, deliveries[0].Attempts)
}

func TestDispatchRetriesUntilAttemptCap(t *testing.T) {
	store := memory.NewStore()
	alert := seedAlert(t, store, []models.Channel{models.ChannelSlack}, []string{"#alerts"})

	sender := &fakeSender{err: errors.New("webhook 500")}
	d := NewDispatcher(store, store, map[models.Channel]Sender{models.ChannelSlack: sender}, nil, 3, 50)
	ctx := context.Background()

	// First two passes leave the delivery pending for retry.
	for i := 0; i < 2; i++ {
		result := d.DispatchPending(ctx)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, 0, result.Exhausted)

		got, err := store.GetAlert(ctx, alert.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AlertPending, got.Status)
	}

	// Third pass exhausts the attempts.
	result := d.DispatchPending(ctx)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Exhausted)
	assert.Len(t, sender.calls, 3)

	deliveries, err := store.DeliveriesForAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, models.DeliveryFailed, deliveries[0].Status)
	assert.Equal(t, "webhook 500", deliveries[0].Error)

	got, err := store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertFailed, got.Status)

	// Exhausted deliveries drop out of the queue.
	result = d.DispatchPending(ctx)
	assert.Equal(t, 0, result.Sent+result.Failed)
}

func TestPartialFailureStillMarksAlertSent(t *testing.T) {
	store := memory.NewStore()
	alert := seedAlert(t, store,
		[]models.Channel{models.ChannelEmail, models.ChannelSMS},
		[]string{"ops@marketpulse.io"},
	)

	senders := map[models.Channel]Sender{
		models.ChannelEmail: &fakeSender{},
		models.ChannelSMS:   &fakeSender{err: errors.New("twilio rejected")},
	}
	d := NewDispatcher(store, store, senders, nil, 1, 50)

	result := d.DispatchPending(context.Background())
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Failed)

	got, err := store.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertSent, got.Status)
}

func TestMissingSenderFailsDeliveryOutright(t *testing.T) {
	store := memory.NewStore()
	alert := seedAlert(t, store, []models.Channel{models.ChannelWebhook}, []string{"https://hooks.example.com/a"})

	d := NewDispatcher(store, store, map[models.Channel]Sender{}, nil, 3, 50)

	result := d.DispatchPending(context.Background())
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Exhausted)

	deliveries, err := store.DeliveriesForAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, models.DeliveryFailed, deliveries[0].Status)
}

func TestAcknowledgedAlertNotOverwritten(t *testing.T) {
	store := memory.NewStore()
	alert := seedAlert(t, store, []models.Channel{models.ChannelEmail}, []string{"ops@marketpulse.io"})
	ctx := context.Background()

	require.NoError(t, store.UpdateAlertStatus(ctx, alert.ID, models.AlertAcknowledged, time.Now()))

	sender := &fakeSender{}
	d := NewDispatcher(store, store, map[models.Channel]Sender{models.ChannelEmail: sender}, nil, 3, 50)
	d.DispatchPending(ctx)

	got, err := store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertAcknowledged, got.Status)
}
