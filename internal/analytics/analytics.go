// Package analytics keeps running counters over the alert pipeline for the
// ops API. All state is in memory; persistence stays with the stores.
package analytics

import (
	"sync"
	"time"

	"github.com/marketpulse/backend/internal/storage/models"
)

type Aggregator struct {
	mu sync.Mutex

	byPriority map[models.Priority]int64
	byCategory map[models.AlertCategory]int64
	byChannel  map[models.Channel]int64

	deliveriesSent   int64
	deliveriesFailed int64

	detections     int64
	changesFound   int64
	rulesTriggered int64
	startedAt      time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		byPriority: make(map[models.Priority]int64),
		byCategory: make(map[models.AlertCategory]int64),
		byChannel:  make(map[models.Channel]int64),
		startedAt:  time.Now(),
	}
}

func (a *Aggregator) RecordAlert(alert *models.IntelligentAlert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byPriority[alert.Priority]++
	a.byCategory[alert.Category]++
}

func (a *Aggregator) RecordDelivery(channel models.Channel, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byChannel[channel]++
	if success {
		a.deliveriesSent++
	} else {
		a.deliveriesFailed++
	}
}

func (a *Aggregator) RecordDetection(changed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detections++
	if changed {
		a.changesFound++
	}
}

func (a *Aggregator) RecordRuleTrigger() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rulesTriggered++
}

// Stats is a point-in-time snapshot of the aggregator.
type Stats struct {
	AlertsByPriority map[models.Priority]int64      `json:"alerts_by_priority"`
	AlertsByCategory map[models.AlertCategory]int64 `json:"alerts_by_category"`
	ByChannel        map[models.Channel]int64       `json:"deliveries_by_channel"`
	DeliveriesSent   int64                          `json:"deliveries_sent"`
	DeliveriesFailed int64                          `json:"deliveries_failed"`
	DeliveryRate     float64                        `json:"delivery_success_rate"`
	Detections       int64                          `json:"detections"`
	ChangesFound     int64                          `json:"changes_found"`
	RulesTriggered   int64                          `json:"rules_triggered"`
	UptimeSeconds    int64                          `json:"uptime_seconds"`
}

func (a *Aggregator) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := Stats{
		AlertsByPriority: make(map[models.Priority]int64, len(a.byPriority)),
		AlertsByCategory: make(map[models.AlertCategory]int64, len(a.byCategory)),
		ByChannel:        make(map[models.Channel]int64, len(a.byChannel)),
		DeliveriesSent:   a.deliveriesSent,
		DeliveriesFailed: a.deliveriesFailed,
		Detections:       a.detections,
		ChangesFound:     a.changesFound,
		RulesTriggered:   a.rulesTriggered,
		UptimeSeconds:    int64(time.Since(a.startedAt).Seconds()),
	}
	for k, v := range a.byPriority {
		stats.AlertsByPriority[k] = v
	}
	for k, v := range a.byCategory {
		stats.AlertsByCategory[k] = v
	}
	for k, v := range a.byChannel {
		stats.ByChannel[k] = v
	}
	if total := a.deliveriesSent + a.deliveriesFailed; total > 0 {
		stats.DeliveryRate = float64(a.deliveriesSent) / float64(total)
	}
	return stats
}
