// Package scheduler drives the pipeline's three periodic loops: change
// detection over due targets, alert rule evaluation, and delivery dispatch.
package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/analytics"
	"github.com/marketpulse/backend/internal/delivery"
	"github.com/marketpulse/backend/internal/detector"
	"github.com/marketpulse/backend/internal/metrics"
	"github.com/marketpulse/backend/internal/observe"
	"github.com/marketpulse/backend/internal/registry"
	"github.com/marketpulse/backend/internal/rules"
	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/config"
	"github.com/marketpulse/backend/pkg/logger"
)

// EventIndexer archives change events for later similarity lookups.
// Optional, best effort.
type EventIndexer interface {
	IndexEvent(ctx context.Context, eventID, description, entityID, category string, observedAt time.Time) error
}

// GraphRecorder links change events to their entity in the catalog graph.
// Optional, best effort.
type GraphRecorder interface {
	RecordChange(ctx context.Context, entityID, eventID, category string, when time.Time) error
}

type Scheduler struct {
	registry   *registry.Registry
	source     observe.Source
	detector   *detector.Detector
	engine     *rules.Engine
	dispatcher *delivery.Dispatcher
	stats      *analytics.Aggregator
	indexer    EventIndexer
	graph      GraphRecorder
	cfg        config.PipelineConfig

	wg sync.WaitGroup
}

func New(
	reg *registry.Registry,
	source observe.Source,
	det *detector.Detector,
	engine *rules.Engine,
	dispatcher *delivery.Dispatcher,
	stats *analytics.Aggregator,
	indexer EventIndexer,
	graph GraphRecorder,
	cfg config.PipelineConfig,
) *Scheduler {
	return &Scheduler{
		registry:   reg,
		source:     source,
		detector:   det,
		engine:     engine,
		dispatcher: dispatcher,
		stats:      stats,
		indexer:    indexer,
		graph:      graph,
		cfg:        cfg,
	}
}

// Start launches the loops. They run until ctx is cancelled; Wait blocks
// until they have all drained.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(3)
	go s.detectionLoop(ctx)
	go s.ruleLoop(ctx)
	go s.dispatchLoop(ctx)

	logger.Info("Scheduler started",
		zap.Duration("detection_interval", s.cfg.DetectionInterval),
		zap.Duration("rule_eval_interval", s.cfg.RuleEvalInterval),
		zap.Duration("dispatch_interval", s.cfg.DispatchInterval),
	)
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) detectionLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.DetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDetectionPass(ctx)
		}
	}
}

// runDetectionPass observes every due target with bounded concurrency.
func (s *Scheduler) runDetectionPass(ctx context.Context) {
	now := time.Now()
	due, err := s.registry.DueTargets(ctx, now)
	if err != nil {
		logger.Error("Failed to load due targets", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	logger.Debug("Detection pass starting", zap.Int("due_targets", len(due)))

	concurrency := s.cfg.DetectionConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := range due {
		target := due[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.checkTarget(ctx, &target)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) checkTarget(ctx context.Context, target *models.MonitoringTarget) {
	start := time.Now()

	obs, err := s.source.Observe(ctx, target)
	if err != nil {
		metrics.ObservationsFetched.WithLabelValues("error").Inc()
		logger.Warn("Observation failed",
			zap.String("target_id", target.ID),
			zap.Error(err),
		)
		return
	}
	metrics.ObservationsFetched.WithLabelValues("ok").Inc()

	result, err := s.detector.DetectChanges(ctx, target.EntityID, target.Kind, obs)
	if err != nil {
		logger.Error("Change detection failed",
			zap.String("target_id", target.ID),
			zap.Error(err),
		)
		return
	}

	metrics.DetectionDuration.WithLabelValues(string(target.Kind)).Observe(time.Since(start).Seconds())
	metrics.DetectionsTotal.WithLabelValues(string(target.Kind), strconv.FormatBool(result.HasChanges)).Inc()
	metrics.SimilarityScore.Observe(result.Similarity)
	for _, event := range result.Changes {
		metrics.ChangeEventsTotal.WithLabelValues(string(event.Category), string(event.Significance)).Inc()
		if s.indexer != nil {
			if err := s.indexer.IndexEvent(ctx, event.ID, event.Description, event.EntityID, string(event.Category), event.Timestamp); err != nil {
				logger.Debug("Failed to archive change event", zap.String("event_id", event.ID), zap.Error(err))
			}
		}
		if s.graph != nil {
			if err := s.graph.RecordChange(ctx, event.EntityID, event.ID, string(event.Category), event.Timestamp); err != nil {
				logger.Debug("Failed to record change in catalog", zap.String("event_id", event.ID), zap.Error(err))
			}
		}
	}
	s.stats.RecordDetection(result.HasChanges)

	if err := s.registry.MarkChecked(ctx, target.ID, time.Now()); err != nil {
		logger.Error("Failed to mark target checked",
			zap.String("target_id", target.ID),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) ruleLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RuleEvalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcomes := s.engine.EvaluateAll(ctx, time.Now())
			for _, outcome := range outcomes {
				metrics.RulesEvaluated.Inc()
				metrics.RuleOutcomes.WithLabelValues(string(outcome)).Inc()
				if outcome == rules.OutcomeTriggered {
					s.stats.RecordRuleTrigger()
				}
			}
		}
	}
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatcher.DispatchPending(ctx)
		}
	}
}
