package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/storage"
	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}
	return nil
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		entity_kind TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		content TEXT NOT NULL,
		extracted TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_entity ON snapshots(entity_id, entity_kind, timestamp);

	CREATE TABLE IF NOT EXISTS change_events (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		entity_kind TEXT NOT NULL,
		kind TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		old_value TEXT,
		new_value TEXT,
		confidence REAL NOT NULL,
		significance TEXT NOT NULL,
		description TEXT,
		source TEXT,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_entity ON change_events(entity_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_category ON change_events(category, timestamp);

	CREATE TABLE IF NOT EXISTS monitoring_targets (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		query TEXT,
		frequency TEXT NOT NULL,
		last_checked INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		alert_threshold REAL,
		metadata TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_targets_active ON monitoring_targets(active, last_checked);

	CREATE TABLE IF NOT EXISTS alert_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		category TEXT NOT NULL,
		base_priority TEXT NOT NULL,
		condition TEXT NOT NULL,
		threshold TEXT NOT NULL,
		frequency TEXT NOT NULL,
		channels TEXT NOT NULL,
		subscribers TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		last_triggered INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_rules_active ON alert_rules(active);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		priority TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT,
		context TEXT NOT NULL,
		insights TEXT,
		channels TEXT NOT NULL,
		recipients TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		sent_at INTEGER,
		acknowledged_at INTEGER,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status, created_at);

	CREATE TABLE IF NOT EXISTS alert_deliveries (
		id TEXT PRIMARY KEY,
		alert_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		recipient TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		sent_at INTEGER,
		error TEXT,
		FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_status ON alert_deliveries(status, attempts);
	CREATE INDEX IF NOT EXISTS idx_deliveries_alert ON alert_deliveries(alert_id);

	CREATE TABLE IF NOT EXISTS metric_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		metric_name TEXT NOT NULL,
		metric_value REAL NOT NULL,
		tags TEXT,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_samples_name ON metric_samples(metric_name, timestamp);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) CreateSnapshot(ctx context.Context, snap *models.Snapshot) error {
	extractedJSON, _ := json.Marshal(snap.Extracted)
	metadataJSON, _ := json.Marshal(snap.Metadata)

	query := `
		INSERT INTO snapshots (id, entity_id, entity_kind, timestamp, content, extracted, content_hash, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		snap.ID,
		snap.EntityID,
		string(snap.EntityKind),
		snap.Timestamp.Unix(),
		snap.Content,
		string(extractedJSON),
		snap.ContentHash,
		string(metadataJSON),
	)

	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	logger.Debug("Snapshot persisted",
		zap.String("snapshot_id", snap.ID),
		zap.String("entity_id", snap.EntityID),
	)
	return nil
}

func (c *Client) LatestSnapshot(ctx context.Context, entityID string, kind models.EntityKind) (*models.Snapshot, error) {
	query := `
		SELECT id, entity_id, entity_kind, timestamp, content, extracted, content_hash, metadata
		FROM snapshots
		WHERE entity_id = ? AND entity_kind = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var snap models.Snapshot
	var timestamp int64
	var entityKind, extractedJSON, metadataJSON string

	err := c.db.QueryRowContext(ctx, query, entityID, string(kind)).Scan(
		&snap.ID,
		&snap.EntityID,
		&entityKind,
		&timestamp,
		&snap.Content,
		&extractedJSON,
		&snap.ContentHash,
		&metadataJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	snap.EntityKind = models.EntityKind(entityKind)
	snap.Timestamp = time.Unix(timestamp, 0)
	json.Unmarshal([]byte(extractedJSON), &snap.Extracted)
	json.Unmarshal([]byte(metadataJSON), &snap.Metadata)

	return &snap, nil
}

func (c *Client) AppendEvent(ctx context.Context, event *models.ChangeEvent) error {
	oldJSON, _ := json.Marshal(event.OldValue)
	newJSON, _ := json.Marshal(event.NewValue)
	metadataJSON, _ := json.Marshal(event.Metadata)

	query := `
		INSERT INTO change_events (id, category, entity_id, entity_kind, kind, timestamp,
			old_value, new_value, confidence, significance, description, source, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		event.ID,
		string(event.Category),
		event.EntityID,
		string(event.EntityKind),
		string(event.Kind),
		event.Timestamp.Unix(),
		string(oldJSON),
		string(newJSON),
		event.Confidence,
		string(event.Significance),
		event.Description,
		event.Source,
		string(metadataJSON),
	)

	if err != nil {
		return fmt.Errorf("failed to insert change event: %w", err)
	}

	return nil
}

func (c *Client) EventsSince(ctx context.Context, category models.ChangeCategory, entityID string, since time.Time) ([]models.ChangeEvent, error) {
	query := `
		SELECT id, category, entity_id, entity_kind, kind, timestamp,
			old_value, new_value, confidence, significance, description, source, metadata
		FROM change_events
		WHERE timestamp >= ?
	`
	args := []interface{}{since.Unix()}

	if category != "" {
		query += " AND category = ?"
		args = append(args, string(category))
	}
	if entityID != "" {
		query += " AND entity_id = ?"
		args = append(args, entityID)
	}
	query += " ORDER BY timestamp ASC"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query change events: %w", err)
	}
	defer rows.Close()

	var events []models.ChangeEvent
	for rows.Next() {
		var e models.ChangeEvent
		var timestamp int64
		var cat, kind, entityKind, significance, oldJSON, newJSON, metadataJSON string

		err := rows.Scan(&e.ID, &cat, &e.EntityID, &entityKind, &kind, &timestamp,
			&oldJSON, &newJSON, &e.Confidence, &significance, &e.Description, &e.Source, &metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		e.Category = models.ChangeCategory(cat)
		e.EntityKind = models.EntityKind(entityKind)
		e.Kind = models.ChangeKind(kind)
		e.Significance = models.Significance(significance)
		e.Timestamp = time.Unix(timestamp, 0)
		json.Unmarshal([]byte(oldJSON), &e.OldValue)
		json.Unmarshal([]byte(newJSON), &e.NewValue)
		json.Unmarshal([]byte(metadataJSON), &e.Metadata)
		events = append(events, e)
	}

	return events, nil
}

func (c *Client) CreateTarget(ctx context.Context, target *models.MonitoringTarget) error {
	metadataJSON, _ := json.Marshal(target.Metadata)

	query := `
		INSERT INTO monitoring_targets (id, kind, entity_id, query, frequency, last_checked,
			active, alert_threshold, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	active := 0
	if target.Active {
		active = 1
	}

	_, err := c.db.ExecContext(ctx, query,
		target.ID,
		string(target.Kind),
		target.EntityID,
		target.Query,
		string(target.Frequency),
		target.LastChecked.Unix(),
		active,
		target.AlertThreshold,
		string(metadataJSON),
		target.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert monitoring target: %w", err)
	}

	logger.Info("Monitoring target created",
		zap.String("target_id", target.ID),
		zap.String("entity_id", target.EntityID),
		zap.String("frequency", string(target.Frequency)),
	)
	return nil
}

func (c *Client) ActiveTargets(ctx context.Context) ([]models.MonitoringTarget, error) {
	query := `
		SELECT id, kind, entity_id, query, frequency, last_checked, alert_threshold, metadata, created_at
		FROM monitoring_targets
		WHERE active = 1
		ORDER BY last_checked ASC
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitoring targets: %w", err)
	}
	defer rows.Close()

	var targets []models.MonitoringTarget
	for rows.Next() {
		var t models.MonitoringTarget
		var kind, frequency, metadataJSON string
		var lastChecked, createdAt int64

		err := rows.Scan(&t.ID, &kind, &t.EntityID, &t.Query, &frequency,
			&lastChecked, &t.AlertThreshold, &metadataJSON, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		t.Kind = models.EntityKind(kind)
		t.Frequency = models.CheckFrequency(frequency)
		t.LastChecked = time.Unix(lastChecked, 0)
		t.CreatedAt = time.Unix(createdAt, 0)
		t.Active = true
		json.Unmarshal([]byte(metadataJSON), &t.Metadata)
		targets = append(targets, t)
	}

	return targets, nil
}

func (c *Client) MarkChecked(ctx context.Context, targetID string, when time.Time) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE monitoring_targets SET last_checked = ? WHERE id = ?`,
		when.Unix(), targetID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark target checked: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c *Client) DeactivateTarget(ctx context.Context, targetID string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE monitoring_targets SET active = 0 WHERE id = ?`,
		targetID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c *Client) CreateRule(ctx context.Context, rule *models.AlertRule) error {
	conditionJSON, _ := json.Marshal(rule.Condition)
	thresholdJSON, _ := json.Marshal(rule.Threshold)
	frequencyJSON, _ := json.Marshal(rule.Frequency)
	channelsJSON, _ := json.Marshal(rule.Channels)
	subscribersJSON, _ := json.Marshal(rule.Subscribers)

	query := `
		INSERT INTO alert_rules (id, name, description, category, base_priority, condition,
			threshold, frequency, channels, subscribers, active, created_at, last_triggered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	active := 0
	if rule.Active {
		active = 1
	}

	var lastTriggered interface{}
	if rule.LastTriggered != nil {
		lastTriggered = rule.LastTriggered.Unix()
	}

	_, err := c.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		string(rule.Category),
		string(rule.BasePriority),
		string(conditionJSON),
		string(thresholdJSON),
		string(frequencyJSON),
		string(channelsJSON),
		string(subscribersJSON),
		active,
		rule.CreatedAt.Unix(),
		lastTriggered,
	)

	if err != nil {
		return fmt.Errorf("failed to insert alert rule: %w", err)
	}

	logger.Info("Alert rule created",
		zap.String("rule_id", rule.ID),
		zap.String("name", rule.Name),
	)
	return nil
}

func (c *Client) UpdateRule(ctx context.Context, rule *models.AlertRule) error {
	conditionJSON, _ := json.Marshal(rule.Condition)
	thresholdJSON, _ := json.Marshal(rule.Threshold)
	frequencyJSON, _ := json.Marshal(rule.Frequency)
	channelsJSON, _ := json.Marshal(rule.Channels)
	subscribersJSON, _ := json.Marshal(rule.Subscribers)

	active := 0
	if rule.Active {
		active = 1
	}

	query := `
		UPDATE alert_rules SET name = ?, description = ?, category = ?, base_priority = ?,
			condition = ?, threshold = ?, frequency = ?, channels = ?, subscribers = ?, active = ?
		WHERE id = ?
	`

	res, err := c.db.ExecContext(ctx, query,
		rule.Name,
		rule.Description,
		string(rule.Category),
		string(rule.BasePriority),
		string(conditionJSON),
		string(thresholdJSON),
		string(frequencyJSON),
		string(channelsJSON),
		string(subscribersJSON),
		active,
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c *Client) ActiveRules(ctx context.Context) ([]models.AlertRule, error) {
	query := `
		SELECT id, name, description, category, base_priority, condition, threshold,
			frequency, channels, subscribers, created_at, last_triggered
		FROM alert_rules
		WHERE active = 1
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert rules: %w", err)
	}
	defer rows.Close()

	var rules []models.AlertRule
	for rows.Next() {
		var r models.AlertRule
		var category, priority, conditionJSON, thresholdJSON, frequencyJSON, channelsJSON, subscribersJSON string
		var createdAt int64
		var lastTriggered sql.NullInt64

		err := rows.Scan(&r.ID, &r.Name, &r.Description, &category, &priority,
			&conditionJSON, &thresholdJSON, &frequencyJSON, &channelsJSON, &subscribersJSON,
			&createdAt, &lastTriggered)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Category = models.AlertCategory(category)
		r.BasePriority = models.Priority(priority)
		r.CreatedAt = time.Unix(createdAt, 0)
		r.Active = true
		json.Unmarshal([]byte(conditionJSON), &r.Condition)
		json.Unmarshal([]byte(thresholdJSON), &r.Threshold)
		json.Unmarshal([]byte(frequencyJSON), &r.Frequency)
		json.Unmarshal([]byte(channelsJSON), &r.Channels)
		json.Unmarshal([]byte(subscribersJSON), &r.Subscribers)
		if lastTriggered.Valid {
			t := time.Unix(lastTriggered.Int64, 0)
			r.LastTriggered = &t
		}
		rules = append(rules, r)
	}

	return rules, nil
}

func (c *Client) SetLastTriggered(ctx context.Context, ruleID string, when time.Time) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE alert_rules SET last_triggered = ? WHERE id = ?`,
		when.Unix(), ruleID,
	)
	if err != nil {
		return fmt.Errorf("failed to set last triggered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c *Client) CreateAlert(ctx context.Context, alert *models.IntelligentAlert) error {
	contextJSON, _ := json.Marshal(alert.Context)
	insightsJSON, _ := json.Marshal(alert.Insights)
	channelsJSON, _ := json.Marshal(alert.Channels)
	recipientsJSON, _ := json.Marshal(alert.Recipients)
	metadataJSON, _ := json.Marshal(alert.Metadata)

	query := `
		INSERT INTO alerts (id, category, priority, title, message, context, insights,
			channels, recipients, status, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		alert.ID,
		string(alert.Category),
		string(alert.Priority),
		alert.Title,
		alert.Message,
		string(contextJSON),
		string(insightsJSON),
		string(channelsJSON),
		string(recipientsJSON),
		string(alert.Status),
		alert.CreatedAt.Unix(),
		string(metadataJSON),
	)

	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	logger.Info("Alert persisted",
		zap.String("alert_id", alert.ID),
		zap.String("priority", string(alert.Priority)),
		zap.String("category", string(alert.Category)),
	)
	return nil
}

func (c *Client) GetAlert(ctx context.Context, alertID string) (*models.IntelligentAlert, error) {
	query := `
		SELECT id, category, priority, title, message, context, insights, channels,
			recipients, status, created_at, sent_at, acknowledged_at, metadata
		FROM alerts
		WHERE id = ?
	`

	a, err := scanAlert(c.db.QueryRowContext(ctx, query, alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*models.IntelligentAlert, error) {
	var a models.IntelligentAlert
	var category, priority, status, contextJSON, insightsJSON, channelsJSON, recipientsJSON, metadataJSON string
	var createdAt int64
	var sentAt, acknowledgedAt sql.NullInt64

	err := row.Scan(&a.ID, &category, &priority, &a.Title, &a.Message,
		&contextJSON, &insightsJSON, &channelsJSON, &recipientsJSON,
		&status, &createdAt, &sentAt, &acknowledgedAt, &metadataJSON)
	if err != nil {
		return nil, err
	}

	a.Category = models.AlertCategory(category)
	a.Priority = models.Priority(priority)
	a.Status = models.AlertStatus(status)
	a.CreatedAt = time.Unix(createdAt, 0)
	json.Unmarshal([]byte(contextJSON), &a.Context)
	json.Unmarshal([]byte(insightsJSON), &a.Insights)
	json.Unmarshal([]byte(channelsJSON), &a.Channels)
	json.Unmarshal([]byte(recipientsJSON), &a.Recipients)
	json.Unmarshal([]byte(metadataJSON), &a.Metadata)
	if sentAt.Valid {
		t := time.Unix(sentAt.Int64, 0)
		a.SentAt = &t
	}
	if acknowledgedAt.Valid {
		t := time.Unix(acknowledgedAt.Int64, 0)
		a.AcknowledgedAt = &t
	}
	return &a, nil
}

func (c *Client) UpdateAlertStatus(ctx context.Context, alertID string, status models.AlertStatus, when time.Time) error {
	var query string
	switch status {
	case models.AlertSent:
		query = `UPDATE alerts SET status = ?, sent_at = ? WHERE id = ?`
	case models.AlertAcknowledged:
		query = `UPDATE alerts SET status = ?, acknowledged_at = ? WHERE id = ?`
	default:
		res, err := c.db.ExecContext(ctx, `UPDATE alerts SET status = ? WHERE id = ?`, string(status), alertID)
		if err != nil {
			return fmt.Errorf("failed to update alert status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		return nil
	}

	res, err := c.db.ExecContext(ctx, query, string(status), when.Unix(), alertID)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c *Client) ListAlerts(ctx context.Context, limit int) ([]models.IntelligentAlert, error) {
	query := `
		SELECT id, category, priority, title, message, context, insights, channels,
			recipients, status, created_at, sent_at, acknowledged_at, metadata
		FROM alerts
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.IntelligentAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		alerts = append(alerts, *a)
	}

	return alerts, nil
}

func (c *Client) CreateDelivery(ctx context.Context, delivery *models.AlertDelivery) error {
	query := `
		INSERT INTO alert_deliveries (id, alert_id, channel, recipient, status, attempts,
			created_at, updated_at, sent_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var sentAt interface{}
	if delivery.SentAt != nil {
		sentAt = delivery.SentAt.Unix()
	}

	_, err := c.db.ExecContext(ctx, query,
		delivery.ID,
		delivery.AlertID,
		string(delivery.Channel),
		delivery.Recipient,
		string(delivery.Status),
		delivery.Attempts,
		delivery.CreatedAt.Unix(),
		delivery.UpdatedAt.Unix(),
		sentAt,
		delivery.Error,
	)

	if err != nil {
		return fmt.Errorf("failed to insert delivery: %w", err)
	}

	return nil
}

func (c *Client) PendingDeliveries(ctx context.Context, maxAttempts, limit int) ([]models.AlertDelivery, error) {
	query := `
		SELECT id, alert_id, channel, recipient, status, attempts, created_at, updated_at, sent_at, error
		FROM alert_deliveries
		WHERE status IN ('pending', 'failed') AND attempts < ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending deliveries: %w", err)
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

func (c *Client) DeliveriesForAlert(ctx context.Context, alertID string) ([]models.AlertDelivery, error) {
	query := `
		SELECT id, alert_id, channel, recipient, status, attempts, created_at, updated_at, sent_at, error
		FROM alert_deliveries
		WHERE alert_id = ?
		ORDER BY created_at ASC
	`

	rows, err := c.db.QueryContext(ctx, query, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

func scanDeliveries(rows *sql.Rows) ([]models.AlertDelivery, error) {
	var deliveries []models.AlertDelivery
	for rows.Next() {
		var d models.AlertDelivery
		var channel, status string
		var createdAt, updatedAt int64
		var sentAt sql.NullInt64

		err := rows.Scan(&d.ID, &d.AlertID, &channel, &d.Recipient, &status,
			&d.Attempts, &createdAt, &updatedAt, &sentAt, &d.Error)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		d.Channel = models.Channel(channel)
		d.Status = models.DeliveryStatus(status)
		d.CreatedAt = time.Unix(createdAt, 0)
		d.UpdatedAt = time.Unix(updatedAt, 0)
		if sentAt.Valid {
			t := time.Unix(sentAt.Int64, 0)
			d.SentAt = &t
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

func (c *Client) UpdateDelivery(ctx context.Context, delivery *models.AlertDelivery) error {
	var sentAt interface{}
	if delivery.SentAt != nil {
		sentAt = delivery.SentAt.Unix()
	}

	query := `
		UPDATE alert_deliveries SET status = ?, attempts = ?, updated_at = ?, sent_at = ?, error = ?
		WHERE id = ?
	`

	res, err := c.db.ExecContext(ctx, query,
		string(delivery.Status),
		delivery.Attempts,
		delivery.UpdatedAt.Unix(),
		sentAt,
		delivery.Error,
		delivery.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update delivery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c *Client) RecordSample(ctx context.Context, sample *models.MetricSample) error {
	tagsJSON, _ := json.Marshal(sample.Tags)

	query := `INSERT INTO metric_samples (metric_name, metric_value, tags, timestamp) VALUES (?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		sample.Name, sample.Value, string(tagsJSON), sample.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("failed to record metric sample: %w", err)
	}

	return nil
}

func (c *Client) SamplesInWindow(ctx context.Context, name string, from, to time.Time) ([]models.MetricSample, error) {
	query := `
		SELECT id, metric_name, metric_value, tags, timestamp
		FROM metric_samples
		WHERE metric_name = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC
	`

	rows, err := c.db.QueryContext(ctx, query, name, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query metric samples: %w", err)
	}
	defer rows.Close()

	var samples []models.MetricSample
	for rows.Next() {
		var s models.MetricSample
		var tagsJSON string
		var timestamp int64

		err := rows.Scan(&s.ID, &s.Name, &s.Value, &tagsJSON, &timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		s.Timestamp = time.Unix(timestamp, 0)
		json.Unmarshal([]byte(tagsJSON), &s.Tags)
		samples = append(samples, s)
	}

	return samples, nil
}
