package models

import "time"

type EntityKind string

const (
	EntityCompetitor EntityKind = "competitor"
	EntityProduct    EntityKind = "product"
	EntityKeyword    EntityKind = "keyword"
	EntityIndustry   EntityKind = "industry"
)

type CheckFrequency string

const (
	FrequencyHourly CheckFrequency = "hourly"
	FrequencyDaily  CheckFrequency = "daily"
	FrequencyWeekly CheckFrequency = "weekly"
)

// Interval returns the wall-clock spacing implied by the check frequency.
func (f CheckFrequency) Interval() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyWeekly:
		return 168 * time.Hour
	default:
		return 24 * time.Hour
	}
}

type MonitoringTarget struct {
	ID             string
	Kind           EntityKind
	EntityID       string
	Query          string
	Frequency      CheckFrequency
	LastChecked    time.Time
	Active         bool
	AlertThreshold float64
	Metadata       map[string]string
	CreatedAt      time.Time
}

// PricingInfo holds the pricing figures extracted from observed content.
type PricingInfo struct {
	Amounts    []float64
	Currencies []string
	Plans      []string
}

// ExtractedFields are the structured fields pulled out of a raw observation.
type ExtractedFields struct {
	URLs          []string
	Keywords      []string
	Pricing       PricingInfo
	SocialHandles []string
}

// Observation is a point-in-time capture of an entity's external signals,
// supplied by the observation source. Content is untrusted and size-unbounded
// until the snapshot store caps it.
type Observation struct {
	Content    string
	Extracted  ExtractedFields
	ObservedAt time.Time
}

// Snapshot is an immutable timestamped baseline. Superseded, never mutated.
type Snapshot struct {
	ID          string
	EntityID    string
	EntityKind  EntityKind
	Timestamp   time.Time
	Content     string
	Extracted   ExtractedFields
	ContentHash string
	Metadata    map[string]string
}

type ChangeCategory string

const (
	ChangeCompetitor ChangeCategory = "competitor"
	ChangeProduct    ChangeCategory = "product"
	ChangePricing    ChangeCategory = "pricing"
	ChangeContent    ChangeCategory = "content"
	ChangeRanking    ChangeCategory = "ranking"
)

type ChangeKind string

const (
	ChangeAdded        ChangeKind = "added"
	ChangeModified     ChangeKind = "modified"
	ChangeRemoved      ChangeKind = "removed"
	ChangeStatusChange ChangeKind = "status_change"
)

type Significance string

const (
	SignificanceLow      Significance = "low"
	SignificanceMedium   Significance = "medium"
	SignificanceHigh     Significance = "high"
	SignificanceCritical Significance = "critical"
)

// ChangeEvent is an immutable record of one detected delta. Events for a
// single entity form an append-only, time-ordered log.
type ChangeEvent struct {
	ID           string
	Category     ChangeCategory
	EntityID     string
	EntityKind   EntityKind
	Kind         ChangeKind
	Timestamp    time.Time
	OldValue     []string
	NewValue     []string
	Confidence   float64
	Significance Significance
	Description  string
	Source       string
	Metadata     map[string]string
}

type ChangedItem struct {
	Type  string
	Value string
}

type ModifiedItem struct {
	Type string
	Old  []string
	New  []string
}

// ComparisonResult is what a single detection run returns to the caller.
type ComparisonResult struct {
	HasChanges    bool
	Changes       []ChangeEvent
	Similarity    float64
	AddedItems    []ChangedItem
	RemovedItems  []ChangedItem
	ModifiedItems []ModifiedItem
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

type AlertCategory string

const (
	AlertCompetitor  AlertCategory = "competitor"
	AlertPricing     AlertCategory = "pricing"
	AlertMarket      AlertCategory = "market"
	AlertPerformance AlertCategory = "performance"
	AlertSecurity    AlertCategory = "security"
	AlertSystem      AlertCategory = "system"
)

type ConditionType string

const (
	ConditionMetricThreshold   ConditionType = "metric_threshold"
	ConditionTrendChange       ConditionType = "trend_change"
	ConditionCompetitorAction  ConditionType = "competitor_action"
	ConditionMarketEvent       ConditionType = "market_event"
	ConditionPredictiveTrigger ConditionType = "predictive_trigger"
)

type Operator string

const (
	OpGreaterThan      Operator = "greater_than"
	OpLessThan         Operator = "less_than"
	OpEquals           Operator = "equals"
	OpNotEquals        Operator = "not_equals"
	OpPercentageChange Operator = "percentage_change"
)

type Aggregation string

const (
	AggAvg   Aggregation = "avg"
	AggSum   Aggregation = "sum"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
	AggCount Aggregation = "count"
)

// Condition is a tagged variant; only the fields relevant to Type are set.
type Condition struct {
	Type        ConditionType
	Metric      string
	Operator    Operator
	Value       float64
	TimeWindow  time.Duration
	Aggregation Aggregation

	// competitor_action / market_event presence checks
	EntityID      string
	EventCategory ChangeCategory
	Lookback      time.Duration

	// predictive_trigger double threshold
	MinConfidence float64
	MinRiskScore  float64
}

type Threshold struct {
	Warning            float64
	Critical           float64
	Emergency          *float64
	SuppressionMinutes int
}

type FrequencyMode string

const (
	ModeImmediate FrequencyMode = "immediate"
	ModeBatched   FrequencyMode = "batched"
	ModeScheduled FrequencyMode = "scheduled"
)

type Frequency struct {
	Mode             FrequencyMode
	Interval         time.Duration
	QuietHoursStart  int
	QuietHoursEnd    int
	MaxAlertsPerHour int
}

type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelSlack   Channel = "slack"
	ChannelWebhook Channel = "webhook"
)

type AlertRule struct {
	ID            string
	Name          string
	Description   string
	Category      AlertCategory
	BasePriority  Priority
	Condition     Condition
	Threshold     Threshold
	Frequency     Frequency
	Channels      []Channel
	Subscribers   []string
	Active        bool
	CreatedAt     time.Time
	LastTriggered *time.Time
}

type AlertStatus string

const (
	AlertPending      AlertStatus = "pending"
	AlertSent         AlertStatus = "sent"
	AlertFailed       AlertStatus = "failed"
	AlertAcknowledged AlertStatus = "acknowledged"
)

// AlertContext records who/what/when for a triggered alert.
type AlertContext struct {
	EntityID    string
	EntityKind  EntityKind
	RuleID      string
	RuleName    string
	Severity    string
	Source      string
	TriggeredAt time.Time
}

type IntelligentAlert struct {
	ID             string
	Category       AlertCategory
	Priority       Priority
	Title          string
	Message        string
	Context        AlertContext
	Insights       []string
	Channels       []Channel
	Recipients     []string
	Status         AlertStatus
	CreatedAt      time.Time
	SentAt         *time.Time
	AcknowledgedAt *time.Time
	Metadata       map[string]string
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryRead      DeliveryStatus = "read"
)

// AlertDelivery is one (alert, channel, recipient) delivery task.
type AlertDelivery struct {
	ID        string
	AlertID   string
	Channel   Channel
	Recipient string
	Status    DeliveryStatus
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
	SentAt    *time.Time
	Error     string
}

type MetricSample struct {
	ID        int64
	Name      string
	Value     float64
	Tags      map[string]string
	Timestamp time.Time
}
