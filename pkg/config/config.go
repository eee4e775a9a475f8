package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Neo4j     Neo4jConfig
	Zilliz    ZillizConfig
	Insight   InsightConfig
	Channels  ChannelsConfig
	Pipeline  PipelineConfig
	Detection DetectionConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type ZillizConfig struct {
	Enabled        bool
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type InsightConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

type ChannelsConfig struct {
	Email   EmailConfig
	SMS     SMSConfig
	Slack   SlackConfig
	Webhook WebhookConfig
}

type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
}

type SMSConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

type SlackConfig struct {
	WebhookURL string
}

type WebhookConfig struct {
	URL        string
	TimeoutSec int
}

type PipelineConfig struct {
	DetectionInterval    time.Duration
	RuleEvalInterval     time.Duration
	DispatchInterval     time.Duration
	DispatchBatchSize    int
	DeliveryMaxAttempts  int
	DetectionConcurrency int
}

// DetectionConfig holds the change-detection policy constants. The thresholds
// and fixed confidence values are deliberately static policy, surfaced here so
// deployments can tune them without a rebuild.
type DetectionConfig struct {
	ChangeThreshold   float64
	BaselineThreshold float64
	MaxContentBytes   int
	PricingConfidence float64
	ContentConfidence float64
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/marketpulse")

	viper.SetEnvPrefix("MARKETPULSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)

	viper.SetDefault("sqlite.path", "./data/marketpulse.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")

	viper.SetDefault("zilliz.enabled", false)
	viper.SetDefault("zilliz.endpoint", "localhost:19530")
	viper.SetDefault("zilliz.collectionName", "change_events")
	viper.SetDefault("zilliz.vectorDim", 1536)

	viper.SetDefault("insight.model", "gpt-4")
	viper.SetDefault("insight.embeddingModel", "text-embedding-3-large")
	viper.SetDefault("insight.temperature", 0.2)
	viper.SetDefault("insight.maxTokens", 512)
	viper.SetDefault("insight.timeoutSec", 15)

	viper.SetDefault("channels.email.smtpPort", 587)
	viper.SetDefault("channels.webhook.timeoutSec", 10)

	viper.SetDefault("pipeline.detectionInterval", "15m")
	viper.SetDefault("pipeline.ruleEvalInterval", "1m")
	viper.SetDefault("pipeline.dispatchInterval", "10s")
	viper.SetDefault("pipeline.dispatchBatchSize", 50)
	viper.SetDefault("pipeline.deliveryMaxAttempts", 3)
	viper.SetDefault("pipeline.detectionConcurrency", 4)

	viper.SetDefault("detection.changeThreshold", 0.95)
	viper.SetDefault("detection.baselineThreshold", 0.90)
	viper.SetDefault("detection.maxContentBytes", 65536)
	viper.SetDefault("detection.pricingConfidence", 0.8)
	viper.SetDefault("detection.contentConfidence", 0.9)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
