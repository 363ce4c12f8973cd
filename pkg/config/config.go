package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Analytics AnalyticsConfig
	Milvus    MilvusConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Parser    ParserConfig
	RAG       RAGConfig
	Feedback  FeedbackConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type AnalyticsConfig struct {
	Path            string
	Table           string
	MaxRows         int
	QueryTimeoutSec int
}

type MilvusConfig struct {
	Endpoint          string
	APIKey            string
	SchemaCollection  string
	MetricCollection  string
	ExampleCollection string
	VectorDim         int
	TimeoutSec        int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

type ParserConfig struct {
	ConfidenceThreshold float64
	MaxMetricCandidates int
	DefaultTopN         int
}

type RAGConfig struct {
	TopK         int
	ScoreFloor   float64
	LearnedBoost float64
	CacheTTLMin  int
}

type FeedbackConfig struct {
	IntervalMin         int
	BatchSize           int
	MinAgeHours         int
	RetentionDays       int
	ConfidenceThreshold float64
	LatencyFloorMS      float64
	AgeCapHours         float64
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
	viper.AddConfigPath("/etc/bank-agent")

	viper.SetEnvPrefix("BANK_AGENT")
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
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("analytics.path", "./data/indicators.db")
	viper.SetDefault("analytics.table", "monthly_kpis")
	viper.SetDefault("analytics.maxRows", 1000)
	viper.SetDefault("analytics.queryTimeoutSec", 10)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.schemaCollection", "schema_docs")
	viper.SetDefault("milvus.metricCollection", "metric_docs")
	viper.SetDefault("milvus.exampleCollection", "query_examples")
	viper.SetDefault("milvus.vectorDim", 1536)
	viper.SetDefault("milvus.timeoutSec", 5)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.timeoutSec", 20)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)

	viper.SetDefault("parser.confidenceThreshold", 0.7)
	viper.SetDefault("parser.maxMetricCandidates", 5)
	viper.SetDefault("parser.defaultTopN", 5)

	viper.SetDefault("rag.topK", 4)
	viper.SetDefault("rag.scoreFloor", 0.7)
	viper.SetDefault("rag.learnedBoost", 0.2)
	viper.SetDefault("rag.cacheTTLMin", 60)

	viper.SetDefault("feedback.intervalMin", 60)
	viper.SetDefault("feedback.batchSize", 50)
	viper.SetDefault("feedback.minAgeHours", 24)
	viper.SetDefault("feedback.retentionDays", 180)
	viper.SetDefault("feedback.confidenceThreshold", 0.75)
	viper.SetDefault("feedback.latencyFloorMS", 250)
	viper.SetDefault("feedback.ageCapHours", 168)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
