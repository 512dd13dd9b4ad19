// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
// 敏感项（API Key、密码）可通过环境变量覆盖。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// RedisConfig 存储 Redis 的配置（限流计数器）。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 向量索引相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	Dimensions     int    `mapstructure:"dimensions"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout 返回单次 Embedding 调用的超时时间。
func (c EmbeddingConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Model          string              `mapstructure:"model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
	Prompt         LLMPromptConfig     `mapstructure:"prompt"`
}

// Timeout 返回单次生成调用的超时时间。
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置指令模板与无结果兜底文案（可选，留空使用默认值）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	NoResultText string `mapstructure:"no_result_text"`
}

// IngestConfig 存储文档摄取管道的配置。
type IngestConfig struct {
	ChunkSize         int         `mapstructure:"chunk_size"`
	ChunkOverlap      int         `mapstructure:"chunk_overlap"`
	MaxChunks         int         `mapstructure:"max_chunks"`
	MaxFileSizeMB     int         `mapstructure:"max_file_size_mb"`
	BatchSize         int         `mapstructure:"batch_size"`
	MetadataTextLimit int         `mapstructure:"metadata_text_limit"`
	Retry             RetryConfig `mapstructure:"retry"`
}

// MaxFileSizeBytes 返回允许上传的最大文件字节数。
func (c IngestConfig) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// RetryConfig 配置批量写入向量库的重试策略。
type RetryConfig struct {
	MaxAttempts       int     `mapstructure:"max_attempts"`
	BaseDelayMS       int     `mapstructure:"base_delay_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// BaseDelay 返回首次重试前的等待时间。
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// RateLimitConfig 配置按客户端 IP 的限流阈值（每分钟请求数）。
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	ClearPerMinute    int `mapstructure:"clear_per_minute"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 环境变量优先于文件配置（如 EMBEDDING_API_KEY、ELASTICSEARCH_PASSWORD）。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// 显式绑定敏感项，保证文件中缺省时也能从环境读取
	_ = viper.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	_ = viper.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = viper.BindEnv("elasticsearch.password", "ELASTICSEARCH_PASSWORD")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("embedding.timeout_seconds", 30)
	viper.SetDefault("llm.timeout_seconds", 60)
	viper.SetDefault("ingest.chunk_size", 800)
	viper.SetDefault("ingest.chunk_overlap", 150)
	viper.SetDefault("ingest.max_chunks", 256)
	viper.SetDefault("ingest.max_file_size_mb", 5)
	viper.SetDefault("ingest.batch_size", 25)
	viper.SetDefault("ingest.metadata_text_limit", 1000)
	viper.SetDefault("ingest.retry.max_attempts", 3)
	viper.SetDefault("ingest.retry.base_delay_ms", 200)
	viper.SetDefault("ingest.retry.backoff_multiplier", 2.0)
	viper.SetDefault("rate_limit.requests_per_minute", 60)
	viper.SetDefault("rate_limit.clear_per_minute", 3)
}

// Validate 校验必填凭证与分块参数，缺失时返回错误以阻止启动。
func (c *Config) Validate() error {
	if c.Embedding.APIKey == "" {
		return fmt.Errorf("缺少必需的配置项: embedding.api_key (EMBEDDING_API_KEY)")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("缺少必需的配置项: llm.api_key (LLM_API_KEY)")
	}
	if c.Elasticsearch.Addresses == "" {
		return fmt.Errorf("缺少必需的配置项: elasticsearch.addresses")
	}
	if c.Elasticsearch.IndexName == "" {
		return fmt.Errorf("缺少必需的配置项: elasticsearch.index_name")
	}
	if c.Ingest.ChunkOverlap <= 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("无效的分块配置: 要求 0 < chunk_overlap(%d) < chunk_size(%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Ingest.MaxChunks <= 0 {
		return fmt.Errorf("无效的分块配置: max_chunks 必须大于 0")
	}
	return nil
}
