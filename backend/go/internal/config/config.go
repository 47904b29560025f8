package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FieldConfig 定义了 Milvus 集合中字段的配置。
type FieldConfig struct {
	Name         string `yaml:"name"`
	DataType     string `yaml:"dataType"` // "Int64", "VarChar", "FloatVector" ...
	IsPrimaryKey bool   `yaml:"isPrimaryKey"`
	IsAutoID     bool   `yaml:"isAutoID"`
	Dim          int    `yaml:"dim,omitempty"`
	MaxLength    int    `yaml:"maxLength,omitempty"`
}

// IndexConfig 定义了 Milvus 集合中索引的配置。
type IndexConfig struct {
	FieldName  string                 `yaml:"fieldName"`
	IndexType  string                 `yaml:"indexType"`  // "IVF_FLAT", "HNSW", "AUTOINDEX"
	MetricType string                 `yaml:"metricType"` // 检索使用余弦相似度，应为 "COSINE"
	Params     map[string]interface{} `yaml:"params"`
}

// SchemaConfig 定义了 Milvus 集合的 Schema 配置。
type SchemaConfig struct {
	CollectionName string        `yaml:"collectionName"`
	Description    string        `yaml:"description"`
	VectorField    string        `yaml:"vectorField"`
	Fields         []FieldConfig `yaml:"fields"`
	Index          IndexConfig   `yaml:"index"`
}

// MilvusConfig 定义了 Milvus 数据库的连接和 Schema 配置。
type MilvusConfig struct {
	Address string       `yaml:"address"`
	Schema  SchemaConfig `yaml:"schema"`
}

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig 定义了 MySQL 数据库的连接配置。
type MySQLConfig struct {
	Address         string `yaml:"address"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // 秒
	AutoMigrate     bool   `yaml:"autoMigrate"`
}

// MinIOConfig 定义了 MinIO 对象存储的连接配置，用于保存上传的协议原文件。
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
	URLExpiry string `yaml:"urlExpiry"` // 预签名 URL 有效期，例如 "15m"
}

// KafkaConfig 定义了 Kafka 的连接配置。EventTopic 用于发布摄取和推荐的审计事件。
type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	Topics     []string `yaml:"topics"`
	EventTopic string   `yaml:"eventTopic"`
}

// DatabaseConfigs 包含所有存储后端的配置。地址为空的后端不会被初始化。
type DatabaseConfigs struct {
	Milvus MilvusConfig `yaml:"milvus"`
	Redis  RedisConfig  `yaml:"redis"`
	MySQL  MySQLConfig  `yaml:"mysql"`
	MinIO  MinIOConfig  `yaml:"minio"`
	Kafka  KafkaConfig  `yaml:"kafka"`
}

// AppInfo 对应 'app' 部分。BaseURL 用于拼接引用链接 {BaseURL}/viewer?page=N。
type AppInfo struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	BaseURL     string `yaml:"baseURL"`
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"`
}

// ServerConfig 定义了 HTTP 服务的监听配置。
type ServerConfig struct {
	Address         string `yaml:"address"`
	ShutdownTimeout string `yaml:"shutdownTimeout"`
	MaxUploadMB     int    `yaml:"maxUploadMB"`
}

// LLMConfig 描述补全服务。Provider 支持 "openai"、"ollama"、"gemini"。
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"apiKey"`
	BaseURL     string  `yaml:"baseURL"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"maxTokens"`
}

// EmbeddingConfig 描述向量化服务。RatePerSecond 为 0 表示不限速。
type EmbeddingConfig struct {
	Provider      string  `yaml:"provider"`
	Model         string  `yaml:"model"`
	APIKey        string  `yaml:"apiKey"`
	BaseURL       string  `yaml:"baseURL"`
	Dimensions    int     `yaml:"dimensions"`
	RatePerSecond float64 `yaml:"ratePerSecond"`
	Burst         int     `yaml:"burst"`
}

// ExtractionConfig 描述文本/OCR 提取服务。Provider 为 "remote" 时调用 {BaseURL}/extract，
// 为 "local" 时在进程内解析 PDF 文本层。
type ExtractionConfig struct {
	Provider       string               `yaml:"provider"`
	BaseURL        string               `yaml:"baseURL"`
	Timeout        string               `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// CacheConfig 描述摘要内容哈希缓存。Backend 支持 "mysql"、"redis"、"memory"。
type CacheConfig struct {
	Backend  string `yaml:"backend"`
	TTL      string `yaml:"ttl"` // 仅 redis/memory 使用；为空表示永不过期
	Capacity int    `yaml:"capacity"`
}

// VectorIndexConfig 描述近邻检索后端。Backend 支持 "milvus"、"chromem"、"none"。
type VectorIndexConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"` // chromem 持久化目录
}

// RAGConfig 汇总流水线的可调参数。
type RAGConfig struct {
	ChunkSize               int     `yaml:"chunkSize"`
	SectionPrefixLimit      int     `yaml:"sectionPrefixLimit"`
	SummaryConcurrency      int     `yaml:"summaryConcurrency"`
	EmbedConcurrency        int     `yaml:"embedConcurrency"`
	EmbedSliceSize          int     `yaml:"embedSliceSize"`
	EmbedMaxAttempts        int     `yaml:"embedMaxAttempts"`
	EmbedBackoff            string  `yaml:"embedBackoff"`
	CallTimeout             string  `yaml:"callTimeout"`
	SimilarityThreshold     float64 `yaml:"similarityThreshold"`
	CandidatePool           int     `yaml:"candidatePool"`
	TopK                    int     `yaml:"topK"`
	SectionWeight           float64 `yaml:"sectionWeight"`
	ContextCap              int     `yaml:"contextCap"`
	ExcerptLength           int     `yaml:"excerptLength"`
	FinalSummaryFallbackLen int     `yaml:"finalSummaryFallbackLen"`
	PageSeparatorLength     int     `yaml:"pageSeparatorLength"`
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RateLimiterConfig 定义了限流器的配置。
type RateLimiterConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Algorithm   string            `yaml:"algorithm"` // "tokenBucket" 或 "fixedWindow"
	FixedWindow FixedWindowConfig `yaml:"fixedWindow"`
	TokenBucket TokenBucketConfig `yaml:"tokenBucket"`
}

// FixedWindowConfig 定义了固定窗口计数器算法的配置。
type FixedWindowConfig struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

// TokenBucketConfig 定义了令牌桶算法的配置。
type TokenBucketConfig struct {
	Rate     float64 `yaml:"rate"`
	Capacity int     `yaml:"capacity"`
}

// CircuitBreakerConfig 定义了熔断器的配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"`
}

// AppConfig 是整个 YAML 文件的根结构。
type AppConfig struct {
	App         AppInfo           `yaml:"app"`
	Logger      LoggerConfig      `yaml:"logger"`
	Server      ServerConfig      `yaml:"server"`
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	Databases   DatabaseConfigs   `yaml:"databases"`
	Cache       CacheConfig       `yaml:"cache"`
	VectorIndex VectorIndexConfig `yaml:"vectorIndex"`
	RAG         RAGConfig         `yaml:"rag"`
	Middleware  MiddlewareConfig  `yaml:"middleware"`
}

// LoadConfig 从指定路径加载 YAML 配置。
// 加载前会尝试读取当前目录下的 .env 文件（不存在时忽略），YAML 中的 ${VAR} 引用会被环境变量替换，
// 最后用 ApplyDefaults 补全未设置的字段。
func LoadConfig(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 文件失败: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	return Parse(raw)
}

// Parse 解析 YAML 内容并补全默认值。
func Parse(raw []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ApplyDefaults 为所有零值字段填充默认值。
func ApplyDefaults(cfg *AppConfig) {
	if cfg.App.Name == "" {
		cfg.App.Name = "protocol-service"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ShutdownTimeout == "" {
		cfg.Server.ShutdownTimeout = "10s"
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 50
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Extraction.Provider == "" {
		cfg.Extraction.Provider = "remote"
	}
	if cfg.Extraction.Timeout == "" {
		cfg.Extraction.Timeout = "120s"
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "mysql"
	}
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = 1024
	}
	if cfg.VectorIndex.Backend == "" {
		cfg.VectorIndex.Backend = "milvus"
	}
	if cfg.Databases.Kafka.EventTopic == "" {
		cfg.Databases.Kafka.EventTopic = "protocol_events"
	}
	if cfg.Databases.MinIO.URLExpiry == "" {
		cfg.Databases.MinIO.URLExpiry = "15m"
	}
	if cfg.Middleware.RateLimiter.Algorithm == "" {
		cfg.Middleware.RateLimiter.Algorithm = "tokenBucket"
	}

	r := &cfg.RAG
	setInt(&r.ChunkSize, 3200)
	setInt(&r.SectionPrefixLimit, 30000)
	setInt(&r.SummaryConcurrency, 6)
	setInt(&r.EmbedConcurrency, 3)
	setInt(&r.EmbedSliceSize, 3200)
	setInt(&r.EmbedMaxAttempts, 3)
	setInt(&r.CandidatePool, 12)
	setInt(&r.TopK, 8)
	setInt(&r.ContextCap, 2500)
	setInt(&r.ExcerptLength, 600)
	setInt(&r.FinalSummaryFallbackLen, 4000)
	// 提取服务用 "\n\n" 拼接各页文本；负数表示显式关闭分隔符补偿。
	if r.PageSeparatorLength == 0 {
		r.PageSeparatorLength = 2
	} else if r.PageSeparatorLength < 0 {
		r.PageSeparatorLength = 0
	}
	if r.EmbedBackoff == "" {
		r.EmbedBackoff = "500ms"
	}
	if r.CallTimeout == "" {
		r.CallTimeout = "120s"
	}
	if r.SimilarityThreshold == 0 {
		r.SimilarityThreshold = 0.72
	}
	if r.SectionWeight == 0 {
		r.SectionWeight = 1.0
	}
}

// Duration 解析形如 "30s" 的时长字符串，为空或格式错误时返回 def。
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
