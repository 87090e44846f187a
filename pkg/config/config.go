// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Consumer, Ingestion, Storage, OCR, Barcode,
// Index, Classifier, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Storage    StorageConfig    `yaml:"storage"`
	OCR        OCRConfig        `yaml:"ocr"`
	Barcode    BarcodeConfig    `yaml:"barcode"`
	Index      IndexConfig      `yaml:"index"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
	AdminToken      string        `yaml:"adminToken"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	UploadRate      float64       `yaml:"uploadRate"`
	UploadBurst     int           `yaml:"uploadBurst"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Ingest       string `yaml:"ingest"`
	Outcomes     string `yaml:"outcomes"`
	Events       string `yaml:"events"`
	ModelUpdates string `yaml:"modelUpdates"`
}

// RedisConfig holds Redis connection parameters used for cross-process
// duplicate claims.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// ConsumerConfig controls the worker pool, retry policy and the directories
// the pipeline reads from.
type ConsumerConfig struct {
	Workers           int           `yaml:"workers"`
	QueueSize         int           `yaml:"queueSize"`
	MaxAttempts       int           `yaml:"maxAttempts"`
	RetryInitialDelay time.Duration `yaml:"retryInitialDelay"`
	RetryMaxDelay     time.Duration `yaml:"retryMaxDelay"`
	TaskTimeout       time.Duration `yaml:"taskTimeout"`
	BranchConcurrency int           `yaml:"branchConcurrency"`
	ConsumeDir        string        `yaml:"consumeDir"`
	ScratchDir        string        `yaml:"scratchDir"`
	PollInterval      time.Duration `yaml:"pollInterval"`
	WatchDirectory    bool          `yaml:"watchDirectory"`
	DeleteOriginals   bool          `yaml:"deleteOriginals"`
	InboxTags         []string      `yaml:"inboxTags"`
	Languages         []string      `yaml:"languages"`
	RPCPort           int           `yaml:"rpcPort"`
}

// IngestionConfig controls the upload service. Uploads land in UploadDir,
// which the consumer must also be able to read. RPCAddr is the consumer's
// task RPC endpoint, used when Kafka is disabled.
type IngestionConfig struct {
	Port      int    `yaml:"port"`
	UploadDir string `yaml:"uploadDir"`
	RPCAddr   string `yaml:"rpcAddr"`
}

// StorageConfig selects where original and archive files are kept.
type StorageConfig struct {
	Backend        string `yaml:"backend"`
	OriginalsDir   string `yaml:"originalsDir"`
	ArchiveDir     string `yaml:"archiveDir"`
	FilenameFormat string `yaml:"filenameFormat"`
	S3Endpoint     string `yaml:"s3Endpoint"`
	S3Bucket       string `yaml:"s3Bucket"`
	S3AccessKey    string `yaml:"s3AccessKey"`
	S3SecretKey    string `yaml:"s3SecretKey"`
	S3UseSSL       bool   `yaml:"s3UseSSL"`
}

// OCRConfig mirrors the OCR settings of the archiver: mode, output type and
// the preprocessing switches handed to ocrmypdf.
type OCRConfig struct {
	OCRMyPDFBinary  string            `yaml:"ocrmypdfBinary"`
	PDFToTextBinary string            `yaml:"pdftotextBinary"`
	Language        string            `yaml:"language"`
	Mode            string            `yaml:"mode"`
	OutputType      string            `yaml:"outputType"`
	ImageDPI        int               `yaml:"imageDPI"`
	FallbackDPI     int               `yaml:"fallbackDPI"`
	Clean           string            `yaml:"clean"`
	Deskew          bool              `yaml:"deskew"`
	RotatePages     bool              `yaml:"rotatePages"`
	RotateThreshold float64           `yaml:"rotateThreshold"`
	Optimize        int               `yaml:"optimize"`
	MaxImagePixels  float64           `yaml:"maxImagePixels"`
	Pages           int               `yaml:"pages"`
	Timeout         time.Duration     `yaml:"timeout"`
	MaxConcurrent   int               `yaml:"maxConcurrent"`
	MinTextChars    int               `yaml:"minTextChars"`
	UserArgs        map[string]string `yaml:"userArgs"`
}

// BarcodeConfig controls separator-page detection.
type BarcodeConfig struct {
	Enabled         bool          `yaml:"enabled"`
	SeparatorString string        `yaml:"separatorString"`
	ASNPrefix       string        `yaml:"asnPrefix"`
	DPI             int           `yaml:"dpi"`
	MaxPages        int           `yaml:"maxPages"`
	Timeout         time.Duration `yaml:"timeout"`
	PDFToPPMBinary  string        `yaml:"pdftoppmBinary"`
	ZBarImgBinary   string        `yaml:"zbarimgBinary"`
}

// IndexConfig controls the search index's memory thresholds and flush
// interval.
type IndexConfig struct {
	DataDir        string        `yaml:"dataDir"`
	SegmentMaxSize int64         `yaml:"segmentMaxSize"`
	FlushInterval  time.Duration `yaml:"flushInterval"`
}

// ClassifierConfig points at the matching rules and the trained model.
type ClassifierConfig struct {
	RulesFile      string        `yaml:"rulesFile"`
	ModelPath      string        `yaml:"modelPath"`
	ReloadInterval time.Duration `yaml:"reloadInterval"`
	MinScore       float64       `yaml:"minScore"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls per-task span logging.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads an optional .env file, a YAML config file (if provided) and
// applies environment-variable overrides. It returns a Config populated with
// sensible defaults for any missing values.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate reports settings the consumer cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Consumer.Workers <= 0 {
		problems = append(problems, "consumer.workers must be positive")
	}
	if c.Consumer.MaxAttempts <= 0 {
		problems = append(problems, "consumer.maxAttempts must be positive")
	}
	if c.Consumer.ConsumeDir == "" {
		problems = append(problems, "consumer.consumeDir is required")
	}
	if c.Consumer.ScratchDir == "" {
		problems = append(problems, "consumer.scratchDir is required")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.OriginalsDir == "" || c.Storage.ArchiveDir == "" {
			problems = append(problems, "storage.originalsDir and storage.archiveDir are required")
		}
	case "s3":
		if c.Storage.S3Endpoint == "" || c.Storage.S3Bucket == "" {
			problems = append(problems, "storage.s3Endpoint and storage.s3Bucket are required")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage.backend %q", c.Storage.Backend))
	}
	switch c.OCR.Mode {
	case "skip", "skip_noarchive", "redo", "force":
	default:
		problems = append(problems, fmt.Sprintf("unknown ocr.mode %q", c.OCR.Mode))
	}
	switch c.OCR.OutputType {
	case "pdf", "pdfa", "pdfa-1", "pdfa-2", "pdfa-3":
	default:
		problems = append(problems, fmt.Sprintf("unknown ocr.outputType %q", c.OCR.OutputType))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8081,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  30 * time.Second,
			MaxUploadBytes:  200 << 20,
			CORSOrigins:     []string{"*"},
			UploadRate:      5,
			UploadBurst:     20,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "docarchive",
			User:            "docarchive",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       true,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "docarchive-consumer",
			Topics: KafkaTopics{
				Ingest:       "document-ingest",
				Outcomes:     "task-outcomes",
				Events:       "pipeline-events",
				ModelUpdates: "classifier-model",
			},
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Consumer: ConsumerConfig{
			Workers:           runtime.NumCPU(),
			QueueSize:         1000,
			MaxAttempts:       3,
			RetryInitialDelay: 2 * time.Second,
			RetryMaxDelay:     time.Minute,
			TaskTimeout:       30 * time.Minute,
			BranchConcurrency: 2,
			ConsumeDir:        "data/consume",
			ScratchDir:        "data/scratch",
			PollInterval:      5 * time.Second,
			WatchDirectory:    true,
			DeleteOriginals:   true,
			Languages:         []string{"eng"},
			RPCPort:           9400,
		},
		Ingestion: IngestionConfig{
			Port:      8080,
			UploadDir: "data/uploads",
			RPCAddr:   "localhost:9400",
		},
		Storage: StorageConfig{
			Backend:        "local",
			OriginalsDir:   "data/media/originals",
			ArchiveDir:     "data/media/archive",
			FilenameFormat: "",
		},
		OCR: OCRConfig{
			OCRMyPDFBinary:  "ocrmypdf",
			PDFToTextBinary: "pdftotext",
			Language:        "eng",
			Mode:            "skip",
			OutputType:      "pdfa",
			ImageDPI:        300,
			FallbackDPI:     150,
			Clean:           "clean",
			Deskew:          true,
			RotatePages:     true,
			RotateThreshold: 12.0,
			Optimize:        1,
			Timeout:         10 * time.Minute,
			MaxConcurrent:   runtime.NumCPU(),
			MinTextChars:    50,
		},
		Barcode: BarcodeConfig{
			Enabled:         true,
			SeparatorString: "PATCHT",
			ASNPrefix:       "ASN",
			DPI:             300,
			MaxPages:        0,
			Timeout:         2 * time.Minute,
			PDFToPPMBinary:  "pdftoppm",
			ZBarImgBinary:   "zbarimg",
		},
		Index: IndexConfig{
			DataDir:        "data/index",
			SegmentMaxSize: 64 << 20,
			FlushInterval:  30 * time.Second,
		},
		Classifier: ClassifierConfig{
			ModelPath:      "data/classification_model.json",
			ReloadInterval: 5 * time.Minute,
			MinScore:       0.5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:    true,
			SampleRate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads DA_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DA_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("DA_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("DA_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("DA_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("DA_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("DA_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("DA_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("DA_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("DA_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("DA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DA_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DA_REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if v := os.Getenv("DA_CONSUMER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Consumer.Workers = n
		}
	}
	if v := os.Getenv("DA_CONSUMER_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Consumer.MaxAttempts = n
		}
	}
	if v := os.Getenv("DA_CONSUME_DIR"); v != "" {
		cfg.Consumer.ConsumeDir = v
	}
	if v := os.Getenv("DA_SCRATCH_DIR"); v != "" {
		cfg.Consumer.ScratchDir = v
	}
	if v := os.Getenv("DA_INGESTION_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.Port = port
		}
	}
	if v := os.Getenv("DA_UPLOAD_DIR"); v != "" {
		cfg.Ingestion.UploadDir = v
	}
	if v := os.Getenv("DA_CONSUMER_RPC_ADDR"); v != "" {
		cfg.Ingestion.RPCAddr = v
	}
	if v := os.Getenv("DA_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("DA_S3_ACCESS_KEY"); v != "" {
		cfg.Storage.S3AccessKey = v
	}
	if v := os.Getenv("DA_S3_SECRET_KEY"); v != "" {
		cfg.Storage.S3SecretKey = v
	}
	if v := os.Getenv("DA_OCR_LANGUAGE"); v != "" {
		cfg.OCR.Language = v
	}
	if v := os.Getenv("DA_OCR_MODE"); v != "" {
		cfg.OCR.Mode = v
	}
	if v := os.Getenv("DA_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DA_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
