package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"wisefido-sleepstage/internal/common/config"
	"wisefido-sleepstage/internal/events"

	"github.com/joho/godotenv"
)

// 序列数据源
const (
	SeriesSourcePostgres   = "postgres"
	SeriesSourceClickHouse = "clickhouse"
)

// BackendCPU 唯一支持的计算后端
const BackendCPU = "cpu"

// ErrInvalidConfig 配置非法
var ErrInvalidConfig = errors.New("invalid config")

// ComputeConfig 计算后端配置，显式传入训练和推理入口
type ComputeConfig struct {
	Backend string // 目前只支持 "cpu"
	Workers int    // 并行 worker 数
}

// Validate 校验计算配置
func (c ComputeConfig) Validate() error {
	if c.Backend != BackendCPU {
		return fmt.Errorf("%w: unsupported compute backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: compute workers must be >= 1, got %d", ErrInvalidConfig, c.Workers)
	}
	return nil
}

// Config 睡眠分期服务配置
type Config struct {
	Database   config.DatabaseConfig
	Redis      config.RedisConfig
	MQTT       config.MQTTConfig
	ClickHouse config.ClickHouseConfig

	// 序列数据源："postgres" 或 "clickhouse"
	SeriesSource string

	Compute ComputeConfig

	// 模型配置
	Model struct {
		Path                  string  // 快照文件路径
		Name                  string  // 快照注册名
		HiddenSize            int     // 默认 64
		Dropout               float64 // 默认 0.15
		Seed                  int64
		TrainSequenceLength   int // 训练窗口长度，默认 250
		PredictSequenceLength int // 预测窗口长度，默认 300
	}

	// 训练配置
	Train struct {
		Epochs       int     // 默认 10
		BatchSize    int     // 默认 8
		LearningRate float64 // 默认 0.001
		TrainSplit   float64 // 训练集比例，默认 0.8
	}

	// 事件平滑配置
	Smoothing struct {
		OutlierMinRun   int // 短于该长度的内部片段视为噪声
		LocalBestRadius int // 邻域表决半径
	}

	// Redis Streams 配置
	Stream struct {
		Input         string // 预测请求流，如 "sleep:series:stream"
		Output        string // 事件输出流，如 "sleep:events:stream"
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int64
	}

	// Redis 缓存配置
	Cache struct {
		KeyPrefix string // 如 "vital-focus:sleep:"
		TTL       int    // 秒
	}

	// 事件推送配置
	Publish struct {
		MQTTEnabled    bool
		TopicPrefix    string // MQTT 主题前缀，如 "sleep"
		WebhookURL     string // 为空时不推送
		WebhookTimeout time.Duration
		WebhookRetries int
	}

	// 批量预测输出
	Export struct {
		CSVPath   string
		ExcelPath string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（先读取可选的 .env 文件）
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// 基础设施配置：先填默认值，再用环境变量覆盖
	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "owlrd",
		SSLMode:  "disable",
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "wisefido-sleepstage",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.ClickHouse = config.ClickHouseConfig{
		Addr:        "localhost:9000",
		Database:    "default",
		Username:    "default",
		DialTimeout: 10 * time.Second,
	}
	cfg.ClickHouse.LoadFromEnv("CLICKHOUSE")

	cfg.SeriesSource = getEnv("SERIES_SOURCE", SeriesSourcePostgres)

	cfg.Compute.Backend = getEnv("COMPUTE_BACKEND", BackendCPU)
	cfg.Compute.Workers = getEnvInt("COMPUTE_WORKERS", runtime.NumCPU())

	cfg.Model.Path = getEnv("MODEL_PATH", "models/ActiNetCRFv1.json")
	cfg.Model.Name = getEnv("MODEL_NAME", "ActiNetCRFv1")
	cfg.Model.HiddenSize = getEnvInt("MODEL_HIDDEN_SIZE", 64)
	cfg.Model.Dropout = getEnvFloat("MODEL_DROPOUT", 0.15)
	cfg.Model.Seed = int64(getEnvInt("MODEL_SEED", 42))
	cfg.Model.TrainSequenceLength = getEnvInt("TRAIN_SEQUENCE_LENGTH", 250)
	cfg.Model.PredictSequenceLength = getEnvInt("PREDICT_SEQUENCE_LENGTH", 300)

	cfg.Train.Epochs = getEnvInt("TRAIN_EPOCHS", 10)
	cfg.Train.BatchSize = getEnvInt("TRAIN_BATCH_SIZE", 8)
	cfg.Train.LearningRate = getEnvFloat("TRAIN_LEARNING_RATE", 0.001)
	cfg.Train.TrainSplit = getEnvFloat("TRAIN_SPLIT", 0.8)

	cfg.Smoothing.OutlierMinRun = getEnvInt("SMOOTHING_OUTLIER_MIN_RUN", events.DefaultOutlierMinRun)
	cfg.Smoothing.LocalBestRadius = getEnvInt("SMOOTHING_LOCAL_BEST_RADIUS", events.DefaultLocalBestRadius)

	cfg.Stream.Input = getEnv("STREAM_INPUT", "sleep:series:stream")
	cfg.Stream.Output = getEnv("STREAM_OUTPUT", "sleep:events:stream")
	cfg.Stream.ConsumerGroup = getEnv("CONSUMER_GROUP", "sleepstage-group")
	cfg.Stream.ConsumerName = getEnv("CONSUMER_NAME", "sleepstage-1")
	cfg.Stream.BatchSize = int64(getEnvInt("STREAM_BATCH_SIZE", 10))

	cfg.Cache.KeyPrefix = getEnv("CACHE_EVENTS_PREFIX", "vital-focus:sleep:")
	cfg.Cache.TTL = getEnvInt("CACHE_EVENTS_TTL", 86400) // 1天

	cfg.Publish.MQTTEnabled = getEnvBool("MQTT_ENABLED", false)
	cfg.Publish.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "sleep")
	cfg.Publish.WebhookURL = getEnv("WEBHOOK_URL", "")
	cfg.Publish.WebhookTimeout = time.Duration(getEnvInt("WEBHOOK_TIMEOUT", 10)) * time.Second
	cfg.Publish.WebhookRetries = getEnvInt("WEBHOOK_RETRIES", 3)

	cfg.Export.CSVPath = getEnv("EXPORT_CSV_PATH", "submission.csv")
	cfg.Export.ExcelPath = getEnv("EXPORT_EXCEL_PATH", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := c.Compute.Validate(); err != nil {
		return err
	}
	switch c.SeriesSource {
	case SeriesSourcePostgres, SeriesSourceClickHouse:
	default:
		return fmt.Errorf("%w: unsupported series source %q", ErrInvalidConfig, c.SeriesSource)
	}
	if c.Model.TrainSequenceLength < 1 || c.Model.PredictSequenceLength < 1 {
		return fmt.Errorf("%w: sequence length must be >= 1", ErrInvalidConfig)
	}
	if c.Model.HiddenSize < 1 {
		return fmt.Errorf("%w: hidden size must be >= 1, got %d", ErrInvalidConfig, c.Model.HiddenSize)
	}
	if c.Model.Dropout < 0 || c.Model.Dropout >= 1 {
		return fmt.Errorf("%w: dropout must be in [0, 1), got %g", ErrInvalidConfig, c.Model.Dropout)
	}
	if c.Train.Epochs < 1 || c.Train.BatchSize < 1 {
		return fmt.Errorf("%w: epochs and batch size must be >= 1", ErrInvalidConfig)
	}
	if c.Train.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be > 0, got %g", ErrInvalidConfig, c.Train.LearningRate)
	}
	if c.Train.TrainSplit <= 0 || c.Train.TrainSplit >= 1 {
		return fmt.Errorf("%w: train split must be in (0, 1), got %g", ErrInvalidConfig, c.Train.TrainSplit)
	}
	if c.Smoothing.OutlierMinRun < 0 || c.Smoothing.LocalBestRadius < 0 {
		return fmt.Errorf("%w: smoothing parameters must be >= 0", ErrInvalidConfig)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}
