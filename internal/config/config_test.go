package config

import (
	"runtime"
	"testing"
	"time"

	"wisefido-sleepstage/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "owlrd", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	assert.Equal(t, SeriesSourcePostgres, cfg.SeriesSource)
	assert.Equal(t, BackendCPU, cfg.Compute.Backend)
	assert.Equal(t, runtime.NumCPU(), cfg.Compute.Workers)

	assert.Equal(t, 64, cfg.Model.HiddenSize)
	assert.Equal(t, 0.15, cfg.Model.Dropout)
	assert.Equal(t, 250, cfg.Model.TrainSequenceLength)
	assert.Equal(t, 300, cfg.Model.PredictSequenceLength)

	assert.Equal(t, 10, cfg.Train.Epochs)
	assert.Equal(t, 8, cfg.Train.BatchSize)
	assert.Equal(t, 0.001, cfg.Train.LearningRate)
	assert.Equal(t, 0.8, cfg.Train.TrainSplit)

	assert.Equal(t, "sleep:series:stream", cfg.Stream.Input)
	assert.Equal(t, "sleep:events:stream", cfg.Stream.Output)
	assert.Equal(t, "vital-focus:sleep:", cfg.Cache.KeyPrefix)
	assert.False(t, cfg.Publish.MQTTEnabled)
	assert.Equal(t, 10*time.Second, cfg.Publish.WebhookTimeout)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.Equal(t, events.DefaultOutlierMinRun, cfg.Smoothing.OutlierMinRun)
	assert.Equal(t, events.DefaultLocalBestRadius, cfg.Smoothing.LocalBestRadius)

	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "default", cfg.ClickHouse.Database)
	assert.Equal(t, 10*time.Second, cfg.ClickHouse.DialTimeout)
}

func TestLoad_InfrastructureEnvironment(t *testing.T) {
	t.Setenv("DB_NAME", "sleep")
	t.Setenv("DB_MAX_CONNS", "20")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("MQTT_BROKER", "tcp://mqtt:1883")
	t.Setenv("MQTT_QOS", "0")
	t.Setenv("CLICKHOUSE_DATABASE", "actigraphy")
	t.Setenv("CLICKHOUSE_DIAL_TIMEOUT", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sleep", cfg.Database.Database)
	assert.Equal(t, 20, cfg.Database.MaxConns)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "tcp://mqtt:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(0), cfg.MQTT.QoS)
	assert.Equal(t, "wisefido-sleepstage", cfg.MQTT.ClientID)
	assert.Equal(t, "actigraphy", cfg.ClickHouse.Database)
	assert.Equal(t, 3*time.Second, cfg.ClickHouse.DialTimeout)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("SERIES_SOURCE", "clickhouse")
	t.Setenv("COMPUTE_WORKERS", "3")
	t.Setenv("MODEL_DROPOUT", "0.25")
	t.Setenv("TRAIN_EPOCHS", "2")
	t.Setenv("MQTT_ENABLED", "true")
	t.Setenv("WEBHOOK_URL", "http://example.test/hook")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, SeriesSourceClickHouse, cfg.SeriesSource)
	assert.Equal(t, 3, cfg.Compute.Workers)
	assert.Equal(t, 0.25, cfg.Model.Dropout)
	assert.Equal(t, 2, cfg.Train.Epochs)
	assert.True(t, cfg.Publish.MQTTEnabled)
	assert.Equal(t, "http://example.test/hook", cfg.Publish.WebhookURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidValueKeepsDefault(t *testing.T) {
	t.Setenv("TRAIN_BATCH_SIZE", "eight")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Train.BatchSize)
}

func TestLoad_RejectsUnsupportedBackend(t *testing.T) {
	t.Setenv("COMPUTE_BACKEND", "cuda")

	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Compute.Workers = 0 }},
		{"unknown source", func(c *Config) { c.SeriesSource = "parquet" }},
		{"zero sequence length", func(c *Config) { c.Model.PredictSequenceLength = 0 }},
		{"dropout of one", func(c *Config) { c.Model.Dropout = 1 }},
		{"zero learning rate", func(c *Config) { c.Train.LearningRate = 0 }},
		{"train split of one", func(c *Config) { c.Train.TrainSplit = 1 }},
		{"negative radius", func(c *Config) { c.Smoothing.LocalBestRadius = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestComputeConfig_Validate(t *testing.T) {
	assert.NoError(t, ComputeConfig{Backend: BackendCPU, Workers: 1}.Validate())
	assert.ErrorIs(t, ComputeConfig{Backend: "gpu", Workers: 1}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, ComputeConfig{Backend: BackendCPU}.Validate(), ErrInvalidConfig)
}
