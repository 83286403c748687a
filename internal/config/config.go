// Package config загружает конфигурацию сервиса из YAML-файла и переменных окружения
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"diagnosis-service/internal/condition"
	"diagnosis-service/internal/fusion"
	"diagnosis-service/internal/history"
	"diagnosis-service/internal/models"
)

// Config содержит конфигурацию сервиса
type Config struct {
	Server     ServerConfig                 `yaml:"server"`
	Redis      RedisConfig                  `yaml:"redis"`
	MQTT       MQTTConfig                   `yaml:"mqtt"`
	Log        LogConfig                    `yaml:"log"`
	History    HistoryConfig                `yaml:"history"`
	Normalizer models.NormalizerConfig      `yaml:"normalizer"`
	Fusion     models.FusionConfig          `yaml:"fusion"`
	Conditions []models.ConditionDefinition `yaml:"conditions"`
	// Signatures компонент -> допустимые режимы
	Signatures map[string][]string `yaml:"signatures"`
}

// ServerConfig настройки HTTP-сервера
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig настройки Redis
type RedisConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	ConnectAttempts int    `yaml:"connect_attempts"`
}

// MQTTConfig настройки подписки на срезы данных
type MQTTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"client_id"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Topic      string `yaml:"topic"`
	QoS        byte   `yaml:"qos"`
	Workers    int    `yaml:"workers"`
	BufferSize int    `yaml:"buffer_size"`
}

// LogConfig настройки логирования
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// HistoryConfig размеры журналов
type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// Default конфигурация по умолчанию
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:         true,
			Addr:            "localhost:6379",
			ConnectAttempts: 5,
		},
		MQTT: MQTTConfig{
			Broker:     "tcp://localhost:1883",
			ClientID:   "diagnosis-service",
			Topic:      "sensors/+/slice",
			QoS:        1,
			Workers:    runtime.NumCPU(),
			BufferSize: 1000,
		},
		Log:        LogConfig{Level: "info"},
		History:    HistoryConfig{Capacity: history.DefaultCapacity},
		Normalizer: condition.DefaultConfig(),
		Fusion:     fusion.DefaultConfig(),
		Conditions: condition.DefaultConditions(),
	}
}

// Load читает конфигурацию: значения по умолчанию, затем YAML-файл (если путь задан),
// затем переменные окружения
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
		}

		// Срезы из файла заменяют значения по умолчанию целиком
		if k.Exists("fusion.fault_types") {
			cfg.Fusion.FaultTypes = nil
		}
		if k.Exists("conditions") {
			cfg.Conditions = nil
		}
		if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
			return nil, fmt.Errorf("failed to parse config from %q: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnv применяет переменные окружения поверх файла
func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.MQTT.Enabled = getEnvBool("MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Topic = getEnv("MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.Workers = getEnvInt("WORKER_COUNT", c.MQTT.Workers)
	c.MQTT.BufferSize = getEnvInt("BUFFER_SIZE", c.MQTT.BufferSize)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr cannot be empty"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" || c.MQTT.Topic == "" {
			errs = append(errs, errors.New("mqtt.broker and mqtt.topic are required when mqtt is enabled"))
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
		}
		if c.MQTT.Workers <= 0 || c.MQTT.BufferSize <= 0 {
			errs = append(errs, errors.New("mqtt.workers and mqtt.buffer_size must be positive"))
		}
	}
	if c.History.Capacity <= 0 {
		errs = append(errs, errors.New("history.capacity must be positive"))
	}
	if err := condition.ValidateConfig(c.Normalizer); err != nil {
		errs = append(errs, fmt.Errorf("normalizer: %w", err))
	}
	if err := fusion.ValidateConfig(c.Fusion); err != nil {
		errs = append(errs, fmt.Errorf("fusion: %w", err))
	}

	seen := make(map[string]struct{}, len(c.Conditions))
	for i, def := range c.Conditions {
		if def.ID == "" {
			errs = append(errs, fmt.Errorf("conditions[%d]: id cannot be empty", i))
			continue
		}
		if _, dup := seen[def.ID]; dup {
			errs = append(errs, fmt.Errorf("conditions[%d]: duplicate id %q", i, def.ID))
		}
		seen[def.ID] = struct{}{}
	}
	return errors.Join(errs...)
}

// getEnv получает переменную окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvBool получает логическую переменную окружения
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
