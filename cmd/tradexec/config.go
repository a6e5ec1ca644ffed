package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tradexec/internal/domain/execution"
	"tradexec/internal/infra/artifacts"
	"tradexec/internal/runtime/subprocess"
)

const envPrefix = "TRADEXEC"

type appConfig struct {
	Log       logConfig       `mapstructure:"log"`
	Engine    engineConfig    `mapstructure:"engine"`
	Limits    limitsConfig    `mapstructure:"limits"`
	Backend   backendConfig   `mapstructure:"backend"`
	Validator validatorConfig `mapstructure:"validator"`
	Artifacts artifactsConfig `mapstructure:"artifacts"`
	Kafka     kafkaConfig     `mapstructure:"kafka"`
	Metrics   metricsConfig   `mapstructure:"metrics"`
}

type logConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type engineConfig struct {
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	QueueTimeout   time.Duration `mapstructure:"queue_timeout"`
	AdmissionRate  float64       `mapstructure:"admission_rate"`
	AdmissionBurst int           `mapstructure:"admission_burst"`
}

type limitsConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	CPUTime        time.Duration `mapstructure:"cpu_time"`
	MemoryBytes    int64         `mapstructure:"memory_bytes"`
	MaxOutputBytes int64         `mapstructure:"max_output_bytes"`
}

type backendConfig struct {
	Preference        string `mapstructure:"preference"`
	Python            string `mapstructure:"python"`
	Args              string `mapstructure:"args"`
	WorkDir           string `mapstructure:"workdir"`
	AddressSpaceSlack int64  `mapstructure:"address_space_slack"`
}

type validatorConfig struct {
	Parser string `mapstructure:"parser"`
}

type artifactsConfig struct {
	Driver   string        `mapstructure:"driver"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
	Path     string        `mapstructure:"path"`
}

type kafkaConfig struct {
	Brokers       string `mapstructure:"brokers"`
	RequestsTopic string `mapstructure:"requests_topic"`
	ResultsTopic  string `mapstructure:"results_topic"`
	GroupID       string `mapstructure:"group_id"`
	MaxRequests   string `mapstructure:"max_requests"`
	MaxParallel   string `mapstructure:"max_parallel"`
}

type metricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("engine.max_concurrent", 0)
	v.SetDefault("engine.queue_timeout", 30*time.Second)
	v.SetDefault("engine.admission_rate", 0.0)
	v.SetDefault("engine.admission_burst", 0)

	v.SetDefault("limits.timeout", execution.DefaultTimeout)
	v.SetDefault("limits.cpu_time", execution.DefaultCPUTime)
	v.SetDefault("limits.memory_bytes", int64(execution.DefaultMemoryBytes))
	v.SetDefault("limits.max_output_bytes", int64(execution.DefaultMaxOutputBytes))

	v.SetDefault("backend.preference", "auto")
	v.SetDefault("backend.python", "python3")
	v.SetDefault("backend.args", "")
	v.SetDefault("backend.workdir", "")
	v.SetDefault("backend.address_space_slack", subprocess.DefaultAddressSpaceSlack)

	v.SetDefault("validator.parser", "auto")

	v.SetDefault("artifacts.driver", artifacts.DriverMemory)
	v.SetDefault("artifacts.addr", "localhost:6379")
	v.SetDefault("artifacts.password", "")
	v.SetDefault("artifacts.db", 0)
	v.SetDefault("artifacts.prefix", "")
	v.SetDefault("artifacts.ttl", time.Duration(0))
	v.SetDefault("artifacts.path", "tradexec-artifacts.db")

	v.SetDefault("kafka.brokers", "kafka:9092")
	v.SetDefault("kafka.requests_topic", "execution-requests")
	v.SetDefault("kafka.results_topic", "execution-results")
	v.SetDefault("kafka.group_id", "tradexec-engine")
	v.SetDefault("kafka.max_requests", "")
	v.SetDefault("kafka.max_parallel", "")

	v.SetDefault("metrics.addr", ":9090")
}

// loadAppConfig resolves configuration with precedence
// env > config file > defaults. A missing config file is an error only when
// path was given explicitly.
func loadAppConfig(v *viper.Viper, path string) (appConfig, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
				return appConfig{}, fmt.Errorf("config file %q not found", path)
			}
			return appConfig{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg appConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return appConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func (c appConfig) defaultLimits() execution.Limits {
	return execution.Limits{
		Timeout:        c.Limits.Timeout,
		CPUTime:        c.Limits.CPUTime,
		MemoryBytes:    c.Limits.MemoryBytes,
		MaxOutputBytes: c.Limits.MaxOutputBytes,
	}
}

func (c appConfig) artifactStore() artifacts.Config {
	return artifacts.Config{
		Driver: c.Artifacts.Driver,
		Path:   c.Artifacts.Path,
		Redis: artifacts.RedisConfig{
			Addr:     c.Artifacts.Addr,
			Password: c.Artifacts.Password,
			DB:       c.Artifacts.DB,
			Prefix:   c.Artifacts.Prefix,
			TTL:      c.Artifacts.TTL,
		},
	}
}

func parseBrokerList(raw string) []string {
	return splitList(raw)
}

func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseMaxRequests(raw string) int {
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	if value < 0 {
		return 0
	}
	return value
}

func parseMaxParallel(raw string) int {
	if raw == "" {
		return 1
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 1
	}
	return value
}

// parseKeyValue splits "id=path" flag values.
func parseKeyValue(raw string) (string, string, error) {
	key, value, ok := strings.Cut(raw, "=")
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if !ok || key == "" || value == "" {
		return "", "", fmt.Errorf("expected key=value, got %q", raw)
	}
	return key, value, nil
}
