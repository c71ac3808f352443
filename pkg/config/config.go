package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"logbench/pkg/collector"
	"logbench/pkg/loadtest"
	"logbench/pkg/promquery"
)

const (
	EnvPrefix   = "LOGBENCH"
	DefaultPath = "./configs/logbench.yaml"
)

// Config is the full harness configuration.
type Config struct {
	Log       LogConfig        `mapstructure:"log"`
	Server    ServerConfig     `mapstructure:"server"`
	LoadTest  loadtest.Config  `mapstructure:"loadtest"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Resources collector.Config `mapstructure:"resources"`
}

type LogConfig struct {
	Level  zerolog.Level `mapstructure:"level"`
	Pretty bool          `mapstructure:"pretty"`
}

type ServerConfig struct {
	Port        int    `mapstructure:"port" validate:"gt=0,lt=65536"`
	StoragePath string `mapstructure:"storage_path" validate:"required"`
}

// MetricsConfig controls the metrics export. When Enabled, every completed
// run is exported automatically.
type MetricsConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	promquery.Config `mapstructure:",squash"`
}

// Default returns the configuration used when nothing is configured.
func Default() Config {
	return Config{
		Log:       LogConfig{Level: zerolog.InfoLevel},
		Server:    ServerConfig{Port: 8080, StoragePath: "./data/reports"},
		LoadTest:  loadtest.DefaultConfig(),
		Metrics:   MetricsConfig{Config: promquery.DefaultConfig()},
		Resources: collector.Config{Interval: collector.DefaultInterval},
	}
}

var hooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		LevelDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)),
}

// LevelDecodeHook decodes log level names such as "debug" into zerolog.Level.
func LevelDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(zerolog.InfoLevel) {
			return data, nil
		}
		return zerolog.ParseLevel(data.(string))
	}
}

// Load reads the configuration file at path and applies LOGBENCH_ environment
// overrides on top of the defaults. An empty path looks for logbench.yaml in
// the working directory and ./configs, and a missing file is not an error in
// that case.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("logbench")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	config := Default()
	// a configured query list replaces the defaults instead of merging into them
	config.Metrics.Queries = nil
	if err := v.Unmarshal(&config, hooks...); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(config.Metrics.Queries) == 0 {
		config.Metrics.Queries = promquery.DefaultQueries()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks every section and reports all invalid fields.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return err
	}
	msgs := make([]string, 0, len(invalid))
	for _, fe := range invalid {
		field := stripPrefix(fe.Namespace())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		default:
			msgs = append(msgs, fmt.Sprintf("%s has invalid value %v (%s)", field, fe.Value(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func stripPrefix(s string) string {
	if idx := strings.Index(s, "."); idx != -1 {
		return s[idx+1:]
	}
	return s
}

// setDefaults registers every key so that environment overrides apply even
// when the file does not mention it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log.level", d.Log.Level.String())
	v.SetDefault("log.pretty", d.Log.Pretty)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.storage_path", d.Server.StoragePath)

	lt := d.LoadTest
	v.SetDefault("loadtest.base_url", lt.BaseURL)
	v.SetDefault("loadtest.devices", lt.Devices)
	v.SetDefault("loadtest.logs_per_device", lt.LogsPerDevice)
	v.SetDefault("loadtest.device_prefix", lt.DevicePrefix)
	v.SetDefault("loadtest.concurrency", lt.Concurrency)
	v.SetDefault("loadtest.batching", lt.Batching)
	v.SetDefault("loadtest.batch_size", lt.BatchSize)
	v.SetDefault("loadtest.iterations", lt.Iterations)
	v.SetDefault("loadtest.interval", lt.Interval)
	v.SetDefault("loadtest.single_timeout", lt.SingleTimeout)
	v.SetDefault("loadtest.batch_timeout", lt.BatchTimeout)
	v.SetDefault("loadtest.max_rps", lt.MaxRPS)
	v.SetDefault("loadtest.seed", lt.Seed)
	v.SetDefault("loadtest.targets.throughput", lt.Targets.Throughput)
	v.SetDefault("loadtest.targets.p95_ms", lt.Targets.P95)
	v.SetDefault("loadtest.sanity.enabled", lt.Sanity.Enabled)
	v.SetDefault("loadtest.sanity.delay", lt.Sanity.Delay)
	v.SetDefault("loadtest.sanity.limit", lt.Sanity.Limit)

	m := d.Metrics
	v.SetDefault("metrics.enabled", m.Enabled)
	v.SetDefault("metrics.url", m.URL)
	v.SetDefault("metrics.timeout", m.Timeout)
	v.SetDefault("metrics.step", m.Step)
	v.SetDefault("metrics.padding", m.Padding)
	v.SetDefault("metrics.settle_delay", m.SettleDelay)
	v.SetDefault("metrics.output_dir", m.OutputDir)
	v.SetDefault("metrics.filter_reference", m.FilterReference)
	v.SetDefault("metrics.top_reference", m.TopReference)
	v.SetDefault("metrics.top_k", m.TopK)

	v.SetDefault("resources.enabled", d.Resources.Enabled)
	v.SetDefault("resources.interval", d.Resources.Interval)
	v.SetDefault("resources.process_name", d.Resources.ProcessName)
}
