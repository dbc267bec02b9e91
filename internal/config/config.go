/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config provides configuration management for the shell hook runner.
// config 包提供 shell 钩子运行器的配置管理功能。
//
// Configuration loading priority (highest to lowest):
// 配置加载优先级（从高到低）：
// 1. Command line arguments / 命令行参数
// 2. Environment variables (SHELLEXEC_ prefix) / 环境变量（SHELLEXEC_ 前缀）
// 3. Configuration file / 配置文件
// 4. Default values / 默认值
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Default configuration values
// 默认配置值
const (
	DefaultConfigPath    = "shellexec.yaml"
	DefaultArtifactsDir  = "artifacts"
	DefaultKillGrace     = 3 * time.Second
	DefaultCheckInterval = 1 * time.Second
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
	DefaultLogMaxSize    = 100 // MB
	DefaultLogMaxBackups = 3
	DefaultLogMaxAge     = 7 // days
	DefaultServiceName   = "shellexec"
	DefaultOTLPEndpoint  = "localhost:4317"
)

// Config represents the runner configuration
// Config 表示运行器配置
type Config struct {
	// ArtifactsDir is where task output files are written and tasks run
	// ArtifactsDir 是任务输出文件的写入目录和任务运行目录
	ArtifactsDir string `mapstructure:"artifacts_dir" yaml:"artifacts_dir"`

	// KillGrace is the SIGTERM to SIGKILL window at teardown
	// KillGrace 是关闭时从 SIGTERM 到 SIGKILL 的等待时间
	KillGrace time.Duration `mapstructure:"kill_grace" yaml:"kill_grace"`

	// CheckInterval is the delay between two check phases of the run loop
	// CheckInterval 是运行循环中两次 check 阶段之间的间隔
	CheckInterval time.Duration `mapstructure:"check_interval" yaml:"check_interval"`

	// Duration bounds the check loop; zero runs until no background task is left
	// Duration 限制 check 循环时长，为零时运行到没有后台任务为止
	Duration time.Duration `mapstructure:"duration" yaml:"duration"`

	// Log configuration / 日志配置
	Log LogConfig `mapstructure:"log" yaml:"log"`

	// Telemetry configuration / 遥测配置
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Tasks holds the task lists keyed by phase name
	// Tasks 保存按阶段名组织的任务列表
	Tasks map[string]any `mapstructure:"tasks" yaml:"tasks"`
}

// LogConfig contains logging settings
// LogConfig 包含日志设置
type LogConfig struct {
	// Level is the log level (debug, info, warn, error)
	// Level 是日志级别（debug, info, warn, error）
	Level string `mapstructure:"level" yaml:"level"`

	// Format is the encoder, console or json
	// Format 是编码格式，console 或 json
	Format string `mapstructure:"format" yaml:"format"`

	// File is the log file path; empty logs to stderr only
	// File 是日志文件路径，为空时只输出到标准错误
	File string `mapstructure:"file" yaml:"file"`

	// MaxSize is the maximum size of log file in MB before rotation
	// MaxSize 是日志文件轮转前的最大大小（MB）
	MaxSize int `mapstructure:"max_size" yaml:"max_size"`

	// MaxBackups is the maximum number of old log files to retain
	// MaxBackups 是保留的旧日志文件的最大数量
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`

	// MaxAge is the maximum number of days to retain old log files
	// MaxAge 是保留旧日志文件的最大天数
	MaxAge int `mapstructure:"max_age" yaml:"max_age"`
}

// TelemetryConfig contains OpenTelemetry tracing settings
// TelemetryConfig 包含 OpenTelemetry 追踪设置
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure    bool   `mapstructure:"insecure" yaml:"insecure"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// Load loads configuration from file and environment variables
// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	return LoadWithPriority(configPath, nil)
}

// LoadWithPriority loads configuration with explicit priority handling
// LoadWithPriority 使用显式优先级处理加载配置
// Priority: cmdArgs > envVars > configFile > defaults
// 优先级：命令行参数 > 环境变量 > 配置文件 > 默认值
func LoadWithPriority(configPath string, cmdArgs map[string]interface{}) (*Config, error) {
	v := viper.New()

	// Set default values / 设置默认值
	setDefaults(v)

	// Set config file path / 设置配置文件路径
	if configPath == "" {
		configPath = os.Getenv("SHELLEXEC_CONFIG_PATH")
	}
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	v.SetConfigFile(configPath)

	// Enable environment variable override / 启用环境变量覆盖
	v.SetEnvPrefix("SHELLEXEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file / 读取配置文件
	var raw []byte
	if err := v.ReadInConfig(); err == nil {
		raw = readYAMLFile(v.ConfigFileUsed())
	} else {
		// Config file not found is not an error if we have defaults
		// 如果有默认值，配置文件未找到不是错误
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Apply command line arguments (highest priority)
	// 应用命令行参数（最高优先级）
	for key, value := range cmdArgs {
		v.Set(key, value)
	}

	return unmarshal(v, raw)
}

// LoadFromYAML loads configuration from YAML bytes
// LoadFromYAML 从 YAML 字节加载配置
func LoadFromYAML(yamlData []byte) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults first / 首先设置默认值
	setDefaults(v)

	if err := v.ReadConfig(strings.NewReader(string(yamlData))); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return unmarshal(v, yamlData)
}

// unmarshal decodes v into a Config. Viper lowercases map keys, so when the
// YAML source is available the tasks subtree is taken from it instead to keep
// env variable names intact.
func unmarshal(v *viper.Viper, raw []byte) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(raw) > 0 {
		var doc struct {
			Tasks map[string]any `yaml:"tasks"`
		}
		if err := yaml.Unmarshal(raw, &doc); err == nil && doc.Tasks != nil {
			cfg.Tasks = doc.Tasks
		}
	}
	if cfg.Tasks == nil {
		cfg.Tasks = map[string]any{}
	}
	return &cfg, nil
}

// readYAMLFile returns the content of a YAML config file, nil for other formats
func readYAMLFile(path string) []byte {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}

// setDefaults sets default configuration values
// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("artifacts_dir", DefaultArtifactsDir)
	v.SetDefault("kill_grace", DefaultKillGrace)
	v.SetDefault("check_interval", DefaultCheckInterval)
	v.SetDefault("duration", time.Duration(0))

	// Log defaults / 日志默认值
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age", DefaultLogMaxAge)

	// Telemetry defaults / 遥测默认值
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", DefaultOTLPEndpoint)
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", DefaultServiceName)
}

// Validate validates the configuration
// Validate 验证配置
func (c *Config) Validate() error {
	if c.ArtifactsDir == "" {
		return errors.New("artifacts_dir is required")
	}

	// Validate log level / 验证日志级别
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	// Validate log format / 验证日志格式
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be console or json)", c.Log.Format)
	}

	if c.KillGrace <= 0 {
		return errors.New("kill_grace must be positive")
	}
	if c.CheckInterval < 10*time.Millisecond {
		return errors.New("check_interval must be at least 10ms")
	}
	if c.Duration < 0 {
		return errors.New("duration must not be negative")
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}

	return nil
}

// String returns a string representation of the config (for debugging)
// String 返回配置的字符串表示（用于调试）
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{ArtifactsDir: %s, KillGrace: %v, CheckInterval: %v, Duration: %v, Log.Level: %s, Phases: %d}",
		c.ArtifactsDir,
		c.KillGrace,
		c.CheckInterval,
		c.Duration,
		c.Log.Level,
		len(c.Tasks),
	)
}

// ToYAML serializes the configuration to YAML format
// ToYAML 将配置序列化为 YAML 格式
func (c *Config) ToYAML() ([]byte, error) {
	out := struct {
		ArtifactsDir  string          `yaml:"artifacts_dir"`
		KillGrace     string          `yaml:"kill_grace"`
		CheckInterval string          `yaml:"check_interval"`
		Duration      string          `yaml:"duration"`
		Log           LogConfig       `yaml:"log"`
		Telemetry     TelemetryConfig `yaml:"telemetry"`
		Tasks         map[string]any  `yaml:"tasks,omitempty"`
	}{
		ArtifactsDir:  c.ArtifactsDir,
		KillGrace:     c.KillGrace.String(),
		CheckInterval: c.CheckInterval.String(),
		Duration:      c.Duration.String(),
		Log:           c.Log,
		Telemetry:     c.Telemetry,
		Tasks:         c.Tasks,
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
