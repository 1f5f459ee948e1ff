package main

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/hnhuaxi/singular/events"
	"github.com/hnhuaxi/singular/singleton"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel    string           `yaml:"log_level" default:"info"`
	MetricsAddr string           `yaml:"metrics_addr"`
	Coordinator singleton.Policy `yaml:"coordinator"`
	Events      events.Config    `yaml:"events"`
	Stress      StressConfig     `yaml:"stress"`
}

type StressConfig struct {
	Workers    int           `yaml:"workers" default:"64"`
	Iterations int           `yaml:"iterations" default:"1000"`
	Hold       time.Duration `yaml:"hold" default:"1ms"`
	BuildDelay time.Duration `yaml:"build_delay" default:"5ms"`
	FailEvery  int           `yaml:"fail_every"`
}

// loadConfig reads path over the defaults; an empty path yields the
// defaults alone.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, err
	}

	if path == "" {
		return &cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func (cfg *Config) logger() (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
