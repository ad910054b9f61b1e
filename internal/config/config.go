package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config collects everything the server reads from the environment.
type Config struct {
	Server  ServerConfig
	DBPath  string
	Sandbox SandboxConfig
	Limiter LimiterConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  int // seconds
	WriteTimeout int
	IdleTimeout  int
}

type SandboxConfig struct {
	Image            string
	ProjectLabel     string
	DeadlineMs       int
	OutputCapBytes   int
	MemoryLimitBytes int64
	CPUShares        int64
}

type LimiterConfig struct {
	GlobalRPS     float64
	PerKeyRPS     float64
	PerKeyBurst   int
	MaxConcurrent int
}

func LoadConfig() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	conf := &Config{
		Server: ServerConfig{
			Port:         envInt("RUNBOX_PORT", 3000),
			ReadTimeout:  envInt("RUNBOX_READ_TIMEOUT", 15),
			WriteTimeout: envInt("RUNBOX_WRITE_TIMEOUT", 15),
			IdleTimeout:  envInt("RUNBOX_IDLE_TIMEOUT", 60),
		},
		DBPath: envStr("RUNBOX_DB_PATH", "data/runbox.db"),
		Sandbox: SandboxConfig{
			Image:            envStr("RUNBOX_SANDBOX_IMAGE", "openjdk:17-alpine"),
			ProjectLabel:     envStr("RUNBOX_PROJECT_LABEL", "runbox"),
			DeadlineMs:       envInt("RUNBOX_DEADLINE_MS", 10000),
			OutputCapBytes:   envInt("RUNBOX_OUTPUT_CAP_BYTES", 10000),
			MemoryLimitBytes: envInt64("RUNBOX_MEMORY_LIMIT_BYTES", 512*1024*1024),
			CPUShares:        envInt64("RUNBOX_CPU_SHARES", 512),
		},
		Limiter: LimiterConfig{
			GlobalRPS:     envFloat("RUNBOX_GLOBAL_RPS", 100),
			PerKeyRPS:     envFloat("RUNBOX_PER_KEY_RPS", 10),
			PerKeyBurst:   envInt("RUNBOX_PER_KEY_BURST", 20),
			MaxConcurrent: envInt("RUNBOX_MAX_CONCURRENT", 50),
		},
	}

	if conf.Sandbox.DeadlineMs <= 0 {
		return nil, fmt.Errorf("RUNBOX_DEADLINE_MS must be positive, got %d", conf.Sandbox.DeadlineMs)
	}
	if conf.Sandbox.OutputCapBytes <= 0 {
		return nil, fmt.Errorf("RUNBOX_OUTPUT_CAP_BYTES must be positive, got %d", conf.Sandbox.OutputCapBytes)
	}
	return conf, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
