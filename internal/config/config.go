// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string

	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	// Sandbox selects the snippet executor: "starlark" (in-process,
	// default) or "docker" (out-of-process Python).
	Sandbox        string
	SandboxImage   string
	SandboxTimeout time.Duration
	ModelTimeout   time.Duration

	MaxIterations  int
	MaxPipelines   int
	IngestWorkers  int
	IngestBatch    int
	MaxDocuments   int

	CorpusDir string
	DemoSeed  int64
	DBPath    string
}

// Load reads configuration from the environment. A missing variable falls
// back to its default; only malformed values are errors.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:   getenv("REPLAGENT_LISTEN_ADDR", ":8080"),
		LLMBaseURL:   getenv("REPLAGENT_LLM_BASE_URL", "http://localhost:11434/v1"),
		LLMAPIKey:    os.Getenv("REPLAGENT_LLM_API_KEY"),
		LLMModel:     getenv("REPLAGENT_LLM_MODEL", "gpt-4o-mini"),
		Sandbox:      getenv("REPLAGENT_SANDBOX", "starlark"),
		SandboxImage: getenv("REPLAGENT_SANDBOX_IMAGE", "python:3.12-alpine"),
		CorpusDir:    os.Getenv("REPLAGENT_CORPUS_DIR"),
		DBPath:       getenv("REPLAGENT_DB_PATH", "replagent.db"),
	}

	var err error
	if cfg.SandboxTimeout, err = getenvDuration("REPLAGENT_SANDBOX_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ModelTimeout, err = getenvDuration("REPLAGENT_MODEL_TIMEOUT", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MaxIterations, err = getenvInt("REPLAGENT_MAX_ITERATIONS", 10); err != nil {
		return Config{}, err
	}
	if cfg.MaxPipelines, err = getenvInt("REPLAGENT_MAX_PIPELINES", 8); err != nil {
		return Config{}, err
	}
	if cfg.IngestWorkers, err = getenvInt("REPLAGENT_INGEST_WORKERS", 4); err != nil {
		return Config{}, err
	}
	if cfg.IngestBatch, err = getenvInt("REPLAGENT_INGEST_BATCH", 50); err != nil {
		return Config{}, err
	}
	if cfg.MaxDocuments, err = getenvInt("REPLAGENT_MAX_DOCUMENTS", 1000); err != nil {
		return Config{}, err
	}
	seed, err := getenvInt("REPLAGENT_DEMO_SEED", 1)
	if err != nil {
		return Config{}, err
	}
	cfg.DemoSeed = int64(seed)

	if cfg.Sandbox != "starlark" && cfg.Sandbox != "docker" {
		return Config{}, fmt.Errorf("REPLAGENT_SANDBOX must be \"starlark\" or \"docker\", got %q", cfg.Sandbox)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}
