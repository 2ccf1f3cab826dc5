package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type AIProviderConfig struct {
	Provider string          `json:"provider"`
	Data     json.RawMessage `json:"data"`
}

type AIConfig struct {
	// Providers is a fallback chain: the first entry that answers wins.
	Providers             []AIProviderConfig `json:"providers"`
	EmbeddingModel        string             `json:"embedding_model"`
	AnswerModel           string             `json:"answer_model"`
	AnswerTemperature     float64            `json:"answer_temperature"`
	JudgeModel            string             `json:"judge_model"`
	JudgeTemperature      float64            `json:"judge_temperature"`
	MetricsEmbeddingModel string             `json:"metrics_embedding_model"`
	TimeoutSeconds        int                `json:"timeout_seconds"`
}

type RAGConfig struct {
	TopK            int     `json:"top_k"`
	MinSimilarity   float64 `json:"min_similarity"`
	CacheSize       int     `json:"cache_size"`
	CacheTTLMinutes int     `json:"cache_ttl_minutes"`
}

type EvalConfig struct {
	Concurrency int `json:"concurrency"`
}

type ResyncConfig struct {
	Enable bool   `json:"enable"`
	Spec   string `json:"spec"`
	Batch  int    `json:"batch"`
}

type Config struct {
	Port          int              `json:"port"`
	LogConfig     logger.LogConfig `json:"log_config"`
	Database      DatabaseConfig   `json:"database"`
	AI            AIConfig         `json:"ai"`
	RAG           RAGConfig        `json:"rag"`
	Eval          EvalConfig       `json:"eval"`
	Resync        ResyncConfig     `json:"resync"`
	CORSAllowlist []string         `json:"cors_allowlist"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return nil, fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if len(cfg.AI.Providers) == 0 {
		return nil, fmt.Errorf("ai.providers is required")
	}
	for i, p := range cfg.AI.Providers {
		if p.Provider == "" {
			return nil, fmt.Errorf("ai.providers[%d].provider is required", i)
		}
	}
	if cfg.AI.EmbeddingModel == "" {
		return nil, fmt.Errorf("ai.embedding_model is required")
	}
	if cfg.AI.AnswerModel == "" {
		return nil, fmt.Errorf("ai.answer_model is required")
	}
	if cfg.AI.TimeoutSeconds == 0 {
		cfg.AI.TimeoutSeconds = 60
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.MinSimilarity == 0 {
		cfg.RAG.MinSimilarity = 0.6
	}
	if cfg.RAG.CacheSize == 0 {
		cfg.RAG.CacheSize = 1024
	}
	if cfg.RAG.CacheTTLMinutes == 0 {
		cfg.RAG.CacheTTLMinutes = 30
	}
	if cfg.Eval.Concurrency == 0 {
		cfg.Eval.Concurrency = 3
	}
	if cfg.Resync.Spec == "" {
		cfg.Resync.Spec = "*/10 * * * *"
	}
	if cfg.Resync.Batch == 0 {
		cfg.Resync.Batch = 32
	}
	return &cfg, nil
}
