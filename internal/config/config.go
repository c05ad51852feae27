package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config is the persistent application configuration.
type Config struct {
	// AI model providers
	Models ModelConfig `json:"models"`

	// Live audio capture
	Audio AudioConfig `json:"audio"`

	// Speech-to-text
	Speech SpeechConfig `json:"speech"`

	// Document ingestion and search
	Ingest IngestConfig `json:"ingest"`

	// Optional drop folder: files placed here are ingested automatically
	WatchDir string `json:"watch_dir,omitempty"`

	// HTTP listen address
	Listen string `json:"listen"`
}

// ModelConfig holds AI provider settings.
type ModelConfig struct {
	OpenAI ModelSettings `json:"openai"`
	Ollama ModelSettings `json:"ollama"`
}

// ModelSettings for a single AI provider.
type ModelSettings struct {
	Enabled  bool   `json:"enabled"`
	APIKey   string `json:"api_key,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Model    string `json:"model,omitempty"`
	Priority int    `json:"priority"` // Lower = higher priority for fallback
}

// AudioConfig holds capture settings.
type AudioConfig struct {
	SampleRate     int    `json:"sample_rate"`     // Hz
	SegmentSeconds int    `json:"segment_seconds"` // fixed segment duration
	Input          string `json:"input"`           // ffmpeg input spec, e.g. "default"
	InputFormat    string `json:"input_format"`    // ffmpeg -f value, e.g. "pulse"
	FFmpegBin      string `json:"ffmpeg_bin,omitempty"`
}

// SpeechConfig holds transcription settings.
type SpeechConfig struct {
	WhisperBin  string   `json:"whisper_bin"`
	WhisperArgs []string `json:"whisper_args,omitempty"`
	Model       string   `json:"model,omitempty"`
	Workers     int      `json:"workers"` // shared transcriber pool size
}

// IngestConfig holds chunking and retrieval settings.
type IngestConfig struct {
	ChunkWords     int    `json:"chunk_words"`  // words per document chunk
	SearchK        int    `json:"search_k"`     // similarity results per query
	EmbedModel     string `json:"embed_model"`  // Ollama embedding model
	EmbedEndpoint  string `json:"embed_endpoint,omitempty"`
	SummaryGroup   int    `json:"summary_group"` // docs per summary prompt
}

// DefaultConfig returns sensible defaults matching the original notebook:
// 16 kHz mono capture in 15 second segments, 256-word chunks, top-2 search.
func DefaultConfig() *Config {
	return &Config{
		Models: ModelConfig{
			OpenAI: ModelSettings{
				Enabled:  false,
				Priority: 1,
				Model:    "gpt-4o-mini",
			},
			Ollama: ModelSettings{
				Enabled:  true,
				Priority: 2,
				Endpoint: "http://localhost:11434",
			},
		},
		Audio: AudioConfig{
			SampleRate:     16000,
			SegmentSeconds: 15,
			Input:          "default",
			InputFormat:    "pulse",
		},
		Speech: SpeechConfig{
			WhisperBin: "whisper-cli",
			Model:      "medium",
			Workers:    1,
		},
		Ingest: IngestConfig{
			ChunkWords:    256,
			SearchK:       2,
			EmbedModel:    "nomic-embed-text",
			EmbedEndpoint: "http://localhost:11434",
			SummaryGroup:  3,
		},
		Listen: "127.0.0.1:5000",
	}
}

// DataDir returns the directory for logs, notebooks and config.
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".kairos")
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.json")
}

// Load reads config from disk, or returns defaults.
func Load() (*Config, error) {
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			cfg.AutoPopulateFromEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), nil
	}

	cfg.AutoPopulateFromEnv()
	return &cfg, nil
}

// Save writes config to disk.
func (c *Config) Save() error {
	path := ConfigPath()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600) // Restrictive permissions for API keys
}

// AutoPopulateFromEnv fills in API keys from environment variables.
func (c *Config) AutoPopulateFromEnv() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Models.OpenAI.APIKey == "" {
		c.Models.OpenAI.APIKey = key
		c.Models.OpenAI.Enabled = true
	}
	if ep := os.Getenv("OLLAMA_HOST"); ep != "" {
		c.Models.Ollama.Endpoint = ep
	}
}
