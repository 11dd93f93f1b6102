package docqa

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the docqa engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.docqa/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where data is kept when DBPath is not set.
	// "home" (default) uses ~/.docqa/, "local" uses the working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// DocumentsDir holds copies of uploaded PDFs so documents can be
	// reindexed. Defaults to a "documents" directory next to the database.
	DocumentsDir string `json:"documents_dir" yaml:"documents_dir"`

	// LLM providers
	Chat   LLMConfig `json:"chat" yaml:"chat"`     // default provider for questions
	Vision LLMConfig `json:"vision" yaml:"vision"` // image page descriptions

	// Providers overrides model and endpoint per provider name when a
	// question selects a provider other than Chat.
	Providers map[string]LLMConfig `json:"providers,omitempty" yaml:"providers,omitempty"`

	// Chunking, in characters
	ChunkTargetSize int `json:"chunk_target_size" yaml:"chunk_target_size"`
	ChunkMaxSize    int `json:"chunk_max_size" yaml:"chunk_max_size"`
	ChunkOverlap    int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// Retrieval
	TopK         int `json:"top_k" yaml:"top_k"`
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// Image pages
	RenderScale       float64 `json:"render_scale" yaml:"render_scale"`
	VisionConcurrency int     `json:"vision_concurrency" yaml:"vision_concurrency"`
	VisionTimeoutSec  int     `json:"vision_timeout_sec" yaml:"vision_timeout_sec"`
	VisionRatePerMin  int     `json:"vision_rate_per_min" yaml:"vision_rate_per_min"`
	PdftoppmPath      string  `json:"pdftoppm_path" yaml:"pdftoppm_path"`

	// HistoryTurns is how many earlier chat messages are sent with a question.
	HistoryTurns int `json:"history_turns" yaml:"history_turns"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // openai, gemini, groq, openrouter, xai, ollama, lmstudio, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults.
// Database is stored in ~/.docqa/docqa.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "docqa",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Vision: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
		},
		ChunkTargetSize:   800,
		ChunkMaxSize:      1200,
		ChunkOverlap:      200,
		TopK:              5,
		EmbeddingDim:      128,
		RenderScale:       2.0,
		VisionConcurrency: 3,
		VisionTimeoutSec:  60,
		VisionRatePerMin:  60,
		PdftoppmPath:      "pdftoppm",
		HistoryTurns:      10,
	}
}

// LoadConfig reads a YAML or JSON config file over DefaultConfig. The
// format is chosen by extension; anything other than .json is read as YAML.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// ApplyEnv loads a .env file from the working directory when present and
// overrides fields from DOCQA_* environment variables. Well-known provider
// key variables (OPENAI_API_KEY, GEMINI_API_KEY, ...) fill empty API keys.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	str := map[string]*string{
		"DOCQA_DB_PATH":         &c.DBPath,
		"DOCQA_DOCUMENTS_DIR":   &c.DocumentsDir,
		"DOCQA_CHAT_PROVIDER":   &c.Chat.Provider,
		"DOCQA_CHAT_MODEL":      &c.Chat.Model,
		"DOCQA_CHAT_BASE_URL":   &c.Chat.BaseURL,
		"DOCQA_CHAT_API_KEY":    &c.Chat.APIKey,
		"DOCQA_VISION_PROVIDER": &c.Vision.Provider,
		"DOCQA_VISION_MODEL":    &c.Vision.Model,
		"DOCQA_VISION_BASE_URL": &c.Vision.BaseURL,
		"DOCQA_VISION_API_KEY":  &c.Vision.APIKey,
		"DOCQA_PDFTOPPM":        &c.PdftoppmPath,
	}
	for k, p := range str {
		if v := os.Getenv(k); v != "" {
			*p = v
		}
	}

	ints := map[string]*int{
		"DOCQA_TOP_K":              &c.TopK,
		"DOCQA_CHUNK_OVERLAP":      &c.ChunkOverlap,
		"DOCQA_VISION_CONCURRENCY": &c.VisionConcurrency,
	}
	for k, p := range ints {
		v := os.Getenv(k)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, k, v)
		}
		*p = n
	}

	if c.Chat.APIKey == "" {
		c.Chat.APIKey = providerKeyFromEnv(c.Chat.Provider)
	}
	if c.Vision.APIKey == "" {
		c.Vision.APIKey = providerKeyFromEnv(c.Vision.Provider)
	}
	return nil
}

func providerKeyFromEnv(provider string) string {
	if provider == "" {
		return ""
	}
	return os.Getenv(strings.ToUpper(provider) + "_API_KEY")
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.EmbeddingDim <= 0:
		return fmt.Errorf("%w: embedding_dim must be positive", ErrInvalidConfig)
	case c.ChunkMaxSize > 0 && c.ChunkTargetSize > c.ChunkMaxSize:
		return fmt.Errorf("%w: chunk_target_size exceeds chunk_max_size", ErrInvalidConfig)
	case c.ChunkOverlap < 0:
		return fmt.Errorf("%w: chunk_overlap must not be negative", ErrInvalidConfig)
	case c.RenderScale < 0:
		return fmt.Errorf("%w: render_scale must not be negative", ErrInvalidConfig)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "docqa"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".docqa", name+".db")
	}
}

// resolveDocumentsDir returns where uploaded PDFs are copied.
func (c *Config) resolveDocumentsDir() string {
	if c.DocumentsDir != "" {
		return c.DocumentsDir
	}
	return filepath.Join(filepath.Dir(c.resolveDBPath()), "documents")
}
