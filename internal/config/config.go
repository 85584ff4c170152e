package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Config holds application configuration.
type Config struct {
	// ContextLimit is the total context window of the generation model, in tokens.
	// History, system and response ceilings are derived from it.
	ContextLimit int `json:"context_limit"`

	// TokenizerModel selects the BPE encoding used for token counting.
	// Unknown models fall back to cl100k_base.
	TokenizerModel string `json:"tokenizer_model"`

	// NotebookTailLines is how many notebook lines are projected into the system prompt.
	NotebookTailLines int `json:"notebook_tail_lines"`

	// AgentDir holds AGENT.md, SOUL.md, USER.md and the notebook ledgers.
	// Empty means <base>/agent.
	AgentDir string `json:"agent_dir,omitempty"`

	// LLMModel is the model used for replies.
	LLMModel string `json:"llm_model"`

	// LLMSummaryModel is the (usually cheaper) model used for condensation.
	// Empty means LLMModel.
	LLMSummaryModel string `json:"llm_summary_model,omitempty"`

	// LLMMaxTokens caps reply length.
	LLMMaxTokens int `json:"llm_max_tokens"`

	// ProfileUpdateInterval is how many chat turns pass between USER.md refreshes.
	// Negative disables profile updates.
	ProfileUpdateInterval int `json:"profile_update_interval,omitempty"`

	// LLMBaseURL overrides the API endpoint (proxies, test servers).
	LLMBaseURL string `json:"llm_base_url,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// LogJSON switches stderr logs to JSON encoding.
	LogJSON bool `json:"log_json,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "chain", "notebook", "tokens".
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ContextLimit:          128_000,
		TokenizerModel:        "gpt-4o",
		NotebookTailLines:     15,
		LLMModel:              "claude-3-7-sonnet-latest",
		LLMMaxTokens:          2000,
		ProfileUpdateInterval: 5,
		LogLevel:              "info",
	}
}

// ResolveAgentDir returns AgentDir, or <baseDir>/agent when unset.
func (c *Config) ResolveAgentDir(baseDir string) string {
	if strings.TrimSpace(c.AgentDir) != "" {
		return c.AgentDir
	}
	return filepath.Join(baseDir, "agent")
}

// SummaryModel returns the model used for condensation calls.
func (c *Config) SummaryModel() string {
	if c.LLMSummaryModel != "" {
		return c.LLMSummaryModel
	}
	return c.LLMModel
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.tether.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.tether) and repo (.tether) directories.
// Repo config is found by walking upward from startDir to find the nearest .tether/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo
	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .tether/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".tether", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.ContextLimit = pickInt(overlay.ContextLimit, base.ContextLimit)
	result.NotebookTailLines = pickInt(overlay.NotebookTailLines, base.NotebookTailLines)
	result.LLMMaxTokens = pickInt(overlay.LLMMaxTokens, base.LLMMaxTokens)
	result.ProfileUpdateInterval = pickInt(overlay.ProfileUpdateInterval, base.ProfileUpdateInterval)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.TokenizerModel = pickString(overlay.TokenizerModel, base.TokenizerModel)
	result.AgentDir = pickString(overlay.AgentDir, base.AgentDir)
	result.LLMModel = pickString(overlay.LLMModel, base.LLMModel)
	result.LLMSummaryModel = pickString(overlay.LLMSummaryModel, base.LLMSummaryModel)
	result.LLMBaseURL = pickString(overlay.LLMBaseURL, base.LLMBaseURL)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)

	// Booleans: overlay wins if true, else base
	result.LogJSON = base.LogJSON || overlay.LogJSON

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
