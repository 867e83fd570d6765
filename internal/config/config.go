package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the validated armada configuration.
type Config struct {
	Provider string `yaml:"provider" validate:"required"`
	Model    string `yaml:"model" validate:"required"`

	Passes []Pass `yaml:"passes" validate:"required,min=1,dive"`

	Budget  Budget  `yaml:"budget"`
	Gate    Gate    `yaml:"gate"`
	Trust   Trust   `yaml:"trust"`
	Output  Output  `yaml:"output"`
	Cache   Cache   `yaml:"cache"`
	Privacy Privacy `yaml:"privacy"`

	// AgentTimeoutSeconds is the per-agent hard deadline.
	AgentTimeoutSeconds int `yaml:"agentTimeoutSeconds" validate:"min=0"`
	// MaxParallel caps concurrent agents within a pass (0 = default).
	MaxParallel int `yaml:"maxParallel" validate:"min=0"`
}

// Pass is one ordered group of agents executed together.
type Pass struct {
	Name     string   `yaml:"name" validate:"required"`
	Agents   []string `yaml:"agents" validate:"required,min=1,dive,required"`
	Enabled  *bool    `yaml:"enabled"`
	Required bool     `yaml:"required"`
	// EstimatedUSD is the pre-flight cost estimate checked against the
	// remaining budget before the pass launches.
	EstimatedUSD    float64 `yaml:"estimatedUsd" validate:"min=0"`
	EstimatedTokens int     `yaml:"estimatedTokens" validate:"min=0"`
}

// IsEnabled reports the pass enable flag, defaulting to true.
func (p Pass) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Budget holds the resource ceilings for a single run.
type Budget struct {
	MaxFiles     int     `yaml:"maxFiles" validate:"min=0"`
	MaxDiffLines int     `yaml:"maxDiffLines" validate:"min=0"`
	MaxTokens    int     `yaml:"maxTokens" validate:"min=0"`
	MaxUSD       float64 `yaml:"maxUsd" validate:"min=0"`
	MonthlyUSD   float64 `yaml:"monthlyUsd" validate:"min=0"`
	MaxSeconds   int     `yaml:"maxSeconds" validate:"min=0"`
}

// Gate is the policy deciding whether the run is reported as failing.
type Gate struct {
	Enabled bool   `yaml:"enabled"`
	FailOn  string `yaml:"failOn" validate:"omitempty,oneof=info warning error none"`
}

// Trust controls pre-flight pull-request checks.
type Trust struct {
	AllowForks    bool     `yaml:"allowForks"`
	ForkAllowlist []string `yaml:"forkAllowlist"`
}

// Output bounds what the reporting boundary receives.
type Output struct {
	MaxComments    int    `yaml:"maxComments" validate:"min=0"`
	MaxAnnotations int    `yaml:"maxAnnotations" validate:"min=0"`
	Format         string `yaml:"format" validate:"omitempty,oneof=json text markdown"`
}

// Cache controls the on-disk result cache.
type Cache struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"`
	TTLSeconds int    `yaml:"ttlSeconds" validate:"min=0"`
}

// Privacy controls redaction before diffs reach LLM providers.
type Privacy struct {
	RedactSecrets bool     `yaml:"redactSecrets"`
	RedactPaths   []string `yaml:"redactPaths"`
}

// ValidationError wraps schema validation failures so callers can
// distinguish configuration errors from I/O errors.
type ValidationError struct {
	err error
}

func (e *ValidationError) Error() string { return "invalid configuration: " + e.err.Error() }
func (e *ValidationError) Unwrap() error { return e.err }

// IsValidationError reports whether err is a configuration schema error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Default returns a Config with all defaults applied.
func Default() Config {
	enabled := true
	return Config{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Passes: []Pass{
			{Name: "static", Agents: []string{"pattern-scan"}, Enabled: &enabled},
			{Name: "review", Agents: []string{"llm-review"}, Enabled: &enabled},
		},
		Budget: Budget{
			MaxFiles:     200,
			MaxDiffLines: 6000,
			MaxTokens:    200000,
			MaxUSD:       2.0,
			MaxSeconds:   600,
		},
		Gate:   Gate{Enabled: true, FailOn: "error"},
		Output: Output{MaxComments: 25, MaxAnnotations: 50, Format: "json"},
		Cache:  Cache{Enabled: true, TTLSeconds: 86400},
		Privacy: Privacy{
			RedactSecrets: true,
			RedactPaths:   []string{"**/.env", "**/*secrets*"},
		},
		AgentTimeoutSeconds: 120,
	}
}

// Load reads, merges, and validates configuration: defaults <- file <- env.
// A missing file is not an error; an unparseable or invalid one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("reading config file: %w", err)
			}
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return Config{}, &ValidationError{err: fmt.Errorf("parsing %s: %w", path, err)}
			}
			merge(&cfg, fileCfg)
		}
	}

	mergeEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the schema.
func Validate(cfg Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return &ValidationError{err: err}
	}
	return nil
}

func merge(dst *Config, src Config) {
	if src.Provider != "" {
		dst.Provider = src.Provider
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if len(src.Passes) > 0 {
		dst.Passes = src.Passes
	}
	if src.Budget != (Budget{}) {
		dst.Budget = src.Budget
	}
	if src.Gate != (Gate{}) {
		dst.Gate = src.Gate
	}
	if src.Trust.AllowForks || len(src.Trust.ForkAllowlist) > 0 {
		dst.Trust = src.Trust
	}
	if src.Output != (Output{}) {
		dst.Output = src.Output
	}
	if src.Cache != (Cache{}) {
		dst.Cache = src.Cache
	}
	if src.Privacy.RedactSecrets || len(src.Privacy.RedactPaths) > 0 {
		dst.Privacy = src.Privacy
	}
	if src.AgentTimeoutSeconds > 0 {
		dst.AgentTimeoutSeconds = src.AgentTimeoutSeconds
	}
	if src.MaxParallel > 0 {
		dst.MaxParallel = src.MaxParallel
	}
}

func mergeEnv(cfg *Config) {
	if v := os.Getenv("ARMADA_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("ARMADA_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("ARMADA_FAIL_ON"); v != "" {
		cfg.Gate.FailOn = v
	}
	if v := os.Getenv("ARMADA_MAX_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budget.MaxUSD = f
		}
	}
	if v := os.Getenv("ARMADA_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Budget.MaxTokens = n
		}
	}
	if v := os.Getenv("ARMADA_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
}

// Fingerprint returns a stable hash of the normalized configuration, used
// as the config component of cache keys. Re-marshaling through yaml makes
// the hash independent of file formatting and key order.
func Fingerprint(cfg Config) string {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		// Config structs always marshal; a distinct constant beats a crash.
		return "unfingerprintable"
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16])
}

// Example returns a commented starter configuration for `armada config init`.
func Example() string {
	var b strings.Builder
	b.WriteString("# armada configuration\n")
	b.WriteString("provider: openai\n")
	b.WriteString("model: gpt-4o-mini\n\n")
	b.WriteString("passes:\n")
	b.WriteString("  - name: static\n")
	b.WriteString("    agents: [pattern-scan]\n")
	b.WriteString("  - name: review\n")
	b.WriteString("    agents: [llm-review]\n")
	b.WriteString("    required: true\n")
	b.WriteString("    estimatedUsd: 0.05\n\n")
	b.WriteString("budget:\n")
	b.WriteString("  maxUsd: 2.0\n")
	b.WriteString("  maxTokens: 200000\n")
	b.WriteString("  maxDiffLines: 6000\n\n")
	b.WriteString("gate:\n")
	b.WriteString("  enabled: true\n")
	b.WriteString("  failOn: error\n\n")
	b.WriteString("trust:\n")
	b.WriteString("  allowForks: false\n")
	b.WriteString("  forkAllowlist: []\n\n")
	b.WriteString("output:\n")
	b.WriteString("  maxComments: 25\n")
	b.WriteString("  maxAnnotations: 50\n")
	b.WriteString("  format: json\n")
	return b.String()
}
