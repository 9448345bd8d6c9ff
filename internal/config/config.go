package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Repos     ReposConfig     `mapstructure:"repos"`
	APIDocs   APIDocsConfig   `mapstructure:"api-docs"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	LLM       LLMConfig       `mapstructure:"llm"`
	OpenAPI   OpenAPIConfig   `mapstructure:"openapi"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Neo4j     Neo4jConfig     `mapstructure:"neo4j"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type ReposConfig struct {
	Directory string `mapstructure:"directory"`
}

type APIDocsConfig struct {
	Directory string `mapstructure:"directory"`
}

type AnalyzerConfig struct {
	// Command is the analyzer argv prefix; the working copy path is appended.
	Command []string `mapstructure:"command"`
}

type LLMConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	Model          string   `mapstructure:"model"`
	MaxSourceBytes int      `mapstructure:"max_source_bytes"`
	Include        []string `mapstructure:"include"`
	Exclude        []string `mapstructure:"exclude"`
}

type OpenAPIConfig struct {
	Title   string `mapstructure:"title"`
	Version string `mapstructure:"version"`
}

type TemplatesConfig struct {
	Viewer string `mapstructure:"viewer"`
}

type TimeoutsConfig struct {
	Fetch    time.Duration `mapstructure:"fetch"`
	Extract  time.Duration `mapstructure:"extract"`
	LLM      time.Duration `mapstructure:"llm"`
	Assemble time.Duration `mapstructure:"assemble"`
	Store    time.Duration `mapstructure:"store"`
}

// Neo4jConfig configures the optional endpoint catalog. An empty URI
// disables it.
type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// legacyEnv keeps the environment variable names earlier deployments used.
var legacyEnv = map[string]string{
	"server.port":     "BACKEND_PORT",
	"repos.directory": "REPOS_PATH",
	"neo4j.uri":       "NEO4J_URI",
	"neo4j.user":      "NEO4J_USER",
	"neo4j.password":  "NEO4J_PASSWORD",
	"llm.base_url":    "OLLAMA_API_URL",
	"llm.model":       "OLLAMA_MODEL",
}

// Load reads configuration from defaults, an optional YAML file and the
// environment (APIDOCS_<KEY>, dots and dashes replaced by underscores).
// If configPath is empty, APIDOCS_CONFIG is consulted.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("APIDOCS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		envKey := "APIDOCS_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
		if err := v.BindEnv(key, envKey, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configPath == "" {
		configPath = os.Getenv("APIDOCS_CONFIG")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Analyzer.Command = splitCommand(cfg.Analyzer.Command)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3001")
	v.SetDefault("repos.directory", "/clone/repos")
	v.SetDefault("api-docs.directory", "/api-docs/generated_docs")
	v.SetDefault("analyzer.command", []string{"python3", "python-parser/main.py"})
	v.SetDefault("llm.base_url", "http://localhost:11434")
	v.SetDefault("llm.model", "llama3")
	v.SetDefault("llm.max_source_bytes", 64*1024)
	v.SetDefault("llm.include", []string{"**/*.py"})
	v.SetDefault("llm.exclude", []string{"**/tests/**", "**/migrations/**"})
	v.SetDefault("openapi.title", "Auto-generated API")
	v.SetDefault("openapi.version", "1.0.0")
	v.SetDefault("templates.viewer", "templates/swagger-viewer.html")
	v.SetDefault("timeouts.fetch", 120*time.Second)
	v.SetDefault("timeouts.extract", 60*time.Second)
	v.SetDefault("timeouts.llm", 120*time.Second)
	v.SetDefault("timeouts.assemble", 30*time.Second)
	v.SetDefault("timeouts.store", 30*time.Second)
	v.SetDefault("neo4j.uri", "")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Repos.Directory == "" {
		errs = append(errs, errors.New("repos.directory is required"))
	}
	if c.APIDocs.Directory == "" {
		errs = append(errs, errors.New("api-docs.directory is required"))
	}
	if len(c.Analyzer.Command) == 0 {
		errs = append(errs, errors.New("analyzer.command is required"))
	}
	if c.LLM.BaseURL == "" {
		errs = append(errs, errors.New("llm.base_url is required"))
	}
	timeouts := map[string]time.Duration{
		"fetch":    c.Timeouts.Fetch,
		"extract":  c.Timeouts.Extract,
		"llm":      c.Timeouts.LLM,
		"assemble": c.Timeouts.Assemble,
		"store":    c.Timeouts.Store,
	}
	for name, d := range timeouts {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// splitCommand accepts a command given as one space-separated string
// (typical for environment variables) as well as a proper list.
func splitCommand(cmd []string) []string {
	if len(cmd) == 1 && strings.ContainsAny(cmd[0], " \t") {
		return strings.Fields(cmd[0])
	}
	return cmd
}
