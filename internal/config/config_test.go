package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "3001", cfg.Server.Port)
	assert.Equal(t, "/clone/repos", cfg.Repos.Directory)
	assert.Equal(t, "/api-docs/generated_docs", cfg.APIDocs.Directory)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, []string{"python3", "python-parser/main.py"}, cfg.Analyzer.Command)
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Fetch)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.Extract)
	assert.Equal(t, 120*time.Second, cfg.Timeouts.LLM)
	assert.Empty(t, cfg.Neo4j.URI)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLConfigFile(t *testing.T) {
	t.Setenv("APIDOCS_CONFIG", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "apidocs.yaml")
	content := `
repos:
  directory: /tmp/repos
api-docs:
  directory: /tmp/docs
analyzer:
  command: ["/usr/local/bin/analyzer", "--format", "json"]
llm:
  model: codellama
timeouts:
  extract: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/repos", cfg.Repos.Directory)
	assert.Equal(t, "/tmp/docs", cfg.APIDocs.Directory)
	assert.Equal(t, []string{"/usr/local/bin/analyzer", "--format", "json"}, cfg.Analyzer.Command)
	assert.Equal(t, "codellama", cfg.LLM.Model)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Extract)
	// untouched keys keep defaults
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Fetch)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APIDOCS_CONFIG", "")
	t.Setenv("APIDOCS_LLM_MODEL", "mistral")
	t.Setenv("APIDOCS_TIMEOUTS_LLM", "45s")
	t.Setenv("APIDOCS_ANALYZER_COMMAND", "python3 tools/analyze.py")
	t.Setenv("REPOS_PATH", "/srv/repos")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.LLM)
	assert.Equal(t, []string{"python3", "tools/analyze.py"}, cfg.Analyzer.Command)
	assert.Equal(t, "/srv/repos", cfg.Repos.Directory)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Repos.Directory = ""
	cfg.Analyzer.Command = nil
	cfg.Timeouts.Fetch = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repos.directory")
	assert.Contains(t, err.Error(), "analyzer.command")
	assert.Contains(t, err.Error(), "timeouts.fetch")
}
