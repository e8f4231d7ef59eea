package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/casegen/internal/segment"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"CASEGEN_LLM_PROVIDER", "CASEGEN_LLM_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "DEEPSEEK_API_KEY", "CASEGEN_LLM_TIMEOUT", "CASEGEN_COUNT"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != ProviderAnthropic || cfg.Generation.Count != 5 || cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected defaults %#v", cfg)
	}
	if cfg.ReflowMode() != segment.ReflowInline {
		t.Fatalf("reflow = %v", cfg.ReflowMode())
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "casegen.yaml", `
llm:
  provider: deepseek
  model: deepseek-chat
  timeout: 90s
generation:
  count: 10
  reflow: preserve
`)
	t.Setenv("DEEPSEEK_API_KEY", "sk-deep")
	t.Setenv("CASEGEN_COUNT", "12")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != ProviderDeepSeek || cfg.LLM.Model != "deepseek-chat" || cfg.LLM.Timeout != 90*time.Second {
		t.Fatalf("yaml not applied: %#v", cfg.LLM)
	}
	if cfg.LLM.APIKey != "sk-deep" {
		t.Fatalf("api key = %q", cfg.LLM.APIKey)
	}
	if cfg.Generation.Count != 12 || cfg.ReflowMode() != segment.ReflowPreserve {
		t.Fatalf("generation = %#v", cfg.Generation)
	}
	if cfg.LLM.MaxTokens != 8192 {
		t.Fatalf("unset yaml keys should keep defaults, max_tokens=%d", cfg.LLM.MaxTokens)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("ANTHROPIC_API_KEY")
	env := writeFile(t, ".env", "ANTHROPIC_API_KEY=sk-ant-file\n")
	t.Cleanup(func() { os.Unsetenv("ANTHROPIC_API_KEY") })

	cfg, err := Load("", env)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-ant-file" {
		t.Fatalf("api key = %q", cfg.LLM.APIKey)
	}

	if _, err := Load("", filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), ""); err == nil {
		t.Fatal("expected error for missing config file")
	}
	if _, err := Load(writeFile(t, "bad.yaml", "llm: [unterminated"), ""); err == nil {
		t.Fatal("expected parse error")
	}
	t.Setenv("CASEGEN_LLM_TIMEOUT", "soon")
	if _, err := Load("", ""); err == nil || !strings.Contains(err.Error(), "CASEGEN_LLM_TIMEOUT") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "gemini"
	cfg.Generation.Count = 31
	cfg.Generation.Reflow = "wrap"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"llm.provider", "generation.count", "generation.reflow"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}
