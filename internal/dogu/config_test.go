package dogu

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	content := `# dogu configuration
DOGU_JAVA_VERSION=17
DOGU_GO_MIRROR = "https://mirror.example/go"
not a key value line
DOGU_NODE_VERSION='22.14.0'
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if got := cfg.Values["DOGU_JAVA_VERSION"]; got != "17" {
		t.Fatalf("DOGU_JAVA_VERSION: got %q", got)
	}
	if got := cfg.Values["DOGU_GO_MIRROR"]; got != "https://mirror.example/go" {
		t.Fatalf("quoted value: got %q", got)
	}
	if got := cfg.Values["DOGU_NODE_VERSION"]; got != "22.14.0" {
		t.Fatalf("single-quoted value: got %q", got)
	}
}

func TestLoadConfigEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("DOGU_JAVA_VERSION=17\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DOGU_JAVA_VERSION", "21")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if got := cfg.Values["DOGU_JAVA_VERSION"]; got != "21" {
		t.Fatalf("env override lost: got %q", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("loadConfig on missing file: %v", err)
	}
	if cfg == nil || cfg.Values == nil {
		t.Fatal("missing file did not yield an empty config")
	}
}

func TestSetConfigValueKeepsUnrelatedLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config")
	original := "# keep this comment\nDOGU_JAVA_VERSION=17\nDOGU_NODE_VERSION=22.14.0\n"
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := setConfigValue(path, "DOGU_JAVA_VERSION", "21"); err != nil {
		t.Fatalf("setConfigValue: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	got := string(data)
	for _, want := range []string{"# keep this comment", "DOGU_JAVA_VERSION=21", "DOGU_NODE_VERSION=22.14.0"} {
		if !strings.Contains(got, want) {
			t.Fatalf("config missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "DOGU_JAVA_VERSION=17") {
		t.Fatalf("old value survived:\n%s", got)
	}
}

func TestSetConfigValueCreatesFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sub", "config")
	if err := setConfigValue(path, "DOGU_CACHE", "/tmp/cache"); err != nil {
		t.Fatalf("setConfigValue: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), "DOGU_CACHE=/tmp/cache") {
		t.Fatalf("config after create: %q err=%v", data, err)
	}
}

func TestKnownConfigKey(t *testing.T) {
	t.Parallel()
	if !knownConfigKey("DOGU_ROOT") {
		t.Fatal("DOGU_ROOT not recognized")
	}
	if knownConfigKey("DOGU_BOGUS") {
		t.Fatal("DOGU_BOGUS recognized")
	}
}
