package dogu

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// Config struct
type Config struct {
	Values map[string]string
}

// Keys dogu recognizes in the config file and as environment overrides.
var configKeys = []struct {
	Key  string
	Desc string
}{
	{"DOGU_ROOT", "install root (default: $XDG_DATA_HOME/dogu)"},
	{"DOGU_CACHE", "download cache (default: $XDG_CACHE_HOME/dogu)"},
	{"DOGU_DEBUG", "set to 1 for debug output"},
	{"DOGU_PROBE_TIMEOUT", "version probe timeout in seconds (default: 5)"},
	{"DOGU_GO_VERSION", "pin the Go toolchain version"},
	{"DOGU_JAVA_VERSION", "pin the JDK major version (default: 21)"},
	{"DOGU_NODE_VERSION", "pin the Node.js version"},
	{"DOGU_GO_MIRROR", "base URL overriding https://go.dev/dl"},
	{"DOGU_JDK_MIRROR", "base URL overriding the Adoptium download host"},
	{"DOGU_NODE_MIRROR", "base URL overriding https://nodejs.org/dist"},
	{"DOGU_MAVEN_MIRROR", "base URL overriding the Apache Maven download host"},
	{"DOGU_MIRROR_ENDPOINT", "S3-compatible artifact mirror endpoint URL"},
	{"DOGU_MIRROR_BUCKET", "artifact mirror bucket name"},
	{"DOGU_MIRROR_ACCESS_KEY", "artifact mirror access key id"},
	{"DOGU_MIRROR_SECRET_KEY", "artifact mirror secret access key"},
}

func defaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "dogu", "config")
}

// Load the config file and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge DOGU_* env overrides
	mergeEnvOverrides(cfg)

	return cfg, nil
}

// Merge DOGU_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "DOGU_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func initConfig(cfg *Config) {
	RootDir = cfg.Values["DOGU_ROOT"]
	if RootDir == "" {
		RootDir = filepath.Join(xdg.DataHome, "dogu")
	}

	CacheDir = cfg.Values["DOGU_CACHE"]
	if CacheDir == "" {
		CacheDir = filepath.Join(xdg.CacheHome, "dogu")
	}

	Debug = cfg.Values["DOGU_DEBUG"] == "1"

	ProbeTimeout = 5 * time.Second
	if v := cfg.Values["DOGU_PROBE_TIMEOUT"]; v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			ProbeTimeout = time.Duration(secs) * time.Second
		} else {
			cPrintf(colWarn, "Ignoring invalid DOGU_PROBE_TIMEOUT %q\n", v)
		}
	}

	MirrorEndpoint = cfg.Values["DOGU_MIRROR_ENDPOINT"]
	MirrorBucket = cfg.Values["DOGU_MIRROR_BUCKET"]
	MirrorAccessKey = cfg.Values["DOGU_MIRROR_ACCESS_KEY"]
	MirrorSecretKey = cfg.Values["DOGU_MIRROR_SECRET_KEY"]

	ToolsDir = filepath.Join(RootDir, "tools")
	LangDir = filepath.Join(RootDir, "lang")
	IdeDir = filepath.Join(RootDir, "ide")
	StateFile = filepath.Join(RootDir, "state.json")
	ConfigDir = filepath.Join(xdg.ConfigHome, "dogu")
	ConfigFile = filepath.Join(ConfigDir, "config")
	EnvFile = filepath.Join(ConfigDir, "env.sh")
}

func knownConfigKey(key string) bool {
	for _, k := range configKeys {
		if k.Key == key {
			return true
		}
	}
	return false
}

func configShow(cfg *Config) {
	colArrow.Print("-> ")
	colInfo.Printf("Config file: %s\n", ConfigFile)
	for _, k := range configKeys {
		val, set := cfg.Values[k.Key]
		if !set || val == "" {
			fmt.Printf("  %-24s (unset) %s\n", k.Key, k.Desc)
			continue
		}
		if strings.Contains(k.Key, "SECRET") {
			val = "********"
		}
		fmt.Printf("  %-24s %s\n", k.Key, val)
	}
}

func configGet(cfg *Config, key string) error {
	if !knownConfigKey(key) {
		return fmt.Errorf("unknown config key %q", key)
	}
	fmt.Println(cfg.Values[key])
	return nil
}

// setConfigValue rewrites a single key in the config file, keeping
// comments and unrelated lines intact.
func setConfigValue(path, key, value string) error {
	var lines []string
	replaced := false
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			trimmed := strings.TrimSpace(line)
			if !strings.HasPrefix(trimmed, "#") {
				if k, _, ok := strings.Cut(trimmed, "="); ok && strings.TrimSpace(k) == key {
					if !replaced {
						lines = append(lines, fmt.Sprintf("%s=%s", key, value))
						replaced = true
					}
					continue
				}
			}
			lines = append(lines, line)
		}
	}
	if !replaced {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func defaultConfigTemplate() string {
	var b strings.Builder
	b.WriteString("# dogu configuration\n")
	b.WriteString("# Every key can also be set as an environment variable of the same name;\n")
	b.WriteString("# the environment wins over this file.\n\n")
	for _, k := range configKeys {
		fmt.Fprintf(&b, "# %s\n#%s=\n", k.Desc, k.Key)
	}
	return b.String()
}

func configReset(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func runEditor(files ...string) error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		editor = "nano"
	}
	cmd := exec.Command(editor, files...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func configEdit(path string) error {
	if !pathExists(path) {
		if err := configReset(path); err != nil {
			return err
		}
	}
	return runEditor(path)
}
