package dogu

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/jedisct1/go-minisign"
)

//go:embed assets/update-target.json
var embeddedUpdateTargetJSON []byte

// updateTargetConfig describes where dogu's own releases are published.
// It is embedded so a broken descriptor is caught by the test suite, not
// on a user's machine mid-update.
type updateTargetConfig struct {
	Schema       string `json:"schema"`
	Repo         string `json:"repo"`
	AssetPattern string `json:"assetPattern"`

	// MinisignKey is the base64 public half of the release signing key.
	// Empty means releases are unsigned and no verification runs.
	MinisignKey string `json:"minisignKey,omitempty"`
}

var (
	updateTargetOnce sync.Once
	updateTargetCfg  *updateTargetConfig
	updateTargetErr  error
)

// loadUpdateTarget parses and validates the embedded descriptor once.
func loadUpdateTarget() (*updateTargetConfig, error) {
	updateTargetOnce.Do(func() {
		if len(embeddedUpdateTargetJSON) == 0 {
			updateTargetErr = errors.New("embedded update target is empty")
			return
		}
		var cfg updateTargetConfig
		if err := json.Unmarshal(embeddedUpdateTargetJSON, &cfg); err != nil {
			updateTargetErr = fmt.Errorf("parse embedded update target: %w", err)
			return
		}
		if err := validateUpdateTarget(&cfg); err != nil {
			updateTargetErr = err
			return
		}
		updateTargetCfg = &cfg
	})
	return updateTargetCfg, updateTargetErr
}

// validateUpdateTarget aggregates every problem into one error.
func validateUpdateTarget(cfg *updateTargetConfig) error {
	var problems []string

	if strings.TrimSpace(cfg.Schema) == "" {
		problems = append(problems, "schema: missing")
	}
	if strings.TrimSpace(cfg.Repo) == "" {
		problems = append(problems, "repo: missing")
	} else if strings.Count(cfg.Repo, "/") != 1 {
		problems = append(problems, fmt.Sprintf("repo: want owner/name, got %q", cfg.Repo))
	}
	if strings.TrimSpace(cfg.AssetPattern) == "" {
		problems = append(problems, "assetPattern: missing")
	} else if !strings.Contains(cfg.AssetPattern, "{version}") {
		problems = append(problems, "assetPattern: missing {version} placeholder")
	}
	if cfg.MinisignKey != "" {
		if _, err := minisign.NewPublicKey(cfg.MinisignKey); err != nil {
			problems = append(problems, fmt.Sprintf("minisignKey: %v", err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid embedded update target:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// expandAssetPattern fills the placeholders the descriptor's asset name
// uses for the running platform.
func expandAssetPattern(pattern, ver string) string {
	r := strings.NewReplacer(
		"{version}", ver,
		"{os}", runtime.GOOS,
		"{arch}", runtime.GOARCH,
	)
	return r.Replace(pattern)
}
