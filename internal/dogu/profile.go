package dogu

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed assets/profile-schema.json
var profileSchemaJSON []byte

// profileDoc is the shareable workstation description `dogu export`
// writes and `dogu import` consumes.
type profileDoc struct {
	Meta       profileMeta                  `yaml:"meta"`
	Settings   map[string]string            `yaml:"settings,omitempty"`
	Tools      map[string]string            `yaml:"tools,omitempty"`
	ToolConfig map[string]map[string]string `yaml:"tool_config,omitempty"`
}

type profileMeta struct {
	Version    int    `yaml:"version"`
	ExportedAt string `yaml:"exported_at,omitempty"`
}

var (
	profileSchemaOnce sync.Once
	profileSchema     *jsonschema.Schema
	profileSchemaErr  error
)

func loadProfileSchema() (*jsonschema.Schema, error) {
	profileSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(profileSchemaJSON))
		if err != nil {
			profileSchemaErr = fmt.Errorf("parse embedded profile schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("profile-schema.json", doc); err != nil {
			profileSchemaErr = fmt.Errorf("load profile schema: %w", err)
			return
		}
		s, err := c.Compile("profile-schema.json")
		if err != nil {
			profileSchemaErr = fmt.Errorf("compile profile schema: %w", err)
			return
		}
		profileSchema = s
	})
	return profileSchema, profileSchemaErr
}

// parseProfile validates data against the embedded schema and decodes it.
// Validation happens on a YAML -> JSON round-trip of the raw document, so
// nothing is applied from a profile that does not fully conform.
func parseProfile(data []byte, catalog []Installer) (*profileDoc, error) {
	schema, err := loadProfileSchema()
	if err != nil {
		return nil, err
	}

	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	jsonBytes, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("profile is not JSON-compatible: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonBytes))
	if err != nil {
		return nil, fmt.Errorf("profile round-trip: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	var doc profileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if err := checkProfileRefs(&doc, catalog); err != nil {
		return nil, err
	}
	return &doc, nil
}

// checkProfileRefs rejects settings keys and tool ids dogu does not know,
// with every problem reported at once.
func checkProfileRefs(doc *profileDoc, catalog []Installer) error {
	var problems []string
	for _, k := range slices.Sorted(maps.Keys(doc.Settings)) {
		if !knownConfigKey(k) {
			problems = append(problems, fmt.Sprintf("settings: unknown key %s", k))
		}
	}
	for _, id := range slices.Sorted(maps.Keys(doc.Tools)) {
		if toolByID(catalog, id) == nil {
			problems = append(problems, fmt.Sprintf("tools: unknown tool %s", id))
		}
	}
	for _, id := range slices.Sorted(maps.Keys(doc.ToolConfig)) {
		if toolByID(catalog, id) == nil {
			problems = append(problems, fmt.Sprintf("tool_config: unknown tool %s", id))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid profile:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// exportProfile writes the workstation's current state as a YAML profile.
func exportProfile(ctx context.Context, path string, catalog []Installer, ic *InstallContext) error {
	results := detectAll(ctx, catalog, ic.Ledger)

	doc := profileDoc{
		Meta:     profileMeta{Version: 1, ExportedAt: time.Now().UTC().Format(time.RFC3339)},
		Settings: exportableSettings(ic.Cfg),
	}
	for i, tool := range catalog {
		res := results[i]
		if res.State == StateNotInstalled {
			continue
		}
		ver := res.Version
		if ver == "" {
			ver = "unknown"
		}
		if doc.Tools == nil {
			doc.Tools = map[string]string{}
		}
		doc.Tools[tool.Info().ID] = ver
		if values := tool.ExportConfig(ctx, ic); len(values) > 0 {
			if doc.ToolConfig == nil {
				doc.ToolConfig = map[string]map[string]string{}
			}
			doc.ToolConfig[tool.Info().ID] = values
		}
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	cPrintf(colSuccess, "Profile written to %s (%d tools).\n", path, len(doc.Tools))
	return nil
}

// exportableSettings keeps version pins and download mirrors. Artifact
// mirror credentials never leave the machine.
func exportableSettings(cfg *Config) map[string]string {
	var out map[string]string
	for k, v := range cfg.Values {
		if v == "" || !knownConfigKey(k) {
			continue
		}
		if !strings.HasSuffix(k, "_VERSION") && !strings.HasSuffix(k, "_MIRROR") {
			continue
		}
		if out == nil {
			out = map[string]string{}
		}
		out[k] = v
	}
	return out
}

// importProfile applies a validated profile: settings to the config file,
// tools through the batch installer, then per-tool configuration.
func importProfile(ctx context.Context, path string, catalog []Installer, ic *InstallContext) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profile: %w", err)
	}
	doc, err := parseProfile(data, catalog)
	if err != nil {
		return err
	}

	for _, k := range slices.Sorted(maps.Keys(doc.Settings)) {
		if err := setConfigValue(ConfigFile, k, doc.Settings[k]); err != nil {
			return fmt.Errorf("apply setting %s: %w", k, err)
		}
		ic.Cfg.Values[k] = doc.Settings[k]
	}
	if len(doc.Settings) > 0 {
		// Environment overrides still win over imported settings.
		mergeEnvOverrides(ic.Cfg)
		cPrintln(colInfo, "Applied profile settings.")
	}

	var ids []string
	for _, tool := range catalog {
		if _, ok := doc.Tools[tool.Info().ID]; ok {
			ids = append(ids, tool.Info().ID)
		}
	}
	var batchErr error
	if len(ids) > 0 {
		batchErr = installMany(ctx, catalog, ic, ids)
	}

	applied := 0
	for _, tool := range catalog {
		values := doc.ToolConfig[tool.Info().ID]
		if len(values) == 0 {
			continue
		}
		if detectOne(ctx, tool, ic.Ledger).State == StateNotInstalled {
			cPrintf(colWarn, "Skipping configuration for %s: not installed.\n", tool.Info().ID)
			continue
		}
		if err := tool.ImportConfig(ctx, ic, values); err != nil {
			cPrintf(colWarn, "Could not apply %s configuration: %v\n", tool.Info().ID, err)
			continue
		}
		applied++
	}
	if applied > 0 {
		cPrintln(colSuccess, "Tool configuration applied.")
	}
	return batchErr
}
