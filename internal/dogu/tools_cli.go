package dogu

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type ghTool struct{ archiveTool }

func newGhTool() Installer {
	return &ghTool{archiveTool{
		info:    ToolInfo{ID: "gh", DisplayName: "GitHub CLI", Description: "GitHub command line tool"},
		probe:   []string{"gh", "--version"},
		parent:  toolsDir,
		dirName: "gh",
		resolve: resolveGhDownload,
		envFor: func(installPath string) []EnvAction {
			return []EnvAction{{Kind: ActionAppendPath, Value: filepath.Join(installPath, "bin")}}
		},
	}}
}

func resolveGhDownload(ctx context.Context, cfg *Config) (downloadSpec, error) {
	tag, err := latestGitHubRelease(ctx, "cli/cli")
	if err != nil {
		return downloadSpec{}, fmt.Errorf("resolve gh version: %w", err)
	}
	version := strings.TrimPrefix(tag, "v")
	filename := fmt.Sprintf("gh_%s_linux_%s.tar.gz", version, archString("amd64", "arm64"))
	base := "https://github.com/cli/cli/releases/download/" + tag
	return downloadSpec{
		Version:  version,
		URL:      base + "/" + filename,
		Filename: filename,
		Digest:   fetchChecksumDigest(ctx, fmt.Sprintf("%s/gh_%s_checksums.txt", base, version), filename),
	}, nil
}

// ghBinary prefers the managed install, falling back to whatever gh the
// PATH has.
func ghBinary(ic *InstallContext) string {
	if rec, ok := ic.Ledger.get("gh"); ok {
		managed := filepath.Join(rec.InstallPath, "bin", "gh")
		if pathExists(managed) {
			return managed
		}
	}
	return "gh"
}

func (t *ghTool) ExportConfig(ctx context.Context, ic *InstallContext) map[string]string {
	out, err := exec.CommandContext(ctx, ghBinary(ic), "config", "get", "editor").Output()
	if err != nil {
		return nil
	}
	editor := strings.TrimSpace(string(out))
	if editor == "" {
		return nil
	}
	return map[string]string{"editor": editor}
}

func (t *ghTool) ImportConfig(ctx context.Context, ic *InstallContext, values map[string]string) error {
	editor := values["editor"]
	if editor == "" {
		return nil
	}
	return ic.Exec.Run(exec.Command(ghBinary(ic), "config", "set", "editor", editor))
}

const claudeVersionFallback = "1.0.0"

// Release bucket for Claude Code binaries; var so tests can stub it.
var claudeBucket = "https://storage.googleapis.com/claude-code-dist-86c565f3-f756-42ad-8dfa-d59b1c096819/claude-code-releases"

func claudePlatform() string {
	return "linux-" + archString("x64", "arm64")
}

type claudeCodeTool struct{ baseInstaller }

func newClaudeCodeTool() Installer { return &claudeCodeTool{} }

func (t *claudeCodeTool) Info() ToolInfo {
	return ToolInfo{ID: "claude-code", DisplayName: "Claude Code", Description: "Anthropic Claude coding agent CLI"}
}

func (t *claudeCodeTool) Probe() []string { return []string{"claude", "--version"} }

// ResolveDownload pins the artifact to the sha256 published in the
// release manifest. No manifest entry means no install; the binary is
// never taken on faith.
func (t *claudeCodeTool) ResolveDownload(ctx context.Context, cfg *Config) (downloadSpec, error) {
	version, err := fetchText(ctx, versionClient, claudeBucket+"/latest")
	if err != nil || version == "" {
		cPrintf(colWarn, "Claude Code version lookup failed (%v); using %s\n", err, claudeVersionFallback)
		version = claudeVersionFallback
	}
	platform := claudePlatform()

	var manifest map[string]struct {
		SHA256 string `json:"sha256"`
	}
	if err := fetchJSON(ctx, versionClient, fmt.Sprintf("%s/%s/manifest.json", claudeBucket, version), &manifest); err != nil {
		return downloadSpec{}, fmt.Errorf("fetch claude-code manifest: %w", err)
	}
	entry, ok := manifest[platform]
	if !ok || entry.SHA256 == "" {
		return downloadSpec{}, fmt.Errorf("claude-code manifest has no sha256 for %s", platform)
	}

	return downloadSpec{
		Version:  version,
		URL:      fmt.Sprintf("%s/%s/%s/claude", claudeBucket, version, platform),
		Filename: fmt.Sprintf("claude-%s-%s", version, platform),
		Digest:   "sha256:" + entry.SHA256,
	}, nil
}

func (t *claudeCodeTool) Install(ctx context.Context, ic *InstallContext) (string, error) {
	installDir := filepath.Join(ToolsDir, "claude-code")
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", installDir, err)
	}
	if err := copyFile(ic.ArtifactPath, filepath.Join(installDir, "claude"), 0o755); err != nil {
		return "", fmt.Errorf("place claude binary: %w", err)
	}
	return installDir, nil
}

func (t *claudeCodeTool) EnvActions(installPath string) []EnvAction {
	return []EnvAction{{Kind: ActionAppendPath, Value: installPath}}
}
