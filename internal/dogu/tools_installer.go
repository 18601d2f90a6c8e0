package dogu

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var rustupDistBase = "https://static.rust-lang.org/rustup"

type rustupTool struct{ baseInstaller }

func newRustupTool() Installer { return &rustupTool{} }

func (t *rustupTool) Info() ToolInfo {
	return ToolInfo{ID: "rustup", DisplayName: "Rust", Description: "Rust toolchain via rustup"}
}

func (t *rustupTool) Probe() []string { return []string{"rustup", "--version"} }

func (t *rustupTool) ResolveDownload(ctx context.Context, cfg *Config) (downloadSpec, error) {
	// release-stable.toml is a tiny TOML file; the one line that matters
	// reads version = "1.27.1".
	version := "stable"
	if doc, err := fetchText(ctx, versionClient, rustupDistBase+"/release-stable.toml"); err == nil {
		for _, line := range strings.Split(doc, "\n") {
			if v, ok := strings.CutPrefix(strings.TrimSpace(line), "version = "); ok {
				version = strings.Trim(v, `"`)
				break
			}
		}
	}
	triple := archString("x86_64", "aarch64") + "-unknown-linux-gnu"
	url := fmt.Sprintf("%s/dist/%s/rustup-init", rustupDistBase, triple)
	return downloadSpec{
		Version:  version,
		URL:      url,
		Filename: fmt.Sprintf("rustup-init-%s-%s", version, triple),
		Digest:   fetchSingleDigest(ctx, url+".sha256"),
	}, nil
}

func (t *rustupTool) Install(ctx context.Context, ic *InstallContext) (string, error) {
	rustupHome := filepath.Join(ToolsDir, "rustup")
	cargoHome := filepath.Join(LangDir, "cargo")
	for _, dir := range []string{rustupHome, cargoHome} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create %s: %w", dir, err)
		}
	}

	run := *ic.Exec
	run.Env = map[string]string{}
	for k, v := range ic.Exec.Env {
		run.Env[k] = v
	}
	run.Env["RUSTUP_HOME"] = rustupHome
	run.Env["CARGO_HOME"] = cargoHome

	args := []string{"-y", "--no-modify-path", "--default-toolchain", "stable"}
	if err := runInstallerProgram(ctx, ic.ArtifactPath, args, &run); err != nil {
		return "", fmt.Errorf("rustup-init failed: %w", err)
	}
	return cargoHome, nil
}

func (t *rustupTool) EnvActions(installPath string) []EnvAction {
	return []EnvAction{
		{Kind: ActionSetVar, Name: "RUSTUP_HOME", Value: filepath.Join(ToolsDir, "rustup")},
		{Kind: ActionSetVar, Name: "CARGO_HOME", Value: installPath},
		{Kind: ActionAppendPath, Value: filepath.Join(installPath, "bin")},
	}
}

// PreUninstall clears RUSTUP_HOME, which lives outside the recorded
// install path.
func (t *rustupTool) PreUninstall(ctx context.Context, ic *InstallContext) error {
	return os.RemoveAll(filepath.Join(ToolsDir, "rustup"))
}

type minicondaTool struct{ baseInstaller }

func newMinicondaTool() Installer { return &minicondaTool{} }

func (t *minicondaTool) Info() ToolInfo {
	return ToolInfo{ID: "miniconda", DisplayName: "Miniconda", Description: "Minimal conda Python distribution"}
}

func (t *minicondaTool) Probe() []string { return []string{"conda", "--version"} }

// ResolveDownload tracks the rolling "latest" installer; Anaconda
// publishes no version listing for it.
func (t *minicondaTool) ResolveDownload(ctx context.Context, cfg *Config) (downloadSpec, error) {
	filename := fmt.Sprintf("Miniconda3-latest-Linux-%s.sh", archString("x86_64", "aarch64"))
	os.Remove(filepath.Join(CacheDir, filename))
	return downloadSpec{
		Version:  "latest",
		URL:      "https://repo.anaconda.com/miniconda/" + filename,
		Filename: filename,
	}, nil
}

func (t *minicondaTool) Install(ctx context.Context, ic *InstallContext) (string, error) {
	prefix := filepath.Join(ToolsDir, "miniconda")
	args := []string{"-b", "-u", "-p", prefix}
	if err := runInstallerProgram(ctx, ic.ArtifactPath, args, ic.Exec); err != nil {
		return "", fmt.Errorf("miniconda installer failed: %w", err)
	}
	return prefix, nil
}

func (t *minicondaTool) EnvActions(installPath string) []EnvAction {
	return []EnvAction{
		{Kind: ActionAppendPath, Value: filepath.Join(installPath, "bin")},
		{Kind: ActionAppendPath, Value: filepath.Join(installPath, "condabin")},
	}
}
