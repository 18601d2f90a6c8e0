package dogu

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const pycharmVersionFallback = "2024.3.1"

var codeUpdateAPIBase = "https://update.code.visualstudio.com"

type codeTool struct{ archiveTool }

func newCodeTool() Installer {
	return &codeTool{archiveTool{
		info:    ToolInfo{ID: "code", DisplayName: "VS Code", Description: "Visual Studio Code editor"},
		probe:   []string{"code", "--version"},
		parent:  ideDir,
		dirName: "code",
		resolve: resolveCodeDownload,
		envFor: func(installPath string) []EnvAction {
			return []EnvAction{{Kind: ActionAppendPath, Value: filepath.Join(installPath, "bin")}}
		},
	}}
}

func resolveCodeDownload(ctx context.Context, cfg *Config) (downloadSpec, error) {
	platform := "linux-" + archString("x64", "arm64")
	var rel struct {
		URL            string `json:"url"`
		ProductVersion string `json:"productVersion"`
		SHA256Hash     string `json:"sha256hash"`
	}
	api := fmt.Sprintf("%s/api/update/%s/stable/latest", codeUpdateAPIBase, platform)
	if err := fetchJSON(ctx, versionClient, api, &rel); err != nil || rel.ProductVersion == "" {
		cPrintf(colWarn, "VS Code release lookup failed (%v); using the latest redirect\n", err)
		filename := fmt.Sprintf("vscode-%s.tar.gz", platform)
		os.Remove(filepath.Join(CacheDir, filename))
		return downloadSpec{
			Version:  "latest",
			URL:      fmt.Sprintf("%s/latest/%s/stable", codeUpdateAPIBase, platform),
			Filename: filename,
		}, nil
	}

	spec := downloadSpec{
		Version:  rel.ProductVersion,
		URL:      rel.URL,
		Filename: fmt.Sprintf("vscode-%s-%s.tar.gz", rel.ProductVersion, platform),
	}
	if spec.URL == "" {
		spec.URL = fmt.Sprintf("%s/%s/%s/stable", codeUpdateAPIBase, rel.ProductVersion, platform)
	}
	if rel.SHA256Hash != "" {
		spec.Digest = "sha256:" + rel.SHA256Hash
	}
	return spec, nil
}

// codeBinary prefers the managed install's CLI wrapper.
func codeBinary(ic *InstallContext) string {
	if rec, ok := ic.Ledger.get("code"); ok {
		managed := filepath.Join(rec.InstallPath, "bin", "code")
		if pathExists(managed) {
			return managed
		}
	}
	return "code"
}

func (t *codeTool) ExportConfig(ctx context.Context, ic *InstallContext) map[string]string {
	out, err := exec.CommandContext(ctx, codeBinary(ic), "--list-extensions").Output()
	if err != nil {
		return nil
	}
	exts := strings.Fields(string(out))
	if len(exts) == 0 {
		return nil
	}
	return map[string]string{"extensions": strings.Join(exts, ",")}
}

func (t *codeTool) ImportConfig(ctx context.Context, ic *InstallContext, values map[string]string) error {
	bin := codeBinary(ic)
	for _, ext := range strings.Split(values["extensions"], ",") {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if err := ic.Exec.Run(exec.Command(bin, "--install-extension", ext)); err != nil {
			cPrintf(colWarn, "Could not install extension %s: %v\n", ext, err)
		}
	}
	return nil
}

func newPycharmTool() Installer {
	return &archiveTool{
		info:    ToolInfo{ID: "pycharm", DisplayName: "PyCharm", Description: "PyCharm Community IDE"},
		probe:   []string{"pycharm", "--version"},
		parent:  ideDir,
		dirName: "pycharm",
		resolve: resolvePycharmDownload,
		envFor: func(installPath string) []EnvAction {
			return []EnvAction{{Kind: ActionAppendPath, Value: filepath.Join(installPath, "bin")}}
		},
	}
}

func resolvePycharmDownload(ctx context.Context, cfg *Config) (downloadSpec, error) {
	version, err := latestJetBrainsVersion(ctx, "PCC")
	if err != nil {
		cPrintf(colWarn, "PyCharm release lookup failed (%v); using %s\n", err, pycharmVersionFallback)
		version = pycharmVersionFallback
	}
	filename := fmt.Sprintf("pycharm-community-%s%s.tar.gz", version, archString("", "-aarch64"))
	url := "https://download.jetbrains.com/python/" + filename
	return downloadSpec{
		Version:  version,
		URL:      url,
		Filename: filename,
		Digest:   fetchSingleDigest(ctx, url+".sha256"),
	}, nil
}
