package dogu

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const goVersionFallback = "1.24.0"

// goRelease mirrors one entry of the go.dev download listing.
type goRelease struct {
	Version string `json:"version"`
	Stable  bool   `json:"stable"`
	Files   []struct {
		Filename string `json:"filename"`
		OS       string `json:"os"`
		Arch     string `json:"arch"`
		SHA256   string `json:"sha256"`
		Kind     string `json:"kind"`
	} `json:"files"`
}

type goTool struct{ archiveTool }

func newGoTool() Installer {
	return &goTool{archiveTool{
		info:    ToolInfo{ID: "go", DisplayName: "Go", Description: "Go programming language toolchain"},
		probe:   []string{"go", "version"},
		parent:  langDir,
		dirName: "go",
		resolve: resolveGoDownload,
		envFor:  goEnvActions,
	}}
}

// Configure creates GOPATH so the first module fetch does not have to.
func (t *goTool) Configure(ctx context.Context, ic *InstallContext) error {
	return os.MkdirAll(filepath.Join(LangDir, "gopath"), 0o755)
}

func goEnvActions(installPath string) []EnvAction {
	gopath := filepath.Join(LangDir, "gopath")
	return []EnvAction{
		{Kind: ActionSetVar, Name: "GOROOT", Value: installPath},
		{Kind: ActionSetVar, Name: "GOPATH", Value: gopath},
		{Kind: ActionAppendPath, Value: filepath.Join(installPath, "bin")},
		{Kind: ActionAppendPath, Value: filepath.Join(gopath, "bin")},
	}
}

func resolveGoDownload(ctx context.Context, cfg *Config) (downloadSpec, error) {
	pinned := cfg.Values["DOGU_GO_VERSION"]
	goArch := archString("amd64", "arm64")

	// The listing only carries current releases unless include=all.
	url := goDevReleasesURL
	if pinned != "" {
		url += "&include=all"
	}
	var listing []goRelease
	if err := fetchJSON(ctx, versionClient, url, &listing); err != nil {
		version := pinned
		if version == "" {
			cPrintf(colWarn, "Go release lookup failed (%v); using %s\n", err, goVersionFallback)
			version = goVersionFallback
		}
		return goSpecFromPattern(cfg, version, goArch), nil
	}

	var rel *goRelease
	for i := range listing {
		if pinned == "" && listing[i].Stable {
			rel = &listing[i]
			break
		}
		if pinned != "" && listing[i].Version == "go"+pinned {
			rel = &listing[i]
			break
		}
	}
	if rel == nil {
		if pinned == "" {
			return downloadSpec{}, fmt.Errorf("no stable release in go.dev listing")
		}
		// Pinned version the listing does not know; trust the pattern.
		return goSpecFromPattern(cfg, pinned, goArch), nil
	}

	spec := goSpecFromPattern(cfg, strings.TrimPrefix(rel.Version, "go"), goArch)
	for _, f := range rel.Files {
		if f.OS == "linux" && f.Arch == goArch && f.Kind == "archive" {
			spec.Digest = "sha256:" + f.SHA256
			break
		}
	}
	return spec, nil
}

func goSpecFromPattern(cfg *Config, version, goArch string) downloadSpec {
	filename := fmt.Sprintf("go%s.linux-%s.tar.gz", version, goArch)
	base := cfg.Values["DOGU_GO_MIRROR"]
	if base == "" {
		base = "https://go.dev/dl"
	}
	return downloadSpec{
		Version:  version,
		URL:      strings.TrimSuffix(base, "/") + "/" + filename,
		Filename: filename,
	}
}

type nodeTool struct{ archiveTool }

func newNodeTool() Installer {
	return &nodeTool{archiveTool{
		info:    ToolInfo{ID: "node", DisplayName: "Node.js", Description: "Node.js runtime (LTS)"},
		probe:   []string{"node", "--version"},
		parent:  langDir,
		dirName: "node",
		resolve: resolveNodeDownload,
		envFor: func(installPath string) []EnvAction {
			return []EnvAction{{Kind: ActionAppendPath, Value: filepath.Join(installPath, "bin")}}
		},
	}}
}

// Configure turns on corepack so the yarn and pnpm shims ride along.
func (t *nodeTool) Configure(ctx context.Context, ic *InstallContext) error {
	rec, ok := ic.Ledger.get("node")
	if !ok {
		return nil
	}
	corepack := filepath.Join(rec.InstallPath, "bin", "corepack")
	if !pathExists(corepack) {
		return nil
	}
	if err := ic.Exec.Run(exec.Command(corepack, "enable")); err != nil {
		cPrintf(colWarn, "corepack enable failed: %v\n", err)
	}
	return nil
}

func resolveNodeDownload(ctx context.Context, cfg *Config) (downloadSpec, error) {
	version := cfg.Values["DOGU_NODE_VERSION"]
	if version == "" {
		v, err := latestNodeVersion(ctx)
		if err != nil {
			return downloadSpec{}, fmt.Errorf("resolve node version: %w", err)
		}
		version = v
	}
	version = strings.TrimPrefix(version, "v")

	base := cfg.Values["DOGU_NODE_MIRROR"]
	if base == "" {
		base = "https://nodejs.org/dist"
	}
	base = strings.TrimSuffix(base, "/")

	filename := fmt.Sprintf("node-v%s-linux-%s.tar.xz", version, archString("x64", "arm64"))
	return downloadSpec{
		Version:  version,
		URL:      fmt.Sprintf("%s/v%s/%s", base, version, filename),
		Filename: filename,
		Digest:   fetchChecksumDigest(ctx, fmt.Sprintf("%s/v%s/SHASUMS256.txt", base, version), filename),
	}, nil
}

func newBunTool() Installer {
	return &archiveTool{
		info:    ToolInfo{ID: "bun", DisplayName: "Bun", Description: "Bun JavaScript runtime and toolkit"},
		probe:   []string{"bun", "--version"},
		parent:  toolsDir,
		dirName: "bun",
		resolve: resolveBunDownload,
		envFor: func(installPath string) []EnvAction {
			return []EnvAction{{Kind: ActionAppendPath, Value: installPath}}
		},
	}
}

func resolveBunDownload(ctx context.Context, cfg *Config) (downloadSpec, error) {
	asset := fmt.Sprintf("bun-linux-%s.zip", archString("x64", "aarch64"))

	tag, err := latestGitHubRelease(ctx, "oven-sh/bun")
	if err != nil {
		cPrintf(colWarn, "Bun release lookup failed (%v); installing the latest build\n", err)
		os.Remove(filepath.Join(CacheDir, asset))
		return downloadSpec{
			Version:  "latest",
			URL:      "https://github.com/oven-sh/bun/releases/latest/download/" + asset,
			Filename: asset,
		}, nil
	}

	version := strings.TrimPrefix(tag, "bun-v")
	base := "https://github.com/oven-sh/bun/releases/download/" + tag
	return downloadSpec{
		Version:  version,
		URL:      base + "/" + asset,
		Filename: fmt.Sprintf("bun-%s-linux-%s.zip", version, archString("x64", "aarch64")),
		Digest:   fetchChecksumDigest(ctx, base+"/SHASUMS256.txt", asset),
	}, nil
}

func newUvTool() Installer {
	return &archiveTool{
		info:    ToolInfo{ID: "uv", DisplayName: "uv", Description: "Python package and project manager"},
		probe:   []string{"uv", "--version"},
		parent:  toolsDir,
		dirName: "uv",
		resolve: resolveUvDownload,
		envFor: func(installPath string) []EnvAction {
			return []EnvAction{
				{Kind: ActionAppendPath, Value: installPath},
				{Kind: ActionSetVar, Name: "UV_PYTHON_INSTALL_DIR", Value: filepath.Join(installPath, "python")},
			}
		},
	}
}

func resolveUvDownload(ctx context.Context, cfg *Config) (downloadSpec, error) {
	tag, err := latestGitHubRelease(ctx, "astral-sh/uv")
	if err != nil {
		return downloadSpec{}, fmt.Errorf("resolve uv version: %w", err)
	}
	version := normalizeTag(tag)
	triple := archString("x86_64", "aarch64") + "-unknown-linux-gnu"
	asset := fmt.Sprintf("uv-%s.tar.gz", triple)
	base := "https://github.com/astral-sh/uv/releases/download/" + tag
	return downloadSpec{
		Version:  version,
		URL:      base + "/" + asset,
		Filename: fmt.Sprintf("uv-%s-%s.tar.gz", version, triple),
		Digest:   fetchSingleDigest(ctx, base+"/"+asset+".sha256"),
	}, nil
}
