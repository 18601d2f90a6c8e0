package dogu

import (
	"context"
	"runtime"
	"strings"
)

// newCatalog returns the tool catalog in display order. Detection, list
// output and the setup checklist all preserve this order.
func newCatalog() []Installer {
	return []Installer{
		newGoTool(),
		newJdkTool(),
		newMavenTool(),
		newGradleTool(),
		newNodeTool(),
		newBunTool(),
		newUvTool(),
		newGhTool(),
		newClaudeCodeTool(),
		newRustupTool(),
		newMinicondaTool(),
		newMysqlTool(),
		newCodeTool(),
		newPycharmTool(),
	}
}

// The parent directory of an install is resolved late because the
// DOGU_ROOT setting is only known after config load.
func langDir() string  { return LangDir }
func toolsDir() string { return ToolsDir }
func ideDir() string   { return IdeDir }

// archString picks the vendor spelling for the running CPU.
func archString(amd64, arm64 string) string {
	if runtime.GOARCH == "arm64" {
		return arm64
	}
	return amd64
}

// archiveTool is the shared archive-based installer: resolve an
// artifact, stage and extract it under a parent directory, contribute
// env actions. Most catalog entries are one of these with descriptor
// data; tools with configure or profile hooks embed it.
type archiveTool struct {
	baseInstaller
	info     ToolInfo
	requires []string
	probe    []string
	parent   func() string
	dirName  string
	resolve  func(ctx context.Context, cfg *Config) (downloadSpec, error)
	envFor   func(installPath string) []EnvAction
}

func (t *archiveTool) Info() ToolInfo     { return t.info }
func (t *archiveTool) Requires() []string { return t.requires }
func (t *archiveTool) Probe() []string    { return t.probe }

func (t *archiveTool) ResolveDownload(ctx context.Context, cfg *Config) (downloadSpec, error) {
	return t.resolve(ctx, cfg)
}

func (t *archiveTool) Install(ctx context.Context, ic *InstallContext) (string, error) {
	return installArchive(ctx, ic.ArtifactPath, t.parent(), t.dirName)
}

func (t *archiveTool) EnvActions(installPath string) []EnvAction {
	if t.envFor == nil {
		return nil
	}
	return t.envFor(installPath)
}

// fetchChecksumDigest scans a SHASUMS-style document at url for the line
// naming filename. Upstreams that publish no checksum, or an unreachable
// one, leave the artifact unpinned; the install still runs.
func fetchChecksumDigest(ctx context.Context, url, filename string) string {
	doc, err := fetchText(ctx, versionClient, url)
	if err != nil {
		cPrintf(colWarn, "No checksum available for %s: %v\n", filename, err)
		return ""
	}
	for _, line := range strings.Split(doc, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := strings.TrimPrefix(fields[len(fields)-1], "*")
		if name == filename || strings.HasSuffix(name, "/"+filename) {
			return "sha256:" + fields[0]
		}
	}
	cPrintf(colWarn, "Checksum document at %s does not list %s\n", url, filename)
	return ""
}

// fetchSingleDigest reads a one-hash document such as gradle's .sha256
// files. The first field must be 64 hex characters.
func fetchSingleDigest(ctx context.Context, url string) string {
	doc, err := fetchText(ctx, versionClient, url)
	if err != nil {
		debugf("=> No checksum at %s: %v\n", url, err)
		return ""
	}
	fields := strings.Fields(doc)
	if len(fields) == 0 || len(fields[0]) != 64 {
		return ""
	}
	return "sha256:" + fields[0]
}
