package dogu

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	jdkMajorDefault       = "21"
	mavenVersionFallback  = "3.9.9"
	gradleVersionFallback = "8.12.1"
)

var adoptiumAPIBase = "https://api.adoptium.net"

// adoptiumAsset mirrors the relevant part of the Adoptium v3 assets
// listing: one binary per entry, checksum is the package sha256.
type adoptiumAsset struct {
	Binary struct {
		Package struct {
			Name     string `json:"name"`
			Link     string `json:"link"`
			Checksum string `json:"checksum"`
		} `json:"package"`
	} `json:"binary"`
	Version struct {
		Semver string `json:"semver"`
	} `json:"version"`
}

func newJdkTool() Installer {
	return &archiveTool{
		info:    ToolInfo{ID: "jdk", DisplayName: "Java JDK", Description: "Adoptium Temurin JDK"},
		probe:   []string{"java", "-version"},
		parent:  langDir,
		dirName: "java",
		resolve: resolveJdkDownload,
		envFor: func(installPath string) []EnvAction {
			return []EnvAction{
				{Kind: ActionSetVar, Name: "JAVA_HOME", Value: installPath},
				{Kind: ActionAppendPath, Value: filepath.Join(installPath, "bin")},
			}
		},
	}
}

func resolveJdkDownload(ctx context.Context, cfg *Config) (downloadSpec, error) {
	major := cfg.Values["DOGU_JAVA_VERSION"]
	if major == "" {
		major = jdkMajorDefault
	}
	arch := archString("x64", "aarch64")

	url := fmt.Sprintf("%s/v3/assets/latest/%s/hotspot?architecture=%s&image_type=jdk&os=linux&vendor=eclipse",
		adoptiumAPIBase, major, arch)
	var assets []adoptiumAsset
	err := fetchJSON(ctx, versionClient, url, &assets)
	if err == nil && len(assets) == 0 {
		err = fmt.Errorf("empty asset listing")
	}
	if err != nil {
		// The redirect endpoint always serves the current GA build, so a
		// stale cache entry must not win.
		cPrintf(colWarn, "Adoptium asset lookup failed (%v); using the redirect endpoint\n", err)
		filename := fmt.Sprintf("adoptium-jdk%s-%s.tar.gz", major, arch)
		os.Remove(filepath.Join(CacheDir, filename))
		return downloadSpec{
			Version:  "JDK " + major,
			URL:      fmt.Sprintf("%s/v3/binary/latest/%s/ga/linux/%s/jdk/hotspot/normal/eclipse", adoptiumAPIBase, major, arch),
			Filename: filename,
		}, nil
	}

	pkg := assets[0].Binary.Package
	dl := pkg.Link
	if mirror := cfg.Values["DOGU_JDK_MIRROR"]; mirror != "" {
		dl = strings.TrimSuffix(mirror, "/") + "/" + pkg.Name
	}
	spec := downloadSpec{
		Version:  assets[0].Version.Semver,
		URL:      dl,
		Filename: pkg.Name,
	}
	if pkg.Checksum != "" {
		spec.Digest = "sha256:" + pkg.Checksum
	}
	return spec, nil
}

type mavenTool struct{ archiveTool }

func newMavenTool() Installer {
	return &mavenTool{archiveTool{
		info:     ToolInfo{ID: "maven", DisplayName: "Maven", Description: "Apache Maven build tool (Java)"},
		requires: []string{"jdk"},
		probe:    []string{"mvn", "--version"},
		parent:   toolsDir,
		dirName:  "maven",
		resolve:  resolveMavenDownload,
		envFor: func(installPath string) []EnvAction {
			return []EnvAction{
				{Kind: ActionSetVar, Name: "MAVEN_HOME", Value: installPath},
				{Kind: ActionAppendPath, Value: filepath.Join(installPath, "bin")},
			}
		},
	}}
}

func resolveMavenDownload(ctx context.Context, cfg *Config) (downloadSpec, error) {
	version := mavenVersionFallback
	tag, err := latestGitHubRelease(ctx, "apache/maven")
	switch {
	case err != nil:
		cPrintf(colWarn, "Maven release lookup failed (%v); using %s\n", err, version)
	case strings.HasPrefix(tag, "maven-"):
		version = strings.TrimPrefix(tag, "maven-")
	}

	base := cfg.Values["DOGU_MAVEN_MIRROR"]
	if base == "" {
		base = "https://downloads.apache.org/maven/maven-3"
	}
	filename := fmt.Sprintf("apache-maven-%s-bin.tar.gz", version)
	return downloadSpec{
		Version:  version,
		URL:      fmt.Sprintf("%s/%s/binaries/%s", strings.TrimSuffix(base, "/"), version, filename),
		Filename: filename,
	}, nil
}

// ExportConfig captures the user-level settings.xml when one exists.
func (t *mavenTool) ExportConfig(ctx context.Context, ic *InstallContext) map[string]string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(home, ".m2", "settings.xml"))
	if err != nil {
		return nil
	}
	return map[string]string{"settings_xml": string(data)}
}

func (t *mavenTool) ImportConfig(ctx context.Context, ic *InstallContext, values map[string]string) error {
	content := values["settings_xml"]
	if content == "" {
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	m2 := filepath.Join(home, ".m2")
	if err := os.MkdirAll(m2, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m2, "settings.xml"), []byte(content), 0o644)
}

func newGradleTool() Installer {
	return &archiveTool{
		info:     ToolInfo{ID: "gradle", DisplayName: "Gradle", Description: "Gradle build tool (Java)"},
		requires: []string{"jdk"},
		probe:    []string{"gradle", "--version"},
		parent:   toolsDir,
		dirName:  "gradle",
		resolve:  resolveGradleDownload,
		envFor: func(installPath string) []EnvAction {
			return []EnvAction{
				{Kind: ActionSetVar, Name: "GRADLE_HOME", Value: installPath},
				{Kind: ActionAppendPath, Value: filepath.Join(installPath, "bin")},
			}
		},
	}
}

func resolveGradleDownload(ctx context.Context, cfg *Config) (downloadSpec, error) {
	version, err := latestGradleVersion(ctx)
	if err != nil {
		cPrintf(colWarn, "Gradle release lookup failed (%v); using %s\n", err, gradleVersionFallback)
		version = gradleVersionFallback
	}
	filename := fmt.Sprintf("gradle-%s-bin.zip", version)
	url := "https://services.gradle.org/distributions/" + filename
	return downloadSpec{
		Version:  version,
		URL:      url,
		Filename: filename,
		Digest:   fetchSingleDigest(ctx, url+".sha256"),
	}, nil
}
