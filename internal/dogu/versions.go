package dogu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Upstream endpoints for latest-version lookups. Variables so tests can
// point them at local servers.
var (
	githubAPIBase        = "https://api.github.com"
	goDevReleasesURL     = "https://go.dev/dl/?mode=json"
	nodeDistIndexURL     = "https://nodejs.org/dist/index.json"
	gradleCurrentURL     = "https://services.gradle.org/versions/current"
	jetbrainsReleasesURL = "https://data.services.jetbrains.com/products/releases"
)

// Shared client for the small version-lookup requests. Lookups are
// best-effort, so the timeout stays short.
var versionClient = newHTTPClient(5 * time.Second)

func newLookupBackoff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
}

// retryable reports whether a response status is worth another attempt.
// Client errors other than rate limiting are final.
func retryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500
}

// fetchJSON GETs url and decodes the response into out, retrying
// transient failures.
func fetchJSON(ctx context.Context, client *http.Client, url string, out any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", "dogu/"+version)
		req.Header.Set("Accept", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
			if !retryableStatus(resp.StatusCode) {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("GET %s: decode response: %w", url, err))
		}
		return nil
	}
	return backoff.Retry(op, newLookupBackoff(ctx))
}

// fetchText GETs a small text document, e.g. a latest-version marker.
func fetchText(ctx context.Context, client *http.Client, url string) (string, error) {
	var body string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", "dogu/"+version)
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
			if !retryableStatus(resp.StatusCode) {
				return backoff.Permanent(err)
			}
			return err
		}
		b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		body = strings.TrimSpace(string(b))
		return nil
	}
	if err := backoff.Retry(op, newLookupBackoff(ctx)); err != nil {
		return "", err
	}
	return body, nil
}

// latestGitHubRelease returns the raw tag of repo's latest release,
// e.g. "v2.63.0" for "cli/cli". Callers strip their own prefixes.
func latestGitHubRelease(ctx context.Context, repo string) (string, error) {
	var rel struct {
		TagName string `json:"tag_name"`
	}
	url := githubAPIBase + "/repos/" + repo + "/releases/latest"
	if err := fetchJSON(ctx, versionClient, url, &rel); err != nil {
		return "", err
	}
	if rel.TagName == "" {
		return "", fmt.Errorf("release for %s has no tag name", repo)
	}
	return rel.TagName, nil
}

// latestGoVersion returns the newest stable Go release, e.g. "1.24.0".
func latestGoVersion(ctx context.Context) (string, error) {
	var releases []struct {
		Version string `json:"version"`
		Stable  bool   `json:"stable"`
	}
	if err := fetchJSON(ctx, versionClient, goDevReleasesURL, &releases); err != nil {
		return "", err
	}
	for _, r := range releases {
		if r.Stable {
			return strings.TrimPrefix(r.Version, "go"), nil
		}
	}
	return "", fmt.Errorf("no stable release in go.dev listing")
}

// latestNodeVersion returns the newest LTS release from the dist index.
// The lts field is false for current releases and a codename string for
// LTS lines, hence the loose decode.
func latestNodeVersion(ctx context.Context) (string, error) {
	var index []struct {
		Version string `json:"version"`
		LTS     any    `json:"lts"`
	}
	if err := fetchJSON(ctx, versionClient, nodeDistIndexURL, &index); err != nil {
		return "", err
	}
	for _, r := range index {
		if name, ok := r.LTS.(string); ok && name != "" {
			return strings.TrimPrefix(r.Version, "v"), nil
		}
	}
	return "", fmt.Errorf("no LTS release in node dist index")
}

func latestGradleVersion(ctx context.Context) (string, error) {
	var cur struct {
		Version string `json:"version"`
	}
	if err := fetchJSON(ctx, versionClient, gradleCurrentURL, &cur); err != nil {
		return "", err
	}
	if cur.Version == "" {
		return "", fmt.Errorf("gradle version listing is empty")
	}
	return cur.Version, nil
}

// latestJetBrainsVersion queries the JetBrains data service for a
// product code such as "PCC" (PyCharm Community).
func latestJetBrainsVersion(ctx context.Context, code string) (string, error) {
	var releases map[string][]struct {
		Version string `json:"version"`
	}
	url := jetbrainsReleasesURL + "?code=" + code + "&latest=true&type=release"
	if err := fetchJSON(ctx, versionClient, url, &releases); err != nil {
		return "", err
	}
	rs := releases[code]
	if len(rs) == 0 || rs[0].Version == "" {
		return "", fmt.Errorf("no release listed for product %s", code)
	}
	return rs[0].Version, nil
}

// normalizeTag turns a release tag into a bare version: the "v" prefix
// goes, and OS infix tags collapse, so "v2.47.1.linux.2" becomes
// "2.47.1.2" while "v2.53.0.linux.1" is the plain release "2.53.0".
func normalizeTag(tag string) string {
	tag = strings.TrimPrefix(tag, "v")
	parts := strings.Split(tag, ".")
	for i, p := range parts {
		switch p {
		case "linux", "windows", "macos":
			base := strings.Join(parts[:i], ".")
			if i+1 < len(parts) && parts[i+1] != "1" {
				return base + "." + parts[i+1]
			}
			return base
		}
	}
	return tag
}
