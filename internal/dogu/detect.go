package dogu

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode"
)

// detectOne classifies a single tool. Ledger fast path first: a record
// whose install path still exists is managed, no subprocess needed.
func detectOne(ctx context.Context, tool Installer, ledger *Ledger) DetectionResult {
	if rec, ok := ledger.get(tool.Info().ID); ok && pathExists(rec.InstallPath) {
		return DetectionResult{State: StateManaged, Version: rec.Version}
	}
	if version, ok := probeVersion(ctx, tool.Probe()); ok {
		return DetectionResult{State: StateExternal, Version: version}
	}
	return DetectionResult{State: StateNotInstalled}
}

// detectAll classifies the whole catalog. Ledger hits are filled
// synchronously; every remaining tool gets its own goroutine writing a
// private slot, and the slice comes back in catalog order.
func detectAll(ctx context.Context, catalog []Installer, ledger *Ledger) []DetectionResult {
	results := make([]DetectionResult, len(catalog))
	var wg sync.WaitGroup

	for i, tool := range catalog {
		if rec, ok := ledger.get(tool.Info().ID); ok && pathExists(rec.InstallPath) {
			results[i] = DetectionResult{State: StateManaged, Version: rec.Version}
			continue
		}
		wg.Add(1)
		go func(slot int, t Installer) {
			defer wg.Done()
			if version, ok := probeVersion(ctx, t.Probe()); ok {
				results[slot] = DetectionResult{State: StateExternal, Version: version}
			} else {
				results[slot] = DetectionResult{State: StateNotInstalled}
			}
		}(i, tool)
	}

	wg.Wait()
	return results
}

// probeVersion runs a version invocation under the probe timeout. Any
// failure (missing binary, non-zero exit, timeout, empty output) reads as
// "not installed"; probes never raise errors. Stderr is captured too since
// some tools (java) print their version there.
func probeVersion(ctx context.Context, argv []string) (string, bool) {
	if len(argv) == 0 {
		return "", false
	}

	timeout := ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, argv[0], argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", false
	}

	version := parseVersionToken(out.String())
	if version == "" {
		return "", false
	}
	return version, true
}

// parseVersionToken pulls a bare version out of typical --version output:
// the first whitespace token containing a digit, trimmed of quoting and of
// any leading name prefix, so "go1.22.1", "v20.11.1" and `"21.0.2"` all
// come out as dotted numbers.
func parseVersionToken(s string) string {
	for _, tok := range strings.Fields(s) {
		if !strings.ContainsAny(tok, "0123456789") {
			continue
		}
		tok = strings.Trim(tok, `"',;()`)
		i := strings.IndexFunc(tok, unicode.IsDigit)
		if i < 0 {
			continue
		}
		return tok[i:]
	}
	return ""
}
