package dogu

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestInstallContext(t *testing.T) *InstallContext {
	t.Helper()
	return &InstallContext{
		Cfg:     &Config{Values: map[string]string{}},
		Ledger:  loadLedger(filepath.Join(t.TempDir(), "state.json")),
		Store:   newTestStore(t),
		Overlay: make(map[string]string),
		Yes:     true,
	}
}

// withTempCache points the global cache at a temp dir. Tests using it must
// not run in parallel.
func withTempCache(t *testing.T) {
	t.Helper()
	old := CacheDir
	CacheDir = t.TempDir()
	t.Cleanup(func() { CacheDir = old })
}

func seedCache(t *testing.T, filename string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(CacheDir, filename), []byte("artifact bytes"), 0o644); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
}

func TestApplyEnvActionsOverlay(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	overlay := map[string]string{"PATH": "/usr/bin"}

	actions := []EnvAction{
		{Kind: ActionSetVar, Name: "JAVA_HOME", Value: "/opt/jdk"},
		{Kind: ActionAppendPath, Value: "/opt/jdk/bin"},
		{Kind: ActionAppendPath, Value: "/opt/jdk/bin"},
	}
	if err := applyEnvActions(store, actions, overlay); err != nil {
		t.Fatalf("applyEnvActions: %v", err)
	}

	if got, ok := store.Get("JAVA_HOME"); !ok || got != "/opt/jdk" {
		t.Fatalf("JAVA_HOME in store: got %q ok=%v", got, ok)
	}
	if got, want := len(store.pathEntries), 1; got != want {
		t.Fatalf("stored path entries: got %d want %d", got, want)
	}
	if overlay["JAVA_HOME"] != "/opt/jdk" {
		t.Fatalf("overlay JAVA_HOME: got %q", overlay["JAVA_HOME"])
	}
	if got, want := overlay["PATH"], "/usr/bin:/opt/jdk/bin"; got != want {
		t.Fatalf("overlay PATH: got %q want %q", got, want)
	}
}

func TestReverseEnvActions(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	actions := []EnvAction{
		{Kind: ActionSetVar, Name: "GOROOT", Value: "/opt/go"},
		{Kind: ActionAppendPath, Value: "/opt/go/bin"},
	}
	if err := applyEnvActions(store, actions, nil); err != nil {
		t.Fatalf("applyEnvActions: %v", err)
	}

	reverseEnvActions(store, actions)

	if _, ok := store.Get("GOROOT"); ok {
		t.Fatal("GOROOT survived the reversal")
	}
	if len(store.pathEntries) != 0 {
		t.Fatalf("path entries left: %v", store.pathEntries)
	}
}

func TestEnsureToolFreshInstall(t *testing.T) {
	withTempCache(t)
	ic := newTestInstallContext(t)

	installDir := filepath.Join(t.TempDir(), "tool")
	tool := &stubTool{
		id:    "tool",
		probe: []string{"false"},
		spec:  downloadSpec{Version: "1.2.3", URL: "http://unused.invalid/a", Filename: "tool-1.2.3.tar.gz"},
		installFn: func(_ context.Context, ic *InstallContext) (string, error) {
			if want := filepath.Join(CacheDir, "tool-1.2.3.tar.gz"); ic.ArtifactPath != want {
				t.Errorf("artifact path: got %q want %q", ic.ArtifactPath, want)
			}
			if err := os.MkdirAll(installDir, 0o755); err != nil {
				return "", err
			}
			return installDir, nil
		},
		envFor: func(installPath string) []EnvAction {
			return []EnvAction{
				{Kind: ActionSetVar, Name: "TOOL_HOME", Value: installPath},
				{Kind: ActionAppendPath, Value: filepath.Join(installPath, "bin")},
			}
		},
	}
	seedCache(t, "tool-1.2.3.tar.gz")

	if err := ensureTool(context.Background(), tool, []Installer{tool}, ic); err != nil {
		t.Fatalf("ensureTool: %v", err)
	}

	rec, ok := ic.Ledger.get("tool")
	if !ok || rec.Version != "1.2.3" || rec.InstallPath != installDir {
		t.Fatalf("ledger record: %+v ok=%v", rec, ok)
	}
	if got, ok := ic.Store.Get("TOOL_HOME"); !ok || got != installDir {
		t.Fatalf("TOOL_HOME: got %q ok=%v", got, ok)
	}
	if ic.Overlay["TOOL_HOME"] != installDir {
		t.Fatalf("overlay TOOL_HOME: got %q", ic.Overlay["TOOL_HOME"])
	}
	if !strings.Contains(ic.Overlay["PATH"], filepath.Join(installDir, "bin")) {
		t.Fatalf("overlay PATH missing bin dir: %q", ic.Overlay["PATH"])
	}
	if tool.configured != 1 {
		t.Fatalf("configure calls: got %d want 1", tool.configured)
	}

	// A second run sees a managed install and only configures again.
	if err := ensureTool(context.Background(), tool, []Installer{tool}, ic); err != nil {
		t.Fatalf("ensureTool rerun: %v", err)
	}
	if tool.resolved != 1 {
		t.Fatalf("resolve calls after rerun: got %d want 1", tool.resolved)
	}
	if tool.configured != 2 {
		t.Fatalf("configure calls after rerun: got %d want 2", tool.configured)
	}
}

func TestEnsureToolDigestMismatch(t *testing.T) {
	withTempCache(t)
	ic := newTestInstallContext(t)

	tool := &stubTool{
		id:    "bad",
		probe: []string{"false"},
		spec: downloadSpec{
			Version:  "1.0.0",
			URL:      "http://unused.invalid/bad",
			Filename: "bad.tar.gz",
			Digest:   "sha256:" + strings.Repeat("0", 64),
		},
	}
	seedCache(t, "bad.tar.gz")

	if err := ensureTool(context.Background(), tool, []Installer{tool}, ic); err == nil {
		t.Fatal("digest mismatch did not fail the install")
	}
	if pathExists(filepath.Join(CacheDir, "bad.tar.gz")) {
		t.Fatal("mismatched artifact left in cache")
	}
	if _, ok := ic.Ledger.get("bad"); ok {
		t.Fatal("failed install recorded in ledger")
	}
}

func TestEnsureToolInstallsDependenciesFirst(t *testing.T) {
	withTempCache(t)
	ic := newTestInstallContext(t)
	root := t.TempDir()

	var order []string
	mkInstall := func(name string) func(context.Context, *InstallContext) (string, error) {
		return func(context.Context, *InstallContext) (string, error) {
			order = append(order, name)
			dir := filepath.Join(root, name)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", err
			}
			return dir, nil
		}
	}

	dep := &stubTool{
		id:        "jdk",
		probe:     []string{"false"},
		spec:      downloadSpec{Version: "21", URL: "http://unused.invalid/jdk", Filename: "jdk.tar.gz"},
		installFn: mkInstall("jdk"),
	}
	tool := &stubTool{
		id:        "maven",
		probe:     []string{"false"},
		requires:  []string{"jdk"},
		spec:      downloadSpec{Version: "3.9.9", URL: "http://unused.invalid/mvn", Filename: "maven.tar.gz"},
		installFn: mkInstall("maven"),
	}
	seedCache(t, "jdk.tar.gz")
	seedCache(t, "maven.tar.gz")

	if err := ensureTool(context.Background(), tool, []Installer{dep, tool}, ic); err != nil {
		t.Fatalf("ensureTool: %v", err)
	}
	if got, want := strings.Join(order, ","), "jdk,maven"; got != want {
		t.Fatalf("install order: got %s want %s", got, want)
	}
	if _, ok := ic.Ledger.get("jdk"); !ok {
		t.Fatal("dependency missing from ledger")
	}
}

func TestEnsureToolDependencyCycle(t *testing.T) {
	t.Parallel()
	ic := newTestInstallContext(t)

	a := &stubTool{id: "a", probe: []string{"false"}, requires: []string{"b"}}
	b := &stubTool{id: "b", probe: []string{"false"}, requires: []string{"a"}}

	err := ensureTool(context.Background(), a, []Installer{a, b}, ic)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("want cycle error, got %v", err)
	}
}

func TestEnsureToolTakeover(t *testing.T) {
	withTempCache(t)
	ic := newTestInstallContext(t)

	binDir := t.TempDir()
	binPath := filepath.Join(binDir, "fakebin")
	if err := os.WriteFile(binPath, []byte("#!/bin/sh\necho \"fakebin 2.0.0\"\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	installDir := filepath.Join(t.TempDir(), "fakebin")
	tool := &stubTool{
		id:    "fakebin",
		probe: []string{"fakebin", "--version"},
		spec:  downloadSpec{Version: "3.0.0", URL: "http://unused.invalid/fb", Filename: "fakebin.tar.gz"},
		installFn: func(context.Context, *InstallContext) (string, error) {
			if err := os.MkdirAll(installDir, 0o755); err != nil {
				return "", err
			}
			return installDir, nil
		},
	}
	seedCache(t, "fakebin.tar.gz")

	if err := ensureTool(context.Background(), tool, []Installer{tool}, ic); err != nil {
		t.Fatalf("ensureTool: %v", err)
	}
	if pathExists(binPath) {
		t.Fatal("external binary still present after takeover")
	}
	rec, ok := ic.Ledger.get("fakebin")
	if !ok || rec.Version != "3.0.0" {
		t.Fatalf("ledger after takeover: %+v ok=%v", rec, ok)
	}
}

func TestEnsureToolTakeoverDeclined(t *testing.T) {
	withTempCache(t)
	ic := newTestInstallContext(t)
	ic.Yes = false

	// Without -yes an unanswerable prompt (closed stdin) is a decline.
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	w.Close()
	oldStdin := os.Stdin
	os.Stdin = r
	t.Cleanup(func() {
		os.Stdin = oldStdin
		r.Close()
	})

	binDir := t.TempDir()
	binPath := filepath.Join(binDir, "fakebin")
	if err := os.WriteFile(binPath, []byte("#!/bin/sh\necho \"fakebin 2.0.0\"\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	tool := &stubTool{
		id:    "fakebin",
		probe: []string{"fakebin", "--version"},
		spec:  downloadSpec{Version: "3.0.0", URL: "http://unused.invalid/fb", Filename: "fakebin.tar.gz"},
	}

	if err := ensureTool(context.Background(), tool, []Installer{tool}, ic); err != nil {
		t.Fatalf("ensureTool: %v", err)
	}
	if !pathExists(binPath) {
		t.Fatal("external binary removed despite declined replacement")
	}
	if tool.resolved != 0 {
		t.Fatalf("resolve calls after decline: got %d want 0", tool.resolved)
	}
	if tool.configured != 1 {
		t.Fatalf("configure calls after decline: got %d want 1", tool.configured)
	}
	if _, ok := ic.Ledger.get("fakebin"); ok {
		t.Fatal("ledger records a takeover that was declined")
	}
}

func TestUninstallToolReversal(t *testing.T) {
	t.Parallel()
	ic := newTestInstallContext(t)

	installDir := filepath.Join(t.TempDir(), "tool")
	if err := os.MkdirAll(filepath.Join(installDir, "bin"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	envFor := func(installPath string) []EnvAction {
		return []EnvAction{
			{Kind: ActionSetVar, Name: "TOOL_HOME", Value: installPath},
			{Kind: ActionAppendPath, Value: filepath.Join(installPath, "bin")},
		}
	}
	tool := &stubTool{id: "tool", probe: []string{"false"}, envFor: envFor}

	if err := applyEnvActions(ic.Store, envFor(installDir), ic.Overlay); err != nil {
		t.Fatalf("applyEnvActions: %v", err)
	}
	if err := ic.Ledger.markInstalled("tool", "1.0.0", installDir); err != nil {
		t.Fatalf("markInstalled: %v", err)
	}

	if err := uninstallTool(context.Background(), tool, ic); err != nil {
		t.Fatalf("uninstallTool: %v", err)
	}

	if pathExists(installDir) {
		t.Fatal("install dir still present")
	}
	if _, ok := ic.Ledger.get("tool"); ok {
		t.Fatal("ledger record still present")
	}
	if _, ok := ic.Store.Get("TOOL_HOME"); ok {
		t.Fatal("TOOL_HOME still set")
	}
	if len(ic.Store.pathEntries) != 0 {
		t.Fatalf("path entries left: %v", ic.Store.pathEntries)
	}
	if tool.preRemoved != 1 {
		t.Fatalf("pre-uninstall calls: got %d want 1", tool.preRemoved)
	}
	if got := detectOne(context.Background(), tool, ic.Ledger); got.State != StateNotInstalled {
		t.Fatalf("state after uninstall: %v", got.State)
	}
}

func TestUninstallToolUnmanagedNoop(t *testing.T) {
	t.Parallel()
	ic := newTestInstallContext(t)

	tool := &stubTool{id: "ext", probe: []string{"echo", "ext 1.0.0"}}
	if err := uninstallTool(context.Background(), tool, ic); err != nil {
		t.Fatalf("uninstallTool: %v", err)
	}
	if tool.preRemoved != 0 {
		t.Fatal("pre-uninstall ran for an unmanaged tool")
	}
}

func TestInstallManyContinuesPastFailures(t *testing.T) {
	withTempCache(t)
	ic := newTestInstallContext(t)

	broken := &stubTool{id: "broken", probe: []string{"false"}, resolveErr: errors.New("listing down")}
	okDir := filepath.Join(t.TempDir(), "good")
	good := &stubTool{
		id:    "good",
		probe: []string{"false"},
		spec:  downloadSpec{Version: "1.0.0", URL: "http://unused.invalid/g", Filename: "good.tar.gz"},
		installFn: func(context.Context, *InstallContext) (string, error) {
			if err := os.MkdirAll(okDir, 0o755); err != nil {
				return "", err
			}
			return okDir, nil
		},
	}
	seedCache(t, "good.tar.gz")

	err := installMany(context.Background(), []Installer{broken, good}, ic, []string{"broken", "good"})
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("want failure naming broken, got %v", err)
	}
	if strings.Contains(err.Error(), "good") {
		t.Fatalf("good tool reported as failed: %v", err)
	}
	if _, ok := ic.Ledger.get("good"); !ok {
		t.Fatal("good tool not installed after the earlier failure")
	}
}

func TestUpdateManagedTools(t *testing.T) {
	withTempCache(t)
	ic := newTestInstallContext(t)
	root := t.TempDir()

	moverDir := filepath.Join(root, "mover")
	sameDir := filepath.Join(root, "same")
	for _, dir := range []string{moverDir, sameDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := ic.Ledger.markInstalled("mover", "1.0.0", moverDir); err != nil {
		t.Fatalf("markInstalled: %v", err)
	}
	if err := ic.Ledger.markInstalled("same", "2.0.0", sameDir); err != nil {
		t.Fatalf("markInstalled: %v", err)
	}

	installs := 0
	mover := &stubTool{
		id:    "mover",
		probe: []string{"false"},
		spec:  downloadSpec{Version: "1.1.0", URL: "http://unused.invalid/m", Filename: "mover-1.1.0.tar.gz"},
		installFn: func(context.Context, *InstallContext) (string, error) {
			installs++
			return moverDir, nil
		},
	}
	same := &stubTool{
		id:    "same",
		probe: []string{"false"},
		spec:  downloadSpec{Version: "2.0.0", URL: "http://unused.invalid/s", Filename: "same.tar.gz"},
	}
	absent := &stubTool{id: "absent", probe: []string{"false"}}
	seedCache(t, "mover-1.1.0.tar.gz")

	if err := updateManagedTools(context.Background(), []Installer{mover, same, absent}, ic, nil); err != nil {
		t.Fatalf("updateManagedTools: %v", err)
	}

	if installs != 1 {
		t.Fatalf("reinstalls: got %d want 1", installs)
	}
	if rec, _ := ic.Ledger.get("mover"); rec.Version != "1.1.0" {
		t.Fatalf("mover version: got %q want 1.1.0", rec.Version)
	}
	if rec, _ := ic.Ledger.get("same"); rec.Version != "2.0.0" {
		t.Fatalf("same version: got %q want 2.0.0", rec.Version)
	}
	if same.resolved != 1 {
		t.Fatalf("same resolve calls: got %d want 1", same.resolved)
	}
	if absent.resolved != 0 {
		t.Fatal("unmanaged tool was resolved during update")
	}
}

func TestResolveToolArgsUnknown(t *testing.T) {
	t.Parallel()
	catalog := []Installer{&stubTool{id: "go"}}
	if _, err := resolveToolArgs(catalog, []string{"go", "cobol"}); err == nil || !strings.Contains(err.Error(), "cobol") {
		t.Fatalf("want unknown-tool error, got %v", err)
	}
}
