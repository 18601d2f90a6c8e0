package dogu

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestSwapBinarySuccess(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "dogu")
	staged := filepath.Join(dir, "dogu.new")
	if err := os.WriteFile(exe, []byte("original build"), 0o755); err != nil {
		t.Fatalf("write exe: %v", err)
	}
	if err := os.WriteFile(staged, []byte("new build"), 0o755); err != nil {
		t.Fatalf("write staged: %v", err)
	}

	if err := swapBinary(exe, staged); err != nil {
		t.Fatalf("swapBinary: %v", err)
	}

	data, err := os.ReadFile(exe)
	if err != nil {
		t.Fatalf("read exe: %v", err)
	}
	if string(data) != "new build" {
		t.Fatalf("exe content: got %q", data)
	}
	old, err := os.ReadFile(exe + ".old")
	if err != nil {
		t.Fatalf("read .old: %v", err)
	}
	if string(old) != "original build" {
		t.Fatalf(".old content: got %q", old)
	}
	if pathExists(staged) {
		t.Fatal("staged binary left behind")
	}
}

func TestSwapBinaryRollback(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "dogu")
	staged := filepath.Join(dir, "dogu.new")
	if err := os.WriteFile(exe, []byte("original build"), 0o755); err != nil {
		t.Fatalf("write exe: %v", err)
	}
	if err := os.WriteFile(staged, []byte("new build"), 0o755); err != nil {
		t.Fatalf("write staged: %v", err)
	}

	old := renameFile
	renameFile = func(src, dst string) error {
		if src == staged {
			return errors.New("injected rename failure")
		}
		return os.Rename(src, dst)
	}
	defer func() { renameFile = old }()

	err := swapBinary(exe, staged)
	if err == nil {
		t.Fatal("swap reported success despite failing rename")
	}
	if !strings.Contains(err.Error(), "previous binary restored") {
		t.Fatalf("error: %v", err)
	}

	data, readErr := os.ReadFile(exe)
	if readErr != nil {
		t.Fatalf("read restored binary: %v", readErr)
	}
	if string(data) != "original build" {
		t.Fatalf("restored content: got %q", data)
	}
	if pathExists(exe + ".old") {
		t.Fatal(".old left behind after restore")
	}
	if pathExists(staged) {
		t.Fatal("staged binary left behind after restore")
	}
}

func TestLoadUpdateTarget(t *testing.T) {
	t.Parallel()
	cfg, err := loadUpdateTarget()
	if err != nil {
		t.Fatalf("loadUpdateTarget: %v", err)
	}
	if !strings.Contains(cfg.Repo, "/") {
		t.Fatalf("repo: got %q", cfg.Repo)
	}
	if !strings.Contains(cfg.AssetPattern, "{version}") {
		t.Fatalf("asset pattern: got %q", cfg.AssetPattern)
	}

	again, err := loadUpdateTarget()
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if again != cfg {
		t.Fatal("descriptor parsed more than once")
	}
}

func TestValidateUpdateTarget(t *testing.T) {
	t.Parallel()

	err := validateUpdateTarget(&updateTargetConfig{})
	if err == nil {
		t.Fatal("empty descriptor accepted")
	}
	for _, want := range []string{"schema", "repo", "assetPattern"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("aggregated error misses %q: %v", want, err)
		}
	}

	err = validateUpdateTarget(&updateTargetConfig{Schema: "s", Repo: "a/b", AssetPattern: "dogu-linux"})
	if err == nil || !strings.Contains(err.Error(), "{version}") {
		t.Fatalf("pattern without version accepted: %v", err)
	}

	err = validateUpdateTarget(&updateTargetConfig{Schema: "s", Repo: "a/b", AssetPattern: "d-{version}", MinisignKey: "not base64"})
	if err == nil || !strings.Contains(err.Error(), "minisignKey") {
		t.Fatalf("bad key accepted: %v", err)
	}

	if err := validateUpdateTarget(&updateTargetConfig{Schema: "s", Repo: "a/b", AssetPattern: "d-{version}"}); err != nil {
		t.Fatalf("valid descriptor rejected: %v", err)
	}
}

func TestExpandAssetPattern(t *testing.T) {
	t.Parallel()
	got := expandAssetPattern("dogu-{version}-{os}-{arch}", "1.2.3")
	want := "dogu-1.2.3-" + runtime.GOOS + "-" + runtime.GOARCH
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestVerifyReleaseSignatureMismatch(t *testing.T) {
	withTempCache(t)
	cfg, err := loadUpdateTarget()
	if err != nil {
		t.Fatalf("loadUpdateTarget: %v", err)
	}

	// Cache both the artifact and a structurally valid signature from a
	// different key, so no network is consulted.
	artifact := filepath.Join(CacheDir, "dogu-test-bin")
	if err := os.WriteFile(artifact, []byte("binary"), 0o755); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
	sigB64 := base64.StdEncoding.EncodeToString(append([]byte("Ed"), make([]byte, 72)...))
	globalB64 := base64.StdEncoding.EncodeToString(make([]byte, 64))
	sig := "untrusted comment: test\n" + sigB64 + "\ntrusted comment: test\n" + globalB64 + "\n"
	if err := os.WriteFile(filepath.Join(CacheDir, "dogu-test-bin.minisig"), []byte(sig), 0o644); err != nil {
		t.Fatalf("seed signature: %v", err)
	}

	err = verifyReleaseSignature(context.Background(), "http://unused.invalid/dogu-test-bin", artifact, cfg.MinisignKey)
	if err == nil || !strings.Contains(err.Error(), "verification failed") {
		t.Fatalf("want verification failure, got %v", err)
	}
	if pathExists(artifact) {
		t.Fatal("unverified artifact left in cache")
	}
}

func TestVerifyReleaseSignatureMissingSig(t *testing.T) {
	withTempCache(t)
	cfg, err := loadUpdateTarget()
	if err != nil {
		t.Fatalf("loadUpdateTarget: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	artifact := filepath.Join(CacheDir, "dogu-bin")
	if err := os.WriteFile(artifact, []byte("binary"), 0o755); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	if err := verifyReleaseSignature(context.Background(), srv.URL+"/dogu-bin", artifact, cfg.MinisignKey); err != nil {
		t.Fatalf("missing signature should not fail the update: %v", err)
	}
	if !pathExists(artifact) {
		t.Fatal("artifact removed even though no signature was published")
	}
}
