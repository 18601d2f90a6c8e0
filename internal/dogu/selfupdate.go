package dogu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jedisct1/go-minisign"
)

var renameFile = os.Rename // swapped in tests

// selfUpdate replaces the running binary with the latest published
// release. The swap is rename-based: at every point in time there is a
// runnable dogu on disk.
func selfUpdate(ctx context.Context, force bool) error {
	target, err := loadUpdateTarget()
	if err != nil {
		return err
	}

	tag, err := latestGitHubRelease(ctx, target.Repo)
	if err != nil {
		return fmt.Errorf("check latest release: %w", err)
	}
	latest := strings.TrimPrefix(tag, "v")

	decision, msg := decideSelfUpdate(version, latest, force)
	cPrintln(colInfo, msg)
	if decision == updateSkip {
		return nil
	}

	asset := expandAssetPattern(target.AssetPattern, latest)
	url := fmt.Sprintf("https://github.com/%s/releases/download/%s/%s", target.Repo, tag, asset)
	artifact, err := download(ctx, url, CacheDir, asset)
	if err != nil {
		return fmt.Errorf("download update: %w", err)
	}
	if target.MinisignKey != "" {
		if err := verifyReleaseSignature(ctx, url, artifact, target.MinisignKey); err != nil {
			return err
		}
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate running binary: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exePath); err == nil {
		exePath = resolved
	}

	// Stage next to the executable; the cache may be on another
	// filesystem, where a direct rename would fail.
	staged := exePath + ".new"
	if err := copyFile(artifact, staged, 0o755); err != nil {
		return fmt.Errorf("stage new binary: %w", err)
	}
	if err := swapBinary(exePath, staged); err != nil {
		return err
	}
	scheduleCleanup(exePath + ".old")
	cPrintf(colSuccess, "dogu updated to %s\n", latest)
	return nil
}

// verifyReleaseSignature checks the downloaded binary against the
// .minisig published next to it. A release without a signature only
// warns; a signature that does not verify deletes the artifact and
// aborts before any rename.
func verifyReleaseSignature(ctx context.Context, assetURL, artifactPath, pubKeyStr string) error {
	pub, err := minisign.NewPublicKey(pubKeyStr)
	if err != nil {
		return fmt.Errorf("parse release signing key: %w", err)
	}

	sigName := filepath.Base(assetURL) + ".minisig"
	sigPath, err := download(ctx, assetURL+".minisig", CacheDir, sigName)
	if err != nil {
		cPrintln(colWarn, "No signature published for this release; skipping verification.")
		return nil
	}
	sig, err := minisign.NewSignatureFromFile(sigPath)
	if err != nil {
		os.Remove(sigPath)
		return fmt.Errorf("parse release signature: %w", err)
	}
	content, err := os.ReadFile(artifactPath)
	if err != nil {
		return fmt.Errorf("read downloaded binary: %w", err)
	}
	valid, err := pub.Verify(content, sig)
	if err != nil || !valid {
		os.Remove(artifactPath)
		if err == nil {
			err = errors.New("signature does not match")
		}
		return fmt.Errorf("release signature verification failed: %w", err)
	}
	debugf("=> Minisign signature verified\n")
	return nil
}

// swapBinary replaces exePath with stagedPath using same-directory
// renames. If the new binary cannot move into place, the previous one is
// restored before returning.
func swapBinary(exePath, stagedPath string) error {
	oldPath := exePath + ".old"
	if err := renameFile(exePath, oldPath); err != nil {
		os.Remove(stagedPath)
		return fmt.Errorf("set aside current binary: %w", err)
	}
	if err := renameFile(stagedPath, exePath); err != nil {
		if restoreErr := os.Rename(oldPath, exePath); restoreErr != nil {
			return fmt.Errorf("install new binary: %w (restore failed: %v)", err, restoreErr)
		}
		os.Remove(stagedPath)
		return fmt.Errorf("install new binary: %w (previous binary restored)", err)
	}
	return nil
}

// scheduleCleanup deletes path once the current process has exited. The
// helper runs in its own session so it outlives us.
func scheduleCleanup(path string) {
	cmd := exec.Command("sh", "-c", fmt.Sprintf("sleep 3; rm -f %q", path))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		debugf("=> Cleanup scheduling failed: %v\n", err)
	}
}

// selfUninstall removes dogu itself: hook lines, the env fragment,
// optionally everything it ever installed, and finally the binary.
func selfUninstall(ic *InstallContext) error {
	if !ic.Yes && !askForConfirmation(colWarn, "Uninstall dogu itself?") {
		cPrintln(colInfo, "Aborted.")
		return nil
	}
	// --yes keeps the conservative answer here: tools survive unless the
	// user says otherwise at the prompt.
	purge := false
	if !ic.Yes {
		purge = askForConfirmation(colWarn, "Also delete installed tools, cache, and configuration?")
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate running binary: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exePath); err == nil {
		exePath = resolved
	}

	if err := ic.Store.RemovePath(filepath.Dir(exePath)); err != nil {
		cPrintf(colWarn, "Warning: could not update stored PATH: %v\n", err)
	}
	if err := ic.Store.removeHooks(); err != nil {
		cPrintf(colWarn, "Warning: %v\n", err)
	}
	os.Remove(EnvFile)

	if purge {
		for _, dir := range []string{RootDir, CacheDir, ConfigDir} {
			if dir == "" {
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				cPrintf(colWarn, "Warning: could not delete %s: %v\n", dir, err)
			}
		}
	}

	if err := os.Remove(exePath); err != nil {
		cPrintf(colWarn, "Could not delete %s: %v\n", exePath, err)
		cPrintln(colInfo, "Remove it manually to finish.")
	}
	cPrintln(colSuccess, "dogu uninstalled. Restart your shell to apply.")
	return nil
}
