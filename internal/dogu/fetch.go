package dogu

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// newHTTPClient returns a client with sane TLS floors. timeout bounds the
// whole request; 0 leaves cancellation to the request context, which is
// what artifact downloads want.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSHandshakeTimeout: 30 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

type downloadOptions struct {
	Quiet bool
}

// download fetches url into cacheDir/filename and returns the final path.
// A finalized cache entry short-circuits without touching the network;
// callers that must always fetch fresh delete the entry first.
func download(ctx context.Context, url, cacheDir, filename string) (string, error) {
	dest := filepath.Join(cacheDir, filename)
	if pathExists(dest) {
		debugf("=> Cache hit: %s\n", dest)
		return dest, nil
	}
	if err := downloadFileWithOptions(ctx, url, dest, downloadOptions{Quiet: !stdoutIsTerminal()}); err != nil {
		return "", err
	}
	return dest, nil
}

// downloadFileWithOptions fetches url to destPath through a temp file, so
// destPath only ever exists complete. An advisory lock on destPath+".lock"
// keeps concurrent dogu processes from clobbering the same artifact.
func downloadFileWithOptions(ctx context.Context, url, destPath string, opts downloadOptions) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	lockPath := destPath + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("create lock file: %w", err)
	}
	defer lockFile.Close()
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)

	// Another process may have finished this download while we waited.
	if pathExists(destPath) {
		os.Remove(lockPath)
		return nil
	}

	tmpPath := destPath + ".tmp"
	if err := fetchToTemp(ctx, url, tmpPath, opts); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalize %s: %w", destPath, err)
	}
	os.Remove(lockPath)
	return nil
}

// fetchToTemp tries the artifact mirror, then curl, then wget, then the
// native client. Every transport writes to tmpPath only; a failed attempt
// cleans its partial output before the next one runs.
func fetchToTemp(ctx context.Context, url, tmpPath string, opts downloadOptions) error {
	if mirrorConfigured() {
		key := strings.TrimSuffix(filepath.Base(tmpPath), ".tmp")
		if err := mirrorFetch(ctx, key, tmpPath); err == nil {
			debugf("=> Fetched %s from mirror\n", key)
			return nil
		} else {
			debugf("=> Mirror miss for %s: %v\n", key, err)
			os.Remove(tmpPath)
		}
	}

	if _, err := exec.LookPath("curl"); err == nil {
		args := []string{"-L", "--fail", "-o", tmpPath}
		if opts.Quiet {
			args = append(args, "-sS")
		} else {
			args = append(args, "-#")
		}
		args = append(args, url)

		cmd := exec.CommandContext(ctx, "curl", args...)
		var errBuf bytes.Buffer
		if opts.Quiet {
			cmd.Stderr = &errBuf
		} else {
			cmd.Stderr = os.Stderr
		}
		if err := cmd.Run(); err == nil {
			return nil
		} else if ctx.Err() != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("download aborted: %w", ctx.Err())
		}
		debugf("=> curl failed for %s, falling back\n", url)
		os.Remove(tmpPath)
	}

	if _, err := exec.LookPath("wget"); err == nil {
		// One attempt only; the transport chain is the retry policy.
		args := []string{"-O", tmpPath, "--tries=1"}
		if opts.Quiet {
			args = append(args, "-q")
		} else {
			args = append(args, "-nv")
		}
		args = append(args, url)

		cmd := exec.CommandContext(ctx, "wget", args...)
		cmd.Stderr = os.Stderr
		if opts.Quiet {
			cmd.Stderr = io.Discard
		}
		if err := cmd.Run(); err == nil {
			return nil
		} else if ctx.Err() != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("download aborted: %w", ctx.Err())
		}
		debugf("=> wget failed for %s, falling back\n", url)
		os.Remove(tmpPath)
	}

	return nativeFetch(ctx, url, tmpPath, opts)
}

func nativeFetch(ctx context.Context, url, tmpPath string, opts downloadOptions) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := newHTTPClient(0).Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}

	var w io.Writer = out
	if !opts.Quiet && resp.ContentLength > 0 {
		bar := progressbar.DefaultBytes(resp.ContentLength, strings.TrimSuffix(filepath.Base(tmpPath), ".tmp"))
		w = io.MultiWriter(out, bar)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("stream %s: %w", url, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	return nil
}
