package dogu

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// extractArchive unpacks an artifact into destDir based on its suffix.
func extractArchive(ctx context.Context, archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", destDir, err)
	}
	switch {
	case strings.HasSuffix(archivePath, ".zip"):
		return unzip(archivePath, destDir)
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"),
		strings.HasSuffix(archivePath, ".tar.xz"), strings.HasSuffix(archivePath, ".tar.zst"),
		strings.HasSuffix(archivePath, ".tar.bz2"), strings.HasSuffix(archivePath, ".tar"):
		return extractTar(ctx, archivePath, destDir)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
	}
}

// unzip extracts a zip archive, refusing entries that escape dest.
func unzip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open zip %s: %w", src, err)
	}
	defer r.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		fpath := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(fpath, dest+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in zip: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, f.Mode()); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		out.Close()
		rc.Close()
		if err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

// extractTar prefers the system tar, which copes with every compression we
// care about, and falls back to native extraction when it is missing or
// chokes.
func extractTar(ctx context.Context, archivePath, destDir string) error {
	if _, err := exec.LookPath("tar"); err == nil {
		cmd := exec.CommandContext(ctx, "tar", "xf", archivePath, "-C", destDir)
		cmd.Stderr = io.Discard
		if err := cmd.Run(); err == nil {
			return nil
		}
		debugf("=> System tar failed on %s, extracting natively\n", filepath.Base(archivePath))
	}
	return extractTarNative(archivePath, destDir)
}

func extractTarNative(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", archivePath, err)
	}
	defer f.Close()

	var reader io.Reader
	switch {
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		reader = zr
	case strings.HasSuffix(archivePath, ".tar.bz2"):
		reader = bzip2.NewReader(f)
	case strings.HasSuffix(archivePath, ".tar.xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("xz reader: %w", err)
		}
		reader = xr
	case strings.HasSuffix(archivePath, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		reader = zr
	case strings.HasSuffix(archivePath, ".tar"):
		reader = f
	default:
		return fmt.Errorf("unsupported tar format: %s", filepath.Base(archivePath))
	}

	destAbs, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		// PAX metadata entries carry no payload of their own.
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		name := filepath.Clean(hdr.Name)
		if name == "." {
			continue
		}
		target := filepath.Join(destAbs, name)
		if !strings.HasPrefix(target, destAbs+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in tar: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, hdr.FileInfo().Mode())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
			if err := out.Close(); err != nil {
				return err
			}
			_ = os.Chtimes(target, hdr.ModTime, hdr.ModTime)
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("symlink %s: %w", hdr.Name, err)
			}
		case tar.TypeLink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Link(filepath.Join(destAbs, filepath.Clean(hdr.Linkname)), target); err != nil {
				return fmt.Errorf("hardlink %s: %w", hdr.Name, err)
			}
		default:
			debugf("=> Skipping tar entry %s (type %c)\n", hdr.Name, hdr.Typeflag)
		}
	}
	return nil
}

// unwrapSingleDir returns the sole top-level directory of dir when the
// extraction produced exactly one directory entry; otherwise dir itself.
// Loose files beside the directory (README, LICENSE) do not count: release
// tarballs usually wrap everything in name-version/ and the wrapper is
// still the real root when such siblings ride along.
func unwrapSingleDir(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return dir
	}
	sole := ""
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if sole != "" {
			return dir
		}
		sole = e.Name()
	}
	if sole == "" {
		return dir
	}
	return filepath.Join(dir, sole)
}

// installArchive extracts an artifact and moves the resulting tree to
// destParent/destName, replacing any previous install. Single-directory
// archives are unwrapped so destName is the tool root either way; loose
// files beside the wrapper directory stay behind in staging and are
// discarded with it.
func installArchive(ctx context.Context, archivePath, destParent, destName string) (string, error) {
	if err := os.MkdirAll(destParent, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", destParent, err)
	}
	staging, err := os.MkdirTemp(destParent, ".stage-"+destName+"-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := extractArchive(ctx, archivePath, staging); err != nil {
		return "", err
	}

	root := unwrapSingleDir(staging)
	final := filepath.Join(destParent, destName)
	if err := os.RemoveAll(final); err != nil {
		return "", fmt.Errorf("clear %s: %w", final, err)
	}
	if err := os.Rename(root, final); err != nil {
		return "", fmt.Errorf("move into place: %w", err)
	}
	return final, nil
}

// runInstallerProgram executes a downloaded installer in place of
// extraction (the rustup/miniconda flow). The artifact may be a shell
// script or a native binary, so it runs directly after chmod.
func runInstallerProgram(ctx context.Context, programPath string, args []string, execCtx *Executor) error {
	if err := os.Chmod(programPath, 0o755); err != nil {
		return fmt.Errorf("chmod %s: %w", programPath, err)
	}
	if execCtx != nil {
		return execCtx.Run(exec.Command(programPath, args...))
	}
	cmd := exec.CommandContext(ctx, programPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
