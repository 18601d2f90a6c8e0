package dogu

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// MySQL publishes no machine-readable version feed, so the catalog
// tracks the current LTS line by hand.
const mysqlVersionDefault = "8.4.4"

type mysqlTool struct{ archiveTool }

func newMysqlTool() Installer {
	return &mysqlTool{archiveTool{
		info:    ToolInfo{ID: "mysql", DisplayName: "MySQL", Description: "MySQL Community Server"},
		probe:   []string{"mysql", "--version"},
		parent:  toolsDir,
		dirName: "mysql",
		resolve: resolveMysqlDownload,
		envFor: func(installPath string) []EnvAction {
			return []EnvAction{{Kind: ActionAppendPath, Value: filepath.Join(installPath, "bin")}}
		},
	}}
}

func resolveMysqlDownload(ctx context.Context, cfg *Config) (downloadSpec, error) {
	filename := fmt.Sprintf("mysql-%s-linux-glibc2.28-%s.tar.xz", mysqlVersionDefault, archString("x86_64", "aarch64"))
	return downloadSpec{
		Version:  mysqlVersionDefault,
		URL:      "https://dev.mysql.com/get/Downloads/MySQL-8.4/" + filename,
		Filename: filename,
	}, nil
}

// Configure initializes the data directory once. --initialize-insecure
// leaves root without a password, which is the documented first-run
// state for a workstation install.
func (t *mysqlTool) Configure(ctx context.Context, ic *InstallContext) error {
	rec, ok := ic.Ledger.get("mysql")
	if !ok {
		return nil
	}
	dataDir := filepath.Join(rec.InstallPath, "data")
	if entries, err := os.ReadDir(dataDir); err == nil && len(entries) > 0 {
		return nil
	}

	colArrow.Print("-> ")
	fmt.Println("Initializing MySQL data directory")
	cmd := exec.Command(filepath.Join(rec.InstallPath, "bin", "mysqld"),
		"--initialize-insecure",
		"--basedir="+rec.InstallPath,
		"--datadir="+dataDir)
	if err := ic.Exec.Run(cmd); err != nil {
		cPrintf(colWarn, "MySQL data directory initialization failed: %v\n", err)
		cPrintf(colWarn, "Run it manually: mysqld --initialize-insecure --datadir=%s\n", dataDir)
		return nil
	}
	cPrintln(colSuccess, "MySQL data directory initialized (root user has no password).")
	cPrintf(colInfo, "Start the server: mysqld --datadir=%s\n", dataDir)
	cPrintf(colInfo, "Connect: mysql -u root\n")
	return nil
}

// PreUninstall asks a running server to stop so the data directory is
// not removed out from under it.
func (t *mysqlTool) PreUninstall(ctx context.Context, ic *InstallContext) error {
	rec, ok := ic.Ledger.get("mysql")
	if !ok {
		return nil
	}
	mysqladmin := filepath.Join(rec.InstallPath, "bin", "mysqladmin")
	if !pathExists(mysqladmin) {
		return nil
	}
	if err := ic.Exec.Run(exec.Command(mysqladmin, "-u", "root", "shutdown")); err != nil {
		debugf("=> mysqladmin shutdown: %v (server likely not running)\n", err)
	}
	return nil
}
