package dogu

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// InstallRecord is one managed tool in the ledger.
type InstallRecord struct {
	Version     string `json:"version"`
	InstallPath string `json:"install_path"`
	InstalledAt string `json:"installed_at"`
}

// Ledger tracks every dogu-managed install. Absence of a key means the
// tool is not managed; at most one record exists per tool.
type Ledger struct {
	Tools map[string]InstallRecord `json:"tools"`

	path string
}

// loadLedger reads the ledger at path. A missing file yields an empty
// ledger. An unreadable or corrupt file also yields an empty ledger, with
// a warning: a damaged state file must never make dogu unusable.
func loadLedger(path string) *Ledger {
	l := &Ledger{Tools: make(map[string]InstallRecord), path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l
	}
	if err != nil {
		cPrintf(colWarn, "Cannot read state file %s: %v; starting with an empty ledger\n", path, err)
		return l
	}
	if err := json.Unmarshal(data, l); err != nil {
		cPrintf(colWarn, "State file %s is corrupt: %v; starting with an empty ledger\n", path, err)
		l.Tools = make(map[string]InstallRecord)
		return l
	}
	if l.Tools == nil {
		l.Tools = make(map[string]InstallRecord)
	}
	return l
}

func (l *Ledger) save() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(l.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

func (l *Ledger) get(id string) (InstallRecord, bool) {
	rec, ok := l.Tools[id]
	return rec, ok
}

func (l *Ledger) markInstalled(id, version, installPath string) error {
	l.Tools[id] = InstallRecord{
		Version:     version,
		InstallPath: installPath,
		InstalledAt: time.Now().Format("2006-01-02 15:04:05"),
	}
	return l.save()
}

func (l *Ledger) removeTool(id string) error {
	if _, ok := l.Tools[id]; !ok {
		return nil
	}
	delete(l.Tools, id)
	return l.save()
}
