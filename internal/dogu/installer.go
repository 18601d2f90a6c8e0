package dogu

import (
	"context"
)

// ToolInfo identifies a catalog entry.
type ToolInfo struct {
	ID          string
	DisplayName string
	Description string
}

// InstallState classifies what detection found for a tool.
type InstallState int

const (
	// StateNotInstalled: no usable ledger record and the version probe failed.
	StateNotInstalled InstallState = iota
	// StateManaged: ledger record present and its install path still exists.
	StateManaged
	// StateExternal: answers its version probe but dogu does not own it.
	StateExternal
)

func (s InstallState) String() string {
	switch s {
	case StateManaged:
		return "managed"
	case StateExternal:
		return "external"
	default:
		return "not installed"
	}
}

// DetectionResult pairs a state with the version that produced it.
type DetectionResult struct {
	State   InstallState
	Version string
}

// ActionKind discriminates EnvAction variants.
type ActionKind int

const (
	// ActionSetVar sets the variable Name to Value.
	ActionSetVar ActionKind = iota
	// ActionAppendPath appends the directory Value to the persistent PATH.
	ActionAppendPath
)

// EnvAction is one reversible environment mutation a tool contributes.
// Uninstall replays these in reverse: SetVar becomes Delete, AppendPath
// becomes RemovePath.
type EnvAction struct {
	Kind  ActionKind
	Name  string
	Value string
}

// downloadSpec is what an installer resolves for its artifact: the version
// being installed, where to get it, what to call it in the cache, and an
// optional integrity reference.
type downloadSpec struct {
	Version  string
	URL      string
	Filename string
	Digest   string // "algo:hex", empty when the tool publishes none
}

// InstallContext carries the shared machinery installers operate with.
type InstallContext struct {
	Cfg    *Config
	Ledger *Ledger
	Store  *profileStore
	Exec   *Executor

	// Overlay accumulates env contributions made during this run, so
	// subprocesses see variables that so far only exist in the store.
	Overlay map[string]string

	// Yes suppresses confirmation prompts (--yes).
	Yes bool

	// ArtifactPath is the finalized download, set before Install runs.
	ArtifactPath string
}

// Installer is implemented once per catalog tool.
type Installer interface {
	Info() ToolInfo

	// Requires lists catalog IDs that must be ensured before this tool
	// installs. The orchestrator resolves them; installers never install
	// dependencies themselves.
	Requires() []string

	// Probe is the version invocation argv, e.g. ["go", "version"].
	Probe() []string

	// ResolveDownload picks the version (honoring config pins) and the
	// artifact that provides it.
	ResolveDownload(ctx context.Context, cfg *Config) (downloadSpec, error)

	// Install places the downloaded artifact and returns the install root
	// recorded in the ledger.
	Install(ctx context.Context, ic *InstallContext) (string, error)

	// EnvActions describes the persistent environment for an install
	// rooted at installPath.
	EnvActions(installPath string) []EnvAction

	// Configure runs after the ledger records the install. Optional.
	Configure(ctx context.Context, ic *InstallContext) error

	// PreUninstall runs before any removal starts. Optional.
	PreUninstall(ctx context.Context, ic *InstallContext) error

	// ExportConfig captures per-tool settings for profiles. Best-effort.
	ExportConfig(ctx context.Context, ic *InstallContext) map[string]string

	// ImportConfig applies settings captured by ExportConfig.
	ImportConfig(ctx context.Context, ic *InstallContext, values map[string]string) error
}

// baseInstaller supplies the no-op defaults most tools keep.
type baseInstaller struct{}

func (baseInstaller) Requires() []string { return nil }

func (baseInstaller) Configure(context.Context, *InstallContext) error { return nil }

func (baseInstaller) PreUninstall(context.Context, *InstallContext) error { return nil }

func (baseInstaller) ExportConfig(context.Context, *InstallContext) map[string]string { return nil }

func (baseInstaller) ImportConfig(context.Context, *InstallContext, map[string]string) error {
	return nil
}
