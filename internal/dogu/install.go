package dogu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// applyEnvActions persists a tool's environment contributions and mirrors
// them into the session overlay, so subprocesses spawned later in the same
// run already see them without a shell restart.
func applyEnvActions(store *profileStore, actions []EnvAction, overlay map[string]string) error {
	for _, a := range actions {
		switch a.Kind {
		case ActionSetVar:
			if err := store.Set(a.Name, a.Value); err != nil {
				return err
			}
			if overlay != nil {
				overlay[a.Name] = a.Value
			}
		case ActionAppendPath:
			if err := store.AppendPath(a.Value); err != nil {
				return err
			}
			if overlay != nil {
				appendOverlayPath(overlay, a.Value)
			}
		}
	}
	return nil
}

// appendOverlayPath extends the PATH subprocesses will be given. The
// overlay PATH replaces the inherited one wholesale, so the first append
// seeds it from the process environment.
func appendOverlayPath(overlay map[string]string, dir string) {
	cur := overlay["PATH"]
	if cur == "" {
		cur = os.Getenv("PATH")
	}
	for _, entry := range filepath.SplitList(cur) {
		if samePathEntry(entry, dir) {
			return
		}
	}
	overlay["PATH"] = cur + string(os.PathListSeparator) + dir
}

// reverseEnvActions undoes actions in reverse order: SetVar becomes
// Delete, AppendPath becomes RemovePath. Failures are reported and the
// remaining reversals still run.
func reverseEnvActions(store *profileStore, actions []EnvAction) {
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		var err error
		switch a.Kind {
		case ActionSetVar:
			err = store.Delete(a.Name)
		case ActionAppendPath:
			err = store.RemovePath(a.Value)
		}
		if err != nil {
			name := a.Name
			if name == "" {
				name = a.Value
			}
			cPrintf(colWarn, "Warning: could not revert environment entry %s: %v\n", name, err)
		}
	}
}

// ensureTool brings one tool to the managed state: configure-only when
// already managed, takeover when an external install answers the probe,
// full install otherwise. Dependencies declared via Requires are ensured
// first.
func ensureTool(ctx context.Context, tool Installer, catalog []Installer, ic *InstallContext) error {
	return ensureOne(ctx, tool, catalog, ic, make(map[string]bool))
}

func ensureOne(ctx context.Context, tool Installer, catalog []Installer, ic *InstallContext, visiting map[string]bool) error {
	info := tool.Info()
	if visiting[info.ID] {
		return fmt.Errorf("dependency cycle detected at %s", info.ID)
	}
	visiting[info.ID] = true
	defer delete(visiting, info.ID)

	det := detectOne(ctx, tool, ic.Ledger)
	switch det.State {
	case StateManaged:
		cPrintf(colInfo, "%s %s is already managed by dogu.\n", info.DisplayName, det.Version)
		return tool.Configure(ctx, ic)
	case StateExternal:
		ver := det.Version
		if ver == "" {
			ver = "unknown"
		}
		cPrintf(colWarn, "%s is already installed outside dogu (version %s).\n", info.DisplayName, ver)
		if !ic.Yes && !askForConfirmation(colWarn, "Replace it with a dogu-managed install?") {
			cPrintln(colInfo, "Keeping the existing install.")
			return tool.Configure(ctx, ic)
		}
		if err := removeExternalInstall(tool, ic); err != nil {
			return err
		}
	}

	if err := ensureDependencies(ctx, tool, catalog, ic, visiting); err != nil {
		return err
	}

	colArrow.Print("-> ")
	cPrintf(colInfo, "Installing %s\n", info.DisplayName)
	spec, err := tool.ResolveDownload(ctx, ic.Cfg)
	if err != nil {
		return fmt.Errorf("resolve %s download: %w", info.ID, err)
	}
	return installResolved(ctx, tool, spec, ic)
}

// ensureDependencies installs missing requirements before the dependent
// tool. A managed or external dependency already satisfies the
// requirement; only truly absent ones are installed, each behind a
// consent prompt.
func ensureDependencies(ctx context.Context, tool Installer, catalog []Installer, ic *InstallContext, visiting map[string]bool) error {
	for _, depID := range tool.Requires() {
		dep := toolByID(catalog, depID)
		if dep == nil {
			return fmt.Errorf("%s requires unknown tool %q", tool.Info().ID, depID)
		}
		if detectOne(ctx, dep, ic.Ledger).State != StateNotInstalled {
			continue
		}
		cPrintf(colInfo, "%s requires %s, which is not installed.\n", tool.Info().DisplayName, dep.Info().DisplayName)
		if !ic.Yes && !askForConfirmation(colWarn, "Install %s first?", dep.Info().DisplayName) {
			return fmt.Errorf("%s requires %s", tool.Info().ID, depID)
		}
		if err := ensureOne(ctx, dep, catalog, ic, visiting); err != nil {
			return fmt.Errorf("dependency %s: %w", depID, err)
		}
	}
	return nil
}

// removeExternalInstall deletes the binary an external install answers
// probes with, escalating through sudo when the unprivileged removal is
// denied. Afterwards the tool detects as not installed and a fresh install
// can proceed.
func removeExternalInstall(tool Installer, ic *InstallContext) error {
	info := tool.Info()
	binPath, err := findExternalBinary(tool, ic.Store)
	if err != nil {
		return err
	}
	if err := os.Remove(binPath); err != nil {
		if !errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("remove %s: %w", binPath, err)
		}
		if !ic.Yes && !askForConfirmation(colWarn, "%s is not writable. Remove it with sudo?", binPath) {
			return fmt.Errorf("%s left in place; cannot take over %s", binPath, info.DisplayName)
		}
		if err := RootExec.Run(exec.Command("rm", "-f", binPath)); err != nil {
			return fmt.Errorf("remove %s: %w", binPath, err)
		}
	}
	cPrintf(colInfo, "Removed %s\n", binPath)

	if err := ic.Store.RemovePath(filepath.Dir(binPath)); err != nil {
		cPrintf(colWarn, "Warning: could not update stored PATH: %v\n", err)
	}
	// The variable names a tool owns do not depend on where it was
	// installed, so an empty root is enough to learn them.
	for _, a := range tool.EnvActions("") {
		if a.Kind != ActionSetVar {
			continue
		}
		if err := ic.Store.Delete(a.Name); err != nil {
			cPrintf(colWarn, "Warning: could not remove %s from the environment: %v\n", a.Name, err)
		}
	}
	return nil
}

// findExternalBinary locates the binary behind a successful probe,
// searching the process PATH first and then entries that so far exist only
// in the persistent store.
func findExternalBinary(tool Installer, store *profileStore) (string, error) {
	name := tool.Probe()[0]
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	for _, dir := range store.pathEntries {
		candidate := filepath.Join(dir, name)
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() && st.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s answers its version probe but its binary was not found on PATH", name)
}

// installResolved runs the artifact half of an install: fetch, verify,
// place, persist environment and ledger, then let the tool configure
// itself. The ledger write lands before Configure, so a failed configure
// still leaves the tool managed.
func installResolved(ctx context.Context, tool Installer, spec downloadSpec, ic *InstallContext) error {
	info := tool.Info()
	artifact, err := download(ctx, spec.URL, CacheDir, spec.Filename)
	if err != nil {
		return fmt.Errorf("download %s: %w", info.ID, err)
	}
	if spec.Digest != "" {
		ref, err := parseDigestRef(spec.Digest)
		if err != nil {
			return fmt.Errorf("%s digest: %w", info.ID, err)
		}
		if err := verifyArtifact(artifact, ref); err != nil {
			return err
		}
	}

	ic.ArtifactPath = artifact
	installPath, err := tool.Install(ctx, ic)
	if err != nil {
		return fmt.Errorf("install %s: %w", info.ID, err)
	}
	if err := applyEnvActions(ic.Store, tool.EnvActions(installPath), ic.Overlay); err != nil {
		return err
	}
	ic.Store.BroadcastChange()
	if err := ic.Ledger.markInstalled(info.ID, spec.Version, installPath); err != nil {
		return err
	}
	if err := tool.Configure(ctx, ic); err != nil {
		return fmt.Errorf("configure %s: %w", info.ID, err)
	}
	cPrintf(colSuccess, "%s %s installed.\n", info.DisplayName, spec.Version)
	return nil
}

// uninstallTool removes a managed install. Anything dogu does not manage
// is left alone with a warning.
func uninstallTool(ctx context.Context, tool Installer, ic *InstallContext) error {
	info := tool.Info()
	det := detectOne(ctx, tool, ic.Ledger)
	if det.State != StateManaged {
		cPrintf(colWarn, "%s is %s; dogu only uninstalls tools it installed.\n", info.DisplayName, det.State)
		return nil
	}
	rec, _ := ic.Ledger.get(info.ID)

	if !ic.Yes && !askForConfirmation(colWarn, "Uninstall %s %s?", info.DisplayName, rec.Version) {
		cPrintln(colInfo, "Aborted.")
		return nil
	}
	if err := tool.PreUninstall(ctx, ic); err != nil {
		return fmt.Errorf("pre-uninstall %s: %w", info.ID, err)
	}
	reverseEnvActions(ic.Store, tool.EnvActions(rec.InstallPath))
	if err := os.RemoveAll(rec.InstallPath); err != nil {
		return fmt.Errorf("remove %s: %w", rec.InstallPath, err)
	}
	if err := ic.Ledger.removeTool(info.ID); err != nil {
		return err
	}
	ic.Store.BroadcastChange()
	cPrintf(colSuccess, "%s uninstalled.\n", info.DisplayName)
	return nil
}

// resolveToolArgs maps CLI tool arguments onto catalog entries, rejecting
// unknown names before any work starts.
func resolveToolArgs(catalog []Installer, ids []string) ([]Installer, error) {
	tools := make([]Installer, 0, len(ids))
	for _, id := range ids {
		tool := toolByID(catalog, id)
		if tool == nil {
			return nil, fmt.Errorf("unknown tool %q (run \"dogu list --all\" for the catalog)", id)
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

// runToolBatch applies fn to each tool in order. A failure prompts whether
// to continue; aborting counts the remaining tools as failed. There is no
// cross-tool rollback.
func runToolBatch(tools []Installer, ic *InstallContext, fn func(Installer) error) []string {
	var failed []string
	for i, tool := range tools {
		if err := fn(tool); err != nil {
			cPrintf(colError, "%s: %v\n", tool.Info().ID, err)
			failed = append(failed, tool.Info().ID)
			if i+1 < len(tools) && !ic.Yes && !askForConfirmation(colWarn, "Continue with the remaining tools?") {
				for _, rest := range tools[i+1:] {
					failed = append(failed, rest.Info().ID)
				}
				break
			}
		}
	}
	return failed
}

func installMany(ctx context.Context, catalog []Installer, ic *InstallContext, ids []string) error {
	tools, err := resolveToolArgs(catalog, ids)
	if err != nil {
		return err
	}
	failed := runToolBatch(tools, ic, func(t Installer) error {
		return ensureTool(ctx, t, catalog, ic)
	})
	if len(tools) > 1 {
		cPrintf(colInfo, "%d of %d tools ready.\n", len(tools)-len(failed), len(tools))
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed tools: %s", strings.Join(failed, ", "))
	}
	return nil
}

func uninstallMany(ctx context.Context, catalog []Installer, ic *InstallContext, ids []string) error {
	tools, err := resolveToolArgs(catalog, ids)
	if err != nil {
		return err
	}
	failed := runToolBatch(tools, ic, func(t Installer) error {
		return uninstallTool(ctx, t, ic)
	})
	if len(failed) > 0 {
		return fmt.Errorf("failed tools: %s", strings.Join(failed, ", "))
	}
	return nil
}

// updateManagedTools re-resolves every managed tool (or the named subset)
// and reinstalls the ones whose published version moved. Lookup failures
// are reported per tool and never stop the rest.
func updateManagedTools(ctx context.Context, catalog []Installer, ic *InstallContext, ids []string) error {
	tools := catalog
	if len(ids) > 0 {
		var err error
		tools, err = resolveToolArgs(catalog, ids)
		if err != nil {
			return err
		}
	}

	var failed []string
	updated := 0
	for _, tool := range tools {
		info := tool.Info()
		rec, ok := ic.Ledger.get(info.ID)
		if !ok {
			if len(ids) > 0 {
				cPrintf(colWarn, "%s is not managed by dogu; skipping.\n", info.DisplayName)
			}
			continue
		}
		spec, err := tool.ResolveDownload(ctx, ic.Cfg)
		if err != nil {
			cPrintf(colWarn, "Could not check %s for updates: %v\n", info.DisplayName, err)
			failed = append(failed, info.ID)
			continue
		}
		if spec.Version == rec.Version {
			debugf("=> %s already at %s\n", info.ID, rec.Version)
			continue
		}
		colArrow.Print("-> ")
		cPrintf(colInfo, "Updating %s: %s -> %s\n", info.DisplayName, rec.Version, spec.Version)
		if err := installResolved(ctx, tool, spec, ic); err != nil {
			cPrintf(colError, "Update failed for %s: %v\n", info.DisplayName, err)
			failed = append(failed, info.ID)
			continue
		}
		updated++
	}

	if updated == 0 && len(failed) == 0 {
		cPrintln(colSuccess, "Everything is up to date.")
	}
	if len(failed) > 0 {
		return fmt.Errorf("update failed for: %s", strings.Join(failed, ", "))
	}
	return nil
}
