package dogu

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
)

// Executor runs external commands, optionally escalating through sudo.
// Env carries the session overlay that freshly installed tools contribute,
// so later subprocesses see PATH and variables that only exist in the
// persistent store so far.
type Executor struct {
	Context         context.Context
	ShouldRunAsRoot bool
	Interactive     bool
	Env             map[string]string
}

// ensureSudo makes sure we hold a valid sudo timestamp before wrapping a
// command, so the command itself never stalls on a hidden password prompt.
func ensureSudo(interactive bool) error {
	check := exec.Command("sudo", "-nv")
	check.Stdout = nil
	check.Stderr = nil
	if err := check.Run(); err == nil {
		return nil
	}

	if !interactive {
		return fmt.Errorf("sudo authentication required but prompts are disabled")
	}

	interactiveMu.Lock()
	defer interactiveMu.Unlock()

	colArrow.Print("-> ")
	colInfo.Println("Root privileges required.")
	auth := exec.Command("sudo", "-v")
	auth.Stdin = os.Stdin
	auth.Stdout = os.Stdout
	auth.Stderr = os.Stderr
	if err := auth.Run(); err != nil {
		return fmt.Errorf("sudo authentication failed: %w", err)
	}
	return nil
}

// mergeEnvOverlay layers overlay values over a base environment. Overlay
// keys replace base entries of the same name; the overlay itself is
// appended in sorted order.
func mergeEnvOverlay(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		if name, _, ok := strings.Cut(kv, "="); ok {
			if _, shadowed := overlay[name]; shadowed {
				continue
			}
		}
		merged = append(merged, kv)
	}
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+overlay[k])
	}
	return merged
}

// Run executes cmd under the executor's policy: overlay env, sudo -E when
// escalation is needed, and its own process group so a cancelled context
// kills the whole tree.
func (e *Executor) Run(cmd *exec.Cmd) error {
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if cmd.Stdin == nil && e.Interactive {
		cmd.Stdin = os.Stdin
	}

	finalArgs := cmd.Args
	if e.ShouldRunAsRoot && os.Geteuid() != 0 {
		if err := ensureSudo(e.Interactive); err != nil {
			return err
		}
		// -E keeps the overlay visible to the escalated process.
		finalArgs = append([]string{"sudo", "-E"}, finalArgs...)
	}

	finalCmd := exec.Command(finalArgs[0], finalArgs[1:]...)
	finalCmd.Stdout = cmd.Stdout
	finalCmd.Stderr = cmd.Stderr
	finalCmd.Stdin = cmd.Stdin
	finalCmd.Dir = cmd.Dir

	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	finalCmd.Env = mergeEnvOverlay(env, e.Env)

	if !e.Interactive {
		finalCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	if err := finalCmd.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- finalCmd.Wait() }()

	ctx := e.Context
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		if finalCmd.Process != nil {
			if e.Interactive {
				// No dedicated group in interactive mode.
				_ = finalCmd.Process.Kill()
			} else {
				// Negative pid signals the whole process group.
				_ = syscall.Kill(-finalCmd.Process.Pid, syscall.SIGKILL)
			}
		}
		<-done
		return fmt.Errorf("command aborted: %v", ctx.Err())
	case err := <-done:
		return err
	}
}
