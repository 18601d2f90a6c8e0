package dogu

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvStore is the persistent user-environment abstraction. Named variables
// and PATH membership written here survive shell restarts; PATH edits
// deduplicate case-insensitively and removal only ever touches entries the
// store owns.
type EnvStore interface {
	Get(name string) (string, bool)
	Set(name, value string) error
	Delete(name string) error
	AppendPath(dir string) error
	RemovePath(dir string) error
	BroadcastChange()
}

const (
	envBlockBegin = "# >>> dogu managed block >>>"
	envBlockEnd   = "# <<< dogu managed block <<<"
	envHookTag    = "# dogu env"
)

// profileStore persists the environment to a managed shell fragment that
// login shells source through a hook line in the user's profile. The
// fragment is rewritten whole on every change; values are double-quoted so
// embedded $VAR references expand at source time.
type profileStore struct {
	fragmentPath string
	hookFiles    []string

	varNames    []string // insertion order, keeps the fragment diff-stable
	vars        map[string]string
	pathEntries []string
}

var _ EnvStore = (*profileStore)(nil)

func newProfileStore(fragmentPath string) (*profileStore, error) {
	s := &profileStore{
		fragmentPath: fragmentPath,
		vars:         make(map[string]string),
	}

	if home, err := os.UserHomeDir(); err == nil {
		// .profile is always hooked; rc files only when the user has them.
		s.hookFiles = append(s.hookFiles, filepath.Join(home, ".profile"))
		for _, rc := range []string{".bashrc", ".zshrc"} {
			if pathExists(filepath.Join(home, rc)) {
				s.hookFiles = append(s.hookFiles, filepath.Join(home, rc))
			}
		}
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *profileStore) load() error {
	data, err := os.ReadFile(s.fragmentPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read env fragment %s: %w", s.fragmentPath, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "export ") {
			continue
		}
		name, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		value = unquoteEnvValue(value)
		if name == "PATH" {
			for _, entry := range strings.Split(strings.TrimPrefix(value, "$PATH"), ":") {
				if entry != "" {
					s.pathEntries = append(s.pathEntries, entry)
				}
			}
			continue
		}
		if _, seen := s.vars[name]; !seen {
			s.varNames = append(s.varNames, name)
		}
		s.vars[name] = value
	}
	return nil
}

func quoteEnvValue(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

func unquoteEnvValue(v string) string {
	v = strings.TrimSuffix(strings.TrimPrefix(v, `"`), `"`)
	return strings.ReplaceAll(v, `\"`, `"`)
}

func (s *profileStore) save() error {
	var b strings.Builder
	b.WriteString(envBlockBegin + "\n")
	for _, name := range s.varNames {
		fmt.Fprintf(&b, "export %s=%s\n", name, quoteEnvValue(s.vars[name]))
	}
	if len(s.pathEntries) > 0 {
		fmt.Fprintf(&b, "export PATH=\"$PATH:%s\"\n", strings.Join(s.pathEntries, ":"))
	}
	b.WriteString(envBlockEnd + "\n")

	if err := os.MkdirAll(filepath.Dir(s.fragmentPath), 0o755); err != nil {
		return fmt.Errorf("create env dir: %w", err)
	}
	if err := os.WriteFile(s.fragmentPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write env fragment %s: %w", s.fragmentPath, err)
	}
	return s.ensureHooks()
}

// ensureHooks appends the source line to each profile file exactly once,
// recognized by its trailing tag. .profile is created when absent.
func (s *profileStore) ensureHooks() error {
	hook := fmt.Sprintf("[ -f %q ] && . %q %s\n", s.fragmentPath, s.fragmentPath, envHookTag)
	for _, file := range s.hookFiles {
		data, err := os.ReadFile(file)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("read %s: %w", file, err)
		}
		if strings.Contains(string(data), envHookTag) {
			continue
		}
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open %s: %w", file, err)
		}
		line := hook
		if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
			line = "\n" + hook
		}
		if _, err := f.WriteString(line); err != nil {
			f.Close()
			return fmt.Errorf("append hook to %s: %w", file, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", file, err)
		}
		debugf("=> Hooked env fragment into %s\n", file)
	}
	return nil
}

// removeHooks strips the source line from every profile file it was added
// to. The fragment file itself is left for the caller.
func (s *profileStore) removeHooks() error {
	for _, file := range s.hookFiles {
		data, err := os.ReadFile(file)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		lines := strings.Split(string(data), "\n")
		kept := lines[:0]
		for _, line := range lines {
			if strings.Contains(line, envHookTag) {
				continue
			}
			kept = append(kept, line)
		}
		out := strings.Join(kept, "\n")
		if out == string(data) {
			continue
		}
		if err := os.WriteFile(file, []byte(out), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", file, err)
		}
	}
	return nil
}

// Get returns a stored variable. For PATH it returns the store-owned
// entries joined with ':', not the live process PATH.
func (s *profileStore) Get(name string) (string, bool) {
	if name == "PATH" {
		if len(s.pathEntries) == 0 {
			return "", false
		}
		return strings.Join(s.pathEntries, ":"), true
	}
	v, ok := s.vars[name]
	return v, ok
}

func (s *profileStore) Set(name, value string) error {
	if name == "PATH" {
		return fmt.Errorf("PATH is managed through AppendPath/RemovePath")
	}
	if _, seen := s.vars[name]; !seen {
		s.varNames = append(s.varNames, name)
	}
	s.vars[name] = value
	return s.save()
}

func (s *profileStore) Delete(name string) error {
	if _, ok := s.vars[name]; !ok {
		return nil
	}
	delete(s.vars, name)
	for i, n := range s.varNames {
		if n == name {
			s.varNames = append(s.varNames[:i], s.varNames[i+1:]...)
			break
		}
	}
	return s.save()
}

func samePathEntry(a, b string) bool {
	return strings.EqualFold(filepath.Clean(a), filepath.Clean(b))
}

// AppendPath adds dir to the stored PATH additions unless an equivalent
// entry is already present.
func (s *profileStore) AppendPath(dir string) error {
	for _, entry := range s.pathEntries {
		if samePathEntry(entry, dir) {
			return nil
		}
	}
	s.pathEntries = append(s.pathEntries, dir)
	return s.save()
}

// RemovePath drops every stored entry equivalent to dir, preserving the
// order of the rest.
func (s *profileStore) RemovePath(dir string) error {
	kept := s.pathEntries[:0]
	removed := false
	for _, entry := range s.pathEntries {
		if samePathEntry(entry, dir) {
			removed = true
			continue
		}
		kept = append(kept, entry)
	}
	s.pathEntries = kept
	if !removed {
		return nil
	}
	return s.save()
}

// BroadcastChange nudges running shells by refreshing the fragment mtime.
// New shells pick the fragment up through the profile hook regardless, so
// this is best-effort and never fails.
func (s *profileStore) BroadcastChange() {
	now := time.Now()
	if err := os.Chtimes(s.fragmentPath, now, now); err != nil {
		debugf("=> BroadcastChange: %v\n", err)
	}
}
