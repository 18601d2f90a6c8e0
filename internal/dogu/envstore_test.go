package dogu

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *profileStore {
	t.Helper()
	dir := t.TempDir()
	profile := filepath.Join(dir, ".profile")
	if err := os.WriteFile(profile, []byte("# existing profile\n"), 0o644); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return &profileStore{
		fragmentPath: filepath.Join(dir, "env.sh"),
		hookFiles:    []string{profile},
		vars:         make(map[string]string),
	}
}

func TestAppendPathIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.AppendPath("/opt/dogu/tools/gh/bin"); err != nil {
		t.Fatalf("AppendPath: %v", err)
	}
	if err := s.AppendPath("/OPT/DOGU/Tools/GH/bin"); err != nil {
		t.Fatalf("AppendPath again: %v", err)
	}

	if got, want := len(s.pathEntries), 1; got != want {
		t.Fatalf("path entries: got %d want %d", got, want)
	}

	data, err := os.ReadFile(s.fragmentPath)
	if err != nil {
		t.Fatalf("read fragment: %v", err)
	}
	if got, want := strings.Count(string(data), "/bin"), 1; got != want {
		t.Fatalf("fragment occurrences: got %d want %d\n%s", got, want, data)
	}
}

func TestRemovePathKeepsOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, dir := range []string{"/a/bin", "/b/bin", "/c/bin"} {
		if err := s.AppendPath(dir); err != nil {
			t.Fatalf("AppendPath %s: %v", dir, err)
		}
	}
	if err := s.RemovePath("/B/bin"); err != nil {
		t.Fatalf("RemovePath: %v", err)
	}

	got, _ := s.Get("PATH")
	if want := "/a/bin:/c/bin"; got != want {
		t.Fatalf("PATH: got %q want %q", got, want)
	}
}

func TestRemovePathAbsentIsNoop(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.AppendPath("/a/bin"); err != nil {
		t.Fatalf("AppendPath: %v", err)
	}
	before, err := os.ReadFile(s.fragmentPath)
	if err != nil {
		t.Fatalf("read fragment: %v", err)
	}
	if err := s.RemovePath("/never/added"); err != nil {
		t.Fatalf("RemovePath: %v", err)
	}
	after, err := os.ReadFile(s.fragmentPath)
	if err != nil {
		t.Fatalf("read fragment: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("fragment changed by absent removal:\n%s\nvs\n%s", before, after)
	}
}

func TestSetDeleteRoundtrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.Set("JAVA_HOME", "/opt/dogu/lang/jdk-21"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.AppendPath("/opt/dogu/lang/jdk-21/bin"); err != nil {
		t.Fatalf("AppendPath: %v", err)
	}

	// A fresh store over the same fragment must see the persisted state.
	reloaded := &profileStore{fragmentPath: s.fragmentPath, vars: make(map[string]string)}
	if err := reloaded.load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, ok := reloaded.Get("JAVA_HOME"); !ok || got != "/opt/dogu/lang/jdk-21" {
		t.Fatalf("JAVA_HOME after reload: got %q ok=%v", got, ok)
	}
	if got, _ := reloaded.Get("PATH"); got != "/opt/dogu/lang/jdk-21/bin" {
		t.Fatalf("PATH after reload: got %q", got)
	}

	if err := reloaded.Delete("JAVA_HOME"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := reloaded.Get("JAVA_HOME"); ok {
		t.Fatal("JAVA_HOME still present after Delete")
	}
	if err := reloaded.Delete("JAVA_HOME"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
}

func TestFragmentFormat(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.Set("GOPATH", "$HOME/go"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.AppendPath("/opt/go/bin"); err != nil {
		t.Fatalf("AppendPath: %v", err)
	}

	data, err := os.ReadFile(s.fragmentPath)
	if err != nil {
		t.Fatalf("read fragment: %v", err)
	}
	content := string(data)

	if !strings.HasPrefix(content, envBlockBegin+"\n") {
		t.Fatalf("fragment missing begin marker:\n%s", content)
	}
	if !strings.HasSuffix(content, envBlockEnd+"\n") {
		t.Fatalf("fragment missing end marker:\n%s", content)
	}
	// $HOME must stay literal so it expands at source time.
	if !strings.Contains(content, `export GOPATH="$HOME/go"`) {
		t.Fatalf("fragment lost expandable value:\n%s", content)
	}
	if !strings.Contains(content, `export PATH="$PATH:/opt/go/bin"`) {
		t.Fatalf("fragment PATH line wrong:\n%s", content)
	}
}

func TestHookAppendedOnce(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.Set("A", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("B", "2"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	data, err := os.ReadFile(s.hookFiles[0])
	if err != nil {
		t.Fatalf("read profile: %v", err)
	}
	content := string(data)

	if !strings.HasPrefix(content, "# existing profile\n") {
		t.Fatalf("profile contents clobbered:\n%s", content)
	}
	if got, want := strings.Count(content, envHookTag), 1; got != want {
		t.Fatalf("hook lines: got %d want %d\n%s", got, want, content)
	}
	if !strings.Contains(content, s.fragmentPath) {
		t.Fatalf("hook does not reference fragment:\n%s", content)
	}
}

func TestSetPathRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.Set("PATH", "/sneaky"); err == nil {
		t.Fatal("Set(PATH) should be rejected")
	}
}

func TestBroadcastChangeNeverPanics(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	// Fragment does not exist yet; broadcast must still be safe.
	s.BroadcastChange()

	if err := s.Set("A", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.BroadcastChange()
}
