package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/apperr"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempVault(t)
	content := []byte("---\nid: EPIC-001\n---\n\n# Epic\n")
	if err := s.Write("EPIC-001/README.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("EPIC-001/README.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestRead_MissingIsPathNotFound(t *testing.T) {
	s := tempVault(t)
	_, err := s.Read("nope.md")
	if !errors.Is(err, apperr.ErrPathNotFound) {
		t.Errorf("err = %v, want ErrPathNotFound", err)
	}
}

func TestWrite_KeepsPermissions(t *testing.T) {
	s := tempVault(t)
	p := filepath.Join(s.Root(), "ro.md")
	if err := os.WriteFile(p, []byte("a"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("ro.md", []byte("b")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestList(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("a.md", []byte("a"))
	_ = s.Write("sub/b.md", []byte("b"))
	_ = s.Write("readme.txt", []byte("not md"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("len = %d, want 2", len(items))
	}
	for _, it := range items {
		if it.Checksum == "" {
			t.Errorf("%s: empty checksum", it.Path)
		}
	}
}

func TestExists(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("here.md", []byte("x"))
	if ok, err := s.Exists("here.md"); err != nil || !ok {
		t.Errorf("Exists(here.md) = %v, %v", ok, err)
	}
	if ok, err := s.Exists("gone.md"); err != nil || ok {
		t.Errorf("Exists(gone.md) = %v, %v", ok, err)
	}
}

func TestDirs(t *testing.T) {
	s := tempVault(t)
	for _, d := range []string{"EPIC-002-B", "EPIC-001-A", "NOTES"} {
		if err := os.MkdirAll(filepath.Join(s.Root(), "EPICS", d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	_ = s.Write("EPICS/EPIC-003.md", []byte("file, not dir"))

	got, err := s.Dirs("EPICS", "EPIC-*")
	if err != nil {
		t.Fatalf("Dirs: %v", err)
	}
	want := []string{"EPICS/EPIC-001-A", "EPICS/EPIC-002-B"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Dirs = %v, want %v", got, want)
	}

	if _, err := s.Dirs("MISSING", "EPIC-*"); !errors.Is(err, apperr.ErrPathNotFound) {
		t.Errorf("err = %v, want ErrPathNotFound", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempVault(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteNoLeftovers(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("atomic.md", []byte("original content"))

	updated := []byte("updated content")
	if err := s.Write("atomic.md", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.md")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.root, tempPattern))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "does-not-exist"))
	if !errors.Is(err, apperr.ErrPathNotFound) {
		t.Errorf("err = %v, want ErrPathNotFound", err)
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "vaultsync-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
