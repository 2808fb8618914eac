package manager

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestCreateBackup_ZipsTreeWithRelativePaths(t *testing.T) {
	s := newTestStore(t)
	for _, c := range []*Connection{
		{Name: "db1", HostName: "h", Folder: "work/db"},
		{Name: "pi", HostName: "h", Folder: "personal"},
	} {
		if err := s.Save(c); err != nil {
			t.Fatalf("save %s: %v", c.Name, err)
		}
	}

	dest := filepath.Join(t.TempDir(), "backup.zip")
	written, err := s.CreateBackup(dest)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if written != dest {
		t.Fatalf("expected %q, got %q", dest, written)
	}

	zr, err := zip.OpenReader(written)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	want := []string{"personal/pi.conf", "work/db/db1.conf"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, names)
	}
}

func TestCreateBackup_DefaultPathSitsNextToTree(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(&Connection{Name: "a", HostName: "h"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	written, err := s.CreateBackup("")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if filepath.Dir(written) != filepath.Dir(s.BaseDir()) {
		t.Fatalf("expected backup next to tree, got %q", written)
	}
	base := filepath.Base(written)
	if !strings.HasPrefix(base, "backup_") || !strings.HasSuffix(base, ".zip") {
		t.Fatalf("unexpected backup name %q", base)
	}
}

func TestExportAll_CopiesPreservingRelativePaths(t *testing.T) {
	s := newTestStore(t)
	for _, c := range []*Connection{
		{Name: "db1", HostName: "h", Folder: "work/db"},
		{Name: "pi", HostName: "h", Folder: "personal"},
	} {
		if err := s.Save(c); err != nil {
			t.Fatalf("save %s: %v", c.Name, err)
		}
	}

	dest := t.TempDir()
	count, err := s.ExportAll(dest)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 files exported, got %d", count)
	}
	for _, rel := range []string{"work/db/db1.conf", "personal/pi.conf"} {
		if _, err := os.Stat(filepath.Join(dest, filepath.FromSlash(rel))); err != nil {
			t.Fatalf("expected exported file %s: %v", rel, err)
		}
	}
}

func TestExportAll_EmptyTreeExportsNothing(t *testing.T) {
	s := newTestStore(t)
	count, err := s.ExportAll(t.TempDir())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 files, got %d", count)
	}
}
