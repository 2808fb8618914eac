package manager

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// newTestStore gives each test an isolated tree and ssh config.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := NewStore(
		filepath.Join(root, "groups"),
		filepath.Join(root, "sshdir", "config"),
		"",
	)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestStoreSaveLoad_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	in := &Connection{Name: "db1", HostName: "10.0.0.5", User: "admin", Port: 2222, Folder: "work/db"}
	if err := s.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := s.Load("work/db", "db1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.Name != "db1" || out.HostName != "10.0.0.5" || out.User != "admin" || out.Port != 2222 {
		t.Fatalf("fields did not survive save/load: %+v", out)
	}
	if out.Folder != "work/db" {
		t.Fatalf("expected folder work/db, got %q", out.Folder)
	}
}

func TestStoreSave_RejectsInvalidRecord(t *testing.T) {
	s := newTestStore(t)
	err := s.Save(&Connection{Name: "bad name", HostName: "h"})
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
}

func TestStoreSave_OverwritesSameKey(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(&Connection{Name: "web1", HostName: "old.example.com"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(&Connection{Name: "web1", HostName: "new.example.com"}); err != nil {
		t.Fatalf("second save: %v", err)
	}
	out, err := s.Load("personal", "web1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.HostName != "new.example.com" {
		t.Fatalf("expected overwrite, got %q", out.HostName)
	}
}

func TestStoreLoad_MissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load("personal", "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreDelete_RemovesFile(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(&Connection{Name: "web1", HostName: "h"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete("personal", "web1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Exists("personal", "web1") {
		t.Fatalf("expected file gone after delete")
	}
	if err := s.Delete("personal", "web1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStoreList_EmptyAndMissingFoldersAreEmpty(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateFolder("work/empty"); err != nil {
		t.Fatalf("create folder: %v", err)
	}

	conns, err := s.List("work/empty")
	if err != nil {
		t.Fatalf("list empty folder: %v", err)
	}
	if len(conns) != 0 {
		t.Fatalf("expected empty result, got %d", len(conns))
	}

	conns, err = s.List("does/not/exist")
	if err != nil {
		t.Fatalf("list missing folder: %v", err)
	}
	if len(conns) != 0 {
		t.Fatalf("expected empty result for missing folder, got %d", len(conns))
	}
}

func TestStoreList_WholeTreeSortedAndSkipsUnparsable(t *testing.T) {
	s := newTestStore(t)
	for _, c := range []*Connection{
		{Name: "zeta", HostName: "z", Folder: "work"},
		{Name: "alpha", HostName: "a", Folder: "work"},
		{Name: "solo", HostName: "s", Folder: "personal"},
	} {
		if err := s.Save(c); err != nil {
			t.Fatalf("save %s: %v", c.Name, err)
		}
	}
	// a file with a non-numeric port must be skipped, not fail the walk
	bad := filepath.Join(s.BaseDir(), "work", "broken.conf")
	if err := os.WriteFile(bad, []byte("Host broken\n    Port abc\n"), 0o644); err != nil {
		t.Fatalf("write bad file: %v", err)
	}

	conns, err := s.List("")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var keys []string
	for _, c := range conns {
		keys = append(keys, c.Key())
	}
	want := []string{"personal/solo", "work/alpha", "work/zeta"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, keys)
	}
}

func TestStoreMove_ConflictLeavesBothFiles(t *testing.T) {
	s := newTestStore(t)
	src := &Connection{Name: "db1", HostName: "src", Folder: "work"}
	if err := s.Save(src); err != nil {
		t.Fatalf("save src: %v", err)
	}
	if err := s.Save(&Connection{Name: "db1", HostName: "dst", Folder: "archive"}); err != nil {
		t.Fatalf("save dst: %v", err)
	}

	err := s.Move(src, "archive")
	if !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if !s.Exists("work", "db1") || !s.Exists("archive", "db1") {
		t.Fatalf("expected both files to survive a failed move")
	}
	if src.Folder != "work" {
		t.Fatalf("expected record folder unchanged, got %q", src.Folder)
	}
}

func TestStoreMove_CreatesDestinationAndUpdatesRecord(t *testing.T) {
	s := newTestStore(t)
	c := &Connection{Name: "db1", HostName: "h", Folder: "work"}
	if err := s.Save(c); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Move(c, "archive/old"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if c.Folder != "archive/old" {
		t.Fatalf("expected record folder updated, got %q", c.Folder)
	}
	if s.Exists("work", "db1") || !s.Exists("archive/old", "db1") {
		t.Fatalf("expected file relocated")
	}
}

func TestStoreMove_MissingSourceIsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Move(&Connection{Name: "ghost", HostName: "h", Folder: "work"}, "archive")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreDuplicate_PicksFreshAlias(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(&Connection{Name: "db1", HostName: "h", Folder: "work"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	first, err := s.Duplicate("work", "db1")
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if first.Name != "db1-copy" {
		t.Fatalf("expected db1-copy, got %q", first.Name)
	}

	second, err := s.Duplicate("work", "db1")
	if err != nil {
		t.Fatalf("second duplicate: %v", err)
	}
	if second.Name != "db1-copy1" {
		t.Fatalf("expected db1-copy1, got %q", second.Name)
	}
	if !s.Exists("work", "db1-copy") || !s.Exists("work", "db1-copy1") {
		t.Fatalf("expected both copies on disk")
	}
}

func TestStoreFolders_CreateListDelete(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateFolder("work/db"); err != nil {
		t.Fatalf("create folder: %v", err)
	}
	if err := s.Save(&Connection{Name: "db1", HostName: "h", Folder: "work/db"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	folders, err := s.ListFolders()
	if err != nil {
		t.Fatalf("list folders: %v", err)
	}
	got := strings.Join(folders, ",")
	if got != "work,work/db" {
		t.Fatalf("expected work,work/db got %q", got)
	}

	if err := s.DeleteFolder("work", false); !errors.Is(err, ErrFolderNotEmpty) {
		t.Fatalf("expected ErrFolderNotEmpty, got %v", err)
	}
	if !s.Exists("work/db", "db1") {
		t.Fatalf("expected connection to survive refused delete")
	}

	if err := s.DeleteFolder("work", true); err != nil {
		t.Fatalf("recursive delete: %v", err)
	}
	if s.Exists("work/db", "db1") {
		t.Fatalf("expected recursive delete to remove contents")
	}
}

func TestStoreDeleteFolder_MissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.DeleteFolder("nope", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreFolderTree_NestedChildrenOrdered(t *testing.T) {
	s := newTestStore(t)
	for _, c := range []*Connection{
		{Name: "db1", HostName: "h", Folder: "work/db"},
		{Name: "web1", HostName: "h", Folder: "work"},
		{Name: "pi", HostName: "h", Folder: "personal"},
	} {
		if err := s.Save(c); err != nil {
			t.Fatalf("save %s: %v", c.Name, err)
		}
	}

	root, err := s.FolderTree()
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if root.Path != "" || len(root.Folders) != 2 {
		t.Fatalf("unexpected root: %+v", root)
	}
	if root.Folders[0].Name != "personal" || root.Folders[1].Name != "work" {
		t.Fatalf("expected folders ordered by name, got %s,%s", root.Folders[0].Name, root.Folders[1].Name)
	}
	work := root.Folders[1]
	if len(work.Connections) != 1 || work.Connections[0] != "web1" {
		t.Fatalf("unexpected work connections: %v", work.Connections)
	}
	if len(work.Folders) != 1 || work.Folders[0].Path != "work/db" {
		t.Fatalf("unexpected nested folder: %+v", work.Folders)
	}
}

func TestStoreStats_CountsPerFolder(t *testing.T) {
	s := newTestStore(t)
	for _, c := range []*Connection{
		{Name: "a", HostName: "h", Folder: "work"},
		{Name: "b", HostName: "h", Folder: "work"},
		{Name: "c", HostName: "h", Folder: "personal"},
	} {
		if err := s.Save(c); err != nil {
			t.Fatalf("save %s: %v", c.Name, err)
		}
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalConnections != 3 {
		t.Fatalf("expected 3 connections, got %d", st.TotalConnections)
	}
	if st.TotalFolders != 2 {
		t.Fatalf("expected 2 folders, got %d", st.TotalFolders)
	}
	if st.ConnectionsByFolder["work"] != 2 || st.ConnectionsByFolder["personal"] != 1 {
		t.Fatalf("unexpected per-folder counts: %v", st.ConnectionsByFolder)
	}
}

func TestStoreSaveRendered_RefusesOverwrite(t *testing.T) {
	s := newTestStore(t)
	text := "Host tpl\n    HostName h\n"
	if err := s.SaveRendered("work", "tpl", text); err != nil {
		t.Fatalf("save rendered: %v", err)
	}
	if err := s.SaveRendered("work", "tpl", text); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestStoreRefChecks_RejectTraversal(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Load("../outside", "x"); err == nil {
		t.Fatalf("expected traversal folder to be rejected")
	}
	if err := s.CreateFolder("../outside"); err == nil {
		t.Fatalf("expected traversal folder to be rejected")
	}
	if _, err := s.Load("personal", "evil/../../name"); err == nil {
		t.Fatalf("expected invalid name to be rejected")
	}
}
