package manager

import (
	"strings"
	"testing"
)

func newTestModel(t *testing.T) model {
	t.Helper()
	// Keep state.json away from the real config dir.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	s := newTestStore(t)
	seed := []Connection{
		{Name: "alpha", HostName: "alpha.example.com", Folder: "personal"},
		{Name: "bravo", HostName: "bravo.example.com", Folder: "work"},
		{Name: "charlie", HostName: "charlie.example.com", Folder: "work"},
		{Name: "delta", HostName: "delta.example.com", Folder: "work/databases"},
	}
	for i := range seed {
		if err := s.Save(&seed[i]); err != nil {
			t.Fatalf("seed %s: %v", seed[i].Name, err)
		}
	}

	m := newModel(s, nil, UIOptions{MaxResults: 50})
	if m.watcher != nil {
		w := m.watcher
		t.Cleanup(func() { _ = w.Close() })
	}
	return m
}

func findConnRow(t *testing.T, m *model, name string) int {
	t.Helper()
	for i, r := range m.filtered {
		if !r.IsFolder && r.Conn.Name == name {
			return i
		}
	}
	t.Fatalf("expected %s in filtered rows", name)
	return -1
}

func TestBrowserRows_GroupByFolder(t *testing.T) {
	m := newTestModel(t)

	var folders []string
	conns := 0
	for _, r := range m.rows {
		if r.IsFolder {
			folders = append(folders, r.Folder)
		} else {
			conns++
		}
	}
	if conns != 4 {
		t.Fatalf("expected 4 connection rows, got %d", conns)
	}
	want := []string{"personal", "work", "work/databases"}
	if strings.Join(folders, ",") != strings.Join(want, ",") {
		t.Fatalf("expected folder rows %v, got %v", want, folders)
	}
}

func TestBrowserRows_CollapseHidesSubtree(t *testing.T) {
	m := newTestModel(t)

	m.toggleCollapse("work")
	for _, r := range m.filtered {
		if !r.IsFolder && r.Conn.Folder == "work" {
			t.Fatalf("expected work connections hidden, saw %s", r.Conn.Name)
		}
		if r.IsFolder && r.Folder == "work/databases" {
			t.Fatalf("expected nested folder hidden while work is collapsed")
		}
	}

	m.toggleCollapse("work")
	found := false
	for _, r := range m.filtered {
		if r.IsFolder && r.Folder == "work/databases" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected nested folder back after expanding")
	}
}

func TestSelectionStableAcrossFiltering(t *testing.T) {
	m := newTestModel(t)

	m.selected = findConnRow(t, &m, "bravo")
	m.toggleCurrentSelection()
	if _, ok := m.selectedSet["work/bravo"]; !ok {
		t.Fatalf("expected work/bravo to be selected")
	}

	// Filter bravo out of view; the selection keys by identity and stays.
	m.input.SetValue("delta")
	m.recomputeFilter()
	if _, ok := m.selectedSet["work/bravo"]; !ok {
		t.Fatalf("expected work/bravo to remain selected after filtering")
	}

	m.input.SetValue("")
	m.recomputeFilter()
	if _, ok := m.selectedSet["work/bravo"]; !ok {
		t.Fatalf("expected work/bravo to remain selected after clearing filter")
	}
}

func TestSelectedConns_UseIdentityNotFilteredIndex(t *testing.T) {
	m := newTestModel(t)

	m.selected = findConnRow(t, &m, "bravo")
	m.toggleCurrentSelection()
	m.selected = findConnRow(t, &m, "delta")
	m.toggleCurrentSelection()

	m.input.SetValue("bravo")
	m.recomputeFilter()

	got := map[string]struct{}{}
	for _, c := range m.selectedConns() {
		got[c.Name] = struct{}{}
	}
	if _, ok := got["bravo"]; !ok {
		t.Fatalf("expected selectedConns to include bravo, got %v", got)
	}
	if _, ok := got["delta"]; !ok {
		t.Fatalf("expected selectedConns to include delta even when filtered out, got %v", got)
	}
}

func TestRecomputeFilter_FavoritesOnly(t *testing.T) {
	m := newTestModel(t)

	m.favorites["work/bravo"] = struct{}{}
	m.filterFavorites = true
	m.recomputeFilter()

	if len(m.filtered) != 1 {
		t.Fatalf("expected exactly one favorite row, got %d", len(m.filtered))
	}
	if m.filtered[0].IsFolder || m.filtered[0].Conn.Name != "bravo" {
		t.Fatalf("expected bravo, got %+v", m.filtered[0])
	}
}

func TestFormRoundTrip_EditPrefill(t *testing.T) {
	m := newTestModel(t)

	orig := Connection{
		Name:          "edge",
		HostName:      "edge.example.com",
		User:          "ops",
		Port:          2222,
		IdentityFile:  "~/.ssh/id_ed25519",
		Folder:        "work",
		ProxyJump:     "bastion",
		ColorTag:      "staging",
		LocalForwards: []Forward{{BindPort: 8080, TargetHost: "localhost", TargetPort: 80}},
	}
	m.openForm(&orig)

	got, err := m.formConnection()
	if err != nil {
		t.Fatalf("formConnection: %v", err)
	}
	if got.Name != orig.Name || got.HostName != orig.HostName || got.User != orig.User {
		t.Fatalf("expected prefilled identity fields, got %+v", got)
	}
	if got.Port != 2222 || got.Folder != "work" || got.ProxyJump != "bastion" || got.ColorTag != "staging" {
		t.Fatalf("expected prefilled detail fields, got %+v", got)
	}
	if len(got.LocalForwards) != 1 || got.LocalForwards[0] != orig.LocalForwards[0] {
		t.Fatalf("expected forwards to round-trip, got %v", got.LocalForwards)
	}
}

func TestFormConnection_RejectsBadPort(t *testing.T) {
	m := newTestModel(t)
	m.openForm(nil)
	m.formFields[fieldName].SetValue("x")
	m.formFields[fieldHost].SetValue("x.example.com")
	m.formFields[fieldPort].SetValue("not-a-port")

	if _, err := m.formConnection(); err == nil {
		t.Fatalf("expected error for non-numeric port")
	}
}
