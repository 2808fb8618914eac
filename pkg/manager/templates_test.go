package manager

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCatalogNames_BuiltinsInCanonicalOrder(t *testing.T) {
	cat := NewCatalog()
	got := strings.Join(cat.Names(), ",")
	want := "basic-server,aws-ec2,jump-host,developer"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestInstantiate_FillsEverySlot(t *testing.T) {
	cat := NewCatalog()
	vars := BaseVariables("web1", "web1.example.com", "deploy", 22, "")

	out, err := cat.Instantiate("basic-server", vars)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	for _, want := range []string{
		"Host web1",
		"    HostName web1.example.com",
		"    User deploy",
		"    Port 22",
		"    IdentityFile ~/.ssh/id_ed25519",
		"    ControlMaster auto",
		"    StrictHostKeyChecking ask",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if placeholderPattern.MatchString(out) {
		t.Fatalf("unresolved placeholder left in:\n%s", out)
	}
}

func TestInstantiate_EmptyUserLeavesBlankSlotLine(t *testing.T) {
	cat := NewCatalog()
	vars := BaseVariables("web1", "h", "", 22, "")

	out, err := cat.Instantiate("basic-server", vars)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if strings.Contains(out, "User ") {
		t.Fatalf("expected no User directive:\n%s", out)
	}
	if !strings.Contains(out, "    HostName h\n\n    Port 22") {
		t.Fatalf("expected empty line where the user slot was:\n%s", out)
	}
}

func TestInstantiate_MissingVariableFails(t *testing.T) {
	cat := NewCatalog()
	_, err := cat.Instantiate("basic-server", map[string]string{"name": "x"})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "missing template variable") {
		t.Fatalf("unexpected error %q", err.Error())
	}
}

func TestInstantiate_UnknownTemplateFails(t *testing.T) {
	cat := NewCatalog()
	_, err := cat.Instantiate("nope", nil)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestInstantiate_JumpHostDefaultsToStockBastion(t *testing.T) {
	cat := NewCatalog()
	out, err := cat.Instantiate("jump-host", BaseVariables("app1", "10.1.2.3", "ops", 22, ""))
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if !strings.Contains(out, "    ProxyJump bastion.example.com") {
		t.Fatalf("expected default jump host:\n%s", out)
	}
}

func TestInstantiate_OutputParsesBackAsStanza(t *testing.T) {
	cat := NewCatalog()
	vars := BaseVariables("dev1", "dev.example.com", "me", 2200, "~/.ssh/work_key")
	vars["local_forwards"] = FormatLocalForwards([]Forward{{BindPort: 3000, TargetHost: "localhost", TargetPort: 3000}})

	out, err := cat.Instantiate("developer", vars)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	c, err := ParseStanza(out, "", "work")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Name != "dev1" || c.HostName != "dev.example.com" || c.User != "me" || c.Port != 2200 {
		t.Fatalf("template output did not parse back: %+v", c)
	}
	if c.IdentityFile != "~/.ssh/work_key" {
		t.Fatalf("identity file did not parse back: %q", c.IdentityFile)
	}
	if len(c.LocalForwards) != 1 || c.LocalForwards[0].BindPort != 3000 {
		t.Fatalf("forward did not parse back: %+v", c.LocalForwards)
	}
}

func TestLoadUserTemplates_MergesAndShadows(t *testing.T) {
	cat := NewCatalog()
	path := filepath.Join(t.TempDir(), "templates.yaml")
	yamlText := `templates:
  - id: k8s-node
    name: Kubernetes Node
    content: |
      Host {name}
          HostName {host}
  - id: basic-server
    content: |
      Host {name}
          HostName {host}
          Port 22
`
	if err := os.WriteFile(path, []byte(yamlText), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	n, err := cat.LoadUserTemplates(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 templates loaded, got %d", n)
	}

	names := cat.Names()
	if names[len(names)-1] != "k8s-node" {
		t.Fatalf("expected k8s-node appended, got %v", names)
	}
	if strings.Count(strings.Join(names, ","), "basic-server") != 1 {
		t.Fatalf("expected shadowed builtin to keep one slot, got %v", names)
	}

	shadowed, err := cat.Get("basic-server")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(shadowed.Content, "Port 22") || strings.Contains(shadowed.Content, "{port}") {
		t.Fatalf("expected user template to shadow builtin:\n%s", shadowed.Content)
	}
}

func TestLoadUserTemplates_MissingFileLoadsNothing(t *testing.T) {
	cat := NewCatalog()
	n, err := cat.LoadUserTemplates(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("expected missing file to be fine, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 templates, got %d", n)
	}
}

func TestLoadUserTemplates_RejectsBadID(t *testing.T) {
	cat := NewCatalog()
	path := filepath.Join(t.TempDir(), "templates.yaml")
	if err := os.WriteFile(path, []byte("templates:\n  - id: \"bad id\"\n    content: x\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	if _, err := cat.LoadUserTemplates(path); err == nil {
		t.Fatalf("expected invalid id error")
	}
}

func TestFormatForwards_JoinsIndentedLines(t *testing.T) {
	local := FormatLocalForwards([]Forward{
		{BindPort: 8080, TargetHost: "localhost", TargetPort: 80},
		{BindPort: 5432, TargetHost: "db.internal", TargetPort: 5432},
	})
	want := "    LocalForward 8080 localhost:80\n    LocalForward 5432 db.internal:5432"
	if local != want {
		t.Fatalf("expected %q, got %q", want, local)
	}
	if FormatLocalForwards(nil) != "" {
		t.Fatalf("expected empty string for no forwards")
	}
	remote := FormatRemoteForwards([]Forward{{BindPort: 9000, TargetHost: "localhost", TargetPort: 9090}})
	if remote != "    RemoteForward 9000 localhost:9090" {
		t.Fatalf("unexpected remote forwards %q", remote)
	}
}
