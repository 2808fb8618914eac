package manager

import (
	"strings"
	"testing"
)

func TestRenderParse_RoundTripsAllFields(t *testing.T) {
	in := &Connection{
		Name:         "db1",
		HostName:     "10.0.0.5",
		User:         "admin",
		Port:         2222,
		IdentityFile: "~/.ssh/id_ed25519",
		Folder:       "work/db",
		ProxyJump:    "bastion",
		LocalForwards: []Forward{
			{BindPort: 5432, TargetHost: "localhost", TargetPort: 5432},
		},
		RemoteForwards: []Forward{
			{BindPort: 9000, TargetHost: "127.0.0.1", TargetPort: 9090},
		},
		ColorTag: "production",
		Icon:     "🗄",
	}

	out, err := ParseStanza(Render(in), in.Name, in.Folder)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if out.Name != "db1" || out.HostName != "10.0.0.5" || out.User != "admin" || out.Port != 2222 {
		t.Fatalf("core fields did not round-trip: %+v", out)
	}
	if out.IdentityFile != in.IdentityFile || out.ProxyJump != in.ProxyJump {
		t.Fatalf("optional fields did not round-trip: %+v", out)
	}
	if out.Folder != "work/db" {
		t.Fatalf("folder did not round-trip: %q", out.Folder)
	}
	if out.ColorTag != "production" || out.Icon != "🗄" {
		t.Fatalf("comment fields did not round-trip: color=%q icon=%q", out.ColorTag, out.Icon)
	}
	if len(out.LocalForwards) != 1 || out.LocalForwards[0] != in.LocalForwards[0] {
		t.Fatalf("local forwards did not round-trip: %+v", out.LocalForwards)
	}
	if len(out.RemoteForwards) != 1 || out.RemoteForwards[0] != in.RemoteForwards[0] {
		t.Fatalf("remote forwards did not round-trip: %+v", out.RemoteForwards)
	}
}

func TestRender_OmitsUserLineWhenEmpty(t *testing.T) {
	text := Render(&Connection{Name: "a", HostName: "h"})
	if strings.Contains(text, "User ") {
		t.Fatalf("expected no User line, got:\n%s", text)
	}
	if !strings.Contains(text, "    Port 22\n") {
		t.Fatalf("expected Port line even at the default, got:\n%s", text)
	}
}

func TestRender_AlwaysWritesKeepAliveBlock(t *testing.T) {
	text := Render(&Connection{Name: "a", HostName: "h"})
	for _, want := range []string{
		"    ServerAliveInterval 60",
		"    ServerAliveCountMax 3",
		"    ConnectTimeout 10",
	} {
		if !strings.Contains(text, want+"\n") {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
	if !strings.HasSuffix(text, "\n") {
		t.Fatalf("expected trailing newline")
	}
}

func TestRender_CommentsComeBeforeBlankLineAndHost(t *testing.T) {
	text := Render(&Connection{Name: "a", HostName: "h", ColorTag: "staging", Icon: "🚀"})
	lines := strings.Split(text, "\n")
	if !strings.HasPrefix(lines[0], "# SSH Manager Icon: ") {
		t.Fatalf("expected icon comment first, got %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "# SSH Manager Metadata: ") {
		t.Fatalf("expected metadata comment second, got %q", lines[1])
	}
	if lines[2] != "" || lines[3] != "Host a" {
		t.Fatalf("expected blank line then Host, got %q / %q", lines[2], lines[3])
	}
}

func TestParseStanza_HostLineFillsNameOnlyWhenMissing(t *testing.T) {
	text := "Host fromfile\n    HostName h\n"

	c, err := ParseStanza(text, "", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Name != "fromfile" {
		t.Fatalf("expected name from Host line, got %q", c.Name)
	}

	c, err = ParseStanza(text, "explicit", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Name != "explicit" {
		t.Fatalf("expected explicit name to win, got %q", c.Name)
	}
}

func TestParseStanza_DefaultsWhenDirectivesAbsent(t *testing.T) {
	c, err := ParseStanza("    HostName h\n", "", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Name != "unnamed" {
		t.Fatalf("expected fallback name, got %q", c.Name)
	}
	if c.Port != 22 {
		t.Fatalf("expected default port, got %d", c.Port)
	}
	if c.Folder != "personal" {
		t.Fatalf("expected default folder, got %q", c.Folder)
	}
}

func TestParseStanza_SkipsMalformedForwardShapes(t *testing.T) {
	text := strings.Join([]string{
		"Host a",
		"    LocalForward 8080 localhost 80",   // three tokens
		"    LocalForward 8080",                // missing target
		"    RemoteForward 9000 host:1:2",      // extra colon
		"    LocalForward 8081 localhost:8081", // good
	}, "\n")

	c, err := ParseStanza(text, "", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(c.LocalForwards) != 1 {
		t.Fatalf("expected 1 local forward, got %+v", c.LocalForwards)
	}
	if len(c.RemoteForwards) != 0 {
		t.Fatalf("expected no remote forwards, got %+v", c.RemoteForwards)
	}
	if c.LocalForwards[0] != (Forward{BindPort: 8081, TargetHost: "localhost", TargetPort: 8081}) {
		t.Fatalf("unexpected forward %+v", c.LocalForwards[0])
	}
}

func TestParseStanza_FailsOnNonNumericPort(t *testing.T) {
	_, err := ParseStanza("Host a\n    Port abc\n", "", "")
	if err == nil {
		t.Fatalf("expected parse error, got nil")
	}
	if !strings.Contains(err.Error(), "Port") {
		t.Fatalf("expected Port in error, got %q", err.Error())
	}

	_, err = ParseStanza("Host a\n    LocalForward 8080 host:xyz\n", "", "")
	if err == nil {
		t.Fatalf("expected parse error for non-numeric forward port, got nil")
	}
}

func TestParseStanza_IgnoresUnknownDirectivesAndBadMetadata(t *testing.T) {
	text := strings.Join([]string{
		"# SSH Manager Metadata: {not json",
		"# a plain comment",
		"Host a",
		"    HostName h",
		"    Compression yes",
		"    StrictHostKeyChecking ask",
	}, "\n")

	c, err := ParseStanza(text, "", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.ColorTag != "" {
		t.Fatalf("expected malformed metadata to be ignored, got color %q", c.ColorTag)
	}
	if c.HostName != "h" {
		t.Fatalf("expected known directives to still apply, got %q", c.HostName)
	}
}
