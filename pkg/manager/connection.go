// Package manager contains the connection store, stanza codec and TUI for
// ssh-manager.
//
// Connections are kept as one OpenSSH Host stanza per file under a managed
// directory tree (by default ~/ssh_manager/groups), and the user's primary
// ~/.ssh/config pulls them in through a single glob Include. OpenSSH stays
// the source of truth: anything that reads ~/.ssh/config sees the managed
// connections with no extra tooling.
package manager

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultFolder is where connections land when no folder is given.
const DefaultFolder = "personal"

// DefaultPort is the SSH port assumed when a stanza carries none.
const DefaultPort = 22

// Forward is one port-forwarding rule. For a local forward BindPort listens
// on the client and traffic is sent to TargetHost:TargetPort on the far
// side; for a remote forward BindPort listens on the server and traffic
// comes back to TargetHost:TargetPort.
type Forward struct {
	BindPort   int
	TargetHost string
	TargetPort int
}

func (f Forward) String() string {
	return fmt.Sprintf("%d %s:%d", f.BindPort, f.TargetHost, f.TargetPort)
}

// Connection is one managed SSH destination. It round-trips through a
// single Host stanza (see Render and ParseStanza).
type Connection struct {
	// Name is the ssh alias. Letters, digits, dashes and underscores only,
	// so it doubles as the stanza file name.
	Name string

	// HostName is the address ssh actually dials. Required.
	HostName string

	// User is the remote login. Optional; when empty no User line is
	// written and ssh falls back to its own default.
	User string

	// Port defaults to 22.
	Port int

	// IdentityFile is an optional private key path (~ allowed, ssh expands it).
	IdentityFile string

	// Folder is the slash-separated group path under the managed tree,
	// e.g. "work/databases". Defaults to "personal".
	Folder string

	// ProxyJump optionally names a bastion to hop through.
	ProxyJump string

	LocalForwards  []Forward
	RemoteForwards []Forward

	// ColorTag is an optional environment label: production, staging or
	// development. Stored in the stanza's metadata comment.
	ColorTag string

	// Icon is an optional display glyph stored in the stanza's icon
	// comment. When empty the color tag (or a generic glyph) decides.
	Icon string
}

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// colorGlyphs maps each known color tag to its list glyph.
var colorGlyphs = map[string]string{
	"production":  "🔴",
	"staging":     "🟡",
	"development": "🟢",
}

// ColorTags lists the recognized color tags in display order.
func ColorTags() []string {
	return []string{"production", "staging", "development"}
}

// Normalize returns a copy with fields trimmed and defaults applied
// (port 22, folder "personal"). It does not validate.
func (c Connection) Normalize() Connection {
	out := c
	out.Name = strings.TrimSpace(out.Name)
	out.HostName = strings.TrimSpace(out.HostName)
	out.User = strings.TrimSpace(out.User)
	out.IdentityFile = strings.TrimSpace(out.IdentityFile)
	out.Folder = strings.Trim(strings.TrimSpace(out.Folder), "/")
	out.ProxyJump = strings.TrimSpace(out.ProxyJump)
	out.ColorTag = strings.ToLower(strings.TrimSpace(out.ColorTag))
	out.Icon = strings.TrimSpace(out.Icon)
	if out.Port == 0 {
		out.Port = DefaultPort
	}
	if out.Folder == "" {
		out.Folder = DefaultFolder
	}
	return out
}

// ValidationError carries every rule a connection violates, not just the
// first, so a form or CLI call can report them all at once.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid connection: " + strings.Join(e.Issues, "; ")
}

// Validate checks every invariant and returns a *ValidationError listing
// all violations, or nil when the connection is well formed.
func (c *Connection) Validate() error {
	var issues []string

	if c.Name == "" {
		issues = append(issues, "name is required")
	} else if !namePattern.MatchString(c.Name) {
		issues = append(issues, fmt.Sprintf("name %q may only contain letters, numbers, dashes and underscores", c.Name))
	}

	if c.HostName == "" {
		issues = append(issues, "hostname is required")
	}

	if c.Port < 1 || c.Port > 65535 {
		issues = append(issues, fmt.Sprintf("port %d must be between 1 and 65535", c.Port))
	}

	if err := validateFolderPath(c.Folder); err != nil {
		issues = append(issues, err.Error())
	}

	if c.ColorTag != "" {
		if _, ok := colorGlyphs[c.ColorTag]; !ok {
			issues = append(issues, fmt.Sprintf("color tag %q is not one of production, staging, development", c.ColorTag))
		}
	}

	for i, f := range c.LocalForwards {
		if err := f.validate(); err != nil {
			issues = append(issues, fmt.Sprintf("local forward %d: %v", i, err))
		}
	}
	for i, f := range c.RemoteForwards {
		if err := f.validate(); err != nil {
			issues = append(issues, fmt.Sprintf("remote forward %d: %v", i, err))
		}
	}

	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

func (f Forward) validate() error {
	if f.BindPort < 1 || f.BindPort > 65535 {
		return fmt.Errorf("bind port %d out of range", f.BindPort)
	}
	if f.TargetHost == "" {
		return fmt.Errorf("target host is required")
	}
	if f.TargetPort < 1 || f.TargetPort > 65535 {
		return fmt.Errorf("target port %d out of range", f.TargetPort)
	}
	return nil
}

// validateFolderPath rejects folder values that could escape the managed
// tree. Used for both record fields and store folder arguments.
func validateFolderPath(folder string) error {
	if strings.Contains(folder, "..") {
		return fmt.Errorf("folder %q must not contain \"..\"", folder)
	}
	if strings.HasPrefix(folder, "/") {
		return fmt.Errorf("folder %q must not start with \"/\"", folder)
	}
	if strings.ContainsAny(folder, "\x00\n") {
		return fmt.Errorf("folder %q contains invalid characters", folder)
	}
	return nil
}

// Glyph returns the display glyph for this connection: the explicit icon
// if set, else the color tag glyph, else a generic terminal glyph.
func (c *Connection) Glyph() string {
	if c.Icon != "" {
		return c.Icon
	}
	if g, ok := colorGlyphs[c.ColorTag]; ok {
		return g
	}
	return "💻"
}

// DisplayName is the one-line list form: glyph, alias and destination.
func (c *Connection) DisplayName() string {
	dest := c.HostName
	if c.User != "" {
		dest = c.User + "@" + dest
	}
	if c.Port != 0 && c.Port != DefaultPort {
		dest = fmt.Sprintf("%s:%d", dest, c.Port)
	}
	return fmt.Sprintf("%s %s (%s)", c.Glyph(), c.Name, dest)
}

// Key is the stable identity of a connection within the tree,
// "folder/name" with a slash-separated folder path.
func (c *Connection) Key() string {
	return ConnKey(c.Folder, c.Name)
}

// ConnKey joins a folder path and alias into a tree-wide identity.
func ConnKey(folder, name string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

// SearchText returns the lowercase haystack used by filtering: alias,
// hostname, user and folder.
func (c *Connection) SearchText() string {
	return strings.ToLower(strings.Join([]string{c.Name, c.HostName, c.User, c.Folder}, " "))
}

// MatchesFilter reports whether every whitespace-separated term of q
// occurs somewhere in the connection's search text.
func (c *Connection) MatchesFilter(q string) bool {
	q = strings.TrimSpace(strings.ToLower(q))
	if q == "" {
		return true
	}
	hay := c.SearchText()
	for _, term := range strings.Fields(q) {
		if !strings.Contains(hay, term) {
			return false
		}
	}
	return true
}

// ParseForwardList parses a comma separated list of bind:host:port specs,
// the shape the CLI flags and the form fields use.
func ParseForwardList(s string) ([]Forward, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []Forward
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bits := strings.Split(part, ":")
		if len(bits) != 3 {
			return nil, fmt.Errorf("forward %q: want port:host:port", part)
		}
		bind, err := strconv.Atoi(strings.TrimSpace(bits[0]))
		if err != nil {
			return nil, fmt.Errorf("forward %q: bad bind port", part)
		}
		target, err := strconv.Atoi(strings.TrimSpace(bits[2]))
		if err != nil {
			return nil, fmt.Errorf("forward %q: bad target port", part)
		}
		out = append(out, Forward{BindPort: bind, TargetHost: strings.TrimSpace(bits[1]), TargetPort: target})
	}
	return out, nil
}

// FormatForwardList is the inverse of ParseForwardList.
func FormatForwardList(fwds []Forward) string {
	parts := make([]string, 0, len(fwds))
	for _, f := range fwds {
		parts = append(parts, fmt.Sprintf("%d:%s:%d", f.BindPort, f.TargetHost, f.TargetPort))
	}
	return strings.Join(parts, ", ")
}
