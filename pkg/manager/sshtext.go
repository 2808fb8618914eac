package manager

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Stanza text format. Each managed file is a single OpenSSH Host block,
// optionally preceded by manager comments that survive round-trips:
//
//	# SSH Manager Icon: 🚀
//	# SSH Manager Metadata: {"color":"production"}
//
//	Host web1
//	    HostName web1.example.com
//	    User deploy
//	    Port 22
//	    ...
//
// OpenSSH ignores the comments; ParseStanza recovers icon and color from
// them. Directives are written with four-space indentation.
const (
	iconCommentPrefix     = "# SSH Manager Icon:"
	metadataCommentPrefix = "# SSH Manager Metadata:"
)

// Fixed keep-alive settings appended to every rendered stanza.
const (
	keepAliveIntervalSec = 60
	keepAliveCountMax    = 3
	connectTimeoutSec    = 10
)

// stanzaMetadata is the JSON payload of the metadata comment.
type stanzaMetadata struct {
	Color string `json:"color"`
}

// Render serializes a connection into its stanza text. Optional fields are
// omitted when empty; Port and the keep-alive block are always written.
func Render(c *Connection) string {
	var lines []string

	if c.Icon != "" {
		lines = append(lines, iconCommentPrefix+" "+c.Icon)
	}
	if c.ColorTag != "" {
		payload, _ := json.Marshal(stanzaMetadata{Color: c.ColorTag})
		lines = append(lines, metadataCommentPrefix+" "+string(payload))
	}
	if len(lines) > 0 {
		lines = append(lines, "")
	}

	lines = append(lines, "Host "+c.Name)
	lines = append(lines, "    HostName "+c.HostName)
	if c.User != "" {
		lines = append(lines, "    User "+c.User)
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	lines = append(lines, "    Port "+strconv.Itoa(port))
	if c.IdentityFile != "" {
		lines = append(lines, "    IdentityFile "+c.IdentityFile)
	}
	if c.ProxyJump != "" {
		lines = append(lines, "    ProxyJump "+c.ProxyJump)
	}
	for _, f := range c.LocalForwards {
		lines = append(lines, fmt.Sprintf("    LocalForward %d %s:%d", f.BindPort, f.TargetHost, f.TargetPort))
	}
	for _, f := range c.RemoteForwards {
		lines = append(lines, fmt.Sprintf("    RemoteForward %d %s:%d", f.BindPort, f.TargetHost, f.TargetPort))
	}

	lines = append(lines,
		"    ServerAliveInterval "+strconv.Itoa(keepAliveIntervalSec),
		"    ServerAliveCountMax "+strconv.Itoa(keepAliveCountMax),
		"    ConnectTimeout "+strconv.Itoa(connectTimeoutSec),
	)

	return strings.Join(lines, "\n") + "\n"
}

// stanzaSetters maps recognized directives to field assignments. Keywords
// are matched case-sensitively as written by Render; anything else in the
// stanza is ignored so hand-edited files keep working.
var stanzaSetters = map[string]func(c *Connection, value string) error{
	"HostName": func(c *Connection, v string) error {
		c.HostName = v
		return nil
	},
	"User": func(c *Connection, v string) error {
		c.User = v
		return nil
	},
	"Port": func(c *Connection, v string) error {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid Port %q", v)
		}
		c.Port = p
		return nil
	},
	"IdentityFile": func(c *Connection, v string) error {
		c.IdentityFile = v
		return nil
	},
	"ProxyJump": func(c *Connection, v string) error {
		c.ProxyJump = v
		return nil
	},
	"LocalForward": func(c *Connection, v string) error {
		f, ok, err := parseForwardSpec(v)
		if err != nil {
			return fmt.Errorf("invalid LocalForward %q: %w", v, err)
		}
		if ok {
			c.LocalForwards = append(c.LocalForwards, f)
		}
		return nil
	},
	"RemoteForward": func(c *Connection, v string) error {
		f, ok, err := parseForwardSpec(v)
		if err != nil {
			return fmt.Errorf("invalid RemoteForward %q: %w", v, err)
		}
		if ok {
			c.RemoteForwards = append(c.RemoteForwards, f)
		}
		return nil
	},
}

// ParseStanza rebuilds a connection from stanza text. name and folder are
// the values implied by the file's location; a Host line in the text
// supplies the alias only when name is empty. Unknown directives and
// malformed comments are ignored. Parse fails only when a numeric field
// cannot be converted.
func ParseStanza(text, name, folder string) (*Connection, error) {
	c := &Connection{
		Name:   name,
		Port:   DefaultPort,
		Folder: folder,
	}
	if c.Folder == "" {
		c.Folder = DefaultFolder
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			if rest, ok := strings.CutPrefix(line, iconCommentPrefix); ok {
				if icon := strings.TrimSpace(rest); icon != "" {
					c.Icon = icon
				}
			} else if rest, ok := strings.CutPrefix(line, metadataCommentPrefix); ok {
				var meta stanzaMetadata
				// ignore malformed metadata
				if err := json.Unmarshal([]byte(strings.TrimSpace(rest)), &meta); err == nil {
					c.ColorTag = meta.Color
				}
			}
			continue
		}

		key, value := splitDirective(line)
		if key == "Host" {
			if c.Name == "" && value != "" {
				c.Name = value
			}
			continue
		}
		set, ok := stanzaSetters[key]
		if !ok {
			continue
		}
		if err := set(c, value); err != nil {
			return nil, fmt.Errorf("parse stanza: %w", err)
		}
	}

	if c.Name == "" {
		c.Name = "unnamed"
	}
	return c, nil
}

// splitDirective cuts a config line into its keyword and the rest. OpenSSH
// accepts "Key Value" and "Key=Value"; whichever separator comes first wins.
func splitDirective(line string) (key, value string) {
	i := strings.IndexAny(line, " \t=")
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i+1:])
}

// parseForwardSpec reads "<bindPort> <host>:<port>". A spec with the wrong
// shape returns ok=false and is skipped; a well-shaped spec with a
// non-numeric port is an error.
func parseForwardSpec(v string) (Forward, bool, error) {
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return Forward{}, false, nil
	}
	target := strings.Split(fields[1], ":")
	if len(target) != 2 {
		return Forward{}, false, nil
	}
	bind, err := strconv.Atoi(fields[0])
	if err != nil {
		return Forward{}, false, fmt.Errorf("bind port %q", fields[0])
	}
	port, err := strconv.Atoi(target[1])
	if err != nil {
		return Forward{}, false, fmt.Errorf("target port %q", target[1])
	}
	return Forward{BindPort: bind, TargetHost: target[0], TargetPort: port}, true, nil
}
