package manager

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template is a named stanza blueprint. Content carries {placeholder}
// tokens that Instantiate fills in literally.
type Template struct {
	ID          string
	Name        string
	Description string
	Content     string
}

// Catalog holds the builtin templates plus any user-defined ones loaded
// from a YAML file. User templates may shadow builtins by reusing an ID.
type Catalog struct {
	byID  map[string]Template
	order []string
}

// NewCatalog returns a catalog with the four builtin templates.
func NewCatalog() *Catalog {
	cat := &Catalog{byID: map[string]Template{}}
	for _, t := range builtinTemplates {
		cat.byID[t.ID] = t
		cat.order = append(cat.order, t.ID)
	}
	return cat
}

// Names lists template IDs, builtins first in their canonical order, then
// user templates in the order they were loaded.
func (cat *Catalog) Names() []string {
	return append([]string(nil), cat.order...)
}

// Get returns the template for id.
func (cat *Catalog) Get(id string) (Template, error) {
	t, ok := cat.byID[id]
	if !ok {
		return Template{}, fmt.Errorf("template %q not found", id)
	}
	return t, nil
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Instantiate substitutes vars into the template in a single pass.
// Every placeholder the content references must be present in vars;
// values are inserted literally and never re-scanned.
func (cat *Catalog) Instantiate(id string, vars map[string]string) (string, error) {
	t, err := cat.Get(id)
	if err != nil {
		return "", err
	}

	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(t.Content, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := vars[key]
		if !ok {
			missing = append(missing, key)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("missing template variable: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// userTemplatesFile is the on-disk YAML shape for user templates:
//
//	templates:
//	  - id: k8s-node
//	    name: Kubernetes Node
//	    description: Worker node behind the cluster bastion
//	    content: |
//	      Host {name}
//	          HostName {host}
//	      ...
type userTemplatesFile struct {
	Templates []userTemplate `yaml:"templates"`
}

type userTemplate struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Content     string `yaml:"content"`
}

// LoadUserTemplates merges templates from a YAML file into the catalog.
// A missing file is fine and loads nothing. Returns how many templates
// were taken from the file.
func (cat *Catalog) LoadUserTemplates(path string) (int, error) {
	path = expandUserAndEnv(path)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read templates %s: %w", path, err)
	}

	var file userTemplatesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse templates %s: %w", path, err)
	}

	for i, ut := range file.Templates {
		if ut.ID == "" || !namePattern.MatchString(ut.ID) {
			return 0, fmt.Errorf("templates[%d]: invalid id %q", i, ut.ID)
		}
		if strings.TrimSpace(ut.Content) == "" {
			return 0, fmt.Errorf("templates[%d] (%s): content is required", i, ut.ID)
		}
		t := Template{ID: ut.ID, Name: ut.Name, Description: ut.Description, Content: ut.Content}
		if t.Name == "" {
			t.Name = ut.ID
		}
		if _, exists := cat.byID[t.ID]; !exists {
			cat.order = append(cat.order, t.ID)
		}
		cat.byID[t.ID] = t
	}
	return len(file.Templates), nil
}

// UserLine renders the optional User directive for the {user_line} slot.
// Empty user means an empty slot, matching how Render omits the line.
func UserLine(user string) string {
	if user == "" {
		return ""
	}
	return "    User " + user
}

// FormatLocalForwards renders forwards for a template's {local_forwards}
// slot, one indented directive per line. Empty input yields "".
func FormatLocalForwards(forwards []Forward) string {
	var lines []string
	for _, f := range forwards {
		lines = append(lines, fmt.Sprintf("    LocalForward %d %s:%d", f.BindPort, f.TargetHost, f.TargetPort))
	}
	return strings.Join(lines, "\n")
}

// FormatRemoteForwards renders forwards for {remote_forwards}.
func FormatRemoteForwards(forwards []Forward) string {
	var lines []string
	for _, f := range forwards {
		lines = append(lines, fmt.Sprintf("    RemoteForward %d %s:%d", f.BindPort, f.TargetHost, f.TargetPort))
	}
	return strings.Join(lines, "\n")
}

// BaseVariables returns the full variable set the builtin templates
// expect, seeded with the stock defaults. Callers override entries
// before calling Instantiate.
func BaseVariables(name, host, user string, port int, keyFile string) map[string]string {
	if port == 0 {
		port = DefaultPort
	}
	if keyFile == "" {
		keyFile = "~/.ssh/id_ed25519"
	}
	return map[string]string{
		"name":                     name,
		"host":                     host,
		"user_line":                UserLine(user),
		"port":                     fmt.Sprintf("%d", port),
		"key_file":                 keyFile,
		"jump_host":                "bastion.example.com",
		"server_alive_interval":    "60",
		"server_alive_count_max":   "3",
		"connect_timeout":          "10",
		"compression":              "yes",
		"strict_host_key_checking": "ask",
		"control_master":           "auto",
		"control_path":             "~/.ssh/control-%h-%p-%r",
		"control_persist":          "10m",
		"forward_x11":              "no",
		"forward_agent":            "no",
		"local_forwards":           "",
		"remote_forwards":          "",
		"dynamic_forward":          "",
	}
}

var builtinTemplates = []Template{
	{
		ID:          "basic-server",
		Name:        "Basic Server",
		Description: "Simple SSH connection with username and host",
		Content: `# Basic SSH Connection
Host {name}
    HostName {host}
{user_line}
    Port {port}
    IdentityFile {key_file}

    # Essential Connection Settings
    ServerAliveInterval {server_alive_interval}
    ServerAliveCountMax {server_alive_count_max}
    ConnectTimeout {connect_timeout}
    Compression {compression}
    StrictHostKeyChecking {strict_host_key_checking}

    # Developer Features
    ControlMaster {control_master}
    ControlPath {control_path}
    ControlPersist {control_persist}
    ForwardX11 {forward_x11}
    ForwardAgent {forward_agent}
`,
	},
	{
		ID:          "aws-ec2",
		Name:        "AWS EC2 Instance",
		Description: "AWS EC2 instance with key-based authentication",
		Content: `# AWS EC2 Instance
Host {name}
    HostName {host}
{user_line}
    Port {port}
    IdentityFile {key_file}

    # AWS EC2 Optimized Settings
    ServerAliveInterval 60
    ServerAliveCountMax 3
    ConnectTimeout 30
    Compression yes
    StrictHostKeyChecking no
    UserKnownHostsFile /dev/null

    # Connection Multiplexing for Speed
    ControlMaster auto
    ControlPath ~/.ssh/control-%h-%p-%r
    ControlPersist 10m
`,
	},
	{
		ID:          "jump-host",
		Name:        "Jump Host (Bastion)",
		Description: "Connection through a jump host or bastion server",
		Content: `# Jump Host Configuration
Host {name}
    HostName {host}
{user_line}
    Port {port}
    IdentityFile {key_file}
    ProxyJump {jump_host}

    # Jump Host Settings
    ServerAliveInterval {server_alive_interval}
    ServerAliveCountMax {server_alive_count_max}
    ConnectTimeout {connect_timeout}
    Compression {compression}
    StrictHostKeyChecking {strict_host_key_checking}

    # Connection Management
    ControlMaster {control_master}
    ControlPath {control_path}
    ControlPersist {control_persist}
`,
	},
	{
		ID:          "developer",
		Name:        "Developer Workstation",
		Description: "Development server with X11 forwarding and port tunneling",
		Content: `# Developer Workstation
Host {name}
    HostName {host}
{user_line}
    Port {port}
    IdentityFile {key_file}

    # Developer Features
    ForwardX11 yes
    ForwardX11Trusted yes
    ForwardAgent yes

    # Port Forwarding
{local_forwards}
{remote_forwards}
{dynamic_forward}

    # Connection Settings
    ServerAliveInterval {server_alive_interval}
    ServerAliveCountMax {server_alive_count_max}
    ConnectTimeout {connect_timeout}
    Compression {compression}
    StrictHostKeyChecking {strict_host_key_checking}

    # Connection Multiplexing
    ControlMaster {control_master}
    ControlPath {control_path}
    ControlPersist {control_persist}
`,
	},
}
