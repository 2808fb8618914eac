package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/isriam/ssh-manager/pkg/logger"
	"github.com/isriam/ssh-manager/pkg/manager"
)

const appVersion = "1.0.0"

var (
	flagConfig  string
	flagVerbose bool
)

func init() {
	flag.StringVar(&flagConfig, "config", "", "Path to the settings file (defaults to XDG paths if empty)")
	flag.BoolVar(&flagVerbose, "verbose", false, "Log at debug level")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ssh-manager\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  ssh-manager [options] <command> [command options] [args]\n")
		fmt.Fprintf(os.Stderr, "  ssh-manager                (no command opens the interactive browser)\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  init         create the managed tree and wire up ~/.ssh/config\n")
		fmt.Fprintf(os.Stderr, "  add          add a connection from flags or a template\n")
		fmt.Fprintf(os.Stderr, "  import       pull Host blocks from an existing ssh config\n")
		fmt.Fprintf(os.Stderr, "  list         list connections, --tree for the folder view\n")
		fmt.Fprintf(os.Stderr, "  edit         open a connection's stanza in $EDITOR\n")
		fmt.Fprintf(os.Stderr, "  remove       delete a connection\n")
		fmt.Fprintf(os.Stderr, "  mv           move a connection into another group\n")
		fmt.Fprintf(os.Stderr, "  duplicate    copy a connection under a fresh name\n")
		fmt.Fprintf(os.Stderr, "  mkdir        create a group folder\n")
		fmt.Fprintf(os.Stderr, "  rmdir        delete a group folder\n")
		fmt.Fprintf(os.Stderr, "  groups       list group folders with connection counts\n")
		fmt.Fprintf(os.Stderr, "  templates    list templates, or show one by id\n")
		fmt.Fprintf(os.Stderr, "  test         probe connections over SSH, --all for everything\n")
		fmt.Fprintf(os.Stderr, "  connect      open an SSH session in a terminal window, or --here\n")
		fmt.Fprintf(os.Stderr, "  logs         list or tail recorded session transcripts\n")
		fmt.Fprintf(os.Stderr, "  backup       zip the managed tree and primary config\n")
		fmt.Fprintf(os.Stderr, "  export       copy stanzas into a plain directory\n")
		fmt.Fprintf(os.Stderr, "  revert       restore ~/.ssh/config from the one-time backup\n")
		fmt.Fprintf(os.Stderr, "  status       show integration state\n")
		fmt.Fprintf(os.Stderr, "  stats        show tree statistics\n")
		fmt.Fprintf(os.Stderr, "  gui          interactive browser\n")
		fmt.Fprintf(os.Stderr, "  version      print the version\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  ssh-manager add --host web1.example.com --user deploy --folder work web1
  ssh-manager add --template jump-host --host 10.0.0.5 --jump bastion.corp gateway
  ssh-manager import --from ~/.ssh/config.old --group legacy
  ssh-manager list --tree
  ssh-manager connect web1
  ssh-manager connect --here --log web1
  ssh-manager test --all
`)
	}
}

func main() {
	flag.Parse()

	if flag.NArg() == 0 {
		runAndReport(runGUISubcommand(nil))
		return
	}

	cmd, rest := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "init":
		runAndReport(runInitSubcommand(rest))
	case "add":
		runAndReport(runAddSubcommand(rest))
	case "import":
		runAndReport(runImportSubcommand(rest))
	case "list":
		runAndReport(runListSubcommand(rest))
	case "edit":
		runAndReport(runEditSubcommand(rest))
	case "remove":
		runAndReport(runRemoveSubcommand(rest))
	case "mv":
		runAndReport(runMoveSubcommand(rest))
	case "duplicate":
		runAndReport(runDuplicateSubcommand(rest))
	case "mkdir":
		runAndReport(runMkdirSubcommand(rest))
	case "rmdir":
		runAndReport(runRmdirSubcommand(rest))
	case "groups":
		runAndReport(runGroupsSubcommand(rest))
	case "templates":
		runAndReport(runTemplatesSubcommand(rest))
	case "test":
		runAndReport(runTestSubcommand(rest))
	case "connect":
		runAndReport(runConnectSubcommand(rest))
	case "logs":
		runAndReport(runLogsSubcommand(rest))
	case "backup":
		runAndReport(runBackupSubcommand(rest))
	case "export":
		runAndReport(runExportSubcommand(rest))
	case "revert":
		runAndReport(runRevertSubcommand(rest))
	case "status":
		runAndReport(runStatusSubcommand(rest))
	case "stats":
		runAndReport(runStatsSubcommand(rest))
	case "gui":
		runAndReport(runGUISubcommand(rest))
	case "version":
		fmt.Printf("ssh-manager %s\n", appVersion)
	default:
		fmt.Fprintf(os.Stderr, "ssh-manager: unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
}

func runAndReport(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "ssh-manager: %v\n", err)
	os.Exit(exitCodeFromErr(err))
}

// app bundles the pieces every subcommand needs.
type app struct {
	set   *manager.Settings
	store *manager.Store
}

func newApp() (*app, error) {
	set, err := manager.LoadSettings(flagConfig)
	if err != nil {
		return nil, err
	}
	logCfg := logger.Config{
		Level:      set.Log.Level,
		Format:     set.Log.Format,
		File:       set.Log.File,
		MaxSizeMB:  set.Log.MaxSizeMB,
		MaxBackups: set.Log.MaxBackups,
		MaxAgeDays: set.Log.MaxAgeDays,
	}
	if flagVerbose {
		logCfg.Level = "debug"
	}
	if err := logger.Init(logCfg); err != nil {
		return nil, err
	}
	st, err := manager.NewStore(set.BaseDir, set.SSHConfig, set.BackupPath)
	if err != nil {
		return nil, err
	}
	return &app{set: set, store: st}, nil
}

// ensureReady runs the idempotent first-time setup so commands work on a
// fresh machine without an explicit init.
func (a *app) ensureReady() error {
	rep, err := a.store.Initialize()
	if err != nil {
		return err
	}
	if rep.CreatedDirs || rep.AddedInclude {
		logger.Infof("initialized: %s", rep.Message)
	}
	return nil
}

func (a *app) catalog() *manager.Catalog {
	cat := manager.NewCatalog()
	if n, err := cat.LoadUserTemplates(a.set.TemplatesFile); err != nil {
		logger.Warnf("user templates: %v", err)
	} else if n > 0 {
		logger.Debugf("loaded %d user templates from %s", n, a.set.TemplatesFile)
	}
	return cat
}

// resolve loads a connection from an explicit group when one was given,
// otherwise falls back to the ref lookup.
func (a *app) resolve(ref, group string) (*manager.Connection, error) {
	if group != "" {
		return a.store.Load(group, ref)
	}
	return a.findConnection(ref)
}

// findConnection resolves a ref that is either "folder/name" or a bare
// name searched across the whole tree. A bare name that exists in more
// than one folder is an error; qualify it.
func (a *app) findConnection(ref string) (*manager.Connection, error) {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return a.store.Load(ref[:i], ref[i+1:])
	}
	conns, err := a.store.List("")
	if err != nil {
		return nil, err
	}
	var matches []*manager.Connection
	for _, c := range conns {
		if c.Name == ref {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("connection %q: %w", ref, manager.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		folders := make([]string, 0, len(matches))
		for _, c := range matches {
			folders = append(folders, c.Folder)
		}
		return nil, fmt.Errorf("connection %q exists in %s; use <folder>/%s", ref, strings.Join(folders, ", "), ref)
	}
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		return false
	}
	ans := strings.ToLower(strings.TrimSpace(sc.Text()))
	return ans == "y" || ans == "yes"
}

func sshTarget(c *manager.Connection) string {
	t := c.HostName
	if c.User != "" {
		t = c.User + "@" + t
	}
	if c.Port != 0 && c.Port != manager.DefaultPort {
		t = fmt.Sprintf("%s:%d", t, c.Port)
	}
	return t
}

func yn(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func runInitSubcommand(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	rep, err := a.store.Initialize()
	if err != nil {
		return err
	}
	fmt.Println(rep.Message)
	return nil
}

func runAddSubcommand(args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var (
		host     = fs.String("host", "", "Hostname or IP address to connect to")
		user     = fs.String("user", "", "Login user")
		port     = fs.Int("port", manager.DefaultPort, "SSH port")
		keyFile  = fs.String("key", "", "Identity file (defaults to the configured identity)")
		folder   = fs.String("folder", "", "Group folder (defaults to the configured default)")
		group    = fs.String("group", "", "Alias for --folder")
		jump     = fs.String("jump", "", "ProxyJump bastion host")
		local    = fs.String("local", "", "LocalForward list, e.g. 8080:localhost:80,5433:db:5432")
		remote   = fs.String("remote", "", "RemoteForward list in the same form")
		color    = fs.String("color", "", "Color tag: production, staging or development")
		icon     = fs.String("icon", "", "Icon name shown in listings")
		template = fs.String("template", "", `Render the stanza from a template; "default" picks the configured one`)
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: ssh-manager add [flags] <name>")
	}
	name := fs.Arg(0)

	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.ensureReady(); err != nil {
		return err
	}

	fldr := *folder
	if fldr == "" {
		fldr = *group
	}
	if fldr == "" {
		fldr = a.set.DefaultFolder
	}
	key := *keyFile
	if key == "" {
		key = a.set.DefaultIdentity
	}

	if *template != "" {
		if *icon != "" || *color != "" {
			return errors.New("--icon and --color do not apply with --template; edit the connection afterwards")
		}
		tmpl := *template
		if tmpl == "default" {
			tmpl = a.set.DefaultTemplate
		}
		vars := manager.BaseVariables(name, *host, *user, *port, key)
		if *jump != "" {
			vars["jump_host"] = *jump
		}
		if *local != "" {
			fwds, err := manager.ParseForwardList(*local)
			if err != nil {
				return err
			}
			vars["local_forwards"] = manager.FormatLocalForwards(fwds)
		}
		if *remote != "" {
			fwds, err := manager.ParseForwardList(*remote)
			if err != nil {
				return err
			}
			vars["remote_forwards"] = manager.FormatRemoteForwards(fwds)
		}
		text, err := a.catalog().Instantiate(tmpl, vars)
		if err != nil {
			return err
		}
		rendered, err := manager.ParseStanza(text, name, fldr)
		if err != nil {
			return fmt.Errorf("template %s output: %w", tmpl, err)
		}
		if err := rendered.Validate(); err != nil {
			return fmt.Errorf("template %s output: %w", tmpl, err)
		}
		if err := a.store.SaveRendered(fldr, name, text); err != nil {
			return err
		}
		fmt.Printf("Added %s (template %s)\n", manager.ConnKey(fldr, name), tmpl)
		return nil
	}

	if *host == "" {
		return errors.New("usage: ssh-manager add --host <addr> [flags] <name>")
	}
	c := &manager.Connection{
		Name:         name,
		HostName:     *host,
		User:         *user,
		Port:         *port,
		IdentityFile: key,
		Folder:       fldr,
		ProxyJump:    *jump,
		ColorTag:     *color,
		Icon:         *icon,
	}
	if *local != "" {
		if c.LocalForwards, err = manager.ParseForwardList(*local); err != nil {
			return err
		}
	}
	if *remote != "" {
		if c.RemoteForwards, err = manager.ParseForwardList(*remote); err != nil {
			return err
		}
	}
	if a.store.Exists(fldr, name) {
		return fmt.Errorf("%s: %w", manager.ConnKey(fldr, name), manager.ErrExists)
	}
	if err := a.store.Save(c); err != nil {
		return err
	}
	fmt.Printf("Added %s\n", c.Key())
	return nil
}

func runImportSubcommand(args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	from := fs.String("from", "", "Config file to scan (default: the primary ssh config)")
	group := fs.String("group", "imported", "Group folder receiving the connections")
	overwrite := fs.Bool("overwrite", false, "Replace managed connections that share an alias")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("usage: ssh-manager import [--from path] [--group folder] [--overwrite]")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.ensureReady(); err != nil {
		return err
	}
	rep, err := a.store.ImportSSHConfig(*from, *group, *overwrite)
	if err != nil {
		return err
	}
	th := manager.LoadTheme(a.set.Theme)
	for _, key := range rep.Imported {
		fmt.Printf("%s %s\n", th.SuccessText("+"), key)
	}
	for _, sk := range rep.Skipped {
		fmt.Printf("%s %s: %s\n", th.DimText("-"), sk.Alias, sk.Reason)
	}
	fmt.Printf("Imported %d connection(s), skipped %d\n", len(rep.Imported), len(rep.Skipped))
	return nil
}

func runListSubcommand(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	tree := fs.Bool("tree", false, "Print the folder tree instead of a flat list")
	group := fs.String("group", "", "List only this group")
	jsonOut := fs.Bool("json", false, "Emit JSON instead of text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return errors.New("usage: ssh-manager list [--tree] [--json] [folder]")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.ensureReady(); err != nil {
		return err
	}
	th := manager.LoadTheme(a.set.Theme)

	if *tree {
		root, err := a.store.FolderTree()
		if err != nil {
			return err
		}
		printFolderTree(root, th, "")
		return nil
	}

	folder := fs.Arg(0)
	if folder == "" {
		folder = *group
	}
	conns, err := a.store.List(folder)
	if err != nil {
		return err
	}
	if *jsonOut {
		out := make([]connJSON, 0, len(conns))
		for _, c := range conns {
			out = append(out, toConnJSON(c))
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	if len(conns) == 0 {
		fmt.Println("No connections found.")
		return nil
	}
	lastFolder := "\x00"
	for _, c := range conns {
		if c.Folder != lastFolder {
			fmt.Println(th.FolderText(c.Folder + "/"))
			lastFolder = c.Folder
		}
		line := fmt.Sprintf("  %s %s  %s", c.Glyph(), th.AccentText(c.Name), th.DimText(sshTarget(c)))
		if c.ColorTag != "" {
			line += "  " + th.TagText(c.ColorTag)
		}
		fmt.Println(line)
	}
	fmt.Printf("\n%d connection(s)\n", len(conns))
	return nil
}

func printFolderTree(n *manager.FolderNode, th manager.Theme, indent string) {
	for _, name := range n.Connections {
		fmt.Printf("%s%s\n", indent, name)
	}
	for _, sub := range n.Folders {
		fmt.Printf("%s%s\n", indent, th.FolderText(sub.Name+"/"))
		printFolderTree(sub, th, indent+"  ")
	}
}

// connJSON is the list --json shape, kept stable for scripting.
type connJSON struct {
	Name           string   `json:"name"`
	HostName       string   `json:"hostname"`
	User           string   `json:"user,omitempty"`
	Port           int      `json:"port"`
	IdentityFile   string   `json:"identity_file,omitempty"`
	Folder         string   `json:"folder"`
	ProxyJump      string   `json:"proxy_jump,omitempty"`
	LocalForwards  []string `json:"local_forwards,omitempty"`
	RemoteForwards []string `json:"remote_forwards,omitempty"`
	ColorTag       string   `json:"color,omitempty"`
	Icon           string   `json:"icon,omitempty"`
}

func toConnJSON(c *manager.Connection) connJSON {
	fwd := func(fwds []manager.Forward) []string {
		if len(fwds) == 0 {
			return nil
		}
		out := make([]string, 0, len(fwds))
		for _, f := range fwds {
			out = append(out, fmt.Sprintf("%d:%s:%d", f.BindPort, f.TargetHost, f.TargetPort))
		}
		return out
	}
	return connJSON{
		Name:           c.Name,
		HostName:       c.HostName,
		User:           c.User,
		Port:           c.Port,
		IdentityFile:   c.IdentityFile,
		Folder:         c.Folder,
		ProxyJump:      c.ProxyJump,
		LocalForwards:  fwd(c.LocalForwards),
		RemoteForwards: fwd(c.RemoteForwards),
		ColorTag:       c.ColorTag,
		Icon:           c.Icon,
	}
}

func runEditSubcommand(args []string) error {
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var (
		group   = fs.String("group", "", "Group folder holding <name>")
		host    = fs.String("host", "", "New HostName")
		user    = fs.String("user", "", `New User ("" clears it)`)
		port    = fs.Int("port", 0, "New port")
		keyFile = fs.String("key", "", `New identity file ("" clears it)`)
		jump    = fs.String("jump", "", `New ProxyJump ("" clears it)`)
		local   = fs.String("local", "", `New LocalForward list ("" clears it)`)
		remote  = fs.String("remote", "", `New RemoteForward list ("" clears it)`)
		color   = fs.String("color", "", `New color tag ("" clears it)`)
		icon    = fs.String("icon", "", `New icon ("" clears it)`)
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: ssh-manager edit [field flags] <name>")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	c, err := a.resolve(fs.Arg(0), *group)
	if err != nil {
		return err
	}

	// Only flags the user actually passed change anything, so an explicit
	// empty value clears a field while an absent flag leaves it alone.
	changed := false
	var visitErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			c.HostName = *host
		case "user":
			c.User = *user
		case "port":
			c.Port = *port
		case "key":
			c.IdentityFile = *keyFile
		case "jump":
			c.ProxyJump = *jump
		case "color":
			c.ColorTag = *color
		case "icon":
			c.Icon = *icon
		case "local":
			fwds, err := manager.ParseForwardList(*local)
			if err != nil {
				visitErr = err
				return
			}
			c.LocalForwards = fwds
		case "remote":
			fwds, err := manager.ParseForwardList(*remote)
			if err != nil {
				visitErr = err
				return
			}
			c.RemoteForwards = fwds
		default:
			return
		}
		changed = true
	})
	if visitErr != nil {
		return visitErr
	}

	if !changed {
		return editInEditor(a, c)
	}
	norm := c.Normalize()
	if err := norm.Validate(); err != nil {
		return err
	}
	if err := a.store.Save(&norm); err != nil {
		return err
	}
	fmt.Printf("Updated %s\n", norm.Key())
	return nil
}

// editInEditor opens the stanza file in $EDITOR and re-parses it after,
// so a broken hand edit is reported right away.
func editInEditor(a *app, c *manager.Connection) error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	path := a.store.Path(c.Folder, c.Name)
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("editor: %w", err)
	}
	if _, err := a.store.Load(c.Folder, c.Name); err != nil {
		return fmt.Errorf("%s no longer parses: %w", path, err)
	}
	fmt.Printf("Updated %s\n", c.Key())
	return nil
}

func runRemoveSubcommand(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	group := fs.String("group", "", "Group folder holding <name>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: ssh-manager remove [--yes] <name>")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	c, err := a.resolve(fs.Arg(0), *group)
	if err != nil {
		return err
	}
	if !*yes && !confirm(fmt.Sprintf("Delete %s?", c.Key())) {
		fmt.Println("Aborted.")
		return nil
	}
	if err := a.store.Delete(c.Folder, c.Name); err != nil {
		return err
	}
	dropFromState(c.Key())
	fmt.Printf("Removed %s\n", c.Key())
	return nil
}

// dropFromState clears a deleted connection out of favorites and recents.
// State trouble never fails the command that triggered the cleanup.
func dropFromState(key string) {
	path := manager.DefaultStatePath()
	st, err := manager.LoadState(path)
	if err != nil {
		return
	}
	fav := st.RemoveFavorite(key)
	rec := st.RemoveRecent(key)
	if fav || rec {
		if err := manager.SaveState(path, st); err != nil {
			logger.Warnf("state: %v", err)
		}
	}
}

func renameInState(oldKey, newKey string) {
	path := manager.DefaultStatePath()
	st, err := manager.LoadState(path)
	if err != nil {
		return
	}
	if st.RenameKey(oldKey, newKey) {
		if err := manager.SaveState(path, st); err != nil {
			logger.Warnf("state: %v", err)
		}
	}
}

func runMoveSubcommand(args []string) error {
	fs := flag.NewFlagSet("mv", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	group := fs.String("group", "", "Group folder holding <name>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: ssh-manager mv <name> <folder>")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	c, err := a.resolve(fs.Arg(0), *group)
	if err != nil {
		return err
	}
	oldKey := c.Key()
	if err := a.store.Move(c, fs.Arg(1)); err != nil {
		return err
	}
	renameInState(oldKey, c.Key())
	fmt.Printf("Moved %s to %s\n", c.Name, c.Folder)
	return nil
}

func runDuplicateSubcommand(args []string) error {
	fs := flag.NewFlagSet("duplicate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	group := fs.String("group", "", "Group folder holding <name>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: ssh-manager duplicate <name>")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	c, err := a.resolve(fs.Arg(0), *group)
	if err != nil {
		return err
	}
	dup, err := a.store.Duplicate(c.Folder, c.Name)
	if err != nil {
		return err
	}
	fmt.Printf("Created %s\n", dup.Key())
	return nil
}

func runMkdirSubcommand(args []string) error {
	fs := flag.NewFlagSet("mkdir", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: ssh-manager mkdir <folder>")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.ensureReady(); err != nil {
		return err
	}
	if err := a.store.CreateFolder(fs.Arg(0)); err != nil {
		return err
	}
	fmt.Printf("Created group %s\n", fs.Arg(0))
	return nil
}

func runRmdirSubcommand(args []string) error {
	fs := flag.NewFlagSet("rmdir", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	recursive := fs.Bool("recursive", false, "Delete the folder even when it still holds connections")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: ssh-manager rmdir [--recursive] <folder>")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.store.DeleteFolder(fs.Arg(0), *recursive); err != nil {
		return err
	}
	fmt.Printf("Removed group %s\n", fs.Arg(0))
	return nil
}

func runGroupsSubcommand(args []string) error {
	fs := flag.NewFlagSet("groups", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.ensureReady(); err != nil {
		return err
	}
	folders, err := a.store.ListFolders()
	if err != nil {
		return err
	}
	if len(folders) == 0 {
		fmt.Println("No groups.")
		return nil
	}
	stats, err := a.store.Stats()
	if err != nil {
		return err
	}
	th := manager.LoadTheme(a.set.Theme)
	for _, f := range folders {
		fmt.Printf("%s (%d)\n", th.FolderText(f), stats.ConnectionsByFolder[f])
	}
	return nil
}

func runTemplatesSubcommand(args []string) error {
	fs := flag.NewFlagSet("templates", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return errors.New("usage: ssh-manager templates [id]")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	cat := a.catalog()

	if fs.NArg() == 1 {
		t, err := cat.Get(fs.Arg(0))
		if err != nil {
			return err
		}
		fmt.Println(strings.TrimRight(t.Content, "\n"))
		return nil
	}
	for _, id := range cat.Names() {
		t, err := cat.Get(id)
		if err != nil {
			continue
		}
		fmt.Printf("%-16s %s\n", id, t.Description)
	}
	return nil
}

func runTestSubcommand(args []string) error {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	all := fs.Bool("all", false, "Probe every connection, optionally limited to [folder]")
	group := fs.String("group", "", "Group folder holding <name>")
	timeout := fs.Duration("timeout", manager.DefaultProbeTimeout, "Per-connection probe timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	var targets []*manager.Connection
	switch {
	case *all:
		if fs.NArg() > 1 {
			return errors.New("usage: ssh-manager test --all [folder]")
		}
		folder := fs.Arg(0)
		if folder == "" {
			folder = *group
		}
		targets, err = a.store.List(folder)
		if err != nil {
			return err
		}
	case fs.NArg() == 1:
		c, err := a.resolve(fs.Arg(0), *group)
		if err != nil {
			return err
		}
		targets = []*manager.Connection{c}
	default:
		return errors.New("usage: ssh-manager test <name> | test --all [folder]")
	}
	if len(targets) == 0 {
		fmt.Println("No connections to test.")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+5*time.Second)
	defer cancel()
	results := manager.ProbeAll(ctx, targets, *timeout, 4)

	th := manager.LoadTheme(a.set.Theme)
	ok := 0
	for _, r := range results {
		if r.Reachable {
			ok++
			fmt.Printf("%s %s (%s)\n", th.SuccessText("✓"), r.Name, r.Elapsed.Round(time.Millisecond))
		} else {
			fmt.Printf("%s %s: %s\n", th.ErrorText("✗"), r.Name, r.Message)
		}
	}
	fmt.Printf("%d/%d reachable\n", ok, len(results))
	if !*all && ok == 0 {
		return errors.New("connection test failed")
	}
	return nil
}

func runConnectSubcommand(args []string) error {
	fs := flag.NewFlagSet("connect", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	here := fs.Bool("here", false, "Run ssh in this terminal instead of launching a window")
	withLog := fs.Bool("log", false, "Record a session transcript (implies --here)")
	group := fs.String("group", "", "Group folder holding <name>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: ssh-manager connect [--here] [--log] <name>")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.ensureReady(); err != nil {
		return err
	}
	c, err := a.resolve(fs.Arg(0), *group)
	if err != nil {
		return err
	}

	if *here || *withLog {
		return connectHere(c.Name, *withLog)
	}
	l := manager.Launcher{Preferred: a.set.Terminal}
	termName, err := l.LaunchInTerminal(c.Name)
	if err != nil {
		logger.Debugf("terminal launch failed, running here: %v", err)
		return connectHere(c.Name, false)
	}
	fmt.Printf("Opened %s in %s\n", c.Name, termName)
	return nil
}

// connectHere runs ssh attached to the current terminal through a PTY so
// resizes, prompts and cursor handling behave like a plain ssh call. With
// transcript on, everything the session prints is teed into a timestamped
// log file.
func connectHere(alias string, transcript bool) error {
	argv := manager.SSHCommand(alias)

	// Drop any keystrokes queued while the user was still in a menu.
	flushTTYInput()

	cmd := exec.Command(argv[0], argv[1:]...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start ssh: %w", err)
	}
	defer ptmx.Close()

	if term.IsTerminal(int(os.Stdout.Fd())) {
		if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			_ = pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(h), Cols: uint16(w)})
		}
	}
	startPTYResizeWatcher(ptmx)

	out := io.Writer(os.Stdout)
	if transcript {
		f, path, err := manager.OpenSessionLog(alias, time.Now())
		if err != nil {
			logger.Warnf("session log: %v", err)
		} else {
			defer f.Close()
			fmt.Printf("Recording session to %s\n", path)
			out = io.MultiWriter(os.Stdout, f)
		}
	}

	oldState, rawErr := term.MakeRaw(int(os.Stdin.Fd()))
	if rawErr == nil {
		defer func() {
			_ = term.Restore(int(os.Stdin.Fd()), oldState)
			// Re-show the cursor and reset attributes the remote may have left set.
			fmt.Print("\033[?25h\033[0m")
		}()
	}

	go func() { _, _ = io.Copy(ptmx, os.Stdin) }()
	_, _ = io.Copy(out, ptmx) // returns EIO when the session ends

	return cmd.Wait()
}

func runLogsSubcommand(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	group := fs.String("group", "", "Group folder holding <name>")
	tail := fs.Int("tail", 0, "Print the last N lines of the newest transcript instead of the file list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: ssh-manager logs [--tail n] <name>")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	c, err := a.resolve(fs.Arg(0), *group)
	if err != nil {
		return err
	}
	logs, err := manager.ListSessionLogs(c.Name)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		fmt.Printf("No transcripts for %s. Record one with: ssh-manager connect --log %s\n", c.Name, c.Name)
		return nil
	}

	if *tail > 0 {
		lines, err := manager.TailSessionLog(logs[0].Path, *tail)
		if err != nil {
			return err
		}
		for _, l := range lines {
			fmt.Println(l)
		}
		return nil
	}

	for _, l := range logs {
		fmt.Printf("%s  %8d  %s\n", l.ModTime.Format("2006-01-02 15:04"), l.Size, l.Path)
	}
	return nil
}

func runBackupSubcommand(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	output := fs.String("output", "", "Destination zip path (default: timestamped name next to the tree)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return errors.New("usage: ssh-manager backup [--output dest.zip]")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.ensureReady(); err != nil {
		return err
	}
	dest := *output
	if dest == "" {
		dest = fs.Arg(0)
	}
	path, err := a.store.CreateBackup(dest)
	if err != nil {
		return err
	}
	fmt.Printf("Backup written to %s\n", path)
	return nil
}

func runExportSubcommand(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: ssh-manager export <dir>")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	n, err := a.store.ExportAll(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d file(s) to %s\n", n, fs.Arg(0))
	return nil
}

func runRevertSubcommand(args []string) error {
	fs := flag.NewFlagSet("revert", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	if !*yes && !confirm(fmt.Sprintf("Restore %s from %s?", a.set.SSHConfig, a.store.BackupPath())) {
		fmt.Println("Aborted.")
		return nil
	}
	if err := a.store.RevertToOriginal(); err != nil {
		return err
	}
	fmt.Printf("Restored %s from backup. The managed tree under %s is untouched.\n", a.set.SSHConfig, a.store.BaseDir())
	return nil
}

func runStatusSubcommand(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	st := a.store.Status()
	fmt.Printf("Managed tree:       %s\n", a.store.BaseDir())
	fmt.Printf("Primary config:     %s\n", a.store.SSHConfigPath())
	fmt.Printf("Include integrated: %s\n", yn(st.Integrated))
	fmt.Printf("Backup present:     %s (%s)\n", yn(st.BackupExists), st.BackupPath)
	if stats, err := a.store.Stats(); err == nil {
		fmt.Printf("Connections:        %d\n", stats.TotalConnections)
	}
	return nil
}

func runStatsSubcommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	st, err := a.store.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("Base directory: %s\n", st.BasePath)
	fmt.Printf("SSH config:     %s\n", st.SSHConfigPath)
	fmt.Printf("Folders:        %d\n", st.TotalFolders)
	fmt.Printf("Connections:    %d\n", st.TotalConnections)
	folders := make([]string, 0, len(st.ConnectionsByFolder))
	for f := range st.ConnectionsByFolder {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	for _, f := range folders {
		fmt.Printf("  %-24s %d\n", f, st.ConnectionsByFolder[f])
	}
	return nil
}

func runGUISubcommand(args []string) error {
	fs := flag.NewFlagSet("gui", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	query := fs.String("query", "", "Initial search query")
	max := fs.Int("max", 20, "Max visible results while searching")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.ensureReady(); err != nil {
		return err
	}
	alias, err := manager.RunTUI(a.store, a.set, manager.UIOptions{
		InitialQuery: *query,
		MaxResults:   *max,
	})
	if err != nil {
		return err
	}
	if alias == "" {
		return nil
	}
	return connectHere(alias, false)
}

func exitCodeFromErr(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if status, ok := ee.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
	}
	return 1
}
