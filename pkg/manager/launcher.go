package manager

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/isriam/ssh-manager/pkg/logger"
)

// ErrNoTerminal means no supported terminal emulator was found on PATH.
var ErrNoTerminal = errors.New("no supported terminal emulator found")

// terminalSpec knows how to hand "ssh <alias>" to one emulator. Some
// emulators take the command as separate argv words, others want a single
// shell string after -e.
type terminalSpec struct {
	name string
	argv func(alias string) []string
}

// terminalPriority is the probe order when no terminal is pinned. tmux is
// handled separately and wins when the caller is already inside a session.
var terminalPriority = []terminalSpec{
	{"gnome-terminal", func(a string) []string { return []string{"gnome-terminal", "--", "ssh", a} }},
	{"konsole", func(a string) []string { return []string{"konsole", "-e", "ssh", a} }},
	{"xfce4-terminal", func(a string) []string { return []string{"xfce4-terminal", "-e", "ssh " + a} }},
	{"alacritty", func(a string) []string { return []string{"alacritty", "-e", "ssh", a} }},
	{"kitty", func(a string) []string { return []string{"kitty", "ssh", a} }},
	{"tilix", func(a string) []string { return []string{"tilix", "-e", "ssh " + a} }},
	{"xterm", func(a string) []string { return []string{"xterm", "-e", "ssh " + a} }},
}

var tmuxSpec = terminalSpec{
	name: "tmux",
	argv: func(a string) []string { return []string{"tmux", "new-window", "-n", a, "ssh " + a} },
}

// Launcher opens SSH sessions in a new terminal window. Preferred pins
// one emulator by name; empty probes the priority list.
type Launcher struct {
	Preferred string
}

func (l Launcher) pick() (terminalSpec, error) {
	if l.Preferred != "" {
		spec, ok := findTerminalSpec(l.Preferred)
		if !ok {
			return terminalSpec{}, fmt.Errorf("unknown terminal %q", l.Preferred)
		}
		if _, err := exec.LookPath(spec.name); err != nil {
			return terminalSpec{}, fmt.Errorf("terminal %q: %w", l.Preferred, ErrNoTerminal)
		}
		return spec, nil
	}
	if os.Getenv("TMUX") != "" {
		if _, err := exec.LookPath("tmux"); err == nil {
			return tmuxSpec, nil
		}
	}
	for _, spec := range terminalPriority {
		if _, err := exec.LookPath(spec.name); err == nil {
			return spec, nil
		}
	}
	return terminalSpec{}, ErrNoTerminal
}

func findTerminalSpec(name string) (terminalSpec, bool) {
	if name == tmuxSpec.name {
		return tmuxSpec, true
	}
	for _, spec := range terminalPriority {
		if spec.name == name {
			return spec, true
		}
	}
	return terminalSpec{}, false
}

// TerminalArgv returns the argv used to open "ssh <alias>" in the named
// terminal, or ok=false for an unknown name.
func TerminalArgv(terminal, alias string) ([]string, bool) {
	spec, ok := findTerminalSpec(terminal)
	if !ok {
		return nil, false
	}
	return spec.argv(alias), true
}

// DetectTerminal names the emulator a launch would use right now.
func (l Launcher) DetectTerminal() (string, error) {
	spec, err := l.pick()
	if err != nil {
		return "", err
	}
	return spec.name, nil
}

// LaunchInTerminal opens "ssh <alias>" in a new terminal window (or tmux
// window) and returns the emulator used. The child is started in its own
// session so it survives this process exiting.
func (l Launcher) LaunchInTerminal(alias string) (string, error) {
	spec, err := l.pick()
	if err != nil {
		return "", err
	}
	argv := spec.argv(alias)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = detachSysProcAttr()
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("launch %s: %w", spec.name, err)
	}
	// reap the child if we are still around when the window closes
	go func() { _ = cmd.Wait() }()
	logger.Infof("launched ssh %s in %s", alias, spec.name)
	return spec.name, nil
}

// SSHCommand is the argv for running a session inline in this terminal.
func SSHCommand(alias string) []string {
	return []string{"ssh", alias}
}

// SessionLogPath is where a transcript for alias lands: one file per day
// under <config dir>/logs/<alias>/.
func SessionLogPath(alias string, now time.Time) string {
	return filepath.Join(configDir(), "logs", alias, now.Format("2006-01-02")+".log")
}

// OpenSessionLog opens (appending) the transcript for alias and writes a
// session header. Caller closes.
func OpenSessionLog(alias string, now time.Time) (*os.File, string, error) {
	path := SessionLogPath(alias, now)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, "", fmt.Errorf("open session log: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, "", fmt.Errorf("open session log: %w", err)
	}
	fmt.Fprintf(f, "\n==== session %s ====\n", now.Format("2006-01-02 15:04:05"))
	return f, path, nil
}

// SessionLogInfo describes one recorded transcript file.
type SessionLogInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// ListSessionLogs returns the transcripts recorded for alias, newest first.
// An alias that never recorded anything yields an empty list. The daily
// file names sort as dates, so ordering by name is ordering by day.
func ListSessionLogs(alias string) ([]SessionLogInfo, error) {
	dir := filepath.Join(configDir(), "logs", alias)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list session logs: %w", err)
	}
	var out []SessionLogInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, SessionLogInfo{
			Path:    filepath.Join(dir, e.Name()),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return filepath.Base(out[i].Path) > filepath.Base(out[j].Path)
	})
	return out, nil
}

// TailSessionLog returns the last n lines of a transcript, scanning the
// file backwards in blocks rather than reading it whole.
func TailSessionLog(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	const block = 32 * 1024
	var buf []byte
	off := st.Size()
	for off > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		step := int64(block)
		if off < step {
			step = off
		}
		off -= step
		chunk := make([]byte, step)
		if _, err := f.ReadAt(chunk, off); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(chunk, buf...)
	}

	text := strings.TrimRight(string(buf), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
