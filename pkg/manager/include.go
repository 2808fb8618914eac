package manager

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/isriam/ssh-manager/pkg/logger"
)

// ErrNoBackup means no one-time backup exists to revert to.
var ErrNoBackup = errors.New("no backup found")

// includeHeader precedes the Include directive so people reading their
// config know where the line came from.
const includeHeader = "# SSH Manager - Auto-generated connections"

// includeLine is the directive that pulls the whole managed tree into the
// primary config. The glob covers every folder depth.
func (s *Store) includeLine() string {
	return "Include " + filepath.ToSlash(s.base) + "/**/*.conf"
}

// InitReport says what Initialize actually did on this run.
type InitReport struct {
	CreatedDirs         bool
	CreatedBackup       bool
	AddedInclude        bool
	ExistingConnections int
	Message             string
}

// Initialize sets up everything the manager needs: the managed tree with
// its work and personal folders, a one-time backup of the primary config,
// and the Include directive at the end of it. Idempotent; running it
// against an initialized setup changes nothing and says so.
func (s *Store) Initialize() (InitReport, error) {
	var rep InitReport

	if _, err := os.Stat(s.base); errors.Is(err, fs.ErrNotExist) {
		rep.CreatedDirs = true
	}
	for _, dir := range []string{s.base, filepath.Join(s.base, "work"), filepath.Join(s.base, DefaultFolder)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return rep, fmt.Errorf("initialize: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.sshConfig), 0o700); err != nil {
		return rep, fmt.Errorf("initialize: %w", err)
	}

	rep.ExistingConnections = s.countHostEntries()

	created, err := s.ensureBackup()
	if err != nil {
		return rep, err
	}
	rep.CreatedBackup = created

	added, err := s.ensureInclude()
	if err != nil {
		return rep, err
	}
	rep.AddedInclude = added

	var parts []string
	if rep.CreatedDirs {
		parts = append(parts, "Created directory structure at "+s.base)
	}
	if rep.CreatedBackup {
		parts = append(parts, "Backed up existing SSH config to "+s.backupPath)
	}
	if rep.AddedInclude {
		parts = append(parts, "Added SSH Manager Include statement to "+s.sshConfig)
	}
	if rep.ExistingConnections > 0 {
		parts = append(parts, fmt.Sprintf("Detected %d existing SSH connections", rep.ExistingConnections))
	}
	if len(parts) == 0 {
		rep.Message = "SSH Manager already initialized"
	} else {
		rep.Message = strings.Join(parts, "\n")
	}
	return rep, nil
}

// countHostEntries counts Host lines already in the primary config,
// wildcard patterns included, so init can report what it found.
func (s *Store) countHostEntries() int {
	f, err := os.Open(s.sshConfig)
	if err != nil {
		return 0
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 512*1024)
	for sc.Scan() {
		if strings.HasPrefix(strings.TrimSpace(sc.Text()), "Host ") {
			n++
		}
	}
	return n
}

// ensureBackup copies the primary config aside exactly once, before the
// manager ever touches it. When no config exists yet an empty marker is
// written instead so a later revert knows the original state was "no
// file". Reports true only when a real copy was taken.
func (s *Store) ensureBackup() (bool, error) {
	if _, err := os.Stat(s.backupPath); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat backup: %w", err)
	}

	data, err := os.ReadFile(s.sshConfig)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(s.backupPath, nil, 0o600); err != nil {
			return false, fmt.Errorf("write backup marker: %w", err)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read ssh config: %w", err)
	}
	if err := os.WriteFile(s.backupPath, data, 0o600); err != nil {
		return false, fmt.Errorf("write backup: %w", err)
	}
	logger.Infof("backed up %s to %s", s.sshConfig, s.backupPath)
	return true, nil
}

// ensureInclude appends the Include directive at the end of the primary
// config, after any user content, so earlier Host blocks keep precedence
// for directives they both set. Creates the config when missing. Reports
// whether the line was added on this call.
func (s *Store) ensureInclude() (bool, error) {
	line := s.includeLine()

	data, err := os.ReadFile(s.sshConfig)
	if errors.Is(err, fs.ErrNotExist) {
		content := includeHeader + "\n" + line + "\n"
		if err := writeFileAtomic(s.sshConfig, []byte(content), 0o600); err != nil {
			return false, fmt.Errorf("write ssh config: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read ssh config: %w", err)
	}

	content := string(data)
	if hasIncludeLine(content, line) {
		return false, nil
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += "\n" + includeHeader + "\n" + line + "\n"
	if err := writeFileAtomic(s.sshConfig, []byte(content), 0o600); err != nil {
		return false, fmt.Errorf("write ssh config: %w", err)
	}
	logger.Infof("added Include directive to %s", s.sshConfig)
	return true, nil
}

func hasIncludeLine(content, line string) bool {
	for _, l := range strings.Split(content, "\n") {
		if strings.TrimSpace(l) == line {
			return true
		}
	}
	return false
}

// Status reports whether the primary config currently pulls in the
// managed tree, and whether the one-time backup exists.
type Status struct {
	Integrated   bool
	BackupExists bool
	BackupPath   string
}

func (s *Store) Status() Status {
	st := Status{BackupPath: s.backupPath}
	if data, err := os.ReadFile(s.sshConfig); err == nil {
		st.Integrated = hasIncludeLine(string(data), s.includeLine())
	}
	if _, err := os.Stat(s.backupPath); err == nil {
		st.BackupExists = true
	}
	return st
}

// RevertToOriginal restores the primary config to its pre-init content.
// An empty backup marker means there was no config at all, so the file is
// removed. The backup itself is kept so revert stays repeatable.
func (s *Store) RevertToOriginal() error {
	data, err := os.ReadFile(s.backupPath)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNoBackup
	}
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	if len(data) == 0 {
		if err := os.Remove(s.sshConfig); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("revert: %w", err)
		}
		logger.Infof("removed %s (no original config existed)", s.sshConfig)
		return nil
	}
	if err := writeFileAtomic(s.sshConfig, data, 0o600); err != nil {
		return fmt.Errorf("revert: %w", err)
	}
	logger.Infof("restored %s from %s", s.sshConfig, s.backupPath)
	return nil
}
