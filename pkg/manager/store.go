package manager

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/isriam/ssh-manager/pkg/logger"
)

var (
	// ErrNotFound means the named connection or folder is not in the tree.
	ErrNotFound = errors.New("not found")
	// ErrExists means a save or move would clobber an existing connection.
	ErrExists = errors.New("already exists")
	// ErrFolderNotEmpty blocks non-recursive deletion of a populated folder.
	ErrFolderNotEmpty = errors.New("folder not empty")
)

// Store owns the managed stanza tree and its link into the user's primary
// SSH config. All paths are absolute after construction; every write to a
// shared file goes through a temp-file rename.
type Store struct {
	base       string // root of the managed tree
	sshConfig  string // primary config, usually ~/.ssh/config
	backupPath string // one-time copy of the primary config
}

// NewStore builds a Store. Empty arguments pick the defaults:
// ~/ssh_manager/groups for the tree, ~/.ssh/config for the primary config
// and <config>.backup for the one-time backup. ~ and $VARS are expanded.
func NewStore(baseDir, sshConfigPath, backupPath string) (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home dir: %w", err)
	}
	if baseDir == "" {
		baseDir = filepath.Join(home, "ssh_manager", "groups")
	} else {
		baseDir = expandUserAndEnv(baseDir)
	}
	if sshConfigPath == "" {
		sshConfigPath = filepath.Join(home, ".ssh", "config")
	} else {
		sshConfigPath = expandUserAndEnv(sshConfigPath)
	}
	if backupPath == "" {
		backupPath = sshConfigPath + ".backup"
	} else {
		backupPath = expandUserAndEnv(backupPath)
	}
	return &Store{base: baseDir, sshConfig: sshConfigPath, backupPath: backupPath}, nil
}

// BaseDir is the root of the managed tree.
func (s *Store) BaseDir() string { return s.base }

// SSHConfigPath is the primary config the Include lives in.
func (s *Store) SSHConfigPath() string { return s.sshConfig }

// BackupPath is where the one-time config backup sits.
func (s *Store) BackupPath() string { return s.backupPath }

func (s *Store) connPath(folder, name string) string {
	return filepath.Join(s.base, filepath.FromSlash(folder), name+".conf")
}

// Path returns the stanza file backing a connection, whether or not the
// file exists yet.
func (s *Store) Path(folder, name string) string { return s.connPath(folder, name) }

// checkRef rejects names and folders that would resolve outside the tree
// before any path is built from them.
func (s *Store) checkRef(folder, name string) error {
	if name == "" || !namePattern.MatchString(name) {
		return fmt.Errorf("invalid connection name %q", name)
	}
	return validateFolderPath(folder)
}

// Save validates and writes the connection's stanza, creating its folder
// as needed. An existing file under the same key is overwritten.
func (s *Store) Save(c *Connection) error {
	rec := c.Normalize()
	if err := rec.Validate(); err != nil {
		return err
	}
	path := s.connPath(rec.Folder, rec.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save %s: %w", rec.Key(), err)
	}
	if err := writeFileAtomic(path, []byte(Render(&rec)), 0o644); err != nil {
		return fmt.Errorf("save %s: %w", rec.Key(), err)
	}
	logger.Debugf("saved connection %s", rec.Key())
	return nil
}

// SaveRendered writes pre-rendered stanza text, typically the output of a
// template. Unlike Save it refuses to overwrite an existing connection.
func (s *Store) SaveRendered(folder, name, text string) error {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		folder = DefaultFolder
	}
	if err := s.checkRef(folder, name); err != nil {
		return err
	}
	if s.Exists(folder, name) {
		return fmt.Errorf("save %s: %w", ConnKey(folder, name), ErrExists)
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	path := s.connPath(folder, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save %s: %w", ConnKey(folder, name), err)
	}
	if err := writeFileAtomic(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("save %s: %w", ConnKey(folder, name), err)
	}
	logger.Debugf("saved connection %s", ConnKey(folder, name))
	return nil
}

// Load reads one connection back from its stanza file.
func (s *Store) Load(folder, name string) (*Connection, error) {
	if err := s.checkRef(folder, name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.connPath(folder, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", ConnKey(folder, name), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ConnKey(folder, name), err)
	}
	c, err := ParseStanza(string(data), name, folder)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ConnKey(folder, name), err)
	}
	return c, nil
}

// Delete removes the stanza file. The containing folder stays behind.
func (s *Store) Delete(folder, name string) error {
	if err := s.checkRef(folder, name); err != nil {
		return err
	}
	err := os.Remove(s.connPath(folder, name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", ConnKey(folder, name), ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", ConnKey(folder, name), err)
	}
	logger.Debugf("deleted connection %s", ConnKey(folder, name))
	return nil
}

// Exists reports whether the stanza file for folder/name is present.
func (s *Store) Exists(folder, name string) bool {
	if s.checkRef(folder, name) != nil {
		return false
	}
	_, err := os.Stat(s.connPath(folder, name))
	return err == nil
}

// List returns connections sorted by folder then name. A non-empty folder
// lists only its direct children; an empty folder walks the whole tree.
// A folder that does not exist yields an empty result, and files that
// fail to read or parse are logged and skipped.
func (s *Store) List(folder string) ([]*Connection, error) {
	var out []*Connection

	if folder != "" {
		if err := validateFolderPath(folder); err != nil {
			return nil, err
		}
		dir := filepath.Join(s.base, filepath.FromSlash(folder))
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", folder, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".conf") {
				continue
			}
			if c, ok := s.readConn(filepath.Join(dir, e.Name()), folder); ok {
				out = append(out, c)
			}
		}
		sortConnections(out)
		return out, nil
	}

	err := filepath.WalkDir(s.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".conf") {
			return nil
		}
		rel, rerr := filepath.Rel(s.base, filepath.Dir(path))
		if rerr != nil {
			return rerr
		}
		folderOf := filepath.ToSlash(rel)
		if folderOf == "." {
			folderOf = ""
		}
		if c, ok := s.readConn(path, folderOf); ok {
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	sortConnections(out)
	return out, nil
}

// readConn loads a single stanza file. The file's location decides name
// and folder regardless of what the text claims.
func (s *Store) readConn(path, folder string) (*Connection, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warnf("skipping %s: %v", path, err)
		return nil, false
	}
	name := strings.TrimSuffix(filepath.Base(path), ".conf")
	c, err := ParseStanza(string(data), name, folder)
	if err != nil {
		logger.Warnf("skipping %s: %v", path, err)
		return nil, false
	}
	c.Name = name
	c.Folder = folder
	return c, true
}

func sortConnections(conns []*Connection) {
	sort.Slice(conns, func(i, j int) bool {
		if conns[i].Folder != conns[j].Folder {
			return conns[i].Folder < conns[j].Folder
		}
		return conns[i].Name < conns[j].Name
	})
}

// Move renames the stanza file into newFolder and updates c.Folder. The
// destination folder is created when missing. A name collision there
// aborts before anything is touched, leaving both files in place.
func (s *Store) Move(c *Connection, newFolder string) error {
	newFolder = strings.Trim(strings.TrimSpace(newFolder), "/")
	if newFolder == "" {
		newFolder = DefaultFolder
	}
	if err := s.checkRef(newFolder, c.Name); err != nil {
		return err
	}
	src := s.connPath(c.Folder, c.Name)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("move %s: %w", c.Key(), ErrNotFound)
	}
	dst := s.connPath(newFolder, c.Name)
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("move %s to %s: %w", c.Key(), newFolder, ErrExists)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("move %s: %w", c.Key(), err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move %s: %w", c.Key(), err)
	}
	logger.Debugf("moved connection %s to %s", c.Key(), newFolder)
	c.Folder = newFolder
	return nil
}

// Duplicate copies a connection under a fresh "<name>-copy" alias in the
// same folder, counting up until the alias is free.
func (s *Store) Duplicate(folder, name string) (*Connection, error) {
	src, err := s.Load(folder, name)
	if err != nil {
		return nil, err
	}
	copyName := src.Name + "-copy"
	for i := 1; s.Exists(folder, copyName); i++ {
		copyName = fmt.Sprintf("%s-copy%d", src.Name, i)
	}
	dup := *src
	dup.Name = copyName
	dup.LocalForwards = append([]Forward(nil), src.LocalForwards...)
	dup.RemoteForwards = append([]Forward(nil), src.RemoteForwards...)
	if err := s.Save(&dup); err != nil {
		return nil, err
	}
	return &dup, nil
}

// CreateFolder makes a folder (and parents) under the tree.
func (s *Store) CreateFolder(folder string) error {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return fmt.Errorf("folder name is required")
	}
	if err := validateFolderPath(folder); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(s.base, filepath.FromSlash(folder)), 0o755)
}

// DeleteFolder removes a folder. Without recursive it refuses when the
// folder still has any entries.
func (s *Store) DeleteFolder(folder string, recursive bool) error {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return fmt.Errorf("folder name is required")
	}
	if err := validateFolderPath(folder); err != nil {
		return err
	}
	dir := filepath.Join(s.base, filepath.FromSlash(folder))
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("folder %s: %w", folder, ErrNotFound)
	}
	if recursive {
		return os.RemoveAll(dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("delete folder %s: %w", folder, err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("delete folder %s: %w", folder, ErrFolderNotEmpty)
	}
	return os.Remove(dir)
}

// ListFolders returns every folder path under the tree, slash-separated
// and sorted. The root itself is not included.
func (s *Store) ListFolders() ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() || path == s.base {
			return nil
		}
		rel, rerr := filepath.Rel(s.base, path)
		if rerr != nil {
			return rerr
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// FolderNode is one directory of the managed tree with its direct
// children. Path is slash-separated and empty for the root; children are
// ordered by name.
type FolderNode struct {
	Name        string
	Path        string
	Folders     []*FolderNode
	Connections []string
}

// FolderTree reads the whole tree into nested FolderNodes.
func (s *Store) FolderTree() (*FolderNode, error) {
	root := &FolderNode{Name: "/", Path: ""}
	if err := s.fillNode(root); err != nil {
		return nil, err
	}
	return root, nil
}

func (s *Store) fillNode(n *FolderNode) error {
	dir := filepath.Join(s.base, filepath.FromSlash(n.Path))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read folder %s: %w", n.Path, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			child := &FolderNode{Name: e.Name(), Path: joinFolder(n.Path, e.Name())}
			if err := s.fillNode(child); err != nil {
				return err
			}
			n.Folders = append(n.Folders, child)
			continue
		}
		if strings.HasSuffix(e.Name(), ".conf") {
			n.Connections = append(n.Connections, strings.TrimSuffix(e.Name(), ".conf"))
		}
	}
	return nil
}

func joinFolder(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// Stats summarizes the managed tree for the stats subcommand.
type Stats struct {
	TotalConnections    int
	TotalFolders        int
	ConnectionsByFolder map[string]int
	BasePath            string
	SSHConfigPath       string
}

// Stats walks the tree and counts folders and connections per folder.
func (s *Store) Stats() (Stats, error) {
	st := Stats{
		ConnectionsByFolder: map[string]int{},
		BasePath:            s.base,
		SSHConfigPath:       s.sshConfig,
	}
	conns, err := s.List("")
	if err != nil {
		return st, err
	}
	st.TotalConnections = len(conns)
	for _, c := range conns {
		st.ConnectionsByFolder[c.Folder]++
	}
	folders, err := s.ListFolders()
	if err != nil {
		return st, err
	}
	st.TotalFolders = len(folders)
	return st, nil
}

// writeFileAtomic writes data to a temp file in the destination directory
// and renames it into place, so readers never see a half-written file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + fmt.Sprintf(".tmp-%d-%d", os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
