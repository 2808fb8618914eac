package manager

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/isriam/ssh-manager/pkg/logger"
)

// Importing lifts Host blocks out of an existing OpenSSH client config and
// writes each literal alias as a managed stanza, so a hand-grown ~/.ssh/config
// can be folded into the tree in one pass. Wildcard and negated patterns have
// no single-connection equivalent and are reported as skipped, as are blocks
// the scan reads back out of the managed tree itself through the Include line.

// SkippedImport names one Host pattern an import left alone and why.
type SkippedImport struct {
	Alias  string
	Reason string
}

// ImportReport is the outcome of one import run. Imported holds the keys of
// the connections created, in scan order.
type ImportReport struct {
	Imported []string
	Skipped  []SkippedImport
}

func (r *ImportReport) skip(alias, reason string) {
	r.Skipped = append(r.Skipped, SkippedImport{Alias: alias, Reason: reason})
}

// ImportSSHConfig scans an OpenSSH client config (the store's primary config
// when path is empty) and saves one connection per literal Host alias into
// folder, which defaults to "imported". Include directives are followed,
// Match sections are ignored, and when the same alias appears in several
// blocks the first one wins. Existing connections are only replaced when
// overwrite is set.
func (s *Store) ImportSSHConfig(path, folder string, overwrite bool) (*ImportReport, error) {
	if path == "" {
		path = s.sshConfig
	} else {
		path = expandUserAndEnv(path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}

	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		folder = "imported"
	}
	if err := validateFolderPath(folder); err != nil {
		return nil, err
	}

	blocks, err := scanHostBlocks(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}

	rep := &ImportReport{}
	claimed := map[string]struct{}{}
	for _, b := range blocks {
		if s.underBase(b.source) {
			// our own stanzas, read back through the Include
			continue
		}
		for _, pat := range b.patterns {
			if !literalHostAlias(pat) {
				rep.skip(pat, "wildcard pattern")
				continue
			}
			if _, dup := claimed[pat]; dup {
				rep.skip(pat, "appears in an earlier Host block")
				continue
			}
			claimed[pat] = struct{}{}

			c := b.connection(pat, folder)
			if err := c.Validate(); err != nil {
				rep.skip(pat, err.Error())
				continue
			}
			if !overwrite && s.Exists(folder, c.Name) {
				rep.skip(pat, "already managed")
				continue
			}
			if err := s.Save(&c); err != nil {
				return rep, err
			}
			rep.Imported = append(rep.Imported, c.Key())
		}
	}
	logger.Infof("imported %d connection(s) into %s (%d skipped)", len(rep.Imported), folder, len(rep.Skipped))
	return rep, nil
}

// underBase reports whether path sits inside the managed tree.
func (s *Store) underBase(path string) bool {
	rel, err := filepath.Rel(s.base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// importBlock accumulates one Host block during a scan. values keeps the
// first occurrence per key, matching how ssh itself resolves options.
type importBlock struct {
	patterns []string
	source   string
	values   map[string]string
	locals   []Forward
	remotes  []Forward
}

func (b *importBlock) set(key, val string) {
	switch key {
	case "localforward", "remoteforward":
		// unsupported forward shapes (bind addresses, unix sockets) are
		// dropped; the alias still imports with the rest of its settings
		f, ok, err := parseForwardSpec(val)
		if err != nil || !ok {
			return
		}
		if key == "localforward" {
			b.locals = append(b.locals, f)
		} else {
			b.remotes = append(b.remotes, f)
		}
	default:
		if _, seen := b.values[key]; !seen {
			b.values[key] = val
		}
	}
}

// connection builds the managed record for one alias of this block,
// normalized and ready to validate. A block without HostName dials the
// alias itself, same as ssh.
func (b *importBlock) connection(alias, folder string) Connection {
	c := Connection{
		Name:           alias,
		HostName:       b.values["hostname"],
		User:           b.values["user"],
		IdentityFile:   b.values["identityfile"],
		ProxyJump:      b.values["proxyjump"],
		Folder:         folder,
		LocalForwards:  append([]Forward(nil), b.locals...),
		RemoteForwards: append([]Forward(nil), b.remotes...),
	}
	if c.HostName == "" {
		c.HostName = alias
	}
	if p, err := strconv.Atoi(b.values["port"]); err == nil {
		c.Port = p
	}
	return c.Normalize()
}

// scanHostBlocks parses one config file into Host blocks, recursing into
// Include targets. Files already visited and dangling Include globs are
// silently skipped; Match sections end the current block and their settings
// are ignored until the next Host line.
func scanHostBlocks(path string, visited map[string]struct{}) ([]*importBlock, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if _, done := visited[abs]; done {
		return nil, nil
	}
	visited[abs] = struct{}{}

	f, err := os.Open(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", abs, err)
	}
	defer f.Close()

	var (
		out []*importBlock
		cur *importBlock
	)
	flush := func() {
		if cur != nil {
			out = append(out, cur)
			cur = nil
		}
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(stripConfigComment(sc.Text()))
		if line == "" {
			continue
		}
		key, val := splitDirective(line)
		switch strings.ToLower(key) {
		case "host":
			flush()
			cur = &importBlock{patterns: strings.Fields(val), source: abs, values: map[string]string{}}
		case "match":
			flush()
		case "include":
			flush()
			for _, pat := range strings.Fields(val) {
				for _, inc := range includeTargets(abs, pat) {
					sub, err := scanHostBlocks(inc, visited)
					if err != nil {
						return nil, err
					}
					out = append(out, sub...)
				}
			}
		default:
			if cur != nil && val != "" {
				cur.set(strings.ToLower(key), val)
			}
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("import %s: %w", abs, err)
	}
	return out, nil
}

// stripConfigComment drops a trailing # comment, leaving quoted hashes alone.
func stripConfigComment(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		switch ch := line[i]; ch {
		case '\'', '"':
			switch quote {
			case 0:
				quote = ch
			case ch:
				quote = 0
			}
		case '#':
			if quote == 0 {
				return line[:i]
			}
		}
	}
	return line
}

// includeTargets expands one Include pattern into file paths. Relative
// patterns resolve against the directory of the including file.
func includeTargets(from, pattern string) []string {
	pattern = expandUserAndEnv(pattern)
	if pattern == "" {
		return nil
	}
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(filepath.Dir(from), pattern)
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	var out []string
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && !fi.IsDir() {
			out = append(out, m)
		}
	}
	return out
}

// literalHostAlias reports whether pat is a plain alias rather than a
// wildcard or negated pattern.
func literalHostAlias(pat string) bool {
	return pat != "" && !strings.HasPrefix(pat, "!") && !strings.ContainsAny(pat, "*?[]")
}
