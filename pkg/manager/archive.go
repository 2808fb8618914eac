package manager

import (
	"archive/zip"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/isriam/ssh-manager/pkg/logger"
)

// CreateBackup zips every stanza file under the managed tree, keeping
// paths relative to the tree root. An empty path picks
// backup_<timestamp>.zip next to the tree. Returns the path written.
func (s *Store) CreateBackup(path string) (string, error) {
	if path == "" {
		name := "backup_" + time.Now().Format("20060102_150405") + ".zip"
		path = filepath.Join(filepath.Dir(s.base), name)
	} else {
		path = expandUserAndEnv(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	zw := zip.NewWriter(f)

	walkErr := filepath.WalkDir(s.base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".conf") {
			return nil
		}
		rel, err := filepath.Rel(s.base, p)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	if walkErr != nil {
		zw.Close()
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("create backup: %w", walkErr)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return "", fmt.Errorf("create backup: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	logger.Infof("wrote backup %s", path)
	return path, nil
}

// ExportAll copies every stanza file into destDir, preserving paths
// relative to the tree root. Best-effort: unreadable files are logged and
// skipped. Returns how many files were copied.
func (s *Store) ExportAll(destDir string) (int, error) {
	destDir = expandUserAndEnv(destDir)
	if destDir == "" {
		return 0, fmt.Errorf("export: destination is required")
	}

	count := 0
	err := filepath.WalkDir(s.base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".conf") {
			return nil
		}
		rel, err := filepath.Rel(s.base, p)
		if err != nil {
			return err
		}
		dst := filepath.Join(destDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		data, rerr := os.ReadFile(p)
		if rerr != nil {
			logger.Warnf("export: skipping %s: %v", p, rerr)
			return nil
		}
		if werr := os.WriteFile(dst, data, 0o644); werr != nil {
			logger.Warnf("export: skipping %s: %v", p, werr)
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("export: %w", err)
	}
	return count, nil
}
