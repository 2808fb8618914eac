package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Persistent UI state for ssh-manager: favorites and recently used
// connections, addressed by their "folder/name" keys. Stored as JSON in
//
//	~/.config/ssh-manager/state.json
//
// ($XDG_CONFIG_HOME is honored instead of ~/.config when set.)

const (
	stateFilename = "state.json"
	stateVersion  = 1

	recentsLimit = 20
)

// State is the on-disk JSON structure. Keep fields stable.
type State struct {
	// Version allows future migrations.
	Version int `json:"version,omitempty"`

	// Favorites holds connection keys pinned by the user.
	Favorites []string `json:"favorites,omitempty"`

	// Recents is a most-recently-used list of connection keys.
	// The first element is the most recent.
	Recents []string `json:"recents,omitempty"`

	// Updated tracks the last save time in RFC3339.
	Updated string `json:"updated,omitempty"`
}

// DefaultStatePath returns the full path to the state.json file.
func DefaultStatePath() string {
	return filepath.Join(configDir(), stateFilename)
}

// LoadState reads the state JSON from path. If path is empty, the default
// path is used. A missing file is not an error; it yields an empty state.
func LoadState(path string) (*State, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultStatePath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &State{Version: stateVersion}, nil
		}
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	if st.Version == 0 {
		st.Version = stateVersion
	}
	st.ensureUnique()
	return &st, nil
}

// SaveState writes the state JSON to path atomically. If path is empty,
// the default path is used; the parent directory is created 0700.
func SaveState(path string, st *State) error {
	if st == nil {
		return errors.New("nil state")
	}
	if strings.TrimSpace(path) == "" {
		path = DefaultStatePath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}

	st2 := *st
	st2.Version = stateVersion
	st2.Updated = time.Now().UTC().Format(time.RFC3339)
	st2.ensureUnique()
	payload, err := json.MarshalIndent(st2, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	payload = append(payload, '\n')

	if err := writeFileAtomic(path, payload, 0o600); err != nil {
		return fmt.Errorf("write state %s: %w", path, err)
	}
	return nil
}

// IsFavorite reports whether key is present in Favorites.
func (s *State) IsFavorite(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" || len(s.Favorites) == 0 {
		return false
	}
	for _, k := range s.Favorites {
		if k == key {
			return true
		}
	}
	return false
}

// AddFavorite inserts key into Favorites if not already present.
// Returns true if the state was modified.
func (s *State) AddFavorite(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" || s.IsFavorite(key) {
		return false
	}
	s.Favorites = append(s.Favorites, key)
	return true
}

// RemoveFavorite deletes key from Favorites.
// Returns true if the state was modified.
func (s *State) RemoveFavorite(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" || len(s.Favorites) == 0 {
		return false
	}
	out := s.Favorites[:0]
	removed := false
	for _, k := range s.Favorites {
		if k == key {
			removed = true
			continue
		}
		out = append(out, k)
	}
	s.Favorites = out
	return removed
}

// ToggleFavorite flips key's favorite flag and reports the new state.
func (s *State) ToggleFavorite(key string) bool {
	if s.RemoveFavorite(key) {
		return false
	}
	return s.AddFavorite(key)
}

// FavoritesSet returns a set for quick lookup, derived from Favorites.
func (s *State) FavoritesSet() map[string]struct{} {
	m := make(map[string]struct{}, len(s.Favorites))
	for _, k := range s.Favorites {
		if k = strings.TrimSpace(k); k != "" {
			m[k] = struct{}{}
		}
	}
	return m
}

// AddRecent moves key to the front of Recents (if already present) or
// inserts it, capping the list. Returns true if the state was modified.
func (s *State) AddRecent(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	out := make([]string, 0, len(s.Recents)+1)
	out = append(out, key)
	for _, k := range s.Recents {
		if k == key {
			continue
		}
		out = append(out, k)
	}
	if len(out) > recentsLimit {
		out = out[:recentsLimit]
	}
	s.Recents = out
	return true
}

// RemoveRecent removes key from Recents. Returns true if modified.
func (s *State) RemoveRecent(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" || len(s.Recents) == 0 {
		return false
	}
	out := s.Recents[:0]
	removed := false
	for _, k := range s.Recents {
		if k == key {
			removed = true
			continue
		}
		out = append(out, k)
	}
	s.Recents = out
	return removed
}

// RenameKey rewrites old to new everywhere, for when a connection is
// renamed or moved between folders. Returns true if the state was
// modified.
func (s *State) RenameKey(old, updated string) bool {
	old = strings.TrimSpace(old)
	updated = strings.TrimSpace(updated)
	if old == "" || updated == "" || old == updated {
		return false
	}
	changed := false
	for i, k := range s.Favorites {
		if k == old {
			s.Favorites[i] = updated
			changed = true
		}
	}
	for i, k := range s.Recents {
		if k == old {
			s.Recents[i] = updated
			changed = true
		}
	}
	if changed {
		s.ensureUnique()
	}
	return changed
}

// Prune drops keys that no longer name a connection in the tree.
// Returns true if the state was modified.
func (s *State) Prune(valid map[string]struct{}) bool {
	changed := false

	fav := s.Favorites[:0]
	for _, k := range s.Favorites {
		if _, ok := valid[k]; ok {
			fav = append(fav, k)
		} else {
			changed = true
		}
	}
	s.Favorites = fav

	rec := s.Recents[:0]
	for _, k := range s.Recents {
		if _, ok := valid[k]; ok {
			rec = append(rec, k)
		} else {
			changed = true
		}
	}
	s.Recents = rec

	return changed
}

// ensureUnique de-duplicates entries and cleans empty strings.
func (s *State) ensureUnique() {
	if len(s.Favorites) > 0 {
		seen := map[string]struct{}{}
		out := s.Favorites[:0]
		for _, k := range s.Favorites {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
		s.Favorites = out
	}
	if len(s.Recents) > 0 {
		seen := map[string]struct{}{}
		out := make([]string, 0, len(s.Recents))
		for _, k := range s.Recents {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
		if len(out) > recentsLimit {
			out = out[:recentsLimit]
		}
		s.Recents = out
	}
}
