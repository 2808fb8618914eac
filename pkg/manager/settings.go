package manager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Settings is the program configuration. It comes from, in order of
// precedence: SSH_MANAGER_* environment variables, a YAML file
// (~/.config/ssh-manager/config.yaml unless an explicit path is given),
// then the built-in defaults. Nothing requires a config file to exist.
//
// Example YAML:
//
// base_dir: ~/ssh_manager/groups
// default_folder: personal
// terminal: kitty
// log:
//   level: debug
//   file: ~/.config/ssh-manager/ssh-manager.log
type Settings struct {
	// BaseDir is the root of the managed stanza tree.
	BaseDir string `mapstructure:"base_dir"`

	// SSHConfig is the primary config that carries the Include line.
	SSHConfig string `mapstructure:"ssh_config"`

	// BackupPath holds the one-time copy of the primary config.
	// Empty derives <ssh_config>.backup.
	BackupPath string `mapstructure:"backup_path"`

	// DefaultFolder receives new connections when none is named.
	DefaultFolder string `mapstructure:"default_folder"`

	// DefaultIdentity seeds the key_file template variable.
	DefaultIdentity string `mapstructure:"default_identity"`

	// DefaultTemplate is the template used by add when none is named.
	DefaultTemplate string `mapstructure:"default_template"`

	// TemplatesFile points at the user templates YAML.
	// Empty derives <config dir>/templates.yaml.
	TemplatesFile string `mapstructure:"templates_file"`

	// Terminal pins a terminal emulator for launching sessions instead
	// of probing the known ones in priority order.
	Terminal string `mapstructure:"terminal"`

	// Theme forces a color theme: none, dark or light. Empty auto-detects.
	Theme string `mapstructure:"theme"`

	Log LogSettings `mapstructure:"log"`
}

// LogSettings configures the logger package.
type LogSettings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// LoadSettings reads configuration through viper. explicitPath, when
// non-empty, names the only file considered and must exist; otherwise the
// default location is tried and a missing file is fine.
func LoadSettings(explicitPath string) (*Settings, error) {
	viper.SetConfigType("yaml")

	viper.SetDefault("base_dir", "~/ssh_manager/groups")
	viper.SetDefault("ssh_config", "~/.ssh/config")
	viper.SetDefault("backup_path", "")
	viper.SetDefault("default_folder", DefaultFolder)
	viper.SetDefault("default_identity", "~/.ssh/id_ed25519")
	viper.SetDefault("default_template", "basic-server")
	viper.SetDefault("templates_file", "")
	viper.SetDefault("terminal", "")
	viper.SetDefault("theme", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size_mb", 10)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age_days", 28)

	if explicitPath != "" {
		viper.SetConfigFile(expandUserAndEnv(explicitPath))
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(configDir())
	}

	viper.SetEnvPrefix("SSH_MANAGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}

	var st Settings
	if err := viper.Unmarshal(&st); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	st.normalize()
	return &st, nil
}

func (st *Settings) normalize() {
	st.BaseDir = expandUserAndEnv(st.BaseDir)
	st.SSHConfig = expandUserAndEnv(st.SSHConfig)
	if st.BackupPath == "" {
		st.BackupPath = st.SSHConfig + ".backup"
	} else {
		st.BackupPath = expandUserAndEnv(st.BackupPath)
	}
	if st.DefaultFolder == "" {
		st.DefaultFolder = DefaultFolder
	}
	st.DefaultIdentity = expandUserAndEnv(st.DefaultIdentity)
	if st.DefaultTemplate == "" {
		st.DefaultTemplate = "basic-server"
	}
	if st.TemplatesFile == "" {
		st.TemplatesFile = filepath.Join(configDir(), "templates.yaml")
	} else {
		st.TemplatesFile = expandUserAndEnv(st.TemplatesFile)
	}
	st.Log.File = expandUserAndEnv(st.Log.File)
}

// configDir is the app's own config directory, honoring XDG_CONFIG_HOME.
func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ssh-manager")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "ssh-manager")
	}
	return "."
}

// expandUserAndEnv expands $VARS and a leading ~ in a path. Unknown
// variables expand to empty, same as the shell.
func expandUserAndEnv(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if p == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return p
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
