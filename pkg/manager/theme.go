package manager

import (
	"os"
	"strings"
)

// Theme provides optional colorized rendering for the CLI and TUI using
// plain ANSI escape sequences. All hooks are safe to call when theming is
// disabled; they return the string unchanged.
//
// Resolution order:
//  1. Explicit name (the theme setting or --theme flag)
//  2. Env var SSH_MANAGER_THEME = none | dark | light
//  3. Auto-detect (disabled for NO_COLOR or dumb terminals)
type Theme struct {
	Enabled bool

	Header   string
	Accent   string
	Selected string
	Favorite string
	Folder   string
	Dim      string
	Help     string
	Error    string
	Success  string
	Warn     string
}

// LoadTheme resolves a theme. explicit takes priority; empty falls back
// to the environment, then auto-detection.
func LoadTheme(explicit string) Theme {
	if t, ok := themeByName(explicit); ok {
		return t
	}
	if t, ok := themeByName(os.Getenv("SSH_MANAGER_THEME")); ok {
		return t
	}
	return AutoTheme()
}

func themeByName(name string) (Theme, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "off", "disabled":
		return NoTheme(), true
	case "dark":
		return DarkTheme(), true
	case "light":
		return LightTheme(), true
	default:
		return Theme{}, false
	}
}

// NoTheme disables all ANSI styling.
func NoTheme() Theme {
	return Theme{Enabled: false}
}

// AutoTheme enables theming whenever the terminal likely supports color.
func AutoTheme() Theme {
	if !terminalSupportsColor() {
		return NoTheme()
	}
	return DarkTheme()
}

// DarkTheme is the default palette for dark terminals.
func DarkTheme() Theme {
	return Theme{
		Enabled:  true,
		Header:   "1",    // bold
		Accent:   "36",   // cyan
		Selected: "1;97", // bold bright white
		Favorite: "33",   // yellow
		Folder:   "34",   // blue
		Dim:      "2",    // faint
		Help:     "36",   // cyan
		Error:    "31",   // red
		Success:  "32",   // green
		Warn:     "33",   // yellow
	}
}

// LightTheme is the default palette for light terminals.
func LightTheme() Theme {
	return Theme{
		Enabled:  true,
		Header:   "1",
		Accent:   "34",
		Selected: "1;30", // bold black
		Favorite: "33",
		Folder:   "34",
		Dim:      "2",
		Help:     "34",
		Error:    "31",
		Success:  "32",
		Warn:     "33",
	}
}

func (t Theme) HeaderLine(s string) string   { return t.apply(t.Header, s) }
func (t Theme) AccentText(s string) string   { return t.apply(t.Accent, s) }
func (t Theme) SelectedText(s string) string { return t.apply(t.Selected, s) }
func (t Theme) FolderText(s string) string   { return t.apply(t.Folder, s) }
func (t Theme) DimText(s string) string      { return t.apply(t.Dim, s) }
func (t Theme) HelpText(s string) string     { return t.apply(t.Help, s) }
func (t Theme) ErrorText(s string) string    { return t.apply(t.Error, s) }
func (t Theme) SuccessText(s string) string  { return t.apply(t.Success, s) }
func (t Theme) WarnText(s string) string     { return t.apply(t.Warn, s) }

// TagText colors a connection's color tag with its environment color.
func (t Theme) TagText(tag string) string {
	switch tag {
	case "production":
		return t.apply(t.Error, tag)
	case "staging":
		return t.apply(t.Warn, tag)
	case "development":
		return t.apply(t.Success, tag)
	default:
		return tag
	}
}

// SelectedPrefix returns a colored " > " or "   " row prefix.
func (t Theme) SelectedPrefix(selected bool) string {
	if !selected {
		return "   "
	}
	return t.apply(t.Selected, " > ")
}

// FavoriteStar renders a colored star (★) or a space.
func (t Theme) FavoriteStar(on bool) string {
	if on {
		return t.apply(t.Favorite, "★")
	}
	return " "
}

func (t Theme) apply(code, s string) string {
	if !t.Enabled || code == "" || s == "" {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func terminalSupportsColor() bool {
	// https://no-color.org/
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	term := strings.ToLower(strings.TrimSpace(os.Getenv("TERM")))
	if term == "" || term == "dumb" {
		return false
	}
	return true
}
