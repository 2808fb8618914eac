package manager

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// UIOptions controls the connection browser.
type UIOptions struct {
	InitialQuery string
	MaxResults   int
}

// RunTUI opens the full-screen connection browser. It returns the alias of
// a connection the user chose to open in the current terminal ("connect
// here"), or "" when the browser was simply closed. Launching into a new
// terminal window happens inside the browser and does not end it.
func RunTUI(st *Store, set *Settings, opts UIOptions) (string, error) {
	if st == nil {
		return "", fmt.Errorf("nil store")
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 20
	}

	m := newModel(st, set, opts)
	defer func() {
		if m.watcher != nil {
			_ = m.watcher.Close()
		}
	}()

	p := tea.NewProgram(m, tea.WithAltScreen())
	fm, err := p.Run()
	if err != nil {
		return "", err
	}
	if final, ok := fm.(model); ok {
		return final.connectTarget, nil
	}
	return "", nil
}

type statusMsg string

type errMsg struct {
	Err error
}

// treeChangedMsg arrives after the fsnotify watcher saw the stanza tree
// change on disk (editor, another ssh-manager process, git checkout).
type treeChangedMsg struct{}

type probeDoneMsg struct {
	Results []ProbeResult
}

// row is one visible line of the browser: a folder header or a connection.
type row struct {
	IsFolder bool
	Folder   string // full slash path for folder rows
	Depth    int
	Count    int // direct connections, folder rows only
	Conn     *Connection
}

// Form field order. Mirrors the Connection struct.
const (
	fieldName = iota
	fieldHost
	fieldUser
	fieldPort
	fieldKeyFile
	fieldFolder
	fieldJump
	fieldColor
	fieldIcon
	fieldLocalFwd
	fieldRemoteFwd
	fieldCount
)

type model struct {
	store    *Store
	set      *Settings
	launcher Launcher
	opts     UIOptions

	input textinput.Model

	conns    []*Connection
	rows     []row
	filtered []row
	selected int
	scroll   int

	collapsed map[string]struct{}

	favorites       map[string]struct{}
	recents         []string
	filterFavorites bool
	filterRecents   bool

	// selectedSet holds connection keys toggled with space, so a selection
	// survives filtering and reloads.
	selectedSet map[string]struct{}

	// add/edit form
	showForm     bool
	formFields   []textinput.Model
	formFocus    int
	formOriginal *Connection // nil while adding
	formErr      string

	// delete confirmation
	showConfirmDelete bool
	confirmTarget     *Connection
	confirmFolder     string

	// move picker
	showMovePicker bool
	moveFolders    []string
	moveSel        int
	moveTarget     *Connection

	// new folder prompt
	showFolderPrompt bool
	folderInput      textinput.Model

	showHelp bool

	probing    bool
	probeLines []string

	status      string
	statusUntil time.Time

	width    int
	height   int
	ready    bool
	quitting bool
	pendingG bool

	watcher *TreeWatcher

	statePath string
	state     *State
	theme     Theme

	connectTarget string
}

func newModel(st *Store, set *Settings, opts UIOptions) model {
	ti := textinput.New()
	ti.Prompt = "/ "
	ti.Placeholder = "search..."
	ti.CharLimit = 256
	ti.Cursor.Style = ti.Cursor.Style.Bold(true)
	ti.PromptStyle = ti.PromptStyle.Bold(true)
	ti.SetValue(strings.TrimSpace(opts.InitialQuery))
	// Search starts focused so typing immediately filters.
	ti.Focus()

	fi := textinput.New()
	fi.Prompt = "folder: "
	fi.Placeholder = "e.g. work/databases"
	fi.CharLimit = 256

	themeName := ""
	if set != nil {
		themeName = set.Theme
	}

	m := model{
		store:       st,
		set:         set,
		opts:        opts,
		input:       ti,
		collapsed:   make(map[string]struct{}),
		favorites:   make(map[string]struct{}),
		recents:     []string{},
		selectedSet: make(map[string]struct{}),
		folderInput: fi,
		formFields:  newFormFields(),
		theme:       LoadTheme(themeName),
	}
	if set != nil {
		m.launcher = Launcher{Preferred: set.Terminal}
	}

	m.statePath = DefaultStatePath()
	if st2, err := LoadState(m.statePath); err == nil && st2 != nil {
		m.state = st2
		for _, k := range st2.Favorites {
			k = strings.TrimSpace(k)
			if k != "" {
				m.favorites[k] = struct{}{}
			}
		}
		if len(st2.Recents) > 0 {
			m.recents = append([]string(nil), st2.Recents...)
		}
	}

	m.reload()

	// Watch the stanza tree so outside edits show up without a manual
	// refresh. Non-fatal: the browser still works without it.
	if w, err := WatchTree(st.BaseDir()); err == nil {
		m.watcher = w
	}

	return m
}

func newFormFields() []textinput.Model {
	mk := func(prompt, placeholder string, limit int) textinput.Model {
		in := textinput.New()
		in.Prompt = prompt
		in.Placeholder = placeholder
		in.CharLimit = limit
		return in
	}
	fields := make([]textinput.Model, fieldCount)
	fields[fieldName] = mk("Name:          ", "alias (letters, digits, - and _)", 128)
	fields[fieldHost] = mk("HostName:      ", "host or IP to dial", 256)
	fields[fieldUser] = mk("User:          ", "optional", 128)
	fields[fieldPort] = mk("Port:          ", "default 22", 8)
	fields[fieldKeyFile] = mk("IdentityFile:  ", "optional, e.g. ~/.ssh/id_ed25519", 512)
	fields[fieldFolder] = mk("Folder:        ", DefaultFolder, 256)
	fields[fieldJump] = mk("ProxyJump:     ", "optional bastion", 256)
	fields[fieldColor] = mk("Color:         ", "production | staging | development", 32)
	fields[fieldIcon] = mk("Icon:          ", "optional glyph shown in listings", 16)
	fields[fieldLocalFwd] = mk("LocalForward:  ", "port:host:port, comma separated", 512)
	fields[fieldRemoteFwd] = mk("RemoteForward: ", "port:host:port, comma separated", 512)
	return fields
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitTree())
}

// waitTree blocks on the watcher until the next debounced change.
func (m model) waitTree() tea.Cmd {
	w := m.watcher
	if w == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-w.Events; !ok {
			return nil
		}
		return treeChangedMsg{}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		return m, nil

	case statusMsg:
		m.setStatus(string(msg), 2500)
		return m, nil

	case errMsg:
		if msg.Err != nil {
			m.setStatus(msg.Err.Error(), 4000)
		} else {
			m.setStatus("error", 2500)
		}
		return m, nil

	case treeChangedMsg:
		m.reload()
		m.setStatus("connection tree changed on disk, reloaded", 2000)
		return m, m.waitTree()

	case probeDoneMsg:
		m.probing = false
		m.probeLines = m.probeLines[:0]
		ok := 0
		for _, r := range msg.Results {
			if r.Reachable && r.AuthOK {
				ok++
				m.probeLines = append(m.probeLines,
					m.theme.SuccessText("✓")+fmt.Sprintf(" %s (%s)", r.Name, r.Elapsed.Round(time.Millisecond)))
			} else {
				m.probeLines = append(m.probeLines,
					m.theme.ErrorText("✗")+fmt.Sprintf(" %s: %s", r.Name, r.Message))
			}
		}
		m.setStatus(fmt.Sprintf("test done: %d/%d ok", ok, len(msg.Results)), 4000)
		return m, nil

	case tea.KeyMsg:
		if handled, quit := m.handleGlobalKeys(msg); handled {
			if quit {
				return m.quit()
			}
			return m, nil
		}

		if m.showConfirmDelete {
			return m.updateConfirmDelete(msg)
		}
		if m.showMovePicker {
			return m.updateMovePicker(msg)
		}
		if m.showFolderPrompt {
			return m.updateFolderPrompt(msg)
		}
		if m.showForm {
			return m.updateForm(msg)
		}
		if m.showHelp {
			switch msg.String() {
			case "q", "esc", "h", "enter":
				m.showHelp = false
				return m, tea.ClearScreen
			}
			return m, nil
		}

		return m.updateBrowse(msg)
	}

	return m, nil
}

func (m *model) handleGlobalKeys(k tea.KeyMsg) (handled bool, quit bool) {
	switch k.String() {
	case "ctrl+c":
		m.quitting = true
		return true, true

	case "q":
		// q types into focused inputs and closes modals; it only quits the
		// whole browser from the plain list.
		if m.showHelp || m.showForm || m.showConfirmDelete || m.showMovePicker || m.showFolderPrompt {
			return false, false
		}
		if m.input.Focused() {
			return false, false
		}
		m.quitting = true
		return true, true

	case "esc":
		if m.showHelp {
			m.showHelp = false
			return true, false
		}
		if m.showForm || m.showConfirmDelete || m.showMovePicker || m.showFolderPrompt {
			// Let the modal run its own cancel path.
			return false, false
		}
		if m.input.Focused() {
			m.input.Blur()
			m.recomputeFilter()
			return true, false
		}
		if strings.TrimSpace(m.input.Value()) != "" {
			m.input.SetValue("")
			m.recomputeFilter()
			return true, false
		}
	}
	return false, false
}

func (m model) updateBrowse(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	// While the search box is focused most keys type into it.
	if m.input.Focused() {
		switch k.String() {
		case "enter":
			m.input.Blur()
			m.recomputeFilter()
			return m, nil
		case "up", "down":
			if k.String() == "up" {
				m.move(-1)
			} else {
				m.move(1)
			}
			return m, nil
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(k)
			m.recomputeFilter()
			return m, cmd
		}
	}

	switch k.String() {
	case "j", "down":
		m.move(1)
	case "k", "up":
		m.move(-1)
	case "g":
		if m.pendingG {
			m.gotoTop()
			m.pendingG = false
		} else {
			m.pendingG = true
		}
	case "G":
		m.gotoBottom()
	case "ctrl+d":
		m.pageDown()
	case "ctrl+u":
		m.pageUp()

	case "/":
		m.input.Focus()
		return m, textinput.Blink

	case "enter", "l":
		cur := m.current()
		if cur == nil {
			return m, nil
		}
		if cur.IsFolder {
			m.toggleCollapse(cur.Folder)
			return m, nil
		}
		return m.launchCurrent(cur.Conn)

	case "c":
		cur := m.current()
		if cur == nil || cur.IsFolder {
			return m, nil
		}
		m.addRecent(cur.Conn.Key())
		m.saveState()
		m.connectTarget = cur.Conn.Name
		return m.quit()

	case "a":
		m.openForm(nil)
		return m, textinput.Blink

	case "e":
		cur := m.current()
		if cur == nil || cur.IsFolder {
			return m, nil
		}
		m.openForm(cur.Conn)
		return m, textinput.Blink

	case "x":
		cur := m.current()
		if cur == nil {
			return m, nil
		}
		m.showConfirmDelete = true
		if cur.IsFolder {
			m.confirmFolder = cur.Folder
		} else {
			m.confirmTarget = cur.Conn
		}
		return m, nil

	case "D":
		cur := m.current()
		if cur == nil || cur.IsFolder {
			return m, nil
		}
		copyConn, err := m.store.Duplicate(cur.Conn.Folder, cur.Conn.Name)
		if err != nil {
			m.setStatus(fmt.Sprintf("duplicate failed: %v", err), 4000)
			return m, nil
		}
		m.reload()
		m.setStatus(fmt.Sprintf("duplicated as %s", copyConn.Name), 2500)
		return m, nil

	case "m":
		cur := m.current()
		if cur == nil || cur.IsFolder {
			return m, nil
		}
		folders, err := m.store.ListFolders()
		if err != nil || len(folders) == 0 {
			m.setStatus("no folders to move to", 2500)
			return m, nil
		}
		m.showMovePicker = true
		m.moveTarget = cur.Conn
		m.moveFolders = folders
		m.moveSel = 0
		for i, f := range folders {
			if f == cur.Conn.Folder {
				m.moveSel = i
				break
			}
		}
		return m, nil

	case "n":
		m.showFolderPrompt = true
		m.folderInput.SetValue("")
		m.folderInput.Focus()
		return m, textinput.Blink

	case "f":
		cur := m.current()
		if cur == nil || cur.IsFolder {
			return m, nil
		}
		key := cur.Conn.Key()
		if m.isFavorite(key) {
			delete(m.favorites, key)
			m.setStatus("unfavorited "+cur.Conn.Name, 1500)
		} else {
			m.favorites[key] = struct{}{}
			m.setStatus("favorited "+cur.Conn.Name, 1500)
		}
		m.saveState()
		if m.filterFavorites {
			m.recomputeFilter()
		}

	case "F":
		m.filterFavorites = !m.filterFavorites
		m.recomputeFilter()
	case "R":
		m.filterRecents = !m.filterRecents
		m.recomputeFilter()
	case "A":
		m.filterFavorites = false
		m.filterRecents = false
		m.input.SetValue("")
		m.recomputeFilter()

	case " ", "space":
		m.toggleCurrentSelection()
		m.move(1)

	case "t":
		if m.probing {
			m.setStatus("test already running", 1500)
			return m, nil
		}
		targets := m.selectedConns()
		if len(targets) == 0 {
			cur := m.current()
			if cur == nil || cur.IsFolder {
				return m, nil
			}
			targets = []*Connection{cur.Conn}
		}
		m.probing = true
		m.probeLines = nil
		m.setStatus(fmt.Sprintf("testing %d connection(s)...", len(targets)), 10000)
		return m, probeCmd(targets)

	case "r":
		m.reload()
		m.setStatus("reloaded", 1200)

	case "h", "?":
		m.showHelp = true
	}

	return m, nil
}

func (m model) launchCurrent(c *Connection) (tea.Model, tea.Cmd) {
	term, err := m.launcher.LaunchInTerminal(c.Name)
	if err != nil {
		m.setStatus(fmt.Sprintf("launch failed: %v (use c to connect here)", err), 5000)
		return m, nil
	}
	m.addRecent(c.Key())
	m.saveState()
	m.setStatus(fmt.Sprintf("launched %s in %s", c.Name, term), 2500)
	return m, nil
}

func probeCmd(targets []*Connection) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultProbeTimeout+5*time.Second)
		defer cancel()
		return probeDoneMsg{Results: ProbeAll(ctx, targets, DefaultProbeTimeout, 4)}
	}
}

func (m model) updateConfirmDelete(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "y", "Y", "enter":
		c, folder := m.confirmTarget, m.confirmFolder
		m.showConfirmDelete = false
		m.confirmTarget = nil
		m.confirmFolder = ""

		if folder != "" {
			if err := m.store.DeleteFolder(folder, true); err != nil {
				m.setStatus(fmt.Sprintf("delete failed: %v", err), 4000)
				return m, tea.ClearScreen
			}
			m.dropTrackedUnder(folder)
			m.saveState()
			m.reload()
			m.setStatus("deleted folder "+folder, 2500)
			return m, tea.ClearScreen
		}

		if c == nil {
			return m, tea.ClearScreen
		}
		if err := m.store.Delete(c.Folder, c.Name); err != nil {
			m.setStatus(fmt.Sprintf("delete failed: %v", err), 4000)
			return m, tea.ClearScreen
		}
		key := c.Key()
		delete(m.favorites, key)
		delete(m.selectedSet, key)
		m.removeRecent(key)
		m.saveState()
		m.reload()
		m.setStatus("deleted "+c.Name, 2500)
		return m, tea.ClearScreen

	case "n", "N", "esc", "q":
		m.showConfirmDelete = false
		m.confirmTarget = nil
		m.confirmFolder = ""
		return m, tea.ClearScreen
	}
	return m, nil
}

// dropTrackedUnder forgets favorites, recents, selections and collapse
// marks for everything inside a deleted folder.
func (m *model) dropTrackedUnder(folder string) {
	prefix := folder + "/"
	for key := range m.favorites {
		if strings.HasPrefix(key, prefix) {
			delete(m.favorites, key)
		}
	}
	for key := range m.selectedSet {
		if strings.HasPrefix(key, prefix) {
			delete(m.selectedSet, key)
		}
	}
	kept := m.recents[:0]
	for _, key := range m.recents {
		if !strings.HasPrefix(key, prefix) {
			kept = append(kept, key)
		}
	}
	m.recents = kept
	for f := range m.collapsed {
		if f == folder || strings.HasPrefix(f, prefix) {
			delete(m.collapsed, f)
		}
	}
}

func (m model) updateMovePicker(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "j", "down":
		if m.moveSel < len(m.moveFolders)-1 {
			m.moveSel++
		}
	case "k", "up":
		if m.moveSel > 0 {
			m.moveSel--
		}
	case "enter":
		c := m.moveTarget
		m.showMovePicker = false
		m.moveTarget = nil
		if c == nil || m.moveSel < 0 || m.moveSel >= len(m.moveFolders) {
			return m, tea.ClearScreen
		}
		dest := m.moveFolders[m.moveSel]
		if dest == c.Folder {
			m.setStatus("already in "+dest, 1500)
			return m, tea.ClearScreen
		}
		oldKey := c.Key()
		if err := m.store.Move(c, dest); err != nil {
			m.setStatus(fmt.Sprintf("move failed: %v", err), 4000)
			return m, tea.ClearScreen
		}
		m.renameTracked(oldKey, ConnKey(dest, c.Name))
		m.reload()
		m.setStatus(fmt.Sprintf("moved %s to %s", c.Name, dest), 2500)
		return m, tea.ClearScreen

	case "esc", "q":
		m.showMovePicker = false
		m.moveTarget = nil
		return m, tea.ClearScreen
	}
	return m, nil
}

func (m model) updateFolderPrompt(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "enter":
		name := strings.TrimSpace(m.folderInput.Value())
		m.showFolderPrompt = false
		m.folderInput.Blur()
		if name == "" {
			return m, tea.ClearScreen
		}
		if err := m.store.CreateFolder(name); err != nil {
			m.setStatus(fmt.Sprintf("create folder failed: %v", err), 4000)
			return m, tea.ClearScreen
		}
		m.reload()
		m.setStatus("created folder "+name, 2500)
		return m, tea.ClearScreen

	case "esc":
		m.showFolderPrompt = false
		m.folderInput.Blur()
		return m, tea.ClearScreen

	default:
		var cmd tea.Cmd
		m.folderInput, cmd = m.folderInput.Update(k)
		return m, cmd
	}
}

func (m model) updateForm(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "esc":
		m.showForm = false
		m.formOriginal = nil
		m.formErr = ""
		return m, tea.ClearScreen

	case "tab", "down":
		m.focusFormField((m.formFocus + 1) % fieldCount)
		return m, textinput.Blink

	case "shift+tab", "up":
		m.focusFormField((m.formFocus + fieldCount - 1) % fieldCount)
		return m, textinput.Blink

	case "enter":
		if m.formFocus < fieldCount-1 {
			m.focusFormField(m.formFocus + 1)
			return m, textinput.Blink
		}
		return m.submitForm()

	case "ctrl+s":
		return m.submitForm()

	default:
		var cmd tea.Cmd
		m.formFields[m.formFocus], cmd = m.formFields[m.formFocus].Update(k)
		return m, cmd
	}
}

func (m *model) focusFormField(idx int) {
	m.formFields[m.formFocus].Blur()
	m.formFocus = idx
	m.formFields[m.formFocus].Focus()
}

// openForm prefills the add/edit form. A nil original means add.
func (m *model) openForm(original *Connection) {
	for i := range m.formFields {
		m.formFields[i].SetValue("")
		m.formFields[i].Blur()
	}
	m.formErr = ""
	m.formOriginal = original

	if original != nil {
		m.formFields[fieldName].SetValue(original.Name)
		m.formFields[fieldHost].SetValue(original.HostName)
		m.formFields[fieldUser].SetValue(original.User)
		if original.Port != 0 {
			m.formFields[fieldPort].SetValue(strconv.Itoa(original.Port))
		}
		m.formFields[fieldKeyFile].SetValue(original.IdentityFile)
		m.formFields[fieldFolder].SetValue(original.Folder)
		m.formFields[fieldJump].SetValue(original.ProxyJump)
		m.formFields[fieldColor].SetValue(original.ColorTag)
		m.formFields[fieldIcon].SetValue(original.Icon)
		m.formFields[fieldLocalFwd].SetValue(FormatForwardList(original.LocalForwards))
		m.formFields[fieldRemoteFwd].SetValue(FormatForwardList(original.RemoteForwards))
	} else {
		folder := m.currentFolder()
		if folder == "" && m.set != nil {
			folder = m.set.DefaultFolder
		}
		m.formFields[fieldFolder].SetValue(folder)
		m.formFields[fieldPort].SetValue(strconv.Itoa(DefaultPort))
	}

	m.formFocus = fieldName
	m.formFields[fieldName].Focus()
	m.showForm = true
}

// currentFolder is the folder the cursor sits in, for prefilling the form.
func (m *model) currentFolder() string {
	cur := m.current()
	if cur == nil {
		return ""
	}
	if cur.IsFolder {
		return cur.Folder
	}
	return cur.Conn.Folder
}

func (m *model) formConnection() (Connection, error) {
	var c Connection
	c.Name = strings.TrimSpace(m.formFields[fieldName].Value())
	c.HostName = strings.TrimSpace(m.formFields[fieldHost].Value())
	c.User = strings.TrimSpace(m.formFields[fieldUser].Value())
	c.IdentityFile = strings.TrimSpace(m.formFields[fieldKeyFile].Value())
	c.Folder = strings.TrimSpace(m.formFields[fieldFolder].Value())
	c.ProxyJump = strings.TrimSpace(m.formFields[fieldJump].Value())
	c.ColorTag = strings.TrimSpace(m.formFields[fieldColor].Value())
	c.Icon = strings.TrimSpace(m.formFields[fieldIcon].Value())

	if v := strings.TrimSpace(m.formFields[fieldPort].Value()); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("port: %q is not a number", v)
		}
		c.Port = port
	}

	var err error
	if c.LocalForwards, err = ParseForwardList(m.formFields[fieldLocalFwd].Value()); err != nil {
		return c, err
	}
	if c.RemoteForwards, err = ParseForwardList(m.formFields[fieldRemoteFwd].Value()); err != nil {
		return c, err
	}
	return c, nil
}

func (m model) submitForm() (tea.Model, tea.Cmd) {
	c, err := m.formConnection()
	if err != nil {
		m.formErr = err.Error()
		return m, nil
	}
	c = c.Normalize()
	if err := c.Validate(); err != nil {
		m.formErr = err.Error()
		return m, nil
	}

	if m.formOriginal == nil {
		if m.store.Exists(c.Folder, c.Name) {
			m.formErr = fmt.Sprintf("%s already exists", c.Key())
			return m, nil
		}
		if err := m.store.Save(&c); err != nil {
			m.formErr = err.Error()
			return m, nil
		}
		m.setStatus("added "+c.Name, 2500)
	} else {
		oldKey := m.formOriginal.Key()
		renamed := c.Key() != oldKey
		if renamed && m.store.Exists(c.Folder, c.Name) {
			m.formErr = fmt.Sprintf("%s already exists", c.Key())
			return m, nil
		}
		if err := m.store.Save(&c); err != nil {
			m.formErr = err.Error()
			return m, nil
		}
		if renamed {
			if err := m.store.Delete(m.formOriginal.Folder, m.formOriginal.Name); err != nil {
				m.setStatus(fmt.Sprintf("old stanza not removed: %v", err), 4000)
			}
			m.renameTracked(oldKey, c.Key())
		}
		m.setStatus("saved "+c.Name, 2500)
	}

	m.showForm = false
	m.formOriginal = nil
	m.formErr = ""
	m.reload()
	return m, tea.ClearScreen
}

// renameTracked follows a key rename through favorites, recents and the
// multi-select set, then persists.
func (m *model) renameTracked(oldKey, newKey string) {
	if _, ok := m.favorites[oldKey]; ok {
		delete(m.favorites, oldKey)
		m.favorites[newKey] = struct{}{}
	}
	for i, k := range m.recents {
		if k == oldKey {
			m.recents[i] = newKey
		}
	}
	if _, ok := m.selectedSet[oldKey]; ok {
		delete(m.selectedSet, oldKey)
		m.selectedSet[newKey] = struct{}{}
	}
	m.saveState()
}

// --- View ---

func (m model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "ssh-manager: loading...\n"
	}

	var b strings.Builder

	header := "ssh-manager — Connections"
	b.WriteString(m.theme.HeaderLine(header) + "\n")
	b.WriteString(m.theme.DimText(strings.Repeat("-", min(len(header), max(3, m.width)))) + "\n")

	if m.showHelp {
		return m.viewHelp(&b)
	}
	if m.showForm {
		return m.viewForm(&b)
	}
	if m.showConfirmDelete {
		return m.viewConfirmDelete(&b)
	}
	if m.showMovePicker {
		return m.viewMovePicker(&b)
	}
	if m.showFolderPrompt {
		b.WriteString("\n" + m.theme.HeaderLine("New Folder") + "\n\n")
		b.WriteString(m.folderInput.View() + "\n\n")
		b.WriteString(m.theme.DimText("Nested paths allowed (work/databases). Enter create • Esc cancel") + "\n")
		return b.String()
	}

	// Search + mode chips
	searchLine := "Search: " + m.input.View()
	var modeBits []string
	if m.filterFavorites {
		modeBits = append(modeBits, "favorites")
	}
	if m.filterRecents {
		modeBits = append(modeBits, "recents")
	}
	if len(modeBits) > 0 {
		searchLine += "   Mode: " + strings.Join(modeBits, ", ")
	}
	if n := len(m.selectedSet); n > 0 {
		searchLine += fmt.Sprintf("   Selected: %d", n)
	}
	b.WriteString(searchLine + "\n\n")

	if m.status != "" && time.Now().Before(m.statusUntil) {
		b.WriteString(m.status + "\n\n")
	}

	listHeight := m.height - 8
	if listHeight < 8 {
		listHeight = 8
	}
	leftWidth := int(float64(m.width) * 0.56)
	if leftWidth < 40 {
		leftWidth = min(40, m.width-20)
	}
	if leftWidth > m.width-10 {
		leftWidth = m.width - 10
	}
	rightWidth := m.width - leftWidth - 1

	leftLines := m.leftListLines(listHeight)
	rightLines := m.previewLines(rightWidth)

	// Width-aware columns. Do not pad with len(): rows carry ANSI codes and
	// multibyte glyphs.
	maxLines := max(len(leftLines), len(rightLines))
	leftStyle := lipgloss.NewStyle().Width(max(0, leftWidth)).MaxWidth(max(0, leftWidth))
	rightStyle := lipgloss.NewStyle().Width(max(0, rightWidth)).MaxWidth(max(0, rightWidth))

	for i := 0; i < maxLines; i++ {
		ll, rl := "", ""
		if i < len(leftLines) {
			ll = leftLines[i]
		}
		if i < len(rightLines) {
			rl = rightLines[i]
		}
		if leftWidth > 0 {
			ll = leftStyle.Render(ll)
		}
		if rightWidth > 0 {
			rl = rightStyle.Render(rl)
		}
		b.WriteString(ll + "│" + rl + "\n")
	}

	b.WriteString("\n" + m.theme.HelpText(
		"Keys: j/k move • / search • Enter launch • c connect here • a add • e edit • x delete • D dup • m move • n folder • f fav • t test • Space select • h help • q quit") + "\n")
	return b.String()
}

func (m model) leftListLines(listHeight int) []string {
	lines := []string{}
	if len(m.filtered) == 0 {
		if len(m.conns) == 0 {
			lines = append(lines, "No connections yet. Press a to add one.")
		} else {
			lines = append(lines, "No matches.")
		}
		return lines
	}

	scroll := m.scroll
	if m.selected < scroll {
		scroll = m.selected
	}
	if m.selected >= scroll+listHeight {
		scroll = m.selected - listHeight + 1
	}
	if scroll < 0 {
		scroll = 0
	}
	end := min(scroll+listHeight, len(m.filtered))

	for i := scroll; i < end; i++ {
		r := m.filtered[i]
		cur := i == m.selected
		indent := strings.Repeat("  ", r.Depth)

		if r.IsFolder {
			marker := "▾"
			if m.isCollapsed(r.Folder) {
				marker = "▸"
			}
			name := r.Folder
			if idx := strings.LastIndex(name, "/"); idx >= 0 {
				name = name[idx+1:]
			}
			text := fmt.Sprintf("%s%s %s (%d)", indent, marker, name, r.Count)
			line := m.theme.SelectedPrefix(cur) + m.theme.FolderText(text)
			lines = append(lines, line)
			continue
		}

		key := r.Conn.Key()
		selMark := " "
		if _, ok := m.selectedSet[key]; ok {
			selMark = m.theme.AccentText("x")
		}
		text := indent + r.Conn.DisplayName()
		if cur {
			text = m.theme.SelectedText(text)
		}
		lines = append(lines, m.theme.SelectedPrefix(cur)+selMark+m.theme.FavoriteStar(m.isFavorite(key))+" "+text)
	}
	if end < len(m.filtered) {
		lines = append(lines, fmt.Sprintf("… (+%d more)", len(m.filtered)-end))
	}
	return lines
}

func (m model) previewLines(rightWidth int) []string {
	lines := []string{
		m.theme.HeaderLine("Preview"),
		m.theme.DimText(strings.Repeat("-", max(6, min(rightWidth, 20)))),
	}

	cur := m.current()
	if cur == nil {
		lines = append(lines, "(no selection)")
		return lines
	}

	if cur.IsFolder {
		lines = append(lines, "Folder: "+cur.Folder)
		lines = append(lines, fmt.Sprintf("Connections: %d", cur.Count))
		lines = append(lines, "")
		lines = append(lines, m.theme.DimText("Enter toggles collapse; a adds here."))
		return lines
	}

	c := cur.Conn
	target := c.HostName
	if c.User != "" {
		target = c.User + "@" + target
	}
	if c.Port != 0 && c.Port != DefaultPort {
		target = fmt.Sprintf("%s:%d", target, c.Port)
	}

	lines = append(lines, c.Glyph()+" "+m.theme.AccentText(c.Name))
	lines = append(lines, "target: "+target)
	lines = append(lines, "folder: "+c.Folder)
	if c.ColorTag != "" {
		lines = append(lines, "env: "+m.theme.TagText(c.ColorTag))
	}
	if c.IdentityFile != "" {
		lines = append(lines, "key: "+c.IdentityFile)
	}
	if c.ProxyJump != "" {
		lines = append(lines, "via: "+c.ProxyJump)
	}
	for _, f := range c.LocalForwards {
		lines = append(lines, "local  "+f.String())
	}
	for _, f := range c.RemoteForwards {
		lines = append(lines, "remote "+f.String())
	}

	lines = append(lines, "")
	lines = append(lines, "SSH: "+strings.Join(SSHCommand(c.Name), " "))

	if m.isFavorite(c.Key()) {
		lines = append(lines, m.theme.FavoriteStar(true)+" favorite")
	}

	if m.probing {
		lines = append(lines, "")
		lines = append(lines, "Connectivity: testing...")
	} else if len(m.probeLines) > 0 {
		lines = append(lines, "")
		lines = append(lines, "Connectivity:")
		lines = append(lines, m.probeLines...)
	}
	return lines
}

func (m model) viewHelp(b *strings.Builder) string {
	b.WriteString("\n" + m.theme.HelpText("Motions") + "\n")
	b.WriteString("  j/k down/up • gg top • G bottom • ctrl+d/ctrl+u half-page\n")
	b.WriteString("  / focus search • Esc blur, then clear • Enter on a folder collapses it\n\n")
	b.WriteString(m.theme.HelpText("Connections") + "\n")
	b.WriteString("  Enter or l: open in a new terminal window\n")
	b.WriteString("  c: connect in this terminal (closes the browser)\n")
	b.WriteString("  a: add • e: edit • x: delete • D: duplicate • m: move to folder\n")
	b.WriteString("  n: new folder • x on a folder: delete its subtree • r: reload from disk\n\n")
	b.WriteString(m.theme.HelpText("Favorites and testing") + "\n")
	b.WriteString("  f: toggle favorite • F: favorites filter • R: recents filter • A: clear filters\n")
	b.WriteString("  Space: multi-select • t: test current or selected over SSH\n\n")
	b.WriteString("Press Esc or q to close help\n")
	return b.String()
}

func (m model) viewForm(b *strings.Builder) string {
	title := "Add Connection"
	if m.formOriginal != nil {
		title = "Edit Connection — " + m.formOriginal.Name
	}
	b.WriteString("\n" + m.theme.HeaderLine(title) + "\n")
	b.WriteString(m.theme.DimText(strings.Repeat("-", max(6, min(m.width, 50)))) + "\n\n")
	for i := range m.formFields {
		b.WriteString(m.formFields[i].View() + "\n")
	}
	if m.formErr != "" {
		b.WriteString("\n" + m.theme.ErrorText(m.formErr) + "\n")
	}
	b.WriteString("\n" + m.theme.DimText("Tab/Enter next • Shift+Tab prev • Ctrl+S save • Esc cancel") + "\n")
	return b.String()
}

func (m model) viewConfirmDelete(b *strings.Builder) string {
	if m.confirmFolder != "" {
		b.WriteString("\n" + m.theme.HeaderLine("Delete Folder") + "\n\n")
		b.WriteString(fmt.Sprintf("Delete folder %s and everything in it?\n", m.theme.FolderText(m.confirmFolder)))
		b.WriteString(m.theme.DimText("Removes the whole subtree, connections included.") + "\n\n")
		b.WriteString(m.theme.WarnText("y delete • n/esc cancel") + "\n")
		return b.String()
	}
	c := m.confirmTarget
	if c == nil {
		return b.String()
	}
	b.WriteString("\n" + m.theme.HeaderLine("Delete Connection") + "\n\n")
	b.WriteString(fmt.Sprintf("Delete %s (%s)?\n", m.theme.AccentText(c.Name), c.HostName))
	b.WriteString(m.theme.DimText("Removes "+c.Key()+".conf from the managed tree.") + "\n\n")
	b.WriteString(m.theme.WarnText("y delete • n/esc cancel") + "\n")
	return b.String()
}

func (m model) viewMovePicker(b *strings.Builder) string {
	b.WriteString("\n" + m.theme.HeaderLine("Move to Folder") + "\n\n")
	for i, f := range m.moveFolders {
		b.WriteString(m.theme.SelectedPrefix(i == m.moveSel) + f + "\n")
	}
	b.WriteString("\n" + m.theme.DimText("j/k move • Enter move • Esc cancel") + "\n")
	return b.String()
}

// --- Helpers ---

// reload re-reads the stanza tree and rebuilds the visible rows.
func (m *model) reload() {
	conns, err := m.store.List("")
	if err != nil {
		m.setStatus(fmt.Sprintf("reload failed: %v", err), 4000)
		return
	}
	m.conns = conns
	m.rows = m.buildRows()
	m.recomputeFilter()
}

func (m *model) buildRows() []row {
	folders, err := m.store.ListFolders()
	if err != nil {
		folders = nil
	}

	byFolder := make(map[string][]*Connection, len(folders))
	for _, c := range m.conns {
		byFolder[c.Folder] = append(byFolder[c.Folder], c)
	}

	rows := make([]row, 0, len(folders)+len(m.conns))
	for _, f := range folders {
		if m.folderHidden(f) {
			continue
		}
		depth := strings.Count(f, "/")
		rows = append(rows, row{IsFolder: true, Folder: f, Depth: depth, Count: len(byFolder[f])})
		if m.isCollapsed(f) {
			continue
		}
		for _, c := range byFolder[f] {
			rows = append(rows, row{Conn: c, Folder: f, Depth: depth + 1})
		}
	}
	return rows
}

func (m *model) isCollapsed(folder string) bool {
	_, ok := m.collapsed[folder]
	return ok
}

// folderHidden reports whether any ancestor of folder is collapsed.
func (m *model) folderHidden(folder string) bool {
	for anc := range m.collapsed {
		if strings.HasPrefix(folder, anc+"/") {
			return true
		}
	}
	return false
}

func (m *model) toggleCollapse(folder string) {
	if m.isCollapsed(folder) {
		delete(m.collapsed, folder)
	} else {
		m.collapsed[folder] = struct{}{}
	}
	m.rows = m.buildRows()
	m.recomputeFilter()
}

// recomputeFilter rebuilds the visible list. With a query or an active
// favorites/recents filter the tree flattens to plain connection rows.
func (m *model) recomputeFilter() {
	q := strings.TrimSpace(m.input.Value())
	if q == "" && !m.filterFavorites && !m.filterRecents {
		m.filtered = m.rows
	} else {
		rec := make(map[string]struct{}, len(m.recents))
		for _, k := range m.recents {
			rec[k] = struct{}{}
		}
		out := make([]row, 0, len(m.conns))
		for _, c := range m.conns {
			key := c.Key()
			if q != "" && !c.MatchesFilter(q) {
				continue
			}
			if m.filterFavorites && !m.isFavorite(key) {
				continue
			}
			if m.filterRecents {
				if _, ok := rec[key]; !ok {
					continue
				}
			}
			out = append(out, row{Conn: c})
		}
		m.filtered = out
	}

	if m.selected >= len(m.filtered) {
		m.selected = len(m.filtered) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
	m.scroll = 0
}

func (m *model) isFavorite(key string) bool {
	_, ok := m.favorites[key]
	return ok
}

func (m *model) addRecent(key string) {
	if key == "" {
		return
	}
	updated := make([]string, 0, len(m.recents)+1)
	updated = append(updated, key)
	for _, k := range m.recents {
		if k != key {
			updated = append(updated, k)
		}
	}
	if len(updated) > recentsLimit {
		updated = updated[:recentsLimit]
	}
	m.recents = updated
}

func (m *model) removeRecent(key string) {
	out := m.recents[:0]
	for _, k := range m.recents {
		if k != key {
			out = append(out, k)
		}
	}
	m.recents = out
}

func (m *model) toggleCurrentSelection() {
	cur := m.current()
	if cur == nil || cur.IsFolder {
		return
	}
	key := cur.Conn.Key()
	if _, ok := m.selectedSet[key]; ok {
		delete(m.selectedSet, key)
	} else {
		m.selectedSet[key] = struct{}{}
	}
}

// selectedConns resolves the multi-select set against all connections, not
// just the filtered view, so filtering does not drop selections.
func (m *model) selectedConns() []*Connection {
	if len(m.selectedSet) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(m.selectedSet))
	for _, c := range m.conns {
		if _, ok := m.selectedSet[c.Key()]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (m *model) saveState() {
	st := m.state
	if st == nil {
		st = &State{Version: 1}
		m.state = st
	}
	st.Favorites = st.Favorites[:0]
	for k := range m.favorites {
		if strings.TrimSpace(k) != "" {
			st.Favorites = append(st.Favorites, k)
		}
	}
	sort.Strings(st.Favorites)
	st.Recents = append(st.Recents[:0], m.recents...)
	_ = SaveState(m.statePath, st)
}

func (m *model) current() *row {
	if len(m.filtered) == 0 || m.selected < 0 || m.selected >= len(m.filtered) {
		return nil
	}
	return &m.filtered[m.selected]
}

func (m *model) move(delta int) {
	if len(m.filtered) == 0 {
		return
	}
	m.pendingG = false
	m.selected += delta
	if m.selected < 0 {
		m.selected = 0
	}
	if m.selected >= len(m.filtered) {
		m.selected = len(m.filtered) - 1
	}
}

func (m *model) gotoTop() {
	m.selected = 0
	m.scroll = 0
}

func (m *model) gotoBottom() {
	if len(m.filtered) == 0 {
		return
	}
	m.selected = len(m.filtered) - 1
}

func (m *model) pageUp() {
	if len(m.filtered) == 0 {
		return
	}
	m.selected -= max(3, m.opts.MaxResults/2)
	if m.selected < 0 {
		m.selected = 0
	}
}

func (m *model) pageDown() {
	if len(m.filtered) == 0 {
		return
	}
	m.selected += max(3, m.opts.MaxResults/2)
	if m.selected >= len(m.filtered) {
		m.selected = len(m.filtered) - 1
	}
}

func (m *model) setStatus(s string, ms int) {
	m.status = s
	m.statusUntil = time.Now().Add(time.Duration(ms) * time.Millisecond)
}

func (m model) quit() (tea.Model, tea.Cmd) {
	m2 := m
	m2.quitting = true
	if m2.watcher != nil {
		_ = m2.watcher.Close()
	}
	return m2, tea.Quit
}
