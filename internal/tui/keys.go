package tui

// Keybinding constants
const (
	KeyTab      = "tab"
	KeyShiftTab = "shift+tab"
	KeyQuit     = "q"
	KeyCtrlC    = "ctrl+c"
	KeyPane1    = "1"
	KeyPane2    = "2"
	KeyUp       = "up"
	KeyDown     = "down"
	KeyLeft     = "left"
	KeyRight    = "right"
	KeyJ        = "j"
	KeyK        = "k"
	KeyH        = "h"
	KeyL        = "l"
	KeyRefresh  = "r"
	KeySettings = "s"
)

// HelpView returns a one-line help bar with common keybindings.
func HelpView() string {
	return StyleHelp.Render("Tab: cycle focus | 1/2: jump to pane | h/l: column | j/k: scroll | r: refresh | s: settings | q: quit")
}
