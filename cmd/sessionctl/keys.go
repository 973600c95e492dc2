package main

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the key bindings for sessionctl's TUI.
type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Refresh  key.Binding
	Start    key.Binding
	DebugRun key.Binding
	Stop     key.Binding
	Kill     key.Binding
	Delete   key.Binding
	Quit     key.Binding
}

var defaultKeyMap = keyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Start: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "start"),
	),
	DebugRun: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "debug"),
	),
	Stop: key.NewBinding(
		key.WithKeys("t"),
		key.WithHelp("t", "stop"),
	),
	Kill: key.NewBinding(
		key.WithKeys("K"),
		key.WithHelp("K", "kill"),
	),
	Delete: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "delete"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
